// Package app is the application context: it builds every component from the
// configuration once at startup, runs the receive loop next to the scheduler's
// tick loop and tears everything down on shutdown.
package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"runtime/debug"
	"strings"
	"time"

	"aisatoshi/internal/api"
	"aisatoshi/internal/browser"
	"aisatoshi/internal/channel"
	"aisatoshi/internal/channel/telegram"
	"aisatoshi/internal/config"
	"aisatoshi/internal/dispatch"
	"aisatoshi/internal/executors"
	"aisatoshi/internal/logging"
	"aisatoshi/internal/market"
	"aisatoshi/internal/memory"
	"aisatoshi/internal/perception"
	"aisatoshi/internal/scheduler"
	"aisatoshi/internal/store"
	"aisatoshi/internal/tasks"
	"aisatoshi/internal/types"
	"aisatoshi/internal/wallet"
)

// ThinkingNotice is sent before a message goes to the model.
const ThinkingNotice = "🤔 正在思考..."

// receiveBackoff is the pause after a failed receive.
const receiveBackoff = 5 * time.Second

// Options override components that would otherwise be built from the config.
type Options struct {
	// ConfigPath enables the config watcher when set.
	ConfigPath string
	// Channel replaces the Telegram adapter.
	Channel channel.Channel
	LLM     types.LLMClient
	Prices  types.PriceSource
	Balance types.BalanceSource
	Browser types.Browser
}

// App holds the wired components.
type App struct {
	cfg *config.Config

	store      *store.LocalStore
	memory     *memory.Memory
	llm        types.LLMClient
	resolver   *perception.Resolver
	tasks      *tasks.Manager
	dispatcher *dispatch.Dispatcher
	scheduler  *scheduler.Scheduler
	channel    channel.Channel
	browser    types.Browser
	renderer   io.Closer
	api        *api.Server
	watcher    *config.Watcher
	configPath string
}

// New validates cfg and builds the application. A ConfigurationError means the
// process must not start.
func New(ctx context.Context, cfg *config.Config, opts Options) (*App, error) {
	if err := cfg.ValidateAgent(opts.Channel != nil); err != nil {
		return nil, err
	}
	timer := logging.StartTimer(logging.CategoryBoot, "app.New")
	defer timer.Stop()

	a := &App{cfg: cfg, configPath: opts.ConfigPath}

	st, err := store.NewLocalStore(cfg.Memory.Driver, cfg.Memory.DatabasePath)
	if err != nil {
		return nil, err
	}
	a.store = st

	if err := a.build(ctx, opts); err != nil {
		_ = st.Close()
		return nil, err
	}
	return a, nil
}

func (a *App) build(ctx context.Context, opts Options) error {
	cfg := a.cfg

	a.memory = memory.New(a.store, memory.Config{
		HistoryTurns: cfg.Memory.HistoryTurns,
		TurnMaxChars: cfg.Memory.TurnMaxChars,
		RetentionCap: cfg.Memory.RetentionCap,
		DedupCap:     cfg.Memory.DedupCap,
		RecallFacts:  cfg.Memory.RecallFacts,
		ImportantCap: cfg.Memory.ImportantCap,
	})

	a.llm = opts.LLM
	if a.llm == nil {
		client, err := perception.NewClient(ctx, cfg.LLM)
		if err != nil {
			return err
		}
		a.llm = client
	}
	a.resolver = perception.NewResolver(a.llm, perception.ResolverConfig{
		Timeout:      cfg.GetLLMTimeout(),
		Temperature:  cfg.LLM.Temperature,
		MaxTokens:    cfg.LLM.MaxTokens,
		DirectBrowse: true,
	})

	prices := opts.Prices
	if prices == nil {
		prices = market.NewCoinGecko(cfg.Market.CoinGeckoURL, cfg.GetMarketTimeout())
	}
	balance := opts.Balance
	if balance == nil {
		balance = wallet.NewEtherscan(cfg.Wallet.EtherscanURL, cfg.Wallet.EtherscanAPIKey,
			cfg.Wallet.Address, cfg.GetWalletTimeout())
	}
	a.browser = opts.Browser
	if a.browser == nil {
		a.browser = a.buildBrowser()
	}

	a.channel = opts.Channel
	if a.channel == nil {
		tg, err := telegram.New(telegram.Config{
			BotToken:     cfg.Telegram.BotToken,
			APIRoot:      cfg.Telegram.APIRoot,
			Limit:        cfg.Telegram.MessageLimit,
			AllowedChats: cfg.Telegram.AllowedChats,
			ParseMode:    cfg.Telegram.ParseMode,
		})
		if err != nil {
			return err
		}
		a.channel = tg
	}

	a.tasks = tasks.NewManager(a.store)
	a.dispatcher = dispatch.New(dispatch.Deps{
		Tasks:           a.tasks,
		Prices:          prices,
		Balance:         balance,
		Browser:         a.browser,
		Chat:            a.resolver,
		Memory:          a.memory,
		LLM:             callStats(a.llm),
		DefaultInterval: cfg.GetDefaultInterval(),
	})

	a.scheduler = scheduler.New(a.store, scheduler.Config{
		TickInterval: cfg.GetTickInterval(),
		MaxInFlight:  cfg.Scheduler.MaxInFlight,
		StopTimeout:  cfg.GetStopTimeout(),
	}, channel.NewNotifier(a.channel))
	executors.RegisterAll(a.scheduler, executors.Deps{Prices: prices, Browser: a.browser})

	if cfg.API.Listen != "" {
		a.api = api.NewServer(a.tasks, a.Stats, cfg.GetDefaultInterval())
	}

	logging.Boot("%s %s ready: channel=%s llm=%s executors=%v",
		cfg.Name, cfg.Version, a.channel.Name(), a.llm.Name(), a.scheduler.Kinds())
	return nil
}

func (a *App) buildBrowser() types.Browser {
	cfg := a.cfg
	var fetcher browser.Fetcher = browser.NewHTTPFetcher(cfg.GetBrowseTimeout(), cfg.Browser.MaxBytes)
	if cfg.Browser.HeadlessRender {
		renderer := browser.NewRodFetcher(browser.RenderConfig{
			DebuggerURL: cfg.Browser.DebuggerURL,
			ChromeBin:   cfg.Browser.ChromeBin,
			Timeout:     cfg.GetBrowseTimeout(),
		})
		a.renderer = renderer
		fetcher = browser.NewFallbackFetcher(renderer, fetcher)
	}
	analyzer := browser.NewAnalyzer(a.llm, cfg.Browser.MaxChars)
	return browser.NewService(fetcher, analyzer, browser.Config{
		// fetch plus analysis
		Timeout:     3 * cfg.GetBrowseTimeout(),
		MaxSubpages: cfg.Browser.MaxSubpages,
		MaxChars:    cfg.Browser.MaxChars,
	})
}

// callStats returns llm's counters when it keeps any.
func callStats(llm types.LLMClient) dispatch.CallStats {
	if s, ok := llm.(dispatch.CallStats); ok {
		return s
	}
	return nil
}

// Tasks returns the task manager.
func (a *App) Tasks() *tasks.Manager {
	return a.tasks
}

// Run starts the scheduler and serves the channel until ctx is cancelled or
// the channel reports io.EOF. Shutdown runs before Run returns.
func (a *App) Run(ctx context.Context) error {
	if u, ok := a.channel.(interface {
		Ping(context.Context) (string, error)
	}); ok {
		name, err := u.Ping(ctx)
		if err != nil {
			return fmt.Errorf("channel check failed: %w", err)
		}
		logging.Boot("Connected to %s as @%s", a.channel.Name(), name)
	}

	if err := a.scheduler.Start(ctx); err != nil {
		return fmt.Errorf("failed to start scheduler: %w", err)
	}
	defer a.shutdown()

	if a.api != nil {
		if _, err := a.api.Start(a.cfg.API.Listen); err != nil {
			return fmt.Errorf("failed to start API: %w", err)
		}
	}
	a.startWatcher(ctx)

	err := a.receiveLoop(ctx)
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

func (a *App) startWatcher(ctx context.Context) {
	if a.configPath == "" {
		return
	}
	w, err := config.NewWatcher(a.configPath, func(c *config.Config) {
		logging.SetLevel(c.Logging.Level)
		logging.Boot("log level now %s", logging.Level())
	})
	if err != nil {
		logging.BootWarn("config watcher unavailable: %v", err)
		return
	}
	if err := w.Start(ctx); err != nil {
		logging.BootWarn("config watcher unavailable: %v", err)
		w.Stop()
		return
	}
	a.watcher = w
}

func (a *App) receiveLoop(ctx context.Context) error {
	poll := a.cfg.GetPollTimeout()
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		msgs, err := a.channel.Receive(ctx, poll)
		if err != nil {
			if errors.Is(err, io.EOF) {
				logging.Channel("%s input closed", a.channel.Name())
				return nil
			}
			if ctx.Err() != nil {
				return ctx.Err()
			}
			logging.ChannelWarn("Receive failed, retrying in %v: %v", receiveBackoff, err)
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(receiveBackoff):
			}
			continue
		}
		for _, msg := range msgs {
			a.HandleMessage(ctx, msg)
		}
	}
}

// HandleMessage ingests msg, resolves and dispatches it and sends the reply.
// Duplicate deliveries are dropped. It never panics.
func (a *App) HandleMessage(ctx context.Context, msg channel.Message) {
	defer func() {
		if r := recover(); r != nil {
			logging.ChannelError("Message %s#%d crashed: %v\n%s", msg.ConversationID, msg.Sequence, r, debug.Stack())
		}
	}()

	text := strings.TrimSpace(msg.Text)
	if text == "" {
		return
	}
	at := msg.At
	if at.IsZero() {
		at = time.Now()
	}

	turn, fresh, err := a.memory.Ingest(ctx, msg.ConversationID, msg.Sequence, text, at)
	if err != nil {
		logging.ChannelError("Failed to record message %s#%d: %v", msg.ConversationID, msg.Sequence, err)
	} else if !fresh {
		return
	}
	logging.Channel("%s <- %s: %s", msg.ConversationID, msg.Sender, memory.Truncate(text, 80))

	// An unstored message has sequence 0, which selects the whole history.
	cc, err := a.memory.Build(ctx, msg.ConversationID, turn.Sequence, text)
	if err != nil {
		logging.ChannelWarn("History unavailable for %s: %v", msg.ConversationID, err)
	}

	intent, ok := dispatch.ParseCommand(text)
	if !ok {
		if a.cfg.Telegram.Thinking {
			if err := a.channel.Send(ctx, msg.ConversationID, ThinkingNotice); err != nil {
				logging.ChannelDebug("Thinking notice to %s failed: %v", msg.ConversationID, err)
			}
		}
		intent = a.resolver.Resolve(ctx, text, cc)
	}

	reply := a.dispatcher.Dispatch(ctx, dispatch.Request{
		ConversationID: msg.ConversationID,
		Text:           text,
		History:        cc.Turns,
		Intent:         intent,
	})
	if err := channel.SendLong(ctx, a.channel, msg.ConversationID, reply); err != nil {
		logging.ChannelError("Reply to %s failed: %v", msg.ConversationID, err)
	}
	if err := a.memory.RecordReply(ctx, msg.ConversationID, reply, time.Now()); err != nil {
		logging.ChannelError("Failed to record reply for %s#%d: %v", msg.ConversationID, msg.Sequence, err)
	}
}

// Stats collects the counters served on GET /stats.
func (a *App) Stats(ctx context.Context) (map[string]interface{}, error) {
	byStatus, err := a.tasks.Stats(ctx)
	if err != nil {
		return nil, err
	}
	taskCounts := make(map[string]int, len(byStatus))
	for status, n := range byStatus {
		taskCounts[string(status)] = n
	}
	facts, err := a.memory.FactCount(ctx, "")
	if err != nil {
		return nil, err
	}
	dispatched, failed := a.dispatcher.Counts()
	out := map[string]interface{}{
		"facts":            facts,
		"uptime_seconds":   int64(a.dispatcher.Uptime().Seconds()),
		"tasks":            taskCounts,
		"dispatched":       dispatched,
		"dispatch_failed":  failed,
		"scheduler_runs":   a.scheduler.Runs(),
		"scheduler_active": a.scheduler.InFlight(),
		"deliveries_seen":  a.memory.SeenCount(),
	}
	if s := callStats(a.llm); s != nil {
		calls, failures := s.Stats()
		out["llm_calls"] = calls
		out["llm_failures"] = failures
	}
	if b, ok := a.browser.(*browser.Service); ok {
		out["browses"] = b.Browses()
	}
	return out, nil
}

func (a *App) shutdown() {
	logging.Boot("Shutting down")
	if err := a.scheduler.Stop(); err != nil {
		logging.SchedulerWarn("Scheduler stop: %v", err)
	}
	if a.api != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := a.api.Shutdown(ctx); err != nil {
			logging.APIWarn("API shutdown: %v", err)
		}
		cancel()
	}
	if a.watcher != nil {
		a.watcher.Stop()
	}
}

// Close releases the renderer and the database. Call it after Run returns.
func (a *App) Close() error {
	if a.renderer != nil {
		if err := a.renderer.Close(); err != nil {
			logging.BrowserWarn("Renderer close: %v", err)
		}
	}
	return a.store.Close()
}
