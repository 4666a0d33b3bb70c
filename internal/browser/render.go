package browser

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/proto"

	"aisatoshi/internal/logging"
)

// RenderConfig configures headless Chrome rendering.
type RenderConfig struct {
	// DebuggerURL connects to a running Chrome instead of launching one.
	DebuggerURL string
	// ChromeBin overrides the browser binary the launcher uses.
	ChromeBin string
	Timeout   time.Duration
}

// RodFetcher renders pages in headless Chrome so script-built content is
// visible. Chrome starts on first use.
type RodFetcher struct {
	cfg RenderConfig

	mu      sync.Mutex
	browser *rod.Browser
}

// NewRodFetcher creates a renderer.
func NewRodFetcher(cfg RenderConfig) *RodFetcher {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	return &RodFetcher{cfg: cfg}
}

func (f *RodFetcher) ensureStarted() (*rod.Browser, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.browser != nil {
		if _, err := f.browser.Version(); err == nil {
			return f.browser, nil
		}
		logging.BrowserWarn("Stale browser connection detected, reconnecting")
		_ = f.browser.Close()
		f.browser = nil
	}

	controlURL := f.cfg.DebuggerURL
	if controlURL == "" {
		l := launcher.New().Headless(true).NoSandbox(true)
		if f.cfg.ChromeBin != "" {
			l = l.Bin(f.cfg.ChromeBin)
		}
		u, err := l.Launch()
		if err != nil {
			return nil, fmt.Errorf("launch chrome: %w", err)
		}
		controlURL = u
	}

	b := rod.New().ControlURL(controlURL)
	if err := b.Connect(); err != nil {
		return nil, fmt.Errorf("connect to chrome: %w", err)
	}
	f.browser = b
	logging.Browser("Headless browser connected")
	return b, nil
}

// Fetch renders rawURL in a fresh incognito context.
func (f *RodFetcher) Fetch(ctx context.Context, rawURL string) (*Page, error) {
	b, err := f.ensureStarted()
	if err != nil {
		return nil, err
	}
	incognito, err := b.Incognito()
	if err != nil {
		return nil, fmt.Errorf("incognito context: %w", err)
	}
	defer incognito.Close()

	page, err := incognito.Page(proto.TargetCreateTarget{})
	if err != nil {
		return nil, fmt.Errorf("create page: %w", err)
	}
	defer page.Close()

	p := page.Context(ctx).Timeout(f.cfg.Timeout)
	if err := p.Navigate(rawURL); err != nil {
		return nil, fmt.Errorf("navigate: %w", err)
	}
	if err := p.WaitLoad(); err != nil {
		return nil, fmt.Errorf("wait load: %w", err)
	}
	_ = p.WaitIdle(2 * time.Second)

	body, err := p.HTML()
	if err != nil {
		return nil, fmt.Errorf("read html: %w", err)
	}
	finalURL := rawURL
	if info, err := p.Info(); err == nil && info.URL != "" {
		finalURL = info.URL
	}
	return ParseHTML(body, finalURL)
}

// Close shuts the browser down.
func (f *RodFetcher) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.browser == nil {
		return nil
	}
	err := f.browser.Close()
	f.browser = nil
	return err
}

// FallbackFetcher tries primary and falls back to secondary on error.
type FallbackFetcher struct {
	primary   Fetcher
	secondary Fetcher
}

// NewFallbackFetcher chains two fetchers.
func NewFallbackFetcher(primary, secondary Fetcher) *FallbackFetcher {
	return &FallbackFetcher{primary: primary, secondary: secondary}
}

// Fetch implements Fetcher.
func (f *FallbackFetcher) Fetch(ctx context.Context, rawURL string) (*Page, error) {
	p, err := f.primary.Fetch(ctx, rawURL)
	if err == nil {
		return p, nil
	}
	if ctx.Err() != nil {
		return nil, err
	}
	logging.BrowserDebug("Primary fetch of %s failed (%v), falling back", rawURL, err)
	return f.secondary.Fetch(ctx, rawURL)
}
