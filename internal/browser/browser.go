package browser

import (
	"context"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"aisatoshi/internal/logging"
	"aisatoshi/internal/types"
)

// Config tunes browsing.
type Config struct {
	Timeout     time.Duration
	MaxSubpages int
	// MaxChars bounds the text handed to the model.
	MaxChars int
	// Parallel bounds concurrent subpage fetches.
	Parallel int
}

// DefaultConfig returns the browsing defaults.
func DefaultConfig() Config {
	return Config{
		Timeout:     90 * time.Second,
		MaxSubpages: 5,
		MaxChars:    8000,
		Parallel:    3,
	}
}

// Result is a crawl of one page and its chosen subpages.
type Result struct {
	Main     *Page
	Subpages []*Page
}

// Combined renders every page's text under a heading.
func (r *Result) Combined() string {
	var sb strings.Builder
	sb.WriteString("=== 主页 ===\n")
	if r.Main.Title != "" {
		sb.WriteString(r.Main.Title)
		sb.WriteString("\n")
	}
	sb.WriteString(r.Main.Text)
	for _, p := range r.Subpages {
		title := p.Title
		if title == "" {
			title = p.URL
		}
		fmt.Fprintf(&sb, "\n\n=== 子页: %s ===\n%s", title, p.Text)
	}
	return sb.String()
}

// Pages counts the pages visited.
func (r *Result) Pages() int {
	return 1 + len(r.Subpages)
}

// Service implements types.Browser: fetch, optionally crawl, then analyze.
type Service struct {
	fetcher  Fetcher
	analyzer *Analyzer
	cfg      Config
	browses  atomic.Int64
}

// NewService creates a browse service.
func NewService(fetcher Fetcher, analyzer *Analyzer, cfg Config) *Service {
	def := DefaultConfig()
	if cfg.Timeout <= 0 {
		cfg.Timeout = def.Timeout
	}
	if cfg.MaxSubpages < 0 {
		cfg.MaxSubpages = 0
	}
	if cfg.MaxChars <= 0 {
		cfg.MaxChars = def.MaxChars
	}
	if cfg.Parallel <= 0 {
		cfg.Parallel = def.Parallel
	}
	return &Service{fetcher: fetcher, analyzer: analyzer, cfg: cfg}
}

// Browse answers question about rawURL. Questions asking for depth trigger a
// subpage crawl. When the model is unavailable an excerpt of the page is
// returned instead.
func (s *Service) Browse(ctx context.Context, rawURL, question string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, s.cfg.Timeout)
	defer cancel()
	s.browses.Add(1)

	var (
		res *Result
		err error
	)
	if WantsDeep(question) {
		res, err = s.Crawl(ctx, rawURL, s.cfg.MaxSubpages)
	} else {
		res, err = s.Crawl(ctx, rawURL, 0)
	}
	if err != nil {
		return "", types.CollaboratorFailure("browse", err)
	}

	content := res.Combined()
	if strings.TrimSpace(res.Main.Text) == "" && len(res.Subpages) == 0 {
		return "", types.CollaboratorFailure("browse", fmt.Errorf("no readable content at %s", rawURL))
	}

	header := fmt.Sprintf("🌐 %s", rawURL)
	if res.Main.Title != "" {
		header = fmt.Sprintf("🌐 %s\n%s", res.Main.Title, rawURL)
	}
	if res.Pages() > 1 {
		header += fmt.Sprintf("\n📄 已浏览 %d 个页面", res.Pages())
	}

	answer, err := s.analyzer.Analyze(ctx, question, content)
	if err != nil {
		logging.BrowserWarn("Analysis failed for %s, returning excerpt: %v", rawURL, err)
		return fmt.Sprintf("%s\n\n%s...", header, truncate(res.Main.Text, 1000)), nil
	}
	return header + "\n\n" + strings.TrimSpace(answer), nil
}

// Crawl fetches rawURL and up to maxSubpages ranked same-site subpages.
// Subpage failures are logged and skipped.
func (s *Service) Crawl(ctx context.Context, rawURL string, maxSubpages int) (*Result, error) {
	timer := logging.StartTimer(logging.CategoryBrowser, "crawl "+rawURL)
	defer timer.Stop()

	main, err := s.fetcher.Fetch(ctx, rawURL)
	if err != nil {
		return nil, err
	}
	res := &Result{Main: main}
	if maxSubpages <= 0 {
		return res, nil
	}

	visited := map[string]bool{rawURL: true, main.URL: true}
	targets := RankLinks(main.URL, main.Links, visited, maxSubpages)
	logging.Browser("Deep browse %s: %d links, visiting %d", rawURL, len(main.Links), len(targets))

	pages := make([]*Page, len(targets))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.cfg.Parallel)
	for i, target := range targets {
		g.Go(func() error {
			p, err := s.fetcher.Fetch(gctx, target)
			if err != nil {
				logging.BrowserDebug("Subpage %s failed: %v", target, err)
				return nil
			}
			pages[i] = p
			return nil
		})
	}
	_ = g.Wait()

	for _, p := range pages {
		if p != nil {
			res.Subpages = append(res.Subpages, p)
		}
	}
	return res, nil
}

// Browses returns the number of Browse calls served.
func (s *Service) Browses() int64 {
	return s.browses.Load()
}
