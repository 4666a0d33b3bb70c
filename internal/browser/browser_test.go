package browser

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"aisatoshi/internal/types"
)

type stubLLM struct {
	mu      sync.Mutex
	out     string
	err     error
	prompts []string
}

func (s *stubLLM) Name() string { return "stub" }

func (s *stubLLM) Complete(ctx context.Context, req types.CompletionRequest) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.prompts = append(s.prompts, req.Prompt)
	return s.out, s.err
}

func newSite(t *testing.T) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/" {
			http.NotFound(w, r)
			return
		}
		fmt.Fprint(w, `<html><head><title>Home</title></head><body>
			<p>Main page text.</p>
			<a href="/about">About</a><a href="/docs/start">Docs</a>
			<a href="/login">Login</a><a href="/broken">Broken</a>
			<a href="https://twitter.com/x">tw</a></body></html>`)
	})
	mux.HandleFunc("/about", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `<html><head><title>About</title></head><body><p>About text.</p></body></html>`)
	})
	mux.HandleFunc("/docs/start", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `<html><head><title>Docs</title></head><body><p>Docs text.</p></body></html>`)
	})
	mux.HandleFunc("/login", func(w http.ResponseWriter, r *http.Request) {
		t.Errorf("login page must not be crawled")
	})
	mux.HandleFunc("/broken", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	})
	mux.HandleFunc("/plain", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain")
		fmt.Fprint(w, "  just text  ")
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func TestHTTPFetcher(t *testing.T) {
	srv := newSite(t)
	f := NewHTTPFetcher(time.Second, 0)

	p, err := f.Fetch(context.Background(), srv.URL+"/")
	require.NoError(t, err)
	assert.Equal(t, "Home", p.Title)
	assert.Contains(t, p.Text, "Main page text.")
	assert.Contains(t, p.Links, srv.URL+"/about")

	p, err = f.Fetch(context.Background(), srv.URL+"/plain")
	require.NoError(t, err)
	assert.Equal(t, "just text", p.Text)

	_, err = f.Fetch(context.Background(), srv.URL+"/missing")
	assert.Error(t, err)
}

func TestBrowse_SinglePage(t *testing.T) {
	srv := newSite(t)
	llm := &stubLLM{out: "这是一个测试网站。"}
	svc := NewService(NewHTTPFetcher(time.Second, 0), NewAnalyzer(llm, 0), DefaultConfig())

	out, err := svc.Browse(context.Background(), srv.URL+"/", "这个网站是做什么的？")
	require.NoError(t, err)
	assert.Contains(t, out, "Home")
	assert.Contains(t, out, "这是一个测试网站。")
	assert.NotContains(t, out, "已浏览")

	require.Len(t, llm.prompts, 1)
	assert.Contains(t, llm.prompts[0], "问题：这个网站是做什么的？")
	assert.Contains(t, llm.prompts[0], "Main page text.")
	assert.NotContains(t, llm.prompts[0], "About text.")
}

func TestBrowse_DeepCrawlsRankedSubpages(t *testing.T) {
	srv := newSite(t)
	llm := &stubLLM{out: "summary"}
	svc := NewService(NewHTTPFetcher(time.Second, 0), NewAnalyzer(llm, 0), DefaultConfig())

	out, err := svc.Browse(context.Background(), srv.URL+"/", "深度研究这个网站")
	require.NoError(t, err)
	assert.Contains(t, out, "已浏览 3 个页面")

	require.Len(t, llm.prompts, 1)
	prompt := llm.prompts[0]
	assert.Contains(t, prompt, "=== 主页 ===")
	assert.Contains(t, prompt, "=== 子页: About ===")
	assert.Contains(t, prompt, "Docs text.")
	assert.Less(t, strings.Index(prompt, "About text."), strings.Index(prompt, "Docs text."))
}

func TestBrowse_AnalysisFailureReturnsExcerpt(t *testing.T) {
	srv := newSite(t)
	svc := NewService(NewHTTPFetcher(time.Second, 0), NewAnalyzer(&stubLLM{err: errors.New("quota")}, 0), DefaultConfig())

	out, err := svc.Browse(context.Background(), srv.URL+"/", "看看")
	require.NoError(t, err)
	assert.Contains(t, out, "Main page text.")
}

func TestBrowse_FetchFailure(t *testing.T) {
	srv := newSite(t)
	svc := NewService(NewHTTPFetcher(time.Second, 0), NewAnalyzer(&stubLLM{out: "x"}, 0), DefaultConfig())

	_, err := svc.Browse(context.Background(), srv.URL+"/missing", "看看")
	require.Error(t, err)
	assert.ErrorIs(t, err, types.ErrCollaborator)
}

type failingFetcher struct{}

func (failingFetcher) Fetch(ctx context.Context, rawURL string) (*Page, error) {
	return nil, errors.New("no chrome")
}

func TestFallbackFetcher(t *testing.T) {
	srv := newSite(t)
	f := NewFallbackFetcher(failingFetcher{}, NewHTTPFetcher(time.Second, 0))
	p, err := f.Fetch(context.Background(), srv.URL+"/about")
	require.NoError(t, err)
	assert.Equal(t, "About", p.Title)
}
