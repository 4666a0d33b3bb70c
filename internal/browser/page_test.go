package browser

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const samplePage = `<!doctype html>
<html><head><title> Clawn  Protocol </title><style>.x{color:red}</style></head>
<body>
<header><a href="/login">Login</a></header>
<nav><a href="/docs/intro">Docs</a> <a href="#top">Top</a></nav>
<h1>Welcome</h1>
<p>Clawn is a   <b>meme</b> launchpad.</p>
<script>var secret = 1;</script>
<ul><li>Fair launch</li><li>No presale</li></ul>
<a href="https://twitter.com/clawn">Twitter</a>
<a href="mailto:hi@clawn.ch">Mail</a>
<a href="about#team">About</a>
<footer>© 2025</footer>
</body></html>`

func TestParseHTML(t *testing.T) {
	p, err := ParseHTML(samplePage, "https://clawn.ch/")
	require.NoError(t, err)

	assert.Equal(t, "Clawn Protocol", p.Title)
	assert.Contains(t, p.Text, "Welcome")
	assert.Contains(t, p.Text, "Clawn is a meme launchpad.")
	assert.Contains(t, p.Text, "Fair launch")
	assert.NotContains(t, p.Text, "secret")
	assert.NotContains(t, p.Text, "color:red")
	assert.NotContains(t, p.Text, "©")
	assert.NotContains(t, p.Text, "Login")

	assert.Equal(t, []string{
		"https://clawn.ch/login",
		"https://clawn.ch/docs/intro",
		"https://twitter.com/clawn",
		"https://clawn.ch/about",
	}, p.Links)
}

func TestParseHTML_TitleFallsBackToH1(t *testing.T) {
	p, err := ParseHTML(`<html><body><h1>Only <i>heading</i></h1></body></html>`, "https://a.b/")
	require.NoError(t, err)
	assert.Equal(t, "Only heading", p.Title)
}

func TestRankLinks(t *testing.T) {
	links := []string{
		"https://clawn.ch/login",
		"https://www.clawn.ch/blog/2024/01/post",
		"https://clawn.ch/docs",
		"https://clawn.ch/pricing",
		"https://twitter.com/clawn",
		"https://other.site/about",
		"/about",
		"/about",
		"https://clawn.ch/seen",
	}
	got := RankLinks("https://clawn.ch/", links, map[string]bool{"https://clawn.ch/seen": true}, 0)
	assert.Equal(t, []string{
		"https://clawn.ch/docs",
		"https://clawn.ch/about",
		"https://www.clawn.ch/blog/2024/01/post",
		"https://clawn.ch/pricing",
	}, got)

	assert.Len(t, RankLinks("https://clawn.ch/", links, nil, 2), 2)
}

func TestQuestion(t *testing.T) {
	u := "https://clawn.ch/"
	tests := []struct {
		input string
		want  string
	}{
		{"帮我研究下这个网站", "详细分析这个网站（https://clawn.ch/）的主要内容、功能、特点和商业模式"},
		{"这是做什么的", "这个网站（https://clawn.ch/）是做什么的？请介绍其主要内容和功能"},
		{"这个网站怎么样", "评价这个网站（https://clawn.ch/）的功能和用户体验"},
		{"看看", "这个网站（https://clawn.ch/）的主要内容、功能和特点是什么？"},
	}
	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			assert.Equal(t, tt.want, Question(u, tt.input))
		})
	}
}

func TestWantsDeep(t *testing.T) {
	assert.True(t, WantsDeep("深度浏览这个网站"))
	assert.True(t, WantsDeep(Question("https://x.y/", "帮我研究")))
	assert.True(t, WantsDeep("Deep dive please"))
	assert.False(t, WantsDeep(Question("https://x.y/", "看看")))
}
