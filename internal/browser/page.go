// Package browser fetches web pages, extracts their text and links, crawls
// the most relevant same-site subpages and asks the language model about the
// result.
package browser

import (
	"context"
	"net/url"
	"regexp"
	"strings"

	"golang.org/x/net/html"
)

// Page is the extracted content of one URL.
type Page struct {
	URL   string
	Title string
	Text  string
	Links []string
}

// Fetcher turns a URL into a Page.
type Fetcher interface {
	Fetch(ctx context.Context, rawURL string) (*Page, error)
}

var (
	multiNewlinePattern = regexp.MustCompile(`\n{3,}`)
	multiSpacePattern   = regexp.MustCompile(`[ \t]{2,}`)
)

// skipped elements never contribute text.
var skipped = map[string]bool{
	"script": true, "style": true, "noscript": true, "iframe": true,
	"svg": true, "template": true, "nav": true, "footer": true, "header": true,
}

// blocks start a new line.
var blocks = map[string]bool{
	"p": true, "div": true, "section": true, "article": true, "main": true,
	"h1": true, "h2": true, "h3": true, "h4": true, "h5": true, "h6": true,
	"li": true, "tr": true, "br": true, "pre": true, "blockquote": true, "table": true,
}

// ParseHTML extracts the title, readable text and absolute links of a document.
func ParseHTML(body, baseURL string) (*Page, error) {
	doc, err := html.Parse(strings.NewReader(body))
	if err != nil {
		return nil, err
	}
	base, _ := url.Parse(baseURL)

	p := &Page{URL: baseURL}
	var sb strings.Builder
	seen := make(map[string]bool)
	var firstH1 string

	var walk func(n *html.Node, depth int, inSkipped bool)
	walk = func(n *html.Node, depth int, inSkipped bool) {
		if depth > 200 {
			return
		}
		switch n.Type {
		case html.TextNode:
			if !inSkipped {
				if text := strings.TrimSpace(n.Data); text != "" {
					sb.WriteString(text)
					sb.WriteString(" ")
				}
			}
		case html.ElementNode:
			switch n.Data {
			case "title":
				if p.Title == "" {
					p.Title = strings.TrimSpace(nodeText(n))
				}
				return
			case "h1":
				if firstH1 == "" {
					firstH1 = strings.TrimSpace(nodeText(n))
				}
			case "a":
				if link := resolve(base, attr(n, "href")); link != "" && !seen[link] {
					seen[link] = true
					p.Links = append(p.Links, link)
				}
			}
			if skipped[n.Data] {
				inSkipped = true
			}
			if blocks[n.Data] && !inSkipped {
				sb.WriteString("\n")
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c, depth+1, inSkipped)
		}
		if n.Type == html.ElementNode && blocks[n.Data] && !inSkipped {
			sb.WriteString("\n")
		}
	}
	walk(doc, 0, false)

	if p.Title == "" {
		p.Title = firstH1
	}
	p.Text = cleanText(sb.String())
	return p, nil
}

func nodeText(n *html.Node) string {
	var sb strings.Builder
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.TextNode {
			sb.WriteString(n.Data)
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(n)
	return strings.Join(strings.Fields(sb.String()), " ")
}

func attr(n *html.Node, key string) string {
	for _, a := range n.Attr {
		if a.Key == key {
			return a.Val
		}
	}
	return ""
}

// resolve makes href absolute against base, dropping the fragment. Only
// http(s) links are returned.
func resolve(base *url.URL, href string) string {
	href = strings.TrimSpace(href)
	if href == "" || strings.HasPrefix(href, "#") {
		return ""
	}
	u, err := url.Parse(href)
	if err != nil {
		return ""
	}
	if base != nil {
		u = base.ResolveReference(u)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return ""
	}
	u.Fragment = ""
	return u.String()
}

// cleanText collapses runs of blank lines and spaces and trims each line.
func cleanText(s string) string {
	s = multiSpacePattern.ReplaceAllString(s, " ")
	lines := strings.Split(s, "\n")
	for i, line := range lines {
		lines[i] = strings.TrimSpace(line)
	}
	s = strings.Join(lines, "\n")
	s = multiNewlinePattern.ReplaceAllString(s, "\n\n")
	return strings.TrimSpace(s)
}

// truncate cuts s to at most max runes.
func truncate(s string, max int) string {
	if max <= 0 {
		return s
	}
	r := []rune(s)
	if len(r) <= max {
		return s
	}
	return string(r[:max])
}
