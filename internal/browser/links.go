package browser

import (
	"net/url"
	"sort"
	"strings"
)

// excludedLinkPatterns never lead to useful content.
var excludedLinkPatterns = []string{
	"/logout", "/signout", "/login", "/register", "/signin",
	"twitter.com", "x.com/", "telegram.org", "t.me/", "discord.com", "github.com",
}

// priorityKeywords mark paths likely to describe the site.
var priorityKeywords = []string{
	"about", "docs", "api", "features", "how-it-works",
	"guide", "tutorial", "introduction", "overview", "whitepaper",
	"tokenomics", "faq", "help", "learn", "blog", "news",
}

// RankLinks keeps same-site http(s) links not in visited, drops account and
// social links, and orders the rest by relevance: +10 for a priority path
// keyword, -1 per path separator. At most limit links are returned.
func RankLinks(baseURL string, links []string, visited map[string]bool, limit int) []string {
	base, err := url.Parse(baseURL)
	if err != nil {
		return nil
	}
	baseHost := bareHost(base.Host)

	type scored struct {
		link  string
		score int
	}
	var candidates []scored
	seen := make(map[string]bool)
	for _, raw := range links {
		abs := resolve(base, raw)
		if abs == "" || seen[abs] || visited[abs] || abs == baseURL {
			continue
		}
		u, err := url.Parse(abs)
		if err != nil || bareHost(u.Host) != baseHost {
			continue
		}
		lower := strings.ToLower(abs)
		if containsAny(lower, excludedLinkPatterns) {
			continue
		}
		seen[abs] = true

		score := 0
		for _, kw := range priorityKeywords {
			if strings.Contains(lower, "/"+kw) {
				score += 10
				break
			}
		}
		score -= strings.Count(abs, "/")
		candidates = append(candidates, scored{abs, score})
	}

	sort.SliceStable(candidates, func(i, j int) bool {
		return candidates[i].score > candidates[j].score
	})
	if limit > 0 && len(candidates) > limit {
		candidates = candidates[:limit]
	}
	out := make([]string, len(candidates))
	for i, c := range candidates {
		out[i] = c.link
	}
	return out
}

func bareHost(host string) string {
	host = strings.ToLower(host)
	return strings.TrimPrefix(host, "www.")
}

func containsAny(s string, subs []string) bool {
	for _, sub := range subs {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}
