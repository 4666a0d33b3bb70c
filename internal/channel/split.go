package channel

import (
	"fmt"
	"regexp"
	"strings"
)

// footerReserve is the room kept in each chunk for the "(i/n)" footer.
const footerReserve = 12

const fence = "```"

var footerPattern = regexp.MustCompile(`\n\n\(\d+/\d+\)$`)

// Split breaks text into chunks of at most limit characters. When more than
// one chunk is produced each carries a "(i/n)" footer. Concatenating the
// chunks with footers removed reproduces text exactly.
func Split(text string, limit int) []string {
	parts := SplitRaw(text, limit)
	if len(parts) == 1 {
		return parts
	}
	out := make([]string, len(parts))
	for i, p := range parts {
		out[i] = p + fmt.Sprintf("\n\n(%d/%d)", i+1, len(parts))
	}
	return out
}

// StripFooter removes a numbering footer added by Split.
func StripFooter(chunk string) string {
	return footerPattern.ReplaceAllString(chunk, "")
}

// SplitRaw breaks text into consecutive pieces without numbering. Each piece
// leaves room for a footer. Cuts prefer, in order: a paragraph break, a line
// break, a sentence end, a space; cuts inside a ``` code block are avoided
// unless the block alone exceeds the limit.
func SplitRaw(text string, limit int) []string {
	r := []rune(text)
	if limit <= 0 || len(r) <= limit {
		return []string{text}
	}
	budget := limit - footerReserve
	if budget < 1 {
		budget = limit
	}

	blocks := codeBlocks(r)
	var out []string
	start := 0
	for len(r)-start > budget {
		cut := bestCut(r, start, start+budget, blocks)
		out = append(out, string(r[start:cut]))
		start = cut
	}
	if start < len(r) {
		out = append(out, string(r[start:]))
	}
	return out
}

// span is a half-open rune range.
type span struct{ start, end int }

// codeBlocks returns the ranges covered by fenced code blocks. An unclosed
// fence runs to the end of the text.
func codeBlocks(r []rune) []span {
	s := string(r)
	var blocks []span
	open := -1
	offset := 0
	for {
		i := strings.Index(s[offset:], fence)
		if i < 0 {
			break
		}
		bytePos := offset + i
		runePos := len([]rune(s[:bytePos]))
		if open < 0 {
			open = runePos
		} else {
			blocks = append(blocks, span{open, runePos + len(fence)})
			open = -1
		}
		offset = bytePos + len(fence)
	}
	if open >= 0 {
		blocks = append(blocks, span{open, len(r)})
	}
	return blocks
}

func insideBlock(pos int, blocks []span) (span, bool) {
	for _, b := range blocks {
		if pos > b.start && pos < b.end {
			return b, true
		}
	}
	return span{}, false
}

// bestCut picks a cut position in (start, end]. Only the second half of the
// window is searched for separators so chunks stay reasonably full.
func bestCut(r []rune, start, end int, blocks []span) int {
	lo := start + (end-start)/2

	separators := []func(i int) int{
		// paragraph break: cut after "\n\n"
		func(i int) int {
			if i+1 < len(r) && r[i] == '\n' && r[i+1] == '\n' {
				return i + 2
			}
			return -1
		},
		func(i int) int {
			if r[i] == '\n' {
				return i + 1
			}
			return -1
		},
		func(i int) int {
			switch r[i] {
			case '。', '！', '？', '.', '!', '?', '；', ';':
				return i + 1
			}
			return -1
		},
		func(i int) int {
			if r[i] == ' ' || r[i] == '\t' {
				return i + 1
			}
			return -1
		},
	}

	for _, sep := range separators {
		for i := end - 1; i >= lo; i-- {
			cut := sep(i)
			if cut <= start || cut > end {
				continue
			}
			if _, inside := insideBlock(cut, blocks); inside {
				continue
			}
			return cut
		}
	}

	if b, inside := insideBlock(end, blocks); inside && b.start > start {
		return b.start
	}
	return end
}
