package channel

import (
	"context"
	"errors"
	"math/rand"
	"strings"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func joinStripped(chunks []string) string {
	var sb strings.Builder
	for _, c := range chunks {
		sb.WriteString(StripFooter(c))
	}
	return sb.String()
}

func TestSplit_ShortTextUnchanged(t *testing.T) {
	assert.Equal(t, []string{"hello"}, Split("hello", 4000))
	assert.Equal(t, []string{""}, Split("", 4000))
	exact := strings.Repeat("x", 4000)
	assert.Equal(t, []string{exact}, Split(exact, 4000))
}

func TestSplit_4500Into2(t *testing.T) {
	tests := []struct {
		name string
		text string
	}{
		{"no separators", strings.Repeat("a", 4500)},
		{"paragraphs", paragraphText(4500)},
		{"sentences", sentenceText(4500)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			require.Equal(t, 4500, utf8.RuneCountInString(tt.text))
			chunks := Split(tt.text, 4000)
			require.Len(t, chunks, 2)
			for _, c := range chunks {
				assert.LessOrEqual(t, utf8.RuneCountInString(c), 4000)
			}
			assert.True(t, strings.HasSuffix(chunks[0], "(1/2)"))
			assert.True(t, strings.HasSuffix(chunks[1], "(2/2)"))
			if diff := cmp.Diff(tt.text, joinStripped(chunks)); diff != "" {
				t.Errorf("round trip mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

// paragraphText builds n runes of short paragraphs.
func paragraphText(n int) string {
	var sb strings.Builder
	count := 0
	for count < n {
		line := "第一段内容。\n\n"
		for _, r := range line {
			if count == n {
				break
			}
			sb.WriteRune(r)
			count++
		}
	}
	return sb.String()
}

func sentenceText(n int) string {
	var sb strings.Builder
	count := 0
	for count < n {
		for _, r := range "价格上涨了。" {
			if count == n {
				break
			}
			sb.WriteRune(r)
			count++
		}
	}
	return sb.String()
}

func TestSplitRaw_PrefersParagraphBreak(t *testing.T) {
	text := strings.Repeat("a", 60) + "\n\n" + strings.Repeat("b", 60)
	parts := SplitRaw(text, 100)
	require.Len(t, parts, 2)
	assert.Equal(t, strings.Repeat("a", 60)+"\n\n", parts[0])
	assert.Equal(t, strings.Repeat("b", 60), parts[1])
}

func TestSplitRaw_KeepsCodeBlockWhole(t *testing.T) {
	code := "```go\n" + strings.Repeat("x := 1\n", 10) + "```"
	text := strings.Repeat("intro ", 10) + code + "\nafter"
	parts := SplitRaw(text, 100)
	require.Greater(t, len(parts), 1)
	for _, p := range parts {
		assert.Equal(t, 0, strings.Count(p, fence)%2, "chunk splits a code block: %q", p)
	}
	assert.Equal(t, text, strings.Join(parts, ""))
}

func TestSplitRaw_OversizedCodeBlockStillFits(t *testing.T) {
	text := "```\n" + strings.Repeat("y", 500) + "\n```"
	parts := SplitRaw(text, 100)
	for _, p := range parts {
		assert.LessOrEqual(t, utf8.RuneCountInString(p), 100-footerReserve)
	}
	assert.Equal(t, text, strings.Join(parts, ""))
}

func TestSplit_RandomRoundTrip(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	alphabet := []rune("ab 。\n`字x.!")
	for i := 0; i < 300; i++ {
		n := rng.Intn(3000)
		limit := 40 + rng.Intn(400)
		runes := make([]rune, n)
		for j := range runes {
			runes[j] = alphabet[rng.Intn(len(alphabet))]
		}
		text := string(runes)

		chunks := Split(text, limit)
		for _, c := range chunks {
			require.LessOrEqual(t, utf8.RuneCountInString(c), limit)
		}
		require.Equal(t, text, joinStripped(chunks))
	}
}

type fakeChannel struct {
	limit  int
	sent   []string
	failAt int
}

func (f *fakeChannel) Receive(ctx context.Context, timeout time.Duration) ([]Message, error) {
	return nil, nil
}

func (f *fakeChannel) Send(ctx context.Context, conv, text string) error {
	if f.failAt > 0 && len(f.sent)+1 == f.failAt {
		return errors.New("send failed")
	}
	f.sent = append(f.sent, text)
	return nil
}

func (f *fakeChannel) Limit() int   { return f.limit }
func (f *fakeChannel) Name() string { return "fake" }

func TestSendLong(t *testing.T) {
	ch := &fakeChannel{limit: 100}
	text := strings.Repeat("z", 250)
	require.NoError(t, SendLong(context.Background(), ch, "c1", text))
	require.Len(t, ch.sent, 3)
	assert.Equal(t, text, joinStripped(ch.sent))

	failing := &fakeChannel{limit: 100, failAt: 2}
	err := NewNotifier(failing).Notify(context.Background(), "c1", text)
	assert.Error(t, err)
	assert.Len(t, failing.sent, 1)
}
