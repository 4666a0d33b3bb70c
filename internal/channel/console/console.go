// Package console is a line-oriented channel on an io.Reader/io.Writer pair,
// used by `aisatoshi run --console`.
package console

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"aisatoshi/internal/channel"
)

// ConversationID is the single conversation a console serves.
const ConversationID = "console"

// Channel reads one message per input line.
type Channel struct {
	lines chan string
	out   io.Writer
	limit int

	mu  sync.Mutex
	seq int64
}

// New starts reading in. Reading stops at EOF.
func New(in io.Reader, out io.Writer) *Channel {
	c := &Channel{lines: make(chan string, 16), out: out, limit: channel.DefaultLimit}
	go c.read(in)
	return c
}

func (c *Channel) read(in io.Reader) {
	defer close(c.lines)
	sc := bufio.NewScanner(in)
	sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for sc.Scan() {
		if line := strings.TrimSpace(sc.Text()); line != "" {
			c.lines <- line
		}
	}
}

// Name identifies the channel.
func (c *Channel) Name() string { return "console" }

// Limit is the single-message size limit.
func (c *Channel) Limit() int { return c.limit }

// Receive waits up to timeout for a line and returns it with any others
// already buffered. It returns io.EOF once input is exhausted.
func (c *Channel) Receive(ctx context.Context, timeout time.Duration) ([]channel.Message, error) {
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	var first string
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-timer.C:
		return nil, nil
	case line, ok := <-c.lines:
		if !ok {
			return nil, io.EOF
		}
		first = line
	}

	msgs := []channel.Message{c.message(first)}
	for {
		select {
		case line, ok := <-c.lines:
			if !ok {
				return msgs, nil
			}
			msgs = append(msgs, c.message(line))
		default:
			return msgs, nil
		}
	}
}

func (c *Channel) message(text string) channel.Message {
	c.mu.Lock()
	c.seq++
	seq := c.seq
	c.mu.Unlock()
	return channel.Message{
		ConversationID: ConversationID,
		Sequence:       seq,
		Text:           text,
		Sender:         "you",
		At:             time.Now(),
	}
}

// Send writes text to the output.
func (c *Channel) Send(ctx context.Context, conversationID, text string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, err := fmt.Fprintf(c.out, "AIsatoshi: %s\n", text)
	return err
}
