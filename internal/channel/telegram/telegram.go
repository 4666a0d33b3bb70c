// Package telegram adapts the Telegram Bot API to channel.Channel using long polling.
package telegram

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"

	"aisatoshi/internal/channel"
	"aisatoshi/internal/logging"
	"aisatoshi/internal/types"
)

const defaultAPIRoot = "https://api.telegram.org"

// tokenMask replaces the bot token in errors that carry the request URL.
const tokenMask = "<token>"

// Config configures the adapter.
type Config struct {
	BotToken string
	APIRoot  string
	// Limit is the single-message size limit.
	Limit int
	// AllowedChats, when non-empty, restricts which chats are served.
	AllowedChats []string
	// ParseMode is sent with every message; plain text is retried when
	// Telegram rejects the markup.
	ParseMode string
}

// Channel is a Telegram bot connection.
type Channel struct {
	cfg     Config
	client  *http.Client
	offset  atomic.Int64
	allowed map[string]struct{}
}

// New creates the adapter. It fails if the token is missing.
func New(cfg Config) (*Channel, error) {
	if strings.TrimSpace(cfg.BotToken) == "" {
		return nil, types.ConfigurationError("telegram bot token is required")
	}
	if strings.TrimSpace(cfg.APIRoot) == "" {
		cfg.APIRoot = defaultAPIRoot
	}
	if cfg.Limit <= 0 {
		cfg.Limit = channel.DefaultLimit
	}
	c := &Channel{cfg: cfg, client: &http.Client{}}
	if len(cfg.AllowedChats) > 0 {
		c.allowed = make(map[string]struct{}, len(cfg.AllowedChats))
		for _, id := range cfg.AllowedChats {
			c.allowed[strings.TrimSpace(id)] = struct{}{}
		}
	}
	return c, nil
}

// Name identifies the channel.
func (c *Channel) Name() string { return "telegram" }

// Limit is the single-message size limit.
func (c *Channel) Limit() int { return c.cfg.Limit }

// Ping verifies the token with getMe and returns the bot username.
func (c *Channel) Ping(ctx context.Context) (string, error) {
	res, err := c.call(ctx, "getMe", `{}`, 15*time.Second)
	if err != nil {
		return "", err
	}
	return res.Get("result.username").String(), nil
}

// Receive long-polls getUpdates for up to timeout. The offset advances past
// every update seen, so Telegram stops redelivering them.
func (c *Channel) Receive(ctx context.Context, timeout time.Duration) ([]channel.Message, error) {
	secs := int(timeout / time.Second)
	if secs < 0 {
		secs = 0
	}
	payload, _ := sjson.Set(`{}`, "timeout", secs)
	payload, _ = sjson.Set(payload, "allowed_updates", []string{"message"})
	if off := c.offset.Load(); off > 0 {
		payload, _ = sjson.Set(payload, "offset", off)
	}

	res, err := c.call(ctx, "getUpdates", payload, timeout+10*time.Second)
	if err != nil {
		return nil, err
	}

	var out []channel.Message
	res.Get("result").ForEach(func(_, upd gjson.Result) bool {
		id := upd.Get("update_id").Int()
		if id >= c.offset.Load() {
			c.offset.Store(id + 1)
		}
		msg, ok := c.toMessage(upd)
		if ok {
			out = append(out, msg)
		}
		return true
	})
	return out, nil
}

func (c *Channel) toMessage(upd gjson.Result) (channel.Message, bool) {
	m := upd.Get("message")
	if !m.Exists() {
		m = upd.Get("edited_message")
	}
	text := strings.TrimSpace(m.Get("text").String())
	if text == "" {
		text = strings.TrimSpace(m.Get("caption").String())
	}
	if text == "" {
		return channel.Message{}, false
	}
	chatID := m.Get("chat.id").Raw
	if chatID == "" {
		return channel.Message{}, false
	}
	if c.allowed != nil {
		if _, ok := c.allowed[chatID]; !ok {
			logging.ChannelDebug("Ignoring message from chat %s", chatID)
			return channel.Message{}, false
		}
	}
	sender := m.Get("from.username").String()
	if sender == "" {
		sender = m.Get("from.id").Raw
	}
	return channel.Message{
		ConversationID: chatID,
		Sequence:       upd.Get("update_id").Int(),
		Text:           text,
		Sender:         sender,
		At:             time.Unix(m.Get("date").Int(), 0),
	}, true
}

// Send delivers one message. When Telegram cannot parse the markup the text
// is resent without a parse mode.
func (c *Channel) Send(ctx context.Context, conversationID, text string) error {
	payload, _ := sjson.Set(`{}`, "chat_id", conversationID)
	payload, _ = sjson.Set(payload, "text", text)
	payload, _ = sjson.Set(payload, "disable_web_page_preview", true)
	if c.cfg.ParseMode != "" {
		withMode, _ := sjson.Set(payload, "parse_mode", c.cfg.ParseMode)
		_, err := c.call(ctx, "sendMessage", withMode, 30*time.Second)
		if err == nil || !strings.Contains(err.Error(), "can't parse entities") {
			return err
		}
		logging.ChannelDebug("Markup rejected, resending as plain text")
	}
	_, err := c.call(ctx, "sendMessage", payload, 30*time.Second)
	return err
}

// call posts a JSON payload to a Bot API method and returns the parsed body.
// Errors wrap types.ErrCollaborator.
func (c *Channel) call(ctx context.Context, method, payload string, timeout time.Duration) (gjson.Result, error) {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	endpoint := strings.TrimRight(c.cfg.APIRoot, "/") + "/bot" + c.cfg.BotToken + "/" + method
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader([]byte(payload)))
	if err != nil {
		return gjson.Result{}, types.CollaboratorFailure("telegram "+method, c.redact(err))
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return gjson.Result{}, types.CollaboratorFailure("telegram "+method, c.redact(err))
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return gjson.Result{}, types.CollaboratorFailure("telegram "+method, err)
	}
	res := gjson.ParseBytes(body)
	if resp.StatusCode >= 300 || !res.Get("ok").Bool() {
		desc := res.Get("description").String()
		if desc == "" {
			desc = strings.TrimSpace(string(body))
		}
		return res, types.CollaboratorFailure("telegram "+method,
			fmt.Errorf("status=%s: %s", strconv.Itoa(resp.StatusCode), desc))
	}
	return res, nil
}

// redact strips the bot token from err. Transport errors are *url.Error
// values quoting the full request URL, and they end up in the logs.
func (c *Channel) redact(err error) error {
	if err == nil || c.cfg.BotToken == "" {
		return err
	}
	var uerr *url.Error
	if errors.As(err, &uerr) {
		return &url.Error{
			Op:  uerr.Op,
			URL: strings.ReplaceAll(uerr.URL, c.cfg.BotToken, tokenMask),
			Err: c.redact(uerr.Err),
		}
	}
	if strings.Contains(err.Error(), c.cfg.BotToken) {
		return errors.New(strings.ReplaceAll(err.Error(), c.cfg.BotToken, tokenMask))
	}
	return err
}
