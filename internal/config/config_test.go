package config

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"aisatoshi/internal/types"
)

func clearEnv(t *testing.T) {
	t.Helper()
	for _, k := range []string{
		"GEMINI_API_KEY", "OPENAI_API_KEY", "TELEGRAM_BOT_TOKEN", "AISATOSHI_DB",
		"WALLET_ADDRESS", "ETHERSCAN_API_KEY", "AISATOSHI_API_ADDR",
	} {
		t.Setenv(k, "")
	}
}

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()
	assert.Equal(t, "AIsatoshi", cfg.Name)
	assert.Equal(t, "gemini", cfg.LLM.Provider)
	assert.Equal(t, 4000, cfg.Telegram.MessageLimit)
	assert.Equal(t, 10, cfg.Memory.HistoryTurns)
	assert.Equal(t, time.Hour, cfg.GetDefaultInterval())
	assert.Equal(t, time.Minute, cfg.GetTickInterval())
	require.NoError(t, cfg.Validate())
}

func TestLoad_MissingFileReturnsDefaults(t *testing.T) {
	clearEnv(t)
	cfg, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	require.NoError(t, err)
	assert.Equal(t, DefaultConfig(), cfg)
}

func TestConfig_SaveLoad(t *testing.T) {
	clearEnv(t)
	path := filepath.Join(t.TempDir(), "nested", "aisatoshi.yaml")

	cfg := DefaultConfig()
	cfg.LLM.Provider = "openai"
	cfg.LLM.APIKey = "sk-test"
	cfg.Telegram.AllowedChats = []string{"42"}
	cfg.Scheduler.MaxInFlight = 8
	require.NoError(t, cfg.Save(path))

	loaded, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, cfg, loaded)
}

func TestLoad_PartialFileKeepsDefaults(t *testing.T) {
	clearEnv(t)
	path := filepath.Join(t.TempDir(), "aisatoshi.yaml")
	require.NoError(t, os.WriteFile(path, []byte("scheduler:\n  tick_interval: 5s\n"), 0644))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 5*time.Second, cfg.GetTickInterval())
	assert.Equal(t, 4, cfg.Scheduler.MaxInFlight)
	assert.Equal(t, "sqlite", cfg.Memory.Driver)
}

func TestLoad_TelegramParseMode(t *testing.T) {
	clearEnv(t)
	path := filepath.Join(t.TempDir(), "aisatoshi.yaml")
	require.NoError(t, os.WriteFile(path, []byte("telegram:\n  parse_mode: Markdown\n"), 0644))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "Markdown", cfg.Telegram.ParseMode)
	assert.Equal(t, 5, cfg.Memory.RecallFacts)
	require.NoError(t, cfg.Validate())
}

func TestLoad_InvalidYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.yaml")
	require.NoError(t, os.WriteFile(path, []byte("llm: [unclosed"), 0644))
	_, err := Load(path)
	assert.Error(t, err)
}

func TestDurationFallbacks(t *testing.T) {
	cfg := DefaultConfig()
	cfg.LLM.Timeout = "soon"
	cfg.Browser.Timeout = "-5s"
	cfg.Scheduler.DefaultInterval = 0
	assert.Equal(t, 60*time.Second, cfg.GetLLMTimeout())
	assert.Equal(t, 30*time.Second, cfg.GetBrowseTimeout())
	assert.Equal(t, time.Hour, cfg.GetDefaultInterval())
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"bad driver", func(c *Config) { c.Memory.Driver = "postgres" }},
		{"empty db path", func(c *Config) { c.Memory.DatabasePath = "" }},
		{"zero in flight", func(c *Config) { c.Scheduler.MaxInFlight = 0 }},
		{"negative retention", func(c *Config) { c.Memory.RetentionCap = -1 }},
		{"tiny message limit", func(c *Config) { c.Telegram.MessageLimit = 10 }},
		{"unknown parse mode", func(c *Config) { c.Telegram.ParseMode = "BBCode" }},
		{"negative recall", func(c *Config) { c.Memory.RecallFacts = -1 }},
		{"overflowing default interval", func(c *Config) { c.Scheduler.DefaultInterval = 1 << 40 }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(cfg)
			err := cfg.Validate()
			require.Error(t, err)
			assert.True(t, errors.Is(err, types.ErrConfiguration))
		})
	}
}

func TestValidateAgent(t *testing.T) {
	cfg := DefaultConfig()
	err := cfg.ValidateAgent(true)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "API key")

	cfg.LLM.APIKey = "k"
	require.NoError(t, cfg.ValidateAgent(true))

	err = cfg.ValidateAgent(false)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "TELEGRAM_BOT_TOKEN")

	cfg.Telegram.BotToken = "t"
	require.NoError(t, cfg.ValidateAgent(false))

	cfg.LLM.Provider = "zai"
	assert.True(t, errors.Is(cfg.ValidateAgent(false), types.ErrConfiguration))
}

func TestWatcher_ReloadsOnWrite(t *testing.T) {
	clearEnv(t)
	path := filepath.Join(t.TempDir(), "aisatoshi.yaml")
	require.NoError(t, os.WriteFile(path, []byte("logging:\n  level: info\n"), 0644))

	changes := make(chan *Config, 4)
	w, err := NewWatcher(path, func(c *Config) { changes <- c })
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, w.Start(ctx))
	defer w.Stop()

	require.NoError(t, os.WriteFile(path, []byte("logging:\n  level: debug\n"), 0644))

	select {
	case cfg := <-changes:
		assert.Equal(t, "debug", cfg.Logging.Level)
	case <-time.After(5 * time.Second):
		t.Fatal("watcher did not report the change")
	}
}
