package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"

	"aisatoshi/internal/types"
)

// DefaultPath is the config file used when --config is not given.
const DefaultPath = "aisatoshi.yaml"

// Config holds all aisatoshi configuration.
type Config struct {
	// Core settings
	Name    string `yaml:"name"`
	Version string `yaml:"version"`

	LLM       LLMConfig       `yaml:"llm"`
	Telegram  TelegramConfig  `yaml:"telegram"`
	Memory    MemoryConfig    `yaml:"memory"`
	Scheduler SchedulerConfig `yaml:"scheduler"`
	Browser   BrowserConfig   `yaml:"browser"`
	Market    MarketConfig    `yaml:"market"`
	Wallet    WalletConfig    `yaml:"wallet"`
	API       APIConfig       `yaml:"api"`
	Logging   LoggingConfig   `yaml:"logging"`
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	return &Config{
		Name:    "AIsatoshi",
		Version: "0.3.0",

		LLM: LLMConfig{
			Provider:    "gemini",
			Model:       "gemini-2.5-flash",
			Timeout:     "60s",
			Temperature: 0.7,
			MaxTokens:   2048,
		},

		Telegram: TelegramConfig{
			APIRoot:      "https://api.telegram.org",
			PollTimeout:  "30s",
			MessageLimit: 4000,
			Thinking:     true,
		},

		Memory: MemoryConfig{
			Driver:       "sqlite",
			DatabasePath: "data/aisatoshi.db",
			HistoryTurns: 10,
			TurnMaxChars: 500,
			RetentionCap: 200,
			DedupCap:     1000,
			RecallFacts:  5,
			ImportantCap: 10,
		},

		Scheduler: SchedulerConfig{
			TickInterval:    "60s",
			MaxInFlight:     4,
			DefaultInterval: 3600,
			StopTimeout:     "10s",
		},

		Browser: BrowserConfig{
			Timeout:     "30s",
			MaxBytes:    2 << 20,
			MaxSubpages: 5,
			MaxChars:    8000,
		},

		Market: MarketConfig{
			CoinGeckoURL: "https://api.coingecko.com/api/v3",
			Timeout:      "15s",
		},

		Wallet: WalletConfig{
			EtherscanURL: "https://api.etherscan.io/api",
			Timeout:      "15s",
		},

		Logging: LoggingConfig{
			Level:  "info",
			Format: "console",
			Dir:    "data/logs",
		},
	}
}

// Load loads configuration from a YAML file.
// A missing file yields the defaults; environment overrides apply either way.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		if !os.IsNotExist(err) {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
	} else if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	cfg.applyEnvOverrides()

	return cfg, nil
}

// Save saves configuration to a YAML file.
func (c *Config) Save(path string) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}

	return nil
}

// applyEnvOverrides applies environment variable overrides.
func (c *Config) applyEnvOverrides() {
	// OpenAI only takes over when no Gemini key is present.
	if key := os.Getenv("OPENAI_API_KEY"); key != "" {
		c.LLM.APIKey = key
		c.LLM.Provider = "openai"
		if c.LLM.Model == DefaultConfig().LLM.Model {
			c.LLM.Model = "gpt-4o-mini"
		}
	}
	if key := os.Getenv("GEMINI_API_KEY"); key != "" {
		c.LLM.APIKey = key
		c.LLM.Provider = "gemini"
	}

	if token := os.Getenv("TELEGRAM_BOT_TOKEN"); token != "" {
		c.Telegram.BotToken = token
	}
	if path := os.Getenv("AISATOSHI_DB"); path != "" {
		c.Memory.DatabasePath = path
	}
	if addr := os.Getenv("WALLET_ADDRESS"); addr != "" {
		c.Wallet.Address = addr
	}
	if key := os.Getenv("ETHERSCAN_API_KEY"); key != "" {
		c.Wallet.EtherscanAPIKey = key
	}
	if addr := os.Getenv("AISATOSHI_API_ADDR"); addr != "" {
		c.API.Listen = addr
	}
}

func parseDuration(v string, fallback time.Duration) time.Duration {
	d, err := time.ParseDuration(v)
	if err != nil || d <= 0 {
		return fallback
	}
	return d
}

// GetLLMTimeout returns the model call timeout.
func (c *Config) GetLLMTimeout() time.Duration {
	return parseDuration(c.LLM.Timeout, 60*time.Second)
}

// GetPollTimeout returns the channel receive timeout.
func (c *Config) GetPollTimeout() time.Duration {
	return parseDuration(c.Telegram.PollTimeout, 30*time.Second)
}

// GetTickInterval returns the scheduler tick interval.
func (c *Config) GetTickInterval() time.Duration {
	return parseDuration(c.Scheduler.TickInterval, 60*time.Second)
}

// GetStopTimeout returns how long shutdown waits for in-flight runs.
func (c *Config) GetStopTimeout() time.Duration {
	return parseDuration(c.Scheduler.StopTimeout, 10*time.Second)
}

// GetBrowseTimeout returns the fetch/analyse timeout for browse requests.
func (c *Config) GetBrowseTimeout() time.Duration {
	return parseDuration(c.Browser.Timeout, 30*time.Second)
}

// GetMarketTimeout returns the price query timeout.
func (c *Config) GetMarketTimeout() time.Duration {
	return parseDuration(c.Market.Timeout, 15*time.Second)
}

// GetWalletTimeout returns the balance query timeout.
func (c *Config) GetWalletTimeout() time.Duration {
	return parseDuration(c.Wallet.Timeout, 15*time.Second)
}

// GetDefaultInterval returns the interval applied to add_task requests without one.
func (c *Config) GetDefaultInterval() time.Duration {
	if c.Scheduler.DefaultInterval <= 0 {
		return time.Hour
	}
	return time.Duration(c.Scheduler.DefaultInterval) * time.Second
}

// ValidProviders lists all supported LLM providers.
var ValidProviders = []string{"gemini", "openai"}

// ValidParseModes lists the Telegram parse modes; empty sends plain text.
var ValidParseModes = []string{"", "Markdown", "MarkdownV2", "HTML"}

// ValidDrivers lists the SQLite drivers compiled in.
var ValidDrivers = []string{"sqlite", "sqlite3"}

// Validate validates the settings shared by every command.
func (c *Config) Validate() error {
	if !contains(ValidDrivers, c.Memory.Driver) {
		return types.ConfigurationError("invalid memory driver: %s (valid: %v)", c.Memory.Driver, ValidDrivers)
	}
	if c.Memory.DatabasePath == "" {
		return types.ConfigurationError("memory.database_path is empty")
	}
	if _, err := types.SecondsDuration(float64(c.Scheduler.DefaultInterval)); err != nil {
		return types.ConfigurationError("scheduler.default_interval out of range: %d", c.Scheduler.DefaultInterval)
	}
	if c.Scheduler.MaxInFlight < 1 {
		return types.ConfigurationError("scheduler.max_in_flight must be >= 1, got %d", c.Scheduler.MaxInFlight)
	}
	if c.Memory.HistoryTurns < 0 || c.Memory.RetentionCap < 0 || c.Memory.DedupCap < 0 ||
		c.Memory.RecallFacts < 0 || c.Memory.ImportantCap < 0 {
		return types.ConfigurationError("memory limits must not be negative")
	}
	if !contains(ValidParseModes, c.Telegram.ParseMode) {
		return types.ConfigurationError("invalid telegram.parse_mode: %s (valid: %v)", c.Telegram.ParseMode, ValidParseModes)
	}
	if c.Telegram.MessageLimit < 100 {
		return types.ConfigurationError("telegram.message_limit must be >= 100, got %d", c.Telegram.MessageLimit)
	}
	return nil
}

// ValidateAgent validates the settings the chat agent needs on top of Validate.
// When console is true no Telegram token is required.
func (c *Config) ValidateAgent(console bool) error {
	if err := c.Validate(); err != nil {
		return err
	}
	if c.LLM.APIKey == "" {
		return types.ConfigurationError("LLM API key not configured (set GEMINI_API_KEY or OPENAI_API_KEY)")
	}
	if !contains(ValidProviders, c.LLM.Provider) {
		return types.ConfigurationError("invalid LLM provider: %s (valid: %v)", c.LLM.Provider, ValidProviders)
	}
	if !console && c.Telegram.BotToken == "" {
		return types.ConfigurationError("telegram bot token not configured (set TELEGRAM_BOT_TOKEN)")
	}
	return nil
}

func contains(list []string, v string) bool {
	for _, item := range list {
		if item == v {
			return true
		}
	}
	return false
}
