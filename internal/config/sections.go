package config

// LLMConfig configures the language-model client.
type LLMConfig struct {
	Provider    string  `yaml:"provider"` // gemini, openai
	APIKey      string  `yaml:"api_key"`
	Model       string  `yaml:"model"`
	BaseURL     string  `yaml:"base_url"` // openai-compatible endpoints only
	Timeout     string  `yaml:"timeout"`
	Temperature float64 `yaml:"temperature"`
	MaxTokens   int     `yaml:"max_tokens"`
}

// TelegramConfig configures the Telegram channel.
type TelegramConfig struct {
	BotToken     string   `yaml:"bot_token"`
	APIRoot      string   `yaml:"api_root"`
	PollTimeout  string   `yaml:"poll_timeout"`
	MessageLimit int      `yaml:"message_limit"`
	AllowedChats []string `yaml:"allowed_chats,omitempty"` // empty = everyone
	Thinking     bool     `yaml:"thinking"`      // send a notice before slow model calls
	ParseMode    string   `yaml:"parse_mode"`    // Markdown, MarkdownV2, HTML or empty for plain text
}

// MemoryConfig configures persistence and conversation memory.
type MemoryConfig struct {
	Driver       string `yaml:"driver"` // sqlite (pure Go), sqlite3 (cgo)
	DatabasePath string `yaml:"database_path"`
	HistoryTurns int    `yaml:"history_turns"`  // turns rendered into the prompt
	TurnMaxChars int    `yaml:"turn_max_chars"` // per-turn truncation in the prompt
	RetentionCap int    `yaml:"retention_cap"`  // stored turns per conversation, 0 = unbounded
	DedupCap     int    `yaml:"dedup_cap"`      // in-memory delivery ids remembered
	RecallFacts  int    `yaml:"recall_facts"`   // remembered facts matched against each message
	ImportantCap int    `yaml:"important_cap"`  // high-importance facts always shown to the model
}

// SchedulerConfig configures the task scheduler.
type SchedulerConfig struct {
	TickInterval    string `yaml:"tick_interval"`
	MaxInFlight     int    `yaml:"max_in_flight"`
	DefaultInterval int    `yaml:"default_interval"` // seconds
	StopTimeout     string `yaml:"stop_timeout"`
}

// BrowserConfig configures page fetching and deep browse.
type BrowserConfig struct {
	Timeout        string `yaml:"timeout"`
	MaxBytes       int64  `yaml:"max_bytes"`
	MaxSubpages    int    `yaml:"max_subpages"`
	MaxChars       int    `yaml:"max_chars"` // text handed to the model
	HeadlessRender bool   `yaml:"headless_render"`
	ChromeBin      string `yaml:"chrome_bin"`
	DebuggerURL    string `yaml:"debugger_url"` // attach to a running Chrome instead of launching
}

// MarketConfig configures the price capability.
type MarketConfig struct {
	CoinGeckoURL string `yaml:"coingecko_url"`
	Timeout      string `yaml:"timeout"`
}

// WalletConfig configures the balance capability.
type WalletConfig struct {
	Address         string `yaml:"address"`
	EtherscanURL    string `yaml:"etherscan_url"`
	EtherscanAPIKey string `yaml:"etherscan_api_key"`
	Timeout         string `yaml:"timeout"`
}

// APIConfig configures the admin HTTP API.
type APIConfig struct {
	Listen string `yaml:"listen"` // empty = disabled
}

// LoggingConfig configures logging.
type LoggingConfig struct {
	Level      string          `yaml:"level"`      // debug, info, warn, error
	Format     string          `yaml:"format"`     // json, console
	DebugMode  bool            `yaml:"debug_mode"` // per-category files under Dir
	Dir        string          `yaml:"dir"`
	Categories map[string]bool `yaml:"categories,omitempty"` // per-category toggles
}

// IsJSON reports whether logs are JSON-encoded.
func (c LoggingConfig) IsJSON() bool {
	return c.Format == "json"
}
