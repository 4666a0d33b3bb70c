// Package logging provides config-driven categorized logging for aisatoshi.
// Every category is a named child of one zap logger. In debug mode each
// category is additionally written to its own file under the configured
// directory. Before Initialize is called every logger is a no-op.
package logging

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Category represents a log category/system
type Category string

const (
	CategoryBoot       Category = "boot"       // Startup, config, shutdown
	CategoryStore      Category = "store"      // SQLite persistence
	CategoryScheduler  Category = "scheduler"  // Task claiming and runs
	CategoryPerception Category = "perception" // Intent resolution, model calls
	CategoryDispatch   Category = "dispatch"   // Action handlers
	CategoryChannel    Category = "channel"    // Telegram/console transport
	CategoryBrowser    Category = "browser"    // Page fetch, render, deep browse
	CategoryAPI        Category = "api"        // HTTP management API
	CategoryMemory     Category = "memory"     // Conversation memory
	CategoryMCP        Category = "mcp"        // MCP tool server
)

// AllCategories lists every category.
var AllCategories = []Category{
	CategoryBoot, CategoryStore, CategoryScheduler, CategoryPerception, CategoryDispatch,
	CategoryChannel, CategoryBrowser, CategoryAPI, CategoryMemory, CategoryMCP,
}

// Config mirrors config.LoggingConfig to avoid circular imports.
type Config struct {
	Level      string
	DebugMode  bool
	Dir        string
	JSONFormat bool
	Categories map[string]bool
}

// Logger is a printf-style category logger.
type Logger struct {
	category Category
	sugar    *zap.SugaredLogger
}

var (
	mu      sync.RWMutex
	base    *zap.Logger
	level   = zap.NewAtomicLevelAt(zapcore.InfoLevel)
	cfg     Config
	loggers = make(map[Category]*Logger)
	files   []*os.File
)

// ParseLevel maps a config level name onto a zap level. Unknown names are info.
func ParseLevel(name string) zapcore.Level {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "debug":
		return zapcore.DebugLevel
	case "warn", "warning":
		return zapcore.WarnLevel
	case "error":
		return zapcore.ErrorLevel
	default:
		return zapcore.InfoLevel
	}
}

func encoderConfig() zapcore.EncoderConfig {
	ec := zap.NewProductionEncoderConfig()
	ec.EncodeTime = zapcore.ISO8601TimeEncoder
	return ec
}

// Initialize builds the root logger from c. Calling it again replaces the
// previous loggers and closes any category files.
func Initialize(c Config) error {
	level.SetLevel(ParseLevel(c.Level))

	var enc zapcore.Encoder
	if c.JSONFormat {
		enc = zapcore.NewJSONEncoder(encoderConfig())
	} else {
		enc = zapcore.NewConsoleEncoder(encoderConfig())
	}
	core := zapcore.NewCore(enc, zapcore.Lock(os.Stderr), level)

	if c.DebugMode && c.Dir != "" {
		if err := os.MkdirAll(c.Dir, 0755); err != nil {
			return fmt.Errorf("failed to create logs directory: %w", err)
		}
	}

	install(zap.New(core, zap.AddCaller(), zap.AddCallerSkip(1)), c)

	Boot("logging initialized: level=%s debug=%v dir=%s", level.Level(), c.DebugMode, c.Dir)
	return nil
}

// UseLogger installs a prebuilt zap logger as the root. Tests use it with an
// observer core.
func UseLogger(l *zap.Logger, c Config) {
	install(l, c)
}

func install(l *zap.Logger, c Config) {
	CloseAll()
	mu.Lock()
	defer mu.Unlock()
	base = l
	cfg = c
}

// SetLevel changes the level of every category at runtime.
func SetLevel(name string) {
	level.SetLevel(ParseLevel(name))
}

// Level returns the current level name.
func Level() string {
	return level.Level().String()
}

// IsDebugMode returns whether per-category files are enabled.
func IsDebugMode() bool {
	mu.RLock()
	defer mu.RUnlock()
	return cfg.DebugMode
}

// IsCategoryEnabled returns whether a specific category is enabled.
func IsCategoryEnabled(category Category) bool {
	mu.RLock()
	defer mu.RUnlock()
	if base == nil {
		return false
	}
	if cfg.Categories == nil {
		return true
	}
	enabled, exists := cfg.Categories[string(category)]
	if !exists {
		return true
	}
	return enabled
}

// Get returns (or creates) a logger for the given category.
// Returns a no-op logger if logging is not initialized or the category is disabled.
func Get(category Category) *Logger {
	if !IsCategoryEnabled(category) {
		return &Logger{category: category, sugar: zap.NewNop().Sugar()}
	}

	mu.RLock()
	if l, ok := loggers[category]; ok {
		mu.RUnlock()
		return l
	}
	mu.RUnlock()

	mu.Lock()
	defer mu.Unlock()

	// Double-check after acquiring write lock
	if l, ok := loggers[category]; ok {
		return l
	}

	zl := base.Named(string(category))
	if cfg.DebugMode && cfg.Dir != "" {
		date := time.Now().Format("2006-01-02")
		logPath := filepath.Join(cfg.Dir, fmt.Sprintf("%s_%s.log", date, category))
		file, err := os.OpenFile(logPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
		if err != nil {
			fmt.Fprintf(os.Stderr, "[logging] Warning: could not open log file %s: %v\n", logPath, err)
		} else {
			files = append(files, file)
			fileCore := zapcore.NewCore(zapcore.NewJSONEncoder(encoderConfig()), zapcore.AddSync(file), level)
			zl = zl.WithOptions(zap.WrapCore(func(c zapcore.Core) zapcore.Core {
				return zapcore.NewTee(c, fileCore)
			}))
		}
	}

	l := &Logger{category: category, sugar: zl.Sugar()}
	loggers[category] = l
	return l
}

// Debug logs a debug message
func (l *Logger) Debug(format string, args ...interface{}) {
	l.sugar.Debugf(format, args...)
}

// Info logs an informational message
func (l *Logger) Info(format string, args ...interface{}) {
	l.sugar.Infof(format, args...)
}

// Warn logs a warning message
func (l *Logger) Warn(format string, args ...interface{}) {
	l.sugar.Warnf(format, args...)
}

// Error logs an error message
func (l *Logger) Error(format string, args ...interface{}) {
	l.sugar.Errorf(format, args...)
}

// With returns a logger carrying structured key-value context.
func (l *Logger) With(keysAndValues ...interface{}) *Logger {
	return &Logger{category: l.category, sugar: l.sugar.With(keysAndValues...)}
}

// Sync flushes buffered entries of the root logger.
func Sync() {
	mu.RLock()
	b := base
	mu.RUnlock()
	if b != nil {
		_ = b.Sync()
	}
}

// CloseAll flushes and closes all open category files (call at shutdown).
func CloseAll() {
	mu.Lock()
	defer mu.Unlock()
	for _, l := range loggers {
		_ = l.sugar.Sync()
	}
	for _, f := range files {
		f.Close()
	}
	files = nil
	loggers = make(map[Category]*Logger)
}

// =============================================================================
// CONVENIENCE FUNCTIONS - Quick logging without getting a logger first
// These are no-ops if the category is disabled
// =============================================================================

// Boot logs to the boot category
func Boot(format string, args ...interface{}) { Get(CategoryBoot).Info(format, args...) }

// BootDebug logs debug to the boot category
func BootDebug(format string, args ...interface{}) { Get(CategoryBoot).Debug(format, args...) }

// BootWarn logs warning to the boot category
func BootWarn(format string, args ...interface{}) { Get(CategoryBoot).Warn(format, args...) }

// BootError logs error to the boot category
func BootError(format string, args ...interface{}) { Get(CategoryBoot).Error(format, args...) }

// Store logs to the store category
func Store(format string, args ...interface{}) { Get(CategoryStore).Info(format, args...) }

// StoreDebug logs debug to the store category
func StoreDebug(format string, args ...interface{}) { Get(CategoryStore).Debug(format, args...) }

// StoreWarn logs warning to the store category
func StoreWarn(format string, args ...interface{}) { Get(CategoryStore).Warn(format, args...) }

// StoreError logs error to the store category
func StoreError(format string, args ...interface{}) { Get(CategoryStore).Error(format, args...) }

// Scheduler logs to the scheduler category
func Scheduler(format string, args ...interface{}) { Get(CategoryScheduler).Info(format, args...) }

// SchedulerDebug logs debug to the scheduler category
func SchedulerDebug(format string, args ...interface{}) {
	Get(CategoryScheduler).Debug(format, args...)
}

// SchedulerWarn logs warning to the scheduler category
func SchedulerWarn(format string, args ...interface{}) {
	Get(CategoryScheduler).Warn(format, args...)
}

// SchedulerError logs error to the scheduler category
func SchedulerError(format string, args ...interface{}) {
	Get(CategoryScheduler).Error(format, args...)
}

// Perception logs to the perception category
func Perception(format string, args ...interface{}) { Get(CategoryPerception).Info(format, args...) }

// PerceptionDebug logs debug to the perception category
func PerceptionDebug(format string, args ...interface{}) {
	Get(CategoryPerception).Debug(format, args...)
}

// PerceptionWarn logs warning to the perception category
func PerceptionWarn(format string, args ...interface{}) {
	Get(CategoryPerception).Warn(format, args...)
}

// PerceptionError logs error to the perception category
func PerceptionError(format string, args ...interface{}) {
	Get(CategoryPerception).Error(format, args...)
}

// Dispatch logs to the dispatch category
func Dispatch(format string, args ...interface{}) { Get(CategoryDispatch).Info(format, args...) }

// DispatchDebug logs debug to the dispatch category
func DispatchDebug(format string, args ...interface{}) { Get(CategoryDispatch).Debug(format, args...) }

// DispatchWarn logs warning to the dispatch category
func DispatchWarn(format string, args ...interface{}) { Get(CategoryDispatch).Warn(format, args...) }

// DispatchError logs error to the dispatch category
func DispatchError(format string, args ...interface{}) { Get(CategoryDispatch).Error(format, args...) }

// Channel logs to the channel category
func Channel(format string, args ...interface{}) { Get(CategoryChannel).Info(format, args...) }

// ChannelDebug logs debug to the channel category
func ChannelDebug(format string, args ...interface{}) { Get(CategoryChannel).Debug(format, args...) }

// ChannelWarn logs warning to the channel category
func ChannelWarn(format string, args ...interface{}) { Get(CategoryChannel).Warn(format, args...) }

// ChannelError logs error to the channel category
func ChannelError(format string, args ...interface{}) { Get(CategoryChannel).Error(format, args...) }

// Browser logs to the browser category
func Browser(format string, args ...interface{}) { Get(CategoryBrowser).Info(format, args...) }

// BrowserDebug logs debug to the browser category
func BrowserDebug(format string, args ...interface{}) { Get(CategoryBrowser).Debug(format, args...) }

// BrowserWarn logs warning to the browser category
func BrowserWarn(format string, args ...interface{}) { Get(CategoryBrowser).Warn(format, args...) }

// BrowserError logs error to the browser category
func BrowserError(format string, args ...interface{}) { Get(CategoryBrowser).Error(format, args...) }

// API logs to the api category
func API(format string, args ...interface{}) { Get(CategoryAPI).Info(format, args...) }

// APIDebug logs debug to the api category
func APIDebug(format string, args ...interface{}) { Get(CategoryAPI).Debug(format, args...) }

// APIWarn logs warning to the api category
func APIWarn(format string, args ...interface{}) { Get(CategoryAPI).Warn(format, args...) }

// APIError logs error to the api category
func APIError(format string, args ...interface{}) { Get(CategoryAPI).Error(format, args...) }

// Memory logs to the memory category
func Memory(format string, args ...interface{}) { Get(CategoryMemory).Info(format, args...) }

// MemoryDebug logs debug to the memory category
func MemoryDebug(format string, args ...interface{}) { Get(CategoryMemory).Debug(format, args...) }

// MemoryWarn logs warning to the memory category
func MemoryWarn(format string, args ...interface{}) { Get(CategoryMemory).Warn(format, args...) }

// MCP logs to the mcp category
func MCP(format string, args ...interface{}) { Get(CategoryMCP).Info(format, args...) }

// MCPWarn logs warning to the mcp category
func MCPWarn(format string, args ...interface{}) { Get(CategoryMCP).Warn(format, args...) }

// =============================================================================
// TIMING HELPERS - For performance logging
// =============================================================================

// Timer helps measure operation duration
type Timer struct {
	category Category
	op       string
	start    time.Time
}

// StartTimer begins timing an operation
func StartTimer(category Category, operation string) *Timer {
	return &Timer{category: category, op: operation, start: time.Now()}
}

// Stop ends the timer and logs the duration
func (t *Timer) Stop() time.Duration {
	elapsed := time.Since(t.start)
	Get(t.category).Debug("%s completed in %v", t.op, elapsed)
	return elapsed
}

// StopWithThreshold logs warning if duration exceeds threshold
func (t *Timer) StopWithThreshold(threshold time.Duration) time.Duration {
	elapsed := time.Since(t.start)
	if elapsed > threshold {
		Get(t.category).Warn("%s took %v (threshold: %v)", t.op, elapsed, threshold)
	} else {
		Get(t.category).Debug("%s completed in %v", t.op, elapsed)
	}
	return elapsed
}
