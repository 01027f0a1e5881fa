// Package logging provides config-gated categorized file logging for
// driftbench. Each category writes to its own file under <dir>/logs/.
// When debug mode is off, every call is a silent no-op, so hot paths can
// log unconditionally.
package logging

import (
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sync"

	"driftbench/internal/config"
)

// Category identifies a log stream.
type Category string

const (
	CategoryBoot     Category = "boot"     // startup and configuration
	CategoryRunner   Category = "runner"   // trajectory scheduling and turns
	CategoryAPI      Category = "api"      // model API calls and retries
	CategoryEnforce  Category = "enforce"  // gate decisions and rewrites
	CategoryLabeling Category = "labeling" // lexicon and judge labels
	CategoryMetrics  Category = "metrics"  // per-scenario metric values
	CategoryStats    Category = "stats"    // bootstrap and permutation tests
	CategoryStorage  Category = "storage"  // run folder and store writes
)

// Log levels.
const (
	LevelDebug = 0
	LevelInfo  = 1
	LevelWarn  = 2
	LevelError = 3
)

// Logger writes leveled lines for one category.
type Logger struct {
	category Category
	logger   *log.Logger
	file     *os.File
}

var (
	mu       sync.RWMutex
	loggers  = make(map[Category]*Logger)
	logsDir  string
	enabled  bool
	minLevel = LevelInfo
	catMask  map[string]bool
)

// Initialize sets up the log directory from the run configuration.
// Call once at startup; a disabled config makes all logging a no-op.
func Initialize(baseDir string, cfg config.LoggingConfig) error {
	mu.Lock()

	enabled = cfg.DebugMode
	catMask = cfg.Categories
	switch cfg.Level {
	case "debug":
		minLevel = LevelDebug
	case "warn", "warning":
		minLevel = LevelWarn
	case "error":
		minLevel = LevelError
	default:
		minLevel = LevelInfo
	}

	if !enabled {
		mu.Unlock()
		return nil
	}

	logsDir = filepath.Join(baseDir, "logs")
	if err := os.MkdirAll(logsDir, 0755); err != nil {
		mu.Unlock()
		return fmt.Errorf("failed to create logs directory: %w", err)
	}

	// Create the boot logger under the lock, log after releasing it: the
	// write path re-acquires mu.
	boot := getLocked(CategoryBoot)
	mu.Unlock()

	boot.Info("driftbench logging initialized")
	boot.Info("logs directory: %s", logsDir)
	boot.Info("level: %d", minLevel)
	return nil
}

// Get returns the logger for a category, creating it on first use.
func Get(category Category) *Logger {
	mu.RLock()
	l, ok := loggers[category]
	mu.RUnlock()
	if ok {
		return l
	}

	mu.Lock()
	defer mu.Unlock()
	return getLocked(category)
}

// getLocked creates or returns a category logger. Caller holds mu.
func getLocked(category Category) *Logger {
	if l, ok := loggers[category]; ok {
		return l
	}

	l := &Logger{category: category}
	if enabled && logsDir != "" {
		path := filepath.Join(logsDir, string(category)+".log")
		f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0644)
		if err == nil {
			l.file = f
			l.logger = log.New(f, "", log.LstdFlags|log.Lmicroseconds)
		}
	}
	loggers[category] = l
	return l
}

// Close flushes and closes all category files.
func Close() {
	mu.Lock()
	defer mu.Unlock()
	for _, l := range loggers {
		if l.file != nil {
			_ = l.file.Close()
		}
	}
	loggers = make(map[Category]*Logger)
}

func (l *Logger) active(level int) bool {
	mu.RLock()
	defer mu.RUnlock()
	if !enabled || l.logger == nil || level < minLevel {
		return false
	}
	if catMask != nil {
		if on, ok := catMask[string(l.category)]; ok && !on {
			return false
		}
	}
	return true
}

func (l *Logger) write(level int, tag, format string, args ...interface{}) {
	if !l.active(level) {
		return
	}
	l.logger.Printf("[%s] %s", tag, fmt.Sprintf(format, args...))
}

func (l *Logger) Debug(format string, args ...interface{}) { l.write(LevelDebug, "DEBUG", format, args...) }
func (l *Logger) Info(format string, args ...interface{})  { l.write(LevelInfo, "INFO", format, args...) }
func (l *Logger) Warn(format string, args ...interface{})  { l.write(LevelWarn, "WARN", format, args...) }
func (l *Logger) Error(format string, args ...interface{}) { l.write(LevelError, "ERROR", format, args...) }

// Convenience wrappers for the hot categories.

func Runner(format string, args ...interface{})   { Get(CategoryRunner).Info(format, args...) }
func API(format string, args ...interface{})      { Get(CategoryAPI).Info(format, args...) }
func Enforce(format string, args ...interface{})  { Get(CategoryEnforce).Info(format, args...) }
func Labeling(format string, args ...interface{}) { Get(CategoryLabeling).Info(format, args...) }
func Metrics(format string, args ...interface{})  { Get(CategoryMetrics).Info(format, args...) }
func Storage(format string, args ...interface{})  { Get(CategoryStorage).Info(format, args...) }
