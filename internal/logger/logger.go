package logger

import (
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"
)

// Level is the logging level.
type Level int

const (
	Debug Level = iota
	Info
	Warn
	Error
)

// Options controls logger initialization.
type Options struct {
	Enabled bool
	Level   string
	File    string
	Console bool
}

// Logger is a leveled printf logger.
type Logger struct {
	mu      sync.Mutex
	level   Level
	logger  *log.Logger
	enabled bool
	closer  io.Closer
}

var (
	globalMu     sync.RWMutex
	globalLogger *Logger
)

// Init initializes the global logger. It may be called again to reconfigure.
func Init(opts Options) error {
	if !opts.Enabled {
		setGlobal(&Logger{enabled: false})
		return nil
	}

	var writers []io.Writer
	var closer io.Closer
	if opts.File != "" {
		dir := filepath.Dir(opts.File)
		if dir != "." && dir != "" {
			if err := os.MkdirAll(dir, 0755); err != nil {
				return fmt.Errorf("failed to create log directory: %w", err)
			}
		}
		f, err := os.OpenFile(opts.File, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
		if err != nil {
			return fmt.Errorf("failed to open log file: %w", err)
		}
		writers = append(writers, f)
		closer = f
	}
	if opts.Console || len(writers) == 0 {
		writers = append(writers, os.Stdout)
	}

	setGlobal(&Logger{
		level:   ParseLevel(opts.Level),
		logger:  log.New(io.MultiWriter(writers...), "", 0),
		enabled: true,
		closer:  closer,
	})
	return nil
}

// InitWriter points the global logger at w. Used by tests and tools.
func InitWriter(w io.Writer, level string) {
	setGlobal(&Logger{
		level:   ParseLevel(level),
		logger:  log.New(w, "", 0),
		enabled: true,
	})
}

// Close releases the log file, if any.
func Close() error {
	globalMu.RLock()
	l := globalLogger
	globalMu.RUnlock()
	if l == nil || l.closer == nil {
		return nil
	}
	return l.closer.Close()
}

func setGlobal(l *Logger) {
	globalMu.Lock()
	prev := globalLogger
	globalLogger = l
	globalMu.Unlock()
	if prev != nil && prev.closer != nil {
		_ = prev.closer.Close()
	}
}

// ParseLevel maps a level name to a Level, defaulting to Info.
func ParseLevel(levelStr string) Level {
	switch strings.ToLower(levelStr) {
	case "debug":
		return Debug
	case "info":
		return Info
	case "warn", "warning":
		return Warn
	case "error":
		return Error
	default:
		return Info
	}
}

func (l Level) String() string {
	switch l {
	case Debug:
		return "DEBUG"
	case Warn:
		return "WARN"
	case Error:
		return "ERROR"
	default:
		return "INFO"
	}
}

func formatMessage(level Level, component, format string, args ...interface{}) string {
	ts := time.Now().Format("2006-01-02 15:04:05")
	msg := fmt.Sprintf(format, args...)
	if component == "" {
		return fmt.Sprintf("[%s] [%s] %s", ts, level, msg)
	}
	return fmt.Sprintf("[%s] [%s] [%s] %s", ts, level, component, msg)
}

func output(level Level, component, format string, args ...interface{}) {
	globalMu.RLock()
	l := globalLogger
	globalMu.RUnlock()
	if l == nil || !l.enabled || l.level > level {
		return
	}
	line := formatMessage(level, component, format, args...)
	l.mu.Lock()
	l.logger.Println(line)
	l.mu.Unlock()
}

// Debugf logs a debug message.
func Debugf(format string, args ...interface{}) { output(Debug, "", format, args...) }

// Infof logs an info message.
func Infof(format string, args ...interface{}) { output(Info, "", format, args...) }

// Warnf logs a warning.
func Warnf(format string, args ...interface{}) { output(Warn, "", format, args...) }

// Errorf logs an error message.
func Errorf(format string, args ...interface{}) { output(Error, "", format, args...) }

// Component tags every line with a component name.
type Component struct {
	name string
}

// Named returns a logger for one component.
func Named(name string) *Component {
	return &Component{name: name}
}

func (c *Component) Debugf(format string, args ...interface{}) { output(Debug, c.name, format, args...) }
func (c *Component) Infof(format string, args ...interface{})  { output(Info, c.name, format, args...) }
func (c *Component) Warnf(format string, args ...interface{})  { output(Warn, c.name, format, args...) }
func (c *Component) Errorf(format string, args ...interface{}) { output(Error, c.name, format, args...) }
