package logger

import (
	"context"
	"io"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

func init() {
	zerolog.TimeFieldFormat = time.RFC3339Nano
	zerolog.SetGlobalLevel(zerolog.DebugLevel)
	zerolog.DefaultContextLogger = &zerolog.Logger{}
}

var (
	// globalLogger is the process-wide logger instance
	globalLogger *Logger

	// once guards the first initialization of globalLogger
	once sync.Once

	// mu protects globalLogger against concurrent ForceSetup calls
	mu sync.RWMutex

	defaultConfig = Config{
		Level:      "info",
		Format:     FormatConsole,
		TimeFormat: time.RFC3339,
	}
)

// Logger wraps zerolog.Logger with map-of-fields helpers
type Logger struct {
	zerolog.Logger
	level int
}

// GetLevel returns the level the logger was configured with
func (l *Logger) GetLevel() zerolog.Level {
	if l == nil {
		return zerolog.NoLevel
	}
	level := zerolog.Level(l.level)
	if level == zerolog.NoLevel {
		return zerolog.InfoLevel
	}
	return level
}

// LogFormat defines the available log formats
type LogFormat string

const (
	// FormatJSON is the JSON format
	FormatJSON LogFormat = "json"
	// FormatConsole is the console format
	FormatConsole LogFormat = "console"
)

// String returns the string representation of the log format
func (f LogFormat) String() string {
	return string(f)
}

// ParseLogFormat parses a string into a LogFormat, defaulting to JSON
func ParseLogFormat(format string) LogFormat {
	switch strings.ToLower(strings.TrimSpace(format)) {
	case "console", "pretty":
		return FormatConsole
	default:
		return FormatJSON
	}
}

// Config holds the configuration for the logger
type Config struct {
	// Level is the log level (debug, info, warn, error, fatal, panic)
	Level string
	// Format is the log format (json, console)
	Format LogFormat
	// Output is the output writer (default: os.Stdout)
	Output io.Writer
	// TimeFormat is the time format (default: time.RFC3339)
	TimeFormat string
}

// Get returns the global logger, initializing it with defaults on first use
func Get() *Logger {
	once.Do(func() {
		mu.Lock()
		defer mu.Unlock()
		if globalLogger == nil {
			globalLogger = build(defaultConfig)
		}
	})
	mu.RLock()
	defer mu.RUnlock()
	return globalLogger
}

// ResetForTesting clears the global logger so tests can call Setup again
func ResetForTesting() {
	mu.Lock()
	defer mu.Unlock()
	globalLogger = nil
	once = sync.Once{}
}

// Setup initializes the global logger. Only the first call has an effect.
func Setup(cfg Config) {
	once.Do(func() {
		mu.Lock()
		defer mu.Unlock()
		globalLogger = build(cfg)
		globalLogger.Debug("Logger initialized", map[string]interface{}{
			"format": string(cfg.Format),
			"level":  cfg.Level,
		})
	})
}

// ForceSetup replaces the global logger regardless of earlier Setup calls
func ForceSetup(cfg Config) {
	once.Do(func() {})
	l := build(cfg)
	mu.Lock()
	globalLogger = l
	mu.Unlock()
	l.Debug("Logger re-initialized with new configuration", map[string]interface{}{
		"format": string(cfg.Format),
		"level":  cfg.Level,
	})
}

// New builds a standalone logger without touching the global one
func New(cfg Config) *Logger {
	return build(cfg)
}

func build(cfg Config) *Logger {
	level := zerolog.InfoLevel
	if cfg.Level != "" {
		parsed, err := zerolog.ParseLevel(strings.ToLower(cfg.Level))
		if err == nil && parsed != zerolog.NoLevel {
			level = parsed
		}
	}

	if cfg.Format == "" {
		cfg.Format = FormatJSON
	}
	if cfg.TimeFormat == "" {
		cfg.TimeFormat = time.RFC3339
	}

	output := cfg.Output
	if output == nil {
		output = os.Stdout
	}

	var zl zerolog.Logger
	switch cfg.Format {
	case FormatConsole:
		zl = zerolog.New(zerolog.ConsoleWriter{
			Out:        output,
			TimeFormat: cfg.TimeFormat,
		})
	default:
		zl = zerolog.New(output)
	}

	zl = zl.Level(level).With().Timestamp().Logger()
	zerolog.SetGlobalLevel(level)

	return &Logger{
		Logger: zl,
		level:  int(level),
	}
}

// Nop returns a logger that discards everything; handy as a default in constructors
func Nop() *Logger {
	return &Logger{Logger: zerolog.Nop(), level: int(zerolog.Disabled)}
}

// WithContext returns a child of the global logger carrying the given fields
func WithContext(fields map[string]interface{}) *Logger {
	return Get().WithFields(fields)
}

// ContextKey is a type for context keys
type ContextKey string

// ContextKeyRequestID is the key used to store the request ID in the context
const ContextKeyRequestID ContextKey = "request_id"

type loggerKey struct{}

// NewContext stores the logger in ctx. A nil logger leaves ctx unchanged.
func NewContext(ctx context.Context, l *Logger) context.Context {
	if l == nil {
		return ctx
	}
	return context.WithValue(ctx, loggerKey{}, l)
}

// FromContext returns the logger stored in ctx, or nil
func FromContext(ctx context.Context) *Logger {
	if ctx == nil {
		return nil
	}
	if l, ok := ctx.Value(loggerKey{}).(*Logger); ok {
		return l
	}
	return nil
}

// FromContextOr returns the logger stored in ctx, falling back to l
func FromContextOr(ctx context.Context, l *Logger) *Logger {
	if fromCtx := FromContext(ctx); fromCtx != nil {
		return fromCtx
	}
	if l != nil {
		return l
	}
	return Get()
}

// WithFields adds the given fields to the logger and returns a new logger instance
func (l *Logger) WithFields(fields map[string]interface{}) *Logger {
	if l == nil {
		return Get()
	}
	if len(fields) == 0 {
		return l
	}
	ctx := l.Logger.With()
	for k, v := range fields {
		ctx = ctx.Interface(k, v)
	}
	return &Logger{
		Logger: ctx.Logger(),
		level:  l.level,
	}
}

// With creates a child logger with the given fields
func (l *Logger) With(fields map[string]interface{}) *Logger {
	return l.WithFields(fields)
}

// Component is shorthand for With(map{"component": name})
func (l *Logger) Component(name string) *Logger {
	return l.WithFields(map[string]interface{}{"component": name})
}

func (l *Logger) event(e *zerolog.Event, msg string, fields []map[string]interface{}) {
	if len(fields) > 0 && len(fields[0]) > 0 {
		e = e.Fields(fields[0])
	}
	e.Msg(msg)
}

// Info logs a message at Info level with optional fields
func (l *Logger) Info(msg string, fields ...map[string]interface{}) {
	if l == nil {
		return
	}
	l.event(l.Logger.Info(), msg, fields)
}

// Infof logs a formatted message at Info level
func (l *Logger) Infof(format string, args ...interface{}) {
	if l == nil {
		return
	}
	l.Logger.Info().Msgf(format, args...)
}

// Warn logs a message at Warn level with optional fields
func (l *Logger) Warn(msg string, fields ...map[string]interface{}) {
	if l == nil {
		return
	}
	l.event(l.Logger.Warn(), msg, fields)
}

// Warnf logs a formatted message at Warn level
func (l *Logger) Warnf(format string, args ...interface{}) {
	if l == nil {
		return
	}
	l.Logger.Warn().Msgf(format, args...)
}

// Debug logs a message at Debug level with optional fields
func (l *Logger) Debug(msg string, fields ...map[string]interface{}) {
	if l == nil {
		return
	}
	l.event(l.Logger.Debug(), msg, fields)
}

// Debugf logs a formatted message at Debug level
func (l *Logger) Debugf(format string, args ...interface{}) {
	if l == nil {
		return
	}
	l.Logger.Debug().Msgf(format, args...)
}

// Error logs a message at Error level with optional fields
func (l *Logger) Error(msg string, fields ...map[string]interface{}) {
	if l == nil {
		return
	}
	l.event(l.Logger.Error(), msg, fields)
}

// Errorf logs a formatted message at Error level
func (l *Logger) Errorf(format string, args ...interface{}) {
	if l == nil {
		return
	}
	l.Logger.Error().Msgf(format, args...)
}
