package utils

import (
	"io"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

type LogLevel int

const (
	DEBUG LogLevel = iota
	INFO
	WARN
	ERROR
)

type Logger struct {
	level  LogLevel
	logger zerolog.Logger
}

var defaultLogger *Logger

func init() {
	defaultLogger = NewLogger("info")
}

func ParseLevel(levelStr string) LogLevel {
	switch strings.ToLower(levelStr) {
	case "debug":
		return DEBUG
	case "info":
		return INFO
	case "warn", "warning":
		return WARN
	case "error":
		return ERROR
	default:
		return INFO
	}
}

func NewLogger(levelStr string) *Logger {
	return NewLoggerWithWriter(levelStr, zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.DateTime})
}

// NewLoggerWithWriter создает логгер с произвольным выводом (используется в тестах)
func NewLoggerWithWriter(levelStr string, w io.Writer) *Logger {
	level := ParseLevel(levelStr)
	return &Logger{
		level:  level,
		logger: zerolog.New(w).Level(zerologLevel(level)).With().Timestamp().Logger(),
	}
}

// Nop логгер, который ничего не пишет
func Nop() *Logger {
	return &Logger{level: ERROR, logger: zerolog.Nop()}
}

// SetDefault заменяет глобальный логгер
func SetDefault(l *Logger) {
	if l != nil {
		defaultLogger = l
	}
}

// With возвращает дочерний логгер с полем component
func (l *Logger) With(component string) *Logger {
	return &Logger{
		level:  l.level,
		logger: l.logger.With().Str("component", component).Logger(),
	}
}

func (l *Logger) Debug(format string, v ...interface{}) {
	if l.level <= DEBUG {
		l.logger.Debug().Msgf(format, v...)
	}
}

func (l *Logger) Info(format string, v ...interface{}) {
	if l.level <= INFO {
		l.logger.Info().Msgf(format, v...)
	}
}

func (l *Logger) Warn(format string, v ...interface{}) {
	if l.level <= WARN {
		l.logger.Warn().Msgf(format, v...)
	}
}

func (l *Logger) Error(format string, v ...interface{}) {
	if l.level <= ERROR {
		l.logger.Error().Msgf(format, v...)
	}
}

// Zerolog возвращает нижележащий zerolog.Logger для компонентов, которым нужны поля
func (l *Logger) Zerolog() zerolog.Logger {
	return l.logger
}

func zerologLevel(level LogLevel) zerolog.Level {
	switch level {
	case DEBUG:
		return zerolog.DebugLevel
	case WARN:
		return zerolog.WarnLevel
	case ERROR:
		return zerolog.ErrorLevel
	default:
		return zerolog.InfoLevel
	}
}

// MaskSecret оставляет первые 4 символа секрета
func MaskSecret(s string) string {
	if len(s) <= 4 {
		return "****"
	}
	return s[:4] + "****"
}

// Global logging functions
func LogDebug(msg string) {
	defaultLogger.Debug("%s", msg)
}

func LogInfo(msg string) {
	defaultLogger.Info("%s", msg)
}

func LogWarn(msg string) {
	defaultLogger.Warn("%s", msg)
}

func LogError(msg string) {
	defaultLogger.Error("%s", msg)
}
