package log

import (
	"sync/atomic"

	"github.com/lcx/gamenet/config"
)

type Logger interface {
	Trace() *LogEvent
	Debug() *LogEvent
	Info() *LogEvent
	Warn() *LogEvent
	Error() *LogEvent
	Fatal() *LogEvent
	IgnoreCheckLevel() bool
	GetAppender() []LogAppender
	AddAppender(appender LogAppender)
	OnEventEnd(e *LogEvent)
}

var _defaultLogger atomic.Pointer[GameLogger]

func init() {
	_defaultLogger.Store(NewLogger(nil))
}

// Default returns the package-level logger.
func Default() *GameLogger {
	return _defaultLogger.Load()
}

// AddAppender adds a new log appender to the default logger.
func AddAppender(appender LogAppender) {
	Default().AddAppender(appender)
}

// Refresh triggers a refresh operation on all appenders of the default logger.
func Refresh() {
	Default().Refresh()
}

// SetDefaultLogger replaces the default logger with a custom instance.
func SetDefaultLogger(logger *GameLogger) {
	if logger != nil {
		_defaultLogger.Store(logger)
	}
}

// InitializeWithConfigManager loads the "logger" config and installs a
// hot-reloading default logger built from it.
func InitializeWithConfigManager(configManager config.ConfigManager) error {
	if configManager == nil {
		return nil
	}

	logCfg := *getDefaultCfg()
	if err := configManager.LoadConfig(_loggerConfigName, &logCfg); err != nil {
		return err
	}

	SetDefaultLogger(NewLoggerWithConfigManager(&logCfg, configManager))
	return nil
}

// Initialize uses the process-wide ConfigManager.
func Initialize() error {
	return InitializeWithConfigManager(config.GetInstance())
}

// Trace creates a trace-level event on the default logger.
func Trace() *LogEvent {
	return Default().Trace()
}

// Debug creates a debug-level event on the default logger.
func Debug() *LogEvent {
	return Default().Debug()
}

// Info creates an info-level event on the default logger.
func Info() *LogEvent {
	return Default().Info()
}

// Warn creates a warn-level event on the default logger.
func Warn() *LogEvent {
	return Default().Warn()
}

// Error creates an error-level event on the default logger.
func Error() *LogEvent {
	return Default().Error()
}

// Fatal creates a fatal-level event on the default logger. It panics once the event ends.
func Fatal() *LogEvent {
	return Default().Fatal()
}
