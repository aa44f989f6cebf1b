package log

import (
	"runtime"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/lcx/gamenet/config"
)

// GameLogger provides a thread-safe logging interface with configurable appenders.
// Events come from a sync.Pool so the hot path allocates nothing once warm.
//
// Example usage:
//
//	logger := NewLogger(&LogCfg{LogLevel: InfoLevel, ConsoleAppender: true})
//	logger.Info().Str("addr", ":7777").Int("players", 2).Msg("server started")
type GameLogger struct {
	mu                sync.RWMutex
	appenders         []LogAppender
	minLevel          atomic.Uint32
	callerSkip        atomic.Int32
	enabledCallerInfo atomic.Bool
	eventPool         *sync.Pool
	callerCache       sync.Map
	currentConfig     atomic.Pointer[LogCfg]
}

// NewLogger creates a logger from cfg. A nil cfg uses the defaults.
func NewLogger(cfg *LogCfg) *GameLogger {
	if cfg == nil {
		cfg = getDefaultCfg()
	}

	logger := &GameLogger{}
	logger.updateConfig(cfg)
	logger.eventPool = &sync.Pool{
		New: func() any {
			return newEvent(logger)
		},
	}

	if cfg.FileAppender {
		logger.AddAppender(NewFileAppender(cfg))
	}
	if cfg.ConsoleAppender {
		logger.AddAppender(NewConsoleAppender())
	}

	return logger
}

// NewLoggerWithConfigManager creates a logger that follows hot reloads of
// the "logger" config, including its file appender.
func NewLoggerWithConfigManager(cfg *LogCfg, configManager config.ConfigManager) *GameLogger {
	if cfg == nil {
		cfg = getDefaultCfg()
	}
	noFile := *cfg
	noFile.FileAppender = false
	logger := NewLogger(&noFile)
	logger.currentConfig.Store(cfg)

	if configManager != nil {
		configManager.AddChangeListener(logger)
		if cfg.FileAppender {
			logger.AddAppender(NewFileAppenderWithConfigManager(cfg, configManager))
		}
	}

	return logger
}

func (x *GameLogger) GetConfigName() string { return _loggerConfigName }

// OnConfigChanged applies a reloaded "logger" config.
func (x *GameLogger) OnConfigChanged(configName string, newConfig, _ config.Config) error {
	if configName != _loggerConfigName {
		return nil
	}
	newLogCfg, ok := newConfig.(*LogCfg)
	if !ok {
		return nil
	}
	x.updateConfig(newLogCfg)
	return nil
}

func (x *GameLogger) updateConfig(cfg *LogCfg) {
	x.minLevel.Store(uint32(cfg.LogLevel))
	x.callerSkip.Store(int32(cfg.CallerSkip))
	x.enabledCallerInfo.Store(cfg.EnabledCallerInfo)
	x.currentConfig.Store(cfg)
}

// GetCurrentConfig returns the config last applied.
func (x *GameLogger) GetCurrentConfig() *LogCfg {
	return x.currentConfig.Load()
}

// SetLevel changes the threshold without a config reload.
func (x *GameLogger) SetLevel(level Level) {
	x.minLevel.Store(uint32(level))
}

func (x *GameLogger) checkLevel(level Level) bool {
	return Level(x.minLevel.Load()) <= level
}

func (x *GameLogger) AddAppender(appender LogAppender) {
	x.mu.Lock()
	defer x.mu.Unlock()
	x.appenders = append(x.appenders, appender)
}

func (x *GameLogger) GetAppender() []LogAppender {
	x.mu.RLock()
	defer x.mu.RUnlock()
	return append([]LogAppender(nil), x.appenders...)
}

// Refresh reopens appender outputs.
func (x *GameLogger) Refresh() {
	for _, appender := range x.GetAppender() {
		appender.Refresh()
	}
}

// Close closes every appender.
func (x *GameLogger) Close() error {
	var first error
	for _, appender := range x.GetAppender() {
		if err := appender.Close(); err != nil && first == nil {
			first = err
		}
	}
	return first
}

func (x *GameLogger) IgnoreCheckLevel() bool {
	return false
}

func (x *GameLogger) newEvent() *LogEvent {
	e := x.eventPool.Get().(*LogEvent)
	e.Reset()
	return e
}

// OnEventEnd writes the finished line and recycles the event. Fatal panics
// after writing.
func (x *GameLogger) OnEventEnd(e *LogEvent) {
	x.mu.RLock()
	for _, appender := range x.appenders {
		appender.Write(e.buf.Bytes())
	}
	x.mu.RUnlock()

	if e.level == FatalLevel {
		panic(e.buf.String())
	}

	x.eventPool.Put(e)
}

func (x *GameLogger) Trace() *LogEvent { return x.log(TraceLevel) }

func (x *GameLogger) Debug() *LogEvent { return x.log(DebugLevel) }

func (x *GameLogger) Info() *LogEvent { return x.log(InfoLevel) }

func (x *GameLogger) Warn() *LogEvent { return x.log(WarnLevel) }

func (x *GameLogger) Error() *LogEvent { return x.log(ErrorLevel) }

// Fatal panics once the event ends.
func (x *GameLogger) Fatal() *LogEvent { return x.log(FatalLevel) }

func (x *GameLogger) getCallerInfo() *callerInfo {
	pc, file, line, ok := runtime.Caller(4 + int(x.callerSkip.Load()))
	if !ok {
		return _UnknownCallerInfo
	}

	if cached, found := x.callerCache.Load(pc); found {
		return cached.(*callerInfo)
	}

	function := runtime.FuncForPC(pc).Name()
	if dotIdx := strings.LastIndexByte(function, '.'); dotIdx != -1 {
		function = function[dotIdx+1:]
	}

	// keep "pkg/file.go"
	if lastSlash := strings.LastIndexByte(file, '/'); lastSlash > 0 {
		if secondLastSlash := strings.LastIndexByte(file[:lastSlash], '/'); secondLastSlash >= 0 {
			file = file[secondLastSlash+1:]
		}
	}

	c := newCallerInfo(file, function, line)
	x.callerCache.Store(pc, c)
	return c
}

func (x *GameLogger) log(level Level) *LogEvent {
	return x.logWith(level, false)
}

func (x *GameLogger) logWith(level Level, ignoreLevel bool) *LogEvent {
	if !ignoreLevel && !x.checkLevel(level) {
		return nil
	}

	e := x.newEvent()
	e.level = level
	e.Time("time", time.Now())
	e.Str("level", level.String())

	if x.enabledCallerInfo.Load() {
		e.Str("caller", x.getCallerInfo().String())
	}

	return e
}
