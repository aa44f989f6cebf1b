package log

import "errors"

const _loggerConfigName = "logger"

// LogCfg is the "logger" config section.
type LogCfg struct {
	// LogPath is the file written by the file appender.
	LogPath string `mapstructure:"path"`

	// LogLevel is the minimum level written. Hot-reloadable.
	LogLevel Level `mapstructure:"level"`

	// FileSplitMB rolls the log file once it grows past this many megabytes.
	// Zero disables rolling.
	FileSplitMB int `mapstructure:"splitmb"`

	// CallerSkip is added to the stack depth used for caller info.
	CallerSkip int `mapstructure:"callerSkip"`

	FileAppender      bool `mapstructure:"fileAppender"`
	ConsoleAppender   bool `mapstructure:"consoleAppender"`
	EnabledCallerInfo bool `mapstructure:"enabledCallerInfo"`

	// PlayerWhiteList holds player ids whose PlayerLogger ignores LogLevel.
	// Example: [3, 17]
	PlayerWhiteList []int32 `mapstructure:"playerWhiteList"`
}

func (cfg *LogCfg) GetName() string { return _loggerConfigName }

func (cfg *LogCfg) Validate() error {
	if cfg.LogLevel > FatalLevel {
		return errors.New("log level out of range")
	}
	if cfg.FileAppender && cfg.LogPath == "" {
		return errors.New("file appender requires a path")
	}
	if cfg.FileSplitMB < 0 {
		return errors.New("splitmb must not be negative")
	}
	return nil
}

// IsInWhiteList reports whether playerID bypasses level filtering.
func (cfg *LogCfg) IsInWhiteList(playerID int32) bool {
	for _, id := range cfg.PlayerWhiteList {
		if id == playerID {
			return true
		}
	}
	return false
}

var _defaultCfg = &LogCfg{
	LogPath:         "./gamenet.log",
	LogLevel:        InfoLevel,
	FileSplitMB:     50,
	CallerSkip:      1,
	ConsoleAppender: true,
}

func getDefaultCfg() *LogCfg {
	return _defaultCfg
}
