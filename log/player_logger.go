package log

// PlayerLogger stamps every event with the player id. Whitelisted players
// log at every level regardless of the configured threshold.
type PlayerLogger struct {
	*GameLogger
	playerID    int32
	inWhiteList bool
}

// NewPlayerLogger shares base's appenders. A nil base uses the default logger.
func NewPlayerLogger(base *GameLogger, playerID int32) *PlayerLogger {
	if base == nil {
		base = Default()
	}
	return &PlayerLogger{
		GameLogger:  base,
		playerID:    playerID,
		inWhiteList: base.GetCurrentConfig().IsInWhiteList(playerID),
	}
}

func (x *PlayerLogger) PlayerID() int32 { return x.playerID }

func (x *PlayerLogger) IgnoreCheckLevel() bool { return x.inWhiteList }

func (x *PlayerLogger) log(level Level) *LogEvent {
	return x.GameLogger.logWith(level, x.inWhiteList).Int32("playerId", x.playerID)
}

func (x *PlayerLogger) Trace() *LogEvent { return x.log(TraceLevel) }

func (x *PlayerLogger) Debug() *LogEvent { return x.log(DebugLevel) }

func (x *PlayerLogger) Info() *LogEvent { return x.log(InfoLevel) }

func (x *PlayerLogger) Warn() *LogEvent { return x.log(WarnLevel) }

func (x *PlayerLogger) Error() *LogEvent { return x.log(ErrorLevel) }

func (x *PlayerLogger) Fatal() *LogEvent { return x.log(FatalLevel) }
