package log

import (
	"fmt"
	"strings"
)

// Level is the severity of a log event.
type Level uint32

const (
	TraceLevel Level = iota
	DebugLevel
	InfoLevel
	WarnLevel
	ErrorLevel
	FatalLevel
)

var _levelNames = [...]string{"trace", "debug", "info", "warn", "error", "fatal"}

func (l Level) String() string {
	if int(l) < len(_levelNames) {
		return _levelNames[l]
	}
	return fmt.Sprintf("level(%d)", uint32(l))
}

// ParseLevel accepts the lower-case level names, case-insensitively.
func ParseLevel(s string) (Level, error) {
	for i, name := range _levelNames {
		if strings.EqualFold(s, name) {
			return Level(i), nil
		}
	}
	return InfoLevel, fmt.Errorf("unknown log level %q", s)
}
