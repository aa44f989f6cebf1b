package log

import (
	"bytes"
	"strconv"
	"time"
)

// ObjectMarshaler lets a value write itself as a nested object field.
type ObjectMarshaler interface {
	MarshalLogObj(e *LogEvent)
}

// LogEvent is one log line under construction. A nil *LogEvent is a valid
// no-op so filtered levels cost nothing beyond the level check.
type LogEvent struct {
	buf       bytes.Buffer
	level     Level
	logger    Logger
	needComma bool
}

func newEvent(logger Logger) *LogEvent {
	return &LogEvent{logger: logger}
}

// Reset clears the event for reuse.
func (e *LogEvent) Reset() {
	e.buf.Reset()
	e.buf.WriteByte('{')
	e.needComma = false
}

// Level returns the severity of the event.
func (e *LogEvent) Level() Level { return e.level }

func (e *LogEvent) key(k string) {
	if e.needComma {
		e.buf.WriteByte(',')
	}
	e.needComma = true
	e.buf.Write(strconv.AppendQuote(e.buf.AvailableBuffer(), k))
	e.buf.WriteByte(':')
}

func (e *LogEvent) Str(k, v string) *LogEvent {
	if e == nil {
		return nil
	}
	e.key(k)
	e.buf.Write(strconv.AppendQuote(e.buf.AvailableBuffer(), v))
	return e
}

func (e *LogEvent) Int(k string, v int) *LogEvent {
	return e.Int64(k, int64(v))
}

func (e *LogEvent) Int32(k string, v int32) *LogEvent {
	return e.Int64(k, int64(v))
}

func (e *LogEvent) Int64(k string, v int64) *LogEvent {
	if e == nil {
		return nil
	}
	e.key(k)
	e.buf.Write(strconv.AppendInt(e.buf.AvailableBuffer(), v, 10))
	return e
}

func (e *LogEvent) Uint32(k string, v uint32) *LogEvent {
	return e.Uint64(k, uint64(v))
}

func (e *LogEvent) Uint64(k string, v uint64) *LogEvent {
	if e == nil {
		return nil
	}
	e.key(k)
	e.buf.Write(strconv.AppendUint(e.buf.AvailableBuffer(), v, 10))
	return e
}

func (e *LogEvent) Float64(k string, v float64) *LogEvent {
	if e == nil {
		return nil
	}
	e.key(k)
	e.buf.Write(strconv.AppendFloat(e.buf.AvailableBuffer(), v, 'g', -1, 64))
	return e
}

func (e *LogEvent) Bool(k string, v bool) *LogEvent {
	if e == nil {
		return nil
	}
	e.key(k)
	e.buf.Write(strconv.AppendBool(e.buf.AvailableBuffer(), v))
	return e
}

// Err writes err under "err". A nil error writes nothing.
func (e *LogEvent) Err(err error) *LogEvent {
	if e == nil || err == nil {
		return e
	}
	return e.Str("err", err.Error())
}

func (e *LogEvent) Time(k string, t time.Time) *LogEvent {
	if e == nil {
		return nil
	}
	e.key(k)
	e.buf.WriteByte('"')
	e.buf.Write(t.AppendFormat(e.buf.AvailableBuffer(), "2006-01-02 15:04:05.000"))
	e.buf.WriteByte('"')
	return e
}

func (e *LogEvent) Dur(k string, d time.Duration) *LogEvent {
	if e == nil {
		return nil
	}
	return e.Str(k, d.String())
}

// Stringer writes v.String(), or null for a nil value.
func (e *LogEvent) Stringer(k string, v interface{ String() string }) *LogEvent {
	if e == nil {
		return nil
	}
	if v == nil {
		e.key(k)
		e.buf.WriteString("null")
		return e
	}
	return e.Str(k, v.String())
}

// Obj writes a nested object.
func (e *LogEvent) Obj(k string, o ObjectMarshaler) *LogEvent {
	if e == nil {
		return nil
	}
	e.key(k)
	if o == nil {
		e.buf.WriteString("null")
		return e
	}
	e.buf.WriteByte('{')
	e.needComma = false
	o.MarshalLogObj(e)
	e.buf.WriteByte('}')
	e.needComma = true
	return e
}

// Msg finishes the line and hands it to the logger's appenders.
func (e *LogEvent) Msg(msg string) {
	if e == nil {
		return
	}
	if msg != "" {
		e.Str("msg", msg)
	}
	e.End()
}

// End finishes the line without a message.
func (e *LogEvent) End() {
	if e == nil {
		return
	}
	e.buf.WriteString("}\n")
	e.logger.OnEventEnd(e)
}
