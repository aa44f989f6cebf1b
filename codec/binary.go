package codec

import (
	"errors"
	"fmt"
	"math"

	"google.golang.org/protobuf/encoding/protowire"
)

// ErrShortBuffer is returned when a Reader runs out of bytes mid-value.
var ErrShortBuffer = errors.New("codec: short buffer")

// BinaryCodec is the default Codec. Numbers are fixed-width little-endian,
// bools are a single varint byte, strings and byte blobs carry a varint
// length prefix. Nested values are written inline in declaration order.
type BinaryCodec struct{}

// Encode ...
func (c *BinaryCodec) Encode(m Encodable, b []byte) ([]byte, error) {
	if m == nil {
		return b, errors.New("codec: nil message")
	}
	w := Writer{buf: b}
	m.Encode(&w)
	return w.buf, nil
}

// Decode ...
func (c *BinaryCodec) Decode(m Decodable, b []byte) error {
	if m == nil {
		return errors.New("codec: nil message")
	}
	r := NewReader(b)
	m.Decode(r)
	return r.Err()
}

// Writer appends primitive encodings to a byte slice.
type Writer struct {
	buf []byte
}

// NewWriter returns a Writer appending to b.
func NewWriter(b []byte) *Writer { return &Writer{buf: b} }

// Bytes returns the encoded bytes so far.
func (w *Writer) Bytes() []byte { return w.buf }

// Len ...
func (w *Writer) Len() int { return len(w.buf) }

func (w *Writer) WriteBool(v bool) {
	w.buf = protowire.AppendVarint(w.buf, protowire.EncodeBool(v))
}

// WriteInt16 widens to 32 bits on the wire.
func (w *Writer) WriteInt16(v int16) {
	w.buf = protowire.AppendFixed32(w.buf, uint32(int32(v)))
}

func (w *Writer) WriteInt32(v int32) {
	w.buf = protowire.AppendFixed32(w.buf, uint32(v))
}

func (w *Writer) WriteUint32(v uint32) {
	w.buf = protowire.AppendFixed32(w.buf, v)
}

func (w *Writer) WriteInt64(v int64) {
	w.buf = protowire.AppendFixed64(w.buf, uint64(v))
}

func (w *Writer) WriteUint64(v uint64) {
	w.buf = protowire.AppendFixed64(w.buf, v)
}

func (w *Writer) WriteFloat32(v float32) {
	w.buf = protowire.AppendFixed32(w.buf, math.Float32bits(v))
}

func (w *Writer) WriteFloat64(v float64) {
	w.buf = protowire.AppendFixed64(w.buf, math.Float64bits(v))
}

func (w *Writer) WriteString(v string) {
	w.buf = protowire.AppendString(w.buf, v)
}

func (w *Writer) WriteBytes(v []byte) {
	w.buf = protowire.AppendBytes(w.buf, v)
}

// WriteValue writes a nested value inline.
func (w *Writer) WriteValue(v Encodable) {
	v.Encode(w)
}

// Reader consumes primitive encodings. The first failure sticks: every
// later read returns the zero value and Err reports the original cause.
type Reader struct {
	buf []byte
	off int
	err error
}

// NewReader ...
func NewReader(b []byte) *Reader { return &Reader{buf: b} }

// Err returns the first decode failure, if any.
func (r *Reader) Err() error { return r.err }

// Remaining is the number of unread bytes.
func (r *Reader) Remaining() int { return len(r.buf) - r.off }

func (r *Reader) fail(what string, n int) {
	if r.err != nil {
		return
	}
	if err := protowire.ParseError(n); err != nil {
		r.err = fmt.Errorf("%w: %s at offset %d: %v", ErrShortBuffer, what, r.off, err)
		return
	}
	r.err = fmt.Errorf("%w: %s at offset %d", ErrShortBuffer, what, r.off)
}

func (r *Reader) fixed32(what string) uint32 {
	if r.err != nil {
		return 0
	}
	v, n := protowire.ConsumeFixed32(r.buf[r.off:])
	if n < 0 {
		r.fail(what, n)
		return 0
	}
	r.off += n
	return v
}

func (r *Reader) fixed64(what string) uint64 {
	if r.err != nil {
		return 0
	}
	v, n := protowire.ConsumeFixed64(r.buf[r.off:])
	if n < 0 {
		r.fail(what, n)
		return 0
	}
	r.off += n
	return v
}

func (r *Reader) ReadBool() bool {
	if r.err != nil {
		return false
	}
	v, n := protowire.ConsumeVarint(r.buf[r.off:])
	if n < 0 {
		r.fail("bool", n)
		return false
	}
	r.off += n
	return protowire.DecodeBool(v)
}

func (r *Reader) ReadInt16() int16 { return int16(int32(r.fixed32("int16"))) }

func (r *Reader) ReadInt32() int32 { return int32(r.fixed32("int32")) }

func (r *Reader) ReadUint32() uint32 { return r.fixed32("uint32") }

func (r *Reader) ReadInt64() int64 { return int64(r.fixed64("int64")) }

func (r *Reader) ReadUint64() uint64 { return r.fixed64("uint64") }

func (r *Reader) ReadFloat32() float32 { return math.Float32frombits(r.fixed32("float32")) }

func (r *Reader) ReadFloat64() float64 { return math.Float64frombits(r.fixed64("float64")) }

func (r *Reader) ReadString() string {
	if r.err != nil {
		return ""
	}
	v, n := protowire.ConsumeString(r.buf[r.off:])
	if n < 0 {
		r.fail("string", n)
		return ""
	}
	r.off += n
	return v
}

// ReadBytes returns a copy so callers may keep it after the frame buffer is reused.
func (r *Reader) ReadBytes() []byte {
	if r.err != nil {
		return nil
	}
	v, n := protowire.ConsumeBytes(r.buf[r.off:])
	if n < 0 {
		r.fail("bytes", n)
		return nil
	}
	r.off += n
	out := make([]byte, len(v))
	copy(out, v)
	return out
}

// ReadValue decodes a nested value inline.
func (r *Reader) ReadValue(v Decodable) {
	if r.err != nil {
		return
	}
	v.Decode(r)
}
