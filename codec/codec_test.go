package codec

import (
	"errors"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type vec3 struct {
	X, Y, Z float32
}

func (v *vec3) Encode(w *Writer) {
	w.WriteFloat32(v.X)
	w.WriteFloat32(v.Y)
	w.WriteFloat32(v.Z)
}

func (v *vec3) Decode(r *Reader) {
	v.X = r.ReadFloat32()
	v.Y = r.ReadFloat32()
	v.Z = r.ReadFloat32()
}

type snapshot struct {
	Seq     int16
	ID      int32
	Tick    int64
	Mask    uint32
	Stamp   uint64
	Alive   bool
	Speed   float64
	Name    string
	Payload []byte
	Pos     vec3
}

func (s *snapshot) Encode(w *Writer) {
	w.WriteInt16(s.Seq)
	w.WriteInt32(s.ID)
	w.WriteInt64(s.Tick)
	w.WriteUint32(s.Mask)
	w.WriteUint64(s.Stamp)
	w.WriteBool(s.Alive)
	w.WriteFloat64(s.Speed)
	w.WriteString(s.Name)
	w.WriteBytes(s.Payload)
	w.WriteValue(&s.Pos)
}

func (s *snapshot) Decode(r *Reader) {
	s.Seq = r.ReadInt16()
	s.ID = r.ReadInt32()
	s.Tick = r.ReadInt64()
	s.Mask = r.ReadUint32()
	s.Stamp = r.ReadUint64()
	s.Alive = r.ReadBool()
	s.Speed = r.ReadFloat64()
	s.Name = r.ReadString()
	s.Payload = r.ReadBytes()
	r.ReadValue(&s.Pos)
}

func TestRoundTrip(t *testing.T) {
	tests := []struct {
		name string
		in   snapshot
	}{
		{"zero", snapshot{Payload: []byte{}}},
		{"extremes", snapshot{
			Seq: math.MinInt16, ID: math.MaxInt32, Tick: math.MinInt64,
			Mask: math.MaxUint32, Stamp: math.MaxUint64, Alive: true,
			Speed: -1.5e300, Name: "玩家-1", Payload: []byte{0, 0xff, 7},
			Pos: vec3{X: 1.25, Y: -3, Z: float32(math.Inf(1))},
		}},
		{"negative small", snapshot{Seq: -2, ID: -1, Name: "x", Payload: []byte{}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b, err := Encode(&tt.in, nil)
			require.NoError(t, err)

			var out snapshot
			require.NoError(t, Decode(&out, b))
			assert.Equal(t, tt.in, out)
		})
	}
}

func TestEncodeAppends(t *testing.T) {
	prefix := []byte{9, 9}
	b, err := Encode(&vec3{X: 1}, prefix)
	require.NoError(t, err)
	assert.Equal(t, []byte{9, 9}, b[:2])
	assert.Len(t, b, 2+12)
}

func TestDecodeTruncated(t *testing.T) {
	in := snapshot{Name: "hello", Payload: []byte{1, 2, 3}}
	b, err := Encode(&in, nil)
	require.NoError(t, err)

	for cut := 0; cut < len(b); cut++ {
		var out snapshot
		err := Decode(&out, b[:cut])
		require.Error(t, err, "cut=%d", cut)
		assert.True(t, errors.Is(err, ErrShortBuffer))
	}
}

func TestReaderStickyError(t *testing.T) {
	r := NewReader([]byte{1, 2})
	assert.Equal(t, int32(0), r.ReadInt32())
	first := r.Err()
	require.Error(t, first)

	// 后续读取不覆盖第一次的错误
	assert.Equal(t, "", r.ReadString())
	assert.Same(t, first, r.Err())
}

func TestReadBytesCopies(t *testing.T) {
	w := NewWriter(nil)
	w.WriteBytes([]byte{1, 2, 3})
	raw := w.Bytes()

	r := NewReader(raw)
	got := r.ReadBytes()
	raw[1] = 42
	assert.Equal(t, []byte{1, 2, 3}, got)
}

func TestSetCodecNil(t *testing.T) {
	defer SetCodec(&BinaryCodec{})
	SetCodec(nil)

	_, err := Encode(&vec3{}, nil)
	assert.ErrorIs(t, err, errCodecNotInit)
	assert.ErrorIs(t, Decode(&vec3{}, nil), errCodecNotInit)
}
