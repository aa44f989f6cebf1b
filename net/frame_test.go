package net

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lcx/gamenet/codec"
)

const (
	chatType  MessageType = FirstUserMessageType + 1
	emptyType MessageType = FirstUserMessageType + 2
)

type chatMsg struct {
	From int32
	Text string
}

func (m *chatMsg) Type() MessageType { return chatType }

func (m *chatMsg) Encode(w *codec.Writer) {
	w.WriteInt32(m.From)
	w.WriteString(m.Text)
}

func (m *chatMsg) Decode(r *codec.Reader) {
	m.From = r.ReadInt32()
	m.Text = r.ReadString()
}

type emptyMsg struct{}

func (*emptyMsg) Type() MessageType { return emptyType }

func (*emptyMsg) Encode(*codec.Writer) {}

func (*emptyMsg) Decode(*codec.Reader) {}

// recv waits for one value or fails the test.
func recv[T any](t *testing.T, ch <-chan T) T {
	t.Helper()
	select {
	case v := <-ch:
		return v
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for event")
	}
	var zero T
	return zero
}

func packAll(t *testing.T, msgs ...TypedMessage) []byte {
	t.Helper()
	var b []byte
	for _, m := range msgs {
		var err error
		b, err = PackFrame(b, m, 0)
		require.NoError(t, err)
	}
	return b
}

func drainReader(t *testing.T, fr *FrameReader) []*MessageContainer {
	t.Helper()
	var out []*MessageContainer
	for {
		c, err := fr.Next()
		require.NoError(t, err)
		if c == nil {
			return out
		}
		out = append(out, c)
	}
}

func TestFrameRoundTrip(t *testing.T) {
	stream := packAll(t,
		&chatMsg{From: 1, Text: "hello"},
		&emptyMsg{},
		&chatMsg{From: -2, Text: ""},
	)

	fr := NewFrameReader(0)
	fr.Feed(stream)
	got := drainReader(t, fr)
	require.Len(t, got, 3)
	assert.Equal(t, 0, fr.Buffered())

	var first chatMsg
	require.NoError(t, got[0].Parse(&first))
	assert.Equal(t, chatMsg{From: 1, Text: "hello"}, first)

	assert.True(t, got[1].Is(emptyType))
	assert.Empty(t, got[1].Payload())

	var third chatMsg
	require.NoError(t, got[2].Parse(&third))
	assert.Equal(t, int32(-2), third.From)

	// parsing is repeatable
	var again chatMsg
	require.NoError(t, got[0].Parse(&again))
	assert.Equal(t, first, again)
}

func TestFrameReaderByteAtATime(t *testing.T) {
	stream := packAll(t,
		&chatMsg{From: 7, Text: "split me across many reads"},
		&emptyMsg{},
		&chatMsg{From: 8, Text: "second"},
	)

	whole := NewFrameReader(0)
	whole.Feed(stream)
	expected := drainReader(t, whole)

	fr := NewFrameReader(0)
	var got []*MessageContainer
	for i := range stream {
		fr.Feed(stream[i : i+1])
		got = append(got, drainReader(t, fr)...)
	}

	require.Len(t, got, len(expected))
	for i := range expected {
		assert.Equal(t, expected[i].Type(), got[i].Type())
		assert.Equal(t, expected[i].Payload(), got[i].Payload())
	}
}

func TestFrameReaderRejectsOversizedBody(t *testing.T) {
	fr := NewFrameReader(16)
	fr.Feed(EncodeFrameHead(nil, FrameHead{Type: chatType, BodySize: 17}))

	c, err := fr.Next()
	assert.Nil(t, c)
	require.Error(t, err)
	assert.True(t, IsProtocolError(err))
	assert.True(t, errors.Is(err, ErrFrameTooLarge))
}

func TestPackFrameTooLarge(t *testing.T) {
	prefix := []byte{0xAA}
	b, err := PackFrame(prefix, &chatMsg{Text: "this body is longer than eight bytes"}, 8)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrFrameTooLarge))
	assert.Equal(t, prefix, b)
}

func TestFrameHead(t *testing.T) {
	b := EncodeFrameHead(nil, FrameHead{Type: -5, BodySize: 300})
	require.Len(t, b, FrameHeadSize)
	assert.Equal(t, []byte{0xFB, 0xFF, 0xFF, 0xFF, 0x2C, 0x01, 0x00, 0x00}, b)

	hdr, err := DecodeFrameHead(b)
	require.NoError(t, err)
	assert.Equal(t, MessageType(-5), hdr.Type)
	assert.Equal(t, uint32(300), hdr.BodySize)

	_, err = DecodeFrameHead(b[:7])
	assert.Error(t, err)
}

func TestDecodeDatagram(t *testing.T) {
	b := packAll(t, &chatMsg{From: 3, Text: "ping"})

	c, err := DecodeDatagram(b)
	require.NoError(t, err)
	var m chatMsg
	require.NoError(t, c.Parse(&m))
	assert.Equal(t, "ping", m.Text)

	_, err = DecodeDatagram(b[:len(b)-1])
	assert.True(t, IsProtocolError(err))

	_, err = DecodeDatagram(append(b, 0))
	assert.True(t, IsProtocolError(err))

	_, err = DecodeDatagram(b[:3])
	assert.True(t, IsProtocolError(err))
}

func TestContainerParseErrors(t *testing.T) {
	c := NewMessageContainer(chatType, []byte{1, 2})

	err := c.Parse(&chatMsg{})
	assert.True(t, IsProtocolError(err))
	assert.True(t, errors.Is(err, codec.ErrShortBuffer))

	err = c.Parse(&emptyMsg{})
	assert.True(t, IsProtocolError(err))
}
