package net

import (
	"bytes"
	"encoding/binary"
	"fmt"

	"github.com/lcx/gamenet/codec"
)

// FrameHeadSize is the fixed head in front of every frame:
// [type int32 LE][bodySize uint32 LE].
const FrameHeadSize = 8

// DefaultMaxFrameSize bounds a single frame body.
const DefaultMaxFrameSize = 1 << 20

// FrameHead 帧头.
type FrameHead struct {
	Type     MessageType
	BodySize uint32
}

// EncodeFrameHead appends the head to b.
func EncodeFrameHead(b []byte, hdr FrameHead) []byte {
	b = binary.LittleEndian.AppendUint32(b, uint32(hdr.Type))
	return binary.LittleEndian.AppendUint32(b, hdr.BodySize)
}

// DecodeFrameHead 解帧头. buf must hold at least FrameHeadSize bytes.
func DecodeFrameHead(buf []byte) (FrameHead, error) {
	if len(buf) < FrameHeadSize {
		return FrameHead{}, fmt.Errorf("frame head needs %d bytes, have %d", FrameHeadSize, len(buf))
	}
	return FrameHead{
		Type:     MessageType(int32(binary.LittleEndian.Uint32(buf[0:4]))),
		BodySize: binary.LittleEndian.Uint32(buf[4:8]),
	}, nil
}

// PackFrame appends the framed encoding of m to b. maxBody <= 0 means no limit.
func PackFrame(b []byte, m TypedMessage, maxBody int) ([]byte, error) {
	start := len(b)
	b = EncodeFrameHead(b, FrameHead{Type: m.Type()})
	b, err := codec.Encode(m, b)
	if err != nil {
		return b[:start], err
	}
	body := len(b) - start - FrameHeadSize
	if maxBody > 0 && body > maxBody {
		return b[:start], fmt.Errorf("%w: %s is %d bytes, max %d", ErrFrameTooLarge, m.Type(), body, maxBody)
	}
	binary.LittleEndian.PutUint32(b[start+4:start+8], uint32(body))
	return b, nil
}

// FrameReader turns an arbitrarily chunked byte stream back into
// containers. Feeding one byte at a time and feeding everything at once
// yield the same sequence.
type FrameReader struct {
	buf     bytes.Buffer
	maxBody uint32
	head    FrameHead
	hasHead bool
}

// NewFrameReader rejects frames whose body exceeds maxBody.
func NewFrameReader(maxBody int) *FrameReader {
	if maxBody <= 0 {
		maxBody = DefaultMaxFrameSize
	}
	return &FrameReader{maxBody: uint32(maxBody)}
}

// Feed appends received bytes.
func (f *FrameReader) Feed(p []byte) {
	f.buf.Write(p)
}

// Buffered is the number of bytes not yet consumed.
func (f *FrameReader) Buffered() int {
	n := f.buf.Len()
	if f.hasHead {
		n += FrameHeadSize
	}
	return n
}

// Next returns the next complete frame, or nil when more bytes are needed.
// An oversized head is a *ProtocolError and the stream cannot continue.
func (f *FrameReader) Next() (*MessageContainer, error) {
	if !f.hasHead {
		if f.buf.Len() < FrameHeadSize {
			return nil, nil
		}
		hdr, err := DecodeFrameHead(f.buf.Next(FrameHeadSize))
		if err != nil {
			return nil, &ProtocolError{Reason: "frame head", Err: err}
		}
		if hdr.BodySize > f.maxBody {
			return nil, &ProtocolError{
				Reason: fmt.Sprintf("frame body %d exceeds %d", hdr.BodySize, f.maxBody),
				Err:    ErrFrameTooLarge,
			}
		}
		f.head = hdr
		f.hasHead = true
	}
	if f.buf.Len() < int(f.head.BodySize) {
		return nil, nil
	}
	payload := make([]byte, f.head.BodySize)
	copy(payload, f.buf.Next(int(f.head.BodySize)))
	f.hasHead = false
	return NewMessageContainer(f.head.Type, payload), nil
}

// DecodeDatagram decodes one datagram, which must hold exactly one frame.
func DecodeDatagram(b []byte) (*MessageContainer, error) {
	hdr, err := DecodeFrameHead(b)
	if err != nil {
		return nil, &ProtocolError{Reason: "datagram head", Err: err}
	}
	if int(hdr.BodySize) != len(b)-FrameHeadSize {
		return nil, &ProtocolError{Reason: fmt.Sprintf("datagram body %d, head says %d", len(b)-FrameHeadSize, hdr.BodySize)}
	}
	payload := make([]byte, hdr.BodySize)
	copy(payload, b[FrameHeadSize:])
	return NewMessageContainer(hdr.Type, payload), nil
}
