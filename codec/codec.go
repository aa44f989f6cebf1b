// Package codec encodes typed game messages to and from their binary wire form.
package codec

import (
	"errors"
)

var (
	errCodecNotInit = errors.New("codec not init")

	_codec Codec = &BinaryCodec{}
)

// Encodable is a value that can write itself field by field.
type Encodable interface {
	Encode(w *Writer)
}

// Decodable is a value that can read itself back in the order Encode wrote it.
type Decodable interface {
	Decode(r *Reader)
}

// Codable is both sides of the round trip.
type Codable interface {
	Encodable
	Decodable
}

// Codec 解码器.
type Codec interface {
	Encode(m Encodable, b []byte) ([]byte, error)
	Decode(m Decodable, b []byte) error
}

// Encode 打包, appending to b.
func Encode(m Encodable, b []byte) ([]byte, error) {
	if _codec == nil {
		return nil, errCodecNotInit
	}
	return _codec.Encode(m, b)
}

// Decode 解包.
func Decode(m Decodable, b []byte) error {
	if _codec == nil {
		return errCodecNotInit
	}
	return _codec.Decode(m, b)
}

// SetCodec 设置解码器.
func SetCodec(c Codec) {
	_codec = c
}
