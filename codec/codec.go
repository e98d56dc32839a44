// Package codec converts between Go values and their wire form.
//
// Value is the type-erased payload carried inside every envelope. Codec is
// the envelope serializer used by the relay layer; JSON is the only wire
// format the relay understands.
package codec

type CodecType byte

const (
	CodecTypeJSON CodecType = 0
)

type Codec interface {
	Encode(v any) ([]byte, error)
	Decode(data []byte, v any) error
	Type() CodecType
}

// GetCodec returns the codec for codecType, or nil if it is unknown.
func GetCodec(codecType CodecType) Codec {
	if codecType == CodecTypeJSON {
		return &JSONCodec{}
	}
	return nil
}
