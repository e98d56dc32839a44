package codec

import (
	"bytes"
	"encoding/json"
)

// JSONCodec encodes with encoding/json. Decoding keeps numbers as
// json.Number when the target is an interface, so ids and amounts beyond
// 2^53 are not rounded.
type JSONCodec struct{}

func (c *JSONCodec) Encode(v any) ([]byte, error) {
	return json.Marshal(v)
}

func (c *JSONCodec) Decode(data []byte, v any) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	return dec.Decode(v)
}

func (c *JSONCodec) Type() CodecType {
	return CodecTypeJSON
}
