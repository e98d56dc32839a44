package codec

import (
	"testing"
)

type updateParams struct {
	Methods []string `json:"methods"`
	Note    string   `json:"note,omitempty"`
}

func TestJSONCodec(t *testing.T) {
	jsonCodec := &JSONCodec{}

	original := updateParams{Methods: []string{"eth_sign", "personal_sign"}}

	data, err := jsonCodec.Encode(original)
	if err != nil {
		t.Fatalf("JSONCodec Encode failed: %v", err)
	}

	var decoded updateParams
	if err := jsonCodec.Decode(data, &decoded); err != nil {
		t.Fatalf("JSONCodec Decode failed: %v", err)
	}
	if len(decoded.Methods) != 2 || decoded.Methods[1] != "personal_sign" {
		t.Errorf("Methods mismatch: got %v, want %v", decoded.Methods, original.Methods)
	}
}

func TestJSONCodecKeepsLargeNumbers(t *testing.T) {
	jsonCodec := &JSONCodec{}

	var decoded map[string]any
	if err := jsonCodec.Decode([]byte(`{"id":1651234567890123456}`), &decoded); err != nil {
		t.Fatal(err)
	}
	if got := decoded["id"]; got == nil || got.(interface{ String() string }).String() != "1651234567890123456" {
		t.Fatalf("expect id literal preserved, got %v", got)
	}
}

func TestGetCodec(t *testing.T) {
	if c := GetCodec(CodecTypeJSON); c == nil || c.Type() != CodecTypeJSON {
		t.Fatalf("expect JSON codec, got %v", c)
	}
	if c := GetCodec(CodecType(9)); c != nil {
		t.Fatalf("expect nil for unknown codec type, got %v", c)
	}
}
