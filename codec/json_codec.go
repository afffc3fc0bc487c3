package codec

import (
	"encoding/json"
)

// JSONCodec uses encoding/json. Session lists keep their historical
// {"uri":..,"legacy":true} / {"topic":..} shape through session.Session's marshalers.
type JSONCodec struct{}

func (c *JSONCodec) Encode(v any) ([]byte, error) {
	return json.Marshal(v)
}

func (c *JSONCodec) Decode(data []byte, v any) error {
	return json.Unmarshal(data, v)
}

func (c *JSONCodec) Type() CodecType {
	return CodecTypeJSON
}
