package protocol

import "encoding/json"

// Codec is the serializer seam. The framework only requires that Marshal
// and Unmarshal are inverses on valid inputs; JSON is the reference
// implementation and the default everywhere.
type Codec interface {
	Marshal(v any) ([]byte, error)
	Unmarshal(data []byte, v any) error
}

// JSONCodec encodes messages with encoding/json. Unrecognized fields in
// framework messages are ignored on decode, which is what gives the
// contract its forward compatibility.
type JSONCodec struct{}

func (JSONCodec) Marshal(v any) ([]byte, error)   { return json.Marshal(v) }
func (JSONCodec) Unmarshal(d []byte, v any) error { return json.Unmarshal(d, v) }

// DefaultCodec is used wherever an app does not supply its own.
var DefaultCodec Codec = JSONCodec{}

// PeekType extracts the type tag from a raw frame without decoding the
// rest. Returns "" and false when the frame is not a valid message.
func PeekType(codec Codec, raw []byte) (string, bool) {
	var env Envelope
	if err := codec.Unmarshal(raw, &env); err != nil {
		return "", false
	}
	if env.Type == "" {
		return "", false
	}
	return env.Type, true
}
