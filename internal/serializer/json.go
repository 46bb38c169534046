package serializer

import (
	"bytes"
	"encoding/json"
)

// jsonSerializer is the standards-compliant UTF-8 backend; non-ASCII
// payload content is preserved rather than escaped.
type jsonSerializer struct{}

func (jsonSerializer) Name() string { return "json" }

func (jsonSerializer) Encode(obj any) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(obj); err != nil {
		return nil, &EncodeError{Err: err}
	}
	out := buf.Bytes()
	if n := len(out); n > 0 && out[n-1] == '\n' {
		out = out[:n-1]
	}
	return out, nil
}

func (jsonSerializer) Decode(data []byte) (map[string]any, error) {
	var out map[string]any
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, &DecodeError{Err: err}
	}
	return out, nil
}
