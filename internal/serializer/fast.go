package serializer

import (
	"github.com/bytedance/sonic"
)

// fastSerializer trades strict JSON conformance for speed via sonic's
// SIMD-accelerated codec. Wire-compatible with jsonSerializer for any
// payload that round-trips through both.
type fastSerializer struct{}

func (fastSerializer) Name() string { return "fast" }

func (fastSerializer) Encode(obj any) ([]byte, error) {
	out, err := sonic.Marshal(obj)
	if err != nil {
		return nil, &EncodeError{Err: err}
	}
	return out, nil
}

func (fastSerializer) Decode(data []byte) (map[string]any, error) {
	var out map[string]any
	if err := sonic.Unmarshal(data, &out); err != nil {
		return nil, &DecodeError{Err: err}
	}
	return out, nil
}
