// Package serializer provides the bus's pluggable encode/decode backend.
// The choice is fixed at bus construction (spec.md §4.1): both ends of a
// link must agree, so the bus never mixes backends within one instance.
package serializer

import "errors"

// EncodeError wraps a failure from the caller side of Encode.
type EncodeError struct {
	Err error
}

func (e *EncodeError) Error() string { return "serializer: encode failed: " + e.Err.Error() }
func (e *EncodeError) Unwrap() error { return e.Err }

// DecodeError wraps a failure from the receive side of Decode.
type DecodeError struct {
	Err error
}

func (e *DecodeError) Error() string { return "serializer: decode failed: " + e.Err.Error() }
func (e *DecodeError) Unwrap() error { return e.Err }

// ErrUnknownBackend is returned by New for an unrecognized backend name.
var ErrUnknownBackend = errors.New("serializer: unknown backend")

// Serializer encodes and decodes opaque payloads. The bus never inspects
// payload contents beyond the envelope keys it adds itself.
type Serializer interface {
	// Name identifies the backend ("json" or "fast").
	Name() string
	// Encode marshals obj to bytes, wrapping any failure in *EncodeError.
	Encode(obj any) ([]byte, error)
	// Decode unmarshals bytes into a generic map, wrapping any failure in
	// *DecodeError.
	Decode(data []byte) (map[string]any, error)
}

// New constructs the serializer named by backend: "json" (the default) or
// "fast" (a drop-in faster codec). Both sides of a link must be
// constructed with the same backend.
func New(backend string) (Serializer, error) {
	switch backend {
	case "", "json":
		return jsonSerializer{}, nil
	case "fast":
		return fastSerializer{}, nil
	default:
		return nil, ErrUnknownBackend
	}
}
