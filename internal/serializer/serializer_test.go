package serializer

import (
	"reflect"
	"testing"
)

func TestJSONRoundTrip(t *testing.T) {
	s, err := New("json")
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	testRoundTrip(t, s)
}

func TestFastRoundTrip(t *testing.T) {
	s, err := New("fast")
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	testRoundTrip(t, s)
}

func testRoundTrip(t *testing.T, s Serializer) {
	t.Helper()
	in := map[string]any{
		"topic": "ticks.btc",
		"data":  map[string]any{"price": 42.5, "symbol": "BTC-USD"},
		"ts":    float64(1700000000),
		"note":  "unicode: éè 日本語",
	}
	encoded, err := s.Encode(in)
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	out, err := s.Decode(encoded)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if !reflect.DeepEqual(in, out) {
		t.Fatalf("round trip mismatch:\n in=%#v\nout=%#v", in, out)
	}
}

func TestUnknownBackend(t *testing.T) {
	if _, err := New("xml"); err != ErrUnknownBackend {
		t.Fatalf("expected ErrUnknownBackend, got %v", err)
	}
}
