package bus

import "testing"

func TestDefaultConfigValidates(t *testing.T) {
	cfg := DefaultConfig("svc")
	if err := cfg.Validate(); err != nil {
		t.Fatalf("DefaultConfig should validate: %v", err)
	}
}

func TestConfigValidateRejectsEmptyServiceName(t *testing.T) {
	cfg := DefaultConfig("")
	if err := cfg.Validate(); err == nil {
		t.Fatalf("expected error for empty ServiceName")
	}
}

func TestConfigValidateRejectsUnknownSerializer(t *testing.T) {
	cfg := DefaultConfig("svc")
	cfg.Serializer = "xml"
	if err := cfg.Validate(); err == nil {
		t.Fatalf("expected error for unknown serializer")
	}
}

func TestWithDefaultsFillsZeroFields(t *testing.T) {
	cfg := Config{ServiceName: "svc"}.withDefaults()
	if cfg.HWMOutbound != defaultHWM || cfg.HWMInbound != defaultHWM {
		t.Fatalf("expected default HWMs, got %+v", cfg)
	}
	if cfg.Serializer != "json" {
		t.Fatalf("expected default serializer json, got %q", cfg.Serializer)
	}
	if cfg.ConnectHost != "localhost" {
		t.Fatalf("expected default ConnectHost localhost, got %q", cfg.ConnectHost)
	}
}
