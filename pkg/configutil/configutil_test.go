package configutil

import (
	"strings"
	"testing"
	"time"
)

type sample struct {
	APIKey   string        `mapstructure:"api_key"`
	Timeout  time.Duration `mapstructure:"timeout"`
	Breaker  *bool         `mapstructure:"use_circuit_breaker"`
	Attempts int           `mapstructure:"attempts"`
}

func TestDecodeSettingsNormalizesKeys(t *testing.T) {
	var out sample
	err := DecodeSettings(map[string]any{"API-KEY": "k", "timeout": "1500ms", "attempts": "4", "UseCircuitBreaker": false}, &out)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if out.APIKey != "k" || out.Timeout != 1500*time.Millisecond || out.Attempts != 4 {
		t.Fatalf("unexpected decode %+v", out)
	}
	if BoolValue(out.Breaker, true) {
		t.Fatalf("expected explicit false to win over fallback")
	}
	if IntValue(nil, 7) != 7 {
		t.Fatalf("expected int fallback")
	}
}

func TestValidateSettingsReportsMissingAndUnknown(t *testing.T) {
	err := ValidateSettings(map[string]any{"api_key": " ", "colour": "red"}, Schema{
		Required: []string{"api_key", "model"},
		Optional: []string{"base_url"},
	})
	if err == nil {
		t.Fatalf("expected validation error")
	}
	msg := err.Error()
	if !strings.Contains(msg, "missing: api_key, model") || !strings.Contains(msg, "unknown: colour") {
		t.Fatalf("unexpected message %q", msg)
	}
	if err := ValidateSettings(map[string]any{"extra": 1}, Schema{AllowUnknown: true}); err != nil {
		t.Fatalf("allow unknown: %v", err)
	}
}

func TestDecodePrefixesPath(t *testing.T) {
	var out sample
	err := Decode("vendors.llm.settings", map[string]any{}, Schema{Required: []string{"api_key"}}, &out)
	if err == nil || !strings.HasPrefix(err.Error(), "vendors.llm.settings: missing: api_key") {
		t.Fatalf("unexpected error %v", err)
	}
	if err := RequireString("", "transports.settings.auth_token"); err == nil {
		t.Fatalf("expected required string error")
	}
}
