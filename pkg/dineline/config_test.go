package dineline

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoadConfigDefaults(t *testing.T) {
	cfg, err := LoadConfig(writeConfig(t, "vendors:\n  llm:\n    provider: mock\n"))
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Server.Addr != ":8080" || cfg.Server.DrainTimeout != 20*time.Second {
		t.Fatalf("unexpected server defaults %+v", cfg.Server)
	}
	if cfg.Escalation.NoInputThreshold != 3 || cfg.Escalation.SpeechFallbackThreshold != 2 {
		t.Fatalf("unexpected escalation defaults %+v", cfg.Escalation)
	}
	if cfg.Cache.SessionTTL != 30*time.Second || cfg.Cache.ProcessingTTL != time.Minute || cfg.Cache.Backend != "memory" {
		t.Fatalf("unexpected cache defaults %+v", cfg.Cache)
	}
	if cfg.Languages.Menu["2"] != "ur-PK" || cfg.Languages.Default != "en-US" {
		t.Fatalf("unexpected language defaults %+v", cfg.Languages)
	}
	if cfg.Restaurant.DeliveryFee != 300 || cfg.Restaurant.Name != "Mario's Italian Restaurant" {
		t.Fatalf("unexpected restaurant defaults %+v", cfg.Restaurant)
	}
	if cfg.Call.MinConfidence != 0.3 || cfg.Call.LongUtteranceWords != 25 {
		t.Fatalf("unexpected call defaults %+v", cfg.Call)
	}
	if !cfg.Privacy.RedactPII || cfg.Retry.MaxAttempts != 3 {
		t.Fatalf("unexpected privacy or retry defaults")
	}
}

func TestLoadConfigExpandsEnv(t *testing.T) {
	t.Setenv("DINELINE_TEST_KEY", "sk-test")
	t.Setenv("DINELINE_TEST_TOKEN", "tok")
	t.Setenv("DINELINE_TEST_NAME", "Luigi's")
	cfg, err := LoadConfig(writeConfig(t, `
vendors:
  llm:
    provider: openai
    settings:
      api_key: ${DINELINE_TEST_KEY}
transports:
  provider: twilio
  settings:
    auth_token: ${DINELINE_TEST_TOKEN}
    voices:
      en-US: Polly.Matthew
restaurant:
  name: ${DINELINE_TEST_NAME}
  timezone: America/New_York
canned:
  dessert: "We have tiramisu."
`))
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Vendors.LLM.Settings["api_key"] != "sk-test" || cfg.Transports.Settings["auth_token"] != "tok" {
		t.Fatalf("expected expanded settings, got %v %v", cfg.Vendors.LLM.Settings, cfg.Transports.Settings)
	}
	if cfg.Restaurant.Name != "Luigi's" {
		t.Fatalf("expected expanded restaurant name, got %q", cfg.Restaurant.Name)
	}
	if cfg.Location().String() != "America/New_York" {
		t.Fatalf("unexpected location %v", cfg.Location())
	}
	if cfg.Canned["dessert"] != "We have tiramisu." {
		t.Fatalf("expected canned override, got %v", cfg.Canned)
	}
}

func TestLoadConfigValidation(t *testing.T) {
	cases := []struct {
		name string
		body string
		want string
	}{
		{"bad confidence", "call:\n  min_confidence: 1.5\n", "call.min_confidence"},
		{"bad menu key", "languages:\n  menu:\n    \"12\": en-US\n", "languages.menu"},
		{"bad timezone", "restaurant:\n  timezone: Mars/Olympus\n", "restaurant.timezone"},
		{"no provider", "vendors:\n  llm:\n    provider: \"\"\n", "vendors.llm.provider"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := LoadConfig(writeConfig(t, tc.body))
			if err == nil || !strings.Contains(err.Error(), tc.want) {
				t.Fatalf("expected error mentioning %s, got %v", tc.want, err)
			}
		})
	}
}

func TestLoadConfigMissingFile(t *testing.T) {
	if _, err := LoadConfig(filepath.Join(t.TempDir(), "nope.yaml")); err == nil {
		t.Fatalf("expected read error")
	}
}
