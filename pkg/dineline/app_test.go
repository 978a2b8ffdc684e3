package dineline

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/harunnryd/dineline/pkg/metrics"
	"github.com/harunnryd/dineline/pkg/runner"
)

func init() { runner.BannerOutput = io.Discard }

const appConfig = `
environment: test
server:
  addr: 127.0.0.1:0
  public_url: example.ngrok.app
  drain_timeout: 2s
store:
  dsn: ":memory:"
vendors:
  llm:
    provider: mock
    settings:
      response_text: general_inquiry
transports:
  provider: twilio
  settings:
    staff_number: "+15550001111"
retry:
  base_delay: 1ms
  max_delay: 1ms
`

func buildTestApp(t *testing.T, body string) (*App, *metrics.MemoryObserver) {
	t.Helper()
	cfg, err := LoadConfig(writeConfig(t, body))
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	obs := metrics.NewMemoryObserver()
	app, err := Build(cfg, Options{
		Logger:   slog.New(slog.NewTextHandler(io.Discard, nil)),
		Observer: obs,
	})
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	return app, obs
}

func post(t *testing.T, srv *httptest.Server, path string, form url.Values) string {
	t.Helper()
	resp, err := http.PostForm(srv.URL+path, form)
	if err != nil {
		t.Fatalf("post %s: %v", path, err)
	}
	defer resp.Body.Close()
	b, _ := io.ReadAll(resp.Body)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("post %s: status %d body %s", path, resp.StatusCode, b)
	}
	return string(b)
}

func TestBuildServesCallEndToEnd(t *testing.T) {
	app, obs := buildTestApp(t, appConfig)
	srv := httptest.NewServer(app.Transport.Handler())
	defer srv.Close()

	call := url.Values{"CallSid": {"CA100"}, "From": {"(555) 123-4567"}}
	menu := post(t, srv, "/voice/incoming", call)
	if !strings.Contains(menu, `input="dtmf"`) || !strings.Contains(menu, "Press 1") {
		t.Fatalf("expected language menu, got %s", menu)
	}
	greet := post(t, srv, "/voice/language", url.Values{"CallSid": {"CA100"}, "Digits": {"1"}})
	if !strings.Contains(greet, "Welcome to Mario") || !strings.Contains(greet, `input="speech"`) {
		t.Fatalf("expected greeting with speech gather, got %s", greet)
	}
	hours := post(t, srv, "/voice/speech", url.Values{
		"CallSid":      {"CA100"},
		"SpeechResult": {"What are your hours?"},
		"Confidence":   {"0.92"},
	})
	if !strings.Contains(hours, "Tuesday-Sunday") {
		t.Fatalf("expected hours answer, got %s", hours)
	}
	post(t, srv, "/voice/status", url.Values{"CallSid": {"CA100"}, "CallStatus": {"completed"}, "CallDuration": {"37"}})

	sess, err := app.Store.SessionByCallID(context.Background(), "CA100")
	if err != nil {
		t.Fatalf("session: %v", err)
	}
	if sess.CustomerPhone != "+15551234567" || sess.Active() {
		t.Fatalf("expected normalized phone and ended session, got %+v", sess)
	}
	if sess.DurationSeconds == nil || *sess.DurationSeconds != 37 {
		t.Fatalf("expected stored duration, got %v", sess.DurationSeconds)
	}

	if err := app.Stop(); err != nil {
		t.Fatalf("stop: %v", err)
	}
	if obs.Count(metrics.EventTurnCompleted) != 1 || obs.Count(metrics.EventCallCompleted) != 1 {
		t.Fatalf("expected turn and call events flushed, got %d/%d",
			obs.Count(metrics.EventTurnCompleted), obs.Count(metrics.EventCallCompleted))
	}
	if got := obs.Tagged(metrics.EventLLMCall, "op", "classify"); len(got) != 1 || got[0].Tags["provider"] != "mock_llm" {
		t.Fatalf("expected one classify call through the mock provider, got %+v", got)
	}
}

func TestRunServesHealthAndDrains(t *testing.T) {
	app, _ := buildTestApp(t, appConfig)
	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- app.Run(ctx) }()

	deadline := time.Now().Add(2 * time.Second)
	for app.Transport.Addr() == "" && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	if app.Transport.Addr() == "" {
		t.Fatalf("transport never bound")
	}
	resp, err := http.Get("http://" + app.Transport.Addr() + "/health")
	if err != nil {
		t.Fatalf("health: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected healthy, got %d", resp.StatusCode)
	}
	cancel()
	select {
	case err := <-errCh:
		if err != nil {
			t.Fatalf("run: %v", err)
		}
	case <-time.After(3 * time.Second):
		t.Fatalf("run did not return after cancel")
	}
}

func TestBuildRejectsUnknownProviders(t *testing.T) {
	cases := []struct {
		name string
		body string
		want string
	}{
		{"llm", strings.Replace(appConfig, "provider: mock", "provider: llama", 1), "llm provider not registered"},
		{"transport", strings.Replace(appConfig, "provider: twilio", "provider: vonage", 1), "unsupported transport provider"},
		{"settings", strings.Replace(appConfig, "response_text: general_inquiry", "temperature: 2", 1), "unknown: temperature"},
		{"production token", strings.Replace(appConfig, "environment: test", "environment: production", 1), "auth_token is required"},
		{"openai key", strings.Replace(appConfig, "provider: mock\n    settings:\n      response_text: general_inquiry", "provider: openai", 1), "missing: api_key"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg, err := LoadConfig(writeConfig(t, tc.body))
			if err != nil {
				t.Fatalf("load: %v", err)
			}
			_, err = Build(cfg, Options{Logger: slog.New(slog.NewTextHandler(io.Discard, nil))})
			if err == nil || !strings.Contains(err.Error(), tc.want) {
				t.Fatalf("expected %q, got %v", tc.want, err)
			}
		})
	}
}

func TestDefaultProvidersBuildBreakerWrappedOpenAI(t *testing.T) {
	cfg := Config{Vendors: VendorsConfig{LLM: VendorConfig{
		Provider: "OpenAI",
		Settings: map[string]any{"api_key": "sk", "circuit_threshold": 2},
	}}}
	adapter, err := DefaultProviders().BuildLLM(cfg.Vendors.LLM.Provider, cfg)
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	if adapter.Name() != "openai" {
		t.Fatalf("unexpected adapter %s", adapter.Name())
	}
	if _, ok := adapter.(interface{ SetObserver(metrics.Observer) }); !ok {
		t.Fatalf("expected circuit breaker wrapper, got %T", adapter)
	}
	cfg.Vendors.LLM.Settings["use_circuit_breaker"] = false
	adapter, err = DefaultProviders().BuildLLM("openai", cfg)
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	if _, ok := adapter.(interface{ SetObserver(metrics.Observer) }); ok {
		t.Fatalf("expected bare adapter when breaker disabled")
	}
}
