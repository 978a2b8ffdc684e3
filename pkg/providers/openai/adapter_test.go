package openai

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/harunnryd/dineline/pkg/llm"
	"github.com/harunnryd/dineline/pkg/resilience"
)

func TestGenerateSendsModelAndJSONMode(t *testing.T) {
	var got map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/chat/completions" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		if r.Header.Get("Authorization") != "Bearer key" {
			t.Errorf("missing bearer token")
		}
		_ = json.NewDecoder(r.Body).Decode(&got)
		_, _ = w.Write([]byte(`{"choices":[{"message":{"content":"{\"a\":1}"},"finish_reason":"stop"}],"usage":{"total_tokens":12}}`))
	}))
	defer srv.Close()

	a := NewAdapter("key", "gpt-3.5-turbo")
	a.BaseURL = srv.URL
	resp, err := a.Generate(context.Background(), llm.Request{
		Model:     "gpt-4",
		Messages:  []llm.Message{{Role: llm.RoleUser, Content: "hi"}},
		MaxTokens: 10,
		JSON:      true,
	})
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	if resp.Text != `{"a":1}` || resp.Usage.TotalTokens != 12 || resp.FinishReason != "stop" {
		t.Fatalf("unexpected response %+v", resp)
	}
	if got["model"] != "gpt-4" {
		t.Fatalf("expected request model override, got %v", got["model"])
	}
	rf, _ := got["response_format"].(map[string]any)
	if rf["type"] != "json_object" {
		t.Fatalf("expected json_object response format, got %v", got["response_format"])
	}
	if got["max_tokens"].(float64) != 10 {
		t.Fatalf("expected max_tokens 10, got %v", got["max_tokens"])
	}
}

func TestGenerateDefaultsModel(t *testing.T) {
	var got map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewDecoder(r.Body).Decode(&got)
		_, _ = w.Write([]byte(`{"choices":[{"message":{"content":"hello"}}]}`))
	}))
	defer srv.Close()
	a := NewAdapter("key", "gpt-3.5-turbo")
	a.BaseURL = srv.URL
	if _, err := a.Generate(context.Background(), llm.Request{}); err != nil {
		t.Fatalf("generate: %v", err)
	}
	if got["model"] != "gpt-3.5-turbo" {
		t.Fatalf("expected adapter default model, got %v", got["model"])
	}
	if _, ok := got["response_format"]; ok {
		t.Fatalf("response_format must be omitted outside json mode")
	}
}

func TestGenerateMapsRateLimit(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
		_, _ = w.Write([]byte("slow down"))
	}))
	defer srv.Close()
	a := NewAdapter("key", "gpt-3.5-turbo")
	a.BaseURL = srv.URL
	_, err := a.Generate(context.Background(), llm.Request{})
	if !resilience.IsRateLimit(err) {
		t.Fatalf("expected rate limit error, got %v", err)
	}
}

func TestGenerateServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()
	a := NewAdapter("key", "m")
	a.BaseURL = srv.URL
	if _, err := a.Generate(context.Background(), llm.Request{}); err == nil {
		t.Fatalf("expected error on 502")
	}
}

func TestGenerateSendsExplicitZeroTemperature(t *testing.T) {
	var got map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewDecoder(r.Body).Decode(&got)
		_, _ = w.Write([]byte(`{"choices":[{"message":{"content":"ok"}}]}`))
	}))
	defer srv.Close()
	a := NewAdapter("key", "m")
	a.BaseURL = srv.URL
	if _, err := a.Generate(context.Background(), llm.Request{Temperature: llm.Temperature(0)}); err != nil {
		t.Fatalf("generate: %v", err)
	}
	if v, ok := got["temperature"]; !ok || v.(float64) != 0 {
		t.Fatalf("expected temperature 0 in body, got %v", got["temperature"])
	}
}
