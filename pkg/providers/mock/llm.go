package mock

import (
	"context"
	"errors"
	"sync"

	"github.com/harunnryd/dineline/pkg/llm"
)

// ErrScriptExhausted is returned once a scripted adapter has run out of
// replies and no default was configured.
var ErrScriptExhausted = errors.New("mock llm script exhausted")

// LLMAdapter replays canned completions in order. It satisfies llm.Adapter
// so the real llm.Service can run against it offline.
type LLMAdapter struct {
	mu       sync.Mutex
	cfg      LLMConfig
	next     int
	requests []llm.Request
}

type LLMConfig struct {
	Responses    []string
	Errors       []error
	ResponseText string
}

func NewLLMAdapter(cfg LLMConfig) *LLMAdapter {
	if cfg.ResponseText == "" && len(cfg.Responses) == 0 {
		cfg.ResponseText = "mock response"
	}
	return &LLMAdapter{cfg: cfg}
}

func (a *LLMAdapter) Name() string { return "mock_llm" }

func (a *LLMAdapter) Generate(ctx context.Context, input llm.Request) (llm.Response, error) {
	if err := ctx.Err(); err != nil {
		return llm.Response{}, err
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	i := a.next
	a.next++
	a.requests = append(a.requests, input)
	if i < len(a.cfg.Errors) && a.cfg.Errors[i] != nil {
		return llm.Response{}, a.cfg.Errors[i]
	}
	if i < len(a.cfg.Responses) {
		return llm.Response{Text: a.cfg.Responses[i], FinishReason: "stop"}, nil
	}
	if a.cfg.ResponseText == "" {
		return llm.Response{}, ErrScriptExhausted
	}
	return llm.Response{Text: a.cfg.ResponseText, FinishReason: "stop"}, nil
}

// Requests returns a copy of every request seen so far.
func (a *LLMAdapter) Requests() []llm.Request {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]llm.Request, len(a.requests))
	copy(out, a.requests)
	return out
}

var _ llm.Adapter = (*LLMAdapter)(nil)
