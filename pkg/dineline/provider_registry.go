package dineline

import (
	"fmt"
	"strings"
	"time"

	"github.com/harunnryd/dineline/pkg/configutil"
	"github.com/harunnryd/dineline/pkg/llm"
	"github.com/harunnryd/dineline/pkg/providers/mock"
	"github.com/harunnryd/dineline/pkg/providers/openai"
	"github.com/harunnryd/dineline/pkg/resilience"
)

// LLMFactory builds a provider adapter from the vendors.llm section.
type LLMFactory func(cfg Config) (llm.Adapter, error)

type ProviderRegistry struct {
	llm map[string]LLMFactory
}

func NewProviderRegistry() *ProviderRegistry {
	return &ProviderRegistry{llm: make(map[string]LLMFactory)}
}

// DefaultProviders registers the bundled openai and mock adapters.
func DefaultProviders() *ProviderRegistry {
	reg := NewProviderRegistry()
	reg.RegisterLLM("openai", buildOpenAI)
	reg.RegisterLLM("mock", buildMockLLM)
	return reg
}

func (r *ProviderRegistry) RegisterLLM(name string, factory LLMFactory) {
	r.llm[strings.ToLower(strings.TrimSpace(name))] = factory
}

func (r *ProviderRegistry) BuildLLM(provider string, cfg Config) (llm.Adapter, error) {
	fn := r.llm[strings.ToLower(strings.TrimSpace(provider))]
	if fn == nil {
		return nil, fmt.Errorf("llm provider not registered: %s", provider)
	}
	return fn(cfg)
}

type openAISettings struct {
	APIKey            string `mapstructure:"api_key"`
	Model             string `mapstructure:"model"`
	BaseURL           string `mapstructure:"base_url"`
	UseCircuitBreaker *bool  `mapstructure:"use_circuit_breaker"`
	CircuitThreshold  int    `mapstructure:"circuit_threshold"`
	CircuitCooldownMs int    `mapstructure:"circuit_cooldown_ms"`
}

func buildOpenAI(cfg Config) (llm.Adapter, error) {
	var settings openAISettings
	if err := configutil.Decode("vendors.llm.settings", cfg.Vendors.LLM.Settings, configutil.Schema{
		Required: []string{"api_key"},
		Optional: []string{"model", "base_url", "use_circuit_breaker", "circuit_threshold", "circuit_cooldown_ms"},
	}, &settings); err != nil {
		return nil, err
	}
	if err := configutil.RequireString(settings.APIKey, "vendors.llm.settings.api_key"); err != nil {
		return nil, err
	}
	model := settings.Model
	if model == "" {
		model = cfg.LLM.ReplyModel
	}
	adapter := openai.NewAdapter(settings.APIKey, model)
	if settings.BaseURL != "" {
		adapter.BaseURL = strings.TrimRight(settings.BaseURL, "/")
	}
	return withBreaker(adapter, settings.UseCircuitBreaker, settings.CircuitThreshold, settings.CircuitCooldownMs), nil
}

type mockLLMSettings struct {
	ResponseText string   `mapstructure:"response_text"`
	Responses    []string `mapstructure:"responses"`
}

// buildMockLLM replays scripted completions; useful for local webhook runs
// without a model account.
func buildMockLLM(cfg Config) (llm.Adapter, error) {
	var settings mockLLMSettings
	if err := configutil.Decode("vendors.llm.settings", cfg.Vendors.LLM.Settings, configutil.Schema{
		Optional: []string{"response_text", "responses"},
	}, &settings); err != nil {
		return nil, err
	}
	return mock.NewLLMAdapter(mock.LLMConfig{
		ResponseText: settings.ResponseText,
		Responses:    settings.Responses,
	}), nil
}

func withBreaker(adapter llm.Adapter, enabled *bool, threshold, cooldownMs int) llm.Adapter {
	if !configutil.BoolValue(enabled, true) {
		return adapter
	}
	if threshold <= 0 {
		threshold = 3
	}
	if cooldownMs <= 0 {
		cooldownMs = 30000
	}
	breaker := resilience.NewCircuitBreaker(threshold, time.Duration(cooldownMs)*time.Millisecond)
	return llm.NewCircuitBreakerAdapter(adapter, breaker)
}
