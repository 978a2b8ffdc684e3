package llm

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/harunnryd/dineline/pkg/errorsx"
	"github.com/harunnryd/dineline/pkg/metrics"
	"github.com/harunnryd/dineline/pkg/resilience"
)

// Client is the set of language model operations the call engine consumes.
// Every method may fail; callers own the fallback.
type Client interface {
	Classify(ctx context.Context, utterance string) (string, error)
	Generate(ctx context.Context, messages []Message) (string, error)
	Extract(ctx context.Context, schema string, conversation []Message) (string, error)
	Rewrite(ctx context.Context, draft string, facts []string) (string, error)
	Sentiment(ctx context.Context, conversation []Message) (float64, error)
}

// DefaultCategories is the intent label set offered to the classifier.
var DefaultCategories = []string{
	"new_order", "modify_order", "cancel_order", "check_status",
	"reservation", "general_inquiry", "end_call", "unclear",
}

type ServiceConfig struct {
	ReplyModel          string
	ExtractionModel     string
	ClassifyMaxTokens   int
	ClassifyTemperature *float64
	ReplyMaxTokens      int
	ReplyTemperature    *float64
	RewriteMaxTokens    int
	CallTimeout         time.Duration
	Categories          []string
	Retry               resilience.RetryPolicy
}

func (c ServiceConfig) withDefaults() ServiceConfig {
	if c.ReplyModel == "" {
		c.ReplyModel = "gpt-3.5-turbo"
	}
	if c.ExtractionModel == "" {
		c.ExtractionModel = "gpt-4"
	}
	if c.ClassifyMaxTokens <= 0 {
		c.ClassifyMaxTokens = 10
	}
	if c.ClassifyTemperature == nil {
		c.ClassifyTemperature = Temperature(0.3)
	}
	if c.ReplyMaxTokens <= 0 {
		c.ReplyMaxTokens = 150
	}
	if c.ReplyTemperature == nil {
		c.ReplyTemperature = Temperature(0.7)
	}
	if c.RewriteMaxTokens <= 0 {
		c.RewriteMaxTokens = 200
	}
	if c.CallTimeout <= 0 {
		c.CallTimeout = 15 * time.Second
	}
	if len(c.Categories) == 0 {
		c.Categories = DefaultCategories
	}
	return c
}

// Service implements Client on top of a provider Adapter with bounded
// retry and a per-attempt timeout.
type Service struct {
	adapter Adapter
	cfg     ServiceConfig
	log     *slog.Logger
	obs     metrics.Observer
}

func NewService(adapter Adapter, cfg ServiceConfig, log *slog.Logger, obs metrics.Observer) *Service {
	if log == nil {
		log = slog.Default()
	}
	if obs == nil {
		obs = metrics.NoopObserver{}
	}
	return &Service{adapter: adapter, cfg: cfg.withDefaults(), log: log, obs: obs}
}

func (s *Service) Classify(ctx context.Context, utterance string) (string, error) {
	system := "You classify what a restaurant phone customer wants. Respond with exactly one of: " +
		strings.Join(s.cfg.Categories, ", ") + ". No other words."
	text, err := s.call(ctx, "classify", errorsx.ReasonLLMClassify, Request{
		Model:       s.cfg.ReplyModel,
		Messages:    []Message{{Role: RoleSystem, Content: system}, {Role: RoleUser, Content: utterance}},
		MaxTokens:   s.cfg.ClassifyMaxTokens,
		Temperature: s.cfg.ClassifyTemperature,
	})
	if err != nil {
		return "", err
	}
	label := strings.ToLower(strings.TrimSpace(text))
	label = strings.Trim(label, " .\"'`")
	return label, nil
}

func (s *Service) Generate(ctx context.Context, messages []Message) (string, error) {
	return s.call(ctx, "generate", errorsx.ReasonLLMGenerate, Request{
		Model:       s.cfg.ReplyModel,
		Messages:    messages,
		MaxTokens:   s.cfg.ReplyMaxTokens,
		Temperature: s.cfg.ReplyTemperature,
	})
}

func (s *Service) Extract(ctx context.Context, schema string, conversation []Message) (string, error) {
	system := "Extract the order details from this restaurant phone conversation. " +
		"Return only a JSON object with these fields:\n" + schema +
		"\nUse null for anything the customer did not say."
	text, err := s.call(ctx, "extract", errorsx.ReasonLLMExtract, Request{
		Model: s.cfg.ExtractionModel,
		Messages: []Message{
			{Role: RoleSystem, Content: system},
			{Role: RoleUser, Content: Transcript(conversation)},
		},
		Temperature: Temperature(0.1),
		JSON:        true,
	})
	if err != nil {
		return "", err
	}
	return CleanJSON(text), nil
}

func (s *Service) Rewrite(ctx context.Context, draft string, facts []string) (string, error) {
	system := "You improve replies of a restaurant phone assistant. Work the facts into the reply " +
		"where relevant, keep the same tone, and keep it short enough to be spoken on a call."
	user := "Reply: " + draft + "\n\nFacts:\n- " + strings.Join(facts, "\n- ")
	text, err := s.call(ctx, "rewrite", errorsx.ReasonLLMRewrite, Request{
		Model:       s.cfg.ReplyModel,
		Messages:    []Message{{Role: RoleSystem, Content: system}, {Role: RoleUser, Content: user}},
		MaxTokens:   s.cfg.RewriteMaxTokens,
		Temperature: s.cfg.ReplyTemperature,
	})
	if err != nil {
		return "", err
	}
	return text, nil
}

// Sentiment scores the caller's mood in [-1, 1]. An unparseable answer
// scores 0.
func (s *Service) Sentiment(ctx context.Context, conversation []Message) (float64, error) {
	system := "Rate the customer's overall sentiment in this call from -1 (very negative) to 1 (very positive). " +
		"Respond with the number only."
	text, err := s.call(ctx, "sentiment", errorsx.ReasonLLMSentiment, Request{
		Model: s.cfg.ReplyModel,
		Messages: []Message{
			{Role: RoleSystem, Content: system},
			{Role: RoleUser, Content: Transcript(conversation)},
		},
		MaxTokens:   10,
		Temperature: Temperature(0.1),
	})
	if err != nil {
		return 0, err
	}
	return ParseScore(text), nil
}

func (s *Service) call(ctx context.Context, op string, reason errorsx.ReasonCode, req Request) (string, error) {
	start := time.Now()
	attempts := 0
	text, err := resilience.Retry(ctx, s.retryPolicy(ctx), func(ctx context.Context) (string, error) {
		attempts++
		callCtx, cancel := context.WithTimeout(ctx, s.cfg.CallTimeout)
		defer cancel()
		resp, err := s.adapter.Generate(callCtx, req)
		if err != nil {
			return "", err
		}
		out := strings.TrimSpace(resp.Text)
		if out == "" {
			return "", errors.New("empty completion")
		}
		return out, nil
	})
	outcome := "ok"
	if err != nil {
		outcome = "error"
		if resilience.IsRateLimit(err) {
			reason = errorsx.ReasonLLMRateLimit
		}
		s.log.Warn("llm_call_failed", "op", op, "attempts", attempts, "error", err, "reason_code", string(reason))
	}
	metrics.Emit(s.obs, metrics.EventLLMCall, float64(time.Since(start).Milliseconds()), map[string]string{
		"op":       op,
		"provider": s.adapter.Name(),
		"outcome":  outcome,
		"attempts": strconv.Itoa(attempts),
	})
	if err != nil {
		return "", errorsx.Wrap(fmt.Errorf("llm %s: %w", op, err), reason)
	}
	return text, nil
}

// retryPolicy also retries attempts cut off by the per-call timeout while
// the caller's own context is still live.
func (s *Service) retryPolicy(ctx context.Context) resilience.RetryPolicy {
	policy := s.cfg.Retry
	base := policy.IsRetryable
	if base == nil {
		base = resilience.DefaultIsRetryable
	}
	policy.IsRetryable = func(err error) bool {
		if ctx.Err() == nil && errors.Is(err, context.DeadlineExceeded) {
			return true
		}
		return base(err)
	}
	return policy
}

// Transcript renders turns as "role: content" lines.
func Transcript(messages []Message) string {
	var b strings.Builder
	for i, m := range messages {
		if i > 0 {
			b.WriteByte('\n')
		}
		role := m.Role
		if role == RoleUser {
			role = "customer"
		}
		b.WriteString(role)
		b.WriteString(": ")
		b.WriteString(m.Content)
	}
	return b.String()
}

// ParseScore reads the first number in text and clamps it to [-1, 1].
func ParseScore(text string) float64 {
	for _, field := range strings.Fields(text) {
		v, err := strconv.ParseFloat(strings.Trim(field, " .,;:\"'"), 64)
		if err != nil {
			continue
		}
		if v > 1 {
			return 1
		}
		if v < -1 {
			return -1
		}
		return v
	}
	return 0
}
