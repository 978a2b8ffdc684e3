// Package intent maps a caller utterance to one of a fixed set of intents,
// preferring keyword rules and a memo over a model call.
package intent

import (
	"context"
	"log/slog"
	"strings"

	"github.com/harunnryd/dineline/pkg/errorsx"
	"github.com/harunnryd/dineline/pkg/metrics"
	"github.com/harunnryd/dineline/pkg/textnorm"
	lru "github.com/hashicorp/golang-lru/v2"
)

const (
	NewOrder       = "new_order"
	ModifyOrder    = "modify_order"
	CancelOrder    = "cancel_order"
	CheckStatus    = "check_status"
	Reservation    = "reservation"
	GeneralInquiry = "general_inquiry"
	EndCall        = "end_call"
	Unclear        = "unclear"
)

// Categories is the closed intent set in classifier prompt order.
var Categories = []string{
	NewOrder, ModifyOrder, CancelOrder, CheckStatus,
	Reservation, GeneralInquiry, EndCall, Unclear,
}

const (
	SourceKeyword  = "keyword"
	SourceMemo     = "memo"
	SourceLLM      = "llm"
	SourceFallback = "fallback"
)

type Result struct {
	Intent string
	Source string
}

// Classifier is the model-backed fallback. Retries happen behind it.
type Classifier interface {
	Classify(ctx context.Context, utterance string) (string, error)
}

type Config struct {
	MemoSize         int      `mapstructure:"memo_size"`
	EndCallTerms     []string `mapstructure:"end_call_terms"`
	NewOrderTerms    []string `mapstructure:"new_order_terms"`
	ReservationTerms []string `mapstructure:"reservation_terms"`
	GuardTerms       []string `mapstructure:"guard_terms"`
}

func (c Config) withDefaults() Config {
	if c.MemoSize <= 0 {
		c.MemoSize = 1024
	}
	if len(c.EndCallTerms) == 0 {
		c.EndCallTerms = []string{"bye", "goodbye", "good bye", "hang up", "that's all", "that is all", "end the call"}
	}
	if len(c.NewOrderTerms) == 0 {
		c.NewOrderTerms = []string{"order", "ordering", "pizza", "pizzas", "pasta", "pastas", "food", "menu"}
	}
	if len(c.ReservationTerms) == 0 {
		c.ReservationTerms = []string{"reserve", "reservation", "reservations", "book", "booking", "table", "tables"}
	}
	if len(c.GuardTerms) == 0 {
		c.GuardTerms = []string{"cancel", "change", "modify", "status", "track", "where is"}
	}
	return c
}

type termSet struct {
	intent  string
	terms   []string
	guarded bool
}

// Resolver classifies utterances. It is safe for concurrent use.
type Resolver struct {
	classifier Classifier
	memo       *lru.Cache[string, string]
	sets       []termSet
	guard      []string
	valid      map[string]bool
	log        *slog.Logger
	obs        metrics.Observer
}

func NewResolver(classifier Classifier, cfg Config, log *slog.Logger, obs metrics.Observer) (*Resolver, error) {
	cfg = cfg.withDefaults()
	memo, err := lru.New[string, string](cfg.MemoSize)
	if err != nil {
		return nil, err
	}
	if log == nil {
		log = slog.Default()
	}
	if obs == nil {
		obs = metrics.NoopObserver{}
	}
	valid := make(map[string]bool, len(Categories))
	for _, c := range Categories {
		valid[c] = true
	}
	return &Resolver{
		classifier: classifier,
		memo:       memo,
		sets: []termSet{
			{intent: EndCall, terms: cfg.EndCallTerms},
			{intent: NewOrder, terms: cfg.NewOrderTerms, guarded: true},
			{intent: Reservation, terms: cfg.ReservationTerms, guarded: true},
		},
		guard: cfg.GuardTerms,
		valid: valid,
		log:   log,
		obs:   obs,
	}, nil
}

// Resolve never fails: classifier errors and unknown labels resolve to
// unclear and are not memoized.
func (r *Resolver) Resolve(ctx context.Context, utterance string) Result {
	text := textnorm.Normalize(utterance)
	res := r.resolve(ctx, text)
	metrics.Emit(r.obs, metrics.EventIntentResolved, 1, map[string]string{"intent": res.Intent, "source": res.Source})
	return res
}

func (r *Resolver) resolve(ctx context.Context, text string) Result {
	if text == "" {
		return Result{Intent: Unclear, Source: SourceFallback}
	}
	if intent, ok := r.keyword(text); ok {
		r.memo.Add(text, intent)
		return Result{Intent: intent, Source: SourceKeyword}
	}
	if intent, ok := r.memo.Get(text); ok {
		return Result{Intent: intent, Source: SourceMemo}
	}
	if r.classifier == nil {
		return Result{Intent: Unclear, Source: SourceFallback}
	}
	label, err := r.classifier.Classify(ctx, text)
	if err != nil {
		r.log.Warn("intent_llm_failed", "error", err, "reason_code", string(errorsx.Reason(err)))
		return Result{Intent: Unclear, Source: SourceFallback}
	}
	label = strings.ToLower(strings.TrimSpace(label))
	if !r.valid[label] {
		r.log.Warn("intent_llm_unknown_label", "label", label)
		return Result{Intent: Unclear, Source: SourceFallback}
	}
	r.memo.Add(text, label)
	return Result{Intent: label, Source: SourceLLM}
}

func (r *Resolver) keyword(text string) (string, bool) {
	_, guarded := textnorm.MatchAny(text, r.guard)
	for _, set := range r.sets {
		if set.guarded && guarded {
			continue
		}
		if _, ok := textnorm.MatchAny(text, set.terms); ok {
			return set.intent, true
		}
	}
	return "", false
}
