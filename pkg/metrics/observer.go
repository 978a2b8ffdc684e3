package metrics

import "time"

type MetricsEvent struct {
	Name   string
	Time   time.Time
	Value  float64
	Tags   map[string]string
	Fields map[string]any
}

type Observer interface {
	RecordEvent(ev MetricsEvent)
}

type Flusher interface {
	Flush() error
}

type NoopObserver struct{}

func (NoopObserver) RecordEvent(MetricsEvent) {}

// Event names emitted by the call engine.
const (
	EventTurnCompleted = "turn_completed"
	EventTurnDeferred  = "turn_deferred"
	EventTurnFailed    = "turn_failed"
	EventCallCompleted = "call_completed"

	EventIntentResolved = "intent_resolved"
	EventReplySource    = "reply_source"
	EventLLMCall        = "llm_call"
	EventRateLimit      = "llm_rate_limit"
	EventBreakerOpen    = "llm_breaker_open"
	EventBreakerClose   = "llm_breaker_close"
	EventBreakerDenied  = "llm_breaker_denied"

	EventCacheHit  = "cache_hit"
	EventCacheMiss = "cache_miss"

	EventEscalation   = "escalation"
	EventOrderCreated = "order_created"
)

// TagCallID keys per-call events.
const TagCallID = "call_id"

// Emit records a named event with tags when obs is non-nil.
func Emit(obs Observer, name string, value float64, tags map[string]string) {
	if obs == nil {
		return
	}
	obs.RecordEvent(MetricsEvent{Name: name, Time: time.Now(), Value: value, Tags: tags})
}
