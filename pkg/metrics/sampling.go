package metrics

import (
	"math"
	"sync/atomic"
)

// SamplingObserver forwards a deterministic share of high-volume events.
// Names listed in keep always pass.
type SamplingObserver struct {
	inner       Observer
	rate        float64
	sampleEvery uint64
	counter     uint64
	keep        map[string]bool
}

// AlwaysKept are the events a sampled sink must never lose: they are rare
// and each one describes a whole call or a failure.
var AlwaysKept = []string{EventTurnFailed, EventCallCompleted, EventEscalation, EventOrderCreated, EventBreakerOpen}

func NewSamplingObserver(inner Observer, rate float64, keep ...string) *SamplingObserver {
	if rate > 1 {
		rate = 1
	}
	if rate < 0 {
		rate = 0
	}
	var every uint64
	switch {
	case rate == 0:
		every = 0
	case rate == 1:
		every = 1
	default:
		every = uint64(math.Round(1.0 / rate))
		if every == 0 {
			every = 1
		}
	}
	k := make(map[string]bool, len(keep))
	for _, name := range keep {
		k[name] = true
	}
	return &SamplingObserver{inner: inner, rate: rate, sampleEvery: every, keep: k}
}

func (s *SamplingObserver) RecordEvent(ev MetricsEvent) {
	if s.keep[ev.Name] {
		s.inner.RecordEvent(ev)
		return
	}
	if s.rate == 0 {
		return
	}
	if s.sampleEvery <= 1 {
		s.inner.RecordEvent(ev)
		return
	}
	n := atomic.AddUint64(&s.counter, 1)
	if n%s.sampleEvery == 0 {
		s.inner.RecordEvent(ev)
	}
}
