package observers

import (
	"log/slog"
	"sync"

	"github.com/harunnryd/dineline/pkg/metrics"
)

// CallSummaryObserver aggregates per-call turn latency and escalations and
// logs one summary line when the call completes.
type CallSummaryObserver struct {
	mu    sync.Mutex
	calls map[string]*callStats
	log   *slog.Logger
}

type callStats struct {
	turns       int
	failed      int
	deferred    int
	escalations int
	totalMS     float64
	maxMS       float64
	orders      int
}

func NewCallSummaryObserver(log *slog.Logger) *CallSummaryObserver {
	if log == nil {
		log = slog.Default()
	}
	return &CallSummaryObserver{calls: make(map[string]*callStats), log: log}
}

func (o *CallSummaryObserver) RecordEvent(ev metrics.MetricsEvent) {
	callID := ev.Tags[metrics.TagCallID]
	if callID == "" {
		return
	}
	o.mu.Lock()
	defer o.mu.Unlock()
	st := o.calls[callID]
	if st == nil {
		if ev.Name == metrics.EventCallCompleted {
			return
		}
		st = &callStats{}
		o.calls[callID] = st
	}
	switch ev.Name {
	case metrics.EventTurnCompleted:
		st.turns++
		st.totalMS += ev.Value
		if ev.Value > st.maxMS {
			st.maxMS = ev.Value
		}
	case metrics.EventTurnFailed:
		st.failed++
	case metrics.EventTurnDeferred:
		st.deferred++
	case metrics.EventEscalation:
		st.escalations++
	case metrics.EventOrderCreated:
		st.orders++
	case metrics.EventCallCompleted:
		o.logSummaryLocked(callID, st, ev.Value)
		delete(o.calls, callID)
	}
}

// Active reports how many calls have open summaries.
func (o *CallSummaryObserver) Active() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return len(o.calls)
}

func (o *CallSummaryObserver) logSummaryLocked(callID string, st *callStats, durationSeconds float64) {
	avg := int64(-1)
	if st.turns > 0 {
		avg = int64(st.totalMS / float64(st.turns))
	}
	o.log.Info("call_summary",
		"call_id", callID,
		"turns", st.turns,
		"failed_turns", st.failed,
		"deferred_turns", st.deferred,
		"escalations", st.escalations,
		"orders_created", st.orders,
		"avg_turn_ms", avg,
		"max_turn_ms", int64(st.maxMS),
		"duration_s", int64(durationSeconds),
	)
}

var _ metrics.Observer = (*CallSummaryObserver)(nil)
