package observers

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/harunnryd/dineline/pkg/metrics"
)

// UsageSummary totals model calls and cache effectiveness for one process
// run.
type UsageSummary struct {
	LLMCalls      map[string]int `json:"llm_calls"`
	LLMFailures   map[string]int `json:"llm_failures"`
	LLMLatencyMS  map[string]int `json:"llm_latency_ms"`
	BreakerDenied int            `json:"breaker_denied"`
	CacheHits     map[string]int `json:"cache_hits"`
	CacheMisses   map[string]int `json:"cache_misses"`
	RecordedAtUTC string         `json:"recorded_at_utc"`
}

// UsageObserver counts model calls per operation so spend can be traced
// back to the reply sources that caused it. Close writes usage.json.
type UsageObserver struct {
	dir   string
	mu    sync.Mutex
	stats UsageSummary
}

func NewUsageObserver(dir string) *UsageObserver {
	return &UsageObserver{dir: dir, stats: UsageSummary{
		LLMCalls:     map[string]int{},
		LLMFailures:  map[string]int{},
		LLMLatencyMS: map[string]int{},
		CacheHits:    map[string]int{},
		CacheMisses:  map[string]int{},
	}}
}

func (o *UsageObserver) RecordEvent(ev metrics.MetricsEvent) {
	o.mu.Lock()
	defer o.mu.Unlock()
	switch ev.Name {
	case metrics.EventLLMCall:
		op := ev.Tags["op"]
		o.stats.LLMCalls[op]++
		o.stats.LLMLatencyMS[op] += int(ev.Value)
		if ev.Tags["outcome"] != "ok" {
			o.stats.LLMFailures[op]++
		}
	case metrics.EventBreakerDenied:
		o.stats.BreakerDenied++
	case metrics.EventCacheHit:
		o.stats.CacheHits[ev.Tags["cache"]]++
	case metrics.EventCacheMiss:
		o.stats.CacheMisses[ev.Tags["cache"]]++
	}
}

// Snapshot returns a copy of the running totals.
func (o *UsageObserver) Snapshot() UsageSummary {
	o.mu.Lock()
	defer o.mu.Unlock()
	out := o.stats
	out.LLMCalls = copyCounts(o.stats.LLMCalls)
	out.LLMFailures = copyCounts(o.stats.LLMFailures)
	out.LLMLatencyMS = copyCounts(o.stats.LLMLatencyMS)
	out.CacheHits = copyCounts(o.stats.CacheHits)
	out.CacheMisses = copyCounts(o.stats.CacheMisses)
	return out
}

func (o *UsageObserver) Close() error {
	if strings.TrimSpace(o.dir) == "" {
		return nil
	}
	snap := o.Snapshot()
	snap.RecordedAtUTC = time.Now().UTC().Format(time.RFC3339)
	b, err := json.MarshalIndent(snap, "", "  ")
	if err != nil {
		return err
	}
	if err := os.MkdirAll(o.dir, 0o755); err != nil {
		return err
	}
	return os.WriteFile(filepath.Join(o.dir, "usage.json"), b, 0o644)
}

func copyCounts(in map[string]int) map[string]int {
	out := make(map[string]int, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}

var _ metrics.Observer = (*UsageObserver)(nil)
