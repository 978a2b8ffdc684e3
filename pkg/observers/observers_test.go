package observers

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/harunnryd/dineline/pkg/metrics"
	"github.com/harunnryd/dineline/pkg/redact"
)

func callEvent(name, callID string, value float64) metrics.MetricsEvent {
	return metrics.MetricsEvent{
		Name:  name,
		Time:  time.Now(),
		Value: value,
		Tags:  map[string]string{metrics.TagCallID: callID, "language": "en-US"},
	}
}

func TestTimelineObserverWritesJSONL(t *testing.T) {
	redact.SetEnabled(true)
	defer redact.SetEnabled(false)
	dir := t.TempDir()
	obs := NewTimelineObserver(dir)

	obs.RecordEvent(callEvent(metrics.EventTurnCompleted, "CA/1", 120))
	obs.RecordEvent(metrics.MetricsEvent{
		Name:   metrics.EventTurnFailed,
		Time:   time.Now(),
		Tags:   map[string]string{metrics.TagCallID: "CA/1"},
		Fields: map[string]any{"message": "call me at 555-123-4567"},
	})
	obs.RecordEvent(callEvent(metrics.EventCallCompleted, "CA/1", 42))
	obs.RecordEvent(metrics.MetricsEvent{Name: metrics.EventLLMCall, Time: time.Now()})
	_ = obs.Close()

	b, err := os.ReadFile(filepath.Join(dir, "CA_1.jsonl"))
	if err != nil {
		t.Fatalf("read file: %v", err)
	}
	lines := strings.Split(strings.TrimSpace(string(b)), "\n")
	if len(lines) != 3 {
		t.Fatalf("expected 3 timeline lines, got %d", len(lines))
	}
	var first timelineEvent
	if err := json.Unmarshal([]byte(lines[0]), &first); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if first.Event != metrics.EventTurnCompleted || first.CallID != "CA/1" || first.Tags["language"] != "en-US" {
		t.Fatalf("unexpected first entry %+v", first)
	}
	if _, dup := first.Tags[metrics.TagCallID]; dup {
		t.Fatalf("call id must not repeat inside tags")
	}
	if strings.Contains(lines[1], "555-123-4567") {
		t.Fatalf("expected phone number redacted, got %s", lines[1])
	}
	if len(obs.files) != 0 {
		t.Fatalf("expected file closed after call_completed")
	}
}

func TestTimelineObserverDisabledWithoutDir(t *testing.T) {
	obs := NewTimelineObserver("")
	obs.RecordEvent(callEvent(metrics.EventTurnCompleted, "CA1", 1))
	if len(obs.files) != 0 {
		t.Fatalf("expected no files without a directory")
	}
}

func TestPurgeArtifactsOnlyOldTimelines(t *testing.T) {
	dir := t.TempDir()
	old := time.Now().Add(-48 * time.Hour)
	for _, name := range []string{"old.jsonl", "usage.json"} {
		path := filepath.Join(dir, name)
		if err := os.WriteFile(path, []byte("{}"), 0o644); err != nil {
			t.Fatalf("write: %v", err)
		}
		if err := os.Chtimes(path, old, old); err != nil {
			t.Fatalf("chtimes: %v", err)
		}
	}
	if err := os.WriteFile(filepath.Join(dir, "fresh.jsonl"), []byte("{}"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	n, err := PurgeArtifacts(dir, 24*time.Hour)
	if err != nil || n != 1 {
		t.Fatalf("expected one purged file, got %d %v", n, err)
	}
	if _, err := os.Stat(filepath.Join(dir, "usage.json")); err != nil {
		t.Fatalf("non-timeline file must survive: %v", err)
	}
	if n, err := PurgeArtifacts(filepath.Join(dir, "missing"), time.Hour); n != 0 || err != nil {
		t.Fatalf("missing dir should be a no-op, got %d %v", n, err)
	}
}

func TestCallSummaryObserverLogsOnCompletion(t *testing.T) {
	var buf bytes.Buffer
	log := slog.New(slog.NewJSONHandler(&buf, nil))
	obs := NewCallSummaryObserver(log)
	obs.RecordEvent(callEvent(metrics.EventTurnCompleted, "CA1", 100))
	obs.RecordEvent(callEvent(metrics.EventTurnCompleted, "CA1", 300))
	obs.RecordEvent(callEvent(metrics.EventEscalation, "CA1", 1))
	obs.RecordEvent(callEvent(metrics.EventTurnCompleted, "CA2", 50))
	if obs.Active() != 2 {
		t.Fatalf("expected 2 open calls, got %d", obs.Active())
	}
	obs.RecordEvent(callEvent(metrics.EventCallCompleted, "CA1", 30))
	if obs.Active() != 1 {
		t.Fatalf("expected summary dropped after completion")
	}
	var line map[string]any
	if err := json.Unmarshal(buf.Bytes(), &line); err != nil {
		t.Fatalf("decode summary: %v (%s)", err, buf.String())
	}
	if line["msg"] != "call_summary" || line["turns"].(float64) != 2 || line["avg_turn_ms"].(float64) != 200 ||
		line["max_turn_ms"].(float64) != 300 || line["escalations"].(float64) != 1 {
		t.Fatalf("unexpected summary %v", line)
	}
}

func TestUsageObserverCountsAndWrites(t *testing.T) {
	dir := t.TempDir()
	obs := NewUsageObserver(dir)
	metrics.Emit(obs, metrics.EventLLMCall, 40, map[string]string{"op": "classify", "outcome": "ok"})
	metrics.Emit(obs, metrics.EventLLMCall, 60, map[string]string{"op": "classify", "outcome": "error"})
	metrics.Emit(obs, metrics.EventCacheHit, 1, map[string]string{"cache": "reply"})
	metrics.Emit(obs, metrics.EventBreakerDenied, 1, nil)
	snap := obs.Snapshot()
	if snap.LLMCalls["classify"] != 2 || snap.LLMFailures["classify"] != 1 || snap.LLMLatencyMS["classify"] != 100 {
		t.Fatalf("unexpected llm totals %+v", snap)
	}
	if snap.CacheHits["reply"] != 1 || snap.BreakerDenied != 1 {
		t.Fatalf("unexpected cache or breaker totals %+v", snap)
	}
	if err := obs.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	if _, err := os.Stat(filepath.Join(dir, "usage.json")); err != nil {
		t.Fatalf("expected usage.json: %v", err)
	}
}

func TestMultiObserverSkipsNil(t *testing.T) {
	m := metrics.NewMemoryObserver()
	multi := NewMultiObserver(nil, m, NewLoggerObserver(slog.New(slog.NewTextHandler(&bytes.Buffer{}, nil)), slog.LevelDebug))
	metrics.Emit(multi, metrics.EventCacheMiss, 1, nil)
	if m.Count(metrics.EventCacheMiss) != 1 {
		t.Fatalf("expected event fanned out")
	}
	if err := multi.Flush(); err != nil {
		t.Fatalf("flush: %v", err)
	}
}
