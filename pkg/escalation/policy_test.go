package escalation

import (
	"context"
	"sync"
	"testing"

	"github.com/harunnryd/dineline/pkg/locale"
	"github.com/harunnryd/dineline/pkg/metrics"
	"github.com/harunnryd/dineline/pkg/store"
)

func setup(t *testing.T) (*Policy, *store.Store, *store.Session, *metrics.MemoryObserver) {
	t.Helper()
	st, err := store.OpenInMemory()
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { _ = st.Close() })
	sess, _, err := st.CreateSession(context.Background(), "CA1", "+15551234567", locale.EnglishUS)
	if err != nil {
		t.Fatalf("create session: %v", err)
	}
	obs := metrics.NewMemoryObserver()
	return NewPolicy(st, nil, Config{}, nil, obs), st, sess, obs
}

func TestNoInputLadder(t *testing.T) {
	p, st, sess, obs := setup(t)
	ctx := context.Background()
	book := locale.NewBook("", locale.EnglishUS, nil)
	want := []struct {
		action Action
		key    locale.Key
	}{
		{ActionPrompt, locale.NoInputGentle},
		{ActionPrompt, locale.NoInputDirect},
		{ActionHangup, locale.NoInputGoodbye},
	}
	for i, w := range want {
		d, err := p.Record(ctx, Event{Kind: NoInput, Session: sess, Language: locale.EnglishUS})
		if err != nil {
			t.Fatalf("record %d: %v", i, err)
		}
		if d.Action != w.action || d.Count != i+1 || d.Text != book.Text(locale.EnglishUS, w.key) {
			t.Fatalf("event %d: unexpected decision %+v", i+1, d)
		}
	}
	reloaded, err := st.SessionByCallID(ctx, "CA1")
	if err != nil {
		t.Fatalf("reload: %v", err)
	}
	if reloaded.Active() {
		t.Fatalf("expected session finalized after third no-input")
	}
	if len(reloaded.Conversation()) != 0 {
		t.Fatalf("sentinels must not appear in the conversation")
	}
	if len(obs.Tagged(metrics.EventEscalation, "action", string(ActionHangup))) != 1 {
		t.Fatalf("expected one hangup escalation event")
	}
}

func TestEndedSessionSaysGoodbyeWithoutAppending(t *testing.T) {
	p, st, sess, _ := setup(t)
	ctx := context.Background()
	if _, err := st.FinalizeSession(ctx, sess.CallID, p.now()); err != nil {
		t.Fatalf("finalize: %v", err)
	}
	ended, _ := st.SessionByCallID(ctx, sess.CallID)
	d, err := p.Record(ctx, Event{Kind: SpeechFallback, Session: ended, Language: locale.EnglishUS})
	if err != nil {
		t.Fatalf("record: %v", err)
	}
	if d.Action != ActionHangup || d.Count != 0 {
		t.Fatalf("unexpected decision %+v", d)
	}
	if n, _ := st.CountTurns(ctx, sess.ID, store.SentinelSpeechFallback); n != 0 {
		t.Fatalf("expected no sentinel appended, got %d", n)
	}
}

func TestSpeechFallbackTransfersWithoutFinalizing(t *testing.T) {
	p, st, sess, _ := setup(t)
	ctx := context.Background()
	first, _ := p.Record(ctx, Event{Kind: SpeechFallback, Session: sess})
	second, _ := p.Record(ctx, Event{Kind: SpeechFallback, Session: sess})
	if first.Action != ActionPrompt || second.Action != ActionTransfer {
		t.Fatalf("expected repeat then transfer, got %+v %+v", first, second)
	}
	reloaded, _ := st.SessionByCallID(ctx, sess.CallID)
	if !reloaded.Active() {
		t.Fatalf("transfer must not finalize the session")
	}
}

func TestTracksAreIndependent(t *testing.T) {
	p, _, sess, _ := setup(t)
	ctx := context.Background()
	if d, _ := p.Record(ctx, Event{Kind: SpeechFallback, Session: sess}); d.Count != 1 {
		t.Fatalf("unexpected count %d", d.Count)
	}
	if d, _ := p.Record(ctx, Event{Kind: NoInput, Session: sess}); d.Count != 1 || d.Action != ActionPrompt {
		t.Fatalf("no-input must not count fallbacks, got %+v", d)
	}
}

func TestConcurrentNoInputFinalizesOnce(t *testing.T) {
	p, _, sess, _ := setup(t)
	ctx := context.Background()
	if _, err := p.Record(ctx, Event{Kind: NoInput, Session: sess}); err != nil {
		t.Fatalf("record: %v", err)
	}
	if _, err := p.Record(ctx, Event{Kind: NoInput, Session: sess}); err != nil {
		t.Fatalf("record: %v", err)
	}

	var wg sync.WaitGroup
	var mu sync.Mutex
	finalized := 0
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			d, err := p.Record(ctx, Event{Kind: NoInput, Session: sess})
			if err != nil {
				t.Errorf("record: %v", err)
				return
			}
			if d.Action != ActionHangup {
				t.Errorf("expected hangup past threshold, got %+v", d)
			}
			if d.Finalized {
				mu.Lock()
				finalized++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	if finalized != 1 {
		t.Fatalf("expected exactly one finalize, got %d", finalized)
	}
}

func TestUnknownKind(t *testing.T) {
	p, _, sess, _ := setup(t)
	if _, err := p.Record(context.Background(), Event{Kind: "beep", Session: sess}); err == nil {
		t.Fatalf("expected error for unknown kind")
	}
}

func TestMissingSession(t *testing.T) {
	p, _, _, _ := setup(t)
	if _, err := p.Record(context.Background(), Event{Kind: NoInput}); err == nil {
		t.Fatalf("expected error without session")
	}
}
