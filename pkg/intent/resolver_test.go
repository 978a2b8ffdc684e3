package intent

import (
	"context"
	"errors"
	"testing"

	"github.com/harunnryd/dineline/pkg/metrics"
	"github.com/harunnryd/dineline/pkg/providers/mock"
)

func newResolver(t *testing.T, c Classifier) *Resolver {
	t.Helper()
	r, err := NewResolver(c, Config{}, nil, nil)
	if err != nil {
		t.Fatalf("new resolver: %v", err)
	}
	return r
}

func TestKeywordIntentsSkipClassifier(t *testing.T) {
	client := &mock.Client{Label: GeneralInquiry}
	r := newResolver(t, client)
	cases := map[string]string{
		"Okay, bye!":                EndCall,
		"I'd like a pizza":          NewOrder,
		"Can I book a table for 4?": Reservation,
		"  what's on the MENU  ":    NewOrder,
		"two pizzas please":         NewOrder,
		"I'm ordering for pickup":   NewOrder,
		"any tables free tonight?":  Reservation,
	}
	for utt, want := range cases {
		got := r.Resolve(context.Background(), utt)
		if got.Intent != want || got.Source != SourceKeyword {
			t.Fatalf("%q: got %+v, want %s via keyword", utt, got, want)
		}
	}
	if client.Calls("classify") != 0 {
		t.Fatalf("keyword intents must not call the classifier")
	}
}

func TestEndCallTakesPrecedence(t *testing.T) {
	r := newResolver(t, &mock.Client{})
	if got := r.Resolve(context.Background(), "that's all for my order, goodbye"); got.Intent != EndCall {
		t.Fatalf("expected end_call precedence, got %+v", got)
	}
}

func TestGuardDisablesOrderAndReservationSets(t *testing.T) {
	client := &mock.Client{Label: CancelOrder}
	r := newResolver(t, client)
	got := r.Resolve(context.Background(), "cancel my order")
	if got.Intent != CancelOrder || got.Source != SourceLLM {
		t.Fatalf("expected llm cancel_order, got %+v", got)
	}
	client.Label = CheckStatus
	if got := r.Resolve(context.Background(), "where is my pizza"); got.Intent != CheckStatus {
		t.Fatalf("expected guarded utterance to reach classifier, got %+v", got)
	}
}

func TestWholeWordMatching(t *testing.T) {
	client := &mock.Client{Label: GeneralInquiry}
	r := newResolver(t, client)
	if got := r.Resolve(context.Background(), "do you have a bookshelf"); got.Source != SourceLLM {
		t.Fatalf("substring must not trigger keyword, got %+v", got)
	}
}

func TestLLMResultIsMemoized(t *testing.T) {
	client := &mock.Client{Label: "General_Inquiry"}
	r := newResolver(t, client)
	ctx := context.Background()
	first := r.Resolve(ctx, "Do you have wifi?")
	second := r.Resolve(ctx, "do  you have wifi?")
	if first.Intent != GeneralInquiry || second.Source != SourceMemo {
		t.Fatalf("expected memo hit, got %+v then %+v", first, second)
	}
	if client.Calls("classify") != 1 {
		t.Fatalf("expected one classifier call, got %d", client.Calls("classify"))
	}
}

func TestFailuresResolveUnclearWithoutMemo(t *testing.T) {
	client := &mock.Client{ClassifyFunc: func(context.Context, string) (string, error) {
		return "", errors.New("retry exhausted")
	}}
	obs := metrics.NewMemoryObserver()
	r, err := NewResolver(client, Config{}, nil, obs)
	if err != nil {
		t.Fatalf("new resolver: %v", err)
	}
	ctx := context.Background()
	for i := 0; i < 2; i++ {
		if got := r.Resolve(ctx, "hmm well"); got.Intent != Unclear || got.Source != SourceFallback {
			t.Fatalf("expected unclear fallback, got %+v", got)
		}
	}
	if client.Calls("classify") != 2 {
		t.Fatalf("fallback must not be memoized")
	}
	if len(obs.Tagged(metrics.EventIntentResolved, "source", SourceFallback)) != 2 {
		t.Fatalf("expected fallback metrics")
	}
}

func TestUnknownLabelIsUnclear(t *testing.T) {
	client := &mock.Client{Label: "buy_stuff"}
	r := newResolver(t, client)
	ctx := context.Background()
	if got := r.Resolve(ctx, "something odd"); got.Intent != Unclear {
		t.Fatalf("expected unclear, got %+v", got)
	}
	r.Resolve(ctx, "something odd")
	if client.Calls("classify") != 2 {
		t.Fatalf("unknown labels must not be memoized")
	}
}
