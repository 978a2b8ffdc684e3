package errorsx

import (
	"fmt"
	"testing"
)

func TestWrapAndReason(t *testing.T) {
	err := Wrap(assertErr{}, ReasonLLMGenerate)
	if Reason(err) != ReasonLLMGenerate {
		t.Fatalf("expected reason %s, got %s", ReasonLLMGenerate, Reason(err))
	}
	if !HasReason(err, ReasonLLMGenerate) {
		t.Fatalf("expected HasReason true")
	}
}

func TestWrapPreservesExistingReason(t *testing.T) {
	first := Wrap(assertErr{}, ReasonStoreRead)
	second := Wrap(first, ReasonLLMGenerate)
	if Reason(second) != ReasonStoreRead {
		t.Fatalf("expected reason preserved, got %s", Reason(second))
	}
}

func TestReasonSurvivesFmtWrap(t *testing.T) {
	err := fmt.Errorf("load session: %w", Wrap(assertErr{}, ReasonSessionNotFound))
	if !HasReason(err, ReasonSessionNotFound) {
		t.Fatalf("expected reason through fmt wrap, got %s", Reason(err))
	}
	if Wrap(nil, ReasonStoreWrite) != nil {
		t.Fatalf("expected nil passthrough")
	}
}

type assertErr struct{}

func (assertErr) Error() string { return "boom" }
