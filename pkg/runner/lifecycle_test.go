package runner

import (
	"context"
	"errors"
	"io"
	"sync/atomic"
	"testing"
	"time"
)

func init() { BannerOutput = io.Discard }

func TestRunDrainsOnCancel(t *testing.T) {
	var drained, stopped atomic.Bool
	r := NewLifecycleRunner(DrainerFunc(func(ctx context.Context) error {
		drained.Store(true)
		return nil
	}), Hooks{OnStop: func() { stopped.Store(true) }}, time.Second)

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- r.Run(ctx) }()
	deadline := time.Now().Add(time.Second)
	for r.State() != StateRunning && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if r.State() != StateRunning {
		t.Fatalf("expected running, got %s", r.State())
	}
	cancel()
	if err := <-errCh; err != nil {
		t.Fatalf("run: %v", err)
	}
	if !drained.Load() || !stopped.Load() || r.State() != StateStopped {
		t.Fatalf("expected drain and stop hooks, state %s", r.State())
	}
	if err := r.Stop(); err != nil {
		t.Fatalf("second stop must be a no-op, got %v", err)
	}
}

func TestStopReportsDrainTimeout(t *testing.T) {
	r := NewLifecycleRunner(DrainerFunc(func(ctx context.Context) error {
		time.Sleep(200 * time.Millisecond)
		return nil
	}), Hooks{}, 20*time.Millisecond)
	if err := r.Stop(); !errors.Is(err, ErrDrainTimeout) {
		t.Fatalf("expected drain timeout, got %v", err)
	}
}

func TestStartFailureAbortsRun(t *testing.T) {
	boom := errors.New("listen failed")
	r := NewLifecycleRunner(nil, Hooks{OnStart: func() error { return boom }}, time.Second)
	if err := r.Run(context.Background()); !errors.Is(err, boom) {
		t.Fatalf("expected start error, got %v", err)
	}
	if r.State() != StateStopped {
		t.Fatalf("expected stopped after failed start, got %s", r.State())
	}
	if err := r.Run(context.Background()); err == nil {
		t.Fatalf("expected second run rejected")
	}
}
