package metrics

import (
	"sync"
	"sync/atomic"
	"time"
)

// AsyncObserver moves event delivery off the request path. Events are
// dropped, and counted, when the buffer is full.
type AsyncObserver struct {
	inner   Observer
	ch      chan MetricsEvent
	done    chan struct{}
	dropped int64
	closed  atomic.Bool
	once    sync.Once
}

func NewAsyncObserver(inner Observer, buffer int) *AsyncObserver {
	if buffer <= 0 {
		buffer = 256
	}
	a := &AsyncObserver{
		inner: inner,
		ch:    make(chan MetricsEvent, buffer),
		done:  make(chan struct{}),
	}
	go a.loop()
	return a
}

func (a *AsyncObserver) RecordEvent(ev MetricsEvent) {
	if a == nil || a.closed.Load() {
		return
	}
	select {
	case a.ch <- ev:
	default:
		atomic.AddInt64(&a.dropped, 1)
	}
}

func (a *AsyncObserver) Dropped() int64 {
	return atomic.LoadInt64(&a.dropped)
}

// Close stops intake and waits up to timeout for queued events to be
// delivered. It reports whether the queue drained in time.
func (a *AsyncObserver) Close(timeout time.Duration) bool {
	if a == nil {
		return true
	}
	a.once.Do(func() {
		a.closed.Store(true)
		close(a.ch)
	})
	if timeout <= 0 {
		<-a.done
		return true
	}
	select {
	case <-a.done:
		return true
	case <-time.After(timeout):
		return false
	}
}

func (a *AsyncObserver) loop() {
	defer close(a.done)
	for ev := range a.ch {
		a.inner.RecordEvent(ev)
	}
}
