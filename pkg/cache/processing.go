package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/harunnryd/dineline/pkg/errorsx"
)

// Pending is a long utterance parked between the acknowledgment and the
// follow-up processing request.
type Pending struct {
	Utterance  string    `json:"utterance"`
	Confidence float64   `json:"confidence"`
	ReceivedAt time.Time `json:"received_at"`
}

// ProcessingCache holds at most one pending utterance per call.
type ProcessingCache struct {
	backend Backend
	ttl     time.Duration
	log     *slog.Logger
}

func NewProcessingCache(backend Backend, opts Options) *ProcessingCache {
	opts = opts.withDefaults(60 * time.Second)
	return &ProcessingCache{backend: backend, ttl: opts.TTL, log: opts.Logger}
}

// Put stashes p under callID, replacing any earlier entry.
func (c *ProcessingCache) Put(ctx context.Context, callID string, p Pending) error {
	raw, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("encode pending utterance: %w", err)
	}
	if err := c.backend.Set(ctx, pendingKey(callID), raw, c.ttl); err != nil {
		return errorsx.Wrap(fmt.Errorf("stash pending utterance: %w", err), errorsx.ReasonCacheBackend)
	}
	return nil
}

// Take removes and returns the pending entry. A consumed entry is gone even
// when decoding fails, so a retried request cannot reprocess it.
func (c *ProcessingCache) Take(ctx context.Context, callID string) (Pending, bool, error) {
	raw, ok, err := c.backend.Take(ctx, pendingKey(callID))
	if err != nil {
		return Pending{}, false, errorsx.Wrap(fmt.Errorf("take pending utterance: %w", err), errorsx.ReasonCacheBackend)
	}
	if !ok {
		return Pending{}, false, nil
	}
	var p Pending
	if err := json.Unmarshal(raw, &p); err != nil {
		c.log.Warn("pending_entry_corrupt", "call_id", callID, "error", err)
		return Pending{}, false, nil
	}
	return p, true, nil
}

func pendingKey(callID string) string { return "pending:" + callID }
