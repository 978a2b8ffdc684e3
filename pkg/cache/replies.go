package cache

import (
	"context"
	"log/slog"
	"time"

	"github.com/harunnryd/dineline/pkg/errorsx"
	"github.com/harunnryd/dineline/pkg/metrics"
)

// ReplyCache shares generated replies to short generic utterances across
// calls. Callers decide what is safe to share; this type only stores.
type ReplyCache struct {
	backend Backend
	ttl     time.Duration
	log     *slog.Logger
	obs     metrics.Observer
}

func NewReplyCache(backend Backend, opts Options) *ReplyCache {
	opts = opts.withDefaults(10 * time.Minute)
	return &ReplyCache{backend: backend, ttl: opts.TTL, log: opts.Logger, obs: opts.Observer}
}

// Get looks up a reply for a normalized utterance in one language.
func (c *ReplyCache) Get(ctx context.Context, language, utterance string) (string, bool) {
	raw, ok, err := c.backend.Get(ctx, replyKey(language, utterance))
	if err != nil {
		c.log.Warn("reply_cache_read_failed", "error", err, "reason_code", string(errorsx.ReasonCacheBackend))
		return "", false
	}
	if !ok || len(raw) == 0 {
		metrics.Emit(c.obs, metrics.EventCacheMiss, 1, map[string]string{"cache": "reply"})
		return "", false
	}
	metrics.Emit(c.obs, metrics.EventCacheHit, 1, map[string]string{"cache": "reply"})
	return string(raw), true
}

// Put stores reply for a normalized utterance in one language.
func (c *ReplyCache) Put(ctx context.Context, language, utterance, reply string) {
	if err := c.backend.Set(ctx, replyKey(language, utterance), []byte(reply), c.ttl); err != nil {
		c.log.Warn("reply_cache_write_failed", "error", err, "reason_code", string(errorsx.ReasonCacheBackend))
	}
}

func replyKey(language, utterance string) string { return "reply:" + language + ":" + utterance }
