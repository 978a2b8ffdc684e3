package cache

import (
	"context"
	"encoding/json"
	"log/slog"
	"strconv"
	"time"

	"github.com/harunnryd/dineline/pkg/errorsx"
	"github.com/harunnryd/dineline/pkg/metrics"
	"github.com/harunnryd/dineline/pkg/store"
)

// Source is the durable read path behind the session cache.
type Source interface {
	SessionByCallID(ctx context.Context, callID string) (*store.Session, error)
	OrderByID(ctx context.Context, id uint) (*store.Order, error)
}

// SessionCache is a read-through view of sessions and orders keyed by call
// id and order id. Backend failures and undecodable entries fall through to
// the durable source; a miss is never reported as "does not exist" unless
// the source says so.
type SessionCache struct {
	backend Backend
	source  Source
	ttl     time.Duration
	log     *slog.Logger
	obs     metrics.Observer
}

// Options tunes a cache. Zero values take defaults.
type Options struct {
	TTL      time.Duration
	Logger   *slog.Logger
	Observer metrics.Observer
}

func (o Options) withDefaults(ttl time.Duration) Options {
	if o.TTL <= 0 {
		o.TTL = ttl
	}
	if o.Logger == nil {
		o.Logger = slog.Default()
	}
	if o.Observer == nil {
		o.Observer = metrics.NoopObserver{}
	}
	return o
}

func NewSessionCache(backend Backend, source Source, opts Options) *SessionCache {
	opts = opts.withDefaults(30 * time.Second)
	return &SessionCache{
		backend: backend,
		source:  source,
		ttl:     opts.TTL,
		log:     opts.Logger,
		obs:     opts.Observer,
	}
}

// Get returns the session for callID, reading through to the store on miss.
// It returns store.ErrNotFound only when the store has no such session.
func (c *SessionCache) Get(ctx context.Context, callID string) (*store.Session, error) {
	key := sessionKey(callID)
	var snap store.Session
	if c.lookup(ctx, key, "session", &snap) {
		return &snap, nil
	}
	sess, err := c.source.SessionByCallID(ctx, callID)
	if err != nil {
		return nil, err
	}
	c.fill(ctx, key, sess)
	return sess, nil
}

// GetOrder returns an order, reading through to the store on miss.
func (c *SessionCache) GetOrder(ctx context.Context, orderID uint) (*store.Order, error) {
	key := orderKey(orderID)
	var snap store.Order
	if c.lookup(ctx, key, "order", &snap) {
		return &snap, nil
	}
	order, err := c.source.OrderByID(ctx, orderID)
	if err != nil {
		return nil, err
	}
	c.fill(ctx, key, order)
	return order, nil
}

// Invalidate drops the cached session so the next read observes fresh state.
func (c *SessionCache) Invalidate(ctx context.Context, callID string) {
	c.drop(ctx, sessionKey(callID))
}

// InvalidateOrder drops the cached order.
func (c *SessionCache) InvalidateOrder(ctx context.Context, orderID uint) {
	c.drop(ctx, orderKey(orderID))
}

func (c *SessionCache) lookup(ctx context.Context, key, kind string, out any) bool {
	raw, ok, err := c.backend.Get(ctx, key)
	if err != nil {
		c.log.Warn("cache_read_failed", "key", key, "error", err, "reason_code", string(errorsx.ReasonCacheBackend))
		c.record(metrics.EventCacheMiss, kind)
		return false
	}
	if !ok {
		c.record(metrics.EventCacheMiss, kind)
		return false
	}
	if err := json.Unmarshal(raw, out); err != nil {
		c.log.Warn("cache_entry_corrupt", "key", key, "error", err, "reason_code", string(errorsx.ReasonCacheBackend))
		c.drop(ctx, key)
		c.record(metrics.EventCacheMiss, kind)
		return false
	}
	c.record(metrics.EventCacheHit, kind)
	return true
}

func (c *SessionCache) fill(ctx context.Context, key string, v any) {
	raw, err := json.Marshal(v)
	if err != nil {
		c.log.Warn("cache_encode_failed", "key", key, "error", err)
		return
	}
	if err := c.backend.Set(ctx, key, raw, c.ttl); err != nil {
		c.log.Warn("cache_write_failed", "key", key, "error", err, "reason_code", string(errorsx.ReasonCacheBackend))
	}
}

func (c *SessionCache) drop(ctx context.Context, key string) {
	if err := c.backend.Delete(ctx, key); err != nil {
		c.log.Warn("cache_invalidate_failed", "key", key, "error", err, "reason_code", string(errorsx.ReasonCacheBackend))
	}
}

func (c *SessionCache) record(name, kind string) {
	metrics.Emit(c.obs, name, 1, map[string]string{"cache": kind})
}

func sessionKey(callID string) string { return "session:" + callID }

func orderKey(id uint) string { return "order:" + strconv.FormatUint(uint64(id), 10) }
