package cache

import (
	"context"
	"sync"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
)

// LRUBackend is the single-instance backend. Each distinct TTL gets its own
// expirable LRU of the configured size; callers use one TTL per key space,
// so a key lives in exactly one of them.
type LRUBackend struct {
	mu      sync.Mutex
	size    int
	buckets map[time.Duration]*expirable.LRU[string, []byte]
}

// NewLRUBackend creates an in-process backend holding up to size entries
// per TTL.
func NewLRUBackend(size int) (*LRUBackend, error) {
	if size <= 0 {
		size = 1000
	}
	return &LRUBackend{size: size, buckets: make(map[time.Duration]*expirable.LRU[string, []byte])}, nil
}

func (b *LRUBackend) Get(_ context.Context, key string) ([]byte, bool, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	v, ok := b.getLocked(key)
	return v, ok, nil
}

func (b *LRUBackend) Set(_ context.Context, key string, value []byte, ttl time.Duration) error {
	if ttl < 0 {
		ttl = 0
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	for d, bucket := range b.buckets {
		if d != ttl {
			bucket.Remove(key)
		}
	}
	b.bucketLocked(ttl).Add(key, append([]byte(nil), value...))
	return nil
}

func (b *LRUBackend) Delete(_ context.Context, key string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, bucket := range b.buckets {
		bucket.Remove(key)
	}
	return nil
}

// Take reads and removes key under one lock.
func (b *LRUBackend) Take(_ context.Context, key string) ([]byte, bool, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	v, ok := b.getLocked(key)
	if ok {
		for _, bucket := range b.buckets {
			bucket.Remove(key)
		}
	}
	return v, ok, nil
}

// Len reports how many unexpired entries are held.
func (b *LRUBackend) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	n := 0
	for _, bucket := range b.buckets {
		n += bucket.Len()
	}
	return n
}

func (b *LRUBackend) getLocked(key string) ([]byte, bool) {
	for _, bucket := range b.buckets {
		if v, ok := bucket.Get(key); ok {
			return append([]byte(nil), v...), true
		}
	}
	return nil, false
}

// bucketLocked returns the LRU for ttl. A zero ttl keeps entries until
// they are evicted.
func (b *LRUBackend) bucketLocked(ttl time.Duration) *expirable.LRU[string, []byte] {
	bucket, ok := b.buckets[ttl]
	if !ok {
		bucket = expirable.NewLRU[string, []byte](b.size, nil, ttl)
		b.buckets[ttl] = bucket
	}
	return bucket
}

var _ Backend = (*LRUBackend)(nil)
