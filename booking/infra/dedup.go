package infra

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// DedupWindow lembra chaves de deduplicação por um tempo limitado.
//
// Claim retorna true quando a chave ainda não estava registrada (e a registra).
// Release esquece a chave, para que um envio que falhou possa ser repetido.
type DedupWindow interface {
	Claim(ctx context.Context, key string, ttl time.Duration) (bool, error)
	Release(ctx context.Context, key string) error
}

type MemoryDedupWindow struct {
	mu   sync.Mutex
	keys map[string]time.Time
	now  func() time.Time
}

func NewMemoryDedupWindow() *MemoryDedupWindow {
	return &MemoryDedupWindow{keys: make(map[string]time.Time), now: time.Now}
}

func (w *MemoryDedupWindow) Claim(_ context.Context, key string, ttl time.Duration) (bool, error) {
	now := w.now()

	w.mu.Lock()
	defer w.mu.Unlock()

	for k, exp := range w.keys {
		if !now.Before(exp) {
			delete(w.keys, k)
		}
	}
	if _, ok := w.keys[key]; ok {
		return false, nil
	}
	w.keys[key] = now.Add(ttl)
	return true, nil
}

func (w *MemoryDedupWindow) Release(_ context.Context, key string) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	delete(w.keys, key)
	return nil
}

// RedisDedupWindow usa SET NX PX: a expiração fica por conta do Redis.
type RedisDedupWindow struct {
	rdb    redis.UniversalClient
	prefix string
}

func NewRedisDedupWindow(rdb redis.UniversalClient, prefix string) *RedisDedupWindow {
	if prefix == "" {
		prefix = "booking:dedup"
	}
	return &RedisDedupWindow{rdb: rdb, prefix: strings.Trim(prefix, ":")}
}

func (w *RedisDedupWindow) key(k string) string { return w.prefix + ":" + k }

func (w *RedisDedupWindow) Claim(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	return w.rdb.SetNX(ctx, w.key(key), 1, ttl).Result()
}

func (w *RedisDedupWindow) Release(ctx context.Context, key string) error {
	return w.rdb.Del(ctx, w.key(key)).Err()
}
