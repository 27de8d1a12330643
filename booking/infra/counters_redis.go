package infra

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"bus-booking/booking/domain"

	"github.com/redis/go-redis/v9"
)

// RedisCounterStore guarda os contadores num hash (padrão "stats:total").
//
// Increment envia um HINCRBY por campo dentro de MULTI/EXEC: todos os campos
// avançam juntos ou nenhum avança.
type RedisCounterStore struct {
	rdb redis.UniversalClient
	key string
}

type RedisCounterOption func(*RedisCounterStore)

func WithCounterPrefix(prefix string) RedisCounterOption {
	return func(s *RedisCounterStore) {
		s.key = strings.Trim(prefix, ":") + ":" + domain.CounterKey
	}
}

func NewRedisCounterStore(rdb redis.UniversalClient, opts ...RedisCounterOption) *RedisCounterStore {
	s := &RedisCounterStore{
		rdb: rdb,
		key: "stats:" + domain.CounterKey,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *RedisCounterStore) Key() string { return s.key }

func (s *RedisCounterStore) Increment(ctx context.Context, delta domain.Counters) error {
	if err := delta.Validate(); err != nil {
		return err
	}
	fields := delta.NonZero()
	if len(fields) == 0 {
		return nil
	}

	_, err := s.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		for _, f := range fields {
			pipe.HIncrBy(ctx, s.key, f.Name, f.Value)
		}
		return nil
	})
	return err
}

func (s *RedisCounterStore) Read(ctx context.Context) (domain.Counters, error) {
	vals, err := s.rdb.HGetAll(ctx, s.key).Result()
	if err != nil {
		return domain.Counters{}, err
	}

	var c domain.Counters
	for name, raw := range vals {
		n, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			return domain.Counters{}, fmt.Errorf("counter %s: %w", name, err)
		}
		c.Set(name, n)
	}
	return c, nil
}
