package infra

import (
	"context"
	"strings"

	"bus-booking/booking/domain"

	"github.com/redis/go-redis/v9"
)

// RedisObjectStore guarda cada objeto num hash com os campos
// body, content_type e cache_control.
type RedisObjectStore struct {
	rdb    redis.UniversalClient
	prefix string
}

func NewRedisObjectStore(rdb redis.UniversalClient, prefix string) *RedisObjectStore {
	if prefix == "" {
		prefix = "objects"
	}
	return &RedisObjectStore{rdb: rdb, prefix: strings.Trim(prefix, ":")}
}

func (s *RedisObjectStore) Key(objectKey string) string {
	return s.prefix + ":" + objectKey
}

func (s *RedisObjectStore) Put(ctx context.Context, obj domain.Object) error {
	return s.rdb.HSet(ctx, s.Key(obj.Key),
		"body", obj.Body,
		"content_type", obj.ContentType,
		"cache_control", obj.CacheControl,
	).Err()
}
