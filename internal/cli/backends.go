package cli

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"bus-booking/booking/domain"
	"bus-booking/booking/infra"
	"bus-booking/internal/config"

	"github.com/redis/go-redis/v9"
)

// backends reúne as dependências escolhidas na configuração.
type backends struct {
	rdb      *redis.Client
	queue    domain.Queue
	delivery domain.Delivery
	counters domain.CounterStore
	objects  domain.ObjectStore

	closers []func()
}

func (b *backends) Close() {
	for i := len(b.closers) - 1; i >= 0; i-- {
		b.closers[i]()
	}
}

func openBackends(ctx context.Context, cfg *config.Config, logger *slog.Logger, consumer bool) (_ *backends, err error) {
	b := &backends{}
	defer func() {
		if err != nil {
			b.Close()
		}
	}()

	if cfg.Redis.Addr != "" {
		b.rdb = redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		b.closers = append(b.closers, func() { _ = b.rdb.Close() })

		pingCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
		_, err := b.rdb.Ping(pingCtx).Result()
		cancel()
		if err != nil {
			return nil, fmt.Errorf("redis ping error: %w", err)
		}
	}

	switch cfg.Counters.Backend {
	case config.BackendRedis:
		b.counters = infra.NewRedisCounterStore(b.rdb, infra.WithCounterPrefix(cfg.Counters.Prefix))
	case config.BackendSQLite:
		s, err := infra.OpenSQLiteCounterStore(cfg.Counters.SQLitePath)
		if err != nil {
			return nil, fmt.Errorf("open sqlite counters: %w", err)
		}
		b.closers = append(b.closers, func() { _ = s.Close() })
		b.counters = s
	default:
		b.counters = infra.NewMemoryCounterStore()
	}

	switch cfg.Objects.Backend {
	case config.BackendMemory:
		b.objects = infra.NewMemoryObjectStore()
	case config.BackendFile:
		b.objects = infra.NewFileObjectStore(cfg.Objects.Dir)
	case config.BackendRedis:
		b.objects = infra.NewRedisObjectStore(b.rdb, cfg.Objects.Prefix)
	}

	switch cfg.Queue.Backend {
	case config.BackendRedis:
		q := infra.NewRedisQueue(b.rdb,
			infra.WithStream(cfg.Queue.Name),
			infra.WithRedisDedupWindow(cfg.Queue.DedupWindow),
			infra.WithRedisVisibility(cfg.Queue.VisibilityTimeout),
			infra.WithRedisMaxDeliveries(cfg.Queue.MaxDeliveries),
			infra.WithRedisQueueLogger(logger),
		)
		b.queue, b.delivery = q, q

	case config.BackendKafka:
		var dedup infra.DedupWindow = infra.NewMemoryDedupWindow()
		if b.rdb != nil {
			dedup = infra.NewRedisDedupWindow(b.rdb, cfg.Queue.Name+":dedup")
		}
		kcfg := infra.KafkaConfig{Brokers: cfg.Queue.Kafka.Brokers, Topic: cfg.Queue.Name}
		if consumer {
			kcfg.Group = cfg.Queue.Group
		}
		q, err := infra.NewKafkaQueue(kcfg, dedup,
			infra.WithKafkaDedupWindow(cfg.Queue.DedupWindow),
			infra.WithKafkaMaxDeliveries(cfg.Queue.MaxDeliveries),
			infra.WithKafkaVisibility(cfg.Queue.VisibilityTimeout),
			infra.WithKafkaLogger(logger),
		)
		if err != nil {
			return nil, err
		}
		b.closers = append(b.closers, q.Close)
		b.queue = q
		if consumer {
			b.delivery = q
		}

	default:
		q := infra.NewMemoryQueue(
			infra.WithDedupWindow(cfg.Queue.DedupWindow),
			infra.WithVisibilityTimeout(cfg.Queue.VisibilityTimeout),
			infra.WithMaxDeliveries(cfg.Queue.MaxDeliveries),
			infra.WithQueueLogger(logger),
		)
		b.closers = append(b.closers, q.Close)
		b.queue, b.delivery = q, q
	}
	return b, nil
}
