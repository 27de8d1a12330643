package application

import (
	"context"
	"encoding/json"
	"fmt"

	"bus-booking/booking/domain"
)

const DefaultSnapshotKey = "stats.json"

// SnapshotPublisher sobrescreve o snapshot dos contadores num local fixo.
type SnapshotPublisher struct {
	Store domain.ObjectStore
	Key   string
}

func (s SnapshotPublisher) Publish(ctx context.Context, stats domain.Counters) error {
	if s.Store == nil {
		return nil
	}
	key := s.Key
	if key == "" {
		key = DefaultSnapshotKey
	}

	body, err := json.Marshal(stats)
	if err != nil {
		return fmt.Errorf("encode snapshot: %w", err)
	}
	return s.Store.Put(ctx, domain.Object{
		Key:          key,
		Body:         body,
		ContentType:  domain.ContentTypeJSON,
		CacheControl: domain.CacheControlNoStore,
	})
}
