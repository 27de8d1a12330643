package infra

import (
	"context"
	"sync"
	"testing"
	"time"

	"bus-booking/booking/domain"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func msg(group, dedup string) domain.QueueMessage {
	return domain.QueueMessage{Body: []byte(`{"d":"` + dedup + `"}`), GroupKey: group, DedupKey: dedup}
}

func failItems(ids ...string) domain.BatchResult {
	res := domain.BatchResult{}
	for _, id := range ids {
		res.BatchItemFailures = append(res.BatchItemFailures, domain.ItemFailure{ItemIdentifier: id})
	}
	return res
}

func TestMemoryQueue_DuplicateWithinWindowIsNotEnqueued(t *testing.T) {
	now := time.Unix(0, 0)
	q := NewMemoryQueue(WithDedupWindow(time.Minute), WithClock(func() time.Time { return now }))
	ctx := context.Background()

	first, err := q.Submit(ctx, msg("t#1", "r1"))
	require.NoError(t, err)
	dup, err := q.Submit(ctx, msg("t#1", "r1"))
	require.NoError(t, err)

	assert.False(t, first.Duplicate)
	assert.True(t, dup.Duplicate)
	assert.Equal(t, first.MessageID, dup.MessageID)
	assert.Equal(t, 1, q.Len())

	now = now.Add(2 * time.Minute)
	again, err := q.Submit(ctx, msg("t#1", "r1"))
	require.NoError(t, err)
	assert.False(t, again.Duplicate)
	assert.Equal(t, 2, q.Len())
}

func TestMemoryQueue_GroupOrderHoldsWhileInFlight(t *testing.T) {
	q := NewMemoryQueue()
	ctx := context.Background()
	for _, m := range []domain.QueueMessage{msg("A", "a1"), msg("B", "b1"), msg("A", "a2")} {
		_, err := q.Submit(ctx, m)
		require.NoError(t, err)
	}

	first, _ := q.receive(2)
	require.Len(t, first, 2)
	assert.Equal(t, "A", first[0].GroupKey)
	assert.Equal(t, "B", first[1].GroupKey)

	// a2 fica bloqueada enquanto a1 está em voo
	blocked, _ := q.receive(10)
	assert.Empty(t, blocked)

	q.resolve(first, domain.BatchResult{}, nil)
	next, _ := q.receive(10)
	require.Len(t, next, 1)
	assert.JSONEq(t, `{"d":"a2"}`, string(next[0].Body))
}

func TestMemoryQueue_FailedItemIsRedeliveredAfterVisibility(t *testing.T) {
	now := time.Unix(0, 0)
	q := NewMemoryQueue(WithVisibilityTimeout(30*time.Second), WithClock(func() time.Time { return now }))
	ctx := context.Background()
	_, _ = q.Submit(ctx, msg("A", "a1"))
	_, _ = q.Submit(ctx, msg("A", "a2"))

	items, _ := q.receive(10)
	require.Len(t, items, 2)
	q.resolve(items, failItems(items[0].ItemID), nil)

	// a2 concluiu, a1 ainda invisível
	assert.Equal(t, 1, q.Len())
	none, _ := q.receive(10)
	assert.Empty(t, none)

	now = now.Add(31 * time.Second)
	again, _ := q.receive(10)
	require.Len(t, again, 1)
	assert.Equal(t, items[0].ItemID, again[0].ItemID)
	assert.Equal(t, 2, again[0].ReceiveCount)
}

func TestMemoryQueue_HandlerErrorFailsWholeBatch(t *testing.T) {
	q := NewMemoryQueue(WithVisibilityTimeout(0))
	ctx := context.Background()
	_, _ = q.Submit(ctx, msg("A", "a1"))
	_, _ = q.Submit(ctx, msg("B", "b1"))

	items, _ := q.receive(10)
	q.resolve(items, domain.BatchResult{}, assert.AnError)

	assert.Equal(t, 2, q.Len())
	again, _ := q.receive(10)
	assert.Len(t, again, 2)
}

func TestMemoryQueue_ConsumeDeadLettersAfterMaxDeliveries(t *testing.T) {
	q := NewMemoryQueue(WithVisibilityTimeout(0), WithMaxDeliveries(3), WithPollInterval(time.Millisecond))
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	_, _ = q.Submit(ctx, msg("A", "poison"))
	_, _ = q.Submit(ctx, msg("B", "ok"))

	var mu sync.Mutex
	seen := map[string]int{}
	done := make(chan error, 1)
	go func() {
		done <- q.Consume(ctx, 10, func(_ context.Context, items []domain.DeliveredItem) (domain.BatchResult, error) {
			mu.Lock()
			defer mu.Unlock()
			var failed []string
			for _, it := range items {
				seen[it.GroupKey]++
				if it.GroupKey == "A" {
					failed = append(failed, it.ItemID)
				}
			}
			return failItems(failed...), nil
		})
	}()

	require.Eventually(t, func() bool { return len(q.DeadLetters()) == 1 }, time.Second, time.Millisecond)
	cancel()
	require.NoError(t, <-done)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, 3, seen["A"])
	assert.Equal(t, 1, seen["B"])
	assert.Equal(t, 0, q.Len())
	assert.Equal(t, 3, q.DeadLetters()[0].ReceiveCount)
}

func TestMemoryQueue_ClosedRejectsSubmit(t *testing.T) {
	q := NewMemoryQueue()
	q.Close()

	_, err := q.Submit(context.Background(), msg("A", "a"))
	assert.ErrorIs(t, err, domain.ErrQueueClosed)

	err = q.Consume(context.Background(), 1, nil)
	assert.ErrorIs(t, err, domain.ErrQueueClosed)
}
