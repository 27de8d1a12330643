package infra

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"bus-booking/booking/domain"

	"github.com/google/uuid"
)

const (
	DefaultDedupWindow       = 5 * time.Minute
	DefaultVisibilityTimeout = 30 * time.Second
	DefaultMaxDeliveries     = 5
	DefaultPollInterval      = 200 * time.Millisecond
)

// MemoryQueue é uma fila FIFO por grupo, em processo.
//
// Regras:
//   - mensagens do mesmo GroupKey são entregues na ordem de envio; um grupo com
//     mensagem em voo (ou aguardando nova visibilidade) não entrega as seguintes
//   - um DedupKey repetido dentro da janela é aceito sem enfileirar de novo
//   - um item que falha volta a ficar visível após o visibility timeout e, após
//     maxDeliveries entregas, vai para a lista de dead letters
type MemoryQueue struct {
	mu      sync.Mutex
	entries []*memoryEntry
	byID    map[string]*memoryEntry
	dedup   map[string]dedupMark
	dead    []domain.DeliveredItem
	closed  bool

	wake chan struct{}

	dedupWindow   time.Duration
	visibility    time.Duration
	maxDeliveries int
	pollInterval  time.Duration
	now           func() time.Time
	logger        *slog.Logger
}

type memoryEntry struct {
	id           string
	msg          domain.QueueMessage
	receiveCount int
	inFlight     bool
	visibleAt    time.Time
}

type dedupMark struct {
	id      string
	expires time.Time
}

type MemoryQueueOption func(*MemoryQueue)

func WithDedupWindow(d time.Duration) MemoryQueueOption {
	return func(q *MemoryQueue) { q.dedupWindow = d }
}

func WithVisibilityTimeout(d time.Duration) MemoryQueueOption {
	return func(q *MemoryQueue) { q.visibility = d }
}

func WithMaxDeliveries(n int) MemoryQueueOption {
	return func(q *MemoryQueue) { q.maxDeliveries = n }
}

func WithPollInterval(d time.Duration) MemoryQueueOption {
	return func(q *MemoryQueue) { q.pollInterval = d }
}

func WithClock(now func() time.Time) MemoryQueueOption {
	return func(q *MemoryQueue) { q.now = now }
}

func WithQueueLogger(l *slog.Logger) MemoryQueueOption {
	return func(q *MemoryQueue) { q.logger = l }
}

func NewMemoryQueue(opts ...MemoryQueueOption) *MemoryQueue {
	q := &MemoryQueue{
		byID:          make(map[string]*memoryEntry),
		dedup:         make(map[string]dedupMark),
		wake:          make(chan struct{}, 1),
		dedupWindow:   DefaultDedupWindow,
		visibility:    DefaultVisibilityTimeout,
		maxDeliveries: DefaultMaxDeliveries,
		pollInterval:  DefaultPollInterval,
		now:           time.Now,
		logger:        slog.Default(),
	}
	for _, opt := range opts {
		opt(q)
	}
	return q
}

func (q *MemoryQueue) Submit(_ context.Context, msg domain.QueueMessage) (domain.SubmitAck, error) {
	now := q.now()

	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return domain.SubmitAck{}, domain.ErrQueueClosed
	}

	for k, m := range q.dedup {
		if !now.Before(m.expires) {
			delete(q.dedup, k)
		}
	}
	if m, ok := q.dedup[msg.DedupKey]; ok {
		return domain.SubmitAck{MessageID: m.id, Duplicate: true}, nil
	}

	e := &memoryEntry{id: uuid.NewString(), msg: msg, visibleAt: now}
	q.entries = append(q.entries, e)
	q.byID[e.id] = e
	q.dedup[msg.DedupKey] = dedupMark{id: e.id, expires: now.Add(q.dedupWindow)}

	select {
	case q.wake <- struct{}{}:
	default:
	}
	return domain.SubmitAck{MessageID: e.id}, nil
}

// Consume entrega lotes ao handler até o ctx encerrar ou a fila ser fechada.
func (q *MemoryQueue) Consume(ctx context.Context, batchSize int, handler domain.BatchHandler) error {
	if batchSize <= 0 {
		batchSize = 1
	}

	for {
		if ctx.Err() != nil {
			return nil
		}

		items, closed := q.receive(batchSize)
		if closed {
			return domain.ErrQueueClosed
		}
		if len(items) == 0 {
			select {
			case <-ctx.Done():
				return nil
			case <-q.wake:
			case <-time.After(q.pollInterval):
			}
			continue
		}

		res, err := handler(ctx, items)
		if err != nil {
			q.logger.Warn("batch handler failed; batch will be redelivered", "items", len(items), "err", err)
		}
		q.resolve(items, res, err)
	}
}

// receive separa até n itens visíveis respeitando a ordem por grupo.
func (q *MemoryQueue) receive(n int) ([]domain.DeliveredItem, bool) {
	now := q.now()

	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return nil, true
	}

	blocked := make(map[string]bool)
	var out []domain.DeliveredItem
	for _, e := range q.entries {
		if len(out) >= n {
			break
		}
		g := e.msg.GroupKey
		if e.inFlight || now.Before(e.visibleAt) {
			blocked[g] = true
			continue
		}
		if blocked[g] {
			continue
		}

		e.inFlight = true
		e.receiveCount++
		out = append(out, domain.DeliveredItem{
			ItemID:       e.id,
			Body:         e.msg.Body,
			GroupKey:     g,
			ReceiveCount: e.receiveCount,
		})
	}
	return out, false
}

// resolve remove os itens concluídos e devolve os que falharam.
// Um erro do handler conta como falha de todos os itens.
func (q *MemoryQueue) resolve(items []domain.DeliveredItem, res domain.BatchResult, herr error) {
	failed := res.FailedIDs()
	now := q.now()

	q.mu.Lock()
	defer q.mu.Unlock()

	done := make(map[string]bool, len(items))
	for _, it := range items {
		e, ok := q.byID[it.ItemID]
		if !ok {
			continue
		}
		if _, isFailed := failed[it.ItemID]; herr == nil && !isFailed {
			done[e.id] = true
			continue
		}

		e.inFlight = false
		e.visibleAt = now.Add(q.visibility)
		if q.maxDeliveries > 0 && e.receiveCount >= q.maxDeliveries {
			q.logger.Warn("message moved to dead letters", "id", e.id, "group", e.msg.GroupKey, "deliveries", e.receiveCount)
			q.dead = append(q.dead, it)
			done[e.id] = true
		}
	}

	if len(done) == 0 {
		return
	}
	kept := q.entries[:0]
	for _, e := range q.entries {
		if done[e.id] {
			delete(q.byID, e.id)
			continue
		}
		kept = append(kept, e)
	}
	q.entries = kept
}

// Len retorna quantas mensagens ainda não foram concluídas (inclui em voo).
func (q *MemoryQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.entries)
}

func (q *MemoryQueue) DeadLetters() []domain.DeliveredItem {
	q.mu.Lock()
	defer q.mu.Unlock()
	return append([]domain.DeliveredItem(nil), q.dead...)
}

func (q *MemoryQueue) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.closed = true
}
