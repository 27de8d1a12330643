package application

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"bus-booking/booking/domain"
)

// BatchProcessor consome um lote entregue pela fila.
//
// Cada item é isolado: falha (ou panic) de um item vira veredito "failed" e não
// interrompe os demais. Os contadores só avançam depois que todos os itens foram
// classificados, num único incremento combinado.
type BatchProcessor struct {
	Counters    domain.CounterStore
	Snapshots   *SnapshotPublisher
	Fulfillment domain.Fulfillment
	// Pool limita quantos grupos rodam em paralelo. nil = sequencial.
	Pool    domain.SlotPool
	Logger  *slog.Logger
	Metrics ProcessorMetrics
}

// Handler adapta o processor ao contrato de entrega da fila.
func (p *BatchProcessor) Handler() domain.BatchHandler {
	return p.Process
}

func (p *BatchProcessor) Process(ctx context.Context, items []domain.DeliveredItem) (domain.BatchResult, error) {
	if len(items) == 0 {
		return domain.EmptyBatchResult(), nil
	}
	start := time.Now()

	outcomes, err := p.classify(ctx, items)
	if err != nil {
		return domain.BatchResult{}, err
	}
	res := domain.NewBatchResult(outcomes)

	if err := p.Counters.Increment(ctx, res.Delta()); err != nil {
		return domain.BatchResult{}, fmt.Errorf("increment counters: %w", err)
	}

	p.publishSnapshot(ctx)

	for _, o := range res.Outcomes {
		if !o.State.Succeeded() {
			p.logger().Warn("booking item failed", "item_id", o.ItemID, "state", o.State, "err", o.Err)
		}
	}
	took := time.Since(start)
	p.metrics().BatchProcessed(res, took)
	p.logger().Info("batch processed",
		"processed", res.Processed,
		"succeeded", res.Succeeded,
		"failed", res.Failed,
		"took", took,
	)
	return res, nil
}

// classify devolve um veredito por item, na ordem de entrega. Itens do mesmo
// grupo rodam em sequência; grupos distintos podem rodar em paralelo.
// Se o ctx encerrar antes de todos os itens serem classificados, devolve erro.
func (p *BatchProcessor) classify(ctx context.Context, items []domain.DeliveredItem) ([]domain.ItemOutcome, error) {
	outcomes := make([]domain.ItemOutcome, len(items))

	if p.Pool == nil {
		for i, item := range items {
			if err := ctx.Err(); err != nil {
				return nil, fmt.Errorf("batch interrupted after %d of %d items: %w", i, len(items), err)
			}
			outcomes[i] = p.processItem(ctx, item)
		}
		return outcomes, ctx.Err()
	}

	var (
		wg         sync.WaitGroup
		mu         sync.Mutex
		incomplete int
	)
	for _, idx := range groupIndexes(items) {
		wg.Add(1)
		go func(idx []int) {
			defer wg.Done()

			release, ok := p.Pool.Acquire(ctx)
			if !ok {
				mu.Lock()
				incomplete += len(idx)
				mu.Unlock()
				return
			}
			defer release()

			for n, i := range idx {
				if ctx.Err() != nil {
					mu.Lock()
					incomplete += len(idx) - n
					mu.Unlock()
					return
				}
				outcomes[i] = p.processItem(ctx, items[i])
			}
		}(idx)
	}
	wg.Wait()

	if incomplete > 0 {
		return nil, fmt.Errorf("batch interrupted with %d of %d items unclassified: %w", incomplete, len(items), context.Cause(ctx))
	}
	return outcomes, ctx.Err()
}

func (p *BatchProcessor) processItem(ctx context.Context, item domain.DeliveredItem) (out domain.ItemOutcome) {
	out = domain.ItemOutcome{ItemID: item.ItemID, State: domain.StateReceived}

	req, err := domain.ParseBookingRequest(item.Body)
	if err != nil {
		out.State = domain.StateParseFailed
		out.Err = err
		return out
	}
	out.State = domain.StateParsed

	defer func() {
		if r := recover(); r != nil {
			out.State = domain.StateFulfillmentFailed
			out.Err = fmt.Errorf("fulfillment panic: %v", r)
		}
	}()

	if err := p.fulfillment().Fulfill(ctx, req); err != nil {
		out.State = domain.StateFulfillmentFailed
		out.Err = err
		return out
	}
	out.State = domain.StateFulfilled
	return out
}

// publishSnapshot é best-effort: erros são logados e engolidos, nunca afetam o lote.
func (p *BatchProcessor) publishSnapshot(ctx context.Context) {
	if p.Snapshots == nil || p.Snapshots.Store == nil {
		return
	}

	stats, err := p.Counters.Read(ctx)
	if err != nil {
		p.metrics().SnapshotFailed()
		p.logger().Error("read counters for snapshot", "err", err)
		return
	}
	if err := p.Snapshots.Publish(ctx, stats); err != nil {
		p.metrics().SnapshotFailed()
		p.logger().Error("publish stats snapshot", "key", p.Snapshots.Key, "err", err)
	}
}

// groupIndexes agrupa os índices por GroupKey, preservando a ordem de entrega.
// Itens sem GroupKey formam grupos próprios.
func groupIndexes(items []domain.DeliveredItem) [][]int {
	var groups [][]int
	pos := make(map[string]int)
	for i, item := range items {
		if item.GroupKey == "" {
			groups = append(groups, []int{i})
			continue
		}
		g, ok := pos[item.GroupKey]
		if !ok {
			pos[item.GroupKey] = len(groups)
			groups = append(groups, []int{i})
			continue
		}
		groups[g] = append(groups[g], i)
	}
	return groups
}

func (p *BatchProcessor) fulfillment() domain.Fulfillment {
	if p.Fulfillment == nil {
		return domain.NoopFulfillment{}
	}
	return p.Fulfillment
}

func (p *BatchProcessor) logger() *slog.Logger {
	if p.Logger == nil {
		return slog.Default()
	}
	return p.Logger
}

func (p *BatchProcessor) metrics() ProcessorMetrics {
	if p.Metrics == nil {
		return nopMetrics{}
	}
	return p.Metrics
}
