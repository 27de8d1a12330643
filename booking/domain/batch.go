package domain

import "context"

// ItemState é o estado de um item dentro do processamento de um lote:
//
//	received -> parsed | parse_failed
//	parsed   -> fulfilled | fulfillment_failed
type ItemState string

const (
	StateReceived          ItemState = "received"
	StateParsed            ItemState = "parsed"
	StateParseFailed       ItemState = "parse_failed"
	StateFulfilled         ItemState = "fulfilled"
	StateFulfillmentFailed ItemState = "fulfillment_failed"
)

// Succeeded: só parsed+fulfilled vira sucesso; qualquer outro estado terminal é falha.
func (s ItemState) Succeeded() bool { return s == StateFulfilled }

type ItemOutcome struct {
	ItemID string
	State  ItemState
	Err    error
}

// ItemFailure segue o contrato de falha parcial de lote da fila.
type ItemFailure struct {
	ItemIdentifier string `json:"itemIdentifier"`
}

type BatchResult struct {
	Processed         int           `json:"processed"`
	Succeeded         int           `json:"succeeded"`
	Failed            int           `json:"failed"`
	BatchItemFailures []ItemFailure `json:"batchItemFailures"`

	Outcomes []ItemOutcome `json:"-"`
}

func EmptyBatchResult() BatchResult {
	return BatchResult{BatchItemFailures: []ItemFailure{}}
}

// NewBatchResult agrega os resultados por item, preservando a ordem de entrega.
func NewBatchResult(outcomes []ItemOutcome) BatchResult {
	res := EmptyBatchResult()
	res.Processed = len(outcomes)
	res.Outcomes = outcomes
	for _, o := range outcomes {
		if o.State.Succeeded() {
			res.Succeeded++
			continue
		}
		res.Failed++
		res.BatchItemFailures = append(res.BatchItemFailures, ItemFailure{ItemIdentifier: o.ItemID})
	}
	return res
}

// FailedIDs é o conjunto de ids que a fila deve reentregar.
func (r BatchResult) FailedIDs() map[string]struct{} {
	out := make(map[string]struct{}, len(r.BatchItemFailures))
	for _, f := range r.BatchItemFailures {
		out[f.ItemIdentifier] = struct{}{}
	}
	return out
}

// Delta é o incremento de contadores correspondente ao lote.
func (r BatchResult) Delta() Counters {
	return Counters{Processed: int64(r.Processed), Success: int64(r.Succeeded)}
}

// SlotPool limita quantos grupos de um lote são processados ao mesmo tempo.
// O gateway usa o mesmo contrato para limitar requisições simultâneas.
// Acquire espera uma vaga até o ctx encerrar; release deve ser chamado uma vez.
type SlotPool interface {
	Acquire(ctx context.Context) (release func(), ok bool)
}
