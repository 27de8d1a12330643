package domain

import (
	"context"
	"errors"
)

var ErrQueueClosed = errors.New("queue is closed")

// QueueMessage é o payload já serializado mais as chaves de roteamento da fila.
type QueueMessage struct {
	Body     []byte
	GroupKey string
	DedupKey string
}

// SubmitAck confirma o envio. Duplicate indica que a fila já tinha uma mensagem
// com o mesmo DedupKey dentro da janela; não é erro.
type SubmitAck struct {
	MessageID string
	Duplicate bool
}

// Queue é o lado produtor da fila ordenada e deduplicada.
type Queue interface {
	Submit(ctx context.Context, msg QueueMessage) (SubmitAck, error)
}

// DeliveredItem é um elemento de um lote entregue pela fila.
// ItemID é opaco e só serve para reportar o resultado de volta à fila.
type DeliveredItem struct {
	ItemID       string
	Body         []byte
	GroupKey     string
	ReceiveCount int
}

// BatchHandler recebe um lote e devolve quais itens falharam.
// Um erro significa que nenhum item do lote deve ser confirmado.
type BatchHandler func(ctx context.Context, items []DeliveredItem) (BatchResult, error)

// Delivery é o lado consumidor: entrega lotes de até batchSize itens ao handler
// até o ctx encerrar. Itens em BatchItemFailures voltam a ser entregues depois.
type Delivery interface {
	Consume(ctx context.Context, batchSize int, handler BatchHandler) error
}
