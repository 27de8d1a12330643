package domain

import "context"

const (
	ContentTypeJSON     = "application/json"
	CacheControlNoStore = "no-cache, no-store, must-revalidate"
)

// Object é um blob com sobrescrita, sem versionamento.
type Object struct {
	Key          string
	Body         []byte
	ContentType  string
	CacheControl string
}

type ObjectStore interface {
	Put(ctx context.Context, obj Object) error
}

// Fulfillment é a ação de negócio (assento, pagamento) executada por item.
// Erro significa falha reprocessável.
type Fulfillment interface {
	Fulfill(ctx context.Context, req BookingRequest) error
}

type FulfillmentFunc func(ctx context.Context, req BookingRequest) error

func (f FulfillmentFunc) Fulfill(ctx context.Context, req BookingRequest) error { return f(ctx, req) }

// NoopFulfillment sempre tem sucesso.
type NoopFulfillment struct{}

func (NoopFulfillment) Fulfill(context.Context, BookingRequest) error { return nil }
