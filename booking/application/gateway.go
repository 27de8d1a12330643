package application

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"strings"

	"bus-booking/booking/domain"

	"github.com/google/uuid"
)

const (
	MethodOptions = "OPTIONS"
	MethodGet     = "GET"
	MethodPost    = "POST"

	RouteStats = "/api/stats"
	RouteBook  = "/api/book-bus"

	StatusOK            = 200
	StatusNotFound      = 404
	StatusInternalError = 500
)

// Request é o mínimo que o transporte precisa entregar ao gateway.
type Request struct {
	Method string
	Path   string
	Body   []byte
}

// Response.Body é sempre serializado como JSON pelo transporte.
type Response struct {
	Status int
	Body   any
}

type ErrorBody struct {
	Error string `json:"error"`
}

type AckBody struct {
	OK bool `json:"ok"`
}

type EnqueueResult struct {
	Status string          `json:"status"`
	Stats  domain.Counters `json:"stats"`
}

// Gateway valida, roteia e enfileira pedidos de reserva.
//
// Não faz retry: o DedupKey torna seguro o retry do lado do cliente.
type Gateway struct {
	Queue    domain.Queue
	Counters domain.CounterStore
	Logger   *slog.Logger
	Metrics  GatewayMetrics
}

// Handle aplica a tabela de rotas. Rotas casam por sufixo do path.
func (g *Gateway) Handle(ctx context.Context, req Request) Response {
	switch {
	case req.Method == MethodOptions:
		return Response{Status: StatusOK, Body: AckBody{OK: true}}

	case req.Method == MethodGet && strings.HasSuffix(req.Path, RouteStats):
		stats, err := g.Counters.Read(ctx)
		if err != nil {
			return g.failure(err)
		}
		return Response{Status: StatusOK, Body: stats}

	case req.Method == MethodPost && strings.HasSuffix(req.Path, RouteBook):
		res, err := g.Enqueue(ctx, req.Body)
		if err != nil {
			return g.failure(err)
		}
		return Response{Status: StatusOK, Body: res}
	}

	return Response{Status: StatusNotFound, Body: ErrorBody{Error: "not found"}}
}

// Enqueue deriva as chaves, envia para a fila, incrementa "requests" e devolve
// uma leitura informativa (não transacional) dos contadores.
func (g *Gateway) Enqueue(ctx context.Context, body []byte) (EnqueueResult, error) {
	if len(bytes.TrimSpace(body)) == 0 {
		body = []byte("{}")
	}

	req, err := domain.ParseBookingRequest(body)
	if err != nil {
		return EnqueueResult{}, err
	}

	groupKey := domain.GroupKey(req)
	dedupKey, err := domain.DedupKey(req)
	if err != nil {
		return EnqueueResult{}, err
	}
	payload, err := req.Canonical()
	if err != nil {
		return EnqueueResult{}, err
	}

	traceID := uuid.NewString()
	ack, err := g.Queue.Submit(ctx, domain.QueueMessage{
		Body:     payload,
		GroupKey: groupKey,
		DedupKey: dedupKey,
	})
	if err != nil {
		g.metrics().EnqueueFailed()
		g.logger().Error("enqueue failed", "trace_id", traceID, "group_key", groupKey, "err", err)
		return EnqueueResult{}, fmt.Errorf("submit booking: %w", err)
	}
	g.metrics().Enqueued(ack.Duplicate)

	if err := g.Counters.Increment(ctx, domain.Counters{Requests: 1}); err != nil {
		return EnqueueResult{}, fmt.Errorf("increment requests: %w", err)
	}

	g.logger().Info("booking queued",
		"trace_id", traceID,
		"message_id", ack.MessageID,
		"group_key", groupKey,
		"dedup_key", dedupKey,
		"duplicate", ack.Duplicate,
	)

	stats, err := g.Counters.Read(ctx)
	if err != nil {
		return EnqueueResult{}, fmt.Errorf("read counters: %w", err)
	}
	return EnqueueResult{Status: "queued", Stats: stats}, nil
}

func (g *Gateway) failure(err error) Response {
	return Response{Status: StatusInternalError, Body: ErrorBody{Error: err.Error()}}
}

func (g *Gateway) logger() *slog.Logger {
	if g.Logger == nil {
		return slog.Default()
	}
	return g.Logger
}

func (g *Gateway) metrics() GatewayMetrics {
	if g.Metrics == nil {
		return nopMetrics{}
	}
	return g.Metrics
}
