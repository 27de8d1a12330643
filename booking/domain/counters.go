package domain

import (
	"context"
	"errors"
)

// CounterKey identifica o registro singleton de contadores.
const CounterKey = "total"

const (
	CounterRequests  = "requests"
	CounterProcessed = "processed"
	CounterSuccess   = "success"
)

var ErrNegativeIncrement = errors.New("counter increments must be non-negative")

// Counters são três acumuladores independentes. Também servem como delta de incremento.
//
// Invariante: Processed >= Success.
type Counters struct {
	Processed int64 `json:"processed"`
	Success   int64 `json:"success"`
	Requests  int64 `json:"requests"`
}

func (c Counters) IsZero() bool {
	return c.Processed == 0 && c.Success == 0 && c.Requests == 0
}

func (c Counters) Validate() error {
	if c.Processed < 0 || c.Success < 0 || c.Requests < 0 {
		return ErrNegativeIncrement
	}
	return nil
}

func (c Counters) Add(d Counters) Counters {
	return Counters{
		Processed: c.Processed + d.Processed,
		Success:   c.Success + d.Success,
		Requests:  c.Requests + d.Requests,
	}
}

// CounterField é um par nome/valor na ordem fixa requests, processed, success.
type CounterField struct {
	Name  string
	Value int64
}

// NonZero devolve apenas os campos com valor diferente de zero.
func (c Counters) NonZero() []CounterField {
	out := make([]CounterField, 0, 3)
	for _, f := range []CounterField{
		{CounterRequests, c.Requests},
		{CounterProcessed, c.Processed},
		{CounterSuccess, c.Success},
	} {
		if f.Value != 0 {
			out = append(out, f)
		}
	}
	return out
}

// Set atribui um campo pelo nome. Nomes desconhecidos são ignorados.
func (c *Counters) Set(name string, v int64) {
	switch name {
	case CounterRequests:
		c.Requests = v
	case CounterProcessed:
		c.Processed = v
	case CounterSuccess:
		c.Success = v
	}
}

// CounterStore guarda os contadores compartilhados.
//
// Increment é atômico por chamada em todos os campos do delta e comutativo:
// nunca é implementado como read-modify-write. Read é fortemente consistente.
type CounterStore interface {
	Increment(ctx context.Context, delta Counters) error
	Read(ctx context.Context) (Counters, error)
}
