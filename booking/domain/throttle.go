package domain

import "time"

// Throttling de reservas em dois escopos: quem envia (cliente) e o assento
// disputado (GroupKey). Um assento muito concorrido é freado mesmo com cada
// cliente dentro da própria taxa.

// ClientKey identifica quem envia (IP, header de API, etc).
type ClientKey string

type ThrottleScope string

const (
	ScopeClient ThrottleScope = "client"
	ScopeSeat   ThrottleScope = "seat"
)

// BookingAttempt é o que o throttle enxerga de um envio de reserva.
// GroupKey fica vazio quando o corpo não pôde ser lido.
type BookingAttempt struct {
	Client   ClientKey
	GroupKey string
}

// Limiter é um token bucket. Take consome um token; sem token, devolve ok=false
// e quanto falta para o próximo. undo devolve o token consumido.
type Limiter interface {
	Take(now time.Time) (undo func(), wait time.Duration, ok bool)
}

// LimiterStore obtém o bucket de uma chave (cliente ou assento).
type LimiterStore interface {
	Get(key string) Limiter
}

// Decision diz se a tentativa passa. Quando bloqueia, Scope e Key dizem qual
// bucket esgotou e RetryAfter já vem arredondado para segundos inteiros.
type Decision struct {
	Allowed    bool
	Scope      ThrottleScope
	Key        string
	RetryAfter time.Duration
}
