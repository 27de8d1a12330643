package application

import (
	"time"

	"bus-booking/booking/domain"
)

// ThrottleService decide se uma tentativa de reserva passa agora.
// O bucket do cliente é consultado antes do bucket do assento. Se o assento
// bloquear, o token do cliente é devolvido.
type ThrottleService struct {
	Clients domain.LimiterStore
	Seats   domain.LimiterStore
	// MinRetryAfter é o piso do Retry-After; a espera real vem do bucket.
	MinRetryAfter time.Duration
	Now           func() time.Time
}

func (s ThrottleService) Decide(a domain.BookingAttempt) domain.Decision {
	now := time.Now()
	if s.Now != nil {
		now = s.Now()
	}

	checks := []struct {
		scope domain.ThrottleScope
		store domain.LimiterStore
		key   string
	}{
		{domain.ScopeClient, s.Clients, string(a.Client)},
		{domain.ScopeSeat, s.Seats, a.GroupKey},
	}

	var taken []func()
	for _, c := range checks {
		if c.store == nil || c.key == "" {
			continue
		}
		lim := c.store.Get(c.key)
		if lim == nil {
			continue
		}
		undo, wait, ok := lim.Take(now)
		if ok {
			taken = append(taken, undo)
			continue
		}
		for _, u := range taken {
			u()
		}
		return domain.Decision{
			Scope:      c.scope,
			Key:        c.key,
			RetryAfter: retryAfter(wait, s.MinRetryAfter),
		}
	}
	return domain.Decision{Allowed: true}
}

// retryAfter arredonda a espera para cima em segundos, com piso de 1s.
func retryAfter(wait, floor time.Duration) time.Duration {
	if floor < time.Second {
		floor = time.Second
	}
	if wait < floor {
		wait = floor
	}
	if rem := wait % time.Second; rem != 0 {
		wait += time.Second - rem
	}
	return wait
}
