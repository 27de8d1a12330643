package infra

import (
	"context"
	"sync"
	"time"

	"bus-booking/booking/domain"

	"golang.org/x/time/rate"
)

// TokenBuckets mantém um token bucket (x/time/rate) por chave. O gateway usa
// uma instância por escopo: IP/cliente e assento (tripId#seatNo).
// Chaves paradas há mais de idleTTL somem no Sweep.
type TokenBuckets struct {
	limit rate.Limit
	burst int

	idleTTL    time.Duration
	sweepEvery time.Duration
	now        func() time.Time

	mu      sync.Mutex
	buckets map[string]*tokenBucket
}

type tokenBucket struct {
	lim      *rate.Limiter
	lastSeen time.Time
}

// Take reserva um token. Se a reserva exigiria espera, ela é cancelada e a
// espera vira o Retry-After.
func (b *tokenBucket) Take(now time.Time) (func(), time.Duration, bool) {
	r := b.lim.ReserveN(now, 1)
	if !r.OK() {
		return nil, 0, false
	}
	if wait := r.DelayFrom(now); wait > 0 {
		r.CancelAt(now)
		return nil, wait, false
	}
	return func() { r.CancelAt(now) }, 0, true
}

type TokenBucketsOption func(*TokenBuckets)

func WithIdleTTL(d time.Duration) TokenBucketsOption {
	return func(s *TokenBuckets) { s.idleTTL = d }
}

func WithSweepEvery(d time.Duration) TokenBucketsOption {
	return func(s *TokenBuckets) { s.sweepEvery = d }
}

func WithBucketClock(now func() time.Time) TokenBucketsOption {
	return func(s *TokenBuckets) { s.now = now }
}

func NewTokenBuckets(rps float64, burst int, opts ...TokenBucketsOption) *TokenBuckets {
	s := &TokenBuckets{
		limit:      rate.Limit(rps),
		burst:      burst,
		idleTTL:    15 * time.Minute,
		sweepEvery: 2 * time.Minute,
		now:        time.Now,
		buckets:    make(map[string]*tokenBucket),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *TokenBuckets) RPS() float64 { return float64(s.limit) }
func (s *TokenBuckets) Burst() int   { return s.burst }

// Len é o número de chaves ativas.
func (s *TokenBuckets) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.buckets)
}

func (s *TokenBuckets) Get(key string) domain.Limiter {
	now := s.now()

	s.mu.Lock()
	defer s.mu.Unlock()

	b, ok := s.buckets[key]
	if !ok {
		b = &tokenBucket{lim: rate.NewLimiter(s.limit, s.burst)}
		s.buckets[key] = b
	}
	b.lastSeen = now
	return b
}

func (s *TokenBuckets) Sweep() {
	cutoff := s.now().Add(-s.idleTTL)

	s.mu.Lock()
	defer s.mu.Unlock()
	for k, b := range s.buckets {
		if b.lastSeen.Before(cutoff) {
			delete(s.buckets, k)
		}
	}
}

// StartSweeper roda Sweep a cada sweepEvery até o ctx encerrar.
func (s *TokenBuckets) StartSweeper(ctx context.Context) {
	if s.sweepEvery <= 0 {
		return
	}
	go func() {
		t := time.NewTicker(s.sweepEvery)
		defer t.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-t.C:
				s.Sweep()
			}
		}
	}()
}
