package booking

import (
	"bytes"
	"io"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"bus-booking/booking/application"
	"bus-booking/booking/domain"
)

type KeyFunc func(r *http.Request) string

type ThrottleOptions struct {
	// Clients limita cada cliente; Seats limita cada assento (tripId#seatNo).
	// Qualquer um pode ficar nil.
	Clients            domain.LimiterStore
	Seats              domain.LimiterStore
	KeyFn              KeyFunc
	KeyHeader          string
	TrustXForwardedFor bool
	// RetryAfter é o piso do header Retry-After.
	RetryAfter     time.Duration
	AddRateHeaders bool
	// Match escolhe quais requisições passam pelo limiter. nil = todas.
	Match func(r *http.Request) bool
	// OnReject é chamado a cada requisição bloqueada (ex: contador de métricas).
	OnReject func(domain.Decision)
}

type rateInfo interface {
	RPS() float64
	Burst() int
}

// OnlyMethod limita apenas requisições com o método dado (ex: POST de reservas).
func OnlyMethod(method string) func(r *http.Request) bool {
	return func(r *http.Request) bool { return r.Method == method }
}

func DefaultKeyFunc(keyHeader string, trustXFF bool) KeyFunc {
	return func(r *http.Request) string {
		if keyHeader != "" {
			if v := strings.TrimSpace(r.Header.Get(keyHeader)); v != "" {
				return v
			}
		}

		if trustXFF {
			// primeiro IP do X-Forwarded-For é o cliente original
			if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
				first, _, _ := strings.Cut(xff, ",")
				if ip := strings.TrimSpace(first); ip != "" {
					return ip
				}
			}
		}

		host, _, err := net.SplitHostPort(strings.TrimSpace(r.RemoteAddr))
		if err == nil && host != "" {
			return host
		}
		if r.RemoteAddr != "" {
			return r.RemoteAddr
		}
		return "unknown"
	}
}

// seatOf lê o corpo para achar o GroupKey da reserva e o recoloca na
// requisição. Corpo ilegível ou grande demais não tem assento.
func seatOf(r *http.Request) string {
	if r.Body == nil || r.Body == http.NoBody {
		return domain.GroupKey(nil)
	}
	raw, err := io.ReadAll(io.LimitReader(r.Body, MaxBodyBytes+1))
	r.Body = struct {
		io.Reader
		io.Closer
	}{io.MultiReader(bytes.NewReader(raw), r.Body), r.Body}
	if err != nil || len(raw) > MaxBodyBytes {
		return ""
	}

	if len(bytes.TrimSpace(raw)) == 0 {
		return domain.GroupKey(nil)
	}
	req, err := domain.ParseBookingRequest(raw)
	if err != nil {
		return ""
	}
	return domain.GroupKey(req)
}

// ThrottleMiddleware aplica os token buckets de cliente e de assento e responde
// 429 em JSON (com Retry-After e X-RateLimit-Scope) quando algum esgota.
func ThrottleMiddleware(opts ThrottleOptions) func(next http.Handler) http.Handler {
	if opts.Clients == nil && opts.Seats == nil {
		return func(next http.Handler) http.Handler { return next }
	}
	if opts.KeyFn == nil {
		opts.KeyFn = DefaultKeyFunc(opts.KeyHeader, opts.TrustXForwardedFor)
	}

	svc := application.ThrottleService{
		Clients:       opts.Clients,
		Seats:         opts.Seats,
		MinRetryAfter: opts.RetryAfter,
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if opts.Match != nil && !opts.Match(r) {
				next.ServeHTTP(w, r)
				return
			}

			attempt := domain.BookingAttempt{Client: domain.ClientKey(opts.KeyFn(r))}
			if opts.Seats != nil {
				attempt.GroupKey = seatOf(r)
			}

			if opts.AddRateHeaders {
				w.Header().Set("X-RateLimit-Key", string(attempt.Client))
				if ri, ok := opts.Clients.(rateInfo); ok {
					w.Header().Set("X-RateLimit-RPS", strconv.FormatFloat(ri.RPS(), 'f', -1, 64))
					w.Header().Set("X-RateLimit-Burst", strconv.Itoa(ri.Burst()))
				}
			}

			dec := svc.Decide(attempt)
			if !dec.Allowed {
				if opts.OnReject != nil {
					opts.OnReject(dec)
				}
				msg := "too many requests"
				if dec.Scope == domain.ScopeSeat {
					msg = "too many requests for this seat"
				}
				w.Header().Set("Retry-After", strconv.Itoa(int(dec.RetryAfter/time.Second)))
				w.Header().Set("X-RateLimit-Scope", string(dec.Scope))
				writeJSON(w, http.StatusTooManyRequests, application.ErrorBody{Error: msg})
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}
