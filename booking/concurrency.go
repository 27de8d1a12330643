package booking

import (
	"context"
	"net/http"
	"time"

	"bus-booking/booking/application"
	"bus-booking/booking/infra"
)

type ConcurrencyOptions struct {
	Max int
	// AcquireTimeout <= 0 espera até a requisição ser cancelada.
	AcquireTimeout time.Duration
}

// ConcurrencyMiddleware limita quantas requisições o gateway atende ao mesmo
// tempo. Sem vaga dentro do timeout, responde 503 em JSON.
func ConcurrencyMiddleware(opts ConcurrencyOptions) func(next http.Handler) http.Handler {
	if opts.Max <= 0 {
		return func(next http.Handler) http.Handler { return next }
	}
	pool := infra.NewChanPool(opts.Max)

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()
			if opts.AcquireTimeout > 0 {
				var cancel context.CancelFunc
				ctx, cancel = context.WithTimeout(ctx, opts.AcquireTimeout)
				defer cancel()
			}

			release, ok := pool.Acquire(ctx)
			if !ok {
				writeJSON(w, http.StatusServiceUnavailable, application.ErrorBody{Error: "server busy"})
				return
			}
			defer release()

			next.ServeHTTP(w, r)
		})
	}
}
