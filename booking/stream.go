package booking

import (
	"context"
	"log/slog"
	"net/http"
	"sync/atomic"
	"time"

	"bus-booking/booking/domain"

	"github.com/gorilla/websocket"
)

// RouteStatsStream é onde o StatsStream costuma ser montado.
const RouteStatsStream = "/api/stats/ws"

// StatsStream envia os contadores via websocket logo ao conectar e depois a cada
// Interval, até o cliente desconectar.
type StatsStream struct {
	Counters domain.CounterStore
	Interval time.Duration
	Logger   *slog.Logger

	upgrader websocket.Upgrader
	clients  atomic.Int64
}

func NewStatsStream(counters domain.CounterStore, interval time.Duration, logger *slog.Logger) *StatsStream {
	if interval <= 0 {
		interval = 2 * time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &StatsStream{
		Counters: counters,
		Interval: interval,
		Logger:   logger,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
	}
}

// Mount entrega ao stream só o GET de upgrade em RouteStatsStream. Qualquer
// outra requisição, inclusive OPTIONS nessa rota, segue para api, que responde
// com CORS e 404 JSON.
func (s *StatsStream) Mount(api http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == RouteStatsStream && r.Method == http.MethodGet && websocket.IsWebSocketUpgrade(r) {
			s.ServeHTTP(w, r)
			return
		}
		api.ServeHTTP(w, r)
	})
}

// ClientCount retorna quantos clientes estão conectados.
func (s *StatsStream) ClientCount() int {
	return int(s.clients.Load())
}

func (s *StatsStream) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.Logger.Warn("websocket upgrade failed", "err", err)
		return
	}
	defer conn.Close()

	s.clients.Add(1)
	defer s.clients.Add(-1)
	s.Logger.Debug("stats client connected", "clients", s.ClientCount())

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	// só lê para detectar o fechamento pelo cliente
	go func() {
		defer cancel()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	t := time.NewTicker(s.Interval)
	defer t.Stop()
	for {
		stats, err := s.Counters.Read(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			s.Logger.Error("stats read failed", "err", err)
		} else if err := conn.WriteJSON(stats); err != nil {
			return
		}

		select {
		case <-ctx.Done():
			_ = conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
				time.Now().Add(time.Second))
			return
		case <-t.C:
		}
	}
}
