// Package cli monta o binário bookingq com cobra.
//
// Comandos:
//
//	serve      gateway HTTP + processor no mesmo processo
//	gateway    só o gateway HTTP (POST /api/book-bus, GET /api/stats, /api/stats/ws)
//	processor  só o consumidor da fila
//	stats      imprime os contadores atuais em JSON
//
// Todos aceitam -c/--config (YAML, padrão configs/default.yaml). Variáveis de
// ambiente sobrescrevem o arquivo; veja internal/config.
package cli

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"bus-booking/booking"
	"bus-booking/booking/application"
	"bus-booking/booking/domain"
	"bus-booking/booking/infra"
	"bus-booking/internal/config"
	"bus-booking/internal/health"
	"bus-booking/internal/metrics"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

func BuildCLI() *cobra.Command {
	var configFile string

	rootCmd := &cobra.Command{
		Use:           "bookingq",
		Short:         "Bus booking gateway and batch processor",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	rootCmd.PersistentFlags().StringVarP(&configFile, "config", "c", "configs/default.yaml", "config file path")

	load := func() (*config.Config, *slog.Logger, error) {
		cfg, err := config.Load(configFile)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to load config: %w", err)
		}
		logger := newLogger(cfg, os.Stderr)
		slog.SetDefault(logger)
		return cfg, logger, nil
	}

	rootCmd.AddCommand(
		&cobra.Command{
			Use:   "serve",
			Short: "Run gateway and processor in one process",
			RunE: func(cmd *cobra.Command, args []string) error {
				cfg, logger, err := load()
				if err != nil {
					return err
				}
				return run(cmd.Context(), cfg, logger, true, true)
			},
		},
		&cobra.Command{
			Use:   "gateway",
			Short: "Run the HTTP enqueue gateway",
			RunE: func(cmd *cobra.Command, args []string) error {
				cfg, logger, err := load()
				if err != nil {
					return err
				}
				return run(cmd.Context(), cfg, logger, true, false)
			},
		},
		&cobra.Command{
			Use:   "processor",
			Short: "Run the queue batch processor",
			RunE: func(cmd *cobra.Command, args []string) error {
				cfg, logger, err := load()
				if err != nil {
					return err
				}
				return run(cmd.Context(), cfg, logger, false, true)
			},
		},
		&cobra.Command{
			Use:   "stats",
			Short: "Print the current counters as JSON",
			RunE: func(cmd *cobra.Command, args []string) error {
				cfg, logger, err := load()
				if err != nil {
					return err
				}
				return printStats(cmd.Context(), cfg, logger, cmd.OutOrStdout())
			},
		},
	)
	return rootCmd
}

func newLogger(cfg *config.Config, w io.Writer) *slog.Logger {
	var level slog.Level
	if err := level.UnmarshalText([]byte(cfg.Log.Level)); err != nil {
		level = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: level}

	if strings.EqualFold(cfg.Log.Format, "json") {
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}

func run(parent context.Context, cfg *config.Config, logger *slog.Logger, gateway, processor bool) error {
	if parent == nil {
		parent = context.Background()
	}
	ctx, cancel := signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	b, err := openBackends(ctx, cfg, logger, processor)
	if err != nil {
		return err
	}
	defer b.Close()

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	collector := metrics.NewCollector(reg)

	g, ctx := errgroup.WithContext(ctx)
	if cfg.Metrics.Enabled {
		mux := http.NewServeMux()
		mux.Handle("/metrics", metrics.Handler(reg))
		g.Go(func() error { return serveHTTP(ctx, logger, "metrics", cfg.Metrics.Addr, mux) })
	}
	if gateway {
		h, buckets := newGatewayHandler(cfg, b, collector, logger)
		for _, tb := range buckets {
			tb.StartSweeper(ctx)
		}
		logger.Info("gateway config",
			"queue", cfg.Queue.Backend,
			"counters", cfg.Counters.Backend,
			"rate_enabled", cfg.Gateway.Rate.Enabled,
			"rate_rps", cfg.Gateway.Rate.RPS,
			"rate_burst", cfg.Gateway.Rate.Burst,
			"rate_seat_rps", cfg.Gateway.Rate.SeatRPS,
			"concurrency_max", cfg.Gateway.Concurrency.Max,
		)
		g.Go(func() error { return serveHTTP(ctx, logger, "gateway", cfg.Gateway.ListenAddr, h) })
	}
	if processor {
		g.Go(func() error { return runProcessor(ctx, cfg, b, collector, logger) })
	}

	err = g.Wait()
	if errors.Is(err, context.Canceled) {
		err = nil
	}
	logger.Info("stopped")
	return err
}

// serveHTTP roda o servidor até o ctx encerrar e então faz shutdown gracioso.
func serveHTTP(ctx context.Context, logger *slog.Logger, name, addr string, h http.Handler) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           h,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		IdleTimeout:       90 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	logger.Info("listening", "server", name, "addr", addr)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("%s server: %w", name, err)
	}
	return nil
}

// newGatewayHandler monta as rotas do gateway. Os token buckets são devolvidos
// para que o chamador inicie a limpeza periódica.
func newGatewayHandler(cfg *config.Config, b *backends, collector *metrics.Collector, logger *slog.Logger) (http.Handler, []*infra.TokenBuckets) {
	gw := &application.Gateway{
		Queue:    b.queue,
		Counters: b.counters,
		Logger:   logger,
		Metrics:  collector,
	}

	api := booking.NewHandler(gw)
	api = booking.ConcurrencyMiddleware(booking.ConcurrencyOptions{
		Max:            cfg.Gateway.Concurrency.Max,
		AcquireTimeout: cfg.Gateway.Concurrency.AcquireTimeout,
	})(api)

	var buckets []*infra.TokenBuckets
	opts := booking.ThrottleOptions{
		KeyHeader:          cfg.Gateway.Rate.KeyHeader,
		TrustXForwardedFor: cfg.Gateway.Rate.TrustXFF,
		RetryAfter:         cfg.Gateway.Rate.RetryAfter,
		AddRateHeaders:     cfg.Gateway.Rate.AddHeaders,
		Match:              booking.OnlyMethod(http.MethodPost),
		OnReject:           collector.Throttled,
	}
	if cfg.Gateway.Rate.Enabled {
		clients := infra.NewTokenBuckets(cfg.Gateway.Rate.RPS, cfg.Gateway.Rate.Burst)
		opts.Clients = clients
		buckets = append(buckets, clients)
	}
	if cfg.Gateway.Rate.SeatRPS > 0 {
		seats := infra.NewTokenBuckets(cfg.Gateway.Rate.SeatRPS, cfg.Gateway.Rate.SeatBurst)
		opts.Seats = seats
		buckets = append(buckets, seats)
	}
	api = booking.ThrottleMiddleware(opts)(api)

	stream := booking.NewStatsStream(b.counters, cfg.Gateway.StatsInterval, logger)
	return stream.Mount(api), buckets
}

func newProcessor(cfg *config.Config, b *backends, collector *metrics.Collector, logger *slog.Logger) *application.BatchProcessor {
	p := &application.BatchProcessor{
		Counters:    b.counters,
		Fulfillment: domain.NoopFulfillment{},
		Logger:      logger,
		Metrics:     collector,
	}
	if b.objects != nil {
		p.Snapshots = &application.SnapshotPublisher{Store: b.objects, Key: cfg.Objects.SnapshotKey}
	}
	if cfg.Processor.Concurrency > 1 {
		p.Pool = infra.NewChanPool(cfg.Processor.Concurrency)
	}
	return p
}

func runProcessor(ctx context.Context, cfg *config.Config, b *backends, collector *metrics.Collector, logger *slog.Logger) error {
	if b.delivery == nil {
		return errors.New("queue backend has no consumer")
	}
	proc := newProcessor(cfg, b, collector, logger)

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var hs *health.Server
	healthDone := make(chan error, 1)
	if cfg.Processor.HealthAddr != "" {
		lis, err := net.Listen("tcp", cfg.Processor.HealthAddr)
		if err != nil {
			return fmt.Errorf("health listen: %w", err)
		}
		hs = health.New(logger)
		go func() { healthDone <- hs.Serve(ctx, lis) }()
		hs.SetServing(true)
	} else {
		healthDone <- nil
	}

	logger.Info("processor started",
		"queue", cfg.Queue.Backend,
		"batch_size", cfg.Processor.BatchSize,
		"concurrency", cfg.Processor.Concurrency,
		"snapshot", b.objects != nil,
	)
	err := b.delivery.Consume(ctx, cfg.Processor.BatchSize, proc.Handler())
	if hs != nil {
		hs.SetServing(false)
	}
	cancel()
	if herr := <-healthDone; err == nil {
		err = herr
	}
	return err
}

func printStats(ctx context.Context, cfg *config.Config, logger *slog.Logger, w io.Writer) error {
	if ctx == nil {
		ctx = context.Background()
	}
	b, err := openBackends(ctx, cfg, logger, false)
	if err != nil {
		return err
	}
	defer b.Close()

	stats, err := b.counters.Read(ctx)
	if err != nil {
		return fmt.Errorf("read counters: %w", err)
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(stats)
}
