package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"bus-booking/booking/domain"
	"bus-booking/booking/infra"
	"bus-booking/internal/config"
	"bus-booking/internal/metrics"

	"github.com/alicebob/miniredis/v2"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestBuildCLI(t *testing.T) {
	root := BuildCLI()

	assert.Equal(t, "bookingq", root.Use)

	var names []string
	for _, c := range root.Commands() {
		names = append(names, c.Name())
	}
	assert.ElementsMatch(t, []string{"serve", "gateway", "processor", "stats"}, names)

	configFlag := root.PersistentFlags().Lookup("config")
	require.NotNil(t, configFlag)
	assert.Equal(t, "c", configFlag.Shorthand)
	assert.Equal(t, "configs/default.yaml", configFlag.DefValue)
}

func TestStatsCommand_PrintsCounters(t *testing.T) {
	root := BuildCLI()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetArgs([]string{"stats", "-c", filepath.Join(t.TempDir(), "missing.yaml")})

	require.NoError(t, root.Execute())

	var c domain.Counters
	require.NoError(t, json.Unmarshal(out.Bytes(), &c))
	assert.Equal(t, domain.Counters{}, c)
}

func TestNewLogger_JSONFormat(t *testing.T) {
	cfg := config.Default()
	cfg.Log.Format = "json"
	cfg.Log.Level = "warn"

	var buf bytes.Buffer
	logger := newLogger(cfg, &buf)
	logger.Info("hidden")
	logger.Warn("shown", "k", 1)

	assert.NotContains(t, buf.String(), "hidden")
	assert.True(t, strings.HasPrefix(buf.String(), "{"))
	assert.Contains(t, buf.String(), `"msg":"shown"`)
}

func TestOpenBackends_Redis(t *testing.T) {
	mr := miniredis.RunT(t)
	cfg := config.Default()
	cfg.Redis.Addr = mr.Addr()
	cfg.Queue.Backend = config.BackendRedis
	cfg.Counters.Backend = config.BackendRedis
	cfg.Objects.Backend = config.BackendRedis

	b, err := openBackends(context.Background(), cfg, discardLogger(), true)
	require.NoError(t, err)
	defer b.Close()

	assert.IsType(t, &infra.RedisQueue{}, b.queue)
	assert.IsType(t, &infra.RedisQueue{}, b.delivery)
	assert.IsType(t, &infra.RedisCounterStore{}, b.counters)
	assert.IsType(t, &infra.RedisObjectStore{}, b.objects)
}

func TestOpenBackends_SQLiteAndFile(t *testing.T) {
	dir := t.TempDir()
	cfg := config.Default()
	cfg.Counters.Backend = config.BackendSQLite
	cfg.Counters.SQLitePath = filepath.Join(dir, "counters.db")
	cfg.Objects.Backend = config.BackendFile
	cfg.Objects.Dir = dir

	b, err := openBackends(context.Background(), cfg, discardLogger(), false)
	require.NoError(t, err)
	defer b.Close()

	assert.IsType(t, &infra.SQLiteCounterStore{}, b.counters)
	assert.IsType(t, &infra.FileObjectStore{}, b.objects)
	assert.IsType(t, &infra.MemoryQueue{}, b.queue)
}

func TestOpenBackends_UnreachableRedis(t *testing.T) {
	cfg := config.Default()
	cfg.Redis.Addr = "127.0.0.1:1"
	cfg.Counters.Backend = config.BackendRedis

	_, err := openBackends(context.Background(), cfg, discardLogger(), false)
	assert.Error(t, err)
}

func TestServe_GatewayToProcessorInMemory(t *testing.T) {
	cfg := config.Default()
	cfg.Objects.Backend = config.BackendMemory
	cfg.Processor.Concurrency = 2
	logger := discardLogger()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	b, err := openBackends(ctx, cfg, logger, true)
	require.NoError(t, err)
	defer b.Close()

	collector := metrics.NewCollector(prometheus.NewRegistry())
	h, buckets := newGatewayHandler(cfg, b, collector, logger)
	assert.Empty(t, buckets, "rate limit is off by default")

	srv := httptest.NewServer(h)
	defer srv.Close()

	done := make(chan error, 1)
	go func() { done <- runProcessor(ctx, cfg, b, collector, logger) }()

	for _, body := range []string{
		`{"requestId":"a","tripId":"T1","seatNo":"1"}`,
		`{"requestId":"a","tripId":"T1","seatNo":"1"}`,
		`{"requestId":"b","tripId":"T1","seatNo":"2"}`,
	} {
		res, err := http.Post(srv.URL+"/api/book-bus", "application/json", strings.NewReader(body))
		require.NoError(t, err)
		res.Body.Close()
		require.Equal(t, http.StatusOK, res.StatusCode)
	}

	require.Eventually(t, func() bool {
		c, err := b.counters.Read(context.Background())
		return err == nil && c.Processed == 2
	}, 2*time.Second, 10*time.Millisecond)

	c, err := b.counters.Read(context.Background())
	require.NoError(t, err)
	assert.Equal(t, domain.Counters{Processed: 2, Success: 2, Requests: 3}, c)

	store := b.objects.(*infra.MemoryObjectStore)
	require.Eventually(t, func() bool {
		obj, ok := store.Get("stats.json")
		return ok && strings.Contains(string(obj.Body), `"processed":2`)
	}, time.Second, 10*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("processor did not stop")
	}
}

func TestGatewayHandler_StatsStreamRouteKeepsHTTPContract(t *testing.T) {
	cfg := config.Default()
	logger := discardLogger()

	b, err := openBackends(context.Background(), cfg, logger, false)
	require.NoError(t, err)
	defer b.Close()

	h, _ := newGatewayHandler(cfg, b, metrics.NewCollector(prometheus.NewRegistry()), logger)

	w := httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest(http.MethodOptions, "/api/stats/ws", nil))
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "*", w.Header().Get("Access-Control-Allow-Origin"))
	assert.Equal(t, "application/json", w.Header().Get("Content-Type"))

	for _, method := range []string{http.MethodGet, http.MethodPost} {
		w := httptest.NewRecorder()
		h.ServeHTTP(w, httptest.NewRequest(method, "/api/stats/ws", nil))
		assert.Equal(t, http.StatusNotFound, w.Code, method)
		assert.Equal(t, "*", w.Header().Get("Access-Control-Allow-Origin"), method)
		assert.JSONEq(t, `{"error":"not found"}`, w.Body.String(), method)
	}
}

func TestGatewayHandler_SeatRateLimit(t *testing.T) {
	cfg := config.Default()
	cfg.Gateway.Rate.SeatRPS = 0.01
	cfg.Gateway.Rate.SeatBurst = 1
	logger := discardLogger()

	b, err := openBackends(context.Background(), cfg, logger, false)
	require.NoError(t, err)
	defer b.Close()

	h, buckets := newGatewayHandler(cfg, b, metrics.NewCollector(prometheus.NewRegistry()), logger)
	require.Len(t, buckets, 1)

	codes := make([]int, 0, 2)
	for _, remote := range []string{"10.0.0.1:1", "10.0.0.2:1"} {
		r := httptest.NewRequest(http.MethodPost, "/api/book-bus", strings.NewReader(`{"tripId":"T1","seatNo":4}`))
		r.RemoteAddr = remote
		w := httptest.NewRecorder()
		h.ServeHTTP(w, r)
		codes = append(codes, w.Code)
	}
	assert.Equal(t, []int{http.StatusOK, http.StatusTooManyRequests}, codes)
}
