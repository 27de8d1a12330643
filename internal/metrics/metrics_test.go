package metrics

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"bus-booking/booking/domain"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCollector_Enqueue(t *testing.T) {
	c := NewCollector(prometheus.NewRegistry())

	c.Enqueued(false)
	c.Enqueued(true)
	c.EnqueueFailed()

	assert.Equal(t, 2.0, testutil.ToFloat64(c.enqueued))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.duplicates))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.enqueueErrors))
}

func TestCollector_BatchProcessed(t *testing.T) {
	c := NewCollector(prometheus.NewRegistry())

	c.BatchProcessed(domain.BatchResult{Processed: 5, Succeeded: 3, Failed: 2}, 20*time.Millisecond)
	c.SnapshotFailed()
	c.Throttled(domain.Decision{Scope: domain.ScopeSeat, Key: "T1#4"})

	assert.Equal(t, 1.0, testutil.ToFloat64(c.batches))
	assert.Equal(t, 3.0, testutil.ToFloat64(c.items.WithLabelValues("success")))
	assert.Equal(t, 2.0, testutil.ToFloat64(c.items.WithLabelValues("failed")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.snapshotFailures))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.throttled.WithLabelValues("seat")))
	assert.Equal(t, 0.0, testutil.ToFloat64(c.throttled.WithLabelValues("client")))
}

func TestCollector_DoubleRegistrationPanics(t *testing.T) {
	reg := prometheus.NewRegistry()
	NewCollector(reg)

	assert.Panics(t, func() { NewCollector(reg) })
}

func TestHandler_ExposesMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := NewCollector(reg)
	c.Enqueued(false)

	w := httptest.NewRecorder()
	Handler(reg).ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	require.Equal(t, http.StatusOK, w.Code)
	assert.True(t, strings.Contains(w.Body.String(), "booking_enqueued_total 1"))
}
