// Package metrics expõe os contadores Prometheus do gateway e do processor.
//
// Métricas:
//
//	booking_enqueued_total               pedidos aceitos pela fila (inclui duplicatas)
//	booking_enqueue_duplicates_total     pedidos descartados pela janela de dedup
//	booking_enqueue_errors_total         falhas ao enviar para a fila
//	booking_throttled_total{scope}       requisições bloqueadas pelo rate limit (client|seat)
//	booking_batches_total                lotes processados
//	booking_items_total{verdict}         itens por veredito (success|failed)
//	booking_batch_duration_seconds       duração de cada lote
//	booking_snapshot_failures_total      falhas ao publicar o snapshot
package metrics

import (
	"net/http"
	"time"

	"bus-booking/booking/domain"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Collector implementa application.GatewayMetrics e application.ProcessorMetrics.
type Collector struct {
	enqueued         prometheus.Counter
	duplicates       prometheus.Counter
	enqueueErrors    prometheus.Counter
	throttled        *prometheus.CounterVec
	batches          prometheus.Counter
	items            *prometheus.CounterVec
	batchDuration    prometheus.Histogram
	snapshotFailures prometheus.Counter
}

func NewCollector(reg prometheus.Registerer) *Collector {
	c := &Collector{
		enqueued: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "booking_enqueued_total",
			Help: "Booking requests accepted by the queue, duplicates included",
		}),
		duplicates: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "booking_enqueue_duplicates_total",
			Help: "Booking requests dropped by the dedup window",
		}),
		enqueueErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "booking_enqueue_errors_total",
			Help: "Failed queue submissions",
		}),
		throttled: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "booking_throttled_total",
			Help: "Booking requests rejected by the rate limit, by exhausted scope",
		}, []string{"scope"}),
		batches: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "booking_batches_total",
			Help: "Batches handled by the processor",
		}),
		items: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "booking_items_total",
			Help: "Processed items by verdict",
		}, []string{"verdict"}),
		batchDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "booking_batch_duration_seconds",
			Help:    "Time spent processing one batch",
			Buckets: prometheus.DefBuckets,
		}),
		snapshotFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "booking_snapshot_failures_total",
			Help: "Failed stats snapshot publications",
		}),
	}

	reg.MustRegister(
		c.enqueued,
		c.duplicates,
		c.enqueueErrors,
		c.throttled,
		c.batches,
		c.items,
		c.batchDuration,
		c.snapshotFailures,
	)
	return c
}

func (c *Collector) Enqueued(duplicate bool) {
	c.enqueued.Inc()
	if duplicate {
		c.duplicates.Inc()
	}
}

func (c *Collector) EnqueueFailed() { c.enqueueErrors.Inc() }

// Throttled tem a assinatura de booking.ThrottleOptions.OnReject.
func (c *Collector) Throttled(dec domain.Decision) {
	c.throttled.WithLabelValues(string(dec.Scope)).Inc()
}

func (c *Collector) BatchProcessed(res domain.BatchResult, took time.Duration) {
	c.batches.Inc()
	c.items.WithLabelValues("success").Add(float64(res.Succeeded))
	c.items.WithLabelValues("failed").Add(float64(res.Failed))
	c.batchDuration.Observe(took.Seconds())
}

func (c *Collector) SnapshotFailed() { c.snapshotFailures.Inc() }

// Handler serve o formato texto do Prometheus para o gatherer dado.
func Handler(g prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(g, promhttp.HandlerOpts{})
}
