package application

import (
	"time"

	"bus-booking/booking/domain"
)

// GatewayMetrics recebe os eventos do lado produtor.
type GatewayMetrics interface {
	Enqueued(duplicate bool)
	EnqueueFailed()
}

// ProcessorMetrics recebe os eventos do lado consumidor.
type ProcessorMetrics interface {
	BatchProcessed(res domain.BatchResult, took time.Duration)
	SnapshotFailed()
}

type nopMetrics struct{}

func (nopMetrics) Enqueued(bool)                                    {}
func (nopMetrics) EnqueueFailed()                                   {}
func (nopMetrics) BatchProcessed(domain.BatchResult, time.Duration) {}
func (nopMetrics) SnapshotFailed()                                  {}
