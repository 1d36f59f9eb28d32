package voxgo

import (
	"sync/atomic"
	"time"

	"github.com/voxgo/voxgo/cache"
)

// MetricsCollector defines an interface for collecting operational metrics
// from the cuboid cache. Implement this interface to integrate with
// monitoring systems like Prometheus.
//
// Example Prometheus integration:
//
//	type PrometheusCollector struct {
//	    getCounter  prometheus.Counter
//	    hitCounter  prometheus.Counter
//	    fillSeconds prometheus.Histogram
//	}
//
//	func (p *PrometheusCollector) RecordGet(hit bool, d time.Duration, err error) {
//	    p.getCounter.Inc()
//	    // ... record hit state, duration, etc.
//	}
type MetricsCollector = cache.Collector

// NoopMetricsCollector is a no-op implementation of MetricsCollector.
// Use this when metrics collection is not needed.
type NoopMetricsCollector struct{}

func (NoopMetricsCollector) RecordGet(bool, time.Duration, error) {}
func (NoopMetricsCollector) RecordPut(time.Duration, error)       {}
func (NoopMetricsCollector) RecordFill(time.Duration, error)      {}
func (NoopMetricsCollector) RecordEviction(int)                   {}
func (NoopMetricsCollector) RecordCorruption(string)              {}

// BasicMetricsCollector provides simple in-memory metrics collection.
// Useful for debugging and basic monitoring without external dependencies.
type BasicMetricsCollector struct {
	GetCount       atomic.Int64
	GetHits        atomic.Int64
	GetErrors      atomic.Int64
	GetTotalNanos  atomic.Int64
	PutCount       atomic.Int64
	PutErrors      atomic.Int64
	PutTotalNanos  atomic.Int64
	FillCount      atomic.Int64
	FillErrors     atomic.Int64
	FillTotalNanos atomic.Int64
	EvictedTotal   atomic.Int64
	Corruptions    atomic.Int64
}

// RecordGet implements MetricsCollector.
func (b *BasicMetricsCollector) RecordGet(hit bool, duration time.Duration, err error) {
	b.GetCount.Add(1)
	b.GetTotalNanos.Add(duration.Nanoseconds())
	if hit {
		b.GetHits.Add(1)
	}
	if err != nil {
		b.GetErrors.Add(1)
	}
}

// RecordPut implements MetricsCollector.
func (b *BasicMetricsCollector) RecordPut(duration time.Duration, err error) {
	b.PutCount.Add(1)
	b.PutTotalNanos.Add(duration.Nanoseconds())
	if err != nil {
		b.PutErrors.Add(1)
	}
}

// RecordFill implements MetricsCollector.
func (b *BasicMetricsCollector) RecordFill(duration time.Duration, err error) {
	b.FillCount.Add(1)
	b.FillTotalNanos.Add(duration.Nanoseconds())
	if err != nil {
		b.FillErrors.Add(1)
	}
}

// RecordEviction implements MetricsCollector.
func (b *BasicMetricsCollector) RecordEviction(evicted int) {
	b.EvictedTotal.Add(int64(evicted))
}

// RecordCorruption implements MetricsCollector.
func (b *BasicMetricsCollector) RecordCorruption(string) {
	b.Corruptions.Add(1)
}

// GetStats returns a snapshot of current metrics.
func (b *BasicMetricsCollector) GetStats() BasicMetricsStats {
	return BasicMetricsStats{
		GetCount:     b.GetCount.Load(),
		GetHits:      b.GetHits.Load(),
		GetErrors:    b.GetErrors.Load(),
		GetAvgNanos:  avgNanos(b.GetTotalNanos.Load(), b.GetCount.Load()),
		PutCount:     b.PutCount.Load(),
		PutErrors:    b.PutErrors.Load(),
		PutAvgNanos:  avgNanos(b.PutTotalNanos.Load(), b.PutCount.Load()),
		FillCount:    b.FillCount.Load(),
		FillErrors:   b.FillErrors.Load(),
		FillAvgNanos: avgNanos(b.FillTotalNanos.Load(), b.FillCount.Load()),
		EvictedTotal: b.EvictedTotal.Load(),
		Corruptions:  b.Corruptions.Load(),
	}
}

func avgNanos(total, count int64) int64 {
	if count == 0 {
		return 0
	}
	return total / count
}

// BasicMetricsStats is a snapshot of BasicMetricsCollector state.
type BasicMetricsStats struct {
	GetCount     int64
	GetHits      int64
	GetErrors    int64
	GetAvgNanos  int64
	PutCount     int64
	PutErrors    int64
	PutAvgNanos  int64
	FillCount    int64
	FillErrors   int64
	FillAvgNanos int64
	EvictedTotal int64
	Corruptions  int64
}
