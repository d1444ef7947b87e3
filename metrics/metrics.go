// Package metrics exposes Prometheus collectors for the playback pipeline:
// buffer occupancy, render-skip counts, decode-cycle duration, and
// end-of-stream events.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	bufferOccupancyPercent = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "reel_buffer_occupancy_percent",
		Help: "BlockBuffer capacity percent by media type",
	}, []string{"media_type"})

	bufferRangeSeconds = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "reel_buffer_range_seconds",
		Help: "BlockBuffer range duration in seconds by media type",
	}, []string{"media_type"})

	renderSkipsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "reel_render_skips_total",
		Help: "Render cycles skipped because the renderer was busy",
	}, []string{"media_type"})

	renderCallsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "reel_render_calls_total",
		Help: "Render calls issued because the selected block changed",
	}, []string{"media_type"})

	decodeCycleSeconds = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "reel_decode_cycle_seconds",
		Help:    "Decoding worker cycle duration in seconds",
		Buckets: prometheus.ExponentialBuckets(0.0005, 2, 10), // 0.5ms to ~256ms
	}, []string{"media_type"})

	decodedBlocksTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "reel_decoded_blocks_total",
		Help: "Blocks materialized and inserted into a BlockBuffer",
	}, []string{"media_type"})

	mediaEndedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "reel_media_ended_total",
		Help: "Total number of end-of-media transitions fired",
	})

	readErrorsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "reel_read_errors_total",
		Help: "Container read errors by kind",
	}, []string{"kind"})

	seeksTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "reel_seeks_total",
		Help: "Total number of completed seek commands",
	})
)

// SetBufferOccupancy records a BlockBuffer's current capacity percent and
// range duration for mediaType.
func SetBufferOccupancy(mediaType string, capacityPercent, rangeSeconds float64) {
	bufferOccupancyPercent.WithLabelValues(mediaType).Set(capacityPercent)
	bufferRangeSeconds.WithLabelValues(mediaType).Set(rangeSeconds)
}

// IncrementRenderSkip records a render cycle skipped because the renderer
// reported busy.
func IncrementRenderSkip(mediaType string) {
	renderSkipsTotal.WithLabelValues(mediaType).Inc()
}

// IncrementRenderCall records a render call issued for a changed block.
func IncrementRenderCall(mediaType string) {
	renderCallsTotal.WithLabelValues(mediaType).Inc()
}

// ObserveDecodeCycle records one decoding worker cycle's duration.
func ObserveDecodeCycle(mediaType string, seconds float64) {
	decodeCycleSeconds.WithLabelValues(mediaType).Observe(seconds)
}

// IncrementDecodedBlocks records a block materialized into a buffer.
func IncrementDecodedBlocks(mediaType string) {
	decodedBlocksTotal.WithLabelValues(mediaType).Inc()
}

// IncrementMediaEnded records an end-of-media transition.
func IncrementMediaEnded() {
	mediaEndedTotal.Inc()
}

// IncrementReadError records a container read error by taxonomy kind.
func IncrementReadError(kind string) {
	readErrorsTotal.WithLabelValues(kind).Inc()
}

// IncrementSeek records a completed seek command.
func IncrementSeek() {
	seeksTotal.Inc()
}
