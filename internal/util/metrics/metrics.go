// Package metrics holds Prometheus label/bucket conventions shared
// by the collector and the emitter, the way cdc-sink's
// internal/util/metrics backs internal/staging/stage's promauto
// vectors.
package metrics

// LatencyBuckets is the shared histogram bucket layout (seconds) for
// latency metrics; the collector uses it for the time spent in
// Sink.Deliver, retries included.
var LatencyBuckets = []float64{
	.001, .002, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10,
}

// KindLabels is the label set attached to per-statement-kind counters.
var KindLabels = []string{"kind"}

// SinkLabels is the label set attached to per-sink-implementation
// delivery counters.
var SinkLabels = []string{"sink"}
