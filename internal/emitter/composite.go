package emitter

import (
	"context"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	log "github.com/sirupsen/logrus"

	"github.com/kubedb-monitor/agent/internal/dbevent"
	"github.com/kubedb-monitor/agent/internal/util/metrics"
)

// perSinkOutcomeTotal tracks delivery outcomes per fanned-out sink
// implementation, so a degraded member of a composite can be spotted
// even when the aggregate outcome stays Ok (e.g. http failing while
// stdout keeps succeeding).
var perSinkOutcomeTotal = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "kubedb_monitor_composite_sink_outcomes_total",
	Help: "Delivery outcomes per fanned-out sink, labeled by sink implementation and outcome.",
}, append(append([]string{}, metrics.SinkLabels...), "outcome"))

// CompositeSink fans a batch out to every configured sink and
// aggregates their outcomes per spec §4.8: Ok iff all sinks report Ok;
// TransientError if any sink reports transient and none fatal;
// FatalError if any sink reports fatal.
type CompositeSink struct {
	sinks []Sink
}

// NewCompositeSink constructs a CompositeSink fanning out to sinks.
func NewCompositeSink(sinks ...Sink) *CompositeSink {
	return &CompositeSink{sinks: sinks}
}

// Deliver implements Sink.
func (c *CompositeSink) Deliver(ctx context.Context, batch []dbevent.Event) (Outcome, error) {
	var sawTransient bool
	var sawFatal bool
	var lastErr error

	for _, sink := range c.sinks {
		outcome, err := sink.Deliver(ctx, batch)
		perSinkOutcomeTotal.WithLabelValues(fmt.Sprintf("%T", sink), outcome.String()).Inc()
		switch outcome {
		case FatalError:
			sawFatal = true
			lastErr = err
		case TransientError:
			sawTransient = true
			lastErr = err
		}
		if err != nil {
			log.WithError(err).WithField("outcome", outcome.String()).Warn("sink delivery degraded")
		}
	}

	switch {
	case sawFatal:
		return FatalError, lastErr
	case sawTransient:
		return TransientError, lastErr
	default:
		return Ok, nil
	}
}

// Close closes every configured sink, returning the first error
// encountered, if any, after attempting to close them all.
func (c *CompositeSink) Close() error {
	var firstErr error
	for _, sink := range c.sinks {
		if err := sink.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
