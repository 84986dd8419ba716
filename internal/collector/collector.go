// Copyright 2023 The Cockroach Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.
//
// SPDX-License-Identifier: Apache-2.0

// Package collector implements the metrics collector (spec §4.7): a
// bounded, single-consumer queue that samples, batches, and hands
// events to an emitter.Sink, retrying transient failures with
// full-jitter exponential backoff. SQL fingerprints arrive already
// masked by the interceptor; the collector does not mask them again. The batching and drain-on-timer
// idiom is adapted from cdc-sink's resolver.go, whose loop drains a
// channel up to a deadline using a reused backupTimer rather than
// allocating a fresh timer on every iteration.
package collector

import (
	"context"
	"math/rand"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	log "github.com/sirupsen/logrus"

	"github.com/kubedb-monitor/agent/internal/dbevent"
	"github.com/kubedb-monitor/agent/internal/emitter"
	"github.com/kubedb-monitor/agent/internal/util/metrics"
	"github.com/kubedb-monitor/agent/internal/util/seqno"
	"github.com/kubedb-monitor/agent/internal/util/stopper"
)

const (
	defaultBatchSize = 200
	defaultBatchWait = 100 * time.Millisecond

	backoffBase = 100 * time.Millisecond
	backoffCap  = 5 * time.Second

	dropSummaryInterval = 5 * time.Second
	shutdownDrainBudget = 2 * time.Second
)

var (
	submittedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "kubedb_monitor_events_submitted_total",
		Help: "Events accepted by the collector queue.",
	})
	droppedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "kubedb_monitor_events_dropped_total",
		Help: "Events dropped because the collector queue was full.",
	})
	sampledOutTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "kubedb_monitor_events_sampled_out_total",
		Help: "QueryExecuted events discarded by sampling-rate.",
	})
	batchesDeliveredTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "kubedb_monitor_batches_delivered_total",
		Help: "Batches handed to a sink, labeled by outcome.",
	}, []string{"outcome"})
	deliveryRetriesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "kubedb_monitor_delivery_retries_total",
		Help: "Number of backoff retries performed after a transient sink failure.",
	})
	batchSize = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "kubedb_monitor_batch_size",
		Help:    "Size of batches handed to the sink.",
		Buckets: prometheus.LinearBuckets(0, 25, 10),
	})
	deliveryLatency = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "kubedb_monitor_delivery_latency_seconds",
		Help:    "Time spent in Sink.Deliver, including retries.",
		Buckets: metrics.LatencyBuckets,
	})
	queryKindTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "kubedb_monitor_queries_total",
		Help: "QueryExecuted/SlowQuery events submitted, labeled by statement kind.",
	}, metrics.KindLabels)
)

// Sampler decides whether a QueryExecuted event survives sampling. It
// is a function type so tests can inject a deterministic source.
type Sampler func(rate float64) bool

func defaultSampler(rate float64) bool {
	if rate >= 1 {
		return true
	}
	if rate <= 0 {
		return false
	}
	return rand.Float64() < rate
}

// Collector is the metrics collector (C7).
type Collector struct {
	sink          emitter.Sink
	samplingRate  float64
	sample        Sampler
	batchSize     int
	batchWait     time.Duration
	queue         chan dbevent.Event
	seq           *seqno.Source
	dropped       int64
}

// New constructs a Collector delivering to sink. queueCapacity,
// samplingRate are read from the resolved Config by internal/engine.
func New(sink emitter.Sink, queueCapacity int, samplingRate float64) *Collector {
	if queueCapacity <= 0 {
		queueCapacity = 1024
	}
	return &Collector{
		sink:         sink,
		samplingRate: samplingRate,
		sample:       defaultSampler,
		batchSize:    defaultBatchSize,
		batchWait:    defaultBatchWait,
		queue:        make(chan dbevent.Event, queueCapacity),
		seq:          seqno.NewSource(),
	}
}

// Submit implements the registry.EventSink / deadlock.EventSink
// narrow interfaces, letting those packages hand events to the
// collector without importing it directly.
func (c *Collector) Submit(evt dbevent.Event) {
	if !c.shouldKeep(evt) {
		sampledOutTotal.Inc()
		return
	}
	switch q := evt.(type) {
	case dbevent.QueryExecuted:
		queryKindTotal.WithLabelValues(string(q.Kind_)).Inc()
	case dbevent.SlowQuery:
		queryKindTotal.WithLabelValues(string(q.Kind_)).Inc()
	}

	select {
	case c.queue <- evt:
		submittedTotal.Inc()
	default:
		// Queue full: spec §4.7 prefers the newest event, so evict the
		// oldest queued entry to make room rather than rejecting evt.
		select {
		case <-c.queue:
			droppedTotal.Inc()
			c.dropped++
			log.WithField("type", evt.Type()).Debug("collector queue full, evicting oldest event")
		default:
			// Consumer drained concurrently; nothing to evict.
		}
		select {
		case c.queue <- evt:
			submittedTotal.Inc()
		default:
			// Lost the race to another producer; count evt itself as dropped.
			droppedTotal.Inc()
			c.dropped++
		}
	}
}

// shouldKeep applies spec §4.7's sampling rule: sampling-rate governs
// QueryExecuted only; every other variant is never sampled away.
func (c *Collector) shouldKeep(evt dbevent.Event) bool {
	q, ok := evt.(dbevent.QueryExecuted)
	if !ok {
		return true
	}
	if q.Status == dbevent.StatusError {
		return true
	}
	return c.sample(c.samplingRate)
}

// Run starts the consumer goroutine under ctx and returns
// immediately; the consumer exits once ctx is stopping, after
// draining the queue up to shutdownDrainBudget.
func (c *Collector) Run(ctx *stopper.Context) {
	ctx.Go(func() error {
		c.consume(ctx)
		return nil
	})
}

func (c *Collector) consume(ctx *stopper.Context) {
	timer := time.NewTimer(c.batchWait)
	defer timer.Stop()

	var batch []dbevent.Event
	lastDropReport := time.Now()

	flush := func() {
		if len(batch) == 0 {
			return
		}
		c.deliverWithRetry(ctx, batch)
		batch = nil
	}

	for {
		select {
		case evt := <-c.queue:
			batch = append(batch, dbevent.WithSequence(evt, c.seq.Next()))
			if len(batch) >= c.batchSize {
				flush()
			}
		case <-timer.C:
			flush()
			if time.Since(lastDropReport) >= dropSummaryInterval && c.dropped > 0 {
				c.emitDropSummary(ctx)
				lastDropReport = time.Now()
			}
			timer.Reset(c.batchWait)
		case <-ctx.Stopping():
			c.drainOnShutdown(ctx, &batch)
			flush()
			return
		}
	}
}

// drainOnShutdown pulls any events still sitting in the queue, within
// a bounded deadline, per spec §4.7's shutdown contract.
func (c *Collector) drainOnShutdown(ctx context.Context, batch *[]dbevent.Event) {
	deadline := time.NewTimer(shutdownDrainBudget)
	defer deadline.Stop()
	for {
		select {
		case evt := <-c.queue:
			*batch = append(*batch, dbevent.WithSequence(evt, c.seq.Next()))
			if len(*batch) >= c.batchSize {
				c.deliverWithRetry(ctx, *batch)
				*batch = nil
			}
		case <-deadline.C:
			return
		default:
			return
		}
	}
}

func (c *Collector) emitDropSummary(ctx *stopper.Context) {
	dropped := c.dropped
	c.dropped = 0
	evt := dbevent.WithSequence(dbevent.NewDropSummary(dropped, dropSummaryInterval), c.seq.Next())
	c.deliverWithRetry(ctx, []dbevent.Event{evt})
}

// deliverWithRetry hands batch to the sink, retrying transient
// failures with full-jitter exponential backoff (base 100ms, cap 5s)
// while the collector keeps accepting new submissions on c.queue in
// the background (this call only blocks the consumer goroutine, never
// application threads).
func (c *Collector) deliverWithRetry(ctx context.Context, batch []dbevent.Event) {
	batchSize.Observe(float64(len(batch)))
	start := time.Now()
	defer func() { deliveryLatency.Observe(time.Since(start).Seconds()) }()

	attempt := 0
	for {
		outcome, err := c.sink.Deliver(ctx, batch)
		batchesDeliveredTotal.WithLabelValues(outcome.String()).Inc()

		switch outcome {
		case emitter.Ok:
			return
		case emitter.FatalError:
			log.WithError(err).WithField("batch_size", len(batch)).Warn("sink reported fatal error, dropping batch")
			return
		case emitter.TransientError:
			deliveryRetriesTotal.Inc()
			wait := fullJitterBackoff(attempt)
			log.WithError(err).WithField("attempt", attempt).WithField("wait", wait).
				Debug("sink delivery transient failure, retrying")
			select {
			case <-time.After(wait):
			case <-ctx.Done():
				return
			}
			attempt++
		}
	}
}

func fullJitterBackoff(attempt int) time.Duration {
	backoff := backoffBase << attempt
	if backoff <= 0 || backoff > backoffCap {
		backoff = backoffCap
	}
	return time.Duration(rand.Float64() * float64(backoff))
}
