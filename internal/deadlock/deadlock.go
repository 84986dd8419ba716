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

// Package deadlock implements the wait-for graph and cycle detector
// (spec §4.5). The graph is owned by a single goroutine that drains a
// channel of lock events, the "dedicated actor" option spec §5 calls
// out as preferable to a coarse lock, mirroring the single-goroutine
// ownership pattern cdc-sink uses for its retireLoop and resolver
// dispatch (source/cdc/resolver.go).
package deadlock

import (
	"context"
	"sort"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/kubedb-monitor/agent/internal/dbevent"
	"github.com/kubedb-monitor/agent/internal/util/ident"
	"github.com/kubedb-monitor/agent/internal/util/stopper"
)

// QueryCounter lets the detector ask how many completed queries a
// transaction has, for victim selection, without importing the
// registry package (which in turn would need to import this one to
// satisfy LockNotifier - kept as two narrow interfaces instead of a
// cyclic dependency).
type QueryCounter interface {
	CompletedQueryCount(tx dbevent.TransactionId) int
	StartedAt(tx dbevent.TransactionId) (time.Time, bool)
	MarkDeadlockVictim(tx dbevent.TransactionId)
}

// EventSink receives DeadlockDetected events.
type EventSink interface {
	Submit(dbevent.Event)
}

type lockEvent struct {
	kind      eventKind
	tx        dbevent.TransactionId
	res       string
	exclusive bool
	reply     chan struct{} // for synchronous "check now" requests
}

type eventKind int

const (
	evAcquire eventKind = iota
	evRequest
	evCompleted
	evCheckNow
)

// vertex tracks one transaction's place in the wait-for graph.
type vertex struct {
	holds   map[string]bool
	waitsOn map[dbevent.TransactionId]string // edge target -> resource
}

// Detector is the deadlock detector (C5).
type Detector struct {
	counter QueryCounter
	sink    EventSink
	tick    time.Duration

	events chan lockEvent

	// graph state, owned exclusively by the run() goroutine.
	vertices map[dbevent.TransactionId]*vertex
	holders  map[string]map[dbevent.TransactionId]bool // resource -> holders
}

// SetCounter wires the QueryCounter after construction, used when the
// counter (the transaction registry) itself depends on the Detector
// as its LockNotifier: Engine constructs the Detector with a nil
// counter, builds the Registry against it, then calls SetCounter
// before either is used. Not safe to call concurrently with Run.
func (d *Detector) SetCounter(counter QueryCounter) {
	d.counter = counter
}

// New constructs a Detector. tick is the periodic cycle-check
// interval (spec §4.5's "configurable tick, default 1s").
func New(counter QueryCounter, sink EventSink, tick time.Duration) *Detector {
	if tick <= 0 {
		tick = time.Second
	}
	return &Detector{
		counter:  counter,
		sink:     sink,
		tick:     tick,
		events:   make(chan lockEvent, 256),
		vertices: make(map[dbevent.TransactionId]*vertex),
		holders:  make(map[string]map[dbevent.TransactionId]bool),
	}
}

// Run starts the detector's actor goroutine under ctx. It returns
// once ctx is stopping.
func (d *Detector) Run(ctx *stopper.Context) {
	ctx.Go(func() error {
		ticker := time.NewTicker(d.tick)
		defer ticker.Stop()
		for {
			select {
			case ev := <-d.events:
				d.apply(ev)
				if ev.reply != nil {
					close(ev.reply)
				}
			case <-ticker.C:
				d.checkForDeadlock()
			case <-ctx.Stopping():
				return nil
			case <-ctx.Done():
				return ctx.Err()
			}
		}
	})
}

func (d *Detector) vertexFor(tx dbevent.TransactionId) *vertex {
	v, ok := d.vertices[tx]
	if !ok {
		v = &vertex{holds: map[string]bool{}, waitsOn: map[dbevent.TransactionId]string{}}
		d.vertices[tx] = v
	}
	return v
}

func (d *Detector) apply(ev lockEvent) {
	switch ev.kind {
	case evAcquire:
		d.acquire(ev.tx, ev.res)
	case evRequest:
		d.request(ev.tx, ev.res, ev.exclusive)
	case evCompleted:
		d.completed(ev.tx)
	case evCheckNow:
		d.checkForDeadlock()
	}
}

// acquire implements spec §4.5's registerLockAcquired.
func (d *Detector) acquire(tx dbevent.TransactionId, res string) {
	v := d.vertexFor(tx)
	v.holds[res] = true

	holders := d.holders[res]
	if holders == nil {
		holders = map[dbevent.TransactionId]bool{}
		d.holders[res] = holders
	}
	holders[tx] = true

	// Remove any waiter edges now satisfied: w -> tx on res, where the
	// waiter was waiting specifically for this resource and this
	// holder.
	for waiter, w := range d.vertices {
		if waiter == tx {
			continue
		}
		if target, ok := w.waitsOn[tx]; ok && target == res {
			delete(w.waitsOn, tx)
		}
	}
}

// request implements spec §4.5's registerLockRequest.
func (d *Detector) request(tx dbevent.TransactionId, res string, exclusive bool) {
	v := d.vertexFor(tx)

	for holder := range d.holders[res] {
		if holder == tx {
			continue
		}
		v.waitsOn[holder] = res
	}

	if exclusive {
		d.acquire(tx, res)
	}
}

// completed implements spec §4.5's onTransactionCompleted.
func (d *Detector) completed(tx dbevent.TransactionId) {
	v, ok := d.vertices[tx]
	if !ok {
		return
	}
	for res := range v.holds {
		if holders := d.holders[res]; holders != nil {
			delete(holders, tx)
			if len(holders) == 0 {
				delete(d.holders, res)
			}
		}
	}
	delete(d.vertices, tx)
	for _, other := range d.vertices {
		delete(other.waitsOn, tx)
	}
}

// dfsFrame is one explicit call frame of checkForDeadlock's iterative
// DFS: the vertex being explored, its (sorted) outgoing edges, and how
// far through them this frame has gotten.
type dfsFrame struct {
	tx      dbevent.TransactionId
	targets []dbevent.TransactionId
	idx     int
}

func (d *Detector) sortedTargets(tx dbevent.TransactionId) []dbevent.TransactionId {
	v := d.vertices[tx]
	targets := make([]dbevent.TransactionId, 0, len(v.waitsOn))
	for t := range v.waitsOn {
		targets = append(targets, t)
	}
	sort.Slice(targets, func(i, j int) bool { return targets[i] < targets[j] })
	return targets
}

// checkForDeadlock performs a bounded, iterative DFS over the wait-for
// graph to find a directed cycle, per spec §4.5(a). The call stack is
// an explicit slice of frames rather than Go recursion, so its depth
// is bounded by the number of live transactions, not by the
// interpreter's call stack.
func (d *Detector) checkForDeadlock() *dbevent.DeadlockDetected {
	const (
		white = 0
		gray  = 1
		black = 2
	)
	color := make(map[dbevent.TransactionId]int, len(d.vertices))

	// path holds the current gray path from a root to the frame on top
	// of frames, used to extract the cycle once one closes.
	var path []dbevent.TransactionId
	var frames []dfsFrame
	var cycle []dbevent.TransactionId

	ids := make([]dbevent.TransactionId, 0, len(d.vertices))
	for tx := range d.vertices {
		ids = append(ids, tx)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

roots:
	for _, root := range ids {
		if color[root] != white {
			continue
		}
		color[root] = gray
		path = append(path, root)
		frames = append(frames, dfsFrame{tx: root, targets: d.sortedTargets(root)})

		for len(frames) > 0 {
			top := &frames[len(frames)-1]
			if top.idx >= len(top.targets) {
				color[top.tx] = black
				path = path[:len(path)-1]
				frames = frames[:len(frames)-1]
				continue
			}
			next := top.targets[top.idx]
			top.idx++

			switch color[next] {
			case white:
				color[next] = gray
				path = append(path, next)
				frames = append(frames, dfsFrame{tx: next, targets: d.sortedTargets(next)})
			case gray:
				// Found a cycle: extract the portion of path from next's
				// first occurrence to the top.
				for i, t := range path {
					if t == next {
						cycle = append([]dbevent.TransactionId(nil), path[i:]...)
						break
					}
				}
				break roots
			case black:
				// Already fully explored; no cycle through here.
			}
		}
	}

	if len(cycle) == 0 {
		return nil
	}
	return d.emitDeadlock(cycle)
}

func (d *Detector) emitDeadlock(participants []dbevent.TransactionId) *dbevent.DeadlockDetected {
	resourceSet := map[string]bool{}
	for _, tx := range participants {
		v := d.vertices[tx]
		for res := range v.holds {
			resourceSet[res] = true
		}
		for _, res := range v.waitsOn {
			resourceSet[res] = true
		}
	}
	resources := make([]string, 0, len(resourceSet))
	for res := range resourceSet {
		resources = append(resources, res)
	}
	sort.Strings(resources)

	victim := d.selectVictim(participants)
	d.counter.MarkDeadlockVictim(victim)

	sorted := append([]dbevent.TransactionId(nil), participants...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })

	evt := dbevent.NewDeadlockDetected(sorted, resources, victim)
	d.sink.Submit(evt)

	log.WithFields(log.Fields{
		"participants": sorted,
		"victim":       victim,
	}).Warn("deadlock detected")

	return &evt
}

// selectVictim implements spec §4.5(b): fewest completed queries,
// then most recent startedAt, then lexicographic TransactionId.
func (d *Detector) selectVictim(participants []dbevent.TransactionId) dbevent.TransactionId {
	best := participants[0]
	bestCount := d.counter.CompletedQueryCount(best)
	bestStart, _ := d.counter.StartedAt(best)

	for _, tx := range participants[1:] {
		count := d.counter.CompletedQueryCount(tx)
		start, _ := d.counter.StartedAt(tx)

		switch {
		case count < bestCount:
			best, bestCount, bestStart = tx, count, start
		case count > bestCount:
			// keep current best
		case start.After(bestStart):
			best, bestCount, bestStart = tx, count, start
		case start.Equal(bestStart) && tx < best:
			best, bestCount, bestStart = tx, count, start
		}
	}
	return best
}

// --- Public, channel-dispatched API used by the registry/interceptor ---

// RegisterLockAcquired implements the registry.LockNotifier interface.
func (d *Detector) RegisterLockAcquired(tx dbevent.TransactionId, res ident.Resource) {
	d.send(lockEvent{kind: evAcquire, tx: tx, res: res.Raw()})
}

// RegisterLockRequest implements the registry.LockNotifier interface.
func (d *Detector) RegisterLockRequest(tx dbevent.TransactionId, res ident.Resource, exclusive bool) {
	d.send(lockEvent{kind: evRequest, tx: tx, res: res.Raw(), exclusive: exclusive})
}

// OnTransactionCompleted implements the registry.LockNotifier interface.
func (d *Detector) OnTransactionCompleted(tx dbevent.TransactionId) {
	d.send(lockEvent{kind: evCompleted, tx: tx})
}

// CheckNow requests an immediate, synchronous cycle check, used when
// the interceptor observes an error classified as deadlock-suspect
// (spec §4.5(a), §7's DeadlockSuspected). It blocks until the check
// has run.
func (d *Detector) CheckNow(ctx context.Context) {
	reply := make(chan struct{})
	select {
	case d.events <- lockEvent{kind: evCheckNow, reply: reply}:
	case <-ctx.Done():
		return
	}
	select {
	case <-reply:
	case <-ctx.Done():
	}
}

func (d *Detector) send(ev lockEvent) {
	// Lock events must never block the calling application thread for
	// long; the channel is generously buffered and, in the pathological
	// case where the actor has fallen behind, we drop the event rather
	// than stall a query in flight. A dropped lock event degrades
	// detection fidelity, never application correctness (spec §7).
	select {
	case d.events <- ev:
	default:
		log.Warn("deadlock detector event queue full, dropping lock event")
	}
}
