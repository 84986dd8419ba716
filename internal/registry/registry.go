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

// Package registry implements the transaction registry (spec §4.4): a
// concurrency-safe connId->txId / txId->*TransactionContext mapping,
// adapted from cdc-sink's source/cdc.Resolvers type, which owns an
// analogous mutex-guarded map of live, per-target loops keyed by
// schema and exposes a get-or-create accessor plus a close that drains
// everything. Here the "loop" being tracked is a logical transaction
// instead of a changefeed loop.
package registry

import (
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/kubedb-monitor/agent/internal/dbevent"
	"github.com/kubedb-monitor/agent/internal/util/ident"
	"github.com/kubedb-monitor/agent/internal/util/notify"
)

// QueryRecord is one entry in a TransactionContext's ordered query
// sequence.
type QueryRecord struct {
	QueryId        string
	SqlFingerprint string
	DurationMs     int64
	Status         dbevent.Status
}

// TransactionContext is the per-live-transaction state described in
// spec §3. It is mutated only by the registry; callers receive
// snapshots, never the live value, to keep I2 ("reachable only while
// ACTIVE or during emission of its terminal event") enforceable.
type TransactionContext struct {
	TxId           dbevent.TransactionId
	ConnId         dbevent.ConnectionId
	StartedAt      time.Time
	Queries        []QueryRecord
	LocksHeld      map[string]bool
	LocksRequested map[string]bool
	LastActivityAt time.Time
	Status         Status

	// longTxEmitted is a sticky bit: LongRunningTransaction fires once
	// per transaction (spec §4.6), not once per threshold crossing.
	longTxEmitted bool
}

// Status is the lifecycle state of a TransactionContext.
type Status string

// Transaction statuses.
const (
	StatusActive           Status = "ACTIVE"
	StatusCommitted        Status = "COMMITTED"
	StatusRolledBack       Status = "ROLLED_BACK"
	StatusAborted          Status = "ABORTED"
	StatusAbortedDeadlock  Status = "ABORTED_DEADLOCK"
)

// snapshot returns a deep-enough copy of ctx safe to hand to callers
// outside the registry's lock.
func (ctx *TransactionContext) snapshot() *TransactionContext {
	cp := *ctx
	cp.Queries = append([]QueryRecord(nil), ctx.Queries...)
	cp.LocksHeld = copySet(ctx.LocksHeld)
	cp.LocksRequested = copySet(ctx.LocksRequested)
	return &cp
}

func copySet(m map[string]bool) map[string]bool {
	out := make(map[string]bool, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

// LockNotifier is the subset of the deadlock detector's API the
// registry depends on, so the two packages don't import each other
// directly.
type LockNotifier interface {
	RegisterLockAcquired(tx dbevent.TransactionId, res ident.Resource)
	RegisterLockRequest(tx dbevent.TransactionId, res ident.Resource, exclusive bool)
	OnTransactionCompleted(tx dbevent.TransactionId)
}

// EventSink receives events produced as a side effect of registry
// operations (TransactionStarted/Ended). It is a narrow interface so
// tests can supply a slice-backed fake instead of the full collector.
type EventSink interface {
	Submit(dbevent.Event)
}

// Registry is the transaction registry (C4).
type Registry struct {
	locks LockNotifier
	sink  EventSink

	mu struct {
		sync.Mutex
		connToTx map[dbevent.ConnectionId]dbevent.TransactionId
		txs      map[dbevent.TransactionId]*TransactionContext
	}

	// changed wakes the long-tx sweep whenever the set of live
	// transactions is mutated, mirroring the teacher's notify.Var use
	// in resolver.go to avoid polling.
	changed notify.Var[int64]
	version int64
}

// New constructs an empty Registry.
func New(locks LockNotifier, sink EventSink) *Registry {
	r := &Registry{locks: locks, sink: sink}
	r.mu.connToTx = make(map[dbevent.ConnectionId]dbevent.TransactionId)
	r.mu.txs = make(map[dbevent.TransactionId]*TransactionContext)
	return r
}

// Changed returns a channel that is closed the next time the registry
// mutates its set of live transactions.
func (r *Registry) Changed() <-chan struct{} {
	_, ch := r.changed.Get()
	return ch
}

func (r *Registry) bump() {
	r.version++
	r.changed.Set(r.version)
}

func newTxId() dbevent.TransactionId {
	// 8 ASCII characters, per spec §3 ("short unique identifier, ~8
	// chars"); a uuid gives us collision-resistant randomness, we just
	// don't need all 32 hex digits of it.
	raw := strings.ReplaceAll(uuid.NewString(), "-", "")
	return dbevent.TransactionId(raw[:8])
}

// OnAutoCommitChange implements spec §4.4's onAutoCommitChange.
func (r *Registry) OnAutoCommitChange(connId dbevent.ConnectionId, newValue bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	existingTx, hasActive := r.mu.connToTx[connId]

	if !newValue {
		if hasActive {
			return // idempotent: already in a transaction
		}
		txId := newTxId()
		now := time.Now()
		r.mu.connToTx[connId] = txId
		r.mu.txs[txId] = &TransactionContext{
			TxId:           txId,
			ConnId:         connId,
			StartedAt:      now,
			LastActivityAt: now,
			LocksHeld:      map[string]bool{},
			LocksRequested: map[string]bool{},
			Status:         StatusActive,
		}
		r.bump()
		r.sink.Submit(dbevent.NewTransactionStarted(txId, connId))
		return
	}

	// newValue == true: auto-commit flushes any open transaction.
	if hasActive {
		r.completeLocked(existingTx, StatusCommitted, dbevent.TxCommitted)
	}
}

// OnCommit implements spec §4.4's onCommit.
func (r *Registry) OnCommit(connId dbevent.ConnectionId) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if txId, ok := r.mu.connToTx[connId]; ok {
		r.completeLocked(txId, StatusCommitted, dbevent.TxCommitted)
	}
}

// OnRollback implements spec §4.4's onRollback.
func (r *Registry) OnRollback(connId dbevent.ConnectionId) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if txId, ok := r.mu.connToTx[connId]; ok {
		r.completeLocked(txId, StatusRolledBack, dbevent.TxRolledBack)
	}
}

// OnConnectionClosed implements spec §4.4's onConnectionClosed.
func (r *Registry) OnConnectionClosed(connId dbevent.ConnectionId) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if txId, ok := r.mu.connToTx[connId]; ok {
		r.completeLocked(txId, StatusAborted, dbevent.TxAborted)
	}
}

// completeLocked finalizes a transaction. Callers must hold r.mu.
func (r *Registry) completeLocked(txId dbevent.TransactionId, status Status, outcome dbevent.TxOutcome) {
	ctx, ok := r.mu.txs[txId]
	if !ok {
		return
	}
	// A deadlock victim's terminal outcome is always reported as
	// ABORTED_DEADLOCK, overriding whatever the caller requested,
	// since the rollback the host driver performs in that case is a
	// consequence of the deadlock, not an independent decision.
	if ctx.Status == StatusAbortedDeadlock {
		outcome = dbevent.TxAbortedDeadlock
	} else {
		ctx.Status = status
	}

	delete(r.mu.connToTx, ctx.ConnId)
	delete(r.mu.txs, txId)
	r.locks.OnTransactionCompleted(txId)
	r.bump()

	r.sink.Submit(dbevent.NewTransactionEnded(txId, outcome))
}

// OnQuery implements spec §4.4's onQuery: it appends a query record,
// updates lastActivityAt, and forwards lock analysis to the deadlock
// detector.
func (r *Registry) OnQuery(
	connId dbevent.ConnectionId, queryId, fingerprint string,
	duration time.Duration, status dbevent.Status,
	tables []ident.Resource, locking LockMode,
) (txId dbevent.TransactionId, active bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	txId, active = r.mu.connToTx[connId]
	if active {
		ctx := r.mu.txs[txId]
		ctx.Queries = append(ctx.Queries, QueryRecord{
			QueryId:        queryId,
			SqlFingerprint: fingerprint,
			DurationMs:     duration.Milliseconds(),
			Status:         status,
		})
		ctx.LastActivityAt = time.Now()
	}

	if locking == LockNone || len(tables) == 0 {
		return txId, active
	}
	if !active {
		// Reads/writes outside an explicit transaction are not reported
		// to the detector: the wait-for graph is defined over ACTIVE
		// transactions only, so there is nothing to register here.
		return txId, active
	}

	exclusive := locking == LockExclusive
	for _, res := range tables {
		r.mu.txs[txId].LocksRequested[res.Raw()] = true
		r.locks.RegisterLockRequest(txId, res, exclusive)
	}
	return txId, active
}

// LockMode mirrors sqlutil.LockMode without creating an import cycle;
// callers pass sqlutil's values through directly (identical underlying
// string values).
type LockMode string

// Lock modes, matching sqlutil.LockMode's values.
const (
	LockNone      LockMode = "NONE"
	LockShared    LockMode = "SHARED"
	LockExclusive LockMode = "EXCLUSIVE"
)

// ActiveTx returns the TransactionId currently associated with connId,
// if any (I1: at most one ACTIVE TransactionId per ConnectionId).
func (r *Registry) ActiveTx(connId dbevent.ConnectionId) (dbevent.TransactionId, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	txId, ok := r.mu.connToTx[connId]
	return txId, ok
}

// Snapshot returns copies of every currently-live TransactionContext,
// for use by the long-tx sweep and tests. The returned contexts are
// safe to read without holding any lock.
func (r *Registry) Snapshot() []*TransactionContext {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*TransactionContext, 0, len(r.mu.txs))
	for _, ctx := range r.mu.txs {
		out = append(out, ctx.snapshot())
	}
	return out
}

// MarkLongTxEmitted sets the sticky bit that prevents a second
// LongRunningTransaction event for the same transaction (spec §4.6).
// It returns false if the transaction is no longer live or the bit
// was already set.
func (r *Registry) MarkLongTxEmitted(txId dbevent.TransactionId) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	ctx, ok := r.mu.txs[txId]
	if !ok || ctx.longTxEmitted {
		return false
	}
	ctx.longTxEmitted = true
	return true
}

// MarkDeadlockVictim flags txId so its next terminal event reports
// ABORTED_DEADLOCK (spec §4.5(c)). It is a no-op if the transaction is
// no longer live.
func (r *Registry) MarkDeadlockVictim(txId dbevent.TransactionId) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if ctx, ok := r.mu.txs[txId]; ok {
		ctx.Status = StatusAbortedDeadlock
	}
}

// Len returns the number of currently-live transactions; used by
// tests asserting the registry is empty after matched start/end pairs.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.mu.txs)
}

// CompletedQueryCount implements deadlock.QueryCounter: the number of
// queries txId has executed so far, used as the primary victim
// selection signal (spec §4.5(b)).
func (r *Registry) CompletedQueryCount(txId dbevent.TransactionId) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	if ctx, ok := r.mu.txs[txId]; ok {
		return len(ctx.Queries)
	}
	return 0
}

// StartedAt implements deadlock.QueryCounter.
func (r *Registry) StartedAt(txId dbevent.TransactionId) (time.Time, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	ctx, ok := r.mu.txs[txId]
	if !ok {
		return time.Time{}, false
	}
	return ctx.StartedAt, true
}
