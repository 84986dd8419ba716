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

// Package dbevent contains the tagged-variant event model that is the
// only shared vocabulary between the interceptor, the transaction
// registry, the deadlock detector, and the emission pipeline. All
// other components talk to each other only through this package, the
// way cdc-sink's internal/types package is the shared vocabulary
// between its dialects, appliers, and stagers.
package dbevent

import (
	"time"

	"github.com/kubedb-monitor/agent/internal/util/seqno"
)

// ConnectionId is the opaque, stable identity of a physical connection
// handle, assigned on first observation and released on close.
type ConnectionId string

// TransactionId is a short, unique identifier minted when a connection
// transitions out of auto-commit, or when an explicit BEGIN is
// observed.
type TransactionId string

// Kind is the coarse statement classification produced by
// internal/sqlutil.Kind.
type Kind string

// Statement kinds recognized by the engine.
const (
	KindSelect Kind = "SELECT"
	KindInsert Kind = "INSERT"
	KindUpdate Kind = "UPDATE"
	KindDelete Kind = "DELETE"
	KindDDL    Kind = "DDL"
	KindTCL    Kind = "TCL"
	KindOther  Kind = "OTHER"
)

// LockMode describes the locking implied by a statement's target,
// as returned by internal/sqlutil.Targets.
type LockMode string

// Lock modes.
const (
	LockNone      LockMode = "NONE"
	LockShared    LockMode = "SHARED"
	LockExclusive LockMode = "EXCLUSIVE"
)

// Status is the outcome of an observed query.
type Status string

// Query outcomes.
const (
	StatusOK    Status = "OK"
	StatusError Status = "ERROR"
)

// ErrorKind classifies a failed query per the vendor-agnostic mapping
// in spec §6.
type ErrorKind string

// Error classifications.
const (
	ErrorKindDeadlockSuspect ErrorKind = "DEADLOCK_SUSPECT"
	ErrorKindLockTimeout     ErrorKind = "LOCK_TIMEOUT"
	ErrorKindOther           ErrorKind = "OTHER"
)

// TxOutcome is the terminal state of a transaction.
type TxOutcome string

// Transaction outcomes.
const (
	TxCommitted      TxOutcome = "COMMITTED"
	TxRolledBack     TxOutcome = "ROLLED_BACK"
	TxAborted        TxOutcome = "ABORTED"
	TxAbortedDeadlock TxOutcome = "ABORTED_DEADLOCK"
)

// Event is implemented by every variant in this package. Type returns
// the wire-format tag used as the JSON "type" field.
type Event interface {
	Type() string
	Sequence() seqno.Seq
	withSeq(seqno.Seq) Event
}

// base carries the fields every event shares on the wire: seq, ts,
// type. It is embedded, never exported directly.
type base struct {
	Seq  seqno.Seq `json:"seq"`
	Ts   time.Time `json:"ts"`
	Kind string    `json:"type"`
}

func (b base) Type() string        { return b.Kind }
func (b base) Sequence() seqno.Seq { return b.Seq }

func newBase(typ string) base {
	return base{Ts: time.Now().UTC(), Kind: typ}
}

// QueryExecuted is emitted once per observed statement execution.
type QueryExecuted struct {
	base
	ConnId         ConnectionId   `json:"connId"`
	TxId           *TransactionId `json:"txId,omitempty"`
	SqlFingerprint string         `json:"sqlFingerprint"`
	Kind_          Kind           `json:"kind"`
	DurationMs     int64          `json:"durationMs"`
	RowCount       *int64         `json:"rowCountIfKnown,omitempty"`
	Status         Status         `json:"status"`
	ErrorKind      *ErrorKind     `json:"errorKind,omitempty"`
}

func (e QueryExecuted) withSeq(s seqno.Seq) Event { e.Seq = s; return e }

// NewQueryExecuted constructs a QueryExecuted event.
func NewQueryExecuted(
	connID ConnectionId, txID *TransactionId, fingerprint string, kind Kind,
	duration time.Duration, status Status, errKind *ErrorKind,
) QueryExecuted {
	return QueryExecuted{
		base:           newBase("QueryExecuted"),
		ConnId:         connID,
		TxId:           txID,
		SqlFingerprint: fingerprint,
		Kind_:          kind,
		DurationMs:     duration.Milliseconds(),
		Status:         status,
		ErrorKind:      errKind,
	}
}

// TransactionStarted is emitted when a TransactionId is minted.
type TransactionStarted struct {
	base
	TxId   TransactionId `json:"txId"`
	ConnId ConnectionId  `json:"connId"`
}

func (e TransactionStarted) withSeq(s seqno.Seq) Event { e.Seq = s; return e }

// NewTransactionStarted constructs a TransactionStarted event.
func NewTransactionStarted(txID TransactionId, connID ConnectionId) TransactionStarted {
	return TransactionStarted{base: newBase("TransactionStarted"), TxId: txID, ConnId: connID}
}

// TransactionEnded is emitted when a transaction completes, for any
// reason.
type TransactionEnded struct {
	base
	TxId    TransactionId `json:"txId"`
	Outcome TxOutcome     `json:"outcome"`
}

func (e TransactionEnded) withSeq(s seqno.Seq) Event { e.Seq = s; return e }

// NewTransactionEnded constructs a TransactionEnded event.
func NewTransactionEnded(txID TransactionId, outcome TxOutcome) TransactionEnded {
	return TransactionEnded{base: newBase("TransactionEnded"), TxId: txID, Outcome: outcome}
}

// SlowQuery mirrors QueryExecuted's fields; it is emitted in addition
// to (never instead of) the QueryExecuted event when durationMs
// exceeds slow-query-threshold-ms.
type SlowQuery struct {
	base
	ConnId         ConnectionId   `json:"connId"`
	TxId           *TransactionId `json:"txId,omitempty"`
	SqlFingerprint string         `json:"sqlFingerprint"`
	Kind_          Kind           `json:"kind"`
	DurationMs     int64          `json:"durationMs"`
	Status         Status         `json:"status"`
}

func (e SlowQuery) withSeq(s seqno.Seq) Event { e.Seq = s; return e }

// NewSlowQuery constructs a SlowQuery event from a QueryExecuted.
func NewSlowQuery(q QueryExecuted) SlowQuery {
	return SlowQuery{
		base:           newBase("SlowQuery"),
		ConnId:         q.ConnId,
		TxId:           q.TxId,
		SqlFingerprint: q.SqlFingerprint,
		Kind_:          q.Kind_,
		DurationMs:     q.DurationMs,
		Status:         q.Status,
	}
}

// LongRunningTransaction is emitted exactly once per threshold
// crossing per transaction.
type LongRunningTransaction struct {
	base
	TxId       TransactionId `json:"txId"`
	AgeMs      int64         `json:"ageMs"`
	QueryCount int           `json:"queryCount"`
}

func (e LongRunningTransaction) withSeq(s seqno.Seq) Event { e.Seq = s; return e }

// NewLongRunningTransaction constructs a LongRunningTransaction event.
func NewLongRunningTransaction(txID TransactionId, age time.Duration, queryCount int) LongRunningTransaction {
	return LongRunningTransaction{
		base:       newBase("LongRunningTransaction"),
		TxId:       txID,
		AgeMs:      age.Milliseconds(),
		QueryCount: queryCount,
	}
}

// DeadlockDetected is emitted once per detected cycle in the wait-for
// graph.
type DeadlockDetected struct {
	base
	Participants []TransactionId `json:"participants"`
	Resources    []string        `json:"resources"`
	Victim       TransactionId   `json:"victim"`
}

func (e DeadlockDetected) withSeq(s seqno.Seq) Event { e.Seq = s; return e }

// NewDeadlockDetected constructs a DeadlockDetected event.
func NewDeadlockDetected(participants []TransactionId, resources []string, victim TransactionId) DeadlockDetected {
	return DeadlockDetected{
		base:         newBase("DeadlockDetected"),
		Participants: participants,
		Resources:    resources,
		Victim:       victim,
	}
}

// ConnectionPoolSample reports point-in-time pool occupancy.
type ConnectionPoolSample struct {
	base
	Active int `json:"active"`
	Idle   int `json:"idle"`
	Max    int `json:"max"`
}

func (e ConnectionPoolSample) withSeq(s seqno.Seq) Event { e.Seq = s; return e }

// NewConnectionPoolSample constructs a ConnectionPoolSample event.
func NewConnectionPoolSample(active, idle, max int) ConnectionPoolSample {
	return ConnectionPoolSample{base: newBase("ConnectionPoolSample"), Active: active, Idle: idle, Max: max}
}

// TpsSample reports a windowed query-throughput measurement.
type TpsSample struct {
	base
	WindowMs int64   `json:"windowMs"`
	Count    int64   `json:"count"`
	Qps      float64 `json:"qps"`
}

func (e TpsSample) withSeq(s seqno.Seq) Event { e.Seq = s; return e }

// NewTpsSample constructs a TpsSample event.
func NewTpsSample(window time.Duration, count int64) TpsSample {
	qps := float64(count) / window.Seconds()
	return TpsSample{base: newBase("TpsSample"), WindowMs: window.Milliseconds(), Count: count, Qps: qps}
}

// DropSummary reports periodic back-pressure drop counts; it is
// produced by the collector, not by the interceptor.
type DropSummary struct {
	base
	Dropped  int64 `json:"dropped"`
	WindowMs int64 `json:"windowMs"`
}

func (e DropSummary) withSeq(s seqno.Seq) Event { e.Seq = s; return e }

// NewDropSummary constructs a DropSummary event.
func NewDropSummary(dropped int64, window time.Duration) DropSummary {
	return DropSummary{base: newBase("DropSummary"), Dropped: dropped, WindowMs: window.Milliseconds()}
}

// WithSequence stamps e with seq, returning the updated event. It is
// exported so the collector (the single place sequence numbers are
// assigned, per invariant I4) can stamp events of any variant.
func WithSequence(e Event, seq seqno.Seq) Event {
	return e.withSeq(seq)
}
