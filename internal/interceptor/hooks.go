package interceptor

import (
	"context"
	"time"

	"github.com/kubedb-monitor/agent/internal/dbevent"
	"github.com/kubedb-monitor/agent/internal/registry"
	"github.com/kubedb-monitor/agent/internal/util/ident"
)

// Hooks is the narrow view of the engine the interceptor depends on.
// It exists so this package never imports internal/engine directly —
// internal/engine imports internal/interceptor to call Register,
// which would make the reverse import a cycle. internal/engine's
// Engine type implements Hooks by delegating to its registry,
// detector, and collector fields.
type Hooks interface {
	// SafeMode reports whether parameter-level wrapping should be
	// skipped.
	SafeMode() bool
	// SlowQueryThreshold is the duration above which a query is also
	// emitted as SlowQuery.
	SlowQueryThreshold() time.Duration
	// MaskSQLParams reports whether literal values must be masked
	// before a SQL string is used as a fingerprint.
	MaskSQLParams() bool

	OnAutoCommitChange(connID dbevent.ConnectionId, autoCommit bool)
	OnCommit(connID dbevent.ConnectionId)
	OnRollback(connID dbevent.ConnectionId)
	OnConnectionClosed(connID dbevent.ConnectionId)
	OnQuery(
		connID dbevent.ConnectionId, queryID, fingerprint string,
		duration time.Duration, status dbevent.Status,
		tables []ident.Resource, locking registry.LockMode,
	) (txID dbevent.TransactionId, active bool)

	// Submit hands an event directly to the collector; used for the
	// QueryExecuted/SlowQuery events the interceptor itself produces
	// (the registry only tracks per-transaction query records, it does
	// not emit QueryExecuted).
	Submit(evt dbevent.Event)

	// CheckDeadlockNow requests an immediate wait-for-graph cycle
	// check, used after an error classified as deadlock-suspect.
	CheckDeadlockNow(ctx context.Context)
}
