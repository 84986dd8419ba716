package registry

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/kubedb-monitor/agent/internal/dbevent"
	"github.com/kubedb-monitor/agent/internal/util/ident"
)

type fakeLocks struct {
	mu            sync.Mutex
	acquired      []dbevent.TransactionId
	requested     []dbevent.TransactionId
	completed     []dbevent.TransactionId
	lastExclusive bool
}

func (f *fakeLocks) RegisterLockAcquired(tx dbevent.TransactionId, res ident.Resource) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.acquired = append(f.acquired, tx)
}

func (f *fakeLocks) RegisterLockRequest(tx dbevent.TransactionId, res ident.Resource, exclusive bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.requested = append(f.requested, tx)
	f.lastExclusive = exclusive
}

func (f *fakeLocks) OnTransactionCompleted(tx dbevent.TransactionId) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.completed = append(f.completed, tx)
}

type fakeSink struct {
	mu     sync.Mutex
	events []dbevent.Event
}

func (f *fakeSink) Submit(e dbevent.Event) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, e)
}

func (f *fakeSink) eventTypes() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []string
	for _, e := range f.events {
		out = append(out, e.Type())
	}
	return out
}

// I1: at most one ACTIVE TransactionId per connection, across an
// interleaving of auto-commit toggles.
func TestOnAutoCommitChange_MintsExactlyOneActiveTxPerConnection(t *testing.T) {
	locks := &fakeLocks{}
	sink := &fakeSink{}
	r := New(locks, sink)

	r.OnAutoCommitChange("conn1", false)
	txID, active := r.ActiveTx("conn1")
	require.True(t, active)
	require.NotEmpty(t, txID)

	// Idempotent: a second false->false observation must not mint a
	// second transaction.
	r.OnAutoCommitChange("conn1", false)
	txID2, _ := r.ActiveTx("conn1")
	require.Equal(t, txID, txID2)
	require.Equal(t, 1, r.Len())
}

func TestOnAutoCommitChange_TrueFlushesActiveTransaction(t *testing.T) {
	locks := &fakeLocks{}
	sink := &fakeSink{}
	r := New(locks, sink)

	r.OnAutoCommitChange("conn1", false)
	r.OnAutoCommitChange("conn1", true)

	_, active := r.ActiveTx("conn1")
	require.False(t, active)
	require.Equal(t, 0, r.Len())
	require.Contains(t, sink.eventTypes(), "TransactionStarted")
	require.Contains(t, sink.eventTypes(), "TransactionEnded")
}

func TestOnCommit_CompletesAndNotifiesDetector(t *testing.T) {
	locks := &fakeLocks{}
	sink := &fakeSink{}
	r := New(locks, sink)

	r.OnAutoCommitChange("conn1", false)
	txID, _ := r.ActiveTx("conn1")
	r.OnCommit("conn1")

	require.Equal(t, 0, r.Len())
	require.Equal(t, []dbevent.TransactionId{txID}, locks.completed)
}

func TestOnRollback_CompletesWithRolledBackOutcome(t *testing.T) {
	locks := &fakeLocks{}
	sink := &fakeSink{}
	r := New(locks, sink)

	r.OnAutoCommitChange("conn1", false)
	r.OnRollback("conn1")

	last := sink.events[len(sink.events)-1].(dbevent.TransactionEnded)
	require.Equal(t, dbevent.TxRolledBack, last.Outcome)
}

func TestOnConnectionClosed_AbortsLiveTransaction(t *testing.T) {
	locks := &fakeLocks{}
	sink := &fakeSink{}
	r := New(locks, sink)

	r.OnAutoCommitChange("conn1", false)
	r.OnConnectionClosed("conn1")

	last := sink.events[len(sink.events)-1].(dbevent.TransactionEnded)
	require.Equal(t, dbevent.TxAborted, last.Outcome)
	require.Equal(t, 0, r.Len())
}

func TestOnQuery_AppendsRecordAndForwardsLockRequest(t *testing.T) {
	locks := &fakeLocks{}
	sink := &fakeSink{}
	r := New(locks, sink)

	r.OnAutoCommitChange("conn1", false)
	txID, active := r.OnQuery("conn1", "q1", "UPDATE accounts SET x = ?", time.Millisecond,
		dbevent.StatusOK, []ident.Resource{ident.New("accounts")}, LockExclusive)

	require.True(t, active)
	require.NotEmpty(t, txID)
	require.Equal(t, 1, r.CompletedQueryCount(txID))
	require.Equal(t, []dbevent.TransactionId{txID}, locks.requested)
	require.True(t, locks.lastExclusive)
}

func TestOnQuery_OutsideTransactionDoesNotRegisterLocks(t *testing.T) {
	locks := &fakeLocks{}
	sink := &fakeSink{}
	r := New(locks, sink)

	txID, active := r.OnQuery("conn1", "q1", "SELECT 1", time.Millisecond,
		dbevent.StatusOK, []ident.Resource{ident.New("accounts")}, LockExclusive)

	require.False(t, active)
	require.Empty(t, txID)
	require.Empty(t, locks.requested)
}

func TestMarkLongTxEmitted_IsStickyPerTransaction(t *testing.T) {
	locks := &fakeLocks{}
	sink := &fakeSink{}
	r := New(locks, sink)

	r.OnAutoCommitChange("conn1", false)
	txID, _ := r.ActiveTx("conn1")

	require.True(t, r.MarkLongTxEmitted(txID))
	require.False(t, r.MarkLongTxEmitted(txID), "must fire once per transaction")
}

func TestMarkDeadlockVictim_OverridesTerminalOutcome(t *testing.T) {
	locks := &fakeLocks{}
	sink := &fakeSink{}
	r := New(locks, sink)

	r.OnAutoCommitChange("conn1", false)
	txID, _ := r.ActiveTx("conn1")

	r.MarkDeadlockVictim(txID)
	r.OnRollback("conn1")

	last := sink.events[len(sink.events)-1].(dbevent.TransactionEnded)
	require.Equal(t, dbevent.TxAbortedDeadlock, last.Outcome)
}

func TestSnapshot_ReturnsIndependentCopies(t *testing.T) {
	locks := &fakeLocks{}
	sink := &fakeSink{}
	r := New(locks, sink)

	r.OnAutoCommitChange("conn1", false)
	r.OnQuery("conn1", "q1", "SELECT 1", time.Millisecond, dbevent.StatusOK, nil, LockNone)

	snap := r.Snapshot()
	require.Len(t, snap, 1)
	snap[0].Queries[0].Status = dbevent.StatusError // mutate the copy

	fresh := r.Snapshot()
	require.Equal(t, dbevent.StatusOK, fresh[0].Queries[0].Status, "snapshot must not alias live state")
}

// After an equal number of matched starts and ends on each connection,
// the registry is empty.
func TestRegistry_EmptyAfterMatchedStartsAndEnds(t *testing.T) {
	locks := &fakeLocks{}
	sink := &fakeSink{}
	r := New(locks, sink)

	for i := 0; i < 10; i++ {
		r.OnAutoCommitChange("conn1", false)
		r.OnCommit("conn1")
	}

	require.Equal(t, 0, r.Len())
}

func TestChanged_ClosesOnMutationAndGivesFreshChannelAfter(t *testing.T) {
	locks := &fakeLocks{}
	sink := &fakeSink{}
	r := New(locks, sink)

	ch := r.Changed()
	select {
	case <-ch:
		t.Fatal("channel must not be closed before any mutation")
	default:
	}

	r.OnAutoCommitChange("conn1", false)

	select {
	case <-ch:
	case <-time.After(time.Second):
		t.Fatal("Changed's channel must close after a mutation")
	}

	next := r.Changed()
	select {
	case <-next:
		t.Fatal("a fresh channel from Changed must not already be closed")
	default:
	}
}
