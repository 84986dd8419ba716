package interceptor

import (
	"context"
	"database/sql/driver"
	"time"

	"github.com/kubedb-monitor/agent/internal/dbevent"
	"github.com/kubedb-monitor/agent/internal/registry"
	"github.com/kubedb-monitor/agent/internal/sqlutil"
	"github.com/kubedb-monitor/agent/internal/util/ident"
)

// stmt wraps a driver.Stmt, capturing the SQL text at creation time
// (spec §9: "no reflective probing later") and reporting execution
// outcomes to the registry, the deadlock detector, and the collector.
type stmt struct {
	inner driver.Stmt
	conn  *conn
	sql   string
}

var (
	_ driver.Stmt             = (*stmt)(nil)
	_ driver.StmtExecContext  = (*stmt)(nil)
	_ driver.StmtQueryContext = (*stmt)(nil)
)

func (s *stmt) Close() error  { return s.inner.Close() }
func (s *stmt) NumInput() int { return s.inner.NumInput() }

// analysis holds the per-call SQL analysis; computed once per
// Exec/Query and reused for both the registry call and the eventual
// QueryExecuted event.
type analysis struct {
	kind    dbevent.Kind
	tables  []ident.Resource
	locking registry.LockMode
}

func (s *stmt) analyze() analysis {
	if s.conn.safeMode {
		// Safe mode restricts interception to lifecycle + duration;
		// table/lock extraction is skipped (spec §4.6).
		return analysis{kind: dbevent.Kind(sqlutil.Kind(s.sql)), locking: registry.LockNone}
	}
	kind := sqlutil.Kind(s.sql)
	tables, locking := sqlutil.Targets(s.sql)
	return analysis{
		kind:    dbevent.Kind(kind),
		tables:  tables,
		locking: registry.LockMode(locking),
	}
}

func (s *stmt) Exec(args []driver.Value) (driver.Result, error) { //nolint:staticcheck
	start := time.Now()
	res, err := s.inner.Exec(args) //nolint:staticcheck
	s.report(start, err, nil)
	return res, err
}

func (s *stmt) ExecContext(ctx context.Context, args []driver.NamedValue) (driver.Result, error) {
	start := time.Now()
	if ec, ok := s.inner.(driver.StmtExecContext); ok {
		res, err := ec.ExecContext(ctx, args)
		s.reportCtx(ctx, start, err, nil)
		return res, err
	}
	values, err := namedToValues(args)
	if err != nil {
		return nil, err
	}
	res, err := s.inner.Exec(values) //nolint:staticcheck
	s.reportCtx(ctx, start, err, nil)
	return res, err
}

func (s *stmt) Query(args []driver.Value) (driver.Rows, error) { //nolint:staticcheck
	start := time.Now()
	r, err := s.inner.Query(args) //nolint:staticcheck
	if err != nil {
		s.report(start, err, nil)
		return nil, err
	}
	return s.wrapRows(r, start), nil
}

func (s *stmt) QueryContext(ctx context.Context, args []driver.NamedValue) (driver.Rows, error) {
	start := time.Now()
	if qc, ok := s.inner.(driver.StmtQueryContext); ok {
		r, err := qc.QueryContext(ctx, args)
		if err != nil {
			s.reportCtx(ctx, start, err, nil)
			return nil, err
		}
		return s.wrapRowsCtx(ctx, r, start), nil
	}
	values, err := namedToValues(args)
	if err != nil {
		return nil, err
	}
	r, err := s.inner.Query(values) //nolint:staticcheck
	if err != nil {
		s.reportCtx(ctx, start, err, nil)
		return nil, err
	}
	return s.wrapRowsCtx(ctx, r, start), nil
}

func (s *stmt) wrapRows(r driver.Rows, start time.Time) driver.Rows {
	return s.wrapRowsCtx(context.Background(), r, start)
}

func (s *stmt) wrapRowsCtx(ctx context.Context, r driver.Rows, start time.Time) driver.Rows {
	return &rows{inner: r, stmt: s, ctx: ctx, start: start}
}

// report finalizes a non-row-returning call (Exec) immediately: the
// final row count, when known, is available right away from
// driver.Result, but spec's RowCount field is best-effort and
// populated only when cheap to obtain, so it is left nil here (Exec's
// driver.Result.RowsAffected can itself error or be unsupported).
func (s *stmt) report(start time.Time, err error, rowCount *int64) {
	s.reportCtx(context.Background(), start, err, rowCount)
}

func (s *stmt) reportCtx(ctx context.Context, start time.Time, err error, rowCount *int64) {
	duration := time.Since(start)
	a := s.analyze()

	status := dbevent.StatusOK
	var errKind *dbevent.ErrorKind
	if err != nil && err != driver.ErrSkip {
		status = dbevent.StatusError
		k := Classify(err)
		errKind = &k
	}

	fingerprint := s.sql
	if s.conn.hooks.MaskSQLParams() {
		fingerprint = sqlutil.Mask(s.sql)
	}
	queryID := nextQueryID()
	txID, active := s.conn.hooks.OnQuery(s.conn.id, queryID, fingerprint, duration, status, a.tables, a.locking)

	var txIDPtr *dbevent.TransactionId
	if active {
		txIDPtr = &txID
	}

	evt := dbevent.NewQueryExecuted(s.conn.id, txIDPtr, fingerprint, a.kind, duration, status, errKind)
	if rowCount != nil {
		evt.RowCount = rowCount
	}
	s.conn.hooks.Submit(evt)

	// SlowQuery is emitted in addition to QueryExecuted, never instead
	// of it (spec §4.7).
	if threshold := s.conn.hooks.SlowQueryThreshold(); threshold > 0 && duration > threshold {
		s.conn.hooks.Submit(dbevent.NewSlowQuery(evt))
	}

	if errKind != nil && IsDeadlockSuspect(*errKind) {
		s.conn.hooks.CheckDeadlockNow(ctx)
	}
}

// namedToValues converts driver.NamedValue args back to the legacy
// driver.Value form, used only as a fallback when the inner statement
// does not implement the Context-aware interfaces.
func namedToValues(named []driver.NamedValue) ([]driver.Value, error) {
	values := make([]driver.Value, len(named))
	for i, nv := range named {
		values[i] = nv.Value
	}
	return values, nil
}
