package interceptor

import (
	"context"
	"database/sql/driver"
	"io"
	"time"
)

// rows wraps a driver.Rows returned by Query/QueryContext. The
// corresponding QueryExecuted event is deferred until Close, so the
// final row count can be included on a best-effort basis (spec Open
// Question 3), counting each successful Next call.
type rows struct {
	inner driver.Rows
	stmt  *stmt
	ctx   context.Context
	start time.Time

	count  int64
	closed bool
}

var _ driver.Rows = (*rows)(nil)

func (r *rows) Columns() []string { return r.inner.Columns() }

func (r *rows) Next(dest []driver.Value) error {
	err := r.inner.Next(dest)
	if err == nil {
		r.count++
	}
	return err
}

func (r *rows) Close() error {
	err := r.inner.Close()
	if !r.closed {
		r.closed = true
		count := r.count
		var reportErr error
		if err != nil && err != io.EOF {
			reportErr = err
		}
		r.stmt.reportCtx(r.ctx, r.start, reportErr, &count)
	}
	return err
}
