package interceptor

import (
	"database/sql/driver"
	"io"
)

// fakeDriver, fakeConn, fakeStmt, and fakeRows are a minimal
// hand-rolled database/sql/driver implementation used to exercise the
// wrapping layer without a real database.
type fakeDriver struct {
	openErr error
}

func (d *fakeDriver) Open(name string) (driver.Conn, error) {
	if d.openErr != nil {
		return nil, d.openErr
	}
	return &fakeConn{}, nil
}

type fakeConn struct {
	closed    bool
	beginErr  error
	commitErr error
}

func (c *fakeConn) Prepare(query string) (driver.Stmt, error) {
	return &fakeStmt{conn: c, query: query}, nil
}

func (c *fakeConn) Close() error {
	c.closed = true
	return nil
}

func (c *fakeConn) Begin() (driver.Tx, error) { //nolint:staticcheck
	if c.beginErr != nil {
		return nil, c.beginErr
	}
	return &fakeTx{conn: c}, nil
}

type fakeTx struct {
	conn *fakeConn
}

func (t *fakeTx) Commit() error   { return t.conn.commitErr }
func (t *fakeTx) Rollback() error { return nil }

type fakeStmt struct {
	conn     *fakeConn
	query    string
	execErr  error
	rowsData []driver.Value
}

func (s *fakeStmt) Close() error  { return nil }
func (s *fakeStmt) NumInput() int { return -1 }

func (s *fakeStmt) Exec(args []driver.Value) (driver.Result, error) { //nolint:staticcheck
	if s.execErr != nil {
		return nil, s.execErr
	}
	return fakeResult{}, nil
}

func (s *fakeStmt) Query(args []driver.Value) (driver.Rows, error) { //nolint:staticcheck
	if s.execErr != nil {
		return nil, s.execErr
	}
	return &fakeRows{data: s.rowsData}, nil
}

type fakeResult struct{}

func (fakeResult) LastInsertId() (int64, error) { return 0, nil }
func (fakeResult) RowsAffected() (int64, error) { return 1, nil }

type fakeRows struct {
	data []driver.Value
	idx  int
}

func (r *fakeRows) Columns() []string { return []string{"col"} }
func (r *fakeRows) Close() error      { return nil }

func (r *fakeRows) Next(dest []driver.Value) error {
	if r.idx >= len(r.data) {
		return io.EOF
	}
	dest[0] = r.data[r.idx]
	r.idx++
	return nil
}
