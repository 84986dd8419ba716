package interceptor

import (
	"context"
	"database/sql/driver"

	"github.com/kubedb-monitor/agent/internal/dbevent"
)

// conn wraps a driver.Conn, assigning it a stable ConnectionId at
// construction time. Go's database/sql never reuses the same Conn
// value across physical connections, so there is no JDBC-style
// wrapper-identity ambiguity to resolve with a weak table: the
// ConnectionId simply lives on this struct (see DESIGN.md's REDESIGN
// note on connection identity).
type conn struct {
	inner    driver.Conn
	hooks    Hooks
	id       dbevent.ConnectionId
	safeMode bool
}

var (
	_ driver.Conn               = (*conn)(nil)
	_ driver.ConnPrepareContext = (*conn)(nil)
	_ driver.ConnBeginTx        = (*conn)(nil)
	_ driver.Pinger             = (*conn)(nil)
)

// Prepare implements driver.Conn.
func (c *conn) Prepare(query string) (driver.Stmt, error) {
	s, err := c.inner.Prepare(query)
	if err != nil {
		return nil, err
	}
	return c.wrapStmt(s, query), nil
}

// PrepareContext implements driver.ConnPrepareContext, preferred by
// database/sql over Prepare when available.
func (c *conn) PrepareContext(ctx context.Context, query string) (driver.Stmt, error) {
	if pc, ok := c.inner.(driver.ConnPrepareContext); ok {
		s, err := pc.PrepareContext(ctx, query)
		if err != nil {
			return nil, err
		}
		return c.wrapStmt(s, query), nil
	}
	return c.Prepare(query)
}

func (c *conn) wrapStmt(s driver.Stmt, query string) driver.Stmt {
	return &stmt{inner: s, conn: c, sql: query}
}

// Close implements driver.Conn.
func (c *conn) Close() error {
	err := c.inner.Close()
	c.hooks.OnConnectionClosed(c.id)
	return err
}

// Begin implements driver.Conn. An explicit Begin marks the
// connection as no longer auto-committing (spec §4.6).
func (c *conn) Begin() (driver.Tx, error) { //nolint:staticcheck // required by driver.Conn
	t, err := c.inner.Begin() //nolint:staticcheck
	if err != nil {
		return nil, err
	}
	c.hooks.OnAutoCommitChange(c.id, false)
	return &tx{inner: t, conn: c}, nil
}

// BeginTx implements driver.ConnBeginTx.
func (c *conn) BeginTx(ctx context.Context, opts driver.TxOptions) (driver.Tx, error) {
	bt, ok := c.inner.(driver.ConnBeginTx)
	if !ok {
		return c.Begin()
	}
	t, err := bt.BeginTx(ctx, opts)
	if err != nil {
		return nil, err
	}
	c.hooks.OnAutoCommitChange(c.id, false)
	return &tx{inner: t, conn: c}, nil
}

// Ping implements driver.Pinger, when supported by the inner
// connection; database/sql checks for this via type assertion, so it
// must be present on the wrapper whenever the inner conn has it.
func (c *conn) Ping(ctx context.Context) error {
	if p, ok := c.inner.(driver.Pinger); ok {
		return p.Ping(ctx)
	}
	return driver.ErrSkip
}

// tx wraps a driver.Tx, reporting Commit/Rollback to the registry
// (spec §4.4's onCommit/onRollback).
type tx struct {
	inner driver.Tx
	conn  *conn
}

func (t *tx) Commit() error {
	err := t.inner.Commit()
	// The registry is notified regardless of err: a failed Commit still
	// ends the transaction's life in the registry's bookkeeping, since
	// the host driver does not expose a way to keep issuing statements
	// against a transaction whose Commit call has already returned.
	t.conn.hooks.OnCommit(t.conn.id)
	return err
}

func (t *tx) Rollback() error {
	err := t.inner.Rollback()
	t.conn.hooks.OnRollback(t.conn.id)
	return err
}
