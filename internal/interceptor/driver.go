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

// Package interceptor implements the in-process interception layer
// (C6): a database/sql/driver.Driver that wraps an already-registered
// driver, observing every connection, statement, and row-set lifecycle
// event without changing what the host application sees. This is the
// Go-native reading of the proxy-per-driver design the source project
// settled on, built the same way the teacher wraps a Dialect in
// chaos.go: delegate structs that forward every call to an inner
// implementation and layer in one extra concern (there, fault
// injection; here, honest observation).
package interceptor

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"sync/atomic"

	"github.com/kubedb-monitor/agent/internal/dbevent"
)

var connCounter atomic.Uint64

func nextConnID() dbevent.ConnectionId {
	n := connCounter.Add(1)
	return dbevent.ConnectionId("c" + itoa(n))
}

var queryCounter atomic.Uint64

func nextQueryID() string {
	n := queryCounter.Add(1)
	return "q" + itoa(n)
}

func itoa(n uint64) string {
	if n == 0 {
		return "0"
	}
	var buf [20]byte
	i := len(buf)
	for n > 0 {
		i--
		buf[i] = byte('0' + n%10)
		n /= 10
	}
	return string(buf[i:])
}

// wrappedDriver delegates to inner, reporting connection lifecycle to
// hooks. It never alters inner's behavior or returned errors.
type wrappedDriver struct {
	inner  driver.Driver
	scheme string
	hooks  Hooks
}

// Register wraps inner under name scheme and registers it with
// database/sql, mirroring spec §6's register(driverUrlScheme, wrapFn)
// platform hook. It panics if scheme is already registered, exactly
// as sql.Register does, since that reflects a programmer error in
// wiring, not a runtime condition.
func Register(scheme string, inner driver.Driver, hooks Hooks) {
	sql.Register(scheme, &wrappedDriver{inner: inner, scheme: scheme, hooks: hooks})
}

// Open implements driver.Driver.
func (d *wrappedDriver) Open(name string) (driver.Conn, error) {
	conn, err := d.inner.Open(name)
	if err != nil {
		return nil, err
	}
	return d.wrap(conn), nil
}

// OpenConnector implements driver.DriverContext. When the inner driver
// supports it (both github.com/go-sql-driver/mysql and
// github.com/jackc/pgx/v5/stdlib do), context-aware connection
// establishment is preserved; otherwise the returned connector opens
// connections through the inner driver's Open.
func (d *wrappedDriver) OpenConnector(name string) (driver.Connector, error) {
	dc, ok := d.inner.(driver.DriverContext)
	if !ok {
		return &wrappedConnector{name: name, driver: d}, nil
	}
	inner, err := dc.OpenConnector(name)
	if err != nil {
		return nil, err
	}
	return &wrappedConnector{inner: inner, driver: d}, nil
}

func (d *wrappedDriver) wrap(c driver.Conn) driver.Conn {
	return &conn{inner: c, hooks: d.hooks, id: nextConnID(), safeMode: d.hooks.SafeMode()}
}

// wrappedConnector connects through inner when set, and through the
// wrapped driver's Open(name) when the inner driver has no Connector.
type wrappedConnector struct {
	inner  driver.Connector
	name   string
	driver *wrappedDriver
}

func (c *wrappedConnector) Connect(ctx context.Context) (driver.Conn, error) {
	if c.inner == nil {
		return c.driver.Open(c.name)
	}
	inner, err := c.inner.Connect(ctx)
	if err != nil {
		return nil, err
	}
	return c.driver.wrap(inner), nil
}

func (c *wrappedConnector) Driver() driver.Driver { return c.driver }
