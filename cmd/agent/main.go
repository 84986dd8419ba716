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

// Command agent is a minimal demonstration bootstrap for the
// interception engine. Real deployments inject the engine into an
// existing application process (e.g. via an admission-webhook-mutated
// entrypoint that imports internal/engine directly); this binary
// stands in for that host, wiring the same engine.New call against the
// MySQL and PostgreSQL drivers and opening a demonstration connection
// for each DSN flag supplied, so the pipeline has something to observe
// end to end.
package main

import (
	"database/sql"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-sql-driver/mysql"
	"github.com/jackc/pgx/v5/stdlib"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/pflag"

	"github.com/kubedb-monitor/agent/internal/config"
	"github.com/kubedb-monitor/agent/internal/emitter"
	"github.com/kubedb-monitor/agent/internal/engine"
)

// wrappedMySQLScheme and wrappedPostgresScheme name the database/sql
// driver entries this binary registers, distinct from the "mysql" and
// "pgx" names go-sql-driver/mysql and pgx/stdlib each register for
// themselves in their own init(): database/sql panics if the same
// driver name is registered twice, so the wrapped, observed driver
// always lives under a second name.
const (
	wrappedMySQLScheme    = "mysql+kubedb"
	wrappedPostgresScheme = "postgres+kubedb"
)

// flags holds this binary's own command-line surface, bound the way
// source/server/config.go binds cdc-sink's Config: one Bind method
// taking a *pflag.FlagSet. It is unrelated to internal/config.Config,
// which parses the engine's own comma-separated option string and has
// no flags of its own since its usual host is an injected agent, not a
// standalone process.
type flags struct {
	agentConfig        string
	mysqlDSN           string
	postgresDSN        string
	poolSampleInterval time.Duration
}

func (f *flags) Bind(fs *pflag.FlagSet) {
	fs.StringVar(&f.agentConfig, "agent-config", "",
		"comma-separated key=value options for the interception engine (see internal/config)")
	fs.StringVar(&f.mysqlDSN, "mysql-dsn", "",
		"DSN of a MySQL database to open a demonstration connection against")
	fs.StringVar(&f.postgresDSN, "postgres-dsn", "",
		"DSN of a PostgreSQL database to open a demonstration connection against")
	fs.DurationVar(&f.poolSampleInterval, "pool-sample-interval", 15*time.Second,
		"how often to emit a ConnectionPoolSample for each opened demonstration connection")
}

func main() {
	f := &flags{}
	fs := pflag.NewFlagSet("agent", pflag.ExitOnError)
	f.Bind(fs)
	if err := fs.Parse(os.Args[1:]); err != nil {
		log.WithError(err).Fatal("kubedb-monitor: failed to parse flags")
	}

	drivers := map[string]engine.DriverTarget{
		wrappedMySQLScheme:    {DBType: "mysql", Driver: &mysql.MySQLDriver{}},
		wrappedPostgresScheme: {DBType: "postgresql", Driver: stdlib.GetDefaultDriver()},
	}

	eng, shutdown, err := engine.New(f.agentConfig, drivers, sinkFactory)
	if err != nil {
		log.WithError(err).Fatal("kubedb-monitor: failed to start engine")
	}
	defer shutdown()

	dbs := openDemoConnections(f)
	defer closeAll(dbs)

	stop := make(chan struct{})
	for _, db := range dbs {
		go samplePool(eng, db, f.poolSampleInterval, stop)
	}
	defer close(stop)

	log.Info("kubedb-monitor: agent running, press ctrl-c to stop")
	waitForSignal()
}

// sinkFactory builds the emitter.Sink (or composite of Sinks) the
// engine delivers batches to, selected by collector-kind (spec §4.8).
func sinkFactory(cfg *config.Config) (emitter.Sink, error) {
	switch cfg.CollectorKind() {
	case config.CollectorStdout:
		return emitter.NewStdoutSink(os.Stdout), nil
	case config.CollectorHTTP:
		if cfg.CollectorEndpoint() == "" {
			return nil, errors.New("collector-kind=http requires collector-endpoint")
		}
		return emitter.NewHttpSink(cfg.CollectorEndpoint()), nil
	case config.CollectorWebsocket:
		if cfg.CollectorEndpoint() == "" {
			return nil, errors.New("collector-kind=ws requires collector-endpoint")
		}
		return emitter.NewWsSink(cfg.CollectorEndpoint()), nil
	case config.CollectorComposite:
		sinks := []emitter.Sink{emitter.NewStdoutSink(os.Stdout)}
		if cfg.CollectorEndpoint() != "" {
			sinks = append(sinks, emitter.NewHttpSink(cfg.CollectorEndpoint()))
		}
		return emitter.NewCompositeSink(sinks...), nil
	default:
		return nil, errors.Errorf("unrecognized collector-kind %q", cfg.CollectorKind())
	}
}

// openDemoConnections opens *sql.DB handles for each DSN flag that was
// supplied, against the wrapped scheme, so there is traffic for the
// engine to observe. Neither flag is required; an unconfigured DSN is
// simply skipped.
func openDemoConnections(f *flags) []*sql.DB {
	var dbs []*sql.DB
	if f.mysqlDSN != "" {
		db, err := sql.Open(wrappedMySQLScheme, f.mysqlDSN)
		if err != nil {
			log.WithError(err).Warn("kubedb-monitor: failed to open demonstration MySQL connection")
		} else {
			dbs = append(dbs, db)
		}
	}
	if f.postgresDSN != "" {
		db, err := sql.Open(wrappedPostgresScheme, f.postgresDSN)
		if err != nil {
			log.WithError(err).Warn("kubedb-monitor: failed to open demonstration PostgreSQL connection")
		} else {
			dbs = append(dbs, db)
		}
	}
	return dbs
}

func closeAll(dbs []*sql.DB) {
	for _, db := range dbs {
		_ = db.Close()
	}
}

// samplePool periodically reports a *sql.DB's pool stats through the
// engine; database/sql's pool lives above the driver.Conn layer the
// interceptor wraps, so this is the one piece of observation that must
// be driven by the host rather than the wrapped driver itself (see
// Engine.SamplePoolStats).
func samplePool(eng *engine.Engine, db *sql.DB, interval time.Duration, stop <-chan struct{}) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			stats := db.Stats()
			eng.SamplePoolStats(stats.InUse, stats.Idle, stats.MaxOpenConnections)
		case <-stop:
			return
		}
	}
}

func waitForSignal() {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	<-sigCh
}
