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

// Package config parses the agent's comma-separated key=value argument
// string into a single, immutable configuration value, following the
// validate-then-freeze shape of cdc-sink's source/server.Config /
// Preflight, but with a string-argument parser in place of pflag
// binding: this module's host is an injected agent, not a standalone
// CLI, so there are no flags to bind.
package config

import (
	"net/url"
	"strconv"
	"strings"
	"sync"

	log "github.com/sirupsen/logrus"
)

// CollectorKind selects which Sink implementation(s) the engine uses.
type CollectorKind string

// Recognized collector kinds.
const (
	CollectorStdout    CollectorKind = "stdout"
	CollectorHTTP      CollectorKind = "http"
	CollectorWebsocket CollectorKind = "ws"
	CollectorComposite CollectorKind = "composite"
)

// Config is the immutable, validated view of the agent's runtime
// options (spec §4.1). Construct with Parse; there is no exported
// mutator.
type Config struct {
	enabled             bool
	samplingRate        float64
	dbTypes             map[string]bool
	maskSQLParams       bool
	slowQueryThresholdMs int64
	longTxThresholdMs   int64
	collectorKind       CollectorKind
	collectorEndpoint   string
	safeMode            bool
	queueCapacity       int
}

// Enabled reports the master switch; when false the interceptor must
// behave as a no-op.
func (c *Config) Enabled() bool { return c.enabled }

// SamplingRate is the probability, in [0,1], that a non-erroring
// QueryExecuted event is emitted.
func (c *Config) SamplingRate() float64 { return c.samplingRate }

// ObservesDBType reports whether the given URL scheme should be
// intercepted.
func (c *Config) ObservesDBType(scheme string) bool {
	return c.dbTypes[strings.ToLower(scheme)]
}

// MaskSQLParams reports whether literal values must be masked before
// a SQL string is used as a fingerprint.
func (c *Config) MaskSQLParams() bool { return c.maskSQLParams }

// SlowQueryThresholdMs is the duration above which a query is also
// emitted as SlowQuery.
func (c *Config) SlowQueryThresholdMs() int64 { return c.slowQueryThresholdMs }

// LongTxThresholdMs is the age beyond which an ACTIVE transaction
// yields LongRunningTransaction.
func (c *Config) LongTxThresholdMs() int64 { return c.longTxThresholdMs }

// CollectorKind selects the emitter(s) to construct.
func (c *Config) CollectorKind() CollectorKind { return c.collectorKind }

// CollectorEndpoint is the remote sink URL, if any.
func (c *Config) CollectorEndpoint() string { return c.collectorEndpoint }

// SafeMode reports whether interception is restricted to lifecycle
// events only.
func (c *Config) SafeMode() bool { return c.safeMode }

// QueueCapacity is the bounded emission queue size.
func (c *Config) QueueCapacity() int { return c.queueCapacity }

var defaultDBTypes = []string{"mysql", "postgresql", "h2"}

func defaults() *Config {
	dbTypes := make(map[string]bool, len(defaultDBTypes))
	for _, t := range defaultDBTypes {
		dbTypes[t] = true
	}
	return &Config{
		enabled:              true,
		samplingRate:         1.0,
		dbTypes:              dbTypes,
		maskSQLParams:        true,
		slowQueryThresholdMs: 1000,
		longTxThresholdMs:    5000,
		collectorKind:        CollectorComposite,
		safeMode:             false,
		queueCapacity:        10000,
	}
}

// warnOnce ensures a given invalid-option warning is logged at most
// once per process lifetime, mirroring the teacher's preference for
// one log line per recoverable condition rather than one per call.
var warnOnce sync.Map // map[string]*sync.Once

func warnInvalid(key, raw, reason string) {
	onceAny, _ := warnOnce.LoadOrStore(key, &sync.Once{})
	onceAny.(*sync.Once).Do(func() {
		log.WithFields(log.Fields{
			"option": key,
			"value":  raw,
			"reason": reason,
		}).Warn("invalid config option, using default")
	})
}

// Parse builds a Config from a comma-separated key=value argument
// string. Parsing never fails: unrecognized keys are ignored and
// invalid values fall back to the default for that key, each logged
// at most once.
func Parse(argString string) *Config {
	c := defaults()
	if strings.TrimSpace(argString) == "" {
		return c
	}

	for _, pair := range strings.Split(argString, ",") {
		pair = strings.TrimSpace(pair)
		if pair == "" {
			continue
		}
		kv := strings.SplitN(pair, "=", 2)
		key := strings.ToLower(strings.TrimSpace(kv[0]))
		var val string
		if len(kv) == 2 {
			val = strings.TrimSpace(kv[1])
		}
		applyOption(c, key, val)
	}
	return c
}

func applyOption(c *Config, key, val string) {
	switch key {
	case "enabled":
		if b, ok := parseBool(val); ok {
			c.enabled = b
		} else {
			warnInvalid(key, val, "expected true/false")
		}
	case "sampling-rate":
		if f, err := strconv.ParseFloat(val, 64); err == nil && f >= 0 && f <= 1 {
			c.samplingRate = f
		} else {
			warnInvalid(key, val, "expected a number in [0,1]")
		}
	case "db-types":
		types := strings.Split(val, ";")
		set := make(map[string]bool, len(types))
		valid := false
		for _, t := range types {
			t = strings.ToLower(strings.TrimSpace(t))
			if t == "" {
				continue
			}
			set[t] = true
			valid = true
		}
		if valid {
			c.dbTypes = set
		} else {
			warnInvalid(key, val, "expected a non-empty list of schemes")
		}
	case "mask-sql-params":
		if b, ok := parseBool(val); ok {
			c.maskSQLParams = b
		} else {
			warnInvalid(key, val, "expected true/false")
		}
	case "slow-query-threshold-ms":
		if n, ok := parseNonNegativeInt(val); ok {
			c.slowQueryThresholdMs = n
		} else {
			warnInvalid(key, val, "expected a non-negative integer")
		}
	case "long-tx-threshold-ms":
		if n, ok := parseNonNegativeInt(val); ok {
			c.longTxThresholdMs = n
		} else {
			warnInvalid(key, val, "expected a non-negative integer")
		}
	case "collector-kind":
		switch CollectorKind(strings.ToLower(val)) {
		case CollectorStdout, CollectorHTTP, CollectorWebsocket, CollectorComposite:
			c.collectorKind = CollectorKind(strings.ToLower(val))
		default:
			warnInvalid(key, val, "expected stdout, http, ws, or composite")
		}
	case "collector-endpoint":
		if val == "" {
			c.collectorEndpoint = ""
			return
		}
		if _, err := url.Parse(val); err == nil {
			c.collectorEndpoint = val
		} else {
			warnInvalid(key, val, "expected a parseable URL")
		}
	case "safe-mode":
		if b, ok := parseBool(val); ok {
			c.safeMode = b
		} else {
			warnInvalid(key, val, "expected true/false")
		}
	case "queue-capacity":
		if n, ok := parseNonNegativeInt(val); ok && n > 0 {
			c.queueCapacity = int(n)
		} else {
			warnInvalid(key, val, "expected a positive integer")
		}
	default:
		warnInvalid(key, val, "unrecognized option")
	}
}

func parseBool(s string) (bool, bool) {
	switch strings.ToLower(s) {
	case "true":
		return true, true
	case "false":
		return false, true
	default:
		return false, false
	}
}

func parseNonNegativeInt(s string) (int64, bool) {
	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil || n < 0 {
		return 0, false
	}
	return n, true
}
