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

// Package emitter implements the Sink contract (spec §4.8) and its
// concrete delivery mechanisms: stdout, HTTP, WebSocket, and a
// fan-out composite.
package emitter

import (
	"context"

	"github.com/kubedb-monitor/agent/internal/dbevent"
)

// Outcome is the result of a single Deliver call.
type Outcome int

// Delivery outcomes, per spec §4.8.
const (
	Ok Outcome = iota
	TransientError
	FatalError
)

func (o Outcome) String() string {
	switch o {
	case Ok:
		return "ok"
	case TransientError:
		return "transient_error"
	case FatalError:
		return "fatal_error"
	default:
		return "unknown"
	}
}

// Sink is the delivery contract the collector batches events to.
type Sink interface {
	Deliver(ctx context.Context, batch []dbevent.Event) (Outcome, error)
	// Close releases any resources held by the sink (open sockets,
	// idle HTTP connections). It is called once, at shutdown.
	Close() error
}
