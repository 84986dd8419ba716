package emitter

import (
	"bufio"
	"context"
	"encoding/json"
	"io"
	"sync"

	"github.com/kubedb-monitor/agent/internal/dbevent"
)

// stdoutPrefix tags every emitted line so downstream log scrapers can
// grep for it cheaply (spec §4.8, §6), grounded on the teacher's
// root-level sink.go, which wrote each upserted row as a single
// prefixed JSON line for the same reason.
const stdoutPrefix = "KUBEDB_METRICS: "

// StdoutSink writes one JSON object per event, one per line, to an
// underlying writer (normally os.Stdout). It never returns
// TransientError, matching spec §4.8.
type StdoutSink struct {
	mu sync.Mutex
	w  *bufio.Writer
}

// NewStdoutSink wraps w in a buffered writer.
func NewStdoutSink(w io.Writer) *StdoutSink {
	return &StdoutSink{w: bufio.NewWriter(w)}
}

// Deliver implements Sink.
func (s *StdoutSink) Deliver(_ context.Context, batch []dbevent.Event) (Outcome, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, evt := range batch {
		line, err := json.Marshal(evt)
		if err != nil {
			// A marshal failure is a programmer error in this process,
			// not a delivery problem; skip the event rather than fail
			// the whole batch.
			continue
		}
		if _, err := s.w.WriteString(stdoutPrefix); err != nil {
			return FatalError, err
		}
		if _, err := s.w.Write(line); err != nil {
			return FatalError, err
		}
		if err := s.w.WriteByte('\n'); err != nil {
			return FatalError, err
		}
	}
	if err := s.w.Flush(); err != nil {
		return FatalError, err
	}
	return Ok, nil
}

// Close flushes any buffered output.
func (s *StdoutSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.w.Flush()
}
