package emitter

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/kubedb-monitor/agent/internal/dbevent"
)

func sampleBatch() []dbevent.Event {
	return []dbevent.Event{
		dbevent.NewTransactionStarted("tx00001", "conn1"),
	}
}

func TestStdoutSink_WritesPrefixedLines(t *testing.T) {
	var buf bytes.Buffer
	sink := NewStdoutSink(&buf)

	outcome, err := sink.Deliver(context.Background(), sampleBatch())
	require.NoError(t, err)
	require.Equal(t, Ok, outcome)

	line := strings.TrimSuffix(buf.String(), "\n")
	require.True(t, strings.HasPrefix(line, stdoutPrefix))

	var decoded map[string]any
	require.NoError(t, json.Unmarshal([]byte(strings.TrimPrefix(line, stdoutPrefix)), &decoded))
	require.Equal(t, "TransactionStarted", decoded["type"])
}

func TestHttpSink_ClassifiesStatusCodes(t *testing.T) {
	cases := []struct {
		status  int
		outcome Outcome
	}{
		{http.StatusOK, Ok},
		{http.StatusInternalServerError, TransientError},
		{http.StatusTooManyRequests, TransientError},
		{http.StatusBadRequest, FatalError},
	}

	for _, tc := range cases {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(tc.status)
		}))

		sink := NewHttpSink(srv.URL)
		outcome, _ := sink.Deliver(context.Background(), sampleBatch())
		require.Equal(t, tc.outcome, outcome, "status %d", tc.status)
		srv.Close()
	}
}

func TestHttpSink_ConnectionErrorIsTransient(t *testing.T) {
	sink := NewHttpSink("http://127.0.0.1:1") // nothing listening
	outcome, err := sink.Deliver(context.Background(), sampleBatch())
	require.Error(t, err)
	require.Equal(t, TransientError, outcome)
}

func TestCompositeSink_AggregatesOutcomes(t *testing.T) {
	ok := sinkFunc(func(context.Context, []dbevent.Event) (Outcome, error) { return Ok, nil })
	transient := sinkFunc(func(context.Context, []dbevent.Event) (Outcome, error) { return TransientError, nil })
	fatal := sinkFunc(func(context.Context, []dbevent.Event) (Outcome, error) { return FatalError, nil })

	c := NewCompositeSink(ok, ok)
	outcome, _ := c.Deliver(context.Background(), sampleBatch())
	require.Equal(t, Ok, outcome)

	c = NewCompositeSink(ok, transient)
	outcome, _ = c.Deliver(context.Background(), sampleBatch())
	require.Equal(t, TransientError, outcome)

	c = NewCompositeSink(ok, transient, fatal)
	outcome, _ = c.Deliver(context.Background(), sampleBatch())
	require.Equal(t, FatalError, outcome)
}

type sinkFunc func(ctx context.Context, batch []dbevent.Event) (Outcome, error)

func (f sinkFunc) Deliver(ctx context.Context, batch []dbevent.Event) (Outcome, error) {
	return f(ctx, batch)
}

func (f sinkFunc) Close() error { return nil }

func TestHttpSink_RespectsDeadline(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(3 * time.Second)
	}))
	defer srv.Close()

	sink := NewHttpSink(srv.URL)
	start := time.Now()
	outcome, err := sink.Deliver(context.Background(), sampleBatch())
	require.Error(t, err)
	require.Equal(t, TransientError, outcome)
	require.Less(t, time.Since(start), 3*time.Second)
}
