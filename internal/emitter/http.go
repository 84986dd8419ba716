package emitter

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/pkg/errors"

	"github.com/kubedb-monitor/agent/internal/dbevent"
)

// HttpSink POSTs each batch as a single JSON array to collectorURL,
// per spec §4.8.
type HttpSink struct {
	url    string
	client *http.Client
}

// NewHttpSink constructs an HttpSink targeting url, using a 2s
// per-request deadline (spec §5's only network suspension point).
func NewHttpSink(url string) *HttpSink {
	return &HttpSink{
		url: url,
		client: &http.Client{
			Timeout: 2 * time.Second,
		},
	}
}

// Deliver implements Sink.
func (s *HttpSink) Deliver(ctx context.Context, batch []dbevent.Event) (Outcome, error) {
	body, err := json.Marshal(batch)
	if err != nil {
		return FatalError, errors.Wrap(err, "marshal batch")
	}

	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.url, bytes.NewReader(body))
	if err != nil {
		return FatalError, errors.Wrap(err, "build request")
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		// Connection refused, DNS failure, timeout: all transient from
		// the collector's perspective.
		return TransientError, errors.Wrap(err, "deliver batch")
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		return Ok, nil
	case resp.StatusCode >= 500:
		return TransientError, errors.Errorf("collector returned %d", resp.StatusCode)
	case resp.StatusCode == http.StatusRequestTimeout, resp.StatusCode == http.StatusTooManyRequests:
		return TransientError, errors.Errorf("collector returned %d", resp.StatusCode)
	default:
		return FatalError, errors.Errorf("collector returned %d", resp.StatusCode)
	}
}

// Close implements Sink; HttpSink holds no long-lived connection
// state beyond the pooled transport, which http.Client manages.
func (s *HttpSink) Close() error {
	s.client.CloseIdleConnections()
	return nil
}
