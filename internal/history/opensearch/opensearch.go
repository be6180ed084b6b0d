// Package opensearch indexes supervisor lifecycle events as OpenSearch
// documents.
package opensearch

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/loykin/rankvisor/internal/history"
)

// document is the indexed shape of one event. @timestamp lets dashboards
// pick the time field without an index template.
type document struct {
	Timestamp time.Time `json:"@timestamp"`
	Event     string    `json:"event"`
	Process   string    `json:"process"`
	Host      string    `json:"host,omitempty"`
	PID       int       `json:"pid"`
	Attempt   int       `json:"attempt"`
	ExitCode  *int      `json:"exit_code,omitempty"`
	Error     string    `json:"error,omitempty"`
}

// Sink posts each event to <baseURL>/<index>/_doc.
type Sink struct {
	client   *http.Client
	endpoint string
	host     string
}

func New(baseURL, index string) *Sink {
	host, _ := os.Hostname()
	return &Sink{
		client:   &http.Client{Timeout: 5 * time.Second},
		endpoint: strings.TrimRight(baseURL, "/") + "/" + strings.Trim(index, "/") + "/_doc",
		host:     host,
	}
}

func (s *Sink) document(e history.Event) document {
	ts := e.OccurredAt
	if ts.IsZero() {
		ts = time.Now()
	}
	return document{
		Timestamp: ts.UTC(),
		Event:     string(e.Type),
		Process:   e.Name,
		Host:      s.host,
		PID:       e.PID,
		Attempt:   e.Attempt,
		ExitCode:  e.ExitCode,
		Error:     e.Error,
	}
}

func (s *Sink) Send(ctx context.Context, e history.Event) error {
	body, err := json.Marshal(s.document(e))
	if err != nil {
		return fmt.Errorf("encode event: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.endpoint, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := s.client.Do(req)
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode >= 300 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 256))
		return fmt.Errorf("opensearch index %s: status %d: %s", s.endpoint, resp.StatusCode, strings.TrimSpace(string(msg)))
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	return nil
}
