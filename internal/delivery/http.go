package delivery

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/klauspost/compress/gzip"

	"tracespool/internal/queue"
)

const userAgent = "tracespool/0.1"

// HTTPSink posts envelopes to a single endpoint.
type HTTPSink struct {
	endpoint string
	apiKey   string
	gzip     bool
	client   *http.Client
}

// HTTPOptions configures an HTTPSink.
type HTTPOptions struct {
	Endpoint string
	APIKey   string
	Gzip     bool
	Timeout  time.Duration
	// Client overrides the default client; Timeout is ignored when set.
	Client *http.Client
}

// NewHTTPSink builds an HTTP sink.
func NewHTTPSink(opts HTTPOptions) *HTTPSink {
	client := opts.Client
	if client == nil {
		timeout := opts.Timeout
		if timeout <= 0 {
			timeout = 30 * time.Second
		}
		client = &http.Client{Timeout: timeout}
	}
	return &HTTPSink{
		endpoint: opts.Endpoint,
		apiKey:   strings.TrimSpace(opts.APIKey),
		gzip:     opts.Gzip,
		client:   client,
	}
}

// Deliver sends item and treats any 2xx response as success.
func (s *HTTPSink) Deliver(ctx context.Context, item queue.Item) error {
	payload, err := json.Marshal(NewEnvelope(item))
	if err != nil {
		return fmt.Errorf("encode envelope: %w", err)
	}

	body := payload
	if s.gzip {
		var buf bytes.Buffer
		zw := gzip.NewWriter(&buf)
		if _, err := zw.Write(payload); err != nil {
			return fmt.Errorf("compress envelope: %w", err)
		}
		if err := zw.Close(); err != nil {
			return fmt.Errorf("compress envelope: %w", err)
		}
		body = buf.Bytes()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.endpoint, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build delivery request: %w", err)
	}
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Idempotency-Key", item.ID)
	if s.gzip {
		req.Header.Set("Content-Encoding", "gzip")
	}
	if s.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+s.apiKey)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("send item: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return fmt.Errorf("sink returned %d: %s", resp.StatusCode, strings.TrimSpace(string(snippet)))
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	return nil
}
