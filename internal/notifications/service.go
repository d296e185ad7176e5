package notifications

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"tracespool/internal/config"
	"tracespool/internal/queue"
)

const userAgent = "tracespool/0.1"

// Service is the alert surface used by the daemon.
type Service interface {
	NotifyDeadLetter(ctx context.Context, item queue.Item) error
	NotifyFlushFailing(ctx context.Context, err error, consecutive int) error
	TestNotification(ctx context.Context) error
}

// NewService builds an ntfy-backed service, or a no-op when no topic is set.
func NewService(cfg *config.Config) Service {
	topic := strings.TrimSpace(cfg.Notifications.NtfyTopic)
	if topic == "" {
		return noopService{}
	}
	timeout := cfg.NotifyTimeout()
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &ntfyService{
		endpoint: topic,
		client:   &http.Client{Timeout: timeout},
	}
}

type payload struct {
	title    string
	message  string
	tags     []string
	priority string
}

type ntfyService struct {
	endpoint string
	client   *http.Client
}

func (n *ntfyService) NotifyDeadLetter(ctx context.Context, item queue.Item) error {
	var b strings.Builder
	fmt.Fprintf(&b, "Item %s dead-lettered after %d attempts", item.ID, item.RetryCount)
	if name := strings.TrimSpace(item.SessionName); name != "" {
		fmt.Fprintf(&b, "\nSession: %s", name)
	}
	if reason := strings.TrimSpace(item.Error); reason != "" {
		fmt.Fprintf(&b, "\nLast error: %s", reason)
	}
	return n.send(ctx, payload{
		title:    "tracespool - Dead Letter",
		message:  b.String(),
		tags:     []string{"tracespool", "dead-letter"},
		priority: "high",
	})
}

func (n *ntfyService) NotifyFlushFailing(ctx context.Context, err error, consecutive int) error {
	reason := "unknown"
	if err != nil {
		reason = strings.TrimSpace(err.Error())
	}
	return n.send(ctx, payload{
		title:   "tracespool - Flush Failing",
		message: fmt.Sprintf("%d consecutive flushes failed: %s", consecutive, reason),
		tags:    []string{"tracespool", "flush", "error"},
	})
}

func (n *ntfyService) TestNotification(ctx context.Context) error {
	return n.send(ctx, payload{
		title:    "tracespool - Test",
		message:  "Notification system test",
		tags:     []string{"tracespool", "test"},
		priority: "low",
	})
}

func (n *ntfyService) send(ctx context.Context, data payload) error {
	if n == nil || n.client == nil {
		return nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.endpoint, strings.NewReader(data.message))
	if err != nil {
		return fmt.Errorf("build ntfy request: %w", err)
	}
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Content-Type", "text/plain; charset=utf-8")
	if data.title != "" {
		req.Header.Set("Title", data.title)
	}
	if len(data.tags) > 0 {
		req.Header.Set("Tags", strings.Join(data.tags, ","))
	}
	if data.priority != "" && data.priority != "default" {
		req.Header.Set("Priority", data.priority)
	}

	resp, err := n.client.Do(req)
	if err != nil {
		return fmt.Errorf("send ntfy notification: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return fmt.Errorf("ntfy returned %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	return nil
}

type noopService struct{}

func (noopService) NotifyDeadLetter(context.Context, queue.Item) error  { return nil }
func (noopService) NotifyFlushFailing(context.Context, error, int) error { return nil }
func (noopService) TestNotification(context.Context) error              { return nil }
