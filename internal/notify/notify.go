// Package notify posts plain-text operator alerts to an ntfy-style endpoint.
package notify

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"
)

var errMissingEndpoint = errors.New("notify: endpoint is required")

// Notifier sends alerts to a fixed endpoint. The zero endpoint disables it.
type Notifier struct {
	client   *http.Client
	endpoint string
	title    string
}

func New(client *http.Client, endpoint string) *Notifier {
	if client == nil {
		client = &http.Client{Timeout: 5 * time.Second}
	}
	return &Notifier{client: client, endpoint: strings.TrimSpace(endpoint), title: "promptdock"}
}

func (n *Notifier) Enabled() bool { return n != nil && n.endpoint != "" }

// Notify posts message when an endpoint is configured. Failures are logged.
func (n *Notifier) Notify(ctx context.Context, message string) {
	if !n.Enabled() {
		return
	}
	if err := Send(ctx, n.client, n.endpoint, n.title+": "+message); err != nil {
		slog.Warn("notify send failed", "endpoint", n.endpoint, "error", err)
	}
}

// Send sends a message to the requested endpoint using HTTP POST.
func Send(ctx context.Context, client *http.Client, endpoint, message string) error {
	if strings.TrimSpace(endpoint) == "" {
		return errMissingEndpoint
	}
	c := client
	if c == nil {
		c = http.DefaultClient
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(message))
	if err != nil {
		return err
	}

	req.Header.Set("Content-Type", "text/plain")

	resp, err := c.Do(req)
	if err != nil {
		return err
	}
	defer func() {
		_ = resp.Body.Close()
	}()
	_, _ = io.Copy(io.Discard, resp.Body)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("ntfy notification failed: status=%d", resp.StatusCode)
	}
	return nil
}
