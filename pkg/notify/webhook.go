package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"

	"github.com/openfroyo/upkeep/pkg/engine"
)

var hostname = os.Hostname

// Payload is the JSON document posted to a webhook.
type Payload struct {
	Title   string             `json:"title"`
	Text    string             `json:"text"`
	Host    string             `json:"host,omitempty"`
	Summary *engine.RunSummary `json:"summary"`
}

// Webhook posts the run summary as JSON.
type Webhook struct {
	url        string
	host       string
	httpClient *http.Client
}

// NewWebhook creates a webhook notifier for url.
func NewWebhook(url string) *Webhook {
	host, _ := hostname()
	return &Webhook{
		url:        url,
		host:       host,
		httpClient: &http.Client{Timeout: DefaultTimeout},
	}
}

// Name implements Notifier.
func (w *Webhook) Name() string { return "webhook" }

// Notify implements Notifier.
func (w *Webhook) Notify(ctx context.Context, summary *engine.RunSummary) error {
	body, err := json.Marshal(Payload{
		Title:   Title(summary),
		Text:    Body(summary),
		Host:    w.host,
		Summary: summary,
	})
	if err != nil {
		return fmt.Errorf("failed to encode payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.url, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", "upkeep")

	start := time.Now()
	resp, err := w.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("webhook request failed: %w", err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("webhook returned %s after %s", resp.Status, time.Since(start).Round(time.Millisecond))
	}
	return nil
}
