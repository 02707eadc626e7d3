// Package pagerduty triggers PagerDuty incidents for failed jobs through the Events API v2.
package pagerduty

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/sethvargo/go-retry"

	"github.com/jakub-figat/chromatin/internal/observability/notify"
)

// APIEndpoint is the PagerDuty Events API v2 ingest URL.
const APIEndpoint = "https://events.pagerduty.com/v2/enqueue"

const (
	defaultTimeout = 5 * time.Second
	defaultBackoff = 200 * time.Millisecond
	maxErrorBody   = 4 << 10
)

// Config captures runtime configuration for the PagerDuty sink.
type Config struct {
	RoutingKey string
	// Endpoint overrides APIEndpoint.
	Endpoint   string
	Source     string
	Component  string
	Timeout    time.Duration
	RetryLimit int
	// Backoff is the first retry delay; later delays double.
	Backoff time.Duration
	Client  *http.Client
}

// Client publishes trigger events. Throttling and 5xx responses are retried, other 4xx are not.
type Client struct {
	cfg    Config
	client *http.Client
}

type event struct {
	RoutingKey  string       `json:"routing_key"`
	EventAction string       `json:"event_action"`
	DedupKey    string       `json:"dedup_key,omitempty"`
	Payload     eventPayload `json:"payload"`
}

type eventPayload struct {
	Summary       string         `json:"summary"`
	Severity      string         `json:"severity"`
	Source        string         `json:"source"`
	Component     string         `json:"component"`
	Timestamp     string         `json:"timestamp"`
	CustomDetails map[string]any `json:"custom_details"`
}

// NewClient validates cfg and fills defaults. A routing key is required.
func NewClient(cfg Config) (*Client, error) {
	cfg.RoutingKey = strings.TrimSpace(cfg.RoutingKey)
	if cfg.RoutingKey == "" {
		return nil, errors.New("pagerduty routing key is required")
	}
	cfg.Endpoint = orDefault(cfg.Endpoint, APIEndpoint)
	cfg.Source = orDefault(cfg.Source, "chromatin")
	cfg.Component = orDefault(cfg.Component, "job-worker")
	cfg.RetryLimit = max(cfg.RetryLimit, 0)
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	if cfg.Backoff <= 0 {
		cfg.Backoff = defaultBackoff
	}

	hc := cfg.Client
	if hc == nil {
		hc = &http.Client{Timeout: cfg.Timeout}
	}
	return &Client{cfg: cfg, client: hc}, nil
}

// SendJobFailure submits a trigger event deduplicated on job type and id.
func (c *Client) SendJobFailure(ctx context.Context, payload notify.JobFailurePayload) error {
	body, err := json.Marshal(c.buildEvent(payload))
	if err != nil {
		return fmt.Errorf("encode pagerduty payload: %w", err)
	}

	b := retry.WithMaxRetries(uint64(c.cfg.RetryLimit), retry.NewExponential(c.cfg.Backoff))
	return retry.Do(ctx, b, func(ctx context.Context) error {
		return c.submit(ctx, body)
	})
}

func (c *Client) buildEvent(p notify.JobFailurePayload) event {
	occurredAt := p.OccurredAt.UTC()
	if p.OccurredAt.IsZero() {
		occurredAt = time.Now().UTC()
	}

	details := make(map[string]any, len(p.Metadata)+7)
	for k, v := range p.Metadata {
		details[k] = v
	}
	details["job_id"] = p.JobID
	details["job_type"] = p.JobType
	details["owner_id"] = p.OwnerID
	details["attempt"] = p.Attempt
	details["max_attempts"] = p.MaxAttempts
	details["error"] = p.Error
	details["error_class"] = p.ErrorClass

	return event{
		RoutingKey:  c.cfg.RoutingKey,
		EventAction: "trigger",
		DedupKey:    strings.Trim(p.JobType+":"+p.JobID, ":"),
		Payload: eventPayload{
			Summary:       fmt.Sprintf("Job %s (%s) failed", orDefault(p.JobID, "unknown"), orDefault(p.JobType, "unknown")),
			Severity:      orDefault(strings.ToLower(p.Severity), notify.SeverityCritical),
			Source:        c.cfg.Source,
			Component:     c.cfg.Component,
			Timestamp:     occurredAt.Format(time.RFC3339),
			CustomDetails: details,
		},
	}
}

func (c *Client) submit(ctx context.Context, body []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.Endpoint, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create pagerduty request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return retry.RetryableError(fmt.Errorf("pagerduty request failed: %w", err))
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}

	msg, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	apiErr := fmt.Errorf("pagerduty api %s: %s", resp.Status, strings.TrimSpace(string(msg)))
	if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500 {
		return retry.RetryableError(apiErr)
	}
	return apiErr
}

func orDefault(value, fallback string) string {
	if v := strings.TrimSpace(value); v != "" {
		return v
	}
	return fallback
}
