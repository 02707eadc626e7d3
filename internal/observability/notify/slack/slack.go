// Package slack delivers job failure notifications to a Slack incoming webhook.
package slack

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"slices"
	"strings"
	"time"

	"github.com/sethvargo/go-retry"

	"github.com/jakub-figat/chromatin/internal/observability/notify"
)

const (
	defaultTimeout = 5 * time.Second
	defaultBackoff = 200 * time.Millisecond
	maxErrorBody   = 4 << 10
)

var mrkdwnEscaper = strings.NewReplacer("&", "&amp;", "<", "&lt;", ">", "&gt;")

// Config describes the webhook and how hard to try delivering to it.
type Config struct {
	WebhookURL string
	Channel    string
	Username   string
	Timeout    time.Duration
	RetryLimit int
	// Backoff is the first retry delay; later delays double.
	Backoff time.Duration
	Client  *http.Client
	// JobURLPrefix turns job ids into links, e.g. https://chromatin.example/api/jobs.
	JobURLPrefix string
}

// Client posts mrkdwn messages to one webhook. 429 and 5xx responses are retried.
type Client struct {
	cfg     Config
	jobBase *url.URL
	client  *http.Client
}

type message struct {
	Text     string `json:"text"`
	Username string `json:"username,omitempty"`
	Channel  string `json:"channel,omitempty"`
}

// NewClient validates cfg; the webhook URL is required.
func NewClient(cfg Config) (*Client, error) {
	cfg.WebhookURL = strings.TrimSpace(cfg.WebhookURL)
	if cfg.WebhookURL == "" {
		return nil, errors.New("slack webhook url is required")
	}
	cfg.Channel = strings.TrimSpace(cfg.Channel)
	if cfg.Username = strings.TrimSpace(cfg.Username); cfg.Username == "" {
		cfg.Username = "chromatin"
	}
	cfg.RetryLimit = max(cfg.RetryLimit, 0)
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	if cfg.Backoff <= 0 {
		cfg.Backoff = defaultBackoff
	}

	c := &Client{cfg: cfg, client: cfg.Client}
	if c.client == nil {
		c.client = &http.Client{Timeout: cfg.Timeout}
	}
	if u, err := url.Parse(strings.TrimSpace(cfg.JobURLPrefix)); err == nil && u.Scheme != "" && u.Host != "" {
		c.jobBase = u
	}
	return c, nil
}

// SendJobFailure posts a formatted message to Slack.
func (c *Client) SendJobFailure(ctx context.Context, payload notify.JobFailurePayload) error {
	body, err := json.Marshal(c.buildMessage(payload))
	if err != nil {
		return fmt.Errorf("encode slack payload: %w", err)
	}

	b := retry.WithMaxRetries(uint64(c.cfg.RetryLimit), retry.NewExponential(c.cfg.Backoff))
	return retry.Do(ctx, b, func(ctx context.Context) error {
		return c.post(ctx, body)
	})
}

func (c *Client) buildMessage(p notify.JobFailurePayload) message {
	var sb strings.Builder

	sb.WriteString("*Job failed*")
	if p.JobID != "" {
		sb.WriteString(" " + c.jobReference(p.JobID))
	}
	if p.JobType != "" {
		sb.WriteString(" (" + p.JobType + ")")
	}
	sb.WriteByte('\n')

	severity := p.Severity
	if severity == "" {
		severity = notify.SeverityCritical
	}
	bullet(&sb, "Severity", severity)
	bullet(&sb, "Owner", mrkdwnEscaper.Replace(p.OwnerID))
	bullet(&sb, "Attempt", attemptLabel(p.Attempt, p.MaxAttempts))
	bullet(&sb, "Error class", p.ErrorClass)
	bullet(&sb, "Error", mrkdwnEscaper.Replace(p.Error))

	if len(p.Metadata) > 0 {
		sb.WriteString("• Metadata:\n")
		keys := make([]string, 0, len(p.Metadata))
		for k := range p.Metadata {
			keys = append(keys, k)
		}
		slices.Sort(keys)
		for _, k := range keys {
			fmt.Fprintf(&sb, "    • %s: %s\n", k, mrkdwnEscaper.Replace(p.Metadata[k]))
		}
	}

	at := p.OccurredAt
	if at.IsZero() {
		at = time.Now()
	}
	sb.WriteString("• Timestamp: " + at.UTC().Format(time.RFC3339))

	return message{Text: sb.String(), Username: c.cfg.Username, Channel: c.cfg.Channel}
}

func attemptLabel(attempt, maxAttempts int) string {
	switch {
	case attempt <= 0:
		return ""
	case maxAttempts > 0:
		return fmt.Sprintf("%d/%d", attempt, maxAttempts)
	default:
		return fmt.Sprint(attempt)
	}
}

func bullet(sb *strings.Builder, label, value string) {
	if strings.TrimSpace(value) == "" {
		return
	}
	fmt.Fprintf(sb, "• %s: %s\n", label, value)
}

// jobReference links the job id when JobURLPrefix is a usable absolute URL.
func (c *Client) jobReference(jobID string) string {
	id := mrkdwnEscaper.Replace(jobID)
	if c.jobBase == nil {
		return "`" + id + "`"
	}
	return fmt.Sprintf("<%s|%s>", c.jobBase.JoinPath(jobID).String(), id)
}

func (c *Client) post(ctx context.Context, body []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.WebhookURL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create slack request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return retry.RetryableError(fmt.Errorf("slack request failed: %w", err))
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	msg, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	webhookErr := fmt.Errorf("slack webhook %s: %s", resp.Status, strings.TrimSpace(string(msg)))
	if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500 {
		return retry.RetryableError(webhookErr)
	}
	return webhookErr
}
