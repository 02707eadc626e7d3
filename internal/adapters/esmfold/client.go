// Package esmfold calls the ESMFold structure prediction API.
package esmfold

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/sethvargo/go-retry"

	"github.com/jakub-figat/chromatin/internal/core"
)

const (
	serviceName = "ESMFold API"
	// Source is recorded on every structure this client produces.
	Source = "esmfold"

	maxErrorBodyBytes = 200
	maxPDBBytes       = 64 << 20
)

var _ core.PredictionClient = (*Client)(nil)

// Config captures the prediction endpoint and its call policy.
type Config struct {
	APIURL       string
	ModelVersion string
	Timeout      time.Duration
	MaxRetries   int
	RetryBackoff time.Duration
	Client       *http.Client
	Logger       *slog.Logger
	// MaxResponseBytes bounds the PDB payload; zero means 64 MiB.
	MaxResponseBytes int64
}

// Client posts protein sequences to ESMFold and returns PDB text.
type Client struct {
	apiURL       string
	modelVersion string
	maxRetries   int
	backoff      time.Duration
	maxBody      int64
	client       *http.Client
	logger       *slog.Logger
}

// NewClient builds a Client. Callers should pass a sanitized config.
func NewClient(cfg Config) (*Client, error) {
	apiURL := strings.TrimSpace(cfg.APIURL)
	if apiURL == "" {
		return nil, errors.New("esmfold api url is required")
	}
	if _, err := url.ParseRequestURI(apiURL); err != nil {
		return nil, fmt.Errorf("invalid esmfold api url: %w", err)
	}

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 300 * time.Second
	}
	backoff := cfg.RetryBackoff
	if backoff <= 0 {
		backoff = time.Second
	}
	hc := cfg.Client
	if hc == nil {
		hc = &http.Client{Timeout: timeout}
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &Client{
		apiURL:       apiURL,
		modelVersion: fallbackString(strings.TrimSpace(cfg.ModelVersion), "esmfold_v1"),
		maxRetries:   max(cfg.MaxRetries, 0),
		backoff:      backoff,
		maxBody:      cmp.Or(max(cfg.MaxResponseBytes, 0), maxPDBBytes),
		client:       hc,
		logger:       logger.With("component", "esmfold_client"),
	}, nil
}

// Source implements core.PredictionClient.
func (c *Client) Source() string { return Source }

// ModelVersion implements core.PredictionClient.
func (c *Client) ModelVersion() string { return c.modelVersion }

// Predict submits a sequence and returns the PDB payload. Transport failures, 429 and 5xx responses
// are retried with exponential backoff; other statuses fail immediately.
func (c *Client) Predict(ctx context.Context, sequence string) (string, error) {
	b := retry.NewExponential(c.backoff)
	b = retry.WithJitterPercent(10, b)
	b = retry.WithMaxRetries(uint64(c.maxRetries), b)

	var (
		pdb     string
		attempt int
	)
	err := retry.Do(ctx, b, func(ctx context.Context) error {
		attempt++
		out, err := c.post(ctx, sequence)
		if err == nil {
			pdb = out
			return nil
		}
		if retryable(err) && ctx.Err() == nil {
			c.logger.WarnContext(ctx, "prediction request failed; retrying", "attempt", attempt, "error", err)
			return retry.RetryableError(err)
		}
		return err
	})
	if err != nil {
		return "", err
	}
	return pdb, nil
}

func (c *Client) post(ctx context.Context, sequence string) (string, error) {
	form := url.Values{"sequence": {sequence}}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.apiURL, strings.NewReader(form.Encode()))
	if err != nil {
		return "", fmt.Errorf("create esmfold request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Accept", "text/plain")

	resp, err := c.client.Do(req)
	if err != nil {
		return "", &core.UpstreamError{Service: serviceName, Cause: err}
	}
	defer func() {
		_, _ = io.Copy(io.Discard, resp.Body)
		_ = resp.Body.Close()
	}()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", handleErrorResponse(resp)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, c.maxBody+1))
	if err != nil {
		return "", &core.UpstreamError{Service: serviceName, Cause: fmt.Errorf("read response: %w", err)}
	}
	if int64(len(body)) > c.maxBody {
		return "", fmt.Errorf("%w: %s response exceeds %d bytes", core.ErrPrediction, serviceName, c.maxBody)
	}
	return string(body), nil
}

func handleErrorResponse(resp *http.Response) error {
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBodyBytes+1))
	detail := strings.TrimSpace(string(raw))
	if len(detail) > maxErrorBodyBytes {
		detail = detail[:maxErrorBodyBytes] + "..."
	}
	if detail == "" {
		detail = http.StatusText(resp.StatusCode)
	}
	return &core.UpstreamError{Service: serviceName, StatusCode: resp.StatusCode, Body: detail}
}

func retryable(err error) bool {
	var ue *core.UpstreamError
	if !errors.As(err, &ue) {
		return false
	}
	if ue.StatusCode == 0 {
		return true
	}
	return ue.StatusCode == http.StatusTooManyRequests || ue.StatusCode >= http.StatusInternalServerError
}

func fallbackString(value, fallback string) string {
	if value == "" {
		return fallback
	}
	return value
}
