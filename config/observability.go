package config

import (
	"log/slog"
	"strings"
	"time"
)

const defaultObservabilityName = "chromatin"

// ObservabilityConfig groups configuration that controls metrics, logging and failure fan-out.
type ObservabilityConfig struct {
	Metrics       ObservabilityMetricsConfig
	Notifications ObservabilityNotificationsConfig

	// LogLevel is one of debug, info, warn, error.
	LogLevel string `env:"LOG_LEVEL" envDefault:"info"`
}

// Sanitize applies guardrails to observability sub-configs. Unknown log levels fall back to info.
func (c *ObservabilityConfig) Sanitize() {
	c.Metrics.Sanitize()
	c.Notifications.Sanitize()
	c.LogLevel = strings.ToLower(strings.TrimSpace(c.LogLevel))
	if _, ok := parseLevel(c.LogLevel); !ok {
		c.LogLevel = "info"
	}
}

// SlogLevel converts LogLevel into a slog.Level.
func (c *ObservabilityConfig) SlogLevel() slog.Level {
	level, _ := parseLevel(c.LogLevel)
	return level
}

// parseLevel accepts slog's own spellings, including offsets such as "warn+2".
func parseLevel(s string) (slog.Level, bool) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(s)); err != nil {
		return slog.LevelInfo, false
	}
	return level, true
}

// ObservabilityMetricsConfig controls emission of metrics to external sinks such as StatsD.
type ObservabilityMetricsConfig struct {
	Enabled       bool   `env:"OBSERVABILITY_METRICS_ENABLED"        envDefault:"false"`
	StatsdAddress string `env:"OBSERVABILITY_METRICS_STATSD_ADDRESS" envDefault:"127.0.0.1:8125"`
	Prefix        string `env:"OBSERVABILITY_METRICS_PREFIX"         envDefault:"chromatin"`
}

// Sanitize normalises derived fields and enforces safe defaults.
func (c *ObservabilityMetricsConfig) Sanitize() {
	c.StatsdAddress = strings.TrimSpace(c.StatsdAddress)
	if c.StatsdAddress == "" {
		c.Enabled = false
	}
}

// IsEnabled returns true when metrics emission is active after sanitisation.
func (c *ObservabilityMetricsConfig) IsEnabled() bool {
	return c.Enabled && c.StatsdAddress != ""
}

// ObservabilityNotificationsConfig controls outbound notifications for FAILED jobs.
type ObservabilityNotificationsConfig struct {
	Enabled    bool                        `env:"OBSERVABILITY_NOTIFICATIONS_ENABLED"     envDefault:"false"`
	Timeout    time.Duration               `env:"OBSERVABILITY_NOTIFICATIONS_TIMEOUT"     envDefault:"5s"`
	RetryLimit int                         `env:"OBSERVABILITY_NOTIFICATIONS_RETRY_LIMIT" envDefault:"3"`
	Slack      SlackNotificationConfig     `                                                                 envPrefix:"OBSERVABILITY_NOTIFICATIONS_SLACK_"`
	PagerDuty  PagerDutyNotificationConfig `                                                                 envPrefix:"OBSERVABILITY_NOTIFICATIONS_PAGERDUTY_"`
	// IncludeInputErrors also notifies failures caused by the submitted data, such as an
	// alignment over the size limit.
	IncludeInputErrors bool `env:"OBSERVABILITY_NOTIFICATIONS_INCLUDE_INPUT_ERRORS" envDefault:"false"`
}

// Sanitize normalises notification configuration values. A sink stays enabled only when the
// master switch is on and its credential is present.
func (c *ObservabilityNotificationsConfig) Sanitize() {
	c.Timeout = max(c.Timeout, 0)
	if c.Timeout == 0 {
		c.Timeout = 5 * time.Second
	}
	c.RetryLimit = max(c.RetryLimit, 0)

	c.Slack.sanitize()
	c.PagerDuty.sanitize()
	c.Slack.Enabled = c.Enabled && c.Slack.Enabled && c.Slack.WebhookURL != ""
	c.PagerDuty.Enabled = c.Enabled && c.PagerDuty.Enabled && c.PagerDuty.RoutingKey != ""
}

// AnySinkEnabled reports whether at least one sink survived sanitisation.
func (c *ObservabilityNotificationsConfig) AnySinkEnabled() bool {
	return c.Slack.Enabled || c.PagerDuty.Enabled
}

// SlackNotificationConfig controls Slack webhook fan-out.
type SlackNotificationConfig struct {
	Enabled      bool   `env:"ENABLED"        envDefault:"false"`
	WebhookURL   string `env:"WEBHOOK_URL"`
	Channel      string `env:"CHANNEL"`
	Username     string `env:"USERNAME"       envDefault:"chromatin"`
	JobURLPrefix string `env:"JOB_URL_PREFIX"`
}

func (c *SlackNotificationConfig) sanitize() {
	c.WebhookURL = strings.TrimSpace(c.WebhookURL)
	c.Channel = strings.TrimSpace(c.Channel)
	c.JobURLPrefix = strings.TrimRight(strings.TrimSpace(c.JobURLPrefix), "/")
	c.Username = trimOr(c.Username, defaultObservabilityName)
}

func trimOr(s, fallback string) string {
	if s = strings.TrimSpace(s); s != "" {
		return s
	}
	return fallback
}

// PagerDutyNotificationConfig controls PagerDuty Events API v2 fan-out.
type PagerDutyNotificationConfig struct {
	Enabled    bool   `env:"ENABLED"     envDefault:"false"`
	RoutingKey string `env:"ROUTING_KEY"`
	Source     string `env:"SOURCE"      envDefault:"chromatin"`
	Component  string `env:"COMPONENT"   envDefault:"job-worker"`
}

func (c *PagerDutyNotificationConfig) sanitize() {
	c.RoutingKey = strings.TrimSpace(c.RoutingKey)
	c.Source = trimOr(c.Source, defaultObservabilityName)
	c.Component = trimOr(c.Component, "job-worker")
}
