package config

import (
	"strings"
	"time"
)

const defaultObservabilityName = "fbdispatch"

// ObservabilityConfig groups configuration that controls metrics and failure notifications.
type ObservabilityConfig struct {
	Metrics       ObservabilityMetricsConfig
	Notifications ObservabilityNotificationsConfig
}

// Sanitize applies guardrails to observability sub-configs.
func (c *ObservabilityConfig) Sanitize() {
	c.Metrics.Sanitize()
	c.Notifications.Sanitize()
}

// ObservabilityMetricsConfig controls emission of metrics to StatsD.
type ObservabilityMetricsConfig struct {
	Enabled       bool   `env:"METRICS_ENABLED"        envDefault:"false"`
	StatsdAddress string `env:"METRICS_STATSD_ADDRESS" envDefault:"127.0.0.1:8125"`
	Prefix        string `env:"METRICS_PREFIX"         envDefault:"fbdispatch"`
}

// Sanitize normalises derived fields and enforces safe defaults.
func (c *ObservabilityMetricsConfig) Sanitize() {
	c.StatsdAddress = strings.TrimSpace(c.StatsdAddress)
	c.Prefix = strings.Trim(strings.TrimSpace(c.Prefix), ".")
	if c.StatsdAddress == "" {
		c.Enabled = false
	}
}

// IsEnabled returns true when metrics emission is active after sanitisation.
func (c *ObservabilityMetricsConfig) IsEnabled() bool {
	return c.Enabled && c.StatsdAddress != ""
}

// ObservabilityNotificationsConfig controls alerts for documents that closed with an exception.
type ObservabilityNotificationsConfig struct {
	Enabled    bool                        `env:"NOTIFY_ENABLED"     envDefault:"false"`
	Timeout    time.Duration               `env:"NOTIFY_TIMEOUT"     envDefault:"5s"`
	RetryLimit int                         `env:"NOTIFY_RETRY_LIMIT" envDefault:"3"`
	Slack      SlackNotificationConfig     `                                          envPrefix:"NOTIFY_SLACK_"`
	PagerDuty  PagerDutyNotificationConfig `                                          envPrefix:"NOTIFY_PAGERDUTY_"`
}

// Sanitize normalises notification configuration values.
func (c *ObservabilityNotificationsConfig) Sanitize() {
	if c.Timeout <= 0 {
		c.Timeout = 5 * time.Second
	}
	if c.RetryLimit < 0 {
		c.RetryLimit = 0
	}

	c.Slack.sanitize()
	c.PagerDuty.sanitize()

	if !c.Enabled || c.Slack.WebhookURL == "" {
		c.Slack.Enabled = false
	}
	if !c.Enabled || c.PagerDuty.RoutingKey == "" {
		c.PagerDuty.Enabled = false
	}
}

// SlackNotificationConfig controls Slack webhook fan-out.
type SlackNotificationConfig struct {
	Enabled    bool   `env:"ENABLED"         envDefault:"false"`
	WebhookURL string `env:"WEBHOOK_URL"`
	Channel    string `env:"CHANNEL"`
	Username   string `env:"USERNAME"        envDefault:"fbdispatch"`
	// DocumentURLPrefix turns document ids into links, e.g. https://dash.example.com/report/.
	DocumentURLPrefix string `env:"DOCUMENT_URL_PREFIX"`
}

func (c *SlackNotificationConfig) sanitize() {
	c.WebhookURL = strings.TrimSpace(c.WebhookURL)
	c.Channel = strings.TrimSpace(c.Channel)
	c.DocumentURLPrefix = strings.TrimSpace(c.DocumentURLPrefix)
	if c.Username == "" {
		c.Username = defaultObservabilityName
	}
}

// PagerDutyNotificationConfig controls PagerDuty Events API fan-out.
type PagerDutyNotificationConfig struct {
	Enabled    bool   `env:"ENABLED"     envDefault:"false"`
	RoutingKey string `env:"ROUTING_KEY"`
	Source     string `env:"SOURCE"      envDefault:"fbdispatch"`
	Component  string `env:"COMPONENT"   envDefault:"fbdispatch"`
}

func (c *PagerDutyNotificationConfig) sanitize() {
	c.RoutingKey = strings.TrimSpace(c.RoutingKey)
	c.Source = strings.TrimSpace(c.Source)
	c.Component = strings.TrimSpace(c.Component)
	if c.Source == "" {
		c.Source = defaultObservabilityName
	}
	if c.Component == "" {
		c.Component = defaultObservabilityName
	}
}
