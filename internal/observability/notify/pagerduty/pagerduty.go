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

	"github.com/target/fbdispatch/internal/observability/notify"
)

// APIEndpoint is the PagerDuty Events API v2 ingest URL.
const APIEndpoint = "https://events.pagerduty.com/v2/enqueue"

// Config captures runtime configuration for the PagerDuty sink.
type Config struct {
	RoutingKey string
	Source     string
	Component  string
	// Endpoint overrides APIEndpoint.
	Endpoint   string
	Timeout    time.Duration
	RetryLimit int
	Client     *http.Client
}

// Client publishes document failures as PagerDuty trigger events.
type Client struct {
	routingKey string
	source     string
	component  string
	endpoint   string
	retryLimit int
	client     *http.Client
}

// NewClient constructs a PagerDuty events client from config. Callers must provide a routing key.
func NewClient(cfg Config) (*Client, error) {
	key := strings.TrimSpace(cfg.RoutingKey)
	if key == "" {
		return nil, errors.New("pagerduty routing key is required")
	}

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}

	hc := cfg.Client
	if hc == nil {
		hc = &http.Client{Timeout: timeout}
	}

	return &Client{
		routingKey: key,
		source:     fallbackString(strings.TrimSpace(cfg.Source), "fbdispatch"),
		component:  fallbackString(strings.TrimSpace(cfg.Component), "fbdispatch"),
		endpoint:   fallbackString(strings.TrimSpace(cfg.Endpoint), APIEndpoint),
		retryLimit: max(cfg.RetryLimit, 0),
		client:     hc,
	}, nil
}

// SendDocumentFailure submits a trigger event to PagerDuty. Events for the same
// document share a dedup key so repeated deliveries collapse into one incident.
func (c *Client) SendDocumentFailure(ctx context.Context, payload notify.DocumentFailurePayload) error {
	body, err := json.Marshal(c.buildEvent(payload))
	if err != nil {
		return fmt.Errorf("encode pagerduty payload: %w", err)
	}

	attempts := c.retryLimit + 1
	var lastErr error
	for attempt := range attempts {
		err = c.submit(ctx, body)
		if err == nil {
			return nil
		}
		lastErr = err
		if attempt == attempts-1 {
			break
		}
		timer := time.NewTimer(time.Duration(attempt+1) * 200 * time.Millisecond)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}

	return lastErr
}

func (c *Client) buildEvent(payload notify.DocumentFailurePayload) map[string]any {
	severity := fallbackString(strings.ToLower(payload.Severity), notify.SeverityCritical)

	occurredAt := payload.OccurredAt.UTC()
	if payload.OccurredAt.IsZero() {
		occurredAt = time.Now().UTC()
	}

	openJobs := payload.OpenJobs
	if openJobs == nil {
		openJobs = []string{}
	}
	custom := map[string]any{
		"doc_id":    payload.DocID,
		"kind":      payload.Kind,
		"source":    payload.Source,
		"reason":    payload.Reason,
		"open_jobs": openJobs,
	}
	if len(payload.FailedJobs) > 0 {
		custom["failed_jobs"] = payload.FailedJobs
	}
	if payload.SubJobCount > 0 {
		custom["sub_jobs"] = payload.SubJobCount
	}
	if len(payload.Results) > 0 {
		custom["results"] = payload.Results
	}
	if payload.Elapsed > 0 {
		custom["elapsed_seconds"] = int64(payload.Elapsed / time.Second)
	}
	for k, v := range payload.Metadata {
		if _, exists := custom[k]; !exists {
			custom[k] = v
		}
	}

	return map[string]any{
		"routing_key":  c.routingKey,
		"event_action": "trigger",
		"dedup_key":    "doc:" + fallbackString(payload.DocID, "unknown"),
		"payload": map[string]any{
			"summary": fmt.Sprintf(
				"Document %s (%s) closed with an exception",
				fallbackString(payload.DocID, "unknown"),
				fallbackString(payload.Kind, "unknown"),
			),
			"severity":       severity,
			"source":         c.source,
			"component":      c.component,
			"timestamp":      occurredAt.Format(time.RFC3339),
			"custom_details": custom,
		},
	}
}

func fallbackString(value, fallback string) string {
	if strings.TrimSpace(value) == "" {
		return fallback
	}
	return value
}

func (c *Client) submit(ctx context.Context, body []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create pagerduty request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("pagerduty request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		respBody, readErr := io.ReadAll(io.LimitReader(resp.Body, 4096))
		if readErr != nil {
			return fmt.Errorf("read pagerduty error response: %w", readErr)
		}
		return fmt.Errorf("pagerduty api %s: %s", resp.Status, strings.TrimSpace(string(respBody)))
	}

	if _, err := io.Copy(io.Discard, resp.Body); err != nil {
		return fmt.Errorf("drain pagerduty response body: %w", err)
	}
	return nil
}
