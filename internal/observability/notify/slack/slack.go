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
	"sort"
	"strings"
	"time"

	"github.com/target/fbdispatch/internal/observability/notify"
)

// maxReasonRunes keeps long exception chains inside Slack's message limits.
const maxReasonRunes = 1500

// Config captures the subset of Slack webhook behaviour we need.
type Config struct {
	WebhookURL        string
	Channel           string
	Username          string
	Timeout           time.Duration
	RetryLimit        int
	Client            *http.Client
	DocumentURLPrefix string
}

// Client delivers document failure notifications to a Slack webhook.
type Client struct {
	webhookURL   string
	channel      string
	username     string
	retryLimit   int
	docURLPrefix string
	client       *http.Client
}

// NewClient builds a Slack webhook client. Callers should pass a validated config.
func NewClient(cfg Config) (*Client, error) {
	webhookURL := strings.TrimSpace(cfg.WebhookURL)
	if webhookURL == "" {
		return nil, errors.New("slack webhook url is required")
	}

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}

	retries := cfg.RetryLimit
	if retries < 0 {
		retries = 0
	}

	hc := cfg.Client
	if hc == nil {
		hc = &http.Client{Timeout: timeout}
	}

	return &Client{
		webhookURL:   webhookURL,
		channel:      strings.TrimSpace(cfg.Channel),
		username:     fallbackString(strings.TrimSpace(cfg.Username), "fbdispatch"),
		retryLimit:   retries,
		docURLPrefix: strings.TrimSpace(cfg.DocumentURLPrefix),
		client:       hc,
	}, nil
}

// SendDocumentFailure posts a formatted message to Slack.
func (c *Client) SendDocumentFailure(ctx context.Context, payload notify.DocumentFailurePayload) error {
	msg := c.formatMessage(payload)
	body, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("encode slack payload: %w", err)
	}

	attempts := c.retryLimit + 1
	var lastErr error
	for attempt := range attempts {
		err = c.post(ctx, body)
		if err == nil {
			return nil
		}
		lastErr = err
		if attempt < attempts-1 {
			// Simple linear backoff to avoid thundering retries.
			delay := time.Duration(attempt+1) * 200 * time.Millisecond
			timer := time.NewTimer(delay)
			select {
			case <-ctx.Done():
				if !timer.Stop() {
					<-timer.C
				}
				return ctx.Err()
			case <-timer.C:
			}
		}
	}

	return lastErr
}

func (c *Client) formatMessage(payload notify.DocumentFailurePayload) map[string]any {
	timestamp := payload.OccurredAt
	if timestamp.IsZero() {
		timestamp = time.Now()
	}
	text := strings.Builder{}
	writeSlackHeader(&text, payload)
	appendSlackField(&text, "Severity", fallbackString(payload.Severity, notify.SeverityCritical))
	appendSlackField(&text, "Document", c.formatDocumentValue(payload.DocID))
	appendSlackField(&text, "Closed by", closedByLine(payload))
	appendSlackField(&text, "Sub-jobs", subJobLine(payload))
	appendSlackField(&text, "Results", resultsLine(payload.Results))
	appendSlackReason(&text, payload.Reason)
	appendSlackMetadata(&text, payload.Metadata)
	writeSlackTimestamp(&text, timestamp)

	msg := map[string]any{
		"text":     text.String(),
		"username": c.username,
	}
	if c.channel != "" {
		msg["channel"] = c.channel
	}
	return msg
}

func fallbackString(value, fallback string) string {
	if value == "" {
		return fallback
	}
	return value
}

func (c *Client) post(ctx context.Context, body []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.webhookURL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create slack request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("slack request failed: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return c.handleErrorResponse(resp)
	}

	return drainSlackSuccess(resp)
}

func writeSlackHeader(text *strings.Builder, payload notify.DocumentFailurePayload) {
	text.WriteString("*Document failure alert*")
	if payload.DocID != "" {
		text.WriteString(" `")
		text.WriteString(payload.DocID)
		text.WriteByte('`')
	}
	if payload.Kind != "" {
		text.WriteString(" (")
		text.WriteString(payload.Kind)
		text.WriteByte(')')
	}
	text.WriteByte('\n')
}

// closedByLine names what closed the document and how long it had been running.
func closedByLine(payload notify.DocumentFailurePayload) string {
	if payload.Source == "" {
		return ""
	}
	if payload.Elapsed <= 0 {
		return payload.Source
	}
	return fmt.Sprintf("%s after %s", payload.Source, payload.Elapsed.Round(time.Second))
}

// subJobLine summarises failed and never-reported partitions, e.g. "2 of 12 failed (2, 10); open: 3".
func subJobLine(payload notify.DocumentFailurePayload) string {
	var parts []string
	if n := len(payload.FailedJobs); n > 0 {
		failed := fmt.Sprintf("%d failed", n)
		if payload.SubJobCount > 0 {
			failed = fmt.Sprintf("%d of %d failed", n, payload.SubJobCount)
		}
		parts = append(parts, fmt.Sprintf("%s (%s)", failed, strings.Join(payload.FailedJobs, ", ")))
	}
	if len(payload.OpenJobs) > 0 {
		parts = append(parts, "open: "+strings.Join(payload.OpenJobs, ", "))
	}
	if len(parts) == 0 && payload.SubJobCount > 0 {
		return fmt.Sprintf("%d, none failed", payload.SubJobCount)
	}
	return strings.Join(parts, "; ")
}

// resultSeverityOrder lists check categories worst first.
var resultSeverityOrder = []string{"FATAL", "ERROR", "FAIL", "WARN", "INFO", "SKIP", "PASS", "DEBUG"}

// resultsLine renders the check rollup worst category first, e.g. "FAIL 3 · PASS 40 (43 checks)".
func resultsLine(results map[string]int) string {
	categories := make([]string, 0, len(results))
	for category, n := range results {
		if n > 0 {
			categories = append(categories, category)
		}
	}
	if len(categories) == 0 {
		return ""
	}
	sort.Slice(categories, func(i, j int) bool {
		ri, rj := severityRank(categories[i]), severityRank(categories[j])
		if ri != rj {
			return ri < rj
		}
		return categories[i] < categories[j]
	})

	total := 0
	parts := make([]string, 0, len(categories))
	for _, category := range categories {
		total += results[category]
		parts = append(parts, fmt.Sprintf("%s %d", category, results[category]))
	}
	return fmt.Sprintf("%s (%d checks)", strings.Join(parts, " · "), total)
}

func severityRank(category string) int {
	if i := slices.Index(resultSeverityOrder, category); i >= 0 {
		return i
	}
	return len(resultSeverityOrder)
}

// appendSlackReason renders the exception chain as a code block so tracebacks keep their layout.
func appendSlackReason(text *strings.Builder, reason string) {
	reason = strings.TrimSpace(reason)
	if reason == "" {
		return
	}
	text.WriteString("• Reason:\n```")
	text.WriteString(truncateReason(escapeSlackText(strings.ReplaceAll(reason, "```", "'''"))))
	text.WriteString("```\n")
}

// formatDocumentValue links the document id when a URL prefix is configured.
func (c *Client) formatDocumentValue(docID string) string {
	id := escapeSlackText(strings.TrimSpace(docID))
	if id == "" {
		return ""
	}
	if link := c.buildDocumentLink(strings.TrimSpace(docID)); link != "" {
		return fmt.Sprintf("<%s|%s>", link, id)
	}
	return id
}

func truncateReason(reason string) string {
	runes := []rune(reason)
	if len(runes) <= maxReasonRunes {
		return reason
	}
	return string(runes[:maxReasonRunes]) + "…"
}

func escapeSlackText(value string) string {
	if value == "" {
		return ""
	}
	return strings.NewReplacer(
		"&", "&amp;",
		"<", "&lt;",
		">", "&gt;",
	).Replace(value)
}

func (c *Client) buildDocumentLink(docID string) string {
	prefix := strings.TrimSpace(c.docURLPrefix)
	if prefix == "" {
		return ""
	}

	u, err := url.Parse(prefix)
	if err != nil {
		return ""
	}
	if u.Scheme == "" || u.Host == "" {
		return ""
	}

	link, err := url.JoinPath(u.String(), docID)
	if err != nil {
		return ""
	}

	return link
}

func drainSlackSuccess(resp *http.Response) error {
	if _, err := io.Copy(io.Discard, resp.Body); err != nil {
		closeErr := resp.Body.Close()
		if closeErr != nil {
			return errors.Join(
				fmt.Errorf("drain slack response body: %w", err),
				fmt.Errorf("close response body: %w", closeErr),
			)
		}
		return fmt.Errorf("drain slack response body: %w", err)
	}
	if err := resp.Body.Close(); err != nil {
		return fmt.Errorf("close response body: %w", err)
	}
	return nil
}

func (c *Client) handleErrorResponse(resp *http.Response) error {
	respBody, readErr := io.ReadAll(resp.Body)
	if readErr != nil {
		closeErr := resp.Body.Close()
		if closeErr != nil {
			return errors.Join(
				fmt.Errorf("read slack error response: %w", readErr),
				fmt.Errorf("close response body: %w", closeErr),
			)
		}
		return fmt.Errorf("read slack error response: %w", readErr)
	}
	if err := resp.Body.Close(); err != nil {
		return fmt.Errorf("close response body: %w", err)
	}

	return fmt.Errorf("slack webhook %s: %s", resp.Status, strings.TrimSpace(string(respBody)))
}

func appendSlackField(text *strings.Builder, label, value string) {
	if strings.TrimSpace(value) == "" {
		return
	}
	text.WriteString("• ")
	text.WriteString(label)
	text.WriteString(": ")
	text.WriteString(value)
	text.WriteByte('\n')
}

func appendSlackMetadata(text *strings.Builder, metadata map[string]string) {
	if len(metadata) == 0 {
		return
	}
	text.WriteString("• Metadata:\n")
	keys := make([]string, 0, len(metadata))
	for k := range metadata {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		v := metadata[k]
		text.WriteString("    • ")
		text.WriteString(k)
		text.WriteString(": ")
		text.WriteString(v)
		text.WriteByte('\n')
	}
}

func writeSlackTimestamp(text *strings.Builder, timestamp time.Time) {
	text.WriteString("• Timestamp: ")
	text.WriteString(timestamp.UTC().Format(time.RFC3339))
}
