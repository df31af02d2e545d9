// Package statsd emits worker, queue and sweeper metrics over the StatsD line protocol.
package statsd

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"
)

const (
	// DefaultMaxPacketSize stays below common UDP MTUs.
	DefaultMaxPacketSize = 1432
	DefaultFlushInterval = time.Second
)

// Sink describes the minimal interface required to emit StatsD-style metrics.
type Sink interface {
	Count(name string, value int64, tags map[string]string)
	Gauge(name string, value float64, tags map[string]string)
	Timing(name string, value time.Duration, tags map[string]string)
}

// Config describes how to connect to a StatsD-compatible sink.
type Config struct {
	Enabled    bool
	Address    string
	Prefix     string
	Logger     *slog.Logger
	GlobalTags map[string]string
	// MaxPacketSize bounds one UDP datagram; lines are batched up to this size.
	MaxPacketSize int
	// FlushInterval is how long a partially filled packet may wait before it is sent.
	FlushInterval time.Duration
}

// Client emits metrics over UDP, batching newline-separated lines into packets.
// It is safe for concurrent use.
type Client struct {
	enabled    bool
	prefix     string
	globalTags map[string]string
	maxPacket  int

	logger *slog.Logger
	conn   net.Conn
	mu     sync.Mutex
	buf    []byte

	stop chan struct{}
	done chan struct{}
}

var _ Sink = (*Client)(nil)

// NewClient dials the configured StatsD endpoint unless disabled and starts the flush loop.
func NewClient(cfg Config) (*Client, error) {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	address := strings.TrimSpace(cfg.Address)
	client := &Client{
		enabled:    cfg.Enabled && address != "",
		prefix:     sanitizePrefix(cfg.Prefix),
		globalTags: cloneTags(cfg.GlobalTags),
		maxPacket:  cfg.MaxPacketSize,
		logger:     logger.With("component", "statsd"),
	}
	if client.maxPacket <= 0 {
		client.maxPacket = DefaultMaxPacketSize
	}
	if !client.enabled {
		return client, nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	conn, err := (&net.Dialer{}).DialContext(ctx, "udp", address)
	if err != nil {
		return nil, fmt.Errorf("statsd dial %s: %w", address, err)
	}
	client.start(conn, cfg.FlushInterval)
	return client, nil
}

func (c *Client) start(conn net.Conn, interval time.Duration) {
	if interval <= 0 {
		interval = DefaultFlushInterval
	}
	c.conn = conn
	c.stop = make(chan struct{})
	c.done = make(chan struct{})
	go c.flushLoop(interval)
}

func (c *Client) flushLoop(interval time.Duration) {
	defer close(c.done)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-c.stop:
			return
		case <-ticker.C:
			c.Flush()
		}
	}
}

// Enabled reports whether the client actively emits metrics.
func (c *Client) Enabled() bool {
	if c == nil {
		return false
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.enabled && c.conn != nil
}

// Count increments a counter metric.
func (c *Client) Count(name string, value int64, tags map[string]string) {
	if c == nil {
		return
	}
	c.write(name, strconv.FormatInt(value, 10)+"|c", tags)
}

// Gauge records the current value for a gauge metric.
func (c *Client) Gauge(name string, value float64, tags map[string]string) {
	if c == nil {
		return
	}
	c.write(name, formatFloat(value)+"|g", tags)
}

// Timing records a timing metric using milliseconds.
func (c *Client) Timing(name string, value time.Duration, tags map[string]string) {
	if c == nil {
		return
	}
	ms := float64(value) / float64(time.Millisecond)
	c.write(name, formatFloat(ms)+"|ms", tags)
}

// Flush sends any buffered lines immediately.
func (c *Client) Flush() {
	if c == nil {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.flushLocked()
}

// Close flushes pending lines, stops the flush loop and releases the UDP connection.
func (c *Client) Close() error {
	if c == nil {
		return nil
	}
	c.mu.Lock()
	stop, done := c.stop, c.done
	c.stop = nil
	c.mu.Unlock()
	if stop != nil {
		close(stop)
		<-done
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.conn == nil {
		c.enabled = false
		return nil
	}

	c.flushLocked()
	err := c.conn.Close()
	c.conn = nil
	c.enabled = false
	return err
}

func (c *Client) write(name, payload string, tags map[string]string) {
	metric := c.metricName(name)
	if metric == "" {
		return
	}

	line := metric + ":" + payload + formatTags(c.globalTags, tags)

	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.enabled || c.conn == nil {
		return
	}

	if len(c.buf) > 0 && len(c.buf)+1+len(line) > c.maxPacket {
		c.flushLocked()
	}
	if len(c.buf) > 0 {
		c.buf = append(c.buf, '\n')
	}
	c.buf = append(c.buf, line...)
	if len(c.buf) >= c.maxPacket {
		c.flushLocked()
	}
}

func (c *Client) flushLocked() {
	if len(c.buf) == 0 || c.conn == nil {
		return
	}
	if _, err := c.conn.Write(c.buf); err != nil {
		c.logger.Debug("statsd write failed", "error", err, "bytes", len(c.buf))
	}
	c.buf = c.buf[:0]
}

func (c *Client) metricName(name string) string {
	if name == "" {
		return ""
	}
	normalized := normalizeMetricName(name)
	if c.prefix == "" {
		return normalized
	}
	if normalized == "" {
		return c.prefix
	}
	return c.prefix + "." + normalized
}

func sanitizePrefix(prefix string) string {
	return strings.Trim(strings.TrimSpace(prefix), ".")
}

// normalizeMetricName maps characters with a meaning in the line protocol to underscores.
func normalizeMetricName(name string) string {
	n := strings.TrimSpace(name)
	if n == "" {
		return ""
	}
	n = strings.NewReplacer(" ", "_", "/", "_", ":", "_", "|", "_", "@", "_", "\n", "_").Replace(n)
	for strings.Contains(n, "..") {
		n = strings.ReplaceAll(n, "..", ".")
	}
	return strings.Trim(n, ".")
}

func formatTags(global, local map[string]string) string {
	total := len(global) + len(local)
	if total == 0 {
		return ""
	}

	merged := make(map[string]string, total)
	for k, v := range global {
		if key := strings.TrimSpace(k); key != "" {
			merged[key] = strings.TrimSpace(v)
		}
	}
	for k, v := range local {
		if key := strings.TrimSpace(k); key != "" {
			merged[key] = strings.TrimSpace(v)
		}
	}

	if len(merged) == 0 {
		return ""
	}

	keys := make([]string, 0, len(merged))
	for k := range merged {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	values := make([]string, len(keys))
	for i, k := range keys {
		values[i] = k + ":" + merged[k]
	}
	return "|#" + strings.Join(values, ",")
}

func cloneTags(tags map[string]string) map[string]string {
	cp := make(map[string]string, len(tags))
	for k, v := range tags {
		key := strings.TrimSpace(k)
		if key == "" {
			continue
		}
		cp[key] = strings.TrimSpace(v)
	}
	return cp
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}
