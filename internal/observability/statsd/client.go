package statsd

import (
	"context"
	"fmt"
	"log/slog"
	"maps"
	"net"
	"slices"
	"strconv"
	"strings"
	"sync"
	"time"
)

// Sink describes the minimal interface required to emit StatsD-style metrics.
type Sink interface {
	Count(name string, value int64, tags map[string]string)
	Gauge(name string, value float64, tags map[string]string)
	Timing(name string, value time.Duration, tags map[string]string)
}

// Config describes how to connect to a StatsD-compatible sink.
type Config struct {
	Enabled bool
	Address string
	Prefix  string
	Logger  *slog.Logger
	// GlobalTags are added to every line, e.g. the registry backend of this node.
	GlobalTags map[string]string
}

// Client emits metrics over UDP using the DogStatsD line protocol.
// It is safe for concurrent use.
type Client struct {
	prefix     string
	globalTags map[string]string
	logger     *slog.Logger

	mu   sync.Mutex
	conn net.Conn
}

var _ Sink = (*Client)(nil)

// NewClient dials the configured StatsD endpoint. A disabled config, or one without
// an address, yields a client that drops everything.
func NewClient(cfg Config) (*Client, error) {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	client := &Client{
		prefix:     sanitizePrefix(cfg.Prefix),
		globalTags: cleanTags(cfg.GlobalTags),
		logger:     logger.With("component", "statsd"),
	}

	address := strings.TrimSpace(cfg.Address)
	if !cfg.Enabled || address == "" {
		return client, nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	conn, err := (&net.Dialer{}).DialContext(ctx, "udp", address)
	if err != nil {
		return nil, fmt.Errorf("statsd dial %s: %w", address, err)
	}
	client.conn = conn
	return client, nil
}

// Enabled reports whether the client has a live connection.
func (c *Client) Enabled() bool {
	if c == nil {
		return false
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn != nil
}

// Count increments a counter metric.
func (c *Client) Count(name string, value int64, tags map[string]string) {
	c.send(name, strconv.FormatInt(value, 10), "c", tags)
}

// Gauge records the current value for a gauge metric.
func (c *Client) Gauge(name string, value float64, tags map[string]string) {
	c.send(name, formatFloat(value), "g", tags)
}

// Timing records a timing metric in milliseconds.
func (c *Client) Timing(name string, value time.Duration, tags map[string]string) {
	c.send(name, formatFloat(float64(value)/float64(time.Millisecond)), "ms", tags)
}

// Close releases the UDP connection. Later calls are no-ops.
func (c *Client) Close() error {
	if c == nil {
		return nil
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn == nil {
		return nil
	}
	err := c.conn.Close()
	c.conn = nil
	return err
}

// line renders one metric, or "" when the name is empty after normalisation.
func (c *Client) line(name, value, typ string, tags map[string]string) string {
	metric := c.metricName(name)
	if metric == "" {
		return ""
	}
	return metric + ":" + value + "|" + typ + formatTags(c.globalTags, tags)
}

func (c *Client) send(name, value, typ string, tags map[string]string) {
	if c == nil {
		return
	}
	line := c.line(name, value, typ, tags)
	if line == "" {
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn == nil {
		return
	}
	if _, err := c.conn.Write([]byte(line)); err != nil {
		c.logger.Debug("statsd write failed", "metric", name, "error", err)
	}
}

func (c *Client) metricName(name string) string {
	normalized := normalizeMetricName(name)
	switch {
	case normalized == "":
		return ""
	case c.prefix == "":
		return normalized
	default:
		return c.prefix + "." + normalized
	}
}

// Tagged returns a Sink that adds tags to every metric sent through sink. Tags given
// at the call site win on conflicts. A nil sink stays nil.
//
//nolint:ireturn // a nil interface disables metrics
func Tagged(sink Sink, tags map[string]string) Sink {
	if sink == nil {
		return nil
	}
	return &taggedSink{next: sink, tags: cleanTags(tags)}
}

type taggedSink struct {
	next Sink
	tags map[string]string
}

func (t *taggedSink) merge(tags map[string]string) map[string]string {
	out := maps.Clone(t.tags)
	maps.Copy(out, tags)
	return out
}

func (t *taggedSink) Count(name string, value int64, tags map[string]string) {
	t.next.Count(name, value, t.merge(tags))
}

func (t *taggedSink) Gauge(name string, value float64, tags map[string]string) {
	t.next.Gauge(name, value, t.merge(tags))
}

func (t *taggedSink) Timing(name string, value time.Duration, tags map[string]string) {
	t.next.Timing(name, value, t.merge(tags))
}

// ParseTags reads "key:value" pairs as configured in OBSERVABILITY_METRICS_TAGS.
// Entries without a key are skipped; a missing value is kept as "".
func ParseTags(pairs []string) map[string]string {
	out := make(map[string]string, len(pairs))
	for _, pair := range pairs {
		k, v, _ := strings.Cut(pair, ":")
		if k = strings.TrimSpace(k); k != "" {
			out[k] = strings.TrimSpace(v)
		}
	}
	return out
}

func sanitizePrefix(prefix string) string {
	return strings.Trim(strings.TrimSpace(prefix), ".")
}

var metricNameReplacer = strings.NewReplacer(" ", "_", "/", "_", ":", "_", "|", "_")

func normalizeMetricName(name string) string {
	n := metricNameReplacer.Replace(strings.TrimSpace(name))
	for strings.Contains(n, "..") {
		n = strings.ReplaceAll(n, "..", ".")
	}
	return strings.Trim(n, ".")
}

func formatTags(global, local map[string]string) string {
	merged := cleanTags(global)
	maps.Copy(merged, cleanTags(local))
	if len(merged) == 0 {
		return ""
	}
	var b strings.Builder
	b.WriteString("|#")
	for i, k := range slices.Sorted(maps.Keys(merged)) {
		if i > 0 {
			b.WriteByte(',')
		}
		b.WriteString(k)
		b.WriteByte(':')
		b.WriteString(merged[k])
	}
	return b.String()
}

// cleanTags copies tags with trimmed keys and values, dropping empty keys.
func cleanTags(tags map[string]string) map[string]string {
	out := make(map[string]string, len(tags))
	for k, v := range tags {
		if key := strings.TrimSpace(k); key != "" {
			out[key] = strings.TrimSpace(v)
		}
	}
	return out
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}
