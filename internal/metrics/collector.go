// Package metrics is a small Prometheus-compatible collector. It renders the
// text exposition format directly.
package metrics

import (
	"fmt"
	"io"
	"math"
	"net/http"
	"sort"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

// Collector is the global metrics collector.
var Collector = NewMetricsCollector()

type kind string

const (
	kindCounter   kind = "counter"
	kindGauge     kind = "gauge"
	kindHistogram kind = "histogram"
)

// family groups the series sharing one metric name.
type family struct {
	name   string
	help   string
	kind   kind
	series map[string]series // by label set
}

type series interface {
	write(w io.Writer, name, labels string)
}

// MetricsCollector aggregates counters, gauges, and histograms.
type MetricsCollector struct {
	mu        sync.Mutex
	families  map[string]*family
	startTime time.Time
}

func NewMetricsCollector() *MetricsCollector {
	return &MetricsCollector{
		families:  make(map[string]*family),
		startTime: time.Now(),
	}
}

// Uptime returns how long the collector has been running.
func (c *MetricsCollector) Uptime() time.Duration {
	return time.Since(c.startTime)
}

// Counter is a monotonically increasing counter.
type Counter struct{ value atomic.Int64 }

func (c *Counter) Inc()         { c.value.Add(1) }
func (c *Counter) Add(n int64)  { c.value.Add(n) }
func (c *Counter) Value() int64 { return c.value.Load() }

func (c *Counter) write(w io.Writer, name, labels string) {
	fmt.Fprintf(w, "%s%s %d\n", name, braces(labels), c.Value())
}

// Gauge is a value that can go up and down.
type Gauge struct{ value atomic.Int64 }

func (g *Gauge) Set(v int64)  { g.value.Store(v) }
func (g *Gauge) Inc()         { g.value.Add(1) }
func (g *Gauge) Dec()         { g.value.Add(-1) }
func (g *Gauge) Value() int64 { return g.value.Load() }

func (g *Gauge) write(w io.Writer, name, labels string) {
	fmt.Fprintf(w, "%s%s %d\n", name, braces(labels), g.Value())
}

// Histogram tracks the distribution of values. Bucket counts are
// cumulative; the +Inf bucket equals the count.
type Histogram struct {
	mu     sync.Mutex
	bounds []float64
	counts []int64
	count  int64
	sum    float64
}

// Observe records a value in the histogram.
func (h *Histogram) Observe(v float64) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.count++
	h.sum += v
	for i, le := range h.bounds {
		if v <= le {
			h.counts[i]++
		}
	}
}

// Count returns the number of observations.
func (h *Histogram) Count() int64 {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.count
}

func (h *Histogram) write(w io.Writer, name, labels string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	sep := ""
	if labels != "" {
		sep = ","
	}
	for i, le := range h.bounds {
		fmt.Fprintf(w, "%s_bucket{%s%sle=%q} %d\n", name, labels, sep, formatFloat(le), h.counts[i])
	}
	fmt.Fprintf(w, "%s_bucket{%s%sle=\"+Inf\"} %d\n", name, labels, sep, h.count)
	fmt.Fprintf(w, "%s_sum%s %s\n", name, braces(labels), formatFloat(h.sum))
	fmt.Fprintf(w, "%s_count%s %d\n", name, braces(labels), h.count)
}

// register returns the series for name and labels, creating it with mk on
// first use. Registering a name twice with different kinds panics; the
// metrics below are package-level so this fails at init.
func (c *MetricsCollector) register(name, help, labels string, k kind, mk func() series) series {
	c.mu.Lock()
	defer c.mu.Unlock()
	f, ok := c.families[name]
	if !ok {
		f = &family{name: name, help: help, kind: k, series: make(map[string]series)}
		c.families[name] = f
	} else if f.kind != k {
		panic(fmt.Sprintf("metrics: %s registered as %s and %s", name, f.kind, k))
	}
	s, ok := f.series[labels]
	if !ok {
		s = mk()
		f.series[labels] = s
	}
	return s
}

// Counter returns or creates the counter for name and labels.
func (c *MetricsCollector) Counter(name, help, labels string) *Counter {
	return c.register(name, help, labels, kindCounter, func() series { return &Counter{} }).(*Counter)
}

// Gauge returns or creates the gauge for name and labels.
func (c *MetricsCollector) Gauge(name, help, labels string) *Gauge {
	return c.register(name, help, labels, kindGauge, func() series { return &Gauge{} }).(*Gauge)
}

// Histogram returns or creates the histogram for name and labels. buckets
// are upper bounds; +Inf is implied.
func (c *MetricsCollector) Histogram(name, help, labels string, buckets []float64) *Histogram {
	return c.register(name, help, labels, kindHistogram, func() series {
		bounds := append([]float64(nil), buckets...)
		sort.Float64s(bounds)
		if n := len(bounds); n > 0 && math.IsInf(bounds[n-1], 1) {
			bounds = bounds[:n-1]
		}
		return &Histogram{bounds: bounds, counts: make([]int64, len(bounds))}
	}).(*Histogram)
}

// WriteTo renders every family in name order, series in label order.
func (c *MetricsCollector) WriteTo(w io.Writer) {
	fmt.Fprintf(w, "# HELP chatsum_uptime_seconds Time since start in seconds\n")
	fmt.Fprintf(w, "# TYPE chatsum_uptime_seconds gauge\n")
	fmt.Fprintf(w, "chatsum_uptime_seconds %d\n", int64(c.Uptime().Seconds()))

	c.mu.Lock()
	families := make([]*family, 0, len(c.families))
	for _, f := range c.families {
		families = append(families, f)
	}
	c.mu.Unlock()
	sort.Slice(families, func(i, j int) bool { return families[i].name < families[j].name })

	for _, f := range families {
		c.mu.Lock()
		labels := make([]string, 0, len(f.series))
		for l := range f.series {
			labels = append(labels, l)
		}
		c.mu.Unlock()
		sort.Strings(labels)

		fmt.Fprintf(w, "# HELP %s %s\n", f.name, f.help)
		fmt.Fprintf(w, "# TYPE %s %s\n", f.name, f.kind)
		for _, l := range labels {
			c.mu.Lock()
			s := f.series[l]
			c.mu.Unlock()
			s.write(w, f.name, l)
		}
	}
}

// Handler serves the text exposition format.
func (c *MetricsCollector) Handler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain; version=0.0.4; charset=utf-8")
		var sb strings.Builder
		c.WriteTo(&sb)
		_, _ = io.WriteString(w, sb.String())
	}
}

func braces(labels string) string {
	if labels == "" {
		return ""
	}
	return "{" + labels + "}"
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'g', -1, 64)
}

var (
	SummarizeTotal = Collector.Counter("chatsum_triggers_total", "Triggers handled by command", `command="summarize"`)
	IdentifyTotal  = Collector.Counter("chatsum_triggers_total", "Triggers handled by command", `command="identify"`)
	DeclinedTotal  = Collector.Counter("chatsum_declined_total", "Triggers declined because a precondition was not met", "")
	RateLimited    = Collector.Counter("chatsum_rate_limited_total", "Triggers dropped by the per-user limiter", "")
	FetchAttempts  = Collector.Counter("chatsum_forward_fetch_attempts_total", "Forward container fetch attempts", "")
	FetchFailures  = Collector.Counter("chatsum_forward_fetch_failures_total", "Forward containers that failed after all retries", "")
	NestedSkipped  = Collector.Counter("chatsum_nested_forward_skipped_total", "Nested forward containers skipped after failing to resolve", "")
	LLMRequests    = Collector.Counter("chatsum_llm_requests_total", "Chat completion requests", "")
	LLMErrors      = Collector.Counter("chatsum_llm_errors_total", "Chat completion requests that failed", "")
	RenderFailures = Collector.Counter("chatsum_render_failures_total", "Renders that fell back to plain text", "")
	InFlight       = Collector.Gauge("chatsum_in_flight", "Triggers currently being processed", "")
	HostConnected  = Collector.Gauge("chatsum_host_connected", "1 while the OneBot websocket is connected", "")

	LLMLatency = Collector.Histogram("chatsum_llm_latency_seconds", "Chat completion latency in seconds", "",
		[]float64{0.5, 1, 2, 5, 10, 30, 60, 120})
	ExtractedItems = Collector.Histogram("chatsum_extracted_items", "Content items per flattened transcript", "",
		[]float64{1, 10, 50, 100, 500, 1000})
)
