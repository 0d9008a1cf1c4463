package monitoring

import (
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const maxRequestLogs = 200

// RequestLog is one recent request as kept in the in-memory ring.
type RequestLog struct {
	Method     string  `json:"method"`
	Path       string  `json:"path"`
	Status     int     `json:"status"`
	DurationMs float64 `json:"ms"`
}

// Stats is a read-only snapshot of the request accumulator.
type Stats struct {
	Total         int64   `json:"total"`
	Status2xx     int64   `json:"2xx"`
	Status4xx     int64   `json:"4xx"`
	Status5xx     int64   `json:"5xx"`
	AvgDurationMs float64 `json:"avg_ms"`
}

// Collector is the single process-wide accumulator for request statistics.
// Handlers never touch the counters directly; they call Observe and read
// snapshots. Counts are also exported as prometheus metrics.
type Collector struct {
	mu    sync.Mutex
	stats Stats
	logs  []RequestLog
	next  int
	full  bool

	requestsTotal   *prometheus.CounterVec
	requestDuration prometheus.Histogram
}

// NewCollector constructs a Collector and registers its prometheus metrics
// with the provided registerer.
func NewCollector(registerer prometheus.Registerer) *Collector {
	collector := &Collector{
		logs: make([]RequestLog, maxRequestLogs),
		requestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "HTTP requests processed, labelled by status class.",
		}, []string{"class"}),
		requestDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "HTTP request latency.",
			Buckets: prometheus.DefBuckets,
		}),
	}
	if registerer != nil {
		registerer.MustRegister(collector.requestsTotal, collector.requestDuration)
	}
	return collector
}

// Observe records one completed request. Auth paths are masked so credentials
// never reach the request log.
func (c *Collector) Observe(method, path string, status int, duration time.Duration) {
	class := statusClass(status)
	c.requestsTotal.WithLabelValues(class).Inc()
	c.requestDuration.Observe(duration.Seconds())

	ms := float64(duration.Microseconds()) / 1000.0

	c.mu.Lock()
	defer c.mu.Unlock()

	c.stats.Total++
	switch class {
	case "2xx":
		c.stats.Status2xx++
	case "4xx":
		c.stats.Status4xx++
	case "5xx":
		c.stats.Status5xx++
	}
	n := float64(c.stats.Total)
	c.stats.AvgDurationMs = (c.stats.AvgDurationMs*(n-1) + ms) / n

	c.logs[c.next] = RequestLog{
		Method:     method,
		Path:       maskPath(path),
		Status:     status,
		DurationMs: ms,
	}
	c.next++
	if c.next == len(c.logs) {
		c.next = 0
		c.full = true
	}
}

// Snapshot returns a copy of the aggregate counters.
func (c *Collector) Snapshot() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.stats
}

// RecentRequests returns the ring contents, newest first.
func (c *Collector) RecentRequests() []RequestLog {
	c.mu.Lock()
	defer c.mu.Unlock()

	size := c.next
	if c.full {
		size = len(c.logs)
	}
	out := make([]RequestLog, 0, size)
	for i := 0; i < size; i++ {
		index := c.next - 1 - i
		if index < 0 {
			index += len(c.logs)
		}
		out = append(out, c.logs[index])
	}
	return out
}

func statusClass(status int) string {
	switch {
	case status >= 200 && status < 300:
		return "2xx"
	case status >= 400 && status < 500:
		return "4xx"
	case status >= 500 && status < 600:
		return "5xx"
	default:
		return "other"
	}
}

func maskPath(path string) string {
	if strings.HasPrefix(path, "/auth") {
		return "/auth/*"
	}
	return path
}
