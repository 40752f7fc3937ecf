package metrics

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// 默认容量与统计窗口
const (
	DefaultCapacity = 1000
	DefaultWindow   = 100
)

// Sample 单次请求的指标样本
type Sample struct {
	Endpoint   string        `json:"endpoint"`
	Duration   time.Duration `json:"duration"`
	StatusCode int           `json:"status_code"`
	Timestamp  time.Time     `json:"timestamp"`
}

// EndpointStats 单个端点在统计窗口内的指标
type EndpointStats struct {
	Requests      int     `json:"requests"`
	Errors        int     `json:"errors"`
	AvgDurationMS float64 `json:"avg_duration_ms"`
}

// Stats 指标快照
type Stats struct {
	TotalRequests     int64                    `json:"total_requests"`
	ErrorRequests     int64                    `json:"error_requests"`
	LifetimeErrorRate float64                  `json:"lifetime_error_rate"`
	WindowSize        int                      `json:"window_size"`
	AvgDurationMS     float64                  `json:"avg_duration_ms"`
	WindowErrorRate   float64                  `json:"window_error_rate"`
	Endpoints         map[string]EndpointStats `json:"endpoints"`
}

// Collector 滚动窗口请求指标收集器
type Collector struct {
	mu            sync.RWMutex
	samples       []Sample
	next          int
	full          bool
	window        int
	totalRequests int64
	errorRequests int64

	requests *prometheus.CounterVec
	duration *prometheus.HistogramVec
}

// NewCollector 创建指标收集器，capacity为环形缓冲容量，window为统计窗口大小
func NewCollector(capacity, window int) *Collector {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	if window <= 0 {
		window = DefaultWindow
	}
	if window > capacity {
		window = capacity
	}

	return &Collector{
		samples: make([]Sample, capacity),
		window:  window,
		requests: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "docflow_requests_total",
				Help: "Total number of recorded requests",
			},
			[]string{"endpoint", "code"},
		),
		duration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "docflow_request_duration_seconds",
				Help:    "Recorded request duration in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"endpoint"},
		),
	}
}

// Register 把收集器的prometheus指标注册到reg
func (c *Collector) Register(reg prometheus.Registerer) error {
	if err := reg.Register(c.requests); err != nil {
		return err
	}
	return reg.Register(c.duration)
}

// Record 记录一次请求
func (c *Collector) Record(endpoint string, duration time.Duration, statusCode int) {
	sample := Sample{
		Endpoint:   endpoint,
		Duration:   duration,
		StatusCode: statusCode,
		Timestamp:  time.Now(),
	}

	c.mu.Lock()
	c.samples[c.next] = sample
	c.next = (c.next + 1) % len(c.samples)
	if c.next == 0 {
		c.full = true
	}
	c.totalRequests++
	if statusCode >= 400 {
		c.errorRequests++
	}
	c.mu.Unlock()

	c.requests.WithLabelValues(endpoint, statusClass(statusCode)).Inc()
	c.duration.WithLabelValues(endpoint).Observe(duration.Seconds())
}

// Len 返回缓冲中的样本数量
func (c *Collector) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.lenLocked()
}

// Recent 返回最近n条样本，按时间从旧到新
func (c *Collector) Recent(n int) []Sample {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.recentLocked(n)
}

// Stats 计算最近窗口内的平均耗时与错误率，以及生命周期总数
func (c *Collector) Stats() Stats {
	c.mu.RLock()
	defer c.mu.RUnlock()

	stats := Stats{
		TotalRequests: c.totalRequests,
		ErrorRequests: c.errorRequests,
		Endpoints:     make(map[string]EndpointStats),
	}
	if c.totalRequests > 0 {
		stats.LifetimeErrorRate = float64(c.errorRequests) / float64(c.totalRequests)
	}

	recent := c.recentLocked(c.window)
	stats.WindowSize = len(recent)
	if len(recent) == 0 {
		return stats
	}

	var total time.Duration
	errors := 0
	perEndpoint := make(map[string]time.Duration)
	for _, s := range recent {
		total += s.Duration
		ep := stats.Endpoints[s.Endpoint]
		ep.Requests++
		if s.StatusCode >= 400 {
			errors++
			ep.Errors++
		}
		stats.Endpoints[s.Endpoint] = ep
		perEndpoint[s.Endpoint] += s.Duration
	}
	for name, ep := range stats.Endpoints {
		ep.AvgDurationMS = durationMS(perEndpoint[name]) / float64(ep.Requests)
		stats.Endpoints[name] = ep
	}

	stats.AvgDurationMS = durationMS(total) / float64(len(recent))
	stats.WindowErrorRate = float64(errors) / float64(len(recent))
	return stats
}

// EndpointNames 返回缓冲中出现过的端点名称
func (c *Collector) EndpointNames() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()

	seen := make(map[string]struct{})
	for _, s := range c.recentLocked(c.lenLocked()) {
		seen[s.Endpoint] = struct{}{}
	}
	names := make([]string, 0, len(seen))
	for name := range seen {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Timed 包装fn，记录其耗时；fn返回错误时记为500
func Timed(c *Collector, endpoint string, fn func(ctx context.Context) error) func(ctx context.Context) error {
	return func(ctx context.Context) error {
		start := time.Now()
		err := fn(ctx)
		status := 200
		if err != nil {
			status = 500
		}
		c.Record(endpoint, time.Since(start), status)
		return err
	}
}

func (c *Collector) lenLocked() int {
	if c.full {
		return len(c.samples)
	}
	return c.next
}

func (c *Collector) recentLocked(n int) []Sample {
	size := c.lenLocked()
	if n > size {
		n = size
	}
	if n <= 0 {
		return nil
	}
	out := make([]Sample, 0, n)
	start := c.next - n
	if start < 0 {
		start += len(c.samples)
	}
	for i := 0; i < n; i++ {
		out = append(out, c.samples[(start+i)%len(c.samples)])
	}
	return out
}

func durationMS(d time.Duration) float64 {
	return float64(d) / float64(time.Millisecond)
}

func statusClass(code int) string {
	switch {
	case code >= 500:
		return "5xx"
	case code >= 400:
		return "4xx"
	case code >= 300:
		return "3xx"
	default:
		return "2xx"
	}
}
