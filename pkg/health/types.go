package health

import (
	"context"
	"strings"
	"time"
)

// Status 组件健康状态
type Status string

const (
	StatusHealthy   Status = "healthy"
	StatusDegraded  Status = "degraded"
	StatusUnhealthy Status = "unhealthy"
	StatusUnknown   Status = "unknown"
)

// Valid 判断是否为四种状态的规范写法，非规范写法需经ParseStatus归类
func (s Status) Valid() bool {
	return ParseStatus(string(s)) == s
}

// ParseStatus 把外部状态字符串归类为四种状态，无法识别时返回StatusUnknown
func ParseStatus(s string) Status {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "healthy", "ok", "up", "pass", "serving":
		return StatusHealthy
	case "degraded", "warn", "warning":
		return StatusDegraded
	case "unhealthy", "down", "fail", "error", "not_serving":
		return StatusUnhealthy
	}
	return StatusUnknown
}

// ProbeResult 探针返回的统一结果
type ProbeResult struct {
	Status  Status `json:"status"`
	Message string `json:"message"`
}

// Healthy 构造健康结果
func Healthy(msg string) ProbeResult { return ProbeResult{Status: StatusHealthy, Message: msg} }

// Degraded 构造降级结果
func Degraded(msg string) ProbeResult { return ProbeResult{Status: StatusDegraded, Message: msg} }

// Unhealthy 构造不健康结果
func Unhealthy(msg string) ProbeResult { return ProbeResult{Status: StatusUnhealthy, Message: msg} }

// Probe 组件健康探针，返回错误等同于Unhealthy
type Probe func(ctx context.Context) (ProbeResult, error)

// Check 单次探针执行的结果
type Check struct {
	Component    string        `json:"component"`
	Status       Status        `json:"status"`
	Message      string        `json:"message"`
	ResponseTime time.Duration `json:"response_time"`
	Timestamp    time.Time     `json:"timestamp"`
	Critical     bool          `json:"critical"`
}

// ResponseTimeMS 响应时间（毫秒）
func (c Check) ResponseTimeMS() float64 {
	return float64(c.ResponseTime) / float64(time.Millisecond)
}

// Totals 各状态的组件计数
type Totals struct {
	Components int `json:"components"`
	Healthy    int `json:"healthy"`
	Degraded   int `json:"degraded"`
	Unhealthy  int `json:"unhealthy"`
	Unknown    int `json:"unknown"`
}

// SystemStatus 一次CheckAll的聚合结果
type SystemStatus struct {
	Status    Status        `json:"status"`
	Checks    []Check       `json:"checks"`
	Uptime    time.Duration `json:"uptime"`
	Totals    Totals        `json:"totals"`
	Timestamp time.Time     `json:"timestamp"`
}

// Availability 组件可用性统计
type Availability struct {
	Component           string  `json:"component,omitempty"`
	AvailabilityPercent float64 `json:"availability_percent"`
	AvgResponseTimeMS   float64 `json:"avg_response_time_ms"`
	TotalChecks         int     `json:"total_checks"`
}

// 告警类型与级别
const (
	AlertConsecutiveFailures = "consecutive_failures"
	AlertSlowResponse        = "slow_response"

	SeverityHigh   = "high"
	SeverityMedium = "medium"
)

// Alert 根据组件状态推导出的告警
type Alert struct {
	Component string    `json:"component"`
	Type      string    `json:"type"`
	Severity  string    `json:"severity"`
	Message   string    `json:"message"`
	Timestamp time.Time `json:"timestamp"`
}
