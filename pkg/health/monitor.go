package health

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/hewenyu/docflow-perf/internal/config"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

var (
	// ErrComponentNotFound 组件未注册
	ErrComponentNotFound = errors.New("component not found")
	// ErrDuplicateComponent 组件名称已注册
	ErrDuplicateComponent = errors.New("component already registered")
)

// MonitorConfig 健康监控配置
type MonitorConfig struct {
	ProbeTimeout     time.Duration
	HistorySize      int
	FailureThreshold int
	SlowThreshold    time.Duration
}

// DefaultMonitorConfig 返回默认监控配置
func DefaultMonitorConfig() MonitorConfig {
	return MonitorConfig{
		ProbeTimeout:     10 * time.Second,
		HistorySize:      100,
		FailureThreshold: 3,
		SlowThreshold:    5 * time.Second,
	}
}

// component 已注册组件及其检查状态
type component struct {
	name     string
	probe    Probe
	critical bool

	// runMu 串行化同一组件的探针执行与计数更新
	runMu sync.Mutex

	mu                  sync.RWMutex
	consecutiveFailures int
	history             []Check
}

func (c *component) record(check Check, limit int) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if check.Status == StatusHealthy {
		c.consecutiveFailures = 0
	} else {
		c.consecutiveFailures++
	}

	c.history = append(c.history, check)
	if len(c.history) > limit {
		c.history = append(c.history[:0:0], c.history[len(c.history)-limit:]...)
	}
}

func (c *component) snapshot() (failures int, last *Check) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if n := len(c.history); n > 0 {
		check := c.history[n-1]
		last = &check
	}
	return c.consecutiveFailures, last
}

// MonitorOption 监控选项
type MonitorOption func(*Monitor)

// WithMonitorClock 替换时间源
func WithMonitorClock(now func() time.Time) MonitorOption {
	return func(m *Monitor) {
		m.now = now
	}
}

// Monitor 组件健康监控：注册探针、执行检查、聚合状态并推导告警
type Monitor struct {
	cfg    MonitorConfig
	logger config.Logger
	now    func() time.Time

	mu         sync.RWMutex
	components map[string]*component
	order      []string
	last       *SystemStatus
	observers  []func(SystemStatus)

	startedAt time.Time
}

// NewMonitor 创建健康监控
func NewMonitor(cfg MonitorConfig, logger config.Logger, opts ...MonitorOption) *Monitor {
	defaults := DefaultMonitorConfig()
	if cfg.ProbeTimeout <= 0 {
		cfg.ProbeTimeout = defaults.ProbeTimeout
	}
	if cfg.HistorySize <= 0 {
		cfg.HistorySize = defaults.HistorySize
	}
	if cfg.FailureThreshold <= 0 {
		cfg.FailureThreshold = defaults.FailureThreshold
	}
	if cfg.SlowThreshold <= 0 {
		cfg.SlowThreshold = defaults.SlowThreshold
	}

	m := &Monitor{
		cfg:        cfg,
		logger:     logger,
		now:        time.Now,
		components: make(map[string]*component),
	}
	for _, opt := range opts {
		opt(m)
	}
	m.startedAt = m.now()
	return m
}

// Register 注册组件探针，每个名称只能注册一次
func (m *Monitor) Register(name string, probe Probe, critical bool) error {
	if name == "" {
		return errors.New("component name is empty")
	}
	if probe == nil {
		return fmt.Errorf("component %s: probe is nil", name)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.components[name]; exists {
		return fmt.Errorf("%w: %s", ErrDuplicateComponent, name)
	}
	m.components[name] = &component{
		name:     name,
		probe:    probe,
		critical: critical,
	}
	m.order = append(m.order, name)

	m.logger.Info("注册健康检查组件", zap.String("component", name), zap.Bool("critical", critical))
	return nil
}

// OnStatus 注册CheckAll完成后的回调
func (m *Monitor) OnStatus(fn func(SystemStatus)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.observers = append(m.observers, fn)
}

// Components 按注册顺序返回组件名称
func (m *Monitor) Components() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	names := make([]string, len(m.order))
	copy(names, m.order)
	return names
}

// CheckAll 并发执行所有探针并聚合出系统状态
func (m *Monitor) CheckAll(ctx context.Context) SystemStatus {
	comps := m.registered()
	checks := make([]Check, len(comps))

	g, gctx := errgroup.WithContext(ctx)
	for i, comp := range comps {
		i, comp := i, comp
		g.Go(func() error {
			checks[i] = m.run(gctx, comp)
			return nil
		})
	}
	_ = g.Wait()

	now := m.now()
	status := SystemStatus{
		Status:    Aggregate(checks),
		Checks:    checks,
		Uptime:    now.Sub(m.startedAt),
		Totals:    totals(checks),
		Timestamp: now,
	}

	// 被取消的检查不代表组件状态，不覆盖最近结果也不通知观察者
	if ctx.Err() != nil {
		status.Status = StatusUnknown
		return status
	}

	m.mu.Lock()
	m.last = &status
	observers := append([]func(SystemStatus){}, m.observers...)
	m.mu.Unlock()

	for _, fn := range observers {
		fn(status)
	}
	return status
}

// Check 执行单个组件的探针
func (m *Monitor) Check(ctx context.Context, name string) (Check, error) {
	m.mu.RLock()
	comp, ok := m.components[name]
	m.mu.RUnlock()
	if !ok {
		return Check{}, fmt.Errorf("%w: %s", ErrComponentNotFound, name)
	}
	return m.run(ctx, comp), nil
}

// LastStatus 返回最近一次CheckAll的结果
func (m *Monitor) LastStatus() (SystemStatus, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.last == nil {
		return SystemStatus{}, false
	}
	return *m.last, true
}

// History 返回组件的检查历史，按时间升序
func (m *Monitor) History(name string) ([]Check, error) {
	m.mu.RLock()
	comp, ok := m.components[name]
	m.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrComponentNotFound, name)
	}

	comp.mu.RLock()
	defer comp.mu.RUnlock()
	history := make([]Check, len(comp.history))
	copy(history, comp.history)
	return history, nil
}

// Availability 统计窗口内的可用性，component为空时统计所有组件
func (m *Monitor) Availability(name string, window time.Duration) (Availability, error) {
	var comps []*component
	if name == "" {
		comps = m.registered()
	} else {
		m.mu.RLock()
		comp, ok := m.components[name]
		m.mu.RUnlock()
		if !ok {
			return Availability{}, fmt.Errorf("%w: %s", ErrComponentNotFound, name)
		}
		comps = []*component{comp}
	}

	var since time.Time
	if window > 0 {
		since = m.now().Add(-window)
	}

	result := Availability{Component: name}
	healthy := 0
	var totalResponse time.Duration
	for _, comp := range comps {
		comp.mu.RLock()
		for _, check := range comp.history {
			if check.Timestamp.Before(since) {
				continue
			}
			result.TotalChecks++
			totalResponse += check.ResponseTime
			if check.Status == StatusHealthy {
				healthy++
			}
		}
		comp.mu.RUnlock()
	}

	if result.TotalChecks > 0 {
		result.AvailabilityPercent = float64(healthy) / float64(result.TotalChecks) * 100
		avg := totalResponse / time.Duration(result.TotalChecks)
		result.AvgResponseTimeMS = float64(avg) / float64(time.Millisecond)
	}
	return result, nil
}

// Alerts 根据组件当前状态推导告警
func (m *Monitor) Alerts() []Alert {
	alerts := make([]Alert, 0)
	for _, comp := range m.registered() {
		failures, last := comp.snapshot()
		if last == nil {
			continue
		}

		if failures >= m.cfg.FailureThreshold {
			severity := SeverityMedium
			if comp.critical {
				severity = SeverityHigh
			}
			alerts = append(alerts, Alert{
				Component: comp.name,
				Type:      AlertConsecutiveFailures,
				Severity:  severity,
				Message:   fmt.Sprintf("%s failed %d consecutive checks: %s", comp.name, failures, last.Message),
				Timestamp: last.Timestamp,
			})
		}

		if last.ResponseTime > m.cfg.SlowThreshold {
			alerts = append(alerts, Alert{
				Component: comp.name,
				Type:      AlertSlowResponse,
				Severity:  SeverityMedium,
				Message:   fmt.Sprintf("%s responded in %.0fms", comp.name, last.ResponseTimeMS()),
				Timestamp: last.Timestamp,
			})
		}
	}
	return alerts
}

// Run 周期性执行CheckAll并把新出现的告警发送到sinks，ctx取消后返回
func (m *Monitor) Run(ctx context.Context, interval time.Duration, sinks ...AlertSink) {
	if interval <= 0 {
		interval = time.Minute
	}
	m.logger.Info("启动健康检查循环", zap.Duration("interval", interval), zap.Int("sinks", len(sinks)))

	active := make(map[string]bool)
	tick := func() {
		status := m.CheckAll(ctx)
		m.logger.Debug("健康检查完成",
			zap.String("status", string(status.Status)),
			zap.Int("components", status.Totals.Components),
			zap.Int("unhealthy", status.Totals.Unhealthy))

		alerts := m.Alerts()
		current := make(map[string]bool, len(alerts))
		fresh := make([]Alert, 0, len(alerts))
		for _, alert := range alerts {
			key := alert.Component + "/" + alert.Type
			current[key] = true
			if !active[key] {
				fresh = append(fresh, alert)
			}
		}
		active = current

		if len(fresh) == 0 {
			return
		}
		for _, sink := range sinks {
			if err := sink.Publish(ctx, fresh); err != nil {
				m.logger.Error("发送告警失败", zap.Error(err))
			}
		}
	}

	tick()
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			m.logger.Info("健康检查循环已停止")
			return
		case <-ticker.C:
			tick()
		}
	}
}

// Aggregate 按优先级把检查结果聚合为系统状态
//
// 关键组件不健康则系统不健康；关键组件降级则系统降级；
// 超过一半的非关键组件不健康则系统降级；否则健康。没有检查结果时为Unknown。
func Aggregate(checks []Check) Status {
	if len(checks) == 0 {
		return StatusUnknown
	}

	criticalDegraded := false
	nonCritical, nonCriticalUnhealthy := 0, 0
	for _, check := range checks {
		if check.Critical {
			switch check.Status {
			case StatusUnhealthy:
				return StatusUnhealthy
			case StatusDegraded:
				criticalDegraded = true
			}
			continue
		}
		nonCritical++
		if check.Status == StatusUnhealthy {
			nonCriticalUnhealthy++
		}
	}

	if criticalDegraded {
		return StatusDegraded
	}
	if nonCritical > 0 && nonCriticalUnhealthy*2 > nonCritical {
		return StatusDegraded
	}
	return StatusHealthy
}

func (m *Monitor) registered() []*component {
	m.mu.RLock()
	defer m.mu.RUnlock()
	comps := make([]*component, 0, len(m.order))
	for _, name := range m.order {
		comps = append(comps, m.components[name])
	}
	return comps
}

// run 在超时约束下执行探针并记录结果
func (m *Monitor) run(ctx context.Context, comp *component) Check {
	comp.runMu.Lock()
	defer comp.runMu.Unlock()

	start := m.now()
	if err := ctx.Err(); err != nil {
		return m.cancelled(comp, start, 0, err)
	}

	probeCtx, cancel := context.WithTimeout(ctx, m.cfg.ProbeTimeout)
	defer cancel()

	began := time.Now()
	result, err := callProbe(probeCtx, comp.probe)
	elapsed := time.Since(began)

	// 调用方取消不是探针的结果，不计入失败次数和历史
	if cerr := ctx.Err(); cerr != nil {
		return m.cancelled(comp, start, elapsed, cerr)
	}

	check := Check{
		Component:    comp.name,
		Critical:     comp.critical,
		ResponseTime: elapsed,
		Timestamp:    start,
	}
	if err != nil {
		check.Status = StatusUnhealthy
		check.Message = err.Error()
	} else {
		check.Status = result.Status
		if !check.Status.Valid() {
			check.Status = ParseStatus(string(result.Status))
		}
		check.Message = result.Message
	}

	comp.record(check, m.cfg.HistorySize)
	if check.Status != StatusHealthy {
		m.logger.Warn("组件健康检查未通过",
			zap.String("component", comp.name),
			zap.String("status", string(check.Status)),
			zap.String("message", check.Message),
			zap.Duration("response_time", elapsed))
	}
	return check
}

// cancelled 调用方ctx结束时返回的Unknown检查结果，不写入组件状态
func (m *Monitor) cancelled(comp *component, start time.Time, elapsed time.Duration, err error) Check {
	m.logger.Debug("健康检查被取消", zap.String("component", comp.name), zap.Error(err))
	return Check{
		Component:    comp.name,
		Status:       StatusUnknown,
		Message:      fmt.Sprintf("check cancelled: %v", err),
		ResponseTime: elapsed,
		Timestamp:    start,
		Critical:     comp.critical,
	}
}

type probeOutcome struct {
	result ProbeResult
	err    error
}

// callProbe 在独立goroutine中执行探针，超时或panic都转换为错误
func callProbe(ctx context.Context, probe Probe) (ProbeResult, error) {
	done := make(chan probeOutcome, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- probeOutcome{err: fmt.Errorf("probe panicked: %v", r)}
			}
		}()
		result, err := probe(ctx)
		done <- probeOutcome{result: result, err: err}
	}()

	select {
	case out := <-done:
		return out.result, out.err
	case <-ctx.Done():
		return ProbeResult{}, fmt.Errorf("probe timed out: %w", ctx.Err())
	}
}

func totals(checks []Check) Totals {
	t := Totals{Components: len(checks)}
	for _, check := range checks {
		switch check.Status {
		case StatusHealthy:
			t.Healthy++
		case StatusDegraded:
			t.Degraded++
		case StatusUnhealthy:
			t.Unhealthy++
		default:
			t.Unknown++
		}
	}
	return t
}
