package coordinator

import (
	"context"
	"errors"
	"fmt"
	"math"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/hewenyu/docflow-perf/internal/config"
	"github.com/hewenyu/docflow-perf/pkg/health"
	"github.com/hewenyu/docflow-perf/pkg/metrics"
	"go.uber.org/zap"
)

// 队列占用达到该比例时自检降级
const queuePressure = 0.8

// Config 协调器配置
type Config struct {
	Workers         int
	QueueSize       int
	SampleInterval  time.Duration
	DurationSamples int
}

// DefaultConfig 返回默认配置，worker数量等于CPU核数
func DefaultConfig() Config {
	return Config{
		Workers:         runtime.NumCPU(),
		QueueSize:       1000,
		SampleInterval:  30 * time.Second,
		DurationSamples: 1000,
	}
}

// Stats 协调器运行统计
type Stats struct {
	ActiveWorkers       int           `json:"active_workers"`
	Workers             int           `json:"workers"`
	Queued              int           `json:"queued"`
	Completed           int64         `json:"completed"`
	Failed              int64         `json:"failed"`
	AvgDuration         time.Duration `json:"avg_duration"`
	ThroughputPerMinute float64       `json:"throughput_per_minute"`
	CPUPercent          float64       `json:"cpu_percent"`
	MemoryMB            float64       `json:"memory_mb"`
	Uptime              time.Duration `json:"uptime"`
}

// Option 协调器选项
type Option func(*Coordinator)

// WithExecutor 指定worker执行器
func WithExecutor(e Executor) Option {
	return func(c *Coordinator) {
		c.executor = e
	}
}

// WithMetrics 把每个任务的耗时记录到请求指标中
func WithMetrics(collector *metrics.Collector) Option {
	return func(c *Coordinator) {
		c.collector = collector
	}
}

// WithSampler 指定资源采样器
func WithSampler(s Sampler) Option {
	return func(c *Coordinator) {
		c.sampler = s
	}
}

// Coordinator 固定大小的worker池，负责任务的提交、执行与结果收集
type Coordinator struct {
	cfg       Config
	logger    config.Logger
	executor  Executor
	collector *metrics.Collector
	sampler   Sampler
	prom      *promMetrics

	queue chan *future

	mu      sync.RWMutex
	futures map[string]*future
	started bool
	closed  bool
	taskCtx context.Context

	submitters  sync.WaitGroup
	workers     sync.WaitGroup
	quit        chan struct{}
	quitOnce    sync.Once
	stopMonitor chan struct{}
	monitorDone chan struct{}

	active    atomic.Int32
	completed atomic.Int64
	failed    atomic.Int64
	cpuBits   atomic.Uint64
	memBits   atomic.Uint64

	outcomesMu sync.Mutex
	outcomes   *rollingWindow

	startedAt time.Time
}

// New 创建协调器，需调用Start启动worker
func New(cfg Config, logger config.Logger, opts ...Option) *Coordinator {
	defaults := DefaultConfig()
	if cfg.Workers <= 0 {
		cfg.Workers = defaults.Workers
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = defaults.QueueSize
	}
	if cfg.SampleInterval <= 0 {
		cfg.SampleInterval = defaults.SampleInterval
	}
	if cfg.DurationSamples <= 0 {
		cfg.DurationSamples = defaults.DurationSamples
	}

	c := &Coordinator{
		cfg:         cfg,
		logger:      logger,
		executor:    DirectExecutor{},
		queue:       make(chan *future, cfg.QueueSize),
		futures:     make(map[string]*future),
		taskCtx:     context.Background(),
		quit:        make(chan struct{}),
		stopMonitor: make(chan struct{}),
		monitorDone: make(chan struct{}),
		outcomes:    newRollingWindow(cfg.DurationSamples),
		startedAt:   time.Now(),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.prom = newPromMetrics(c)
	return c
}

// Start 启动worker与资源监控循环
func (c *Coordinator) Start(ctx context.Context) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrCoordinatorClosed
	}
	if c.started {
		c.mu.Unlock()
		return errors.New("coordinator already started")
	}
	c.started = true
	// 任务不随Start的ctx取消，生命周期由Shutdown控制
	c.taskCtx = context.WithoutCancel(ctx)
	c.mu.Unlock()

	c.logger.Info("启动任务协调器",
		zap.Int("workers", c.cfg.Workers),
		zap.Int("queue_size", c.cfg.QueueSize),
		zap.String("executor", c.executor.Name()))

	for i := 0; i < c.cfg.Workers; i++ {
		c.workers.Add(1)
		go c.worker()
	}
	go c.monitor(ctx)
	return nil
}

// Submit 提交任务，只阻塞到任务进入队列为止
func (c *Coordinator) Submit(ctx context.Context, task Task) (string, error) {
	if task.Fn == nil {
		return "", errors.New("task function is nil")
	}
	if task.ID == "" {
		task.ID = uuid.NewString()
	}
	if task.Name == "" {
		task.Name = "task"
	}
	if task.SubmittedAt.IsZero() {
		task.SubmittedAt = time.Now()
	}
	f := newFuture(&task)

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return "", ErrCoordinatorClosed
	}
	if _, exists := c.futures[task.ID]; exists {
		c.mu.Unlock()
		return "", fmt.Errorf("%w: %s", ErrDuplicateTask, task.ID)
	}
	c.futures[task.ID] = f
	c.submitters.Add(1)
	c.mu.Unlock()
	defer c.submitters.Done()

	select {
	case c.queue <- f:
		c.prom.submitted.Inc()
		c.logger.Debug("任务已提交", zap.String("task_id", task.ID), zap.String("name", task.Name))
		return task.ID, nil
	case <-c.quit:
		c.forget(task.ID, f)
		return "", ErrCoordinatorClosed
	case <-ctx.Done():
		c.forget(task.ID, f)
		return "", ctx.Err()
	}
}

// SubmitFunc 以函数和参数提交匿名任务
func (c *Coordinator) SubmitFunc(ctx context.Context, name string, fn TaskFunc, args ...any) (string, error) {
	return c.Submit(ctx, Task{Name: name, Fn: fn, Args: args})
}

// SubmitBatch 按顺序提交一批任务，出错时返回已提交的ID
func (c *Coordinator) SubmitBatch(ctx context.Context, tasks []Task) ([]string, error) {
	ids := make([]string, 0, len(tasks))
	for i := range tasks {
		id, err := c.Submit(ctx, tasks[i])
		if err != nil {
			return ids, fmt.Errorf("提交第%d个任务失败: %w", i, err)
		}
		ids = append(ids, id)
	}
	return ids, nil
}

// GetResult 等待任务结果，timeout<=0时一直等到ctx结束
//
// 结果第一次被成功取走后任务记录被移除；超时不影响任务继续执行，之后仍可获取结果。
func (c *Coordinator) GetResult(ctx context.Context, id string, timeout time.Duration) (TaskResult, error) {
	var deadline time.Time
	if timeout > 0 {
		deadline = time.Now().Add(timeout)
	}
	return c.await(ctx, id, deadline)
}

// WaitForBatch 按提交顺序返回结果，timeout是整批共享的等待上限
func (c *Coordinator) WaitForBatch(ctx context.Context, ids []string, timeout time.Duration) []TaskResult {
	var deadline time.Time
	if timeout > 0 {
		deadline = time.Now().Add(timeout)
	}

	results := make([]TaskResult, len(ids))
	for i, id := range ids {
		result, err := c.await(ctx, id, deadline)
		switch {
		case err == nil, errors.Is(err, ErrTimeout):
			results[i] = result
		default:
			results[i] = TaskResult{TaskID: id, Error: err.Error(), CompletedAt: time.Now()}
		}
	}
	return results
}

func (c *Coordinator) await(ctx context.Context, id string, deadline time.Time) (TaskResult, error) {
	c.mu.RLock()
	f, ok := c.futures[id]
	c.mu.RUnlock()
	if !ok {
		return TaskResult{}, fmt.Errorf("%w: %s", ErrTaskNotFound, id)
	}

	// 已完成的任务不受超时影响
	select {
	case <-f.done:
		c.forget(id, f)
		return f.result, nil
	default:
	}

	var timeout <-chan time.Time
	if !deadline.IsZero() {
		timer := time.NewTimer(time.Until(deadline))
		defer timer.Stop()
		timeout = timer.C
	}

	select {
	case <-f.done:
		c.forget(id, f)
		return f.result, nil
	case <-timeout:
		return TaskResult{TaskID: id, TimedOut: true, Error: msgTimedOut}, ErrTimeout
	case <-ctx.Done():
		return TaskResult{}, ctx.Err()
	}
}

// State 返回任务当前状态，结果被取走后返回false
func (c *Coordinator) State(id string) (TaskState, bool) {
	c.mu.RLock()
	f, ok := c.futures[id]
	c.mu.RUnlock()
	if !ok {
		return 0, false
	}
	return TaskState(f.state.Load()), true
}

// Stats 返回运行统计
func (c *Coordinator) Stats() Stats {
	completed := c.completed.Load()
	uptime := time.Since(c.startedAt)
	usage := c.usage()

	c.outcomesMu.Lock()
	avg := c.outcomes.avgDuration()
	c.outcomesMu.Unlock()

	stats := Stats{
		ActiveWorkers: int(c.active.Load()),
		Workers:       c.cfg.Workers,
		Queued:        len(c.queue),
		Completed:     completed,
		Failed:        c.failed.Load(),
		AvgDuration:   avg,
		CPUPercent:    usage.CPUPercent,
		MemoryMB:      usage.MemoryMB,
		Uptime:        uptime,
	}
	if minutes := uptime.Minutes(); minutes > 0 {
		stats.ThroughputPerMinute = float64(completed) / minutes
	}
	return stats
}

// Probe 协调器自检
func (c *Coordinator) Probe(_ context.Context) (health.ProbeResult, error) {
	c.mu.RLock()
	closed, started := c.closed, c.started
	c.mu.RUnlock()

	if closed {
		return health.Unhealthy(msgShutdown), nil
	}
	if !started {
		return health.Degraded("workers not started"), nil
	}

	queued := len(c.queue)
	c.outcomesMu.Lock()
	failureRatio := c.outcomes.failureRatio()
	c.outcomesMu.Unlock()

	msg := fmt.Sprintf("workers=%d active=%d queued=%d/%d", c.cfg.Workers, c.active.Load(), queued, c.cfg.QueueSize)
	if float64(queued) >= queuePressure*float64(c.cfg.QueueSize) {
		return health.Degraded("queue nearly full: " + msg), nil
	}
	if failureRatio > 0.5 {
		return health.Degraded(fmt.Sprintf("recent failure ratio %.0f%%: %s", failureRatio*100, msg)), nil
	}
	return health.Healthy(msg), nil
}

// Shutdown 停止接收任务
//
// wait=true时执行完队列中的任务并等待运行中的任务结束（受ctx约束）；
// wait=false时队列中尚未开始的任务直接以失败结束。
func (c *Coordinator) Shutdown(ctx context.Context, wait bool) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	started := c.started
	c.mu.Unlock()

	c.logger.Info("关闭任务协调器", zap.Bool("wait", wait), zap.Int("queued", len(c.queue)))
	close(c.stopMonitor)

	// 未启动时没有worker消费队列，只能直接失败
	if !wait || !started {
		c.closeQuit()
	}

	var err error
	if werr := waitGroup(ctx, &c.submitters); werr != nil {
		err = werr
		c.closeQuit()
		c.submitters.Wait()
	}
	// 不再有提交者，可以安全关闭队列
	close(c.queue)
	if !wait || !started {
		c.drainQueue()
	}

	if werr := waitGroup(ctx, &c.workers); werr != nil {
		err = werr
		c.closeQuit()
	}
	c.drainQueue()

	if started {
		<-c.monitorDone
	}
	if err != nil {
		c.logger.Warn("任务协调器关闭超时", zap.Error(err))
		return fmt.Errorf("关闭任务协调器超时: %w", err)
	}
	c.logger.Info("任务协调器已关闭")
	return nil
}

func (c *Coordinator) worker() {
	defer c.workers.Done()
	c.executor.RunWorker(func() {
		for f := range c.queue {
			select {
			case <-c.quit:
				c.abandon(f)
				continue
			default:
			}
			c.execute(f)
		}
	})
}

func (c *Coordinator) execute(f *future) {
	if !f.advance(StateRunning) {
		return
	}
	c.active.Add(1)
	defer c.active.Add(-1)

	start := time.Now()
	value, err := invoke(c.taskCtx, f.task)
	elapsed := time.Since(start)

	result := TaskResult{
		TaskID:      f.task.ID,
		Success:     err == nil,
		CompletedAt: time.Now(),
		Duration:    elapsed,
	}
	code := 200
	status := "success"
	if err != nil {
		result.Error = err.Error()
		code = 500
		status = "failure"
		c.failed.Add(1)
		c.logger.Warn("任务执行失败",
			zap.String("task_id", f.task.ID),
			zap.String("name", f.task.Name),
			zap.Error(err))
	} else {
		result.Value = value
		c.completed.Add(1)
	}

	c.outcomesMu.Lock()
	c.outcomes.add(elapsed, err == nil)
	c.outcomesMu.Unlock()

	c.prom.completed.WithLabelValues(status).Inc()
	c.prom.duration.Observe(elapsed.Seconds())
	if c.collector != nil {
		c.collector.Record("task:"+f.task.Name, elapsed, code)
	}

	f.complete(result)
}

// invoke 执行任务函数，panic转换为错误
func invoke(ctx context.Context, task *Task) (value any, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("task panicked: %v", r)
		}
	}()
	return task.Fn(ctx, task.Args...)
}

// abandon 以关闭原因结束尚未执行的任务
func (c *Coordinator) abandon(f *future) {
	if f.complete(TaskResult{
		TaskID:      f.task.ID,
		Error:       msgShutdown,
		CompletedAt: time.Now(),
	}) {
		c.failed.Add(1)
	}
}

func (c *Coordinator) drainQueue() {
	for f := range c.queue {
		c.abandon(f)
	}
}

func (c *Coordinator) closeQuit() {
	c.quitOnce.Do(func() { close(c.quit) })
}

// forget 移除任务记录，仅当记录仍指向f时生效
func (c *Coordinator) forget(id string, f *future) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if cur, ok := c.futures[id]; ok && cur == f {
		delete(c.futures, id)
	}
}

func (c *Coordinator) monitor(ctx context.Context) {
	defer close(c.monitorDone)
	if c.sampler == nil {
		select {
		case <-ctx.Done():
		case <-c.stopMonitor:
		}
		return
	}

	c.sample(ctx)
	ticker := time.NewTicker(c.cfg.SampleInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-c.stopMonitor:
			return
		case <-ticker.C:
			c.sample(ctx)
		}
	}
}

func (c *Coordinator) sample(ctx context.Context) {
	usage, err := c.sampler.Sample(ctx)
	if err != nil {
		c.logger.Warn("采集资源占用失败", zap.Error(err))
		return
	}
	c.cpuBits.Store(math.Float64bits(usage.CPUPercent))
	c.memBits.Store(math.Float64bits(usage.MemoryMB))
	c.logger.Debug("资源采样",
		zap.Float64("cpu_percent", usage.CPUPercent),
		zap.Float64("memory_mb", usage.MemoryMB),
		zap.Int32("active_workers", c.active.Load()),
		zap.Int("queued", len(c.queue)))
}

func (c *Coordinator) usage() ResourceUsage {
	return ResourceUsage{
		CPUPercent: math.Float64frombits(c.cpuBits.Load()),
		MemoryMB:   math.Float64frombits(c.memBits.Load()),
	}
}

// waitGroup 等待wg完成或ctx结束
func waitGroup(ctx context.Context, wg *sync.WaitGroup) error {
	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// rollingWindow 最近若干次执行的耗时与结果
type rollingWindow struct {
	durations []time.Duration
	ok        []bool
	pos       int
	n         int
}

func newRollingWindow(size int) *rollingWindow {
	return &rollingWindow{
		durations: make([]time.Duration, size),
		ok:        make([]bool, size),
	}
}

func (w *rollingWindow) add(d time.Duration, success bool) {
	w.durations[w.pos] = d
	w.ok[w.pos] = success
	w.pos = (w.pos + 1) % len(w.durations)
	if w.n < len(w.durations) {
		w.n++
	}
}

func (w *rollingWindow) avgDuration() time.Duration {
	if w.n == 0 {
		return 0
	}
	var total time.Duration
	for i := 0; i < w.n; i++ {
		total += w.durations[i]
	}
	return total / time.Duration(w.n)
}

func (w *rollingWindow) failureRatio() float64 {
	if w.n == 0 {
		return 0
	}
	failed := 0
	for i := 0; i < w.n; i++ {
		if !w.ok[i] {
			failed++
		}
	}
	return float64(failed) / float64(w.n)
}
