package batch

import (
	"context"
	"sort"
	"sync"
	"time"
)

// FlushHandler 处理一个被刷出的批次
type FlushHandler[T any] func(ctx context.Context, key string, items []T)

// Accumulator 按key缓冲条目，数量达到batchSize或距上次刷新超过flushInterval时触发刷新
type Accumulator[T any] struct {
	mu            sync.Mutex
	batchSize     int
	flushInterval time.Duration
	buffers       map[string][]T
	lastFlush     map[string]time.Time
	now           func() time.Time
}

// Option 聚合器可选项
type Option func(*options)

type options struct {
	now func() time.Time
}

// WithClock 替换时间源，主要用于测试
func WithClock(now func() time.Time) Option {
	return func(o *options) {
		o.now = now
	}
}

// New 创建批量聚合器
func New[T any](batchSize int, flushInterval time.Duration, opts ...Option) *Accumulator[T] {
	o := options{now: time.Now}
	for _, opt := range opts {
		opt(&o)
	}
	if batchSize <= 0 {
		batchSize = 1
	}
	return &Accumulator[T]{
		batchSize:     batchSize,
		flushInterval: flushInterval,
		buffers:       make(map[string][]T),
		lastFlush:     make(map[string]time.Time),
		now:           o.now,
	}
}

// Add 添加条目；若添加后满足刷新条件，原子地返回并清空该key的缓冲
func (a *Accumulator[T]) Add(key string, item T) ([]T, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if _, ok := a.lastFlush[key]; !ok {
		a.lastFlush[key] = a.now()
	}
	a.buffers[key] = append(a.buffers[key], item)

	if a.shouldFlushLocked(key) {
		return a.flushLocked(key), true
	}
	return nil, false
}

// ShouldFlush 判断key是否需要刷新
func (a *Accumulator[T]) ShouldFlush(key string) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.shouldFlushLocked(key)
}

// Flush 返回并清空key的缓冲，同时重置刷新计时
func (a *Accumulator[T]) Flush(key string) []T {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.flushLocked(key)
}

// Pending 返回key当前缓冲的条目数
func (a *Accumulator[T]) Pending(key string) int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.buffers[key])
}

// Keys 返回有缓冲数据的key列表
func (a *Accumulator[T]) Keys() []string {
	a.mu.Lock()
	defer a.mu.Unlock()

	keys := make([]string, 0, len(a.buffers))
	for k, items := range a.buffers {
		if len(items) > 0 {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	return keys
}

// FlushDue 刷出所有满足条件的key
func (a *Accumulator[T]) FlushDue() map[string][]T {
	a.mu.Lock()
	defer a.mu.Unlock()

	out := make(map[string][]T)
	for key, items := range a.buffers {
		if len(items) == 0 {
			continue
		}
		if a.shouldFlushLocked(key) {
			out[key] = a.flushLocked(key)
		}
	}
	return out
}

// Run 按tick周期检查并把到期批次交给handler，ctx结束时刷出全部剩余数据
func (a *Accumulator[T]) Run(ctx context.Context, tick time.Duration, handler FlushHandler[T]) {
	ticker := time.NewTicker(tick)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			for _, key := range a.Keys() {
				if items := a.Flush(key); len(items) > 0 {
					handler(context.Background(), key, items)
				}
			}
			return
		case <-ticker.C:
			for key, items := range a.FlushDue() {
				handler(ctx, key, items)
			}
		}
	}
}

func (a *Accumulator[T]) shouldFlushLocked(key string) bool {
	if len(a.buffers[key]) >= a.batchSize {
		return true
	}
	last, ok := a.lastFlush[key]
	if !ok || a.flushInterval <= 0 {
		return false
	}
	return a.now().Sub(last) >= a.flushInterval
}

func (a *Accumulator[T]) flushLocked(key string) []T {
	items := a.buffers[key]
	delete(a.buffers, key)
	a.lastFlush[key] = a.now()
	return items
}
