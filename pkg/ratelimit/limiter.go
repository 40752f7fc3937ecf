package ratelimit

import (
	"context"
	"sync"
	"time"
)

// Decision 表示一次准入检查的结果
type Decision struct {
	Allowed bool
	// WaitTime 被拒绝时距离最早一次调用滑出窗口的时间
	WaitTime time.Duration
}

// Limiter 滑动窗口限流器
type Limiter struct {
	mu       sync.Mutex
	maxCalls int
	window   time.Duration
	calls    []time.Time
	now      func() time.Time
}

// Option 限流器可选项
type Option func(*Limiter)

// WithClock 替换时间源，主要用于测试
func WithClock(now func() time.Time) Option {
	return func(l *Limiter) {
		l.now = now
	}
}

// New 创建滑动窗口限流器，maxCalls次调用/window
func New(maxCalls int, window time.Duration, opts ...Option) *Limiter {
	if maxCalls <= 0 {
		maxCalls = 1
	}
	if window <= 0 {
		window = time.Second
	}
	l := &Limiter{
		maxCalls: maxCalls,
		window:   window,
		calls:    make([]time.Time, 0, maxCalls),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Allow 执行准入检查，允许的调用会被记录，拒绝的调用不记录
func (l *Limiter) Allow() Decision {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	l.prune(now)

	if len(l.calls) < l.maxCalls {
		l.calls = append(l.calls, now)
		return Decision{Allowed: true}
	}
	return Decision{Allowed: false, WaitTime: l.waitLocked(now)}
}

// IsAllowed 是Allow的布尔形式
func (l *Limiter) IsAllowed() bool {
	return l.Allow().Allowed
}

// WaitTime 返回距离下一次可被允许的时间，当前可用时返回0
func (l *Limiter) WaitTime() time.Duration {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	l.prune(now)
	if len(l.calls) < l.maxCalls {
		return 0
	}
	return l.waitLocked(now)
}

// Wait 阻塞直到被允许或ctx结束
func (l *Limiter) Wait(ctx context.Context) error {
	for {
		d := l.Allow()
		if d.Allowed {
			return nil
		}
		timer := time.NewTimer(d.WaitTime)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
}

// Do 仅在被允许时执行fn，拒绝时直接返回Decision且不调用fn
func (l *Limiter) Do(ctx context.Context, fn func(ctx context.Context) error) (Decision, error) {
	d := l.Allow()
	if !d.Allowed {
		return d, nil
	}
	return d, fn(ctx)
}

// Remaining 返回当前窗口内剩余的调用次数
func (l *Limiter) Remaining() int {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.prune(l.now())
	return l.maxCalls - len(l.calls)
}

// prune 丢弃已滑出窗口的调用记录
func (l *Limiter) prune(now time.Time) {
	cutoff := now.Add(-l.window)
	i := 0
	for i < len(l.calls) && !l.calls[i].After(cutoff) {
		i++
	}
	if i > 0 {
		l.calls = append(l.calls[:0], l.calls[i:]...)
	}
}

func (l *Limiter) waitLocked(now time.Time) time.Duration {
	if len(l.calls) == 0 {
		return 0
	}
	wait := l.calls[0].Add(l.window).Sub(now)
	if wait < 0 {
		return 0
	}
	return wait
}
