package coordinator

import (
	"fmt"
	"runtime"
)

// 执行器名称，对应coordinator.executor配置
const (
	ExecutorDirect       = "direct"
	ExecutorLockedThread = "locked_thread"
)

// Executor 决定worker循环运行在什么样的执行环境中
type Executor interface {
	Name() string
	// RunWorker 在执行器提供的环境中运行一个worker循环，循环结束后返回
	RunWorker(loop func())
}

// DirectExecutor 直接在worker goroutine中执行
type DirectExecutor struct{}

// Name 返回执行器名称
func (DirectExecutor) Name() string { return ExecutorDirect }

// RunWorker 直接运行循环
func (DirectExecutor) RunWorker(loop func()) { loop() }

// LockedThreadExecutor 把worker固定到独占的OS线程，供依赖线程局部状态的cgo引擎使用
type LockedThreadExecutor struct{}

// Name 返回执行器名称
func (LockedThreadExecutor) Name() string { return ExecutorLockedThread }

// RunWorker 锁定OS线程后运行循环
func (LockedThreadExecutor) RunWorker(loop func()) {
	runtime.LockOSThread()
	defer runtime.UnlockOSThread()
	loop()
}

// NewExecutor 根据名称创建执行器，空名称使用DirectExecutor
func NewExecutor(name string) (Executor, error) {
	switch name {
	case "", ExecutorDirect:
		return DirectExecutor{}, nil
	case ExecutorLockedThread:
		return LockedThreadExecutor{}, nil
	}
	return nil, fmt.Errorf("未知的执行器类型: %s", name)
}
