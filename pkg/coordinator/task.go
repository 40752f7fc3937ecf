package coordinator

import (
	"context"
	"errors"
	"sync/atomic"
	"time"
)

var (
	// ErrTaskNotFound 任务不存在或结果已被取走
	ErrTaskNotFound = errors.New("task not found")
	// ErrTimeout 等待结果超时，任务仍在运行
	ErrTimeout = errors.New("timed out waiting for task result")
	// ErrCoordinatorClosed 协调器已关闭，不再接收任务
	ErrCoordinatorClosed = errors.New("coordinator closed")
	// ErrDuplicateTask 任务ID已存在
	ErrDuplicateTask = errors.New("duplicate task id")
)

// 结果中使用的错误信息
const (
	msgTimedOut = "task timed out"
	msgShutdown = "coordinator shut down"
)

// TaskFunc 任务函数
type TaskFunc func(ctx context.Context, args ...any) (any, error)

// Task 提交给协调器的工作单元
type Task struct {
	ID          string
	Name        string
	Fn          TaskFunc
	Args        []any
	SubmittedAt time.Time
	// Priority 仅作记录，调度始终为FIFO
	Priority int
}

// TaskResult 任务执行结果
type TaskResult struct {
	TaskID      string        `json:"task_id"`
	Success     bool          `json:"success"`
	Value       any           `json:"value,omitempty"`
	Error       string        `json:"error,omitempty"`
	CompletedAt time.Time     `json:"completed_at"`
	Duration    time.Duration `json:"duration"`
	TimedOut    bool          `json:"timed_out,omitempty"`
}

// TaskState 任务生命周期状态，只会向前推进
type TaskState int32

const (
	StateSubmitted TaskState = iota
	StateRunning
	StateCompleted
	StateFailed
)

func (s TaskState) String() string {
	switch s {
	case StateSubmitted:
		return "submitted"
	case StateRunning:
		return "running"
	case StateCompleted:
		return "completed"
	case StateFailed:
		return "failed"
	}
	return "unknown"
}

// Terminal 是否为终止状态
func (s TaskState) Terminal() bool {
	return s == StateCompleted || s == StateFailed
}

// future 保存单个任务的结果，done关闭后所有等待者都能读到result
type future struct {
	task   *Task
	state  atomic.Int32
	done   chan struct{}
	result TaskResult
}

func newFuture(task *Task) *future {
	return &future{
		task: task,
		done: make(chan struct{}),
	}
}

// advance 仅在新状态更靠后时更新
func (f *future) advance(to TaskState) bool {
	for {
		cur := f.state.Load()
		if TaskState(cur) >= to || TaskState(cur).Terminal() {
			return false
		}
		if f.state.CompareAndSwap(cur, int32(to)) {
			return true
		}
	}
}

// complete 写入结果并唤醒等待者，只生效一次
func (f *future) complete(result TaskResult) bool {
	to := StateCompleted
	if !result.Success {
		to = StateFailed
	}
	if !f.advance(to) {
		return false
	}
	f.result = result
	close(f.done)
	return true
}
