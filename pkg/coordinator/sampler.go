package coordinator

import (
	"context"
	"fmt"
	"os"

	"github.com/shirou/gopsutil/v4/process"
)

// ResourceUsage 进程资源占用快照
type ResourceUsage struct {
	CPUPercent float64
	MemoryMB   float64
}

// Sampler 采集进程资源占用
type Sampler interface {
	Sample(ctx context.Context) (ResourceUsage, error)
}

// ProcessSampler 使用gopsutil采集当前进程的CPU与RSS
type ProcessSampler struct {
	proc *process.Process
}

// NewProcessSampler 创建当前进程的采集器
func NewProcessSampler() (*ProcessSampler, error) {
	proc, err := process.NewProcess(int32(os.Getpid()))
	if err != nil {
		return nil, fmt.Errorf("获取进程信息失败: %w", err)
	}
	return &ProcessSampler{proc: proc}, nil
}

// Sample 返回自上次采样以来的CPU占用与当前RSS
func (s *ProcessSampler) Sample(ctx context.Context) (ResourceUsage, error) {
	cpu, err := s.proc.PercentWithContext(ctx, 0)
	if err != nil {
		return ResourceUsage{}, fmt.Errorf("采集CPU占用失败: %w", err)
	}
	mem, err := s.proc.MemoryInfoWithContext(ctx)
	if err != nil {
		return ResourceUsage{}, fmt.Errorf("采集内存占用失败: %w", err)
	}
	return ResourceUsage{
		CPUPercent: cpu,
		MemoryMB:   float64(mem.RSS) / 1024 / 1024,
	}, nil
}
