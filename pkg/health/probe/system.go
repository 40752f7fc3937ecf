// Package probe 提供常用外部依赖的健康探针
package probe

import (
	"context"
	"fmt"
	"time"

	"github.com/hewenyu/docflow-perf/pkg/health"
	"github.com/shirou/gopsutil/v4/cpu"
	"github.com/shirou/gopsutil/v4/mem"
)

// CPU占用的采样时长
const cpuSampleWindow = 200 * time.Millisecond

// Thresholds 系统资源告警阈值（百分比）
type Thresholds struct {
	CPUWarn        float64
	CPUCritical    float64
	MemoryWarn     float64
	MemoryCritical float64
}

// DefaultThresholds 返回默认阈值
func DefaultThresholds() Thresholds {
	return Thresholds{
		CPUWarn:        75,
		CPUCritical:    90,
		MemoryWarn:     80,
		MemoryCritical: 95,
	}
}

type percentFunc func(ctx context.Context) (float64, error)

// System 主机CPU与内存占用探针
func System(th Thresholds) health.Probe {
	return systemProbe(th, hostCPUPercent, hostMemoryPercent)
}

func systemProbe(th Thresholds, cpuPercent, memPercent percentFunc) health.Probe {
	return func(ctx context.Context) (health.ProbeResult, error) {
		cpuUsage, err := cpuPercent(ctx)
		if err != nil {
			return health.ProbeResult{}, fmt.Errorf("读取CPU占用失败: %w", err)
		}
		memUsage, err := memPercent(ctx)
		if err != nil {
			return health.ProbeResult{}, fmt.Errorf("读取内存占用失败: %w", err)
		}

		msg := fmt.Sprintf("cpu=%.1f%% memory=%.1f%%", cpuUsage, memUsage)
		switch {
		case cpuUsage > th.CPUCritical || memUsage > th.MemoryCritical:
			return health.Unhealthy(msg), nil
		case cpuUsage > th.CPUWarn || memUsage > th.MemoryWarn:
			return health.Degraded(msg), nil
		}
		return health.Healthy(msg), nil
	}
}

func hostCPUPercent(ctx context.Context) (float64, error) {
	values, err := cpu.PercentWithContext(ctx, cpuSampleWindow, false)
	if err != nil {
		return 0, err
	}
	if len(values) == 0 {
		return 0, fmt.Errorf("没有CPU数据")
	}
	return values[0], nil
}

func hostMemoryPercent(ctx context.Context) (float64, error) {
	vm, err := mem.VirtualMemoryWithContext(ctx)
	if err != nil {
		return 0, err
	}
	return vm.UsedPercent, nil
}
