package main

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/hewenyu/docflow-perf/pkg/cache"
	"github.com/hewenyu/docflow-perf/pkg/coordinator"
	"github.com/hewenyu/docflow-perf/pkg/health"
	"github.com/hewenyu/docflow-perf/pkg/metrics"
	sdk "github.com/hewenyu/docflow-perf/sdk/go"
	"github.com/spf13/cobra"
)

var (
	statusAddr    string
	statusTimeout time.Duration
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "查询运行中实例的健康状态、告警与统计",
	Long: `通过运维API查询一个正在运行的perfcoord实例。

示例:
  perfcoord status --addr 127.0.0.1:8090`,
	RunE: runStatus,
}

func init() {
	rootCmd.AddCommand(statusCmd)
	statusCmd.Flags().StringVarP(&statusAddr, "addr", "a", "127.0.0.1:8090", "运维API地址")
	statusCmd.Flags().DurationVar(&statusTimeout, "timeout", 20*time.Second, "请求超时时间")
}

// instanceStatus status命令的输出
type instanceStatus struct {
	Health  health.SystemStatus `json:"health"`
	Alerts  []health.Alert      `json:"alerts"`
	Cache   cache.Stats         `json:"cache"`
	Tasks   coordinator.Stats   `json:"tasks"`
	Metrics metrics.Stats       `json:"metrics"`
}

func runStatus(cmd *cobra.Command, args []string) error {
	client, err := sdk.NewClient(&sdk.Config{ServerAddr: statusAddr, Timeout: statusTimeout})
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(cmd.Context(), statusTimeout)
	defer cancel()

	var out instanceStatus
	if out.Health, err = client.Health(ctx); err != nil {
		return err
	}
	if out.Alerts, err = client.Alerts(ctx); err != nil {
		return err
	}
	if out.Cache, err = client.CacheStats(ctx); err != nil {
		return err
	}
	if out.Tasks, err = client.TaskStats(ctx); err != nil {
		return err
	}
	if out.Metrics, err = client.MetricsStats(ctx); err != nil {
		return err
	}

	data, err := json.MarshalIndent(out, "", "  ")
	if err != nil {
		return fmt.Errorf("序列化状态失败: %w", err)
	}
	fmt.Fprintln(cmd.OutOrStdout(), string(data))
	return nil
}
