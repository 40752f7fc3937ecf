package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/hewenyu/docflow-perf/internal/app"
	"github.com/hewenyu/docflow-perf/pkg/health"
	"github.com/spf13/cobra"
)

var checkTimeout time.Duration

var checkCmd = &cobra.Command{
	Use:   "check",
	Short: "执行一次全量健康检查并输出JSON",
	Long: `按配置连接所有依赖并执行一次健康检查，系统状态为unhealthy时退出码为1。

示例:
  perfcoord check --timeout 20s`,
	RunE: runCheck,
}

func init() {
	rootCmd.AddCommand(checkCmd)
	checkCmd.Flags().DurationVar(&checkTimeout, "timeout", 30*time.Second, "检查的最长时间")
}

func runCheck(cmd *cobra.Command, args []string) error {
	cfg, logger, err := loadConfig()
	if err != nil {
		return err
	}
	defer logger.Sync()

	ctx, cancel := context.WithTimeout(cmd.Context(), checkTimeout)
	defer cancel()

	a, err := app.New(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer a.Shutdown(context.Background())

	status, err := a.Check(ctx)
	if err != nil {
		return err
	}

	out, err := json.MarshalIndent(status, "", "  ")
	if err != nil {
		return fmt.Errorf("序列化检查结果失败: %w", err)
	}
	fmt.Fprintln(cmd.OutOrStdout(), string(out))

	if status.Status == health.StatusUnhealthy {
		a.Shutdown(context.Background())
		os.Exit(1)
	}
	return nil
}
