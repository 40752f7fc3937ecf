package main

import (
	"context"
	"os/signal"
	"syscall"
	"time"

	"github.com/hewenyu/docflow-perf/internal/app"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var shutdownTimeout time.Duration

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "启动协调层与运维API",
	Long: `启动worker池、健康检查循环、运维HTTP API以及gRPC健康检查服务。

示例:
  perfcoord serve --config ./configs/config.yaml
  DOCFLOW_PERF_CACHE_BACKEND=memory perfcoord serve`,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
	serveCmd.Flags().DurationVar(&shutdownTimeout, "shutdown-timeout", 30*time.Second, "优雅关闭的最长等待时间")
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, logger, err := loadConfig()
	if err != nil {
		return err
	}
	defer logger.Sync()

	logger.Info("docflow性能协调层启动中...",
		zap.String("cache_backend", cfg.Cache.Backend),
		zap.Int("workers", cfg.Coordinator.Workers),
		zap.String("executor", cfg.Coordinator.Executor),
		zap.Int("api_port", cfg.API.Port),
		zap.Bool("grpc_enabled", cfg.GRPC.Enabled),
	)

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := app.New(ctx, cfg, logger)
	if err != nil {
		return err
	}
	if err := a.Start(ctx); err != nil {
		a.Shutdown(context.Background())
		return err
	}

	// 等待信号以优雅关闭
	<-ctx.Done()
	logger.Info("接收到关闭信号，正在优雅关闭...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := a.Shutdown(shutdownCtx); err != nil {
		logger.Error("关闭过程中出现错误", zap.Error(err))
		return err
	}
	logger.Info("已退出")
	return nil
}
