package main

import (
	"fmt"
	"os"

	"github.com/hewenyu/docflow-perf/internal/config"
	"github.com/spf13/cobra"
)

var configFile string

var rootCmd = &cobra.Command{
	Use:   "perfcoord",
	Short: "文档处理流水线的性能协调层",
	Long: `perfcoord 为文档处理流水线提供共享缓存、任务协调、健康监控与请求指标。

配置来自YAML文件与DOCFLOW_PERF_前缀的环境变量。`,
	SilenceUsage: true,
}

// Execute 执行根命令
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configFile, "config", "c", "", "配置文件路径")
}

// loadConfig 加载配置并初始化日志
func loadConfig() (*config.Config, config.Logger, error) {
	cfg, err := config.LoadConfig(configFile)
	if err != nil {
		return nil, nil, fmt.Errorf("加载配置失败: %w", err)
	}
	logger, err := config.NewLoggerWithLevel(cfg.Log.Development, cfg.Log.Level)
	if err != nil {
		return nil, nil, fmt.Errorf("初始化日志失败: %w", err)
	}
	return cfg, logger, nil
}
