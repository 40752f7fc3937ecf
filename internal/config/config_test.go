package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadConfig(t *testing.T) {
	// 从默认位置加载配置
	config, err := LoadConfig("")
	require.NoError(t, err, "无法加载默认配置")
	require.NotNil(t, config, "配置不应为nil")

	// 验证默认值
	assert.Equal(t, "redis", config.Cache.Backend)
	assert.Equal(t, time.Hour, config.Cache.DefaultTTL, "默认TTL应为1小时")
	assert.Equal(t, "allkeys-lru", config.Cache.EvictionPolicy)
	assert.Equal(t, 1000, config.Coordinator.QueueSize)
	assert.Equal(t, 30*time.Second, config.Coordinator.SampleInterval, "采样间隔应为30秒")
	assert.Equal(t, 100, config.Health.HistorySize)
	assert.Equal(t, 3, config.Health.FailureThreshold)
	assert.Equal(t, 5*time.Second, config.Health.SlowThreshold)
	assert.Equal(t, 1000, config.Metrics.Capacity)
	assert.Equal(t, 100, config.Metrics.Window)
	assert.Equal(t, 8090, config.API.Port)
	assert.Equal(t, []string{"localhost:2379"}, config.Etcd.Endpoints)
}

func TestLoadConfigFromEnvVars(t *testing.T) {
	// 设置环境变量
	os.Setenv("DOCFLOW_PERF_CACHE_BACKEND", "memory")
	os.Setenv("DOCFLOW_PERF_API_PORT", "9999")
	os.Setenv("DOCFLOW_PERF_WORKERS", "4")
	defer func() {
		os.Unsetenv("DOCFLOW_PERF_CACHE_BACKEND")
		os.Unsetenv("DOCFLOW_PERF_API_PORT")
		os.Unsetenv("DOCFLOW_PERF_WORKERS")
	}()

	config, err := LoadConfig("")
	require.NoError(t, err, "无法加载配置")

	// 验证环境变量覆盖
	assert.Equal(t, "memory", config.Cache.Backend, "环境变量应覆盖缓存后端")
	assert.Equal(t, 9999, config.API.Port, "环境变量应覆盖API端口")
	assert.Equal(t, 4, config.Coordinator.Workers, "环境变量应覆盖worker数量")

	// 确认其他值不受影响
	assert.Equal(t, 9091, config.GRPC.Port)
}

func TestLoadConfigFromFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	content := []byte(`
cache:
  backend: etcd
  default_ttl: 90s
coordinator:
  workers: 8
  executor: locked_thread
health:
  slow_threshold: 2s
ratelimit:
  max_calls: 3
  window: 10s
`)
	require.NoError(t, os.WriteFile(path, content, 0o600))

	config, err := LoadConfig(path)
	require.NoError(t, err)

	assert.Equal(t, "etcd", config.Cache.Backend)
	assert.Equal(t, 90*time.Second, config.Cache.DefaultTTL)
	assert.Equal(t, 8, config.Coordinator.Workers)
	assert.Equal(t, "locked_thread", config.Coordinator.Executor)
	assert.Equal(t, 2*time.Second, config.Health.SlowThreshold)
	assert.Equal(t, 3, config.RateLimit.MaxCalls)
	assert.Equal(t, 10*time.Second, config.RateLimit.Window)
	// 文件未覆盖的值保持默认
	assert.Equal(t, 1000, config.Coordinator.QueueSize)
}

func TestLoadConfigWithMissingFile(t *testing.T) {
	config, err := LoadConfig("non_existent_file.yaml")

	assert.Error(t, err, "从不存在的文件加载配置应该失败")
	assert.Nil(t, config, "加载不存在的配置文件应该返回nil配置")
}
