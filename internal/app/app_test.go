package app

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/hewenyu/docflow-perf/internal/config"
	"github.com/hewenyu/docflow-perf/pkg/health"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

// testConfig 使用内存缓存、关闭gRPC，并放宽主机资源阈值
func testConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg, err := config.LoadConfig("")
	require.NoError(t, err)

	cfg.Cache.Backend = "memory"
	cfg.Coordinator.Workers = 2
	cfg.GRPC.Enabled = false
	cfg.API.ListenAddress = "127.0.0.1"
	cfg.API.Port = 0
	cfg.Health.CPUWarn, cfg.Health.CPUCritical = 100, 100
	cfg.Health.MemoryWarn, cfg.Health.MemoryCritical = 100, 100
	return cfg
}

func TestNew_MemoryBackend(t *testing.T) {
	ctx := context.Background()
	a, err := New(ctx, testConfig(t), config.NewNopLogger())
	require.NoError(t, err)
	defer a.Shutdown(ctx)

	assert.True(t, a.Store().Enabled())
	assert.ElementsMatch(t, []string{ComponentCache, ComponentCoordinator, ComponentSystem}, a.Monitor().Components())

	status, err := a.Check(ctx)
	require.NoError(t, err)
	assert.Equal(t, health.StatusHealthy, status.Status)
	assert.Equal(t, 3, status.Totals.Components)
}

func TestNew_UnknownBackend(t *testing.T) {
	cfg := testConfig(t)
	cfg.Cache.Backend = "memcached"

	_, err := New(context.Background(), cfg, config.NewNopLogger())
	assert.Error(t, err)
}

func TestNew_UnreachableRedisDisablesCache(t *testing.T) {
	cfg := testConfig(t)
	cfg.Cache.Backend = "redis"
	cfg.Redis.Addr = "127.0.0.1:1"

	ctx := context.Background()
	a, err := New(ctx, cfg, config.NewNopLogger())
	require.NoError(t, err, "redis不可用时不应阻止启动")
	defer a.Shutdown(ctx)

	assert.False(t, a.Store().Enabled())

	status, err := a.Check(ctx)
	require.NoError(t, err)
	for _, check := range status.Checks {
		if check.Component == ComponentCache {
			assert.Equal(t, health.StatusUnhealthy, check.Status)
		}
	}
	// 缓存不是关键组件，且未超过半数非关键组件故障
	assert.Equal(t, health.StatusHealthy, status.Status)
}

func TestNew_DatabaseUnreachableStillRegistered(t *testing.T) {
	cfg := testConfig(t)
	cfg.Database.DSN = "host=127.0.0.1 port=1 user=docflow dbname=docflow sslmode=disable connect_timeout=1"

	ctx := context.Background()
	a, err := New(ctx, cfg, config.NewNopLogger())
	require.NoError(t, err)
	defer a.Shutdown(ctx)

	assert.Contains(t, a.Monitor().Components(), ComponentDatabase)
	status, err := a.Check(ctx)
	require.NoError(t, err)
	assert.Equal(t, health.StatusUnhealthy, status.Status, "数据库是关键组件")
}

func TestApp_HandlerServesOpsAPI(t *testing.T) {
	ctx := context.Background()
	a, err := New(ctx, testConfig(t), config.NewNopLogger())
	require.NoError(t, err)
	defer a.Shutdown(ctx)
	_, err = a.Check(ctx)
	require.NoError(t, err)

	rec := httptest.NewRecorder()
	a.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/health", nil))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var resp struct {
		Message string `json:"message"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "healthy", resp.Message)

	// 请求经过指标中间件
	assert.Equal(t, int64(1), a.Collector().Stats().TotalRequests)

	rec = httptest.NewRecorder()
	a.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "docflow_requests_total")
}

func TestApp_RateLimitedOpsAPI(t *testing.T) {
	cfg := testConfig(t)
	cfg.RateLimit.MaxCalls = 1
	cfg.RateLimit.Window = time.Minute

	ctx := context.Background()
	a, err := New(ctx, cfg, config.NewNopLogger())
	require.NoError(t, err)
	defer a.Shutdown(ctx)

	rec := httptest.NewRecorder()
	a.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/metrics/stats", nil))
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = httptest.NewRecorder()
	a.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/metrics/stats", nil))
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
}

func TestApp_StartAndShutdown(t *testing.T) {
	cfg := testConfig(t)
	cfg.GRPC.Enabled = true
	cfg.GRPC.ListenAddress = "127.0.0.1"
	cfg.GRPC.Port = 0
	cfg.Health.Interval = 10 * time.Millisecond

	ctx := context.Background()
	a, err := New(ctx, cfg, config.NewNopLogger())
	require.NoError(t, err)
	require.NoError(t, a.Start(ctx))

	// 监控循环会把系统状态同步到gRPC健康服务
	require.Eventually(t, func() bool {
		resp, err := a.bridge.Server().Check(ctx, &healthpb.HealthCheckRequest{Service: ComponentCoordinator})
		return err == nil && resp.Status == healthpb.HealthCheckResponse_SERVING
	}, 2*time.Second, 10*time.Millisecond)

	// 协调器可以执行任务
	id, err := a.Coordinator().SubmitFunc(ctx, "echo", func(ctx context.Context, args ...any) (any, error) {
		return args[0], nil
	}, "page-1")
	require.NoError(t, err)
	result, err := a.Coordinator().GetResult(ctx, id, time.Second)
	require.NoError(t, err)
	assert.Equal(t, "page-1", result.Value)

	shutdownCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	require.NoError(t, a.Shutdown(shutdownCtx))
	assert.NoError(t, a.Shutdown(shutdownCtx), "重复关闭无副作用")
}
