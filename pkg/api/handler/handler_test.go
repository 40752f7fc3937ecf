package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/hewenyu/docflow-perf/internal/config"
	"github.com/hewenyu/docflow-perf/pkg/cache"
	"github.com/hewenyu/docflow-perf/pkg/coordinator"
	"github.com/hewenyu/docflow-perf/pkg/health"
	"github.com/hewenyu/docflow-perf/pkg/metrics"
	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func staticProbe(result health.ProbeResult, err error) health.Probe {
	return func(context.Context) (health.ProbeResult, error) {
		return result, err
	}
}

// serve 执行请求并解析统一响应
func serve(t *testing.T, e *echo.Echo, method, target string) (int, Response) {
	t.Helper()
	req := httptest.NewRequest(method, target, nil)
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)

	var resp Response
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp), rec.Body.String())
	return rec.Code, resp
}

func newHealthServer(t *testing.T, probes map[string]health.Probe, critical string) *echo.Echo {
	t.Helper()
	m := health.NewMonitor(health.DefaultMonitorConfig(), config.NewNopLogger())
	for name, p := range probes {
		require.NoError(t, m.Register(name, p, name == critical))
	}

	h := NewHealthHandler(m, time.Second)
	e := echo.New()
	e.GET("/health", h.HealthCheck)
	e.GET("/health/components", h.Components)
	e.GET("/health/availability", h.Availability)
	e.GET("/health/alerts", h.Alerts)
	e.GET("/health/components/:component", h.CheckComponent)
	e.GET("/health/components/:component/history", h.History)
	return e
}

func TestHealthCheck_Healthy(t *testing.T) {
	e := newHealthServer(t, map[string]health.Probe{
		"cache": staticProbe(health.Healthy("ok"), nil),
		"ocr":   staticProbe(health.Healthy("ok"), nil),
	}, "cache")

	code, resp := serve(t, e, http.MethodGet, "/health")
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, "healthy", resp.Message)

	data, ok := resp.Data.(map[string]any)
	require.True(t, ok)
	assert.Len(t, data["checks"], 2)
	assert.Contains(t, data, "runtime")
}

func TestHealthCheck_UnhealthyReturns503(t *testing.T) {
	e := newHealthServer(t, map[string]health.Probe{
		"db":  staticProbe(health.ProbeResult{}, errors.New("connection refused")),
		"ocr": staticProbe(health.Healthy("ok"), nil),
	}, "db")

	code, resp := serve(t, e, http.MethodGet, "/health")
	assert.Equal(t, http.StatusServiceUnavailable, code, "关键组件故障时返回503")
	assert.Equal(t, "unhealthy", resp.Message)
}

func TestHealthCheck_DegradedStillOK(t *testing.T) {
	e := newHealthServer(t, map[string]health.Probe{
		"ocr": staticProbe(health.Unhealthy("down"), nil),
	}, "")

	code, resp := serve(t, e, http.MethodGet, "/health")
	assert.Equal(t, http.StatusOK, code, "非关键组件故障只会降级")
	assert.Equal(t, "degraded", resp.Message)
}

func TestHealthHandler_ComponentAndHistory(t *testing.T) {
	e := newHealthServer(t, map[string]health.Probe{
		"cache": staticProbe(health.Healthy("ok"), nil),
	}, "")

	code, resp := serve(t, e, http.MethodGet, "/health/components/cache")
	assert.Equal(t, http.StatusOK, code)
	check, ok := resp.Data.(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "cache", check["component"])

	code, resp = serve(t, e, http.MethodGet, "/health/components/cache/history")
	assert.Equal(t, http.StatusOK, code)
	assert.Len(t, resp.Data, 1)

	code, _ = serve(t, e, http.MethodGet, "/health/components/missing")
	assert.Equal(t, http.StatusNotFound, code)

	code, _ = serve(t, e, http.MethodGet, "/health/components/missing/history")
	assert.Equal(t, http.StatusNotFound, code)

	code, resp = serve(t, e, http.MethodGet, "/health/components")
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, []any{"cache"}, resp.Data)
}

func TestHealthHandler_Availability(t *testing.T) {
	e := newHealthServer(t, map[string]health.Probe{
		"cache": staticProbe(health.Healthy("ok"), nil),
	}, "")

	// 尚无检查记录时可用性为0
	code, resp := serve(t, e, http.MethodGet, "/health/availability?component=cache")
	assert.Equal(t, http.StatusOK, code)
	data := resp.Data.(map[string]any)
	assert.Equal(t, float64(0), data["total_checks"])

	serve(t, e, http.MethodGet, "/health")
	code, resp = serve(t, e, http.MethodGet, "/health/availability?hours=1")
	assert.Equal(t, http.StatusOK, code)
	data = resp.Data.(map[string]any)
	assert.Equal(t, float64(1), data["total_checks"])
	assert.Equal(t, float64(100), data["availability_percent"])

	code, _ = serve(t, e, http.MethodGet, "/health/availability?hours=abc")
	assert.Equal(t, http.StatusBadRequest, code)

	code, _ = serve(t, e, http.MethodGet, "/health/availability?component=missing")
	assert.Equal(t, http.StatusNotFound, code)
}

func TestHealthHandler_Alerts(t *testing.T) {
	e := newHealthServer(t, map[string]health.Probe{
		"db": staticProbe(health.Unhealthy("down"), nil),
	}, "db")

	code, resp := serve(t, e, http.MethodGet, "/health/alerts")
	assert.Equal(t, http.StatusOK, code)
	assert.Empty(t, resp.Data, "没有检查记录时没有告警")

	for i := 0; i < 3; i++ {
		serve(t, e, http.MethodGet, "/health")
	}
	_, resp = serve(t, e, http.MethodGet, "/health/alerts")
	alerts, ok := resp.Data.([]any)
	require.True(t, ok)
	require.Len(t, alerts, 1)
	assert.Equal(t, health.AlertConsecutiveFailures, alerts[0].(map[string]any)["type"])
}

func TestMetricsHandler(t *testing.T) {
	collector := metrics.NewCollector(100, 10)
	collector.Record("ocr", 20*time.Millisecond, http.StatusOK)
	collector.Record("ocr", 40*time.Millisecond, http.StatusInternalServerError)
	collector.Record("layout", 10*time.Millisecond, http.StatusOK)

	h := NewMetricsHandler(collector)
	e := echo.New()
	e.GET("/metrics/stats", h.GetStats)
	e.GET("/metrics/recent", h.GetRecent)
	e.GET("/metrics/endpoints", h.GetEndpoints)

	code, resp := serve(t, e, http.MethodGet, "/metrics/stats")
	assert.Equal(t, http.StatusOK, code)
	stats := resp.Data.(map[string]any)
	assert.Equal(t, float64(3), stats["total_requests"])
	assert.Equal(t, float64(1), stats["error_requests"])

	code, resp = serve(t, e, http.MethodGet, "/metrics/endpoints")
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, []any{"layout", "ocr"}, resp.Data, "端点名称应去重并排序")

	code, resp = serve(t, e, http.MethodGet, "/metrics/recent?n=1")
	assert.Equal(t, http.StatusOK, code)
	assert.Len(t, resp.Data, 1)

	code, _ = serve(t, e, http.MethodGet, "/metrics/recent?n=0")
	assert.Equal(t, http.StatusBadRequest, code)
}

func TestCacheHandler(t *testing.T) {
	store := cache.New(cache.NewMemoryBackend(), cache.DefaultConfig(), config.NewNopLogger())
	ctx := context.Background()
	require.True(t, store.Set(ctx, "ocr", "doc-1", "text", 0, nil))
	require.True(t, store.Set(ctx, "ocr", "doc-2", "text", 0, nil))
	require.True(t, store.Set(ctx, "layout", "doc-1", "boxes", 0, nil))

	h := NewCacheHandler(store)
	e := echo.New()
	e.GET("/cache/stats", h.GetStats)
	e.DELETE("/cache/namespaces/:namespace", h.InvalidateNamespace)

	code, resp := serve(t, e, http.MethodDelete, "/cache/namespaces/ocr")
	assert.Equal(t, http.StatusOK, code)
	data := resp.Data.(map[string]any)
	assert.Equal(t, float64(2), data["removed"])

	var out string
	assert.True(t, store.Get(ctx, "layout", "doc-1", &out, nil), "其他命名空间不受影响")

	code, resp = serve(t, e, http.MethodGet, "/cache/stats")
	assert.Equal(t, http.StatusOK, code)
	stats := resp.Data.(map[string]any)
	assert.Equal(t, true, stats["enabled"])
	assert.Equal(t, float64(1), stats["key_count"])
}

func TestCacheHandler_Disabled(t *testing.T) {
	h := NewCacheHandler(cache.Disabled(config.NewNopLogger()))
	e := echo.New()
	e.DELETE("/cache/namespaces/:namespace", h.InvalidateNamespace)

	code, _ := serve(t, e, http.MethodDelete, "/cache/namespaces/ocr")
	assert.Equal(t, http.StatusServiceUnavailable, code)
}

func TestTaskHandler(t *testing.T) {
	cfg := coordinator.DefaultConfig()
	cfg.Workers = 1
	coord := coordinator.New(cfg, config.NewNopLogger())
	require.NoError(t, coord.Start(context.Background()))
	defer coord.Shutdown(context.Background(), true)

	release := make(chan struct{})
	id, err := coord.SubmitFunc(context.Background(), "ocr", func(ctx context.Context, args ...any) (any, error) {
		<-release
		return "done", nil
	})
	require.NoError(t, err)

	h := NewTaskHandler(coord)
	e := echo.New()
	e.GET("/tasks/stats", h.GetStats)
	e.GET("/tasks/:taskId", h.GetState)

	code, resp := serve(t, e, http.MethodGet, "/tasks/"+id)
	assert.Equal(t, http.StatusOK, code)
	state := resp.Data.(map[string]any)["state"]
	assert.Contains(t, []any{"submitted", "running"}, state)

	close(release)
	result, err := coord.GetResult(context.Background(), id, time.Second)
	require.NoError(t, err)
	assert.True(t, result.Success)

	code, _ = serve(t, e, http.MethodGet, "/tasks/"+id)
	assert.Equal(t, http.StatusNotFound, code, "结果被取走后任务不可查")

	code, resp = serve(t, e, http.MethodGet, "/tasks/stats")
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, float64(1), resp.Data.(map[string]any)["completed"])
}
