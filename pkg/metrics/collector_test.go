package metrics

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCollector_RingBufferDropsOldest(t *testing.T) {
	c := NewCollector(5, 5)

	for i := 0; i < 8; i++ {
		c.Record(fmt.Sprintf("/ep/%d", i), time.Duration(i)*time.Millisecond, 200)
	}

	assert.Equal(t, 5, c.Len(), "缓冲长度不应超过容量")
	recent := c.Recent(10)
	require.Len(t, recent, 5)
	assert.Equal(t, "/ep/3", recent[0].Endpoint, "最旧的样本应被丢弃")
	assert.Equal(t, "/ep/7", recent[4].Endpoint)

	// 生命周期计数不受容量限制
	assert.Equal(t, int64(8), c.Stats().TotalRequests)
}

func TestCollector_StatsWindowSeparateFromLifetime(t *testing.T) {
	c := NewCollector(1000, 4)

	// 早期的错误请求在窗口外
	c.Record("/ocr", 100*time.Millisecond, 500)
	c.Record("/ocr", 100*time.Millisecond, 404)
	for i := 0; i < 4; i++ {
		c.Record("/embed", 10*time.Millisecond, 200)
	}

	stats := c.Stats()
	assert.Equal(t, int64(6), stats.TotalRequests)
	assert.Equal(t, int64(2), stats.ErrorRequests)
	assert.InDelta(t, 2.0/6.0, stats.LifetimeErrorRate, 1e-9)
	assert.Equal(t, 4, stats.WindowSize)
	assert.InDelta(t, 10.0, stats.AvgDurationMS, 1e-9)
	assert.Equal(t, 0.0, stats.WindowErrorRate)
	assert.Equal(t, EndpointStats{Requests: 4, AvgDurationMS: 10}, stats.Endpoints["/embed"])
	assert.NotContains(t, stats.Endpoints, "/ocr")
}

func TestCollector_WindowErrorRate(t *testing.T) {
	c := NewCollector(10, 10)
	c.Record("/a", 20*time.Millisecond, 200)
	c.Record("/a", 40*time.Millisecond, 503)
	c.Record("/b", 30*time.Millisecond, 399)
	c.Record("/b", 10*time.Millisecond, 400)

	stats := c.Stats()
	assert.InDelta(t, 0.5, stats.WindowErrorRate, 1e-9)
	assert.InDelta(t, 25.0, stats.AvgDurationMS, 1e-9)
	assert.Equal(t, 1, stats.Endpoints["/a"].Errors)
	assert.InDelta(t, 30.0, stats.Endpoints["/a"].AvgDurationMS, 1e-9)
	assert.Equal(t, []string{"/a", "/b"}, c.EndpointNames())
}

func TestCollector_EmptyStats(t *testing.T) {
	stats := NewCollector(0, 0).Stats()
	assert.Equal(t, int64(0), stats.TotalRequests)
	assert.Equal(t, 0, stats.WindowSize)
	assert.Equal(t, 0.0, stats.AvgDurationMS)
}

func TestCollector_PrometheusExport(t *testing.T) {
	c := NewCollector(10, 10)
	reg := prometheus.NewRegistry()
	require.NoError(t, c.Register(reg))

	c.Record("/score", time.Millisecond, 200)
	c.Record("/score", time.Millisecond, 201)
	c.Record("/score", time.Millisecond, 502)

	assert.Equal(t, 2.0, testutil.ToFloat64(c.requests.WithLabelValues("/score", "2xx")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.requests.WithLabelValues("/score", "5xx")))

	// 重复注册应失败
	assert.Error(t, c.Register(reg))
}

func TestTimed(t *testing.T) {
	c := NewCollector(10, 10)

	ok := Timed(c, "job:ok", func(ctx context.Context) error { return nil })
	fail := Timed(c, "job:fail", func(ctx context.Context) error { return errors.New("bad page") })

	require.NoError(t, ok(context.Background()))
	require.EqualError(t, fail(context.Background()), "bad page")

	recent := c.Recent(2)
	require.Len(t, recent, 2)
	assert.Equal(t, 200, recent[0].StatusCode)
	assert.Equal(t, 500, recent[1].StatusCode)
	assert.Equal(t, int64(1), c.Stats().ErrorRequests)
}

func TestMiddleware(t *testing.T) {
	c := NewCollector(10, 10)
	e := echo.New()
	e.Use(c.Middleware())
	e.GET("/documents/:id", func(ctx echo.Context) error {
		return ctx.String(http.StatusOK, "ok")
	})
	e.GET("/broken", func(ctx echo.Context) error {
		return echo.NewHTTPError(http.StatusBadGateway, "upstream")
	})

	for _, path := range []string{"/documents/1", "/documents/2", "/broken"} {
		req := httptest.NewRequest(http.MethodGet, path, nil)
		rec := httptest.NewRecorder()
		e.ServeHTTP(rec, req)
	}

	stats := c.Stats()
	assert.Equal(t, int64(3), stats.TotalRequests)
	assert.Equal(t, int64(1), stats.ErrorRequests)
	assert.Equal(t, 2, stats.Endpoints["GET /documents/:id"].Requests, "应按路由模板聚合")
	assert.Equal(t, 1, stats.Endpoints["GET /broken"].Errors)
}

func TestCollector_ConcurrentRecord(t *testing.T) {
	c := NewCollector(100, 50)
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 50; j++ {
				c.Record("/x", time.Millisecond, 200)
				_ = c.Stats()
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, int64(1000), c.Stats().TotalRequests)
	assert.Equal(t, 100, c.Len())
}
