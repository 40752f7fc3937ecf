package sdk

import (
	"context"
	"net/http"
	"net/url"
	"strconv"

	"github.com/hewenyu/docflow-perf/pkg/cache"
	"github.com/hewenyu/docflow-perf/pkg/coordinator"
	"github.com/hewenyu/docflow-perf/pkg/health"
	"github.com/hewenyu/docflow-perf/pkg/metrics"
)

// Health 查询系统健康状态，系统不健康时同样返回结果
func (c *Client) Health(ctx context.Context) (health.SystemStatus, error) {
	var status health.SystemStatus
	_, err := c.doRequest(ctx, http.MethodGet, "/api/v1/health", &status, http.StatusServiceUnavailable)
	return status, err
}

// Alerts 查询当前告警
func (c *Client) Alerts(ctx context.Context) ([]health.Alert, error) {
	var alerts []health.Alert
	_, err := c.doRequest(ctx, http.MethodGet, "/api/v1/health/alerts", &alerts)
	return alerts, err
}

// Availability 查询可用性，component为空时统计全部组件
func (c *Client) Availability(ctx context.Context, component string, hours int) (health.Availability, error) {
	q := url.Values{}
	if component != "" {
		q.Set("component", component)
	}
	if hours > 0 {
		q.Set("hours", strconv.Itoa(hours))
	}
	path := "/api/v1/health/availability"
	if len(q) > 0 {
		path += "?" + q.Encode()
	}

	var availability health.Availability
	_, err := c.doRequest(ctx, http.MethodGet, path, &availability)
	return availability, err
}

// MetricsStats 查询请求指标
func (c *Client) MetricsStats(ctx context.Context) (metrics.Stats, error) {
	var stats metrics.Stats
	_, err := c.doRequest(ctx, http.MethodGet, "/api/v1/metrics/stats", &stats)
	return stats, err
}

// CacheStats 查询缓存统计
func (c *Client) CacheStats(ctx context.Context) (cache.Stats, error) {
	var stats cache.Stats
	_, err := c.doRequest(ctx, http.MethodGet, "/api/v1/cache/stats", &stats)
	return stats, err
}

// InvalidateNamespace 清空命名空间缓存，返回删除的条目数
func (c *Client) InvalidateNamespace(ctx context.Context, namespace string) (int, error) {
	var result struct {
		Removed int `json:"removed"`
	}
	_, err := c.doRequest(ctx, http.MethodDelete, "/api/v1/cache/namespaces/"+url.PathEscape(namespace), &result)
	return result.Removed, err
}

// TaskStats 查询worker池统计
func (c *Client) TaskStats(ctx context.Context) (coordinator.Stats, error) {
	var stats coordinator.Stats
	_, err := c.doRequest(ctx, http.MethodGet, "/api/v1/tasks/stats", &stats)
	return stats, err
}
