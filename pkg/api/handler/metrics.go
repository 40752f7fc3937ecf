package handler

import (
	"net/http"
	"strconv"

	"github.com/hewenyu/docflow-perf/pkg/metrics"
	"github.com/labstack/echo/v4"
)

// 最近样本默认返回条数
const defaultRecentSamples = 50

// MetricsHandler 请求指标处理器
type MetricsHandler struct {
	collector *metrics.Collector
}

// NewMetricsHandler 创建指标处理器
func NewMetricsHandler(collector *metrics.Collector) *MetricsHandler {
	return &MetricsHandler{collector: collector}
}

// GetStats 返回滚动窗口内的聚合指标
func (h *MetricsHandler) GetStats(c echo.Context) error {
	return success(c, h.collector.Stats())
}

// GetEndpoints 返回最近样本中出现过的端点
func (h *MetricsHandler) GetEndpoints(c echo.Context) error {
	return success(c, h.collector.EndpointNames())
}

// GetRecent 返回最近的请求样本，参数n默认50
func (h *MetricsHandler) GetRecent(c echo.Context) error {
	n := defaultRecentSamples
	if raw := c.QueryParam("n"); raw != "" {
		v, err := strconv.Atoi(raw)
		if err != nil || v <= 0 {
			return failure(c, http.StatusBadRequest, "n必须是正整数")
		}
		n = v
	}
	return success(c, h.collector.Recent(n))
}
