package router

import (
	"github.com/hewenyu/docflow-perf/pkg/api/handler"
	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Handlers 运维API用到的处理器
type Handlers struct {
	Health  *handler.HealthHandler
	Metrics *handler.MetricsHandler
	Cache   *handler.CacheHandler
	Tasks   *handler.TaskHandler
}

// RegisterOpsRoutes 配置运维API路由，gatherer非空时在/metrics暴露prometheus指标
func RegisterOpsRoutes(e *echo.Echo, h Handlers, gatherer prometheus.Gatherer) {
	if gatherer != nil {
		e.GET("/metrics", echo.WrapHandler(promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})))
	}

	// API分组，版本v1
	api := e.Group("/api/v1")

	// 健康检查相关路由
	api.GET("/health", h.Health.HealthCheck)                           // 全量检查
	api.GET("/health/components", h.Health.Components)                 // 已注册组件
	api.GET("/health/availability", h.Health.Availability)             // 可用性统计
	api.GET("/health/alerts", h.Health.Alerts)                         // 当前告警
	api.GET("/health/components/:component", h.Health.CheckComponent)  // 单组件检查
	api.GET("/health/components/:component/history", h.Health.History) // 检查历史

	// 请求指标相关路由
	api.GET("/metrics/stats", h.Metrics.GetStats)         // 聚合指标
	api.GET("/metrics/recent", h.Metrics.GetRecent)       // 最近样本
	api.GET("/metrics/endpoints", h.Metrics.GetEndpoints) // 端点列表

	// 缓存相关路由
	api.GET("/cache/stats", h.Cache.GetStats)                               // 缓存统计
	api.DELETE("/cache/namespaces/:namespace", h.Cache.InvalidateNamespace) // 命名空间失效

	// 任务相关路由
	api.GET("/tasks/stats", h.Tasks.GetStats)   // worker池统计
	api.GET("/tasks/:taskId", h.Tasks.GetState) // 任务状态
}
