package handler

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/hewenyu/docflow-perf/pkg/health"
	"github.com/labstack/echo/v4"
)

// 可用性查询的默认窗口（小时）
const defaultAvailabilityHours = 24

// HealthResponse 系统健康检查响应
type HealthResponse struct {
	health.SystemStatus
	Runtime RuntimeUsage `json:"runtime"`
}

// HealthHandler 健康检查处理器
type HealthHandler struct {
	monitor *health.Monitor
	timeout time.Duration
}

// NewHealthHandler 创建健康检查处理器，timeout为单次请求的检查上限
func NewHealthHandler(monitor *health.Monitor, timeout time.Duration) *HealthHandler {
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &HealthHandler{
		monitor: monitor,
		timeout: timeout,
	}
}

// HealthCheck 检查所有组件，系统Unhealthy时返回503
func (h *HealthHandler) HealthCheck(c echo.Context) error {
	ctx, cancel := context.WithTimeout(c.Request().Context(), h.timeout)
	defer cancel()

	status := h.monitor.CheckAll(ctx)
	code := http.StatusOK
	if status.Status == health.StatusUnhealthy {
		code = http.StatusServiceUnavailable
	}
	return c.JSON(code, Response{
		Code:    code,
		Message: string(status.Status),
		Data: HealthResponse{
			SystemStatus: status,
			Runtime:      runtimeUsage(),
		},
	})
}

// CheckComponent 检查单个组件
func (h *HealthHandler) CheckComponent(c echo.Context) error {
	ctx, cancel := context.WithTimeout(c.Request().Context(), h.timeout)
	defer cancel()

	check, err := h.monitor.Check(ctx, c.Param("component"))
	if err != nil {
		return componentError(c, err)
	}
	return success(c, check)
}

// History 返回组件的检查历史
func (h *HealthHandler) History(c echo.Context) error {
	history, err := h.monitor.History(c.Param("component"))
	if err != nil {
		return componentError(c, err)
	}
	return success(c, history)
}

// Availability 查询可用性，参数component为空时统计全部组件，hours默认24
func (h *HealthHandler) Availability(c echo.Context) error {
	hours := defaultAvailabilityHours
	if raw := c.QueryParam("hours"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			return failure(c, http.StatusBadRequest, "hours必须是正整数")
		}
		hours = n
	}

	availability, err := h.monitor.Availability(c.QueryParam("component"), time.Duration(hours)*time.Hour)
	if err != nil {
		return componentError(c, err)
	}
	return success(c, availability)
}

// Alerts 返回当前告警
func (h *HealthHandler) Alerts(c echo.Context) error {
	return success(c, h.monitor.Alerts())
}

// Components 返回已注册的组件
func (h *HealthHandler) Components(c echo.Context) error {
	return success(c, h.monitor.Components())
}

func componentError(c echo.Context, err error) error {
	if errors.Is(err, health.ErrComponentNotFound) {
		return failure(c, http.StatusNotFound, err.Error())
	}
	return failure(c, http.StatusInternalServerError, err.Error())
}
