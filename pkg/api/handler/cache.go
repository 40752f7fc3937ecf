package handler

import (
	"net/http"

	"github.com/hewenyu/docflow-perf/pkg/cache"
	"github.com/labstack/echo/v4"
)

// InvalidateResponse 命名空间失效结果
type InvalidateResponse struct {
	Namespace string `json:"namespace"`
	Removed   int    `json:"removed"`
}

// CacheHandler 缓存运维处理器
type CacheHandler struct {
	store *cache.Store
}

// NewCacheHandler 创建缓存处理器
func NewCacheHandler(store *cache.Store) *CacheHandler {
	return &CacheHandler{store: store}
}

// GetStats 返回缓存命中率与后端用量
func (h *CacheHandler) GetStats(c echo.Context) error {
	return success(c, h.store.Stats(c.Request().Context()))
}

// InvalidateNamespace 删除命名空间下的全部缓存
func (h *CacheHandler) InvalidateNamespace(c echo.Context) error {
	ns := c.Param("namespace")
	if ns == "" {
		return failure(c, http.StatusBadRequest, "命名空间不能为空")
	}
	if !h.store.Enabled() {
		return failure(c, http.StatusServiceUnavailable, "缓存未启用")
	}
	return success(c, InvalidateResponse{
		Namespace: ns,
		Removed:   h.store.InvalidateNamespace(c.Request().Context(), ns),
	})
}
