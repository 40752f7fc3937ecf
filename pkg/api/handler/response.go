package handler

import (
	"fmt"
	"net/http"
	"runtime"

	"github.com/labstack/echo/v4"
)

// Response 运维API统一响应
type Response struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Data    any    `json:"data,omitempty"`
}

func success(c echo.Context, data any) error {
	return c.JSON(http.StatusOK, Response{
		Code:    http.StatusOK,
		Message: "success",
		Data:    data,
	})
}

func failure(c echo.Context, code int, msg string) error {
	return c.JSON(code, Response{
		Code:    code,
		Message: msg,
	})
}

// RuntimeUsage 进程运行时资源
type RuntimeUsage struct {
	HeapAlloc  string `json:"heap_alloc"`
	Sys        string `json:"sys"`
	NumGC      uint32 `json:"num_gc"`
	Goroutines int    `json:"goroutines"`
}

func runtimeUsage() RuntimeUsage {
	var ms runtime.MemStats
	runtime.ReadMemStats(&ms)
	return RuntimeUsage{
		HeapAlloc:  formatBytes(ms.HeapAlloc),
		Sys:        formatBytes(ms.Sys),
		NumGC:      ms.NumGC,
		Goroutines: runtime.NumGoroutine(),
	}
}

// formatBytes 将字节数格式化为可读形式
func formatBytes(bytes uint64) string {
	const unit = 1024
	if bytes < unit {
		return fmt.Sprintf("%d B", bytes)
	}
	div, exp := uint64(unit), 0
	for n := bytes / unit; n >= unit; n /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.2f %cB", float64(bytes)/float64(div), "KMGTPE"[exp])
}
