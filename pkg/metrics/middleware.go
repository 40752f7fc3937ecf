package metrics

import (
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
)

// Middleware 返回记录每个请求耗时与状态码的echo中间件
func (c *Collector) Middleware() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(ctx echo.Context) error {
			start := time.Now()
			err := next(ctx)

			status := ctx.Response().Status
			if err != nil {
				// 错误尚未写入响应，按echo的错误类型推断状态码
				if he, ok := err.(*echo.HTTPError); ok {
					status = he.Code
				} else {
					status = http.StatusInternalServerError
				}
			}

			endpoint := ctx.Path()
			if endpoint == "" {
				endpoint = ctx.Request().URL.Path
			}
			c.Record(ctx.Request().Method+" "+endpoint, time.Since(start), status)
			return err
		}
	}
}
