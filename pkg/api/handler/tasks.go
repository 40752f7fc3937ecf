package handler

import (
	"net/http"

	"github.com/hewenyu/docflow-perf/pkg/coordinator"
	"github.com/labstack/echo/v4"
)

// TaskStateResponse 任务状态
type TaskStateResponse struct {
	TaskID string `json:"task_id"`
	State  string `json:"state"`
}

// TaskHandler 任务协调器处理器
type TaskHandler struct {
	coordinator *coordinator.Coordinator
}

// NewTaskHandler 创建任务处理器
func NewTaskHandler(c *coordinator.Coordinator) *TaskHandler {
	return &TaskHandler{coordinator: c}
}

// GetStats 返回worker池统计
func (h *TaskHandler) GetStats(c echo.Context) error {
	return success(c, h.coordinator.Stats())
}

// GetState 查询任务状态，结果被取走后任务不再可查
func (h *TaskHandler) GetState(c echo.Context) error {
	id := c.Param("taskId")
	state, ok := h.coordinator.State(id)
	if !ok {
		return failure(c, http.StatusNotFound, coordinator.ErrTaskNotFound.Error())
	}
	return success(c, TaskStateResponse{TaskID: id, State: state.String()})
}
