package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/ignatzorin/collectibles-backend/internal/dto"
	"github.com/ignatzorin/collectibles-backend/internal/http/handlers/common"
	"github.com/ignatzorin/collectibles-backend/internal/jobs"
)

// AdminJobsHandler — операторский доступ к dead-letter очереди фоновых задач.
type AdminJobsHandler struct {
	queue *jobs.Queue
}

// NewAdminJobsHandler создаёт хэндлер.
func NewAdminJobsHandler(queue *jobs.Queue) *AdminJobsHandler {
	return &AdminJobsHandler{queue: queue}
}

// ListDead обрабатывает GET /admin/jobs/dead.
func (h *AdminJobsHandler) ListDead(c *gin.Context) {
	limit, offset := common.GetPagination(c)

	dead, err := h.queue.ListDead(c.Request.Context(), limit, offset)
	if err != nil {
		common.RespondInternalError(c)
		return
	}
	c.JSON(http.StatusOK, dto.NewListResponse(dead, limit, offset))
}

// Revive обрабатывает POST /admin/jobs/:id/revive.
func (h *AdminJobsHandler) Revive(c *gin.Context) {
	id, ok := common.ParseUUIDParam(c, "id")
	if !ok {
		return
	}

	if err := h.queue.Revive(c.Request.Context(), id); err != nil {
		common.RespondBadRequest(c, "задача не найдена среди dead")
		return
	}
	common.RespondSuccess(c, "задача возвращена в очередь", nil)
}
