package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/ignatzorin/collectibles-backend/internal/dto"
	"github.com/ignatzorin/collectibles-backend/internal/http/handlers/common"
	"github.com/ignatzorin/collectibles-backend/internal/service"
)

// CollectibleHandler — выдача коллекционных предметов и истории владения.
type CollectibleHandler struct {
	listings *service.ListingService
}

// NewCollectibleHandler создаёт хэндлер.
func NewCollectibleHandler(listings *service.ListingService) *CollectibleHandler {
	return &CollectibleHandler{listings: listings}
}

// ListMine обрабатывает GET /collectibles/my.
func (h *CollectibleHandler) ListMine(c *gin.Context) {
	userID, ok := common.CurrentUserID(c)
	if !ok {
		common.RespondUnauthorized(c, "")
		return
	}
	limit, offset := common.GetPagination(c)

	items, err := h.listings.Collectibles(c.Request.Context(), userID, limit, offset)
	if err != nil {
		common.RespondError(c, err)
		return
	}
	c.JSON(http.StatusOK, dto.NewListResponse(items, limit, offset))
}

// History обрабатывает GET /collectibles/:id/history.
func (h *CollectibleHandler) History(c *gin.Context) {
	id, ok := common.ParseUUIDParam(c, "id")
	if !ok {
		return
	}

	records, err := h.listings.OwnershipHistory(c.Request.Context(), id)
	if err != nil {
		common.RespondError(c, err)
		return
	}
	c.JSON(http.StatusOK, records)
}
