package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/ignatzorin/collectibles-backend/internal/dto"
	"github.com/ignatzorin/collectibles-backend/internal/http/handlers/common"
	"github.com/ignatzorin/collectibles-backend/internal/service"
)

// ListingHandler — HTTP слой вторичного рынка: выставление, покупка и
// снятие лотов.
type ListingHandler struct {
	listings *service.ListingService
}

// NewListingHandler создаёт хэндлер.
func NewListingHandler(listings *service.ListingService) *ListingHandler {
	return &ListingHandler{listings: listings}
}

// Create обрабатывает POST /listings.
func (h *ListingHandler) Create(c *gin.Context) {
	userID, ok := common.CurrentUserID(c)
	if !ok {
		common.RespondUnauthorized(c, "")
		return
	}

	var req struct {
		CollectibleID string `json:"collectible_id" binding:"required,uuid"`
		Price         int64  `json:"price" binding:"required,gt=0"`
	}
	if !common.BindAndValidate(c, &req) {
		return
	}

	collectibleID, err := uuid.Parse(req.CollectibleID)
	if err != nil {
		common.RespondBadRequest(c, "collectible_id должен быть валидным UUID")
		return
	}

	listing, err := h.listings.Create(c.Request.Context(), userID, collectibleID, req.Price)
	if err != nil {
		common.RespondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, listing)
}

// List обрабатывает GET /listings.
func (h *ListingHandler) List(c *gin.Context) {
	limit, offset := common.GetPagination(c)

	listings, err := h.listings.ListActive(c.Request.Context(), limit, offset)
	if err != nil {
		common.RespondError(c, err)
		return
	}
	c.JSON(http.StatusOK, dto.NewListResponse(listings, limit, offset))
}

// Get обрабатывает GET /listings/:id.
func (h *ListingHandler) Get(c *gin.Context) {
	id, ok := common.ParseUUIDParam(c, "id")
	if !ok {
		return
	}

	listing, err := h.listings.Get(c.Request.Context(), id)
	if err != nil {
		common.RespondError(c, err)
		return
	}
	c.JSON(http.StatusOK, listing)
}

// Cancel обрабатывает DELETE /listings/:id. Снять лот может только продавец
// и только пока лот не зарезервирован покупателем.
func (h *ListingHandler) Cancel(c *gin.Context) {
	userID, ok := common.CurrentUserID(c)
	if !ok {
		common.RespondUnauthorized(c, "")
		return
	}
	id, ok := common.ParseUUIDParam(c, "id")
	if !ok {
		return
	}

	listing, err := h.listings.Cancel(c.Request.Context(), userID, id)
	if err != nil {
		common.RespondError(c, err)
		return
	}
	c.JSON(http.StatusOK, listing)
}

// Purchase обрабатывает POST /listings/:id/purchase. Покупка за баланс
// аккаунта: резерв лота, списание и постановка обмена в очередь.
func (h *ListingHandler) Purchase(c *gin.Context) {
	userID, ok := common.CurrentUserID(c)
	if !ok {
		common.RespondUnauthorized(c, "")
		return
	}
	id, ok := common.ParseUUIDParam(c, "id")
	if !ok {
		return
	}

	listing, err := h.listings.Purchase(c.Request.Context(), userID, id)
	if err != nil {
		common.RespondError(c, err)
		return
	}
	c.JSON(http.StatusAccepted, listing)
}
