package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/ignatzorin/collectibles-backend/internal/dto"
	"github.com/ignatzorin/collectibles-backend/internal/http/handlers/common"
	"github.com/ignatzorin/collectibles-backend/internal/service"
)

// BalanceHandler — доступный баланс и история движений по счёту.
type BalanceHandler struct {
	ledger *service.LedgerService
}

// NewBalanceHandler создаёт хэндлер.
func NewBalanceHandler(ledger *service.LedgerService) *BalanceHandler {
	return &BalanceHandler{ledger: ledger}
}

// Available обрабатывает GET /balance.
func (h *BalanceHandler) Available(c *gin.Context) {
	userID, ok := common.CurrentUserID(c)
	if !ok {
		common.RespondUnauthorized(c, "")
		return
	}

	available, err := h.ledger.AvailableBalance(c.Request.Context(), userID)
	if err != nil {
		common.RespondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"available": available})
}

// History обрабатывает GET /balance/history.
func (h *BalanceHandler) History(c *gin.Context) {
	userID, ok := common.CurrentUserID(c)
	if !ok {
		common.RespondUnauthorized(c, "")
		return
	}
	limit, offset := common.GetPagination(c)

	transfers, err := h.ledger.History(c.Request.Context(), userID, limit, offset)
	if err != nil {
		common.RespondError(c, err)
		return
	}
	c.JSON(http.StatusOK, dto.NewListResponse(transfers, limit, offset))
}
