package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/ignatzorin/collectibles-backend/internal/dto"
	"github.com/ignatzorin/collectibles-backend/internal/http/handlers/common"
	"github.com/ignatzorin/collectibles-backend/internal/service"
)

// PayoutHandler — HTTP слой вывода средств: банковские реквизиты, вывод
// переводом и в стейблкоинах.
type PayoutHandler struct {
	payouts *service.PayoutService
}

// NewPayoutHandler создаёт хэндлер.
func NewPayoutHandler(payouts *service.PayoutService) *PayoutHandler {
	return &PayoutHandler{payouts: payouts}
}

// CreateBankAccount обрабатывает POST /payouts/bank-accounts.
func (h *PayoutHandler) CreateBankAccount(c *gin.Context) {
	userID, ok := common.CurrentUserID(c)
	if !ok {
		common.RespondUnauthorized(c, "")
		return
	}

	var req struct {
		AccountNumber string `json:"account_number" binding:"required"`
		RoutingNumber string `json:"routing_number" binding:"required"`
		Description   string `json:"description"`
	}
	if !common.BindAndValidate(c, &req) {
		return
	}

	account, err := h.payouts.CreateBankAccount(c.Request.Context(), userID, req.AccountNumber, req.RoutingNumber, req.Description)
	if err != nil {
		common.RespondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, account)
}

// RequestWire обрабатывает POST /payouts/wire.
func (h *PayoutHandler) RequestWire(c *gin.Context) {
	userID, ok := common.CurrentUserID(c)
	if !ok {
		common.RespondUnauthorized(c, "")
		return
	}

	var req struct {
		Amount        int64  `json:"amount" binding:"required,gt=0"`
		BankAccountID string `json:"bank_account_id" binding:"required,uuid"`
	}
	if !common.BindAndValidate(c, &req) {
		return
	}

	bankAccountID, _ := uuid.Parse(req.BankAccountID)

	payout, err := h.payouts.RequestWire(c.Request.Context(), userID, req.Amount, bankAccountID)
	if err != nil {
		common.RespondError(c, err)
		return
	}
	c.JSON(http.StatusAccepted, payout)
}

// RequestCrypto обрабатывает POST /payouts/crypto.
func (h *PayoutHandler) RequestCrypto(c *gin.Context) {
	userID, ok := common.CurrentUserID(c)
	if !ok {
		common.RespondUnauthorized(c, "")
		return
	}

	var req struct {
		Amount             int64  `json:"amount" binding:"required,gt=0"`
		DestinationAddress string `json:"destination_address" binding:"required"`
	}
	if !common.BindAndValidate(c, &req) {
		return
	}

	payout, err := h.payouts.RequestCrypto(c.Request.Context(), userID, req.Amount, req.DestinationAddress)
	if err != nil {
		common.RespondError(c, err)
		return
	}
	c.JSON(http.StatusAccepted, payout)
}

// Get обрабатывает GET /payouts/:id.
func (h *PayoutHandler) Get(c *gin.Context) {
	userID, ok := common.CurrentUserID(c)
	if !ok {
		common.RespondUnauthorized(c, "")
		return
	}
	id, ok := common.ParseUUIDParam(c, "id")
	if !ok {
		return
	}

	payout, err := h.payouts.Get(c.Request.Context(), id)
	if err != nil {
		common.RespondError(c, err)
		return
	}
	if payout.UserID != userID {
		common.RespondNotFound(c, "вывод не найден")
		return
	}
	c.JSON(http.StatusOK, payout)
}

// List обрабатывает GET /payouts.
func (h *PayoutHandler) List(c *gin.Context) {
	userID, ok := common.CurrentUserID(c)
	if !ok {
		common.RespondUnauthorized(c, "")
		return
	}
	limit, offset := common.GetPagination(c)

	payouts, err := h.payouts.List(c.Request.Context(), userID, limit, offset)
	if err != nil {
		common.RespondError(c, err)
		return
	}
	c.JSON(http.StatusOK, dto.NewListResponse(payouts, limit, offset))
}
