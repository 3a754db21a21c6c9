package handlers

import (
	"encoding/base64"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/ignatzorin/collectibles-backend/internal/dto"
	"github.com/ignatzorin/collectibles-backend/internal/http/handlers/common"
	"github.com/ignatzorin/collectibles-backend/internal/service"
)

// PaymentHandler — HTTP слой платежей: карты, оплата паков и лотов,
// пополнение баланса.
type PaymentHandler struct {
	payments *service.PaymentService
}

// NewPaymentHandler создаёт хэндлер.
func NewPaymentHandler(payments *service.PaymentService) *PaymentHandler {
	return &PaymentHandler{payments: payments}
}

// RegisterCard обрабатывает POST /payments/cards. Карта уже токенизирована
// на стороне процессинга, сюда приходит только её внешний идентификатор.
func (h *PaymentHandler) RegisterCard(c *gin.Context) {
	userID, ok := common.CurrentUserID(c)
	if !ok {
		common.RespondUnauthorized(c, "")
		return
	}

	var req struct {
		ExternalID string `json:"external_id" binding:"required"`
		Last4      string `json:"last4" binding:"required,len=4"`
		Network    string `json:"network" binding:"required"`
	}
	if !common.BindAndValidate(c, &req) {
		return
	}

	card, err := h.payments.RegisterCard(c.Request.Context(), userID, req.ExternalID, req.Last4, req.Network)
	if err != nil {
		common.RespondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, card)
}

// CheckoutPack обрабатывает POST /payments/checkout/pack.
func (h *PaymentHandler) CheckoutPack(c *gin.Context) {
	userID, ok := common.CurrentUserID(c)
	if !ok {
		common.RespondUnauthorized(c, "")
		return
	}

	var req struct {
		PackID       string `json:"pack_id" binding:"required,uuid"`
		CardID       string `json:"card_id" binding:"required,uuid"`
		Verification string `json:"verification"`
	}
	if !common.BindAndValidate(c, &req) {
		return
	}

	packID, _ := uuid.Parse(req.PackID)
	cardID, _ := uuid.Parse(req.CardID)

	payment, err := h.payments.CheckoutPack(c.Request.Context(), userID, packID, cardID, req.Verification)
	if err != nil {
		common.RespondError(c, err)
		return
	}
	c.JSON(http.StatusAccepted, payment)
}

// CheckoutListing обрабатывает POST /payments/checkout/listing. Оплата лота
// картой: кредиты зачисляются после подтверждения платежа, затем запускается
// покупка на рынке.
func (h *PaymentHandler) CheckoutListing(c *gin.Context) {
	userID, ok := common.CurrentUserID(c)
	if !ok {
		common.RespondUnauthorized(c, "")
		return
	}

	var req struct {
		ListingID    string `json:"listing_id" binding:"required,uuid"`
		CardID       string `json:"card_id" binding:"required,uuid"`
		Verification string `json:"verification"`
	}
	if !common.BindAndValidate(c, &req) {
		return
	}

	listingID, _ := uuid.Parse(req.ListingID)
	cardID, _ := uuid.Parse(req.CardID)

	payment, err := h.payments.CheckoutListing(c.Request.Context(), userID, listingID, cardID, req.Verification)
	if err != nil {
		common.RespondError(c, err)
		return
	}
	c.JSON(http.StatusAccepted, payment)
}

// Deposit обрабатывает POST /payments/deposit.
func (h *PaymentHandler) Deposit(c *gin.Context) {
	userID, ok := common.CurrentUserID(c)
	if !ok {
		common.RespondUnauthorized(c, "")
		return
	}

	var req struct {
		CardID       string `json:"card_id" binding:"required,uuid"`
		Amount       int64  `json:"amount" binding:"required,gt=0"`
		Verification string `json:"verification"`
	}
	if !common.BindAndValidate(c, &req) {
		return
	}

	cardID, _ := uuid.Parse(req.CardID)

	payment, err := h.payments.Deposit(c.Request.Context(), userID, cardID, req.Amount, req.Verification)
	if err != nil {
		common.RespondError(c, err)
		return
	}
	c.JSON(http.StatusAccepted, payment)
}

// DepositStablecoin обрабатывает POST /payments/deposit/stablecoin.
// Принимает подписанную транзакцию в base64 и отправляет её в сеть.
func (h *PaymentHandler) DepositStablecoin(c *gin.Context) {
	userID, ok := common.CurrentUserID(c)
	if !ok {
		common.RespondUnauthorized(c, "")
		return
	}

	var req struct {
		SignedTransaction string `json:"signed_transaction" binding:"required"`
	}
	if !common.BindAndValidate(c, &req) {
		return
	}

	blob, err := base64.StdEncoding.DecodeString(req.SignedTransaction)
	if err != nil {
		common.RespondBadRequest(c, "signed_transaction должен быть в base64")
		return
	}

	payment, err := h.payments.DepositStablecoin(c.Request.Context(), userID, blob)
	if err != nil {
		common.RespondError(c, err)
		return
	}
	c.JSON(http.StatusAccepted, payment)
}

// Get обрабатывает GET /payments/:id.
func (h *PaymentHandler) Get(c *gin.Context) {
	userID, ok := common.CurrentUserID(c)
	if !ok {
		common.RespondUnauthorized(c, "")
		return
	}
	id, ok := common.ParseUUIDParam(c, "id")
	if !ok {
		return
	}

	payment, err := h.payments.Get(c.Request.Context(), id)
	if err != nil {
		common.RespondError(c, err)
		return
	}
	if payment.PayerID != userID {
		common.RespondNotFound(c, "платёж не найден")
		return
	}
	c.JSON(http.StatusOK, payment)
}

// List обрабатывает GET /payments.
func (h *PaymentHandler) List(c *gin.Context) {
	userID, ok := common.CurrentUserID(c)
	if !ok {
		common.RespondUnauthorized(c, "")
		return
	}
	limit, offset := common.GetPagination(c)

	payments, err := h.payments.List(c.Request.Context(), userID, limit, offset)
	if err != nil {
		common.RespondError(c, err)
		return
	}
	c.JSON(http.StatusOK, dto.NewListResponse(payments, limit, offset))
}

// Cancel обрабатывает POST /payments/:id/cancel.
func (h *PaymentHandler) Cancel(c *gin.Context) {
	userID, ok := common.CurrentUserID(c)
	if !ok {
		common.RespondUnauthorized(c, "")
		return
	}
	id, ok := common.ParseUUIDParam(c, "id")
	if !ok {
		return
	}

	payment, err := h.payments.Cancel(c.Request.Context(), userID, id)
	if err != nil {
		common.RespondError(c, err)
		return
	}
	c.JSON(http.StatusOK, payment)
}
