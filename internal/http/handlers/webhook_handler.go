package handlers

import (
	"io"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/ignatzorin/collectibles-backend/internal/http/handlers/common"
	"github.com/ignatzorin/collectibles-backend/internal/service"
)

// Заголовок подписи уведомлений процессора.
const signatureHeader = "X-Signature"

// WebhookHandler принимает уведомления платёжного процессора.
type WebhookHandler struct {
	reconcile *service.ReconcileService
}

// NewWebhookHandler создаёт хэндлер.
func NewWebhookHandler(reconcile *service.ReconcileService) *WebhookHandler {
	return &WebhookHandler{reconcile: reconcile}
}

// Handle обрабатывает POST /webhooks/processor. Подпись проверяется по
// сырому телу до разбора JSON.
func (h *WebhookHandler) Handle(c *gin.Context) {
	body, err := io.ReadAll(io.LimitReader(c.Request.Body, 1<<20))
	if err != nil {
		common.RespondBadRequest(c, "не удалось прочитать тело запроса")
		return
	}

	if err := h.reconcile.VerifySignature(body, c.GetHeader(signatureHeader)); err != nil {
		common.RespondError(c, err)
		return
	}

	if err := h.reconcile.HandleEnvelope(c.Request.Context(), body); err != nil {
		common.RespondError(c, err)
		return
	}
	c.Status(http.StatusOK)
}
