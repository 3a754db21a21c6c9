package handlers

import (
	"io"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/ignatzorin/collectibles-backend/internal/http/handlers/common"
	"github.com/ignatzorin/collectibles-backend/internal/service"
)

// VerificationHandler — приём документов проверки личности.
type VerificationHandler struct {
	verification *service.VerificationService
	maxUploadMB  int64
}

// NewVerificationHandler создаёт хэндлер.
func NewVerificationHandler(verification *service.VerificationService, maxUploadMB int64) *VerificationHandler {
	return &VerificationHandler{verification: verification, maxUploadMB: maxUploadMB}
}

// SubmitDocument обрабатывает POST /verification/documents.
// Принимает multipart форму с полями doc_type и file.
func (h *VerificationHandler) SubmitDocument(c *gin.Context) {
	userID, ok := common.CurrentUserID(c)
	if !ok {
		common.RespondUnauthorized(c, "")
		return
	}

	docType := c.PostForm("doc_type")
	if docType == "" {
		common.RespondBadRequest(c, "поле doc_type обязательно")
		return
	}

	fileHeader, err := c.FormFile("file")
	if err != nil {
		common.RespondBadRequest(c, "файл документа обязателен")
		return
	}
	if fileHeader.Size > h.maxUploadMB*1024*1024 {
		common.RespondBadRequest(c, "файл слишком большой")
		return
	}

	file, err := fileHeader.Open()
	if err != nil {
		common.RespondInternalError(c)
		return
	}
	defer file.Close()

	data, err := io.ReadAll(io.LimitReader(file, h.maxUploadMB*1024*1024+1))
	if err != nil {
		common.RespondInternalError(c)
		return
	}

	doc, err := h.verification.SubmitDocument(c.Request.Context(), userID, docType, data)
	if err != nil {
		common.RespondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, doc)
}

// ListDocuments обрабатывает GET /verification/documents.
func (h *VerificationHandler) ListDocuments(c *gin.Context) {
	userID, ok := common.CurrentUserID(c)
	if !ok {
		common.RespondUnauthorized(c, "")
		return
	}

	docs, err := h.verification.Documents(c.Request.Context(), userID)
	if err != nil {
		common.RespondError(c, err)
		return
	}
	c.JSON(http.StatusOK, docs)
}

// Review обрабатывает POST /admin/verification/:userId/review.
func (h *VerificationHandler) Review(c *gin.Context) {
	userID, ok := common.ParseUUIDParam(c, "userId")
	if !ok {
		return
	}

	var req struct {
		Approve *bool `json:"approve" binding:"required"`
	}
	if !common.BindAndValidate(c, &req) {
		return
	}

	if err := h.verification.Review(c.Request.Context(), userID, *req.Approve); err != nil {
		common.RespondError(c, err)
		return
	}
	common.RespondSuccess(c, "решение сохранено", nil)
}
