package common

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/ignatzorin/collectibles-backend/internal/dto"
	"github.com/ignatzorin/collectibles-backend/internal/http/middleware"
	"github.com/ignatzorin/collectibles-backend/internal/pkg/apperror"
)

// CurrentUserID extracts the authenticated user ID from gin context.
// Returns uuid.Nil and false if not authenticated.
func CurrentUserID(c *gin.Context) (uuid.UUID, bool) {
	val, exists := c.Get(middleware.ContextUserIDKey)
	if !exists {
		return uuid.Nil, false
	}
	userID, ok := val.(uuid.UUID)
	if !ok || userID == uuid.Nil {
		return uuid.Nil, false
	}
	return userID, true
}

// ParseUUIDParam parses a UUID path parameter.
// Responds with 400 and returns false on failure.
func ParseUUIDParam(c *gin.Context, name string) (uuid.UUID, bool) {
	id, err := uuid.Parse(c.Param(name))
	if err != nil {
		RespondBadRequest(c, "параметр "+name+" должен быть валидным UUID")
		return uuid.Nil, false
	}
	return id, true
}

// BindAndValidate binds JSON body into obj.
// Responds with 400 and returns false on failure.
func BindAndValidate(c *gin.Context, obj any) bool {
	if err := c.ShouldBindJSON(obj); err != nil {
		RespondBadRequest(c, "невалидное тело запроса: "+err.Error())
		return false
	}
	return true
}

// RespondError maps an error to HTTP status and body. AppError carries its
// own status code, anything else is masked as an internal error.
func RespondError(c *gin.Context, err error) {
	var appErr *apperror.AppError
	if errors.As(err, &appErr) {
		c.JSON(appErr.HTTPStatus, dto.ErrorResponse{Error: appErr.Message})
		return
	}
	c.JSON(http.StatusInternalServerError, dto.ErrorResponse{Error: "внутренняя ошибка сервера"})
}

// RespondSuccess sends a success message with optional data.
func RespondSuccess(c *gin.Context, message string, data any) {
	c.JSON(http.StatusOK, dto.SuccessResponse{Message: message, Data: data})
}

// RespondJSON sends raw data with the given status code.
func RespondJSON(c *gin.Context, status int, data any) {
	c.JSON(status, data)
}

// RespondUnauthorized sends 401 with an optional message.
func RespondUnauthorized(c *gin.Context, message string) {
	if message == "" {
		message = "требуется авторизация"
	}
	c.JSON(http.StatusUnauthorized, dto.ErrorResponse{Error: message})
}

// RespondForbidden sends 403 with an optional message.
func RespondForbidden(c *gin.Context, message string) {
	if message == "" {
		message = "нет прав на выполнение операции"
	}
	c.JSON(http.StatusForbidden, dto.ErrorResponse{Error: message})
}

// RespondNotFound sends 404 with an optional message.
func RespondNotFound(c *gin.Context, message string) {
	if message == "" {
		message = "ресурс не найден"
	}
	c.JSON(http.StatusNotFound, dto.ErrorResponse{Error: message})
}

// RespondBadRequest sends 400 with an optional message.
func RespondBadRequest(c *gin.Context, message string) {
	if message == "" {
		message = "невалидный запрос"
	}
	c.JSON(http.StatusBadRequest, dto.ErrorResponse{Error: message})
}

// RespondInternalError sends 500 with a generic message.
func RespondInternalError(c *gin.Context) {
	c.JSON(http.StatusInternalServerError, dto.ErrorResponse{Error: "внутренняя ошибка сервера"})
}

// ParseIntQuery parses an integer query parameter with a default value.
func ParseIntQuery(c *gin.Context, name string, def int) int {
	raw := c.Query(name)
	if raw == "" {
		return def
	}
	val, err := strconv.Atoi(raw)
	if err != nil {
		return def
	}
	return val
}

// GetPagination extracts limit/offset query parameters.
// Default limit is 20, capped at 100.
func GetPagination(c *gin.Context) (limit, offset int) {
	limit = ParseIntQuery(c, "limit", 20)
	if limit <= 0 {
		limit = 20
	}
	if limit > 100 {
		limit = 100
	}
	offset = ParseIntQuery(c, "offset", 0)
	if offset < 0 {
		offset = 0
	}
	return limit, offset
}
