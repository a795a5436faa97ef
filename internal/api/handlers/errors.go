package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/rail-service/bridge_core/internal/domain/entities"
	domainerrors "github.com/rail-service/bridge_core/internal/domain/errors"
)

// Error codes as constants for consistent error responses across handlers
const (
	ErrCodeInvalidRequest     = "INVALID_REQUEST"
	ErrCodeNotFound           = "NOT_FOUND"
	ErrCodeConflict           = "CONFLICT"
	ErrCodeInternalError      = "INTERNAL_ERROR"
	ErrCodeServiceUnavailable = "SERVICE_UNAVAILABLE"
)

// Error messages as constants for consistency
const (
	MsgInvalidRequest     = "Invalid request payload"
	MsgInternalError      = "Internal server error"
	MsgServiceUnavailable = "Service temporarily unavailable"
)

// SendBadRequest sends a 400 Bad Request error
func SendBadRequest(c *gin.Context, code, message string, details ...map[string]interface{}) {
	var det map[string]interface{}
	if len(details) > 0 {
		det = details[0]
	}
	c.JSON(http.StatusBadRequest, entities.ErrorResponse{
		Code:    code,
		Message: message,
		Details: det,
	})
}

// SendSuccess sends a 200 OK response with data
func SendSuccess(c *gin.Context, data interface{}) {
	c.JSON(http.StatusOK, data)
}

// SendCreated sends a 201 Created response with data
func SendCreated(c *gin.Context, data interface{}) {
	c.JSON(http.StatusCreated, data)
}

// statusFor maps a domain error onto an HTTP status
func statusFor(err error) int {
	switch {
	case domainerrors.IsInvalidInput(err):
		return http.StatusBadRequest
	case domainerrors.IsNotFound(err):
		return http.StatusNotFound
	case errors.Is(err, domainerrors.ErrUnknownValidator), errors.Is(err, domainerrors.ErrInvalidSignature):
		return http.StatusUnprocessableEntity
	case errors.Is(err, domainerrors.ErrTransferNotCollecting),
		domainerrors.IsIllegalTransition(err),
		domainerrors.IsConflict(err):
		return http.StatusConflict
	case domainerrors.IsServiceUnavailable(err):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// SendError writes err as an ErrorResponse. Internal causes are not echoed.
func SendError(c *gin.Context, err error) {
	status := statusFor(err)
	if status == http.StatusInternalServerError {
		c.JSON(status, entities.ErrorResponse{
			Code:    ErrCodeInternalError,
			Message: MsgInternalError,
		})
		return
	}

	code := domainerrors.GetErrorCode(err)
	if code == "UNKNOWN_ERROR" {
		code = http.StatusText(status)
	}
	c.JSON(status, entities.ErrorResponse{
		Code:    code,
		Message: err.Error(),
		Details: domainerrors.GetErrorDetails(err),
	})
}
