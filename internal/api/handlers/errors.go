package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/rail-service/settlement_service/internal/domain/entities"
	domainerrors "github.com/rail-service/settlement_service/internal/domain/errors"
	"github.com/rail-service/settlement_service/pkg/logger"
)

// Error codes as constants for consistent error responses across handlers
const (
	ErrCodeUnauthorized       = "UNAUTHORIZED"
	ErrCodeInvalidRequest     = "INVALID_REQUEST"
	ErrCodeValidationError    = "VALIDATION_ERROR"
	ErrCodeInvalidID          = "INVALID_ID"
	ErrCodeInvalidStatus      = "INVALID_STATUS"
	ErrCodeNotFound           = "NOT_FOUND"
	ErrCodeConflict           = "CONFLICT"
	ErrCodeInternalError      = "INTERNAL_ERROR"
	ErrCodeServiceUnavailable = "SERVICE_UNAVAILABLE"
	ErrCodeInvalidSignature   = "INVALID_SIGNATURE"
	ErrCodeWebhookFailed      = "WEBHOOK_PROCESSING_ERROR"
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

// SendUnauthorized sends a 401 Unauthorized error
func SendUnauthorized(c *gin.Context, code, message string) {
	c.JSON(http.StatusUnauthorized, entities.ErrorResponse{
		Code:    code,
		Message: message,
	})
}

// SendNotFound sends a 404 Not Found error
func SendNotFound(c *gin.Context, code, message string) {
	c.JSON(http.StatusNotFound, entities.ErrorResponse{
		Code:    code,
		Message: message,
	})
}

// SendConflict sends a 409 Conflict error
func SendConflict(c *gin.Context, code, message string) {
	c.JSON(http.StatusConflict, entities.ErrorResponse{
		Code:    code,
		Message: message,
	})
}

// SendInternalError sends a 500 Internal Server Error
func SendInternalError(c *gin.Context, code, message string) {
	c.JSON(http.StatusInternalServerError, entities.ErrorResponse{
		Code:    code,
		Message: message,
	})
}

// SendServiceUnavailable sends a 503 Service Unavailable error
func SendServiceUnavailable(c *gin.Context, message string) {
	c.JSON(http.StatusServiceUnavailable, entities.ErrorResponse{
		Code:    ErrCodeServiceUnavailable,
		Message: message,
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

// SendDomainError maps a service error onto an HTTP response
func SendDomainError(c *gin.Context, log *logger.Logger, err error) {
	var de *domainerrors.DomainError
	if !errors.As(err, &de) {
		log.Error("Unhandled service error", "request_id", c.GetString("request_id"), "error", err)
		SendInternalError(c, ErrCodeInternalError, MsgInternalError)
		return
	}

	status := http.StatusUnprocessableEntity
	switch {
	case domainerrors.IsInvalidInput(err):
		status = http.StatusBadRequest
	case domainerrors.IsNotFound(err):
		status = http.StatusNotFound
	case domainerrors.IsConflict(err),
		errors.Is(err, domainerrors.ErrStaleState),
		errors.Is(err, domainerrors.ErrTerminalState):
		status = http.StatusConflict
	case errors.Is(err, domainerrors.ErrServiceUnavailable),
		errors.Is(err, domainerrors.ErrTransientRPC):
		status = http.StatusServiceUnavailable
	}

	if status >= http.StatusInternalServerError {
		log.Warn("Dependency unavailable", "request_id", c.GetString("request_id"), "error", err)
	}
	c.JSON(status, entities.ErrorResponse{
		Code:    de.Code,
		Message: de.Error(),
		Details: de.Details,
	})
}
