// Package handler holds the gin handlers of the crosslist API.
package handler

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/crosslist/backend/internal/application/deadletter"
	"github.com/crosslist/backend/internal/application/orchestration"
	"github.com/crosslist/backend/internal/domain/integration"
	"github.com/crosslist/backend/internal/domain/shared"
	"github.com/crosslist/backend/internal/infrastructure/logger"
	"github.com/crosslist/backend/internal/interfaces/http/dto"
	"github.com/crosslist/backend/internal/interfaces/http/middleware"
)

// BaseHandler provides common handler utilities
type BaseHandler struct{}

// getRequestID extracts the request ID from the context
func getRequestID(c *gin.Context) string {
	if id := middleware.GetRequestID(c); id != "" {
		return id
	}
	return c.GetHeader(middleware.RequestIDHeader)
}

// Success sends a success response
func (h *BaseHandler) Success(c *gin.Context, data any) {
	c.JSON(http.StatusOK, dto.NewSuccessResponse(data))
}

// SuccessWithMeta sends a success response with pagination meta
func (h *BaseHandler) SuccessWithMeta(c *gin.Context, data any, total int64, page, pageSize int) {
	c.JSON(http.StatusOK, dto.NewSuccessResponseWithMeta(data, total, page, pageSize))
}

// Accepted sends a 202 accepted response
func (h *BaseHandler) Accepted(c *gin.Context, data any) {
	c.JSON(http.StatusAccepted, dto.NewSuccessResponse(data))
}

// Error sends an error response with the appropriate status code
func (h *BaseHandler) Error(c *gin.Context, statusCode int, code, message string) {
	c.JSON(statusCode, dto.NewErrorResponseWithRequestID(code, message, getRequestID(c)))
}

// ErrorWithCode sends an error response, deriving status code from error code
func (h *BaseHandler) ErrorWithCode(c *gin.Context, code, message string) {
	h.Error(c, dto.GetHTTPStatus(code), code, message)
}

// BadRequest sends a 400 bad request response
func (h *BaseHandler) BadRequest(c *gin.Context, message string) {
	h.Error(c, http.StatusBadRequest, dto.ErrCodeBadRequest, message)
}

// NotFound sends a 404 not found response
func (h *BaseHandler) NotFound(c *gin.Context, message string) {
	h.Error(c, http.StatusNotFound, dto.ErrCodeNotFound, message)
}

// InternalError sends a 500 internal server error response
func (h *BaseHandler) InternalError(c *gin.Context, message string) {
	h.Error(c, http.StatusInternalServerError, dto.ErrCodeInternal, message)
}

// ValidationError answers a failed bind
func (h *BaseHandler) ValidationError(c *gin.Context, err error) {
	middleware.HandleValidationError(c, err)
}

// HandleError maps an application error to a response. Unknown errors are
// logged and answered with a generic 500.
func (h *BaseHandler) HandleError(c *gin.Context, err error) {
	if err == nil {
		return
	}
	code, message, ok := errorCode(err)
	if !ok {
		_ = c.Error(err)
		logger.L(c.Request.Context()).Error("Request failed", zap.Error(err))
		h.InternalError(c, "An unexpected error occurred")
		return
	}
	h.ErrorWithCode(c, code, message)
}

// errorCode maps the known application errors to an API code and message
func errorCode(err error) (string, string, bool) {
	switch {
	case errors.Is(err, integration.ErrMarketplaceNotConfigured):
		return dto.ErrCodeMarketplaceUnknown, "Marketplace is not configured", true
	case errors.Is(err, integration.ErrMissingSignature):
		return dto.ErrCodeSignatureMissing, "Webhook signature is missing", true
	case errors.Is(err, integration.ErrInvalidSignature):
		return dto.ErrCodeSignatureInvalid, "Webhook signature is invalid", true
	case errors.Is(err, integration.ErrUnrecognizedPayload):
		return dto.ErrCodeUnrecognizedPayload, "Webhook payload was not recognized", true
	case errors.Is(err, integration.ErrListingNotFound):
		return dto.ErrCodeNotFound, "Listing not found", true
	case errors.Is(err, integration.ErrListingPostNotFound):
		return dto.ErrCodeNotFound, "Listing is not posted on that marketplace", true
	case errors.Is(err, integration.ErrSyncJobNotFound):
		return dto.ErrCodeNotFound, "Sync job not found", true
	case errors.Is(err, integration.ErrDeadLetterNotFound):
		return dto.ErrCodeNotFound, "Dead letter entry not found", true
	case errors.Is(err, integration.ErrDeadLetterAlreadyResolved):
		return dto.ErrCodeAlreadyResolved, "Dead letter entry is already resolved", true
	case errors.Is(err, integration.ErrInvalidResolutionAction):
		return dto.ErrCodeInvalidInput, "Unknown resolution action", true
	case errors.Is(err, deadletter.ErrPatchRequired):
		return dto.ErrCodeInvalidInput, "modify_and_retry requires a patch", true
	case errors.Is(err, deadletter.ErrSchedulerRequired):
		return dto.ErrCodeUnavailable, "Retry scheduling is not available", true
	case errors.Is(err, orchestration.ErrSaleAlreadyRecorded):
		return dto.ErrCodeSaleAlreadyRecorded, "Sale is already recorded", true
	case errors.Is(err, orchestration.ErrSaleNotQueued):
		return dto.ErrCodeUnavailable, "Sale sync could not be queued, retry the request", true
	case errors.Is(err, orchestration.ErrInvalidSalePrice):
		return dto.ErrCodeInvalidInput, "Sale price must not be negative", true
	}

	var domainErr *shared.DomainError
	if errors.As(err, &domainErr) {
		return dto.NormalizeErrorCode(domainErr.Code), domainErr.Message, true
	}
	return "", "", false
}

// parseID reads the :id path parameter
func (h *BaseHandler) parseID(c *gin.Context) (uuid.UUID, bool) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		h.Error(c, http.StatusBadRequest, dto.ErrCodeValidationFormat, "Invalid id format")
		return uuid.Nil, false
	}
	return id, true
}
