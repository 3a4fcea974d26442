package utils

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

type APIResponse struct {
	Status  string      `json:"status"`
	Code    int         `json:"code"`
	Message string      `json:"message,omitempty"`
	TraceID string      `json:"trace_id,omitempty"`
	Data    interface{} `json:"data,omitempty"`
}

func traceID(c *gin.Context) string {
	return c.GetString("trace_id")
}

func RespondSuccess(c *gin.Context, data interface{}, message string) {
	c.JSON(http.StatusOK, APIResponse{
		Status:  "success",
		Code:    http.StatusOK,
		Message: message,
		TraceID: traceID(c),
		Data:    data,
	})
}

func RespondError(c *gin.Context, code int, message string) {
	c.JSON(code, APIResponse{
		Status:  "error",
		Code:    code,
		Message: message,
		TraceID: traceID(c),
	})
}

// HandleServiceError maps ledger and scheduler errors onto HTTP status codes.
// Messages of client errors are returned verbatim; server errors are logged and masked.
func HandleServiceError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, ErrPlanNotFound), errors.Is(err, ErrSubscriptionNotFound):
		RespondError(c, http.StatusNotFound, err.Error())
	case errors.Is(err, ErrInvalidPlan),
		errors.Is(err, ErrInvalidAddress),
		errors.Is(err, ErrInvalidAmount),
		errors.Is(err, ErrInvalidRequest):
		RespondError(c, http.StatusBadRequest, err.Error())
	case errors.Is(err, ErrUnauthorized):
		RespondError(c, http.StatusForbidden, err.Error())
	case errors.Is(err, ErrInvalidState), errors.Is(err, ErrTickInProgress):
		RespondError(c, http.StatusConflict, err.Error())
	case errors.Is(err, ErrInsufficientFunds):
		RespondError(c, http.StatusPaymentRequired, err.Error())
	case errors.Is(err, ErrVaultFailure):
		zap.L().Error("vault failure", zap.String("trace_id", traceID(c)), zap.Error(err))
		RespondError(c, http.StatusBadGateway, "Yield vault unavailable")
	case errors.Is(err, ErrLedgerPaused), errors.Is(err, ErrSandboxDisabled):
		RespondError(c, http.StatusServiceUnavailable, err.Error())
	case errors.Is(err, ErrDatabaseError):
		zap.L().Error("database error", zap.String("trace_id", traceID(c)), zap.Error(err))
		RespondError(c, http.StatusInternalServerError, "Internal server error")
	default:
		zap.L().Error("unknown error", zap.String("trace_id", traceID(c)), zap.Error(err))
		RespondError(c, http.StatusInternalServerError, "Internal server error")
	}
}
