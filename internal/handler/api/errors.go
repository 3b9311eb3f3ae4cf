package api

import (
	"context"
	"net/http"

	"CascadeAdvisor/internal/domain/models"
	xhttp "CascadeAdvisor/pkg/http"
	xlogger "CascadeAdvisor/pkg/logger"

	"github.com/labstack/echo/v4"
)

var errorRules = []xhttp.ErrorRule{
	{Err: models.ErrValidation, Code: "ERR_VALIDATION", Status: http.StatusBadRequest},
	{Err: models.ErrForbidden, Code: "ERR_FORBIDDEN", Status: http.StatusForbidden},
	{Err: models.ErrOverrideNotFound, Code: "ERR_OVERRIDE_NOT_FOUND", Status: http.StatusNotFound},
	{Err: models.ErrUnknownWatchlist, Code: "ERR_UNKNOWN_WATCHLIST", Status: http.StatusNotFound},
	{Err: models.ErrNotFound, Code: "ERR_NOT_FOUND", Status: http.StatusNotFound},
	{Err: models.ErrDuplicateExecution, Code: "ERR_DUPLICATE_EXECUTION", Status: http.StatusConflict},
	{Err: models.ErrStateConflict, Code: "ERR_STATE_CONFLICT", Status: http.StatusConflict},
	{Err: models.ErrDuplicateKey, Code: "ERR_CONFLICT", Status: http.StatusConflict},
	{Err: models.ErrSuggestionExpired, Code: "ERR_SUGGESTION_EXPIRED", Status: http.StatusGone},
	{Err: models.ErrSignalNotActive, Code: "ERR_SIGNAL_NOT_ACTIVE", Status: http.StatusConflict},
	{Err: models.ErrRiskLimitExceeded, Code: "ERR_RISK_LIMIT_EXCEEDED", Status: http.StatusUnprocessableEntity},
	{Err: models.ErrCascadeFailed, Code: "ERR_CASCADE_FAILED", Status: http.StatusServiceUnavailable},
	{Err: models.ErrAdapterFailure, Code: "ERR_ADAPTER_FAILURE", Status: http.StatusBadGateway},
	{Err: context.DeadlineExceeded, Code: "ERR_TIMEOUT", Status: http.StatusGatewayTimeout},
}

func toAppError(err error) *xhttp.AppError {
	return xhttp.FromDomainError(err, errorRules)
}

func (h *AdvisorHandler) fail(c echo.Context, op string, err error) error {
	appErr := toAppError(err)
	if appErr.Status >= http.StatusInternalServerError {
		h.logger.Error("api."+op+" failed", xlogger.Error(err), xlogger.Int("status", appErr.Status))
	} else {
		h.logger.Debug("api."+op+" rejected", xlogger.Error(err), xlogger.Int("status", appErr.Status))
	}
	return xhttp.AppErrorResponse(c, appErr)
}
