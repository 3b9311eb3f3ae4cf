package api

import (
	"CascadeAdvisor/internal/domain/models"
	xhttp "CascadeAdvisor/pkg/http"

	"github.com/labstack/echo/v4"
)

func (h *AdvisorHandler) ListSignals(c echo.Context) error {
	req := &models.ListSignalsRequest{}
	if verr := xhttp.ReadAndValidateRequest(c, req); verr != nil {
		return xhttp.BadRequestResponse(c, verr)
	}
	rows, err := h.signals.List(c.Request().Context(), models.SignalFilter{
		Status:  models.SignalStatus(req.Status),
		AssetID: req.AssetID,
		Limit:   req.Limit,
	})
	if err != nil {
		return h.fail(c, "signals.list", err)
	}
	return xhttp.ListResponse(c, rows, int64(len(rows)))
}

type signalResponse struct {
	*models.TradingSignal
	Executions []*models.SignalExecution `json:"executions"`
}

func (h *AdvisorHandler) GetSignal(c echo.Context) error {
	ctx := c.Request().Context()
	sig, err := h.signals.Get(ctx, c.Param("id"))
	if err != nil {
		return h.fail(c, "signals.get", err)
	}
	execs, err := h.signals.Executions(ctx, sig.ID)
	if err != nil {
		return h.fail(c, "signals.executions", err)
	}
	return xhttp.SuccessResponse(c, signalResponse{TradingSignal: sig, Executions: execs})
}

// ExecuteSignal answers 200 for fills and for risk rejections; the outcome
// field tells them apart.
func (h *AdvisorHandler) ExecuteSignal(c echo.Context) error {
	req := &models.ExecuteSignalRequest{}
	if verr := xhttp.ReadAndValidateRequest(c, req); verr != nil {
		return xhttp.BadRequestResponse(c, verr)
	}
	res, err := h.signals.Execute(c.Request().Context(), callerFrom(c), c.Param("id"), *req)
	if err != nil {
		return h.fail(c, "signals.execute", err)
	}
	return xhttp.SuccessResponse(c, res)
}

func (h *AdvisorHandler) CancelSignal(c echo.Context) error {
	req := &models.CancelSignalRequest{}
	if verr := xhttp.ReadAndValidateRequest(c, req); verr != nil {
		return xhttp.BadRequestResponse(c, verr)
	}
	sig, err := h.signals.Cancel(c.Request().Context(), callerFrom(c), c.Param("id"), req.Reason)
	if err != nil {
		return h.fail(c, "signals.cancel", err)
	}
	return xhttp.SuccessResponse(c, sig)
}
