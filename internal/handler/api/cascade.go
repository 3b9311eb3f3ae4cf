package api

import (
	"CascadeAdvisor/internal/domain/models"
	xhttp "CascadeAdvisor/pkg/http"

	"github.com/labstack/echo/v4"
)

func (h *AdvisorHandler) RunCascade(c echo.Context) error {
	req := &models.CascadeRunRequest{}
	if verr := xhttp.ReadAndValidateRequest(c, req); verr != nil {
		return xhttp.BadRequestResponse(c, verr)
	}
	ctx := c.Request().Context()
	rc, err := h.resolver.ResolveCaller(ctx, callerFrom(c), req.WatchlistOverride)
	if err != nil {
		return h.fail(c, "cascade.resolve", err)
	}
	run, err := h.cascade.Run(ctx, *rc)
	if err != nil {
		return h.fail(c, "cascade.run", err)
	}
	return xhttp.SuccessResponse(c, run)
}

type contextResponse struct {
	*models.ResolvedContext
	Items []models.WatchlistItem `json:"items"`
}

func (h *AdvisorHandler) Context(c echo.Context) error {
	req := &models.ContextRequest{}
	if verr := xhttp.ReadAndValidateRequest(c, req); verr != nil {
		return xhttp.BadRequestResponse(c, verr)
	}
	ctx := c.Request().Context()
	rc, err := h.resolver.ResolveCaller(ctx, callerFrom(c), req.WatchlistOverride)
	if err != nil {
		return h.fail(c, "context", err)
	}
	items, err := h.watchlists.Items(ctx, rc.Watchlist.ID)
	if err != nil {
		return h.fail(c, "context.items", err)
	}
	return xhttp.SuccessResponse(c, contextResponse{ResolvedContext: rc, Items: items})
}

func (h *AdvisorHandler) CreateWatchlist(c echo.Context) error {
	req := &models.CreateWatchlistRequest{}
	if verr := xhttp.ReadAndValidateRequest(c, req); verr != nil {
		return xhttp.BadRequestResponse(c, verr)
	}
	wl, err := h.watchlists.CreatePersonal(c.Request().Context(), callerFrom(c), req.MaxAssets)
	if err != nil {
		return h.fail(c, "watchlists.create", err)
	}
	return xhttp.CreatedResponse(c, wl)
}
