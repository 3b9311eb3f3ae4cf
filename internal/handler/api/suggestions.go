package api

import (
	"CascadeAdvisor/internal/domain/models"
	xhttp "CascadeAdvisor/pkg/http"

	"github.com/labstack/echo/v4"
)

// ListSuggestions lists suggestions of the caller's watchlist. Admins may
// name any watchlist.
func (h *AdvisorHandler) ListSuggestions(c echo.Context) error {
	req := &models.ListSuggestionsRequest{}
	if verr := xhttp.ReadAndValidateRequest(c, req); verr != nil {
		return xhttp.BadRequestResponse(c, verr)
	}
	ctx := c.Request().Context()
	caller := callerFrom(c)

	watchlistID := req.WatchlistID
	if !caller.IsAdmin() || watchlistID == "" {
		rc, err := h.resolver.ResolveCaller(ctx, caller, req.WatchlistOverride)
		if err != nil {
			return h.fail(c, "suggestions.resolve", err)
		}
		watchlistID = rc.Watchlist.ID
	}
	rows, err := h.suggestions.List(ctx, models.SuggestionFilter{
		Status:      models.SuggestionStatus(req.Status),
		WatchlistID: watchlistID,
		Limit:       req.Limit,
	})
	if err != nil {
		return h.fail(c, "suggestions.list", err)
	}
	return xhttp.ListResponse(c, rows, int64(len(rows)))
}

func (h *AdvisorHandler) ReviewSuggestion(c echo.Context) error {
	req := &models.ReviewSuggestionRequest{}
	if verr := xhttp.ReadAndValidateRequest(c, req); verr != nil {
		return xhttp.BadRequestResponse(c, verr)
	}
	s, err := h.suggestions.Review(c.Request().Context(), callerFrom(c), c.Param("id"),
		models.ReviewDecision(req.Decision), req.Notes)
	if err != nil {
		return h.fail(c, "suggestions.review", err)
	}
	return xhttp.SuccessResponse(c, s)
}
