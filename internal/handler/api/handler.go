package api

import (
	"CascadeAdvisor/internal/usecase"
	xhttp "CascadeAdvisor/pkg/http"
	"CascadeAdvisor/pkg/http/middleware"
	xlogger "CascadeAdvisor/pkg/logger"

	"github.com/labstack/echo/v4"
)

// AdvisorHandler serves the /api routes.
type AdvisorHandler struct {
	logger      *xlogger.Logger
	resolver    *usecase.ContextResolver
	cascade     *usecase.CascadeService
	watchlists  *usecase.WatchlistService
	suggestions *usecase.SuggestionManager
	signals     *usecase.SignalManager
	audit       *usecase.AuditLog
	limiter     middleware.Allower
}

var _ xhttp.Handler = (*AdvisorHandler)(nil)

func NewAdvisorHandler(
	logger *xlogger.Logger,
	resolver *usecase.ContextResolver,
	cascade *usecase.CascadeService,
	watchlists *usecase.WatchlistService,
	suggestions *usecase.SuggestionManager,
	signals *usecase.SignalManager,
	audit *usecase.AuditLog,
	limiter middleware.Allower,
) *AdvisorHandler {
	return &AdvisorHandler{
		logger:      logger,
		resolver:    resolver,
		cascade:     cascade,
		watchlists:  watchlists,
		suggestions: suggestions,
		signals:     signals,
		audit:       audit,
		limiter:     limiter,
	}
}

func (h *AdvisorHandler) RegisterRoutes(e *echo.Echo) {
	g := e.Group("/api", h.authenticate, middleware.RateLimit(h.limiter, callerKey))

	g.POST("/cascade/run", h.RunCascade)
	g.GET("/context", h.Context)
	g.POST("/watchlists", h.CreateWatchlist)

	g.GET("/suggestions", h.ListSuggestions)
	g.POST("/suggestions/:id/review", h.ReviewSuggestion)

	g.GET("/signals", h.ListSignals)
	g.GET("/signals/:id", h.GetSignal)
	g.POST("/signals/:id/execute", h.ExecuteSignal)
	g.POST("/signals/:id/cancel", h.CancelSignal)

	g.GET("/audit", h.ListAudit)
}
