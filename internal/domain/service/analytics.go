package service

import (
	"context"

	"CascadeAdvisor/internal/domain/models"
)

// LayerAnalysisAdapter runs one analysis stage against the context built by
// the previous stages. It returns the stage payload and a confidence in [0,1].
type LayerAnalysisAdapter interface {
	Stage() models.StageID
	Analyze(ctx context.Context, in models.AnalysisContext, watchlist models.WatchlistContext) (models.StageOutput, float64, error)
}

// TokenVerifier maps a bearer token to a caller. Unrecognised tokens yield
// models.ErrUnknownToken.
type TokenVerifier interface {
	Verify(ctx context.Context, token string) (models.Caller, error)
}
