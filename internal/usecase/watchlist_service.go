package usecase

import (
	"context"
	"errors"
	"fmt"
	"time"

	"CascadeAdvisor/internal/domain/models"
	domrepo "CascadeAdvisor/internal/domain/repository"
	"CascadeAdvisor/pkg/logger"

	"github.com/google/uuid"
)

// WatchlistService manages personal watchlists.
type WatchlistService struct {
	repo  domrepo.WatchlistRepository
	audit *AuditLog
	log   *logger.Logger
	now   func() time.Time
}

func NewWatchlistService(repo domrepo.WatchlistRepository, audit *AuditLog, log *logger.Logger) *WatchlistService {
	return &WatchlistService{repo: repo, audit: audit, log: log, now: time.Now}
}

// CreatePersonal creates the caller's personal watchlist. Each user owns
// at most one; a second request is a state conflict.
func (s *WatchlistService) CreatePersonal(ctx context.Context, caller models.Caller, maxAssets int) (*models.WatchlistContext, error) {
	if caller.IsGuest() {
		return nil, fmt.Errorf("%w: guests cannot own watchlists", models.ErrForbidden)
	}
	if maxAssets <= 0 {
		return nil, fmt.Errorf("%w: maxAssets must be positive", models.ErrValidation)
	}
	wl := &models.WatchlistContext{
		ID:          uuid.NewString(),
		Type:        models.WatchlistPersonal,
		OwnerUserID: caller.UserID,
		MaxAssets:   maxAssets,
		CreatedAt:   s.now().UTC(),
	}
	if err := s.repo.Create(ctx, wl); err != nil {
		if errors.Is(err, models.ErrDuplicateKey) {
			return nil, fmt.Errorf("%w: user %s already has a personal watchlist", models.ErrStateConflict, caller.UserID)
		}
		return nil, fmt.Errorf("create watchlist: %w", err)
	}
	_ = s.audit.Record(ctx, caller.ActorID(), models.ActionWatchlistCreated, models.EntityWatchlist, wl.ID, map[string]any{
		"maxAssets": maxAssets,
	})
	s.log.Info("watchlist.created", logger.String("watchlist_id", wl.ID), logger.String("owner", caller.UserID))
	return wl, nil
}

// Items lists the assets tracked by a watchlist.
func (s *WatchlistService) Items(ctx context.Context, watchlistID string) ([]models.WatchlistItem, error) {
	return s.repo.Items(ctx, watchlistID)
}
