package usecase

import (
	"context"
	"errors"
	"fmt"

	"CascadeAdvisor/internal/domain/models"
	domrepo "CascadeAdvisor/internal/domain/repository"
	domsvc "CascadeAdvisor/internal/domain/service"
	"CascadeAdvisor/pkg/logger"
)

// ContextResolver maps a caller and an optional override to the watchlist
// a request operates on.
type ContextResolver struct {
	verifier   domsvc.TokenVerifier
	watchlists domrepo.WatchlistRepository
	log        *logger.Logger
}

func NewContextResolver(verifier domsvc.TokenVerifier, watchlists domrepo.WatchlistRepository, log *logger.Logger) *ContextResolver {
	return &ContextResolver{verifier: verifier, watchlists: watchlists, log: log}
}

// Identify verifies token. Missing or unverifiable tokens yield a guest.
func (r *ContextResolver) Identify(ctx context.Context, token string) (models.Caller, error) {
	guest := models.Caller{Role: models.RoleGuest}
	if token == "" {
		return guest, nil
	}
	caller, err := r.verifier.Verify(ctx, token)
	if err != nil {
		if errors.Is(err, models.ErrUnknownToken) {
			r.log.Debug("context.token rejected", logger.Error(err))
			return guest, nil
		}
		return guest, fmt.Errorf("verify token: %w", err)
	}
	return caller, nil
}

// Resolve returns the request scope:
//   - admin with override: the override watchlist, writable
//   - guest: the default watchlist, read only
//   - user: the personal watchlist if one exists, otherwise the default
//
// Overrides from non-admins are ignored.
func (r *ContextResolver) Resolve(ctx context.Context, token, overrideID string) (*models.ResolvedContext, error) {
	caller, err := r.Identify(ctx, token)
	if err != nil {
		return nil, err
	}
	return r.ResolveCaller(ctx, caller, overrideID)
}

func (r *ContextResolver) ResolveCaller(ctx context.Context, caller models.Caller, overrideID string) (*models.ResolvedContext, error) {
	if overrideID != "" {
		if caller.IsAdmin() {
			wl, err := r.watchlists.Get(ctx, overrideID)
			if err != nil {
				if errors.Is(err, models.ErrNotFound) {
					return nil, fmt.Errorf("%w: %s", models.ErrOverrideNotFound, overrideID)
				}
				return nil, fmt.Errorf("load override watchlist: %w", err)
			}
			over := *wl
			over.Type = models.WatchlistAdminOverride
			return &models.ResolvedContext{Caller: caller, Watchlist: over}, nil
		}
		r.log.Debug("context.override ignored",
			logger.String("user_id", caller.UserID),
			logger.String("override", overrideID))
	}

	if !caller.IsGuest() {
		wl, err := r.watchlists.PersonalFor(ctx, caller.UserID)
		switch {
		case err == nil:
			return &models.ResolvedContext{Caller: caller, Watchlist: *wl}, nil
		case !errors.Is(err, models.ErrNotFound):
			return nil, fmt.Errorf("load personal watchlist: %w", err)
		}
	}

	wl, err := r.watchlists.Default(ctx)
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			return nil, fmt.Errorf("%w: no default watchlist", models.ErrUnknownWatchlist)
		}
		return nil, fmt.Errorf("load default watchlist: %w", err)
	}
	return &models.ResolvedContext{
		Caller:    caller,
		Watchlist: *wl,
		ReadOnly:  caller.IsGuest(),
	}, nil
}
