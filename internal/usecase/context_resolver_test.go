package usecase

import (
	"context"
	"errors"
	"testing"

	"CascadeAdvisor/internal/domain/models"
	"CascadeAdvisor/internal/repository/memory"
	"CascadeAdvisor/pkg/logger"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type mapVerifier map[string]models.Caller

func (v mapVerifier) Verify(_ context.Context, token string) (models.Caller, error) {
	if token == "broken" {
		return models.Caller{}, errors.New("key service unavailable")
	}
	c, ok := v[token]
	if !ok {
		return models.Caller{}, models.ErrUnknownToken
	}
	return c, nil
}

func newResolver(t *testing.T) (*ContextResolver, *memory.WatchlistStore) {
	t.Helper()
	store := memory.NewWatchlistStore(20, "BTC", "ETH")
	v := mapVerifier{
		"user-token":  {UserID: "u1", Role: models.RoleUser},
		"owner-token": {UserID: "u2", Role: models.RoleUser},
		"admin-token": {UserID: "root", Role: models.RoleAdmin},
	}
	require.NoError(t, store.Create(context.Background(), &models.WatchlistContext{
		ID: "wl-u2", Type: models.WatchlistPersonal, OwnerUserID: "u2", MaxAssets: 5,
	}))
	return NewContextResolver(v, store, logger.NewNop()), store
}

func TestResolveGuestIsReadOnlyDefault(t *testing.T) {
	r, _ := newResolver(t)
	for _, token := range []string{"", "forged"} {
		rc, err := r.Resolve(context.Background(), token, "")
		require.NoError(t, err)
		assert.True(t, rc.ReadOnly)
		assert.True(t, rc.Caller.IsGuest())
		assert.Equal(t, memory.DefaultWatchlistID, rc.Watchlist.ID)
		assert.Equal(t, models.WatchlistDefault, rc.Watchlist.Type)
	}
}

func TestResolveUserWithoutPersonalGetsDefault(t *testing.T) {
	r, _ := newResolver(t)
	rc, err := r.Resolve(context.Background(), "user-token", "")
	require.NoError(t, err)
	assert.False(t, rc.ReadOnly)
	assert.Equal(t, memory.DefaultWatchlistID, rc.Watchlist.ID)
}

func TestResolveUserPersonalWatchlist(t *testing.T) {
	r, _ := newResolver(t)
	rc, err := r.Resolve(context.Background(), "owner-token", "")
	require.NoError(t, err)
	assert.Equal(t, "wl-u2", rc.Watchlist.ID)
	assert.Equal(t, models.WatchlistPersonal, rc.Watchlist.Type)
}

func TestResolveOverride(t *testing.T) {
	r, _ := newResolver(t)

	rc, err := r.Resolve(context.Background(), "admin-token", "wl-u2")
	require.NoError(t, err)
	assert.Equal(t, "wl-u2", rc.Watchlist.ID)
	assert.Equal(t, models.WatchlistAdminOverride, rc.Watchlist.Type)
	assert.False(t, rc.ReadOnly)

	_, err = r.Resolve(context.Background(), "admin-token", "nope")
	assert.ErrorIs(t, err, models.ErrOverrideNotFound)

	// non-admin overrides are ignored
	rc, err = r.Resolve(context.Background(), "user-token", "wl-u2")
	require.NoError(t, err)
	assert.Equal(t, memory.DefaultWatchlistID, rc.Watchlist.ID)
}

func TestResolveVerifierFailure(t *testing.T) {
	r, _ := newResolver(t)
	_, err := r.Resolve(context.Background(), "broken", "")
	assert.Error(t, err)
	assert.NotErrorIs(t, err, models.ErrUnknownToken)
}

func TestWatchlistServiceCreatePersonal(t *testing.T) {
	store := memory.NewWatchlistStore(20)
	audit := memory.NewAuditStore()
	svc := NewWatchlistService(store, NewAuditLog(audit, logger.NewNop()), logger.NewNop())
	ctx := context.Background()

	_, err := svc.CreatePersonal(ctx, guest, 10)
	assert.ErrorIs(t, err, models.ErrForbidden)

	_, err = svc.CreatePersonal(ctx, user, 0)
	assert.ErrorIs(t, err, models.ErrValidation)

	wl, err := svc.CreatePersonal(ctx, user, 10)
	require.NoError(t, err)
	assert.Equal(t, models.WatchlistPersonal, wl.Type)
	assert.Equal(t, "u1", wl.OwnerUserID)

	_, err = svc.CreatePersonal(ctx, user, 10)
	assert.ErrorIs(t, err, models.ErrStateConflict)

	got, err := store.PersonalFor(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, wl.ID, got.ID)

	entries, err := audit.List(ctx, models.AuditFilter{EntityType: models.EntityWatchlist})
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, models.ActionWatchlistCreated, entries[0].Action)
}

func TestAuditListAdminOnly(t *testing.T) {
	e := newEnv()
	ctx := context.Background()
	require.NoError(t, e.audit.Record(ctx, "u1", models.ActionSignalCreated, models.EntitySignal, "s1", nil))

	_, err := e.audit.List(ctx, user, models.AuditFilter{})
	assert.ErrorIs(t, err, models.ErrForbidden)

	list, err := e.audit.List(ctx, admin, models.AuditFilter{EntityID: "s1"})
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, "u1", list[0].ActorID)
}
