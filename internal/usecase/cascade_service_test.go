package usecase

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"CascadeAdvisor/internal/domain/models"
	pkgcache "CascadeAdvisor/pkg/cache"
	"CascadeAdvisor/pkg/logger"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newService(t *testing.T, e *env) *CascadeService {
	t.Helper()
	o, err := newOrchestrator(newStubs(), e.clk)
	require.NoError(t, err)
	return NewCascadeService(o, e.sm, e.sig, logger.NewNop())
}

func TestCascadeServiceEmitsForWritableScope(t *testing.T) {
	e := newEnv()
	run, err := newService(t, e).Run(context.Background(), e.scope())
	require.NoError(t, err)

	require.Len(t, run.Suggestions, 1)
	assert.Equal(t, "ETH", run.Suggestions[0].AssetID)
	assert.Equal(t, models.SuggestionPending, run.Suggestions[0].Status)
	require.Len(t, run.Signals, 1)
	assert.True(t, dec("2").Equal(run.Signals[0].RiskRewardRatio))
	assert.Equal(t, "u1", run.Scope.Caller.UserID)
}

func TestCascadeServiceGuestEmitsNothing(t *testing.T) {
	e := newEnv()
	rc := e.scope()
	rc.Caller = guest
	rc.ReadOnly = true

	run, err := newService(t, e).Run(context.Background(), rc)
	require.NoError(t, err)
	assert.NotNil(t, run.Result)
	assert.Empty(t, run.Suggestions)
	assert.Empty(t, run.Signals)

	sugg, err := e.sm.List(context.Background(), models.SuggestionFilter{})
	require.NoError(t, err)
	assert.Empty(t, sugg)
	sigs, err := e.sig.List(context.Background(), models.SignalFilter{})
	require.NoError(t, err)
	assert.Empty(t, sigs)
}

func TestExpirySweeperRunOnce(t *testing.T) {
	e := newEnv()
	ctx := context.Background()
	_, err := e.sm.Ingest(ctx, runWith(rec("ETH", models.SuggestionAdd, 0.5)), e.scope())
	require.NoError(t, err)
	ingestOne(t, e)
	e.clk.Advance(48 * time.Hour)

	lock := pkgcache.NewMemoryCache()
	s := NewExpirySweeper(e.sm, e.sig, lock, time.Minute, logger.NewNop())

	held, err := lock.TryLock(ctx, sweepLockKey, time.Minute)
	require.NoError(t, err)
	require.True(t, held)
	sugg, sigs := s.RunOnce(ctx)
	assert.Zero(t, sugg+sigs)

	require.NoError(t, lock.Unlock(ctx, sweepLockKey))
	sugg, sigs = s.RunOnce(ctx)
	assert.Equal(t, 1, sugg)
	assert.Equal(t, 1, sigs)
}

func TestExpirySweeperBackground(t *testing.T) {
	e := newEnv()
	ctx := context.Background()
	out, err := e.sm.Ingest(ctx, runWith(rec("ETH", models.SuggestionAdd, 0.5)), e.scope())
	require.NoError(t, err)
	e.clk.Advance(2 * time.Hour)

	s := NewExpirySweeper(e.sm, e.sig, nil, 10*time.Millisecond, logger.NewNop())
	s.Start(ctx)
	defer s.Stop()

	assert.Eventually(t, func() bool {
		got, err := e.sm.Get(ctx, out[0].ID)
		return err == nil && got.Status == models.SuggestionExpired
	}, time.Second, 10*time.Millisecond)
}

func TestImplementSuggestionJob(t *testing.T) {
	q := &fakeQueue{}
	e := newEnv(WithDispatcher(NewQueueDispatcher(q)))
	ctx := context.Background()
	job := NewImplementSuggestionJob(e.sm, logger.NewNop())
	assert.Equal(t, ImplementSuggestionType, job.Type())

	out, err := e.sm.Ingest(ctx, runWith(rec("ETH", models.SuggestionAdd, 0.5)), e.scope())
	require.NoError(t, err)
	_, err = e.sm.Review(ctx, admin, out[0].ID, models.DecisionApprove, "")
	require.NoError(t, err)
	require.Equal(t, 1, q.Len())

	payload, err := json.Marshal(q.msgs[0])
	require.NoError(t, err)
	require.NoError(t, job.Handle(ctx, payload))

	got, err := e.sm.Get(ctx, out[0].ID)
	require.NoError(t, err)
	assert.Equal(t, models.SuggestionImplemented, got.Status)
	assert.Equal(t, models.DefaultTier, tierOf(t, e, "ETH"))

	// redelivery is harmless
	assert.NoError(t, job.Handle(ctx, payload))
	assert.NoError(t, job.Handle(ctx, json.RawMessage(`{"suggestion_id":"missing"}`)))
	assert.NoError(t, job.Handle(ctx, json.RawMessage(`not json`)))
}
