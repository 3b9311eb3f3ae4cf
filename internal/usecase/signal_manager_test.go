package usecase

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"CascadeAdvisor/internal/domain/models"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func timingRun(calls ...models.TimingCall) *models.CascadeResult {
	return &models.CascadeResult{RunID: "run-1", TimingCalls: calls}
}

func longBTC() models.TimingCall {
	return models.TimingCall{
		AssetID:      "BTC",
		Direction:    models.DirectionLong,
		Entry:        dec("100"),
		Target:       dec("120"),
		Stop:         dec("90"),
		Confidence:   0.6,
		RiskLevel:    models.RiskMedium,
		HorizonHours: 24,
	}
}

func ingestOne(t *testing.T, e *env) *models.TradingSignal {
	t.Helper()
	out, err := e.sig.Ingest(context.Background(), timingRun(longBTC()), e.scope())
	require.NoError(t, err)
	require.Len(t, out, 1)
	return out[0]
}

func execReq(size, pct string) models.ExecuteSignalRequest {
	return models.ExecuteSignalRequest{PositionSize: dec(size), PortfolioPercentage: dec(pct)}
}

func TestSignalIngestComputesRiskReward(t *testing.T) {
	e := newEnv()
	sig := ingestOne(t, e)

	assert.Equal(t, models.SignalActive, sig.Status)
	assert.True(t, dec("2").Equal(sig.RiskRewardRatio), sig.RiskRewardRatio.String())
	assert.Equal(t, e.clk.Now().Add(24*time.Hour), sig.ExpiresAt)
	assert.Equal(t, []string{models.ActionSignalCreated}, e.actions(models.EntitySignal))
}

func TestSignalIngestRejectsInconsistentLevels(t *testing.T) {
	e := newEnv()
	bad := longBTC()
	bad.Stop = dec("130")
	noHorizon := longBTC()
	noHorizon.AssetID = "ETH"
	noHorizon.HorizonHours = 0

	out, err := e.sig.Ingest(context.Background(), timingRun(bad, noHorizon), e.scope())
	require.NoError(t, err)
	assert.Empty(t, out)
	assert.Equal(t, []string{models.ActionSignalRejected, models.ActionSignalRejected}, e.actions(models.EntitySignal))
}

func TestSignalIngestKeepsOneActivePerDirection(t *testing.T) {
	e := newEnv()
	first := ingestOne(t, e)

	out, err := e.sig.Ingest(context.Background(), timingRun(longBTC()), e.scope())
	require.NoError(t, err)
	assert.Empty(t, out)

	short := longBTC()
	short.Direction = models.DirectionShort
	short.Target, short.Stop = dec("80"), dec("110")
	out, err = e.sig.Ingest(context.Background(), timingRun(short), e.scope())
	require.NoError(t, err)
	require.Len(t, out, 1)
	assert.NotEqual(t, first.ID, out[0].ID)

	// a lapsed signal makes room for a new one
	e.clk.Advance(25 * time.Hour)
	out, err = e.sig.Ingest(context.Background(), timingRun(longBTC()), e.scope())
	require.NoError(t, err)
	require.Len(t, out, 1)

	old, err := e.sig.Get(context.Background(), first.ID)
	require.NoError(t, err)
	assert.Equal(t, models.SignalExpired, old.Status)
}

func TestSignalIngestReadOnly(t *testing.T) {
	e := newEnv()
	rc := e.scope()
	rc.ReadOnly = true
	out, err := e.sig.Ingest(context.Background(), timingRun(longBTC()), rc)
	require.NoError(t, err)
	assert.Empty(t, out)
}

func TestExecuteFillsOnceThenRejectsDuplicates(t *testing.T) {
	e := newEnv()
	ctx := context.Background()
	sig := ingestOne(t, e)

	res, err := e.sig.Execute(ctx, user, sig.ID, execReq("500", "0.01"))
	require.NoError(t, err)
	assert.Equal(t, models.OutcomeFilled, res.Outcome)
	assert.Equal(t, models.ExecutionFilled, res.Execution.Status)
	assert.Equal(t, models.SignalExecuted, res.Signal.Status)
	assert.True(t, sig.EntryPrice.Equal(res.Execution.ExecutionPrice))

	_, err = e.sig.Execute(ctx, user, sig.ID, execReq("500", "0.01"))
	assert.ErrorIs(t, err, models.ErrDuplicateExecution)

	p, err := e.profiles.Get(ctx, user.UserID)
	require.NoError(t, err)
	assert.True(t, dec("0.01").Equal(p.CurrentExposure), p.CurrentExposure.String())

	// executed signals stay open to other users
	other := models.Caller{UserID: "u2", Role: models.RoleUser}
	res, err = e.sig.Execute(ctx, other, sig.ID, execReq("100", "0.005"))
	require.NoError(t, err)
	assert.Equal(t, models.OutcomeFilled, res.Outcome)

	execs, err := e.sig.Executions(ctx, sig.ID)
	require.NoError(t, err)
	assert.Len(t, execs, 2)
}

func TestExecuteConcurrentSameUserFillsOnce(t *testing.T) {
	e := newEnv()
	ctx := context.Background()
	sig := ingestOne(t, e)

	const n = 8
	var wg sync.WaitGroup
	errs := make([]error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = e.sig.Execute(ctx, user, sig.ID, execReq("10", "0.001"))
		}(i)
	}
	wg.Wait()

	filled := 0
	for _, err := range errs {
		if err == nil {
			filled++
			continue
		}
		assert.True(t, errors.Is(err, models.ErrDuplicateExecution), err.Error())
	}
	assert.Equal(t, 1, filled)

	p, err := e.profiles.Get(ctx, user.UserID)
	require.NoError(t, err)
	assert.True(t, dec("0.001").Equal(p.CurrentExposure))
}

func TestExecuteRejectsBreachOfPortfolioRisk(t *testing.T) {
	e := newEnv()
	ctx := context.Background()
	sig := ingestOne(t, e)
	require.NoError(t, e.profiles.Create(ctx, &models.RiskProfile{
		UserID:           user.UserID,
		MaxPositionSize:  dec("10000"),
		MaxPortfolioRisk: dec("0.02"),
		CurrentExposure:  dec("0.019"),
		UpdatedAt:        e.clk.Now(),
	}))

	res, err := e.sig.Execute(ctx, user, sig.ID, execReq("100", "0.005"))
	require.NoError(t, err)
	assert.Equal(t, models.OutcomeRiskLimitExceeded, res.Outcome)
	assert.Equal(t, models.ExecutionCancelled, res.Execution.Status)
	assert.Contains(t, res.Execution.RejectReason, "0.024")
	assert.Equal(t, models.SignalActive, res.Signal.Status)

	p, err := e.profiles.Get(ctx, user.UserID)
	require.NoError(t, err)
	assert.True(t, dec("0.019").Equal(p.CurrentExposure))

	// a cancelled execution does not block a smaller retry
	res, err = e.sig.Execute(ctx, user, sig.ID, execReq("100", "0.001"))
	require.NoError(t, err)
	assert.Equal(t, models.OutcomeFilled, res.Outcome)

	p, err = e.profiles.Get(ctx, user.UserID)
	require.NoError(t, err)
	assert.True(t, dec("0.02").Equal(p.CurrentExposure), p.CurrentExposure.String())
}

func TestExecuteRejectsOversizedPosition(t *testing.T) {
	e := newEnv()
	sig := ingestOne(t, e)

	res, err := e.sig.Execute(context.Background(), user, sig.ID, execReq("10001", "0.001"))
	require.NoError(t, err)
	assert.Equal(t, models.OutcomeRiskLimitExceeded, res.Outcome)
}

func TestExecuteValidation(t *testing.T) {
	e := newEnv()
	ctx := context.Background()
	sig := ingestOne(t, e)

	_, err := e.sig.Execute(ctx, guest, sig.ID, execReq("1", "0.001"))
	assert.ErrorIs(t, err, models.ErrForbidden)

	_, err = e.sig.Execute(ctx, user, sig.ID, execReq("0", "0.001"))
	assert.ErrorIs(t, err, models.ErrValidation)

	_, err = e.sig.Execute(ctx, user, sig.ID, execReq("1", "1.5"))
	assert.ErrorIs(t, err, models.ErrValidation)

	_, err = e.sig.Execute(ctx, user, "missing", execReq("1", "0.001"))
	assert.ErrorIs(t, err, models.ErrNotFound)
}

func TestExecuteUsesLatestPrice(t *testing.T) {
	e := newEnv()
	ctx := context.Background()
	sig := ingestOne(t, e)
	require.NoError(t, e.prices.Update(ctx, "BTC", dec("101.5")))

	res, err := e.sig.Execute(ctx, user, sig.ID, execReq("1", "0.001"))
	require.NoError(t, err)
	assert.True(t, dec("101.5").Equal(res.Execution.ExecutionPrice))
}

func TestSignalLazyExpiry(t *testing.T) {
	t.Run("horizon", func(t *testing.T) {
		e := newEnv()
		sig := ingestOne(t, e)
		e.clk.Advance(25 * time.Hour)

		_, err := e.sig.Execute(context.Background(), user, sig.ID, execReq("1", "0.001"))
		assert.ErrorIs(t, err, models.ErrSignalNotActive)

		got, err := e.sig.Get(context.Background(), sig.ID)
		require.NoError(t, err)
		assert.Equal(t, models.SignalExpired, got.Status)
		assert.Contains(t, e.actions(models.EntitySignal), models.ActionSignalExpired)
	})
	t.Run("stop crossed", func(t *testing.T) {
		e := newEnv()
		sig := ingestOne(t, e)
		require.NoError(t, e.prices.Update(context.Background(), "BTC", dec("89")))

		list, err := e.sig.List(context.Background(), models.SignalFilter{Status: models.SignalActive})
		require.NoError(t, err)
		assert.Empty(t, list)

		got, err := e.sig.Get(context.Background(), sig.ID)
		require.NoError(t, err)
		assert.Equal(t, models.SignalExpired, got.Status)
		assert.Contains(t, got.CancelReason, "89")
	})
}

func TestCancelSignal(t *testing.T) {
	e := newEnv()
	ctx := context.Background()
	sig := ingestOne(t, e)

	_, err := e.sig.Cancel(ctx, user, sig.ID, "nope")
	assert.ErrorIs(t, err, models.ErrForbidden)

	cancelled, err := e.sig.Cancel(ctx, admin, sig.ID, "news")
	require.NoError(t, err)
	assert.Equal(t, models.SignalCancelled, cancelled.Status)
	assert.Equal(t, "news", cancelled.CancelReason)

	_, err = e.sig.Cancel(ctx, admin, sig.ID, "again")
	assert.ErrorIs(t, err, models.ErrSignalNotActive)

	_, err = e.sig.Execute(ctx, user, sig.ID, execReq("1", "0.001"))
	assert.ErrorIs(t, err, models.ErrSignalNotActive)
}

func TestSignalSweepExpired(t *testing.T) {
	e := newEnv()
	ingestOne(t, e)
	e.clk.Advance(25 * time.Hour)

	n, err := e.sig.SweepExpired(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	n, err = e.sig.SweepExpired(context.Background())
	require.NoError(t, err)
	assert.Zero(t, n)
}
