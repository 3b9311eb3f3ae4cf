package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"CascadeAdvisor/internal/domain/models"
	domsvc "CascadeAdvisor/internal/domain/service"
	"CascadeAdvisor/internal/repository/memory"
	svccache "CascadeAdvisor/internal/service/cache"
	svcmetrics "CascadeAdvisor/internal/service/metrics"
	"CascadeAdvisor/internal/service/ratelimit"
	"CascadeAdvisor/internal/services/auth"
	"CascadeAdvisor/internal/usecase"
	pkgcache "CascadeAdvisor/pkg/cache"
	xhttp "CascadeAdvisor/pkg/http"
	"CascadeAdvisor/pkg/http/middleware"
	"CascadeAdvisor/pkg/logger"

	"github.com/labstack/echo/v4"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fixedAdapter struct {
	stage models.StageID
	out   models.StageOutput
	conf  float64
	err   error
}

func (a *fixedAdapter) Stage() models.StageID { return a.stage }

func (a *fixedAdapter) Analyze(context.Context, models.AnalysisContext, models.WatchlistContext) (models.StageOutput, float64, error) {
	return a.out, a.conf, a.err
}

func adapters() []*fixedAdapter {
	return []*fixedAdapter{
		{stage: models.StageMacro, conf: 0.8, out: models.StageOutput{
			Macro: &models.MacroOutput{Regime: models.RegimeBull, RegimeConfidence: 0.8, RiskLevel: models.RiskLow},
		}},
		{stage: models.StageSector, conf: 0.7, out: models.StageOutput{
			Sector: &models.SectorOutput{Allocation: map[string]float64{"l1": 1}},
		}},
		{stage: models.StageAsset, conf: 0.6, out: models.StageOutput{
			Assets: &models.AssetOutput{
				Assets:          []models.AssetRef{{AssetID: "BTC", Symbol: "BTCUSDT", Score: 1}},
				Recommendations: []models.AssetRecommendation{{AssetID: "ETH", Kind: models.SuggestionAdd, Confidence: 0.5}},
			},
		}},
		{stage: models.StageTiming, conf: 0.5, out: models.StageOutput{
			Timing: &models.TimingOutput{Calls: []models.TimingCall{{
				AssetID:      "BTC",
				Direction:    models.DirectionLong,
				Entry:        decimal.NewFromInt(100),
				Target:       decimal.NewFromInt(130),
				Stop:         decimal.NewFromInt(90),
				Confidence:   0.6,
				RiskLevel:    models.RiskLow,
				HorizonHours: 12,
			}}},
		}},
	}
}

type denyAll struct{}

func (denyAll) Allow(string) bool { return false }

type testAPI struct {
	e        *echo.Echo
	tokens   map[string]string
	sm       *usecase.SuggestionManager
	adapters []*fixedAdapter
}

func newTestAPI(t *testing.T, limiter middleware.Allower) *testAPI {
	t.Helper()
	lg := logger.NewNop()
	nop := svcmetrics.NewNop()

	watchlists := memory.NewWatchlistStore(20, "BTC")
	audit := usecase.NewAuditLog(memory.NewAuditStore(), lg)
	sm := usecase.NewSuggestionManager(memory.NewSuggestionStore(), watchlists, audit, nop, lg)
	sig := usecase.NewSignalManager(memory.NewSignalStore(), memory.NewExecutionStore(), memory.NewRiskProfileStore(), audit, nop, lg)

	fixed := adapters()
	list := make([]domsvc.LayerAnalysisAdapter, 0, len(fixed))
	for _, a := range fixed {
		list = append(list, a)
	}
	o, err := usecase.NewCascadeOrchestrator(list, svccache.NewStageCache(pkgcache.NewMemoryCache(), time.Minute), nop, lg,
		usecase.WithTTLs(0, 0))
	require.NoError(t, err)

	verifier := auth.NewJWTVerifier("test-secret", "cascade")
	resolver := usecase.NewContextResolver(verifier, watchlists, lg)

	h := NewAdvisorHandler(lg, resolver,
		usecase.NewCascadeService(o, sm, sig, lg),
		usecase.NewWatchlistService(watchlists, audit, lg),
		sm, sig, audit, limiter)

	e := echo.New()
	h.RegisterRoutes(e)

	tokens := map[string]string{}
	for _, c := range []models.Caller{{UserID: "u1", Role: models.RoleUser}, {UserID: "root", Role: models.RoleAdmin}} {
		tok, err := verifier.Issue(c.UserID, c.Role, time.Hour)
		require.NoError(t, err)
		tokens[string(c.Role)] = tok
	}
	return &testAPI{e: e, tokens: tokens, sm: sm, adapters: fixed}
}

type envelope struct {
	Status  int             `json:"status"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
}

func (a *testAPI) do(t *testing.T, method, path, role string, body any) (*httptest.ResponseRecorder, envelope) {
	t.Helper()
	var payload string
	if body != nil {
		b, err := json.Marshal(body)
		require.NoError(t, err)
		payload = string(b)
	}
	req := httptest.NewRequest(method, path, strings.NewReader(payload))
	if body != nil {
		req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	}
	if tok, ok := a.tokens[role]; ok {
		req.Header.Set(echo.HeaderAuthorization, "Bearer "+tok)
	} else if role != "" {
		req.Header.Set(echo.HeaderAuthorization, "Bearer "+role)
	}
	rec := httptest.NewRecorder()
	a.e.ServeHTTP(rec, req)

	var env envelope
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &env), rec.Body.String())
	return rec, env
}

func TestContextForGuestIsReadOnly(t *testing.T) {
	api := newTestAPI(t, ratelimit.New(0, 1))

	for _, role := range []string{"", "not-a-jwt"} {
		rec, env := api.do(t, http.MethodGet, "/api/context", role, nil)
		require.Equal(t, http.StatusOK, rec.Code)

		var data struct {
			ReadOnly  bool                    `json:"readOnly"`
			Watchlist models.WatchlistContext `json:"watchlist"`
			Items     []models.WatchlistItem  `json:"items"`
		}
		require.NoError(t, json.Unmarshal(env.Data, &data))
		assert.True(t, data.ReadOnly)
		assert.Equal(t, memory.DefaultWatchlistID, data.Watchlist.ID)
		require.Len(t, data.Items, 1)
		assert.Equal(t, "BTC", data.Items[0].AssetID)
	}
}

func TestRunCascadeEmitsForUser(t *testing.T) {
	api := newTestAPI(t, ratelimit.New(0, 1))

	rec, env := api.do(t, http.MethodPost, "/api/cascade/run", "user", map[string]any{})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var run usecase.CascadeRun
	require.NoError(t, json.Unmarshal(env.Data, &run))
	assert.False(t, run.Scope.ReadOnly)
	assert.Len(t, run.Suggestions, 1)
	require.Len(t, run.Signals, 1)
	assert.True(t, decimal.NewFromInt(3).Equal(run.Signals[0].RiskRewardRatio))
	assert.InDelta(t, 0.65, run.Result.CascadeConfidence, 1e-9)
}

func TestRunCascadeFailureIsUnavailable(t *testing.T) {
	api := newTestAPI(t, ratelimit.New(0, 1))
	api.adapters[1].err = errors.New("feed offline")

	rec, _ := api.do(t, http.MethodPost, "/api/cascade/run", "user", map[string]any{})
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestRunCascadeUnknownOverride(t *testing.T) {
	api := newTestAPI(t, ratelimit.New(0, 1))

	rec, _ := api.do(t, http.MethodPost, "/api/cascade/run", "admin", map[string]any{"watchlistOverride": "ghost"})
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestCreateWatchlist(t *testing.T) {
	api := newTestAPI(t, ratelimit.New(0, 1))

	rec, _ := api.do(t, http.MethodPost, "/api/watchlists", "", map[string]any{"maxAssets": 5})
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec, _ = api.do(t, http.MethodPost, "/api/watchlists", "user", map[string]any{"maxAssets": 500})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec, env := api.do(t, http.MethodPost, "/api/watchlists", "user", map[string]any{})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var wl models.WatchlistContext
	require.NoError(t, json.Unmarshal(env.Data, &wl))
	assert.Equal(t, 20, wl.MaxAssets)
	assert.Equal(t, models.WatchlistPersonal, wl.Type)

	rec, _ = api.do(t, http.MethodPost, "/api/watchlists", "user", map[string]any{})
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestReviewSuggestion(t *testing.T) {
	api := newTestAPI(t, ratelimit.New(0, 1))
	_, env := api.do(t, http.MethodPost, "/api/cascade/run", "user", map[string]any{})
	var run usecase.CascadeRun
	require.NoError(t, json.Unmarshal(env.Data, &run))
	require.Len(t, run.Suggestions, 1)
	id := run.Suggestions[0].ID
	path := fmt.Sprintf("/api/suggestions/%s/review", id)

	rec, _ := api.do(t, http.MethodPost, path, "admin", map[string]any{"decision": "maybe"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec, _ = api.do(t, http.MethodPost, path, "user", map[string]any{"decision": "approve"})
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec, _ = api.do(t, http.MethodPost, "/api/suggestions/ghost/review", "admin", map[string]any{"decision": "approve"})
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec, env = api.do(t, http.MethodPost, path, "admin", map[string]any{"decision": "reject", "notes": "too early"})
	require.Equal(t, http.StatusOK, rec.Code)
	var s models.Suggestion
	require.NoError(t, json.Unmarshal(env.Data, &s))
	assert.Equal(t, models.SuggestionRejected, s.Status)

	rec, _ = api.do(t, http.MethodPost, path, "admin", map[string]any{"decision": "approve"})
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestListSuggestionsScopedToCaller(t *testing.T) {
	api := newTestAPI(t, ratelimit.New(0, 1))
	_, _ = api.do(t, http.MethodPost, "/api/cascade/run", "user", map[string]any{})

	rec, env := api.do(t, http.MethodGet, "/api/suggestions?status=pending", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var list xhttp.ListDataResponse
	require.NoError(t, json.Unmarshal(env.Data, &list))
	assert.Equal(t, int64(1), list.Total)

	rec, env = api.do(t, http.MethodGet, "/api/suggestions?watchlistId=elsewhere", "admin", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.NoError(t, json.Unmarshal(env.Data, &list))
	assert.Equal(t, int64(0), list.Total)

	rec, _ = api.do(t, http.MethodGet, "/api/suggestions?status=open", "", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestExecuteSignal(t *testing.T) {
	api := newTestAPI(t, ratelimit.New(0, 1))
	_, env := api.do(t, http.MethodPost, "/api/cascade/run", "user", map[string]any{})
	var run usecase.CascadeRun
	require.NoError(t, json.Unmarshal(env.Data, &run))
	require.Len(t, run.Signals, 1)
	path := fmt.Sprintf("/api/signals/%s/execute", run.Signals[0].ID)
	body := map[string]any{"positionSize": "250", "portfolioPercentage": "0.01"}

	rec, _ := api.do(t, http.MethodPost, path, "", body)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec, _ = api.do(t, http.MethodPost, path, "user", map[string]any{"positionSize": "0", "portfolioPercentage": "1.5"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec, env = api.do(t, http.MethodPost, path, "user", body)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var res models.ExecutionResult
	require.NoError(t, json.Unmarshal(env.Data, &res))
	assert.Equal(t, models.OutcomeFilled, res.Outcome)
	assert.Equal(t, models.SignalExecuted, res.Signal.Status)

	rec, _ = api.do(t, http.MethodPost, path, "user", body)
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec, _ = api.do(t, http.MethodPost, path, "admin", map[string]any{"positionSize": "1", "portfolioPercentage": "0.5"})
	require.Equal(t, http.StatusOK, rec.Code)

	rec, env = api.do(t, http.MethodGet, "/api/signals/"+run.Signals[0].ID, "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var detail struct {
		Status     models.SignalStatus       `json:"status"`
		Executions []*models.SignalExecution `json:"executions"`
	}
	require.NoError(t, json.Unmarshal(env.Data, &detail))
	assert.Equal(t, models.SignalExecuted, detail.Status)
	require.Len(t, detail.Executions, 2)

	rec, _ = api.do(t, http.MethodGet, "/api/signals/ghost", "", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestCancelSignal(t *testing.T) {
	api := newTestAPI(t, ratelimit.New(0, 1))
	_, env := api.do(t, http.MethodPost, "/api/cascade/run", "user", map[string]any{})
	var run usecase.CascadeRun
	require.NoError(t, json.Unmarshal(env.Data, &run))
	path := fmt.Sprintf("/api/signals/%s/cancel", run.Signals[0].ID)

	rec, _ := api.do(t, http.MethodPost, path, "admin", map[string]any{})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec, _ = api.do(t, http.MethodPost, path, "user", map[string]any{"reason": "x"})
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec, _ = api.do(t, http.MethodPost, path, "admin", map[string]any{"reason": "halted"})
	require.Equal(t, http.StatusOK, rec.Code)

	rec, _ = api.do(t, http.MethodGet, "/api/signals?status=active", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	rec, _ = api.do(t, http.MethodPost, path, "admin", map[string]any{"reason": "again"})
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestAuditAdminOnly(t *testing.T) {
	api := newTestAPI(t, ratelimit.New(0, 1))
	_, _ = api.do(t, http.MethodPost, "/api/cascade/run", "user", map[string]any{})

	rec, _ := api.do(t, http.MethodGet, "/api/audit", "user", nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec, env := api.do(t, http.MethodGet, "/api/audit?entityType=signal", "admin", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var list struct {
		Rows  []models.AuditEntry `json:"rows"`
		Total int64               `json:"total"`
	}
	require.NoError(t, json.Unmarshal(env.Data, &list))
	require.Equal(t, int64(1), list.Total)
	assert.Equal(t, models.ActionSignalCreated, list.Rows[0].Action)
}

func TestRateLimited(t *testing.T) {
	api := newTestAPI(t, denyAll{})
	rec, _ := api.do(t, http.MethodGet, "/api/context", "", nil)
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
}

func TestToAppError(t *testing.T) {
	cases := []struct {
		err    error
		status int
	}{
		{fmt.Errorf("%w: bad", models.ErrValidation), http.StatusBadRequest},
		{models.ErrForbidden, http.StatusForbidden},
		{models.ErrOverrideNotFound, http.StatusNotFound},
		{models.ErrNotFound, http.StatusNotFound},
		{models.ErrDuplicateExecution, http.StatusConflict},
		{models.ErrStateConflict, http.StatusConflict},
		{models.ErrSuggestionExpired, http.StatusGone},
		{models.ErrSignalNotActive, http.StatusConflict},
		{models.ErrRiskLimitExceeded, http.StatusUnprocessableEntity},
		{fmt.Errorf("%w: stage sector: %w", models.ErrCascadeFailed, models.ErrAdapterFailure), http.StatusServiceUnavailable},
		{models.ErrAdapterFailure, http.StatusBadGateway},
		{context.DeadlineExceeded, http.StatusGatewayTimeout},
		{xhttp.GoneError("gone"), http.StatusGone},
		{errors.New("boom"), http.StatusInternalServerError},
	}
	for _, tc := range cases {
		t.Run(tc.err.Error(), func(t *testing.T) {
			appErr := toAppError(tc.err)
			assert.Equal(t, tc.status, appErr.Status)
			if tc.status == http.StatusInternalServerError {
				assert.NotContains(t, appErr.Message, "boom")
			}
		})
	}
}
