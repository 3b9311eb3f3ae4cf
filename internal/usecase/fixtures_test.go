package usecase

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"CascadeAdvisor/internal/domain/models"
	domsvc "CascadeAdvisor/internal/domain/service"
	"CascadeAdvisor/internal/repository/memory"
	svccache "CascadeAdvisor/internal/service/cache"
	svcmetrics "CascadeAdvisor/internal/service/metrics"
	pkgcache "CascadeAdvisor/pkg/cache"
	"CascadeAdvisor/pkg/logger"

	"github.com/shopspring/decimal"
)

var errAdapterDown = errors.New("upstream down")

type clock struct {
	mu  sync.Mutex
	now time.Time
}

func newClock() *clock { return &clock{now: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)} }

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

type stubAdapter struct {
	stage models.StageID
	out   models.StageOutput
	conf  float64

	calls atomic.Int32
	fail  atomic.Bool
	hang  atomic.Bool
	gate  chan struct{}

	mu   sync.Mutex
	seen models.AnalysisContext
}

var _ domsvc.LayerAnalysisAdapter = (*stubAdapter)(nil)

func (a *stubAdapter) Stage() models.StageID { return a.stage }

func (a *stubAdapter) Analyze(ctx context.Context, actx models.AnalysisContext, _ models.WatchlistContext) (models.StageOutput, float64, error) {
	a.calls.Add(1)
	a.mu.Lock()
	a.seen = actx
	a.mu.Unlock()
	if a.gate != nil {
		select {
		case <-a.gate:
		case <-ctx.Done():
			return models.StageOutput{}, 0, ctx.Err()
		}
	}
	if a.hang.Load() {
		<-ctx.Done()
		return models.StageOutput{}, 0, ctx.Err()
	}
	if a.fail.Load() {
		return models.StageOutput{}, 0, errAdapterDown
	}
	return a.out, a.conf, nil
}

func (a *stubAdapter) Seen() models.AnalysisContext {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.seen
}

type stubSet struct {
	macro, sector, asset, timing *stubAdapter
}

func (s stubSet) list() []domsvc.LayerAnalysisAdapter {
	return []domsvc.LayerAnalysisAdapter{s.macro, s.sector, s.asset, s.timing}
}

func newStubs() stubSet {
	return stubSet{
		macro: &stubAdapter{stage: models.StageMacro, conf: 0.8, out: models.StageOutput{
			Macro: &models.MacroOutput{Regime: models.RegimeBull, RegimeConfidence: 0.8, RiskLevel: models.RiskMedium},
		}},
		sector: &stubAdapter{stage: models.StageSector, conf: 0.6, out: models.StageOutput{
			Sector: &models.SectorOutput{Allocation: map[string]float64{"l1": 0.6, "defi": 0.4}},
		}},
		asset: &stubAdapter{stage: models.StageAsset, conf: 0.7, out: models.StageOutput{
			Assets: &models.AssetOutput{
				Assets: []models.AssetRef{{AssetID: "BTC", Symbol: "BTCUSDT", Sector: "l1", Score: 0.9}},
				Recommendations: []models.AssetRecommendation{
					{AssetID: "ETH", Kind: models.SuggestionAdd, Confidence: 0.7, Reasoning: map[string]any{"momentum": 0.4}},
				},
			},
		}},
		timing: &stubAdapter{stage: models.StageTiming, conf: 0.5, out: models.StageOutput{
			Timing: &models.TimingOutput{Calls: []models.TimingCall{{
				AssetID:      "BTC",
				Direction:    models.DirectionLong,
				Entry:        decimal.NewFromInt(100),
				Target:       decimal.NewFromInt(120),
				Stop:         decimal.NewFromInt(90),
				Confidence:   0.6,
				RiskLevel:    models.RiskMedium,
				HorizonHours: 24,
			}}},
		}},
	}
}

func newStageCache(ceiling time.Duration) *svccache.StageCache {
	return svccache.NewStageCache(pkgcache.NewMemoryCache(), ceiling)
}

func newOrchestrator(stubs stubSet, clk *clock, opts ...OrchestratorOption) (*CascadeOrchestrator, error) {
	opts = append([]OrchestratorOption{
		WithOrchestratorClock(clk.Now),
		WithStageTimeout(200 * time.Millisecond),
	}, opts...)
	return NewCascadeOrchestrator(stubs.list(), newStageCache(5*time.Minute), svcmetrics.NewNop(), logger.NewNop(), opts...)
}

// env bundles the in-memory stores and managers used across tests.
type env struct {
	clk         *clock
	watchlists  *memory.WatchlistStore
	suggestions *memory.SuggestionStore
	signals     *memory.SignalStore
	executions  *memory.ExecutionStore
	profiles    *memory.RiskProfileStore
	prices      *memory.PriceBook
	auditStore  *memory.AuditStore
	audit       *AuditLog
	sm          *SuggestionManager
	sig         *SignalManager
}

func newEnv(smOpts ...SuggestionOption) *env {
	e := &env{
		clk:         newClock(),
		watchlists:  memory.NewWatchlistStore(10, "BTC"),
		suggestions: memory.NewSuggestionStore(),
		signals:     memory.NewSignalStore(),
		executions:  memory.NewExecutionStore(),
		profiles:    memory.NewRiskProfileStore(),
		prices:      memory.NewPriceBook(),
		auditStore:  memory.NewAuditStore(),
	}
	e.audit = NewAuditLog(e.auditStore, logger.NewNop())
	opts := append([]SuggestionOption{WithSuggestionConfig(SuggestionConfig{TTL: time.Hour, Now: e.clk.Now})}, smOpts...)
	e.sm = NewSuggestionManager(e.suggestions, e.watchlists, e.audit, svcmetrics.NewNop(), logger.NewNop(), opts...)
	e.sig = NewSignalManager(e.signals, e.executions, e.profiles, e.audit, svcmetrics.NewNop(), logger.NewNop(),
		WithSignalConfig(SignalConfig{Now: e.clk.Now}),
		WithPriceBook(e.prices))
	return e
}

func (e *env) scope() models.ResolvedContext {
	return models.ResolvedContext{
		Caller:    models.Caller{UserID: "u1", Role: models.RoleUser},
		Watchlist: models.WatchlistContext{ID: memory.DefaultWatchlistID, Type: models.WatchlistDefault, MaxAssets: 10},
	}
}

func (e *env) actions(entityType string) []string {
	list, _ := e.auditStore.List(context.Background(), models.AuditFilter{EntityType: entityType})
	out := make([]string, 0, len(list))
	for _, a := range list {
		out = append(out, a.Action)
	}
	return out
}

var (
	admin = models.Caller{UserID: "root", Role: models.RoleAdmin}
	user  = models.Caller{UserID: "u1", Role: models.RoleUser}
	guest = models.Caller{Role: models.RoleGuest}
)

// fakeQueue records published jobs.
type fakeQueue struct {
	mu   sync.Mutex
	msgs []any
	err  error
}

func (q *fakeQueue) PublishMessage(_ context.Context, msgType string, payload interface{}) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.err != nil {
		return q.err
	}
	q.msgs = append(q.msgs, payload)
	return nil
}

func (q *fakeQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.msgs)
}
