package usecase

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"CascadeAdvisor/internal/domain/models"
	domsvc "CascadeAdvisor/internal/domain/service"
	svccache "CascadeAdvisor/internal/service/cache"
	svcmetrics "CascadeAdvisor/internal/service/metrics"
	pkgcache "CascadeAdvisor/pkg/cache"
	"CascadeAdvisor/pkg/config"
	"CascadeAdvisor/pkg/logger"

	"github.com/google/uuid"
	"golang.org/x/sync/singleflight"
)

type OrchestratorConfig struct {
	Weights      []float64
	GlobalTTL    time.Duration
	WatchlistTTL time.Duration
	StageTimeout time.Duration
	Now          func() time.Time
}

type OrchestratorOption func(*OrchestratorConfig)

func WithWeights(w ...float64) OrchestratorOption {
	return func(c *OrchestratorConfig) { c.Weights = w }
}

func WithTTLs(global, watchlist time.Duration) OrchestratorOption {
	return func(c *OrchestratorConfig) {
		c.GlobalTTL = global
		c.WatchlistTTL = watchlist
	}
}

func WithStageTimeout(d time.Duration) OrchestratorOption {
	return func(c *OrchestratorConfig) { c.StageTimeout = d }
}

func WithOrchestratorClock(now func() time.Time) OrchestratorOption {
	return func(c *OrchestratorConfig) { c.Now = now }
}

// CascadeOrchestrator runs the four analysis stages in order, threading the
// analysis context and serving stage results from cache when possible.
type CascadeOrchestrator struct {
	adapters [4]domsvc.LayerAnalysisAdapter
	cache    *svccache.StageCache
	group    singleflight.Group
	cfg      OrchestratorConfig
	weights  [4]float64
	metrics  *svcmetrics.CascadeMetrics
	log      *logger.Logger
}

func NewCascadeOrchestrator(
	adapters []domsvc.LayerAnalysisAdapter,
	stageCache *svccache.StageCache,
	metrics *svcmetrics.CascadeMetrics,
	log *logger.Logger,
	opts ...OrchestratorOption,
) (*CascadeOrchestrator, error) {
	cfg := OrchestratorConfig{
		Weights:      []float64{0.25, 0.25, 0.25, 0.25},
		GlobalTTL:    5 * time.Minute,
		WatchlistTTL: 2 * time.Minute,
		StageTimeout: 5 * time.Second,
		Now:          time.Now,
	}
	for _, opt := range opts {
		opt(&cfg)
	}
	if err := config.ValidateWeights(cfg.Weights); err != nil {
		return nil, fmt.Errorf("%w: cascade weights: %v", models.ErrValidation, err)
	}
	if len(adapters) != len(models.Stages) {
		return nil, fmt.Errorf("%w: need %d adapters, got %d", models.ErrValidation, len(models.Stages), len(adapters))
	}

	o := &CascadeOrchestrator{cache: stageCache, cfg: cfg, metrics: metrics, log: log}
	for i, st := range models.Stages {
		if adapters[i] == nil || adapters[i].Stage() != st {
			return nil, fmt.Errorf("%w: adapter %d does not serve stage %s", models.ErrValidation, i, st)
		}
		o.adapters[i] = adapters[i]
		o.weights[i] = cfg.Weights[i]
	}
	return o, nil
}

type stageOutcome struct {
	report models.StageReport
	output models.StageOutput
}

// Run executes the cascade for a watchlist. It fails with ErrCascadeFailed
// when a stage has neither a live result nor a cached one within the
// staleness ceiling; nothing is returned for partial runs.
func (o *CascadeOrchestrator) Run(ctx context.Context, wl models.WatchlistContext) (*models.CascadeResult, error) {
	started := o.cfg.Now()
	result := &models.CascadeResult{
		RunID:       uuid.NewString(),
		WatchlistID: wl.ID,
	}
	actx := models.AnalysisContext{GeneratedAt: started}

	for _, stage := range models.Stages {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		out, err := o.runStage(ctx, stage, actx, wl)
		if err != nil {
			o.metrics.ObserveRun("failed", 0)
			o.log.Error("cascade.run failed",
				logger.String("run_id", result.RunID),
				logger.String("watchlist", wl.ID),
				logger.String("stage", stage.String()),
				logger.Error(err))
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			return nil, fmt.Errorf("%w: stage %s: %w", models.ErrCascadeFailed, stage, err)
		}

		idx := stage.Index()
		result.Stages[idx] = out.report
		result.StageConfidences[idx] = out.report.Confidence
		if out.report.Fallback {
			result.Degraded = true
		}
		switch stage {
		case models.StageAsset:
			result.Recommendations = append(result.Recommendations, out.output.Assets.Recommendations...)
		case models.StageTiming:
			result.TimingCalls = append(result.TimingCalls, out.output.Timing.Calls...)
		}
		actx = actx.Apply(stage, out.output, o.cfg.Now())
	}

	result.Context = actx
	result.CascadeConfidence = o.aggregate(result.StageConfidences)
	result.CompletedAt = o.cfg.Now()

	label := "ok"
	if result.Degraded {
		label = "degraded"
	}
	o.metrics.ObserveRun(label, result.CascadeConfidence)
	o.log.Info("cascade.run done",
		logger.String("run_id", result.RunID),
		logger.String("watchlist", wl.ID),
		logger.Bool("degraded", result.Degraded),
		logger.Float64("confidence", result.CascadeConfidence),
		logger.Duration("elapsed_ms", result.CompletedAt.Sub(started)))
	return result, nil
}

func (o *CascadeOrchestrator) aggregate(conf [4]float64) float64 {
	var sum float64
	for i, c := range conf {
		sum += o.weights[i] * c
	}
	return sum
}

func (o *CascadeOrchestrator) ttlFor(stage models.StageID) time.Duration {
	if stage.Global() {
		return o.cfg.GlobalTTL
	}
	return o.cfg.WatchlistTTL
}

func (o *CascadeOrchestrator) runStage(ctx context.Context, stage models.StageID, actx models.AnalysisContext, wl models.WatchlistContext) (*stageOutcome, error) {
	key := svccache.Key(stage, wl.ID)
	fp := fingerprint(stage, actx, wl)
	name := stage.String()

	cached, err := o.cache.Load(ctx, key)
	if err != nil {
		o.log.Warn("cascade.stage cache_error", logger.String("stage", name), logger.Error(err))
	}
	if cached != nil && cached.Fresh(fp, o.ttlFor(stage), o.cfg.Now()) {
		o.metrics.ObserveStage(name, svcmetrics.OutcomeHit)
		return outcomeFrom(cached, true, false, ""), nil
	}

	ch := o.group.DoChan(key+"|"+fp, func() (interface{}, error) {
		return o.fetch(ctx, stage, key, fp, actx, wl)
	})

	var res singleflight.Result
	select {
	case res = <-ch:
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	if res.Err == nil {
		entry := res.Val.(*svccache.StageEntry)
		outcome := svcmetrics.OutcomeMiss
		if res.Shared {
			outcome = svcmetrics.OutcomeShared
		}
		o.metrics.ObserveStage(name, outcome)
		return outcomeFrom(entry, false, false, ""), nil
	}

	// the failed flight may have raced with a successful one
	if latest, lerr := o.cache.Load(ctx, key); lerr == nil && latest != nil {
		cached = latest
	}
	if cached != nil && cached.Age(o.cfg.Now()) <= o.cache.Ceiling() {
		o.metrics.ObserveStage(name, svcmetrics.OutcomeFallback)
		o.log.Warn("cascade.stage fallback",
			logger.String("stage", name),
			logger.String("watchlist", wl.ID),
			logger.Duration("age_ms", cached.Age(o.cfg.Now())),
			logger.Error(res.Err))
		return outcomeFrom(cached, true, true, res.Err.Error()), nil
	}

	o.metrics.ObserveStage(name, svcmetrics.OutcomeFailed)
	return nil, res.Err
}

// fetch calls the adapter once per flight. It runs detached from the
// caller's cancellation so that other callers sharing the flight are not
// failed by it, bounded by the stage timeout instead.
func (o *CascadeOrchestrator) fetch(ctx context.Context, stage models.StageID, key, fp string, actx models.AnalysisContext, wl models.WatchlistContext) (*svccache.StageEntry, error) {
	if cached, err := o.cache.Load(ctx, key); err == nil && cached != nil && cached.Fresh(fp, o.ttlFor(stage), o.cfg.Now()) {
		return cached, nil
	}

	fctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), o.cfg.StageTimeout)
	defer cancel()

	type reply struct {
		out  models.StageOutput
		conf float64
		err  error
	}
	done := make(chan reply, 1)
	start := time.Now()
	adapter := o.adapters[stage.Index()]
	go func() {
		out, conf, err := adapter.Analyze(fctx, actx.Clone(), wl)
		done <- reply{out, conf, err}
	}()

	var r reply
	select {
	case r = <-done:
	case <-fctx.Done():
		r.err = fctx.Err()
	}
	o.metrics.ObserveCall(stage.String(), time.Since(start))

	if r.err != nil {
		return nil, fmt.Errorf("%w: %s: %w", models.ErrAdapterFailure, stage, r.err)
	}
	if err := r.out.Validate(stage); err != nil {
		return nil, fmt.Errorf("%w: %s: %w", models.ErrAdapterFailure, stage, err)
	}
	if r.conf < 0 || r.conf > 1 {
		return nil, fmt.Errorf("%w: %s: confidence %v out of range", models.ErrAdapterFailure, stage, r.conf)
	}

	entry := &svccache.StageEntry{
		Stage:       stage,
		Output:      r.out,
		Confidence:  r.conf,
		Fingerprint: fp,
		FetchedAt:   o.cfg.Now(),
	}
	if err := o.cache.Store(fctx, key, entry); err != nil {
		o.log.Warn("cascade.stage cache_store", logger.String("stage", stage.String()), logger.Error(err))
	}
	return entry, nil
}

func outcomeFrom(e *svccache.StageEntry, fromCache, fallback bool, errMsg string) *stageOutcome {
	return &stageOutcome{
		report: models.StageReport{
			Stage:      e.Stage,
			Name:       e.Stage.String(),
			Confidence: e.Confidence,
			FromCache:  fromCache,
			Fallback:   fallback,
			FetchedAt:  e.FetchedAt,
			Error:      errMsg,
		},
		output: e.Output,
	}
}

// fingerprint hashes the part of the context a stage reads, so a cached
// entry is only fresh for the inputs it was computed from.
func fingerprint(stage models.StageID, actx models.AnalysisContext, wl models.WatchlistContext) string {
	var subset any
	switch stage {
	case models.StageMacro:
		subset = struct{}{}
	case models.StageSector:
		subset = []any{actx.Regime, actx.RiskLevel}
	case models.StageAsset:
		subset = []any{wl.ID, actx.Regime, actx.RiskLevel, actx.SectorAllocation}
	case models.StageTiming:
		ids := make([]string, 0, len(actx.ActiveAssets))
		for _, a := range actx.ActiveAssets {
			ids = append(ids, a.AssetID)
		}
		subset = []any{wl.ID, actx.Regime, actx.RiskLevel, ids}
	}
	b, _ := json.Marshal(subset)
	return pkgcache.HashKey(string(b))
}

// IsCascadeFailure reports whether err left the cascade without a result.
func IsCascadeFailure(err error) bool {
	return errors.Is(err, models.ErrCascadeFailed)
}
