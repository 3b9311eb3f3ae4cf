package usecase

import (
	"context"
	"fmt"

	"CascadeAdvisor/internal/domain/models"
	"CascadeAdvisor/pkg/logger"
)

// CascadeRun is the response of a cascade request.
type CascadeRun struct {
	Result      *models.CascadeResult   `json:"result"`
	Scope       models.ResolvedContext  `json:"scope"`
	Suggestions []*models.Suggestion    `json:"suggestions"`
	Signals     []*models.TradingSignal `json:"signals"`
}

// CascadeService runs the cascade for a resolved scope and feeds the
// outcome into the suggestion and signal lifecycles.
type CascadeService struct {
	orchestrator *CascadeOrchestrator
	suggestions  *SuggestionManager
	signals      *SignalManager
	log          *logger.Logger
}

func NewCascadeService(o *CascadeOrchestrator, sm *SuggestionManager, sig *SignalManager, log *logger.Logger) *CascadeService {
	return &CascadeService{orchestrator: o, suggestions: sm, signals: sig, log: log}
}

func (s *CascadeService) Run(ctx context.Context, rc models.ResolvedContext) (*CascadeRun, error) {
	result, err := s.orchestrator.Run(ctx, rc.Watchlist)
	if err != nil {
		return nil, err
	}
	run := &CascadeRun{Result: result, Scope: rc}
	if rc.ReadOnly {
		return run, nil
	}

	run.Suggestions, err = s.suggestions.Ingest(ctx, result, rc)
	if err != nil {
		return nil, fmt.Errorf("ingest suggestions: %w", err)
	}
	run.Signals, err = s.signals.Ingest(ctx, result, rc)
	if err != nil {
		return nil, fmt.Errorf("ingest signals: %w", err)
	}
	s.log.Debug("cascade.emit",
		logger.String("run_id", result.RunID),
		logger.Int("suggestions", len(run.Suggestions)),
		logger.Int("signals", len(run.Signals)))
	return run, nil
}
