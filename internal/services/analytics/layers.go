package analytics

import (
	"context"
	"fmt"

	"CascadeAdvisor/internal/domain/models"
	domrepo "CascadeAdvisor/internal/domain/repository"
	domsvc "CascadeAdvisor/internal/domain/service"
	"CascadeAdvisor/pkg/config"

	"github.com/shopspring/decimal"
)

// MacroAnalyzer classifies the market regime.
type MacroAnalyzer struct{ base *HTTPServiceBase }

func NewMacroAnalyzer(cfg *config.Config) *MacroAnalyzer {
	return &MacroAnalyzer{base: NewHTTPServiceBase(cfg)}
}

type macroResponse struct {
	Regime           string  `json:"regime"`
	RegimeConfidence float64 `json:"regime_confidence"`
	RiskLevel        string  `json:"risk_level"`
	Confidence       float64 `json:"confidence"`
}

func (a *MacroAnalyzer) Stage() models.StageID { return models.StageMacro }

func (a *MacroAnalyzer) Analyze(ctx context.Context, _ models.AnalysisContext, _ models.WatchlistContext) (models.StageOutput, float64, error) {
	var r macroResponse
	if err := a.base.PostJSONWithRetry(ctx, "/macro/regime", struct{}{}, &r); err != nil {
		return models.StageOutput{}, 0, fmt.Errorf("macro regime: %w", err)
	}
	return models.StageOutput{Macro: &models.MacroOutput{
		Regime:           models.Regime(r.Regime),
		RegimeConfidence: r.RegimeConfidence,
		RiskLevel:        models.RiskLevel(r.RiskLevel),
	}}, r.Confidence, nil
}

// SectorAnalyzer produces sector weights for the regime.
type SectorAnalyzer struct{ base *HTTPServiceBase }

func NewSectorAnalyzer(cfg *config.Config) *SectorAnalyzer {
	return &SectorAnalyzer{base: NewHTTPServiceBase(cfg)}
}

type sectorRequest struct {
	Regime    models.Regime    `json:"regime"`
	RiskLevel models.RiskLevel `json:"risk_level"`
}

type sectorResponse struct {
	Allocation map[string]float64 `json:"allocation"`
	Confidence float64            `json:"confidence"`
}

func (a *SectorAnalyzer) Stage() models.StageID { return models.StageSector }

func (a *SectorAnalyzer) Analyze(ctx context.Context, in models.AnalysisContext, _ models.WatchlistContext) (models.StageOutput, float64, error) {
	var r sectorResponse
	req := sectorRequest{Regime: in.Regime, RiskLevel: in.RiskLevel}
	if err := a.base.PostJSONWithRetry(ctx, "/sector/rotation", req, &r); err != nil {
		return models.StageOutput{}, 0, fmt.Errorf("sector rotation: %w", err)
	}
	return models.StageOutput{Sector: &models.SectorOutput{Allocation: r.Allocation}}, r.Confidence, nil
}

// AssetSelector picks assets within the favoured sectors and proposes
// watchlist changes against the current holdings.
type AssetSelector struct {
	base       *HTTPServiceBase
	watchlists domrepo.WatchlistRepository
}

func NewAssetSelector(cfg *config.Config, watchlists domrepo.WatchlistRepository) *AssetSelector {
	return &AssetSelector{base: NewHTTPServiceBase(cfg), watchlists: watchlists}
}

type holding struct {
	AssetID string `json:"asset_id"`
	Tier    int    `json:"tier"`
}

type assetRequest struct {
	WatchlistID      string             `json:"watchlist_id"`
	MaxAssets        int                `json:"max_assets"`
	Regime           models.Regime      `json:"regime"`
	RiskLevel        models.RiskLevel   `json:"risk_level"`
	SectorAllocation map[string]float64 `json:"sector_allocation"`
	Holdings         []holding          `json:"holdings"`
}

type assetResponse struct {
	Assets []struct {
		AssetID string  `json:"asset_id"`
		Symbol  string  `json:"symbol"`
		Sector  string  `json:"sector"`
		Score   float64 `json:"score"`
	} `json:"assets"`
	Recommendations []struct {
		AssetID    string         `json:"asset_id"`
		Kind       string         `json:"kind"`
		Confidence float64        `json:"confidence"`
		Reasoning  map[string]any `json:"reasoning"`
	} `json:"recommendations"`
	Confidence float64 `json:"confidence"`
}

func (a *AssetSelector) Stage() models.StageID { return models.StageAsset }

func (a *AssetSelector) Analyze(ctx context.Context, in models.AnalysisContext, wl models.WatchlistContext) (models.StageOutput, float64, error) {
	req := assetRequest{
		WatchlistID:      wl.ID,
		MaxAssets:        wl.MaxAssets,
		Regime:           in.Regime,
		RiskLevel:        in.RiskLevel,
		SectorAllocation: in.SectorAllocation,
		Holdings:         []holding{},
	}
	if a.watchlists != nil && wl.ID != "" {
		items, err := a.watchlists.Items(ctx, wl.ID)
		if err != nil {
			return models.StageOutput{}, 0, fmt.Errorf("load holdings: %w", err)
		}
		for _, it := range items {
			req.Holdings = append(req.Holdings, holding{AssetID: it.AssetID, Tier: it.Tier})
		}
	}

	var r assetResponse
	if err := a.base.PostJSONWithRetry(ctx, "/asset/selection", req, &r); err != nil {
		return models.StageOutput{}, 0, fmt.Errorf("asset selection: %w", err)
	}

	out := &models.AssetOutput{
		Assets:          make([]models.AssetRef, 0, len(r.Assets)),
		Recommendations: make([]models.AssetRecommendation, 0, len(r.Recommendations)),
	}
	for _, x := range r.Assets {
		out.Assets = append(out.Assets, models.AssetRef{AssetID: x.AssetID, Symbol: x.Symbol, Sector: x.Sector, Score: x.Score})
	}
	for _, x := range r.Recommendations {
		out.Recommendations = append(out.Recommendations, models.AssetRecommendation{
			AssetID:    x.AssetID,
			Kind:       models.SuggestionKind(x.Kind),
			Confidence: x.Confidence,
			Reasoning:  x.Reasoning,
		})
	}
	return models.StageOutput{Assets: out}, r.Confidence, nil
}

// TimingAnalyzer proposes entries for the selected assets.
type TimingAnalyzer struct{ base *HTTPServiceBase }

func NewTimingAnalyzer(cfg *config.Config) *TimingAnalyzer {
	return &TimingAnalyzer{base: NewHTTPServiceBase(cfg)}
}

type timingRequest struct {
	Regime    models.Regime    `json:"regime"`
	RiskLevel models.RiskLevel `json:"risk_level"`
	Assets    []string         `json:"assets"`
}

type timingResponse struct {
	Calls []struct {
		AssetID      string          `json:"asset_id"`
		Direction    string          `json:"direction"`
		Entry        decimal.Decimal `json:"entry"`
		Target       decimal.Decimal `json:"target"`
		Stop         decimal.Decimal `json:"stop"`
		Confidence   float64         `json:"confidence"`
		RiskLevel    string          `json:"risk_level"`
		HorizonHours int             `json:"horizon_hours"`
	} `json:"calls"`
	Confidence float64 `json:"confidence"`
}

func (a *TimingAnalyzer) Stage() models.StageID { return models.StageTiming }

func (a *TimingAnalyzer) Analyze(ctx context.Context, in models.AnalysisContext, _ models.WatchlistContext) (models.StageOutput, float64, error) {
	req := timingRequest{Regime: in.Regime, RiskLevel: in.RiskLevel, Assets: make([]string, 0, len(in.ActiveAssets))}
	for _, x := range in.ActiveAssets {
		req.Assets = append(req.Assets, x.AssetID)
	}

	var r timingResponse
	if err := a.base.PostJSONWithRetry(ctx, "/timing/signals", req, &r); err != nil {
		return models.StageOutput{}, 0, fmt.Errorf("timing signals: %w", err)
	}
	out := &models.TimingOutput{Calls: make([]models.TimingCall, 0, len(r.Calls))}
	for _, c := range r.Calls {
		out.Calls = append(out.Calls, models.TimingCall{
			AssetID:      c.AssetID,
			Direction:    models.Direction(c.Direction),
			Entry:        c.Entry,
			Target:       c.Target,
			Stop:         c.Stop,
			Confidence:   c.Confidence,
			RiskLevel:    models.RiskLevel(c.RiskLevel),
			HorizonHours: c.HorizonHours,
		})
	}
	return models.StageOutput{Timing: out}, r.Confidence, nil
}

// Adapters returns the four layer adapters in stage order.
func Adapters(cfg *config.Config, watchlists domrepo.WatchlistRepository) []domsvc.LayerAnalysisAdapter {
	return []domsvc.LayerAnalysisAdapter{
		NewMacroAnalyzer(cfg),
		NewSectorAnalyzer(cfg),
		NewAssetSelector(cfg, watchlists),
		NewTimingAnalyzer(cfg),
	}
}

var (
	_ domsvc.LayerAnalysisAdapter = (*MacroAnalyzer)(nil)
	_ domsvc.LayerAnalysisAdapter = (*SectorAnalyzer)(nil)
	_ domsvc.LayerAnalysisAdapter = (*AssetSelector)(nil)
	_ domsvc.LayerAnalysisAdapter = (*TimingAnalyzer)(nil)
)
