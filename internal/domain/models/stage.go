package models

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// StageID orders the four analysis layers. The cascade always runs them
// from StageMacro to StageTiming.
type StageID int

const (
	StageMacro StageID = iota + 1
	StageSector
	StageAsset
	StageTiming
)

// Stages lists every stage in execution order.
var Stages = [4]StageID{StageMacro, StageSector, StageAsset, StageTiming}

func (s StageID) String() string {
	switch s {
	case StageMacro:
		return "macro"
	case StageSector:
		return "sector"
	case StageAsset:
		return "asset"
	case StageTiming:
		return "timing"
	}
	return fmt.Sprintf("stage_%d", int(s))
}

// Global reports whether the stage depends only on market-wide state.
func (s StageID) Global() bool { return s == StageMacro || s == StageSector }

func (s StageID) Index() int { return int(s) - 1 }

type MacroOutput struct {
	Regime           Regime    `json:"regime"`
	RegimeConfidence float64   `json:"regimeConfidence"`
	RiskLevel        RiskLevel `json:"riskLevel"`
}

type SectorOutput struct {
	Allocation map[string]float64 `json:"allocation"`
}

type AssetRecommendation struct {
	AssetID    string         `json:"assetId"`
	Kind       SuggestionKind `json:"kind"`
	Confidence float64        `json:"confidence"`
	Reasoning  map[string]any `json:"reasoning,omitempty"`
}

type AssetOutput struct {
	Assets          []AssetRef            `json:"assets"`
	Recommendations []AssetRecommendation `json:"recommendations,omitempty"`
}

type TimingCall struct {
	AssetID      string          `json:"assetId"`
	Direction    Direction       `json:"direction"`
	Entry        decimal.Decimal `json:"entry"`
	Target       decimal.Decimal `json:"target"`
	Stop         decimal.Decimal `json:"stop"`
	Confidence   float64         `json:"confidence"`
	RiskLevel    RiskLevel       `json:"riskLevel"`
	HorizonHours int             `json:"horizonHours"`
}

type TimingOutput struct {
	Calls []TimingCall `json:"calls"`
}

// StageOutput carries the payload of exactly one stage.
type StageOutput struct {
	Macro  *MacroOutput  `json:"macro,omitempty"`
	Sector *SectorOutput `json:"sector,omitempty"`
	Assets *AssetOutput  `json:"assets,omitempty"`
	Timing *TimingOutput `json:"timing,omitempty"`
}

// Validate checks that the payload matches the stage that produced it.
func (o StageOutput) Validate(stage StageID) error {
	switch stage {
	case StageMacro:
		if o.Macro == nil {
			return fmt.Errorf("%w: macro stage returned no regime", ErrValidation)
		}
		if !o.Macro.Regime.Valid() || !o.Macro.RiskLevel.Valid() {
			return fmt.Errorf("%w: macro stage returned regime=%q risk=%q", ErrValidation, o.Macro.Regime, o.Macro.RiskLevel)
		}
		if o.Macro.RegimeConfidence < 0 || o.Macro.RegimeConfidence > 1 {
			return fmt.Errorf("%w: regime confidence %v out of range", ErrValidation, o.Macro.RegimeConfidence)
		}
	case StageSector:
		if o.Sector == nil {
			return fmt.Errorf("%w: sector stage returned no allocation", ErrValidation)
		}
		for k, w := range o.Sector.Allocation {
			if w < 0 || w > 1 {
				return fmt.Errorf("%w: sector %s weight %v out of range", ErrValidation, k, w)
			}
		}
	case StageAsset:
		if o.Assets == nil {
			return fmt.Errorf("%w: asset stage returned no selection", ErrValidation)
		}
		for _, r := range o.Assets.Recommendations {
			if !r.Kind.Valid() {
				return fmt.Errorf("%w: unknown suggestion kind %q", ErrValidation, r.Kind)
			}
		}
	case StageTiming:
		if o.Timing == nil {
			return fmt.Errorf("%w: timing stage returned no calls", ErrValidation)
		}
	default:
		return fmt.Errorf("%w: unknown stage %d", ErrValidation, int(stage))
	}
	return nil
}

// StageReport describes how a stage result was obtained in one run.
type StageReport struct {
	Stage      StageID   `json:"stage"`
	Name       string    `json:"name"`
	Confidence float64   `json:"confidence"`
	FromCache  bool      `json:"fromCache"`
	Fallback   bool      `json:"fallback"`
	FetchedAt  time.Time `json:"fetchedAt"`
	Error      string    `json:"error,omitempty"`
}

// CascadeResult is the outcome of a successful cascade run.
type CascadeResult struct {
	RunID             string                `json:"runId"`
	WatchlistID       string                `json:"watchlistId"`
	Context           AnalysisContext       `json:"context"`
	Stages            [4]StageReport        `json:"stages"`
	StageConfidences  [4]float64            `json:"stageConfidences"`
	CascadeConfidence float64               `json:"cascadeConfidence"`
	Degraded          bool                  `json:"degraded"`
	Recommendations   []AssetRecommendation `json:"recommendations,omitempty"`
	TimingCalls       []TimingCall          `json:"timingCalls,omitempty"`
	CompletedAt       time.Time             `json:"completedAt"`
}

// Stage returns the report for a stage.
func (r *CascadeResult) Stage(id StageID) StageReport { return r.Stages[id.Index()] }
