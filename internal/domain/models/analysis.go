package models

import (
	"sort"
	"time"
)

type Regime string

const (
	RegimeBull     Regime = "bull"
	RegimeBear     Regime = "bear"
	RegimeSideways Regime = "sideways"
)

func (r Regime) Valid() bool {
	switch r {
	case RegimeBull, RegimeBear, RegimeSideways:
		return true
	}
	return false
}

type RiskLevel string

const (
	RiskLow     RiskLevel = "low"
	RiskMedium  RiskLevel = "medium"
	RiskHigh    RiskLevel = "high"
	RiskExtreme RiskLevel = "extreme"
)

func (r RiskLevel) Valid() bool {
	switch r {
	case RiskLow, RiskMedium, RiskHigh, RiskExtreme:
		return true
	}
	return false
}

// AssetRef identifies a tradable asset selected by the asset stage.
type AssetRef struct {
	AssetID string  `json:"assetId"`
	Symbol  string  `json:"symbol"`
	Sector  string  `json:"sector,omitempty"`
	Score   float64 `json:"score"`
}

// AnalysisContext is the state threaded through the cascade. Each stage
// receives the context produced by its predecessors and returns a new one;
// values are never mutated in place.
type AnalysisContext struct {
	Regime           Regime             `json:"regime,omitempty"`
	RegimeConfidence float64            `json:"regimeConfidence"`
	RiskLevel        RiskLevel          `json:"riskLevel,omitempty"`
	SectorAllocation map[string]float64 `json:"sectorAllocation,omitempty"`
	ActiveAssets     []AssetRef         `json:"activeAssets,omitempty"`
	GeneratedAt      time.Time          `json:"generatedAt"`
}

// Clone returns a deep copy.
func (c AnalysisContext) Clone() AnalysisContext {
	out := c
	if c.SectorAllocation != nil {
		out.SectorAllocation = make(map[string]float64, len(c.SectorAllocation))
		for k, v := range c.SectorAllocation {
			out.SectorAllocation[k] = v
		}
	}
	if c.ActiveAssets != nil {
		out.ActiveAssets = append([]AssetRef(nil), c.ActiveAssets...)
	}
	return out
}

// Apply returns a copy of c extended with the output of the given stage.
// The timing stage only reads the context, so its output leaves it unchanged.
func (c AnalysisContext) Apply(stage StageID, out StageOutput, at time.Time) AnalysisContext {
	next := c.Clone()
	switch stage {
	case StageMacro:
		if out.Macro != nil {
			next.Regime = out.Macro.Regime
			next.RegimeConfidence = out.Macro.RegimeConfidence
			next.RiskLevel = out.Macro.RiskLevel
		}
	case StageSector:
		if out.Sector != nil {
			next.SectorAllocation = make(map[string]float64, len(out.Sector.Allocation))
			for k, v := range out.Sector.Allocation {
				next.SectorAllocation[k] = v
			}
		}
	case StageAsset:
		if out.Assets != nil {
			next.ActiveAssets = append([]AssetRef(nil), out.Assets.Assets...)
		}
	case StageTiming:
	}
	next.GeneratedAt = at
	return next
}

// Sectors returns the allocation keys in a stable order.
func (c AnalysisContext) Sectors() []string {
	keys := make([]string, 0, len(c.SectorAllocation))
	for k := range c.SectorAllocation {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
