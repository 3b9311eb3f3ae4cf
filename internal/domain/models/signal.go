package models

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

type Direction string

const (
	DirectionLong  Direction = "long"
	DirectionShort Direction = "short"
)

func (d Direction) Valid() bool { return d == DirectionLong || d == DirectionShort }

type SignalStatus string

const (
	SignalActive    SignalStatus = "active"
	SignalExecuted  SignalStatus = "executed"
	SignalExpired   SignalStatus = "expired"
	SignalCancelled SignalStatus = "cancelled"
)

func (s SignalStatus) Valid() bool {
	switch s {
	case SignalActive, SignalExecuted, SignalExpired, SignalCancelled:
		return true
	}
	return false
}

// Open reports whether the signal still accepts executions. Executed is an
// aggregate marker, so other users may still execute.
func (s SignalStatus) Open() bool { return s == SignalActive || s == SignalExecuted }

var signalTransitions = map[SignalStatus][]SignalStatus{
	SignalActive:   {SignalExecuted, SignalExpired, SignalCancelled},
	SignalExecuted: {SignalCancelled},
}

func (s SignalStatus) CanTransition(to SignalStatus) bool {
	for _, next := range signalTransitions[s] {
		if next == to {
			return true
		}
	}
	return false
}

const ratioPlaces = 8

// RiskReward returns |target-entry| / |entry-stop|.
func RiskReward(entry, target, stop decimal.Decimal) (decimal.Decimal, error) {
	risk := entry.Sub(stop).Abs()
	if risk.IsZero() {
		return decimal.Zero, fmt.Errorf("%w: entry equals stop loss", ErrValidation)
	}
	reward := target.Sub(entry).Abs()
	ratio := reward.DivRound(risk, ratioPlaces)
	if !ratio.IsPositive() {
		return decimal.Zero, fmt.Errorf("%w: risk/reward ratio must be positive", ErrValidation)
	}
	return ratio, nil
}

type TradingSignal struct {
	ID              string          `json:"id"`
	AssetID         string          `json:"assetId"`
	Direction       Direction       `json:"direction"`
	EntryPrice      decimal.Decimal `json:"entryPrice"`
	TargetPrice     decimal.Decimal `json:"targetPrice"`
	StopLoss        decimal.Decimal `json:"stopLoss"`
	Confidence      float64         `json:"confidence"`
	RiskLevel       RiskLevel       `json:"riskLevel"`
	RiskRewardRatio decimal.Decimal `json:"riskRewardRatio"`
	HorizonHours    int             `json:"horizonHours"`
	Status          SignalStatus    `json:"status"`
	GeneratedAt     time.Time       `json:"generatedAt"`
	ExpiresAt       time.Time       `json:"expiresAt"`
	CancelReason    string          `json:"cancelReason,omitempty"`
}

// SetPrices replaces the price levels and recomputes the ratio. The signal is
// left untouched when the new levels are invalid.
func (s *TradingSignal) SetPrices(entry, target, stop decimal.Decimal) error {
	if err := ValidateLevels(s.Direction, entry, target, stop); err != nil {
		return err
	}
	ratio, err := RiskReward(entry, target, stop)
	if err != nil {
		return err
	}
	s.EntryPrice, s.TargetPrice, s.StopLoss, s.RiskRewardRatio = entry, target, stop, ratio
	return nil
}

// ValidateLevels checks that prices are positive and ordered for the direction.
func ValidateLevels(dir Direction, entry, target, stop decimal.Decimal) error {
	if !dir.Valid() {
		return fmt.Errorf("%w: direction %q", ErrValidation, dir)
	}
	if !entry.IsPositive() || !target.IsPositive() || !stop.IsPositive() {
		return fmt.Errorf("%w: prices must be positive", ErrValidation)
	}
	switch dir {
	case DirectionLong:
		if !(stop.LessThan(entry) && entry.LessThan(target)) {
			return fmt.Errorf("%w: long requires stop < entry < target", ErrValidation)
		}
	case DirectionShort:
		if !(target.LessThan(entry) && entry.LessThan(stop)) {
			return fmt.Errorf("%w: short requires target < entry < stop", ErrValidation)
		}
	}
	return nil
}

// Crossed reports whether price has reached the stop loss or the target.
func (s *TradingSignal) Crossed(price decimal.Decimal) bool {
	if !price.IsPositive() {
		return false
	}
	switch s.Direction {
	case DirectionLong:
		return price.LessThanOrEqual(s.StopLoss) || price.GreaterThanOrEqual(s.TargetPrice)
	case DirectionShort:
		return price.GreaterThanOrEqual(s.StopLoss) || price.LessThanOrEqual(s.TargetPrice)
	}
	return false
}

func (s *TradingSignal) PastExpiry(now time.Time) bool { return now.After(s.ExpiresAt) }

type SignalFilter struct {
	Status  SignalStatus
	AssetID string
	Limit   int
}

type ExecutionStatus string

const (
	ExecutionPending         ExecutionStatus = "pending"
	ExecutionFilled          ExecutionStatus = "filled"
	ExecutionPartiallyFilled ExecutionStatus = "partiallyFilled"
	ExecutionCancelled       ExecutionStatus = "cancelled"
)

type SignalExecution struct {
	ID                  string          `json:"id"`
	SignalID            string          `json:"signalId"`
	UserID              string          `json:"userId"`
	ExecutionPrice      decimal.Decimal `json:"executionPrice"`
	PositionSize        decimal.Decimal `json:"positionSize"`
	PortfolioPercentage decimal.Decimal `json:"portfolioPercentage"`
	Status              ExecutionStatus `json:"status"`
	RejectReason        string          `json:"rejectReason,omitempty"`
	ExecutedAt          time.Time       `json:"executedAt"`
}

type ExecutionOutcome string

const (
	OutcomeFilled            ExecutionOutcome = "filled"
	OutcomeRiskLimitExceeded ExecutionOutcome = "risk_limit_exceeded"
)

type ExecutionResult struct {
	Execution *SignalExecution `json:"execution"`
	Signal    *TradingSignal   `json:"signal"`
	Outcome   ExecutionOutcome `json:"outcome"`
}

type RiskProfile struct {
	UserID           string          `json:"userId"`
	MaxPositionSize  decimal.Decimal `json:"maxPositionSize"`
	MaxPortfolioRisk decimal.Decimal `json:"maxPortfolioRisk"`
	CurrentExposure  decimal.Decimal `json:"currentExposure"`
	UpdatedAt        time.Time       `json:"updatedAt"`
}

// Check returns ErrRiskLimitExceeded when the position would breach the profile.
func (p *RiskProfile) Check(positionSize, portfolioPct decimal.Decimal) error {
	if positionSize.GreaterThan(p.MaxPositionSize) {
		return fmt.Errorf("%w: position size %s exceeds %s", ErrRiskLimitExceeded, positionSize, p.MaxPositionSize)
	}
	next := p.CurrentExposure.Add(portfolioPct)
	if next.GreaterThan(p.MaxPortfolioRisk) {
		return fmt.Errorf("%w: exposure %s would exceed %s", ErrRiskLimitExceeded, next, p.MaxPortfolioRisk)
	}
	return nil
}
