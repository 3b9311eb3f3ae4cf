package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// PriceTick is a single trade print from the market feed.
type PriceTick struct {
	Symbol    string          `json:"symbol"`
	Price     decimal.Decimal `json:"price"`
	Volume    float64         `json:"volume"`
	Timestamp time.Time       `json:"timestamp"`
	Source    string          `json:"source,omitempty"`
}
