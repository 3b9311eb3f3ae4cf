package models

import "github.com/shopspring/decimal"

// Requests for the HTTP API. Kept in the domain so handlers and tests share them.

type CascadeRunRequest struct {
	WatchlistOverride string `json:"watchlistOverride" validate:"omitempty,max=64"`
}

type ContextRequest struct {
	WatchlistOverride string `query:"watchlistOverride" validate:"omitempty,max=64"`
}

type CreateWatchlistRequest struct {
	MaxAssets int `json:"maxAssets" default:"20" validate:"gte=1,lte=200"`
}

type ListSuggestionsRequest struct {
	Status            string `query:"status" validate:"omitempty,oneof=pending approved rejected implemented expired"`
	WatchlistID       string `query:"watchlistId" validate:"omitempty,max=64"`
	WatchlistOverride string `query:"watchlistOverride" validate:"omitempty,max=64"`
	Limit             int    `query:"limit" default:"100" validate:"gte=1,lte=1000"`
}

type ReviewSuggestionRequest struct {
	Decision string `json:"decision" validate:"required,oneof=approve reject"`
	Notes    string `json:"notes" validate:"max=2000"`
}

type ListSignalsRequest struct {
	Status  string `query:"status" validate:"omitempty,oneof=active executed expired cancelled"`
	AssetID string `query:"assetId" validate:"omitempty,max=64"`
	Limit   int    `query:"limit" default:"100" validate:"gte=1,lte=1000"`
}

type ExecuteSignalRequest struct {
	PositionSize        decimal.Decimal `json:"positionSize" validate:"gt=0"`
	PortfolioPercentage decimal.Decimal `json:"portfolioPercentage" validate:"gt=0,lte=1"`
	ExecutionPrice      decimal.Decimal `json:"executionPrice" validate:"gte=0"`
}

type CancelSignalRequest struct {
	Reason string `json:"reason" validate:"required,max=500"`
}

type ListAuditRequest struct {
	EntityType string `query:"entityType" validate:"omitempty,oneof=suggestion signal execution watchlist"`
	EntityID   string `query:"entityId" validate:"omitempty,max=64"`
	ActorID    string `query:"actorId" validate:"omitempty,max=64"`
	Limit      int    `query:"limit" default:"100" validate:"gte=1,lte=1000"`
}
