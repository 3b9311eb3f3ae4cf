package models

import (
	"encoding/json"
	"time"
)

type SuggestionKind string

const (
	SuggestionAdd     SuggestionKind = "add"
	SuggestionRemove  SuggestionKind = "remove"
	SuggestionPromote SuggestionKind = "promote"
	SuggestionDemote  SuggestionKind = "demote"
)

func (k SuggestionKind) Valid() bool {
	switch k {
	case SuggestionAdd, SuggestionRemove, SuggestionPromote, SuggestionDemote:
		return true
	}
	return false
}

// WatchlistMutation is the watchlist change an implemented suggestion makes.
// Key is the suggestion id.
type WatchlistMutation struct {
	Key         string
	WatchlistID string
	AssetID     string
	Kind        SuggestionKind
}

// TierDelta is the tier shift for promote and demote. Tier 1 is the top.
func (m WatchlistMutation) TierDelta() int {
	switch m.Kind {
	case SuggestionPromote:
		return -1
	case SuggestionDemote:
		return 1
	}
	return 0
}

type SuggestionStatus string

const (
	SuggestionPending     SuggestionStatus = "pending"
	SuggestionApproved    SuggestionStatus = "approved"
	SuggestionRejected    SuggestionStatus = "rejected"
	SuggestionImplemented SuggestionStatus = "implemented"
	SuggestionExpired     SuggestionStatus = "expired"
)

func (s SuggestionStatus) Valid() bool {
	switch s {
	case SuggestionPending, SuggestionApproved, SuggestionRejected, SuggestionImplemented, SuggestionExpired:
		return true
	}
	return false
}

func (s SuggestionStatus) Terminal() bool {
	return s == SuggestionRejected || s == SuggestionImplemented || s == SuggestionExpired
}

var suggestionTransitions = map[SuggestionStatus][]SuggestionStatus{
	SuggestionPending:  {SuggestionApproved, SuggestionRejected, SuggestionExpired},
	SuggestionApproved: {SuggestionImplemented, SuggestionPending, SuggestionExpired},
}

// CanTransition reports whether from -> to is an edge of the suggestion lifecycle.
func (s SuggestionStatus) CanTransition(to SuggestionStatus) bool {
	for _, next := range suggestionTransitions[s] {
		if next == to {
			return true
		}
	}
	return false
}

type ReviewDecision string

const (
	DecisionApprove ReviewDecision = "approve"
	DecisionReject  ReviewDecision = "reject"
)

func (d ReviewDecision) Target() SuggestionStatus {
	if d == DecisionApprove {
		return SuggestionApproved
	}
	return SuggestionRejected
}

type Suggestion struct {
	ID          string           `json:"id"`
	AssetID     string           `json:"assetId"`
	WatchlistID string           `json:"watchlistId"`
	Kind        SuggestionKind   `json:"kind"`
	Confidence  float64          `json:"confidence"`
	Reasoning   json.RawMessage  `json:"reasoning,omitempty"`
	Status      SuggestionStatus `json:"status"`
	CreatedAt   time.Time        `json:"createdAt"`
	UpdatedAt   time.Time        `json:"updatedAt"`
	ExpiresAt   time.Time        `json:"expiresAt"`
	ReviewedBy  string           `json:"reviewedBy,omitempty"`
	ReviewedAt  *time.Time       `json:"reviewedAt,omitempty"`
	ReviewNotes string           `json:"reviewNotes,omitempty"`
}

func (s *Suggestion) ExpiredAt(now time.Time) bool { return !now.Before(s.ExpiresAt) }

// SuggestionTransition describes a compare-and-swap status change.
type SuggestionTransition struct {
	ID         string
	Expected   SuggestionStatus
	Next       SuggestionStatus
	ReviewedBy string
	ReviewedAt *time.Time
	Notes      string
	At         time.Time
}

type SuggestionFilter struct {
	Status      SuggestionStatus
	WatchlistID string
	AssetID     string
	Limit       int
}
