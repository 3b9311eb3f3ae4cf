package models

import "time"

const (
	EntitySuggestion = "suggestion"
	EntitySignal     = "signal"
	EntityExecution  = "execution"
	EntityWatchlist  = "watchlist"
)

const (
	ActionSuggestionCreated     = "suggestion.created"
	ActionSuggestionRefreshed   = "suggestion.refreshed"
	ActionSuggestionApproved    = "suggestion.approved"
	ActionSuggestionAutoApprove = "suggestion.auto_approved"
	ActionSuggestionRejected    = "suggestion.rejected"
	ActionSuggestionImplemented = "suggestion.implemented"
	ActionSuggestionReverted    = "suggestion.reverted"
	ActionSuggestionExpired     = "suggestion.expired"
	ActionSignalCreated         = "signal.created"
	ActionSignalRejected        = "signal.rejected"
	ActionSignalExecuted        = "signal.executed"
	ActionSignalExpired         = "signal.expired"
	ActionSignalCancelled       = "signal.cancelled"
	ActionExecutionFilled       = "execution.filled"
	ActionExecutionRejected     = "execution.rejected"
	ActionWatchlistCreated      = "watchlist.created"
)

type AuditEntry struct {
	ID         string         `json:"id"`
	ActorID    string         `json:"actorId"`
	Action     string         `json:"action"`
	EntityType string         `json:"entityType"`
	EntityID   string         `json:"entityId"`
	Details    map[string]any `json:"details,omitempty"`
	Timestamp  time.Time      `json:"timestamp"`
}

type AuditFilter struct {
	EntityType string
	EntityID   string
	ActorID    string
	Limit      int
}
