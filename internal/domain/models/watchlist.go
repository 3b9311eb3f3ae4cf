package models

import "time"

type WatchlistType string

const (
	WatchlistDefault       WatchlistType = "default"
	WatchlistPersonal      WatchlistType = "personal"
	WatchlistAdminOverride WatchlistType = "adminOverride"
)

type WatchlistContext struct {
	ID          string        `json:"id"`
	Type        WatchlistType `json:"type"`
	OwnerUserID string        `json:"ownerUserId,omitempty"`
	MaxAssets   int           `json:"maxAssets"`
	CreatedAt   time.Time     `json:"createdAt"`
}

// WatchlistItem is an asset tracked on a watchlist. Lower tiers rank higher.
type WatchlistItem struct {
	WatchlistID string    `json:"watchlistId"`
	AssetID     string    `json:"assetId"`
	Tier        int       `json:"tier"`
	AddedAt     time.Time `json:"addedAt"`
}

const (
	TopTier     = 1
	BottomTier  = 5
	DefaultTier = 3
)

type Role string

const (
	RoleGuest Role = "guest"
	RoleUser  Role = "user"
	RoleAdmin Role = "admin"
)

// SystemActor is recorded for automated transitions.
const SystemActor = "system"

type Caller struct {
	UserID string `json:"userId,omitempty"`
	Role   Role   `json:"role"`
}

func (c Caller) IsAdmin() bool { return c.Role == RoleAdmin }

func (c Caller) IsGuest() bool { return c.Role == RoleGuest || c.UserID == "" }

// ActorID returns the identifier written to the audit trail.
func (c Caller) ActorID() string {
	if c.UserID == "" {
		return string(RoleGuest)
	}
	return c.UserID
}

// ResolvedContext is the per-request scope produced by the context resolver.
type ResolvedContext struct {
	Caller    Caller           `json:"caller"`
	Watchlist WatchlistContext `json:"watchlist"`
	ReadOnly  bool             `json:"readOnly"`
}
