package store

import (
	"context"
	"errors"

	"github.com/aipoopers/zonemarket/pkg/model"
)

// ErrReservedName is returned when a player name collides with a sentinel row.
var ErrReservedName = errors.New("name is reserved for a system row")

// CountStore persists the market's zone count table.
type CountStore interface {
	LoadCounts(ctx context.Context) (model.Counts, error)
	SaveCounts(ctx context.Context, counts model.Counts) error
}

// PlayerStore persists player ledgers.
type PlayerStore interface {
	// GetPlayer returns nil, nil when no player has that name.
	GetPlayer(ctx context.Context, name string) (*model.Player, error)
	CreatePlayer(ctx context.Context, name string, dollars float64) (*model.Player, error)
	UpdatePlayer(ctx context.Context, p model.Player) error
	ListPlayers(ctx context.Context) ([]model.Player, error)
	// ResetPlayers sets every player to dollars with no holdings.
	ResetPlayers(ctx context.Context, dollars float64) error
}

// FoodStore persists the per-zone food signal values.
type FoodStore interface {
	EnsureFood(ctx context.Context) error
	GetFood(ctx context.Context) (map[model.ZoneID]float64, error)
	ResetFood(ctx context.Context) error
}

// Store is everything the service persists.
type Store interface {
	CountStore
	PlayerStore
	FoodStore
	HealthCheck(ctx context.Context) error
	Close() error
}
