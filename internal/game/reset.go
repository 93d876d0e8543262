package game

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"
)

type CountResetter interface {
	Reset()
}

type Flusher interface {
	Flush(ctx context.Context) error
}

type FoodResetter interface {
	ResetFood(ctx context.Context) error
}

type PlayerResetter interface {
	ResetPlayers(ctx context.Context, dollars float64) error
}

// Resetter restarts the game economy: zone counts back to zero, food signals
// cleared, and every player back to the starting balance with no holdings.
type Resetter struct {
	logger          *zap.Logger
	counts          CountResetter
	pricer          Flusher
	food            FoodResetter
	players         PlayerResetter
	startingDollars float64
	onReset         []func()
}

func NewResetter(logger *zap.Logger, counts CountResetter, pricer Flusher, food FoodResetter, players PlayerResetter, startingDollars float64) *Resetter {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Resetter{
		logger:          logger,
		counts:          counts,
		pricer:          pricer,
		food:            food,
		players:         players,
		startingDollars: startingDollars,
	}
}

// OnReset registers fn to run after the in-memory counts are zeroed.
func (r *Resetter) OnReset(fn func()) {
	r.onReset = append(r.onReset, fn)
}

// Reset runs every step even when an earlier one fails and returns the joined errors.
// The in-memory zeroing always succeeds; a failed write is retried by the pricer loop.
func (r *Resetter) Reset(ctx context.Context) error {
	r.logger.Info("game.reset_started")

	r.counts.Reset()
	for _, fn := range r.onReset {
		fn()
	}

	var errs []error
	if err := r.pricer.Flush(ctx); err != nil {
		r.logger.Warn("game.reset_counts_failed", zap.Error(err))
		errs = append(errs, fmt.Errorf("persist counts: %w", err))
	}
	if r.food != nil {
		if err := r.food.ResetFood(ctx); err != nil {
			r.logger.Warn("game.reset_food_failed", zap.Error(err))
			errs = append(errs, fmt.Errorf("reset food: %w", err))
		}
	}
	if r.players != nil {
		if err := r.players.ResetPlayers(ctx, r.startingDollars); err != nil {
			r.logger.Warn("game.reset_players_failed", zap.Error(err))
			errs = append(errs, fmt.Errorf("reset players: %w", err))
		}
	}

	if len(errs) > 0 {
		return errors.Join(errs...)
	}
	r.logger.Info("game.reset_completed")
	return nil
}
