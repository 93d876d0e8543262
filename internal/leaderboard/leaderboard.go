package leaderboard

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/aipoopers/zonemarket/internal/metrics"
	"github.com/aipoopers/zonemarket/pkg/model"
)

// ErrNotReady is returned by Refresh while market rates are not initialized.
var ErrNotReady = errors.New("rates not initialized")

// Entry is one ranked player.
type Entry struct {
	Rank     int                      `json:"rank"`
	Name     string                   `json:"name"`
	Dollar   float64                  `json:"dollar"`
	Holdings map[model.ZoneID]float64 `json:"holdings"`
	Wealth   float64                  `json:"wealth"`
}

// Compute ranks players by wealth, highest first with ties broken by name, and
// keeps the top limit. Names in exclude never rank.
func Compute(players []model.Player, rates model.Rates, exclude []string, limit int) []Entry {
	skip := make(map[string]struct{}, len(exclude))
	for _, n := range exclude {
		skip[n] = struct{}{}
	}

	entries := make([]Entry, 0, len(players))
	for _, p := range players {
		if _, ok := skip[p.Name]; ok {
			continue
		}
		entries = append(entries, Entry{
			Name:     p.Name,
			Dollar:   p.Dollar,
			Holdings: p.Holdings,
			Wealth:   p.Wealth(rates),
		})
	}

	sort.Slice(entries, func(i, j int) bool {
		if entries[i].Wealth != entries[j].Wealth {
			return entries[i].Wealth > entries[j].Wealth
		}
		return entries[i].Name < entries[j].Name
	})
	if limit > 0 && len(entries) > limit {
		entries = entries[:limit]
	}
	for i := range entries {
		entries[i].Rank = i + 1
	}
	return entries
}

// PlayerLister lists the player ledgers.
type PlayerLister interface {
	ListPlayers(ctx context.Context) ([]model.Player, error)
}

// RateSource supplies the current rates.
type RateSource interface {
	Rates() model.Rates
}

// Sink receives each refreshed board, e.g. a shared cache.
type Sink interface {
	PutLeaderboard(ctx context.Context, board any) error
}

// Board keeps the latest computed leaderboard.
type Board struct {
	logger  *zap.Logger
	players PlayerLister
	rates   RateSource
	sink    Sink
	exclude []string
	limit   int

	mu      sync.RWMutex
	entries []Entry
	updated time.Time
}

// NewBoard creates a board. sink may be nil.
func NewBoard(logger *zap.Logger, players PlayerLister, rates RateSource, sink Sink, exclude []string, limit int) *Board {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Board{
		logger:  logger,
		players: players,
		rates:   rates,
		sink:    sink,
		exclude: exclude,
		limit:   limit,
	}
}

// Refresh recomputes the board. It does nothing until rates are initialized, so
// holdings are never valued at a zero rate.
func (b *Board) Refresh(ctx context.Context) error {
	rates := b.rates.Rates()
	if !rates.Initialized() {
		return ErrNotReady
	}

	players, err := b.players.ListPlayers(ctx)
	if err != nil {
		metrics.IncError("leaderboard", "list_failed")
		b.logger.Warn("leaderboard.list_failed", zap.Error(err))
		return err
	}

	entries := Compute(players, rates, b.exclude, b.limit)
	now := time.Now().UTC()

	b.mu.Lock()
	b.entries = entries
	b.updated = now
	b.mu.Unlock()

	metrics.SetLastPoll("leaderboard", now)
	if b.sink != nil {
		_ = b.sink.PutLeaderboard(ctx, entries)
	}
	b.logger.Debug("leaderboard.refreshed", zap.Int("players", len(players)), zap.Int("ranked", len(entries)))
	return nil
}

// Entries returns the latest board and when it was computed. The time is zero
// before the first successful refresh.
func (b *Board) Entries() ([]Entry, time.Time) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return append([]Entry(nil), b.entries...), b.updated
}
