package food

import (
	"context"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/aipoopers/zonemarket/internal/metrics"
	"github.com/aipoopers/zonemarket/pkg/model"
)

// Source reads the food signal row.
type Source interface {
	EnsureFood(ctx context.Context) error
	GetFood(ctx context.Context) (map[model.ZoneID]float64, error)
}

// Publisher announces spawns.
type Publisher interface {
	PublishFoodSpawn(ctx context.Context, spawn model.FoodSpawn) error
}

// Watcher turns rising food values into spawn signals. Every zone starts at a
// last-seen value of 0; a value above it emits one spawn and becomes the new
// last-seen value, a value below it (after a reset) rebases silently.
type Watcher struct {
	logger *zap.Logger
	source Source
	pub    Publisher

	mu      sync.Mutex
	ensured bool
	last    map[model.ZoneID]float64
}

// NewWatcher creates a watcher. pub may be nil.
func NewWatcher(logger *zap.Logger, source Source, pub Publisher) *Watcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Watcher{
		logger: logger,
		source: source,
		pub:    pub,
		last:   make(map[model.ZoneID]float64),
	}
}

// Poll reads the food row once and returns the spawns it triggered, in zone name order.
func (w *Watcher) Poll(ctx context.Context) ([]model.FoodSpawn, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if !w.ensured {
		if err := w.source.EnsureFood(ctx); err != nil {
			return nil, err
		}
		w.ensured = true
	}

	values, err := w.source.GetFood(ctx)
	if err != nil {
		return nil, err
	}
	metrics.SetLastPoll("food", time.Now())

	zones := make([]model.ZoneID, 0, len(values))
	for z := range values {
		zones = append(zones, z)
	}
	sort.Slice(zones, func(i, j int) bool { return zones[i] < zones[j] })

	var spawns []model.FoodSpawn
	for _, z := range zones {
		v := values[z]
		last := w.last[z]
		switch {
		case v > last:
			w.last[z] = v
			spawns = append(spawns, model.FoodSpawn{Zone: z, Value: v})
		case v < last:
			w.logger.Info("food.rebased", zap.String("zone", string(z)), zap.Float64("from", last), zap.Float64("to", v))
			w.last[z] = v
		}
	}

	for _, s := range spawns {
		w.logger.Info("food.spawn", zap.String("zone", string(s.Zone)), zap.Float64("value", s.Value))
		if w.pub != nil {
			if err := w.pub.PublishFoodSpawn(ctx, s); err != nil {
				w.logger.Warn("food.publish_failed", zap.String("zone", string(s.Zone)), zap.Error(err))
			}
		}
	}
	return spawns, nil
}

// Reset forgets the last-seen values.
func (w *Watcher) Reset() {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.last = make(map[model.ZoneID]float64)
}
