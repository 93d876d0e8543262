package zone

import (
	"fmt"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/aipoopers/zonemarket/internal/metrics"
	"github.com/aipoopers/zonemarket/pkg/model"
)

// Policy decides which occupied zones a poop event credits.
type Policy int

const (
	// PolicyPerZone credits every occupied zone.
	PolicyPerZone Policy = iota
	// PolicyLastEntered credits only the most recently entered zone that is still occupied.
	PolicyLastEntered
)

func (p Policy) String() string {
	switch p {
	case PolicyLastEntered:
		return "last_entered"
	default:
		return "per_zone"
	}
}

// ParsePolicy maps a config value to a Policy. Empty means PolicyPerZone.
func ParsePolicy(s string) (Policy, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "per_zone":
		return PolicyPerZone, nil
	case "last_entered":
		return PolicyLastEntered, nil
	default:
		return PolicyPerZone, fmt.Errorf("unknown count policy %q", s)
	}
}

// Notifier receives the zones whose counts changed. The market pricer implements it.
type Notifier interface {
	ApplyDelta(zones []model.ZoneID)
}

// ResetNotifier is implemented by notifiers that zero their state together with the aggregator.
type ResetNotifier interface {
	ResetAll()
}

// Aggregator tracks which zones the agent occupies and turns poop events into count deltas.
// Callers may be on different goroutines; the notifier is called under the aggregator lock
// so deltas reach it in the order events were recorded.
type Aggregator struct {
	logger   *zap.Logger
	notifier Notifier
	policy   Policy

	mu       sync.Mutex
	occupied []model.ZoneID // entry order, no duplicates
	counts   model.Counts
}

// NewAggregator returns an aggregator that forwards deltas to notifier (may be nil).
func NewAggregator(logger *zap.Logger, notifier Notifier, policy Policy) *Aggregator {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Aggregator{
		logger:   logger,
		notifier: notifier,
		policy:   policy,
		counts:   make(model.Counts),
	}
}

// EnterZone marks zone as occupied. Entering an occupied zone is a no-op.
func (a *Aggregator) EnterZone(zone model.ZoneID) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.indexOf(zone) >= 0 {
		return
	}
	a.occupied = append(a.occupied, zone)
	if _, ok := a.counts[zone]; !ok {
		a.counts[zone] = 0
	}
	a.logger.Debug("zone.entered", zap.String("zone", string(zone)), zap.Int("occupied", len(a.occupied)))
}

// ExitZone marks zone as unoccupied. Exiting a zone that is not occupied is a no-op.
func (a *Aggregator) ExitZone(zone model.ZoneID) {
	a.mu.Lock()
	defer a.mu.Unlock()

	i := a.indexOf(zone)
	if i < 0 {
		return
	}
	a.occupied = append(a.occupied[:i], a.occupied[i+1:]...)
	a.logger.Debug("zone.exited", zap.String("zone", string(zone)), zap.Int("occupied", len(a.occupied)))
}

// RecordEvent credits one poop to the zones selected by the policy and returns them.
// With nothing occupied it changes nothing and notifies no one.
func (a *Aggregator) RecordEvent() []model.ZoneID {
	a.mu.Lock()
	defer a.mu.Unlock()

	changed := a.credited()
	if len(changed) == 0 {
		a.logger.Debug("zone.poop_ignored", zap.String("reason", "no occupied zone"))
		return nil
	}

	for _, z := range changed {
		a.counts[z]++
		metrics.IncPoop(string(z))
	}
	a.logger.Info("zone.poop_recorded", zap.Any("zones", changed))

	if a.notifier != nil {
		a.notifier.ApplyDelta(changed)
	}
	return changed
}

// Counts returns a snapshot of the counts observed by this aggregator since start or reset.
func (a *Aggregator) Counts() model.Counts {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.counts.Clone()
}

// Occupied returns the occupied zones in entry order.
func (a *Aggregator) Occupied() []model.ZoneID {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]model.ZoneID(nil), a.occupied...)
}

// Reset zeroes every known zone count at once. Occupancy is kept. If the notifier
// supports it, its state is reset under the same lock.
func (a *Aggregator) Reset() {
	a.mu.Lock()
	defer a.mu.Unlock()

	for z := range a.counts {
		a.counts[z] = 0
	}
	if rn, ok := a.notifier.(ResetNotifier); ok {
		rn.ResetAll()
	}
	a.logger.Info("zone.counts_reset", zap.Int("zones", len(a.counts)))
}

func (a *Aggregator) credited() []model.ZoneID {
	if len(a.occupied) == 0 {
		return nil
	}
	if a.policy == PolicyLastEntered {
		return []model.ZoneID{a.occupied[len(a.occupied)-1]}
	}
	return append([]model.ZoneID(nil), a.occupied...)
}

func (a *Aggregator) indexOf(zone model.ZoneID) int {
	for i, z := range a.occupied {
		if z == zone {
			return i
		}
	}
	return -1
}
