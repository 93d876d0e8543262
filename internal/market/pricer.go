package market

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/aipoopers/zonemarket/internal/backend"
	"github.com/aipoopers/zonemarket/internal/metrics"
	"github.com/aipoopers/zonemarket/pkg/model"
)

// CountStore persists the zone count table.
type CountStore interface {
	LoadCounts(ctx context.Context) (model.Counts, error)
	SaveCounts(ctx context.Context, counts model.Counts) error
}

// Listener is called after every change to counts with a consistent snapshot.
type Listener func(model.RatesUpdated)

// Pricer owns the cumulative zone counts and derives rates from them.
//
// Until the first successful Sync every rate reads as 0. Deltas applied before that
// are buffered and added on top of the loaded counts. After it, memory is
// authoritative and the store is a write-through copy kept current by Run.
// Missing backend credentials halt persistence for the life of the process.
type Pricer struct {
	logger        *zap.Logger
	table         *Table
	store         CountStore
	retryInterval time.Duration

	mu        sync.Mutex
	counts    model.Counts
	pending   model.Counts
	synced    bool
	dirty     bool
	version   uint64 // bumped on every mutation of counts
	epoch     uint64 // bumped on every reset
	listeners []Listener
	halted    error // set once credentials are found missing

	ioMu    sync.Mutex // one store call at a time
	flushCh chan struct{}
}

// NewPricer creates a pricer over table. retryInterval paces Run's retries of
// failed loads and saves.
func NewPricer(logger *zap.Logger, table *Table, store CountStore, retryInterval time.Duration) *Pricer {
	if logger == nil {
		logger = zap.NewNop()
	}
	if retryInterval <= 0 {
		retryInterval = 2 * time.Second
	}
	return &Pricer{
		logger:        logger,
		table:         table,
		store:         store,
		retryInterval: retryInterval,
		counts:        make(model.Counts),
		pending:       make(model.Counts),
		flushCh:       make(chan struct{}, 1),
	}
}

// Table returns the pricing table.
func (p *Pricer) Table() *Table { return p.table }

// ComputeRate is the pure pricing function.
func (p *Pricer) ComputeRate(zone model.ZoneID, count int) float64 {
	return p.table.ComputeRate(zone, count)
}

// OnChange registers fn to receive a snapshot after every change.
func (p *Pricer) OnChange(fn Listener) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.listeners = append(p.listeners, fn)
}

// ApplyDelta adds one to each listed zone and schedules a write-through.
func (p *Pricer) ApplyDelta(zones []model.ZoneID) {
	if len(zones) == 0 {
		return
	}

	p.mu.Lock()
	if !p.synced {
		for _, z := range zones {
			p.pending[z]++
		}
		p.mu.Unlock()
		p.logger.Debug("market.delta_buffered", zap.Any("zones", zones))
		return
	}
	for _, z := range zones {
		p.counts[z]++
	}
	p.dirty = true
	p.version++
	snap, listeners := p.snapshotLocked(false)
	p.mu.Unlock()

	p.schedule()
	p.publish(snap, listeners)
}

// ResetAll zeroes every zone in one step and schedules a write-through. It also
// marks the pricer initialized: after a reset the zero table is the truth, and
// a load still in flight is discarded.
func (p *Pricer) ResetAll() {
	p.mu.Lock()
	counts := make(model.Counts, len(p.counts))
	for _, z := range p.table.Zones() {
		counts[z] = 0
	}
	for z := range p.counts {
		counts[z] = 0
	}
	p.counts = counts
	p.pending = make(model.Counts)
	p.synced = true
	p.dirty = true
	p.version++
	p.epoch++
	snap, listeners := p.snapshotLocked(true)
	p.mu.Unlock()

	p.logger.Info("market.reset")
	p.schedule()
	p.publish(snap, listeners)
}

// Rate returns the current rate of zone, or 0 before the first successful Sync.
func (p *Pricer) Rate(zone model.ZoneID) float64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.synced {
		return 0
	}
	return p.table.ComputeRate(zone, p.counts[zone])
}

// Rates returns every zone's rate; all zeros before the first successful Sync.
func (p *Pricer) Rates() model.Rates {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.ratesLocked()
}

// Counts returns a copy of the current counts. Before Sync it holds only the
// buffered deltas.
func (p *Pricer) Counts() model.Counts {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.synced {
		return p.pending.Clone()
	}
	return p.counts.Clone()
}

// Initialized reports whether persisted state has been read (or reset).
func (p *Pricer) Initialized() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.synced
}

// Sync reads persisted counts once. Later calls return immediately.
func (p *Pricer) Sync(ctx context.Context) error {
	p.ioMu.Lock()
	defer p.ioMu.Unlock()

	p.mu.Lock()
	if p.synced {
		p.mu.Unlock()
		return nil
	}
	if p.halted != nil {
		p.mu.Unlock()
		return p.halted
	}
	epoch := p.epoch
	p.mu.Unlock()

	start := time.Now()
	loaded, err := p.store.LoadCounts(ctx)
	if err != nil {
		return p.storeFailed("load", err, start)
	}

	p.mu.Lock()
	if p.synced || p.epoch != epoch {
		p.mu.Unlock()
		p.logger.Info("market.load_discarded", zap.String("reason", "reset during load"))
		return nil
	}

	counts := make(model.Counts, len(loaded))
	for _, z := range p.table.Zones() {
		counts[z] = 0
	}
	for z, n := range loaded {
		counts[z] = n
	}
	merged := 0
	for z, d := range p.pending {
		counts[z] += d
		merged += d
	}
	p.counts = counts
	p.pending = make(model.Counts)
	p.synced = true
	p.dirty = merged > 0
	p.version++
	snap, listeners := p.snapshotLocked(false)
	p.mu.Unlock()

	p.logger.Info("market.synced",
		zap.Any("counts", snap.Counts),
		zap.Int("merged_deltas", merged),
		zap.Duration("elapsed", time.Since(start)))

	if merged > 0 {
		p.schedule()
	}
	p.publish(snap, listeners)
	return nil
}

// Flush writes the full count table if it changed since the last successful write.
// It never writes before initialization. On failure the table stays dirty.
func (p *Pricer) Flush(ctx context.Context) error {
	p.ioMu.Lock()
	defer p.ioMu.Unlock()

	p.mu.Lock()
	if p.halted != nil {
		p.mu.Unlock()
		return p.halted
	}
	if !p.synced || !p.dirty {
		p.mu.Unlock()
		return nil
	}
	counts := p.counts.Clone()
	version := p.version
	p.mu.Unlock()

	if err := p.store.SaveCounts(ctx, counts); err != nil {
		return p.storeFailed("save", err, time.Now())
	}

	p.mu.Lock()
	if p.version == version {
		p.dirty = false
	}
	p.mu.Unlock()

	p.logger.Debug("market.saved", zap.Any("counts", counts))
	return nil
}

// Halted returns the error that stopped persistence, or nil.
func (p *Pricer) Halted() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.halted
}

// storeFailed records a failed store call. Missing credentials are terminal and
// logged once; anything else is retried by Run.
func (p *Pricer) storeFailed(op string, err error, start time.Time) error {
	metrics.IncPersistFailure(op)
	if errors.Is(err, backend.ErrMissingCredentials) {
		p.mu.Lock()
		p.halted = err
		p.mu.Unlock()
		p.logger.Error("market.persistence_halted", zap.String("op", op), zap.Error(err))
		return err
	}
	p.logger.Warn("market."+op+"_failed", zap.Error(err), zap.Duration("elapsed", time.Since(start)))
	return err
}

// Dirty reports whether there are changes not yet written.
func (p *Pricer) Dirty() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.dirty || len(p.pending) > 0
}

// Run syncs and writes through until ctx is cancelled. Scheduled writes run
// promptly; failures are retried every retry interval. A last flush is attempted
// on shutdown.
func (p *Pricer) Run(ctx context.Context) {
	ticker := time.NewTicker(p.retryInterval)
	defer ticker.Stop()

	p.logger.Info("market.pricer_started", zap.Duration("retry_interval", p.retryInterval))
	p.tick(ctx)

	for {
		select {
		case <-p.flushCh:
			p.tick(ctx)
		case <-ticker.C:
			p.tick(ctx)
		case <-ctx.Done():
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			if err := p.Flush(shutdownCtx); err != nil && p.Halted() == nil {
				p.logger.Warn("market.final_flush_failed", zap.Error(err))
			}
			cancel()
			p.logger.Info("market.pricer_stopped")
			return
		}
	}
}

func (p *Pricer) tick(ctx context.Context) {
	if p.Halted() != nil {
		return
	}
	if !p.Initialized() {
		if err := p.Sync(ctx); err != nil {
			return
		}
	}
	_ = p.Flush(ctx)
}

func (p *Pricer) schedule() {
	select {
	case p.flushCh <- struct{}{}:
	default:
	}
}

func (p *Pricer) ratesLocked() model.Rates {
	rates := make(model.Rates, len(p.counts))
	for _, z := range p.table.Zones() {
		rates[z] = 0
	}
	if !p.synced {
		return rates
	}
	for z := range rates {
		rates[z] = p.table.ComputeRate(z, p.counts[z])
	}
	for z, n := range p.counts {
		rates[z] = p.table.ComputeRate(z, n)
	}
	return rates
}

func (p *Pricer) snapshotLocked(reset bool) (model.RatesUpdated, []Listener) {
	snap := model.RatesUpdated{
		Rates:  p.ratesLocked(),
		Counts: p.counts.Clone(),
		Reset:  reset,
	}
	return snap, append([]Listener(nil), p.listeners...)
}

func (p *Pricer) publish(snap model.RatesUpdated, listeners []Listener) {
	for z, r := range snap.Rates {
		metrics.SetZone(string(z), snap.Counts[z], r)
	}
	for _, fn := range listeners {
		fn(snap)
	}
}
