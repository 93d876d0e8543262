package jobs

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/aipoopers/zonemarket/internal/metrics"
)

// Periodic runs fn on a fixed interval until stopped or its context is cancelled.
type Periodic struct {
	logger   *zap.Logger
	name     string
	interval time.Duration
	fn       func(ctx context.Context) error
	haltOn   []error
	stopCh   chan struct{}
	stopOnce sync.Once
}

// NewPeriodic constructs a background job. name prefixes its log events.
func NewPeriodic(logger *zap.Logger, name string, interval time.Duration, fn func(ctx context.Context) error) *Periodic {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Periodic{
		logger:   logger,
		name:     name,
		interval: interval,
		fn:       fn,
		stopCh:   make(chan struct{}),
	}
}

// HaltOn makes the job stop for good, logging once, when fn fails with any of
// targets. Call it before Start.
func (p *Periodic) HaltOn(targets ...error) *Periodic {
	p.haltOn = append(p.haltOn, targets...)
	return p
}

// Start runs fn once immediately and then on every tick. It blocks.
func (p *Periodic) Start(ctx context.Context) {
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	p.logger.Info(p.name+".started", zap.Duration("interval", p.interval))
	if p.runOnce(ctx) {
		return
	}

	for {
		select {
		case <-ticker.C:
			if p.runOnce(ctx) {
				return
			}
		case <-p.stopCh:
			p.logger.Info(p.name + ".stopped (manual stop)")
			return
		case <-ctx.Done():
			p.logger.Info(p.name + ".stopped (context canceled)")
			return
		}
	}
}

// Stop halts the job. It is safe to call more than once.
func (p *Periodic) Stop() {
	p.stopOnce.Do(func() { close(p.stopCh) })
}

// runOnce reports whether the job must halt.
func (p *Periodic) runOnce(ctx context.Context) bool {
	start := time.Now()
	if err := p.fn(ctx); err != nil {
		for _, target := range p.haltOn {
			if errors.Is(err, target) {
				metrics.IncError(p.name, "halted")
				p.logger.Error(p.name+".halted", zap.Error(err))
				return true
			}
		}
		metrics.IncError(p.name, "run_failed")
		p.logger.Warn(p.name+".run_failed", zap.Error(err), zap.Duration("elapsed", time.Since(start)))
		return false
	}
	p.logger.Debug(p.name+".success", zap.Duration("duration", time.Since(start)))
	return false
}
