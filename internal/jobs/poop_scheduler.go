package jobs

import (
	"context"
	"math/rand"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/aipoopers/zonemarket/pkg/model"
)

// Recorder fires one poop event.
type Recorder interface {
	RecordEvent() []model.ZoneID
}

// PoopScheduler fires poop events at uniformly random intervals in [min, max].
// It stands in for the game engine when no engine is driving events.
type PoopScheduler struct {
	logger   *zap.Logger
	recorder Recorder
	min, max time.Duration
	randN    func(n int64) int64
	stopCh   chan struct{}
	stopOnce sync.Once
}

// NewPoopScheduler builds a scheduler. If max < min the interval is fixed at min.
func NewPoopScheduler(logger *zap.Logger, recorder Recorder, min, max time.Duration) *PoopScheduler {
	if logger == nil {
		logger = zap.NewNop()
	}
	if max < min {
		max = min
	}
	return &PoopScheduler{
		logger:   logger,
		recorder: recorder,
		min:      min,
		max:      max,
		randN:    rand.Int63n,
		stopCh:   make(chan struct{}),
	}
}

// NextDelay draws the wait before the next event.
func (s *PoopScheduler) NextDelay() time.Duration {
	span := int64(s.max - s.min)
	if span <= 0 {
		return s.min
	}
	return s.min + time.Duration(s.randN(span+1))
}

// Start fires events until stopped or ctx is cancelled. It blocks.
func (s *PoopScheduler) Start(ctx context.Context) {
	s.logger.Info("poop_scheduler.started", zap.Duration("min", s.min), zap.Duration("max", s.max))

	for {
		timer := time.NewTimer(s.NextDelay())
		select {
		case <-timer.C:
			zones := s.recorder.RecordEvent()
			s.logger.Debug("poop_scheduler.fired", zap.Int("zones", len(zones)))
		case <-s.stopCh:
			timer.Stop()
			s.logger.Info("poop_scheduler.stopped (manual stop)")
			return
		case <-ctx.Done():
			timer.Stop()
			s.logger.Info("poop_scheduler.stopped (context canceled)")
			return
		}
	}
}

// Stop halts the scheduler. It is safe to call more than once.
func (s *PoopScheduler) Stop() {
	s.stopOnce.Do(func() { close(s.stopCh) })
}
