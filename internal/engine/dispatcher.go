package engine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/aipoopers/zonemarket/pkg/model"
)

// Message types sent by the game engine.
const (
	TypeEnter = "zone.enter"
	TypeExit  = "zone.exit"
	TypePoop  = "poop"
)

var (
	ErrMalformed   = errors.New("malformed engine message")
	ErrUnknownZone = errors.New("unknown zone")
	ErrUnknownType = errors.New("unknown message type")
)

// Message is one engine event.
type Message struct {
	Type string `json:"type"`
	Zone string `json:"zone,omitempty"`
}

// Aggregator is the zone occupancy tracker.
type Aggregator interface {
	EnterZone(zone model.ZoneID)
	ExitZone(zone model.ZoneID)
	RecordEvent() []model.ZoneID
}

// PoopPublisher announces recorded poops.
type PoopPublisher interface {
	PublishPoop(ctx context.Context, zones []model.ZoneID) error
}

// Dispatcher validates engine events against the configured zones and applies
// them to the aggregator. The HTTP API and the queue consumer share it.
type Dispatcher struct {
	logger *zap.Logger
	agg    Aggregator
	zones  []model.ZoneID
	pub    PoopPublisher
}

// NewDispatcher creates a dispatcher. pub may be nil.
func NewDispatcher(logger *zap.Logger, agg Aggregator, zones []model.ZoneID, pub PoopPublisher) *Dispatcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Dispatcher{logger: logger, agg: agg, zones: zones, pub: pub}
}

// Zone resolves a zone name case-insensitively.
func (d *Dispatcher) Zone(name string) (model.ZoneID, error) {
	z, ok := model.ParseZone(name, d.zones)
	if !ok {
		return "", fmt.Errorf("%w: %q", ErrUnknownZone, name)
	}
	return z, nil
}

// Enter marks the named zone occupied.
func (d *Dispatcher) Enter(name string) (model.ZoneID, error) {
	z, err := d.Zone(name)
	if err != nil {
		return "", err
	}
	d.agg.EnterZone(z)
	return z, nil
}

// Exit marks the named zone unoccupied.
func (d *Dispatcher) Exit(name string) (model.ZoneID, error) {
	z, err := d.Zone(name)
	if err != nil {
		return "", err
	}
	d.agg.ExitZone(z)
	return z, nil
}

// Poop records one event and returns the credited zones.
func (d *Dispatcher) Poop(ctx context.Context) []model.ZoneID {
	zones := d.agg.RecordEvent()
	if len(zones) > 0 && d.pub != nil {
		if err := d.pub.PublishPoop(ctx, zones); err != nil {
			d.logger.Warn("engine.publish_poop_failed", zap.Error(err))
		}
	}
	return zones
}

// Handle decodes and applies one raw engine message.
func (d *Dispatcher) Handle(ctx context.Context, body []byte) error {
	var msg Message
	if err := json.Unmarshal(body, &msg); err != nil {
		return fmt.Errorf("%w: %v", ErrMalformed, err)
	}

	switch msg.Type {
	case TypeEnter:
		_, err := d.Enter(msg.Zone)
		return err
	case TypeExit:
		_, err := d.Exit(msg.Zone)
		return err
	case TypePoop:
		d.Poop(ctx)
		return nil
	case "":
		return fmt.Errorf("%w: missing type", ErrMalformed)
	default:
		return fmt.Errorf("%w: %q", ErrUnknownType, msg.Type)
	}
}
