package publisher

import (
	"context"
	"encoding/json"
	"time"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"

	"github.com/aipoopers/zonemarket/internal/metrics"
	"github.com/aipoopers/zonemarket/pkg/model"
)

const (
	EventRatesUpdated = "market.rates.updated"
	EventPoopRecorded = "zone.poop.recorded"
	EventFoodSpawn    = "food.spawn"
)

// jetStream is the part of nats.JetStreamContext the publisher needs.
type jetStream interface {
	PublishMsg(m *nats.Msg, opts ...nats.PubOpt) (*nats.PubAck, error)
}

// Publisher emits market events as envelopes on NATS JetStream. Event subjects are
// the base subject plus the event type, e.g. evt.zonemarket.market.rates.updated.
type Publisher struct {
	nc      *nats.Conn
	js      jetStream
	logger  *zap.Logger
	subject string
	service string
}

// New creates a publisher and makes sure a stream captures subject.>.
func New(nc *nats.Conn, logger *zap.Logger, subject, stream, service string) (*Publisher, error) {
	js, err := nc.JetStream()
	if err != nil {
		return nil, err
	}
	if stream != "" {
		if _, err := js.StreamInfo(stream); err != nil {
			if _, err := js.AddStream(&nats.StreamConfig{
				Name:     stream,
				Subjects: []string{subject + ".>"},
				MaxAge:   24 * time.Hour,
			}); err != nil {
				return nil, err
			}
		}
	}
	return newWithJetStream(nc, js, logger, subject, service), nil
}

func newWithJetStream(nc *nats.Conn, js jetStream, logger *zap.Logger, subject, service string) *Publisher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Publisher{nc: nc, js: js, logger: logger, subject: subject, service: service}
}

// PublishEnvelope serializes env and publishes it on subject, or on the subject
// derived from its event type when subject is empty.
func (p *Publisher) PublishEnvelope(ctx context.Context, subject string, env *model.Envelope) error {
	data, err := json.Marshal(env)
	if err != nil {
		p.logger.Error("publisher.marshal_failed",
			zap.String("subject", subject),
			zap.String("event_type", env.EventType),
			zap.Error(err))
		metrics.IncError("publisher", "marshal_failed")
		return err
	}

	if subject == "" {
		subject = p.subject + "." + env.EventType
	}

	msg := &nats.Msg{
		Subject: subject,
		Data:    data,
		Header: nats.Header{
			"event_type":   []string{env.EventType},
			"event_id":     []string{env.ID.String()},
			"service":      []string{p.service},
			"content_type": []string{"application/json"},
		},
	}

	start := time.Now()
	_, err = p.js.PublishMsg(msg)
	metrics.ObserveDuration(metrics.NATSMessageLatency, start, subject)

	if err != nil {
		p.logger.Error("publisher.publish_failed",
			zap.String("subject", subject),
			zap.String("event_type", env.EventType),
			zap.Error(err))
		metrics.IncNATSMessage(subject, "error")
		return err
	}

	p.logger.Debug("publisher.publish_success",
		zap.String("subject", subject),
		zap.String("event_type", env.EventType))
	metrics.IncNATSMessage(subject, "ok")
	return nil
}

func (p *Publisher) publish(ctx context.Context, eventType string, payload any) error {
	env, err := model.NewEnvelope(eventType, p.service, payload)
	if err != nil {
		metrics.IncError("publisher", "marshal_failed")
		return err
	}
	return p.PublishEnvelope(ctx, "", env)
}

// PublishRates emits a market.rates.updated event.
func (p *Publisher) PublishRates(ctx context.Context, snap model.RatesUpdated) error {
	return p.publish(ctx, EventRatesUpdated, snap)
}

// PublishPoop emits a zone.poop.recorded event.
func (p *Publisher) PublishPoop(ctx context.Context, zones []model.ZoneID) error {
	return p.publish(ctx, EventPoopRecorded, model.PoopRecorded{Zones: zones})
}

// PublishFoodSpawn emits a food.spawn event.
func (p *Publisher) PublishFoodSpawn(ctx context.Context, spawn model.FoodSpawn) error {
	return p.publish(ctx, EventFoodSpawn, spawn)
}

func (p *Publisher) Close() {
	if p.nc != nil && p.nc.IsConnected() {
		p.nc.Close()
	}
}
