package model

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// Envelope wraps every event published by the service.
type Envelope struct {
	ID        uuid.UUID       `json:"id"`
	EventType string          `json:"event_type"`
	Version   string          `json:"version"`
	Source    string          `json:"source"`
	Timestamp time.Time       `json:"timestamp"`
	Payload   json.RawMessage `json:"payload"`
}

// NewEnvelope marshals payload into a fresh envelope.
func NewEnvelope(eventType, source string, payload any) (*Envelope, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return &Envelope{
		ID:        uuid.New(),
		EventType: eventType,
		Version:   "1.0.0",
		Source:    source,
		Timestamp: time.Now().UTC(),
		Payload:   data,
	}, nil
}

// RatesUpdated is emitted whenever a zone count changes or the market resets.
type RatesUpdated struct {
	Rates  Rates  `json:"rates"`
	Counts Counts `json:"counts"`
	Reset  bool   `json:"reset,omitempty"`
}

// PoopRecorded lists the zones credited by a single poop event.
type PoopRecorded struct {
	Zones []ZoneID `json:"zones"`
}

// FoodSpawn signals that a zone's food value rose and food should appear there.
type FoodSpawn struct {
	Zone  ZoneID  `json:"zone"`
	Value float64 `json:"value"`
}
