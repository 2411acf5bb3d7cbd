package service

import (
	"time"

	"github.com/cogivn/daisy-flower-sub000/internal/models"

	"github.com/google/uuid"
)

// WriteOptions mark a write as made by the engine itself. The trigger path
// drops events carrying them, so the engine never re-enters on its own
// writes.
type WriteOptions struct {
	SkipRecompute  bool
	SkipLedgerSync bool
}

// Flags converts the options into the event representation.
func (o WriteOptions) Flags() models.WriteFlags {
	return models.WriteFlags{SkipRecompute: o.SkipRecompute, SkipLedgerSync: o.SkipLedgerSync}
}

// engineWrite is attached to every event describing a write the engine made.
var engineWrite = WriteOptions{SkipRecompute: true, SkipLedgerSync: true}

func newBaseEvent(eventType string, now time.Time) models.BaseEvent {
	return models.BaseEvent{
		EventID:   uuid.New().String(),
		EventType: eventType,
		Timestamp: now,
	}
}

// OptionsFromFlags reads the options carried on an inbound event.
func OptionsFromFlags(f models.WriteFlags) WriteOptions {
	return WriteOptions{SkipRecompute: f.SkipRecompute, SkipLedgerSync: f.SkipLedgerSync}
}
