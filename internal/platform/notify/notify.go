// Package notify carries outbound notification intents (reminder due,
// dose missed, family adherence alert) to whatever delivers them.
// Dispatch is fire-and-forget: a failed emission is logged and never
// fails the operation that produced it.
package notify

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// IntentType identifies the kind of notification requested.
type IntentType string

const (
	IntentReminderDue    IntentType = "reminder_due"
	IntentDoseMissed     IntentType = "dose_missed"
	IntentAdherenceAlert IntentType = "family_adherence_alert"
)

// Urgency levels understood by the delivery side.
const (
	UrgencyLow    = "low"
	UrgencyNormal = "normal"
	UrgencyHigh   = "high"
)

// Intent is the payload handed to the delivery collaborator. The engine
// does not know or care whether it becomes an email, SMS, or push.
type Intent struct {
	ID         uuid.UUID         `json:"id"`
	Type       IntentType        `json:"type"`
	PatientID  uuid.UUID         `json:"patient_id"`
	CommandID  uuid.UUID         `json:"command_id,omitempty"`
	Urgency    string            `json:"urgency"`
	Details    map[string]string `json:"details,omitempty"`
	OccurredAt time.Time         `json:"occurred_at"`
}

// Emitter publishes a single intent.
type Emitter interface {
	Emit(ctx context.Context, intent Intent) error
}

// Dispatcher wraps an Emitter with id/timestamp assignment and async,
// never-failing dispatch.
type Dispatcher struct {
	emitter Emitter
	log     zerolog.Logger
}

// NewDispatcher creates a Dispatcher around the given emitter.
func NewDispatcher(emitter Emitter, log zerolog.Logger) *Dispatcher {
	return &Dispatcher{emitter: emitter, log: log.With().Str("component", "notify").Logger()}
}

// Dispatch publishes the intent on a background goroutine. Emission uses
// its own timeout so a slow broker cannot hold a request open.
func (d *Dispatcher) Dispatch(intent Intent) {
	if intent.ID == uuid.Nil {
		intent.ID = uuid.New()
	}
	if intent.OccurredAt.IsZero() {
		intent.OccurredAt = time.Now().UTC()
	}
	if intent.Urgency == "" {
		intent.Urgency = UrgencyNormal
	}

	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := d.emitter.Emit(ctx, intent); err != nil {
			d.log.Error().Err(err).
				Str("intent_id", intent.ID.String()).
				Str("intent_type", string(intent.Type)).
				Str("patient_id", intent.PatientID.String()).
				Msg("failed to emit notification intent")
		}
	}()
}

// LogEmitter records intents in the log only. Used when no broker is
// configured (development, tests of the wiring).
type LogEmitter struct {
	log zerolog.Logger
}

// NewLogEmitter creates a LogEmitter.
func NewLogEmitter(log zerolog.Logger) *LogEmitter {
	return &LogEmitter{log: log}
}

// Emit logs the intent.
func (e *LogEmitter) Emit(_ context.Context, intent Intent) error {
	e.log.Info().
		Str("intent_id", intent.ID.String()).
		Str("intent_type", string(intent.Type)).
		Str("patient_id", intent.PatientID.String()).
		Str("urgency", intent.Urgency).
		Msg("notification intent")
	return nil
}

// MockEmitter is a test double that records emitted intents.
type MockEmitter struct {
	mu      sync.Mutex
	intents []Intent
	Fail    error
}

// Emit records the intent and optionally returns the configured error.
func (m *MockEmitter) Emit(_ context.Context, intent Intent) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.intents = append(m.intents, intent)
	return m.Fail
}

// Intents returns a copy of recorded intents.
func (m *MockEmitter) Intents() []Intent {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Intent, len(m.intents))
	copy(out, m.intents)
	return out
}
