package notify

import (
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

func waitForIntents(t *testing.T, m *MockEmitter, n int) []Intent {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if got := m.Intents(); len(got) >= n {
			return got
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %d intents, have %d", n, len(m.Intents()))
	return nil
}

func TestDispatcher_AssignsDefaults(t *testing.T) {
	mock := &MockEmitter{}
	d := NewDispatcher(mock, zerolog.Nop())

	d.Dispatch(Intent{Type: IntentDoseMissed, PatientID: uuid.New()})

	got := waitForIntents(t, mock, 1)
	if got[0].ID == uuid.Nil {
		t.Error("expected assigned intent id")
	}
	if got[0].OccurredAt.IsZero() {
		t.Error("expected assigned timestamp")
	}
	if got[0].Urgency != UrgencyNormal {
		t.Errorf("expected normal urgency default, got %q", got[0].Urgency)
	}
}

func TestDispatcher_EmitFailureDoesNotPropagate(t *testing.T) {
	mock := &MockEmitter{Fail: errors.New("broker down")}
	d := NewDispatcher(mock, zerolog.Nop())

	// Dispatch returns nothing; failure must be swallowed.
	d.Dispatch(Intent{Type: IntentReminderDue, PatientID: uuid.New()})
	waitForIntents(t, mock, 1)
}
