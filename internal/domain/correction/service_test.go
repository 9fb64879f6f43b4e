package correction

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/medtrack/medtrack/internal/domain/adherence"
	"github.com/medtrack/medtrack/internal/domain/event"
	"github.com/medtrack/medtrack/internal/domain/mederr"
	"github.com/medtrack/medtrack/internal/domain/prefs"
	"github.com/medtrack/medtrack/internal/platform/cache"
	"github.com/medtrack/medtrack/internal/platform/db"
)

type mockPrefsRepo struct {
	items map[uuid.UUID]*prefs.TimePreferences
}

func (r *mockPrefsRepo) Get(_ context.Context, patientID uuid.UUID) (*prefs.TimePreferences, error) {
	p, ok := r.items[patientID]
	if !ok {
		return nil, mederr.ErrNotFound
	}
	return p, nil
}

func (r *mockPrefsRepo) Upsert(_ context.Context, p *prefs.TimePreferences) error {
	r.items[p.PatientID] = p
	return nil
}

func (r *mockPrefsRepo) ListAll(_ context.Context) ([]*prefs.TimePreferences, error) {
	var out []*prefs.TimePreferences
	for _, p := range r.items {
		out = append(out, p)
	}
	return out, nil
}

type emptySummaries struct{}

func (emptySummaries) ListDayStats(context.Context, uuid.UUID, string, string) ([]adherence.DayStats, error) {
	return nil, nil
}

type fixture struct {
	svc       *Service
	events    event.Repository
	patientID uuid.UUID
	commandID uuid.UUID
	now       time.Time
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	patientID := uuid.New()
	events := event.NewMemoryRepo()
	pr := &mockPrefsRepo{items: map[uuid.UUID]*prefs.TimePreferences{
		patientID: {PatientID: patientID, Timezone: "America/Chicago", WakeTime: "07:00", BedTime: "22:00"},
	}}
	adh := adherence.NewService(events, emptySummaries{}, pr, cache.Noop{}, zerolog.Nop())
	svc := NewService(events, pr, adh, db.NoopTransactor{}, zerolog.Nop())

	fx := &fixture{
		svc:       svc,
		events:    events,
		patientID: patientID,
		commandID: uuid.New(),
		now:       time.Date(2026, 3, 2, 14, 0, 0, 0, time.UTC),
	}
	svc.now = func() time.Time { return fx.now }
	return fx
}

// seed appends an event whose server timestamp is fx.now.
func (fx *fixture) seed(t *testing.T, typ string) *event.MedicationEvent {
	t.Helper()
	sched := fx.now.Add(-5 * time.Minute)
	onTime := true
	five := 5
	e := &event.MedicationEvent{
		ID:             uuid.New(),
		CommandID:      fx.commandID,
		PatientID:      fx.patientID,
		Type:           typ,
		ScheduledAt:    &sched,
		EventTimestamp: fx.now,
		CorrelationID:  uuid.New(),
	}
	if event.IsTakenType(typ) {
		e.OnTime = &onTime
		e.MinutesLate = &five
	}
	if err := fx.events.Append(context.Background(), e); err != nil {
		t.Fatalf("seed: %v", err)
	}
	return e
}

func (fx *fixture) advance(d time.Duration) { fx.now = fx.now.Add(d) }

func TestUndo_WithinWindow(t *testing.T) {
	fx := newFixture(t)
	taken := fx.seed(t, event.TypeTakenFull)
	fx.advance(10 * time.Second)

	result, err := fx.svc.Undo(context.Background(), taken.ID, "tapped by mistake", "patient")
	if err != nil {
		t.Fatalf("undo: %v", err)
	}
	if result.Event.Type != event.TypeTakenUndone {
		t.Errorf("expected dose_taken_undone, got %s", result.Event.Type)
	}
	if result.Event.CorrelationID != taken.CorrelationID {
		t.Error("undo must share the original's correlation id")
	}
	if result.PreviousDayRate != 100 || result.NewDayRate != 0 {
		t.Errorf("expected 100 -> 0 adherence feedback, got %.1f -> %.1f",
			result.PreviousDayRate, result.NewDayRate)
	}
}

func TestUndo_WindowBoundary(t *testing.T) {
	fx := newFixture(t)

	// 29.9 seconds: inside.
	taken := fx.seed(t, event.TypeTakenFull)
	fx.advance(29900 * time.Millisecond)
	if _, err := fx.svc.Undo(context.Background(), taken.ID, "", "patient"); err != nil {
		t.Fatalf("undo at 29.9s should succeed: %v", err)
	}

	// 30.1 seconds: expired, correction still offered.
	fx.advance(time.Hour) // move clock so the second take is not a duplicate occurrence
	second := fx.seed(t, event.TypeTakenFull)
	fx.advance(30100 * time.Millisecond)
	_, err := fx.svc.Undo(context.Background(), second.ID, "", "patient")
	var we *mederr.WindowExpiredError
	if !errors.As(err, &we) {
		t.Fatalf("expected WindowExpiredError at 30.1s, got %v", err)
	}
	if !we.CorrectionAvailable {
		t.Error("expired undo inside 24h must offer the correction path")
	}
}

func TestUndo_TooOld(t *testing.T) {
	fx := newFixture(t)
	taken := fx.seed(t, event.TypeTakenFull)
	fx.advance(24*time.Hour + time.Minute)

	_, err := fx.svc.Undo(context.Background(), taken.ID, "", "patient")
	var te *mederr.TooOldError
	if !errors.As(err, &te) {
		t.Fatalf("expected TooOldError past 24h, got %v", err)
	}
}

func TestUndo_OnlyTakes(t *testing.T) {
	fx := newFixture(t)
	missed := fx.seed(t, event.TypeMissed)
	fx.advance(5 * time.Second)

	_, err := fx.svc.Undo(context.Background(), missed.ID, "", "patient")
	var ve *mederr.ValidationError
	if !errors.As(err, &ve) {
		t.Fatalf("expected validation error for undoing a miss, got %v", err)
	}
}

func TestUndo_AlreadyUndone(t *testing.T) {
	fx := newFixture(t)
	taken := fx.seed(t, event.TypeTakenFull)
	fx.advance(5 * time.Second)

	if _, err := fx.svc.Undo(context.Background(), taken.ID, "", "patient"); err != nil {
		t.Fatalf("first undo: %v", err)
	}
	_, err := fx.svc.Undo(context.Background(), taken.ID, "", "patient")
	var ve *mederr.ValidationError
	if !errors.As(err, &ve) {
		t.Fatalf("expected validation error for double undo, got %v", err)
	}
}

func TestCorrect_WindowBoundary(t *testing.T) {
	fx := newFixture(t)

	// 23h59m: inside.
	missed := fx.seed(t, event.TypeMissed)
	fx.advance(23*time.Hour + 59*time.Minute)
	corrected, err := fx.svc.Correct(context.Background(), missed.ID, event.ActionTaken, "took it, forgot to log", "patient")
	if err != nil {
		t.Fatalf("correct at 23h59m should succeed: %v", err)
	}
	if corrected.Type != event.TypeMissedCorrected || corrected.CorrectedTo != event.ActionTaken {
		t.Errorf("unexpected correction event: %+v", corrected)
	}
	if corrected.CorrelationID != missed.CorrelationID {
		t.Error("correction must share the original's correlation id")
	}

	// 24h01m: settled.
	late := fx.seed(t, event.TypeSkipped)
	fx.advance(24*time.Hour + time.Minute)
	_, err = fx.svc.Correct(context.Background(), late.ID, event.ActionTaken, "reason", "patient")
	var te *mederr.TooOldError
	if !errors.As(err, &te) {
		t.Fatalf("expected TooOldError at 24h01m, got %v", err)
	}
}

func TestCorrect_RequiresReason(t *testing.T) {
	fx := newFixture(t)
	missed := fx.seed(t, event.TypeMissed)
	fx.advance(time.Minute)

	_, err := fx.svc.Correct(context.Background(), missed.ID, event.ActionTaken, "", "patient")
	var ve *mederr.ValidationError
	if !errors.As(err, &ve) || ve.Field != "reason" {
		t.Fatalf("expected reason validation error, got %v", err)
	}
}

func TestCorrect_Chained(t *testing.T) {
	fx := newFixture(t)
	missed := fx.seed(t, event.TypeMissed)
	fx.advance(time.Hour)

	first, err := fx.svc.Correct(context.Background(), missed.ID, event.ActionTaken, "took it late", "patient")
	if err != nil {
		t.Fatalf("first correction: %v", err)
	}

	// The second correction targets the first; its window runs from the
	// first correction's timestamp.
	fx.advance(23 * time.Hour)
	second, err := fx.svc.Correct(context.Background(), first.ID, event.ActionSkipped, "actually skipped on purpose", "patient")
	if err != nil {
		t.Fatalf("chained correction: %v", err)
	}
	if second.CorrelationID != missed.CorrelationID {
		t.Error("the whole chain must share one correlation id")
	}

	chain, err := fx.events.Query(context.Background(), event.Filter{CorrelationID: &missed.CorrelationID, Archived: event.IncludeAll})
	if err != nil {
		t.Fatalf("chain query: %v", err)
	}
	if len(chain) != 3 {
		t.Fatalf("expected 3 events in the chain, got %d", len(chain))
	}
	if got := event.OutcomeOf(chain); got != event.OutcomeSkipped {
		t.Errorf("expected final outcome skipped, got %s", got)
	}
}

func TestCorrect_TakeReclassified(t *testing.T) {
	fx := newFixture(t)
	taken := fx.seed(t, event.TypeTakenFull)
	fx.advance(2 * time.Hour)

	corrected, err := fx.svc.Correct(context.Background(), taken.ID, event.ActionSkipped, "logged the wrong med", "patient")
	if err != nil {
		t.Fatalf("correct take: %v", err)
	}
	if corrected.Type != event.TypeSkippedCorrected {
		t.Errorf("expected dose_skipped_corrected, got %s", corrected.Type)
	}

	// Reclassifying a take back to taken is meaningless.
	other := fx.seed(t, event.TypeTakenPartial)
	fx.advance(time.Minute)
	if _, err := fx.svc.Correct(context.Background(), other.ID, event.ActionTaken, "reason", "patient"); err == nil {
		t.Error("expected validation error for taken -> taken")
	}
}
