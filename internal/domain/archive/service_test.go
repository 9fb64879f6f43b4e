package archive

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/medtrack/medtrack/internal/domain/command"
	"github.com/medtrack/medtrack/internal/domain/event"
	"github.com/medtrack/medtrack/internal/domain/mederr"
	"github.com/medtrack/medtrack/internal/domain/prefs"
	"github.com/medtrack/medtrack/internal/platform/clock"
	"github.com/medtrack/medtrack/internal/platform/db"
	"github.com/medtrack/medtrack/internal/platform/notify"
)

var chicago = func() *time.Location {
	loc, err := time.LoadLocation("America/Chicago")
	if err != nil {
		panic(err)
	}
	return loc
}()

type mockPrefsRepo struct {
	items   map[uuid.UUID]*prefs.TimePreferences
	listErr error
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
	if r.listErr != nil {
		return nil, r.listErr
	}
	var out []*prefs.TimePreferences
	for _, p := range r.items {
		out = append(out, p)
	}
	return out, nil
}

type mockCommands struct {
	items map[uuid.UUID][]*command.MedicationCommand
}

func (m *mockCommands) ListByPatient(_ context.Context, patientID uuid.UUID) ([]*command.MedicationCommand, error) {
	return m.items[patientID], nil
}

type noopInvalidator struct{ calls int }

func (n *noopInvalidator) Invalidate(context.Context, uuid.UUID) { n.calls++ }

type fixture struct {
	svc       *Service
	events    event.Repository
	summaries *MemoryRepo
	prefs     *mockPrefsRepo
	cmds      *mockCommands
	inval     *noopInvalidator
	patientID uuid.UUID
	cmd       *command.MedicationCommand
	now       time.Time
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	patientID := uuid.New()
	cmd := &command.MedicationCommand{
		ID:         uuid.New(),
		PatientID:  patientID,
		Name:       "Lisinopril",
		Dosage:     "10mg",
		MedClass:   "blood_pressure",
		Frequency:  command.FreqTwiceDaily,
		Times:      []string{"08:00", "20:00"},
		StartDate:  "2026-01-01",
		Indefinite: true,
		Status:     command.StatusActive,
	}
	pr := &mockPrefsRepo{items: map[uuid.UUID]*prefs.TimePreferences{
		patientID: {PatientID: patientID, Timezone: "America/Chicago", WakeTime: "07:00", BedTime: "22:00"},
	}}
	cmds := &mockCommands{items: map[uuid.UUID][]*command.MedicationCommand{patientID: {cmd}}}
	summaries := NewMemoryRepo()
	events := event.NewMemoryRepo()
	inval := &noopInvalidator{}

	fx := &fixture{
		events:    events,
		summaries: summaries,
		prefs:     pr,
		cmds:      cmds,
		inval:     inval,
		patientID: patientID,
		cmd:       cmd,
		// Five minutes past local midnight on 2026-03-03: inside the
		// window, previous day is 2026-03-02.
		now: time.Date(2026, 3, 3, 0, 5, 0, 0, chicago),
	}
	fx.svc = NewService(pr, events, summaries, cmds, inval, db.NoopTransactor{}, 4, 15*time.Minute, zerolog.Nop())
	fx.svc.now = func() time.Time { return fx.now }
	return fx
}

func (fx *fixture) appendTake(t *testing.T, date, tod string, minutesLate int, onTime bool) *event.MedicationEvent {
	t.Helper()
	sched, err := clock.AtTimeOfDay(chicago, date, tod)
	if err != nil {
		t.Fatalf("at time of day: %v", err)
	}
	e := &event.MedicationEvent{
		ID:             uuid.New(),
		CommandID:      fx.cmd.ID,
		PatientID:      fx.patientID,
		Type:           event.TypeTakenFull,
		ScheduledAt:    &sched,
		EventTimestamp: sched.Add(time.Duration(minutesLate) * time.Minute),
		OnTime:         &onTime,
		MinutesLate:    &minutesLate,
		CorrelationID:  uuid.New(),
	}
	if err := fx.events.Append(context.Background(), e); err != nil {
		t.Fatalf("append: %v", err)
	}
	return e
}

func (fx *fixture) appendScheduled(t *testing.T, date, tod string) *event.MedicationEvent {
	t.Helper()
	sched, err := clock.AtTimeOfDay(chicago, date, tod)
	if err != nil {
		t.Fatalf("at time of day: %v", err)
	}
	e := &event.MedicationEvent{
		ID:             uuid.New(),
		CommandID:      fx.cmd.ID,
		PatientID:      fx.patientID,
		Type:           event.TypeScheduled,
		ScheduledAt:    &sched,
		EventTimestamp: sched.Add(-time.Hour),
		CorrelationID:  uuid.New(),
	}
	if err := fx.events.Append(context.Background(), e); err != nil {
		t.Fatalf("append: %v", err)
	}
	return e
}

// The end-to-end scenario: twice daily at 08:00 and 20:00, the morning
// dose taken five minutes late, the evening dose left unresolved. The
// summary shows 2 scheduled, 1 taken, 1 missed, 50% adherence.
func TestArchiveDay_EndToEnd(t *testing.T) {
	fx := newFixture(t)
	fx.appendScheduled(t, "2026-03-02", "08:00")
	fx.appendScheduled(t, "2026-03-02", "20:00")
	fx.appendTake(t, "2026-03-02", "08:00", 5, true)

	p := fx.prefs.items[fx.patientID]
	result, err := fx.svc.ArchiveDay(context.Background(), p, "2026-03-02")
	if err != nil {
		t.Fatalf("archive day: %v", err)
	}
	if result.Skipped {
		t.Fatalf("unexpected skip: %s", result.SkipReason)
	}
	if result.MissedSynthd != 1 {
		t.Errorf("expected 1 synthesized miss for the 20:00 slot, got %d", result.MissedSynthd)
	}

	summary, err := fx.summaries.Get(context.Background(), fx.patientID, "2026-03-02")
	if err != nil {
		t.Fatalf("get summary: %v", err)
	}
	s := summary.Stats
	if s.Scheduled != 2 || s.Taken != 1 || s.Missed != 1 {
		t.Errorf("expected 2 scheduled / 1 taken / 1 missed, got %d/%d/%d", s.Scheduled, s.Taken, s.Missed)
	}
	if summary.OverallAdherenceRate != 50 {
		t.Errorf("expected 50%% adherence, got %.1f", summary.OverallAdherenceRate)
	}
	if len(summary.PerCommand) != 1 || summary.PerCommand[0].CommandID != fx.cmd.ID {
		t.Errorf("unexpected per-command breakdown: %+v", summary.PerCommand)
	}

	// All four events (two scheduled, one take, one synthesized miss)
	// are archived and tagged with the summary.
	archived, err := fx.events.Query(context.Background(), event.Filter{
		PatientID: &fx.patientID,
		Archived:  event.OnlyArchived,
	})
	if err != nil {
		t.Fatalf("query archived: %v", err)
	}
	if len(archived) != 4 {
		t.Fatalf("expected 4 archived events, got %d", len(archived))
	}
	for _, e := range archived {
		if e.DailySummaryID == nil || *e.DailySummaryID != summary.ID {
			t.Error("archived event must reference its summary")
		}
		if e.BelongsToDate == nil || *e.BelongsToDate != "2026-03-02" {
			t.Error("archived event must carry the closed date")
		}
		if e.ArchivedReason != ArchivedReasonDailyReset {
			t.Errorf("unexpected archive reason %q", e.ArchivedReason)
		}
	}
	if fx.inval.calls != 1 {
		t.Errorf("expected one cache invalidation, got %d", fx.inval.calls)
	}
}

func TestArchiveDay_Idempotent(t *testing.T) {
	fx := newFixture(t)
	fx.appendTake(t, "2026-03-02", "08:00", 0, true)
	p := fx.prefs.items[fx.patientID]

	first, err := fx.svc.ArchiveDay(context.Background(), p, "2026-03-02")
	if err != nil {
		t.Fatalf("first run: %v", err)
	}
	second, err := fx.svc.ArchiveDay(context.Background(), p, "2026-03-02")
	if err != nil {
		t.Fatalf("second run: %v", err)
	}
	if !second.Skipped || second.SkipReason != "already archived" {
		t.Errorf("second run must be a no-op, got %+v", second)
	}

	summaries, err := fx.summaries.ListRange(context.Background(), fx.patientID, "2026-03-01", "2026-03-03")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(summaries) != 1 {
		t.Fatalf("expected exactly one summary, got %d", len(summaries))
	}
	if summaries[0].ID != first.SummaryID {
		t.Error("the surviving summary must be the first run's")
	}

	archived, _ := fx.events.Query(context.Background(), event.Filter{PatientID: &fx.patientID, Archived: event.OnlyArchived})
	if len(archived) != first.ArchivedEvents {
		t.Errorf("archived set changed on rerun: %d events, want %d", len(archived), first.ArchivedEvents)
	}
}

func TestArchiveDay_FactualFieldsUntouched(t *testing.T) {
	fx := newFixture(t)
	taken := fx.appendTake(t, "2026-03-02", "08:00", 5, true)
	p := fx.prefs.items[fx.patientID]

	if _, err := fx.svc.ArchiveDay(context.Background(), p, "2026-03-02"); err != nil {
		t.Fatalf("archive day: %v", err)
	}

	after, err := fx.events.GetByID(context.Background(), taken.ID)
	if err != nil {
		t.Fatalf("get event: %v", err)
	}
	if after.Type != taken.Type || !after.ScheduledAt.Equal(*taken.ScheduledAt) ||
		!after.EventTimestamp.Equal(taken.EventTimestamp) || *after.MinutesLate != 5 {
		t.Error("archival must not rewrite factual fields")
	}
	if !after.IsArchived || after.ArchivedAt == nil {
		t.Error("archive block must be set")
	}
}

func TestArchiveDay_NoEventsSkips(t *testing.T) {
	fx := newFixture(t)
	p := fx.prefs.items[fx.patientID]

	result, err := fx.svc.ArchiveDay(context.Background(), p, "2026-03-02")
	if err != nil {
		t.Fatalf("archive day: %v", err)
	}
	if !result.Skipped || result.SkipReason != "no events" {
		t.Errorf("an empty day must be skipped, got %+v", result)
	}
	if _, err := fx.summaries.Get(context.Background(), fx.patientID, "2026-03-02"); !errors.Is(err, mederr.ErrNotFound) {
		t.Error("no summary may exist for an empty day")
	}
}

func TestArchiveDay_SummaryFailureMarksNothing(t *testing.T) {
	fx := newFixture(t)
	fx.appendTake(t, "2026-03-02", "08:00", 0, true)
	fx.summaries.FailCreate = errors.New("disk full")
	p := fx.prefs.items[fx.patientID]

	if _, err := fx.svc.ArchiveDay(context.Background(), p, "2026-03-02"); err == nil {
		t.Fatal("expected the run to fail")
	}

	archived, _ := fx.events.Query(context.Background(), event.Filter{PatientID: &fx.patientID, Archived: event.OnlyArchived})
	if len(archived) != 0 {
		t.Errorf("no events may be marked archived without a summary, got %d", len(archived))
	}

	// The next run succeeds once the store recovers.
	fx.summaries.FailCreate = nil
	result, err := fx.svc.ArchiveDay(context.Background(), p, "2026-03-02")
	if err != nil {
		t.Fatalf("retry: %v", err)
	}
	if result.Skipped {
		t.Errorf("retry should archive, got skip: %s", result.SkipReason)
	}
}

// The spring-forward day in America/Chicago is 23 hours long; both doses
// still land on it and the summary covers them.
func TestArchiveDay_DSTSpringForward(t *testing.T) {
	fx := newFixture(t)
	fx.now = time.Date(2026, 3, 9, 0, 5, 0, 0, chicago)

	start, end, err := clock.DayBounds(chicago, "2026-03-08")
	if err != nil {
		t.Fatalf("day bounds: %v", err)
	}
	if got := end.Sub(start); got != 23*time.Hour {
		t.Fatalf("expected 23-hour day, got %s", got)
	}

	fx.appendTake(t, "2026-03-08", "08:00", 0, true)
	fx.appendTake(t, "2026-03-08", "20:00", 0, true)

	p := fx.prefs.items[fx.patientID]
	result, err := fx.svc.ArchiveDay(context.Background(), p, "2026-03-08")
	if err != nil {
		t.Fatalf("archive day: %v", err)
	}
	if result.Skipped {
		t.Fatalf("unexpected skip: %s", result.SkipReason)
	}
	summary, err := fx.summaries.Get(context.Background(), fx.patientID, "2026-03-08")
	if err != nil {
		t.Fatalf("get summary: %v", err)
	}
	if summary.Stats.Scheduled != 2 || summary.Stats.Taken != 2 {
		t.Errorf("expected both DST-day doses covered, got %d/%d", summary.Stats.Scheduled, summary.Stats.Taken)
	}
}

func TestRun_MidnightWindowGate(t *testing.T) {
	fx := newFixture(t)
	fx.appendTake(t, "2026-03-02", "08:00", 0, true)

	// 14:00 local: far from midnight, everything skips.
	fx.now = time.Date(2026, 3, 3, 14, 0, 0, 0, chicago)
	report := fx.svc.Run(context.Background())
	if report.Archived != 0 || report.Skipped != 1 {
		t.Errorf("expected skip outside window, got %+v", report)
	}

	// Back inside the window the day closes.
	fx.now = time.Date(2026, 3, 3, 0, 10, 0, 0, chicago)
	report = fx.svc.Run(context.Background())
	if report.Archived != 1 {
		t.Errorf("expected one archived patient, got %+v", report)
	}
}

func TestRun_PatientErrorIsolation(t *testing.T) {
	fx := newFixture(t)
	fx.appendTake(t, "2026-03-02", "08:00", 0, true)

	// A second patient with an unloadable timezone fails alone.
	badID := uuid.New()
	fx.prefs.items[badID] = &prefs.TimePreferences{
		PatientID: badID, Timezone: "Not/AZone", WakeTime: "07:00", BedTime: "22:00",
	}

	report := fx.svc.Run(context.Background())
	if report.Patients != 2 {
		t.Fatalf("expected 2 patients, got %d", report.Patients)
	}
	if report.Failed != 1 || report.Archived != 1 {
		t.Errorf("one failure must not abort the other patient: %+v", report)
	}
}

func TestRun_EmitsDueReminders(t *testing.T) {
	fx := newFixture(t)
	emitter := &notify.MockEmitter{}
	fx.svc.SetDispatcher(notify.NewDispatcher(emitter, zerolog.Nop()))
	fx.cmd.RemindersEnabled = true
	fx.cmd.ReminderOffsets = []int{10}

	// 07:55 local: the 10-minute reminder for the 08:00 dose fell at
	// 07:50, inside the 15-minute lookback.
	fx.now = time.Date(2026, 3, 3, 7, 55, 0, 0, chicago)
	report := fx.svc.Run(context.Background())
	if report.Skipped != 1 {
		t.Fatalf("expected midnight-window skip, got %+v", report)
	}
	if got := report.Results[0].Reminders; got != 1 {
		t.Fatalf("expected 1 reminder, got %d", got)
	}

	deadline := time.Now().Add(2 * time.Second)
	var intents []notify.Intent
	for time.Now().Before(deadline) {
		if intents = emitter.Intents(); len(intents) == 1 {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}
	if len(intents) != 1 {
		t.Fatalf("expected 1 emitted intent, got %d", len(intents))
	}
	in := intents[0]
	if in.Type != notify.IntentReminderDue || in.CommandID != fx.cmd.ID {
		t.Errorf("unexpected intent %+v", in)
	}
	if in.Details["minutes_before"] != "10" {
		t.Errorf("expected 10-minute offset, got %q", in.Details["minutes_before"])
	}

	// The next tick's lookback starts where this one ended, so the same
	// reminder does not fire again.
	fx.now = fx.now.Add(15 * time.Minute)
	report = fx.svc.Run(context.Background())
	if got := report.Results[0].Reminders; got != 0 {
		t.Errorf("reminder must not re-fire on the next tick, got %d", got)
	}
}

func TestArchiveDay_LowAdherenceAlert(t *testing.T) {
	fx := newFixture(t)
	emitter := &notify.MockEmitter{}
	fx.svc.SetDispatcher(notify.NewDispatcher(emitter, zerolog.Nop()))

	// Both doses unresolved: 0% for the day, well below the alert line.
	fx.appendScheduled(t, "2026-03-02", "08:00")
	fx.appendScheduled(t, "2026-03-02", "20:00")

	p := fx.prefs.items[fx.patientID]
	if _, err := fx.svc.ArchiveDay(context.Background(), p, "2026-03-02"); err != nil {
		t.Fatalf("archive day: %v", err)
	}

	deadline := time.Now().Add(2 * time.Second)
	var intents []notify.Intent
	for time.Now().Before(deadline) {
		if intents = emitter.Intents(); len(intents) == 1 {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}
	if len(intents) != 1 {
		t.Fatalf("expected 1 alert, got %d", len(intents))
	}
	if intents[0].Type != notify.IntentAdherenceAlert || intents[0].Urgency != notify.UrgencyHigh {
		t.Errorf("unexpected intent %+v", intents[0])
	}
	if intents[0].Details["date"] != "2026-03-02" {
		t.Errorf("alert must carry the closed date, got %q", intents[0].Details["date"])
	}
}

func TestStatsSource(t *testing.T) {
	fx := newFixture(t)
	fx.appendTake(t, "2026-03-02", "08:00", 0, true)
	p := fx.prefs.items[fx.patientID]
	if _, err := fx.svc.ArchiveDay(context.Background(), p, "2026-03-02"); err != nil {
		t.Fatalf("archive day: %v", err)
	}

	src := NewStatsSource(fx.summaries)
	days, err := src.ListDayStats(context.Background(), fx.patientID, "2026-03-01", "2026-03-03")
	if err != nil {
		t.Fatalf("list day stats: %v", err)
	}
	if len(days) != 1 || days[0].Date != "2026-03-02" {
		t.Fatalf("unexpected day stats: %+v", days)
	}
}
