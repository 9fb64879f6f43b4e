package archive

import (
	"context"
	"errors"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/medtrack/medtrack/internal/domain/adherence"
	"github.com/medtrack/medtrack/internal/domain/command"
	"github.com/medtrack/medtrack/internal/domain/event"
	"github.com/medtrack/medtrack/internal/domain/mederr"
	"github.com/medtrack/medtrack/internal/domain/prefs"
	"github.com/medtrack/medtrack/internal/platform/clock"
	"github.com/medtrack/medtrack/internal/platform/db"
	"github.com/medtrack/medtrack/internal/platform/notify"
)

// A closed day below this adherence rate triggers a family alert.
const alertRateThreshold = 50.0

// CommandSource lists a patient's commands for occurrence synthesis and
// the per-command breakdown. The command repository satisfies this.
type CommandSource interface {
	ListByPatient(ctx context.Context, patientID uuid.UUID) ([]*command.MedicationCommand, error)
}

// Invalidator drops cached adherence reports after a day closes.
type Invalidator interface {
	Invalidate(ctx context.Context, patientID uuid.UUID)
}

// PatientResult is one patient's slice of a run report.
type PatientResult struct {
	PatientID      uuid.UUID `json:"patient_id"`
	Date           string    `json:"date,omitempty"`
	SummaryID      uuid.UUID `json:"summary_id,omitempty"`
	ArchivedEvents int       `json:"archived_events"`
	MissedSynthd   int       `json:"missed_synthesized"`
	Reminders      int       `json:"reminders_emitted"`
	Skipped        bool      `json:"skipped"`
	SkipReason     string    `json:"skip_reason,omitempty"`
	Err            string    `json:"error,omitempty"`
}

// RunReport aggregates one pass over all patients. Failures are counted,
// never propagated; the next interval retries naturally.
type RunReport struct {
	StartedAt  time.Time       `json:"started_at"`
	FinishedAt time.Time       `json:"finished_at"`
	Patients   int             `json:"patients"`
	Archived   int             `json:"archived"`
	Skipped    int             `json:"skipped"`
	Failed     int             `json:"failed"`
	Results    []PatientResult `json:"results"`
}

// Service is the daily reset and archive job.
type Service struct {
	prefs     prefs.Repository
	events    event.Repository
	summaries Repository
	cmds      CommandSource
	inval     Invalidator
	tx        db.Transactor
	dispatch  *notify.Dispatcher
	log       zerolog.Logger

	workers int
	window  time.Duration
	now     func() time.Time
}

func NewService(prefRepo prefs.Repository, events event.Repository, summaries Repository, cmds CommandSource, inval Invalidator, tx db.Transactor, workers int, window time.Duration, log zerolog.Logger) *Service {
	if workers < 1 {
		workers = 1
	}
	return &Service{
		prefs:     prefRepo,
		events:    events,
		summaries: summaries,
		cmds:      cmds,
		inval:     inval,
		tx:        tx,
		log:       log.With().Str("component", "archive").Logger(),
		workers:   workers,
		window:    window,
		now:       time.Now,
	}
}

// SetDispatcher enables reminder-due intents on the recurring sweep.
// Without it the sweep only does archival.
func (s *Service) SetDispatcher(d *notify.Dispatcher) {
	s.dispatch = d
}

// Run is one scheduled pass: every patient with time preferences is
// tested against their local-midnight window, and those inside it get
// their previous day closed out. Per-patient work fans out across a
// bounded worker pool; one patient's failure never touches another's.
func (s *Service) Run(ctx context.Context) *RunReport {
	report := &RunReport{StartedAt: s.now().UTC()}

	patients, err := s.prefs.ListAll(ctx)
	if err != nil {
		s.log.Error().Err(err).Msg("archive run could not list patients")
		report.FinishedAt = s.now().UTC()
		report.Failed = 1
		return report
	}
	report.Patients = len(patients)

	sem := make(chan struct{}, s.workers)
	results := make([]PatientResult, len(patients))
	var wg sync.WaitGroup
	for i, p := range patients {
		wg.Add(1)
		sem <- struct{}{}
		go func(i int, p *prefs.TimePreferences) {
			defer wg.Done()
			defer func() { <-sem }()
			results[i] = s.processPatient(ctx, p)
		}(i, p)
	}
	wg.Wait()

	for _, r := range results {
		switch {
		case r.Err != "":
			report.Failed++
		case r.Skipped:
			report.Skipped++
		default:
			report.Archived++
		}
	}
	report.Results = results
	report.FinishedAt = s.now().UTC()

	s.log.Info().
		Int("patients", report.Patients).
		Int("archived", report.Archived).
		Int("skipped", report.Skipped).
		Int("failed", report.Failed).
		Msg("archive run finished")
	return report
}

// processPatient is one patient's slice of a run, with its own panic
// isolation.
func (s *Service) processPatient(ctx context.Context, p *prefs.TimePreferences) (result PatientResult) {
	result.PatientID = p.PatientID
	defer func() {
		if r := recover(); r != nil {
			s.log.Error().Interface("panic", r).Str("patient_id", p.PatientID.String()).Msg("archive worker panicked")
			result.Err = "panic during archival"
		}
	}()

	loc, err := p.Location()
	if err != nil {
		result.Err = err.Error()
		return result
	}
	now := s.now()
	reminders := s.emitDueReminders(ctx, p, loc, now)

	if !clock.InMidnightWindow(loc, now, s.window) {
		result.Skipped = true
		result.SkipReason = "outside midnight window"
		result.Reminders = reminders
		return result
	}

	date, _, _ := clock.PrevLocalDay(loc, now)
	r, err := s.ArchiveDay(ctx, p, date)
	r.Reminders = reminders
	if err != nil {
		s.log.Error().Err(err).
			Str("patient_id", p.PatientID.String()).
			Str("date", date).
			Msg("patient archival failed")
		result.Date = date
		result.Err = err.Error()
		result.Reminders = reminders
		return result
	}
	return r
}

// emitDueReminders dispatches reminder-due intents for occurrences whose
// reminder instant fell inside the last sweep window. The lookback equals
// the window the runner ticks against, so consecutive sweeps cover the
// timeline without re-firing.
func (s *Service) emitDueReminders(ctx context.Context, p *prefs.TimePreferences, loc *time.Location, now time.Time) int {
	if s.dispatch == nil {
		return 0
	}
	cmds, err := s.cmds.ListByPatient(ctx, p.PatientID)
	if err != nil {
		s.log.Error().Err(err).Str("patient_id", p.PatientID.String()).Msg("reminder sweep could not list commands")
		return 0
	}
	anchors := p.Anchors()
	date := clock.LocalDate(loc, now)

	count := 0
	for _, cmd := range cmds {
		if !cmd.RemindersEnabled || cmd.Status != command.StatusActive {
			continue
		}
		occs, err := cmd.Occurrences(date, loc, anchors)
		if err != nil {
			continue
		}
		offsets := cmd.ReminderOffsets
		if len(offsets) == 0 {
			offsets = []int{0}
		}
		for _, occ := range occs {
			for _, off := range offsets {
				at := occ.ScheduledAt.Add(-time.Duration(off) * time.Minute)
				if at.After(now) || !at.After(now.Add(-s.window)) {
					continue
				}
				s.dispatch.Dispatch(notify.Intent{
					Type:      notify.IntentReminderDue,
					PatientID: p.PatientID,
					CommandID: cmd.ID,
					Details: map[string]string{
						"name":           cmd.Name,
						"dosage":         cmd.Dosage,
						"scheduled_at":   occ.ScheduledAt.UTC().Format(time.RFC3339),
						"minutes_before": strconv.Itoa(off),
					},
				})
				count++
			}
		}
	}
	return count
}

// ArchiveDay closes one (patient, local date): it synthesizes misses for
// unresolved occurrences, folds the day into a summary, and marks the
// day's events archived, all in one transaction. A day that already has
// a summary returns a skip, which is what makes reruns no-ops.
func (s *Service) ArchiveDay(ctx context.Context, p *prefs.TimePreferences, date string) (PatientResult, error) {
	result := PatientResult{PatientID: p.PatientID, Date: date}

	if _, err := s.summaries.Get(ctx, p.PatientID, date); err == nil {
		result.Skipped = true
		result.SkipReason = "already archived"
		return result, nil
	} else if !errors.Is(err, mederr.ErrNotFound) {
		return result, err
	}

	loc, err := p.Location()
	if err != nil {
		return result, err
	}
	start, end, err := clock.DayBounds(loc, date)
	if err != nil {
		return result, err
	}
	anchors := p.Anchors()

	var dayRate float64
	err = s.tx.InTx(ctx, func(ctx context.Context) error {
		events, err := s.events.Query(ctx, event.Filter{
			PatientID: &p.PatientID,
			From:      &start,
			To:        &end,
			Archived:  event.ExcludeArchived,
		})
		if err != nil {
			return err
		}
		if len(events) == 0 {
			result.Skipped = true
			result.SkipReason = "no events"
			return nil
		}

		cmds, err := s.cmds.ListByPatient(ctx, p.PatientID)
		if err != nil {
			return err
		}
		synthesized, err := s.synthesizeMisses(ctx, cmds, events, date, loc, anchors)
		if err != nil {
			return err
		}
		events = append(events, synthesized...)
		result.MissedSynthd = len(synthesized)

		stats := adherence.ComputeDay(date, events, loc, anchors)
		summary := &DailySummary{
			ID:                   uuid.New(),
			PatientID:            p.PatientID,
			Date:                 date,
			Timezone:             p.Timezone,
			Stats:                stats,
			PerCommand:           breakdown(cmds, events, date, loc, anchors),
			OverallAdherenceRate: percent(stats.Taken, stats.Scheduled),
			OnTimeRate:           percent(stats.OnTime, stats.Taken),
		}
		ids := make([]uuid.UUID, len(events))
		for i, e := range events {
			ids[i] = e.ID
		}
		summary.ArchivedEventIDs = ids

		// The summary goes in first: if it cannot be written, nothing
		// gets marked and the next run retries cleanly.
		if err := s.summaries.Create(ctx, summary); err != nil {
			return err
		}
		marked, err := s.events.MarkArchived(ctx, ids, event.ArchiveStatus{
			ArchivedAt:     s.now().UTC(),
			Reason:         ArchivedReasonDailyReset,
			BelongsToDate:  date,
			DailySummaryID: summary.ID,
		})
		if err != nil {
			return err
		}
		result.SummaryID = summary.ID
		result.ArchivedEvents = marked
		dayRate = summary.OverallAdherenceRate
		return nil
	})
	if err != nil {
		return result, err
	}
	if !result.Skipped {
		s.inval.Invalidate(ctx, p.PatientID)
		if s.dispatch != nil && dayRate < alertRateThreshold {
			s.dispatch.Dispatch(notify.Intent{
				Type:      notify.IntentAdherenceAlert,
				PatientID: p.PatientID,
				Urgency:   notify.UrgencyHigh,
				Details: map[string]string{
					"date":           date,
					"adherence_rate": strconv.FormatFloat(dayRate, 'f', 1, 64),
				},
			})
		}
		s.log.Info().
			Str("patient_id", p.PatientID.String()).
			Str("date", date).
			Int("events", result.ArchivedEvents).
			Int("synthesized_misses", result.MissedSynthd).
			Msg("day archived")
	}
	return result, nil
}

// synthesizeMisses appends dose_missed events for every expected
// occurrence of the closed day that accumulated no events at all. The
// day is over, so an untouched occurrence is a miss by definition.
func (s *Service) synthesizeMisses(ctx context.Context, cmds []*command.MedicationCommand, events []*event.MedicationEvent, date string, loc *time.Location, anchors clock.Anchors) ([]*event.MedicationEvent, error) {
	seen := map[string]bool{}
	for _, e := range events {
		if e.ScheduledAt != nil {
			seen[occKey(e.CommandID, *e.ScheduledAt)] = true
		}
	}

	var synthesized []*event.MedicationEvent
	for _, cmd := range cmds {
		occs, err := cmd.Occurrences(date, loc, anchors)
		if err != nil {
			return nil, err
		}
		for _, occ := range occs {
			if seen[occKey(occ.CommandID, occ.ScheduledAt)] {
				continue
			}
			sched := occ.ScheduledAt
			missed := &event.MedicationEvent{
				ID:             uuid.New(),
				CommandID:      occ.CommandID,
				PatientID:      occ.PatientID,
				Type:           event.TypeMissed,
				ScheduledAt:    &sched,
				EventTimestamp: s.now().UTC(),
				Reason:         "unresolved at day close",
				CorrelationID:  uuid.New(),
				RecordedBy:     "daily_reset",
			}
			if err := s.events.Append(ctx, missed); err != nil {
				return nil, err
			}
			synthesized = append(synthesized, missed)
		}
	}
	return synthesized, nil
}

// breakdown folds the day once per command.
func breakdown(cmds []*command.MedicationCommand, events []*event.MedicationEvent, date string, loc *time.Location, anchors clock.Anchors) []CommandBreakdown {
	names := make(map[uuid.UUID]string, len(cmds))
	for _, c := range cmds {
		names[c.ID] = c.Name
	}
	byCmd := map[uuid.UUID][]*event.MedicationEvent{}
	var order []uuid.UUID
	for _, e := range events {
		if _, ok := byCmd[e.CommandID]; !ok {
			order = append(order, e.CommandID)
		}
		byCmd[e.CommandID] = append(byCmd[e.CommandID], e)
	}
	sort.Slice(order, func(i, j int) bool { return order[i].String() < order[j].String() })

	out := make([]CommandBreakdown, 0, len(order))
	for _, id := range order {
		stats := adherence.ComputeDay(date, byCmd[id], loc, anchors)
		out = append(out, CommandBreakdown{
			CommandID: id,
			Name:      names[id],
			Scheduled: stats.Scheduled,
			Taken:     stats.Taken,
			Missed:    stats.Missed,
			Skipped:   stats.Skipped,
		})
	}
	return out
}

func percent(part, whole int) float64 {
	if whole == 0 {
		return 0
	}
	return float64(part) / float64(whole) * 100
}

func occKey(commandID uuid.UUID, scheduledAt time.Time) string {
	return commandID.String() + "|" + scheduledAt.UTC().Format(time.RFC3339)
}
