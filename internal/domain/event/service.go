package event

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/medtrack/medtrack/internal/domain/command"
	"github.com/medtrack/medtrack/internal/domain/mederr"
	"github.com/medtrack/medtrack/internal/domain/prefs"
	"github.com/medtrack/medtrack/internal/platform/clock"
	"github.com/medtrack/medtrack/internal/platform/db"
	"github.com/medtrack/medtrack/internal/platform/notify"
)

// duplicateWindow is how far around a scheduled instant the log looks
// for an existing take before accepting a new one.
const duplicateWindow = time.Hour

// CommandSource resolves the command an event belongs to.
type CommandSource interface {
	Get(ctx context.Context, id uuid.UUID) (*command.MedicationCommand, error)
}

// OccurrenceSource expands a patient's active commands over a local
// date. The command service satisfies this.
type OccurrenceSource interface {
	OccurrencesForDate(ctx context.Context, patientID uuid.UUID, date string) ([]command.Occurrence, error)
}

// Service owns event recording: takes, misses, skips, snoozes, the
// duplicate guard, and the today view.
type Service struct {
	repo     Repository
	cmds     CommandSource
	occs     OccurrenceSource
	prefs    prefs.Repository
	tx       db.Transactor
	dispatch *notify.Dispatcher
	log      zerolog.Logger
	now      func() time.Time
}

func NewService(repo Repository, cmds CommandSource, occs OccurrenceSource, prefRepo prefs.Repository, tx db.Transactor, dispatch *notify.Dispatcher, log zerolog.Logger) *Service {
	return &Service{
		repo:     repo,
		cmds:     cmds,
		occs:     occs,
		prefs:    prefRepo,
		tx:       tx,
		dispatch: dispatch,
		log:      log.With().Str("component", "event").Logger(),
		now:      time.Now,
	}
}

// TakeRequest records an intake. ScheduledAt is nil for PRN doses.
// ActualAt defaults to the server time; DosePercent defaults to a full
// dose.
type TakeRequest struct {
	CommandID   uuid.UUID  `json:"command_id"`
	ScheduledAt *time.Time `json:"scheduled_at,omitempty"`
	ActualAt    *time.Time `json:"actual_at,omitempty"`
	DoseActual  string     `json:"dose_actual,omitempty"`
	DosePercent *float64   `json:"dose_percent,omitempty"`
}

// Take appends a dose_taken_full or dose_taken_partial event. The
// duplicate guard and the append run in one transaction so concurrent
// double-submissions cannot both pass the check.
func (s *Service) Take(ctx context.Context, req TakeRequest, actor string) (*MedicationEvent, error) {
	cmd, err := s.cmds.Get(ctx, req.CommandID)
	if err != nil {
		return nil, err
	}
	if cmd.Status != command.StatusActive {
		return nil, mederr.Validation("command_id", "command is not active")
	}
	if req.ScheduledAt == nil && !cmd.IsPRN {
		return nil, mederr.Validation("scheduled_at", "required for scheduled medications")
	}
	if req.DosePercent != nil && (*req.DosePercent <= 0 || *req.DosePercent > 100) {
		return nil, mederr.Validation("dose_percent", "must be in (0, 100]")
	}

	now := s.now().UTC()
	actual := now
	if req.ActualAt != nil {
		actual = req.ActualAt.UTC()
	}

	etype := TypeTakenFull
	percent := 100.0
	if req.DosePercent != nil {
		percent = *req.DosePercent
		if percent < 100 {
			etype = TypeTakenPartial
		}
	}

	e := &MedicationEvent{
		ID:             uuid.New(),
		CommandID:      cmd.ID,
		PatientID:      cmd.PatientID,
		Type:           etype,
		ScheduledAt:    req.ScheduledAt,
		ActualAt:       &actual,
		EventTimestamp: now,
		DosePrescribed: cmd.Dosage,
		DoseActual:     req.DoseActual,
		DosePercent:    &percent,
		CorrelationID:  uuid.New(),
		RecordedBy:     actor,
	}
	if req.ScheduledAt != nil {
		onTime, minutesLate := clock.Classify(*req.ScheduledAt, actual, cmd.Grace())
		e.OnTime = &onTime
		e.MinutesLate = &minutesLate
	}

	err = s.tx.InTx(ctx, func(ctx context.Context) error {
		if req.ScheduledAt != nil {
			if existing, err := s.repo.FindActiveTake(ctx, cmd.ID, *req.ScheduledAt, duplicateWindow); err == nil {
				return &mederr.DuplicateEventError{ExistingEventID: existing.ID, ScheduledAt: *existing.ScheduledAt}
			} else if !errors.Is(err, mederr.ErrNotFound) {
				return err
			}
			prior, err := s.repo.ListForOccurrence(ctx, cmd.ID, *req.ScheduledAt)
			if err != nil {
				return err
			}
			if n := len(prior); n > 0 && prior[n-1].Type == TypeTakenUndone {
				return mederr.Validation("scheduled_at", "occurrence was undone; use a correction to reclassify it")
			}
		}
		return s.repo.Append(ctx, e)
	})
	if err != nil {
		return nil, err
	}

	s.log.Info().
		Str("event_id", e.ID.String()).
		Str("command_id", cmd.ID.String()).
		Str("type", e.Type).
		Msg("dose recorded")
	return e, nil
}

// RecordScheduled appends the scheduled marker for one occurrence. It is
// idempotent: an occurrence that already has a scheduled event returns
// the existing one.
func (s *Service) RecordScheduled(ctx context.Context, commandID uuid.UUID, scheduledAt time.Time) (*MedicationEvent, error) {
	cmd, err := s.cmds.Get(ctx, commandID)
	if err != nil {
		return nil, err
	}
	scheduledAt = scheduledAt.UTC()

	var out *MedicationEvent
	err = s.tx.InTx(ctx, func(ctx context.Context) error {
		prior, err := s.repo.ListForOccurrence(ctx, commandID, scheduledAt)
		if err != nil {
			return err
		}
		for _, p := range prior {
			if p.Type == TypeScheduled {
				out = p
				return nil
			}
		}
		out = &MedicationEvent{
			ID:             uuid.New(),
			CommandID:      cmd.ID,
			PatientID:      cmd.PatientID,
			Type:           TypeScheduled,
			ScheduledAt:    &scheduledAt,
			EventTimestamp: s.now().UTC(),
			CorrelationID:  uuid.New(),
		}
		return s.repo.Append(ctx, out)
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// RecordMissed appends a dose_missed event and dispatches a family
// notification intent. Timing-critical classes escalate the urgency.
func (s *Service) RecordMissed(ctx context.Context, commandID uuid.UUID, scheduledAt time.Time, actor string) (*MedicationEvent, error) {
	cmd, err := s.cmds.Get(ctx, commandID)
	if err != nil {
		return nil, err
	}
	scheduledAt = scheduledAt.UTC()

	e := &MedicationEvent{
		ID:             uuid.New(),
		CommandID:      cmd.ID,
		PatientID:      cmd.PatientID,
		Type:           TypeMissed,
		ScheduledAt:    &scheduledAt,
		EventTimestamp: s.now().UTC(),
		CorrelationID:  uuid.New(),
		RecordedBy:     actor,
	}
	if err := s.appendIfNotTaken(ctx, e); err != nil {
		return nil, err
	}

	urgency := notify.UrgencyNormal
	if cmd.Grace() <= 30 {
		urgency = notify.UrgencyHigh
	}
	s.dispatch.Dispatch(notify.Intent{
		Type:      notify.IntentDoseMissed,
		PatientID: cmd.PatientID,
		CommandID: cmd.ID,
		Urgency:   urgency,
		Details: map[string]string{
			"medication":   cmd.Name,
			"scheduled_at": scheduledAt.Format(time.RFC3339),
		},
	})
	return e, nil
}

// RecordSkipped appends a dose_skipped event. A reason is optional here;
// skips are a deliberate user action, not an audit-sensitive correction.
func (s *Service) RecordSkipped(ctx context.Context, commandID uuid.UUID, scheduledAt time.Time, reason, actor string) (*MedicationEvent, error) {
	cmd, err := s.cmds.Get(ctx, commandID)
	if err != nil {
		return nil, err
	}
	scheduledAt = scheduledAt.UTC()

	e := &MedicationEvent{
		ID:             uuid.New(),
		CommandID:      cmd.ID,
		PatientID:      cmd.PatientID,
		Type:           TypeSkipped,
		ScheduledAt:    &scheduledAt,
		EventTimestamp: s.now().UTC(),
		Reason:         reason,
		CorrelationID:  uuid.New(),
		RecordedBy:     actor,
	}
	if err := s.appendIfNotTaken(ctx, e); err != nil {
		return nil, err
	}
	return e, nil
}

// Snooze appends a dose_snoozed event for a still-pending occurrence.
func (s *Service) Snooze(ctx context.Context, commandID uuid.UUID, scheduledAt time.Time, minutes int, actor string) (*MedicationEvent, error) {
	if minutes < 1 || minutes > 24*60 {
		return nil, mederr.Validation("minutes", "must be between 1 and 1440")
	}
	cmd, err := s.cmds.Get(ctx, commandID)
	if err != nil {
		return nil, err
	}
	scheduledAt = scheduledAt.UTC()

	e := &MedicationEvent{
		ID:             uuid.New(),
		CommandID:      cmd.ID,
		PatientID:      cmd.PatientID,
		Type:           TypeSnoozed,
		ScheduledAt:    &scheduledAt,
		EventTimestamp: s.now().UTC(),
		SnoozeMinutes:  &minutes,
		CorrelationID:  uuid.New(),
		RecordedBy:     actor,
	}

	err = s.tx.InTx(ctx, func(ctx context.Context) error {
		prior, err := s.repo.ListForOccurrence(ctx, commandID, scheduledAt)
		if err != nil {
			return err
		}
		if outcome := OutcomeOf(prior); outcome != OutcomePending {
			return mederr.Validation("scheduled_at", "occurrence is already "+outcome)
		}
		return s.repo.Append(ctx, e)
	})
	if err != nil {
		return nil, err
	}
	return e, nil
}

// appendIfNotTaken appends a missed/skipped event unless the occurrence
// already folds to taken.
func (s *Service) appendIfNotTaken(ctx context.Context, e *MedicationEvent) error {
	return s.tx.InTx(ctx, func(ctx context.Context) error {
		prior, err := s.repo.ListForOccurrence(ctx, e.CommandID, *e.ScheduledAt)
		if err != nil {
			return err
		}
		if OutcomeOf(prior) == OutcomeTaken {
			return mederr.Validation("scheduled_at", "occurrence is already taken")
		}
		return s.repo.Append(ctx, e)
	})
}

func (s *Service) Query(ctx context.Context, f Filter) ([]*MedicationEvent, error) {
	return s.repo.Query(ctx, f)
}

func (s *Service) GetByID(ctx context.Context, id uuid.UUID) (*MedicationEvent, error) {
	return s.repo.GetByID(ctx, id)
}

// Chain returns every event sharing a correlation id, in timestamp
// order. This reconstructs a full undo/correction history.
func (s *Service) Chain(ctx context.Context, correlationID uuid.UUID) ([]*MedicationEvent, error) {
	return s.repo.Query(ctx, Filter{CorrelationID: &correlationID, Archived: IncludeAll})
}

// TodaySlot is one expected occurrence with its folded outcome and the
// events behind it.
type TodaySlot struct {
	command.Occurrence
	Outcome string             `json:"outcome"`
	Events  []*MedicationEvent `json:"events,omitempty"`
}

// TodayView is the live current-day projection for one patient.
type TodayView struct {
	Date      string             `json:"date"`
	Timezone  string             `json:"timezone"`
	Slots     []TodaySlot        `json:"slots"`
	PRNEvents []*MedicationEvent `json:"prn_events,omitempty"`
}

// Today merges the day's expected occurrences with the non-archived
// events recorded against them, in the patient's local zone.
func (s *Service) Today(ctx context.Context, patientID uuid.UUID) (*TodayView, error) {
	p, err := s.prefs.Get(ctx, patientID)
	if errors.Is(err, mederr.ErrNotFound) {
		return nil, &mederr.PreferencesMissingError{PatientID: patientID}
	}
	if err != nil {
		return nil, err
	}
	loc, err := p.Location()
	if err != nil {
		return nil, err
	}

	date := clock.LocalDate(loc, s.now())
	start, end, err := clock.DayBounds(loc, date)
	if err != nil {
		return nil, err
	}

	occs, err := s.occs.OccurrencesForDate(ctx, patientID, date)
	if err != nil {
		return nil, err
	}
	events, err := s.repo.Query(ctx, Filter{
		PatientID: &patientID,
		From:      &start,
		To:        &end,
		Archived:  ExcludeArchived,
	})
	if err != nil {
		return nil, err
	}

	byOcc := make(map[string][]*MedicationEvent)
	var prn []*MedicationEvent
	for _, e := range events {
		if e.ScheduledAt == nil {
			prn = append(prn, e)
			continue
		}
		key := occKey(e.CommandID, *e.ScheduledAt)
		byOcc[key] = append(byOcc[key], e)
	}

	view := &TodayView{Date: date, Timezone: p.Timezone, PRNEvents: prn}
	for _, occ := range occs {
		evs := byOcc[occKey(occ.CommandID, occ.ScheduledAt)]
		view.Slots = append(view.Slots, TodaySlot{
			Occurrence: occ,
			Outcome:    OutcomeOf(evs),
			Events:     evs,
		})
	}
	return view, nil
}

func occKey(commandID uuid.UUID, scheduledAt time.Time) string {
	return fmt.Sprintf("%s|%d", commandID, scheduledAt.UTC().Unix())
}
