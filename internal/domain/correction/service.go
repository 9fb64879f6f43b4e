// Package correction implements the two-window compensation workflow
// over the event log: undo within 30 seconds of a take, correction
// within 24 hours of a miss or skip. Both append new events sharing the
// original's correlation id; neither ever mutates history. All window
// checks run against server-assigned timestamps, so a skewed client
// clock cannot stretch them.
package correction

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/medtrack/medtrack/internal/domain/event"
	"github.com/medtrack/medtrack/internal/domain/mederr"
	"github.com/medtrack/medtrack/internal/domain/prefs"
	"github.com/medtrack/medtrack/internal/platform/clock"
	"github.com/medtrack/medtrack/internal/platform/db"
)

const (
	// UndoWindow bounds how long after a take it can be undone.
	UndoWindow = 30 * time.Second
	// CorrectionWindow bounds how long any compensation stays possible.
	CorrectionWindow = 24 * time.Hour
)

// AdherenceSource supplies the before/after day rates for undo feedback
// and the cache invalidation hook. The adherence service satisfies this.
type AdherenceSource interface {
	DayRate(ctx context.Context, patientID uuid.UUID, date string) (float64, error)
	Invalidate(ctx context.Context, patientID uuid.UUID)
}

// Service runs undos and corrections.
type Service struct {
	events    event.Repository
	prefs     prefs.Repository
	adherence AdherenceSource
	tx        db.Transactor
	log       zerolog.Logger
	now       func() time.Time
}

func NewService(events event.Repository, prefRepo prefs.Repository, adh AdherenceSource, tx db.Transactor, log zerolog.Logger) *Service {
	return &Service{
		events:    events,
		prefs:     prefRepo,
		adherence: adh,
		tx:        tx,
		log:       log.With().Str("component", "correction").Logger(),
		now:       time.Now,
	}
}

// UndoResult carries the compensating event plus the immediate adherence
// feedback the UI shows after an undo.
type UndoResult struct {
	Event           *event.MedicationEvent `json:"event"`
	PreviousDayRate float64                `json:"previous_day_rate"`
	NewDayRate      float64                `json:"new_day_rate"`
}

// Undo reverses a take made in the last 30 seconds. Past the window it
// fails with WindowExpiredError while a correction is still open, and
// with TooOldError once history is settled.
func (s *Service) Undo(ctx context.Context, originalID uuid.UUID, reason, actor string) (*UndoResult, error) {
	original, err := s.events.GetByID(ctx, originalID)
	if err != nil {
		return nil, err
	}
	if !event.IsTakenType(original.Type) {
		return nil, mederr.Validation("event_id", "only takes can be undone")
	}

	now := s.now().UTC()
	elapsed := now.Sub(original.EventTimestamp)
	if elapsed > CorrectionWindow {
		return nil, &mederr.TooOldError{Elapsed: elapsed}
	}
	if elapsed > UndoWindow {
		return nil, &mederr.WindowExpiredError{
			Elapsed:             elapsed,
			Window:              UndoWindow,
			CorrectionAvailable: true,
		}
	}

	date, err := s.eventDate(ctx, original)
	if err != nil {
		return nil, err
	}
	previous, err := s.adherence.DayRate(ctx, original.PatientID, date)
	if err != nil {
		return nil, err
	}

	undo := &event.MedicationEvent{
		ID:              uuid.New(),
		CommandID:       original.CommandID,
		PatientID:       original.PatientID,
		Type:            event.TypeTakenUndone,
		ScheduledAt:     original.ScheduledAt,
		EventTimestamp:  now,
		OriginalEventID: &original.ID,
		Reason:          reason,
		CorrelationID:   original.CorrelationID,
		RecordedBy:      actor,
	}
	err = s.tx.InTx(ctx, func(ctx context.Context) error {
		chain, err := s.events.Query(ctx, event.Filter{CorrelationID: &original.CorrelationID, Archived: event.IncludeAll})
		if err != nil {
			return err
		}
		for _, e := range chain {
			if e.Type == event.TypeTakenUndone && e.OriginalEventID != nil && *e.OriginalEventID == original.ID {
				return mederr.Validation("event_id", "event is already undone")
			}
		}
		return s.events.Append(ctx, undo)
	})
	if err != nil {
		return nil, err
	}

	s.adherence.Invalidate(ctx, original.PatientID)
	next, err := s.adherence.DayRate(ctx, original.PatientID, date)
	if err != nil {
		return nil, err
	}

	s.log.Info().
		Str("event_id", undo.ID.String()).
		Str("original_event_id", original.ID.String()).
		Dur("elapsed", elapsed).
		Msg("take undone")
	return &UndoResult{Event: undo, PreviousDayRate: previous, NewDayRate: next}, nil
}

// correctedType picks the compensating event type for an original. A
// take corrected away from taken uses the type matching the action it is
// reclassified to.
func correctedType(original *event.MedicationEvent, action string) (string, error) {
	switch original.Type {
	case event.TypeMissed, event.TypeMissedCorrected:
		return event.TypeMissedCorrected, nil
	case event.TypeSkipped, event.TypeSkippedCorrected:
		return event.TypeSkippedCorrected, nil
	case event.TypeTakenFull, event.TypeTakenPartial:
		if action == event.ActionTaken {
			return "", mederr.Validation("action", "event already records a take")
		}
		if action == event.ActionMissed {
			return event.TypeMissedCorrected, nil
		}
		return event.TypeSkippedCorrected, nil
	default:
		return "", mederr.Validation("event_id", "event type "+original.Type+" cannot be corrected")
	}
}

// Correct reclassifies a miss, skip, or take recorded in the last 24
// hours. The reason is mandatory: corrections are audit records. A
// correction can itself be corrected; its own timestamp starts a fresh
// 24-hour window.
func (s *Service) Correct(ctx context.Context, originalID uuid.UUID, action, reason, actor string) (*event.MedicationEvent, error) {
	if reason == "" {
		return nil, mederr.Validation("reason", "is required")
	}
	if action != event.ActionTaken && action != event.ActionSkipped && action != event.ActionMissed {
		return nil, mederr.Validation("action", "must be taken, skipped, or missed")
	}

	original, err := s.events.GetByID(ctx, originalID)
	if err != nil {
		return nil, err
	}
	etype, err := correctedType(original, action)
	if err != nil {
		return nil, err
	}

	now := s.now().UTC()
	elapsed := now.Sub(original.EventTimestamp)
	if elapsed > CorrectionWindow {
		return nil, &mederr.TooOldError{Elapsed: elapsed}
	}

	corrected := &event.MedicationEvent{
		ID:              uuid.New(),
		CommandID:       original.CommandID,
		PatientID:       original.PatientID,
		Type:            etype,
		ScheduledAt:     original.ScheduledAt,
		EventTimestamp:  now,
		OriginalEventID: &original.ID,
		Reason:          reason,
		CorrectedTo:     action,
		CorrelationID:   original.CorrelationID,
		RecordedBy:      actor,
	}
	if err := s.events.Append(ctx, corrected); err != nil {
		return nil, err
	}
	s.adherence.Invalidate(ctx, original.PatientID)

	s.log.Info().
		Str("event_id", corrected.ID.String()).
		Str("original_event_id", original.ID.String()).
		Str("corrected_to", action).
		Msg("event corrected")
	return corrected, nil
}

// eventDate resolves the local calendar date an event belongs to.
func (s *Service) eventDate(ctx context.Context, e *event.MedicationEvent) (string, error) {
	p, err := s.prefs.Get(ctx, e.PatientID)
	if errors.Is(err, mederr.ErrNotFound) {
		return "", &mederr.PreferencesMissingError{PatientID: e.PatientID}
	}
	if err != nil {
		return "", err
	}
	loc, err := p.Location()
	if err != nil {
		return "", err
	}
	at := e.EventTimestamp
	if e.ScheduledAt != nil {
		at = *e.ScheduledAt
	}
	return clock.LocalDate(loc, at), nil
}
