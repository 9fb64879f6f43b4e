package command

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/medtrack/medtrack/internal/domain/mederr"
	"github.com/medtrack/medtrack/internal/domain/prefs"
	"github.com/medtrack/medtrack/internal/platform/clock"
)

// Service owns the command lifecycle: creation, version-checked updates,
// status transitions and occurrence expansion.
type Service struct {
	repo  Repository
	prefs prefs.Repository
	log   zerolog.Logger
	now   func() time.Time
}

func NewService(repo Repository, prefRepo prefs.Repository, log zerolog.Logger) *Service {
	return &Service{
		repo:  repo,
		prefs: prefRepo,
		log:   log.With().Str("component", "command").Logger(),
		now:   time.Now,
	}
}

// Create validates and persists a new command. New commands always start
// active at version 1.
func (s *Service) Create(ctx context.Context, m *MedicationCommand, actor string) (*MedicationCommand, error) {
	if err := m.Validate(); err != nil {
		return nil, err
	}
	m.ID = uuid.New()
	m.Status = StatusActive
	m.Version = 1
	m.CreatedBy = actor
	m.UpdatedBy = actor
	if err := s.repo.Create(ctx, m); err != nil {
		return nil, err
	}
	s.log.Info().
		Str("command_id", m.ID.String()).
		Str("patient_id", m.PatientID.String()).
		Str("name", m.Name).
		Msg("medication command created")
	return s.repo.Get(ctx, m.ID)
}

func (s *Service) Get(ctx context.Context, id uuid.UUID) (*MedicationCommand, error) {
	return s.repo.Get(ctx, id)
}

func (s *Service) ListByPatient(ctx context.Context, patientID uuid.UUID) ([]*MedicationCommand, error) {
	return s.repo.ListByPatient(ctx, patientID)
}

// Update applies a full replacement of the mutable fields under
// optimistic concurrency. The stored status and the schedule-change
// marker are managed here, not taken from the input.
func (s *Service) Update(ctx context.Context, id uuid.UUID, in *MedicationCommand, expectedVersion int, actor string) (*MedicationCommand, error) {
	if expectedVersion < 1 {
		return nil, mederr.Validation("expected_version", "is required")
	}
	current, err := s.repo.Get(ctx, id)
	if err != nil {
		return nil, err
	}

	in.ID = current.ID
	in.PatientID = current.PatientID
	in.Status = current.Status
	if err := in.Validate(); err != nil {
		return nil, err
	}

	in.ScheduleChangedAt = current.ScheduleChangedAt
	if scheduleChanged(current, in) {
		now := s.now().UTC()
		in.ScheduleChangedAt = &now
	}
	in.UpdatedBy = actor

	if err := s.repo.Update(ctx, in, expectedVersion); err != nil {
		return nil, err
	}
	s.log.Info().
		Str("command_id", id.String()).
		Int("version", in.Version).
		Msg("medication command updated")
	return s.repo.Get(ctx, id)
}

func scheduleChanged(old, new *MedicationCommand) bool {
	if old.Frequency != new.Frequency || len(old.Times) != len(new.Times) {
		return true
	}
	for i := range old.Times {
		if old.Times[i] != new.Times[i] {
			return true
		}
	}
	return old.StartDate != new.StartDate ||
		(old.EndDate == nil) != (new.EndDate == nil) ||
		(old.EndDate != nil && new.EndDate != nil && *old.EndDate != *new.EndDate)
}

// ChangeStatus moves the command through its status machine under
// optimistic concurrency.
func (s *Service) ChangeStatus(ctx context.Context, id uuid.UUID, to string, expectedVersion int, actor string) (*MedicationCommand, error) {
	if _, ok := transitions[to]; !ok {
		return nil, mederr.Validation("status", "unknown status "+to)
	}
	current, err := s.repo.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if !CanTransition(current.Status, to) {
		return nil, mederr.Validation("status", "cannot transition from "+current.Status+" to "+to)
	}
	if to == StatusCompleted {
		if current.EndDate == nil {
			return nil, mederr.Validation("status", "completion requires an end date")
		}
		loc := time.UTC
		if p, perr := s.prefs.Get(ctx, current.PatientID); perr == nil {
			if l, lerr := p.Location(); lerr == nil {
				loc = l
			}
		}
		if clock.LocalDate(loc, s.now()) <= *current.EndDate {
			return nil, mederr.Validation("status", "end date has not passed yet")
		}
	}

	current.Status = to
	current.UpdatedBy = actor
	if err := s.repo.Update(ctx, current, expectedVersion); err != nil {
		return nil, err
	}
	s.log.Info().
		Str("command_id", id.String()).
		Str("status", to).
		Msg("medication command status changed")
	return s.repo.Get(ctx, id)
}

// OccurrencesForDate expands every active scheduled command of a patient
// over one local date, in the patient's zone and against their anchors.
// A patient without preferences gets PreferencesMissingError.
func (s *Service) OccurrencesForDate(ctx context.Context, patientID uuid.UUID, date string) ([]Occurrence, error) {
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
	anchors := p.Anchors()

	cmds, err := s.repo.ListActiveByPatient(ctx, patientID)
	if err != nil {
		return nil, err
	}
	var occs []Occurrence
	for _, cmd := range cmds {
		cos, err := cmd.Occurrences(date, loc, anchors)
		if err != nil {
			return nil, err
		}
		occs = append(occs, cos...)
	}
	return occs, nil
}
