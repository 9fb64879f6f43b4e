package command

import (
	"context"

	"github.com/google/uuid"
)

// Repository is the persistence interface for medication commands.
type Repository interface {
	Create(ctx context.Context, m *MedicationCommand) error
	Get(ctx context.Context, id uuid.UUID) (*MedicationCommand, error)
	// Update persists all mutable fields where the stored version still
	// matches expectedVersion, bumping the version by one. It returns
	// mederr.ErrNotFound when the row is gone and a ConflictError when
	// the version moved.
	Update(ctx context.Context, m *MedicationCommand, expectedVersion int) error
	ListByPatient(ctx context.Context, patientID uuid.UUID) ([]*MedicationCommand, error)
	ListActiveByPatient(ctx context.Context, patientID uuid.UUID) ([]*MedicationCommand, error)
}
