package prefs

import (
	"context"

	"github.com/google/uuid"
)

// Repository is the persistence interface for time preferences.
type Repository interface {
	Get(ctx context.Context, patientID uuid.UUID) (*TimePreferences, error)
	Upsert(ctx context.Context, p *TimePreferences) error
	ListAll(ctx context.Context) ([]*TimePreferences, error)
}
