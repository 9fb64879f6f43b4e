package archive

import (
	"context"

	"github.com/google/uuid"
)

// Repository is the persistence interface for daily summaries. Summaries
// are written once and never updated.
type Repository interface {
	// Create inserts a summary. The (patient_id, date) pair is unique;
	// a second insert for the same day fails.
	Create(ctx context.Context, s *DailySummary) error
	// Get returns the summary for one (patient, date), or
	// mederr.ErrNotFound.
	Get(ctx context.Context, patientID uuid.UUID, date string) (*DailySummary, error)
	// ListRange returns summaries with fromDate <= date <= toDate in
	// date order.
	ListRange(ctx context.Context, patientID uuid.UUID, fromDate, toDate string) ([]*DailySummary, error)
}
