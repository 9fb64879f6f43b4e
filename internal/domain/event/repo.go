package event

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// ArchivedMode selects how a query treats archived events. The zero
// value excludes them, so "today" views never show history by accident.
type ArchivedMode int

const (
	ExcludeArchived ArchivedMode = iota
	OnlyArchived
	IncludeAll
)

// Filter narrows a Query. Time bounds apply to the occurrence instant:
// the scheduled time when present, the event timestamp for PRN events.
type Filter struct {
	PatientID     *uuid.UUID
	CommandID     *uuid.UUID
	Types         []string
	From          *time.Time
	To            *time.Time
	Archived      ArchivedMode
	BelongsToDate string
	CorrelationID *uuid.UUID
	Limit         int
	Offset        int
}

// Repository is the persistence interface for the event log. Append and
// MarkArchived are the only writes; MarkArchived touches nothing but the
// archive block.
type Repository interface {
	Append(ctx context.Context, e *MedicationEvent) error
	GetByID(ctx context.Context, id uuid.UUID) (*MedicationEvent, error)
	Query(ctx context.Context, f Filter) ([]*MedicationEvent, error)
	// ListForOccurrence returns every event of one occurrence (command +
	// scheduled instant) in event-timestamp order, archived included.
	ListForOccurrence(ctx context.Context, commandID uuid.UUID, scheduledAt time.Time) ([]*MedicationEvent, error)
	// FindActiveTake looks for a taken-type event for the same command
	// whose scheduled instant lies within the window around scheduledAt
	// and which has not been undone. This is the duplicate guard read.
	FindActiveTake(ctx context.Context, commandID uuid.UUID, scheduledAt time.Time, window time.Duration) (*MedicationEvent, error)
	// MarkArchived applies the archive block to the given events and
	// returns how many rows it touched. Already-archived rows are left
	// alone.
	MarkArchived(ctx context.Context, ids []uuid.UUID, status ArchiveStatus) (int, error)
}
