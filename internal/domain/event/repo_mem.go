package event

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/medtrack/medtrack/internal/domain/mederr"
)

// memoryRepo is an in-memory Repository with the same filtering
// semantics as the PostgreSQL implementation. It backs tests and the
// development profile; it is not meant for production data.
type memoryRepo struct {
	mu     sync.Mutex
	events []*MedicationEvent
}

// NewMemoryRepo creates an empty in-memory event repository.
func NewMemoryRepo() Repository {
	return &memoryRepo{}
}

func (r *memoryRepo) Append(_ context.Context, e *MedicationEvent) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	cp := *e
	r.events = append(r.events, &cp)
	return nil
}

func (r *memoryRepo) GetByID(_ context.Context, id uuid.UUID) (*MedicationEvent, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, e := range r.events {
		if e.ID == id {
			cp := *e
			return &cp, nil
		}
	}
	return nil, mederr.ErrNotFound
}

// instant is the occurrence instant a time filter applies to.
func instant(e *MedicationEvent) time.Time {
	if e.ScheduledAt != nil {
		return *e.ScheduledAt
	}
	return e.EventTimestamp
}

func (r *memoryRepo) Query(_ context.Context, f Filter) ([]*MedicationEvent, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var out []*MedicationEvent
	for _, e := range r.events {
		if f.PatientID != nil && e.PatientID != *f.PatientID {
			continue
		}
		if f.CommandID != nil && e.CommandID != *f.CommandID {
			continue
		}
		if len(f.Types) > 0 && !contains(f.Types, e.Type) {
			continue
		}
		if f.From != nil && instant(e).Before(*f.From) {
			continue
		}
		if f.To != nil && !instant(e).Before(*f.To) {
			continue
		}
		switch f.Archived {
		case ExcludeArchived:
			if e.IsArchived {
				continue
			}
		case OnlyArchived:
			if !e.IsArchived {
				continue
			}
		}
		if f.BelongsToDate != "" && (e.BelongsToDate == nil || *e.BelongsToDate != f.BelongsToDate) {
			continue
		}
		if f.CorrelationID != nil && e.CorrelationID != *f.CorrelationID {
			continue
		}
		cp := *e
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].EventTimestamp.Before(out[j].EventTimestamp) })
	if f.Offset > 0 {
		if f.Offset >= len(out) {
			out = nil
		} else {
			out = out[f.Offset:]
		}
	}
	if f.Limit > 0 && len(out) > f.Limit {
		out = out[:f.Limit]
	}
	return out, nil
}

func (r *memoryRepo) ListForOccurrence(_ context.Context, commandID uuid.UUID, scheduledAt time.Time) ([]*MedicationEvent, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var out []*MedicationEvent
	for _, e := range r.events {
		if e.CommandID == commandID && e.ScheduledAt != nil && e.ScheduledAt.Equal(scheduledAt) {
			cp := *e
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].EventTimestamp.Before(out[j].EventTimestamp) })
	return out, nil
}

func (r *memoryRepo) FindActiveTake(_ context.Context, commandID uuid.UUID, scheduledAt time.Time, window time.Duration) (*MedicationEvent, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	undone := map[uuid.UUID]bool{}
	for _, e := range r.events {
		if e.Type == TypeTakenUndone && e.OriginalEventID != nil {
			undone[*e.OriginalEventID] = true
		}
	}
	var found *MedicationEvent
	for _, e := range r.events {
		if e.CommandID != commandID || !IsTakenType(e.Type) || e.ScheduledAt == nil || undone[e.ID] {
			continue
		}
		d := e.ScheduledAt.Sub(scheduledAt)
		if d < -window || d > window {
			continue
		}
		if found == nil || e.EventTimestamp.After(found.EventTimestamp) {
			found = e
		}
	}
	if found == nil {
		return nil, mederr.ErrNotFound
	}
	cp := *found
	return &cp, nil
}

func (r *memoryRepo) MarkArchived(_ context.Context, ids []uuid.UUID, status ArchiveStatus) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	want := make(map[uuid.UUID]bool, len(ids))
	for _, id := range ids {
		want[id] = true
	}
	n := 0
	for _, e := range r.events {
		if !want[e.ID] || e.IsArchived {
			continue
		}
		at := status.ArchivedAt
		date := status.BelongsToDate
		sid := status.DailySummaryID
		e.IsArchived = true
		e.ArchivedAt = &at
		e.ArchivedReason = status.Reason
		e.BelongsToDate = &date
		e.DailySummaryID = &sid
		n++
	}
	return n, nil
}

func contains(set []string, s string) bool {
	for _, v := range set {
		if v == s {
			return true
		}
	}
	return false
}
