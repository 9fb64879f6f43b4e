package archive

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/google/uuid"

	"github.com/medtrack/medtrack/internal/domain/mederr"
)

// MemoryRepo is an in-memory Repository mirroring the unique
// (patient, date) constraint. It backs tests.
type MemoryRepo struct {
	mu    sync.Mutex
	items map[string]*DailySummary

	// FailCreate, when set, makes Create return it. Tests use this to
	// prove the summary/archive unit of work rolls back together.
	FailCreate error
}

// NewMemoryRepo creates an empty in-memory summary repository.
func NewMemoryRepo() *MemoryRepo {
	return &MemoryRepo{items: map[string]*DailySummary{}}
}

func summaryKey(patientID uuid.UUID, date string) string {
	return patientID.String() + "|" + date
}

func (r *MemoryRepo) Create(_ context.Context, s *DailySummary) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.FailCreate != nil {
		return r.FailCreate
	}
	key := summaryKey(s.PatientID, s.Date)
	if _, exists := r.items[key]; exists {
		return fmt.Errorf("daily summary already exists for %s", key)
	}
	cp := *s
	r.items[key] = &cp
	return nil
}

func (r *MemoryRepo) Get(_ context.Context, patientID uuid.UUID, date string) (*DailySummary, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.items[summaryKey(patientID, date)]
	if !ok {
		return nil, mederr.ErrNotFound
	}
	cp := *s
	return &cp, nil
}

func (r *MemoryRepo) ListRange(_ context.Context, patientID uuid.UUID, fromDate, toDate string) ([]*DailySummary, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*DailySummary
	for _, s := range r.items {
		if s.PatientID == patientID && s.Date >= fromDate && s.Date <= toDate {
			cp := *s
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Date < out[j].Date })
	return out, nil
}
