package archive

import (
	"context"

	"github.com/google/uuid"

	"github.com/medtrack/medtrack/internal/domain/adherence"
)

// StatsSource adapts the summary store to the adherence engine's
// closed-day interface.
type StatsSource struct {
	repo Repository
}

func NewStatsSource(repo Repository) *StatsSource {
	return &StatsSource{repo: repo}
}

func (s *StatsSource) ListDayStats(ctx context.Context, patientID uuid.UUID, fromDate, toDate string) ([]adherence.DayStats, error) {
	summaries, err := s.repo.ListRange(ctx, patientID, fromDate, toDate)
	if err != nil {
		return nil, err
	}
	out := make([]adherence.DayStats, len(summaries))
	for i, sum := range summaries {
		out[i] = sum.Stats
	}
	return out, nil
}
