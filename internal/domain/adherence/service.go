package adherence

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/medtrack/medtrack/internal/domain/event"
	"github.com/medtrack/medtrack/internal/domain/mederr"
	"github.com/medtrack/medtrack/internal/domain/prefs"
	"github.com/medtrack/medtrack/internal/platform/cache"
	"github.com/medtrack/medtrack/internal/platform/clock"
)

const (
	cacheTTL    = 5 * time.Minute
	cachePrefix = "adherence:"
)

// Service computes adherence reports, summary-first with a live merge
// for the open day, behind a read-through cache.
type Service struct {
	events    event.Repository
	summaries SummarySource
	prefs     prefs.Repository
	cache     cache.Cache
	log       zerolog.Logger
	now       func() time.Time
}

func NewService(events event.Repository, summaries SummarySource, prefRepo prefs.Repository, c cache.Cache, log zerolog.Logger) *Service {
	return &Service{
		events:    events,
		summaries: summaries,
		prefs:     prefRepo,
		cache:     c,
		log:       log.With().Str("component", "adherence").Logger(),
		now:       time.Now,
	}
}

// Report computes the adherence picture over the trailing windowDays
// ending today in the patient's zone. Closed days come from summaries;
// any day the summaries do not cover, the current day above all, is
// folded from live events.
func (s *Service) Report(ctx context.Context, patientID uuid.UUID, windowDays int) (*Report, error) {
	if windowDays < 1 || windowDays > 365 {
		return nil, mederr.Validation("window", "must be between 1 and 365 days")
	}

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

	now := s.now()
	today := clock.LocalDate(loc, now)
	from := clock.LocalDate(loc, now.AddDate(0, 0, -(windowDays-1)))

	key := fmt.Sprintf("%s%s:%d:%s", cachePrefix, patientID, windowDays, today)
	if raw, ok := s.cache.Get(ctx, key); ok {
		var cached Report
		if err := json.Unmarshal(raw, &cached); err == nil {
			return &cached, nil
		}
	}

	summarized, err := s.summaries.ListDayStats(ctx, patientID, from, today)
	if err != nil {
		return nil, err
	}
	covered := make(map[string]bool, len(summarized))
	days := make([]DayStats, 0, windowDays)
	for _, d := range summarized {
		covered[d.Date] = true
		days = append(days, d)
	}

	anchors := p.Anchors()
	for date := from; date <= today; date = nextDate(date) {
		if covered[date] {
			continue
		}
		stats, err := s.computeLiveDay(ctx, patientID, date, loc, anchors)
		if err != nil {
			return nil, err
		}
		days = append(days, stats)
	}

	report := buildReport(patientID, windowDays, from, today, days, now.UTC())

	if raw, err := json.Marshal(report); err == nil {
		s.cache.Set(ctx, key, raw, cacheTTL)
	}
	return report, nil
}

// DayRate folds one local day from live events and returns its adherence
// rate. The undo workflow uses this for before/after feedback.
func (s *Service) DayRate(ctx context.Context, patientID uuid.UUID, date string) (float64, error) {
	p, err := s.prefs.Get(ctx, patientID)
	if errors.Is(err, mederr.ErrNotFound) {
		return 0, &mederr.PreferencesMissingError{PatientID: patientID}
	}
	if err != nil {
		return 0, err
	}
	loc, err := p.Location()
	if err != nil {
		return 0, err
	}
	stats, err := s.computeLiveDay(ctx, patientID, date, loc, p.Anchors())
	if err != nil {
		return 0, err
	}
	return rate(stats.Taken, stats.Scheduled), nil
}

func (s *Service) computeLiveDay(ctx context.Context, patientID uuid.UUID, date string, loc *time.Location, anchors clock.Anchors) (DayStats, error) {
	start, end, err := clock.DayBounds(loc, date)
	if err != nil {
		return DayStats{}, err
	}
	// IncludeAll so a report stays correct in the minutes between a
	// day's archival and its summary landing in the covered set.
	events, err := s.events.Query(ctx, event.Filter{
		PatientID: &patientID,
		From:      &start,
		To:        &end,
		Archived:  event.IncludeAll,
	})
	if err != nil {
		return DayStats{}, err
	}
	return ComputeDay(date, events, loc, anchors), nil
}

// Invalidate drops every cached report for a patient. Event writers call
// this so undo and correction feedback is never stale.
func (s *Service) Invalidate(ctx context.Context, patientID uuid.UUID) {
	s.cache.DeletePrefix(ctx, cachePrefix+patientID.String())
}

func nextDate(date string) string {
	d, err := time.Parse(clock.DateLayout, date)
	if err != nil {
		return date
	}
	return d.AddDate(0, 0, 1).Format(clock.DateLayout)
}
