package adherence

import (
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/medtrack/medtrack/internal/domain/event"
	"github.com/medtrack/medtrack/internal/platform/clock"
)

// ComputeDay folds one local day's events into DayStats. Occurrences are
// keyed by (command, scheduled instant) and each contributes once to the
// denominators regardless of how many events it accumulated; PRN takes
// have no scheduled instant and are tallied outside the denominators.
// The daily reset job uses this same fold to build summaries, so live
// and archived days can never disagree about what a day meant.
func ComputeDay(date string, events []*event.MedicationEvent, loc *time.Location, anchors clock.Anchors) DayStats {
	stats := DayStats{Date: date, MissedByBucket: map[string]int{}}

	type occ struct {
		key    string
		events []*event.MedicationEvent
	}
	byOcc := map[string]*occ{}
	var order []string

	for _, e := range events {
		switch e.Type {
		case event.TypeTakenUndone:
			stats.Undone++
		case event.TypeMissedCorrected, event.TypeSkippedCorrected:
			stats.Corrected++
		case event.TypeSnoozed:
			stats.Snoozed++
		}
		if e.ScheduledAt == nil {
			if event.IsTakenType(e.Type) {
				stats.PRNTakes++
			}
			continue
		}
		key := fmt.Sprintf("%s|%d", e.CommandID, e.ScheduledAt.UTC().Unix())
		o, ok := byOcc[key]
		if !ok {
			o = &occ{key: key}
			byOcc[key] = o
			order = append(order, key)
		}
		o.events = append(o.events, e)
	}

	var delays []int
	for _, key := range order {
		o := byOcc[key]
		sort.Slice(o.events, func(i, j int) bool {
			return o.events[i].EventTimestamp.Before(o.events[j].EventTimestamp)
		})
		stats.Scheduled++

		switch event.OutcomeOf(o.events) {
		case event.OutcomeTaken:
			stats.Taken++
			if take := effectiveTake(o.events); take != nil {
				if take.Type == event.TypeTakenFull {
					stats.TakenFull++
				} else {
					stats.TakenPartial++
				}
				if take.OnTime != nil && *take.OnTime {
					stats.OnTime++
				}
				if take.MinutesLate != nil {
					d := *take.MinutesLate
					delays = append(delays, d)
					stats.DelaySumMinutes += d
					stats.DelayCount++
					if d > stats.DelayMaxMinutes {
						stats.DelayMaxMinutes = d
					}
				}
			} else {
				// Outcome reached taken via a correction; count it as a
				// full dose with no timing data.
				stats.TakenFull++
			}
		case event.OutcomeMissed:
			stats.Missed++
			sched := o.events[0].ScheduledAt
			bucket := string(clock.BucketOf(sched.In(loc), anchors))
			stats.MissedByBucket[bucket]++
		case event.OutcomeSkipped:
			stats.Skipped++
		}
	}

	stats.DelayMedianMinutes = medianInt(delays)
	return stats
}

// effectiveTake returns the newest taken-type event not undone by a
// later compensating event.
func effectiveTake(events []*event.MedicationEvent) *event.MedicationEvent {
	undone := map[uuid.UUID]bool{}
	for _, e := range events {
		if e.Type == event.TypeTakenUndone && e.OriginalEventID != nil {
			undone[*e.OriginalEventID] = true
		}
	}
	for i := len(events) - 1; i >= 0; i-- {
		if event.IsTakenType(events[i].Type) && !undone[events[i].ID] {
			return events[i]
		}
	}
	return nil
}

// buildReport aggregates per-day stats, in date order, into a Report.
func buildReport(patientID uuid.UUID, windowDays int, from, to string, days []DayStats, now time.Time) *Report {
	sort.Slice(days, func(i, j int) bool { return days[i].Date < days[j].Date })

	r := &Report{
		PatientID:  patientID,
		WindowDays: windowDays,
		From:       from,
		To:         to,
		ComputedAt: now,
		Days:       days,
	}
	for _, d := range days {
		r.Scheduled += d.Scheduled
		r.Taken += d.Taken
		r.TakenFull += d.TakenFull
		r.TakenPartial += d.TakenPartial
		r.Missed += d.Missed
		r.Skipped += d.Skipped
		r.Snoozed += d.Snoozed
		r.Undone += d.Undone
		r.Corrected += d.Corrected
		r.PRNTakes += d.PRNTakes
		r.OnTime += d.OnTime
	}

	r.OverallAdherenceRate = rate(r.Taken, r.Scheduled)
	r.FullDoseRate = rate(r.TakenFull, r.Scheduled)
	r.OnTimeRate = rate(r.OnTime, r.Taken)
	r.Delay = delayStats(days)
	r.Patterns = patterns(days)
	r.Risk = classifyRisk(r)
	return r
}

func rate(part, whole int) float64 {
	if whole == 0 {
		return 0
	}
	return float64(part) / float64(whole) * 100
}

func delayStats(days []DayStats) DelayStats {
	var d DelayStats
	sum, count := 0, 0
	// The window median is the weighted median of per-day medians; exact
	// values are only kept for the still-open day.
	type wm struct {
		median int
		weight int
	}
	var medians []wm
	for _, day := range days {
		sum += day.DelaySumMinutes
		count += day.DelayCount
		if day.DelayMaxMinutes > d.MaxMinutes {
			d.MaxMinutes = day.DelayMaxMinutes
		}
		if day.DelayCount > 0 {
			medians = append(medians, wm{median: day.DelayMedianMinutes, weight: day.DelayCount})
		}
	}
	if count > 0 {
		d.AverageMinutes = float64(sum) / float64(count)
	}
	sort.Slice(medians, func(i, j int) bool { return medians[i].median < medians[j].median })
	half := count / 2
	acc := 0
	for _, m := range medians {
		acc += m.weight
		if acc > half {
			d.MedianMinutes = float64(m.median)
			break
		}
	}
	return d
}

func patterns(days []DayStats) Patterns {
	var p Patterns

	missedByBucket := map[string]int{}
	missedByWeekday := map[string]int{}
	var wkSched, wkTaken, weSched, weTaken int

	for _, d := range days {
		for bucket, n := range d.MissedByBucket {
			missedByBucket[bucket] += n
		}
		day, err := time.Parse(clock.DateLayout, d.Date)
		if err != nil {
			continue
		}
		wd := day.Weekday()
		if d.Missed > 0 {
			missedByWeekday[wd.String()] += d.Missed
		}
		if wd == time.Saturday || wd == time.Sunday {
			weSched += d.Scheduled
			weTaken += d.Taken
		} else {
			wkSched += d.Scheduled
			wkTaken += d.Taken
		}
	}

	p.MostMissedBucket = argmax(missedByBucket)
	p.MostMissedWeekday = argmax(missedByWeekday)
	p.WeekdayRate = rate(wkTaken, wkSched)
	p.WeekendRate = rate(weTaken, weSched)
	p.WeekdayWeekendGap = p.WeekdayRate - p.WeekendRate
	p.CurrentStreakDays, p.LongestStreakDays = streaks(days)
	p.Trend = trend(days)
	return p
}

// streaks counts consecutive fully-adherent days. Days with nothing
// scheduled neither extend nor break a streak.
func streaks(days []DayStats) (current, longest int) {
	run := 0
	for _, d := range days {
		if d.Scheduled == 0 {
			continue
		}
		if d.Taken == d.Scheduled && d.Missed == 0 {
			run++
			if run > longest {
				longest = run
			}
		} else {
			run = 0
		}
	}
	return run, longest
}

// trend compares the adherence rate of the window's first half against
// its second half.
func trend(days []DayStats) string {
	if len(days) < 4 {
		return TrendStable
	}
	half := len(days) / 2
	firstRate := windowRate(days[:half])
	secondRate := windowRate(days[half:])
	switch {
	case secondRate-firstRate >= 5:
		return TrendImproving
	case firstRate-secondRate >= 5:
		return TrendDeclining
	default:
		return TrendStable
	}
}

func windowRate(days []DayStats) float64 {
	sched, taken := 0, 0
	for _, d := range days {
		sched += d.Scheduled
		taken += d.Taken
	}
	return rate(taken, sched)
}

func classifyRisk(r *Report) Risk {
	levels := []string{RiskLow, RiskMedium, RiskHigh, RiskCritical}
	idx := 0
	switch {
	case r.Scheduled == 0 || r.OverallAdherenceRate >= 90:
		idx = 0
	case r.OverallAdherenceRate >= 75:
		idx = 1
	case r.OverallAdherenceRate >= 50:
		idx = 2
	default:
		idx = 3
	}

	factors := []string{fmt.Sprintf("adherence rate %.0f%% over %d days", r.OverallAdherenceRate, r.WindowDays)}

	if r.Patterns.Trend == TrendDeclining && idx < 3 {
		idx++
		factors = append(factors, "adherence is declining")
	}
	if r.Patterns.Trend == TrendImproving {
		factors = append(factors, "adherence is improving")
	}
	if r.Patterns.CurrentStreakDays >= 7 {
		if idx == 1 {
			idx = 0
		}
		factors = append(factors, fmt.Sprintf("current streak of %d fully adherent days", r.Patterns.CurrentStreakDays))
	}
	if r.Patterns.MostMissedBucket != "" {
		factors = append(factors, "doses most often missed in the "+r.Patterns.MostMissedBucket)
	}
	if gap := r.Patterns.WeekdayWeekendGap; gap >= 10 {
		factors = append(factors, fmt.Sprintf("weekend adherence trails weekdays by %.0f points", gap))
	}

	return Risk{Level: levels[idx], Factors: factors}
}

func argmax(m map[string]int) string {
	best, bestN := "", 0
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		if m[k] > bestN {
			best, bestN = k, m[k]
		}
	}
	return best
}

func medianInt(vals []int) int {
	if len(vals) == 0 {
		return 0
	}
	sorted := make([]int, len(vals))
	copy(sorted, vals)
	sort.Ints(sorted)
	mid := len(sorted) / 2
	if len(sorted)%2 == 0 {
		return (sorted[mid-1] + sorted[mid]) / 2
	}
	return sorted[mid]
}
