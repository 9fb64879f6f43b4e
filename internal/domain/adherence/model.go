// Package adherence derives adherence statistics from the medication
// event log: counts and rates, delay statistics, behavioral patterns,
// and a risk classification. Closed days are read from daily summaries;
// the still-open current day is computed live and merged in.
package adherence

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// DayStats are the per-day aggregates everything else is built from.
// The daily reset job persists exactly these fields in each summary, so
// a closed day and a live day contribute identically to a report.
type DayStats struct {
	Date string `json:"date"`

	Scheduled   int `json:"scheduled"`
	Taken       int `json:"taken"`
	TakenFull   int `json:"taken_full"`
	TakenPartial int `json:"taken_partial"`
	Missed      int `json:"missed"`
	Skipped     int `json:"skipped"`
	Snoozed     int `json:"snoozed"`

	// Compensating events, counted separately so they never read as
	// ordinary misses.
	Undone    int `json:"undone"`
	Corrected int `json:"corrected"`

	// PRN takes sit outside the scheduled denominators.
	PRNTakes int `json:"prn_takes"`

	OnTime            int `json:"on_time"`
	DelaySumMinutes   int `json:"delay_sum_minutes"`
	DelayCount        int `json:"delay_count"`
	DelayMaxMinutes   int `json:"delay_max_minutes"`
	DelayMedianMinutes int `json:"delay_median_minutes"`

	MissedByBucket map[string]int `json:"missed_by_bucket,omitempty"`
}

// SummarySource supplies closed-day aggregates. The archive package
// satisfies this from its daily summary store.
type SummarySource interface {
	ListDayStats(ctx context.Context, patientID uuid.UUID, fromDate, toDate string) ([]DayStats, error)
}

// DelayStats describe how late takes were, in minutes, over a window.
type DelayStats struct {
	AverageMinutes float64 `json:"average_minutes"`
	MedianMinutes  float64 `json:"median_minutes"`
	MaxMinutes     int     `json:"max_minutes"`
}

// Patterns are the behavioral findings over a window.
type Patterns struct {
	MostMissedBucket   string  `json:"most_missed_bucket,omitempty"`
	MostMissedWeekday  string  `json:"most_missed_weekday,omitempty"`
	WeekdayRate        float64 `json:"weekday_rate"`
	WeekendRate        float64 `json:"weekend_rate"`
	WeekdayWeekendGap  float64 `json:"weekday_weekend_gap"`
	CurrentStreakDays  int     `json:"current_streak_days"`
	LongestStreakDays  int     `json:"longest_streak_days"`
	Trend              string  `json:"trend"`
}

// Trend values.
const (
	TrendImproving = "improving"
	TrendStable    = "stable"
	TrendDeclining = "declining"
)

// Risk levels.
const (
	RiskLow      = "low"
	RiskMedium   = "medium"
	RiskHigh     = "high"
	RiskCritical = "critical"
)

// Risk is the classification plus the human-readable factors behind it.
type Risk struct {
	Level   string   `json:"level"`
	Factors []string `json:"factors"`
}

// Report is the full adherence picture for one patient over a window.
type Report struct {
	PatientID  uuid.UUID `json:"patient_id"`
	WindowDays int       `json:"window_days"`
	From       string    `json:"from"`
	To         string    `json:"to"`
	ComputedAt time.Time `json:"computed_at"`

	Scheduled    int `json:"scheduled"`
	Taken        int `json:"taken"`
	TakenFull    int `json:"taken_full"`
	TakenPartial int `json:"taken_partial"`
	Missed       int `json:"missed"`
	Skipped      int `json:"skipped"`
	Snoozed      int `json:"snoozed"`
	Undone       int `json:"undone"`
	Corrected    int `json:"corrected"`
	PRNTakes     int `json:"prn_takes"`
	OnTime       int `json:"on_time"`

	OverallAdherenceRate float64 `json:"overall_adherence_rate"`
	FullDoseRate         float64 `json:"full_dose_rate"`
	OnTimeRate           float64 `json:"on_time_rate"`

	Delay    DelayStats `json:"delay"`
	Patterns Patterns   `json:"patterns"`
	Risk     Risk       `json:"risk"`

	Days []DayStats `json:"days,omitempty"`
}
