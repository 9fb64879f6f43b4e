// Package archive closes out calendar days: once a patient passes their
// local midnight, the previous day's events are folded into an immutable
// DailySummary and batch-marked archived. The summary write and the
// archive marks commit as one transaction, and a day that already has a
// summary is never processed again.
package archive

import (
	"time"

	"github.com/google/uuid"

	"github.com/medtrack/medtrack/internal/domain/adherence"
)

// ArchivedReasonDailyReset tags events archived by the scheduled job.
const ArchivedReasonDailyReset = "daily_reset"

// CommandBreakdown is the per-command slice of a day.
type CommandBreakdown struct {
	CommandID uuid.UUID `json:"command_id"`
	Name      string    `json:"name,omitempty"`
	Scheduled int       `json:"scheduled"`
	Taken     int       `json:"taken"`
	Missed    int       `json:"missed"`
	Skipped   int       `json:"skipped"`
}

// DailySummary maps to the daily_summary table. Stats carries the same
// per-day aggregates the adherence engine computes live, so closed days
// feed reports without recomputation.
type DailySummary struct {
	ID        uuid.UUID `db:"id" json:"id"`
	PatientID uuid.UUID `db:"patient_id" json:"patient_id"`
	Date      string    `db:"date" json:"date"`
	Timezone  string    `db:"timezone" json:"timezone"`

	Stats      adherence.DayStats `db:"stats" json:"stats"`
	PerCommand []CommandBreakdown `db:"per_command" json:"per_command,omitempty"`

	OverallAdherenceRate float64 `db:"overall_adherence_rate" json:"overall_adherence_rate"`
	OnTimeRate           float64 `db:"on_time_rate" json:"on_time_rate"`

	ArchivedEventIDs []uuid.UUID `db:"archived_event_ids" json:"archived_event_ids"`
	CreatedAt        time.Time   `db:"created_at" json:"created_at"`
}
