// Package event is the append-only medication event log. Every fact
// about a scheduled occurrence lives here as an immutable row: takes,
// misses, skips, snoozes, and the compensating undo/correction events
// that reclassify them. Nothing is ever updated in place except the
// additive archive block written once by the daily reset job.
package event

import (
	"time"

	"github.com/google/uuid"
)

// Event types. An occurrence's effective outcome is the fold of its
// events in timestamp order, so a "corrected" state is a new row, not a
// rewrite.
const (
	TypeScheduled        = "scheduled"
	TypeTakenFull        = "dose_taken_full"
	TypeTakenPartial     = "dose_taken_partial"
	TypeMissed           = "dose_missed"
	TypeSkipped          = "dose_skipped"
	TypeSnoozed          = "dose_snoozed"
	TypeTakenUndone      = "dose_taken_undone"
	TypeMissedCorrected  = "dose_missed_corrected"
	TypeSkippedCorrected = "dose_skipped_corrected"
)

var knownTypes = map[string]bool{
	TypeScheduled:        true,
	TypeTakenFull:        true,
	TypeTakenPartial:     true,
	TypeMissed:           true,
	TypeSkipped:          true,
	TypeSnoozed:          true,
	TypeTakenUndone:      true,
	TypeMissedCorrected:  true,
	TypeSkippedCorrected: true,
}

// KnownType reports whether t names a valid event type.
func KnownType(t string) bool { return knownTypes[t] }

// IsTakenType reports whether t records an intake (full or partial).
func IsTakenType(t string) bool {
	return t == TypeTakenFull || t == TypeTakenPartial
}

// Corrected-to actions accepted by the correction workflow.
const (
	ActionTaken   = "taken"
	ActionSkipped = "skipped"
	ActionMissed  = "missed"
)

// MedicationEvent maps to the medication_event table.
type MedicationEvent struct {
	ID        uuid.UUID `db:"id" json:"id"`
	CommandID uuid.UUID `db:"command_id" json:"command_id"`
	PatientID uuid.UUID `db:"patient_id" json:"patient_id"`
	Type      string    `db:"type" json:"type"`

	// Timing block. ScheduledAt is nil for PRN takes; EventTimestamp is
	// always server-assigned and is what the undo/correction windows are
	// measured against.
	ScheduledAt    *time.Time `db:"scheduled_at" json:"scheduled_at,omitempty"`
	ActualAt       *time.Time `db:"actual_at" json:"actual_at,omitempty"`
	EventTimestamp time.Time  `db:"event_timestamp" json:"event_timestamp"`
	OnTime         *bool      `db:"on_time" json:"on_time,omitempty"`
	MinutesLate    *int       `db:"minutes_late" json:"minutes_late,omitempty"`

	// Dose accuracy block, set on taken-type events.
	DosePrescribed string   `db:"dose_prescribed" json:"dose_prescribed,omitempty"`
	DoseActual     string   `db:"dose_actual" json:"dose_actual,omitempty"`
	DosePercent    *float64 `db:"dose_percent" json:"dose_percent,omitempty"`

	// Snooze block.
	SnoozeMinutes *int `db:"snooze_minutes" json:"snooze_minutes,omitempty"`

	// Undo/correction block. OriginalEventID points at the event being
	// compensated; CorrectedTo names the reclassified outcome.
	OriginalEventID *uuid.UUID `db:"original_event_id" json:"original_event_id,omitempty"`
	Reason          string     `db:"reason" json:"reason,omitempty"`
	CorrectedTo     string     `db:"corrected_to" json:"corrected_to,omitempty"`

	// Archive block, written once by the daily reset job.
	IsArchived     bool       `db:"is_archived" json:"is_archived"`
	ArchivedAt     *time.Time `db:"archived_at" json:"archived_at,omitempty"`
	ArchivedReason string     `db:"archived_reason" json:"archived_reason,omitempty"`
	BelongsToDate  *string    `db:"belongs_to_date" json:"belongs_to_date,omitempty"`
	DailySummaryID *uuid.UUID `db:"daily_summary_id" json:"daily_summary_id,omitempty"`

	CorrelationID uuid.UUID `db:"correlation_id" json:"correlation_id"`
	RecordedBy    string    `db:"recorded_by" json:"recorded_by,omitempty"`
}

// ArchiveStatus is the additive patch the daily reset job applies to the
// events it closes out.
type ArchiveStatus struct {
	ArchivedAt     time.Time
	Reason         string
	BelongsToDate  string
	DailySummaryID uuid.UUID
}

// Outcome values an occurrence can fold to.
const (
	OutcomePending = "pending"
	OutcomeTaken   = "taken"
	OutcomeMissed  = "missed"
	OutcomeSkipped = "skipped"
)

// OutcomeOf folds an occurrence's events, ordered by event timestamp,
// into its effective outcome. An undo reverts the occurrence to pending;
// a correction moves it to whatever the correction names.
func OutcomeOf(events []*MedicationEvent) string {
	outcome := OutcomePending
	for _, e := range events {
		switch e.Type {
		case TypeTakenFull, TypeTakenPartial:
			outcome = OutcomeTaken
		case TypeMissed:
			outcome = OutcomeMissed
		case TypeSkipped:
			outcome = OutcomeSkipped
		case TypeTakenUndone:
			outcome = OutcomePending
		case TypeMissedCorrected, TypeSkippedCorrected:
			switch e.CorrectedTo {
			case ActionTaken:
				outcome = OutcomeTaken
			case ActionSkipped:
				outcome = OutcomeSkipped
			case ActionMissed:
				outcome = OutcomeMissed
			}
		}
	}
	return outcome
}
