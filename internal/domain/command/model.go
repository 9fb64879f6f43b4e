// Package command holds the medication command aggregate: the
// prescription-shaped instruction ("take lisinopril 10mg twice daily at
// 08:00 and 20:00") that the event log records outcomes against. A
// command is mutable through a version-checked update path; the events
// it generates are not.
package command

import (
	"time"

	"github.com/google/uuid"

	"github.com/medtrack/medtrack/internal/domain/mederr"
	"github.com/medtrack/medtrack/internal/platform/clock"
)

// Status values for a medication command.
const (
	StatusActive       = "active"
	StatusPaused       = "paused"
	StatusHeld         = "held"
	StatusDiscontinued = "discontinued"
	StatusCompleted    = "completed"
)

// Frequency values. Times carries the concrete HH:MM slots; Frequency is
// the human-facing label and a cross-check on the slot count.
const (
	FreqDaily      = "daily"
	FreqTwiceDaily = "twice_daily"
	FreqThreeDaily = "three_times_daily"
	FreqFourDaily  = "four_times_daily"
	FreqWeekly     = "weekly"
	FreqAsNeeded   = "as_needed"
)

// transitions maps each status to the statuses it may move to. Terminal
// statuses have no outgoing edges.
var transitions = map[string][]string{
	StatusActive:       {StatusPaused, StatusHeld, StatusDiscontinued, StatusCompleted},
	StatusPaused:       {StatusActive, StatusDiscontinued},
	StatusHeld:         {StatusActive, StatusDiscontinued},
	StatusDiscontinued: {},
	StatusCompleted:    {},
}

// CanTransition reports whether a command may move from one status to
// another. Self-transitions are rejected.
func CanTransition(from, to string) bool {
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// MedicationCommand maps to the medication_command table.
type MedicationCommand struct {
	ID           uuid.UUID `db:"id" json:"id"`
	PatientID    uuid.UUID `db:"patient_id" json:"patient_id"`
	Name         string    `db:"name" json:"name"`
	Dosage       string    `db:"dosage" json:"dosage"`
	Instructions string    `db:"instructions" json:"instructions,omitempty"`
	MedClass     string    `db:"med_class" json:"med_class"`

	Frequency string   `db:"frequency" json:"frequency"`
	Times     []string `db:"times" json:"times"`

	StartDate  string     `db:"start_date" json:"start_date"`
	EndDate    *string    `db:"end_date" json:"end_date,omitempty"`
	Indefinite bool       `db:"indefinite" json:"indefinite"`
	IsPRN      bool       `db:"is_prn" json:"is_prn"`

	RemindersEnabled bool  `db:"reminders_enabled" json:"reminders_enabled"`
	ReminderOffsets  []int `db:"reminder_offsets" json:"reminder_offsets,omitempty"`
	GraceMinutes     *int  `db:"grace_minutes" json:"grace_minutes,omitempty"`

	Status  string `db:"status" json:"status"`
	Version int    `db:"version" json:"version"`

	ScheduleChangedAt *time.Time `db:"schedule_changed_at" json:"schedule_changed_at,omitempty"`
	CreatedBy         string     `db:"created_by" json:"created_by"`
	UpdatedBy         string     `db:"updated_by" json:"updated_by"`
	CreatedAt         time.Time  `db:"created_at" json:"created_at"`
	UpdatedAt         time.Time  `db:"updated_at" json:"updated_at"`
}

var freqSlots = map[string]int{
	FreqDaily:      1,
	FreqTwiceDaily: 2,
	FreqThreeDaily: 3,
	FreqFourDaily:  4,
}

// Validate checks the fields a caller controls. Status and Version are
// managed by the service and are not validated here.
func (m *MedicationCommand) Validate() error {
	if m.PatientID == uuid.Nil {
		return mederr.Validation("patient_id", "is required")
	}
	if m.Name == "" {
		return mederr.Validation("name", "is required")
	}
	if m.Dosage == "" {
		return mederr.Validation("dosage", "is required")
	}
	if !clock.ValidClass(m.MedClass) {
		return mederr.Validation("med_class", "unknown medication class "+m.MedClass)
	}
	if m.GraceMinutes != nil && *m.GraceMinutes <= 0 {
		return mederr.Validation("grace_minutes", "must be positive")
	}

	if m.IsPRN {
		if m.Frequency != "" && m.Frequency != FreqAsNeeded {
			return mederr.Validation("frequency", "PRN medications must use as_needed")
		}
		if len(m.Times) > 0 {
			return mederr.Validation("times", "PRN medications have no scheduled times")
		}
	} else {
		if m.Frequency == FreqAsNeeded || m.Frequency == "" {
			return mederr.Validation("frequency", "scheduled medications need a frequency")
		}
		if _, ok := freqSlots[m.Frequency]; !ok && m.Frequency != FreqWeekly {
			return mederr.Validation("frequency", "unknown frequency "+m.Frequency)
		}
		if len(m.Times) == 0 {
			return mederr.Validation("times", "at least one HH:MM time is required")
		}
		if want, ok := freqSlots[m.Frequency]; ok && len(m.Times) != want {
			return mederr.Validation("times", "slot count does not match frequency")
		}
		seen := map[int]bool{}
		for _, tod := range m.Times {
			min, err := clock.ParseTimeOfDay(tod)
			if err != nil {
				return mederr.Validation("times", "entries must be HH:MM")
			}
			if seen[min] {
				return mederr.Validation("times", "duplicate time "+tod)
			}
			seen[min] = true
		}
	}

	start, err := time.Parse(clock.DateLayout, m.StartDate)
	if err != nil {
		return mederr.Validation("start_date", "must be YYYY-MM-DD")
	}
	if m.Indefinite && m.EndDate != nil {
		return mederr.Validation("end_date", "indefinite commands cannot carry an end date")
	}
	if !m.Indefinite && m.EndDate == nil {
		return mederr.Validation("end_date", "required unless indefinite")
	}
	if m.EndDate != nil {
		end, err := time.Parse(clock.DateLayout, *m.EndDate)
		if err != nil {
			return mederr.Validation("end_date", "must be YYYY-MM-DD")
		}
		if end.Before(start) {
			return mederr.Validation("end_date", "must not precede start_date")
		}
	}
	return nil
}

// Grace resolves the effective grace period in minutes: the per-command
// override when set, otherwise the class default.
func (m *MedicationCommand) Grace() int {
	if m.GraceMinutes != nil {
		return *m.GraceMinutes
	}
	return clock.GracePeriod(clock.MedClass(m.MedClass))
}

// CoversDate reports whether a local calendar date (YYYY-MM-DD) falls
// inside the command's start/end range. String comparison is safe for
// the ISO date layout.
func (m *MedicationCommand) CoversDate(date string) bool {
	if date < m.StartDate {
		return false
	}
	if m.Indefinite || m.EndDate == nil {
		return true
	}
	return date <= *m.EndDate
}

// Occurrence is one expected dose slot on a concrete local date.
type Occurrence struct {
	CommandID   uuid.UUID `json:"command_id"`
	PatientID   uuid.UUID `json:"patient_id"`
	Date        string    `json:"date"`
	TimeOfDay   string    `json:"time_of_day"`
	ScheduledAt time.Time `json:"scheduled_at"`
	Bucket      string    `json:"bucket"`
}

// Occurrences expands the command over one local date. PRN and
// non-active commands expand to nothing; weekly commands expand only on
// the weekday of the start date. Expansion is pure, so repeating it for
// the same date always yields identical slots.
func (m *MedicationCommand) Occurrences(date string, loc *time.Location, anchors clock.Anchors) ([]Occurrence, error) {
	if m.IsPRN || m.Status != StatusActive || !m.CoversDate(date) {
		return nil, nil
	}
	day, err := time.ParseInLocation(clock.DateLayout, date, loc)
	if err != nil {
		return nil, mederr.Validation("date", "must be YYYY-MM-DD")
	}
	if m.Frequency == FreqWeekly {
		start, err := time.Parse(clock.DateLayout, m.StartDate)
		if err != nil {
			return nil, err
		}
		if day.Weekday() != start.Weekday() {
			return nil, nil
		}
	}

	occs := make([]Occurrence, 0, len(m.Times))
	for _, tod := range m.Times {
		at, err := clock.AtTimeOfDay(loc, date, tod)
		if err != nil {
			return nil, err
		}
		occs = append(occs, Occurrence{
			CommandID:   m.ID,
			PatientID:   m.PatientID,
			Date:        date,
			TimeOfDay:   tod,
			ScheduledAt: at,
			Bucket:      string(clock.BucketOf(at.In(loc), anchors)),
		})
	}
	return occs, nil
}
