// Package prefs stores per-patient time preferences: the IANA timezone
// and the lifestyle anchors (wake, bed, meals) that drive bucket
// classification and the midnight archival trigger. A patient without a
// row here is skipped by the archival job, never failed.
package prefs

import (
	"time"

	"github.com/google/uuid"

	"github.com/medtrack/medtrack/internal/domain/mederr"
	"github.com/medtrack/medtrack/internal/platform/clock"
)

// TimePreferences maps to the patient_time_preferences table.
type TimePreferences struct {
	PatientID     uuid.UUID `db:"patient_id" json:"patient_id"`
	Timezone      string    `db:"timezone" json:"timezone"`
	WakeTime      string    `db:"wake_time" json:"wake_time"`
	BedTime       string    `db:"bed_time" json:"bed_time"`
	BreakfastTime *string   `db:"breakfast_time" json:"breakfast_time,omitempty"`
	LunchTime     *string   `db:"lunch_time" json:"lunch_time,omitempty"`
	DinnerTime    *string   `db:"dinner_time" json:"dinner_time,omitempty"`
	UpdatedAt     time.Time `db:"updated_at" json:"updated_at"`
}

// Validate checks the timezone against the IANA database and the anchors
// against the HH:MM format.
func (p *TimePreferences) Validate() error {
	if p.PatientID == uuid.Nil {
		return mederr.Validation("patient_id", "is required")
	}
	if p.Timezone == "" {
		return mederr.Validation("timezone", "is required")
	}
	if _, err := time.LoadLocation(p.Timezone); err != nil {
		return mederr.Validation("timezone", "unknown IANA timezone "+p.Timezone)
	}
	for field, val := range map[string]string{"wake_time": p.WakeTime, "bed_time": p.BedTime} {
		if val == "" {
			return mederr.Validation(field, "is required")
		}
		if _, err := clock.ParseTimeOfDay(val); err != nil {
			return mederr.Validation(field, "must be HH:MM")
		}
	}
	for field, val := range map[string]*string{
		"breakfast_time": p.BreakfastTime,
		"lunch_time":     p.LunchTime,
		"dinner_time":    p.DinnerTime,
	} {
		if val == nil {
			continue
		}
		if _, err := clock.ParseTimeOfDay(*val); err != nil {
			return mederr.Validation(field, "must be HH:MM")
		}
	}
	return nil
}

// Location resolves the stored timezone. Validate guarantees this
// succeeds for persisted rows.
func (p *TimePreferences) Location() (*time.Location, error) {
	return time.LoadLocation(p.Timezone)
}

// Anchors converts the wake/bed anchors for bucket classification.
func (p *TimePreferences) Anchors() clock.Anchors {
	wake, err := clock.ParseTimeOfDay(p.WakeTime)
	if err != nil {
		return clock.DefaultAnchors
	}
	bed, err := clock.ParseTimeOfDay(p.BedTime)
	if err != nil {
		return clock.DefaultAnchors
	}
	return clock.Anchors{WakeMinutes: wake, BedMinutes: bed}
}
