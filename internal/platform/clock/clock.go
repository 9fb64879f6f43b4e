// Package clock holds the pure time arithmetic the medication engine is
// built on: local calendar dates, the local-midnight archival window,
// grace periods per medication class, and semantic time-of-day buckets
// anchored to a patient's wake and bed times. Everything here is
// stateless and safe for concurrent use.
//
// All day-boundary math goes through time.Date in the patient's zone so
// daylight-saving transitions and leap years fall out correctly; no
// function in this package adds a fixed offset to cross a day boundary.
package clock

import (
	"fmt"
	"time"
)

// DateLayout is the wire format for local calendar dates.
const DateLayout = "2006-01-02"

// TimeOfDayLayout is the wire format for schedule times and lifestyle
// anchors ("08:00", "21:30").
const TimeOfDayLayout = "15:04"

// MedClass identifies a medication class for grace-period purposes.
type MedClass string

const (
	ClassBloodPressure MedClass = "blood_pressure"
	ClassDiabetes      MedClass = "diabetes"
	ClassCardiac       MedClass = "cardiac"
	ClassAntibiotic    MedClass = "antibiotic"
	ClassPainRelief    MedClass = "pain_relief"
	ClassSupplement    MedClass = "supplement"
	ClassGeneral       MedClass = "general"
)

// Grace periods in minutes. Timing-critical classes get a tight window,
// supplements a loose one.
var gracePeriods = map[MedClass]int{
	ClassBloodPressure: 30,
	ClassDiabetes:      30,
	ClassCardiac:       30,
	ClassAntibiotic:    45,
	ClassPainRelief:    60,
	ClassSupplement:    120,
	ClassGeneral:       60,
}

// DefaultGraceMinutes is used when the medication class is unknown.
const DefaultGraceMinutes = 60

// GracePeriod returns the on-time tolerance in minutes for a medication
// class. Unknown classes get the default.
func GracePeriod(class MedClass) int {
	if g, ok := gracePeriods[class]; ok {
		return g
	}
	return DefaultGraceMinutes
}

// ValidClass reports whether s names a known medication class.
func ValidClass(s string) bool {
	_, ok := gracePeriods[MedClass(s)]
	return ok
}

// Bucket is a semantic time-of-day slot.
type Bucket string

const (
	BucketMorning   Bucket = "morning"
	BucketAfternoon Bucket = "afternoon"
	BucketEvening   Bucket = "evening"
	BucketBedtime   Bucket = "bedtime"
)

// Weekday buckets for analytics.
var AllBuckets = []Bucket{BucketMorning, BucketAfternoon, BucketEvening, BucketBedtime}

// Anchors are the lifestyle anchors a bucket classification needs,
// expressed as minutes from local midnight.
type Anchors struct {
	WakeMinutes int
	BedMinutes  int
}

// DefaultAnchors assumes a 07:00 wake and 22:00 bed time.
var DefaultAnchors = Anchors{WakeMinutes: 7 * 60, BedMinutes: 22 * 60}

// ParseTimeOfDay parses "15:04" into minutes from midnight.
func ParseTimeOfDay(s string) (int, error) {
	t, err := time.Parse(TimeOfDayLayout, s)
	if err != nil {
		return 0, fmt.Errorf("parse time of day %q: %w", s, err)
	}
	return t.Hour()*60 + t.Minute(), nil
}

// BucketOf classifies a local instant into a semantic slot relative to
// the patient's wake and bed anchors. The waking span is divided into
// morning (first third), afternoon (second third) and evening (last
// third, minus the final hour before bed, which joins the bedtime slot).
// Instants after bed or before wake are bedtime.
func BucketOf(local time.Time, a Anchors) Bucket {
	m := local.Hour()*60 + local.Minute()
	wake, bed := a.WakeMinutes, a.BedMinutes
	if bed <= wake {
		// Night-shift anchors: treat the bed time as next-day.
		bed += 24 * 60
		if m < wake {
			m += 24 * 60
		}
	}
	if m < wake || m >= bed-60 {
		return BucketBedtime
	}
	span := bed - 60 - wake
	if span <= 0 {
		return BucketMorning
	}
	switch {
	case m < wake+span/3:
		return BucketMorning
	case m < wake+2*span/3:
		return BucketAfternoon
	default:
		return BucketEvening
	}
}

// LocalDate formats the calendar date of an instant in the given zone.
func LocalDate(loc *time.Location, t time.Time) string {
	return t.In(loc).Format(DateLayout)
}

// DayBounds returns the UTC instants [start, end) of a local calendar
// date. On DST transition days the span is 23 or 25 hours.
func DayBounds(loc *time.Location, date string) (start, end time.Time, err error) {
	d, err := time.ParseInLocation(DateLayout, date, loc)
	if err != nil {
		return time.Time{}, time.Time{}, fmt.Errorf("parse date %q: %w", date, err)
	}
	start = time.Date(d.Year(), d.Month(), d.Day(), 0, 0, 0, 0, loc)
	end = time.Date(d.Year(), d.Month(), d.Day()+1, 0, 0, 0, 0, loc)
	return start.UTC(), end.UTC(), nil
}

// PrevLocalDay returns the previous local calendar date relative to now,
// with its UTC bounds.
func PrevLocalDay(loc *time.Location, now time.Time) (date string, start, end time.Time) {
	local := now.In(loc)
	prev := time.Date(local.Year(), local.Month(), local.Day()-1, 0, 0, 0, 0, loc)
	date = prev.Format(DateLayout)
	start = prev.UTC()
	end = time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, loc).UTC()
	return date, start, end
}

// InMidnightWindow reports whether now is within +-window of local
// midnight in the given zone. This is the archival trigger test.
func InMidnightWindow(loc *time.Location, now time.Time, window time.Duration) bool {
	local := now.In(loc)
	prevMidnight := time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, loc)
	nextMidnight := time.Date(local.Year(), local.Month(), local.Day()+1, 0, 0, 0, 0, loc)
	sincePrev := local.Sub(prevMidnight)
	untilNext := nextMidnight.Sub(local)
	return sincePrev <= window || untilNext <= window
}

// AtTimeOfDay materializes a "15:04" schedule time on a local date as a
// UTC instant. During a spring-forward gap the zone database shifts the
// instant forward; that is the correct wall-clock behavior.
func AtTimeOfDay(loc *time.Location, date, timeOfDay string) (time.Time, error) {
	d, err := time.ParseInLocation(DateLayout, date, loc)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse date %q: %w", date, err)
	}
	mins, err := ParseTimeOfDay(timeOfDay)
	if err != nil {
		return time.Time{}, err
	}
	return time.Date(d.Year(), d.Month(), d.Day(), mins/60, mins%60, 0, 0, loc).UTC(), nil
}

// Classify computes the on-time flag and minutes-late for an actual
// intake against its scheduled instant. Early doses within the grace
// window count as on time; minutes-late is never negative.
func Classify(scheduled, actual time.Time, graceMinutes int) (onTime bool, minutesLate int) {
	delta := actual.Sub(scheduled)
	late := int(delta.Minutes())
	if late < 0 {
		minutesLate = 0
	} else {
		minutesLate = late
	}
	grace := time.Duration(graceMinutes) * time.Minute
	onTime = delta >= -grace && delta <= grace
	return onTime, minutesLate
}
