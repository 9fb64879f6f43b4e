// Package mederr defines the typed error kinds shared by the medication
// engine. Handlers map these onto HTTP status codes; services return them
// so callers can decide on remediation (re-read and retry, offer a
// correction path, surface a warning) without string matching.
package mederr

import (
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"
)

// ErrNotFound is returned by repositories when a row does not exist.
var ErrNotFound = errors.New("not found")

// ValidationError reports malformed command or event input. Nothing is
// written when a ValidationError is returned.
type ValidationError struct {
	Field string
	Msg   string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return e.Msg
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Msg)
}

// Validation builds a ValidationError for a field.
func Validation(field, msg string) *ValidationError {
	return &ValidationError{Field: field, Msg: msg}
}

// ConflictError reports an optimistic-concurrency version mismatch on a
// command update. The caller must re-read the command and retry.
type ConflictError struct {
	ExpectedVersion int
	ActualVersion   int
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("version conflict: expected %d, stored %d", e.ExpectedVersion, e.ActualVersion)
}

// DuplicateEventError reports a taken-type event for an occurrence that
// already has one within the one-hour guard window. It is a safety net
// against double submission, surfaced as a warning rather than a failure.
type DuplicateEventError struct {
	ExistingEventID uuid.UUID
	ScheduledAt     time.Time
}

func (e *DuplicateEventError) Error() string {
	return fmt.Sprintf("duplicate take: event %s already recorded for occurrence at %s",
		e.ExistingEventID, e.ScheduledAt.Format(time.RFC3339))
}

// WindowExpiredError reports an undo attempted after the 30-second undo
// window. CorrectionAvailable tells the caller whether the 24-hour
// correction window is still open.
type WindowExpiredError struct {
	Elapsed             time.Duration
	Window              time.Duration
	CorrectionAvailable bool
}

func (e *WindowExpiredError) Error() string {
	return fmt.Sprintf("undo window of %s expired (%s elapsed)", e.Window, e.Elapsed.Round(time.Millisecond))
}

// TooOldError reports an undo or correction attempted more than 24 hours
// after the original event. History is settled at that point.
type TooOldError struct {
	Elapsed time.Duration
}

func (e *TooOldError) Error() string {
	return fmt.Sprintf("event is %s old; history is settled after 24h", e.Elapsed.Round(time.Minute))
}

// PreferencesMissingError marks a patient skipped by the archival job
// because no time preferences are on file. Logged, never alerted.
type PreferencesMissingError struct {
	PatientID uuid.UUID
}

func (e *PreferencesMissingError) Error() string {
	return fmt.Sprintf("patient %s has no time preferences", e.PatientID)
}

// HTTPStatus maps a domain error to the status code handlers should use.
func HTTPStatus(err error) int {
	var (
		ve *ValidationError
		ce *ConflictError
		de *DuplicateEventError
		we *WindowExpiredError
		te *TooOldError
		pe *PreferencesMissingError
	)
	switch {
	case errors.Is(err, ErrNotFound):
		return http.StatusNotFound
	case errors.As(err, &ve):
		return http.StatusBadRequest
	case errors.As(err, &ce):
		return http.StatusConflict
	case errors.As(err, &de):
		return http.StatusConflict
	case errors.As(err, &we):
		return http.StatusGone
	case errors.As(err, &te):
		return http.StatusGone
	case errors.As(err, &pe):
		return http.StatusPreconditionFailed
	default:
		return http.StatusInternalServerError
	}
}

// Payload renders a domain error as a JSON-friendly body with enough
// structure for the caller to choose a remediation path.
func Payload(err error) map[string]interface{} {
	body := map[string]interface{}{"error": err.Error()}
	var (
		ve *ValidationError
		ce *ConflictError
		de *DuplicateEventError
		we *WindowExpiredError
		te *TooOldError
		pe *PreferencesMissingError
	)
	switch {
	case errors.As(err, &ve):
		body["kind"] = "validation"
		if ve.Field != "" {
			body["field"] = ve.Field
		}
	case errors.As(err, &ce):
		body["kind"] = "conflict"
		body["expected_version"] = ce.ExpectedVersion
		body["actual_version"] = ce.ActualVersion
	case errors.As(err, &de):
		body["kind"] = "duplicate_event"
		body["existing_event_id"] = de.ExistingEventID.String()
	case errors.As(err, &we):
		body["kind"] = "window_expired"
		body["correction_available"] = we.CorrectionAvailable
	case errors.As(err, &te):
		body["kind"] = "too_old"
	case errors.As(err, &pe):
		body["kind"] = "preferences_missing"
		body["patient_id"] = pe.PatientID.String()
	case errors.Is(err, ErrNotFound):
		body["kind"] = "not_found"
	}
	return body
}
