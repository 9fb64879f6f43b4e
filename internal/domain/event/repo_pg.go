package event

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/medtrack/medtrack/internal/domain/mederr"
	"github.com/medtrack/medtrack/internal/platform/db"
)

type repoPG struct{ pool *pgxpool.Pool }

// NewRepoPG creates the PostgreSQL-backed event repository.
func NewRepoPG(pool *pgxpool.Pool) Repository {
	return &repoPG{pool: pool}
}

func (r *repoPG) conn(ctx context.Context) db.Queryable {
	if tx := db.TxFromContext(ctx); tx != nil {
		return tx
	}
	return r.pool
}

const eventCols = `id, command_id, patient_id, type,
	scheduled_at, actual_at, event_timestamp, on_time, minutes_late,
	dose_prescribed, dose_actual, dose_percent, snooze_minutes,
	original_event_id, reason, corrected_to,
	is_archived, archived_at, archived_reason, belongs_to_date, daily_summary_id,
	correlation_id, recorded_by`

func scanEvent(row pgx.Row) (*MedicationEvent, error) {
	var e MedicationEvent
	err := row.Scan(&e.ID, &e.CommandID, &e.PatientID, &e.Type,
		&e.ScheduledAt, &e.ActualAt, &e.EventTimestamp, &e.OnTime, &e.MinutesLate,
		&e.DosePrescribed, &e.DoseActual, &e.DosePercent, &e.SnoozeMinutes,
		&e.OriginalEventID, &e.Reason, &e.CorrectedTo,
		&e.IsArchived, &e.ArchivedAt, &e.ArchivedReason, &e.BelongsToDate, &e.DailySummaryID,
		&e.CorrelationID, &e.RecordedBy)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, mederr.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &e, nil
}

func (r *repoPG) Append(ctx context.Context, e *MedicationEvent) error {
	_, err := r.conn(ctx).Exec(ctx, `
		INSERT INTO medication_event (
			id, command_id, patient_id, type,
			scheduled_at, actual_at, event_timestamp, on_time, minutes_late,
			dose_prescribed, dose_actual, dose_percent, snooze_minutes,
			original_event_id, reason, corrected_to,
			correlation_id, recorded_by
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18)`,
		e.ID, e.CommandID, e.PatientID, e.Type,
		e.ScheduledAt, e.ActualAt, e.EventTimestamp, e.OnTime, e.MinutesLate,
		e.DosePrescribed, e.DoseActual, e.DosePercent, e.SnoozeMinutes,
		e.OriginalEventID, e.Reason, e.CorrectedTo,
		e.CorrelationID, e.RecordedBy)
	return err
}

func (r *repoPG) GetByID(ctx context.Context, id uuid.UUID) (*MedicationEvent, error) {
	return scanEvent(r.conn(ctx).QueryRow(ctx,
		`SELECT `+eventCols+` FROM medication_event WHERE id = $1`, id))
}

func (r *repoPG) Query(ctx context.Context, f Filter) ([]*MedicationEvent, error) {
	sql := `SELECT ` + eventCols + ` FROM medication_event WHERE 1=1`
	var args []any
	arg := func(v any) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}

	if f.PatientID != nil {
		sql += ` AND patient_id = ` + arg(*f.PatientID)
	}
	if f.CommandID != nil {
		sql += ` AND command_id = ` + arg(*f.CommandID)
	}
	if len(f.Types) > 0 {
		sql += ` AND type = ANY(` + arg(f.Types) + `)`
	}
	if f.From != nil {
		sql += ` AND COALESCE(scheduled_at, event_timestamp) >= ` + arg(*f.From)
	}
	if f.To != nil {
		sql += ` AND COALESCE(scheduled_at, event_timestamp) < ` + arg(*f.To)
	}
	switch f.Archived {
	case ExcludeArchived:
		sql += ` AND NOT is_archived`
	case OnlyArchived:
		sql += ` AND is_archived`
	}
	if f.BelongsToDate != "" {
		sql += ` AND belongs_to_date = ` + arg(f.BelongsToDate)
	}
	if f.CorrelationID != nil {
		sql += ` AND correlation_id = ` + arg(*f.CorrelationID)
	}
	sql += ` ORDER BY event_timestamp`
	if f.Limit > 0 {
		sql += ` LIMIT ` + arg(f.Limit)
	}
	if f.Offset > 0 {
		sql += ` OFFSET ` + arg(f.Offset)
	}

	return r.list(ctx, sql, args...)
}

func (r *repoPG) ListForOccurrence(ctx context.Context, commandID uuid.UUID, scheduledAt time.Time) ([]*MedicationEvent, error) {
	return r.list(ctx, `SELECT `+eventCols+` FROM medication_event
		WHERE command_id = $1 AND scheduled_at = $2
		ORDER BY event_timestamp`, commandID, scheduledAt)
}

func (r *repoPG) FindActiveTake(ctx context.Context, commandID uuid.UUID, scheduledAt time.Time, window time.Duration) (*MedicationEvent, error) {
	return scanEvent(r.conn(ctx).QueryRow(ctx, `
		SELECT `+eventCols+` FROM medication_event e
		WHERE e.command_id = $1
		  AND e.type IN ('dose_taken_full', 'dose_taken_partial')
		  AND e.scheduled_at BETWEEN $2 AND $3
		  AND NOT EXISTS (
			SELECT 1 FROM medication_event u
			WHERE u.type = 'dose_taken_undone' AND u.original_event_id = e.id
		  )
		ORDER BY e.event_timestamp DESC
		LIMIT 1`,
		commandID, scheduledAt.Add(-window), scheduledAt.Add(window)))
}

func (r *repoPG) MarkArchived(ctx context.Context, ids []uuid.UUID, status ArchiveStatus) (int, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	tag, err := r.conn(ctx).Exec(ctx, `
		UPDATE medication_event SET
			is_archived = TRUE,
			archived_at = $2,
			archived_reason = $3,
			belongs_to_date = $4,
			daily_summary_id = $5
		WHERE id = ANY($1) AND NOT is_archived`,
		ids, status.ArchivedAt, status.Reason, status.BelongsToDate, status.DailySummaryID)
	if err != nil {
		return 0, err
	}
	return int(tag.RowsAffected()), nil
}

func (r *repoPG) list(ctx context.Context, sql string, args ...any) ([]*MedicationEvent, error) {
	rows, err := r.conn(ctx).Query(ctx, sql, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var items []*MedicationEvent
	for rows.Next() {
		e, err := scanEvent(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, e)
	}
	return items, rows.Err()
}
