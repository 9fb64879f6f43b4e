package prefs

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/medtrack/medtrack/internal/domain/mederr"
	"github.com/medtrack/medtrack/internal/platform/db"
)

type repoPG struct{ pool *pgxpool.Pool }

// NewRepoPG creates the PostgreSQL-backed preferences repository.
func NewRepoPG(pool *pgxpool.Pool) Repository {
	return &repoPG{pool: pool}
}

func (r *repoPG) conn(ctx context.Context) db.Queryable {
	if tx := db.TxFromContext(ctx); tx != nil {
		return tx
	}
	return r.pool
}

const prefCols = `patient_id, timezone, wake_time, bed_time, breakfast_time, lunch_time, dinner_time, updated_at`

func scanPrefs(row pgx.Row) (*TimePreferences, error) {
	var p TimePreferences
	err := row.Scan(&p.PatientID, &p.Timezone, &p.WakeTime, &p.BedTime,
		&p.BreakfastTime, &p.LunchTime, &p.DinnerTime, &p.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, mederr.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &p, nil
}

func (r *repoPG) Get(ctx context.Context, patientID uuid.UUID) (*TimePreferences, error) {
	return scanPrefs(r.conn(ctx).QueryRow(ctx,
		`SELECT `+prefCols+` FROM patient_time_preferences WHERE patient_id = $1`, patientID))
}

func (r *repoPG) Upsert(ctx context.Context, p *TimePreferences) error {
	_, err := r.conn(ctx).Exec(ctx, `
		INSERT INTO patient_time_preferences (patient_id, timezone, wake_time, bed_time, breakfast_time, lunch_time, dinner_time, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,NOW())
		ON CONFLICT (patient_id) DO UPDATE SET
			timezone = EXCLUDED.timezone,
			wake_time = EXCLUDED.wake_time,
			bed_time = EXCLUDED.bed_time,
			breakfast_time = EXCLUDED.breakfast_time,
			lunch_time = EXCLUDED.lunch_time,
			dinner_time = EXCLUDED.dinner_time,
			updated_at = NOW()`,
		p.PatientID, p.Timezone, p.WakeTime, p.BedTime, p.BreakfastTime, p.LunchTime, p.DinnerTime)
	return err
}

func (r *repoPG) ListAll(ctx context.Context) ([]*TimePreferences, error) {
	rows, err := r.conn(ctx).Query(ctx, `SELECT `+prefCols+` FROM patient_time_preferences ORDER BY patient_id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var items []*TimePreferences
	for rows.Next() {
		p, err := scanPrefs(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, p)
	}
	return items, rows.Err()
}
