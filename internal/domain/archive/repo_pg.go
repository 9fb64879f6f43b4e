package archive

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

// NewRepoPG creates the PostgreSQL-backed summary repository.
func NewRepoPG(pool *pgxpool.Pool) Repository {
	return &repoPG{pool: pool}
}

func (r *repoPG) conn(ctx context.Context) db.Queryable {
	if tx := db.TxFromContext(ctx); tx != nil {
		return tx
	}
	return r.pool
}

const summaryCols = `id, patient_id, date, timezone, stats, per_command,
	overall_adherence_rate, on_time_rate, archived_event_ids, created_at`

func scanSummary(row pgx.Row) (*DailySummary, error) {
	var s DailySummary
	err := row.Scan(&s.ID, &s.PatientID, &s.Date, &s.Timezone, &s.Stats, &s.PerCommand,
		&s.OverallAdherenceRate, &s.OnTimeRate, &s.ArchivedEventIDs, &s.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, mederr.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &s, nil
}

func (r *repoPG) Create(ctx context.Context, s *DailySummary) error {
	_, err := r.conn(ctx).Exec(ctx, `
		INSERT INTO daily_summary (
			id, patient_id, date, timezone, stats, per_command,
			overall_adherence_rate, on_time_rate, archived_event_ids, created_at
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,NOW())`,
		s.ID, s.PatientID, s.Date, s.Timezone, s.Stats, s.PerCommand,
		s.OverallAdherenceRate, s.OnTimeRate, s.ArchivedEventIDs)
	return err
}

func (r *repoPG) Get(ctx context.Context, patientID uuid.UUID, date string) (*DailySummary, error) {
	return scanSummary(r.conn(ctx).QueryRow(ctx,
		`SELECT `+summaryCols+` FROM daily_summary WHERE patient_id = $1 AND date = $2`,
		patientID, date))
}

func (r *repoPG) ListRange(ctx context.Context, patientID uuid.UUID, fromDate, toDate string) ([]*DailySummary, error) {
	rows, err := r.conn(ctx).Query(ctx, `
		SELECT `+summaryCols+` FROM daily_summary
		WHERE patient_id = $1 AND date BETWEEN $2 AND $3
		ORDER BY date`, patientID, fromDate, toDate)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var items []*DailySummary
	for rows.Next() {
		s, err := scanSummary(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, s)
	}
	return items, rows.Err()
}
