package command

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

// NewRepoPG creates the PostgreSQL-backed command repository.
func NewRepoPG(pool *pgxpool.Pool) Repository {
	return &repoPG{pool: pool}
}

func (r *repoPG) conn(ctx context.Context) db.Queryable {
	if tx := db.TxFromContext(ctx); tx != nil {
		return tx
	}
	return r.pool
}

const cmdCols = `id, patient_id, name, dosage, instructions, med_class,
	frequency, times, start_date, end_date, indefinite, is_prn,
	reminders_enabled, reminder_offsets, grace_minutes,
	status, version, schedule_changed_at,
	created_by, updated_by, created_at, updated_at`

func scanCommand(row pgx.Row) (*MedicationCommand, error) {
	var m MedicationCommand
	err := row.Scan(&m.ID, &m.PatientID, &m.Name, &m.Dosage, &m.Instructions, &m.MedClass,
		&m.Frequency, &m.Times, &m.StartDate, &m.EndDate, &m.Indefinite, &m.IsPRN,
		&m.RemindersEnabled, &m.ReminderOffsets, &m.GraceMinutes,
		&m.Status, &m.Version, &m.ScheduleChangedAt,
		&m.CreatedBy, &m.UpdatedBy, &m.CreatedAt, &m.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, mederr.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &m, nil
}

func (r *repoPG) Create(ctx context.Context, m *MedicationCommand) error {
	_, err := r.conn(ctx).Exec(ctx, `
		INSERT INTO medication_command (
			id, patient_id, name, dosage, instructions, med_class,
			frequency, times, start_date, end_date, indefinite, is_prn,
			reminders_enabled, reminder_offsets, grace_minutes,
			status, version, created_by, updated_by, created_at, updated_at
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18,$19,NOW(),NOW())`,
		m.ID, m.PatientID, m.Name, m.Dosage, m.Instructions, m.MedClass,
		m.Frequency, m.Times, m.StartDate, m.EndDate, m.Indefinite, m.IsPRN,
		m.RemindersEnabled, m.ReminderOffsets, m.GraceMinutes,
		m.Status, m.Version, m.CreatedBy, m.UpdatedBy)
	return err
}

func (r *repoPG) Get(ctx context.Context, id uuid.UUID) (*MedicationCommand, error) {
	return scanCommand(r.conn(ctx).QueryRow(ctx,
		`SELECT `+cmdCols+` FROM medication_command WHERE id = $1`, id))
}

func (r *repoPG) Update(ctx context.Context, m *MedicationCommand, expectedVersion int) error {
	tag, err := r.conn(ctx).Exec(ctx, `
		UPDATE medication_command SET
			name = $3, dosage = $4, instructions = $5, med_class = $6,
			frequency = $7, times = $8, start_date = $9, end_date = $10,
			indefinite = $11, is_prn = $12,
			reminders_enabled = $13, reminder_offsets = $14, grace_minutes = $15,
			status = $16, schedule_changed_at = $17,
			version = version + 1, updated_by = $18, updated_at = NOW()
		WHERE id = $1 AND version = $2`,
		m.ID, expectedVersion,
		m.Name, m.Dosage, m.Instructions, m.MedClass,
		m.Frequency, m.Times, m.StartDate, m.EndDate,
		m.Indefinite, m.IsPRN,
		m.RemindersEnabled, m.ReminderOffsets, m.GraceMinutes,
		m.Status, m.ScheduleChangedAt, m.UpdatedBy)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 1 {
		m.Version = expectedVersion + 1
		return nil
	}

	// Zero rows means either the row is gone or the version moved.
	// A re-read distinguishes the two.
	current, err := r.Get(ctx, m.ID)
	if err != nil {
		return err
	}
	return &mederr.ConflictError{ExpectedVersion: expectedVersion, ActualVersion: current.Version}
}

func (r *repoPG) ListByPatient(ctx context.Context, patientID uuid.UUID) ([]*MedicationCommand, error) {
	return r.list(ctx, `SELECT `+cmdCols+` FROM medication_command
		WHERE patient_id = $1 ORDER BY created_at`, patientID)
}

func (r *repoPG) ListActiveByPatient(ctx context.Context, patientID uuid.UUID) ([]*MedicationCommand, error) {
	return r.list(ctx, `SELECT `+cmdCols+` FROM medication_command
		WHERE patient_id = $1 AND status = 'active' ORDER BY created_at`, patientID)
}

func (r *repoPG) list(ctx context.Context, sql string, args ...any) ([]*MedicationCommand, error) {
	rows, err := r.conn(ctx).Query(ctx, sql, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var items []*MedicationCommand
	for rows.Next() {
		m, err := scanCommand(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, m)
	}
	return items, rows.Err()
}
