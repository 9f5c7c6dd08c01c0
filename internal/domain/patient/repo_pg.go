package patient

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"

	"github.com/scribe/scribe/internal/platform/db"
)

type patientRepoPG struct{ conn db.Querier }

func NewPatientRepoPG(conn db.Querier) Repository {
	return &patientRepoPG{conn: conn}
}

const patientCols = `id, name, enrollment_date, created_at, updated_at`

func scanPatient(row pgx.Row) (*Patient, error) {
	var p Patient
	err := row.Scan(&p.ID, &p.Name, &p.EnrollmentDate.Time, &p.CreatedAt, &p.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &p, nil
}

func collectPatients(rows pgx.Rows) ([]*Patient, error) {
	defer rows.Close()
	items := []*Patient{}
	for rows.Next() {
		p, err := scanPatient(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, p)
	}
	return items, rows.Err()
}

func (r *patientRepoPG) Create(ctx context.Context, p *Patient) error {
	p.ID = db.NewID(db.PrefixPatient)
	return r.conn.QueryRow(ctx, `
		INSERT INTO patients (id, name, enrollment_date)
		VALUES ($1, $2, $3)
		RETURNING created_at, updated_at`,
		p.ID, p.Name, p.EnrollmentDate.Time).Scan(&p.CreatedAt, &p.UpdatedAt)
}

func (r *patientRepoPG) GetByID(ctx context.Context, id string) (*Patient, error) {
	return scanPatient(r.conn.QueryRow(ctx, `SELECT `+patientCols+` FROM patients WHERE id = $1`, id))
}

func (r *patientRepoPG) GetByName(ctx context.Context, name string) (*Patient, error) {
	return scanPatient(r.conn.QueryRow(ctx,
		`SELECT `+patientCols+` FROM patients WHERE name = $1 ORDER BY created_at LIMIT 1`, name))
}

func (r *patientRepoPG) Update(ctx context.Context, id string, ch Changes) (*Patient, error) {
	var date interface{}
	if ch.EnrollmentDate != nil {
		date = ch.EnrollmentDate.Time
	}
	return scanPatient(r.conn.QueryRow(ctx, `
		UPDATE patients SET
			name = COALESCE($2, name),
			enrollment_date = COALESCE($3::date, enrollment_date),
			updated_at = NOW()
		WHERE id = $1
		RETURNING `+patientCols,
		id, ch.Name, date))
}

func (r *patientRepoPG) Delete(ctx context.Context, id string) error {
	tag, err := r.conn.Exec(ctx, `DELETE FROM patients WHERE id = $1`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *patientRepoPG) List(ctx context.Context) ([]*Patient, error) {
	rows, err := r.conn.Query(ctx, `SELECT `+patientCols+` FROM patients ORDER BY name`)
	if err != nil {
		return nil, err
	}
	return collectPatients(rows)
}

func (r *patientRepoPG) ListRecent(ctx context.Context, limit int) ([]*Patient, error) {
	rows, err := r.conn.Query(ctx,
		`SELECT `+patientCols+` FROM patients ORDER BY updated_at DESC LIMIT $1`, limit)
	if err != nil {
		return nil, err
	}
	return collectPatients(rows)
}

func (r *patientRepoPG) ListWithStats(ctx context.Context) ([]*WithStats, error) {
	rows, err := r.conn.Query(ctx, `
		SELECT p.id, p.name, p.enrollment_date, p.created_at, p.updated_at,
			COUNT(n.id), MAX(n.created_at)
		FROM patients p
		LEFT JOIN notes n ON n.patient_id = p.id
		GROUP BY p.id
		ORDER BY MAX(n.created_at) DESC NULLS LAST, p.name`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	items := []*WithStats{}
	for rows.Next() {
		var s WithStats
		if err := rows.Scan(&s.ID, &s.Name, &s.EnrollmentDate.Time, &s.CreatedAt, &s.UpdatedAt,
			&s.NotesCount, &s.LastNoteDate); err != nil {
			return nil, err
		}
		items = append(items, &s)
	}
	return items, rows.Err()
}
