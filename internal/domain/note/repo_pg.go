package note

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"

	"github.com/scribe/scribe/internal/platform/db"
	"github.com/scribe/scribe/pkg/nullable"
)

type noteRepoPG struct{ conn db.Querier }

func NewNoteRepoPG(conn db.Querier) Repository {
	return &noteRepoPG{conn: conn}
}

// noteCols is qualified with the n alias so it can be joined against patients.
const noteCols = `n.id, n.name, n.patient_id, n.raw_content, n.transcription_text, n.ai_summary,
	n.audio_path, n.transcription_status::text, n.created_at, n.updated_at`

func noteDest(n *Note) []interface{} {
	return []interface{}{&n.ID, &n.Name, &n.PatientID, &n.RawContent, &n.TranscriptionText, &n.AISummary,
		&n.AudioPath, &n.TranscriptionStatus, &n.CreatedAt, &n.UpdatedAt}
}

func notFound(err error) error {
	if errors.Is(err, pgx.ErrNoRows) {
		return ErrNotFound
	}
	return err
}

func scanNote(row pgx.Row) (*Note, error) {
	var n Note
	if err := row.Scan(noteDest(&n)...); err != nil {
		return nil, notFound(err)
	}
	return &n, nil
}

func (r *noteRepoPG) Create(ctx context.Context, n *Note) error {
	n.ID = db.NewID(db.PrefixNote)
	if n.TranscriptionStatus == "" {
		n.TranscriptionStatus = StatusPending
	}
	return r.conn.QueryRow(ctx, `
		INSERT INTO notes (id, name, patient_id, raw_content, transcription_text, ai_summary,
			audio_path, transcription_status)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8::transcription_status)
		RETURNING created_at, updated_at`,
		n.ID, n.Name, n.PatientID, n.RawContent, n.TranscriptionText, n.AISummary,
		n.AudioPath, string(n.TranscriptionStatus)).Scan(&n.CreatedAt, &n.UpdatedAt)
}

func (r *noteRepoPG) GetByID(ctx context.Context, id string) (*Note, error) {
	return scanNote(r.conn.QueryRow(ctx, `SELECT `+noteCols+` FROM notes n WHERE n.id = $1`, id))
}

func (r *noteRepoPG) GetDetail(ctx context.Context, id string) (*Detail, error) {
	var d Detail
	dest := append(noteDest(&d.Note), &d.PatientName, &d.PatientEnrollmentDate.Time)
	err := r.conn.QueryRow(ctx, `
		SELECT `+noteCols+`, p.name, p.enrollment_date
		FROM notes n
		JOIN patients p ON p.id = n.patient_id
		WHERE n.id = $1`, id).Scan(dest...)
	if err != nil {
		return nil, notFound(err)
	}
	return &d, nil
}

// setClause accumulates "col = $n" assignments for a partial UPDATE.
type setClause struct {
	sets []string
	args []interface{}
}

func (s *setClause) add(col string, v interface{}) {
	s.args = append(s.args, v)
	s.sets = append(s.sets, fmt.Sprintf("%s = $%d", col, len(s.args)))
}

func (s *setClause) addNullable(col string, f nullable.Field[string]) {
	if f.Set {
		s.add(col, f.Ptr())
	}
}

func (r *noteRepoPG) Update(ctx context.Context, id string, ch Changes) (*Note, error) {
	sc := setClause{args: []interface{}{id}}

	sc.addNullable("name", ch.Name)
	if ch.RawContent != nil {
		sc.add("raw_content", *ch.RawContent)
	}
	sc.addNullable("transcription_text", ch.TranscriptionText)
	if ch.AISummary != nil {
		sc.add("ai_summary", *ch.AISummary)
	}
	sc.addNullable("audio_path", ch.AudioPath)
	if ch.TranscriptionStatus != nil {
		sc.args = append(sc.args, string(*ch.TranscriptionStatus))
		sc.sets = append(sc.sets, fmt.Sprintf("transcription_status = $%d::transcription_status", len(sc.args)))
	}
	sc.sets = append(sc.sets, "updated_at = NOW()")

	q := `UPDATE notes n SET ` + strings.Join(sc.sets, ", ") + ` WHERE n.id = $1 RETURNING ` + noteCols
	return scanNote(r.conn.QueryRow(ctx, q, sc.args...))
}

func (r *noteRepoPG) Delete(ctx context.Context, id string) error {
	tag, err := r.conn.Exec(ctx, `DELETE FROM notes WHERE id = $1`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *noteRepoPG) listWithPatient(ctx context.Context, suffix string, args ...interface{}) ([]*WithPatient, error) {
	rows, err := r.conn.Query(ctx, `
		SELECT `+noteCols+`, p.name
		FROM notes n
		JOIN patients p ON p.id = n.patient_id
		ORDER BY n.created_at DESC`+suffix, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	items := []*WithPatient{}
	for rows.Next() {
		var w WithPatient
		if err := rows.Scan(append(noteDest(&w.Note), &w.PatientName)...); err != nil {
			return nil, err
		}
		items = append(items, &w)
	}
	return items, rows.Err()
}

func (r *noteRepoPG) List(ctx context.Context) ([]*WithPatient, error) {
	return r.listWithPatient(ctx, "")
}

func (r *noteRepoPG) ListRecent(ctx context.Context, limit int) ([]*WithPatient, error) {
	return r.listWithPatient(ctx, ` LIMIT $1`, limit)
}

func (r *noteRepoPG) ListByPatient(ctx context.Context, patientID string) ([]*Note, error) {
	rows, err := r.conn.Query(ctx,
		`SELECT `+noteCols+` FROM notes n WHERE n.patient_id = $1 ORDER BY n.created_at DESC`, patientID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	items := []*Note{}
	for rows.Next() {
		n, err := scanNote(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, n)
	}
	return items, rows.Err()
}
