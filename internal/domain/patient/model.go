package patient

import (
	"encoding/json"
	"fmt"
	"time"
)

// DateLayout is the wire format of calendar dates.
const DateLayout = "2006-01-02"

// Date is a calendar date without time of day. It maps to a Postgres DATE
// column and serializes as "YYYY-MM-DD".
type Date struct {
	time.Time
}

// ParseDate parses s in DateLayout.
func ParseDate(s string) (Date, error) {
	t, err := time.Parse(DateLayout, s)
	if err != nil {
		return Date{}, fmt.Errorf("parse date %q: %w", s, err)
	}
	return Date{Time: t}, nil
}

// MustDate is ParseDate for literals known to be valid.
func MustDate(s string) Date {
	d, err := ParseDate(s)
	if err != nil {
		panic(err)
	}
	return d
}

func (d Date) String() string {
	return d.Format(DateLayout)
}

func (d Date) MarshalJSON() ([]byte, error) {
	return json.Marshal(d.String())
}

func (d *Date) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	parsed, err := ParseDate(s)
	if err != nil {
		return err
	}
	*d = parsed
	return nil
}

// Patient maps to the patients table.
type Patient struct {
	ID             string    `db:"id" json:"id"`
	Name           string    `db:"name" json:"name"`
	EnrollmentDate Date      `db:"enrollment_date" json:"enrollmentDate"`
	CreatedAt      time.Time `db:"created_at" json:"createdAt"`
	UpdatedAt      time.Time `db:"updated_at" json:"updatedAt"`
}

// WithStats is a patient plus an aggregate over its notes.
type WithStats struct {
	Patient
	NotesCount   int        `json:"notesCount"`
	LastNoteDate *time.Time `json:"lastNoteDate"`
}

// Changes is a partial update. Nil fields are left untouched.
type Changes struct {
	Name           *string
	EnrollmentDate *Date
}

// Empty reports whether c changes nothing.
func (c Changes) Empty() bool {
	return c.Name == nil && c.EnrollmentDate == nil
}
