package note

import (
	"time"

	"github.com/scribe/scribe/internal/domain/patient"
	"github.com/scribe/scribe/pkg/nullable"
)

// Status is the transcription state of a note.
type Status string

const (
	StatusPending   Status = "pending"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
)

func (s Status) Valid() bool {
	switch s {
	case StatusPending, StatusCompleted, StatusFailed:
		return true
	}
	return false
}

// Note maps to the notes table.
type Note struct {
	ID                  string    `db:"id" json:"id"`
	Name                *string   `db:"name" json:"name"`
	PatientID           string    `db:"patient_id" json:"patientId"`
	RawContent          string    `db:"raw_content" json:"rawContent"`
	TranscriptionText   *string   `db:"transcription_text" json:"transcriptionText"`
	AISummary           *string   `db:"ai_summary" json:"aiSummary"`
	AudioPath           *string   `db:"audio_path" json:"audioPath"`
	TranscriptionStatus Status    `db:"transcription_status" json:"transcriptionStatus"`
	CreatedAt           time.Time `db:"created_at" json:"createdAt"`
	UpdatedAt           time.Time `db:"updated_at" json:"updatedAt"`
}

// WithPatient is a note listed together with its owner's name.
type WithPatient struct {
	Note
	PatientName string `json:"patientName"`
}

// Detail is a single note with its owner's name and enrollment date.
type Detail struct {
	Note
	PatientName           string       `json:"patientName"`
	PatientEnrollmentDate patient.Date `json:"patientEnrollmentDate"`
}

// Changes is a storage-level partial update. Unset fields are untouched;
// nullable fields set to null are cleared.
type Changes struct {
	Name                nullable.Field[string]
	RawContent          *string
	TranscriptionText   nullable.Field[string]
	AISummary           *string
	AudioPath           nullable.Field[string]
	TranscriptionStatus *Status
}

func statusPtr(s Status) *Status { return &s }
