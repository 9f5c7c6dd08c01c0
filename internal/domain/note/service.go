package note

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/rs/zerolog"
	"golang.org/x/sync/singleflight"

	"github.com/scribe/scribe/internal/apperr"
	"github.com/scribe/scribe/internal/domain/patient"
	"github.com/scribe/scribe/internal/platform/blobstore"
	"github.com/scribe/scribe/internal/platform/summary"
	"github.com/scribe/scribe/internal/platform/telemetry"
	"github.com/scribe/scribe/internal/platform/transcription"
	"github.com/scribe/scribe/pkg/nullable"
)

// RecentLimit is how many notes ListRecent returns.
const RecentLimit = 5

// PatientLookup resolves the owner of a note. Errors are expected to be
// tagged with apperr kinds (patient_not_found, database_error).
type PatientLookup interface {
	Get(ctx context.Context, id string) (*patient.Patient, error)
}

// AudioStore is the object-storage view the service needs.
type AudioStore interface {
	UploadAudio(ctx context.Context, data []byte, filename, contentType string) (string, error)
	AudioBuffer(ctx context.Context, key string) ([]byte, error)
	SignedURL(ctx context.Context, key string) (string, error)
}

type Service struct {
	notes       Repository
	patients    PatientLookup
	audio       AudioStore
	transcriber transcription.Transcriber
	summarizer  summary.Summarizer
	metrics     *telemetry.TelemetryProvider
	logger      zerolog.Logger
	autoSummary bool
	now         func() time.Time

	// inflight collapses concurrent transcriptions of the same note.
	inflight singleflight.Group
}

// Option configures a Service.
type Option func(*Service)

// WithTelemetry records transcription and summary metrics on tp.
func WithTelemetry(tp *telemetry.TelemetryProvider) Option {
	return func(s *Service) { s.metrics = tp }
}

// WithAutoSummary toggles SOAP summary synthesis on note creation. It is
// on by default.
func WithAutoSummary(on bool) Option {
	return func(s *Service) { s.autoSummary = on }
}

func NewService(notes Repository, patients PatientLookup, audio AudioStore,
	transcriber transcription.Transcriber, summarizer summary.Summarizer,
	logger zerolog.Logger, opts ...Option) *Service {
	s := &Service{
		notes:       notes,
		patients:    patients,
		audio:       audio,
		transcriber: transcriber,
		summarizer:  summarizer,
		logger:      logger.With().Str("component", "note").Logger(),
		autoSummary: true,
		now:         time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Service) dbError(err error, op, noteID string) error {
	if errors.Is(err, ErrNotFound) {
		return apperr.New(apperr.KindNoteNotFound, nil)
	}
	ev := s.logger.Error().Err(err).Str("op", op)
	if noteID != "" {
		ev = ev.Str("note_id", noteID)
	}
	ev.Msg("note repository failure")
	return apperr.New(apperr.KindDatabase, err)
}

// lookupPatient passes tagged errors through and tags anything else as a
// database error.
func (s *Service) lookupPatient(ctx context.Context, id string) (*patient.Patient, error) {
	p, err := s.patients.Get(ctx, id)
	if err != nil {
		if _, ok := apperr.KindOf(err); ok {
			return nil, err
		}
		return nil, apperr.New(apperr.KindDatabase, err)
	}
	return p, nil
}

// -- Queries --

// List returns every note with its patient's name, newest first.
func (s *Service) List(ctx context.Context) ([]*WithPatient, error) {
	items, err := s.notes.List(ctx)
	if err != nil {
		return nil, s.dbError(err, "list", "")
	}
	return items, nil
}

func (s *Service) ListRecent(ctx context.Context) ([]*WithPatient, error) {
	items, err := s.notes.ListRecent(ctx, RecentLimit)
	if err != nil {
		return nil, s.dbError(err, "list_recent", "")
	}
	return items, nil
}

// ListByPatient returns the patient's notes newest first.
func (s *Service) ListByPatient(ctx context.Context, patientID string) ([]*Note, error) {
	if _, err := s.lookupPatient(ctx, patientID); err != nil {
		return nil, err
	}
	items, err := s.notes.ListByPatient(ctx, patientID)
	if err != nil {
		return nil, s.dbError(err, "list_by_patient", "")
	}
	return items, nil
}

// Get returns the note with its patient's name and enrollment date.
func (s *Service) Get(ctx context.Context, id string) (*Detail, error) {
	d, err := s.notes.GetDetail(ctx, id)
	if err != nil {
		return nil, s.dbError(err, "get", id)
	}
	return d, nil
}

// -- Mutations --

// CreateInput carries the fields accepted when creating a note.
type CreateInput struct {
	PatientID           string
	RawContent          string
	Name                *string
	TranscriptionText   *string
	AISummary           *string
	AudioPath           *string
	TranscriptionStatus Status
}

func trimmedOrNil(s *string) *string {
	if s == nil {
		return nil
	}
	v := strings.TrimSpace(*s)
	if v == "" {
		return nil
	}
	return &v
}

// MaxNameLength matches notes.name VARCHAR(255).
const MaxNameLength = 255

// DefaultName is the label given to notes created without one. The patient
// name is cut so the result fits in MaxNameLength characters.
func DefaultName(patientName string, at time.Time) string {
	date := at.Format("Jan 2, 2006")
	room := MaxNameLength - utf8.RuneCountInString("Note -  - "+date)
	if r := []rune(patientName); len(r) > room {
		patientName = strings.TrimSpace(string(r[:room]))
	}
	return fmt.Sprintf("Note - %s - %s", patientName, date)
}

func (s *Service) Create(ctx context.Context, in CreateInput) (*Note, error) {
	p, err := s.lookupPatient(ctx, in.PatientID)
	if err != nil {
		return nil, err
	}

	raw := strings.TrimSpace(in.RawContent)
	aiSummary := trimmedOrNil(in.AISummary)
	if aiSummary == nil && raw != "" && s.autoSummary {
		aiSummary = s.autoSummarize(ctx, in.PatientID, raw)
	}

	name := trimmedOrNil(in.Name)
	if name == nil {
		def := DefaultName(p.Name, s.now())
		name = &def
	}
	status := in.TranscriptionStatus
	if status == "" {
		status = StatusPending
	}

	n := &Note{
		Name:                name,
		PatientID:           in.PatientID,
		RawContent:          raw,
		TranscriptionText:   trimmedOrNil(in.TranscriptionText),
		AISummary:           aiSummary,
		AudioPath:           trimmedOrNil(in.AudioPath),
		TranscriptionStatus: status,
	}
	if err := s.notes.Create(ctx, n); err != nil {
		return nil, s.dbError(err, "create", "")
	}
	s.logger.Info().Str("note_id", n.ID).Str("patient_id", n.PatientID).Msg("note created")
	return n, nil
}

// autoSummarize is best effort: any failure is logged and yields nil.
func (s *Service) autoSummarize(ctx context.Context, patientID, content string) *string {
	text, err := s.summarize(ctx, content, summary.TemplateSOAP)
	if err != nil {
		s.logger.Warn().Err(err).Str("patient_id", patientID).Msg("automatic summary failed")
		return nil
	}
	text = strings.TrimSpace(text)
	if text == "" {
		return nil
	}
	return &text
}

// UpdateInput is a partial update as received from clients. Absent fields
// are untouched.
type UpdateInput struct {
	Name                nullable.Field[string]
	RawContent          nullable.Field[string]
	TranscriptionText   nullable.Field[string]
	AISummary           nullable.Field[string]
	AudioPath           nullable.Field[string]
	TranscriptionStatus nullable.Field[Status]
}

// clearable trims a present field; null and blank both clear it.
func clearable(f nullable.Field[string]) nullable.Field[string] {
	if !f.Set {
		return f
	}
	if v := trimmedOrNil(f.Ptr()); v != nil {
		return nullable.Of(*v)
	}
	return nullable.Null[string]()
}

// Changes translates in into storage changes. rawContent and aiSummary are
// only written when non-blank. Clearing audioPath without an explicit status
// resets the status to pending.
func (in UpdateInput) Changes() Changes {
	ch := Changes{
		Name:              clearable(in.Name),
		RawContent:        trimmedOrNil(in.RawContent.Ptr()),
		TranscriptionText: clearable(in.TranscriptionText),
		AISummary:         trimmedOrNil(in.AISummary.Ptr()),
		AudioPath:         clearable(in.AudioPath),
	}
	if in.TranscriptionStatus.HasValue() {
		ch.TranscriptionStatus = statusPtr(in.TranscriptionStatus.Value)
	} else if ch.AudioPath.Null {
		ch.TranscriptionStatus = statusPtr(StatusPending)
	}
	return ch
}

func (s *Service) Update(ctx context.Context, id string, in UpdateInput) (*Note, error) {
	n, err := s.notes.Update(ctx, id, in.Changes())
	if err != nil {
		return nil, s.dbError(err, "update", id)
	}
	return n, nil
}

func (s *Service) Delete(ctx context.Context, id string) error {
	if err := s.notes.Delete(ctx, id); err != nil {
		return s.dbError(err, "delete", id)
	}
	s.logger.Info().Str("note_id", id).Msg("note deleted")
	return nil
}

// -- Transcription --

// Transcribe runs the transcription lifecycle for a note's attached audio.
// Concurrent calls for the same note share one execution, which ignores the
// cancellation of whichever caller started it.
func (s *Service) Transcribe(ctx context.Context, id string) (*Note, error) {
	shared := context.WithoutCancel(ctx)
	v, err, joined := s.inflight.Do(id, func() (interface{}, error) {
		return s.transcribe(shared, id)
	})
	if joined {
		s.logger.Debug().Str("note_id", id).Msg("joined in-flight transcription")
	}
	if err != nil {
		return nil, err
	}
	n := *v.(*Note)
	return &n, nil
}

func (s *Service) transcribe(ctx context.Context, id string) (*Note, error) {
	n, err := s.notes.GetByID(ctx, id)
	if err != nil {
		return nil, s.dbError(err, "transcribe", id)
	}
	if n.AudioPath == nil || strings.TrimSpace(*n.AudioPath) == "" {
		return nil, apperr.New(apperr.KindNoAudioFile, nil)
	}
	if n.TranscriptionStatus == StatusCompleted {
		return nil, apperr.New(apperr.KindInvalidStatus, nil)
	}
	key := *n.AudioPath
	log := s.logger.With().Str("note_id", id).Str("audio_path", key).Logger()

	start := s.now()
	data, err := s.audio.AudioBuffer(ctx, key)
	s.metrics.ObserveProvider(telemetry.ProviderStorage, start)
	if err != nil {
		if errors.Is(err, blobstore.ErrBlobNotFound) {
			return nil, apperr.New(apperr.KindAudioNotFound, nil)
		}
		return nil, s.failTranscription(ctx, log, id, apperr.New(apperr.KindTranscription, err))
	}

	if !transcription.IsValidAudioFormat(key) {
		return nil, s.failTranscription(ctx, log, id, apperr.New(apperr.KindInvalidAudioFormat, nil))
	}
	if !transcription.IsValidAudioSize(int64(len(data))) {
		return nil, s.failTranscription(ctx, log, id, apperr.New(apperr.KindAudioTooLarge, nil))
	}

	start = s.now()
	res, err := s.transcriber.Transcribe(ctx, data, key)
	s.metrics.ObserveProvider(telemetry.ProviderTranscription, start)
	if err != nil {
		return nil, s.failTranscription(ctx, log, id, apperr.New(apperr.KindTranscription, err))
	}

	updated, err := s.notes.Update(ctx, id, Changes{
		TranscriptionText:   nullable.Of(res.Text),
		TranscriptionStatus: statusPtr(StatusCompleted),
	})
	s.metrics.RecordTranscription(err)
	if err != nil {
		return nil, s.dbError(err, "transcribe", id)
	}
	log.Info().Int("chars", len(res.Text)).Msg("transcription completed")
	return updated, nil
}

// failTranscription marks the note failed on a best-effort basis and
// returns cause unchanged.
func (s *Service) failTranscription(ctx context.Context, log zerolog.Logger, id string, cause error) error {
	s.metrics.RecordTranscription(cause)
	log.Warn().Err(cause).Msg("transcription failed")
	_, err := s.notes.Update(context.WithoutCancel(ctx), id, Changes{TranscriptionStatus: statusPtr(StatusFailed)})
	if err != nil {
		log.Error().Err(err).Msg("could not mark transcription as failed")
	}
	return cause
}

// UploadResult is the outcome of TranscribeUpload. Text is nil when the
// audio was stored but transcription failed.
type UploadResult struct {
	Text      *string
	Segments  []transcription.Segment
	AudioPath string
}

// TranscribeUpload validates and stores an audio upload that is not yet
// attached to a note, then transcribes it. When only the transcription
// fails, the result still carries the stored AudioPath alongside a
// transcription_failed error.
func (s *Service) TranscribeUpload(ctx context.Context, data []byte, filename, contentType string) (*UploadResult, error) {
	if filename == "" {
		filename = "audio.mp3"
	}
	if !transcription.IsValidAudioFormat(filename) {
		return nil, apperr.New(apperr.KindInvalidAudioFormat, nil)
	}
	if !transcription.IsValidAudioSize(int64(len(data))) {
		return nil, apperr.New(apperr.KindAudioTooLarge, nil)
	}

	start := s.now()
	key, err := s.audio.UploadAudio(ctx, data, filename, contentType)
	s.metrics.ObserveProvider(telemetry.ProviderStorage, start)
	if err != nil {
		return nil, err
	}
	out := &UploadResult{AudioPath: key, Segments: []transcription.Segment{}}

	start = s.now()
	res, err := s.transcriber.Transcribe(ctx, data, filename)
	s.metrics.ObserveProvider(telemetry.ProviderTranscription, start)
	s.metrics.RecordTranscription(err)
	if err != nil {
		s.logger.Warn().Err(err).Str("audio_path", key).Msg("transcription failed, audio was uploaded")
		return out, apperr.New(apperr.KindTranscription, err)
	}
	out.Text = &res.Text
	if res.Segments != nil {
		out.Segments = res.Segments
	}
	return out, nil
}

// AudioURL returns a signed playback URL for an audio key.
func (s *Service) AudioURL(ctx context.Context, key string) (string, error) {
	return s.audio.SignedURL(ctx, key)
}

// -- Summaries --

// SummaryContent joins a note's transcription and body into the document
// handed to the summary provider.
func SummaryContent(transcriptionText, rawContent string) string {
	return fmt.Sprintf("[Transcription]\n%s\n\n[Notes]\n%s", transcriptionText, rawContent)
}

// GenerateSummary renders a summary of the note in the requested template.
// The note is not modified.
func (s *Service) GenerateSummary(ctx context.Context, id string, tmpl summary.Template) (string, error) {
	n, err := s.notes.GetByID(ctx, id)
	if err != nil {
		return "", s.dbError(err, "generate_summary", id)
	}
	var transcript string
	if n.TranscriptionText != nil {
		transcript = strings.TrimSpace(*n.TranscriptionText)
	}
	raw := strings.TrimSpace(n.RawContent)
	if transcript == "" && raw == "" {
		return "", apperr.New(apperr.KindNoContent, nil)
	}

	text, err := s.summarize(ctx, SummaryContent(transcript, raw), tmpl)
	if err != nil {
		s.logger.Error().Err(err).Str("note_id", id).Str("template", string(tmpl)).Msg("summary generation failed")
		return "", apperr.New(apperr.KindAPI, err)
	}
	return text, nil
}

func (s *Service) summarize(ctx context.Context, content string, tmpl summary.Template) (string, error) {
	start := s.now()
	text, err := s.summarizer.Generate(ctx, content, tmpl)
	s.metrics.ObserveProvider(telemetry.ProviderSummary, start)
	s.metrics.RecordSummary(string(tmpl), err)
	return text, err
}
