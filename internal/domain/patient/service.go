package patient

import (
	"context"
	"errors"
	"strings"

	"github.com/rs/zerolog"

	"github.com/scribe/scribe/internal/apperr"
)

// RecentLimit is how many patients ListRecent returns.
const RecentLimit = 5

type Service struct {
	repo   Repository
	logger zerolog.Logger
}

func NewService(repo Repository, logger zerolog.Logger) *Service {
	return &Service{repo: repo, logger: logger.With().Str("component", "patient").Logger()}
}

// CreateInput is the data needed to create a patient.
type CreateInput struct {
	Name           string
	EnrollmentDate Date
}

func (s *Service) fail(err error, op, patientID string) error {
	if errors.Is(err, ErrNotFound) {
		return apperr.New(apperr.KindPatientNotFound, nil)
	}
	ev := s.logger.Error().Err(err).Str("op", op)
	if patientID != "" {
		ev = ev.Str("patient_id", patientID)
	}
	ev.Msg("patient repository failure")
	return apperr.New(apperr.KindDatabase, err)
}

func (s *Service) List(ctx context.Context) ([]*Patient, error) {
	items, err := s.repo.List(ctx)
	if err != nil {
		return nil, s.fail(err, "list", "")
	}
	return items, nil
}

// ListRecent returns the most recently updated patients.
func (s *Service) ListRecent(ctx context.Context) ([]*Patient, error) {
	items, err := s.repo.ListRecent(ctx, RecentLimit)
	if err != nil {
		return nil, s.fail(err, "list_recent", "")
	}
	return items, nil
}

// ListWithStats returns every patient with its note count and latest note
// date, most recent note activity first.
func (s *Service) ListWithStats(ctx context.Context) ([]*WithStats, error) {
	items, err := s.repo.ListWithStats(ctx)
	if err != nil {
		return nil, s.fail(err, "list_with_stats", "")
	}
	return items, nil
}

func (s *Service) Get(ctx context.Context, id string) (*Patient, error) {
	p, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, s.fail(err, "get", id)
	}
	return p, nil
}

func (s *Service) Create(ctx context.Context, in CreateInput) (*Patient, error) {
	p := &Patient{Name: strings.TrimSpace(in.Name), EnrollmentDate: in.EnrollmentDate}
	if err := s.repo.Create(ctx, p); err != nil {
		return nil, s.fail(err, "create", "")
	}
	s.logger.Info().Str("patient_id", p.ID).Msg("patient created")
	return p, nil
}

// Update applies the non-nil fields of ch. A blank name is ignored.
func (s *Service) Update(ctx context.Context, id string, ch Changes) (*Patient, error) {
	if ch.Name != nil {
		name := strings.TrimSpace(*ch.Name)
		if name == "" {
			ch.Name = nil
		} else {
			ch.Name = &name
		}
	}
	p, err := s.repo.Update(ctx, id, ch)
	if err != nil {
		return nil, s.fail(err, "update", id)
	}
	return p, nil
}

// Delete removes the patient and, through the foreign key, all its notes.
func (s *Service) Delete(ctx context.Context, id string) error {
	if err := s.repo.Delete(ctx, id); err != nil {
		return s.fail(err, "delete", id)
	}
	s.logger.Info().Str("patient_id", id).Msg("patient deleted")
	return nil
}

// Seed inserts each patient whose name is not already present and returns
// how many were created.
func (s *Service) Seed(ctx context.Context, patients []CreateInput) (int, error) {
	created := 0
	for _, in := range patients {
		_, err := s.repo.GetByName(ctx, strings.TrimSpace(in.Name))
		if err == nil {
			continue
		}
		if !errors.Is(err, ErrNotFound) {
			return created, s.fail(err, "seed", "")
		}
		if _, err := s.Create(ctx, in); err != nil {
			return created, err
		}
		created++
	}
	return created, nil
}

// SamplePatients is the data inserted by the seed command.
func SamplePatients() []CreateInput {
	return []CreateInput{
		{Name: "João Silva", EnrollmentDate: MustDate("1980-05-15")},
		{Name: "Maria Santos", EnrollmentDate: MustDate("1992-08-22")},
		{Name: "Carlos Oliveira", EnrollmentDate: MustDate("1975-03-10")},
	}
}
