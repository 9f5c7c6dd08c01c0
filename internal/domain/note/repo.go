package note

import (
	"context"
	"errors"
)

// ErrNotFound is returned by repositories when no note matches.
var ErrNotFound = errors.New("note not found")

type Repository interface {
	Create(ctx context.Context, n *Note) error
	GetByID(ctx context.Context, id string) (*Note, error)
	GetDetail(ctx context.Context, id string) (*Detail, error)
	Update(ctx context.Context, id string, ch Changes) (*Note, error)
	Delete(ctx context.Context, id string) error
	List(ctx context.Context) ([]*WithPatient, error)
	ListRecent(ctx context.Context, limit int) ([]*WithPatient, error)
	ListByPatient(ctx context.Context, patientID string) ([]*Note, error)
}
