package patient

import (
	"context"
	"errors"
)

// ErrNotFound is returned by repositories when no patient matches.
var ErrNotFound = errors.New("patient not found")

type Repository interface {
	Create(ctx context.Context, p *Patient) error
	GetByID(ctx context.Context, id string) (*Patient, error)
	GetByName(ctx context.Context, name string) (*Patient, error)
	Update(ctx context.Context, id string, ch Changes) (*Patient, error)
	Delete(ctx context.Context, id string) error
	List(ctx context.Context) ([]*Patient, error)
	ListRecent(ctx context.Context, limit int) ([]*Patient, error)
	ListWithStats(ctx context.Context) ([]*WithStats, error)
}
