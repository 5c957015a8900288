package patient

import (
	"context"

	"github.com/google/uuid"

	"github.com/brunoniconeves/ascertain-task/pkg/pagination"
)

// ListQuery is a single keyset page request. Repositories return up to
// Limit+1 rows so the caller can tell whether another page exists.
type ListQuery struct {
	Limit int
	Sort  pagination.SortField
	Order pagination.Order
	// NameContains is a lower-cased substring; empty means no filter.
	NameContains string
	After        *Position
}

// Position is a decoded cursor with its sort value already typed.
type Position struct {
	Value any
	ID    uuid.UUID
}

type Repository interface {
	// Create inserts p and fills timestamps, and ID when unset. A duplicate MRN returns
	// ErrMRNConflict.
	Create(ctx context.Context, p *Patient) error
	GetByID(ctx context.Context, id uuid.UUID) (*Patient, error)
	Exists(ctx context.Context, id uuid.UUID) (bool, error)
	MRNExists(ctx context.Context, mrn string) (bool, error)
	// Update writes name and date_of_birth. MRN is never written.
	Update(ctx context.Context, p *Patient) error
	// Delete returns ErrHasNotes while any note row references the patient.
	Delete(ctx context.Context, id uuid.UUID) error
	List(ctx context.Context, q ListQuery) ([]*Patient, error)
	Count(ctx context.Context) (int, error)
}

// likePattern escapes LIKE wildcards so the filter is a literal substring.
func likePattern(s string) string {
	var b []byte
	b = append(b, '%')
	for i := 0; i < len(s); i++ {
		switch s[i] {
		case '%', '_', '\\':
			b = append(b, '\\')
		}
		b = append(b, s[i])
	}
	b = append(b, '%')
	return string(b)
}
