package patient

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/brunoniconeves/ascertain-task/pkg/pagination"
)

const (
	mrnAttempts   = 5
	minNameFilter = 3
	maxNameLength = 255
)

// Sorts lists the fields patients can be ordered by.
var Sorts = pagination.Sorts{
	{Name: "name", Column: "name", Kind: pagination.Text},
	{Name: "date_of_birth", Column: "date_of_birth", Kind: pagination.Date},
	{Name: "created_at", Column: "created_at", Kind: pagination.Timestamp},
}

const (
	defaultSort  = "created_at"
	defaultOrder = pagination.Asc
)

// Options control MRN handling on create.
type Options struct {
	MRNAutoGenerate bool
	MRNPrefix       string
}

type Service struct {
	repo   Repository
	opts   Options
	now    func() time.Time
	logger zerolog.Logger
}

func NewService(repo Repository, opts Options, logger zerolog.Logger) *Service {
	return &Service{repo: repo, opts: opts, now: time.Now, logger: logger}
}

// CreateInput carries a new patient. A nil or blank MRN asks for generation.
type CreateInput struct {
	Name        string
	DateOfBirth time.Time
	MRN         *string
}

func (s *Service) Create(ctx context.Context, in CreateInput) (*Patient, error) {
	if err := validateName(in.Name); err != nil {
		return nil, err
	}
	if err := s.validateDOB(in.DateOfBirth); err != nil {
		return nil, err
	}

	var mrn string
	if in.MRN != nil {
		var err error
		if mrn, err = NormalizeMRN(*in.MRN); err != nil {
			return nil, err
		}
	}

	if mrn != "" {
		exists, err := s.repo.MRNExists(ctx, mrn)
		if err != nil {
			return nil, err
		}
		if exists {
			return nil, ErrMRNConflict
		}
		p := &Patient{Name: in.Name, DateOfBirth: in.DateOfBirth, MRN: &mrn}
		if err := s.repo.Create(ctx, p); err != nil {
			return nil, err
		}
		return p, nil
	}

	if !s.opts.MRNAutoGenerate {
		return nil, invalid("mrn is required.")
	}

	// A generated MRN can still collide at insert time; regenerate and retry.
	for attempt := 1; attempt <= mrnAttempts; attempt++ {
		generated, err := GenerateMRN(s.opts.MRNPrefix)
		if err != nil {
			return nil, err
		}
		p := &Patient{Name: in.Name, DateOfBirth: in.DateOfBirth, MRN: &generated}
		err = s.repo.Create(ctx, p)
		if err == nil {
			return p, nil
		}
		if !errors.Is(err, ErrMRNConflict) {
			return nil, err
		}
		s.logger.Warn().Int("attempt", attempt).Msg("generated MRN collided, retrying")
	}
	return nil, ErrMRNGeneration
}

func (s *Service) Get(ctx context.Context, id uuid.UUID) (*Patient, error) {
	return s.repo.GetByID(ctx, id)
}

// UpdateInput carries a partial update. MRNSet is true when the request
// tried to change the MRN.
type UpdateInput struct {
	Name        *string
	DateOfBirth *time.Time
	MRNSet      bool
}

func (s *Service) Update(ctx context.Context, id uuid.UUID, in UpdateInput) (*Patient, error) {
	if in.MRNSet {
		return nil, invalid("MRN cannot be updated.")
	}
	p, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if in.Name != nil {
		if err := validateName(*in.Name); err != nil {
			return nil, err
		}
		p.Name = *in.Name
	}
	if in.DateOfBirth != nil {
		if err := s.validateDOB(*in.DateOfBirth); err != nil {
			return nil, err
		}
		p.DateOfBirth = *in.DateOfBirth
	}
	if err := s.repo.Update(ctx, p); err != nil {
		return nil, err
	}
	return p, nil
}

func (s *Service) Delete(ctx context.Context, id uuid.UUID) error {
	return s.repo.Delete(ctx, id)
}

// Exists reports whether a patient row exists.
func (s *Service) Exists(ctx context.Context, id uuid.UUID) (bool, error) {
	return s.repo.Exists(ctx, id)
}

// Count returns the number of patients.
func (s *Service) Count(ctx context.Context) (int, error) {
	return s.repo.Count(ctx)
}

// List returns one page of patients and the cursor for the next page, if
// any. name is the raw filter from the request; nil means unfiltered.
func (s *Service) List(ctx context.Context, p pagination.Params, name *string) ([]*Patient, *string, error) {
	filter, err := normalizeNameFilter(name)
	if err != nil {
		return nil, nil, err
	}

	sortName := p.Sort
	if sortName == "" {
		sortName = defaultSort
	}
	field, ok := Sorts.Lookup(sortName)
	if !ok {
		return nil, nil, invalid("sort must be one of: " + strings.Join(Sorts.Names(), ", ") + ".")
	}
	order := p.Order
	if order == "" {
		order = defaultOrder
	}

	q := ListQuery{Limit: p.Limit, Sort: field, Order: order, NameContains: filter}
	if p.Cursor != "" {
		pos, err := pagination.DecodeCursor(p.Cursor, field.Name, order, filter)
		if err != nil {
			return nil, nil, err
		}
		value, err := pagination.ParseSortValue(field.Kind, pos.Value)
		if err != nil {
			return nil, nil, err
		}
		q.After = &Position{Value: value, ID: pos.ID}
	}

	rows, err := s.repo.List(ctx, q)
	if err != nil {
		return nil, nil, err
	}
	return pagination.Page(rows, p.Limit, func(last *Patient) (string, error) {
		v, err := pagination.FormatSortValue(field.Kind, last.sortValue(field.Name))
		if err != nil {
			return "", fmt.Errorf("cursor value: %w", err)
		}
		return pagination.EncodeCursor(field.Name, order, filter, pagination.Position{ID: last.ID, Value: v})
	})
}

// normalizeNameFilter trims and lower-cases the filter. The result is also
// the cursor filter key.
func normalizeNameFilter(name *string) (string, error) {
	if name == nil {
		return "", nil
	}
	trimmed := strings.TrimSpace(*name)
	if utf8.RuneCountInString(trimmed) < minNameFilter {
		return "", invalid("Query parameter 'name' must be at least 3 characters long.")
	}
	return strings.ToLower(trimmed), nil
}

func validateName(name string) error {
	n := utf8.RuneCountInString(name)
	if strings.TrimSpace(name) == "" || n > maxNameLength {
		return invalid("name must be between 1 and 255 characters.")
	}
	return nil
}

func (s *Service) validateDOB(dob time.Time) error {
	if dob.IsZero() {
		return invalid("date_of_birth is required.")
	}
	today := s.now().UTC().Format(dateLayout)
	if dob.Format(dateLayout) > today {
		return invalid("date_of_birth must be today or in the past.")
	}
	return nil
}
