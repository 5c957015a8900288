package patient

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/brunoniconeves/ascertain-task/internal/platform/db"
	"github.com/brunoniconeves/ascertain-task/pkg/pagination"
)

type repoPG struct {
	pool *pgxpool.Pool
}

func NewRepoPG(pool *pgxpool.Pool) Repository {
	return &repoPG{pool: pool}
}

const patientCols = `id, name, date_of_birth, mrn, created_at, updated_at`

func (r *repoPG) Create(ctx context.Context, p *Patient) error {
	if p.ID == uuid.Nil {
		p.ID = uuid.New()
	}
	now := time.Now().UTC().Truncate(time.Microsecond)
	p.CreatedAt, p.UpdatedAt = now, now

	_, err := r.pool.Exec(ctx, `
		INSERT INTO patients (id, name, date_of_birth, mrn, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6)`,
		p.ID, p.Name, p.DateOfBirth, p.MRN, p.CreatedAt, p.UpdatedAt,
	)
	if db.IsUniqueViolation(err) {
		return ErrMRNConflict
	}
	if err != nil {
		return fmt.Errorf("insert patient: %w", err)
	}
	return nil
}

func (r *repoPG) GetByID(ctx context.Context, id uuid.UUID) (*Patient, error) {
	p, err := scanPatient(r.pool.QueryRow(ctx, `SELECT `+patientCols+` FROM patients WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get patient: %w", err)
	}
	return p, nil
}

func (r *repoPG) Exists(ctx context.Context, id uuid.UUID) (bool, error) {
	var ok bool
	err := r.pool.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM patients WHERE id = $1)`, id).Scan(&ok)
	if err != nil {
		return false, fmt.Errorf("patient exists: %w", err)
	}
	return ok, nil
}

func (r *repoPG) MRNExists(ctx context.Context, mrn string) (bool, error) {
	var ok bool
	err := r.pool.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM patients WHERE mrn = $1)`, mrn).Scan(&ok)
	if err != nil {
		return false, fmt.Errorf("mrn exists: %w", err)
	}
	return ok, nil
}

func (r *repoPG) Update(ctx context.Context, p *Patient) error {
	p.UpdatedAt = time.Now().UTC().Truncate(time.Microsecond)
	tag, err := r.pool.Exec(ctx, `
		UPDATE patients SET name = $2, date_of_birth = $3, updated_at = $4
		WHERE id = $1`,
		p.ID, p.Name, p.DateOfBirth, p.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("update patient: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *repoPG) Delete(ctx context.Context, id uuid.UUID) error {
	tag, err := r.pool.Exec(ctx, `DELETE FROM patients WHERE id = $1`, id)
	if db.IsForeignKeyViolation(err) {
		return ErrHasNotes
	}
	if err != nil {
		return fmt.Errorf("delete patient: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *repoPG) List(ctx context.Context, q ListQuery) ([]*Patient, error) {
	k := pagination.Keyset{Column: q.Sort.Column, IDColumn: "id", Order: q.Order}
	b := pagination.NewQuery(`SELECT `+patientCols+` FROM patients`, pagination.Dollar)
	if q.NameContains != "" {
		b.Where(`lower(name) LIKE ` + b.Arg(likePattern(q.NameContains)) + ` ESCAPE '\'`)
	}
	if q.After != nil {
		b.After(k, q.After.Value, q.After.ID)
	}
	query, args := b.Build(k, q.Limit)

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list patients: %w", err)
	}
	defer rows.Close()

	var out []*Patient
	for rows.Next() {
		p, err := scanPatient(rows)
		if err != nil {
			return nil, fmt.Errorf("scan patient: %w", err)
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

func (r *repoPG) Count(ctx context.Context) (int, error) {
	var n int
	if err := r.pool.QueryRow(ctx, `SELECT COUNT(*) FROM patients`).Scan(&n); err != nil {
		return 0, fmt.Errorf("count patients: %w", err)
	}
	return n, nil
}

func scanPatient(row pgx.Row) (*Patient, error) {
	var p Patient
	if err := row.Scan(&p.ID, &p.Name, &p.DateOfBirth, &p.MRN, &p.CreatedAt, &p.UpdatedAt); err != nil {
		return nil, err
	}
	p.DateOfBirth = p.DateOfBirth.UTC()
	p.CreatedAt = p.CreatedAt.UTC()
	p.UpdatedAt = p.UpdatedAt.UTC()
	return &p, nil
}
