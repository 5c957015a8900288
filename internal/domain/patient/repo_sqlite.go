package patient

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/brunoniconeves/ascertain-task/internal/platform/db"
	"github.com/brunoniconeves/ascertain-task/pkg/pagination"
)

// repoSQLite stores ids as text and times as fixed-width UTC text; see
// db.FormatTime.
type repoSQLite struct {
	db *sql.DB
}

func NewRepoSQLite(sqlDB *sql.DB) Repository {
	return &repoSQLite{db: sqlDB}
}

func (r *repoSQLite) Create(ctx context.Context, p *Patient) error {
	if p.ID == uuid.Nil {
		p.ID = uuid.New()
	}
	now := time.Now().UTC().Truncate(time.Microsecond)
	p.CreatedAt, p.UpdatedAt = now, now

	_, err := r.db.ExecContext(ctx, `
		INSERT INTO patients (id, name, date_of_birth, mrn, created_at, updated_at)
		VALUES (?1, ?2, ?3, ?4, ?5, ?6)`,
		p.ID.String(), p.Name, db.FormatDate(p.DateOfBirth), nullString(p.MRN),
		db.FormatTime(p.CreatedAt), db.FormatTime(p.UpdatedAt),
	)
	if db.IsUniqueViolation(err) {
		return ErrMRNConflict
	}
	if err != nil {
		return fmt.Errorf("insert patient: %w", err)
	}
	return nil
}

func (r *repoSQLite) GetByID(ctx context.Context, id uuid.UUID) (*Patient, error) {
	p, err := scanPatientSQLite(r.db.QueryRowContext(ctx, `SELECT `+patientCols+` FROM patients WHERE id = ?1`, id.String()))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get patient: %w", err)
	}
	return p, nil
}

func (r *repoSQLite) Exists(ctx context.Context, id uuid.UUID) (bool, error) {
	var ok bool
	err := r.db.QueryRowContext(ctx, `SELECT EXISTS (SELECT 1 FROM patients WHERE id = ?1)`, id.String()).Scan(&ok)
	if err != nil {
		return false, fmt.Errorf("patient exists: %w", err)
	}
	return ok, nil
}

func (r *repoSQLite) MRNExists(ctx context.Context, mrn string) (bool, error) {
	var ok bool
	err := r.db.QueryRowContext(ctx, `SELECT EXISTS (SELECT 1 FROM patients WHERE mrn = ?1)`, mrn).Scan(&ok)
	if err != nil {
		return false, fmt.Errorf("mrn exists: %w", err)
	}
	return ok, nil
}

func (r *repoSQLite) Update(ctx context.Context, p *Patient) error {
	p.UpdatedAt = time.Now().UTC().Truncate(time.Microsecond)
	res, err := r.db.ExecContext(ctx, `
		UPDATE patients SET name = ?2, date_of_birth = ?3, updated_at = ?4
		WHERE id = ?1`,
		p.ID.String(), p.Name, db.FormatDate(p.DateOfBirth), db.FormatTime(p.UpdatedAt),
	)
	if err != nil {
		return fmt.Errorf("update patient: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *repoSQLite) Delete(ctx context.Context, id uuid.UUID) error {
	res, err := r.db.ExecContext(ctx, `DELETE FROM patients WHERE id = ?1`, id.String())
	if db.IsForeignKeyViolation(err) {
		return ErrHasNotes
	}
	if err != nil {
		return fmt.Errorf("delete patient: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *repoSQLite) List(ctx context.Context, q ListQuery) ([]*Patient, error) {
	k := pagination.Keyset{Column: q.Sort.Column, IDColumn: "id", Order: q.Order}
	b := pagination.NewQuery(`SELECT `+patientCols+` FROM patients`, pagination.Question)
	if q.NameContains != "" {
		b.Where(`lower(name) LIKE ` + b.Arg(likePattern(q.NameContains)) + ` ESCAPE '\'`)
	}
	if q.After != nil {
		b.After(k, sqliteSortArg(q.Sort.Kind, q.After.Value), q.After.ID.String())
	}
	query, args := b.Build(k, q.Limit)

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list patients: %w", err)
	}
	defer rows.Close()

	var out []*Patient
	for rows.Next() {
		p, err := scanPatientSQLite(rows)
		if err != nil {
			return nil, fmt.Errorf("scan patient: %w", err)
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

func (r *repoSQLite) Count(ctx context.Context) (int, error) {
	var n int
	if err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM patients`).Scan(&n); err != nil {
		return 0, fmt.Errorf("count patients: %w", err)
	}
	return n, nil
}

// sqliteSortArg converts a typed cursor value to its stored text form.
func sqliteSortArg(kind pagination.SortKind, v any) any {
	t, ok := v.(time.Time)
	if !ok {
		return v
	}
	if kind == pagination.Date {
		return db.FormatDate(t)
	}
	return db.FormatTime(t)
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanPatientSQLite(row rowScanner) (*Patient, error) {
	var (
		p                    Patient
		id, dob              string
		mrn                  sql.NullString
		createdAt, updatedAt string
	)
	if err := row.Scan(&id, &p.Name, &dob, &mrn, &createdAt, &updatedAt); err != nil {
		return nil, err
	}

	var err error
	if p.ID, err = uuid.Parse(id); err != nil {
		return nil, fmt.Errorf("parse id: %w", err)
	}
	if p.DateOfBirth, err = db.ParseDate(dob); err != nil {
		return nil, err
	}
	if p.CreatedAt, err = db.ParseTime(createdAt); err != nil {
		return nil, err
	}
	if p.UpdatedAt, err = db.ParseTime(updatedAt); err != nil {
		return nil, err
	}
	if mrn.Valid {
		p.MRN = &mrn.String
	}
	return &p, nil
}

func nullString(s *string) sql.NullString {
	if s == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: *s, Valid: true}
}
