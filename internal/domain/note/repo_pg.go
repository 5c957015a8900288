package note

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

func (r *repoPG) Create(ctx context.Context, n *Note) error {
	if n.ID == uuid.Nil {
		n.ID = uuid.New()
	}
	now := time.Now().UTC().Truncate(time.Microsecond)
	n.CreatedAt, n.UpdatedAt = now, now
	n.Status = StatusActive
	n.DeletedAt = nil

	_, err := r.pool.Exec(ctx, `
		INSERT INTO patient_notes (id, patient_id, taken_at, note_type, content_text, content_mime_type,
			file_path, file_size_bytes, checksum_sha256, status, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`,
		n.ID, n.PatientID, n.TakenAt, n.NoteType, n.ContentText, n.ContentMIMEType,
		n.FilePath, n.FileSizeBytes, n.ChecksumSHA256, string(n.Status), n.CreatedAt, n.UpdatedAt,
	)
	if db.IsForeignKeyViolation(err) {
		return ErrPatientNotFound
	}
	if err != nil {
		return fmt.Errorf("insert note: %w", err)
	}
	return nil
}

func (r *repoPG) Get(ctx context.Context, patientID, noteID uuid.UUID) (*Note, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+noteCols+`, s.data FROM patient_notes n`+structuredJoin+`
		WHERE n.id = $1 AND n.patient_id = $2 AND n.status = 'active'`, noteID, patientID)

	var data []byte
	n, err := scanNote(row, &data)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get note: %w", err)
	}
	n.Structured = data
	return n, nil
}

func (r *repoPG) List(ctx context.Context, q ListQuery) ([]*Note, error) {
	k := pagination.Keyset{Column: q.Sort.Column, IDColumn: "n.id", Order: q.Order}
	b := pagination.NewQuery(`SELECT `+noteCols+`, `+hasStructuredCol+` FROM patient_notes n`, pagination.Dollar)
	b.Where(`n.patient_id = ` + b.Arg(q.PatientID))
	b.Where(`n.status = 'active'`)
	if q.NoteType != "" {
		b.Where(`lower(n.note_type) = ` + b.Arg(q.NoteType))
	}
	if q.After != nil {
		b.After(k, q.After.Value, q.After.ID)
	}
	query, args := b.Build(k, q.Limit)

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list notes: %w", err)
	}
	defer rows.Close()

	var out []*Note
	for rows.Next() {
		var has bool
		n, err := scanNote(rows, &has)
		if err != nil {
			return nil, fmt.Errorf("scan note: %w", err)
		}
		n.HasStructured = has
		out = append(out, n)
	}
	return out, rows.Err()
}

func (r *repoPG) ListAll(ctx context.Context, patientID uuid.UUID) ([]*Note, error) {
	rows, err := r.pool.Query(ctx, `SELECT `+noteCols+`, s.data FROM patient_notes n`+structuredJoin+`
		WHERE n.patient_id = $1 AND n.status = 'active'
		ORDER BY n.taken_at ASC, n.id ASC`, patientID)
	if err != nil {
		return nil, fmt.Errorf("list all notes: %w", err)
	}
	defer rows.Close()

	var out []*Note
	for rows.Next() {
		var data []byte
		n, err := scanNote(rows, &data)
		if err != nil {
			return nil, fmt.Errorf("scan note: %w", err)
		}
		n.Structured = data
		n.HasStructured = data != nil
		out = append(out, n)
	}
	return out, rows.Err()
}

func (r *repoPG) SoftDelete(ctx context.Context, patientID, noteID uuid.UUID, at time.Time) error {
	tag, err := r.pool.Exec(ctx, `
		UPDATE patient_notes SET status = 'deleted', deleted_at = $3, updated_at = $3
		WHERE id = $1 AND patient_id = $2 AND status = 'active'`,
		noteID, patientID, at.UTC().Truncate(time.Microsecond),
	)
	if err != nil {
		return fmt.Errorf("soft delete note: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *repoPG) InsertStructured(ctx context.Context, s *Structured) error {
	if s.ID == uuid.Nil {
		s.ID = uuid.New()
	}
	now := time.Now().UTC().Truncate(time.Microsecond)
	s.CreatedAt, s.UpdatedAt = now, now

	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback(ctx)

	_, err = tx.Exec(ctx, `
		INSERT INTO patient_note_structured (id, note_id, schema, parsed_from, parser_version, confidence, data, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		s.ID, s.NoteID, s.Schema, s.ParsedFrom, s.ParserVersion, s.Confidence, []byte(s.Data), s.CreatedAt, s.UpdatedAt,
	)
	if db.IsUniqueViolation(err) {
		return ErrStructuredExists
	}
	if err != nil {
		return fmt.Errorf("insert structured: %w", err)
	}
	return tx.Commit(ctx)
}

// scanNote reads noteCols followed by one extra column into extra.
func scanNote(row pgx.Row, extra any) (*Note, error) {
	var (
		n      Note
		status string
	)
	err := row.Scan(&n.ID, &n.PatientID, &n.TakenAt, &n.NoteType, &n.ContentText, &n.ContentMIMEType,
		&n.FilePath, &n.FileSizeBytes, &n.ChecksumSHA256, &status, &n.DeletedAt, &n.CreatedAt, &n.UpdatedAt,
		extra)
	if err != nil {
		return nil, err
	}
	n.Status = Status(status)
	n.TakenAt = n.TakenAt.UTC()
	n.CreatedAt = n.CreatedAt.UTC()
	n.UpdatedAt = n.UpdatedAt.UTC()
	if n.DeletedAt != nil {
		t := n.DeletedAt.UTC()
		n.DeletedAt = &t
	}
	return &n, nil
}
