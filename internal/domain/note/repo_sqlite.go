package note

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

type repoSQLite struct {
	db *sql.DB
}

func NewRepoSQLite(sqlDB *sql.DB) Repository {
	return &repoSQLite{db: sqlDB}
}

func (r *repoSQLite) Create(ctx context.Context, n *Note) error {
	if n.ID == uuid.Nil {
		n.ID = uuid.New()
	}
	now := time.Now().UTC().Truncate(time.Microsecond)
	n.CreatedAt, n.UpdatedAt = now, now
	n.Status = StatusActive
	n.DeletedAt = nil

	_, err := r.db.ExecContext(ctx, `
		INSERT INTO patient_notes (id, patient_id, taken_at, note_type, content_text, content_mime_type,
			file_path, file_size_bytes, checksum_sha256, status, created_at, updated_at)
		VALUES (?1, ?2, ?3, ?4, ?5, ?6, ?7, ?8, ?9, ?10, ?11, ?12)`,
		n.ID.String(), n.PatientID.String(), db.FormatTime(n.TakenAt), nullString(n.NoteType),
		nullString(n.ContentText), nullString(n.ContentMIMEType), nullString(n.FilePath),
		nullInt64(n.FileSizeBytes), nullString(n.ChecksumSHA256), string(n.Status),
		db.FormatTime(n.CreatedAt), db.FormatTime(n.UpdatedAt),
	)
	if db.IsForeignKeyViolation(err) {
		return ErrPatientNotFound
	}
	if err != nil {
		return fmt.Errorf("insert note: %w", err)
	}
	return nil
}

func (r *repoSQLite) Get(ctx context.Context, patientID, noteID uuid.UUID) (*Note, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+noteCols+`, s.data FROM patient_notes n`+structuredJoin+`
		WHERE n.id = ?1 AND n.patient_id = ?2 AND n.status = 'active'`, noteID.String(), patientID.String())

	var data sql.NullString
	n, err := scanNoteSQLite(row, &data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get note: %w", err)
	}
	if data.Valid {
		n.Structured = []byte(data.String)
	}
	return n, nil
}

func (r *repoSQLite) List(ctx context.Context, q ListQuery) ([]*Note, error) {
	k := pagination.Keyset{Column: q.Sort.Column, IDColumn: "n.id", Order: q.Order}
	b := pagination.NewQuery(`SELECT `+noteCols+`, `+hasStructuredCol+` FROM patient_notes n`, pagination.Question)
	b.Where(`n.patient_id = ` + b.Arg(q.PatientID.String()))
	b.Where(`n.status = 'active'`)
	if q.NoteType != "" {
		b.Where(`lower(n.note_type) = ` + b.Arg(q.NoteType))
	}
	if q.After != nil {
		b.After(k, db.FormatTime(q.After.Value), q.After.ID.String())
	}
	query, args := b.Build(k, q.Limit)

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list notes: %w", err)
	}
	defer rows.Close()

	var out []*Note
	for rows.Next() {
		var has bool
		n, err := scanNoteSQLite(rows, &has)
		if err != nil {
			return nil, fmt.Errorf("scan note: %w", err)
		}
		n.HasStructured = has
		out = append(out, n)
	}
	return out, rows.Err()
}

func (r *repoSQLite) ListAll(ctx context.Context, patientID uuid.UUID) ([]*Note, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT `+noteCols+`, s.data FROM patient_notes n`+structuredJoin+`
		WHERE n.patient_id = ?1 AND n.status = 'active'
		ORDER BY n.taken_at ASC, n.id ASC`, patientID.String())
	if err != nil {
		return nil, fmt.Errorf("list all notes: %w", err)
	}
	defer rows.Close()

	var out []*Note
	for rows.Next() {
		var data sql.NullString
		n, err := scanNoteSQLite(rows, &data)
		if err != nil {
			return nil, fmt.Errorf("scan note: %w", err)
		}
		if data.Valid {
			n.Structured = []byte(data.String)
			n.HasStructured = true
		}
		out = append(out, n)
	}
	return out, rows.Err()
}

func (r *repoSQLite) SoftDelete(ctx context.Context, patientID, noteID uuid.UUID, at time.Time) error {
	ts := db.FormatTime(at.UTC().Truncate(time.Microsecond))
	res, err := r.db.ExecContext(ctx, `
		UPDATE patient_notes SET status = 'deleted', deleted_at = ?3, updated_at = ?3
		WHERE id = ?1 AND patient_id = ?2 AND status = 'active'`,
		noteID.String(), patientID.String(), ts,
	)
	if err != nil {
		return fmt.Errorf("soft delete note: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *repoSQLite) InsertStructured(ctx context.Context, s *Structured) error {
	if s.ID == uuid.Nil {
		s.ID = uuid.New()
	}
	now := time.Now().UTC().Truncate(time.Microsecond)
	s.CreatedAt, s.UpdatedAt = now, now

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO patient_note_structured (id, note_id, schema, parsed_from, parser_version, confidence, data, created_at, updated_at)
		VALUES (?1, ?2, ?3, ?4, ?5, ?6, ?7, ?8, ?9)`,
		s.ID.String(), s.NoteID.String(), s.Schema, s.ParsedFrom, s.ParserVersion, s.Confidence,
		string(s.Data), db.FormatTime(s.CreatedAt), db.FormatTime(s.UpdatedAt),
	)
	if db.IsUniqueViolation(err) {
		return ErrStructuredExists
	}
	if err != nil {
		return fmt.Errorf("insert structured: %w", err)
	}
	return tx.Commit()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanNoteSQLite(row rowScanner, extra any) (*Note, error) {
	var (
		n                                  Note
		id, patientID, takenAt, status     string
		createdAt, updatedAt               string
		noteType, text, mimeType, filePath sql.NullString
		checksum, deletedAt                sql.NullString
		size                               sql.NullInt64
	)
	err := row.Scan(&id, &patientID, &takenAt, &noteType, &text, &mimeType,
		&filePath, &size, &checksum, &status, &deletedAt, &createdAt, &updatedAt, extra)
	if err != nil {
		return nil, err
	}

	if n.ID, err = uuid.Parse(id); err != nil {
		return nil, fmt.Errorf("parse id: %w", err)
	}
	if n.PatientID, err = uuid.Parse(patientID); err != nil {
		return nil, fmt.Errorf("parse patient id: %w", err)
	}
	if n.TakenAt, err = db.ParseTime(takenAt); err != nil {
		return nil, err
	}
	if n.CreatedAt, err = db.ParseTime(createdAt); err != nil {
		return nil, err
	}
	if n.UpdatedAt, err = db.ParseTime(updatedAt); err != nil {
		return nil, err
	}
	if deletedAt.Valid {
		t, err := db.ParseTime(deletedAt.String)
		if err != nil {
			return nil, err
		}
		n.DeletedAt = &t
	}
	n.Status = Status(status)
	n.NoteType = stringPtr(noteType)
	n.ContentText = stringPtr(text)
	n.ContentMIMEType = stringPtr(mimeType)
	n.FilePath = stringPtr(filePath)
	n.ChecksumSHA256 = stringPtr(checksum)
	if size.Valid {
		v := size.Int64
		n.FileSizeBytes = &v
	}
	return &n, nil
}

func nullString(s *string) sql.NullString {
	if s == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: *s, Valid: true}
}

func nullInt64(v *int64) sql.NullInt64 {
	if v == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: *v, Valid: true}
}

func stringPtr(s sql.NullString) *string {
	if !s.Valid {
		return nil
	}
	v := s.String
	return &v
}
