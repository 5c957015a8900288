package note

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/brunoniconeves/ascertain-task/internal/domain/note/soap"
	"github.com/brunoniconeves/ascertain-task/pkg/pagination"
)

// ListQuery is a single keyset page request over one patient's active
// notes. Repositories return up to Limit+1 rows.
type ListQuery struct {
	PatientID uuid.UUID
	// NoteType is a lower-cased exact match; empty means any type.
	NoteType string
	Limit    int
	Sort     pagination.SortField
	Order    pagination.Order
	After    *Position
}

// Position is a decoded cursor. Both note sort fields are timestamps.
type Position struct {
	Value time.Time
	ID    uuid.UUID
}

type Repository interface {
	// Create inserts n. n.ID is kept when already set so file notes can use
	// the id in their storage key.
	Create(ctx context.Context, n *Note) error
	// Get returns an active note of the patient with its structured payload.
	Get(ctx context.Context, patientID, noteID uuid.UUID) (*Note, error)
	List(ctx context.Context, q ListQuery) ([]*Note, error)
	// ListAll returns every active note of the patient by taken_at, id
	// ascending, with structured payloads.
	ListAll(ctx context.Context, patientID uuid.UUID) ([]*Note, error)
	// SoftDelete marks an active note deleted at the given time.
	SoftDelete(ctx context.Context, patientID, noteID uuid.UUID, at time.Time) error
	// InsertStructured runs in its own transaction. A duplicate
	// (note_id, schema) returns ErrStructuredExists.
	InsertStructured(ctx context.Context, s *Structured) error
}

const noteCols = `n.id, n.patient_id, n.taken_at, n.note_type, n.content_text, n.content_mime_type,
	n.file_path, n.file_size_bytes, n.checksum_sha256, n.status, n.deleted_at, n.created_at, n.updated_at`

// structuredJoin attaches the soap_v1 row, if any.
const structuredJoin = ` LEFT JOIN patient_note_structured s ON s.note_id = n.id AND s.schema = '` + soap.Schema + `'`

const hasStructuredCol = `EXISTS (SELECT 1 FROM patient_note_structured s WHERE s.note_id = n.id) AS has_structured`
