package note

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// Status is the lifecycle tag of a note row. It always agrees with
// DeletedAt; the database enforces this with a CHECK constraint.
type Status string

const (
	StatusActive  Status = "active"
	StatusDeleted Status = "deleted"
)

// Note maps to the patient_notes table. Exactly one of ContentText and
// FilePath is set.
type Note struct {
	ID              uuid.UUID
	PatientID       uuid.UUID
	TakenAt         time.Time
	NoteType        *string
	ContentText     *string
	ContentMIMEType *string
	FilePath        *string
	FileSizeBytes   *int64
	ChecksumSHA256  *string
	Status          Status
	DeletedAt       *time.Time
	CreatedAt       time.Time
	UpdatedAt       time.Time

	// HasStructured is filled by listings.
	HasStructured bool
	// Structured is the derived soap_v1 payload, filled by single-note reads
	// and summary reads. nil when none exists.
	Structured json.RawMessage
}

func (n *Note) HasFile() bool { return n.FilePath != nil }

// IsSOAP reports whether the note type asks for SOAP parsing.
func (n *Note) IsSOAP() bool {
	return n.NoteType != nil && isSOAPType(*n.NoteType)
}

// Structured maps to patient_note_structured. It is derived data and never
// authoritative.
type Structured struct {
	ID            uuid.UUID
	NoteID        uuid.UUID
	Schema        string
	ParsedFrom    string
	ParserVersion string
	Confidence    string
	Data          json.RawMessage
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// Out holds the fields shared by the list and detail representations.
type Out struct {
	ID              uuid.UUID  `json:"id"`
	PatientID       uuid.UUID  `json:"patient_id"`
	TakenAt         time.Time  `json:"taken_at"`
	NoteType        *string    `json:"note_type"`
	HasFile         bool       `json:"has_file"`
	ContentText     *string    `json:"content_text"`
	ContentMIMEType *string    `json:"content_mime_type"`
	FileSizeBytes   *int64     `json:"file_size_bytes"`
	ChecksumSHA256  *string    `json:"checksum_sha256"`
	CreatedAt       time.Time  `json:"created_at"`
	UpdatedAt       time.Time  `json:"updated_at"`
	DeletedAt       *time.Time `json:"deleted_at"`
}

// ListItem omits the structured payload and only says whether one exists.
type ListItem struct {
	Out
	HasStructuredData bool `json:"has_structured_data"`
}

// Detail carries the structured payload, or null.
type Detail struct {
	Out
	StructuredData json.RawMessage `json:"structured_data"`
}

func (n *Note) out() Out {
	return Out{
		ID:              n.ID,
		PatientID:       n.PatientID,
		TakenAt:         n.TakenAt,
		NoteType:        n.NoteType,
		HasFile:         n.HasFile(),
		ContentText:     n.ContentText,
		ContentMIMEType: n.ContentMIMEType,
		FileSizeBytes:   n.FileSizeBytes,
		ChecksumSHA256:  n.ChecksumSHA256,
		CreatedAt:       n.CreatedAt,
		UpdatedAt:       n.UpdatedAt,
		DeletedAt:       n.DeletedAt,
	}
}

func (n *Note) ToListItem() ListItem {
	return ListItem{Out: n.out(), HasStructuredData: n.HasStructured || n.Structured != nil}
}

func (n *Note) ToDetail() Detail {
	return Detail{Out: n.out(), StructuredData: n.Structured}
}

func (n *Note) sortValue(field string) time.Time {
	if field == "created_at" {
		return n.CreatedAt
	}
	return n.TakenAt
}
