package note

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/text/encoding/unicode"

	"github.com/brunoniconeves/ascertain-task/internal/platform/blobstore"
	"github.com/brunoniconeves/ascertain-task/pkg/pagination"
)

const (
	maxNoteTypeLength = 50
	maxMIMELength     = 255
)

// Sorts lists the fields notes can be ordered by.
var Sorts = pagination.Sorts{
	{Name: "taken_at", Column: "n.taken_at", Kind: pagination.Timestamp},
	{Name: "created_at", Column: "n.created_at", Kind: pagination.Timestamp},
}

const (
	defaultSort  = "taken_at"
	defaultOrder = pagination.Desc
)

// PatientChecker is the part of the patient service notes depend on.
type PatientChecker interface {
	Exists(ctx context.Context, id uuid.UUID) (bool, error)
}

// Options configure uploads.
type Options struct {
	MaxUploadBytes   int64
	AllowedMIMETypes []string
}

type Service struct {
	repo      Repository
	blobs     blobstore.BlobStore
	patients  PatientChecker
	allowed   map[string]bool
	maxUpload int64
	now       func() time.Time
	logger    zerolog.Logger
}

func NewService(repo Repository, blobs blobstore.BlobStore, patients PatientChecker, opts Options, logger zerolog.Logger) *Service {
	allowed := make(map[string]bool, len(opts.AllowedMIMETypes))
	for _, t := range opts.AllowedMIMETypes {
		allowed[normalizeMIME(t)] = true
	}
	return &Service{
		repo:      repo,
		blobs:     blobs,
		patients:  patients,
		allowed:   allowed,
		maxUpload: opts.MaxUploadBytes,
		now:       time.Now,
		logger:    logger,
	}
}

// InlineInput is a text note sent as JSON.
type InlineInput struct {
	TakenAt         time.Time
	NoteType        *string
	ContentText     string
	ContentMIMEType *string
}

func (s *Service) CreateInline(ctx context.Context, patientID uuid.UUID, in InlineInput) (*Note, error) {
	if err := s.ensurePatient(ctx, patientID); err != nil {
		return nil, err
	}
	takenAt, err := s.validateTakenAt(in.TakenAt)
	if err != nil {
		return nil, err
	}
	noteType, err := normalizeNoteType(in.NoteType)
	if err != nil {
		return nil, err
	}
	if in.ContentText == "" {
		return nil, invalid("content_text must not be empty.")
	}

	mimeType := mimeTextPlain
	if in.ContentMIMEType != nil && strings.TrimSpace(*in.ContentMIMEType) != "" {
		mimeType = strings.TrimSpace(*in.ContentMIMEType)
	}
	if len(mimeType) > maxMIMELength {
		return nil, invalid("content_mime_type must be at most 255 characters.")
	}

	text := in.ContentText
	n := &Note{
		PatientID:       patientID,
		TakenAt:         takenAt,
		NoteType:        noteType,
		ContentText:     &text,
		ContentMIMEType: &mimeType,
	}
	if err := s.repo.Create(ctx, n); err != nil {
		return nil, err
	}

	s.deriveStructured(ctx, n, &text)
	return n, nil
}

// FileInput is an uploaded note file. ContentType and Filename come from the
// multipart part and are only hints.
type FileInput struct {
	TakenAt     time.Time
	NoteType    *string
	Filename    string
	ContentType string
	Content     io.Reader
}

// CreateFile stores the upload and then records the note. The stored file is
// removed again when the insert fails.
func (s *Service) CreateFile(ctx context.Context, patientID uuid.UUID, in FileInput) (*Note, error) {
	if err := s.ensurePatient(ctx, patientID); err != nil {
		return nil, err
	}
	takenAt, err := s.validateTakenAt(in.TakenAt)
	if err != nil {
		return nil, err
	}
	noteType, err := normalizeNoteType(in.NoteType)
	if err != nil {
		return nil, err
	}

	head := make([]byte, sniffLen)
	nHead, err := io.ReadFull(in.Content, head)
	if err != nil && !errors.Is(err, io.EOF) && !errors.Is(err, io.ErrUnexpectedEOF) {
		return nil, fmt.Errorf("%w: read upload: %v", ErrStorage, err)
	}
	head = head[:nHead]

	mimeType := resolveMIME(in.ContentType, sniffMIME(head, in.Filename), s.allowed)
	if !s.allowed[mimeType] {
		return nil, &UnsupportedMediaTypeError{MIMEType: mimeType}
	}

	n := &Note{
		ID:              uuid.New(),
		PatientID:       patientID,
		TakenAt:         takenAt,
		NoteType:        noteType,
		ContentMIMEType: &mimeType,
	}

	body := io.MultiReader(bytes.NewReader(head), in.Content)
	var text *bytes.Buffer
	if n.IsSOAP() && mimeType == mimeTextPlain {
		text = new(bytes.Buffer)
		body = io.TeeReader(body, text)
	}

	stored, err := s.blobs.Save(ctx, patientID, n.ID, body, s.maxUpload)
	if errors.Is(err, blobstore.ErrFileTooLarge) {
		return nil, ErrPayloadTooLarge
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStorage, err)
	}

	n.FilePath = &stored.Key
	n.FileSizeBytes = &stored.Size
	n.ChecksumSHA256 = &stored.SHA256
	if err := s.repo.Create(ctx, n); err != nil {
		if delErr := s.blobs.Delete(ctx, stored.Key); delErr != nil {
			s.log(ctx).Warn().Str("note_id", n.ID.String()).Err(delErr).Msg("orphaned note file after failed insert")
		}
		return nil, err
	}

	var raw *string
	if text != nil {
		decoded := s.decodeText(ctx, n.ID, text.Bytes())
		raw = &decoded
	}
	s.deriveStructured(ctx, n, raw)
	return n, nil
}

// decodeText decodes an upload as UTF-8. Each invalid byte becomes its own
// U+FFFD.
func (s *Service) decodeText(ctx context.Context, noteID uuid.UUID, b []byte) string {
	if utf8.Valid(b) {
		return string(b)
	}
	s.log(ctx).Warn().Str("note_id", noteID.String()).Msg("SOAP decode used replacement characters")
	out, err := unicode.UTF8.NewDecoder().Bytes(b)
	if err != nil {
		return strings.ToValidUTF8(string(b), "\uFFFD")
	}
	return string(out)
}

func (s *Service) Get(ctx context.Context, patientID, noteID uuid.UUID) (*Note, error) {
	if err := s.ensurePatient(ctx, patientID); err != nil {
		return nil, err
	}
	return s.repo.Get(ctx, patientID, noteID)
}

// OpenFile returns the stored file of a file-backed note.
func (s *Service) OpenFile(ctx context.Context, patientID, noteID uuid.UUID) (*Note, io.ReadCloser, error) {
	n, err := s.Get(ctx, patientID, noteID)
	if err != nil {
		return nil, nil, err
	}
	if !n.HasFile() {
		return nil, nil, ErrFileMissing
	}
	rc, err := s.blobs.Open(ctx, *n.FilePath)
	if errors.Is(err, blobstore.ErrBlobNotFound) {
		return nil, nil, ErrFileMissing
	}
	if err != nil {
		return nil, nil, fmt.Errorf("%w: %v", ErrStorage, err)
	}
	return n, rc, nil
}

// Delete removes the backing file, if any, and then soft-deletes the note.
// A deleted note never keeps its file.
func (s *Service) Delete(ctx context.Context, patientID, noteID uuid.UUID) error {
	n, err := s.Get(ctx, patientID, noteID)
	if err != nil {
		return err
	}
	if n.HasFile() {
		if err := s.blobs.Delete(ctx, *n.FilePath); err != nil {
			return fmt.Errorf("%w: %v", ErrFileDeletion, err)
		}
	}
	return s.repo.SoftDelete(ctx, patientID, noteID, s.now())
}

// List returns one page of a patient's active notes. noteType filters on an
// exact, case-insensitive type; nil or blank means all types.
func (s *Service) List(ctx context.Context, patientID uuid.UUID, p pagination.Params, noteType *string) ([]*Note, *string, error) {
	if err := s.ensurePatient(ctx, patientID); err != nil {
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

	var typeFilter string
	if noteType != nil {
		typeFilter = strings.ToLower(strings.TrimSpace(*noteType))
	}
	filter := filterKey(patientID, typeFilter)

	q := ListQuery{PatientID: patientID, NoteType: typeFilter, Limit: p.Limit, Sort: field, Order: order}
	if p.Cursor != "" {
		pos, err := pagination.DecodeCursor(p.Cursor, field.Name, order, filter)
		if err != nil {
			return nil, nil, err
		}
		value, err := pagination.ParseSortValue(field.Kind, pos.Value)
		if err != nil {
			return nil, nil, err
		}
		q.After = &Position{Value: value.(time.Time), ID: pos.ID}
	}

	rows, err := s.repo.List(ctx, q)
	if err != nil {
		return nil, nil, err
	}
	return pagination.Page(rows, p.Limit, func(last *Note) (string, error) {
		v, err := pagination.FormatSortValue(field.Kind, last.sortValue(field.Name))
		if err != nil {
			return "", fmt.Errorf("cursor value: %w", err)
		}
		return pagination.EncodeCursor(field.Name, order, filter, pagination.Position{ID: last.ID, Value: v})
	})
}

// ListAll returns every active note of a patient in chronological order.
func (s *Service) ListAll(ctx context.Context, patientID uuid.UUID) ([]*Note, error) {
	return s.repo.ListAll(ctx, patientID)
}

// filterKey binds a cursor to one patient and, optionally, one note type.
func filterKey(patientID uuid.UUID, noteType string) string {
	key := "patient:" + patientID.String()
	if noteType != "" {
		key += ";type:" + noteType
	}
	return key
}

func (s *Service) ensurePatient(ctx context.Context, id uuid.UUID) error {
	ok, err := s.patients.Exists(ctx, id)
	if err != nil {
		return err
	}
	if !ok {
		return ErrPatientNotFound
	}
	return nil
}

// validateTakenAt rejects future timestamps and normalizes to UTC at the
// precision the database keeps.
func (s *Service) validateTakenAt(t time.Time) (time.Time, error) {
	if t.IsZero() {
		return time.Time{}, invalid("taken_at is required")
	}
	t = t.UTC().Truncate(time.Microsecond)
	if t.After(s.now().UTC()) {
		return time.Time{}, invalid("taken_at must not be in the future.")
	}
	return t, nil
}

func normalizeNoteType(raw *string) (*string, error) {
	if raw == nil {
		return nil, nil
	}
	v := strings.TrimSpace(*raw)
	if v == "" {
		return nil, nil
	}
	if utf8.RuneCountInString(v) > maxNoteTypeLength {
		return nil, invalid("note_type must be at most 50 characters.")
	}
	return &v, nil
}

func isSOAPType(noteType string) bool {
	return strings.ToLower(strings.TrimSpace(noteType)) == "soap"
}

// log prefers the request-scoped logger carried by ctx.
func (s *Service) log(ctx context.Context) *zerolog.Logger {
	if l := zerolog.Ctx(ctx); l.GetLevel() != zerolog.Disabled {
		return l
	}
	return &s.logger
}
