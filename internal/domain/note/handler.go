package note

import (
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/brunoniconeves/ascertain-task/pkg/pagination"
)

type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

func (h *Handler) RegisterRoutes(g *echo.Group) {
	g.POST("/patients/:id/notes", h.CreateNote)
	g.GET("/patients/:id/notes", h.ListNotes)
	g.GET("/patients/:id/notes/:note_id", h.GetNote)
	g.GET("/patients/:id/notes/:note_id/content", h.GetNoteContent)
	g.DELETE("/patients/:id/notes/:note_id", h.DeleteNote)
}

type createRequest struct {
	TakenAt         string  `json:"taken_at"`
	NoteType        *string `json:"note_type"`
	ContentText     *string `json:"content_text"`
	ContentMIMEType *string `json:"content_mime_type"`
}

// CreateNote accepts an inline JSON note or a multipart file upload.
func (h *Handler) CreateNote(c echo.Context) error {
	patientID, err := parseID(c.Param("id"), "patient")
	if err != nil {
		return err
	}

	ct := strings.ToLower(c.Request().Header.Get(echo.HeaderContentType))
	switch {
	case strings.HasPrefix(ct, echo.MIMEApplicationJSON):
		return h.createInline(c, patientID)
	case strings.HasPrefix(ct, echo.MIMEMultipartForm):
		return h.createFile(c, patientID)
	}
	return echo.NewHTTPError(http.StatusUnsupportedMediaType, "Content-Type must be application/json or multipart/form-data")
}

func (h *Handler) createInline(c echo.Context, patientID uuid.UUID) error {
	var req createRequest
	if err := c.Bind(&req); err != nil {
		if he := bodyTooLarge(err); he != nil {
			return he
		}
		return echo.NewHTTPError(http.StatusBadRequest, "Invalid request body.")
	}
	if req.TakenAt == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "taken_at is required")
	}
	takenAt, err := parseTakenAt(req.TakenAt)
	if err != nil {
		return err
	}
	if req.ContentText == nil {
		return echo.NewHTTPError(http.StatusBadRequest, "content_text is required")
	}

	n, err := h.svc.CreateInline(c.Request().Context(), patientID, InlineInput{
		TakenAt:         takenAt,
		NoteType:        req.NoteType,
		ContentText:     *req.ContentText,
		ContentMIMEType: req.ContentMIMEType,
	})
	if err != nil {
		return mapError(err)
	}
	return c.JSON(http.StatusCreated, n.ToDetail())
}

func (h *Handler) createFile(c echo.Context, patientID uuid.UUID) error {
	fh, err := c.FormFile("file")
	if err != nil {
		if errors.Is(err, http.ErrMissingFile) {
			return echo.NewHTTPError(http.StatusBadRequest, "file is required for multipart requests")
		}
		if he := bodyTooLarge(err); he != nil {
			return he
		}
		return echo.NewHTTPError(http.StatusBadRequest, "Invalid multipart body.")
	}

	form := c.Request().MultipartForm
	rawTakenAt, ok := form.Value["taken_at"]
	if !ok || len(rawTakenAt) == 0 || rawTakenAt[0] == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "taken_at is required")
	}
	takenAt, err := parseTakenAt(rawTakenAt[0])
	if err != nil {
		return err
	}
	var noteType *string
	if v, ok := form.Value["note_type"]; ok && len(v) > 0 {
		noteType = &v[0]
	}

	f, err := fh.Open()
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "Invalid multipart body.")
	}
	defer f.Close()

	n, err := h.svc.CreateFile(c.Request().Context(), patientID, FileInput{
		TakenAt:     takenAt,
		NoteType:    noteType,
		Filename:    fh.Filename,
		ContentType: fh.Header.Get(echo.HeaderContentType),
		Content:     f,
	})
	if err != nil {
		return mapError(err)
	}
	return c.JSON(http.StatusCreated, n.ToDetail())
}

func (h *Handler) ListNotes(c echo.Context) error {
	patientID, err := parseID(c.Param("id"), "patient")
	if err != nil {
		return err
	}
	pg, err := pagination.FromContext(c)
	if err != nil {
		return mapError(err)
	}

	var noteType *string
	if params := c.QueryParams(); params.Has("note_type") {
		v := params.Get("note_type")
		noteType = &v
	}

	notes, next, err := h.svc.List(c.Request().Context(), patientID, pg, noteType)
	if err != nil {
		return mapError(err)
	}
	items := make([]ListItem, len(notes))
	for i, n := range notes {
		items[i] = n.ToListItem()
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(items, pg.Limit, next))
}

func (h *Handler) GetNote(c echo.Context) error {
	patientID, noteID, err := parseIDs(c)
	if err != nil {
		return err
	}
	n, err := h.svc.Get(c.Request().Context(), patientID, noteID)
	if err != nil {
		return mapError(err)
	}
	return c.JSON(http.StatusOK, n.ToDetail())
}

// GetNoteContent streams the stored file of a file-backed note.
func (h *Handler) GetNoteContent(c echo.Context) error {
	patientID, noteID, err := parseIDs(c)
	if err != nil {
		return err
	}
	n, rc, err := h.svc.OpenFile(c.Request().Context(), patientID, noteID)
	if err != nil {
		return mapError(err)
	}
	defer rc.Close()

	contentType := echo.MIMEOctetStream
	if n.ContentMIMEType != nil {
		contentType = *n.ContentMIMEType
	}
	header := c.Response().Header()
	header.Set("Content-Disposition", "attachment")
	if n.FileSizeBytes != nil {
		header.Set(echo.HeaderContentLength, strconv.FormatInt(*n.FileSizeBytes, 10))
	}
	if n.ChecksumSHA256 != nil {
		header.Set("X-Content-SHA256", *n.ChecksumSHA256)
	}
	return c.Stream(http.StatusOK, contentType, rc)
}

func (h *Handler) DeleteNote(c echo.Context) error {
	patientID, noteID, err := parseIDs(c)
	if err != nil {
		return err
	}
	if err := h.svc.Delete(c.Request().Context(), patientID, noteID); err != nil {
		return mapError(err)
	}
	return c.NoContent(http.StatusNoContent)
}

// bodyTooLarge finds the 413 raised by the body limit middleware, which the
// binder and multipart reader may wrap in other errors.
func bodyTooLarge(err error) *echo.HTTPError {
	for err != nil {
		var he *echo.HTTPError
		if !errors.As(err, &he) {
			return nil
		}
		if he.Code == http.StatusRequestEntityTooLarge {
			return he
		}
		err = he.Internal
	}
	return nil
}

func parseIDs(c echo.Context) (uuid.UUID, uuid.UUID, error) {
	patientID, err := parseID(c.Param("id"), "patient")
	if err != nil {
		return uuid.Nil, uuid.Nil, err
	}
	noteID, err := parseID(c.Param("note_id"), "note")
	if err != nil {
		return uuid.Nil, uuid.Nil, err
	}
	return patientID, noteID, nil
}

func parseID(raw, what string) (uuid.UUID, error) {
	id, err := uuid.Parse(raw)
	if err != nil {
		return uuid.Nil, echo.NewHTTPError(http.StatusBadRequest, "invalid "+what+" id")
	}
	return id, nil
}

// takenAtLayouts are tried in order. A timestamp without a zone is UTC.
var takenAtLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04:05.999999999Z07:00",
	"2006-01-02 15:04:05.999999999",
}

func parseTakenAt(raw string) (time.Time, error) {
	raw = strings.TrimSpace(raw)
	for _, layout := range takenAtLayouts {
		if t, err := time.ParseInLocation(layout, raw, time.UTC); err == nil {
			return t, nil
		}
	}
	return time.Time{}, echo.NewHTTPError(http.StatusBadRequest, "taken_at must be an RFC 3339 timestamp.")
}

func mapError(err error) error {
	var ve *ValidationError
	var pe *pagination.ParamError
	var ue *UnsupportedMediaTypeError
	switch {
	case errors.As(err, &ve):
		return echo.NewHTTPError(http.StatusBadRequest, ve.Msg)
	case errors.As(err, &pe):
		return echo.NewHTTPError(http.StatusBadRequest, pe.Msg)
	case errors.As(err, &ue):
		return echo.NewHTTPError(http.StatusUnsupportedMediaType, ue.Error())
	case errors.Is(err, pagination.ErrInvalidCursor):
		return echo.NewHTTPError(http.StatusBadRequest, "Invalid cursor")
	case errors.Is(err, ErrPatientNotFound):
		return echo.NewHTTPError(http.StatusNotFound, "Patient not found")
	case errors.Is(err, ErrNotFound):
		return echo.NewHTTPError(http.StatusNotFound, "Note not found")
	case errors.Is(err, ErrFileMissing):
		return echo.NewHTTPError(http.StatusNotFound, "Note file not found")
	case errors.Is(err, ErrPayloadTooLarge):
		return echo.NewHTTPError(http.StatusRequestEntityTooLarge, "Uploaded file is too large")
	case errors.Is(err, ErrStorage):
		return echo.NewHTTPError(http.StatusInternalServerError, "File storage failed").SetInternal(err)
	case errors.Is(err, ErrFileDeletion):
		return echo.NewHTTPError(http.StatusInternalServerError, "File deletion failed").SetInternal(err)
	default:
		return echo.NewHTTPError(http.StatusInternalServerError, "Internal server error").SetInternal(err)
	}
}
