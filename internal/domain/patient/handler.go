package patient

import (
	"encoding/json"
	"errors"
	"net/http"
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
	g.POST("/patients", h.CreatePatient)
	g.GET("/patients", h.ListPatients)
	g.GET("/patients/:id", h.GetPatient)
	g.PUT("/patients/:id", h.UpdatePatient)
	g.PATCH("/patients/:id", h.UpdatePatient)
	g.DELETE("/patients/:id", h.DeletePatient)
}

type createRequest struct {
	Name        string  `json:"name"`
	DateOfBirth string  `json:"date_of_birth"`
	MRN         *string `json:"mrn"`
}

type updateRequest struct {
	Name        *string         `json:"name"`
	DateOfBirth *string         `json:"date_of_birth"`
	MRN         json.RawMessage `json:"mrn"`
}

func (h *Handler) CreatePatient(c echo.Context) error {
	var req createRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "Invalid request body.")
	}
	dob, err := parseDOB(req.DateOfBirth)
	if err != nil {
		return err
	}
	p, err := h.svc.Create(c.Request().Context(), CreateInput{Name: req.Name, DateOfBirth: dob, MRN: req.MRN})
	if err != nil {
		return mapError(err)
	}
	return c.JSON(http.StatusCreated, p.ToDetail())
}

func (h *Handler) GetPatient(c echo.Context) error {
	id, err := ParseID(c.Param("id"))
	if err != nil {
		return err
	}
	p, err := h.svc.Get(c.Request().Context(), id)
	if err != nil {
		return mapError(err)
	}
	return c.JSON(http.StatusOK, p.ToDetail())
}

func (h *Handler) ListPatients(c echo.Context) error {
	pg, err := pagination.FromContext(c)
	if err != nil {
		return mapError(err)
	}

	var name *string
	params := c.QueryParams()
	if params.Has("name") {
		v := params.Get("name")
		name = &v
	} else if params.Has("q") {
		v := params.Get("q")
		name = &v
	}

	patients, next, err := h.svc.List(c.Request().Context(), pg, name)
	if err != nil {
		return mapError(err)
	}
	items := make([]ListItem, len(patients))
	for i, p := range patients {
		items[i] = p.ToListItem()
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(items, pg.Limit, next))
}

func (h *Handler) UpdatePatient(c echo.Context) error {
	id, err := ParseID(c.Param("id"))
	if err != nil {
		return err
	}
	var req updateRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "Invalid request body.")
	}

	in := UpdateInput{
		Name:   req.Name,
		MRNSet: len(req.MRN) > 0 && string(req.MRN) != "null",
	}
	if req.DateOfBirth != nil {
		dob, err := parseDOB(*req.DateOfBirth)
		if err != nil {
			return err
		}
		in.DateOfBirth = &dob
	}

	p, err := h.svc.Update(c.Request().Context(), id, in)
	if err != nil {
		return mapError(err)
	}
	return c.JSON(http.StatusOK, p.ToDetail())
}

func (h *Handler) DeletePatient(c echo.Context) error {
	id, err := ParseID(c.Param("id"))
	if err != nil {
		return err
	}
	if err := h.svc.Delete(c.Request().Context(), id); err != nil {
		return mapError(err)
	}
	return c.NoContent(http.StatusNoContent)
}

// ParseID parses a patient id path parameter.
func ParseID(raw string) (uuid.UUID, error) {
	id, err := uuid.Parse(raw)
	if err != nil {
		return uuid.Nil, echo.NewHTTPError(http.StatusBadRequest, "invalid patient id")
	}
	return id, nil
}

func parseDOB(raw string) (time.Time, error) {
	if raw == "" {
		return time.Time{}, echo.NewHTTPError(http.StatusBadRequest, "date_of_birth is required.")
	}
	dob, err := ParseDate(raw)
	if err != nil {
		return time.Time{}, echo.NewHTTPError(http.StatusBadRequest, "date_of_birth must be a date in YYYY-MM-DD format.")
	}
	return dob, nil
}

func mapError(err error) error {
	var ve *ValidationError
	var pe *pagination.ParamError
	switch {
	case errors.As(err, &ve):
		return echo.NewHTTPError(http.StatusBadRequest, ve.Msg)
	case errors.As(err, &pe):
		return echo.NewHTTPError(http.StatusBadRequest, pe.Msg)
	case errors.Is(err, pagination.ErrInvalidCursor):
		return echo.NewHTTPError(http.StatusBadRequest, "Invalid cursor")
	case errors.Is(err, ErrNotFound):
		return echo.NewHTTPError(http.StatusNotFound, "Patient not found")
	case errors.Is(err, ErrMRNConflict):
		return echo.NewHTTPError(http.StatusConflict, "MRN is already in use.")
	case errors.Is(err, ErrHasNotes):
		return echo.NewHTTPError(http.StatusConflict, "Patient has notes and cannot be deleted.")
	case errors.Is(err, ErrMRNGeneration):
		return echo.NewHTTPError(http.StatusServiceUnavailable, "Unable to generate MRN at this time.")
	default:
		return echo.NewHTTPError(http.StatusInternalServerError, "Internal server error").SetInternal(err)
	}
}
