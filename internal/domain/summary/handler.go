package summary

import (
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/brunoniconeves/ascertain-task/internal/domain/patient"
)

type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

// RegisterRoutes mounts the summary route. mw wraps only this route, which is
// where rate limiting belongs.
func (h *Handler) RegisterRoutes(g *echo.Group, mw ...echo.MiddlewareFunc) {
	g.GET("/patients/:id/summary", h.GetSummary, mw...)
}

func (h *Handler) GetSummary(c echo.Context) error {
	id, err := patient.ParseID(c.Param("id"))
	if err != nil {
		return err
	}

	aud := DefaultAudience
	if raw := c.QueryParam("audience"); raw != "" {
		var ok bool
		if aud, ok = ParseAudience(raw); !ok {
			return echo.NewHTTPError(http.StatusBadRequest,
				"Invalid audience. Supported values: clinician, family, patient, third_party.")
		}
	}
	verb := DefaultVerbosity
	if raw := c.QueryParam("verbosity"); raw != "" {
		var ok bool
		if verb, ok = ParseVerbosity(raw); !ok {
			return echo.NewHTTPError(http.StatusBadRequest,
				"Invalid verbosity. Supported values: short, medium, long.")
		}
	}

	sum, err := h.svc.Generate(c.Request().Context(), id, aud, verb)
	if err != nil {
		return mapError(err)
	}
	return c.JSON(http.StatusOK, sum)
}

func mapError(err error) error {
	switch {
	case errors.Is(err, ErrPatientNotFound):
		return echo.NewHTTPError(http.StatusNotFound, "Patient not found")
	case errors.Is(err, ErrLLMUnavailable):
		return echo.NewHTTPError(http.StatusBadGateway, "LLM service unavailable")
	case errors.Is(err, ErrLLMFailed):
		return echo.NewHTTPError(http.StatusBadGateway, "LLM service failed")
	default:
		return echo.NewHTTPError(http.StatusInternalServerError, "Internal server error").SetInternal(err)
	}
}
