package patient

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/labstack/echo/v4"

	"github.com/ehr/readmission/pkg/pagination"
)

type Handler struct {
	svc            *Service
	consoleEnabled bool
}

func NewHandler(svc *Service, consoleEnabled bool) *Handler {
	return &Handler{svc: svc, consoleEnabled: consoleEnabled}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	api.GET("/patients/sample", h.SamplePatients)
	api.GET("/patients/:id", h.GetPatient)

	api.GET("/queries", h.ListQueries)
	api.GET("/queries/:id", h.RunQuery)
	api.GET("/queries/:id/export", h.ExportQuery)
	api.POST("/queries/console", h.RunConsole)
}

func (h *Handler) SamplePatients(c echo.Context) error {
	limit, err := pagination.FromContext(c, SampleLimits)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	encs, err := h.svc.Sample(c.Request().Context(), limit)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, "failed to load patients")
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(encs, len(encs), limit))
}

func (h *Handler) GetPatient(c echo.Context) error {
	id, err := ParseEncounterID(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	enc, err := h.svc.GetEncounter(c.Request().Context(), id)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return echo.NewHTTPError(http.StatusNotFound, "patient not found")
		}
		return echo.NewHTTPError(http.StatusInternalServerError, "failed to load patient")
	}
	return c.JSON(http.StatusOK, enc)
}

func (h *Handler) ListQueries(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]interface{}{
		"default": DefaultQueryID,
		"queries": NamedQueries,
	})
}

func (h *Handler) RunQuery(c echo.Context) error {
	res, err := h.svc.RunNamedQuery(c.Request().Context(), c.Param("id"))
	if err != nil {
		return queryError(err)
	}
	return c.JSON(http.StatusOK, res)
}

func (h *Handler) ExportQuery(c echo.Context) error {
	id := c.Param("id")
	res, err := h.svc.RunNamedQuery(c.Request().Context(), id)
	if err != nil {
		return queryError(err)
	}
	data, err := ExportXLSX(res)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, "failed to export query")
	}
	c.Response().Header().Set(echo.HeaderContentDisposition, fmt.Sprintf("attachment; filename=%q", id+".xlsx"))
	return c.Blob(http.StatusOK, "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet", data)
}

type consoleRequest struct {
	SQL string `json:"sql"`
}

func (h *Handler) RunConsole(c echo.Context) error {
	if !h.consoleEnabled {
		return echo.NewHTTPError(http.StatusForbidden, "sql console is disabled")
	}
	var req consoleRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	res, err := h.svc.RunConsoleQuery(c.Request().Context(), req.SQL)
	if err != nil {
		return queryError(err)
	}
	return c.JSON(http.StatusOK, res)
}

// ParseEncounterID parses a positive integer encounter identifier.
func ParseEncounterID(raw string) (int64, error) {
	id, err := strconv.ParseInt(strings.TrimSpace(raw), 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("invalid encounter id %q", raw)
	}
	return id, nil
}

func queryError(err error) error {
	switch {
	case errors.Is(err, ErrUnknownQuery):
		return echo.NewHTTPError(http.StatusNotFound, "query not found")
	case errors.Is(err, ErrQuery):
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	default:
		return echo.NewHTTPError(http.StatusInternalServerError, "query failed")
	}
}
