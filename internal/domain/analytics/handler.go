package analytics

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/ehr/readmission/pkg/pagination"
)

// SampleLimits bounds the stay vs medications endpoint.
var SampleLimits = pagination.Limits{Default: DefaultSampleLimit, Max: MaxSampleLimit}

type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

// RegisterRoutes mounts the analytics endpoints. mw is applied to the group.
func (h *Handler) RegisterRoutes(api *echo.Group, mw ...echo.MiddlewareFunc) {
	g := api.Group("/analytics", mw...)
	g.GET("/summary", h.GetSummary)
	g.GET("/readmission-by-age", h.GetReadmissionByAge)
	g.GET("/gender", h.GetGenderDistribution)
	g.GET("/stay-vs-medications", h.GetStayVsMedications)
}

func (h *Handler) GetSummary(c echo.Context) error {
	s, err := h.svc.Summary(c.Request().Context())
	if err != nil {
		return unavailable()
	}
	return c.JSON(http.StatusOK, s)
}

func (h *Handler) GetReadmissionByAge(c echo.Context) error {
	groups, err := h.svc.ReadmissionByAge(c.Request().Context())
	if err != nil {
		return unavailable()
	}
	return c.JSON(http.StatusOK, groups)
}

func (h *Handler) GetGenderDistribution(c echo.Context) error {
	counts, err := h.svc.GenderDistribution(c.Request().Context())
	if err != nil {
		return unavailable()
	}
	return c.JSON(http.StatusOK, counts)
}

func (h *Handler) GetStayVsMedications(c echo.Context) error {
	limit, err := pagination.FromContext(c, SampleLimits)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	points, err := h.svc.StayVsMedicationsSample(c.Request().Context(), limit)
	if err != nil {
		return unavailable()
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(points, len(points), limit))
}

func unavailable() error {
	return echo.NewHTTPError(http.StatusServiceUnavailable, "analytics unavailable")
}
