package risk

import (
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/ehr/readmission/internal/domain/patient"
	"github.com/ehr/readmission/internal/domain/riskmodel"
)

// MsgPredictionDisabled is shown whenever no model is loaded.
const MsgPredictionDisabled = "prediction disabled: model not available"

type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	api.GET("/model", h.GetModel)
	api.POST("/predictions", h.Predict)
	api.GET("/encounters/:id/risk", h.GetEncounterRisk)
}

// PredictionRequest mirrors the prediction form. Omitted fields take the
// form defaults.
type PredictionRequest struct {
	UseManual       bool   `json:"use_manual"`
	EncounterID     *int64 `json:"encounter_id"`
	TimeInHospital  *int   `json:"time_in_hospital"`
	NumMedications  *int   `json:"num_medications"`
	NumberInpatient *int   `json:"number_inpatient"`
}

// PredictionResponse carries the assessment and, for lookups, the
// encounter's details.
type PredictionResponse struct {
	Assessment *Assessment      `json:"assessment"`
	Patient    *patient.Details `json:"patient,omitempty"`
}

func (h *Handler) GetModel(c echo.Context) error {
	info, err := h.svc.ModelInfo()
	if err != nil {
		return echo.NewHTTPError(http.StatusServiceUnavailable, MsgPredictionDisabled)
	}
	return c.JSON(http.StatusOK, info)
}

func (h *Handler) Predict(c echo.Context) error {
	var req PredictionRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	ctx := c.Request().Context()

	if req.UseManual {
		stay := valueOr(req.TimeInHospital, DefaultTimeInHospital)
		meds := valueOr(req.NumMedications, DefaultNumMedications)
		inpatient := valueOr(req.NumberInpatient, DefaultNumberInpatient)
		if err := CheckManualRanges(stay, meds, inpatient); err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, err.Error())
		}
		a, err := h.svc.ScoreManual(ctx, stay, meds, inpatient)
		if err != nil {
			return scoringError(err)
		}
		return c.JSON(http.StatusOK, PredictionResponse{Assessment: a})
	}

	id := DefaultEncounterID
	if req.EncounterID != nil {
		id = *req.EncounterID
	}
	if id < 0 {
		return echo.NewHTTPError(http.StatusBadRequest, "encounter_id must not be negative")
	}
	return h.respondByID(c, id)
}

func (h *Handler) GetEncounterRisk(c echo.Context) error {
	id, err := patient.ParseEncounterID(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	return h.respondByID(c, id)
}

func (h *Handler) respondByID(c echo.Context, id int64) error {
	a, enc, err := h.svc.ScoreByID(c.Request().Context(), id)
	if err != nil {
		return scoringError(err)
	}
	details := enc.Details()
	return c.JSON(http.StatusOK, PredictionResponse{Assessment: a, Patient: &details})
}

func valueOr(v *int, def int) int {
	if v == nil {
		return def
	}
	return *v
}

func scoringError(err error) error {
	switch {
	case errors.Is(err, riskmodel.ErrModelUnavailable):
		return echo.NewHTTPError(http.StatusServiceUnavailable, MsgPredictionDisabled)
	case errors.Is(err, ErrPatientNotFound):
		return echo.NewHTTPError(http.StatusNotFound, "patient not found")
	case errors.Is(err, ErrInvalidFeature):
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	default:
		return echo.NewHTTPError(http.StatusInternalServerError, "prediction failed")
	}
}
