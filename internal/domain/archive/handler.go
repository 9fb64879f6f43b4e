package archive

import (
	"errors"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/medtrack/medtrack/internal/domain/mederr"
	"github.com/medtrack/medtrack/internal/domain/prefs"
	"github.com/medtrack/medtrack/internal/platform/auth"
	"github.com/medtrack/medtrack/internal/platform/clock"
)

type Handler struct {
	svc   *Service
	prefs prefs.Repository
	repo  Repository
}

func NewHandler(svc *Service, prefRepo prefs.Repository, repo Repository) *Handler {
	return &Handler{svc: svc, prefs: prefRepo, repo: repo}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	read := api.Group("", auth.RequireRole("patient", "caregiver", "prescriber"))
	read.GET("/patients/:id/summaries", h.ListSummaries)
	read.GET("/patients/:id/summaries/:date", h.GetSummary)

	admin := api.Group("/admin/archive", auth.RequireRole("admin"))
	admin.POST("/run", h.Run)
	admin.POST("/patients/:id/run", h.RunPatient)
}

func (h *Handler) ListSummaries(c echo.Context) error {
	patientID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "invalid patient id"})
	}
	from, to := c.QueryParam("from"), c.QueryParam("to")
	if from == "" || to == "" {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "from and to dates are required"})
	}
	items, err := h.repo.ListRange(c.Request().Context(), patientID, from, to)
	if err != nil {
		return c.JSON(mederr.HTTPStatus(err), mederr.Payload(err))
	}
	return c.JSON(http.StatusOK, map[string]interface{}{"summaries": items, "total": len(items)})
}

func (h *Handler) GetSummary(c echo.Context) error {
	patientID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "invalid patient id"})
	}
	s, err := h.repo.Get(c.Request().Context(), patientID, c.Param("date"))
	if err != nil {
		return c.JSON(mederr.HTTPStatus(err), mederr.Payload(err))
	}
	return c.JSON(http.StatusOK, s)
}

// Run triggers a full archive pass outside the schedule.
func (h *Handler) Run(c echo.Context) error {
	report := h.svc.Run(c.Request().Context())
	return c.JSON(http.StatusOK, report)
}

type runPatientRequest struct {
	Date string `json:"date"`
}

// RunPatient closes one specific (patient, date).
func (h *Handler) RunPatient(c echo.Context) error {
	patientID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "invalid patient id"})
	}
	var req runPatientRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "invalid request body"})
	}
	if _, parseErr := time.Parse(clock.DateLayout, req.Date); parseErr != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "date must be YYYY-MM-DD"})
	}

	p, err := h.prefs.Get(c.Request().Context(), patientID)
	if errors.Is(err, mederr.ErrNotFound) {
		err = &mederr.PreferencesMissingError{PatientID: patientID}
	}
	if err != nil {
		return c.JSON(mederr.HTTPStatus(err), mederr.Payload(err))
	}
	result, err := h.svc.ArchiveDay(c.Request().Context(), p, req.Date)
	if err != nil {
		return c.JSON(mederr.HTTPStatus(err), mederr.Payload(err))
	}
	return c.JSON(http.StatusOK, result)
}
