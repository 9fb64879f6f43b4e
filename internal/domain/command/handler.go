package command

import (
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/medtrack/medtrack/internal/domain/mederr"
	"github.com/medtrack/medtrack/internal/platform/auth"
	"github.com/medtrack/medtrack/internal/platform/clock"
)

type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	g := api.Group("", auth.RequireRole("patient", "caregiver", "prescriber"))
	g.POST("/commands", h.Create)
	g.GET("/commands/:id", h.Get)
	g.PUT("/commands/:id", h.Update)
	g.POST("/commands/:id/status", h.ChangeStatus)
	g.GET("/patients/:id/commands", h.ListByPatient)
	g.GET("/patients/:id/occurrences", h.Occurrences)
}

func (h *Handler) Create(c echo.Context) error {
	var m MedicationCommand
	if err := c.Bind(&m); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "invalid request body"})
	}
	created, err := h.svc.Create(c.Request().Context(), &m, auth.UserIDFromContext(c.Request().Context()))
	if err != nil {
		return c.JSON(mederr.HTTPStatus(err), mederr.Payload(err))
	}
	return c.JSON(http.StatusCreated, created)
}

func (h *Handler) Get(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "invalid command id"})
	}
	m, err := h.svc.Get(c.Request().Context(), id)
	if err != nil {
		return c.JSON(mederr.HTTPStatus(err), mederr.Payload(err))
	}
	return c.JSON(http.StatusOK, m)
}

type updateRequest struct {
	MedicationCommand
	ExpectedVersion int `json:"expected_version"`
}

func (h *Handler) Update(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "invalid command id"})
	}
	var req updateRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "invalid request body"})
	}
	m, err := h.svc.Update(c.Request().Context(), id, &req.MedicationCommand, req.ExpectedVersion, auth.UserIDFromContext(c.Request().Context()))
	if err != nil {
		return c.JSON(mederr.HTTPStatus(err), mederr.Payload(err))
	}
	return c.JSON(http.StatusOK, m)
}

type statusRequest struct {
	Status          string `json:"status"`
	ExpectedVersion int    `json:"expected_version"`
}

func (h *Handler) ChangeStatus(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "invalid command id"})
	}
	var req statusRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "invalid request body"})
	}
	m, err := h.svc.ChangeStatus(c.Request().Context(), id, req.Status, req.ExpectedVersion, auth.UserIDFromContext(c.Request().Context()))
	if err != nil {
		return c.JSON(mederr.HTTPStatus(err), mederr.Payload(err))
	}
	return c.JSON(http.StatusOK, m)
}

func (h *Handler) ListByPatient(c echo.Context) error {
	patientID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "invalid patient id"})
	}
	items, err := h.svc.ListByPatient(c.Request().Context(), patientID)
	if err != nil {
		return c.JSON(mederr.HTTPStatus(err), mederr.Payload(err))
	}
	return c.JSON(http.StatusOK, map[string]interface{}{"commands": items, "total": len(items)})
}

func (h *Handler) Occurrences(c echo.Context) error {
	patientID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "invalid patient id"})
	}
	date := c.QueryParam("date")
	if date == "" {
		date = time.Now().UTC().Format(clock.DateLayout)
	}
	occs, err := h.svc.OccurrencesForDate(c.Request().Context(), patientID, date)
	if err != nil {
		return c.JSON(mederr.HTTPStatus(err), mederr.Payload(err))
	}
	return c.JSON(http.StatusOK, map[string]interface{}{"date": date, "occurrences": occs, "total": len(occs)})
}
