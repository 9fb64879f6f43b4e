package event

import (
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/medtrack/medtrack/internal/domain/mederr"
	"github.com/medtrack/medtrack/internal/platform/auth"
	"github.com/medtrack/medtrack/pkg/pagination"
)

type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	g := api.Group("", auth.RequireRole("patient", "caregiver"))
	g.POST("/events/take", h.Take)
	g.POST("/events/missed", h.Missed)
	g.POST("/events/skipped", h.Skipped)
	g.POST("/events/snooze", h.Snooze)
	g.GET("/events", h.Query)
	g.GET("/events/chain/:correlation_id", h.Chain)
	g.GET("/patients/:id/today", h.Today)
}

func (h *Handler) Take(c echo.Context) error {
	var req TakeRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "invalid request body"})
	}
	e, err := h.svc.Take(c.Request().Context(), req, auth.UserIDFromContext(c.Request().Context()))
	if err != nil {
		return c.JSON(mederr.HTTPStatus(err), mederr.Payload(err))
	}
	return c.JSON(http.StatusCreated, e)
}

type occurrenceRequest struct {
	CommandID   uuid.UUID `json:"command_id"`
	ScheduledAt time.Time `json:"scheduled_at"`
	Reason      string    `json:"reason,omitempty"`
	Minutes     int       `json:"minutes,omitempty"`
}

func (h *Handler) Missed(c echo.Context) error {
	var req occurrenceRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "invalid request body"})
	}
	e, err := h.svc.RecordMissed(c.Request().Context(), req.CommandID, req.ScheduledAt, auth.UserIDFromContext(c.Request().Context()))
	if err != nil {
		return c.JSON(mederr.HTTPStatus(err), mederr.Payload(err))
	}
	return c.JSON(http.StatusCreated, e)
}

func (h *Handler) Skipped(c echo.Context) error {
	var req occurrenceRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "invalid request body"})
	}
	e, err := h.svc.RecordSkipped(c.Request().Context(), req.CommandID, req.ScheduledAt, req.Reason, auth.UserIDFromContext(c.Request().Context()))
	if err != nil {
		return c.JSON(mederr.HTTPStatus(err), mederr.Payload(err))
	}
	return c.JSON(http.StatusCreated, e)
}

func (h *Handler) Snooze(c echo.Context) error {
	var req occurrenceRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "invalid request body"})
	}
	e, err := h.svc.Snooze(c.Request().Context(), req.CommandID, req.ScheduledAt, req.Minutes, auth.UserIDFromContext(c.Request().Context()))
	if err != nil {
		return c.JSON(mederr.HTTPStatus(err), mederr.Payload(err))
	}
	return c.JSON(http.StatusCreated, e)
}

func (h *Handler) Query(c echo.Context) error {
	var f Filter

	if s := c.QueryParam("patient_id"); s != "" {
		id, err := uuid.Parse(s)
		if err != nil {
			return c.JSON(http.StatusBadRequest, map[string]string{"error": "invalid patient_id"})
		}
		f.PatientID = &id
	}
	if s := c.QueryParam("command_id"); s != "" {
		id, err := uuid.Parse(s)
		if err != nil {
			return c.JSON(http.StatusBadRequest, map[string]string{"error": "invalid command_id"})
		}
		f.CommandID = &id
	}
	if s := c.QueryParam("from"); s != "" {
		t, err := time.Parse(time.RFC3339, s)
		if err != nil {
			return c.JSON(http.StatusBadRequest, map[string]string{"error": "from must be RFC3339"})
		}
		f.From = &t
	}
	if s := c.QueryParam("to"); s != "" {
		t, err := time.Parse(time.RFC3339, s)
		if err != nil {
			return c.JSON(http.StatusBadRequest, map[string]string{"error": "to must be RFC3339"})
		}
		f.To = &t
	}
	if s := c.QueryParam("type"); s != "" {
		if !KnownType(s) {
			return c.JSON(http.StatusBadRequest, map[string]string{"error": "unknown event type"})
		}
		f.Types = []string{s}
	}
	switch c.QueryParam("archived") {
	case "", "exclude":
		f.Archived = ExcludeArchived
	case "only":
		f.Archived = OnlyArchived
	case "all":
		f.Archived = IncludeAll
	default:
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "archived must be exclude, only, or all"})
	}
	f.BelongsToDate = c.QueryParam("belongs_to_date")

	page := pagination.FromContext(c)
	f.Limit = page.Limit
	f.Offset = page.Offset

	events, err := h.svc.Query(c.Request().Context(), f)
	if err != nil {
		return c.JSON(mederr.HTTPStatus(err), mederr.Payload(err))
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(events, page.Offset+len(events), page.Limit, page.Offset))
}

func (h *Handler) Chain(c echo.Context) error {
	id, err := uuid.Parse(c.Param("correlation_id"))
	if err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "invalid correlation id"})
	}
	events, err := h.svc.Chain(c.Request().Context(), id)
	if err != nil {
		return c.JSON(mederr.HTTPStatus(err), mederr.Payload(err))
	}
	return c.JSON(http.StatusOK, map[string]interface{}{"events": events, "total": len(events)})
}

func (h *Handler) Today(c echo.Context) error {
	patientID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "invalid patient id"})
	}
	view, err := h.svc.Today(c.Request().Context(), patientID)
	if err != nil {
		return c.JSON(mederr.HTTPStatus(err), mederr.Payload(err))
	}
	return c.JSON(http.StatusOK, view)
}
