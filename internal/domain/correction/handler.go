package correction

import (
	"net/http"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/medtrack/medtrack/internal/domain/mederr"
	"github.com/medtrack/medtrack/internal/platform/auth"
)

type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	g := api.Group("", auth.RequireRole("patient", "caregiver"))
	g.POST("/events/:id/undo", h.Undo)
	g.POST("/events/:id/correct", h.Correct)
}

type undoRequest struct {
	Reason string `json:"reason,omitempty"`
}

func (h *Handler) Undo(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "invalid event id"})
	}
	var req undoRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "invalid request body"})
	}
	result, err := h.svc.Undo(c.Request().Context(), id, req.Reason, auth.UserIDFromContext(c.Request().Context()))
	if err != nil {
		return c.JSON(mederr.HTTPStatus(err), mederr.Payload(err))
	}
	return c.JSON(http.StatusCreated, result)
}

type correctRequest struct {
	Action string `json:"action"`
	Reason string `json:"reason"`
}

func (h *Handler) Correct(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "invalid event id"})
	}
	var req correctRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "invalid request body"})
	}
	e, err := h.svc.Correct(c.Request().Context(), id, req.Action, req.Reason, auth.UserIDFromContext(c.Request().Context()))
	if err != nil {
		return c.JSON(mederr.HTTPStatus(err), mederr.Payload(err))
	}
	return c.JSON(http.StatusCreated, e)
}
