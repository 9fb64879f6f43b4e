package adherence

import (
	"net/http"
	"strconv"

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
	g := api.Group("", auth.RequireRole("patient", "caregiver", "prescriber"))
	g.GET("/patients/:id/adherence", h.Report)
}

// Report serves GET /patients/:id/adherence?window=30. The window is a
// day count, default 30.
func (h *Handler) Report(c echo.Context) error {
	patientID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "invalid patient id"})
	}
	window := 30
	if s := c.QueryParam("window"); s != "" {
		window, err = strconv.Atoi(s)
		if err != nil {
			return c.JSON(http.StatusBadRequest, map[string]string{"error": "window must be a day count"})
		}
	}
	report, err := h.svc.Report(c.Request().Context(), patientID, window)
	if err != nil {
		return c.JSON(mederr.HTTPStatus(err), mederr.Payload(err))
	}
	return c.JSON(http.StatusOK, report)
}
