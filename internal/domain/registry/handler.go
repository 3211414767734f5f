package registry

import (
	"errors"
	"net/http"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/dischargehq/discharge/internal/platform/middleware"
)

type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

func (h *Handler) RegisterRoutes(e *echo.Echo) {
	e.POST("/api/approve/:id", h.Approve)
	e.GET("/api/discharges/:epic_id", h.History)
}

func (h *Handler) Approve(c echo.Context) error {
	tempDischargeID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "Invalid discharge ID format.")
	}
	actor := middleware.ActorFromContext(c)

	if err := h.svc.Approve(c.Request().Context(), actor, tempDischargeID); err != nil {
		var fieldErrs FieldErrors
		switch {
		case errors.As(err, &fieldErrs):
			return c.JSON(http.StatusBadRequest, map[string]interface{}{"errors": fieldErrs})
		case errors.Is(err, ErrNotFound):
			return echo.NewHTTPError(http.StatusNotFound, "Discharge record not found.")
		case errors.Is(err, ErrAlreadyFinal):
			return echo.NewHTTPError(http.StatusConflict, "Record has already been reviewed.")
		default:
			return echo.NewHTTPError(http.StatusInternalServerError, "failed to approve discharge")
		}
	}
	return c.JSON(http.StatusOK, map[string]string{"message": "Discharge approved successfully."})
}

func (h *Handler) History(c echo.Context) error {
	identifier := c.Param("epic_id")
	if identifier == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "epic identifier is required")
	}
	discharges, err := h.svc.History(c.Request().Context(), identifier)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, "failed to fetch discharge history")
	}
	return c.JSON(http.StatusOK, map[string]interface{}{"discharges": discharges})
}
