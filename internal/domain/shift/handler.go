package shift

import (
	"net/http"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/telecare/telecare/internal/platform/apperr"
	"github.com/telecare/telecare/internal/platform/auth"
	"github.com/telecare/telecare/pkg/pagination"
)

type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	g := api.Group("/doctor-shifts")
	g.GET("/active-doctor", h.ActiveDoctor)

	read := g.Group("", auth.RequireRole(auth.RoleDoctor, auth.RoleService))
	read.GET("", h.ListShifts)
	read.GET("/:id", h.GetShift)

	admin := g.Group("", auth.RequireRole(auth.RoleAdmin))
	admin.POST("", h.CreateShift)
	admin.POST("/:id/deactivate", h.DeactivateShift)
}

func (h *Handler) CreateShift(c echo.Context) error {
	var sh DoctorShift
	if err := c.Bind(&sh); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	if err := h.svc.CreateShift(c.Request().Context(), &sh); err != nil {
		return apperr.HTTPError(err)
	}
	return c.JSON(http.StatusCreated, sh)
}

func (h *Handler) GetShift(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	sh, err := h.svc.GetShift(c.Request().Context(), id)
	if err != nil {
		return apperr.HTTPError(err)
	}
	return c.JSON(http.StatusOK, sh)
}

func (h *Handler) ListShifts(c echo.Context) error {
	pg := pagination.FromContext(c)
	items, total, err := h.svc.ListShifts(c.Request().Context(), pg.Limit, pg.Offset)
	if err != nil {
		return apperr.HTTPError(err)
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(items, total, pg.Limit, pg.Offset))
}

func (h *Handler) DeactivateShift(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	if err := h.svc.DeactivateShift(c.Request().Context(), id); err != nil {
		return apperr.HTTPError(err)
	}
	return c.NoContent(http.StatusNoContent)
}

func (h *Handler) ActiveDoctor(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]string{
		"doctor_id": h.svc.ActiveDoctor(c.Request().Context()).String(),
	})
}
