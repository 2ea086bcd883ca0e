package diagnosis

import (
	"context"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/telecare/telecare/internal/platform/apperr"
	"github.com/telecare/telecare/internal/platform/auth"
)

// Generator is implemented by *Orchestrator.
type Generator interface {
	GetDiagnosis(ctx context.Context, actor string, req *Request) (*Result, error)
}

type Handler struct {
	svc Generator
}

func NewHandler(svc Generator) *Handler {
	return &Handler{svc: svc}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	api.POST("/diagnosis", h.Generate)
}

func (h *Handler) Generate(c echo.Context) error {
	var req Request
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	ctx := c.Request().Context()
	result, err := h.svc.GetDiagnosis(ctx, auth.UserIDFromContext(ctx), &req)
	if err != nil {
		return apperr.HTTPError(err)
	}
	return c.JSON(http.StatusOK, result)
}
