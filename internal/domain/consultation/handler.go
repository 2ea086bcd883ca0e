package consultation

import (
	"context"
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
	g := api.Group("/consultations")
	g.GET("", h.ListConsultations)
	g.GET("/:id", h.GetConsultation)
	g.PATCH("/:id/status", h.UpdateStatus)
	g.POST("/:id/activate", h.Activate)

	api.GET("/patients/:patient_id/active-consultation", h.GetActiveConsultation)
}

// patientScope returns the patient a caller may act for. Staff may act for
// any patient; everyone else only for themselves.
func patientScope(ctx context.Context, requested string) (string, error) {
	if auth.IsStaff(ctx) {
		return requested, nil
	}
	self := auth.UserIDFromContext(ctx)
	if requested != "" && requested != self {
		return "", echo.NewHTTPError(http.StatusForbidden, "cannot access another patient's consultations")
	}
	return self, nil
}

func (h *Handler) ListConsultations(c echo.Context) error {
	ctx := c.Request().Context()
	patientID, err := patientScope(ctx, c.QueryParam("patient_id"))
	if err != nil {
		return err
	}
	if patientID == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "patient_id is required")
	}
	pg := pagination.FromContext(c)
	items, total, err := h.svc.ListConsultations(ctx, patientID, pg.Limit, pg.Offset)
	if err != nil {
		return apperr.HTTPError(err)
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(items, total, pg.Limit, pg.Offset))
}

func (h *Handler) load(c echo.Context) (*Consultation, error) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return nil, echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	ctx := c.Request().Context()
	cons, err := h.svc.GetConsultation(ctx, id)
	if err != nil {
		return nil, apperr.HTTPError(err)
	}
	if _, err := patientScope(ctx, cons.PatientID); err != nil {
		return nil, err
	}
	return cons, nil
}

func (h *Handler) GetConsultation(c echo.Context) error {
	cons, err := h.load(c)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, cons)
}

type statusRequest struct {
	Status   Status         `json:"status"`
	Reason   string         `json:"reason"`
	Metadata map[string]any `json:"metadata"`
}

// UpdateStatus lets staff drive any allowed transition. Patients may only
// cancel their own consultations.
func (h *Handler) UpdateStatus(c echo.Context) error {
	var req statusRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	cons, err := h.load(c)
	if err != nil {
		return err
	}
	ctx := c.Request().Context()
	if !auth.IsStaff(ctx) && req.Status != StatusCancelled {
		return echo.NewHTTPError(http.StatusForbidden, "patients may only cancel a consultation")
	}
	updated, err := h.svc.UpdateConsultationStatus(ctx, cons.ID, req.Status,
		auth.UserIDFromContext(ctx), req.Reason, req.Metadata)
	if err != nil {
		return apperr.HTTPError(err)
	}
	return c.JSON(http.StatusOK, updated)
}

func (h *Handler) Activate(c echo.Context) error {
	cons, err := h.load(c)
	if err != nil {
		return err
	}
	ctx := c.Request().Context()
	activated, err := h.svc.ActivateConsultation(ctx, cons.ID, cons.PatientID, auth.UserIDFromContext(ctx))
	if err != nil {
		return apperr.HTTPError(err)
	}
	return c.JSON(http.StatusOK, activated)
}

func (h *Handler) GetActiveConsultation(c echo.Context) error {
	ctx := c.Request().Context()
	patientID, err := patientScope(ctx, c.Param("patient_id"))
	if err != nil {
		return err
	}
	cons, err := h.svc.GetActiveConsultation(ctx, patientID)
	if err != nil {
		return apperr.HTTPError(err)
	}
	return c.JSON(http.StatusOK, cons)
}
