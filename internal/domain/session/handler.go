package session

import (
	"context"
	"net/http"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/telecare/telecare/internal/domain/diagnosis"
	"github.com/telecare/telecare/internal/platform/apperr"
	"github.com/telecare/telecare/internal/platform/auth"
)

type Handler struct {
	store    *Store
	intake   *IntakeService
	clinical *ClinicalStore
}

func NewHandler(store *Store, intake *IntakeService, clinical *ClinicalStore) *Handler {
	return &Handler{store: store, intake: intake, clinical: clinical}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	g := api.Group("/intake/sessions")
	g.POST("", h.CreateSession)
	g.GET("/:id", h.GetSession)
	g.PATCH("/:id", h.UpdateSession)
	g.POST("/:id/symptoms", h.SubmitSymptoms)
	g.POST("/:id/selection", h.SelectConsultation)

	cs := api.Group("/consultations/:id/clinical-sessions")
	cs.GET("/:sid", h.GetClinicalSession)
	staff := cs.Group("", auth.RequireRole(auth.RoleDoctor, auth.RoleService))
	staff.POST("", h.CreateClinicalSession)
	staff.PATCH("/:sid", h.UpdateClinicalSession)
}

// callerScope is the patient id used for ownership checks. Staff callers
// are not scoped.
func callerScope(ctx context.Context) string {
	if auth.IsStaff(ctx) {
		return ""
	}
	return auth.UserIDFromContext(ctx)
}

func parseID(c echo.Context, name string) (uuid.UUID, error) {
	id, err := uuid.Parse(c.Param(name))
	if err != nil {
		return uuid.Nil, echo.NewHTTPError(http.StatusBadRequest, "invalid "+name)
	}
	return id, nil
}

func (h *Handler) CreateSession(c echo.Context) error {
	ctx := c.Request().Context()
	patientID := auth.UserIDFromContext(ctx)
	if auth.IsStaff(ctx) {
		var body struct {
			PatientID string `json:"patient_id"`
		}
		if err := c.Bind(&body); err == nil && body.PatientID != "" {
			patientID = body.PatientID
		}
	}
	sess, err := h.store.CreateSession(ctx, patientID)
	if err != nil {
		return apperr.HTTPError(err)
	}
	return c.JSON(http.StatusCreated, sess)
}

func (h *Handler) GetSession(c echo.Context) error {
	id, err := parseID(c, "id")
	if err != nil {
		return err
	}
	ctx := c.Request().Context()
	sess, err := h.store.GetSession(ctx, id)
	if err != nil {
		return apperr.HTTPError(err)
	}
	if err := checkOwner(sess.PatientID, callerScope(ctx)); err != nil {
		return apperr.HTTPError(err)
	}
	return c.JSON(http.StatusOK, sess)
}

type updateRequest struct {
	Phase Phase `json:"phase"`
	Data  Data  `json:"data"`
}

func (h *Handler) UpdateSession(c echo.Context) error {
	id, err := parseID(c, "id")
	if err != nil {
		return err
	}
	var req updateRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	if err := req.Data.clientWritable(); err != nil {
		return apperr.HTTPError(err)
	}
	ctx := c.Request().Context()
	sess, err := h.store.UpdateSession(ctx, id, req.Phase, req.Data, callerScope(ctx))
	if err != nil {
		return apperr.HTTPError(err)
	}
	return c.JSON(http.StatusOK, sess)
}

func (h *Handler) SubmitSymptoms(c echo.Context) error {
	id, err := parseID(c, "id")
	if err != nil {
		return err
	}
	var req diagnosis.Request
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	ctx := c.Request().Context()
	sess, err := h.intake.SubmitSymptoms(ctx, id, callerScope(ctx), &req)
	if err != nil {
		return apperr.HTTPError(err)
	}
	return c.JSON(http.StatusOK, sess)
}

func (h *Handler) SelectConsultation(c echo.Context) error {
	id, err := parseID(c, "id")
	if err != nil {
		return err
	}
	var req struct {
		ConsultationType diagnosis.ConsultationType `json:"consultation_type"`
	}
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	ctx := c.Request().Context()
	sess, err := h.intake.SelectConsultation(ctx, id, callerScope(ctx), req.ConsultationType)
	if err != nil {
		return apperr.HTTPError(err)
	}
	return c.JSON(http.StatusOK, sess)
}

func (h *Handler) CreateClinicalSession(c echo.Context) error {
	consultationID, err := parseID(c, "id")
	if err != nil {
		return err
	}
	var req struct {
		PatientID string `json:"patient_id"`
	}
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	cs, err := h.clinical.Create(c.Request().Context(), consultationID, req.PatientID)
	if err != nil {
		return apperr.HTTPError(err)
	}
	return c.JSON(http.StatusCreated, cs)
}

func (h *Handler) GetClinicalSession(c echo.Context) error {
	consultationID, err := parseID(c, "id")
	if err != nil {
		return err
	}
	sid, err := parseID(c, "sid")
	if err != nil {
		return err
	}
	ctx := c.Request().Context()
	cs, err := h.clinical.Get(ctx, sid, consultationID)
	if err != nil {
		return apperr.HTTPError(err)
	}
	if err := checkOwner(cs.PatientID, callerScope(ctx)); err != nil {
		return apperr.HTTPError(err)
	}
	return c.JSON(http.StatusOK, cs)
}

func (h *Handler) UpdateClinicalSession(c echo.Context) error {
	consultationID, err := parseID(c, "id")
	if err != nil {
		return err
	}
	sid, err := parseID(c, "sid")
	if err != nil {
		return err
	}
	var req struct {
		Phase ClinicalPhase `json:"phase"`
		Data  ClinicalData  `json:"data"`
	}
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	cs, err := h.clinical.Update(c.Request().Context(), sid, req.Phase, req.Data, consultationID)
	if err != nil {
		return apperr.HTTPError(err)
	}
	return c.JSON(http.StatusOK, cs)
}
