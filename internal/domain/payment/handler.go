package payment

import (
	"context"
	"net/http"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/telecare/telecare/internal/platform/apperr"
	"github.com/telecare/telecare/internal/platform/auth"
)

// Completer is implemented by *Simulator.
type Completer interface {
	Complete(ctx context.Context, paymentID string) (*Verification, error)
}

type Handler struct {
	svc       *Service
	completer Completer
}

// NewHandler registers the simulator's completion route only when
// completer is non-nil.
func NewHandler(svc *Service, completer Completer) *Handler {
	return &Handler{svc: svc, completer: completer}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	g := api.Group("/payments")
	g.POST("/orders", h.CreateOrder)
	g.POST("/confirm", h.Confirm)
	g.GET("/:id", h.Verify)
	if h.completer != nil {
		g.POST("/:id/complete", h.Complete)
	}
}

func callerScope(ctx context.Context) string {
	if auth.IsStaff(ctx) {
		return ""
	}
	return auth.UserIDFromContext(ctx)
}

type orderRequest struct {
	SessionID string `json:"session_id"`
}

func (h *Handler) CreateOrder(c echo.Context) error {
	var req orderRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	sessionID, err := uuid.Parse(req.SessionID)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid session_id")
	}
	ctx := c.Request().Context()
	order, err := h.svc.CreatePaymentOrder(ctx, sessionID, callerScope(ctx))
	if err != nil {
		return apperr.HTTPError(err)
	}
	return c.JSON(http.StatusCreated, order)
}

func (h *Handler) Verify(c echo.Context) error {
	ctx := c.Request().Context()
	v, err := h.svc.VerifyPayment(ctx, c.Param("id"))
	if err != nil {
		return apperr.HTTPError(err)
	}
	if scope := callerScope(ctx); scope != "" && v.PatientID != scope {
		return apperr.HTTPError(apperr.NotFound(apperr.CodeNotFound, "payment %s not found", c.Param("id")))
	}
	return c.JSON(http.StatusOK, v)
}

func (h *Handler) Complete(c echo.Context) error {
	v, err := h.completer.Complete(c.Request().Context(), c.Param("id"))
	if err != nil {
		return apperr.HTTPError(err)
	}
	return c.JSON(http.StatusOK, v)
}

type confirmRequest struct {
	SessionID string            `json:"session_id"`
	PaymentID string            `json:"payment_id"`
	PatientID string            `json:"patient_id"`
	Answers   map[string]string `json:"answers,omitempty"`
}

// Confirm creates the consultation for a completed payment. Staff may
// confirm on a patient's behalf by naming patient_id.
func (h *Handler) Confirm(c echo.Context) error {
	var req confirmRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	sessionID, err := uuid.Parse(req.SessionID)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid session_id")
	}
	if req.PaymentID == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "payment_id is required")
	}

	ctx := c.Request().Context()
	patientID := callerScope(ctx)
	if patientID == "" {
		patientID = req.PatientID
	}
	out, err := h.svc.ConfirmPayment(ctx, ConfirmInput{
		SessionID: sessionID,
		PatientID: patientID,
		PaymentID: req.PaymentID,
		Actor:     auth.UserIDFromContext(ctx),
		Answers:   req.Answers,
	})
	if err != nil {
		return apperr.HTTPError(err)
	}
	return c.JSON(http.StatusCreated, out)
}
