package payment

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/require"

	"github.com/telecare/telecare/internal/platform/auth"
)

func patientRequest(method, target, body, patientID string) *http.Request {
	req := httptest.NewRequest(method, target, strings.NewReader(body))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	return req.WithContext(auth.WithIdentity(req.Context(), patientID, []string{auth.RolePatient}))
}

func TestHandler_OrderCompleteConfirm(t *testing.T) {
	e := echo.New()
	hs := newHarness()
	h := NewHandler(hs.svc, hs.sim)
	id := hs.selectedSession(t, "patient-1")

	rec := httptest.NewRecorder()
	req := patientRequest(http.MethodPost, "/payments/orders", `{"session_id":"`+id.String()+`"}`, "patient-1")
	require.NoError(t, h.CreateOrder(e.NewContext(req, rec)))
	require.Equal(t, http.StatusCreated, rec.Code)
	var order Order
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &order))

	rec = httptest.NewRecorder()
	c := e.NewContext(patientRequest(http.MethodPost, "/", "", "patient-1"), rec)
	c.SetParamNames("id")
	c.SetParamValues(order.PaymentID)
	require.NoError(t, h.Complete(c))
	require.Contains(t, rec.Body.String(), `"completed"`)

	rec = httptest.NewRecorder()
	body := `{"session_id":"` + id.String() + `","payment_id":"` + order.PaymentID + `","patient_id":"someone-else"}`
	require.NoError(t, h.Confirm(e.NewContext(patientRequest(http.MethodPost, "/payments/confirm", body, "patient-1"), rec)))
	require.Equal(t, http.StatusCreated, rec.Code)
	require.Equal(t, "patient-1", hs.consultations.created[0].PatientID, "patients confirm only for themselves")
}

func TestHandler_ConfirmValidation(t *testing.T) {
	e := echo.New()
	hs := newHarness()
	h := NewHandler(hs.svc, nil)

	req := patientRequest(http.MethodPost, "/payments/confirm", `{"session_id":"bad","payment_id":"pay_1"}`, "patient-1")
	err := h.Confirm(e.NewContext(req, httptest.NewRecorder()))
	httpErr, ok := err.(*echo.HTTPError)
	require.True(t, ok)
	require.Equal(t, http.StatusBadRequest, httpErr.Code)

	req = patientRequest(http.MethodPost, "/payments/confirm", `{"session_id":"`+"00000000-0000-0000-0000-000000000001"+`"}`, "patient-1")
	err = h.Confirm(e.NewContext(req, httptest.NewRecorder()))
	httpErr, ok = err.(*echo.HTTPError)
	require.True(t, ok)
	require.Equal(t, http.StatusBadRequest, httpErr.Code)
}

func TestHandler_VerifyUnknown(t *testing.T) {
	e := echo.New()
	hs := newHarness()
	c := e.NewContext(patientRequest(http.MethodGet, "/", "", "patient-1"), httptest.NewRecorder())
	c.SetParamNames("id")
	c.SetParamValues("pay_missing")

	err := NewHandler(hs.svc, hs.sim).Verify(c)
	httpErr, ok := err.(*echo.HTTPError)
	require.True(t, ok)
	require.Equal(t, http.StatusNotFound, httpErr.Code)
}

func TestHandler_VerifyOtherPatientsPayment(t *testing.T) {
	e := echo.New()
	hs := newHarness()
	id := hs.selectedSession(t, "patient-1")
	paymentID := hs.paidOrder(t, id, "patient-1")

	c := e.NewContext(patientRequest(http.MethodGet, "/", "", "patient-2"), httptest.NewRecorder())
	c.SetParamNames("id")
	c.SetParamValues(paymentID)

	err := NewHandler(hs.svc, hs.sim).Verify(c)
	httpErr, ok := err.(*echo.HTTPError)
	require.True(t, ok)
	require.Equal(t, http.StatusNotFound, httpErr.Code)
}
