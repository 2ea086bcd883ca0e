package payment

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/telecare/telecare/internal/domain/diagnosis"
	"github.com/telecare/telecare/internal/platform/apperr"
)

var fixedNow = time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)

func TestSimulator_OrderLifecycle(t *testing.T) {
	ctx := context.Background()
	sim := NewSimulator(false).WithClock(func() time.Time { return fixedNow })

	sessionID := uuid.New()
	order, err := sim.CreateOrder(ctx, OrderRequest{
		SessionID:        sessionID,
		PatientID:        "patient-1",
		ConsultationType: diagnosis.TypeVideo,
		Amount:           3000,
		Currency:         "USD",
	})
	require.NoError(t, err)
	require.Equal(t, StatusPending, order.Status)
	require.Equal(t, fixedNow.Add(DefaultOrderTTL), order.ExpiresAt)

	v, err := sim.Verify(ctx, order.PaymentID)
	require.NoError(t, err)
	require.Equal(t, StatusPending, v.Status)
	require.Nil(t, v.PaidAt)
	require.Equal(t, sessionID, v.SessionID)
	require.Equal(t, "patient-1", v.PatientID)
	require.Equal(t, diagnosis.TypeVideo, v.ConsultationType)

	v, err = sim.Complete(ctx, order.PaymentID)
	require.NoError(t, err)
	require.Equal(t, StatusCompleted, v.Status)
	require.NotEmpty(t, v.TransactionID)
	require.Equal(t, fixedNow, *v.PaidAt)

	again, err := sim.Complete(ctx, order.PaymentID)
	require.NoError(t, err)
	require.Equal(t, v.TransactionID, again.TransactionID)
}

func TestSimulator_AutoComplete(t *testing.T) {
	order, err := NewSimulator(true).CreateOrder(context.Background(), OrderRequest{Amount: 1500, Currency: "USD"})
	require.NoError(t, err)
	require.Equal(t, StatusCompleted, order.Status)
}

func TestSimulator_ExpiredOrderFails(t *testing.T) {
	ctx := context.Background()
	clock := fixedNow
	sim := NewSimulator(false).WithClock(func() time.Time { return clock })
	order, _ := sim.CreateOrder(ctx, OrderRequest{Amount: 1500, Currency: "USD"})

	clock = clock.Add(DefaultOrderTTL)
	v, err := sim.Verify(ctx, order.PaymentID)
	require.NoError(t, err)
	require.Equal(t, StatusFailed, v.Status)

	_, err = sim.Complete(ctx, order.PaymentID)
	require.True(t, apperr.HasCode(err, apperr.CodePaymentNotCompleted))
}

func TestSimulator_Errors(t *testing.T) {
	ctx := context.Background()
	sim := NewSimulator(false)

	_, err := sim.Verify(ctx, "pay_missing")
	require.True(t, apperr.Is(err, apperr.KindNotFound))

	_, err = sim.CreateOrder(ctx, OrderRequest{Amount: 0, Currency: "USD"})
	require.True(t, apperr.Is(err, apperr.KindValidation))
	_, err = sim.CreateOrder(ctx, OrderRequest{Amount: 100})
	require.True(t, apperr.Is(err, apperr.KindValidation))
}
