package payment

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/telecare/telecare/internal/domain/diagnosis"
	"github.com/telecare/telecare/internal/platform/apperr"
)

// Status is the gateway's view of an order.
type Status string

const (
	StatusPending   Status = "pending"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
)

const DefaultOrderTTL = 30 * time.Minute

type OrderRequest struct {
	SessionID        uuid.UUID
	PatientID        string
	ConsultationType diagnosis.ConsultationType
	Amount           int64
	Currency         string
}

type Order struct {
	PaymentID string    `json:"payment_id"`
	Status    Status    `json:"status"`
	Amount    int64     `json:"amount"`
	Currency  string    `json:"currency"`
	ExpiresAt time.Time `json:"expires_at"`
}

// Verification echoes the order's session, patient and consultation type so
// confirmation can bind the payment to what it was ordered for.
type Verification struct {
	PaymentID        string                     `json:"payment_id"`
	SessionID        uuid.UUID                  `json:"session_id"`
	PatientID        string                     `json:"patient_id"`
	ConsultationType diagnosis.ConsultationType `json:"consultation_type"`
	Status           Status                     `json:"status"`
	Amount           int64                      `json:"amount"`
	Currency         string                     `json:"currency"`
	PaidAt           *time.Time                 `json:"paid_at,omitempty"`
	TransactionID    string                     `json:"transaction_id,omitempty"`
}

// Gateway is the payment provider boundary.
type Gateway interface {
	CreateOrder(ctx context.Context, req OrderRequest) (*Order, error)
	Verify(ctx context.Context, paymentID string) (*Verification, error)
}

type simOrder struct {
	req           OrderRequest
	status        Status
	createdAt     time.Time
	expiresAt     time.Time
	paidAt        *time.Time
	transactionID string
}

// Simulator is an in-memory Gateway. Orders stay pending until Complete is
// called, or complete on creation when auto-complete is on. A pending order
// past its expiry verifies as failed.
type Simulator struct {
	mu           sync.Mutex
	orders       map[string]*simOrder
	autoComplete bool
	ttl          time.Duration
	now          func() time.Time
}

func NewSimulator(autoComplete bool) *Simulator {
	return &Simulator{
		orders:       make(map[string]*simOrder),
		autoComplete: autoComplete,
		ttl:          DefaultOrderTTL,
		now:          time.Now,
	}
}

func (s *Simulator) WithClock(now func() time.Time) *Simulator {
	s.now = now
	return s
}

func (s *Simulator) CreateOrder(_ context.Context, req OrderRequest) (*Order, error) {
	if req.Amount <= 0 {
		return nil, apperr.Validation(apperr.CodeInvalidInput, "amount must be positive")
	}
	if req.Currency == "" {
		return nil, apperr.Validation(apperr.CodeInvalidInput, "currency is required")
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.now().UTC()
	o := &simOrder{req: req, status: StatusPending, createdAt: now, expiresAt: now.Add(s.ttl)}
	if s.autoComplete {
		s.complete(o, now)
	}
	id := "pay_" + uuid.NewString()
	s.orders[id] = o
	return &Order{PaymentID: id, Status: o.status, Amount: req.Amount, Currency: req.Currency, ExpiresAt: o.expiresAt}, nil
}

func (s *Simulator) Verify(_ context.Context, paymentID string) (*Verification, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	o, ok := s.orders[paymentID]
	if !ok {
		return nil, apperr.NotFound(apperr.CodeNotFound, "payment %s not found", paymentID)
	}
	if o.status == StatusPending && !s.now().Before(o.expiresAt) {
		o.status = StatusFailed
	}
	return s.verification(paymentID, o), nil
}

// Complete marks a pending order as paid.
func (s *Simulator) Complete(_ context.Context, paymentID string) (*Verification, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	o, ok := s.orders[paymentID]
	if !ok {
		return nil, apperr.NotFound(apperr.CodeNotFound, "payment %s not found", paymentID)
	}
	now := s.now().UTC()
	switch {
	case o.status == StatusCompleted:
	case o.status == StatusFailed || !now.Before(o.expiresAt):
		o.status = StatusFailed
		return nil, apperr.Conflict(apperr.CodePaymentNotCompleted, "payment %s has failed or expired", paymentID)
	default:
		s.complete(o, now)
	}
	return s.verification(paymentID, o), nil
}

func (s *Simulator) complete(o *simOrder, at time.Time) {
	o.status = StatusCompleted
	o.paidAt = &at
	o.transactionID = "txn_" + uuid.NewString()
}

func (s *Simulator) verification(id string, o *simOrder) *Verification {
	return &Verification{
		PaymentID:        id,
		SessionID:        o.req.SessionID,
		PatientID:        o.req.PatientID,
		ConsultationType: o.req.ConsultationType,
		Status:           o.status,
		Amount:           o.req.Amount,
		Currency:         o.req.Currency,
		PaidAt:           o.paidAt,
		TransactionID:    o.transactionID,
	}
}
