package consultation

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

type mockRepo struct {
	mu              sync.Mutex
	items           map[uuid.UUID]*Consultation
	deactivateErr   error
	deactivateCalls int
}

func newMockRepo() *mockRepo {
	return &mockRepo{items: make(map[uuid.UUID]*Consultation)}
}

func clone(c *Consultation) *Consultation {
	out := *c
	out.StatusHistory = append([]StatusChange(nil), c.StatusHistory...)
	return &out
}

func (m *mockRepo) Create(_ context.Context, c *Consultation) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if c.ID == uuid.Nil {
		c.ID = uuid.New()
	}
	if c.Payment != nil {
		for _, other := range m.items {
			if other.Payment != nil && other.Payment.PaymentID == c.Payment.PaymentID {
				return paymentConfirmed(c.Payment.PaymentID)
			}
		}
	}
	m.items[c.ID] = clone(c)
	return nil
}

func (m *mockRepo) GetByID(_ context.Context, id uuid.UUID) (*Consultation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.items[id]
	if !ok {
		return nil, notFound(id)
	}
	return clone(c), nil
}

func (m *mockRepo) ListByPatient(_ context.Context, patientID string, limit, offset int) ([]*Consultation, int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var all []*Consultation
	for _, c := range m.items {
		if c.PatientID == patientID {
			all = append(all, clone(c))
		}
	}
	sort.Slice(all, func(i, j int) bool { return all[i].CreatedAt.After(all[j].CreatedAt) })
	total := len(all)
	if offset > total {
		offset = total
	}
	end := offset + limit
	if end > total {
		end = total
	}
	return all[offset:end], total, nil
}

func (m *mockRepo) ApplyTransition(_ context.Context, u TransitionUpdate) (*Consultation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.items[u.ID]
	if !ok {
		return nil, notFound(u.ID)
	}
	if c.Status != u.From {
		return nil, staleUpdate(u.ID, u.From)
	}
	updated := u.Apply(c)
	m.items[u.ID] = updated
	return clone(updated), nil
}

func (m *mockRepo) SetActive(_ context.Context, id uuid.UUID, at time.Time) (*Consultation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.items[id]
	if !ok {
		return nil, notFound(id)
	}
	if c.Status.IsTerminal() {
		return nil, staleUpdate(id, "a non-terminal status")
	}
	c.IsActive = true
	c.UpdatedAt = at
	return clone(c), nil
}

func (m *mockRepo) DeactivateOthers(_ context.Context, patientID string, keep uuid.UUID, change BulkChange) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.deactivateCalls++
	if m.deactivateErr != nil {
		return 0, m.deactivateErr
	}
	return m.bulk(func(c *Consultation) bool {
		return c.PatientID == patientID && c.ID != keep && c.IsActive && !c.Status.IsTerminal()
	}, StatusCancelled, change), nil
}

func (m *mockRepo) ExpireDue(_ context.Context, change BulkChange) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.bulk(func(c *Consultation) bool {
		return !c.ExpiresAt.After(change.Timestamp) && !c.Status.IsTerminal()
	}, StatusExpired, change), nil
}

func (m *mockRepo) bulk(match func(*Consultation) bool, to Status, change BulkChange) int64 {
	var n int64
	for _, c := range m.items {
		if !match(c) {
			continue
		}
		c.StatusHistory = append(c.StatusHistory, StatusChange{
			Status:         to,
			PreviousStatus: c.Status,
			Timestamp:      change.Timestamp,
			Actor:          change.Actor,
			Reason:         change.Reason,
			Metadata:       change.Metadata,
		})
		c.Status = to
		c.IsActive = false
		if to == StatusCancelled {
			t := change.Timestamp
			c.CancelledAt = &t
		}
		n++
	}
	return n
}

func (m *mockRepo) FindActiveByPatient(_ context.Context, patientID string) (*Consultation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, c := range m.items {
		if c.PatientID == patientID && c.IsActive && !c.Status.IsTerminal() {
			return clone(c), nil
		}
	}
	return nil, nil
}

func (m *mockRepo) FindByPaymentID(_ context.Context, paymentID string) (*Consultation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, c := range m.items {
		if c.Payment != nil && c.Payment.PaymentID == paymentID {
			return clone(c), nil
		}
	}
	return nil, nil
}

type fixedDoctor uuid.UUID

func (d fixedDoctor) ActiveDoctorForCurrentTime(context.Context) uuid.UUID { return uuid.UUID(d) }

type recordingTx struct {
	calls int
}

func (r *recordingTx) InTx(ctx context.Context, fn func(ctx context.Context) error) error {
	r.calls++
	return fn(ctx)
}
