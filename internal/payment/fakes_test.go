package payment_test

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/noah-isme/konnect-pay/internal/payment"
)

type fakeVerifier struct {
	mu       sync.Mutex
	payments map[string]payment.RemotePayment
	err      error
	calls    int32
}

func (f *fakeVerifier) FetchPayment(_ context.Context, ref string) (payment.RemotePayment, error) {
	atomic.AddInt32(&f.calls, 1)
	if f.err != nil {
		return payment.RemotePayment{}, f.err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	p, ok := f.payments[ref]
	if !ok {
		return payment.RemotePayment{}, payment.ErrProviderContractViolation
	}
	return p, nil
}

func (f *fakeVerifier) set(p payment.RemotePayment) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.payments == nil {
		f.payments = map[string]payment.RemotePayment{}
	}
	f.payments[p.RemoteID] = p
}

type memOrders struct {
	orders map[string]payment.Order
}

func (m memOrders) LoadOrder(_ context.Context, id string) (payment.Order, error) {
	o, ok := m.orders[id]
	if !ok {
		return payment.Order{}, payment.ErrOrderNotFound
	}
	return o, nil
}

// memPayments mimics the unique index on remote_id with a mutex.
type memPayments struct {
	mu          sync.Mutex
	rows        map[string]payment.LocalPayment
	creates     int
	transitions int
	// beforeCreate lets tests widen the race window between lookup and insert.
	beforeCreate func()
}

func newMemPayments() *memPayments {
	return &memPayments{rows: map[string]payment.LocalPayment{}}
}

func (m *memPayments) FindByRemoteID(_ context.Context, remoteID string) (payment.LocalPayment, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.rows[remoteID]
	return p, ok, nil
}

func (m *memPayments) CreateIfAbsent(_ context.Context, np payment.NewPayment) (payment.LocalPayment, bool, error) {
	if m.beforeCreate != nil {
		m.beforeCreate()
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if existing, ok := m.rows[np.RemoteID]; ok {
		return existing, false, nil
	}
	now := time.Now().UTC()
	p := payment.LocalPayment{
		ID:          uuid.New(),
		OrderID:     np.OrderID,
		RemoteID:    np.RemoteID,
		State:       np.State,
		Amount:      np.Amount,
		Currency:    np.Currency,
		RemoteState: np.RemoteState,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	m.rows[np.RemoteID] = p
	m.creates++
	return p, true, nil
}

func (m *memPayments) TransitionToCompleted(_ context.Context, p payment.LocalPayment, remoteState string) (payment.LocalPayment, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	current := m.rows[p.RemoteID]
	if current.State == payment.StateCompleted {
		return current, false, nil
	}
	current.State = payment.StateCompleted
	current.RemoteState = remoteState
	current.UpdatedAt = time.Now().UTC()
	m.rows[p.RemoteID] = current
	m.transitions++
	return current, true, nil
}

func (m *memPayments) FindCompletedByOrder(_ context.Context, orderID string) (payment.LocalPayment, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, p := range m.rows {
		if p.OrderID == orderID && p.State == payment.StateCompleted {
			return p, true, nil
		}
	}
	return payment.LocalPayment{}, false, nil
}

func (m *memPayments) put(p payment.LocalPayment) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rows[p.RemoteID] = p
}

func (m *memPayments) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.rows)
}

type emitted struct {
	topic string
	key   string
}

type captureEmitter struct {
	mu     sync.Mutex
	events []emitted
	calls  int
	// failures is the number of leading Emit calls that fail.
	failures int
}

func (c *captureEmitter) Emit(_ context.Context, topic, key string, _ any) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls++
	if c.calls <= c.failures {
		return errors.New("enqueue settle task: redis unavailable")
	}
	c.events = append(c.events, emitted{topic: topic, key: key})
	return nil
}

func (c *captureEmitter) attempts() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.calls
}

func (c *captureEmitter) len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.events)
}
