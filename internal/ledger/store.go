package ledger

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgtype"

	"github.com/noah-isme/konnect-pay/internal/payment"
)

const (
	pgUniqueViolation     = "23505"
	pgForeignKeyViolation = "23503"

	paymentColumns = `id, order_id, remote_id, state, amount, currency, remote_state, created_at, updated_at`
)

// DBTX is satisfied by *pgxpool.Pool, *pgx.Conn and pgx.Tx.
type DBTX interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Store is the Postgres order and payment ledger.
type Store struct {
	DB  DBTX
	Now func() time.Time
}

// New wraps a pgx connection or pool.
func New(db DBTX) *Store {
	return &Store{DB: db}
}

// LoadOrder implements payment.OrderLedger.
func (s *Store) LoadOrder(ctx context.Context, orderID string) (payment.Order, error) {
	const q = `SELECT id, total_amount, currency, COALESCE(email, ''), COALESCE(billing_first_name, ''),
       COALESCE(billing_last_name, ''), state
FROM orders WHERE id = $1`
	var o payment.Order
	err := s.DB.QueryRow(ctx, q, orderID).Scan(&o.ID, &o.TotalAmount, &o.Currency, &o.Email, &o.FirstName, &o.LastName, &o.State)
	if errors.Is(err, pgx.ErrNoRows) {
		return payment.Order{}, fmt.Errorf("%w: %s", payment.ErrOrderNotFound, orderID)
	}
	if err != nil {
		return payment.Order{}, fmt.Errorf("load order: %w", err)
	}
	return o, nil
}

// FindByRemoteID implements payment.PaymentLedger.
func (s *Store) FindByRemoteID(ctx context.Context, remoteID string) (payment.LocalPayment, bool, error) {
	p, err := scanPayment(s.DB.QueryRow(ctx, `SELECT `+paymentColumns+` FROM payments WHERE remote_id = $1`, remoteID))
	if errors.Is(err, pgx.ErrNoRows) {
		return payment.LocalPayment{}, false, nil
	}
	if err != nil {
		return payment.LocalPayment{}, false, fmt.Errorf("find payment by remote id: %w", err)
	}
	return p, true, nil
}

// FindCompletedByOrder implements payment.CompletedLookup.
func (s *Store) FindCompletedByOrder(ctx context.Context, orderID string) (payment.LocalPayment, bool, error) {
	const q = `SELECT ` + paymentColumns + ` FROM payments WHERE order_id = $1 AND state = 'completed'
ORDER BY updated_at LIMIT 1`
	p, err := scanPayment(s.DB.QueryRow(ctx, q, orderID))
	if errors.Is(err, pgx.ErrNoRows) {
		return payment.LocalPayment{}, false, nil
	}
	if err != nil {
		return payment.LocalPayment{}, false, fmt.Errorf("find completed payment by order: %w", err)
	}
	return p, true, nil
}

// CreateIfAbsent inserts the payment unless one with the same remote id exists. The unique index on
// remote_id arbitrates concurrent callers; losers read back the winner's row.
func (s *Store) CreateIfAbsent(ctx context.Context, np payment.NewPayment) (payment.LocalPayment, bool, error) {
	const q = `INSERT INTO payments (id, order_id, remote_id, state, amount, currency, remote_state, created_at, updated_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $8)
ON CONFLICT (remote_id) DO NOTHING
RETURNING ` + paymentColumns
	id := pgtype.UUID{Bytes: uuid.New(), Valid: true}
	now := s.now()
	p, err := scanPayment(s.DB.QueryRow(ctx, q, id, np.OrderID, np.RemoteID, string(np.State), np.Amount, np.Currency, np.RemoteState, now))
	if err == nil {
		return p, true, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) && !isPgError(err, pgUniqueViolation) {
		if isPgError(err, pgForeignKeyViolation) {
			return payment.LocalPayment{}, false, fmt.Errorf("%w: %s", payment.ErrOrderNotFound, np.OrderID)
		}
		return payment.LocalPayment{}, false, fmt.Errorf("insert payment: %w", err)
	}
	existing, found, err := s.FindByRemoteID(ctx, np.RemoteID)
	if err != nil {
		return payment.LocalPayment{}, false, err
	}
	if !found {
		return payment.LocalPayment{}, false, fmt.Errorf("payment %s conflicted but cannot be read back", np.RemoteID)
	}
	return existing, false, nil
}

// TransitionToCompleted marks a non-completed payment completed. A row that is already completed is
// returned unchanged with changed=false.
func (s *Store) TransitionToCompleted(ctx context.Context, p payment.LocalPayment, remoteState string) (payment.LocalPayment, bool, error) {
	const q = `UPDATE payments SET state = 'completed', remote_state = $2, updated_at = $3
WHERE id = $1 AND state <> 'completed'
RETURNING ` + paymentColumns
	id := pgtype.UUID{Bytes: p.ID, Valid: true}
	updated, err := scanPayment(s.DB.QueryRow(ctx, q, id, remoteState, s.now()))
	if err == nil {
		return updated, true, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return payment.LocalPayment{}, false, fmt.Errorf("complete payment: %w", err)
	}
	current, err := scanPayment(s.DB.QueryRow(ctx, `SELECT `+paymentColumns+` FROM payments WHERE id = $1`, id))
	if err != nil {
		return payment.LocalPayment{}, false, fmt.Errorf("reload payment: %w", err)
	}
	return current, false, nil
}

// MarkOrderPaid moves the order to the paid state once. It reports whether this call changed it.
func (s *Store) MarkOrderPaid(ctx context.Context, orderID string, paidAt time.Time) (bool, error) {
	tag, err := s.DB.Exec(ctx, `UPDATE orders SET state = $2, paid_at = $3, updated_at = $3 WHERE id = $1 AND state <> $2`,
		orderID, payment.OrderStatePaid, paidAt)
	if err != nil {
		return false, fmt.Errorf("mark order paid: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

func (s *Store) now() time.Time {
	if s.Now != nil {
		return s.Now().UTC()
	}
	return time.Now().UTC()
}

func scanPayment(row pgx.Row) (payment.LocalPayment, error) {
	var (
		p     payment.LocalPayment
		id    pgtype.UUID
		state string
	)
	if err := row.Scan(&id, &p.OrderID, &p.RemoteID, &state, &p.Amount, &p.Currency, &p.RemoteState, &p.CreatedAt, &p.UpdatedAt); err != nil {
		return payment.LocalPayment{}, err
	}
	p.ID = uuid.UUID(id.Bytes)
	p.State = payment.State(state)
	return p, nil
}

func isPgError(err error, code string) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == code
}
