package payment

import "context"

// Verifier fetches the provider's authoritative view of a payment.
type Verifier interface {
	FetchPayment(ctx context.Context, ref string) (RemotePayment, error)
}

// IntentCreator opens a payment on the provider side.
type IntentCreator interface {
	CreatePayment(ctx context.Context, intent PaymentIntent) (IntentResult, error)
}

// OrderLedger loads orders. Implementations return ErrOrderNotFound for unknown ids.
type OrderLedger interface {
	LoadOrder(ctx context.Context, orderID string) (Order, error)
}

// PaymentLedger persists local payments keyed by the provider reference.
//
// CreateIfAbsent must be atomic for concurrent callers using the same remote id: exactly one caller
// observes created=true and every other caller receives the winner's row. TransitionToCompleted only
// changes rows that are not completed yet and reports whether it did.
type PaymentLedger interface {
	FindByRemoteID(ctx context.Context, remoteID string) (LocalPayment, bool, error)
	CreateIfAbsent(ctx context.Context, p NewPayment) (LocalPayment, bool, error)
	TransitionToCompleted(ctx context.Context, p LocalPayment, remoteState string) (LocalPayment, bool, error)
}

// Emitter publishes domain events after the ledger changed.
type Emitter interface {
	Emit(ctx context.Context, topic, key string, payload any) error
}
