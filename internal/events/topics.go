package events

// Topic constants for domain events emitted by the service.
const (
	TopicPaymentCompleted = "payment.completed"
)

// TaskOrderSettle is the asynq task type that marks an order paid.
const TaskOrderSettle = "order:settle"

// PaymentCompleted is published when reconciliation created or completed a payment row.
type PaymentCompleted struct {
	PaymentID   string `json:"paymentId"`
	RemoteID    string `json:"remoteId"`
	OrderID     string `json:"orderId"`
	Amount      int64  `json:"amount"`
	Currency    string `json:"currency"`
	Channel     string `json:"channel"`
	CompletedAt string `json:"completedAt"`
}
