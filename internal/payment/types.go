package payment

import (
	"time"

	"github.com/google/uuid"
)

// Channel identifies how a payment confirmation reached the service.
type Channel string

const (
	// ChannelReturn is the customer's browser coming back from the hosted payment page.
	ChannelReturn Channel = "return"
	// ChannelWebhook is the provider's server-to-server notification.
	ChannelWebhook Channel = "webhook"
)

// RemoteStatus is the provider status normalised to the values the service reasons about.
type RemoteStatus string

const (
	StatusPending   RemoteStatus = "PENDING"
	StatusCompleted RemoteStatus = "COMPLETED"
	StatusFailed    RemoteStatus = "FAILED"
	StatusOther     RemoteStatus = "OTHER"
)

// State is the lifecycle state of a locally recorded payment.
type State string

const (
	StateNew           State = "new"
	StateAuthorization State = "authorization"
	StateCompleted     State = "completed"
)

// Order is the subset of an order the payment flow needs.
type Order struct {
	ID          string
	TotalAmount int64
	Currency    string
	Email       string
	FirstName   string
	LastName    string
	State       string
}

// LocalPayment is a payment row owned by the payment ledger.
type LocalPayment struct {
	ID          uuid.UUID `json:"id"`
	OrderID     string    `json:"orderId"`
	RemoteID    string    `json:"remoteId"`
	State       State     `json:"state"`
	Amount      int64     `json:"amount"`
	Currency    string    `json:"currency"`
	RemoteState string    `json:"remoteState"`
	CreatedAt   time.Time `json:"createdAt"`
	UpdatedAt   time.Time `json:"updatedAt"`
}

// NewPayment carries the values for a payment row that may not exist yet.
type NewPayment struct {
	OrderID     string
	RemoteID    string
	State       State
	Amount      int64
	Currency    string
	RemoteState string
}

// RemotePayment is the provider's view of a payment. It is fetched on every confirmation and never stored.
type RemotePayment struct {
	RemoteID      string
	Status        RemoteStatus
	RawStatus     string
	OrderID       string
	Amount        int64
	Currency      string
	TransactionID string
}

// PaymentIntent is the request sent to the provider to open a hosted payment page.
type PaymentIntent struct {
	OrderID          string   `validate:"required,max=64"`
	Amount           int64    `validate:"gt=0"`
	Currency         string   `validate:"required,len=3"`
	AcceptedMethods  []string `validate:"required,min=1,dive,required"`
	ReceiverWalletID string   `validate:"required"`
	SuccessURL       string   `validate:"required,url"`
	FailURL          string   `validate:"required,url"`
	WebhookURL       string   `validate:"omitempty,url"`
	SendEmail        bool
	Email            string `validate:"required_if=SendEmail true,omitempty,email"`
	FirstName        string `validate:"required"`
	LastName         string `validate:"required"`
	Description      string `validate:"max=280"`
	LifespanMinutes  int    `validate:"gte=0,lte=1440"`
	Theme            string `validate:"omitempty,oneof=light dark"`
}

// IntentResult is what the provider hands back for a created payment.
type IntentResult struct {
	RedirectURL string `json:"redirectUrl"`
	PaymentRef  string `json:"paymentRef,omitempty"`
}

// Claim is an unverified statement that a payment reference was paid.
type Claim struct {
	Channel   Channel
	Reference string
	// OrderID is only known on the return channel.
	OrderID string
}

// Action describes what reconciliation did to the ledger.
type Action string

const (
	ActionNone            Action = "none"
	ActionCreated         Action = "created"
	ActionAlreadyRecorded Action = "already_recorded"
	ActionTransitioned    Action = "transitioned"
)

// Outcome summarises a reconciliation attempt. It is populated as far as the attempt got, also on error.
type Outcome struct {
	Channel      Channel
	Reference    string
	OrderID      string
	RemoteStatus RemoteStatus
	Payment      *LocalPayment
	Action       Action
}
