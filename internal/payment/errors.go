package payment

import "errors"

var (
	// ErrMissingReference is returned when a confirmation carries no provider reference.
	ErrMissingReference = errors.New("payment: missing reference")
	// ErrProviderUnavailable covers connection failures, timeouts and an open circuit.
	ErrProviderUnavailable = errors.New("payment: provider unavailable")
	// ErrProviderContractViolation is returned for non-2xx answers and bodies that do not match the API contract.
	ErrProviderContractViolation = errors.New("payment: provider contract violation")
	// ErrOrderBindingViolation means the verified payment does not belong to the order being confirmed.
	ErrOrderBindingViolation = errors.New("payment: order binding violation")
	// ErrPaymentNotCompleted is returned when the provider reports a non-completed status.
	ErrPaymentNotCompleted = errors.New("payment: not completed")
	// ErrInvalidIntent is returned when an order or gateway configuration cannot produce a valid intent.
	ErrInvalidIntent = errors.New("payment: invalid intent")
	// ErrOrderNotFound is returned by order ledgers for unknown order ids.
	ErrOrderNotFound = errors.New("payment: order not found")
)

// resultLabel maps a reconciliation error to a low-cardinality metric label.
func resultLabel(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, ErrMissingReference):
		return "missing_reference"
	case errors.Is(err, ErrProviderUnavailable):
		return "provider_unavailable"
	case errors.Is(err, ErrProviderContractViolation):
		return "contract_violation"
	case errors.Is(err, ErrOrderBindingViolation):
		return "binding_violation"
	case errors.Is(err, ErrPaymentNotCompleted):
		return "not_completed"
	case errors.Is(err, ErrInvalidIntent):
		return "invalid"
	default:
		return "error"
	}
}
