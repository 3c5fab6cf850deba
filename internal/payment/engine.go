package payment

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/noah-isme/konnect-pay/internal/events"
	"github.com/noah-isme/konnect-pay/internal/obs"
)

// Engine turns confirmation claims from either channel into at most one completed payment per
// provider reference. It keeps no state between calls; the ledger's create-if-absent is the only
// synchronisation point.
type Engine struct {
	Provider Verifier
	Orders   OrderLedger
	Payments PaymentLedger
	Events   Emitter
	Logger   zerolog.Logger
}

// Reconcile verifies the claim with the provider and records the payment when it is completed and
// belongs to the bound order. Replays of an already recorded payment succeed without mutation.
func (e *Engine) Reconcile(ctx context.Context, claim Claim) (outcome Outcome, err error) {
	ctx, span := otel.Tracer("payment.Engine").Start(ctx, "Engine.Reconcile")
	defer span.End()

	ref := strings.TrimSpace(claim.Reference)
	outcome = Outcome{Channel: claim.Channel, Reference: ref, Action: ActionNone}
	logger := e.Logger.With().Str("component", "reconcile").Str("channel", string(claim.Channel)).Logger()

	defer func() {
		label := resultLabel(err)
		span.SetAttributes(
			attribute.String("payment.channel", string(claim.Channel)),
			attribute.String("payment.ref", ref),
			attribute.String("payment.action", string(outcome.Action)),
			attribute.String("payment.result", label),
		)
		if err != nil && !errors.Is(err, ErrPaymentNotCompleted) {
			span.RecordError(err)
			span.SetStatus(codes.Error, label)
		}
		if obs.PaymentReconcileTotal != nil {
			obs.PaymentReconcileTotal.WithLabelValues(string(claim.Channel), label).Inc()
		}
	}()

	if ref == "" {
		logger.Warn().Str("order_id", claim.OrderID).Msg("confirmation without payment reference")
		return outcome, ErrMissingReference
	}
	logger = logger.With().Str("payment_ref", ref).Logger()

	remote, err := e.Provider.FetchPayment(ctx, ref)
	if err != nil {
		if !errors.Is(err, ErrProviderUnavailable) && !errors.Is(err, ErrProviderContractViolation) {
			err = fmt.Errorf("%w: %v", ErrProviderUnavailable, err)
		}
		logger.Error().Err(err).Msg("payment verification failed")
		return outcome, err
	}
	outcome.RemoteStatus = remote.Status
	if remote.RemoteID != "" && remote.RemoteID != ref {
		logger.Error().Str("remote_id", remote.RemoteID).Msg("provider answered for a different payment")
		return outcome, fmt.Errorf("%w: asked for %s, got %s", ErrProviderContractViolation, ref, remote.RemoteID)
	}

	order, err := e.bindOrder(ctx, claim, remote, logger)
	if err != nil {
		return outcome, err
	}
	outcome.OrderID = order.ID
	logger = logger.With().Str("order_id", order.ID).Logger()

	if remote.Status != StatusCompleted {
		logger.Info().Str("remote_status", remote.RawStatus).Msg("payment not completed")
		return outcome, fmt.Errorf("%w: provider status %q", ErrPaymentNotCompleted, remote.RawStatus)
	}
	if remote.Amount > 0 && remote.Amount != order.TotalAmount {
		logger.Warn().Bool("security", true).
			Int64("remote_amount", remote.Amount).
			Int64("order_amount", order.TotalAmount).
			Msg("provider amount differs from order total")
	}

	payment, action, err := e.materialize(ctx, claim, order, ref, remote, logger)
	if err != nil {
		return outcome, err
	}
	outcome.Payment = &payment
	outcome.Action = action
	logger.Info().Str("action", string(action)).Str("payment_id", payment.ID.String()).Msg("payment reconciled")

	// Replays publish again: a lost settle task is repaired by the provider's redelivery, and settlement
	// is idempotent per payment.
	e.publish(ctx, outcome, logger)
	return outcome, nil
}

// bindOrder resolves the order the payment is confirmed against. The return channel must name the same
// order the provider holds; the webhook channel takes the provider's order. Either way the order must exist.
func (e *Engine) bindOrder(ctx context.Context, claim Claim, remote RemotePayment, logger zerolog.Logger) (Order, error) {
	claimed := strings.TrimSpace(claim.OrderID)
	remoteOrder := strings.TrimSpace(remote.OrderID)

	var orderID string
	switch claim.Channel {
	case ChannelReturn:
		if claimed == "" || remoteOrder == "" || claimed != remoteOrder {
			return Order{}, e.bindingViolation(claim, remoteOrder, "order mismatch", logger)
		}
		orderID = claimed
	case ChannelWebhook:
		if remoteOrder == "" {
			return Order{}, e.bindingViolation(claim, remoteOrder, "provider payment carries no order", logger)
		}
		orderID = remoteOrder
	default:
		return Order{}, fmt.Errorf("unsupported confirmation channel %q", claim.Channel)
	}

	order, err := e.Orders.LoadOrder(ctx, orderID)
	if err != nil {
		if errors.Is(err, ErrOrderNotFound) {
			return Order{}, e.bindingViolation(claim, remoteOrder, "order does not exist", logger)
		}
		logger.Error().Err(err).Str("order_id", orderID).Msg("load order failed")
		return Order{}, fmt.Errorf("load order %s: %w", orderID, err)
	}
	return order, nil
}

func (e *Engine) materialize(ctx context.Context, claim Claim, order Order, ref string, remote RemotePayment, logger zerolog.Logger) (LocalPayment, Action, error) {
	existing, found, err := e.Payments.FindByRemoteID(ctx, ref)
	if err != nil {
		logger.Error().Err(err).Msg("payment lookup failed")
		return LocalPayment{}, ActionNone, fmt.Errorf("find payment %s: %w", ref, err)
	}
	if !found {
		created, isNew, err := e.Payments.CreateIfAbsent(ctx, NewPayment{
			OrderID:     order.ID,
			RemoteID:    ref,
			State:       StateCompleted,
			Amount:      order.TotalAmount,
			Currency:    order.Currency,
			RemoteState: remote.RawStatus,
		})
		if err != nil {
			logger.Error().Err(err).Msg("payment create failed")
			return LocalPayment{}, ActionNone, fmt.Errorf("create payment %s: %w", ref, err)
		}
		if isNew {
			return created, ActionCreated, nil
		}
		existing = created
	}

	if existing.OrderID != order.ID {
		return LocalPayment{}, ActionNone, e.bindingViolation(claim, existing.OrderID, "recorded payment belongs to another order", logger)
	}
	if existing.State == StateCompleted {
		return existing, ActionAlreadyRecorded, nil
	}
	updated, changed, err := e.Payments.TransitionToCompleted(ctx, existing, remote.RawStatus)
	if err != nil {
		logger.Error().Err(err).Msg("payment transition failed")
		return LocalPayment{}, ActionNone, fmt.Errorf("complete payment %s: %w", ref, err)
	}
	if !changed {
		return updated, ActionAlreadyRecorded, nil
	}
	return updated, ActionTransitioned, nil
}

func (e *Engine) bindingViolation(claim Claim, remoteOrder, reason string, logger zerolog.Logger) error {
	logger.Error().
		Bool("security", true).
		Str("claimed_order", claim.OrderID).
		Str("remote_order", remoteOrder).
		Str("reason", reason).
		Str("severity", "security").
		Msg("payment order binding violation")
	if obs.PaymentBindingViolationTotal != nil {
		obs.PaymentBindingViolationTotal.WithLabelValues(string(claim.Channel)).Inc()
	}
	return fmt.Errorf("%w: %s", ErrOrderBindingViolation, reason)
}

func (e *Engine) publish(ctx context.Context, outcome Outcome, logger zerolog.Logger) {
	if e.Events == nil || outcome.Payment == nil {
		return
	}
	p := outcome.Payment
	payload := events.PaymentCompleted{
		PaymentID:   p.ID.String(),
		RemoteID:    p.RemoteID,
		OrderID:     p.OrderID,
		Amount:      p.Amount,
		Currency:    p.Currency,
		Channel:     string(outcome.Channel),
		CompletedAt: p.UpdatedAt.UTC().Format(time.RFC3339),
	}
	if err := e.Events.Emit(ctx, events.TopicPaymentCompleted, p.RemoteID, payload); err != nil {
		logger.Warn().Err(err).Msg("publish payment completed failed")
	}
}
