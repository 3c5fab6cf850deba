package settlement

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/hibiken/asynq"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/noah-isme/konnect-pay/internal/events"
	"github.com/noah-isme/konnect-pay/internal/obs"
	"github.com/noah-isme/konnect-pay/internal/payment"
)

// Ledger is what settlement needs from the order and payment store.
type Ledger interface {
	FindByRemoteID(ctx context.Context, remoteID string) (payment.LocalPayment, bool, error)
	MarkOrderPaid(ctx context.Context, orderID string, paidAt time.Time) (bool, error)
}

// Handler consumes order:settle tasks and marks the order paid. It re-reads the payment row so a task
// can never settle an order on its payload alone.
type Handler struct {
	Ledger Ledger
	Logger zerolog.Logger
	Now    func() time.Time
}

// Register attaches the handler to an asynq mux.
func (h *Handler) Register(mux *asynq.ServeMux) {
	mux.HandleFunc(events.TaskOrderSettle, h.ProcessTask)
}

// ProcessTask implements asynq.HandlerFunc.
func (h *Handler) ProcessTask(ctx context.Context, task *asynq.Task) error {
	return h.Settle(ctx, task.Payload())
}

// Settle marks the order of a completed payment paid. Permanent rejections wrap asynq.SkipRetry.
func (h *Handler) Settle(ctx context.Context, payload []byte) error {
	ctx, span := otel.Tracer("settlement.Handler").Start(ctx, "Settlement.Settle")
	defer span.End()

	result := "error"
	defer func() {
		span.SetAttributes(attribute.String("settlement.result", result))
		if obs.SettlementTotal != nil {
			obs.SettlementTotal.WithLabelValues(result).Inc()
		}
	}()

	var msg events.PaymentCompleted
	if err := json.Unmarshal(payload, &msg); err != nil {
		result = "invalid"
		h.Logger.Error().Err(err).Msg("settlement payload undecodable")
		return fmt.Errorf("decode settle payload: %v: %w", err, asynq.SkipRetry)
	}
	ref := strings.TrimSpace(msg.RemoteID)
	if ref == "" {
		result = "invalid"
		return fmt.Errorf("settle payload without remote id: %w", asynq.SkipRetry)
	}
	logger := h.Logger.With().Str("payment_ref", ref).Str("order_id", msg.OrderID).Logger()
	span.SetAttributes(attribute.String("payment.ref", ref))

	p, found, err := h.Ledger.FindByRemoteID(ctx, ref)
	if err != nil {
		return fmt.Errorf("load payment %s: %w", ref, err)
	}
	if !found || p.State != payment.StateCompleted {
		result = "skipped"
		logger.Warn().Bool("security", true).Bool("found", found).Msg("settlement without completed payment")
		return fmt.Errorf("payment %s is not completed: %w", ref, asynq.SkipRetry)
	}
	if msg.OrderID != "" && msg.OrderID != p.OrderID {
		result = "skipped"
		logger.Warn().Bool("security", true).Str("payment_order", p.OrderID).Msg("settlement order differs from payment")
		return fmt.Errorf("payment %s belongs to order %s: %w", ref, p.OrderID, asynq.SkipRetry)
	}

	now := time.Now
	if h.Now != nil {
		now = h.Now
	}
	changed, err := h.Ledger.MarkOrderPaid(ctx, p.OrderID, now().UTC())
	if err != nil {
		return err
	}
	if changed {
		result = "settled"
		logger.Info().Msg("order marked paid")
	} else {
		result = "already_settled"
		logger.Debug().Msg("order already paid")
	}
	return nil
}

// Inline settles payment.completed events in-process. It stands in for the asynq publisher when no
// task queue is configured.
type Inline struct {
	Handler *Handler
}

// Publish implements events.Publisher.
func (i Inline) Publish(ctx context.Context, ev events.Event) error {
	if i.Handler == nil || ev.Topic != events.TopicPaymentCompleted {
		return nil
	}
	return i.Handler.Settle(ctx, ev.Payload)
}
