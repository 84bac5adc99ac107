package payment

import (
	"context"

	"github.com/sokoworks/payment-hub/internal/core/events"
	"github.com/sokoworks/payment-hub/internal/currency"
	"github.com/sokoworks/payment-hub/pkg/logger"
)

// NotificationHandler consumes payment lifecycle events. Notifications
// are logged; the log line carries everything a mail or push worker
// downstream needs.
type NotificationHandler struct {
	converter *currency.Converter
}

func NewNotificationHandler(converter *currency.Converter) *NotificationHandler {
	return &NotificationHandler{converter: converter}
}

func (h *NotificationHandler) Register(bus *events.Bus) {
	bus.Subscribe(events.EventTypePaymentCompleted, h.handlePaymentCompleted)
	bus.Subscribe(events.EventTypePaymentFailed, h.handlePaymentFailed)
	bus.Subscribe(events.EventTypeRefundCompleted, h.handleRefundCompleted)
}

func (h *NotificationHandler) handlePaymentCompleted(ctx context.Context, event events.Event) error {
	completed, ok := event.(*events.PaymentCompletedEvent)
	if !ok {
		return nil
	}
	logger.From(ctx).Info("payment receipt queued",
		"reference", completed.Reference,
		"order_id", completed.OrderID,
		"user_id", completed.UserID,
		"amount", h.converter.Format(completed.Amount, completed.Currency),
		"gateway", completed.Gateway)
	return nil
}

func (h *NotificationHandler) handlePaymentFailed(ctx context.Context, event events.Event) error {
	failed, ok := event.(*events.PaymentFailedEvent)
	if !ok {
		return nil
	}
	logger.From(ctx).Info("payment failure notice queued",
		"reference", failed.Reference,
		"order_id", failed.OrderID,
		"user_id", failed.UserID,
		"amount", h.converter.Format(failed.Amount, failed.Currency),
		"reason", failed.Reason)
	return nil
}

func (h *NotificationHandler) handleRefundCompleted(ctx context.Context, event events.Event) error {
	refunded, ok := event.(*events.RefundCompletedEvent)
	if !ok {
		return nil
	}
	logger.From(ctx).Info("refund confirmation queued",
		"refund", refunded.RefundReference,
		"payment", refunded.PaymentReference,
		"amount", h.converter.Format(refunded.Amount, refunded.Currency))
	return nil
}
