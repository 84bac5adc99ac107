package payment

import (
	"context"
	"net/http"

	"github.com/sokoworks/payment-hub/internal"
	"github.com/sokoworks/payment-hub/internal/gateway"
	"github.com/sokoworks/payment-hub/pkg/logger"
)

// WebhookProcessor turns provider notifications into payment state
// transitions. Signatures are always checked before the payload is
// parsed; replays settle as no-ops because every transition is a
// compare-and-set.
type WebhookProcessor struct {
	registry GatewayRegistry
	payments RepositoryAPI
	svc      *Service
	refunds  *RefundService
}

func NewWebhookProcessor(registry GatewayRegistry, payments RepositoryAPI, svc *Service, refunds *RefundService) *WebhookProcessor {
	return &WebhookProcessor{
		registry: registry,
		payments: payments,
		svc:      svc,
		refunds:  refunds,
	}
}

func (w *WebhookProcessor) Handle(ctx context.Context, gatewayName string, payload []byte, headers http.Header) error {
	log := logger.From(ctx)

	gw, err := w.registry.Get(gatewayName)
	if err != nil {
		return internal.NewNotFoundError("unknown gateway: "+gatewayName, internal.ErrCodeUnknownGateway)
	}

	var signature string
	if header := gw.WebhookSignatureHeader(); header != "" {
		signature = headers.Get(header)
	}
	if !gw.VerifyWebhookSignature(payload, signature) {
		log.Warn("webhook signature rejected", "gateway", gatewayName)
		return internal.NewValidationError("invalid webhook signature", internal.ErrCodeInvalidSignature)
	}

	event, parseErr := gw.ParseWebhookEvent(payload)
	if parseErr != nil {
		log.Warn("webhook payload rejected", "gateway", gatewayName, "error", parseErr)
		return internal.NewValidationError("could not parse webhook payload", internal.ErrCodeInvalidJSON)
	}

	switch event.Type {
	case gateway.EventPaymentSuccess, gateway.EventPaymentFailed, gateway.EventRefundCompleted:
		return w.apply(ctx, gatewayName, event)
	default:
		log.Info("ignoring unhandled webhook event", "gateway", gatewayName, "type", event.Type)
		return nil
	}
}

func (w *WebhookProcessor) apply(ctx context.Context, gatewayName string, event *gateway.WebhookEvent) error {
	log := logger.From(ctx)

	if event.TransactionID == "" {
		log.Warn("webhook event carries no transaction reference", "gateway", gatewayName, "type", event.Type)
		return nil
	}

	p, err := w.payments.GetByGatewayReference(event.TransactionID)
	if err != nil {
		if appErr, ok := internal.IsAppError(err); ok && appErr.Code == internal.ErrCodePaymentNotFound {
			// Providers retry unknown references forever if we error here.
			log.Warn("webhook for unknown payment", "gateway", gatewayName, "gateway_reference", event.TransactionID)
			return nil
		}
		return internal.NewInternalError("could not load payment for webhook", err)
	}

	if event.Type != gateway.EventRefundCompleted &&
		!event.Amount.IsZero() && !event.Amount.Equal(p.Amount) {
		log.Warn("webhook amount differs from stored amount",
			"reference", p.Reference,
			"stored", p.Amount.String(),
			"reported", event.Amount.String())
	}

	switch event.Type {
	case gateway.EventPaymentSuccess:
		if _, err := w.svc.settleSuccess(ctx, p, nil, event.RawData); err != nil {
			return internal.NewInternalError("could not settle payment from webhook", err)
		}
	case gateway.EventPaymentFailed:
		if _, err := w.svc.settleFailure(ctx, p, "gateway reported failure", event.RawData); err != nil {
			return internal.NewInternalError("could not settle payment from webhook", err)
		}
	case gateway.EventRefundCompleted:
		w.refunds.applyRefundEvent(ctx, p, event.Amount, event.RawData)
	}
	return nil
}
