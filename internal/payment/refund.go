package payment

import (
	"context"
	"encoding/json"
	"time"

	"github.com/shopspring/decimal"

	"github.com/sokoworks/payment-hub/internal"
	datamodel "github.com/sokoworks/payment-hub/internal/core/datamodel/payment"
	"github.com/sokoworks/payment-hub/internal/core/events"
	"github.com/sokoworks/payment-hub/internal/gateway"
	"github.com/sokoworks/payment-hub/pkg/logger"
)

type RefundRepositoryAPI interface {
	Create(r *datamodel.Refund) error
	GetByReference(reference string) (*datamodel.Refund, error)
	ListByPaymentID(paymentID int64) ([]*datamodel.Refund, error)

	// SumActiveByPaymentID totals pending and completed refunds; it is
	// the amount already spoken for against the payment.
	SumActiveByPaymentID(paymentID int64) (decimal.Decimal, error)
	UpdateStatus(id int64, status datamodel.RefundStatus, updates map[string]interface{}) error
}

type RefundService struct {
	payments       RepositoryAPI
	refunds        RefundRepositoryAPI
	registry       GatewayRegistry
	events         EventPublisher
	gatewayTimeout time.Duration
}

func NewRefundService(payments RepositoryAPI, refunds RefundRepositoryAPI, registry GatewayRegistry, publisher EventPublisher, cfg internal.PaymentsConfig) *RefundService {
	return &RefundService{
		payments:       payments,
		refunds:        refunds,
		registry:       registry,
		events:         publisher,
		gatewayTimeout: cfg.GatewayTimeout,
	}
}

// CreateRefund refunds part or all of a successful payment. The
// refundable balance counts pending refunds too, so concurrent partial
// refunds cannot overshoot the captured amount. When the cumulative
// refunded amount reaches the payment amount the payment flips to
// refunded.
func (s *RefundService) CreateRefund(ctx context.Context, paymentReference string, req *RefundRequest, userID int64) (*RefundView, error) {
	log := logger.From(ctx)

	if appErr := req.Validate(); appErr != nil {
		return nil, appErr
	}

	p, err := s.payments.GetByReference(paymentReference)
	if err != nil {
		return nil, err
	}
	if userID != 0 && p.UserID != userID {
		return nil, internal.ErrPaymentNotFound
	}
	if p.Status == datamodel.StatusRefunded {
		return nil, internal.NewConflictError("payment is already fully refunded", internal.ErrCodeInvalidStateTransition)
	}
	if p.Status != datamodel.StatusSuccess {
		return nil, internal.NewConflictError("only successful payments can be refunded", internal.ErrCodeInvalidStateTransition)
	}

	reserved, err := s.refunds.SumActiveByPaymentID(p.ID)
	if err != nil {
		log.Error("could not total existing refunds", "payment", paymentReference, "error", err)
		return nil, internal.NewInternalError("could not total existing refunds", err)
	}
	remaining := p.Amount.Sub(reserved)
	if !remaining.IsPositive() {
		return nil, internal.NewConflictError("payment is already fully refunded", internal.ErrCodeInvalidStateTransition)
	}

	amount := remaining
	if req.Amount != nil {
		amount = *req.Amount
		if amount.GreaterThan(remaining) {
			return nil, internal.NewUnprocessableError(
				"refund amount exceeds the refundable balance of "+remaining.String(),
				internal.ErrCodeRefundExceedsAmount)
		}
	}

	gw, gwErr := s.registry.Get(p.Gateway)
	if gwErr != nil {
		return nil, internal.NewBadGatewayError("payment gateway is not configured correctly", internal.ErrCodeGatewayMisconfigured)
	}

	refund := &datamodel.Refund{
		Reference: datamodel.NewRefundReference(),
		PaymentID: p.ID,
		Amount:    amount,
		Currency:  p.Currency,
		Status:    datamodel.RefundStatusPending,
		Reason:    req.Reason,
	}
	if err := s.refunds.Create(refund); err != nil {
		log.Error("could not persist refund", "payment", paymentReference, "error", err)
		return nil, internal.NewInternalError("could not persist refund", err)
	}

	callCtx, cancel := context.WithTimeout(ctx, s.gatewayTimeout)
	defer cancel()
	result, refundErr := gw.ProcessRefund(callCtx, gateway.RefundRequest{
		TransactionID: p.GatewayReference,
		Amount:        &amount,
		Currency:      p.Currency,
		Reason:        req.Reason,
	})
	if refundErr != nil {
		log.Warn("gateway refund failed", "payment", paymentReference, "gateway", p.Gateway, "error", refundErr)
		if gateway.IsConnectionError(refundErr) {
			// Outcome unknown: keep the refund pending so the balance
			// stays reserved instead of risking a double refund.
			return nil, mapGatewayError(refundErr)
		}
		if err := s.refunds.UpdateStatus(refund.ID, datamodel.RefundStatusFailed, nil); err != nil {
			log.Error("could not mark refund failed", "refund", refund.Reference, "error", err)
		}
		if gateway.IsNotSupported(refundErr) || gateway.IsConfigurationError(refundErr) {
			return nil, mapGatewayError(refundErr)
		}
		return nil, internal.NewUnprocessableError(gatewayErrorReason(refundErr), internal.ErrCodeRefundFailed)
	}

	updates := map[string]interface{}{
		"gateway_refund_id": result.RefundID,
	}
	if len(result.RawResponse) > 0 {
		updates["gateway_response"] = json.RawMessage(result.RawResponse)
	}

	switch result.Status {
	case gateway.StatusSuccess:
		if err := s.refunds.UpdateStatus(refund.ID, datamodel.RefundStatusCompleted, updates); err != nil {
			log.Error("could not mark refund completed", "refund", refund.Reference, "error", err)
			return nil, internal.NewInternalError("could not persist refund state", err)
		}
		refund.Status = datamodel.RefundStatusCompleted
		refund.GatewayRefundID = result.RefundID
		completed, totalErr := s.completedTotal(p.ID)
		if totalErr != nil {
			log.Error("could not total completed refunds", "payment", paymentReference, "error", totalErr)
			completed = amount
		}
		s.finalizeCompleted(ctx, p, refund, completed)
	case gateway.StatusFailed:
		if err := s.refunds.UpdateStatus(refund.ID, datamodel.RefundStatusFailed, updates); err != nil {
			log.Error("could not mark refund failed", "refund", refund.Reference, "error", err)
		}
		return nil, internal.NewUnprocessableError("refund was rejected by the gateway", internal.ErrCodeRefundFailed)
	default:
		// Still processing provider-side; the completion webhook settles it.
		if err := s.refunds.UpdateStatus(refund.ID, datamodel.RefundStatusPending, updates); err != nil {
			log.Error("could not persist refund progress", "refund", refund.Reference, "error", err)
		}
		refund.GatewayRefundID = result.RefundID
	}

	log.Info("refund created",
		"refund", refund.Reference,
		"payment", paymentReference,
		"amount", amount.String(),
		"status", string(refund.Status))
	return ToRefundView(refund, p.Reference), nil
}

func (s *RefundService) GetRefund(ctx context.Context, refundReference string, userID int64) (*RefundView, error) {
	refund, err := s.refunds.GetByReference(refundReference)
	if err != nil {
		return nil, err
	}
	p, err := s.payments.GetByID(refund.PaymentID)
	if err != nil {
		return nil, err
	}
	if userID != 0 && p.UserID != userID {
		return nil, internal.ErrRefundNotFound
	}
	return ToRefundView(refund, p.Reference), nil
}

func (s *RefundService) ListRefunds(ctx context.Context, paymentReference string, userID int64) ([]*RefundView, error) {
	p, err := s.payments.GetByReference(paymentReference)
	if err != nil {
		return nil, err
	}
	if userID != 0 && p.UserID != userID {
		return nil, internal.ErrPaymentNotFound
	}

	refunds, err := s.refunds.ListByPaymentID(p.ID)
	if err != nil {
		return nil, internal.NewInternalError("could not list refunds", err)
	}
	views := make([]*RefundView, 0, len(refunds))
	for _, refund := range refunds {
		views = append(views, ToRefundView(refund, p.Reference))
	}
	return views, nil
}

// applyRefundEvent settles a refund reported by a webhook. A matching
// pending refund is completed; with no match the refund happened
// provider-side (dashboard, support tooling) and a completed row is
// recorded for it.
func (s *RefundService) applyRefundEvent(ctx context.Context, p *datamodel.Payment, amount decimal.Decimal, raw []byte) {
	log := logger.From(ctx)

	refunds, err := s.refunds.ListByPaymentID(p.ID)
	if err != nil {
		log.Error("could not list refunds for webhook", "payment", p.Reference, "error", err)
		return
	}

	var match *datamodel.Refund
	for _, refund := range refunds {
		if refund.Status != datamodel.RefundStatusPending {
			continue
		}
		if amount.IsZero() || refund.Amount.Equal(amount) {
			match = refund
			break
		}
	}

	updates := map[string]interface{}{}
	if len(raw) > 0 {
		updates["gateway_response"] = json.RawMessage(raw)
	}

	if match != nil {
		if err := s.refunds.UpdateStatus(match.ID, datamodel.RefundStatusCompleted, updates); err != nil {
			log.Error("could not complete refund from webhook", "refund", match.Reference, "error", err)
			return
		}
		match.Status = datamodel.RefundStatusCompleted
	} else {
		if amount.IsZero() {
			log.Warn("refund webhook carried no amount and matched nothing", "payment", p.Reference)
			return
		}
		match = &datamodel.Refund{
			Reference: datamodel.NewRefundReference(),
			PaymentID: p.ID,
			Amount:    amount,
			Currency:  p.Currency,
			Status:    datamodel.RefundStatusCompleted,
			Reason:    "refund reported by gateway",
		}
		if len(raw) > 0 {
			match.GatewayResponse = json.RawMessage(raw)
		}
		if err := s.refunds.Create(match); err != nil {
			log.Error("could not record gateway-initiated refund", "payment", p.Reference, "error", err)
			return
		}
	}

	completed, err := s.completedTotal(p.ID)
	if err != nil {
		log.Error("could not total refunds after webhook", "payment", p.Reference, "error", err)
		return
	}
	s.finalizeCompleted(ctx, p, match, completed)
}

// finalizeCompleted emits the refund event and flips the payment to
// refunded once refunds cover the full amount.
func (s *RefundService) finalizeCompleted(ctx context.Context, p *datamodel.Payment, refund *datamodel.Refund, cumulative decimal.Decimal) {
	log := logger.From(ctx)

	s.events.Publish(ctx, events.NewRefundCompletedEvent(
		refund.Reference, p.Reference, p.Gateway, refund.Amount, refund.Currency))

	if cumulative.LessThan(p.Amount) {
		return
	}
	applied, err := s.payments.CompareAndSetStatus(p.ID, datamodel.StatusSuccess, datamodel.StatusRefunded, nil)
	if err != nil {
		log.Error("could not mark payment refunded", "payment", p.Reference, "error", err)
		return
	}
	if applied {
		p.Status = datamodel.StatusRefunded
		log.Info("payment fully refunded", "payment", p.Reference)
	}
}

func (s *RefundService) completedTotal(paymentID int64) (decimal.Decimal, error) {
	refunds, err := s.refunds.ListByPaymentID(paymentID)
	if err != nil {
		return decimal.Zero, err
	}
	total := decimal.Zero
	for _, refund := range refunds {
		if refund.Status == datamodel.RefundStatusCompleted {
			total = total.Add(refund.Amount)
		}
	}
	return total, nil
}
