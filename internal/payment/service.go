package payment

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/sokoworks/payment-hub/internal"
	datamodel "github.com/sokoworks/payment-hub/internal/core/datamodel/payment"
	"github.com/sokoworks/payment-hub/internal/core/events"
	"github.com/sokoworks/payment-hub/internal/fraud"
	"github.com/sokoworks/payment-hub/internal/gateway"
	"github.com/sokoworks/payment-hub/pkg/logger"
)

// RepositoryAPI is the persistence surface the payment service needs.
// Lookups that can legitimately find nothing (GetActiveByOrderID) return
// (nil, nil); the rest return a not-found error.
type RepositoryAPI interface {
	Create(p *datamodel.Payment) error
	GetByID(id int64) (*datamodel.Payment, error)
	GetByReference(reference string) (*datamodel.Payment, error)
	GetByGatewayReference(gatewayReference string) (*datamodel.Payment, error)
	GetActiveByOrderID(orderID string) (*datamodel.Payment, error)

	// CompareAndSetStatus transitions id from expected to next, applying
	// updates in the same statement. It reports false when the row was
	// not in the expected status, which is how concurrent settlements
	// stay single-winner.
	CompareAndSetStatus(id int64, expected, next datamodel.Status, updates map[string]interface{}) (bool, error)
	IncrementRetryCount(id int64) error

	CountFailedForUserSince(userID int64, since time.Time) (int64, error)
	HasSuccessfulPayment(userID int64) (bool, error)
	ListPendingOlderThan(cutoff time.Time, limit int) ([]*datamodel.Payment, error)
	ListPendingForReverify(cutoff time.Time, limit int) ([]*datamodel.Payment, error)
}

type GatewayRegistry interface {
	Get(name string) (gateway.Gateway, error)
	ForRegion(countryCode, currency string) (gateway.Gateway, error)
	Available() []gateway.Gateway
}

type FraudChecker interface {
	Check(ctx context.Context, input fraud.CheckInput) (*fraud.Assessment, error)
}

type EventPublisher interface {
	Publish(ctx context.Context, event events.Event)
}

type Service struct {
	repo           RepositoryAPI
	registry       GatewayRegistry
	fraud          FraudChecker
	events         EventPublisher
	gatewayTimeout time.Duration
	pendingExpiry  time.Duration
}

func NewService(repo RepositoryAPI, registry GatewayRegistry, fraudChecker FraudChecker, publisher EventPublisher, cfg internal.PaymentsConfig) *Service {
	return &Service{
		repo:           repo,
		registry:       registry,
		fraud:          fraudChecker,
		events:         publisher,
		gatewayTimeout: cfg.GatewayTimeout,
		pendingExpiry:  cfg.PendingExpiry,
	}
}

// ProcessPayment runs the full initiation flow: validate, screen for
// fraud, route to a gateway, persist the attempt, then call the
// provider. The row is written before the provider call so a duplicate
// order is caught by the database even under concurrent requests.
func (s *Service) ProcessPayment(ctx context.Context, req *CreatePaymentRequest) (*PaymentView, error) {
	log := logger.From(ctx)

	req.Normalize()
	if appErr := req.Validate(); appErr != nil {
		return nil, appErr
	}

	assessment, err := s.fraud.Check(ctx, fraud.CheckInput{
		UserID:         req.UserID,
		Amount:         req.Amount,
		Currency:       req.Currency,
		CountryCode:    req.CountryCode,
		BillingCountry: req.BillingCountry,
	})
	if err != nil {
		if errors.Is(err, fraud.ErrBlocked) {
			log.Warn("payment rejected, user is blocklisted", "user_id", req.UserID)
			return nil, internal.NewForbiddenError("account is blocked for payments", internal.ErrCodeAccountBlocked)
		}
		log.Error("fraud check failed", "user_id", req.UserID, "error", err)
		return nil, internal.NewInternalError("could not screen payment", err)
	}
	if assessment.Suspicious {
		log.Warn("payment rejected by fraud screening",
			"user_id", req.UserID,
			"score", assessment.Score,
			"signals", assessment.Signals)
		return nil, internal.NewUnprocessableError("payment flagged as potentially fraudulent", internal.ErrCodeFraudRejected)
	}

	if existing, err := s.repo.GetActiveByOrderID(req.OrderID); err != nil {
		log.Error("active payment lookup failed", "order_id", req.OrderID, "error", err)
		return nil, internal.NewInternalError("could not check for existing payment", err)
	} else if existing != nil {
		log.Info("returning existing active payment for order", "order_id", req.OrderID, "reference", existing.Reference)
		return ToPaymentView(existing), nil
	}

	gw, appErr := s.resolveGateway(req)
	if appErr != nil {
		return nil, appErr
	}

	expiresAt := time.Now().Add(s.pendingExpiry).UTC()
	p := &datamodel.Payment{
		Reference:     datamodel.NewReference(),
		OrderID:       req.OrderID,
		UserID:        req.UserID,
		Gateway:       gw.Name(),
		Amount:        req.Amount,
		Currency:      req.Currency,
		Status:        datamodel.StatusInitiated,
		PaymentMethod: req.PaymentMethod,
		ExpiresAt:     &expiresAt,
	}
	if err := s.repo.Create(p); err != nil {
		if appErr, ok := internal.IsAppError(err); ok && appErr.Code == internal.ErrCodeDuplicatePayment {
			// Lost a race with a concurrent request for the same order.
			if existing, lookupErr := s.repo.GetActiveByOrderID(req.OrderID); lookupErr == nil && existing != nil {
				log.Info("concurrent duplicate initiation, returning winner", "order_id", req.OrderID)
				return ToPaymentView(existing), nil
			}
			return nil, appErr
		}
		log.Error("could not persist payment", "order_id", req.OrderID, "error", err)
		return nil, internal.NewInternalError("could not persist payment", err)
	}

	callCtx, cancel := context.WithTimeout(ctx, s.gatewayTimeout)
	defer cancel()
	result, gwErr := gw.InitializePayment(callCtx, gateway.InitializeRequest{
		Amount:        req.Amount,
		Currency:      req.Currency,
		CustomerEmail: req.CustomerEmail,
		Metadata:      initMetadata(req, p.Reference),
	})
	if gwErr != nil {
		log.Warn("gateway initialization failed",
			"reference", p.Reference,
			"gateway", gw.Name(),
			"error", gwErr)
		if _, settleErr := s.settleFailure(ctx, p, gatewayErrorReason(gwErr), nil); settleErr != nil {
			log.Error("could not mark payment failed", "reference", p.Reference, "error", settleErr)
		}
		return nil, mapGatewayError(gwErr)
	}

	updates := map[string]interface{}{
		"gateway_reference": result.Reference,
		"payment_url":       result.PaymentURL,
		"client_secret":     result.ClientSecret,
	}
	if len(result.RawResponse) > 0 {
		updates["gateway_response"] = json.RawMessage(result.RawResponse)
	}
	applied, err := s.repo.CompareAndSetStatus(p.ID, datamodel.StatusInitiated, datamodel.StatusPending, updates)
	if err != nil {
		log.Error("could not persist gateway acceptance", "reference", p.Reference, "error", err)
		return nil, internal.NewInternalError("could not persist payment state", err)
	}
	if !applied {
		current, err := s.repo.GetByID(p.ID)
		if err != nil {
			return nil, internal.NewInternalError("could not reload payment", err)
		}
		return ToPaymentView(current), nil
	}

	p.Status = datamodel.StatusPending
	p.GatewayReference = result.Reference
	p.PaymentURL = result.PaymentURL
	p.ClientSecret = result.ClientSecret
	log.Info("payment initiated",
		"reference", p.Reference,
		"gateway", gw.Name(),
		"amount", req.Amount.String(),
		"currency", req.Currency)
	return ToPaymentView(p), nil
}

func (s *Service) GetPayment(ctx context.Context, reference string, userID int64) (*PaymentView, error) {
	p, err := s.loadOwned(reference, userID)
	if err != nil {
		return nil, err
	}
	return ToPaymentView(p), nil
}

// VerifyPayment re-queries the provider and settles the stored payment
// when the provider reports a terminal state. Provider connectivity
// problems leave the stored status untouched.
func (s *Service) VerifyPayment(ctx context.Context, reference string, userID int64) (*PaymentView, error) {
	log := logger.From(ctx)

	p, err := s.loadOwned(reference, userID)
	if err != nil {
		return nil, err
	}
	if p.Status.IsTerminal() || p.GatewayReference == "" {
		return ToPaymentView(p), nil
	}

	gw, gwErr := s.registry.Get(p.Gateway)
	if gwErr != nil {
		log.Error("stored payment references unconfigured gateway", "reference", reference, "gateway", p.Gateway)
		return nil, internal.NewBadGatewayError("payment gateway is not configured correctly", internal.ErrCodeGatewayMisconfigured)
	}

	callCtx, cancel := context.WithTimeout(ctx, s.gatewayTimeout)
	defer cancel()
	result, verifyErr := gw.VerifyPayment(callCtx, p.GatewayReference)
	if verifyErr != nil {
		if gateway.IsConnectionError(verifyErr) {
			if err := s.repo.IncrementRetryCount(p.ID); err != nil {
				log.Warn("could not bump retry count", "reference", reference, "error", err)
			}
		}
		log.Warn("verification failed", "reference", reference, "gateway", p.Gateway, "error", verifyErr)
		return nil, mapGatewayError(verifyErr)
	}

	s.applyVerifyResult(ctx, p, result)

	current, err := s.repo.GetByID(p.ID)
	if err != nil {
		return nil, internal.NewInternalError("could not reload payment", err)
	}
	return ToPaymentView(current), nil
}

// CancelPayment expires a payment that has not settled yet.
func (s *Service) CancelPayment(ctx context.Context, reference string, userID int64) (*PaymentView, error) {
	p, err := s.loadOwned(reference, userID)
	if err != nil {
		return nil, err
	}
	if p.Status.IsTerminal() {
		return nil, internal.NewConflictError("payment is already "+p.Status.String(), internal.ErrCodeInvalidStateTransition)
	}

	applied, expireErr := s.expirePayment(ctx, p, "cancelled by user")
	if expireErr != nil {
		return nil, internal.NewInternalError("could not cancel payment", expireErr)
	}
	if !applied {
		current, err := s.repo.GetByID(p.ID)
		if err != nil {
			return nil, internal.NewInternalError("could not reload payment", err)
		}
		return nil, internal.NewConflictError("payment is already "+current.Status.String(), internal.ErrCodeInvalidStateTransition)
	}

	current, err := s.repo.GetByID(p.ID)
	if err != nil {
		return nil, internal.NewInternalError("could not reload payment", err)
	}
	logger.From(ctx).Info("payment cancelled", "reference", reference)
	return ToPaymentView(current), nil
}

func (s *Service) ListGateways() []*GatewayView {
	available := s.registry.Available()
	views := make([]*GatewayView, 0, len(available))
	for _, gw := range available {
		views = append(views, ToGatewayView(gw))
	}
	return views
}

func (s *Service) loadOwned(reference string, userID int64) (*datamodel.Payment, error) {
	p, err := s.repo.GetByReference(reference)
	if err != nil {
		return nil, err
	}
	// Other users' payments are indistinguishable from missing ones.
	if userID != 0 && p.UserID != userID {
		return nil, internal.ErrPaymentNotFound
	}
	return p, nil
}

func (s *Service) resolveGateway(req *CreatePaymentRequest) (gateway.Gateway, *internal.AppError) {
	if req.Gateway != "" {
		gw, err := s.registry.Get(req.Gateway)
		if err != nil {
			return nil, internal.NewValidationError("unknown payment gateway: "+req.Gateway, internal.ErrCodeUnknownGateway)
		}
		if !gw.SupportsCurrency(req.Currency) {
			return nil, internal.NewUnprocessableError(
				req.Gateway+" does not support "+req.Currency, internal.ErrCodeUnsupportedCurrency)
		}
		return gw, nil
	}

	gw, err := s.registry.ForRegion(req.CountryCode, req.Currency)
	if err != nil {
		return nil, internal.NewUnprocessableError(
			"no payment gateway available for this region and currency", internal.ErrCodeNoGatewayAvailable)
	}
	return gw, nil
}

func (s *Service) applyVerifyResult(ctx context.Context, p *datamodel.Payment, result *gateway.VerifyResult) {
	log := logger.From(ctx)

	if !result.Amount.IsZero() && !result.Amount.Equal(p.Amount) {
		log.Warn("gateway reported a different amount",
			"reference", p.Reference,
			"stored", p.Amount.String(),
			"reported", result.Amount.String())
	}

	switch statusFromGateway(result.Status) {
	case datamodel.StatusSuccess:
		if _, err := s.settleSuccess(ctx, p, result.PaidAt, result.RawResponse); err != nil {
			log.Error("could not settle payment success", "reference", p.Reference, "error", err)
		}
	case datamodel.StatusFailed:
		if _, err := s.settleFailure(ctx, p, "gateway reported failure", result.RawResponse); err != nil {
			log.Error("could not settle payment failure", "reference", p.Reference, "error", err)
		}
	}
}

// settleSuccess moves p to success exactly once and emits the completion
// event. Replays and races report applied=false without error.
func (s *Service) settleSuccess(ctx context.Context, p *datamodel.Payment, paidAt *time.Time, raw []byte) (bool, error) {
	if !p.Status.CanTransitionTo(datamodel.StatusSuccess) {
		return false, nil
	}

	when := time.Now().UTC()
	if paidAt != nil {
		when = paidAt.UTC()
	}
	updates := map[string]interface{}{
		"paid_at":        when,
		"failure_reason": "",
	}
	if len(raw) > 0 {
		updates["gateway_response"] = json.RawMessage(raw)
	}

	applied, err := s.repo.CompareAndSetStatus(p.ID, p.Status, datamodel.StatusSuccess, updates)
	if err != nil {
		return false, err
	}
	if !applied {
		logger.From(ctx).Info("success transition skipped, payment already settled", "reference", p.Reference)
		return false, nil
	}

	p.Status = datamodel.StatusSuccess
	p.PaidAt = &when
	logger.From(ctx).Info("payment succeeded", "reference", p.Reference, "gateway", p.Gateway)
	s.events.Publish(ctx, events.NewPaymentCompletedEvent(
		p.Reference, p.OrderID, p.UserID, p.Gateway, p.Amount, p.Currency, when))
	return true, nil
}

func (s *Service) settleFailure(ctx context.Context, p *datamodel.Payment, reason string, raw []byte) (bool, error) {
	if !p.Status.CanTransitionTo(datamodel.StatusFailed) {
		return false, nil
	}

	updates := map[string]interface{}{
		"failure_reason": reason,
	}
	if len(raw) > 0 {
		updates["gateway_response"] = json.RawMessage(raw)
	}

	applied, err := s.repo.CompareAndSetStatus(p.ID, p.Status, datamodel.StatusFailed, updates)
	if err != nil {
		return false, err
	}
	if !applied {
		logger.From(ctx).Info("failure transition skipped, payment already settled", "reference", p.Reference)
		return false, nil
	}

	p.Status = datamodel.StatusFailed
	p.FailureReason = reason
	logger.From(ctx).Info("payment failed", "reference", p.Reference, "gateway", p.Gateway, "reason", reason)
	s.events.Publish(ctx, events.NewPaymentFailedEvent(
		p.Reference, p.OrderID, p.UserID, p.Gateway, p.Amount, p.Currency, reason))
	return true, nil
}

func (s *Service) expirePayment(ctx context.Context, p *datamodel.Payment, reason string) (bool, error) {
	if !p.Status.CanTransitionTo(datamodel.StatusExpired) {
		return false, nil
	}
	applied, err := s.repo.CompareAndSetStatus(p.ID, p.Status, datamodel.StatusExpired, map[string]interface{}{
		"failure_reason": reason,
	})
	if err != nil {
		return false, err
	}
	if applied {
		p.Status = datamodel.StatusExpired
		p.FailureReason = reason
	}
	return applied, nil
}

// reconcileVerify is the sweep-side verification: same settlement rules
// as VerifyPayment but it never fails the sweep, only logs.
func (s *Service) reconcileVerify(ctx context.Context, p *datamodel.Payment) {
	log := logger.From(ctx)
	if p.GatewayReference == "" {
		return
	}

	gw, err := s.registry.Get(p.Gateway)
	if err != nil {
		log.Warn("cannot reverify payment on unconfigured gateway", "reference", p.Reference, "gateway", p.Gateway)
		return
	}

	callCtx, cancel := context.WithTimeout(ctx, s.gatewayTimeout)
	defer cancel()
	result, verifyErr := gw.VerifyPayment(callCtx, p.GatewayReference)
	if verifyErr != nil {
		if err := s.repo.IncrementRetryCount(p.ID); err != nil {
			log.Warn("could not bump retry count", "reference", p.Reference, "error", err)
		}
		log.Warn("reverification failed", "reference", p.Reference, "error", verifyErr)
		return
	}

	if statusFromGateway(result.Status) == datamodel.StatusPending {
		if err := s.repo.IncrementRetryCount(p.ID); err != nil {
			log.Warn("could not bump retry count", "reference", p.Reference, "error", err)
		}
		return
	}
	s.applyVerifyResult(ctx, p, result)
}

func statusFromGateway(status gateway.Status) datamodel.Status {
	switch status {
	case gateway.StatusSuccess:
		return datamodel.StatusSuccess
	case gateway.StatusFailed:
		return datamodel.StatusFailed
	default:
		return datamodel.StatusPending
	}
}

func initMetadata(req *CreatePaymentRequest, reference string) map[string]interface{} {
	metadata := make(map[string]interface{}, len(req.Metadata)+3)
	for key, value := range req.Metadata {
		metadata[key] = value
	}
	metadata["reference"] = reference
	metadata["order_id"] = req.OrderID
	if req.PhoneNumber != "" {
		metadata["phone_number"] = req.PhoneNumber
	}
	return metadata
}

func gatewayErrorReason(err error) string {
	var gwErr *gateway.Error
	if errors.As(err, &gwErr) {
		return gwErr.Message
	}
	return err.Error()
}

func mapGatewayError(err error) *internal.AppError {
	var gwErr *gateway.Error
	if !errors.As(err, &gwErr) {
		return internal.NewInternalError("payment gateway call failed", err)
	}

	switch gwErr.Kind {
	case gateway.KindUnsupportedCurrency:
		return internal.NewUnprocessableError(gwErr.Message, internal.ErrCodeUnsupportedCurrency)
	case gateway.KindNotSupported:
		return internal.NewUnprocessableError(gwErr.Message, internal.ErrCodeRefundNotSupported)
	case gateway.KindConnection:
		return internal.NewBadGatewayError("payment gateway is unreachable", internal.ErrCodeGatewayUnavailable)
	case gateway.KindConfiguration:
		return internal.NewBadGatewayError("payment gateway is not configured correctly", internal.ErrCodeGatewayMisconfigured)
	case gateway.KindProvider:
		return internal.NewUnprocessableError(gwErr.Message, internal.ErrCodePaymentFailed)
	case gateway.KindVerification:
		return internal.NewUnprocessableError(gwErr.Message, internal.ErrCodeVerificationFailed)
	case gateway.KindUnknownGateway:
		return internal.NewValidationError("unknown payment gateway", internal.ErrCodeUnknownGateway)
	case gateway.KindNoGatewayAvailable:
		return internal.NewUnprocessableError(gwErr.Message, internal.ErrCodeNoGatewayAvailable)
	default:
		return internal.NewInternalError("payment gateway call failed", err)
	}
}
