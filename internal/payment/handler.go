package payment

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi"

	errors "github.com/sokoworks/payment-hub/internal"
	"github.com/sokoworks/payment-hub/internal/transport"
)

type ServiceAPI interface {
	ProcessPayment(ctx context.Context, req *CreatePaymentRequest) (*PaymentView, error)
	GetPayment(ctx context.Context, reference string, userID int64) (*PaymentView, error)
	VerifyPayment(ctx context.Context, reference string, userID int64) (*PaymentView, error)
	CancelPayment(ctx context.Context, reference string, userID int64) (*PaymentView, error)
	ListGateways() []*GatewayView
}

type RefundServiceAPI interface {
	CreateRefund(ctx context.Context, paymentReference string, req *RefundRequest, userID int64) (*RefundView, error)
	GetRefund(ctx context.Context, refundReference string, userID int64) (*RefundView, error)
	ListRefunds(ctx context.Context, paymentReference string, userID int64) ([]*RefundView, error)
}

type Handler struct {
	*transport.BaseHandler
	Service       ServiceAPI
	RefundService RefundServiceAPI
}

func NewHandler(service ServiceAPI, refundService RefundServiceAPI) *Handler {
	return &Handler{
		BaseHandler:   transport.NewBaseHandler(nil),
		Service:       service,
		RefundService: refundService,
	}
}

func (h *Handler) CreatePayment(w http.ResponseWriter, r *http.Request) {
	userID, ok := errors.UserIDFromContext(r.Context())
	if !ok {
		h.Logger.Error("CreatePayment: user not found in context")
		h.HandleError(w, errors.NewUnauthorizedError("authentication required", errors.ErrCodeInvalidToken))
		return
	}

	var req CreatePaymentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.Logger.Error("CreatePayment: failed to parse request body", "error", err)
		h.HandleError(w, errors.NewValidationError("invalid request body", errors.ErrCodeInvalidJSON))
		return
	}
	req.UserID = userID

	view, err := h.Service.ProcessPayment(r.Context(), &req)
	if err != nil {
		h.Logger.Error("CreatePayment: service error", "error", err, "order_id", req.OrderID, "user_id", userID)
		h.HandleServiceError(w, err)
		return
	}

	h.Logger.Info("CreatePayment: payment created",
		"reference", view.Reference,
		"order_id", view.OrderID,
		"gateway", view.Gateway,
		"status", view.Status)

	h.WriteJSON(w, http.StatusCreated, view)
}

func (h *Handler) GetPayment(w http.ResponseWriter, r *http.Request) {
	userID, ok := errors.UserIDFromContext(r.Context())
	if !ok {
		h.Logger.Error("GetPayment: user not found in context")
		h.HandleError(w, errors.NewUnauthorizedError("authentication required", errors.ErrCodeInvalidToken))
		return
	}

	reference := chi.URLParam(r, "reference")
	view, err := h.Service.GetPayment(r.Context(), reference, userID)
	if err != nil {
		h.Logger.Error("GetPayment: service error", "error", err, "reference", reference, "user_id", userID)
		h.HandleServiceError(w, err)
		return
	}

	h.WriteJSON(w, http.StatusOK, view)
}

func (h *Handler) VerifyPayment(w http.ResponseWriter, r *http.Request) {
	userID, ok := errors.UserIDFromContext(r.Context())
	if !ok {
		h.Logger.Error("VerifyPayment: user not found in context")
		h.HandleError(w, errors.NewUnauthorizedError("authentication required", errors.ErrCodeInvalidToken))
		return
	}

	reference := chi.URLParam(r, "reference")
	view, err := h.Service.VerifyPayment(r.Context(), reference, userID)
	if err != nil {
		h.Logger.Error("VerifyPayment: service error", "error", err, "reference", reference, "user_id", userID)
		h.HandleServiceError(w, err)
		return
	}

	h.Logger.Info("VerifyPayment: verification finished", "reference", reference, "status", view.Status)
	h.WriteJSON(w, http.StatusOK, view)
}

func (h *Handler) CancelPayment(w http.ResponseWriter, r *http.Request) {
	userID, ok := errors.UserIDFromContext(r.Context())
	if !ok {
		h.Logger.Error("CancelPayment: user not found in context")
		h.HandleError(w, errors.NewUnauthorizedError("authentication required", errors.ErrCodeInvalidToken))
		return
	}

	reference := chi.URLParam(r, "reference")
	view, err := h.Service.CancelPayment(r.Context(), reference, userID)
	if err != nil {
		h.Logger.Error("CancelPayment: service error", "error", err, "reference", reference, "user_id", userID)
		h.HandleServiceError(w, err)
		return
	}

	h.Logger.Info("CancelPayment: payment cancelled", "reference", reference, "user_id", userID)
	h.WriteJSON(w, http.StatusOK, view)
}

func (h *Handler) CreateRefund(w http.ResponseWriter, r *http.Request) {
	userID, ok := errors.UserIDFromContext(r.Context())
	if !ok {
		h.Logger.Error("CreateRefund: user not found in context")
		h.HandleError(w, errors.NewUnauthorizedError("authentication required", errors.ErrCodeInvalidToken))
		return
	}

	reference := chi.URLParam(r, "reference")

	var req RefundRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.Logger.Error("CreateRefund: failed to parse request body", "error", err)
		h.HandleError(w, errors.NewValidationError("invalid request body", errors.ErrCodeInvalidJSON))
		return
	}

	view, err := h.RefundService.CreateRefund(r.Context(), reference, &req, userID)
	if err != nil {
		h.Logger.Error("CreateRefund: service error", "error", err, "payment_reference", reference, "user_id", userID)
		h.HandleServiceError(w, err)
		return
	}

	h.Logger.Info("CreateRefund: refund created",
		"refund_reference", view.Reference,
		"payment_reference", reference,
		"status", view.Status)

	h.WriteJSON(w, http.StatusCreated, view)
}

func (h *Handler) ListRefunds(w http.ResponseWriter, r *http.Request) {
	userID, ok := errors.UserIDFromContext(r.Context())
	if !ok {
		h.Logger.Error("ListRefunds: user not found in context")
		h.HandleError(w, errors.NewUnauthorizedError("authentication required", errors.ErrCodeInvalidToken))
		return
	}

	reference := chi.URLParam(r, "reference")
	refunds, err := h.RefundService.ListRefunds(r.Context(), reference, userID)
	if err != nil {
		h.Logger.Error("ListRefunds: service error", "error", err, "payment_reference", reference, "user_id", userID)
		h.HandleServiceError(w, err)
		return
	}

	h.WriteJSON(w, http.StatusOK, map[string]interface{}{
		"refunds": refunds,
	})
}

func (h *Handler) GetRefund(w http.ResponseWriter, r *http.Request) {
	userID, ok := errors.UserIDFromContext(r.Context())
	if !ok {
		h.Logger.Error("GetRefund: user not found in context")
		h.HandleError(w, errors.NewUnauthorizedError("authentication required", errors.ErrCodeInvalidToken))
		return
	}

	reference := chi.URLParam(r, "reference")
	view, err := h.RefundService.GetRefund(r.Context(), reference, userID)
	if err != nil {
		h.Logger.Error("GetRefund: service error", "error", err, "reference", reference, "user_id", userID)
		h.HandleServiceError(w, err)
		return
	}

	h.WriteJSON(w, http.StatusOK, view)
}

func (h *Handler) ListGateways(w http.ResponseWriter, r *http.Request) {
	h.WriteJSON(w, http.StatusOK, map[string]interface{}{
		"gateways": h.Service.ListGateways(),
	})
}
