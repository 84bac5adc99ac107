package events

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

const (
	EventTypePaymentCompleted = "payment.completed"
	EventTypePaymentFailed    = "payment.failed"
	EventTypeRefundCompleted  = "refund.completed"
)

type PaymentCompletedEvent struct {
	BaseEvent
	Reference string          `json:"reference"`
	OrderID   string          `json:"order_id"`
	UserID    int64           `json:"user_id"`
	Gateway   string          `json:"gateway"`
	Amount    decimal.Decimal `json:"amount"`
	Currency  string          `json:"currency"`
	PaidAt    time.Time       `json:"paid_at"`
}

func NewPaymentCompletedEvent(reference, orderID string, userID int64, gateway string, amount decimal.Decimal, currency string, paidAt time.Time) *PaymentCompletedEvent {
	return &PaymentCompletedEvent{
		BaseEvent: BaseEvent{
			ID:        uuid.New().String(),
			Type:      EventTypePaymentCompleted,
			Timestamp: time.Now(),
			Data: map[string]interface{}{
				"reference": reference,
				"order_id":  orderID,
				"user_id":   userID,
				"gateway":   gateway,
				"amount":    amount.String(),
				"currency":  currency,
				"paid_at":   paidAt,
			},
		},
		Reference: reference,
		OrderID:   orderID,
		UserID:    userID,
		Gateway:   gateway,
		Amount:    amount,
		Currency:  currency,
		PaidAt:    paidAt,
	}
}

type PaymentFailedEvent struct {
	BaseEvent
	Reference string          `json:"reference"`
	OrderID   string          `json:"order_id"`
	UserID    int64           `json:"user_id"`
	Gateway   string          `json:"gateway"`
	Amount    decimal.Decimal `json:"amount"`
	Currency  string          `json:"currency"`
	Reason    string          `json:"reason"`
}

func NewPaymentFailedEvent(reference, orderID string, userID int64, gateway string, amount decimal.Decimal, currency, reason string) *PaymentFailedEvent {
	return &PaymentFailedEvent{
		BaseEvent: BaseEvent{
			ID:        uuid.New().String(),
			Type:      EventTypePaymentFailed,
			Timestamp: time.Now(),
			Data: map[string]interface{}{
				"reference": reference,
				"order_id":  orderID,
				"user_id":   userID,
				"gateway":   gateway,
				"amount":    amount.String(),
				"currency":  currency,
				"reason":    reason,
			},
		},
		Reference: reference,
		OrderID:   orderID,
		UserID:    userID,
		Gateway:   gateway,
		Amount:    amount,
		Currency:  currency,
		Reason:    reason,
	}
}

type RefundCompletedEvent struct {
	BaseEvent
	RefundReference  string          `json:"refund_reference"`
	PaymentReference string          `json:"payment_reference"`
	Gateway          string          `json:"gateway"`
	Amount           decimal.Decimal `json:"amount"`
	Currency         string          `json:"currency"`
}

func NewRefundCompletedEvent(refundReference, paymentReference, gateway string, amount decimal.Decimal, currency string) *RefundCompletedEvent {
	return &RefundCompletedEvent{
		BaseEvent: BaseEvent{
			ID:        uuid.New().String(),
			Type:      EventTypeRefundCompleted,
			Timestamp: time.Now(),
			Data: map[string]interface{}{
				"refund_reference":  refundReference,
				"payment_reference": paymentReference,
				"gateway":           gateway,
				"amount":            amount.String(),
				"currency":          currency,
			},
		},
		RefundReference:  refundReference,
		PaymentReference: paymentReference,
		Gateway:          gateway,
		Amount:           amount,
		Currency:         currency,
	}
}
