package payment

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

type Payment struct {
	ID               int64           `gorm:"primaryKey" json:"id"`
	Reference        string          `gorm:"uniqueIndex;size:64;not null" json:"reference"`
	OrderID          string          `gorm:"index;size:64;not null" json:"order_id"`
	UserID           int64           `gorm:"index;not null" json:"user_id"`
	Gateway          string          `gorm:"size:32;not null" json:"gateway"`
	GatewayReference string          `gorm:"index;size:128" json:"gateway_reference"`
	Amount           decimal.Decimal `gorm:"type:numeric(20,2);not null" json:"amount"`
	Currency         string          `gorm:"size:3;not null" json:"currency"`
	Status           Status          `gorm:"size:16;not null" json:"status"`
	PaymentMethod    string          `gorm:"size:32" json:"payment_method"`
	PaymentURL       string          `json:"payment_url,omitempty"`
	ClientSecret     string          `json:"-"`
	GatewayResponse  json.RawMessage `gorm:"type:jsonb" json:"-"`
	FailureReason    string          `json:"failure_reason,omitempty"`
	RetryCount       int             `gorm:"not null;default:0" json:"retry_count"`
	PaidAt           *time.Time      `json:"paid_at,omitempty"`
	ExpiresAt        *time.Time      `json:"expires_at,omitempty"`
	CreatedAt        time.Time       `json:"created_at"`
	UpdatedAt        time.Time       `json:"updated_at"`
}

func (Payment) TableName() string {
	return "payments"
}

type Refund struct {
	ID              int64           `gorm:"primaryKey" json:"id"`
	Reference       string          `gorm:"uniqueIndex;size:64;not null" json:"reference"`
	PaymentID       int64           `gorm:"index;not null" json:"payment_id"`
	GatewayRefundID string          `gorm:"size:128" json:"gateway_refund_id"`
	Amount          decimal.Decimal `gorm:"type:numeric(20,2);not null" json:"amount"`
	Currency        string          `gorm:"size:3;not null" json:"currency"`
	Status          RefundStatus    `gorm:"size:16;not null" json:"status"`
	Reason          string          `json:"reason,omitempty"`
	GatewayResponse json.RawMessage `gorm:"type:jsonb" json:"-"`
	CreatedAt       time.Time       `json:"created_at"`
	UpdatedAt       time.Time       `json:"updated_at"`
}

func (Refund) TableName() string {
	return "refunds"
}

// NewReference produces an external payment identifier. Internal numeric
// ids never leave the service.
func NewReference() string {
	return "pay_" + uuid.NewString()
}

func NewRefundReference() string {
	return "ref_" + uuid.NewString()
}
