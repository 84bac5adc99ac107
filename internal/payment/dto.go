package payment

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"

	errors "github.com/sokoworks/payment-hub/internal"
	"github.com/sokoworks/payment-hub/internal/core/common/validation"
	datamodel "github.com/sokoworks/payment-hub/internal/core/datamodel/payment"
	"github.com/sokoworks/payment-hub/internal/gateway"
)

const maxPaymentAmount = 1000000

type CreatePaymentRequest struct {
	OrderID        string                 `json:"order_id"`
	Amount         decimal.Decimal        `json:"amount"`
	Currency       string                 `json:"currency"`
	Gateway        string                 `json:"gateway,omitempty"`
	PaymentMethod  string                 `json:"payment_method,omitempty"`
	CountryCode    string                 `json:"country_code,omitempty"`
	BillingCountry string                 `json:"billing_country,omitempty"`
	CustomerEmail  string                 `json:"customer_email"`
	PhoneNumber    string                 `json:"phone_number,omitempty"`
	Metadata       map[string]interface{} `json:"metadata,omitempty"`

	UserID int64 `json:"-"`
}

func (r *CreatePaymentRequest) Normalize() {
	r.OrderID = strings.TrimSpace(r.OrderID)
	r.Currency = strings.ToUpper(strings.TrimSpace(r.Currency))
	r.Gateway = strings.ToLower(strings.TrimSpace(r.Gateway))
	r.PaymentMethod = strings.ToLower(strings.TrimSpace(r.PaymentMethod))
	r.CountryCode = strings.ToUpper(strings.TrimSpace(r.CountryCode))
	r.BillingCountry = strings.ToUpper(strings.TrimSpace(r.BillingCountry))
	r.CustomerEmail = strings.TrimSpace(r.CustomerEmail)
	r.PhoneNumber = strings.TrimSpace(r.PhoneNumber)
}

func (r *CreatePaymentRequest) Validate() *errors.AppError {
	builder := validation.NewValidationBuilder()

	builder.Field("order_id", r.OrderID).
		Required().
		MaxLength(64, errors.ErrCodeValidationFailed)

	builder.Field("amount", r.Amount).
		Required().
		DecimalPositive(errors.ErrCodeInvalidAmount).
		DecimalScale(2, errors.ErrCodeInvalidAmount).
		DecimalMax(maxPaymentAmount, errors.ErrCodeAmountTooHigh)

	builder.Field("currency", r.Currency).
		Required().
		Custom(func(value interface{}) bool {
			s, _ := value.(string)
			return s == "" || len(s) == 3
		}, "currency must be a 3-letter ISO code", errors.ErrCodeInvalidCurrency)

	builder.Field("customer_email", r.CustomerEmail).
		Required().
		Email()

	if r.Gateway != "" {
		builder.Field("gateway", r.Gateway).OneOf([]string{
			gateway.NameStripe,
			gateway.NamePaystack,
			gateway.NameFlutterwave,
			gateway.NameMTNMoMo,
		}, errors.ErrCodeUnknownGateway)
	}

	if r.Gateway == gateway.NameMTNMoMo {
		builder.Field("phone_number", r.PhoneNumber).Required()
	}

	if r.CountryCode != "" {
		builder.Field("country_code", r.CountryCode).Custom(func(value interface{}) bool {
			s, _ := value.(string)
			return len(s) == 2
		}, "country_code must be a 2-letter ISO code", errors.ErrCodeValidationFailed)
	}

	if r.BillingCountry != "" {
		builder.Field("billing_country", r.BillingCountry).Custom(func(value interface{}) bool {
			s, _ := value.(string)
			return len(s) == 2
		}, "billing_country must be a 2-letter ISO code", errors.ErrCodeValidationFailed)
	}

	return builder.Validate()
}

type RefundRequest struct {
	// Amount is omitted for a full refund of the remaining balance.
	Amount *decimal.Decimal `json:"amount,omitempty"`
	Reason string           `json:"reason,omitempty"`
}

func (r *RefundRequest) Validate() *errors.AppError {
	builder := validation.NewValidationBuilder()

	if r.Amount != nil {
		builder.Field("amount", *r.Amount).
			DecimalPositive(errors.ErrCodeInvalidAmount).
			DecimalScale(2, errors.ErrCodeInvalidAmount)
	}
	builder.Field("reason", r.Reason).MaxLength(255, errors.ErrCodeValidationFailed)

	return builder.Validate()
}

type PaymentView struct {
	Reference     string          `json:"reference"`
	OrderID       string          `json:"order_id"`
	Gateway       string          `json:"gateway"`
	Amount        decimal.Decimal `json:"amount"`
	Currency      string          `json:"currency"`
	Status        string          `json:"status"`
	PaymentMethod string          `json:"payment_method,omitempty"`
	PaymentURL    string          `json:"payment_url,omitempty"`
	ClientSecret  string          `json:"client_secret,omitempty"`
	FailureReason string          `json:"failure_reason,omitempty"`
	PaidAt        *time.Time      `json:"paid_at,omitempty"`
	ExpiresAt     *time.Time      `json:"expires_at,omitempty"`
	CreatedAt     time.Time       `json:"created_at"`
	UpdatedAt     time.Time       `json:"updated_at"`
}

func ToPaymentView(p *datamodel.Payment) *PaymentView {
	return &PaymentView{
		Reference:     p.Reference,
		OrderID:       p.OrderID,
		Gateway:       p.Gateway,
		Amount:        p.Amount,
		Currency:      p.Currency,
		Status:        p.Status.String(),
		PaymentMethod: p.PaymentMethod,
		PaymentURL:    p.PaymentURL,
		ClientSecret:  p.ClientSecret,
		FailureReason: p.FailureReason,
		PaidAt:        p.PaidAt,
		ExpiresAt:     p.ExpiresAt,
		CreatedAt:     p.CreatedAt,
		UpdatedAt:     p.UpdatedAt,
	}
}

type RefundView struct {
	Reference        string          `json:"reference"`
	PaymentReference string          `json:"payment_reference"`
	Amount           decimal.Decimal `json:"amount"`
	Currency         string          `json:"currency"`
	Status           string          `json:"status"`
	Reason           string          `json:"reason,omitempty"`
	CreatedAt        time.Time       `json:"created_at"`
}

func ToRefundView(r *datamodel.Refund, paymentReference string) *RefundView {
	return &RefundView{
		Reference:        r.Reference,
		PaymentReference: paymentReference,
		Amount:           r.Amount,
		Currency:         r.Currency,
		Status:           string(r.Status),
		Reason:           r.Reason,
		CreatedAt:        r.CreatedAt,
	}
}

type GatewayView struct {
	Name           string   `json:"name"`
	Currencies     []string `json:"currencies"`
	PaymentMethods []string `json:"payment_methods"`
}

func ToGatewayView(gw gateway.Gateway) *GatewayView {
	return &GatewayView{
		Name:           gw.Name(),
		Currencies:     gw.SupportedCurrencies(),
		PaymentMethods: gw.SupportedPaymentMethods(),
	}
}
