// Package gateway abstracts the payment providers behind a single
// interface. Each adapter speaks one provider's HTTP API and normalizes
// amounts, statuses and webhook events into the shapes defined here.
package gateway

import (
	"context"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

const (
	NameStripe      = "stripe"
	NamePaystack    = "paystack"
	NameFlutterwave = "flutterwave"
	NameMTNMoMo     = "mtn_momo"
)

// Status is the canonical provider-side payment state. Every adapter maps
// its provider's vocabulary onto these three values; anything unknown
// maps to pending so a later verification can settle it.
type Status string

const (
	StatusSuccess Status = "success"
	StatusPending Status = "pending"
	StatusFailed  Status = "failed"
)

const (
	EventPaymentSuccess  = "payment.success"
	EventPaymentFailed   = "payment.failed"
	EventRefundCompleted = "refund.completed"
)

type InitializeRequest struct {
	Amount        decimal.Decimal
	Currency      string
	CustomerEmail string
	Metadata      map[string]interface{}
}

type InitializeResult struct {
	TransactionID string
	Reference     string
	PaymentURL    string
	ClientSecret  string
	Status        Status
	RawResponse   []byte
}

type VerifyResult struct {
	Status        Status
	Amount        decimal.Decimal
	Currency      string
	TransactionID string
	PaidAt        *time.Time
	RawResponse   []byte
}

type RefundRequest struct {
	TransactionID string
	// Amount is nil for a full refund.
	Amount   *decimal.Decimal
	Currency string
	Reason   string
}

type RefundResult struct {
	RefundID    string
	Status      Status
	Amount      decimal.Decimal
	RawResponse []byte
}

// WebhookEvent is a parsed provider notification. Type holds one of the
// Event constants for recognized events and the provider's own type
// string for everything else.
type WebhookEvent struct {
	Type          string
	TransactionID string
	Reference     string
	Status        Status
	Amount        decimal.Decimal
	Currency      string
	RawData       []byte
}

// Gateway is one payment provider. Implementations must be safe for
// concurrent use.
type Gateway interface {
	Name() string
	SupportedCurrencies() []string
	SupportedPaymentMethods() []string
	SupportsCurrency(currency string) bool

	// InitializePayment starts a payment with the provider and returns
	// whatever the client needs to complete it: a redirect URL, a client
	// secret, or just the provider reference for an async flow.
	InitializePayment(ctx context.Context, req InitializeRequest) (*InitializeResult, error)

	// VerifyPayment fetches the authoritative payment state from the
	// provider by its transaction reference.
	VerifyPayment(ctx context.Context, reference string) (*VerifyResult, error)

	ProcessRefund(ctx context.Context, req RefundRequest) (*RefundResult, error)

	// VerifyWebhookSignature reports whether the raw webhook payload
	// carries a valid signature. Callers must check this before parsing.
	VerifyWebhookSignature(payload []byte, signature string) bool

	ParseWebhookEvent(payload []byte) (*WebhookEvent, error)

	// WebhookSignatureHeader names the HTTP header the provider uses for
	// its signature, empty when the provider signs nothing.
	WebhookSignatureHeader() string
}

// ToMinorUnits converts a major-unit amount to the smallest currency unit
// (e.g. 10.50 USD to 1050 cents).
func ToMinorUnits(amount decimal.Decimal) int64 {
	return amount.Shift(2).Round(0).IntPart()
}

// FromMinorUnits converts a minor-unit integer back to a major-unit
// decimal (e.g. 1050 cents to 10.50).
func FromMinorUnits(amount int64) decimal.Decimal {
	return decimal.NewFromInt(amount).Shift(-2)
}

func statusOrPending(s Status) Status {
	if s == "" {
		return StatusPending
	}
	return s
}

func containsFold(values []string, target string) bool {
	for _, v := range values {
		if strings.EqualFold(v, target) {
			return true
		}
	}
	return false
}
