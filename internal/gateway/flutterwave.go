package gateway

import (
	"bytes"
	"context"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/sokoworks/payment-hub/internal"
)

const flutterwaveDefaultBaseURL = "https://api.flutterwave.com/v3"

// Flutterwave is a pan-African aggregator. Unlike Stripe and Paystack it
// works in major units: amounts go over the wire as decimal strings,
// never multiplied into minor units.
type Flutterwave struct {
	secretKey  string
	baseURL    string
	httpClient *http.Client
}

func NewFlutterwave(cfg internal.FlutterwaveConfig) *Flutterwave {
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = flutterwaveDefaultBaseURL
	}
	return &Flutterwave{
		secretKey: cfg.SecretKey,
		baseURL:   strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

func (f *Flutterwave) Name() string {
	return NameFlutterwave
}

func (f *Flutterwave) SupportedCurrencies() []string {
	return []string{"NGN", "GHS", "KES", "UGX", "ZAR", "USD", "EUR", "GBP"}
}

func (f *Flutterwave) SupportedPaymentMethods() []string {
	return []string{"card", "mobile_money", "bank_transfer", "ussd"}
}

func (f *Flutterwave) SupportsCurrency(currency string) bool {
	return containsFold(f.SupportedCurrencies(), currency)
}

type flutterwaveEnvelope struct {
	Status  string          `json:"status"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
}

type flutterwaveTransaction struct {
	ID        int64           `json:"id"`
	TxRef     string          `json:"tx_ref"`
	FlwRef    string          `json:"flw_ref"`
	Amount    decimal.Decimal `json:"amount"`
	Currency  string          `json:"currency"`
	Status    string          `json:"status"`
	CreatedAt string          `json:"created_at"`
}

func (f *Flutterwave) InitializePayment(ctx context.Context, req InitializeRequest) (*InitializeResult, error) {
	if f.secretKey == "" {
		return nil, NewConfigurationError(NameFlutterwave, "secret key is not configured")
	}
	if !f.SupportsCurrency(req.Currency) {
		return nil, NewUnsupportedCurrencyError(NameFlutterwave, req.Currency)
	}

	// The tx_ref is ours: Flutterwave echoes it back on webhooks and
	// verification, so it is the correlation key we persist.
	txRef := "flw_" + uuid.NewString()

	payload := map[string]interface{}{
		"tx_ref":          txRef,
		"amount":          req.Amount.String(),
		"currency":        strings.ToUpper(req.Currency),
		"payment_options": "card,mobilemoney,ussd",
		"customer": map[string]interface{}{
			"email": req.CustomerEmail,
		},
	}
	if len(req.Metadata) > 0 {
		payload["meta"] = req.Metadata
	}

	body, err := f.do(ctx, http.MethodPost, "/payments", payload)
	if err != nil {
		return nil, err
	}

	var data struct {
		Link string `json:"link"`
	}
	if err := json.Unmarshal(body, &data); err != nil {
		return nil, NewVerificationError(NameFlutterwave, "malformed payment response")
	}

	return &InitializeResult{
		TransactionID: txRef,
		Reference:     txRef,
		PaymentURL:    data.Link,
		Status:        StatusPending,
		RawResponse:   body,
	}, nil
}

func (f *Flutterwave) VerifyPayment(ctx context.Context, reference string) (*VerifyResult, error) {
	if f.secretKey == "" {
		return nil, NewConfigurationError(NameFlutterwave, "secret key is not configured")
	}

	tx, body, err := f.fetchTransaction(ctx, reference)
	if err != nil {
		return nil, err
	}

	result := &VerifyResult{
		Status:        mapFlutterwaveStatus(tx.Status),
		Amount:        tx.Amount,
		Currency:      strings.ToUpper(tx.Currency),
		TransactionID: tx.TxRef,
		RawResponse:   body,
	}
	if result.Status == StatusSuccess && tx.CreatedAt != "" {
		if paidAt, err := time.Parse(time.RFC3339, tx.CreatedAt); err == nil {
			utc := paidAt.UTC()
			result.PaidAt = &utc
		}
	}
	return result, nil
}

// ProcessRefund resolves the numeric transaction id first: the refund
// endpoint is keyed by Flutterwave's own id, while we only persist the
// tx_ref.
func (f *Flutterwave) ProcessRefund(ctx context.Context, req RefundRequest) (*RefundResult, error) {
	if f.secretKey == "" {
		return nil, NewConfigurationError(NameFlutterwave, "secret key is not configured")
	}

	tx, _, err := f.fetchTransaction(ctx, req.TransactionID)
	if err != nil {
		return nil, err
	}
	if tx.ID == 0 {
		return nil, NewVerificationError(NameFlutterwave, "transaction id not found for refund")
	}

	payload := map[string]interface{}{}
	if req.Amount != nil {
		payload["amount"] = req.Amount.String()
	}

	body, err := f.do(ctx, http.MethodPost, fmt.Sprintf("/transactions/%d/refund", tx.ID), payload)
	if err != nil {
		return nil, err
	}

	var data struct {
		ID             int64           `json:"id"`
		Status         string          `json:"status"`
		AmountRefunded decimal.Decimal `json:"amount_refunded"`
	}
	if err := json.Unmarshal(body, &data); err != nil {
		return nil, NewVerificationError(NameFlutterwave, "malformed refund response")
	}

	status := StatusPending
	switch data.Status {
	case "completed", "successful":
		status = StatusSuccess
	case "failed":
		status = StatusFailed
	}

	return &RefundResult{
		RefundID:    fmt.Sprintf("%d", data.ID),
		Status:      status,
		Amount:      data.AmountRefunded,
		RawResponse: body,
	}, nil
}

// VerifyWebhookSignature compares the verif-hash header against a digest
// of the secret key. The value is static: it does not depend on the
// payload or a timestamp, so possession of it is enough to forge any
// event. Rotate the secret key immediately if the hash leaks.
func (f *Flutterwave) VerifyWebhookSignature(payload []byte, signature string) bool {
	if f.secretKey == "" || signature == "" {
		return false
	}
	digest := sha256.Sum256([]byte(f.secretKey))
	expected := hex.EncodeToString(digest[:])
	return subtle.ConstantTimeCompare([]byte(strings.ToLower(signature)), []byte(expected)) == 1
}

func (f *Flutterwave) WebhookSignatureHeader() string {
	return "verif-hash"
}

func (f *Flutterwave) ParseWebhookEvent(payload []byte) (*WebhookEvent, error) {
	var event struct {
		Event string                 `json:"event"`
		Data  flutterwaveTransaction `json:"data"`
	}
	if err := json.Unmarshal(payload, &event); err != nil {
		return nil, NewVerificationError(NameFlutterwave, "malformed webhook payload")
	}

	parsed := &WebhookEvent{
		TransactionID: event.Data.TxRef,
		Reference:     event.Data.TxRef,
		Amount:        event.Data.Amount,
		Currency:      strings.ToUpper(event.Data.Currency),
		RawData:       payload,
	}

	switch {
	case event.Event == "charge.completed" && event.Data.Status == "successful":
		parsed.Type = EventPaymentSuccess
		parsed.Status = StatusSuccess
	case event.Event == "charge.completed" && event.Data.Status == "failed":
		parsed.Type = EventPaymentFailed
		parsed.Status = StatusFailed
	case event.Event == "refund.completed":
		parsed.Type = EventRefundCompleted
		parsed.Status = StatusSuccess
	default:
		parsed.Type = event.Event
		parsed.Status = statusOrPending(mapFlutterwaveStatus(event.Data.Status))
	}

	return parsed, nil
}

func (f *Flutterwave) fetchTransaction(ctx context.Context, txRef string) (*flutterwaveTransaction, []byte, error) {
	path := "/transactions/verify_by_reference?tx_ref=" + url.QueryEscape(txRef)
	body, err := f.do(ctx, http.MethodGet, path, nil)
	if err != nil {
		return nil, nil, err
	}

	var tx flutterwaveTransaction
	if err := json.Unmarshal(body, &tx); err != nil {
		return nil, nil, NewVerificationError(NameFlutterwave, "malformed verify response")
	}
	return &tx, body, nil
}

func (f *Flutterwave) do(ctx context.Context, method, path string, payload interface{}) ([]byte, error) {
	var reqBody io.Reader
	if payload != nil {
		encoded, err := json.Marshal(payload)
		if err != nil {
			return nil, NewConnectionError(NameFlutterwave, err)
		}
		reqBody = bytes.NewReader(encoded)
	}

	req, err := http.NewRequestWithContext(ctx, method, f.baseURL+path, reqBody)
	if err != nil {
		return nil, NewConnectionError(NameFlutterwave, err)
	}
	req.Header.Set("Authorization", "Bearer "+f.secretKey)
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := f.httpClient.Do(req)
	if err != nil {
		return nil, NewConnectionError(NameFlutterwave, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, NewConnectionError(NameFlutterwave, err)
	}

	if resp.StatusCode >= http.StatusInternalServerError {
		return nil, NewConnectionError(NameFlutterwave, fmt.Errorf("flutterwave returned status %d", resp.StatusCode))
	}

	var envelope flutterwaveEnvelope
	if err := json.Unmarshal(body, &envelope); err != nil {
		return nil, NewVerificationError(NameFlutterwave, "malformed response envelope")
	}
	if resp.StatusCode >= http.StatusBadRequest || envelope.Status != "success" {
		message := envelope.Message
		if message == "" {
			message = fmt.Sprintf("flutterwave returned status %d", resp.StatusCode)
		}
		return nil, NewProviderError(NameFlutterwave, message)
	}
	return envelope.Data, nil
}

func mapFlutterwaveStatus(status string) Status {
	switch status {
	case "successful":
		return StatusSuccess
	case "failed", "cancelled":
		return StatusFailed
	default:
		return StatusPending
	}
}
