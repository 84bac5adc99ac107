package gateway

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha512"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/sokoworks/payment-hub/internal"
)

const paystackDefaultBaseURL = "https://api.paystack.co"

// Paystack is a payment aggregator for West African markets. Like
// Stripe it works in minor units: NGN amounts are sent as kobo, so
// 10.50 goes over the wire as 1050.
type Paystack struct {
	secretKey  string
	baseURL    string
	httpClient *http.Client
}

func NewPaystack(cfg internal.PaystackConfig) *Paystack {
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = paystackDefaultBaseURL
	}
	return &Paystack{
		secretKey: cfg.SecretKey,
		baseURL:   strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

func (p *Paystack) Name() string {
	return NamePaystack
}

func (p *Paystack) SupportedCurrencies() []string {
	return []string{"NGN", "GHS", "ZAR", "USD"}
}

func (p *Paystack) SupportedPaymentMethods() []string {
	return []string{"card", "bank", "bank_transfer", "ussd", "mobile_money", "qr"}
}

func (p *Paystack) SupportsCurrency(currency string) bool {
	return containsFold(p.SupportedCurrencies(), currency)
}

// paystackEnvelope is the uniform response wrapper: status reports
// whether the call itself succeeded, data carries the payload.
type paystackEnvelope struct {
	Status  bool            `json:"status"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
}

func (p *Paystack) InitializePayment(ctx context.Context, req InitializeRequest) (*InitializeResult, error) {
	if p.secretKey == "" {
		return nil, NewConfigurationError(NamePaystack, "secret key is not configured")
	}
	if !p.SupportsCurrency(req.Currency) {
		return nil, NewUnsupportedCurrencyError(NamePaystack, req.Currency)
	}

	payload := map[string]interface{}{
		"email":    req.CustomerEmail,
		"amount":   ToMinorUnits(req.Amount),
		"currency": strings.ToUpper(req.Currency),
	}
	if len(req.Metadata) > 0 {
		payload["metadata"] = req.Metadata
	}

	body, err := p.do(ctx, http.MethodPost, "/transaction/initialize", payload)
	if err != nil {
		return nil, err
	}

	var data struct {
		AuthorizationURL string `json:"authorization_url"`
		AccessCode       string `json:"access_code"`
		Reference        string `json:"reference"`
	}
	if err := json.Unmarshal(body, &data); err != nil {
		return nil, NewVerificationError(NamePaystack, "malformed initialize response")
	}

	return &InitializeResult{
		TransactionID: data.Reference,
		Reference:     data.Reference,
		PaymentURL:    data.AuthorizationURL,
		Status:        StatusPending,
		RawResponse:   body,
	}, nil
}

func (p *Paystack) VerifyPayment(ctx context.Context, reference string) (*VerifyResult, error) {
	if p.secretKey == "" {
		return nil, NewConfigurationError(NamePaystack, "secret key is not configured")
	}

	body, err := p.do(ctx, http.MethodGet, "/transaction/verify/"+url.PathEscape(reference), nil)
	if err != nil {
		return nil, err
	}

	var data struct {
		Status    string `json:"status"`
		Reference string `json:"reference"`
		Amount    int64  `json:"amount"`
		Currency  string `json:"currency"`
		PaidAt    string `json:"paid_at"`
	}
	if err := json.Unmarshal(body, &data); err != nil {
		return nil, NewVerificationError(NamePaystack, "malformed verify response")
	}

	result := &VerifyResult{
		Status:        mapPaystackStatus(data.Status),
		Amount:        FromMinorUnits(data.Amount),
		Currency:      strings.ToUpper(data.Currency),
		TransactionID: data.Reference,
		RawResponse:   body,
	}
	if data.PaidAt != "" {
		if paidAt, err := time.Parse(time.RFC3339, data.PaidAt); err == nil {
			utc := paidAt.UTC()
			result.PaidAt = &utc
		}
	}
	return result, nil
}

func (p *Paystack) ProcessRefund(ctx context.Context, req RefundRequest) (*RefundResult, error) {
	if p.secretKey == "" {
		return nil, NewConfigurationError(NamePaystack, "secret key is not configured")
	}

	payload := map[string]interface{}{
		"transaction": req.TransactionID,
	}
	if req.Amount != nil {
		payload["amount"] = ToMinorUnits(*req.Amount)
	}
	if req.Reason != "" {
		payload["merchant_note"] = req.Reason
	}

	body, err := p.do(ctx, http.MethodPost, "/refund", payload)
	if err != nil {
		return nil, err
	}

	var data struct {
		ID       int64  `json:"id"`
		Status   string `json:"status"`
		Amount   int64  `json:"amount"`
		Currency string `json:"currency"`
	}
	if err := json.Unmarshal(body, &data); err != nil {
		return nil, NewVerificationError(NamePaystack, "malformed refund response")
	}

	status := StatusPending
	switch data.Status {
	case "processed", "success":
		status = StatusSuccess
	case "failed":
		status = StatusFailed
	}

	return &RefundResult{
		RefundID:    fmt.Sprintf("%d", data.ID),
		Status:      status,
		Amount:      FromMinorUnits(data.Amount),
		RawResponse: body,
	}, nil
}

// VerifyWebhookSignature checks the x-paystack-signature header: an
// HMAC-SHA512 hex digest of the raw body keyed with the secret key.
func (p *Paystack) VerifyWebhookSignature(payload []byte, signature string) bool {
	if p.secretKey == "" || signature == "" {
		return false
	}
	mac := hmac.New(sha512.New, []byte(p.secretKey))
	mac.Write(payload)
	expected := hex.EncodeToString(mac.Sum(nil))
	return hmac.Equal([]byte(strings.ToLower(signature)), []byte(expected))
}

func (p *Paystack) WebhookSignatureHeader() string {
	return "x-paystack-signature"
}

func (p *Paystack) ParseWebhookEvent(payload []byte) (*WebhookEvent, error) {
	var event struct {
		Event string `json:"event"`
		Data  struct {
			Reference string `json:"reference"`
			Status    string `json:"status"`
			Amount    int64  `json:"amount"`
			Currency  string `json:"currency"`
		} `json:"data"`
	}
	if err := json.Unmarshal(payload, &event); err != nil {
		return nil, NewVerificationError(NamePaystack, "malformed webhook payload")
	}

	parsed := &WebhookEvent{
		TransactionID: event.Data.Reference,
		Reference:     event.Data.Reference,
		Amount:        FromMinorUnits(event.Data.Amount),
		Currency:      strings.ToUpper(event.Data.Currency),
		RawData:       payload,
	}

	switch event.Event {
	case "charge.success":
		parsed.Type = EventPaymentSuccess
		parsed.Status = StatusSuccess
	case "charge.failed":
		parsed.Type = EventPaymentFailed
		parsed.Status = StatusFailed
	case "refund.processed":
		parsed.Type = EventRefundCompleted
		parsed.Status = StatusSuccess
	default:
		parsed.Type = event.Event
		parsed.Status = statusOrPending(mapPaystackStatus(event.Data.Status))
	}

	return parsed, nil
}

func (p *Paystack) do(ctx context.Context, method, path string, payload interface{}) ([]byte, error) {
	var reqBody io.Reader
	if payload != nil {
		encoded, err := json.Marshal(payload)
		if err != nil {
			return nil, NewConnectionError(NamePaystack, err)
		}
		reqBody = bytes.NewReader(encoded)
	}

	req, err := http.NewRequestWithContext(ctx, method, p.baseURL+path, reqBody)
	if err != nil {
		return nil, NewConnectionError(NamePaystack, err)
	}
	req.Header.Set("Authorization", "Bearer "+p.secretKey)
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return nil, NewConnectionError(NamePaystack, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, NewConnectionError(NamePaystack, err)
	}

	if resp.StatusCode >= http.StatusInternalServerError {
		return nil, NewConnectionError(NamePaystack, fmt.Errorf("paystack returned status %d", resp.StatusCode))
	}

	var envelope paystackEnvelope
	if err := json.Unmarshal(body, &envelope); err != nil {
		return nil, NewVerificationError(NamePaystack, "malformed response envelope")
	}
	if resp.StatusCode >= http.StatusBadRequest || !envelope.Status {
		message := envelope.Message
		if message == "" {
			message = fmt.Sprintf("paystack returned status %d", resp.StatusCode)
		}
		return nil, NewProviderError(NamePaystack, message)
	}
	return envelope.Data, nil
}

func mapPaystackStatus(status string) Status {
	switch status {
	case "success":
		return StatusSuccess
	case "failed", "abandoned", "reversed":
		return StatusFailed
	case "ongoing", "pending", "processing", "queued":
		return StatusPending
	default:
		return StatusPending
	}
}
