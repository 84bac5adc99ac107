package gateway

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/sokoworks/payment-hub/internal"
)

const (
	stripeDefaultBaseURL = "https://api.stripe.com"

	// Signed webhooks older than this are rejected to limit replay.
	stripeSignatureTolerance = 5 * time.Minute
)

// Stripe drives card payments through the Payment Intents API. Amounts
// cross this API in minor units: ToMinorUnits on the way out,
// FromMinorUnits on every amount read back.
type Stripe struct {
	secretKey     string
	webhookSecret string
	baseURL       string
	httpClient    *http.Client
}

func NewStripe(cfg internal.StripeConfig) *Stripe {
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = stripeDefaultBaseURL
	}
	return &Stripe{
		secretKey:     cfg.SecretKey,
		webhookSecret: cfg.WebhookSecret,
		baseURL:       strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

func (s *Stripe) Name() string {
	return NameStripe
}

func (s *Stripe) SupportedCurrencies() []string {
	return []string{"USD", "EUR", "GBP", "CAD", "AUD", "NGN", "ZAR", "KES", "GHS"}
}

func (s *Stripe) SupportedPaymentMethods() []string {
	return []string{"card", "apple_pay", "google_pay", "bank_transfer"}
}

func (s *Stripe) SupportsCurrency(currency string) bool {
	return containsFold(s.SupportedCurrencies(), currency)
}

type stripePaymentIntent struct {
	ID           string `json:"id"`
	Status       string `json:"status"`
	ClientSecret string `json:"client_secret"`
	Amount       int64  `json:"amount"`
	Currency     string `json:"currency"`
	Created      int64  `json:"created"`
}

type stripeErrorResponse struct {
	Error struct {
		Type    string `json:"type"`
		Message string `json:"message"`
	} `json:"error"`
}

func (s *Stripe) InitializePayment(ctx context.Context, req InitializeRequest) (*InitializeResult, error) {
	if s.secretKey == "" {
		return nil, NewConfigurationError(NameStripe, "secret key is not configured")
	}
	if !s.SupportsCurrency(req.Currency) {
		return nil, NewUnsupportedCurrencyError(NameStripe, req.Currency)
	}

	form := url.Values{}
	form.Set("amount", strconv.FormatInt(ToMinorUnits(req.Amount), 10))
	form.Set("currency", strings.ToLower(req.Currency))
	form.Set("automatic_payment_methods[enabled]", "true")
	if req.CustomerEmail != "" {
		form.Set("receipt_email", req.CustomerEmail)
	}
	for key, value := range req.Metadata {
		form.Set(fmt.Sprintf("metadata[%s]", key), fmt.Sprint(value))
	}

	body, err := s.do(ctx, http.MethodPost, "/v1/payment_intents", form)
	if err != nil {
		return nil, err
	}

	var intent stripePaymentIntent
	if err := json.Unmarshal(body, &intent); err != nil {
		return nil, NewVerificationError(NameStripe, "malformed payment intent response")
	}

	return &InitializeResult{
		TransactionID: intent.ID,
		Reference:     intent.ID,
		ClientSecret:  intent.ClientSecret,
		Status:        mapStripeStatus(intent.Status),
		RawResponse:   body,
	}, nil
}

func (s *Stripe) VerifyPayment(ctx context.Context, reference string) (*VerifyResult, error) {
	if s.secretKey == "" {
		return nil, NewConfigurationError(NameStripe, "secret key is not configured")
	}

	body, err := s.do(ctx, http.MethodGet, "/v1/payment_intents/"+url.PathEscape(reference), nil)
	if err != nil {
		return nil, err
	}

	var intent stripePaymentIntent
	if err := json.Unmarshal(body, &intent); err != nil {
		return nil, NewVerificationError(NameStripe, "malformed payment intent response")
	}

	result := &VerifyResult{
		Status:        mapStripeStatus(intent.Status),
		Amount:        FromMinorUnits(intent.Amount),
		Currency:      strings.ToUpper(intent.Currency),
		TransactionID: intent.ID,
		RawResponse:   body,
	}
	if result.Status == StatusSuccess && intent.Created > 0 {
		paidAt := time.Unix(intent.Created, 0).UTC()
		result.PaidAt = &paidAt
	}
	return result, nil
}

func (s *Stripe) ProcessRefund(ctx context.Context, req RefundRequest) (*RefundResult, error) {
	if s.secretKey == "" {
		return nil, NewConfigurationError(NameStripe, "secret key is not configured")
	}

	form := url.Values{}
	form.Set("payment_intent", req.TransactionID)
	if req.Amount != nil {
		form.Set("amount", strconv.FormatInt(ToMinorUnits(*req.Amount), 10))
	}
	if req.Reason != "" {
		form.Set("metadata[reason]", req.Reason)
	}

	body, err := s.do(ctx, http.MethodPost, "/v1/refunds", form)
	if err != nil {
		return nil, err
	}

	var refund struct {
		ID       string `json:"id"`
		Status   string `json:"status"`
		Amount   int64  `json:"amount"`
		Currency string `json:"currency"`
	}
	if err := json.Unmarshal(body, &refund); err != nil {
		return nil, NewVerificationError(NameStripe, "malformed refund response")
	}

	status := StatusPending
	switch refund.Status {
	case "succeeded":
		status = StatusSuccess
	case "failed", "canceled":
		status = StatusFailed
	}

	return &RefundResult{
		RefundID:    refund.ID,
		Status:      status,
		Amount:      FromMinorUnits(refund.Amount),
		RawResponse: body,
	}, nil
}

// VerifyWebhookSignature checks the Stripe-Signature scheme: the header
// carries a unix timestamp and one or more HMAC-SHA256 digests of
// "<timestamp>.<payload>" keyed with the endpoint's webhook secret.
func (s *Stripe) VerifyWebhookSignature(payload []byte, signature string) bool {
	if s.webhookSecret == "" || signature == "" {
		return false
	}

	var timestamp string
	var candidates []string
	for _, part := range strings.Split(signature, ",") {
		key, value, found := strings.Cut(strings.TrimSpace(part), "=")
		if !found {
			continue
		}
		switch key {
		case "t":
			timestamp = value
		case "v1":
			candidates = append(candidates, value)
		}
	}
	if timestamp == "" || len(candidates) == 0 {
		return false
	}

	ts, err := strconv.ParseInt(timestamp, 10, 64)
	if err != nil {
		return false
	}
	age := time.Since(time.Unix(ts, 0))
	if age > stripeSignatureTolerance || age < -stripeSignatureTolerance {
		return false
	}

	mac := hmac.New(sha256.New, []byte(s.webhookSecret))
	mac.Write([]byte(timestamp))
	mac.Write([]byte("."))
	mac.Write(payload)
	expected := hex.EncodeToString(mac.Sum(nil))

	for _, candidate := range candidates {
		if hmac.Equal([]byte(candidate), []byte(expected)) {
			return true
		}
	}
	return false
}

func (s *Stripe) WebhookSignatureHeader() string {
	return "Stripe-Signature"
}

func (s *Stripe) ParseWebhookEvent(payload []byte) (*WebhookEvent, error) {
	var event struct {
		ID   string `json:"id"`
		Type string `json:"type"`
		Data struct {
			Object json.RawMessage `json:"object"`
		} `json:"data"`
	}
	if err := json.Unmarshal(payload, &event); err != nil {
		return nil, NewVerificationError(NameStripe, "malformed webhook payload")
	}

	var object struct {
		ID             string `json:"id"`
		PaymentIntent  string `json:"payment_intent"`
		Status         string `json:"status"`
		Amount         int64  `json:"amount"`
		AmountRefunded int64  `json:"amount_refunded"`
		Currency       string `json:"currency"`
	}
	if len(event.Data.Object) > 0 {
		if err := json.Unmarshal(event.Data.Object, &object); err != nil {
			return nil, NewVerificationError(NameStripe, "malformed webhook payload")
		}
	}

	// Charge objects point back at their payment intent; that intent id
	// is what we stored as the gateway reference.
	transactionID := object.PaymentIntent
	if transactionID == "" {
		transactionID = object.ID
	}

	parsed := &WebhookEvent{
		TransactionID: transactionID,
		Reference:     transactionID,
		Currency:      strings.ToUpper(object.Currency),
		Amount:        FromMinorUnits(object.Amount),
		RawData:       payload,
	}

	switch event.Type {
	case "payment_intent.succeeded":
		parsed.Type = EventPaymentSuccess
		parsed.Status = StatusSuccess
	case "payment_intent.payment_failed":
		parsed.Type = EventPaymentFailed
		parsed.Status = StatusFailed
	case "charge.refunded":
		parsed.Type = EventRefundCompleted
		parsed.Status = StatusSuccess
		if object.AmountRefunded > 0 {
			parsed.Amount = FromMinorUnits(object.AmountRefunded)
		}
	default:
		parsed.Type = event.Type
		parsed.Status = statusOrPending(mapStripeStatus(object.Status))
	}

	return parsed, nil
}

func (s *Stripe) do(ctx context.Context, method, path string, form url.Values) ([]byte, error) {
	var reqBody io.Reader
	if form != nil {
		reqBody = strings.NewReader(form.Encode())
	}

	req, err := http.NewRequestWithContext(ctx, method, s.baseURL+path, reqBody)
	if err != nil {
		return nil, NewConnectionError(NameStripe, err)
	}
	req.Header.Set("Authorization", "Bearer "+s.secretKey)
	if form != nil {
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	}

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return nil, NewConnectionError(NameStripe, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, NewConnectionError(NameStripe, err)
	}

	if resp.StatusCode >= http.StatusInternalServerError {
		return nil, NewConnectionError(NameStripe, fmt.Errorf("stripe returned status %d", resp.StatusCode))
	}
	if resp.StatusCode >= http.StatusBadRequest {
		var errResp stripeErrorResponse
		if err := json.Unmarshal(body, &errResp); err == nil && errResp.Error.Message != "" {
			return nil, NewProviderError(NameStripe, errResp.Error.Message)
		}
		return nil, NewProviderError(NameStripe, fmt.Sprintf("stripe returned status %d", resp.StatusCode))
	}
	return body, nil
}

func mapStripeStatus(status string) Status {
	switch status {
	case "succeeded":
		return StatusSuccess
	case "canceled":
		return StatusFailed
	case "processing", "requires_payment_method", "requires_confirmation",
		"requires_action", "requires_capture":
		return StatusPending
	default:
		return StatusPending
	}
}
