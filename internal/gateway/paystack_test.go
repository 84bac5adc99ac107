package gateway_test

import (
	"context"
	"crypto/hmac"
	"crypto/sha512"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/shopspring/decimal"

	"github.com/sokoworks/payment-hub/internal"
	"github.com/sokoworks/payment-hub/internal/gateway"
)

func paystackSignature(secret string, payload []byte) string {
	mac := hmac.New(sha512.New, []byte(secret))
	mac.Write(payload)
	return hex.EncodeToString(mac.Sum(nil))
}

var _ = Describe("Paystack", func() {
	var (
		server   *httptest.Server
		handler  http.HandlerFunc
		requests []*http.Request
		bodies   []map[string]interface{}
		adapter  gateway.Gateway
		ctx      context.Context
	)

	BeforeEach(func() {
		ctx = context.Background()
		requests = nil
		bodies = nil
		server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			raw, _ := io.ReadAll(r.Body)
			parsed := map[string]interface{}{}
			if len(raw) > 0 {
				_ = json.Unmarshal(raw, &parsed)
			}
			requests = append(requests, r)
			bodies = append(bodies, parsed)
			handler(w, r)
		}))
		adapter = gateway.NewPaystack(internal.PaystackConfig{
			SecretKey: "sk_test_ps",
			BaseURL:   server.URL,
		})
	})

	AfterEach(func() {
		server.Close()
	})

	Describe("InitializePayment", func() {
		Context("when the provider accepts the transaction", func() {
			BeforeEach(func() {
				handler = func(w http.ResponseWriter, r *http.Request) {
					fmt.Fprint(w, `{"status":true,"message":"Authorization URL created","data":{"authorization_url":"https://checkout.paystack.com/abc123","access_code":"abc123","reference":"ps_ref_1"}}`)
				}
			})

			It("should send the amount in kobo with the customer email", func() {
				// When
				result, err := adapter.InitializePayment(ctx, gateway.InitializeRequest{
					Amount:        decimal.RequireFromString("150.00"),
					Currency:      "NGN",
					CustomerEmail: "buyer@example.com",
					Metadata:      map[string]interface{}{"order_id": "order-1"},
				})

				// Then
				Expect(err).ToNot(HaveOccurred())
				Expect(requests[0].Method).To(Equal(http.MethodPost))
				Expect(requests[0].URL.Path).To(Equal("/transaction/initialize"))
				Expect(requests[0].Header.Get("Authorization")).To(Equal("Bearer sk_test_ps"))
				Expect(requests[0].Header.Get("Content-Type")).To(Equal("application/json"))

				Expect(bodies[0]["email"]).To(Equal("buyer@example.com"))
				Expect(bodies[0]["amount"]).To(BeNumerically("==", 15000))
				Expect(bodies[0]["currency"]).To(Equal("NGN"))
				Expect(bodies[0]["metadata"]).To(HaveKeyWithValue("order_id", "order-1"))

				Expect(result.Reference).To(Equal("ps_ref_1"))
				Expect(result.PaymentURL).To(Equal("https://checkout.paystack.com/abc123"))
				Expect(result.Status).To(Equal(gateway.StatusPending))
			})
		})

		Context("when the envelope reports a failure", func() {
			BeforeEach(func() {
				handler = func(w http.ResponseWriter, r *http.Request) {
					fmt.Fprint(w, `{"status":false,"message":"Invalid key"}`)
				}
			})

			It("should surface the provider message", func() {
				// When
				_, err := adapter.InitializePayment(ctx, gateway.InitializeRequest{
					Amount:   decimal.RequireFromString("150.00"),
					Currency: "NGN",
				})

				// Then
				Expect(gateway.IsProviderError(err)).To(BeTrue())
				Expect(err.Error()).To(ContainSubstring("Invalid key"))
			})
		})

		Context("when the currency is not supported", func() {
			It("should reject without calling the provider", func() {
				// When
				_, err := adapter.InitializePayment(ctx, gateway.InitializeRequest{
					Amount:   decimal.RequireFromString("150.00"),
					Currency: "KES",
				})

				// Then
				Expect(gateway.IsUnsupportedCurrency(err)).To(BeTrue())
				Expect(requests).To(BeEmpty())
			})
		})

		Context("when the provider is down", func() {
			BeforeEach(func() {
				handler = func(w http.ResponseWriter, r *http.Request) {
					w.WriteHeader(http.StatusServiceUnavailable)
				}
			})

			It("should return a connection error", func() {
				// When
				_, err := adapter.InitializePayment(ctx, gateway.InitializeRequest{
					Amount:   decimal.RequireFromString("150.00"),
					Currency: "NGN",
				})

				// Then
				Expect(gateway.IsConnectionError(err)).To(BeTrue())
			})
		})
	})

	Describe("VerifyPayment", func() {
		Context("when the charge succeeded", func() {
			BeforeEach(func() {
				handler = func(w http.ResponseWriter, r *http.Request) {
					fmt.Fprint(w, `{"status":true,"message":"Verification successful","data":{"status":"success","reference":"ps_ref_1","amount":15000,"currency":"NGN","paid_at":"2026-03-01T12:00:00Z"}}`)
				}
			})

			It("should report success with the paid timestamp", func() {
				// When
				result, err := adapter.VerifyPayment(ctx, "ps_ref_1")

				// Then
				Expect(err).ToNot(HaveOccurred())
				Expect(requests[0].Method).To(Equal(http.MethodGet))
				Expect(requests[0].URL.Path).To(Equal("/transaction/verify/ps_ref_1"))

				Expect(result.Status).To(Equal(gateway.StatusSuccess))
				Expect(result.Amount.Equal(decimal.RequireFromString("150.00"))).To(BeTrue())
				Expect(result.Currency).To(Equal("NGN"))
				Expect(result.PaidAt).ToNot(BeNil())
				Expect(result.PaidAt.Year()).To(Equal(2026))
			})
		})

		Context("when the charge was abandoned", func() {
			BeforeEach(func() {
				handler = func(w http.ResponseWriter, r *http.Request) {
					fmt.Fprint(w, `{"status":true,"message":"Verification successful","data":{"status":"abandoned","reference":"ps_ref_1","amount":15000,"currency":"NGN"}}`)
				}
			})

			It("should report failure", func() {
				// When
				result, err := adapter.VerifyPayment(ctx, "ps_ref_1")

				// Then
				Expect(err).ToNot(HaveOccurred())
				Expect(result.Status).To(Equal(gateway.StatusFailed))
				Expect(result.PaidAt).To(BeNil())
			})
		})

		Context("when the charge is still ongoing", func() {
			BeforeEach(func() {
				handler = func(w http.ResponseWriter, r *http.Request) {
					fmt.Fprint(w, `{"status":true,"message":"Verification successful","data":{"status":"ongoing","reference":"ps_ref_1","amount":15000,"currency":"NGN"}}`)
				}
			})

			It("should report pending", func() {
				// When
				result, err := adapter.VerifyPayment(ctx, "ps_ref_1")

				// Then
				Expect(err).ToNot(HaveOccurred())
				Expect(result.Status).To(Equal(gateway.StatusPending))
			})
		})
	})

	Describe("ProcessRefund", func() {
		Context("when the refund is processed", func() {
			BeforeEach(func() {
				handler = func(w http.ResponseWriter, r *http.Request) {
					fmt.Fprint(w, `{"status":true,"message":"Refund has been queued","data":{"id":302445,"status":"processed","amount":5000,"currency":"NGN"}}`)
				}
			})

			It("should send the transaction with the partial amount", func() {
				// Given
				amount := decimal.RequireFromString("50.00")

				// When
				result, err := adapter.ProcessRefund(ctx, gateway.RefundRequest{
					TransactionID: "ps_ref_1",
					Amount:        &amount,
					Reason:        "customer request",
				})

				// Then
				Expect(err).ToNot(HaveOccurred())
				Expect(requests[0].URL.Path).To(Equal("/refund"))
				Expect(bodies[0]["transaction"]).To(Equal("ps_ref_1"))
				Expect(bodies[0]["amount"]).To(BeNumerically("==", 5000))
				Expect(bodies[0]["merchant_note"]).To(Equal("customer request"))

				Expect(result.RefundID).To(Equal("302445"))
				Expect(result.Status).To(Equal(gateway.StatusSuccess))
				Expect(result.Amount.Equal(decimal.RequireFromString("50.00"))).To(BeTrue())
			})

			It("should omit the amount for a full refund", func() {
				// When
				_, err := adapter.ProcessRefund(ctx, gateway.RefundRequest{TransactionID: "ps_ref_1"})

				// Then
				Expect(err).ToNot(HaveOccurred())
				Expect(bodies[0]).ToNot(HaveKey("amount"))
			})
		})

		Context("when the refund is rejected", func() {
			BeforeEach(func() {
				handler = func(w http.ResponseWriter, r *http.Request) {
					fmt.Fprint(w, `{"status":true,"message":"ok","data":{"id":302446,"status":"failed","amount":5000,"currency":"NGN"}}`)
				}
			})

			It("should report failure", func() {
				// When
				result, err := adapter.ProcessRefund(ctx, gateway.RefundRequest{TransactionID: "ps_ref_1"})

				// Then
				Expect(err).ToNot(HaveOccurred())
				Expect(result.Status).To(Equal(gateway.StatusFailed))
			})
		})
	})

	Describe("VerifyWebhookSignature", func() {
		payload := []byte(`{"event":"charge.success","data":{"reference":"ps_ref_1"}}`)

		It("should accept a valid signature", func() {
			signature := paystackSignature("sk_test_ps", payload)

			Expect(adapter.VerifyWebhookSignature(payload, signature)).To(BeTrue())
		})

		It("should accept an uppercase hex signature", func() {
			signature := paystackSignature("sk_test_ps", payload)

			Expect(adapter.VerifyWebhookSignature(payload, strings.ToUpper(signature))).To(BeTrue())
		})

		It("should reject a signature from the wrong secret", func() {
			signature := paystackSignature("sk_other", payload)

			Expect(adapter.VerifyWebhookSignature(payload, signature)).To(BeFalse())
		})

		It("should reject a tampered payload", func() {
			signature := paystackSignature("sk_test_ps", payload)

			Expect(adapter.VerifyWebhookSignature([]byte(`{}`), signature)).To(BeFalse())
		})

		It("should reject an empty signature", func() {
			Expect(adapter.VerifyWebhookSignature(payload, "")).To(BeFalse())
		})

		It("should name the signature header", func() {
			Expect(adapter.WebhookSignatureHeader()).To(Equal("x-paystack-signature"))
		})
	})

	Describe("ParseWebhookEvent", func() {
		It("should parse a successful charge", func() {
			payload := []byte(`{"event":"charge.success","data":{"reference":"ps_ref_1","status":"success","amount":15000,"currency":"NGN"}}`)

			event, err := adapter.ParseWebhookEvent(payload)

			Expect(err).ToNot(HaveOccurred())
			Expect(event.Type).To(Equal(gateway.EventPaymentSuccess))
			Expect(event.TransactionID).To(Equal("ps_ref_1"))
			Expect(event.Amount.Equal(decimal.RequireFromString("150.00"))).To(BeTrue())
		})

		It("should parse a failed charge", func() {
			payload := []byte(`{"event":"charge.failed","data":{"reference":"ps_ref_1","status":"failed","amount":15000,"currency":"NGN"}}`)

			event, err := adapter.ParseWebhookEvent(payload)

			Expect(err).ToNot(HaveOccurred())
			Expect(event.Type).To(Equal(gateway.EventPaymentFailed))
			Expect(event.Status).To(Equal(gateway.StatusFailed))
		})

		It("should parse a processed refund", func() {
			payload := []byte(`{"event":"refund.processed","data":{"reference":"ps_ref_1","amount":5000,"currency":"NGN"}}`)

			event, err := adapter.ParseWebhookEvent(payload)

			Expect(err).ToNot(HaveOccurred())
			Expect(event.Type).To(Equal(gateway.EventRefundCompleted))
			Expect(event.Amount.Equal(decimal.RequireFromString("50.00"))).To(BeTrue())
		})

		It("should pass through unrecognized events", func() {
			payload := []byte(`{"event":"transfer.success","data":{"reference":"tr_1","status":"success"}}`)

			event, err := adapter.ParseWebhookEvent(payload)

			Expect(err).ToNot(HaveOccurred())
			Expect(event.Type).To(Equal("transfer.success"))
			Expect(event.Status).To(Equal(gateway.StatusSuccess))
		})

		It("should reject a payload that is not JSON", func() {
			_, err := adapter.ParseWebhookEvent([]byte("not json"))

			Expect(err).To(HaveOccurred())
		})
	})
})
