package gateway_test

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/shopspring/decimal"

	"github.com/sokoworks/payment-hub/internal"
	"github.com/sokoworks/payment-hub/internal/gateway"
)

var _ = Describe("MTNMoMo", func() {
	var (
		server        *httptest.Server
		tokenStatus   int
		tokenBody     string
		collectStatus int
		collectBody   string
		tokenCalls    int
		collects      []*http.Request
		collectBodies []map[string]interface{}
		adapter       gateway.Gateway
		ctx           context.Context
	)

	newAdapter := func(sandbox bool) gateway.Gateway {
		return gateway.NewMTNMoMo(internal.MTNMoMoConfig{
			SubscriptionKey: "sub-key",
			APIUser:         "api-user",
			APIKey:          "api-key",
			Sandbox:         sandbox,
			CallbackURL:     "https://hub.example.com/webhooks/mtn_momo",
			BaseURL:         server.URL,
		})
	}

	BeforeEach(func() {
		ctx = context.Background()
		tokenStatus = http.StatusOK
		tokenBody = `{"access_token":"momo-token-1","expires_in":3600}`
		collectStatus = http.StatusAccepted
		collectBody = ""
		tokenCalls = 0
		collects = nil
		collectBodies = nil

		server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.URL.Path == "/collection/token/" {
				tokenCalls++
				w.WriteHeader(tokenStatus)
				fmt.Fprint(w, tokenBody)
				return
			}

			raw, _ := io.ReadAll(r.Body)
			parsed := map[string]interface{}{}
			if len(raw) > 0 {
				_ = json.Unmarshal(raw, &parsed)
			}
			collects = append(collects, r)
			collectBodies = append(collectBodies, parsed)
			w.WriteHeader(collectStatus)
			fmt.Fprint(w, collectBody)
		}))
		adapter = newAdapter(true)
	})

	AfterEach(func() {
		server.Close()
	})

	Describe("InitializePayment", func() {
		Context("when the request-to-pay is accepted", func() {
			It("should push the prompt with the authenticated headers", func() {
				// When
				result, err := adapter.InitializePayment(ctx, gateway.InitializeRequest{
					Amount:        decimal.RequireFromString("25.00"),
					Currency:      "EUR",
					CustomerEmail: "buyer@example.com",
					Metadata: map[string]interface{}{
						"phone_number": "256772123456",
						"order_id":     "order-1",
					},
				})

				// Then
				Expect(err).ToNot(HaveOccurred())
				Expect(tokenCalls).To(Equal(1))
				Expect(collects).To(HaveLen(1))
				Expect(collects[0].Method).To(Equal(http.MethodPost))
				Expect(collects[0].URL.Path).To(Equal("/collection/v1_0/requesttopay"))
				Expect(collects[0].Header.Get("Authorization")).To(Equal("Bearer momo-token-1"))
				Expect(collects[0].Header.Get("X-Target-Environment")).To(Equal("sandbox"))
				Expect(collects[0].Header.Get("Ocp-Apim-Subscription-Key")).To(Equal("sub-key"))
				Expect(collects[0].Header.Get("X-Callback-Url")).To(Equal("https://hub.example.com/webhooks/mtn_momo"))
				Expect(collects[0].Header.Get("X-Reference-Id")).To(Equal(result.Reference))

				Expect(collectBodies[0]["amount"]).To(Equal("25"))
				Expect(collectBodies[0]["currency"]).To(Equal("EUR"))
				Expect(collectBodies[0]["externalId"]).To(Equal("order-1"))
				Expect(collectBodies[0]["payer"]).To(HaveKeyWithValue("partyIdType", "MSISDN"))
				Expect(collectBodies[0]["payer"]).To(HaveKeyWithValue("partyId", "256772123456"))

				Expect(result.Status).To(Equal(gateway.StatusPending))
				Expect(result.PaymentURL).To(BeEmpty())
			})

			It("should reuse the cached access token across calls", func() {
				req := gateway.InitializeRequest{
					Amount:   decimal.RequireFromString("25.00"),
					Currency: "EUR",
					Metadata: map[string]interface{}{"phone_number": "256772123456"},
				}

				// When
				_, err := adapter.InitializePayment(ctx, req)
				Expect(err).ToNot(HaveOccurred())
				_, err = adapter.InitializePayment(ctx, req)

				// Then
				Expect(err).ToNot(HaveOccurred())
				Expect(tokenCalls).To(Equal(1))
				Expect(collects).To(HaveLen(2))
			})

			It("should fall back to the provider reference as external id", func() {
				// When
				result, err := adapter.InitializePayment(ctx, gateway.InitializeRequest{
					Amount:   decimal.RequireFromString("25.00"),
					Currency: "EUR",
					Metadata: map[string]interface{}{"phone_number": "256772123456"},
				})

				// Then
				Expect(err).ToNot(HaveOccurred())
				Expect(collectBodies[0]["externalId"]).To(Equal(result.Reference))
			})
		})

		Context("when the phone number is missing", func() {
			It("should reject before touching the provider", func() {
				// When
				result, err := adapter.InitializePayment(ctx, gateway.InitializeRequest{
					Amount:   decimal.RequireFromString("25.00"),
					Currency: "EUR",
				})

				// Then
				Expect(result).To(BeNil())
				Expect(gateway.IsProviderError(err)).To(BeTrue())
				Expect(err.Error()).To(ContainSubstring("phone number is required"))
				Expect(collects).To(BeEmpty())
			})
		})

		Context("when the token request is rejected", func() {
			BeforeEach(func() {
				tokenStatus = http.StatusUnauthorized
				tokenBody = ""
			})

			It("should return a configuration error", func() {
				// When
				_, err := adapter.InitializePayment(ctx, gateway.InitializeRequest{
					Amount:   decimal.RequireFromString("25.00"),
					Currency: "EUR",
					Metadata: map[string]interface{}{"phone_number": "256772123456"},
				})

				// Then
				Expect(gateway.IsConfigurationError(err)).To(BeTrue())
			})
		})

		Context("when the currency is not supported", func() {
			It("should reject USD payments", func() {
				// When
				_, err := adapter.InitializePayment(ctx, gateway.InitializeRequest{
					Amount:   decimal.RequireFromString("25.00"),
					Currency: "USD",
					Metadata: map[string]interface{}{"phone_number": "256772123456"},
				})

				// Then
				Expect(gateway.IsUnsupportedCurrency(err)).To(BeTrue())
			})
		})
	})

	Describe("VerifyPayment", func() {
		Context("when the payer approved", func() {
			BeforeEach(func() {
				collectStatus = http.StatusOK
				collectBody = `{"amount":"25","currency":"EUR","status":"SUCCESSFUL","financialTransactionId":"363440463"}`
			})

			It("should report success with the amount", func() {
				// When
				result, err := adapter.VerifyPayment(ctx, "ref-123")

				// Then
				Expect(err).ToNot(HaveOccurred())
				Expect(collects[0].Method).To(Equal(http.MethodGet))
				Expect(collects[0].URL.Path).To(Equal("/collection/v1_0/requesttopay/ref-123"))

				Expect(result.Status).To(Equal(gateway.StatusSuccess))
				Expect(result.Amount.Equal(decimal.RequireFromString("25"))).To(BeTrue())
				Expect(result.Currency).To(Equal("EUR"))
				Expect(result.TransactionID).To(Equal("ref-123"))
			})
		})

		Context("when the prompt is still open", func() {
			BeforeEach(func() {
				collectStatus = http.StatusOK
				collectBody = `{"amount":"25","currency":"EUR","status":"PENDING"}`
			})

			It("should report pending", func() {
				// When
				result, err := adapter.VerifyPayment(ctx, "ref-123")

				// Then
				Expect(err).ToNot(HaveOccurred())
				Expect(result.Status).To(Equal(gateway.StatusPending))
			})
		})

		Context("when the payer rejected", func() {
			BeforeEach(func() {
				collectStatus = http.StatusOK
				collectBody = `{"amount":"25","currency":"EUR","status":"FAILED","reason":{"code":"PAYER_REJECTED","message":"payer rejected"}}`
			})

			It("should report failure", func() {
				// When
				result, err := adapter.VerifyPayment(ctx, "ref-123")

				// Then
				Expect(err).ToNot(HaveOccurred())
				Expect(result.Status).To(Equal(gateway.StatusFailed))
			})
		})
	})

	Describe("ProcessRefund", func() {
		It("should report refunds as unsupported", func() {
			// When
			result, err := adapter.ProcessRefund(ctx, gateway.RefundRequest{TransactionID: "ref-123"})

			// Then
			Expect(result).To(BeNil())
			Expect(gateway.IsNotSupported(err)).To(BeTrue())
		})
	})

	Describe("VerifyWebhookSignature", func() {
		It("should accept unsigned callbacks in sandbox", func() {
			Expect(adapter.VerifyWebhookSignature([]byte(`{}`), "")).To(BeTrue())
		})

		It("should reject callbacks in production", func() {
			production := newAdapter(false)

			Expect(production.VerifyWebhookSignature([]byte(`{}`), "")).To(BeFalse())
		})

		It("should advertise no signature header", func() {
			Expect(adapter.WebhookSignatureHeader()).To(BeEmpty())
		})
	})

	Describe("ParseWebhookEvent", func() {
		It("should parse a successful collection", func() {
			payload := []byte(`{"referenceId":"ref-123","externalId":"order-1","amount":"25","currency":"EUR","status":"SUCCESSFUL"}`)

			event, err := adapter.ParseWebhookEvent(payload)

			Expect(err).ToNot(HaveOccurred())
			Expect(event.Type).To(Equal(gateway.EventPaymentSuccess))
			Expect(event.TransactionID).To(Equal("ref-123"))
			Expect(event.Amount.Equal(decimal.RequireFromString("25"))).To(BeTrue())
		})

		It("should parse a failed collection", func() {
			payload := []byte(`{"referenceId":"ref-123","status":"FAILED","reason":{"code":"PAYER_REJECTED","message":"payer rejected"}}`)

			event, err := adapter.ParseWebhookEvent(payload)

			Expect(err).ToNot(HaveOccurred())
			Expect(event.Type).To(Equal(gateway.EventPaymentFailed))
			Expect(event.Status).To(Equal(gateway.StatusFailed))
		})

		It("should keep intermediate statuses pending", func() {
			payload := []byte(`{"referenceId":"ref-123","status":"PENDING"}`)

			event, err := adapter.ParseWebhookEvent(payload)

			Expect(err).ToNot(HaveOccurred())
			Expect(event.Type).To(Equal("requesttopay.pending"))
			Expect(event.Status).To(Equal(gateway.StatusPending))
		})
	})
})
