package payment_test

import (
	"context"
	"errors"
	"net/http"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/shopspring/decimal"

	"github.com/sokoworks/payment-hub/internal"
	datamodel "github.com/sokoworks/payment-hub/internal/core/datamodel/payment"
	"github.com/sokoworks/payment-hub/internal/core/events"
	"github.com/sokoworks/payment-hub/internal/gateway"
	"github.com/sokoworks/payment-hub/internal/payment"
)

var _ = Describe("WebhookProcessor", func() {
	var (
		repo      *mockPaymentRepository
		refunds   *mockRefundRepository
		stripe    *fakeGateway
		registry  *mockRegistry
		publisher *mockPublisher
		processor *payment.WebhookProcessor
		ctx       context.Context
		headers   http.Header
		payload   []byte
		pending   datamodel.Payment
	)

	BeforeEach(func() {
		repo = newMockPaymentRepository()
		refunds = newMockRefundRepository()
		stripe = newFakeGateway("stripe", "USD", "EUR")
		registry = newMockRegistry(stripe)
		publisher = newMockPublisher()

		svc := payment.NewService(repo, registry, newMockFraudChecker(), publisher, testPaymentsConfig())
		refundSvc := payment.NewRefundService(repo, refunds, registry, publisher, testPaymentsConfig())
		processor = payment.NewWebhookProcessor(registry, repo, svc, refundSvc)

		ctx = context.Background()
		headers = http.Header{}
		headers.Set("X-Test-Signature", "sig_abc123")
		payload = []byte(`{"id":"evt_1","type":"charge.succeeded"}`)

		pending = pendingPayment("order-500", "stripe_tx_500")
		Expect(repo.Create(&pending)).To(Succeed())
	})

	It("should reject notifications for an unknown gateway", func() {
		err := processor.Handle(ctx, "square", payload, headers)

		appErr := expectAppError(err, 404, internal.ErrCodeUnknownGateway)
		Expect(appErr.Message).To(Equal("unknown gateway: square"))
	})

	It("should reject a bad signature before parsing the payload", func() {
		stripe.sigValid = false

		err := processor.Handle(ctx, "stripe", payload, headers)

		expectAppError(err, 400, internal.ErrCodeInvalidSignature)
		Expect(stripe.parseCalls).To(BeZero())
	})

	It("should read the signature from the gateway's own header", func() {
		stripe.parseEvent = &gateway.WebhookEvent{Type: "charge.updated"}

		Expect(processor.Handle(ctx, "stripe", payload, headers)).To(Succeed())
		Expect(stripe.lastSignature).To(Equal("sig_abc123"))
	})

	It("should pass an empty signature when the gateway names no header", func() {
		stripe.sigHeader = ""
		stripe.parseEvent = &gateway.WebhookEvent{Type: "charge.updated"}

		Expect(processor.Handle(ctx, "stripe", payload, headers)).To(Succeed())
		Expect(stripe.lastSignature).To(BeEmpty())
	})

	It("should reject an unparseable payload", func() {
		stripe.parseErr = errors.New("unexpected end of JSON input")

		err := processor.Handle(ctx, "stripe", payload, headers)

		expectAppError(err, 400, internal.ErrCodeInvalidJSON)
	})

	It("should acknowledge event types it does not act on", func() {
		stripe.parseEvent = &gateway.WebhookEvent{Type: "customer.created", TransactionID: "stripe_tx_500"}

		Expect(processor.Handle(ctx, "stripe", payload, headers)).To(Succeed())
		Expect(repo.stored(pending.ID).Status).To(Equal(datamodel.StatusPending))
		Expect(publisher.published()).To(BeEmpty())
	})

	Describe("payment settlement", func() {
		It("should settle the payment when the provider reports success", func() {
			stripe.parseEvent = &gateway.WebhookEvent{
				Type:          gateway.EventPaymentSuccess,
				TransactionID: "stripe_tx_500",
				Status:        gateway.StatusSuccess,
				Amount:        pending.Amount,
				Currency:      "USD",
			}

			Expect(processor.Handle(ctx, "stripe", payload, headers)).To(Succeed())

			stored := repo.stored(pending.ID)
			Expect(stored.Status).To(Equal(datamodel.StatusSuccess))
			Expect(stored.PaidAt).NotTo(BeNil())
			Expect(string(stored.GatewayResponse)).To(Equal(string(payload)))
			Expect(publisher.typesPublished()).To(ConsistOf(events.EventTypePaymentCompleted))
		})

		It("should settle replayed notifications as no-ops", func() {
			stripe.parseEvent = &gateway.WebhookEvent{
				Type:          gateway.EventPaymentSuccess,
				TransactionID: "stripe_tx_500",
				Amount:        pending.Amount,
			}

			Expect(processor.Handle(ctx, "stripe", payload, headers)).To(Succeed())
			Expect(processor.Handle(ctx, "stripe", payload, headers)).To(Succeed())

			Expect(repo.stored(pending.ID).Status).To(Equal(datamodel.StatusSuccess))
			Expect(publisher.typesPublished()).To(ConsistOf(events.EventTypePaymentCompleted))
		})

		It("should settle the payment when the provider reports failure", func() {
			stripe.parseEvent = &gateway.WebhookEvent{
				Type:          gateway.EventPaymentFailed,
				TransactionID: "stripe_tx_500",
			}

			Expect(processor.Handle(ctx, "stripe", payload, headers)).To(Succeed())

			stored := repo.stored(pending.ID)
			Expect(stored.Status).To(Equal(datamodel.StatusFailed))
			Expect(stored.FailureReason).To(Equal("gateway reported failure"))
			Expect(publisher.typesPublished()).To(ConsistOf(events.EventTypePaymentFailed))
		})

		It("should settle on the provider's word even when the reported amount differs", func() {
			stripe.parseEvent = &gateway.WebhookEvent{
				Type:          gateway.EventPaymentSuccess,
				TransactionID: "stripe_tx_500",
				Amount:        decimal.RequireFromString("119.99"),
			}

			Expect(processor.Handle(ctx, "stripe", payload, headers)).To(Succeed())
			Expect(repo.stored(pending.ID).Status).To(Equal(datamodel.StatusSuccess))
		})

		It("should drop events that carry no transaction reference", func() {
			stripe.parseEvent = &gateway.WebhookEvent{Type: gateway.EventPaymentSuccess}

			Expect(processor.Handle(ctx, "stripe", payload, headers)).To(Succeed())
			Expect(repo.stored(pending.ID).Status).To(Equal(datamodel.StatusPending))
		})

		It("should acknowledge events for payments it does not know", func() {
			// Returning an error would make the provider retry forever.
			stripe.parseEvent = &gateway.WebhookEvent{
				Type:          gateway.EventPaymentSuccess,
				TransactionID: "stripe_tx_elsewhere",
			}

			Expect(processor.Handle(ctx, "stripe", payload, headers)).To(Succeed())
		})

		It("should surface storage failures so the provider retries", func() {
			repo.lookupErr = errors.New("connection reset")
			stripe.parseEvent = &gateway.WebhookEvent{
				Type:          gateway.EventPaymentSuccess,
				TransactionID: "stripe_tx_500",
			}

			err := processor.Handle(ctx, "stripe", payload, headers)

			expectAppError(err, 500, internal.ErrorCode("INTERNAL_ERROR"))
		})
	})

	Describe("refund settlement", func() {
		var captured datamodel.Payment

		BeforeEach(func() {
			captured = capturedPayment("order-501", "stripe_tx_501")
			Expect(repo.Create(&captured)).To(Succeed())
		})

		It("should complete the matching pending refund", func() {
			Expect(refunds.Create(&datamodel.Refund{
				Reference: datamodel.NewRefundReference(),
				PaymentID: captured.ID,
				Amount:    decimal.RequireFromString("100.00"),
				Currency:  "USD",
				Status:    datamodel.RefundStatusPending,
			})).To(Succeed())
			stripe.parseEvent = &gateway.WebhookEvent{
				Type:          gateway.EventRefundCompleted,
				TransactionID: "stripe_tx_501",
				Amount:        decimal.RequireFromString("100.00"),
			}

			Expect(processor.Handle(ctx, "stripe", payload, headers)).To(Succeed())

			Expect(refunds.stored(1).Status).To(Equal(datamodel.RefundStatusCompleted))
			Expect(repo.stored(captured.ID).Status).To(Equal(datamodel.StatusRefunded))
			Expect(publisher.typesPublished()).To(ConsistOf(events.EventTypeRefundCompleted))
		})

		It("should complete the oldest pending refund when the event carries no amount", func() {
			Expect(refunds.Create(&datamodel.Refund{
				Reference: datamodel.NewRefundReference(),
				PaymentID: captured.ID,
				Amount:    decimal.RequireFromString("25.00"),
				Currency:  "USD",
				Status:    datamodel.RefundStatusPending,
			})).To(Succeed())
			stripe.parseEvent = &gateway.WebhookEvent{
				Type:          gateway.EventRefundCompleted,
				TransactionID: "stripe_tx_501",
			}

			Expect(processor.Handle(ctx, "stripe", payload, headers)).To(Succeed())

			Expect(refunds.stored(1).Status).To(Equal(datamodel.RefundStatusCompleted))
			// A partial refund leaves the payment successful.
			Expect(repo.stored(captured.ID).Status).To(Equal(datamodel.StatusSuccess))
		})

		It("should record a gateway-initiated refund it has no row for", func() {
			stripe.parseEvent = &gateway.WebhookEvent{
				Type:          gateway.EventRefundCompleted,
				TransactionID: "stripe_tx_501",
				Amount:        decimal.RequireFromString("30.00"),
			}

			Expect(processor.Handle(ctx, "stripe", payload, headers)).To(Succeed())

			Expect(refunds.count()).To(Equal(1))
			stored := refunds.stored(1)
			Expect(stored.Status).To(Equal(datamodel.RefundStatusCompleted))
			Expect(stored.Amount).To(Equal(decimal.RequireFromString("30.00")))
			Expect(stored.Reason).To(Equal("refund reported by gateway"))
			Expect(publisher.typesPublished()).To(ConsistOf(events.EventTypeRefundCompleted))
		})

		It("should ignore an amountless refund event that matches nothing", func() {
			stripe.parseEvent = &gateway.WebhookEvent{
				Type:          gateway.EventRefundCompleted,
				TransactionID: "stripe_tx_501",
			}

			Expect(processor.Handle(ctx, "stripe", payload, headers)).To(Succeed())

			Expect(refunds.count()).To(BeZero())
			Expect(publisher.published()).To(BeEmpty())
		})
	})
})
