package payment_test

import (
	"context"
	"encoding/json"
	"errors"
	"sort"
	"sync"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/shopspring/decimal"

	"github.com/sokoworks/payment-hub/internal"
	datamodel "github.com/sokoworks/payment-hub/internal/core/datamodel/payment"
	"github.com/sokoworks/payment-hub/internal/core/events"
	"github.com/sokoworks/payment-hub/internal/gateway"
	"github.com/sokoworks/payment-hub/internal/payment"
)

type mockRefundRepository struct {
	mu      sync.Mutex
	nextID  int64
	refunds map[int64]datamodel.Refund

	createErr error
	sumErr    error
	listErr   error
	updateErr error
}

func newMockRefundRepository() *mockRefundRepository {
	return &mockRefundRepository{refunds: map[int64]datamodel.Refund{}}
}

func (m *mockRefundRepository) Create(r *datamodel.Refund) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.createErr != nil {
		return m.createErr
	}
	m.nextID++
	r.ID = m.nextID
	now := time.Now().UTC()
	if r.CreatedAt.IsZero() {
		r.CreatedAt = now
	}
	r.UpdatedAt = now
	m.refunds[r.ID] = *r
	return nil
}

func (m *mockRefundRepository) GetByReference(reference string) (*datamodel.Refund, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, r := range m.refunds {
		if r.Reference == reference {
			found := r
			return &found, nil
		}
	}
	return nil, internal.ErrRefundNotFound
}

func (m *mockRefundRepository) ListByPaymentID(paymentID int64) ([]*datamodel.Refund, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.listErr != nil {
		return nil, m.listErr
	}
	ids := make([]int64, 0, len(m.refunds))
	for id := range m.refunds {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	var out []*datamodel.Refund
	for _, id := range ids {
		if m.refunds[id].PaymentID != paymentID {
			continue
		}
		found := m.refunds[id]
		out = append(out, &found)
	}
	return out, nil
}

func (m *mockRefundRepository) SumActiveByPaymentID(paymentID int64) (decimal.Decimal, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.sumErr != nil {
		return decimal.Zero, m.sumErr
	}
	total := decimal.Zero
	for _, r := range m.refunds {
		if r.PaymentID != paymentID {
			continue
		}
		if r.Status == datamodel.RefundStatusPending || r.Status == datamodel.RefundStatusCompleted {
			total = total.Add(r.Amount)
		}
	}
	return total, nil
}

func (m *mockRefundRepository) UpdateStatus(id int64, status datamodel.RefundStatus, updates map[string]interface{}) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.updateErr != nil {
		return m.updateErr
	}
	r, ok := m.refunds[id]
	if !ok {
		return internal.ErrRefundNotFound
	}
	r.Status = status
	for column, value := range updates {
		switch column {
		case "gateway_refund_id":
			r.GatewayRefundID, _ = value.(string)
		case "gateway_response":
			if raw, ok := value.(json.RawMessage); ok {
				r.GatewayResponse = raw
			}
		}
	}
	r.UpdatedAt = time.Now().UTC()
	m.refunds[id] = r
	return nil
}

func (m *mockRefundRepository) stored(id int64) datamodel.Refund {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.refunds[id]
}

func (m *mockRefundRepository) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.refunds)
}

func capturedPayment(orderID, gatewayReference string) datamodel.Payment {
	return datamodel.Payment{
		Reference:        datamodel.NewReference(),
		OrderID:          orderID,
		UserID:           42,
		Gateway:          "stripe",
		GatewayReference: gatewayReference,
		Amount:           decimal.RequireFromString("100.00"),
		Currency:         "USD",
		Status:           datamodel.StatusSuccess,
	}
}

var _ = Describe("RefundService", func() {
	var (
		repo      *mockPaymentRepository
		refunds   *mockRefundRepository
		stripe    *fakeGateway
		registry  *mockRegistry
		publisher *mockPublisher
		svc       *payment.RefundService
		ctx       context.Context
		captured  datamodel.Payment
	)

	BeforeEach(func() {
		repo = newMockPaymentRepository()
		refunds = newMockRefundRepository()
		stripe = newFakeGateway("stripe", "USD", "EUR")
		registry = newMockRegistry(stripe)
		publisher = newMockPublisher()
		svc = payment.NewRefundService(repo, refunds, registry, publisher, testPaymentsConfig())
		ctx = context.Background()

		captured = capturedPayment("order-300", "stripe_tx_300")
		Expect(repo.Create(&captured)).To(Succeed())
	})

	Describe("CreateRefund", func() {
		It("should refund the full remaining balance when no amount is given", func() {
			// When
			view, err := svc.CreateRefund(ctx, captured.Reference, &payment.RefundRequest{Reason: "order returned"}, 42)

			// Then
			Expect(err).NotTo(HaveOccurred())
			Expect(view.Reference).To(HavePrefix("ref_"))
			Expect(view.PaymentReference).To(Equal(captured.Reference))
			Expect(view.Amount).To(Equal(decimal.RequireFromString("100.00")))
			Expect(view.Status).To(Equal("completed"))
			Expect(view.Reason).To(Equal("order returned"))

			Expect(stripe.lastRefund.TransactionID).To(Equal("stripe_tx_300"))
			Expect(stripe.lastRefund.Amount).NotTo(BeNil())
			Expect(stripe.lastRefund.Amount.Equal(decimal.RequireFromString("100.00"))).To(BeTrue())

			Expect(refunds.stored(1).Status).To(Equal(datamodel.RefundStatusCompleted))
			Expect(refunds.stored(1).GatewayRefundID).To(Equal("stripe_re_1"))
		})

		It("should flip the payment to refunded once refunds cover the full amount", func() {
			_, err := svc.CreateRefund(ctx, captured.Reference, &payment.RefundRequest{}, 42)

			Expect(err).NotTo(HaveOccurred())
			Expect(repo.stored(captured.ID).Status).To(Equal(datamodel.StatusRefunded))
			Expect(publisher.typesPublished()).To(ConsistOf(events.EventTypeRefundCompleted))
		})

		It("should keep the payment successful after a partial refund", func() {
			amount := decimal.RequireFromString("40.00")

			view, err := svc.CreateRefund(ctx, captured.Reference, &payment.RefundRequest{Amount: &amount}, 42)

			Expect(err).NotTo(HaveOccurred())
			Expect(view.Amount).To(Equal(amount))
			Expect(view.Status).To(Equal("completed"))
			Expect(repo.stored(captured.ID).Status).To(Equal(datamodel.StatusSuccess))
		})

		It("should reject amounts above the remaining balance", func() {
			Expect(refunds.Create(&datamodel.Refund{
				Reference: datamodel.NewRefundReference(),
				PaymentID: captured.ID,
				Amount:    decimal.RequireFromString("40.00"),
				Currency:  "USD",
				Status:    datamodel.RefundStatusCompleted,
			})).To(Succeed())
			amount := decimal.RequireFromString("70.00")

			_, err := svc.CreateRefund(ctx, captured.Reference, &payment.RefundRequest{Amount: &amount}, 42)

			appErr := expectAppError(err, 422, internal.ErrCodeRefundExceedsAmount)
			Expect(appErr.Message).To(ContainSubstring("refundable balance of 60"))
		})

		It("should count pending refunds against the balance", func() {
			Expect(refunds.Create(&datamodel.Refund{
				Reference: datamodel.NewRefundReference(),
				PaymentID: captured.ID,
				Amount:    decimal.RequireFromString("30.00"),
				Currency:  "USD",
				Status:    datamodel.RefundStatusPending,
			})).To(Succeed())
			amount := decimal.RequireFromString("80.00")

			_, err := svc.CreateRefund(ctx, captured.Reference, &payment.RefundRequest{Amount: &amount}, 42)

			appErr := expectAppError(err, 422, internal.ErrCodeRefundExceedsAmount)
			Expect(appErr.Message).To(ContainSubstring("refundable balance of 70"))
		})

		It("should ignore failed refunds when computing the balance", func() {
			Expect(refunds.Create(&datamodel.Refund{
				Reference: datamodel.NewRefundReference(),
				PaymentID: captured.ID,
				Amount:    decimal.RequireFromString("90.00"),
				Currency:  "USD",
				Status:    datamodel.RefundStatusFailed,
			})).To(Succeed())

			view, err := svc.CreateRefund(ctx, captured.Reference, &payment.RefundRequest{}, 42)

			Expect(err).NotTo(HaveOccurred())
			Expect(view.Amount).To(Equal(decimal.RequireFromString("100.00")))
		})

		It("should refund whatever balance remains when no amount is given", func() {
			Expect(refunds.Create(&datamodel.Refund{
				Reference: datamodel.NewRefundReference(),
				PaymentID: captured.ID,
				Amount:    decimal.RequireFromString("60.00"),
				Currency:  "USD",
				Status:    datamodel.RefundStatusCompleted,
			})).To(Succeed())

			view, err := svc.CreateRefund(ctx, captured.Reference, &payment.RefundRequest{}, 42)

			Expect(err).NotTo(HaveOccurred())
			Expect(view.Amount).To(Equal(decimal.RequireFromString("40.00")))
			Expect(repo.stored(captured.ID).Status).To(Equal(datamodel.StatusRefunded))
		})

		It("should refuse refunds on a payment that is already fully refunded", func() {
			refunded := capturedPayment("order-301", "stripe_tx_301")
			refunded.Status = datamodel.StatusRefunded
			Expect(repo.Create(&refunded)).To(Succeed())

			_, err := svc.CreateRefund(ctx, refunded.Reference, &payment.RefundRequest{}, 42)

			appErr := expectAppError(err, 409, internal.ErrCodeInvalidStateTransition)
			Expect(appErr.Message).To(Equal("payment is already fully refunded"))
		})

		It("should refuse refunds on unsettled payments", func() {
			unsettled := capturedPayment("order-302", "stripe_tx_302")
			unsettled.Status = datamodel.StatusPending
			Expect(repo.Create(&unsettled)).To(Succeed())

			_, err := svc.CreateRefund(ctx, unsettled.Reference, &payment.RefundRequest{}, 42)

			appErr := expectAppError(err, 409, internal.ErrCodeInvalidStateTransition)
			Expect(appErr.Message).To(Equal("only successful payments can be refunded"))
		})

		It("should refuse refunds once the balance is fully reserved", func() {
			Expect(refunds.Create(&datamodel.Refund{
				Reference: datamodel.NewRefundReference(),
				PaymentID: captured.ID,
				Amount:    decimal.RequireFromString("100.00"),
				Currency:  "USD",
				Status:    datamodel.RefundStatusPending,
			})).To(Succeed())

			_, err := svc.CreateRefund(ctx, captured.Reference, &payment.RefundRequest{}, 42)

			appErr := expectAppError(err, 409, internal.ErrCodeInvalidStateTransition)
			Expect(appErr.Message).To(Equal("payment is already fully refunded"))
		})

		It("should hide other users' payments behind not found", func() {
			_, err := svc.CreateRefund(ctx, captured.Reference, &payment.RefundRequest{}, 9)

			Expect(err).To(MatchError(internal.ErrPaymentNotFound))
		})

		It("should reject a negative refund amount", func() {
			amount := decimal.RequireFromString("-5.00")

			_, err := svc.CreateRefund(ctx, captured.Reference, &payment.RefundRequest{Amount: &amount}, 42)

			expectAppError(err, 400, internal.ErrCodeValidationFailed)
			Expect(refunds.count()).To(BeZero())
		})

		It("should report a stored gateway that is no longer configured", func() {
			orphan := capturedPayment("order-303", "ps_tx_303")
			orphan.Gateway = "paystack"
			Expect(repo.Create(&orphan)).To(Succeed())

			_, err := svc.CreateRefund(ctx, orphan.Reference, &payment.RefundRequest{}, 42)

			expectAppError(err, 502, internal.ErrCodeGatewayMisconfigured)
			Expect(refunds.count()).To(BeZero())
		})

		Context("when the gateway is unreachable", func() {
			BeforeEach(func() {
				stripe.refundErr = gateway.NewConnectionError("stripe", errors.New("dial tcp: timeout"))
			})

			It("should keep the refund pending so the balance stays reserved", func() {
				_, err := svc.CreateRefund(ctx, captured.Reference, &payment.RefundRequest{}, 42)

				expectAppError(err, 502, internal.ErrCodeGatewayUnavailable)
				Expect(refunds.stored(1).Status).To(Equal(datamodel.RefundStatusPending))

				// The unresolved attempt blocks a second full refund.
				_, err = svc.CreateRefund(ctx, captured.Reference, &payment.RefundRequest{}, 42)
				appErr := expectAppError(err, 409, internal.ErrCodeInvalidStateTransition)
				Expect(appErr.Message).To(Equal("payment is already fully refunded"))
			})
		})

		It("should fail the refund when the gateway does not support refunds", func() {
			stripe.refundErr = gateway.NewNotSupportedError("stripe", "refund")

			_, err := svc.CreateRefund(ctx, captured.Reference, &payment.RefundRequest{}, 42)

			expectAppError(err, 422, internal.ErrCodeRefundNotSupported)
			Expect(refunds.stored(1).Status).To(Equal(datamodel.RefundStatusFailed))
		})

		It("should fail the refund on gateway configuration problems", func() {
			stripe.refundErr = gateway.NewConfigurationError("stripe", "secret key is not set")

			_, err := svc.CreateRefund(ctx, captured.Reference, &payment.RefundRequest{}, 42)

			expectAppError(err, 502, internal.ErrCodeGatewayMisconfigured)
			Expect(refunds.stored(1).Status).To(Equal(datamodel.RefundStatusFailed))
		})

		It("should surface the provider's rejection reason", func() {
			stripe.refundErr = gateway.NewProviderError("stripe", "charge has been disputed")

			_, err := svc.CreateRefund(ctx, captured.Reference, &payment.RefundRequest{}, 42)

			appErr := expectAppError(err, 422, internal.ErrCodeRefundFailed)
			Expect(appErr.Message).To(Equal("charge has been disputed"))
			Expect(refunds.stored(1).Status).To(Equal(datamodel.RefundStatusFailed))
		})

		It("should fail the refund when the gateway reports a rejected result", func() {
			stripe.refundResult = &gateway.RefundResult{RefundID: "stripe_re_9", Status: gateway.StatusFailed}

			_, err := svc.CreateRefund(ctx, captured.Reference, &payment.RefundRequest{}, 42)

			appErr := expectAppError(err, 422, internal.ErrCodeRefundFailed)
			Expect(appErr.Message).To(Equal("refund was rejected by the gateway"))
			stored := refunds.stored(1)
			Expect(stored.Status).To(Equal(datamodel.RefundStatusFailed))
			Expect(stored.GatewayRefundID).To(Equal("stripe_re_9"))
		})

		It("should leave the refund pending while the gateway is still processing", func() {
			stripe.refundResult = &gateway.RefundResult{RefundID: "stripe_re_8", Status: gateway.StatusPending}

			view, err := svc.CreateRefund(ctx, captured.Reference, &payment.RefundRequest{}, 42)

			Expect(err).NotTo(HaveOccurred())
			Expect(view.Status).To(Equal("pending"))
			stored := refunds.stored(1)
			Expect(stored.Status).To(Equal(datamodel.RefundStatusPending))
			Expect(stored.GatewayRefundID).To(Equal("stripe_re_8"))
			Expect(publisher.published()).To(BeEmpty())
			Expect(repo.stored(captured.ID).Status).To(Equal(datamodel.StatusSuccess))
		})

		It("should fail when the refund ledger cannot be read", func() {
			refunds.sumErr = errors.New("connection reset")

			_, err := svc.CreateRefund(ctx, captured.Reference, &payment.RefundRequest{}, 42)

			expectAppError(err, 500, internal.ErrorCode("INTERNAL_ERROR"))
			Expect(stripe.refundCalls).To(BeZero())
		})

		It("should fail when the completed refund cannot be persisted", func() {
			refunds.updateErr = errors.New("connection reset")

			_, err := svc.CreateRefund(ctx, captured.Reference, &payment.RefundRequest{}, 42)

			expectAppError(err, 500, internal.ErrorCode("INTERNAL_ERROR"))
		})

		It("should still settle the payment when the refund total cannot be reread", func() {
			refunds.listErr = errors.New("connection reset")

			view, err := svc.CreateRefund(ctx, captured.Reference, &payment.RefundRequest{}, 42)

			Expect(err).NotTo(HaveOccurred())
			Expect(view.Status).To(Equal("completed"))
			Expect(repo.stored(captured.ID).Status).To(Equal(datamodel.StatusRefunded))
		})
	})

	Describe("GetRefund", func() {
		var created *payment.RefundView

		BeforeEach(func() {
			var err error
			created, err = svc.CreateRefund(ctx, captured.Reference, &payment.RefundRequest{Reason: "damaged item"}, 42)
			Expect(err).NotTo(HaveOccurred())
		})

		It("should return the refund with its payment reference", func() {
			view, err := svc.GetRefund(ctx, created.Reference, 42)

			Expect(err).NotTo(HaveOccurred())
			Expect(view.Reference).To(Equal(created.Reference))
			Expect(view.PaymentReference).To(Equal(captured.Reference))
			Expect(view.Reason).To(Equal("damaged item"))
		})

		It("should hide other users' refunds behind not found", func() {
			_, err := svc.GetRefund(ctx, created.Reference, 7)

			Expect(err).To(MatchError(internal.ErrRefundNotFound))
		})

		It("should report unknown references as not found", func() {
			_, err := svc.GetRefund(ctx, "ref_missing", 42)

			Expect(err).To(MatchError(internal.ErrRefundNotFound))
		})
	})

	Describe("ListRefunds", func() {
		It("should list the payment's refunds in creation order", func() {
			first := decimal.RequireFromString("10.00")
			second := decimal.RequireFromString("20.00")
			_, err := svc.CreateRefund(ctx, captured.Reference, &payment.RefundRequest{Amount: &first}, 42)
			Expect(err).NotTo(HaveOccurred())
			_, err = svc.CreateRefund(ctx, captured.Reference, &payment.RefundRequest{Amount: &second}, 42)
			Expect(err).NotTo(HaveOccurred())

			views, err := svc.ListRefunds(ctx, captured.Reference, 42)

			Expect(err).NotTo(HaveOccurred())
			Expect(views).To(HaveLen(2))
			Expect(views[0].Amount).To(Equal(first))
			Expect(views[1].Amount).To(Equal(second))
			Expect(views[0].PaymentReference).To(Equal(captured.Reference))
		})

		It("should return an empty list for a payment without refunds", func() {
			views, err := svc.ListRefunds(ctx, captured.Reference, 42)

			Expect(err).NotTo(HaveOccurred())
			Expect(views).To(BeEmpty())
		})

		It("should hide other users' payments behind not found", func() {
			_, err := svc.ListRefunds(ctx, captured.Reference, 7)

			Expect(err).To(MatchError(internal.ErrPaymentNotFound))
		})
	})
})
