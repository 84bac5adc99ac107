package postgres

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/sokoworks/payment-hub/internal"
	datamodel "github.com/sokoworks/payment-hub/internal/core/datamodel/payment"
	"github.com/sokoworks/payment-hub/internal/payment"
)

type refundRepository struct {
	db *gorm.DB
}

func NewRefundRepository(db *gorm.DB) payment.RefundRepositoryAPI {
	return &refundRepository{db: db}
}

func (r *refundRepository) Create(refund *datamodel.Refund) error {
	if err := r.db.Create(refund).Error; err != nil {
		return fmt.Errorf("create refund: %w", err)
	}
	return nil
}

func (r *refundRepository) GetByReference(reference string) (*datamodel.Refund, error) {
	var refund datamodel.Refund
	if err := r.db.First(&refund, "reference = ?", reference).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, internal.ErrRefundNotFound
		}
		return nil, fmt.Errorf("get refund by reference: %w", err)
	}
	return &refund, nil
}

func (r *refundRepository) ListByPaymentID(paymentID int64) ([]*datamodel.Refund, error) {
	var refunds []*datamodel.Refund
	err := r.db.
		Where("payment_id = ?", paymentID).
		Order("id").
		Find(&refunds).Error
	if err != nil {
		return nil, fmt.Errorf("list refunds by payment: %w", err)
	}
	return refunds, nil
}

// SumActiveByPaymentID totals the refund amounts still counting against
// the payment, pending ones included so in-flight refunds reserve their
// share of the balance.
func (r *refundRepository) SumActiveByPaymentID(paymentID int64) (decimal.Decimal, error) {
	var total decimal.Decimal
	err := r.db.Model(&datamodel.Refund{}).
		Where("payment_id = ? AND status IN ?", paymentID,
			[]datamodel.RefundStatus{datamodel.RefundStatusPending, datamodel.RefundStatusCompleted}).
		Select("COALESCE(SUM(amount), 0)").
		Row().
		Scan(&total)
	if err != nil {
		return decimal.Zero, fmt.Errorf("sum active refunds: %w", err)
	}
	return total, nil
}

func (r *refundRepository) UpdateStatus(id int64, status datamodel.RefundStatus, updates map[string]interface{}) error {
	values := map[string]interface{}{"status": status}
	for column, value := range updates {
		values[column] = value
	}

	err := r.db.Model(&datamodel.Refund{}).
		Where("id = ?", id).
		Updates(values).Error
	if err != nil {
		return fmt.Errorf("update refund status: %w", err)
	}
	return nil
}
