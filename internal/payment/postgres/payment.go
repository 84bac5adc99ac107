package postgres

import (
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"

	"github.com/sokoworks/payment-hub/internal"
	datamodel "github.com/sokoworks/payment-hub/internal/core/datamodel/payment"
	"github.com/sokoworks/payment-hub/internal/payment"
)

var activeStatuses = []datamodel.Status{
	datamodel.StatusInitiated,
	datamodel.StatusPending,
}

type paymentRepository struct {
	db *gorm.DB
}

func NewPaymentRepository(db *gorm.DB) payment.RepositoryAPI {
	return &paymentRepository{db: db}
}

func (r *paymentRepository) Create(p *datamodel.Payment) error {
	if err := r.db.Create(p).Error; err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return internal.NewConflictError("an active payment already exists for this order", internal.ErrCodeDuplicatePayment)
		}
		return fmt.Errorf("create payment: %w", err)
	}
	return nil
}

func (r *paymentRepository) GetByID(id int64) (*datamodel.Payment, error) {
	var p datamodel.Payment
	if err := r.db.First(&p, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, internal.ErrPaymentNotFound
		}
		return nil, fmt.Errorf("get payment by id: %w", err)
	}
	return &p, nil
}

func (r *paymentRepository) GetByReference(reference string) (*datamodel.Payment, error) {
	var p datamodel.Payment
	if err := r.db.First(&p, "reference = ?", reference).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, internal.ErrPaymentNotFound
		}
		return nil, fmt.Errorf("get payment by reference: %w", err)
	}
	return &p, nil
}

func (r *paymentRepository) GetByGatewayReference(gatewayReference string) (*datamodel.Payment, error) {
	var p datamodel.Payment
	if err := r.db.First(&p, "gateway_reference = ?", gatewayReference).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, internal.ErrPaymentNotFound
		}
		return nil, fmt.Errorf("get payment by gateway reference: %w", err)
	}
	return &p, nil
}

// GetActiveByOrderID returns the unsettled payment for an order, nil
// when the order has none.
func (r *paymentRepository) GetActiveByOrderID(orderID string) (*datamodel.Payment, error) {
	var p datamodel.Payment
	err := r.db.
		Where("order_id = ? AND status IN ?", orderID, activeStatuses).
		Order("id DESC").
		First(&p).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("get active payment by order: %w", err)
	}
	return &p, nil
}

func (r *paymentRepository) CompareAndSetStatus(id int64, expected, next datamodel.Status, updates map[string]interface{}) (bool, error) {
	values := map[string]interface{}{"status": next}
	for column, value := range updates {
		values[column] = value
	}

	tx := r.db.Model(&datamodel.Payment{}).
		Where("id = ? AND status = ?", id, expected).
		Updates(values)
	if tx.Error != nil {
		return false, fmt.Errorf("compare and set status: %w", tx.Error)
	}
	return tx.RowsAffected > 0, nil
}

func (r *paymentRepository) IncrementRetryCount(id int64) error {
	err := r.db.Model(&datamodel.Payment{}).
		Where("id = ?", id).
		UpdateColumn("retry_count", gorm.Expr("retry_count + ?", 1)).Error
	if err != nil {
		return fmt.Errorf("increment retry count: %w", err)
	}
	return nil
}

func (r *paymentRepository) CountFailedForUserSince(userID int64, since time.Time) (int64, error) {
	var count int64
	err := r.db.Model(&datamodel.Payment{}).
		Where("user_id = ? AND status = ? AND updated_at >= ?", userID, datamodel.StatusFailed, since).
		Count(&count).Error
	if err != nil {
		return 0, fmt.Errorf("count failed payments: %w", err)
	}
	return count, nil
}

func (r *paymentRepository) HasSuccessfulPayment(userID int64) (bool, error) {
	var count int64
	err := r.db.Model(&datamodel.Payment{}).
		Where("user_id = ? AND status IN ?", userID,
			[]datamodel.Status{datamodel.StatusSuccess, datamodel.StatusRefunded}).
		Count(&count).Error
	if err != nil {
		return false, fmt.Errorf("check successful payments: %w", err)
	}
	return count > 0, nil
}

// ListPendingOlderThan returns unsettled payments whose expiry window
// passed before cutoff.
func (r *paymentRepository) ListPendingOlderThan(cutoff time.Time, limit int) ([]*datamodel.Payment, error) {
	var payments []*datamodel.Payment
	err := r.db.
		Where("status IN ? AND expires_at IS NOT NULL AND expires_at <= ?", activeStatuses, cutoff).
		Order("id").
		Limit(limit).
		Find(&payments).Error
	if err != nil {
		return nil, fmt.Errorf("list expired payments: %w", err)
	}
	return payments, nil
}

// ListPendingForReverify returns pending payments that have a provider
// reference and have not been touched since cutoff.
func (r *paymentRepository) ListPendingForReverify(cutoff time.Time, limit int) ([]*datamodel.Payment, error) {
	var payments []*datamodel.Payment
	err := r.db.
		Where("status = ? AND gateway_reference <> '' AND updated_at <= ?", datamodel.StatusPending, cutoff).
		Order("updated_at").
		Limit(limit).
		Find(&payments).Error
	if err != nil {
		return nil, fmt.Errorf("list payments for reverification: %w", err)
	}
	return payments, nil
}
