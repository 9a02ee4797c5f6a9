package repository

import (
	"context"
	"time"

	"gorm.io/gorm"

	"github.com/Mayorlee0/verify-protocol-mvp/internal/models"
)

// UnrecordedPayoutRepository defines the interface for UnrecordedPayout data access
type UnrecordedPayoutRepository interface {
	Create(ctx context.Context, record *models.UnrecordedPayout) error
	GetByTxRef(ctx context.Context, txRef string) (*models.UnrecordedPayout, error)
	// ListDue returns PENDING records whose next retry is at or before now, oldest first.
	ListDue(ctx context.Context, now time.Time, limit int) ([]*models.UnrecordedPayout, error)
	// Save persists status and retry bookkeeping.
	Save(ctx context.Context, record *models.UnrecordedPayout) error
	CountByStatus(ctx context.Context, status models.UnrecordedPayoutStatus) (int64, error)

	WithTx(tx *gorm.DB) UnrecordedPayoutRepository
}

// unrecordedPayoutRepository implements UnrecordedPayoutRepository
type unrecordedPayoutRepository struct {
	db *gorm.DB
}

// NewUnrecordedPayoutRepository creates a new UnrecordedPayoutRepository instance
func NewUnrecordedPayoutRepository(db *gorm.DB) UnrecordedPayoutRepository {
	return &unrecordedPayoutRepository{db: db}
}

func (r *unrecordedPayoutRepository) WithTx(tx *gorm.DB) UnrecordedPayoutRepository {
	return &unrecordedPayoutRepository{db: tx}
}

func (r *unrecordedPayoutRepository) Create(ctx context.Context, record *models.UnrecordedPayout) error {
	return r.db.WithContext(ctx).Create(record).Error
}

func (r *unrecordedPayoutRepository) GetByTxRef(ctx context.Context, txRef string) (*models.UnrecordedPayout, error) {
	var record models.UnrecordedPayout
	if err := r.db.WithContext(ctx).Where("tx_ref = ?", txRef).First(&record).Error; err != nil {
		return nil, err
	}
	return &record, nil
}

func (r *unrecordedPayoutRepository) ListDue(ctx context.Context, now time.Time, limit int) ([]*models.UnrecordedPayout, error) {
	var records []*models.UnrecordedPayout
	query := r.db.WithContext(ctx).
		Where("status = ? AND next_retry_at <= ?", models.UnrecordedPayoutStatusPending, now).
		Order("created_at ASC")
	if limit > 0 {
		query = query.Limit(limit)
	}
	if err := query.Find(&records).Error; err != nil {
		return nil, err
	}
	return records, nil
}

func (r *unrecordedPayoutRepository) Save(ctx context.Context, record *models.UnrecordedPayout) error {
	return r.db.WithContext(ctx).
		Model(&models.UnrecordedPayout{}).
		Where("id = ?", record.ID).
		Updates(map[string]interface{}{
			"status":        record.Status,
			"retry_count":   record.RetryCount,
			"next_retry_at": record.NextRetryAt,
			"last_error":    record.LastError,
			"resolved_at":   record.ResolvedAt,
		}).Error
}

func (r *unrecordedPayoutRepository) CountByStatus(ctx context.Context, status models.UnrecordedPayoutStatus) (int64, error) {
	var count int64
	err := r.db.WithContext(ctx).
		Model(&models.UnrecordedPayout{}).
		Where("status = ?", status).
		Count(&count).Error
	return count, err
}
