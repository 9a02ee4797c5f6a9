package repository

import (
	"context"
	"time"

	"gorm.io/gorm"

	"github.com/Mayorlee0/verify-protocol-mvp/internal/models"
)

// IdempotencyRepository stores responses of retried mutating requests
type IdempotencyRepository interface {
	// Get returns the live record for scope and key, or gorm.ErrRecordNotFound.
	Get(ctx context.Context, scope, key string, now time.Time) (*models.IdempotencyRecord, error)
	// Save stores the record, replacing one that expired by now.
	// A unique violation means a concurrent request with the same key won.
	Save(ctx context.Context, record *models.IdempotencyRecord, now time.Time) error
	// Complete stores the response on a pending record and extends its expiry.
	Complete(ctx context.Context, scope, key string, status int, body []byte, expiresAt time.Time) error
	// Release deletes a pending record so the key can be retried.
	Release(ctx context.Context, scope, key string) error
	DeleteExpired(ctx context.Context, now time.Time) (int64, error)
}

type idempotencyRepository struct {
	db *gorm.DB
}

// NewIdempotencyRepository creates a new IdempotencyRepository instance
func NewIdempotencyRepository(db *gorm.DB) IdempotencyRepository {
	return &idempotencyRepository{db: db}
}

func (r *idempotencyRepository) Get(ctx context.Context, scope, key string, now time.Time) (*models.IdempotencyRecord, error) {
	var record models.IdempotencyRecord
	err := r.db.WithContext(ctx).
		Where("scope = ? AND idempotency_key = ? AND expires_at > ?", scope, key, now).
		First(&record).Error
	if err != nil {
		return nil, err
	}
	return &record, nil
}

func (r *idempotencyRepository) Save(ctx context.Context, record *models.IdempotencyRecord, now time.Time) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		// a stale record under the same key must not block reuse
		if err := tx.Where("scope = ? AND idempotency_key = ? AND expires_at <= ?", record.Scope, record.IdempotencyKey, now).
			Delete(&models.IdempotencyRecord{}).Error; err != nil {
			return err
		}
		return tx.Create(record).Error
	})
}

func (r *idempotencyRepository) Complete(ctx context.Context, scope, key string, status int, body []byte, expiresAt time.Time) error {
	result := r.db.WithContext(ctx).Model(&models.IdempotencyRecord{}).
		Where("scope = ? AND idempotency_key = ? AND response_status = 0", scope, key).
		Updates(map[string]interface{}{
			"response_status": status,
			"response_body":   body,
			"expires_at":      expiresAt,
		})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return gorm.ErrRecordNotFound
	}
	return nil
}

func (r *idempotencyRepository) Release(ctx context.Context, scope, key string) error {
	return r.db.WithContext(ctx).
		Where("scope = ? AND idempotency_key = ? AND response_status = 0", scope, key).
		Delete(&models.IdempotencyRecord{}).Error
}

func (r *idempotencyRepository) DeleteExpired(ctx context.Context, now time.Time) (int64, error) {
	result := r.db.WithContext(ctx).Where("expires_at <= ?", now).Delete(&models.IdempotencyRecord{})
	return result.RowsAffected, result.Error
}
