package repository

import (
	"context"
	"time"

	"gorm.io/gorm"

	"github.com/Mayorlee0/verify-protocol-mvp/internal/models"
)

// IntentRepository defines the interface for VerifyIntent data access
type IntentRepository interface {
	Create(ctx context.Context, intent *models.VerifyIntent) error
	GetByID(ctx context.Context, id string) (*models.VerifyIntent, error)

	// MarkConfirmed moves an ISSUED intent to CONFIRMED. Returns false if another caller got there first.
	MarkConfirmed(ctx context.Context, id string, at time.Time) (bool, error)
	// MarkExpired moves an ISSUED intent to EXPIRED.
	MarkExpired(ctx context.Context, id string) (bool, error)
	// ExpireBefore sweeps ISSUED intents whose deadline passed.
	ExpireBefore(ctx context.Context, cutoff time.Time) (int64, error)

	WithTx(tx *gorm.DB) IntentRepository
}

// intentRepository implements IntentRepository
type intentRepository struct {
	db *gorm.DB
}

// NewIntentRepository creates a new IntentRepository instance
func NewIntentRepository(db *gorm.DB) IntentRepository {
	return &intentRepository{db: db}
}

func (r *intentRepository) WithTx(tx *gorm.DB) IntentRepository {
	return &intentRepository{db: tx}
}

// Create creates a new intent
func (r *intentRepository) Create(ctx context.Context, intent *models.VerifyIntent) error {
	return r.db.WithContext(ctx).Create(intent).Error
}

// GetByID retrieves an intent by ID
func (r *intentRepository) GetByID(ctx context.Context, id string) (*models.VerifyIntent, error) {
	var intent models.VerifyIntent
	if err := r.db.WithContext(ctx).Where("id = ?", id).First(&intent).Error; err != nil {
		return nil, err
	}
	return &intent, nil
}

func (r *intentRepository) MarkConfirmed(ctx context.Context, id string, at time.Time) (bool, error) {
	result := r.db.WithContext(ctx).
		Model(&models.VerifyIntent{}).
		Where("id = ? AND status = ?", id, models.IntentStatusIssued).
		Updates(map[string]interface{}{
			"status":       models.IntentStatusConfirmed,
			"confirmed_at": at,
		})
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected == 1, nil
}

func (r *intentRepository) MarkExpired(ctx context.Context, id string) (bool, error) {
	result := r.db.WithContext(ctx).
		Model(&models.VerifyIntent{}).
		Where("id = ? AND status = ?", id, models.IntentStatusIssued).
		Update("status", models.IntentStatusExpired)
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected == 1, nil
}

func (r *intentRepository) ExpireBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	result := r.db.WithContext(ctx).
		Model(&models.VerifyIntent{}).
		Where("status = ? AND expires_at < ?", models.IntentStatusIssued, cutoff).
		Update("status", models.IntentStatusExpired)
	return result.RowsAffected, result.Error
}
