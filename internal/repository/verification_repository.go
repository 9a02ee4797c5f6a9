package repository

import (
	"context"

	"gorm.io/gorm"

	"github.com/Mayorlee0/verify-protocol-mvp/internal/models"
)

// VerificationRepository defines the interface for Verification data access
type VerificationRepository interface {
	// Create inserts the redemption record. A unique violation means the code was already redeemed.
	Create(ctx context.Context, verification *models.Verification) error
	ExistsByCommitment(ctx context.Context, commitment []byte) (bool, error)
	UpdateTxRef(ctx context.Context, id, txRef string) error
	ListByUser(ctx context.Context, userID string, limit int) ([]*models.Verification, error)
	CountByUser(ctx context.Context, userID string) (int64, error)

	WithTx(tx *gorm.DB) VerificationRepository
}

// verificationRepository implements VerificationRepository
type verificationRepository struct {
	db *gorm.DB
}

// NewVerificationRepository creates a new VerificationRepository instance
func NewVerificationRepository(db *gorm.DB) VerificationRepository {
	return &verificationRepository{db: db}
}

func (r *verificationRepository) WithTx(tx *gorm.DB) VerificationRepository {
	return &verificationRepository{db: tx}
}

func (r *verificationRepository) Create(ctx context.Context, verification *models.Verification) error {
	return r.db.WithContext(ctx).Create(verification).Error
}

func (r *verificationRepository) ExistsByCommitment(ctx context.Context, commitment []byte) (bool, error) {
	var count int64
	err := r.db.WithContext(ctx).
		Model(&models.Verification{}).
		Where("commitment = ?", commitment).
		Count(&count).Error
	return count > 0, err
}

// UpdateTxRef records the payout reference
func (r *verificationRepository) UpdateTxRef(ctx context.Context, id, txRef string) error {
	return r.db.WithContext(ctx).
		Model(&models.Verification{}).
		Where("id = ?", id).
		Update("tx_ref", txRef).Error
}

// ListByUser returns the user's most recent verifications
func (r *verificationRepository) ListByUser(ctx context.Context, userID string, limit int) ([]*models.Verification, error) {
	var verifications []*models.Verification
	err := r.db.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("verified_at DESC").
		Limit(limit).
		Find(&verifications).Error
	return verifications, err
}

// CountByUser counts the user's verifications
func (r *verificationRepository) CountByUser(ctx context.Context, userID string) (int64, error) {
	var count int64
	err := r.db.WithContext(ctx).Model(&models.Verification{}).Where("user_id = ?", userID).Count(&count).Error
	return count, err
}
