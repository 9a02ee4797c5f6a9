package repository

import (
	"context"
	"time"

	"gorm.io/gorm"

	"github.com/Mayorlee0/verify-protocol-mvp/internal/models"
)

// BatchRepository defines the interface for Batch, CodePack and Code data access
type BatchRepository interface {
	CreateBatch(ctx context.Context, batch *models.Batch) error
	GetBatchByID(ctx context.Context, id string) (*models.Batch, error)
	GetBatchByPublicID(ctx context.Context, batchPublicID string) (*models.Batch, error)
	// Activate moves a CREATED batch to ACTIVE. Returns false if it was not CREATED.
	Activate(ctx context.Context, batchID, txRef string, at time.Time) (bool, error)

	CreatePack(ctx context.Context, pack *models.CodePack) error
	GetPack(ctx context.Context, packID string) (*models.CodePack, error)
	UpdatePackStatus(ctx context.Context, packID string, status models.PackStatus) error
	HasPrintConfirmedPack(ctx context.Context, batchID string) (bool, error)
	// ConfirmPrinted flips a READY pack to PRINT_CONFIRMED and purges its plaintext.
	// Returns false if the pack was not READY.
	ConfirmPrinted(ctx context.Context, packID string, at time.Time) (bool, error)

	InsertCodes(ctx context.Context, codes []*models.Code) error
	ListCodes(ctx context.Context, packID string) ([]*models.Code, error)
	CountCodes(ctx context.Context, packID string) (int64, error)
	// CommitmentInBatch reports whether a code with this commitment was issued in the batch.
	CommitmentInBatch(ctx context.Context, commitment []byte, batchID string) (bool, error)

	WithTx(tx *gorm.DB) BatchRepository
}

// batchRepository implements BatchRepository
type batchRepository struct {
	db *gorm.DB
}

const codeInsertBatchSize = 500

// NewBatchRepository creates a new BatchRepository instance
func NewBatchRepository(db *gorm.DB) BatchRepository {
	return &batchRepository{db: db}
}

func (r *batchRepository) WithTx(tx *gorm.DB) BatchRepository {
	return &batchRepository{db: tx}
}

// CreateBatch creates a new batch
func (r *batchRepository) CreateBatch(ctx context.Context, batch *models.Batch) error {
	return r.db.WithContext(ctx).Omit("SKU").Create(batch).Error
}

// GetBatchByID retrieves a batch by ID, with its SKU
func (r *batchRepository) GetBatchByID(ctx context.Context, id string) (*models.Batch, error) {
	var batch models.Batch
	if err := r.db.WithContext(ctx).Preload("SKU").Where("id = ?", id).First(&batch).Error; err != nil {
		return nil, err
	}
	return &batch, nil
}

// GetBatchByPublicID retrieves a batch by its printed identifier, with its SKU
func (r *batchRepository) GetBatchByPublicID(ctx context.Context, batchPublicID string) (*models.Batch, error) {
	var batch models.Batch
	err := r.db.WithContext(ctx).Preload("SKU").Where("batch_public_id = ?", batchPublicID).First(&batch).Error
	if err != nil {
		return nil, err
	}
	return &batch, nil
}

func (r *batchRepository) Activate(ctx context.Context, batchID, txRef string, at time.Time) (bool, error) {
	result := r.db.WithContext(ctx).
		Model(&models.Batch{}).
		Where("id = ? AND status = ?", batchID, models.BatchStatusCreated).
		Updates(map[string]interface{}{
			"status":           models.BatchStatusActive,
			"activated_tx_ref": txRef,
			"activated_at":     at,
		})
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected == 1, nil
}

// CreatePack creates a new code pack
func (r *batchRepository) CreatePack(ctx context.Context, pack *models.CodePack) error {
	return r.db.WithContext(ctx).Create(pack).Error
}

// GetPack retrieves a pack by ID
func (r *batchRepository) GetPack(ctx context.Context, packID string) (*models.CodePack, error) {
	var pack models.CodePack
	if err := r.db.WithContext(ctx).Where("pack_id = ?", packID).First(&pack).Error; err != nil {
		return nil, err
	}
	return &pack, nil
}

// UpdatePackStatus sets a pack's status
func (r *batchRepository) UpdatePackStatus(ctx context.Context, packID string, status models.PackStatus) error {
	return r.db.WithContext(ctx).
		Model(&models.CodePack{}).
		Where("pack_id = ?", packID).
		Update("status", status).Error
}

func (r *batchRepository) HasPrintConfirmedPack(ctx context.Context, batchID string) (bool, error) {
	var count int64
	err := r.db.WithContext(ctx).
		Model(&models.CodePack{}).
		Where("batch_id = ? AND status = ?", batchID, models.PackStatusPrintConfirmed).
		Count(&count).Error
	return count > 0, err
}

func (r *batchRepository) ConfirmPrinted(ctx context.Context, packID string, at time.Time) (bool, error) {
	confirmed := false
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		result := tx.Model(&models.CodePack{}).
			Where("pack_id = ? AND status = ?", packID, models.PackStatusReady).
			Updates(map[string]interface{}{
				"status":              models.PackStatusPrintConfirmed,
				"print_confirmed_at":  at,
				"plaintext_purged_at": at,
			})
		if result.Error != nil {
			return result.Error
		}
		if result.RowsAffected == 0 {
			return nil
		}

		if err := tx.Model(&models.Code{}).
			Where("pack_id = ?", packID).
			Updates(map[string]interface{}{
				"code_plaintext": gorm.Expr("NULL"),
				"qr_payload":     gorm.Expr("NULL"),
			}).Error; err != nil {
			return err
		}
		confirmed = true
		return nil
	})
	return confirmed, err
}

// InsertCodes bulk-inserts generated codes
func (r *batchRepository) InsertCodes(ctx context.Context, codes []*models.Code) error {
	return r.db.WithContext(ctx).CreateInBatches(codes, codeInsertBatchSize).Error
}

// ListCodes returns a pack's codes in generation order
func (r *batchRepository) ListCodes(ctx context.Context, packID string) ([]*models.Code, error) {
	var codes []*models.Code
	err := r.db.WithContext(ctx).Where("pack_id = ?", packID).Order("id ASC").Find(&codes).Error
	return codes, err
}

// CountCodes counts a pack's codes
func (r *batchRepository) CountCodes(ctx context.Context, packID string) (int64, error) {
	var count int64
	err := r.db.WithContext(ctx).Model(&models.Code{}).Where("pack_id = ?", packID).Count(&count).Error
	return count, err
}

func (r *batchRepository) CommitmentInBatch(ctx context.Context, commitment []byte, batchID string) (bool, error) {
	var count int64
	err := r.db.WithContext(ctx).
		Model(&models.Code{}).
		Joins("JOIN code_packs ON code_packs.pack_id = codes.pack_id").
		Where("codes.commitment = ? AND code_packs.batch_id = ?", commitment, batchID).
		Count(&count).Error
	return count > 0, err
}
