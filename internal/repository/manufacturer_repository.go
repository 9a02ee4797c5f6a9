package repository

import (
	"context"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/Mayorlee0/verify-protocol-mvp/internal/models"
)

// ManufacturerRepository defines the interface for Manufacturer and SKU data access
type ManufacturerRepository interface {
	Create(ctx context.Context, manufacturer *models.Manufacturer) error
	GetByID(ctx context.Context, id string) (*models.Manufacturer, error)
	List(ctx context.Context) ([]*models.Manufacturer, error)

	// EnsureSKU returns the manufacturer's SKU with this code, creating it when absent.
	EnsureSKU(ctx context.Context, sku *models.SKU) (*models.SKU, error)
	GetSKU(ctx context.Context, id string) (*models.SKU, error)

	WithTx(tx *gorm.DB) ManufacturerRepository
}

// manufacturerRepository implements ManufacturerRepository
type manufacturerRepository struct {
	db *gorm.DB
}

// NewManufacturerRepository creates a new ManufacturerRepository instance
func NewManufacturerRepository(db *gorm.DB) ManufacturerRepository {
	return &manufacturerRepository{db: db}
}

func (r *manufacturerRepository) WithTx(tx *gorm.DB) ManufacturerRepository {
	return &manufacturerRepository{db: tx}
}

// Create creates a new manufacturer
func (r *manufacturerRepository) Create(ctx context.Context, manufacturer *models.Manufacturer) error {
	return r.db.WithContext(ctx).Create(manufacturer).Error
}

// GetByID retrieves a manufacturer by ID
func (r *manufacturerRepository) GetByID(ctx context.Context, id string) (*models.Manufacturer, error) {
	var manufacturer models.Manufacturer
	if err := r.db.WithContext(ctx).Where("id = ?", id).First(&manufacturer).Error; err != nil {
		return nil, err
	}
	return &manufacturer, nil
}

// List returns all manufacturers ordered by creation
func (r *manufacturerRepository) List(ctx context.Context) ([]*models.Manufacturer, error) {
	var manufacturers []*models.Manufacturer
	err := r.db.WithContext(ctx).Order("created_at ASC").Find(&manufacturers).Error
	return manufacturers, err
}

func (r *manufacturerRepository) EnsureSKU(ctx context.Context, sku *models.SKU) (*models.SKU, error) {
	err := r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "manufacturer_id"}, {Name: "sku_code"}},
			DoNothing: true,
		}).
		Create(sku).Error
	if err != nil {
		return nil, err
	}

	var existing models.SKU
	err = r.db.WithContext(ctx).
		Where("manufacturer_id = ? AND sku_code = ?", sku.ManufacturerID, sku.SKUCode).
		First(&existing).Error
	if err != nil {
		return nil, err
	}
	return &existing, nil
}

// GetSKU retrieves a SKU by ID
func (r *manufacturerRepository) GetSKU(ctx context.Context, id string) (*models.SKU, error) {
	var sku models.SKU
	if err := r.db.WithContext(ctx).Where("id = ?", id).First(&sku).Error; err != nil {
		return nil, err
	}
	return &sku, nil
}
