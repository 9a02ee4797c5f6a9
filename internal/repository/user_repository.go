package repository

import (
	"context"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/Mayorlee0/verify-protocol-mvp/internal/models"
)

// UserRepository defines the interface for User and UserWallet data access
type UserRepository interface {
	// UpsertByEmail returns the user with this email, creating it when absent.
	UpsertByEmail(ctx context.Context, user *models.User) (*models.User, error)
	GetByID(ctx context.Context, id string) (*models.User, error)

	GetWallet(ctx context.Context, userID, chain string) (*models.UserWallet, error)
	// CreateWallet inserts the wallet unless the user already has one on the chain,
	// and returns whichever wallet is stored.
	CreateWallet(ctx context.Context, wallet *models.UserWallet) (*models.UserWallet, error)

	WithTx(tx *gorm.DB) UserRepository
}

// userRepository implements UserRepository
type userRepository struct {
	db *gorm.DB
}

// NewUserRepository creates a new UserRepository instance
func NewUserRepository(db *gorm.DB) UserRepository {
	return &userRepository{db: db}
}

func (r *userRepository) WithTx(tx *gorm.DB) UserRepository {
	return &userRepository{db: tx}
}

func (r *userRepository) UpsertByEmail(ctx context.Context, user *models.User) (*models.User, error) {
	err := r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "email"}},
			DoNothing: true,
		}).
		Create(user).Error
	if err != nil {
		return nil, err
	}

	var existing models.User
	if err := r.db.WithContext(ctx).Where("email = ?", user.Email).First(&existing).Error; err != nil {
		return nil, err
	}
	if user.ProviderUserID != "" && existing.ProviderUserID != user.ProviderUserID {
		existing.ProviderUserID = user.ProviderUserID
		if err := r.db.WithContext(ctx).Model(&existing).Update("provider_user_id", user.ProviderUserID).Error; err != nil {
			return nil, err
		}
	}
	return &existing, nil
}

// GetByID retrieves a user by ID
func (r *userRepository) GetByID(ctx context.Context, id string) (*models.User, error) {
	var user models.User
	if err := r.db.WithContext(ctx).Where("id = ?", id).First(&user).Error; err != nil {
		return nil, err
	}
	return &user, nil
}

// GetWallet retrieves the user's wallet on a chain
func (r *userRepository) GetWallet(ctx context.Context, userID, chain string) (*models.UserWallet, error) {
	var wallet models.UserWallet
	err := r.db.WithContext(ctx).Where("user_id = ? AND chain = ?", userID, chain).First(&wallet).Error
	if err != nil {
		return nil, err
	}
	return &wallet, nil
}

func (r *userRepository) CreateWallet(ctx context.Context, wallet *models.UserWallet) (*models.UserWallet, error) {
	err := r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "user_id"}, {Name: "chain"}},
			DoNothing: true,
		}).
		Create(wallet).Error
	if err != nil {
		return nil, err
	}
	return r.GetWallet(ctx, wallet.UserID, wallet.Chain)
}
