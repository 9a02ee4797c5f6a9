package services

import (
	"context"
	"errors"
	"fmt"
	"net/mail"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"github.com/Mayorlee0/verify-protocol-mvp/internal/auth"
	"github.com/Mayorlee0/verify-protocol-mvp/internal/interfaces"
	"github.com/Mayorlee0/verify-protocol-mvp/internal/models"
	"github.com/Mayorlee0/verify-protocol-mvp/internal/repository"
)

const recentVerificationsLimit = 20

// LoginResult session issued after a successful OTP check
type LoginResult struct {
	SessionToken      string
	ExpiresAt         time.Time
	User              *models.User
	HasEmbeddedWallet bool
}

// Profile what a logged-in user sees about themselves
type Profile struct {
	User              *models.User
	Wallet            *models.UserWallet
	LifetimeRewards   int64
	VerificationCount int64
	Recent            []*models.Verification
}

// AuthService email OTP login through the identity provider
type AuthService struct {
	users    repository.UserRepository
	verifs   repository.VerificationRepository
	identity interfaces.IdentityProvider
	sessions *auth.SessionIssuer
	chain    string
	db       *gorm.DB
	logger   *logrus.Logger
}

// NewAuthService creates an AuthService
func NewAuthService(db *gorm.DB, identity interfaces.IdentityProvider, sessions *auth.SessionIssuer, chain string, logger *logrus.Logger) *AuthService {
	return &AuthService{
		users:    repository.NewUserRepository(db),
		verifs:   repository.NewVerificationRepository(db),
		identity: identity,
		sessions: sessions,
		chain:    chain,
		db:       db,
		logger:   logger,
	}
}

func normalizeEmail(email string) (string, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	addr, err := mail.ParseAddress(email)
	if err != nil || addr.Address != email {
		return "", fmt.Errorf("%w: email is malformed", ErrInvalidInput)
	}
	return email, nil
}

// StartOtp asks the identity provider to send a one-time code.
func (s *AuthService) StartOtp(ctx context.Context, email string) (string, error) {
	email, err := normalizeEmail(email)
	if err != nil {
		return "", err
	}
	requestID, err := s.identity.StartOtp(ctx, email)
	if err != nil {
		s.logger.WithField("error", err.Error()).Warn("OTP start failed")
		if errors.Is(err, interfaces.ErrIdentityRejected) {
			return "", wrapDomain(ErrInvalidInput, err)
		}
		return "", wrapDomain(ErrIdentityProvider, err)
	}
	return requestID, nil
}

// VerifyOtp checks the code, upserts the user and issues a session.
func (s *AuthService) VerifyOtp(ctx context.Context, email, otp string) (*LoginResult, error) {
	email, err := normalizeEmail(email)
	if err != nil {
		return nil, err
	}
	otp = strings.TrimSpace(otp)
	if otp == "" {
		return nil, fmt.Errorf("%w: otp is required", ErrInvalidInput)
	}

	identity, err := s.identity.VerifyOtp(ctx, email, otp)
	if err != nil {
		s.logger.WithField("error", err.Error()).Warn("OTP verification failed")
		if errors.Is(err, interfaces.ErrIdentityRejected) {
			return nil, wrapDomain(ErrInvalidOtp, err)
		}
		return nil, wrapDomain(ErrIdentityProvider, err)
	}
	if identity.Email != "" {
		email = strings.ToLower(identity.Email)
	}

	user, err := s.users.UpsertByEmail(ctx, &models.User{
		ID:             uuid.NewString(),
		Email:          email,
		ProviderUserID: identity.ProviderUserID,
	})
	if err != nil {
		return nil, fmt.Errorf("upsert user: %w", err)
	}

	hasWallet := true
	if _, err := s.users.GetWallet(ctx, user.ID, s.chain); err != nil {
		if !repository.IsNotFound(err) {
			return nil, fmt.Errorf("load wallet: %w", err)
		}
		hasWallet = false
	}

	token, expiresAt, err := s.sessions.Issue(user.ID, user.Email)
	if err != nil {
		return nil, err
	}

	s.logger.WithField("user_id", user.ID).Info("User authenticated")
	return &LoginResult{
		SessionToken:      token,
		ExpiresAt:         expiresAt,
		User:              user,
		HasEmbeddedWallet: hasWallet,
	}, nil
}

// Profile returns the user, their wallet and reward totals.
func (s *AuthService) Profile(ctx context.Context, userID string) (*Profile, error) {
	user, err := s.users.GetByID(ctx, userID)
	if err != nil {
		if repository.IsNotFound(err) {
			return nil, ErrUserNotFound
		}
		return nil, fmt.Errorf("load user: %w", err)
	}

	profile := &Profile{User: user}
	wallet, err := s.users.GetWallet(ctx, user.ID, s.chain)
	switch {
	case err == nil:
		profile.Wallet = wallet
	case !repository.IsNotFound(err):
		return nil, fmt.Errorf("load wallet: %w", err)
	}

	var total struct{ Sum int64 }
	if err := s.db.WithContext(ctx).
		Model(&models.Verification{}).
		Select("COALESCE(SUM(reward_amount), 0) AS sum").
		Where("user_id = ?", user.ID).
		Scan(&total).Error; err != nil {
		return nil, fmt.Errorf("sum rewards: %w", err)
	}
	profile.LifetimeRewards = total.Sum

	if profile.VerificationCount, err = s.verifs.CountByUser(ctx, user.ID); err != nil {
		return nil, fmt.Errorf("count verifications: %w", err)
	}
	if profile.Recent, err = s.verifs.ListByUser(ctx, user.ID, recentVerificationsLimit); err != nil {
		return nil, fmt.Errorf("list verifications: %w", err)
	}
	return profile, nil
}
