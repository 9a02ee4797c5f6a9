package services

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"github.com/Mayorlee0/verify-protocol-mvp/internal/codes"
	"github.com/Mayorlee0/verify-protocol-mvp/internal/interfaces"
	"github.com/Mayorlee0/verify-protocol-mvp/internal/metrics"
	"github.com/Mayorlee0/verify-protocol-mvp/internal/models"
	"github.com/Mayorlee0/verify-protocol-mvp/internal/repository"
)

const (
	intentIDPrefix      = "vfyint_"
	reconcileBatchLimit = 50
)

// ConfirmResult outcome of a successful confirmation
type ConfirmResult struct {
	VerificationID string
	RewardAmount   int64
	WalletAddress  string
	TxRef          string
	WalletCreated  bool
}

// VerificationService quote and confirm state machine for redemption intents
type VerificationService struct {
	db        *gorm.DB
	batchRepo repository.BatchRepository
	intents   repository.IntentRepository
	verifs    repository.VerificationRepository
	users     repository.UserRepository
	payouts   repository.UnrecordedPayoutRepository
	secrets   SecretSource
	identity  interfaces.IdentityProvider
	ledger    interfaces.Ledger
	publisher interfaces.EventPublisher
	logger    *logrus.Logger
	reward    int64
	intentTTL time.Duration
	now       func() time.Time
}

// NewVerificationService creates a VerificationService
func NewVerificationService(
	db *gorm.DB,
	secrets SecretSource,
	identity interfaces.IdentityProvider,
	ledger interfaces.Ledger,
	publisher interfaces.EventPublisher,
	logger *logrus.Logger,
	reward int64,
	intentTTL time.Duration,
) *VerificationService {
	return &VerificationService{
		db:        db,
		batchRepo: repository.NewBatchRepository(db),
		intents:   repository.NewIntentRepository(db),
		verifs:    repository.NewVerificationRepository(db),
		users:     repository.NewUserRepository(db),
		payouts:   repository.NewUnrecordedPayoutRepository(db),
		secrets:   secrets,
		identity:  identity,
		ledger:    ledger,
		publisher: publisher,
		logger:    logger,
		reward:    reward,
		intentTTL: intentTTL,
		now:       time.Now,
	}
}

func newIntentID() (string, error) {
	buf := make([]byte, 16)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return intentIDPrefix + hex.EncodeToString(buf), nil
}

// QuoteQR issues an intent from a scanned QR payload.
func (s *VerificationService) QuoteQR(ctx context.Context, payload string) (*models.VerifyIntent, error) {
	parsed, err := codes.ParseQRPayload(payload)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}
	return s.Quote(ctx, parsed.BatchPublicID, parsed.Code)
}

// Quote issues a short-lived intent for a code that exists, belongs to an active batch and is unredeemed.
func (s *VerificationService) Quote(ctx context.Context, batchPublicID, code string) (*models.VerifyIntent, error) {
	normalized, err := codes.Normalize(code)
	if err != nil {
		metrics.QuotesTotal.WithLabelValues(ErrInvalidCode.Code).Inc()
		return nil, ErrInvalidCode
	}

	batch, err := s.batchRepo.GetBatchByPublicID(ctx, batchPublicID)
	if err != nil {
		if repository.IsNotFound(err) {
			metrics.QuotesTotal.WithLabelValues(ErrCodeNotFound.Code).Inc()
			return nil, ErrCodeNotFound
		}
		return nil, fmt.Errorf("load batch: %w", err)
	}
	if batch.Status != models.BatchStatusActive {
		metrics.QuotesTotal.WithLabelValues(ErrBatchNotActive.Code).Inc()
		return nil, ErrBatchNotActive
	}

	commitment, err := s.commitmentFor(batch, normalized)
	if err != nil {
		return nil, err
	}

	found, err := s.batchRepo.CommitmentInBatch(ctx, commitment, batch.ID)
	if err != nil {
		return nil, fmt.Errorf("lookup commitment: %w", err)
	}
	if !found {
		metrics.QuotesTotal.WithLabelValues(ErrCodeNotFound.Code).Inc()
		return nil, ErrCodeNotFound
	}

	used, err := s.verifs.ExistsByCommitment(ctx, commitment)
	if err != nil {
		return nil, fmt.Errorf("check verification: %w", err)
	}
	if used {
		metrics.QuotesTotal.WithLabelValues(ErrCodeUsed.Code).Inc()
		return nil, ErrCodeUsed
	}

	id, err := newIntentID()
	if err != nil {
		return nil, fmt.Errorf("generate intent id: %w", err)
	}
	intent := &models.VerifyIntent{
		ID:              id,
		BatchID:         batch.ID,
		Commitment:      commitment,
		RewardAmount:    s.reward,
		RewardUSDTarget: batch.RewardUSDTarget,
		ExpiresAt:       s.now().Add(s.intentTTL),
		Status:          models.IntentStatusIssued,
	}
	if err := s.intents.Create(ctx, intent); err != nil {
		return nil, fmt.Errorf("create intent: %w", err)
	}

	metrics.QuotesTotal.WithLabelValues("ELIGIBLE").Inc()
	s.logger.WithFields(logrus.Fields{
		"verify_intent_id": intent.ID,
		"batch_public_id":  batch.BatchPublicID,
		"expires_at":       intent.ExpiresAt,
	}).Info("Verify intent issued")
	return intent, nil
}

func (s *VerificationService) commitmentFor(batch *models.Batch, code string) ([]byte, error) {
	if batch.SKU == nil {
		return nil, fmt.Errorf("batch %s has no sku loaded", batch.ID)
	}
	secret, err := s.secrets.ManufacturerSecret(batch.ManufacturerID)
	if err != nil {
		return nil, fmt.Errorf("manufacturer secret: %w", err)
	}
	commitment := codes.DeriveCommitment(secret, code, batch.BatchPublicID, batch.SKU.SKUHash)
	return commitment[:], nil
}

// Confirm redeems an intent for the user and pays the reward exactly once per commitment.
//
// The intent claim, the Verification insert and the wallet insert share one transaction that
// stays open across the payout call. A concurrent confirm for the same commitment blocks on the
// unique index until this one commits (and then sees CodeUsed) or rolls back after a failed
// payout (and then proceeds). A failed payout leaves the intent ISSUED with no Verification.
func (s *VerificationService) Confirm(ctx context.Context, userID, intentID string) (*ConfirmResult, error) {
	start := s.now()
	result, err := s.confirm(ctx, userID, intentID)
	outcome := "VERIFIED"
	if err != nil {
		outcome = "ERROR"
		if de, ok := AsDomainError(err); ok {
			outcome = de.Code
		}
	}
	metrics.ConfirmsTotal.WithLabelValues(outcome).Inc()
	metrics.ConfirmDuration.Observe(s.now().Sub(start).Seconds())
	return result, err
}

func (s *VerificationService) confirm(ctx context.Context, userID, intentID string) (*ConfirmResult, error) {
	intent, err := s.intents.GetByID(ctx, intentID)
	if err != nil {
		if repository.IsNotFound(err) {
			return nil, ErrIntentNotFound
		}
		return nil, fmt.Errorf("load intent: %w", err)
	}
	if intent.Status != models.IntentStatusIssued {
		return nil, ErrIntentAlreadyUsed
	}
	if intent.Expired(s.now()) {
		if _, err := s.intents.MarkExpired(ctx, intent.ID); err != nil {
			return nil, fmt.Errorf("expire intent: %w", err)
		}
		return nil, ErrIntentExpired
	}

	used, err := s.verifs.ExistsByCommitment(ctx, intent.Commitment)
	if err != nil {
		return nil, fmt.Errorf("check verification: %w", err)
	}
	if used {
		return nil, ErrCodeUsed
	}

	user, err := s.users.GetByID(ctx, userID)
	if err != nil {
		if repository.IsNotFound(err) {
			return nil, ErrUserNotFound
		}
		return nil, fmt.Errorf("load user: %w", err)
	}

	wallet, walletCreated, err := s.resolveWallet(ctx, user)
	if err != nil {
		return nil, err
	}

	now := s.now()
	verification := &models.Verification{
		ID:             uuid.NewString(),
		BatchID:        intent.BatchID,
		UserID:         user.ID,
		VerifyIntentID: intent.ID,
		Commitment:     intent.Commitment,
		RewardAmount:   intent.RewardAmount,
		Result:         models.VerificationResultSuccess,
		VerifiedAt:     now,
	}

	var txRef string
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		claimed, err := s.intents.WithTx(tx).MarkConfirmed(ctx, intent.ID, now)
		if err != nil {
			return fmt.Errorf("claim intent: %w", err)
		}
		if !claimed {
			return ErrIntentAlreadyUsed
		}

		verifs := s.verifs.WithTx(tx)
		if err := verifs.Create(ctx, verification); err != nil {
			if repository.IsUniqueViolation(err) {
				return ErrCodeUsed
			}
			return fmt.Errorf("insert verification: %w", err)
		}

		if walletCreated {
			stored, err := s.users.WithTx(tx).CreateWallet(ctx, wallet)
			if err != nil {
				return fmt.Errorf("insert wallet: %w", err)
			}
			// a concurrent confirm may have stored the user's wallet first
			walletCreated = stored.ID == wallet.ID
			wallet = stored
		}

		ref, err := s.ledger.PayOut(ctx, interfaces.PayoutRequest{
			Commitment:  intent.Commitment,
			Amount:      intent.RewardAmount,
			Destination: wallet.WalletAddress,
		})
		if err != nil {
			return wrapDomain(ErrPayoutFailed, err)
		}
		txRef = ref

		if err := verifs.UpdateTxRef(ctx, verification.ID, ref); err != nil {
			return fmt.Errorf("record tx ref: %w", err)
		}
		return nil
	})
	if err != nil {
		if txRef != "" {
			// The transfer went out but the record did not commit.
			s.reportUnrecordedPayout(ctx, intent, user.ID, wallet.WalletAddress, txRef, err)
		}
		if errors.Is(err, ErrPayoutFailed) {
			s.logger.WithFields(logrus.Fields{
				"verify_intent_id": intent.ID,
				"error":            err.Error(),
			}).Warn("Payout failed, intent left ISSUED for retry")
		}
		return nil, err
	}

	metrics.RewardsPaid.Add(float64(intent.RewardAmount))
	s.logger.WithFields(logrus.Fields{
		"verify_intent_id": intent.ID,
		"verification_id":  verification.ID,
		"user_id":          user.ID,
		"tx_ref":           txRef,
		"reward_amount":    intent.RewardAmount,
	}).Info("Verification confirmed")

	s.publish(ctx, interfaces.EventVerificationSuccess, map[string]interface{}{
		"verification_id": verification.ID,
		"batch_id":        intent.BatchID,
		"commitment":      intent.CommitmentHex(),
		"reward_amount":   intent.RewardAmount,
		"tx_ref":          txRef,
	})

	return &ConfirmResult{
		VerificationID: verification.ID,
		RewardAmount:   intent.RewardAmount,
		WalletAddress:  wallet.WalletAddress,
		TxRef:          txRef,
		WalletCreated:  walletCreated,
	}, nil
}

// resolveWallet returns the user's stored wallet, or asks the identity provider for a new one.
// A new wallet is only persisted by the confirm transaction.
func (s *VerificationService) resolveWallet(ctx context.Context, user *models.User) (*models.UserWallet, bool, error) {
	chain := s.ledger.Chain()
	wallet, err := s.users.GetWallet(ctx, user.ID, chain)
	if err == nil {
		return wallet, false, nil
	}
	if !repository.IsNotFound(err) {
		return nil, false, fmt.Errorf("load wallet: %w", err)
	}

	address, err := s.identity.CreateWallet(ctx, user.ProviderUserID)
	if err != nil {
		s.logger.WithFields(logrus.Fields{
			"user_id": user.ID,
			"error":   err.Error(),
		}).Warn("Wallet creation failed")
		return nil, false, wrapDomain(ErrWalletCreation, err)
	}
	if !s.ledger.ValidAddress(address) {
		return nil, false, wrapDomain(ErrWalletCreation, fmt.Errorf("provider returned invalid address %q", address))
	}

	return &models.UserWallet{
		ID:                       uuid.NewString(),
		UserID:                   user.ID,
		Chain:                    chain,
		WalletAddress:            address,
		CreatedAfterFirstSuccess: true,
	}, true, nil
}

func (s *VerificationService) reportUnrecordedPayout(ctx context.Context, intent *models.VerifyIntent, userID, destination, txRef string, cause error) {
	metrics.UnrecordedPayouts.Inc()
	fields := logrus.Fields{
		"verify_intent_id": intent.ID,
		"commitment":       intent.CommitmentHex(),
		"destination":      destination,
		"tx_ref":           txRef,
		"error":            cause.Error(),
	}

	now := s.now()
	record := &models.UnrecordedPayout{
		ID:             uuid.NewString(),
		VerifyIntentID: intent.ID,
		BatchID:        intent.BatchID,
		UserID:         userID,
		Commitment:     intent.Commitment,
		Destination:    destination,
		Amount:         intent.RewardAmount,
		TxRef:          txRef,
		Status:         models.UnrecordedPayoutStatusPending,
		MaxRetries:     10,
		NextRetryAt:    now,
		OriginalError:  cause.Error(),
	}
	// the request context may already be cancelled, which is often why the commit failed
	if err := s.payouts.Create(context.WithoutCancel(ctx), record); err != nil {
		fields["persist_error"] = err.Error()
		s.logger.WithFields(fields).Error("Payout sent but verification not recorded and reconciliation record lost, manual reconciliation required")
	} else {
		fields["unrecorded_payout_id"] = record.ID
		s.logger.WithFields(fields).Error("Payout sent but verification not recorded, queued for reconciliation")
	}

	s.publish(ctx, interfaces.EventPayoutUnrecorded, map[string]interface{}{
		"verify_intent_id": intent.ID,
		"commitment":       intent.CommitmentHex(),
		"destination":      destination,
		"tx_ref":           txRef,
	})
}

// ReconcileUnrecordedPayouts writes the missing Verification for payouts that reached the
// ledger after their confirm transaction rolled back. A record whose commitment was verified
// in the meantime is closed as DUPLICATE. Returns the number of records resolved.
func (s *VerificationService) ReconcileUnrecordedPayouts(ctx context.Context) (int, error) {
	due, err := s.payouts.ListDue(ctx, s.now(), reconcileBatchLimit)
	if err != nil {
		return 0, fmt.Errorf("list unrecorded payouts: %w", err)
	}

	resolved := 0
	for _, record := range due {
		if ctx.Err() != nil {
			return resolved, ctx.Err()
		}
		status, err := s.reconcile(ctx, record)
		if err != nil {
			record.IncrementRetry(err.Error(), s.now())
			metrics.PayoutReconciliations.WithLabelValues("retry").Inc()
			s.logger.WithFields(logrus.Fields{
				"unrecorded_payout_id": record.ID,
				"retry_count":          record.RetryCount,
				"status":               record.Status,
				"error":                err.Error(),
			}).Warn("Payout reconciliation failed")
			if saveErr := s.payouts.Save(ctx, record); saveErr != nil {
				return resolved, fmt.Errorf("save unrecorded payout %s: %w", record.ID, saveErr)
			}
			continue
		}

		resolved++
		metrics.PayoutReconciliations.WithLabelValues(string(status)).Inc()
		fields := logrus.Fields{
			"unrecorded_payout_id": record.ID,
			"verify_intent_id":     record.VerifyIntentID,
			"commitment":           record.CommitmentHex(),
			"tx_ref":               record.TxRef,
		}
		if status == models.UnrecordedPayoutStatusDuplicate {
			s.logger.WithFields(fields).Error("Commitment was paid twice, reconciliation closed as duplicate")
		} else {
			s.logger.WithFields(fields).Info("Unrecorded payout reconciled")
		}
		s.publish(ctx, interfaces.EventPayoutReconciled, map[string]interface{}{
			"verify_intent_id": record.VerifyIntentID,
			"commitment":       record.CommitmentHex(),
			"tx_ref":           record.TxRef,
			"status":           string(status),
		})
	}
	return resolved, nil
}

func (s *VerificationService) reconcile(ctx context.Context, record *models.UnrecordedPayout) (models.UnrecordedPayoutStatus, error) {
	status := models.UnrecordedPayoutStatusRecorded
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		now := s.now()
		verifs := s.verifs.WithTx(tx)

		used, err := verifs.ExistsByCommitment(ctx, record.Commitment)
		if err != nil {
			return fmt.Errorf("check verification: %w", err)
		}
		if used {
			status = models.UnrecordedPayoutStatusDuplicate
		} else {
			claimed, err := s.intents.WithTx(tx).MarkConfirmed(ctx, record.VerifyIntentID, now)
			if err != nil {
				return fmt.Errorf("claim intent: %w", err)
			}
			if !claimed {
				// the intent expired or was swept since, the payout still happened
				s.logger.WithFields(logrus.Fields{
					"verify_intent_id": record.VerifyIntentID,
					"commitment":       record.CommitmentHex(),
					"tx_ref":           record.TxRef,
				}).Warn("Recording payout for an intent that is no longer issued")
			}
			verification := &models.Verification{
				ID:             uuid.NewString(),
				BatchID:        record.BatchID,
				UserID:         record.UserID,
				VerifyIntentID: record.VerifyIntentID,
				Commitment:     record.Commitment,
				RewardAmount:   record.Amount,
				TxRef:          record.TxRef,
				Result:         models.VerificationResultSuccess,
				VerifiedAt:     now,
			}
			if err := verifs.Create(ctx, verification); err != nil {
				if repository.IsUniqueViolation(err) {
					return ErrCodeUsed
				}
				return fmt.Errorf("insert verification: %w", err)
			}
		}

		record.Resolve(status, now)
		return s.payouts.WithTx(tx).Save(ctx, record)
	})
	if err != nil {
		return "", err
	}
	return status, nil
}

// ExpireStale sweeps issued intents past their deadline. Confirm does not depend on it.
func (s *VerificationService) ExpireStale(ctx context.Context) (int64, error) {
	return s.intents.ExpireBefore(ctx, s.now())
}

func (s *VerificationService) publish(ctx context.Context, eventType string, data map[string]interface{}) {
	if s.publisher == nil {
		return
	}
	event := interfaces.Event{Type: eventType, Data: data, Timestamp: s.now().UTC()}
	if err := s.publisher.Publish(ctx, event); err != nil {
		s.logger.WithFields(logrus.Fields{
			"event": eventType,
			"error": err.Error(),
		}).Warn("Failed to publish event")
	}
}
