package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	logtest "github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/Mayorlee0/verify-protocol-mvp/internal/codes"
	"github.com/Mayorlee0/verify-protocol-mvp/internal/interfaces"
	"github.com/Mayorlee0/verify-protocol-mvp/internal/models"
	"github.com/Mayorlee0/verify-protocol-mvp/internal/repository"
)

// activeBatch generates a pack, captures its plaintext codes, confirms printing and activates the batch.
func activeBatch(t *testing.T, env *testEnv, quantity int) (*models.Batch, []string) {
	t.Helper()
	ctx := context.Background()

	batch, pack, err := env.mfg.CreateBatchAndPack(ctx, defaultBatchInput(quantity))
	require.NoError(t, err)

	var plain []string
	for _, row := range readPackCSV(t, env, pack.PackID) {
		plain = append(plain, row[3])
	}

	_, err = env.mfg.ConfirmPrinted(ctx, pack.PackID)
	require.NoError(t, err)
	batch, err = env.mfg.ActivateBatch(ctx, batch.BatchPublicID)
	require.NoError(t, err)
	return batch, plain
}

func loadIntent(t *testing.T, env *testEnv, id string) *models.VerifyIntent {
	t.Helper()
	var intent models.VerifyIntent
	require.NoError(t, env.db.Where("id = ?", id).First(&intent).Error)
	return &intent
}

func countVerifications(t *testing.T, env *testEnv) int64 {
	t.Helper()
	var count int64
	require.NoError(t, env.db.Model(&models.Verification{}).Count(&count).Error)
	return count
}

func TestQuoteIssuesIntent(t *testing.T) {
	env := newTestEnv(t)
	batch, plain := activeBatch(t, env, 3)

	intent, err := env.verify.Quote(context.Background(), batch.BatchPublicID, plain[0])
	require.NoError(t, err)

	assert.True(t, strings.HasPrefix(intent.ID, "vfyint_"))
	assert.Len(t, intent.ID, len("vfyint_")+32)
	assert.Equal(t, models.IntentStatusIssued, intent.Status)
	assert.Equal(t, int64(100000), intent.RewardAmount)
	assert.WithinDuration(t, time.Now().Add(120*time.Second), intent.ExpiresAt, 5*time.Second)
	assert.Len(t, intent.Commitment, codes.CommitmentSize)
}

func TestQuoteAcceptsSloppyInput(t *testing.T) {
	env := newTestEnv(t)
	batch, plain := activeBatch(t, env, 1)

	sloppy := strings.ToLower(strings.ReplaceAll(plain[0], "-", ""))
	_, err := env.verify.Quote(context.Background(), batch.BatchPublicID, sloppy)
	require.NoError(t, err)
}

func TestQuoteFromQRPayload(t *testing.T) {
	env := newTestEnv(t)
	batch, plain := activeBatch(t, env, 1)

	_, err := env.verify.QuoteQR(context.Background(), codes.BuildQRPayload(batch.BatchPublicID, plain[0]))
	require.NoError(t, err)

	_, err = env.verify.QuoteQR(context.Background(), "VFY2|"+batch.BatchPublicID+"|"+plain[0])
	assert.ErrorIs(t, err, ErrInvalidInput)
}

func TestQuoteRejections(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	batch, plain := activeBatch(t, env, 2)

	_, err := env.verify.Quote(ctx, "BATCH_UNKNOWN", plain[0])
	assert.ErrorIs(t, err, ErrCodeNotFound)

	_, err = env.verify.Quote(ctx, batch.BatchPublicID, "not-a-code")
	assert.ErrorIs(t, err, ErrInvalidCode)

	other, err := codes.Generate()
	require.NoError(t, err)
	_, err = env.verify.Quote(ctx, batch.BatchPublicID, other)
	assert.ErrorIs(t, err, ErrCodeNotFound)

	// a code from this batch quoted against another active batch
	otherBatch, _ := activeBatch(t, env, 1)
	_, err = env.verify.Quote(ctx, otherBatch.BatchPublicID, plain[0])
	assert.ErrorIs(t, err, ErrCodeNotFound)
}

func TestQuoteInactiveBatch(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	batch, pack, err := env.mfg.CreateBatchAndPack(ctx, defaultBatchInput(1))
	require.NoError(t, err)
	rows := readPackCSV(t, env, pack.PackID)

	_, err = env.verify.Quote(ctx, batch.BatchPublicID, rows[0][3])
	assert.ErrorIs(t, err, ErrBatchNotActive)

	// an unknown code in an inactive batch is reported the same way
	other, err := codes.Generate()
	require.NoError(t, err)
	_, err = env.verify.Quote(ctx, batch.BatchPublicID, other)
	assert.ErrorIs(t, err, ErrBatchNotActive)
}

func TestConfirmPaysOnce(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	batch, plain := activeBatch(t, env, 1)
	user := env.createUser(t, "a@example.com")

	intent, err := env.verify.Quote(ctx, batch.BatchPublicID, plain[0])
	require.NoError(t, err)

	result, err := env.verify.Confirm(ctx, user.ID, intent.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(100000), result.RewardAmount)
	assert.Equal(t, "0xwallet_did:a@example.com", result.WalletAddress)
	assert.Equal(t, "0xpay1", result.TxRef)
	assert.True(t, result.WalletCreated)

	stored := loadIntent(t, env, intent.ID)
	assert.Equal(t, models.IntentStatusConfirmed, stored.Status)
	require.NotNil(t, stored.ConfirmedAt)

	var verification models.Verification
	require.NoError(t, env.db.Where("verify_intent_id = ?", intent.ID).First(&verification).Error)
	assert.Equal(t, "0xpay1", verification.TxRef)
	assert.Equal(t, user.ID, verification.UserID)

	var wallet models.UserWallet
	require.NoError(t, env.db.Where("user_id = ?", user.ID).First(&wallet).Error)
	assert.True(t, wallet.CreatedAfterFirstSuccess)

	_, err = env.verify.Confirm(ctx, user.ID, intent.ID)
	assert.ErrorIs(t, err, ErrIntentAlreadyUsed)

	_, err = env.verify.Quote(ctx, batch.BatchPublicID, plain[0])
	assert.ErrorIs(t, err, ErrCodeUsed)

	assert.Equal(t, int64(1), env.ledger.payouts.Load())
	assert.Contains(t, env.publisher.types(), interfaces.EventVerificationSuccess)
}

func TestConfirmReusesStoredWallet(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	batch, plain := activeBatch(t, env, 2)
	user := env.createUser(t, "a@example.com")

	for i, code := range plain {
		intent, err := env.verify.Quote(ctx, batch.BatchPublicID, code)
		require.NoError(t, err)
		result, err := env.verify.Confirm(ctx, user.ID, intent.ID)
		require.NoError(t, err)
		assert.Equal(t, i == 0, result.WalletCreated)
	}
	assert.Equal(t, int64(1), env.identity.wallets.Load())
	assert.Equal(t, int64(2), env.ledger.payouts.Load())
}

func TestConfirmSecondIntentForRedeemedCode(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	batch, plain := activeBatch(t, env, 1)
	user := env.createUser(t, "a@example.com")

	first, err := env.verify.Quote(ctx, batch.BatchPublicID, plain[0])
	require.NoError(t, err)
	second, err := env.verify.Quote(ctx, batch.BatchPublicID, plain[0])
	require.NoError(t, err)

	_, err = env.verify.Confirm(ctx, user.ID, first.ID)
	require.NoError(t, err)
	_, err = env.verify.Confirm(ctx, user.ID, second.ID)
	assert.ErrorIs(t, err, ErrCodeUsed)
	assert.Equal(t, models.IntentStatusIssued, loadIntent(t, env, second.ID).Status)
}

// staleVerifications never sees an existing redemption, as when two confirms race past the read check.
type staleVerifications struct {
	repository.VerificationRepository
}

func (staleVerifications) ExistsByCommitment(context.Context, []byte) (bool, error) {
	return false, nil
}

func (s staleVerifications) WithTx(tx *gorm.DB) repository.VerificationRepository {
	return staleVerifications{s.VerificationRepository.WithTx(tx)}
}

func TestConfirmUniqueCommitmentBlocksSecondPayout(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	batch, plain := activeBatch(t, env, 1)
	user := env.createUser(t, "a@example.com")

	first, err := env.verify.Quote(ctx, batch.BatchPublicID, plain[0])
	require.NoError(t, err)
	second, err := env.verify.Quote(ctx, batch.BatchPublicID, plain[0])
	require.NoError(t, err)

	_, err = env.verify.Confirm(ctx, user.ID, first.ID)
	require.NoError(t, err)

	env.verify.verifs = staleVerifications{env.verify.verifs}
	_, err = env.verify.Confirm(ctx, user.ID, second.ID)
	assert.ErrorIs(t, err, ErrCodeUsed)
	assert.Equal(t, int64(1), env.ledger.payouts.Load())
	assert.Equal(t, models.IntentStatusIssued, loadIntent(t, env, second.ID).Status)
	assert.Equal(t, int64(1), countVerifications(t, env))
}

func TestConfirmUnknownIntent(t *testing.T) {
	env := newTestEnv(t)
	user := env.createUser(t, "a@example.com")
	_, err := env.verify.Confirm(context.Background(), user.ID, "vfyint_missing")
	assert.ErrorIs(t, err, ErrIntentNotFound)
}

func TestConfirmExpiredIntent(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	batch, plain := activeBatch(t, env, 1)
	user := env.createUser(t, "a@example.com")

	intent, err := env.verify.Quote(ctx, batch.BatchPublicID, plain[0])
	require.NoError(t, err)

	env.verify.now = func() time.Time { return time.Now().Add(121 * time.Second) }
	_, err = env.verify.Confirm(ctx, user.ID, intent.ID)
	assert.ErrorIs(t, err, ErrIntentExpired)
	assert.Equal(t, models.IntentStatusExpired, loadIntent(t, env, intent.ID).Status)

	_, err = env.verify.Confirm(ctx, user.ID, intent.ID)
	assert.ErrorIs(t, err, ErrIntentAlreadyUsed)

	assert.Zero(t, env.ledger.payouts.Load())
	assert.Zero(t, env.identity.wallets.Load(), "no wallet for a request that was going to fail")

	// the code itself is still redeemable with a fresh quote
	env.verify.now = time.Now
	fresh, err := env.verify.Quote(ctx, batch.BatchPublicID, plain[0])
	require.NoError(t, err)
	_, err = env.verify.Confirm(ctx, user.ID, fresh.ID)
	require.NoError(t, err)
}

func TestConfirmPayoutFailureLeavesIntentIssued(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	batch, plain := activeBatch(t, env, 1)
	user := env.createUser(t, "a@example.com")

	intent, err := env.verify.Quote(ctx, batch.BatchPublicID, plain[0])
	require.NoError(t, err)

	env.ledger.failPay.Store(true)
	_, err = env.verify.Confirm(ctx, user.ID, intent.ID)
	assert.ErrorIs(t, err, ErrPayoutFailed)

	assert.Equal(t, models.IntentStatusIssued, loadIntent(t, env, intent.ID).Status)
	assert.Zero(t, countVerifications(t, env))

	env.ledger.failPay.Store(false)
	result, err := env.verify.Confirm(ctx, user.ID, intent.ID)
	require.NoError(t, err)
	assert.Equal(t, models.IntentStatusConfirmed, loadIntent(t, env, intent.ID).Status)
	assert.Equal(t, int64(1), countVerifications(t, env))
	assert.Equal(t, int64(1), env.ledger.payouts.Load())
	assert.NotEmpty(t, result.TxRef)
}

func TestConfirmWalletFailureChangesNothing(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	batch, plain := activeBatch(t, env, 1)
	user := env.createUser(t, "a@example.com")

	intent, err := env.verify.Quote(ctx, batch.BatchPublicID, plain[0])
	require.NoError(t, err)

	env.identity.failWallet.Store(true)
	_, err = env.verify.Confirm(ctx, user.ID, intent.ID)
	assert.ErrorIs(t, err, ErrWalletCreation)

	assert.Equal(t, models.IntentStatusIssued, loadIntent(t, env, intent.ID).Status)
	assert.Zero(t, countVerifications(t, env))
	assert.Zero(t, env.ledger.payouts.Load())
}

func TestConcurrentConfirmsPayExactlyOnce(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	batch, plain := activeBatch(t, env, 1)

	const attempts = 100
	intentIDs := make([]string, attempts)
	userIDs := make([]string, attempts)
	for i := 0; i < attempts; i++ {
		intent, err := env.verify.Quote(ctx, batch.BatchPublicID, plain[0])
		require.NoError(t, err)
		intentIDs[i] = intent.ID
		userIDs[i] = env.createUser(t, fmt.Sprintf("user%d@example.com", i)).ID
	}

	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		successes int
		rejected  int
		other     []error
	)
	start := make(chan struct{})
	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			<-start
			_, err := env.verify.Confirm(ctx, userIDs[i], intentIDs[i])
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				successes++
			case errors.Is(err, ErrCodeUsed), errors.Is(err, ErrIntentAlreadyUsed):
				rejected++
			default:
				other = append(other, err)
			}
		}(i)
	}
	close(start)
	wg.Wait()

	assert.Empty(t, other)
	assert.Equal(t, 1, successes)
	assert.Equal(t, attempts-1, rejected)
	assert.Equal(t, int64(1), env.ledger.payouts.Load())
	assert.Equal(t, int64(1), countVerifications(t, env))
}

func TestExpireStale(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	batch, plain := activeBatch(t, env, 1)

	intent, err := env.verify.Quote(ctx, batch.BatchPublicID, plain[0])
	require.NoError(t, err)

	env.verify.now = func() time.Time { return time.Now().Add(time.Hour) }
	swept, err := env.verify.ExpireStale(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), swept)
	assert.Equal(t, models.IntentStatusExpired, loadIntent(t, env, intent.ID).Status)
}

func TestUnrecordedPayoutIsReconciled(t *testing.T) {
	env := newTestEnv(t)
	batch, plain := activeBatch(t, env, 1)
	user := env.createUser(t, "a@example.com")

	intent, err := env.verify.Quote(context.Background(), batch.BatchPublicID, plain[0])
	require.NoError(t, err)

	// every update fails once the transfer went out, so the tx ref cannot be recorded
	var failUpdates atomic.Bool
	require.NoError(t, env.db.Callback().Update().Before("gorm:update").Register("test:fail_after_pay", func(tx *gorm.DB) {
		if failUpdates.Load() {
			_ = tx.AddError(errors.New("disk I/O error"))
		}
	}))
	env.ledger.afterPay = func() { failUpdates.Store(true) }
	_, err = env.verify.Confirm(context.Background(), user.ID, intent.ID)
	require.Error(t, err)
	env.ledger.afterPay = nil
	failUpdates.Store(false)

	assert.Equal(t, int64(1), env.ledger.payouts.Load())
	assert.Equal(t, int64(0), countVerifications(t, env))
	assert.Equal(t, models.IntentStatusIssued, loadIntent(t, env, intent.ID).Status)

	var record models.UnrecordedPayout
	require.NoError(t, env.db.Where("tx_ref = ?", "0xpay1").First(&record).Error)
	assert.Equal(t, models.UnrecordedPayoutStatusPending, record.Status)
	assert.Equal(t, intent.ID, record.VerifyIntentID)
	assert.Equal(t, user.ID, record.UserID)
	assert.Equal(t, "0xwallet_did:a@example.com", record.Destination)
	assert.Contains(t, env.publisher.types(), interfaces.EventPayoutUnrecorded)

	resolved, err := env.verify.ReconcileUnrecordedPayouts(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, resolved)

	var verification models.Verification
	require.NoError(t, env.db.Where("verify_intent_id = ?", intent.ID).First(&verification).Error)
	assert.Equal(t, "0xpay1", verification.TxRef)
	assert.Equal(t, models.IntentStatusConfirmed, loadIntent(t, env, intent.ID).Status)

	require.NoError(t, env.db.Where("id = ?", record.ID).First(&record).Error)
	assert.Equal(t, models.UnrecordedPayoutStatusRecorded, record.Status)
	assert.NotNil(t, record.ResolvedAt)
	assert.Contains(t, env.publisher.types(), interfaces.EventPayoutReconciled)

	_, err = env.verify.Quote(context.Background(), batch.BatchPublicID, plain[0])
	assert.ErrorIs(t, err, ErrCodeUsed)

	resolved, err = env.verify.ReconcileUnrecordedPayouts(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, resolved)
}

func TestReconcileClosesDuplicatePayout(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	batch, plain := activeBatch(t, env, 1)
	user := env.createUser(t, "a@example.com")

	first, err := env.verify.Quote(ctx, batch.BatchPublicID, plain[0])
	require.NoError(t, err)
	second, err := env.verify.Quote(ctx, batch.BatchPublicID, plain[0])
	require.NoError(t, err)
	_, err = env.verify.Confirm(ctx, user.ID, first.ID)
	require.NoError(t, err)

	record := &models.UnrecordedPayout{
		ID:             "unrec_1",
		VerifyIntentID: second.ID,
		BatchID:        second.BatchID,
		UserID:         user.ID,
		Commitment:     second.Commitment,
		Destination:    "0xwallet_did:a@example.com",
		Amount:         second.RewardAmount,
		TxRef:          "0xlate",
		Status:         models.UnrecordedPayoutStatusPending,
		MaxRetries:     10,
		NextRetryAt:    time.Now().Add(-time.Second),
	}
	require.NoError(t, env.db.Create(record).Error)

	resolved, err := env.verify.ReconcileUnrecordedPayouts(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, resolved)
	assert.Equal(t, int64(1), countVerifications(t, env))

	require.NoError(t, env.db.Where("id = ?", record.ID).First(record).Error)
	assert.Equal(t, models.UnrecordedPayoutStatusDuplicate, record.Status)
	assert.Equal(t, models.IntentStatusIssued, loadIntent(t, env, second.ID).Status)
}

func TestReconcileRecordsPayoutForExpiredIntent(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	batch, plain := activeBatch(t, env, 1)
	user := env.createUser(t, "a@example.com")
	logger, hook := logtest.NewNullLogger()
	env.verify.logger = logger

	intent, err := env.verify.Quote(ctx, batch.BatchPublicID, plain[0])
	require.NoError(t, err)
	require.NoError(t, env.db.Model(&models.VerifyIntent{}).Where("id = ?", intent.ID).
		Update("status", models.IntentStatusExpired).Error)

	record := &models.UnrecordedPayout{
		ID:             "unrec_1",
		VerifyIntentID: intent.ID,
		BatchID:        intent.BatchID,
		UserID:         user.ID,
		Commitment:     intent.Commitment,
		Destination:    "0xwallet_did:a@example.com",
		Amount:         intent.RewardAmount,
		TxRef:          "0xlate",
		Status:         models.UnrecordedPayoutStatusPending,
		MaxRetries:     10,
		NextRetryAt:    time.Now().Add(-time.Second),
	}
	require.NoError(t, env.db.Create(record).Error)

	resolved, err := env.verify.ReconcileUnrecordedPayouts(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, resolved)
	assert.Equal(t, int64(1), countVerifications(t, env))
	assert.Equal(t, models.IntentStatusExpired, loadIntent(t, env, intent.ID).Status)

	var warned bool
	for _, entry := range hook.AllEntries() {
		if entry.Level == logrus.WarnLevel && entry.Data["verify_intent_id"] == intent.ID {
			warned = true
		}
	}
	assert.True(t, warned, "unclaimed intent is logged")
}
