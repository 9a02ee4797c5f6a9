package services

import (
	"bytes"
	"context"
	"crypto/rand"
	"encoding/csv"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"github.com/Mayorlee0/verify-protocol-mvp/internal/codes"
	"github.com/Mayorlee0/verify-protocol-mvp/internal/interfaces"
	"github.com/Mayorlee0/verify-protocol-mvp/internal/metrics"
	"github.com/Mayorlee0/verify-protocol-mvp/internal/models"
	"github.com/Mayorlee0/verify-protocol-mvp/internal/repository"
	"github.com/Mayorlee0/verify-protocol-mvp/internal/vault"
)

// MaxPackQuantity upper bound on codes generated in one request
const MaxPackQuantity = 100000

const defaultRewardUSDTarget = "0.10"

// SecretSource resolves the commitment secret of a manufacturer
type SecretSource interface {
	ManufacturerSecret(manufacturerID string) ([]byte, error)
}

// CreateBatchInput batch and pack generation request
type CreateBatchInput struct {
	ManufacturerID  string
	SKUCode         string
	SKUName         string
	BatchLabel      string
	ExpiryDate      *time.Time
	Quantity        int
	RewardUSDTarget string
}

// PackDetails pack with the batch and SKU it belongs to
type PackDetails struct {
	Pack  *models.CodePack
	Batch *models.Batch
}

// ManufacturerService batch lifecycle: generation, print confirmation, activation
type ManufacturerService struct {
	db          *gorm.DB
	mfrRepo     repository.ManufacturerRepository
	batchRepo   repository.BatchRepository
	secrets     SecretSource
	vault       *vault.Vault
	ledger      interfaces.Ledger
	publisher   interfaces.EventPublisher
	logger      *logrus.Logger
	downloadTTL time.Duration
	now         func() time.Time
}

// NewManufacturerService creates a ManufacturerService
func NewManufacturerService(
	db *gorm.DB,
	secrets SecretSource,
	v *vault.Vault,
	ledger interfaces.Ledger,
	publisher interfaces.EventPublisher,
	logger *logrus.Logger,
	downloadTTL time.Duration,
) *ManufacturerService {
	return &ManufacturerService{
		db:          db,
		mfrRepo:     repository.NewManufacturerRepository(db),
		batchRepo:   repository.NewBatchRepository(db),
		secrets:     secrets,
		vault:       v,
		ledger:      ledger,
		publisher:   publisher,
		logger:      logger,
		downloadTTL: downloadTTL,
		now:         time.Now,
	}
}

// randomID prefix plus 10 upper-case hex chars
func randomID(prefix string) (string, error) {
	buf := make([]byte, 5)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return prefix + "_" + strings.ToUpper(hex.EncodeToString(buf)), nil
}

func (in *CreateBatchInput) validate() error {
	in.ManufacturerID = strings.TrimSpace(in.ManufacturerID)
	in.SKUCode = strings.TrimSpace(in.SKUCode)
	in.BatchLabel = strings.TrimSpace(in.BatchLabel)
	switch {
	case in.ManufacturerID == "":
		return fmt.Errorf("%w: manufacturer_id is required", ErrInvalidInput)
	case in.SKUCode == "":
		return fmt.Errorf("%w: sku_code is required", ErrInvalidInput)
	case in.BatchLabel == "":
		return fmt.Errorf("%w: batch_label is required", ErrInvalidInput)
	case in.Quantity <= 0 || in.Quantity > MaxPackQuantity:
		return fmt.Errorf("%w: quantity must be between 1 and %d", ErrInvalidInput, MaxPackQuantity)
	}
	if in.SKUName == "" {
		in.SKUName = in.SKUCode
	}
	if in.RewardUSDTarget == "" {
		in.RewardUSDTarget = defaultRewardUSDTarget
	}
	return nil
}

// CreateBatchAndPack creates a batch in CREATED status and a READY pack of freshly generated codes.
// Every row is written in one transaction.
func (s *ManufacturerService) CreateBatchAndPack(ctx context.Context, input CreateBatchInput) (*models.Batch, *models.CodePack, error) {
	if err := input.validate(); err != nil {
		return nil, nil, err
	}

	manufacturer, err := s.mfrRepo.GetByID(ctx, input.ManufacturerID)
	if err != nil {
		if repository.IsNotFound(err) {
			return nil, nil, ErrManufacturerNotFound
		}
		return nil, nil, fmt.Errorf("load manufacturer: %w", err)
	}

	secret, err := s.secrets.ManufacturerSecret(manufacturer.ID)
	if err != nil {
		return nil, nil, fmt.Errorf("manufacturer secret: %w", err)
	}

	batchPublicID, err := randomID("BATCH")
	if err != nil {
		return nil, nil, fmt.Errorf("generate batch id: %w", err)
	}
	packID, err := randomID("PACK")
	if err != nil {
		return nil, nil, fmt.Errorf("generate pack id: %w", err)
	}

	skuHash := codes.DeriveSKUHash(input.SKUCode)
	now := s.now()
	downloadExpiresAt := now.Add(s.downloadTTL)

	// Generation and encryption happen before the transaction opens.
	rows := make([]*models.Code, 0, input.Quantity)
	for i := 0; i < input.Quantity; i++ {
		code, err := codes.Generate()
		if err != nil {
			return nil, nil, fmt.Errorf("generate code: %w", err)
		}
		commitment := codes.DeriveCommitment(secret, code, batchPublicID, skuHash[:])
		sealedCode, err := s.vault.Encrypt(code)
		if err != nil {
			return nil, nil, fmt.Errorf("encrypt code: %w", err)
		}
		sealedQR, err := s.vault.Encrypt(codes.BuildQRPayload(batchPublicID, code))
		if err != nil {
			return nil, nil, fmt.Errorf("encrypt qr payload: %w", err)
		}
		rows = append(rows, &models.Code{
			PackID:         packID,
			CodePlaintext:  &sealedCode,
			QRPayload:      &sealedQR,
			Commitment:     commitment[:],
			OnchainAccount: "PENDING",
		})
	}

	batch := &models.Batch{
		ID:              uuid.NewString(),
		BatchPublicID:   batchPublicID,
		ManufacturerID:  manufacturer.ID,
		BatchLabel:      input.BatchLabel,
		ExpiryDate:      input.ExpiryDate,
		RewardUSDTarget: input.RewardUSDTarget,
		Status:          models.BatchStatusCreated,
	}
	pack := &models.CodePack{
		PackID:            packID,
		Quantity:          input.Quantity,
		Status:            models.PackStatusReady,
		DownloadExpiresAt: &downloadExpiresAt,
	}

	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		mfrRepo := s.mfrRepo.WithTx(tx)
		batchRepo := s.batchRepo.WithTx(tx)

		sku, err := mfrRepo.EnsureSKU(ctx, &models.SKU{
			ID:             uuid.NewString(),
			ManufacturerID: manufacturer.ID,
			SKUCode:        input.SKUCode,
			SKUName:        input.SKUName,
			SKUHash:        skuHash[:],
		})
		if err != nil {
			return fmt.Errorf("resolve sku: %w", err)
		}

		batch.SKUID = sku.ID
		if err := batchRepo.CreateBatch(ctx, batch); err != nil {
			return fmt.Errorf("create batch: %w", err)
		}
		batch.SKU = sku

		pack.BatchID = batch.ID
		if err := batchRepo.CreatePack(ctx, pack); err != nil {
			return fmt.Errorf("create pack: %w", err)
		}

		if err := batchRepo.InsertCodes(ctx, rows); err != nil {
			if repository.IsUniqueViolation(err) {
				return ErrCommitmentCollision
			}
			return fmt.Errorf("insert codes: %w", err)
		}
		return nil
	})
	if err != nil {
		if errors.Is(err, ErrCommitmentCollision) {
			s.logger.WithFields(logrus.Fields{
				"batch_public_id": batchPublicID,
				"pack_id":         packID,
			}).Error("Commitment collision during pack generation")
		}
		return nil, nil, err
	}

	metrics.CodesGenerated.Add(float64(input.Quantity))
	metrics.PacksTotal.WithLabelValues(string(models.PackStatusReady)).Inc()

	s.logger.WithFields(logrus.Fields{
		"manufacturer_id": manufacturer.ID,
		"batch_public_id": batchPublicID,
		"pack_id":         packID,
		"quantity":        input.Quantity,
	}).Info("Batch and pack generated")

	s.publish(ctx, interfaces.EventPackGenerated, map[string]interface{}{
		"manufacturer_id": manufacturer.ID,
		"batch_public_id": batchPublicID,
		"pack_id":         packID,
		"quantity":        input.Quantity,
	})

	return batch, pack, nil
}

// GetPack returns the pack with its batch and SKU.
func (s *ManufacturerService) GetPack(ctx context.Context, packID string) (*PackDetails, error) {
	pack, err := s.batchRepo.GetPack(ctx, packID)
	if err != nil {
		if repository.IsNotFound(err) {
			return nil, ErrPackNotFound
		}
		return nil, fmt.Errorf("load pack: %w", err)
	}
	batch, err := s.batchRepo.GetBatchByID(ctx, pack.BatchID)
	if err != nil {
		return nil, fmt.Errorf("load batch: %w", err)
	}
	return &PackDetails{Pack: pack, Batch: batch}, nil
}

// ConfirmPrinted marks the pack printed and purges its plaintext in the same transaction.
// Confirming an already confirmed pack returns it unchanged.
func (s *ManufacturerService) ConfirmPrinted(ctx context.Context, packID string) (*models.CodePack, error) {
	pack, err := s.batchRepo.GetPack(ctx, packID)
	if err != nil {
		if repository.IsNotFound(err) {
			return nil, ErrPackNotFound
		}
		return nil, fmt.Errorf("load pack: %w", err)
	}

	switch pack.Status {
	case models.PackStatusPrintConfirmed:
		return pack, nil
	case models.PackStatusReady:
	default:
		return nil, ErrPackNotReady
	}

	confirmed, err := s.batchRepo.ConfirmPrinted(ctx, packID, s.now())
	if err != nil {
		return nil, fmt.Errorf("confirm printed: %w", err)
	}

	pack, err = s.batchRepo.GetPack(ctx, packID)
	if err != nil {
		return nil, fmt.Errorf("reload pack: %w", err)
	}
	if !confirmed {
		// A concurrent call won; its timestamps stand.
		return pack, nil
	}

	metrics.PacksTotal.WithLabelValues(string(models.PackStatusPrintConfirmed)).Inc()
	s.logger.WithFields(logrus.Fields{
		"pack_id":  packID,
		"batch_id": pack.BatchID,
	}).Info("Pack print confirmed, plaintext purged")

	s.publish(ctx, interfaces.EventPackPrintConfirmed, map[string]interface{}{
		"pack_id":  packID,
		"batch_id": pack.BatchID,
	})
	return pack, nil
}

// ActivateBatch registers the batch with the ledger and moves it to ACTIVE.
// Requires at least one print-confirmed pack. Activating an ACTIVE batch returns it unchanged.
func (s *ManufacturerService) ActivateBatch(ctx context.Context, batchPublicID string) (*models.Batch, error) {
	batch, err := s.batchRepo.GetBatchByPublicID(ctx, batchPublicID)
	if err != nil {
		if repository.IsNotFound(err) {
			return nil, ErrBatchNotFound
		}
		return nil, fmt.Errorf("load batch: %w", err)
	}
	if batch.Status == models.BatchStatusActive {
		return batch, nil
	}

	printed, err := s.batchRepo.HasPrintConfirmedPack(ctx, batch.ID)
	if err != nil {
		return nil, fmt.Errorf("check packs: %w", err)
	}
	if !printed {
		return nil, ErrPrintNotConfirmed
	}

	txRef, err := s.ledger.RegisterBatch(ctx, batch.BatchPublicID)
	if err != nil {
		s.logger.WithFields(logrus.Fields{
			"batch_public_id": batch.BatchPublicID,
			"error":           err.Error(),
		}).Error("Batch registration failed")
		return nil, wrapDomain(ErrLedger, err)
	}

	if _, err := s.batchRepo.Activate(ctx, batch.ID, txRef, s.now()); err != nil {
		return nil, fmt.Errorf("activate batch: %w", err)
	}

	batch, err = s.batchRepo.GetBatchByID(ctx, batch.ID)
	if err != nil {
		return nil, fmt.Errorf("reload batch: %w", err)
	}

	s.logger.WithFields(logrus.Fields{
		"batch_public_id": batch.BatchPublicID,
		"tx_ref":          batch.ActivatedTxRef,
	}).Info("Batch activated")

	s.publish(ctx, interfaces.EventBatchActivated, map[string]interface{}{
		"batch_public_id": batch.BatchPublicID,
		"tx_ref":          batch.ActivatedTxRef,
	})
	return batch, nil
}

// PackCSVHeader column order of the printer handoff file
var PackCSVHeader = []string{"pack_id", "batch_public_id", "sku_code", "code", "qr_payload", "expires_at", "generated_at"}

// BuildPackCSV decrypts a pack's codes into the printer handoff CSV.
// Fails with ErrPlaintextPurged once the pack is print-confirmed and ErrDownloadExpired after the window.
func (s *ManufacturerService) BuildPackCSV(ctx context.Context, packID string) ([]byte, error) {
	details, err := s.GetPack(ctx, packID)
	if err != nil {
		return nil, err
	}
	pack, batch := details.Pack, details.Batch

	if pack.Purged() || pack.Status == models.PackStatusPrintConfirmed {
		return nil, ErrPlaintextPurged
	}
	if pack.Status != models.PackStatusReady {
		return nil, ErrPackNotReady
	}
	if pack.DownloadExpiresAt != nil && s.now().After(*pack.DownloadExpiresAt) {
		return nil, ErrDownloadExpired
	}

	rows, err := s.batchRepo.ListCodes(ctx, packID)
	if err != nil {
		return nil, fmt.Errorf("list codes: %w", err)
	}

	skuCode := ""
	if batch.SKU != nil {
		skuCode = batch.SKU.SKUCode
	}
	expiresAt := ""
	if pack.DownloadExpiresAt != nil {
		expiresAt = pack.DownloadExpiresAt.UTC().Format(time.RFC3339)
	}
	generatedAt := pack.CreatedAt.UTC().Format(time.RFC3339)

	var buf bytes.Buffer
	w := csv.NewWriter(&buf)
	if err := w.Write(PackCSVHeader); err != nil {
		return nil, err
	}
	for _, row := range rows {
		if row.CodePlaintext == nil || row.QRPayload == nil {
			// purge raced the export
			return nil, ErrPlaintextPurged
		}
		code, err := s.vault.Decrypt(*row.CodePlaintext)
		if err != nil {
			return nil, s.integrityFailure(packID, row, err)
		}
		qr, err := s.vault.Decrypt(*row.QRPayload)
		if err != nil {
			return nil, s.integrityFailure(packID, row, err)
		}
		if err := w.Write([]string{pack.PackID, batch.BatchPublicID, skuCode, code, qr, expiresAt, generatedAt}); err != nil {
			return nil, err
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return nil, err
	}

	metrics.PackDownloads.Inc()
	s.logger.WithFields(logrus.Fields{
		"pack_id":  packID,
		"quantity": len(rows),
	}).Info("Pack plaintext exported")
	return buf.Bytes(), nil
}

func (s *ManufacturerService) integrityFailure(packID string, row *models.Code, err error) error {
	s.logger.WithFields(logrus.Fields{
		"pack_id":    packID,
		"code_id":    row.ID,
		"commitment": row.CommitmentHex(),
		"error":      err.Error(),
	}).Error("Stored code failed to decrypt")
	metrics.IntegrityFailures.Inc()
	return wrapDomain(ErrStoredDataCorrupt, err)
}

func (s *ManufacturerService) publish(ctx context.Context, eventType string, data map[string]interface{}) {
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
