package services

import (
	"bytes"
	"context"
	"encoding/csv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Mayorlee0/verify-protocol-mvp/internal/codes"
	"github.com/Mayorlee0/verify-protocol-mvp/internal/interfaces"
	"github.com/Mayorlee0/verify-protocol-mvp/internal/models"
)

func defaultBatchInput(quantity int) CreateBatchInput {
	return CreateBatchInput{
		ManufacturerID: "mfr_1",
		SKUCode:        "WIDGET-1",
		SKUName:        "Widget",
		BatchLabel:     "LOT-2026-10",
		Quantity:       quantity,
	}
}

func readPackCSV(t *testing.T, env *testEnv, packID string) [][]string {
	t.Helper()
	raw, err := env.mfg.BuildPackCSV(context.Background(), packID)
	require.NoError(t, err)
	records, err := csv.NewReader(bytes.NewReader(raw)).ReadAll()
	require.NoError(t, err)
	require.Equal(t, PackCSVHeader, records[0])
	return records[1:]
}

func TestCreateBatchAndPackValidation(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	_, _, err := env.mfg.CreateBatchAndPack(ctx, defaultBatchInput(0))
	assert.ErrorIs(t, err, ErrInvalidInput)

	input := defaultBatchInput(1)
	input.BatchLabel = "  "
	_, _, err = env.mfg.CreateBatchAndPack(ctx, input)
	assert.ErrorIs(t, err, ErrInvalidInput)

	input = defaultBatchInput(1)
	input.ManufacturerID = "mfr_missing"
	_, _, err = env.mfg.CreateBatchAndPack(ctx, input)
	assert.ErrorIs(t, err, ErrManufacturerNotFound)
}

func TestCreateBatchAndPackGeneratesCodes(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	batch, pack, err := env.mfg.CreateBatchAndPack(ctx, defaultBatchInput(25))
	require.NoError(t, err)

	assert.Equal(t, models.BatchStatusCreated, batch.Status)
	assert.Regexp(t, `^BATCH_[0-9A-F]{10}$`, batch.BatchPublicID)
	assert.Equal(t, "0.10", batch.RewardUSDTarget)
	assert.Equal(t, models.PackStatusReady, pack.Status)
	assert.Regexp(t, `^PACK_[0-9A-F]{10}$`, pack.PackID)
	require.NotNil(t, pack.DownloadExpiresAt)

	var stored []models.Code
	require.NoError(t, env.db.Where("pack_id = ?", pack.PackID).Find(&stored).Error)
	require.Len(t, stored, 25)

	skuHash := codes.DeriveSKUHash("WIDGET-1")
	secret := []byte("manufacturer-one-secret-0123456789")
	rows := readPackCSV(t, env, pack.PackID)
	require.Len(t, rows, 25)

	commitments := make(map[string]bool)
	for _, c := range stored {
		require.NotNil(t, c.CodePlaintext)
		assert.NotContains(t, *c.CodePlaintext, "-", "plaintext must be sealed at rest")
		commitments[string(c.Commitment)] = true
	}
	for _, row := range rows {
		assert.Equal(t, pack.PackID, row[0])
		assert.Equal(t, batch.BatchPublicID, row[1])
		assert.Equal(t, "WIDGET-1", row[2])
		assert.True(t, codes.Validate(row[3]))
		assert.Equal(t, codes.BuildQRPayload(batch.BatchPublicID, row[3]), row[4])

		expected := codes.DeriveCommitment(secret, row[3], batch.BatchPublicID, skuHash[:])
		assert.True(t, commitments[string(expected[:])], "csv code must match a stored commitment")
	}

	assert.Contains(t, env.publisher.types(), interfaces.EventPackGenerated)
}

func TestCreateBatchAndPackReusesSKU(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	b1, _, err := env.mfg.CreateBatchAndPack(ctx, defaultBatchInput(1))
	require.NoError(t, err)
	b2, _, err := env.mfg.CreateBatchAndPack(ctx, defaultBatchInput(1))
	require.NoError(t, err)

	assert.Equal(t, b1.SKUID, b2.SKUID)
	assert.NotEqual(t, b1.BatchPublicID, b2.BatchPublicID)

	var count int64
	require.NoError(t, env.db.Model(&models.SKU{}).Count(&count).Error)
	assert.Equal(t, int64(1), count)
}

func TestConfirmPrintedPurgesAndBlocksExport(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	_, pack, err := env.mfg.CreateBatchAndPack(ctx, defaultBatchInput(5))
	require.NoError(t, err)

	confirmed, err := env.mfg.ConfirmPrinted(ctx, pack.PackID)
	require.NoError(t, err)
	assert.Equal(t, models.PackStatusPrintConfirmed, confirmed.Status)
	require.NotNil(t, confirmed.PrintConfirmedAt)
	require.NotNil(t, confirmed.PlaintextPurgedAt)
	assert.True(t, confirmed.PrintConfirmedAt.Equal(*confirmed.PlaintextPurgedAt))

	var remaining int64
	require.NoError(t, env.db.Model(&models.Code{}).
		Where("pack_id = ? AND (code_plaintext IS NOT NULL OR qr_payload IS NOT NULL)", pack.PackID).
		Count(&remaining).Error)
	assert.Zero(t, remaining)

	_, err = env.mfg.BuildPackCSV(ctx, pack.PackID)
	assert.ErrorIs(t, err, ErrPlaintextPurged)

	// second confirmation keeps the original timestamps
	env.mfg.now = func() time.Time { return time.Now().Add(time.Hour) }
	again, err := env.mfg.ConfirmPrinted(ctx, pack.PackID)
	require.NoError(t, err)
	assert.True(t, again.PrintConfirmedAt.Equal(*confirmed.PrintConfirmedAt))

	assert.Contains(t, env.publisher.types(), interfaces.EventPackPrintConfirmed)
}

func TestConfirmPrintedUnknownPack(t *testing.T) {
	env := newTestEnv(t)
	_, err := env.mfg.ConfirmPrinted(context.Background(), "PACK_MISSING")
	assert.ErrorIs(t, err, ErrPackNotFound)
}

func TestBuildPackCSVAfterDownloadWindow(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	_, pack, err := env.mfg.CreateBatchAndPack(ctx, defaultBatchInput(1))
	require.NoError(t, err)

	env.mfg.now = func() time.Time { return time.Now().Add(25 * time.Hour) }
	_, err = env.mfg.BuildPackCSV(ctx, pack.PackID)
	assert.ErrorIs(t, err, ErrDownloadExpired)

	_, err = env.mfg.BuildPackCSV(ctx, "PACK_MISSING")
	assert.ErrorIs(t, err, ErrPackNotFound)
}

func TestBuildPackCSVDetectsTampering(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	_, pack, err := env.mfg.CreateBatchAndPack(ctx, defaultBatchInput(1))
	require.NoError(t, err)

	var code models.Code
	require.NoError(t, env.db.Where("pack_id = ?", pack.PackID).First(&code).Error)
	tampered := *code.CodePlaintext
	tampered = tampered[:len(tampered)-4] + "AAA="
	require.NoError(t, env.db.Model(&code).Update("code_plaintext", tampered).Error)

	_, err = env.mfg.BuildPackCSV(ctx, pack.PackID)
	assert.ErrorIs(t, err, ErrStoredDataCorrupt)
}

func TestActivateBatchRequiresPrintConfirmation(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	batch, pack, err := env.mfg.CreateBatchAndPack(ctx, defaultBatchInput(2))
	require.NoError(t, err)

	_, err = env.mfg.ActivateBatch(ctx, batch.BatchPublicID)
	assert.ErrorIs(t, err, ErrPrintNotConfirmed)
	assert.Zero(t, env.ledger.registers.Load())

	_, err = env.mfg.ConfirmPrinted(ctx, pack.PackID)
	require.NoError(t, err)

	active, err := env.mfg.ActivateBatch(ctx, batch.BatchPublicID)
	require.NoError(t, err)
	assert.Equal(t, models.BatchStatusActive, active.Status)
	assert.NotEmpty(t, active.ActivatedTxRef)
	require.NotNil(t, active.ActivatedAt)

	again, err := env.mfg.ActivateBatch(ctx, batch.BatchPublicID)
	require.NoError(t, err)
	assert.Equal(t, active.ActivatedTxRef, again.ActivatedTxRef)
	assert.Equal(t, int64(1), env.ledger.registers.Load())

	_, err = env.mfg.ActivateBatch(ctx, "BATCH_MISSING")
	assert.ErrorIs(t, err, ErrBatchNotFound)
}

func TestActivateBatchLedgerFailure(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	batch, pack, err := env.mfg.CreateBatchAndPack(ctx, defaultBatchInput(1))
	require.NoError(t, err)
	_, err = env.mfg.ConfirmPrinted(ctx, pack.PackID)
	require.NoError(t, err)

	env.ledger.failReg.Store(true)
	_, err = env.mfg.ActivateBatch(ctx, batch.BatchPublicID)
	assert.ErrorIs(t, err, ErrLedger)

	var stored models.Batch
	require.NoError(t, env.db.Where("id = ?", batch.ID).First(&stored).Error)
	assert.Equal(t, models.BatchStatusCreated, stored.Status)
}
