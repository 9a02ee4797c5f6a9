package dto

import "time"

// ==================== Manufacturer DTOs ====================

// CreateBatchRequest POST /mfg/batches
type CreateBatchRequest struct {
	ManufacturerID  string     `json:"manufacturer_id" binding:"required"`
	SKUCode         string     `json:"sku_code" binding:"required"`
	SKUName         string     `json:"sku_name"`
	BatchLabel      string     `json:"batch_label" binding:"required"`
	ExpiryDate      *time.Time `json:"expiry_date"`
	Quantity        int        `json:"quantity" binding:"required"`
	RewardUSDTarget string     `json:"reward_usd_target"`
}

// CreateBatchResponse created batch and its pack
type CreateBatchResponse struct {
	BatchPublicID string `json:"batch_public_id"`
	Status        string `json:"status"`
	PackID        string `json:"pack_id"`
	PackStatus    string `json:"pack_status"`
	Quantity      int    `json:"quantity"`
}

// PackResponse GET /mfg/packs/:pack_id
type PackResponse struct {
	PackID            string     `json:"pack_id"`
	BatchPublicID     string     `json:"batch_public_id"`
	SKUCode           string     `json:"sku_code,omitempty"`
	Status            string     `json:"status"`
	Quantity          int        `json:"quantity"`
	DownloadURL       string     `json:"download_url,omitempty"`
	ExpiresAt         *time.Time `json:"expires_at"`
	PrintConfirmedAt  *time.Time `json:"print_confirmed_at,omitempty"`
	PlaintextPurgedAt *time.Time `json:"plaintext_purged_at,omitempty"`
}

// ConfirmPrintedResponse POST /mfg/packs/:pack_id/confirm-printed
type ConfirmPrintedResponse struct {
	Status          string     `json:"status"`
	PackID          string     `json:"pack_id"`
	PlaintextPurged bool       `json:"plaintext_purged"`
	PurgedAt        *time.Time `json:"purged_at,omitempty"`
}

// ActivateBatchResponse POST /mfg/batches/:batch_public_id/activate
type ActivateBatchResponse struct {
	BatchPublicID string     `json:"batch_public_id"`
	Status        string     `json:"status"`
	TxRef         string     `json:"tx_ref"`
	ActivatedAt   *time.Time `json:"activated_at,omitempty"`
}
