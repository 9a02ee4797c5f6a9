package models

import (
	"encoding/hex"
	"time"
)

// ============ Manufacturer side ============

// Manufacturer owns SKUs and batches. Its code-commitment secret is never stored here.
type Manufacturer struct {
	ID        string    `json:"id" gorm:"primaryKey;size:64"`
	Name      string    `json:"name" gorm:"size:255;not null"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// SKU product type, scoped to a manufacturer
type SKU struct {
	ID             string    `json:"id" gorm:"primaryKey;size:64"`
	ManufacturerID string    `json:"manufacturer_id" gorm:"size:64;not null;uniqueIndex:idx_skus_manufacturer_code"`
	SKUCode        string    `json:"sku_code" gorm:"column:sku_code;size:128;not null;uniqueIndex:idx_skus_manufacturer_code"`
	SKUName        string    `json:"sku_name" gorm:"column:sku_name;size:255"`
	SKUHash        []byte    `json:"-" gorm:"column:sku_hash;not null"` // sha256(sku_code)
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`
}

func (SKU) TableName() string {
	return "skus"
}

// BatchStatus batch lifecycle
type BatchStatus string

const (
	BatchStatusCreated BatchStatus = "CREATED"
	BatchStatusActive  BatchStatus = "ACTIVE" // only after a pack was print-confirmed
)

// Batch one manufacturing run of a SKU
type Batch struct {
	ID              string      `json:"id" gorm:"primaryKey;size:64"`
	BatchPublicID   string      `json:"batch_public_id" gorm:"size:64;not null;uniqueIndex"`
	ManufacturerID  string      `json:"manufacturer_id" gorm:"size:64;not null;index"`
	SKUID           string      `json:"sku_id" gorm:"column:sku_id;size:64;not null;index"`
	SKU             *SKU        `json:"sku,omitempty" gorm:"foreignKey:SKUID"`
	BatchLabel      string      `json:"batch_label" gorm:"size:255;not null"`
	ExpiryDate      *time.Time  `json:"expiry_date,omitempty"`
	RewardUSDTarget string      `json:"reward_usd_target" gorm:"column:reward_usd_target;size:32;default:0.10"`
	Status          BatchStatus `json:"status" gorm:"size:16;not null;default:CREATED;index"`
	ActivatedTxRef  string      `json:"activated_tx_ref,omitempty" gorm:"size:128"`
	ActivatedAt     *time.Time  `json:"activated_at,omitempty"`
	CreatedAt       time.Time   `json:"created_at"`
	UpdatedAt       time.Time   `json:"updated_at"`
}

// PackStatus code pack lifecycle
type PackStatus string

const (
	PackStatusGenerating     PackStatus = "GENERATING"
	PackStatusReady          PackStatus = "READY"
	PackStatusPrintConfirmed PackStatus = "PRINT_CONFIRMED"
)

// CodePack the generated codes of one batch, handed to the printer as a unit
type CodePack struct {
	PackID            string     `json:"pack_id" gorm:"primaryKey;size:32"`
	BatchID           string     `json:"batch_id" gorm:"size:64;not null;index"`
	Quantity          int        `json:"quantity" gorm:"not null"`
	Status            PackStatus `json:"status" gorm:"size:24;not null;default:GENERATING"`
	DownloadExpiresAt *time.Time `json:"download_expires_at,omitempty"`
	PrintConfirmedAt  *time.Time `json:"print_confirmed_at,omitempty"`  // set together with PlaintextPurgedAt
	PlaintextPurgedAt *time.Time `json:"plaintext_purged_at,omitempty"` // set together with PrintConfirmedAt
	CreatedAt         time.Time  `json:"created_at"`
	UpdatedAt         time.Time  `json:"updated_at"`
}

// Purged reports whether the pack's plaintext is gone for good.
func (p *CodePack) Purged() bool {
	return p.PlaintextPurgedAt != nil
}

// Code one printed code. After purge only the commitment identifies it.
type Code struct {
	ID             uint64    `json:"id" gorm:"primaryKey;autoIncrement"`
	PackID         string    `json:"pack_id" gorm:"size:32;not null;index"`
	CodePlaintext  *string   `json:"-" gorm:"column:code_plaintext;type:text"` // vault blob, NULL after purge
	QRPayload      *string   `json:"-" gorm:"column:qr_payload;type:text"`     // vault blob, NULL after purge
	Commitment     []byte    `json:"-" gorm:"not null;uniqueIndex"`
	OnchainAccount string    `json:"onchain_account" gorm:"size:128;default:PENDING"`
	CreatedAt      time.Time `json:"created_at"`
}

// CommitmentHex hex form used in logs and events
func (c *Code) CommitmentHex() string {
	return hex.EncodeToString(c.Commitment)
}
