package models

import (
	"encoding/hex"
	"time"
)

// ============ Redemption side ============

// IntentStatus verify intent lifecycle: ISSUED -> CONFIRMED | EXPIRED
type IntentStatus string

const (
	IntentStatusIssued    IntentStatus = "ISSUED"
	IntentStatusConfirmed IntentStatus = "CONFIRMED"
	IntentStatusExpired   IntentStatus = "EXPIRED"
)

// VerifyIntent short-lived redemption ticket issued at quote time
type VerifyIntent struct {
	ID              string       `json:"verify_intent_id" gorm:"primaryKey;size:64"`
	BatchID         string       `json:"batch_id" gorm:"size:64;not null;index"`
	Commitment      []byte       `json:"-" gorm:"not null;index"`
	RewardAmount    int64        `json:"reward_amount" gorm:"not null"`
	RewardUSDTarget string       `json:"reward_usd_target" gorm:"column:reward_usd_target;size:32"`
	ExpiresAt       time.Time    `json:"expires_at" gorm:"not null"`
	Status          IntentStatus `json:"status" gorm:"size:16;not null;default:ISSUED;index"`
	ConfirmedAt     *time.Time   `json:"confirmed_at,omitempty"`
	CreatedAt       time.Time    `json:"created_at"`
	UpdatedAt       time.Time    `json:"updated_at"`
}

// Expired reports whether the intent is past its deadline at now.
func (i *VerifyIntent) Expired(now time.Time) bool {
	return now.After(i.ExpiresAt)
}

// CommitmentHex hex form used in logs and events
func (i *VerifyIntent) CommitmentHex() string {
	return hex.EncodeToString(i.Commitment)
}

const VerificationResultSuccess = "SUCCESS"

// Verification permanent redemption record. The unique index on commitment is
// the anti double-spend guarantee.
type Verification struct {
	ID             string    `json:"id" gorm:"primaryKey;size:64"`
	BatchID        string    `json:"batch_id" gorm:"size:64;not null;index"`
	UserID         string    `json:"user_id" gorm:"size:64;not null;index"`
	VerifyIntentID string    `json:"verify_intent_id" gorm:"size:64;not null"`
	Commitment     []byte    `json:"-" gorm:"not null;uniqueIndex"`
	RewardAmount   int64     `json:"reward_amount" gorm:"not null"`
	TxRef          string    `json:"tx_ref" gorm:"size:128"`
	Result         string    `json:"result" gorm:"size:16;not null"`
	VerifiedAt     time.Time `json:"verified_at"`
	CreatedAt      time.Time `json:"created_at"`
}

// User end user authenticated through the identity provider
type User struct {
	ID             string    `json:"id" gorm:"primaryKey;size:64"`
	Email          string    `json:"email" gorm:"size:320;not null;uniqueIndex"`
	ProviderUserID string    `json:"provider_user_id,omitempty" gorm:"size:128;index"`
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`
}

// UserWallet payout destination, created lazily on the first successful verification
type UserWallet struct {
	ID                       string    `json:"id" gorm:"primaryKey;size:64"`
	UserID                   string    `json:"user_id" gorm:"size:64;not null;uniqueIndex:idx_user_wallets_user_chain"`
	Chain                    string    `json:"chain" gorm:"size:32;not null;uniqueIndex:idx_user_wallets_user_chain"`
	WalletAddress            string    `json:"wallet_address" gorm:"size:128;not null"`
	CreatedAfterFirstSuccess bool      `json:"created_after_first_success"`
	CreatedAt                time.Time `json:"created_at"`
}

// IdempotencyRecord cached response of a retried mutating request.
// A zero ResponseStatus marks a key reserved by a request still in flight.
type IdempotencyRecord struct {
	ID              uint      `json:"id" gorm:"primaryKey"`
	Scope           string    `json:"-" gorm:"size:256;not null;uniqueIndex:idx_idempotency_scope_key"`
	IdempotencyKey  string    `json:"-" gorm:"size:128;not null;uniqueIndex:idx_idempotency_scope_key"`
	FingerprintHash string    `json:"-" gorm:"size:128;not null"`
	ResponseStatus  int       `json:"-"`
	ResponseBody    []byte    `json:"-"`
	ExpiresAt       time.Time `json:"-" gorm:"index;not null"`
	CreatedAt       time.Time `json:"created_at"`
}

// Pending reports whether the owning request has not finished yet
func (r *IdempotencyRecord) Pending() bool {
	return r.ResponseStatus == 0
}

// AllModels every table the service owns, in migration order
func AllModels() []interface{} {
	return []interface{}{
		&Manufacturer{},
		&SKU{},
		&Batch{},
		&CodePack{},
		&Code{},
		&VerifyIntent{},
		&Verification{},
		&User{},
		&UserWallet{},
		&IdempotencyRecord{},
		&UnrecordedPayout{},
	}
}
