package models

import (
	"encoding/hex"
	"time"
)

// UnrecordedPayoutStatus reconciliation state of a payout whose verification did not commit
type UnrecordedPayoutStatus string

const (
	UnrecordedPayoutStatusPending   UnrecordedPayoutStatus = "PENDING"   // waiting for reconciliation
	UnrecordedPayoutStatusRecorded  UnrecordedPayoutStatus = "RECORDED"  // verification written after the fact
	UnrecordedPayoutStatusDuplicate UnrecordedPayoutStatus = "DUPLICATE" // commitment was already verified, the code paid twice
	UnrecordedPayoutStatusAbandoned UnrecordedPayoutStatus = "ABANDONED" // reached maximum retry attempts
)

const (
	unrecordedPayoutBaseDelay = 10 * time.Second
	unrecordedPayoutMaxDelay  = 10 * time.Minute
)

// UnrecordedPayout a transfer that reached the ledger while its Verification rolled back.
// The reconciler replays the record so the commitment stays single-use.
type UnrecordedPayout struct {
	ID             string                 `json:"id" gorm:"primaryKey;size:64"`
	VerifyIntentID string                 `json:"verify_intent_id" gorm:"size:64;not null;index"`
	BatchID        string                 `json:"batch_id" gorm:"size:64;not null"`
	UserID         string                 `json:"user_id" gorm:"size:64;not null"`
	Commitment     []byte                 `json:"-" gorm:"not null;index"`
	Destination    string                 `json:"destination" gorm:"size:128;not null"`
	Amount         int64                  `json:"amount" gorm:"not null"`
	TxRef          string                 `json:"tx_ref" gorm:"size:128;not null;uniqueIndex"`
	Status         UnrecordedPayoutStatus `json:"status" gorm:"size:16;not null;default:PENDING;index"`

	RetryCount  int       `json:"retry_count" gorm:"default:0"`
	MaxRetries  int       `json:"max_retries" gorm:"default:10"`
	NextRetryAt time.Time `json:"next_retry_at" gorm:"index"`

	LastError     string `json:"last_error" gorm:"type:text"`
	OriginalError string `json:"original_error" gorm:"type:text"`

	CreatedAt  time.Time  `json:"created_at"`
	UpdatedAt  time.Time  `json:"updated_at"`
	ResolvedAt *time.Time `json:"resolved_at"`
}

// CommitmentHex hex form used in logs and events
func (p *UnrecordedPayout) CommitmentHex() string {
	return hex.EncodeToString(p.Commitment)
}

// CalculateNextRetryTime exponential backoff: 10s, 20s, 40s ... capped at 10 minutes.
func (p *UnrecordedPayout) CalculateNextRetryTime(now time.Time) time.Time {
	delay := unrecordedPayoutMaxDelay
	if p.RetryCount < 16 {
		delay = unrecordedPayoutBaseDelay * time.Duration(1<<uint(p.RetryCount))
	}
	if delay > unrecordedPayoutMaxDelay {
		delay = unrecordedPayoutMaxDelay
	}
	return now.Add(delay)
}

// ShouldRetry reports whether the record is due at now.
func (p *UnrecordedPayout) ShouldRetry(now time.Time) bool {
	return p.Status == UnrecordedPayoutStatusPending &&
		p.RetryCount < p.MaxRetries &&
		!now.Before(p.NextRetryAt)
}

// IncrementRetry records a failed reconciliation attempt and schedules the next one.
func (p *UnrecordedPayout) IncrementRetry(errorMsg string, now time.Time) {
	p.RetryCount++
	p.LastError = errorMsg
	p.NextRetryAt = p.CalculateNextRetryTime(now)

	if p.RetryCount >= p.MaxRetries {
		p.Status = UnrecordedPayoutStatusAbandoned
		p.ResolvedAt = &now
	}
}

// Resolve closes the record with a terminal status.
func (p *UnrecordedPayout) Resolve(status UnrecordedPayoutStatus, now time.Time) {
	p.Status = status
	p.ResolvedAt = &now
}
