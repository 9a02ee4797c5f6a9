package interfaces

import (
	"context"
	"errors"
	"time"
)

// ErrIdentityRejected the provider refused the request itself (wrong OTP, bad email),
// as opposed to being unavailable.
var ErrIdentityRejected = errors.New("rejected by identity provider")

// IdentityUser user as known to the identity provider
type IdentityUser struct {
	ProviderUserID string
	Email          string
}

// IdentityProvider email OTP login and embedded wallet custody.
// Any non-success response is returned as an error.
type IdentityProvider interface {
	StartOtp(ctx context.Context, email string) (requestID string, err error)
	VerifyOtp(ctx context.Context, email, otp string) (*IdentityUser, error)
	CreateWallet(ctx context.Context, providerUserID string) (walletAddress string, err error)
}

// PayoutRequest one reward transfer
type PayoutRequest struct {
	Commitment  []byte
	Amount      int64
	Destination string
}

// Ledger on-chain side of the system.
// PayOut is not idempotent: callers must invoke it at most once per confirmation attempt.
type Ledger interface {
	Chain() string
	RegisterBatch(ctx context.Context, batchPublicID string) (txRef string, err error)
	PayOut(ctx context.Context, req PayoutRequest) (txRef string, err error)
	ValidAddress(address string) bool
}

// Event domain event pushed to subscribers
type Event struct {
	Type      string                 `json:"type"`
	Data      map[string]interface{} `json:"data"`
	Timestamp time.Time              `json:"timestamp"`
}

// EventPublisher best-effort fan-out of domain events
type EventPublisher interface {
	Publish(ctx context.Context, event Event) error
}

// Event types
const (
	EventPackGenerated       = "pack.generated"
	EventPackPrintConfirmed  = "pack.print_confirmed"
	EventBatchActivated      = "batch.activated"
	EventVerificationSuccess = "verification.confirmed"
	EventPayoutUnrecorded    = "payout.unrecorded"
	EventPayoutReconciled    = "payout.reconciled"
)
