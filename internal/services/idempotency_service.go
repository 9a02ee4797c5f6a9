package services

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"time"

	"gorm.io/gorm"

	"github.com/Mayorlee0/verify-protocol-mvp/internal/models"
	"github.com/Mayorlee0/verify-protocol-mvp/internal/repository"
)

// DefaultIdempotencyTTL how long a stored response answers retries
const DefaultIdempotencyTTL = 24 * time.Hour

// a reservation left behind by a crashed request stops blocking the key after this
const pendingIdempotencyTTL = 5 * time.Minute

// StoredResponse response replayed for a retried request
type StoredResponse struct {
	Status int
	Body   []byte
}

// IdempotencyService replays responses of retried mutating requests by Idempotency-Key
type IdempotencyService struct {
	repo repository.IdempotencyRepository
	ttl  time.Duration
	now  func() time.Time
}

// NewIdempotencyService creates an IdempotencyService
func NewIdempotencyService(db *gorm.DB, ttl time.Duration) *IdempotencyService {
	if ttl <= 0 {
		ttl = DefaultIdempotencyTTL
	}
	return &IdempotencyService{repo: repository.NewIdempotencyRepository(db), ttl: ttl, now: time.Now}
}

// Fingerprint hash of the request body, so a reused key with a different body is rejected.
func Fingerprint(body []byte) string {
	sum := sha256.Sum256(body)
	return hex.EncodeToString(sum[:])
}

// Reserve claims the key for the calling request. It returns nil when the caller
// now owns the key and must Complete or Release it, or the stored response when
// an earlier request with the same key already finished.
// ErrIdempotencyReplay when the key was used for a different request,
// ErrIdempotencyPending while the first request is still running.
func (s *IdempotencyService) Reserve(ctx context.Context, scope, key, fingerprint string) (*StoredResponse, error) {
	now := s.now()
	err := s.repo.Save(ctx, &models.IdempotencyRecord{
		Scope:           scope,
		IdempotencyKey:  key,
		FingerprintHash: fingerprint,
		ExpiresAt:       now.Add(pendingIdempotencyTTL),
	}, now)
	if err == nil {
		return nil, nil
	}
	if !repository.IsUniqueViolation(err) {
		return nil, fmt.Errorf("reserve idempotency key: %w", err)
	}

	record, err := s.repo.Get(ctx, scope, key, now)
	if err != nil {
		if repository.IsNotFound(err) {
			// the owner released the key between our insert and read
			return nil, ErrIdempotencyPending
		}
		return nil, fmt.Errorf("load idempotency record: %w", err)
	}
	if record.FingerprintHash != fingerprint {
		return nil, ErrIdempotencyReplay
	}
	if record.Pending() {
		return nil, ErrIdempotencyPending
	}
	return &StoredResponse{Status: record.ResponseStatus, Body: record.ResponseBody}, nil
}

// Complete stores the response for a key reserved by the caller.
func (s *IdempotencyService) Complete(ctx context.Context, scope, key string, resp StoredResponse) error {
	if err := s.repo.Complete(ctx, scope, key, resp.Status, resp.Body, s.now().Add(s.ttl)); err != nil {
		return fmt.Errorf("complete idempotency record: %w", err)
	}
	return nil
}

// Release frees a key reserved by a request that failed, so a retry runs again.
func (s *IdempotencyService) Release(ctx context.Context, scope, key string) error {
	if err := s.repo.Release(ctx, scope, key); err != nil {
		return fmt.Errorf("release idempotency key: %w", err)
	}
	return nil
}

// Sweep deletes expired records.
func (s *IdempotencyService) Sweep(ctx context.Context) (int64, error) {
	return s.repo.DeleteExpired(ctx, s.now())
}
