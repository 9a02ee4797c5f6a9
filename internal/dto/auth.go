package dto

import "time"

// ==================== Auth DTOs ====================

// StartOtpRequest POST /auth/start
type StartOtpRequest struct {
	Email string `json:"email" binding:"required"`
}

// StartOtpResponse OTP was sent by the identity provider
type StartOtpResponse struct {
	Status    string `json:"status"`
	RequestID string `json:"request_id,omitempty"`
}

// VerifyOtpRequest POST /auth/verify
type VerifyOtpRequest struct {
	Email string `json:"email" binding:"required"`
	Otp   string `json:"otp" binding:"required"`
}

// VerifyOtpResponse session issued
type VerifyOtpResponse struct {
	Status            string    `json:"status"`
	SessionToken      string    `json:"session_token"`
	ExpiresAt         time.Time `json:"expires_at"`
	UserID            string    `json:"user_id"`
	HasEmbeddedWallet bool      `json:"has_embedded_wallet"`
}

// EmbeddedWallet wallet section of GET /me
type EmbeddedWallet struct {
	Created bool   `json:"created"`
	Address string `json:"address,omitempty"`
	Chain   string `json:"chain,omitempty"`
}

// RewardsSummary rewards section of GET /me
type RewardsSummary struct {
	LifetimeAmount    int64 `json:"lifetime_amount"`
	VerificationCount int64 `json:"verification_count"`
}

// RecentVerification one entry of GET /me history
type RecentVerification struct {
	VerificationID string    `json:"verification_id"`
	BatchID        string    `json:"batch_id"`
	RewardAmount   int64     `json:"reward_amount"`
	TxRef          string    `json:"tx_ref,omitempty"`
	VerifiedAt     time.Time `json:"verified_at"`
}

// MeResponse GET /me
type MeResponse struct {
	UserID         string               `json:"user_id"`
	Email          string               `json:"email"`
	EmbeddedWallet EmbeddedWallet       `json:"embedded_wallet"`
	Rewards        RewardsSummary       `json:"rewards"`
	Recent         []RecentVerification `json:"recent_verifications"`
}
