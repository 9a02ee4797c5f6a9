package dto

import "time"

// ==================== Verification DTOs ====================

// QuoteRequest POST /verify/quote. Either the printed pair or the scanned QR payload.
type QuoteRequest struct {
	BatchPublicID string `json:"batch_public_id"`
	Code          string `json:"code"`
	QRPayload     string `json:"qr_payload"`
}

// Valid reports whether exactly one form of input was given
func (r *QuoteRequest) Valid() bool {
	pair := r.BatchPublicID != "" && r.Code != ""
	qr := r.QRPayload != ""
	return pair != qr
}

// RewardQuote reward offered by an eligible quote
type RewardQuote struct {
	USDTarget     string    `json:"usd_target"`
	Amount        int64     `json:"amount"`
	PricingSource string    `json:"pricing_source"`
	ExpiresAt     time.Time `json:"expires_at"`
}

// QuoteResponse eligible or not, with the reason code when not
type QuoteResponse struct {
	Status         string       `json:"status"`
	VerifyIntentID string       `json:"verify_intent_id,omitempty"`
	Reward         *RewardQuote `json:"reward,omitempty"`
	Reason         string       `json:"reason,omitempty"`
}

// ConfirmRequest POST /verify/confirm
type ConfirmRequest struct {
	VerifyIntentID string `json:"verify_intent_id" binding:"required"`
}

// Payout paid reward
type Payout struct {
	Amount        int64  `json:"amount"`
	WalletAddress string `json:"wallet_address"`
	WalletCreated bool   `json:"wallet_created"`
}

// ConfirmResponse successful redemption
type ConfirmResponse struct {
	Status         string `json:"status"`
	VerificationID string `json:"verification_id"`
	TxRef          string `json:"tx_ref"`
	Payout         Payout `json:"payout"`
	CodeState      string `json:"code_state"`
}
