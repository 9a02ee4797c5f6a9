package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/Mayorlee0/verify-protocol-mvp/internal/dto"
	"github.com/Mayorlee0/verify-protocol-mvp/internal/middleware"
	"github.com/Mayorlee0/verify-protocol-mvp/internal/models"
	"github.com/Mayorlee0/verify-protocol-mvp/internal/services"
)

const pricingSourceConfig = "config"

// VerifyHandler quote and confirm endpoints of the redemption flow
type VerifyHandler struct {
	verification *services.VerificationService
	logger       *logrus.Logger
}

// NewVerifyHandler creates a VerifyHandler
func NewVerifyHandler(verification *services.VerificationService, logger *logrus.Logger) *VerifyHandler {
	return &VerifyHandler{verification: verification, logger: logger}
}

// Quote POST /verify/quote
// Ineligible codes answer 200 NOT_ELIGIBLE with the reason; only infrastructure failures are errors.
func (h *VerifyHandler) Quote(c *gin.Context) {
	var req dto.QuoteRequest
	if err := c.ShouldBindJSON(&req); err != nil || !req.Valid() {
		badRequest(c, "either batch_public_id and code, or qr_payload, is required")
		return
	}

	var (
		intent *models.VerifyIntent
		err    error
	)
	if req.QRPayload != "" {
		intent, err = h.verification.QuoteQR(c.Request.Context(), req.QRPayload)
	} else {
		intent, err = h.verification.Quote(c.Request.Context(), req.BatchPublicID, req.Code)
	}
	if err != nil {
		if de, ok := services.AsDomainError(err); ok && notEligible(de.Class) {
			c.JSON(http.StatusOK, dto.QuoteResponse{Status: dto.StatusNotEligible, Reason: de.Code})
			return
		}
		writeError(c, h.logger, err)
		return
	}

	c.JSON(http.StatusOK, dto.QuoteResponse{
		Status:         dto.StatusEligible,
		VerifyIntentID: intent.ID,
		Reward: &dto.RewardQuote{
			USDTarget:     intent.RewardUSDTarget,
			Amount:        intent.RewardAmount,
			PricingSource: pricingSourceConfig,
			ExpiresAt:     intent.ExpiresAt.UTC(),
		},
	})
}

func notEligible(class services.ErrorClass) bool {
	switch class {
	case services.ClassValidation, services.ClassNotFound, services.ClassConflict:
		return true
	}
	return false
}

// Confirm POST /verify/confirm
func (h *VerifyHandler) Confirm(c *gin.Context) {
	var req dto.ConfirmRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "verify_intent_id is required")
		return
	}

	result, err := h.verification.Confirm(c.Request.Context(), middleware.UserID(c), req.VerifyIntentID)
	if err != nil {
		writeError(c, h.logger, err)
		return
	}

	c.JSON(http.StatusOK, dto.ConfirmResponse{
		Status:         dto.StatusVerified,
		VerificationID: result.VerificationID,
		TxRef:          result.TxRef,
		Payout: dto.Payout{
			Amount:        result.RewardAmount,
			WalletAddress: result.WalletAddress,
			WalletCreated: result.WalletCreated,
		},
		CodeState: "USED",
	})
}
