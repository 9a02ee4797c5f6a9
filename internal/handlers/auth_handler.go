package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/Mayorlee0/verify-protocol-mvp/internal/dto"
	"github.com/Mayorlee0/verify-protocol-mvp/internal/middleware"
	"github.com/Mayorlee0/verify-protocol-mvp/internal/services"
)

// AuthHandler email OTP login and the user's own profile
type AuthHandler struct {
	authService *services.AuthService
	logger      *logrus.Logger
}

// NewAuthHandler creates an AuthHandler
func NewAuthHandler(authService *services.AuthService, logger *logrus.Logger) *AuthHandler {
	return &AuthHandler{authService: authService, logger: logger}
}

// StartOtp POST /auth/start
func (h *AuthHandler) StartOtp(c *gin.Context) {
	var req dto.StartOtpRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "email is required")
		return
	}

	requestID, err := h.authService.StartOtp(c.Request.Context(), req.Email)
	if err != nil {
		writeError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, dto.StartOtpResponse{Status: dto.StatusOtpSent, RequestID: requestID})
}

// VerifyOtp POST /auth/verify
func (h *AuthHandler) VerifyOtp(c *gin.Context) {
	var req dto.VerifyOtpRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "email and otp are required")
		return
	}

	result, err := h.authService.VerifyOtp(c.Request.Context(), req.Email, req.Otp)
	if err != nil {
		writeError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, dto.VerifyOtpResponse{
		Status:            dto.StatusAuthenticated,
		SessionToken:      result.SessionToken,
		ExpiresAt:         result.ExpiresAt,
		UserID:            result.User.ID,
		HasEmbeddedWallet: result.HasEmbeddedWallet,
	})
}

// Me GET /me
func (h *AuthHandler) Me(c *gin.Context) {
	profile, err := h.authService.Profile(c.Request.Context(), middleware.UserID(c))
	if err != nil {
		writeError(c, h.logger, err)
		return
	}

	resp := dto.MeResponse{
		UserID: profile.User.ID,
		Email:  profile.User.Email,
		Rewards: dto.RewardsSummary{
			LifetimeAmount:    profile.LifetimeRewards,
			VerificationCount: profile.VerificationCount,
		},
		Recent: make([]dto.RecentVerification, 0, len(profile.Recent)),
	}
	if profile.Wallet != nil {
		resp.EmbeddedWallet = dto.EmbeddedWallet{
			Created: true,
			Address: profile.Wallet.WalletAddress,
			Chain:   profile.Wallet.Chain,
		}
	}
	for _, v := range profile.Recent {
		resp.Recent = append(resp.Recent, dto.RecentVerification{
			VerificationID: v.ID,
			BatchID:        v.BatchID,
			RewardAmount:   v.RewardAmount,
			TxRef:          v.TxRef,
			VerifiedAt:     v.VerifiedAt,
		})
	}
	c.JSON(http.StatusOK, resp)
}
