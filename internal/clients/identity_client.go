package clients

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/Mayorlee0/verify-protocol-mvp/internal/config"
	"github.com/Mayorlee0/verify-protocol-mvp/internal/interfaces"
)

// ErrIdentityRequestFailed provider answered with a non-2xx status
var ErrIdentityRequestFailed = errors.New("identity provider request failed")

const maxIdentityResponseBytes = 1 << 20

// IdentityClient email OTP and embedded wallet provider client
type IdentityClient struct {
	baseURL    string
	appID      string
	appSecret  string
	httpClient *http.Client
}

type otpStartRequest struct {
	Email string `json:"email"`
}

type otpStartResponse struct {
	RequestID string `json:"request_id"`
}

type otpVerifyRequest struct {
	Email string `json:"email"`
	OTP   string `json:"otp"`
}

type otpVerifyResponse struct {
	UserID string `json:"user_id"`
	Email  string `json:"email"`
}

type walletCreateRequest struct {
	UserID string `json:"user_id"`
}

type walletCreateResponse struct {
	WalletAddress string `json:"wallet_address"`
	WalletPubkey  string `json:"wallet_pubkey"`
}

// NewIdentityClient creates an IdentityClient
func NewIdentityClient(cfg config.IdentityConfig) *IdentityClient {
	return &IdentityClient{
		baseURL:   strings.TrimRight(cfg.BaseURL, "/"),
		appID:     cfg.AppID,
		appSecret: cfg.AppSecret,
		httpClient: &http.Client{
			Timeout: time.Duration(cfg.Timeout) * time.Second,
		},
	}
}

var _ interfaces.IdentityProvider = (*IdentityClient)(nil)

// StartOtp sends a one-time code to the email address.
func (c *IdentityClient) StartOtp(ctx context.Context, email string) (string, error) {
	var resp otpStartResponse
	if err := c.makeRequest(ctx, "/v1/otp/email/start", otpStartRequest{Email: email}, &resp); err != nil {
		return "", err
	}
	return resp.RequestID, nil
}

// VerifyOtp checks the code and returns the provider's user.
func (c *IdentityClient) VerifyOtp(ctx context.Context, email, otp string) (*interfaces.IdentityUser, error) {
	var resp otpVerifyResponse
	if err := c.makeRequest(ctx, "/v1/otp/email/verify", otpVerifyRequest{Email: email, OTP: otp}, &resp); err != nil {
		return nil, err
	}
	if resp.UserID == "" {
		return nil, fmt.Errorf("%w: response without user_id", ErrIdentityRequestFailed)
	}
	return &interfaces.IdentityUser{ProviderUserID: resp.UserID, Email: resp.Email}, nil
}

// CreateWallet creates (or returns) the user's embedded wallet.
func (c *IdentityClient) CreateWallet(ctx context.Context, providerUserID string) (string, error) {
	var resp walletCreateResponse
	if err := c.makeRequest(ctx, "/v1/wallets/create", walletCreateRequest{UserID: providerUserID}, &resp); err != nil {
		return "", err
	}
	address := resp.WalletAddress
	if address == "" {
		address = resp.WalletPubkey
	}
	if address == "" {
		return "", fmt.Errorf("%w: response without wallet address", ErrIdentityRequestFailed)
	}
	return address, nil
}

// makeRequest POSTs data as JSON and decodes a 2xx response into out
func (c *IdentityClient) makeRequest(ctx context.Context, path string, data interface{}, out interface{}) error {
	jsonData, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(jsonData))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Privy-App-Id", c.appID)
	req.Header.Set("Privy-App-Secret", c.appSecret)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrIdentityRequestFailed, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxIdentityResponseBytes))
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}

	// The body may carry user data, so only the status is reported.
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		err := fmt.Errorf("%w: %s status=%d", ErrIdentityRequestFailed, path, resp.StatusCode)
		if resp.StatusCode >= 400 && resp.StatusCode < 500 && resp.StatusCode != http.StatusTooManyRequests {
			return fmt.Errorf("%w: %w", interfaces.ErrIdentityRejected, err)
		}
		return err
	}

	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("%w: decode response: %v", ErrIdentityRequestFailed, err)
	}
	return nil
}
