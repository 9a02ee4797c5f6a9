package clients

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math/big"
	"net/http"
	"strings"
	"time"
)

// GasPriceSource suggests a gas price in wei
type GasPriceSource interface {
	SuggestGasPrice(ctx context.Context) (*big.Int, error)
}

// GasTrackerClient Etherscan-compatible gas oracle client (module=gastracker&action=gasoracle)
type GasTrackerClient struct {
	url        string
	httpClient *http.Client
}

// EtherscanGasResponse Gas Tracker API response
type EtherscanGasResponse struct {
	Status  string `json:"status"`
	Message string `json:"message"`
	Result  struct {
		SafeGasPrice    string `json:"SafeGasPrice"`
		ProposeGasPrice string `json:"ProposeGasPrice"`
		FastGasPrice    string `json:"FastGasPrice"`
		SuggestBaseFee  string `json:"suggestBaseFee"`
	} `json:"result"`
}

// NewGasTrackerClient creates a new gas tracker client
func NewGasTrackerClient(url string, timeout time.Duration) *GasTrackerClient {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &GasTrackerClient{
		url:        url,
		httpClient: &http.Client{Timeout: timeout},
	}
}

// SuggestGasPrice returns the tracker's proposed gas price in wei
func (c *GasTrackerClient) SuggestGasPrice(ctx context.Context) (*big.Int, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.url, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("gas tracker request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("gas tracker returned status %d", resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	if err != nil {
		return nil, fmt.Errorf("failed to read gas tracker response: %w", err)
	}

	var gasResp EtherscanGasResponse
	if err := json.Unmarshal(body, &gasResp); err != nil {
		return nil, fmt.Errorf("failed to decode gas tracker response: %w", err)
	}
	if gasResp.Status != "1" {
		return nil, fmt.Errorf("gas tracker error: %s", gasResp.Message)
	}

	return ParseGwei(gasResp.Result.ProposeGasPrice)
}

// ParseGwei converts a decimal gwei amount ("12.5" or "12.5 gwei") to wei. Digits past 1 wei are dropped.
func ParseGwei(value string) (*big.Int, error) {
	trimmed := strings.TrimSpace(strings.TrimSuffix(strings.TrimSpace(value), "gwei"))
	whole, frac, _ := strings.Cut(trimmed, ".")
	if whole == "" {
		whole = "0"
	}
	if len(frac) > 9 {
		frac = frac[:9]
	}
	frac += strings.Repeat("0", 9-len(frac))

	digits := whole + frac
	for _, r := range digits {
		if r < '0' || r > '9' {
			return nil, fmt.Errorf("invalid gas price: %q", value)
		}
	}
	wei, ok := new(big.Int).SetString(digits, 10)
	if !ok || wei.Sign() <= 0 {
		return nil, fmt.Errorf("invalid gas price: %q", value)
	}
	return wei, nil
}

// GweiToWei whole gwei to wei
func GweiToWei(gwei uint64) *big.Int {
	return new(big.Int).Mul(new(big.Int).SetUint64(gwei), big.NewInt(1_000_000_000))
}
