package clients

import (
	"context"
	"crypto/ecdsa"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/sirupsen/logrus"

	"github.com/Mayorlee0/verify-protocol-mvp/internal/config"
	"github.com/Mayorlee0/verify-protocol-mvp/internal/interfaces"
	"github.com/Mayorlee0/verify-protocol-mvp/internal/metrics"
)

var (
	// ErrInvalidDestination payout address is not a hex account address
	ErrInvalidDestination = errors.New("invalid destination address")
	// ErrTransactionReverted transaction was mined with a failed status
	ErrTransactionReverted = errors.New("transaction reverted")
)

const (
	fallbackGasPrice    = 5_000_000_000 // 5 gwei
	receiptPollInterval = 2 * time.Second
)

// EVMBackend subset of ethclient.Client the ledger needs
type EVMBackend interface {
	PendingNonceAt(ctx context.Context, account common.Address) (uint64, error)
	SuggestGasPrice(ctx context.Context) (*big.Int, error)
	SendTransaction(ctx context.Context, tx *types.Transaction) error
	TransactionReceipt(ctx context.Context, txHash common.Hash) (*types.Receipt, error)
	BalanceAt(ctx context.Context, account common.Address, blockNumber *big.Int) (*big.Int, error)
}

// EVMLedger pays rewards as native transfers signed by a sponsor key.
// The commitment travels in the transaction data so every payout is traceable on chain.
type EVMLedger struct {
	backend        EVMBackend
	chainName      string
	chainID        *big.Int
	key            *ecdsa.PrivateKey
	from           common.Address
	gasLimit       uint64
	gasTracker     GasPriceSource
	maxGasPrice    *big.Int
	waitForReceipt bool
	receiptTimeout time.Duration
	logger         *logrus.Logger

	// nonce assignment and broadcast must not interleave
	sendMu sync.Mutex
}

var _ interfaces.Ledger = (*EVMLedger)(nil)

// DialEVMLedger connects to the chain RPC endpoint.
func DialEVMLedger(cfg config.ChainConfig, logger *logrus.Logger) (*EVMLedger, error) {
	client, err := ethclient.Dial(cfg.RPCURL)
	if err != nil {
		return nil, fmt.Errorf("dial chain rpc: %w", err)
	}
	return NewEVMLedger(client, cfg, logger)
}

// NewEVMLedger builds a ledger over any backend.
func NewEVMLedger(backend EVMBackend, cfg config.ChainConfig, logger *logrus.Logger) (*EVMLedger, error) {
	key, err := crypto.HexToECDSA(strings.TrimPrefix(cfg.SponsorPrivateKey, "0x"))
	if err != nil {
		return nil, fmt.Errorf("parse sponsor private key: %w", err)
	}
	if cfg.ChainID <= 0 {
		return nil, fmt.Errorf("chain id is required")
	}
	ledger := &EVMLedger{
		backend:        backend,
		chainName:      cfg.Name,
		chainID:        big.NewInt(cfg.ChainID),
		key:            key,
		from:           crypto.PubkeyToAddress(key.PublicKey),
		gasLimit:       cfg.GasLimit,
		waitForReceipt: cfg.WaitForReceipt,
		receiptTimeout: time.Duration(cfg.Timeout) * time.Second,
		logger:         logger,
	}
	if cfg.GasTrackerURL != "" {
		ledger.gasTracker = NewGasTrackerClient(cfg.GasTrackerURL, ledger.receiptTimeout)
	}
	if cfg.MaxGasPriceGwei > 0 {
		ledger.maxGasPrice = GweiToWei(cfg.MaxGasPriceGwei)
	}
	return ledger, nil
}

// Chain wallet chain name
func (l *EVMLedger) Chain() string {
	return l.chainName
}

// SponsorAddress account paying rewards and gas
func (l *EVMLedger) SponsorAddress() common.Address {
	return l.from
}

// ValidAddress reports whether address is a hex account address.
func (l *EVMLedger) ValidAddress(address string) bool {
	return common.IsHexAddress(address)
}

// RegisterBatch anchors the batch on chain with a zero-value self transaction carrying keccak256(batchPublicID).
func (l *EVMLedger) RegisterBatch(ctx context.Context, batchPublicID string) (string, error) {
	data := crypto.Keccak256([]byte(batchPublicID))
	ref, err := l.send(ctx, l.from, big.NewInt(0), data)
	l.observe("register_batch", err)
	if err != nil {
		return "", err
	}
	l.logger.WithFields(logrus.Fields{
		"batch_public_id": batchPublicID,
		"tx_hash":         ref,
	}).Info("Batch registered on chain")
	return ref, nil
}

// PayOut transfers the reward. Not idempotent: every call broadcasts a new transaction.
func (l *EVMLedger) PayOut(ctx context.Context, req interfaces.PayoutRequest) (string, error) {
	if !common.IsHexAddress(req.Destination) {
		l.observe("payout", ErrInvalidDestination)
		return "", fmt.Errorf("%w: %q", ErrInvalidDestination, req.Destination)
	}
	if req.Amount <= 0 {
		l.observe("payout", errors.New("amount"))
		return "", fmt.Errorf("payout amount must be positive")
	}

	ref, err := l.send(ctx, common.HexToAddress(req.Destination), big.NewInt(req.Amount), req.Commitment)
	l.observe("payout", err)
	if err != nil {
		return "", err
	}
	l.logger.WithFields(logrus.Fields{
		"destination": req.Destination,
		"amount":      req.Amount,
		"tx_hash":     ref,
	}).Info("Payout broadcast")
	return ref, nil
}

func (l *EVMLedger) send(ctx context.Context, to common.Address, value *big.Int, data []byte) (string, error) {
	signed, err := l.signAndSend(ctx, to, value, data)
	if err != nil {
		return "", err
	}
	if l.waitForReceipt {
		if err := l.awaitReceipt(ctx, signed.Hash()); err != nil {
			return "", err
		}
	}
	return signed.Hash().Hex(), nil
}

func (l *EVMLedger) signAndSend(ctx context.Context, to common.Address, value *big.Int, data []byte) (*types.Transaction, error) {
	l.sendMu.Lock()
	defer l.sendMu.Unlock()

	nonce, err := l.backend.PendingNonceAt(ctx, l.from)
	if err != nil {
		return nil, fmt.Errorf("failed to get nonce: %w", err)
	}

	gasPrice := l.gasPrice(ctx)

	tx := types.NewTx(&types.LegacyTx{
		Nonce:    nonce,
		To:       &to,
		Value:    value,
		Gas:      l.gasLimit,
		GasPrice: gasPrice,
		Data:     data,
	})

	signed, err := types.SignTx(tx, types.NewEIP155Signer(l.chainID), l.key)
	if err != nil {
		return nil, fmt.Errorf("failed to sign transaction: %w", err)
	}
	if err := l.backend.SendTransaction(ctx, signed); err != nil {
		return nil, fmt.Errorf("failed to send transaction: %w", err)
	}
	return signed, nil
}

// awaitReceipt polls until the transaction is mined. A timeout is not an error:
// the transaction is already broadcast and may still land.
// gasPrice prefers the gas tracker, then the node's suggestion plus 20%, then the fallback,
// and never exceeds the configured cap.
func (l *EVMLedger) gasPrice(ctx context.Context) *big.Int {
	gasPrice := big.NewInt(fallbackGasPrice)
	resolved := false
	if l.gasTracker != nil {
		if tracked, err := l.gasTracker.SuggestGasPrice(ctx); err == nil {
			gasPrice, resolved = tracked, true
		} else {
			l.logger.WithField("error", err.Error()).Warn("Gas tracker failed, asking the node")
		}
	}
	if !resolved {
		if suggested, err := l.backend.SuggestGasPrice(ctx); err == nil {
			gasPrice = new(big.Int).Div(new(big.Int).Mul(suggested, big.NewInt(120)), big.NewInt(100))
		} else {
			l.logger.WithField("error", err.Error()).Warn("Gas price suggestion failed, using fallback")
		}
	}
	if l.maxGasPrice != nil && gasPrice.Cmp(l.maxGasPrice) > 0 {
		l.logger.WithFields(logrus.Fields{
			"suggested_wei": gasPrice.String(),
			"cap_wei":       l.maxGasPrice.String(),
		}).Warn("Gas price capped")
		gasPrice = new(big.Int).Set(l.maxGasPrice)
	}
	return gasPrice
}

func (l *EVMLedger) awaitReceipt(ctx context.Context, hash common.Hash) error {
	deadline := time.Now().Add(l.receiptTimeout)
	ticker := time.NewTicker(receiptPollInterval)
	defer ticker.Stop()

	for {
		receipt, err := l.backend.TransactionReceipt(ctx, hash)
		if err == nil && receipt != nil {
			if receipt.Status != types.ReceiptStatusSuccessful {
				return fmt.Errorf("%w: %s", ErrTransactionReverted, hash.Hex())
			}
			return nil
		}
		if err != nil && !errors.Is(err, ethereum.NotFound) {
			l.logger.WithFields(logrus.Fields{"tx_hash": hash.Hex(), "error": err.Error()}).Warn("Receipt query failed")
		}
		if time.Now().After(deadline) {
			l.logger.WithField("tx_hash", hash.Hex()).Warn("Receipt not seen before timeout, treating as pending")
			return nil
		}

		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}

// RefreshSponsorBalance exports the sponsor balance gauge.
func (l *EVMLedger) RefreshSponsorBalance(ctx context.Context) error {
	balance, err := l.backend.BalanceAt(ctx, l.from, nil)
	if err != nil {
		return fmt.Errorf("query sponsor balance: %w", err)
	}
	f, _ := new(big.Float).SetInt(balance).Float64()
	metrics.SponsorBalance.WithLabelValues(l.chainName, l.from.Hex()).Set(f)
	return nil
}

func (l *EVMLedger) observe(operation string, err error) {
	result := "ok"
	if err != nil {
		result = "error"
	}
	metrics.LedgerRequests.WithLabelValues(operation, result).Inc()
}

// SimulatedLedger demo ledger: nothing is broadcast, references are prefixed sim_.
type SimulatedLedger struct {
	chainName string
	logger    *logrus.Logger
}

var _ interfaces.Ledger = (*SimulatedLedger)(nil)

// NewSimulatedLedger creates a SimulatedLedger
func NewSimulatedLedger(chainName string, logger *logrus.Logger) *SimulatedLedger {
	return &SimulatedLedger{chainName: chainName, logger: logger}
}

func (s *SimulatedLedger) Chain() string { return s.chainName }

func (s *SimulatedLedger) ValidAddress(address string) bool { return address != "" }

func (s *SimulatedLedger) RegisterBatch(_ context.Context, batchPublicID string) (string, error) {
	ref, err := simulatedRef()
	if err != nil {
		return "", err
	}
	s.logger.WithFields(logrus.Fields{"batch_public_id": batchPublicID, "tx_ref": ref}).Info("Simulated batch registration")
	metrics.LedgerRequests.WithLabelValues("register_batch", "simulated").Inc()
	return ref, nil
}

func (s *SimulatedLedger) PayOut(_ context.Context, req interfaces.PayoutRequest) (string, error) {
	ref, err := simulatedRef()
	if err != nil {
		return "", err
	}
	s.logger.WithFields(logrus.Fields{"destination": req.Destination, "amount": req.Amount, "tx_ref": ref}).Info("Simulated payout")
	metrics.LedgerRequests.WithLabelValues("payout", "simulated").Inc()
	return ref, nil
}

func simulatedRef() (string, error) {
	buf := make([]byte, 16)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return "sim_" + hex.EncodeToString(buf), nil
}
