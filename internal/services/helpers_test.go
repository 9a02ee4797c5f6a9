package services

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/Mayorlee0/verify-protocol-mvp/internal/db"
	"github.com/Mayorlee0/verify-protocol-mvp/internal/interfaces"
	"github.com/Mayorlee0/verify-protocol-mvp/internal/models"
	"github.com/Mayorlee0/verify-protocol-mvp/internal/vault"
)

var testVaultKey = []byte("0123456789abcdef0123456789abcdef")

type staticSecrets map[string][]byte

func (s staticSecrets) ManufacturerSecret(id string) ([]byte, error) {
	if secret, ok := s[id]; ok {
		return secret, nil
	}
	return nil, fmt.Errorf("no secret for %s", id)
}

type fakeLedger struct {
	payouts   atomic.Int64
	registers atomic.Int64
	failPay   atomic.Bool
	failReg   atomic.Bool

	mu           sync.Mutex
	destinations []string
	// afterPay runs once the transfer has been sent
	afterPay func()
}

func (l *fakeLedger) Chain() string { return "evm" }

func (l *fakeLedger) ValidAddress(address string) bool { return len(address) > 2 }

func (l *fakeLedger) RegisterBatch(_ context.Context, batchPublicID string) (string, error) {
	if l.failReg.Load() {
		return "", errors.New("rpc unavailable")
	}
	n := l.registers.Add(1)
	return fmt.Sprintf("0xreg%d_%s", n, batchPublicID), nil
}

func (l *fakeLedger) PayOut(_ context.Context, req interfaces.PayoutRequest) (string, error) {
	if l.failPay.Load() {
		return "", errors.New("insufficient funds")
	}
	n := l.payouts.Add(1)
	l.mu.Lock()
	l.destinations = append(l.destinations, req.Destination)
	afterPay := l.afterPay
	l.mu.Unlock()
	if afterPay != nil {
		afterPay()
	}
	return fmt.Sprintf("0xpay%d", n), nil
}

type fakeIdentity struct {
	wallets    atomic.Int64
	failWallet atomic.Bool
	failOtp    atomic.Bool
}

func (f *fakeIdentity) StartOtp(_ context.Context, email string) (string, error) {
	if f.failOtp.Load() {
		return "", errors.New("provider down")
	}
	return "req_" + email, nil
}

func (f *fakeIdentity) VerifyOtp(_ context.Context, email, otp string) (*interfaces.IdentityUser, error) {
	if f.failOtp.Load() {
		return nil, errors.New("provider down")
	}
	if otp != "123456" {
		return nil, fmt.Errorf("%w: invalid otp", interfaces.ErrIdentityRejected)
	}
	return &interfaces.IdentityUser{ProviderUserID: "did:" + email, Email: email}, nil
}

func (f *fakeIdentity) CreateWallet(_ context.Context, providerUserID string) (string, error) {
	if f.failWallet.Load() {
		return "", errors.New("wallet service down")
	}
	f.wallets.Add(1)
	return "0xwallet_" + providerUserID, nil
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []interfaces.Event
}

func (p *recordingPublisher) Publish(_ context.Context, event interfaces.Event) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, event)
	return nil
}

func (p *recordingPublisher) types() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]string, 0, len(p.events))
	for _, e := range p.events {
		out = append(out, e.Type)
	}
	return out
}

type testEnv struct {
	db        *gorm.DB
	ledger    *fakeLedger
	identity  *fakeIdentity
	publisher *recordingPublisher
	mfg       *ManufacturerService
	verify    *VerificationService
}

func quietLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return logger
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	gdb, err := db.OpenMemory()
	require.NoError(t, err)

	v, err := vault.New(testVaultKey)
	require.NoError(t, err)

	secrets := staticSecrets{"mfr_1": []byte("manufacturer-one-secret-0123456789")}
	env := &testEnv{
		db:        gdb,
		ledger:    &fakeLedger{},
		identity:  &fakeIdentity{},
		publisher: &recordingPublisher{},
	}
	logger := quietLogger()
	env.mfg = NewManufacturerService(gdb, secrets, v, env.ledger, env.publisher, logger, 24*time.Hour)
	env.verify = NewVerificationService(gdb, secrets, env.identity, env.ledger, env.publisher, logger, 100000, 120*time.Second)

	require.NoError(t, gdb.Create(&models.Manufacturer{ID: "mfr_1", Name: "Acme"}).Error)
	return env
}

func (e *testEnv) createUser(t *testing.T, email string) *models.User {
	t.Helper()
	user := &models.User{ID: "usr_" + email, Email: email, ProviderUserID: "did:" + email}
	require.NoError(t, e.db.Create(user).Error)
	return user
}
