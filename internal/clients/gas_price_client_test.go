package clients

import (
	"context"
	"encoding/hex"
	"fmt"
	"io"
	"math/big"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/crypto"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Mayorlee0/verify-protocol-mvp/internal/config"
	"github.com/Mayorlee0/verify-protocol-mvp/internal/interfaces"
)

func TestParseGwei(t *testing.T) {
	cases := []struct {
		in   string
		want string
	}{
		{"12", "12000000000"},
		{"12.5", "12500000000"},
		{"0.1", "100000000"},
		{".25 gwei", "250000000"},
		{"1.1234567891", "1123456789"},
	}
	for _, tc := range cases {
		got, err := ParseGwei(tc.in)
		require.NoError(t, err, tc.in)
		assert.Equal(t, tc.want, got.String(), tc.in)
	}

	for _, bad := range []string{"", "abc", "-1", "0", "1.2.3"} {
		_, err := ParseGwei(bad)
		assert.Error(t, err, bad)
	}
}

func gasTrackerServer(t *testing.T, status, propose string) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprintf(w, `{"status":%q,"message":"OK","result":{"SafeGasPrice":"1","ProposeGasPrice":%q,"FastGasPrice":"99"}}`, status, propose)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestGasTrackerSuggestGasPrice(t *testing.T) {
	srv := gasTrackerServer(t, "1", "3.5")
	price, err := NewGasTrackerClient(srv.URL, time.Second).SuggestGasPrice(context.Background())
	require.NoError(t, err)
	assert.Equal(t, big.NewInt(3_500_000_000), price)

	srv = gasTrackerServer(t, "0", "3.5")
	_, err = NewGasTrackerClient(srv.URL, time.Second).SuggestGasPrice(context.Background())
	assert.Error(t, err)
}

func ledgerWithGas(t *testing.T, backend *fakeBackend, trackerURL string, maxGwei uint64) *EVMLedger {
	t.Helper()
	key, err := crypto.GenerateKey()
	require.NoError(t, err)
	logger := logrus.New()
	logger.SetOutput(io.Discard)

	ledger, err := NewEVMLedger(backend, config.ChainConfig{
		Name:              "evm",
		ChainID:           31337,
		SponsorPrivateKey: hex.EncodeToString(crypto.FromECDSA(key)),
		GasLimit:          60000,
		GasTrackerURL:     trackerURL,
		MaxGasPriceGwei:   maxGwei,
		Timeout:           1,
	}, logger)
	require.NoError(t, err)
	return ledger
}

func TestLedgerUsesGasTracker(t *testing.T) {
	backend := &fakeBackend{}
	ledger := ledgerWithGas(t, backend, gasTrackerServer(t, "1", "2").URL, 0)

	_, err := ledger.PayOut(context.Background(), interfaces.PayoutRequest{Amount: 1, Destination: "0x00000000000000000000000000000000000000aa"})
	require.NoError(t, err)
	assert.Equal(t, big.NewInt(2_000_000_000), backend.sent[0].GasPrice())
}

func TestLedgerFallsBackToNodeWhenTrackerFails(t *testing.T) {
	backend := &fakeBackend{}
	ledger := ledgerWithGas(t, backend, gasTrackerServer(t, "0", "2").URL, 0)

	_, err := ledger.PayOut(context.Background(), interfaces.PayoutRequest{Amount: 1, Destination: "0x00000000000000000000000000000000000000aa"})
	require.NoError(t, err)
	assert.Equal(t, big.NewInt(1200), backend.sent[0].GasPrice())
}

func TestLedgerCapsGasPrice(t *testing.T) {
	backend := &fakeBackend{}
	ledger := ledgerWithGas(t, backend, gasTrackerServer(t, "1", "35").URL, 20)

	_, err := ledger.PayOut(context.Background(), interfaces.PayoutRequest{Amount: 1, Destination: "0x00000000000000000000000000000000000000aa"})
	require.NoError(t, err)
	assert.Equal(t, GweiToWei(20), backend.sent[0].GasPrice())
}
