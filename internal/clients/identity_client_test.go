package clients

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Mayorlee0/verify-protocol-mvp/internal/config"
	"github.com/Mayorlee0/verify-protocol-mvp/internal/interfaces"
)

func newIdentityServer(t *testing.T, handler http.HandlerFunc) *IdentityClient {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return NewIdentityClient(config.IdentityConfig{BaseURL: srv.URL + "/", AppID: "app", AppSecret: "secret", Timeout: 5})
}

func TestIdentityClientSendsCredentials(t *testing.T) {
	var gotPath string
	var gotBody map[string]string
	client := newIdentityServer(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "app", r.Header.Get("Privy-App-Id"))
		assert.Equal(t, "secret", r.Header.Get("Privy-App-Secret"))
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		gotPath = r.URL.Path
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotBody))
		_, _ = w.Write([]byte(`{"request_id":"req_1"}`))
	})

	requestID, err := client.StartOtp(context.Background(), "a@example.com")
	require.NoError(t, err)
	assert.Equal(t, "req_1", requestID)
	assert.Equal(t, "/v1/otp/email/start", gotPath)
	assert.Equal(t, "a@example.com", gotBody["email"])
}

func TestIdentityClientVerifyOtp(t *testing.T) {
	client := newIdentityServer(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/otp/email/verify", r.URL.Path)
		_, _ = w.Write([]byte(`{"user_id":"did:privy:1","email":"a@example.com"}`))
	})

	user, err := client.VerifyOtp(context.Background(), "a@example.com", "123456")
	require.NoError(t, err)
	assert.Equal(t, "did:privy:1", user.ProviderUserID)
	assert.Equal(t, "a@example.com", user.Email)
}

func TestIdentityClientCreateWallet(t *testing.T) {
	client := newIdentityServer(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/wallets/create", r.URL.Path)
		_, _ = w.Write([]byte(`{"wallet_pubkey":"0x00000000000000000000000000000000000000aa"}`))
	})

	address, err := client.CreateWallet(context.Background(), "did:privy:1")
	require.NoError(t, err)
	assert.Equal(t, "0x00000000000000000000000000000000000000aa", address)
}

func TestIdentityClientNonSuccessIsGeneric(t *testing.T) {
	client := newIdentityServer(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = w.Write([]byte(`{"error":"bad otp for a@example.com"}`))
	})

	_, err := client.VerifyOtp(context.Background(), "a@example.com", "000000")
	require.ErrorIs(t, err, ErrIdentityRequestFailed)
	assert.ErrorIs(t, err, interfaces.ErrIdentityRejected)
	assert.NotContains(t, err.Error(), "a@example.com")
}

func TestIdentityClientServerErrorIsNotRejection(t *testing.T) {
	client := newIdentityServer(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	})

	_, err := client.StartOtp(context.Background(), "a@example.com")
	require.ErrorIs(t, err, ErrIdentityRequestFailed)
	assert.NotErrorIs(t, err, interfaces.ErrIdentityRejected)
}

func TestIdentityClientMissingFields(t *testing.T) {
	client := newIdentityServer(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{}`))
	})

	_, err := client.VerifyOtp(context.Background(), "a@example.com", "123456")
	assert.ErrorIs(t, err, ErrIdentityRequestFailed)
	_, err = client.CreateWallet(context.Background(), "did:privy:1")
	assert.ErrorIs(t, err, ErrIdentityRequestFailed)
}
