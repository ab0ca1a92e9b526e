package permit

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"math/big"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quantex/arbiter/internal/approval"
	"github.com/quantex/arbiter/internal/domain"
	"github.com/quantex/arbiter/internal/signer"
)

const testKeyHex = "4c0883a69102937d6231471b5dbb6204fe5129617082792ae468d01a3f362318"

var (
	testToken = TokenMeta{
		Address: common.HexToAddress("0x2791Bca1f2de4661ED88A30C99A7a9449Aa84174"),
		Name:    "USD Coin",
		Version: "2",
	}
	testContract = common.HexToAddress("0x5555555555555555555555555555555555555555")
)

type stubNonces struct {
	nonce *big.Int
	calls int
}

func (s *stubNonces) TokenNonce(ctx context.Context, token, holder common.Address) (*big.Int, error) {
	s.calls++
	return s.nonce, nil
}

// relayRecorder captures forward requests and answers with a tx hash.
func relayRecorder(t *testing.T, got *forwardRequest) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/execute", r.URL.Path)
		require.NoError(t, json.NewDecoder(r.Body).Decode(got))
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"txHash":"0xabc123"}`))
	}))
	t.Cleanup(srv.Close)
	return srv
}

func newTestManager(t *testing.T, relayURL string, nonces NonceSource) (*Manager, *time.Time) {
	t.Helper()
	sgn, err := signer.FromHex(testKeyHex)
	require.NoError(t, err)
	m, err := NewManager(sgn, big.NewInt(137), nonces, approval.NewCache(), relayURL)
	require.NoError(t, err)

	// The approval.Cache keeps its own wall-clock, so the fixture time must
	// not be in the past or Put refuses already-expired authorizations.
	now := time.Now().UTC().Truncate(time.Second)
	m.now = func() time.Time { return now }
	return m, &now
}

func TestGenerateAuthorizationSignsWithCurrentNonce(t *testing.T) {
	nonces := &stubNonces{nonce: big.NewInt(7)}
	m, now := newTestManager(t, "http://unused", nonces)

	deadline := big.NewInt(now.Add(time.Hour).Unix())
	auth, err := m.GenerateAuthorization(context.Background(), testToken, testContract, big.NewInt(1000), deadline)
	require.NoError(t, err)

	assert.Equal(t, 1, nonces.calls)
	assert.Equal(t, big.NewInt(7), auth.Nonce)
	assert.Equal(t, deadline, auth.Deadline)
	assert.True(t, auth.V == 27 || auth.V == 28)
	assert.NotEqual(t, [32]byte{}, auth.R)
	assert.NotEqual(t, [32]byte{}, auth.S)
}

func TestGenerateAuthorizationReusesCache(t *testing.T) {
	nonces := &stubNonces{nonce: big.NewInt(7)}
	m, now := newTestManager(t, "http://unused", nonces)

	deadline := big.NewInt(now.Add(time.Hour).Unix())
	first, err := m.GenerateAuthorization(context.Background(), testToken, testContract, big.NewInt(1000), deadline)
	require.NoError(t, err)

	second, err := m.GenerateAuthorization(context.Background(), testToken, testContract, big.NewInt(1000), deadline)
	require.NoError(t, err)

	assert.Equal(t, 1, nonces.calls, "cached authorization must not re-read the nonce")
	assert.Equal(t, first, second)
}

// recoverPermitSigner recovers the address that signed auth over the permit
// payload for the given value.
func recoverPermitSigner(t *testing.T, m *Manager, spender common.Address, value *big.Int, auth domain.CachedApproval) common.Address {
	t.Helper()
	data := permitTypedData(testToken, big.NewInt(137), m.signer.Address(), spender, value, auth.Nonce, auth.Deadline)
	digest, err := signer.HashTypedData(data)
	require.NoError(t, err)

	sig := make([]byte, 65)
	copy(sig[0:32], auth.R[:])
	copy(sig[32:64], auth.S[:])
	sig[64] = auth.V - 27
	pub, err := crypto.SigToPub(digest, sig)
	require.NoError(t, err)
	return crypto.PubkeyToAddress(*pub)
}

func TestGenerateAuthorizationReSignsForDifferentValue(t *testing.T) {
	nonces := &stubNonces{nonce: big.NewInt(7)}
	m, now := newTestManager(t, "http://unused", nonces)

	deadline := big.NewInt(now.Add(time.Hour).Unix())
	_, err := m.GenerateAuthorization(context.Background(), testToken, testContract, big.NewInt(1000), deadline)
	require.NoError(t, err)

	// A different amount needs its own signature; the cached one verifies
	// only for the value it was signed over.
	auth, err := m.GenerateAuthorization(context.Background(), testToken, testContract, big.NewInt(500), deadline)
	require.NoError(t, err)

	assert.Equal(t, 2, nonces.calls)
	assert.Equal(t, big.NewInt(500), auth.Value)
	assert.Equal(t, m.signer.Address(), recoverPermitSigner(t, m, testContract, big.NewInt(500), auth))
}

func TestForwardSignsRequest(t *testing.T) {
	var got forwardRequest
	srv := relayRecorder(t, &got)
	m, _ := newTestManager(t, srv.URL, &stubNonces{nonce: big.NewInt(0)})

	call := []byte{0xde, 0xad, 0xbe, 0xef}
	txHash, err := m.Forward(context.Background(), testContract, call, 250_000)
	require.NoError(t, err)
	assert.Equal(t, "0xabc123", txHash)

	assert.Equal(t, testContract.Hex(), got.To)
	assert.Equal(t, "0xdeadbeef", got.Data)
	assert.Equal(t, uint64(250_000), got.GasBudget)

	// The relay verifies the signature binds from/to/data/gas.
	sig, err := hex.DecodeString(strings.TrimPrefix(got.Signature, "0x"))
	require.NoError(t, err)
	require.Len(t, sig, 65)
	sig[64] -= 27
	digest := forwardDigest(common.HexToAddress(got.From), testContract, call, 250_000)
	pub, err := crypto.SigToPub(digest, sig)
	require.NoError(t, err)
	assert.Equal(t, got.From, crypto.PubkeyToAddress(*pub).Hex())
}

func TestExecuteDelegatedEmbedsAuthorization(t *testing.T) {
	var got forwardRequest
	srv := relayRecorder(t, &got)
	m, now := newTestManager(t, srv.URL, &stubNonces{nonce: big.NewInt(3)})

	// Pre-sign for the same amount and deadline so the delegated call reuses
	// this exact authorization.
	deadline := big.NewInt(now.Add(time.Hour).Unix())
	auth, err := m.GenerateAuthorization(context.Background(), testToken, testContract, big.NewInt(500), deadline)
	require.NoError(t, err)

	txHash, err := m.ExecuteDelegated(context.Background(), testContract, testToken, big.NewInt(500), []byte{0x01})
	require.NoError(t, err)
	assert.Equal(t, "0xabc123", txHash)

	// The forwarded calldata embeds the exact deadline and sig.
	data := strings.TrimPrefix(got.Data, "0x")
	assert.Contains(t, data, hex.EncodeToString(auth.R[:]))
	assert.Contains(t, data, hex.EncodeToString(auth.S[:]))
}

func TestForwardAuthorizedConsumesCachedAuthorization(t *testing.T) {
	var got forwardRequest
	srv := relayRecorder(t, &got)
	nonces := &stubNonces{nonce: big.NewInt(3)}
	m, _ := newTestManager(t, srv.URL, nonces)

	_, err := m.ExecuteDelegated(context.Background(), testContract, testToken, big.NewInt(500), []byte{0x01})
	require.NoError(t, err)

	// The forward consumed permit nonce 3 on-chain, so the cached entry is
	// gone and the next delegated call signs with the advanced nonce.
	_, ok := m.cache.Get(m.signer.Address(), testToken.Address, testContract)
	assert.False(t, ok)

	nonces.nonce = big.NewInt(4)
	_, err = m.ExecuteDelegated(context.Background(), testContract, testToken, big.NewInt(500), []byte{0x01})
	require.NoError(t, err)
	assert.Equal(t, 2, nonces.calls)

	_, ok = m.cache.Get(m.signer.Address(), testToken.Address, testContract)
	assert.False(t, ok, "second forward consumed its authorization too")
}

func TestForwardAuthorizedRejectsExpiredDeadline(t *testing.T) {
	var got forwardRequest
	srv := relayRecorder(t, &got)
	m, now := newTestManager(t, srv.URL, &stubNonces{nonce: big.NewInt(3)})

	deadline := big.NewInt(now.Add(time.Hour).Unix())
	auth, err := m.GenerateAuthorization(context.Background(), testToken, testContract, big.NewInt(500), deadline)
	require.NoError(t, err)

	// Forwarding at now+10s succeeds.
	*now = now.Add(10 * time.Second)
	_, err = m.ForwardAuthorized(context.Background(), testContract, testToken, big.NewInt(500), nil, auth)
	require.NoError(t, err)

	// Forwarding past the deadline fails with SignatureExpired.
	*now = now.Add(time.Hour)
	_, err = m.ForwardAuthorized(context.Background(), testContract, testToken, big.NewInt(500), nil, auth)
	assert.ErrorIs(t, err, domain.ErrSignatureExpired)
}
