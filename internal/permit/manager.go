// Package permit implements delegated execution: EIP-2612 permit signatures
// plus call forwarding through a trusted relay, so the trade initiator never
// needs to hold native gas currency.
package permit

import (
	"context"
	"encoding/binary"
	"encoding/hex"
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	gethmath "github.com/ethereum/go-ethereum/common/math"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/signer/core/apitypes"
	"github.com/go-resty/resty/v2"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/quantex/arbiter/internal/approval"
	"github.com/quantex/arbiter/internal/domain"
	"github.com/quantex/arbiter/internal/signer"
)

// authorizationValidity is the deadline horizon for composed delegated calls.
const authorizationValidity = time.Hour

// defaultGasBudget caps relayed execution when the caller does not say.
const defaultGasBudget = uint64(600_000)

// executorABI is the forwarded call surface on the target contract: the
// embedded authorization authorizes the pull of `amount` of `token`.
const executorABI = `[
  {"name":"executeWithPermit","type":"function","stateMutability":"nonpayable","inputs":[
    {"name":"token","type":"address"},
    {"name":"amount","type":"uint256"},
    {"name":"deadline","type":"uint256"},
    {"name":"v","type":"uint8"},
    {"name":"r","type":"bytes32"},
    {"name":"s","type":"bytes32"},
    {"name":"params","type":"bytes"}
  ],"outputs":[]}
]`

// TokenMeta identifies a permit-capable token and its EIP-712 domain.
type TokenMeta struct {
	Address common.Address
	Name    string
	Version string
}

// NonceSource supplies the holder's current on-chain permit nonce. A stale
// nonce gets the permit rejected on-chain, so this is always read fresh.
type NonceSource interface {
	TokenNonce(ctx context.Context, token, holder common.Address) (*big.Int, error)
}

// forwardRequest is the relay service wire format.
type forwardRequest struct {
	From      string `json:"from"`
	To        string `json:"to"`
	Data      string `json:"data"`
	GasBudget uint64 `json:"gasBudget"`
	Signature string `json:"signature"`
}

type forwardResponse struct {
	TxHash string `json:"txHash"`
	Error  string `json:"error,omitempty"`
}

// Manager builds authorizations and forwards encoded calls through the
// trusted relay, which executes on the signer's behalf and pays gas.
type Manager struct {
	signer   signer.Signer
	chainID  *big.Int
	nonces   NonceSource
	cache    *approval.Cache
	relay    *resty.Client
	executor abi.ABI
	now      func() time.Time
	log      *logrus.Entry
}

// NewManager wires a manager against the relay service at relayURL.
func NewManager(sgn signer.Signer, chainID *big.Int, nonces NonceSource, cache *approval.Cache, relayURL string) (*Manager, error) {
	parsed, err := abi.JSON(strings.NewReader(executorABI))
	if err != nil {
		return nil, errors.Wrap(err, "permit: parse executor abi")
	}
	return &Manager{
		signer:   sgn,
		chainID:  chainID,
		nonces:   nonces,
		cache:    cache,
		relay:    resty.New().SetBaseURL(relayURL).SetTimeout(30 * time.Second),
		executor: parsed,
		now:      time.Now,
		log:      logrus.WithField("component", "permit"),
	}, nil
}

// GenerateAuthorization signs a domain-separated permit for (token, spender,
// value, deadline) using the holder's current on-chain nonce. A still-valid
// cached authorization for the same (holder, token, spender) is reused
// without re-signing only when its signed value matches the request exactly;
// the signature does not verify for any other value. A value mismatch
// re-signs and replaces the entry.
func (m *Manager) GenerateAuthorization(ctx context.Context, token TokenMeta, spender common.Address, value, deadline *big.Int) (domain.CachedApproval, error) {
	holder := m.signer.Address()
	if cached, ok := m.cache.Get(holder, token.Address, spender); ok {
		if cached.Covers(value) {
			return cached, nil
		}
		m.cache.Delete(holder, token.Address, spender)
	}

	nonce, err := m.nonces.TokenNonce(ctx, token.Address, holder)
	if err != nil {
		return domain.CachedApproval{}, errors.Wrap(err, "permit: read nonce")
	}

	data := permitTypedData(token, m.chainID, holder, spender, value, nonce, deadline)
	sig, err := m.signer.SignTypedData(data)
	if err != nil {
		return domain.CachedApproval{}, errors.Wrap(err, "permit: sign")
	}

	auth := domain.CachedApproval{
		Token:    token.Address,
		Spender:  spender,
		Value:    new(big.Int).Set(value),
		V:        sig[64],
		Deadline: deadline,
		Nonce:    nonce,
	}
	copy(auth.R[:], sig[0:32])
	copy(auth.S[:], sig[32:64])

	m.cache.Put(holder, auth)
	m.log.WithFields(logrus.Fields{
		"token":   token.Address.Hex(),
		"spender": spender.Hex(),
		"nonce":   nonce.String(),
	}).Debug("authorization generated")
	return auth, nil
}

// Forward submits an encoded call through the trusted relay. The relay, not
// the holder, pays gas. Returns the relay's transaction reference.
func (m *Manager) Forward(ctx context.Context, target common.Address, encodedCall []byte, gasBudget uint64) (string, error) {
	if gasBudget == 0 {
		gasBudget = defaultGasBudget
	}
	from := m.signer.Address()

	sig, err := m.signer.SignDigest(forwardDigest(from, target, encodedCall, gasBudget))
	if err != nil {
		return "", errors.Wrap(err, "permit: sign forward request")
	}

	req := forwardRequest{
		From:      from.Hex(),
		To:        target.Hex(),
		Data:      "0x" + hex.EncodeToString(encodedCall),
		GasBudget: gasBudget,
		Signature: "0x" + hex.EncodeToString(sig),
	}

	var out forwardResponse
	resp, err := m.relay.R().
		SetContext(ctx).
		SetBody(req).
		SetResult(&out).
		Post("/execute")
	if err != nil {
		return "", errors.Wrap(err, "permit: forward")
	}
	if resp.IsError() || out.Error != "" {
		return "", errors.Errorf("permit: relay rejected forward: http %d %s", resp.StatusCode(), out.Error)
	}
	return out.TxHash, nil
}

// ForwardAuthorized encodes the target call embedding the authorization and
// forwards it. Fails with ErrSignatureExpired when the authorization
// deadline has already elapsed at forward time. A successful forward
// consumes the holder's on-chain permit nonce, so the cached entry is
// invalidated; the next call re-signs with a fresh nonce.
func (m *Manager) ForwardAuthorized(ctx context.Context, contract common.Address, token TokenMeta, amount *big.Int, params []byte, auth domain.CachedApproval) (string, error) {
	if auth.Expired(m.now()) {
		return "", domain.ErrSignatureExpired
	}
	encoded, err := m.executor.Pack("executeWithPermit",
		token.Address, amount, auth.Deadline, auth.V, auth.R, auth.S, params)
	if err != nil {
		return "", errors.Wrap(err, "permit: encode call")
	}
	txHash, err := m.Forward(ctx, contract, encoded, defaultGasBudget)
	if err != nil {
		return "", err
	}
	m.cache.Delete(m.signer.Address(), token.Address, auth.Spender)
	return txHash, nil
}

// ExecuteDelegated composes authorization and forwarding: a fresh (or
// cached, matching the amount and still valid) authorization with a one-hour
// deadline is embedded in the target call and relayed.
func (m *Manager) ExecuteDelegated(ctx context.Context, contract common.Address, token TokenMeta, amount *big.Int, params []byte) (string, error) {
	deadline := big.NewInt(m.now().Add(authorizationValidity).Unix())
	auth, err := m.GenerateAuthorization(ctx, token, contract, amount, deadline)
	if err != nil {
		return "", err
	}
	return m.ForwardAuthorized(ctx, contract, token, amount, params, auth)
}

// permitTypedData builds the EIP-2612 Permit payload for the token's domain.
func permitTypedData(token TokenMeta, chainID *big.Int, holder, spender common.Address, value, nonce, deadline *big.Int) apitypes.TypedData {
	return apitypes.TypedData{
		Types: apitypes.Types{
			"EIP712Domain": {
				{Name: "name", Type: "string"},
				{Name: "version", Type: "string"},
				{Name: "chainId", Type: "uint256"},
				{Name: "verifyingContract", Type: "address"},
			},
			"Permit": {
				{Name: "owner", Type: "address"},
				{Name: "spender", Type: "address"},
				{Name: "value", Type: "uint256"},
				{Name: "nonce", Type: "uint256"},
				{Name: "deadline", Type: "uint256"},
			},
		},
		PrimaryType: "Permit",
		Domain: apitypes.TypedDataDomain{
			Name:              token.Name,
			Version:           token.Version,
			ChainId:           gethmath.NewHexOrDecimal256(chainID.Int64()),
			VerifyingContract: token.Address.Hex(),
		},
		Message: apitypes.TypedDataMessage{
			"owner":    holder.Hex(),
			"spender":  spender.Hex(),
			"value":    value.String(),
			"nonce":    nonce.String(),
			"deadline": deadline.String(),
		},
	}
}

// forwardDigest binds the relay request fields the service verifies.
func forwardDigest(from, to common.Address, data []byte, gasBudget uint64) []byte {
	var gas [8]byte
	binary.BigEndian.PutUint64(gas[:], gasBudget)
	return crypto.Keccak256(from.Bytes(), to.Bytes(), crypto.Keccak256(data), gas[:])
}
