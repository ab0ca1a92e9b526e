package signer

import (
	"crypto/ecdsa"
	"fmt"
	"math/big"
	"os"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/keystore"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/signer/core/apitypes"
	hdwallet "github.com/miguelmota/go-ethereum-hdwallet"
)

// defaultDerivationPath is the standard Ethereum account path.
const defaultDerivationPath = "m/44'/60'/0'/0/0"

// LocalSigner signs with an in-memory secp256k1 key. Raw-key, keystore and
// mnemonic sources all reduce to this type.
type LocalSigner struct {
	key  *ecdsa.PrivateKey
	addr common.Address
}

// NewLocalSigner wraps an existing private key.
func NewLocalSigner(key *ecdsa.PrivateKey) *LocalSigner {
	return &LocalSigner{key: key, addr: crypto.PubkeyToAddress(key.PublicKey)}
}

// FromHex builds a signer from a hex-encoded private key.
func FromHex(hexKey string) (*LocalSigner, error) {
	key, err := crypto.HexToECDSA(strings.TrimPrefix(strings.TrimSpace(hexKey), "0x"))
	if err != nil {
		return nil, fmt.Errorf("signer: parse private key: %w", err)
	}
	return NewLocalSigner(key), nil
}

// FromKeystore decrypts a go-ethereum keystore JSON file.
func FromKeystore(path, passphrase string) (*LocalSigner, error) {
	blob, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("signer: read keystore: %w", err)
	}
	key, err := keystore.DecryptKey(blob, passphrase)
	if err != nil {
		return nil, fmt.Errorf("signer: decrypt keystore: %w", err)
	}
	return NewLocalSigner(key.PrivateKey), nil
}

// FromMnemonic derives the first account of a BIP-39 mnemonic.
func FromMnemonic(mnemonic string) (*LocalSigner, error) {
	wallet, err := hdwallet.NewFromMnemonic(strings.TrimSpace(mnemonic))
	if err != nil {
		return nil, fmt.Errorf("signer: parse mnemonic: %w", err)
	}
	path := hdwallet.MustParseDerivationPath(defaultDerivationPath)
	account, err := wallet.Derive(path, false)
	if err != nil {
		return nil, fmt.Errorf("signer: derive account: %w", err)
	}
	key, err := wallet.PrivateKey(account)
	if err != nil {
		return nil, fmt.Errorf("signer: export derived key: %w", err)
	}
	return NewLocalSigner(key), nil
}

func (s *LocalSigner) Address() common.Address {
	return s.addr
}

func (s *LocalSigner) SignTx(tx *types.Transaction, chainID *big.Int) (*types.Transaction, error) {
	return types.SignTx(tx, types.LatestSignerForChainID(chainID), s.key)
}

func (s *LocalSigner) SignTypedData(data apitypes.TypedData) ([]byte, error) {
	digest, err := HashTypedData(data)
	if err != nil {
		return nil, err
	}
	return s.SignDigest(digest)
}

func (s *LocalSigner) SignDigest(digest []byte) ([]byte, error) {
	if len(digest) != 32 {
		return nil, fmt.Errorf("signer: digest must be 32 bytes, got %d", len(digest))
	}
	sig, err := crypto.Sign(digest, s.key)
	if err != nil {
		return nil, err
	}
	// go-ethereum returns v in {0,1}; contracts expect {27,28}.
	if sig[64] < 27 {
		sig[64] += 27
	}
	return sig, nil
}
