// Package signer unifies the pluggable signing backends behind one opaque
// capability. Consumers depend only on {address, sign transaction, sign
// structured data}, never on a concrete backend.
package signer

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/signer/core/apitypes"
)

// Signer is the opaque signing capability supplied to the execution core.
type Signer interface {
	// Address returns the signer's account address.
	Address() common.Address

	// SignTx signs a transaction for the given chain.
	SignTx(tx *types.Transaction, chainID *big.Int) (*types.Transaction, error)

	// SignTypedData signs EIP-712 structured data and returns the 65-byte
	// signature (r, s, v) with v in {27, 28}.
	SignTypedData(data apitypes.TypedData) ([]byte, error)

	// SignDigest signs an already-hashed 32-byte digest, v in {27, 28}.
	SignDigest(digest []byte) ([]byte, error)
}

// HashTypedData computes the EIP-712 digest:
// keccak256("\x19\x01" || domainSeparator || hashStruct(message)).
func HashTypedData(data apitypes.TypedData) ([]byte, error) {
	domainSeparator, err := data.HashStruct("EIP712Domain", data.Domain.Map())
	if err != nil {
		return nil, err
	}
	messageHash, err := data.HashStruct(data.PrimaryType, data.Message)
	if err != nil {
		return nil, err
	}
	raw := []byte{0x19, 0x01}
	raw = append(raw, domainSeparator...)
	raw = append(raw, messageHash...)
	return crypto.Keccak256(raw), nil
}
