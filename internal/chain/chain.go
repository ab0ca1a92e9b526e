// Package chain is the thin read/write surface over the EVM node shared by
// the live providers, the delegated-execution manager and the reserve
// monitor. Contract internals are external collaborators; only argument and
// return shapes matter here.
package chain

import (
	"context"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
)

// Reader is the chain read surface.
type Reader interface {
	// BlockNumber returns the current head height.
	BlockNumber(ctx context.Context) (uint64, error)

	// NativeBalance returns the gas-currency balance of an account.
	NativeBalance(ctx context.Context, account common.Address) (*big.Int, error)

	// TokenBalance returns the ERC-20 balance of holder.
	TokenBalance(ctx context.Context, token, holder common.Address) (*big.Int, error)

	// TokenNonce returns the current EIP-2612 permit nonce for holder.
	TokenNonce(ctx context.Context, token, holder common.Address) (*big.Int, error)

	// SuggestGasPrice returns the node's current gas price suggestion.
	SuggestGasPrice(ctx context.Context) (*big.Int, error)

	// PendingNonceAt returns the account's next transaction nonce.
	PendingNonceAt(ctx context.Context, account common.Address) (uint64, error)

	// CallContract performs a read-only call against a contract.
	CallContract(ctx context.Context, to common.Address, data []byte) ([]byte, error)
}

// Writer is the chain write surface.
type Writer interface {
	// SendTransaction broadcasts a signed transaction.
	SendTransaction(ctx context.Context, tx *types.Transaction) error

	// TransactionReceipt returns the receipt once mined, or an error while
	// still pending.
	TransactionReceipt(ctx context.Context, txHash common.Hash) (*types.Receipt, error)
}

// ReadWriter combines both surfaces.
type ReadWriter interface {
	Reader
	Writer
}
