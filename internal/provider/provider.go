// Package provider defines the four execution-mode capabilities and their
// simulated and live variants. The variant set is closed and chosen once at
// construction; nothing inspects the mode at runtime afterwards.
package provider

import (
	"context"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"

	"github.com/quantex/arbiter/internal/domain"
)

// MarketSource supplies price quotes and funding rates.
type MarketSource interface {
	Quote(ctx context.Context, assetIn, assetOut string) (domain.MarketQuote, error)
	FundingRate(ctx context.Context, asset string) (decimal.Decimal, error)
}

// WalletAccessor exposes balances and the executing identity.
type WalletAccessor interface {
	Address() common.Address
	Balance(ctx context.Context, asset string) (decimal.Decimal, error)
}

// GasEstimate is the projected cost of one swap.
type GasEstimate struct {
	GasLimit uint64
	GasPrice *big.Int        // wei
	Cost     decimal.Decimal // native currency units
}

// GasEstimator projects execution cost.
type GasEstimator interface {
	Estimate(ctx context.Context) (GasEstimate, error)
}

// OrderExecutor performs a swap. A returned error is an execution exception;
// an unsuccessful TradeResult with a reason is an executor-reported refusal.
type OrderExecutor interface {
	Execute(ctx context.Context, order domain.TradeOrder, quote domain.MarketQuote) (domain.TradeResult, error)
}

// Providers bundles one variant of each capability.
type Providers struct {
	Market   MarketSource
	Wallet   WalletAccessor
	Gas      GasEstimator
	Executor OrderExecutor
}
