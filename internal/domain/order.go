package domain

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// TradeOrder is a candidate trade admitted to the engine. Orders are
// immutable after admission; the engine consumes each order exactly once and
// terminates it in a TradeResult.
type TradeOrder struct {
	ID           string          // unique order identifier
	AssetIn      string          // asset sold
	AssetOut     string          // asset bought
	AmountIn     decimal.Decimal // input amount, non-negative
	MinAmountOut decimal.Decimal // minimum acceptable output
	Deadline     time.Time       // must be in the future at admission
	SlippagePct  decimal.Decimal // tolerance in percent, e.g. 0.5
	CreatedAt    time.Time
}

// NewTradeOrder builds an order with a fresh ID and creation timestamp.
func NewTradeOrder(assetIn, assetOut string, amountIn, minOut decimal.Decimal, deadline time.Time) TradeOrder {
	return TradeOrder{
		ID:           uuid.NewString(),
		AssetIn:      assetIn,
		AssetOut:     assetOut,
		AmountIn:     amountIn,
		MinAmountOut: minOut,
		Deadline:     deadline,
		CreatedAt:    time.Now(),
	}
}

// Validate checks the admission invariants: positive input amount and a
// deadline strictly in the future.
func (o TradeOrder) Validate(now time.Time) error {
	if o.AmountIn.Sign() <= 0 {
		return ErrInvalidOrder
	}
	if o.MinAmountOut.Sign() < 0 {
		return ErrInvalidOrder
	}
	if !o.Deadline.After(now) {
		return ErrOrderExpired
	}
	return nil
}

// Pair returns the order's asset pair in "IN/OUT" form.
func (o TradeOrder) Pair() string {
	return o.AssetIn + "/" + o.AssetOut
}

// TradeResult is the terminal outcome of an order. Error is set iff Success
// is false.
type TradeResult struct {
	OrderID   string
	Success   bool
	Price     decimal.Decimal
	AmountOut decimal.Decimal
	GasUsed   uint64 // 0 when unknown or not applicable
	TxHash    string // empty when no transaction was produced
	Error     string
	ClosedAt  time.Time
}

// Failed builds a failure result for an order.
func Failed(orderID string, err error) TradeResult {
	return TradeResult{
		OrderID:  orderID,
		Success:  false,
		Error:    err.Error(),
		ClosedAt: time.Now(),
	}
}
