package domain

import (
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"
)

// MarketQuote is a single observed price for an asset pair.
type MarketQuote struct {
	AssetIn    string
	AssetOut   string
	Price      decimal.Decimal
	Source     string
	ObservedAt time.Time
}

// PriceSample is one point in a per-asset rolling price window. Windows only
// hold samples from the last two minutes relative to the newest insertion.
type PriceSample struct {
	Asset string
	Price decimal.Decimal
	At    time.Time
}

// CircuitState is the per-asset open/closed safety flag. The flag auto-clears
// a fixed cool-down after TrippedAt, independent of further price activity.
type CircuitState struct {
	Open      bool
	TrippedAt time.Time
}

// CachedApproval is an off-chain authorization signature kept until its
// deadline passes. Never returned from the cache once expired.
type CachedApproval struct {
	Token    common.Address
	Spender  common.Address
	Value    *big.Int // the exact amount the signature authorizes
	V        uint8
	R        [32]byte
	S        [32]byte
	Deadline *big.Int // unix seconds
	Nonce    *big.Int
}

// Covers reports whether the approval's signed value matches value exactly.
// A permit signature verifies only for the value it was signed over, so a
// larger cached value does not cover a smaller request.
func (a CachedApproval) Covers(value *big.Int) bool {
	return a.Value != nil && value != nil && a.Value.Cmp(value) == 0
}

// Expired reports whether the approval deadline has passed at t.
func (a CachedApproval) Expired(t time.Time) bool {
	if a.Deadline == nil {
		return true
	}
	return a.Deadline.Int64() <= t.Unix()
}

// ReserveStatus is a snapshot of custodied collateral against outstanding
// claims. Healthy iff Locked >= Claims; Ratio is zero when Claims is zero.
type ReserveStatus struct {
	Locked    decimal.Decimal
	Claims    decimal.Decimal
	Healthy   bool
	Ratio     decimal.Decimal
	CheckedAt time.Time
}

// NewReserveStatus computes health and ratio from raw values.
func NewReserveStatus(locked, claims decimal.Decimal, at time.Time) ReserveStatus {
	st := ReserveStatus{
		Locked:    locked,
		Claims:    claims,
		Healthy:   locked.GreaterThanOrEqual(claims),
		CheckedAt: at,
	}
	if claims.Sign() > 0 {
		st.Ratio = locked.Div(claims)
	} else {
		st.Ratio = decimal.Zero
	}
	return st
}
