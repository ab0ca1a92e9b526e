package reserve

import (
	"context"

	"github.com/shopspring/decimal"

	"github.com/quantex/arbiter/internal/chain"
)

// custodyAdapter scales the custody contract's base-unit integers into
// decimal amounts with the collateral token's precision.
type custodyAdapter struct {
	custody  *chain.Custody
	decimals int32
}

// AdaptCustody wraps a custody contract binding as a CustodyReader.
func AdaptCustody(custody *chain.Custody, decimals int) CustodyReader {
	return &custodyAdapter{custody: custody, decimals: int32(decimals)}
}

func (a *custodyAdapter) LockedCollateral(ctx context.Context) (decimal.Decimal, error) {
	raw, err := a.custody.LockedCollateral(ctx)
	if err != nil {
		return decimal.Zero, err
	}
	return decimal.NewFromBigInt(raw, -a.decimals), nil
}

func (a *custodyAdapter) TotalClaims(ctx context.Context) (decimal.Decimal, error) {
	raw, err := a.custody.TotalClaims(ctx)
	if err != nil {
		return decimal.Zero, err
	}
	return decimal.NewFromBigInt(raw, -a.decimals), nil
}
