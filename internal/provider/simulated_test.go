package provider

import (
	"context"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quantex/arbiter/internal/domain"
	"github.com/quantex/arbiter/pkg/config"
)

func dec(s string) decimal.Decimal {
	d, err := decimal.NewFromString(s)
	if err != nil {
		panic(err)
	}
	return d
}

func testOrder(amountIn, minOut string) domain.TradeOrder {
	order := domain.NewTradeOrder("USDC", "WETH", dec(amountIn), dec(minOut), time.Now().Add(time.Minute))
	return order
}

func TestLedgerTransfer(t *testing.T) {
	ledger := NewLedger(map[string]decimal.Decimal{"USDC": dec("100")})

	err := ledger.Transfer("USDC", dec("40"), "WETH", dec("0.01"))
	require.NoError(t, err)
	assert.True(t, ledger.Balance("USDC").Equal(dec("60")))
	assert.True(t, ledger.Balance("WETH").Equal(dec("0.01")))
}

func TestLedgerTransferInsufficient(t *testing.T) {
	ledger := NewLedger(map[string]decimal.Decimal{"USDC": dec("10")})

	err := ledger.Transfer("USDC", dec("10.5"), "WETH", dec("0.003"))
	require.ErrorIs(t, err, domain.ErrInsufficientBalance)

	// Nothing moved.
	assert.True(t, ledger.Balance("USDC").Equal(dec("10")))
	assert.True(t, ledger.Balance("WETH").IsZero())
}

func TestSimulatedMarketFixtures(t *testing.T) {
	market := NewSimulatedMarket(map[string]decimal.Decimal{"USDC/WETH": dec("0.0004")}, nil)

	quote, err := market.Quote(context.Background(), "USDC", "WETH")
	require.NoError(t, err)
	assert.True(t, quote.Price.Equal(dec("0.0004")))
	assert.Equal(t, "simulated", quote.Source)

	_, err = market.Quote(context.Background(), "USDC", "WBTC")
	require.ErrorIs(t, err, domain.ErrQuoteUnavailable)
}

type fixedQuoter struct {
	price decimal.Decimal
	err   error
}

func (q fixedQuoter) Quote(ctx context.Context, assetIn, assetOut string) (domain.MarketQuote, error) {
	if q.err != nil {
		return domain.MarketQuote{}, q.err
	}
	return domain.MarketQuote{AssetIn: assetIn, AssetOut: assetOut, Price: q.price, Source: "external", ObservedAt: time.Now()}, nil
}

func (q fixedQuoter) FundingRate(ctx context.Context, asset string) (decimal.Decimal, error) {
	return decimal.Zero, nil
}

func TestSimulatedMarketPrefersExternalQuoter(t *testing.T) {
	market := NewSimulatedMarket(
		map[string]decimal.Decimal{"USDC/WETH": dec("0.0004")},
		fixedQuoter{price: dec("0.00041")},
	)

	quote, err := market.Quote(context.Background(), "USDC", "WETH")
	require.NoError(t, err)
	assert.Equal(t, "external", quote.Source)
	assert.True(t, quote.Price.Equal(dec("0.00041")))
}

func TestSimulatedMarketFallsBackToFixtures(t *testing.T) {
	market := NewSimulatedMarket(
		map[string]decimal.Decimal{"USDC/WETH": dec("0.0004")},
		fixedQuoter{err: errors.New("upstream down")},
	)

	quote, err := market.Quote(context.Background(), "USDC", "WETH")
	require.NoError(t, err)
	assert.Equal(t, "simulated", quote.Source)
}

func TestSimulatedExecutorFeeMath(t *testing.T) {
	ledger := NewLedger(map[string]decimal.Decimal{"USDC": dec("1000")})
	exec := NewSimulatedExecutor(ledger, dec("0.1")) // 0.1%

	order := testOrder("1000", "0")
	quote := domain.MarketQuote{Price: dec("0.0004")}

	result, err := exec.Execute(context.Background(), order, quote)
	require.NoError(t, err)
	require.True(t, result.Success)

	// 1000 * 0.0004 = 0.4 gross, minus 0.1% fee = 0.3996.
	assert.True(t, result.AmountOut.Equal(dec("0.3996")), "got %s", result.AmountOut)
	assert.True(t, ledger.Balance("USDC").IsZero())
	assert.True(t, ledger.Balance("WETH").Equal(dec("0.3996")))
}

func TestSimulatedExecutorMinOutRefusal(t *testing.T) {
	ledger := NewLedger(map[string]decimal.Decimal{"USDC": dec("1000")})
	exec := NewSimulatedExecutor(ledger, dec("0.1"))

	// Net output 0.3996 is below the 0.4 floor: refused, not errored.
	order := testOrder("1000", "0.4")
	result, err := exec.Execute(context.Background(), order, domain.MarketQuote{Price: dec("0.0004")})
	require.NoError(t, err)
	assert.False(t, result.Success)
	assert.Contains(t, result.Error, domain.ErrRiskLimitExceeded.Error())

	// Refusal leaves the ledger untouched.
	assert.True(t, ledger.Balance("USDC").Equal(dec("1000")))
}

func TestSimulatedExecutorInsufficientBalance(t *testing.T) {
	// The ledger can be drained by a concurrent order after upstream balance
	// checks pass. The venue refuses the trade; it is not an execution fault.
	ledger := NewLedger(map[string]decimal.Decimal{"USDC": dec("500")})
	exec := NewSimulatedExecutor(ledger, dec("0.1"))

	order := testOrder("1000", "0")
	result, err := exec.Execute(context.Background(), order, domain.MarketQuote{Price: dec("0.0004")})
	require.NoError(t, err)
	assert.False(t, result.Success)
	assert.Equal(t, domain.ErrInsufficientBalance.Error(), result.Error)
	assert.True(t, ledger.Balance("USDC").Equal(dec("500")))
}

func TestBuildSimulated(t *testing.T) {
	cfg := &config.Config{
		Mode: config.ModeSimulated,
		Engine: config.EngineConfig{
			SimFeePct:   0.1,
			SimBalances: map[string]string{"USDC": "2500"},
			SimPrices:   map[string]string{"USDC/WETH": "0.0004"},
		},
	}

	providers, err := Build(cfg, nil, nil, nil, nil)
	require.NoError(t, err)

	balance, err := providers.Wallet.Balance(context.Background(), "USDC")
	require.NoError(t, err)
	assert.True(t, balance.Equal(dec("2500")))

	quote, err := providers.Market.Quote(context.Background(), "USDC", "WETH")
	require.NoError(t, err)
	assert.True(t, quote.Price.Equal(dec("0.0004")))

	estimate, err := providers.Gas.Estimate(context.Background())
	require.NoError(t, err)
	assert.True(t, estimate.Cost.IsZero())
}

func TestBuildLiveRequiresSigner(t *testing.T) {
	cfg := &config.Config{Mode: config.ModeLive}

	_, err := Build(cfg, nil, nil, nil, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "signer")
}
