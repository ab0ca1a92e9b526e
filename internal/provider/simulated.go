package provider

import (
	"context"
	"math/big"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"github.com/quantex/arbiter/internal/domain"
)

// Ledger is the in-memory balance book backing simulated mode.
type Ledger struct {
	mu       sync.Mutex
	balances map[string]decimal.Decimal
}

// NewLedger seeds a ledger with starting balances.
func NewLedger(balances map[string]decimal.Decimal) *Ledger {
	book := make(map[string]decimal.Decimal, len(balances))
	for asset, amount := range balances {
		book[asset] = amount
	}
	return &Ledger{balances: book}
}

// Balance returns the current balance of an asset (zero when unknown).
func (l *Ledger) Balance(asset string) decimal.Decimal {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.balances[asset]
}

// Transfer atomically debits `debit` of assetIn and credits `credit` of
// assetOut, failing with ErrInsufficientBalance when assetIn cannot cover
// the debit.
func (l *Ledger) Transfer(assetIn string, debit decimal.Decimal, assetOut string, credit decimal.Decimal) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.balances[assetIn].LessThan(debit) {
		return domain.ErrInsufficientBalance
	}
	l.balances[assetIn] = l.balances[assetIn].Sub(debit)
	l.balances[assetOut] = l.balances[assetOut].Add(credit)
	return nil
}

// SimulatedMarket serves quotes from fixed fixtures, or from an external
// quoter when one is supplied (externally-quoted simulation).
type SimulatedMarket struct {
	prices  map[string]decimal.Decimal // "IN/OUT" -> price
	quoter  MarketSource               // optional external source
	funding decimal.Decimal
}

// NewSimulatedMarket builds a market source from price fixtures. quoter may
// be nil; when set, fixtures act as a fallback.
func NewSimulatedMarket(prices map[string]decimal.Decimal, quoter MarketSource) *SimulatedMarket {
	return &SimulatedMarket{prices: prices, quoter: quoter}
}

func (m *SimulatedMarket) Quote(ctx context.Context, assetIn, assetOut string) (domain.MarketQuote, error) {
	if m.quoter != nil {
		if q, err := m.quoter.Quote(ctx, assetIn, assetOut); err == nil {
			return q, nil
		}
	}
	pair := assetIn + "/" + assetOut
	price, ok := m.prices[pair]
	if !ok {
		return domain.MarketQuote{}, errors.Wrap(domain.ErrQuoteUnavailable, pair)
	}
	return domain.MarketQuote{
		AssetIn:    assetIn,
		AssetOut:   assetOut,
		Price:      price,
		Source:     "simulated",
		ObservedAt: time.Now(),
	}, nil
}

func (m *SimulatedMarket) FundingRate(ctx context.Context, asset string) (decimal.Decimal, error) {
	return m.funding, nil
}

// SetFundingRate overrides the fixed funding rate (percent per hour).
func (m *SimulatedMarket) SetFundingRate(rate decimal.Decimal) {
	m.funding = rate
}

// SimulatedWallet reads the shared ledger. The address is a stable fake
// identity; no key material exists in simulated mode.
type SimulatedWallet struct {
	ledger *Ledger
	addr   common.Address
}

// NewSimulatedWallet wraps a ledger.
func NewSimulatedWallet(ledger *Ledger) *SimulatedWallet {
	return &SimulatedWallet{
		ledger: ledger,
		addr:   common.HexToAddress("0x00000000000000000000000000000000000a4b17"),
	}
}

func (w *SimulatedWallet) Address() common.Address {
	return w.addr
}

func (w *SimulatedWallet) Balance(ctx context.Context, asset string) (decimal.Decimal, error) {
	return w.ledger.Balance(asset), nil
}

// SimulatedGas returns a flat estimate with zero cost: simulated trades burn
// no real gas.
type SimulatedGas struct{}

func (SimulatedGas) Estimate(ctx context.Context) (GasEstimate, error) {
	return GasEstimate{
		GasLimit: 180_000,
		GasPrice: big.NewInt(0),
		Cost:     decimal.Zero,
	}, nil
}

// SimulatedExecutor swaps against the in-memory ledger with a fixed
// proportional fee. No signing or network code exists on this path.
type SimulatedExecutor struct {
	ledger *Ledger
	fee    decimal.Decimal // proportional, e.g. 0.001 for 0.1%
	log    *logrus.Entry
}

// NewSimulatedExecutor builds an executor with feePct given in percent
// (0.1 means 0.1%).
func NewSimulatedExecutor(ledger *Ledger, feePct decimal.Decimal) *SimulatedExecutor {
	return &SimulatedExecutor{
		ledger: ledger,
		fee:    feePct.Div(decimal.NewFromInt(100)),
		log:    logrus.WithField("component", "sim_executor"),
	}
}

func (e *SimulatedExecutor) Execute(ctx context.Context, order domain.TradeOrder, quote domain.MarketQuote) (domain.TradeResult, error) {
	gross := order.AmountIn.Mul(quote.Price)
	amountOut := gross.Mul(decimal.NewFromInt(1).Sub(e.fee))

	if amountOut.LessThan(order.MinAmountOut) {
		return domain.TradeResult{
			OrderID:  order.ID,
			Success:  false,
			Error:    domain.ErrRiskLimitExceeded.Error() + ": output below minimum",
			ClosedAt: time.Now(),
		}, nil
	}
	if err := e.ledger.Transfer(order.AssetIn, order.AmountIn, order.AssetOut, amountOut); err != nil {
		// A concurrent order can drain the ledger after the balance gate
		// passed; that is a refusal by this venue, not an execution fault.
		if errors.Is(err, domain.ErrInsufficientBalance) {
			return domain.TradeResult{
				OrderID:  order.ID,
				Success:  false,
				Error:    domain.ErrInsufficientBalance.Error(),
				ClosedAt: time.Now(),
			}, nil
		}
		return domain.TradeResult{}, err
	}

	e.log.WithFields(logrus.Fields{
		"order": order.ID,
		"in":    order.AmountIn.String() + " " + order.AssetIn,
		"out":   amountOut.String() + " " + order.AssetOut,
	}).Debug("simulated fill")

	return domain.TradeResult{
		OrderID:   order.ID,
		Success:   true,
		Price:     quote.Price,
		AmountOut: amountOut,
		ClosedAt:  time.Now(),
	}, nil
}
