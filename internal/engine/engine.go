// Package engine drives a trade order through its full lifecycle: quote,
// risk gate, cost estimate, execution, terminal event.
package engine

import (
	"context"
	"time"

	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"github.com/quantex/arbiter/internal/domain"
	"github.com/quantex/arbiter/internal/events"
	"github.com/quantex/arbiter/internal/metrics"
	"github.com/quantex/arbiter/internal/provider"
	"github.com/quantex/arbiter/internal/risk"
)

// OrderState labels one step of the per-order state machine.
type OrderState string

const (
	StateCreated       OrderState = "CREATED"
	StateQuoted        OrderState = "QUOTED"
	StateRiskChecked   OrderState = "RISK_CHECKED"
	StateCostEstimated OrderState = "COST_ESTIMATED"
	StateSubmitted     OrderState = "SUBMITTED"
	StateFilled        OrderState = "FILLED"
	StateRejected      OrderState = "REJECTED"
	StateErrored       OrderState = "ERRORED"
)

// Recorder persists terminal order outcomes. Nil disables persistence.
type Recorder interface {
	Record(ctx context.Context, order domain.TradeOrder, result domain.TradeResult) error
}

// Engine owns one provider set, one breaker and one bus, all injected at
// construction. There are no package-level instances.
type Engine struct {
	providers    *provider.Providers
	breaker      *risk.CircuitBreaker
	bus          *events.Bus
	journal      Recorder
	quoteTimeout time.Duration
	now          func() time.Time
	log          *logrus.Entry
}

// New builds an engine. journal may be nil.
func New(providers *provider.Providers, breaker *risk.CircuitBreaker, bus *events.Bus, journal Recorder, quoteTimeout time.Duration) *Engine {
	if quoteTimeout <= 0 {
		quoteTimeout = 5 * time.Second
	}
	return &Engine{
		providers:    providers,
		breaker:      breaker,
		bus:          bus,
		journal:      journal,
		quoteTimeout: quoteTimeout,
		now:          time.Now,
		log:          logrus.WithField("component", "engine"),
	}
}

// Process runs one order through the state machine and returns its terminal
// result. Nothing escapes as a panic or raw error: executor and network
// failures are converted into an unsuccessful result, and exactly one
// terminal event is published per order.
//
// The breaker consultation is advisory: a concurrent order on the same asset
// may trip the breaker after this order's check passed. That window is an
// accepted trade-off; the breaker bounds exposure, it does not serialize
// admissions.
func (e *Engine) Process(ctx context.Context, order domain.TradeOrder) domain.TradeResult {
	started := e.now()
	metrics.OrdersSubmitted.Add(1)
	log := e.log.WithFields(logrus.Fields{"order": order.ID, "pair": order.Pair()})
	log.WithField("state", StateCreated).Info("order admitted")

	// Admission gate. Nothing downstream is called for an invalid order.
	if err := order.Validate(e.now()); err != nil {
		return e.reject(ctx, order, started, err.Error())
	}

	// CREATED -> QUOTED
	quote, err := e.quote(ctx, order)
	if err != nil {
		return e.errored(ctx, order, started, errors.Wrap(err, domain.ErrQuoteUnavailable.Error()))
	}
	e.breaker.Observe(order.AssetOut, quote.Price)
	e.bus.Publish(events.KindQuote, events.QuoteEvent{Quote: quote})
	log.WithField("state", StateQuoted).Debugf("quoted %s from %s", quote.Price, quote.Source)

	// QUOTED -> RISK_CHECKED
	if reason, ok := e.riskGate(ctx, order); !ok {
		return e.reject(ctx, order, started, reason)
	}
	log.WithField("state", StateRiskChecked).Debug("risk gates passed")

	// Balance gate before any costing work.
	balance, err := e.providers.Wallet.Balance(ctx, order.AssetIn)
	if err != nil {
		return e.errored(ctx, order, started, errors.Wrap(err, "balance read"))
	}
	if balance.LessThan(order.AmountIn) {
		return e.reject(ctx, order, started, domain.ErrInsufficientBalance.Error())
	}

	// RISK_CHECKED -> COST_ESTIMATED
	estimate, err := e.providers.Gas.Estimate(ctx)
	if err != nil {
		return e.errored(ctx, order, started, errors.Wrap(err, "gas estimate"))
	}
	log.WithField("state", StateCostEstimated).Debugf("gas limit %d cost %s", estimate.GasLimit, estimate.Cost)

	// Deadline recheck. An order that expired while being processed is
	// rejected, never silently dropped.
	if !order.Deadline.After(e.now()) {
		return e.reject(ctx, order, started, domain.ErrOrderExpired.Error())
	}

	// COST_ESTIMATED -> SUBMITTED
	log.WithField("state", StateSubmitted).Info("submitting to executor")
	result, err := e.providers.Executor.Execute(ctx, order, quote)
	if err != nil {
		return e.errored(ctx, order, started, err)
	}
	if !result.Success {
		return e.rejectWithResult(ctx, order, started, result)
	}

	// SUBMITTED -> FILLED
	result.OrderID = order.ID
	if result.ClosedAt.IsZero() {
		result.ClosedAt = e.now()
	}
	e.bus.Publish(events.KindFill, events.FillEvent{
		OrderID:   order.ID,
		Price:     result.Price,
		AmountOut: result.AmountOut,
		GasUsed:   result.GasUsed,
		TxHash:    result.TxHash,
		Timestamp: result.ClosedAt,
	})
	metrics.RecordFill(result.GasUsed)
	e.finish(ctx, order, result, started, StateFilled)
	return result
}

// quote fetches a market quote under the configured timeout.
func (e *Engine) quote(ctx context.Context, order domain.TradeOrder) (domain.MarketQuote, error) {
	quoteCtx, cancel := context.WithTimeout(ctx, e.quoteTimeout)
	defer cancel()
	return e.providers.Market.Quote(quoteCtx, order.AssetIn, order.AssetOut)
}

// riskGate consults the manual halt, the per-asset breaker for both legs and
// the funding gate. The first failing gate wins; no further calls are made.
func (e *Engine) riskGate(ctx context.Context, order domain.TradeOrder) (string, bool) {
	if e.breaker.Halted() {
		return domain.ErrCircuitOpen.Error() + ": trading halted by operator", false
	}
	if e.breaker.IsOpen(order.AssetIn) || e.breaker.IsOpen(order.AssetOut) {
		return domain.ErrCircuitOpen.Error(), false
	}
	rate, err := e.providers.Market.FundingRate(ctx, order.AssetOut)
	if err != nil {
		// Funding data is a gate input; treat unavailability as a refusal
		// rather than trading blind.
		return domain.ErrRiskLimitExceeded.Error() + ": funding rate unavailable", false
	}
	if !e.breaker.CheckFunding(rate) {
		return domain.ErrRiskLimitExceeded.Error() + ": funding rate " + rate.String() + "%/h", false
	}
	return "", true
}

func (e *Engine) reject(ctx context.Context, order domain.TradeOrder, started time.Time, reason string) domain.TradeResult {
	result := domain.TradeResult{
		OrderID:  order.ID,
		Success:  false,
		Error:    reason,
		ClosedAt: e.now(),
	}
	return e.rejectWithResult(ctx, order, started, result)
}

func (e *Engine) rejectWithResult(ctx context.Context, order domain.TradeOrder, started time.Time, result domain.TradeResult) domain.TradeResult {
	result.OrderID = order.ID
	if result.ClosedAt.IsZero() {
		result.ClosedAt = e.now()
	}
	e.bus.Publish(events.KindReject, events.RejectEvent{
		OrderID:   order.ID,
		Reason:    result.Error,
		Timestamp: result.ClosedAt,
	})
	metrics.RecordReject()
	e.finish(ctx, order, result, started, StateRejected)
	return result
}

func (e *Engine) errored(ctx context.Context, order domain.TradeOrder, started time.Time, err error) domain.TradeResult {
	result := domain.Failed(order.ID, err)
	e.bus.Publish(events.KindError, events.ErrorEvent{
		OrderID:   order.ID,
		Error:     err.Error(),
		Timestamp: result.ClosedAt,
	})
	metrics.RecordError()
	e.finish(ctx, order, result, started, StateErrored)
	return result
}

// finish logs the terminal transition, records latency and persists the row.
func (e *Engine) finish(ctx context.Context, order domain.TradeOrder, result domain.TradeResult, started time.Time, state OrderState) {
	metrics.ObserveLatency(e.now().Sub(started))
	entry := e.log.WithFields(logrus.Fields{"order": order.ID, "state": state})
	if result.Success {
		entry.Infof("filled %s %s at %s", result.AmountOut, order.AssetOut, result.Price)
	} else {
		entry.Warnf("terminal: %s", result.Error)
	}
	if e.journal != nil {
		if err := e.journal.Record(ctx, order, result); err != nil {
			entry.Errorf("journal write failed: %v", err)
		}
	}
}

// Equity sums wallet balances across assets at current quotes against the
// numeraire. Assets without a quote are skipped.
func (e *Engine) Equity(ctx context.Context, numeraire string, assets []string) decimal.Decimal {
	total := decimal.Zero
	for _, asset := range assets {
		balance, err := e.providers.Wallet.Balance(ctx, asset)
		if err != nil || balance.IsZero() {
			continue
		}
		if asset == numeraire {
			total = total.Add(balance)
			continue
		}
		quote, err := e.providers.Market.Quote(ctx, asset, numeraire)
		if err != nil {
			continue
		}
		total = total.Add(balance.Mul(quote.Price))
	}
	metrics.SetEquity(total)
	return total
}
