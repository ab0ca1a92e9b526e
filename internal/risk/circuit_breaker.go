// Package risk contains the price circuit breaker and funding-cost gate that
// stand between quoted orders and execution.
package risk

import (
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"github.com/quantex/arbiter/internal/domain"
	"github.com/quantex/arbiter/internal/events"
)

// Config holds the breaker thresholds.
type Config struct {
	// MoveThresholdPct trips the breaker when the absolute price change over
	// the baseline window reaches this percentage. Default 2.0.
	MoveThresholdPct decimal.Decimal

	// BaselineWindow is the lookback used to pick the trip baseline.
	BaselineWindow time.Duration

	// SampleRetention bounds how long samples stay in the window.
	SampleRetention time.Duration

	// Cooldown is how long a tripped breaker stays open.
	Cooldown time.Duration

	// MinFundingRatePct rejects trading when the funding rate per hour is
	// below this value. Default -0.05.
	MinFundingRatePct decimal.Decimal
}

// DefaultConfig returns the production thresholds.
func DefaultConfig() Config {
	return Config{
		MoveThresholdPct:  decimal.NewFromFloat(2.0),
		BaselineWindow:    60 * time.Second,
		SampleRetention:   2 * time.Minute,
		Cooldown:          5 * time.Minute,
		MinFundingRatePct: decimal.NewFromFloat(-0.05),
	}
}

// CircuitBreaker tracks rolling per-asset price history and trips an
// open/closed flag on abnormal short-horizon movement. Sample accumulation
// never stops while open; reset is time-based only.
//
// Each mutation happens under one lock acquisition with no blocking calls
// inside, so interleaved access from concurrently processed orders is safe.
type CircuitBreaker struct {
	mu      sync.Mutex
	cfg     Config
	windows map[string][]domain.PriceSample
	states  map[string]domain.CircuitState
	halted  bool // manual operator halt, independent of per-asset state

	bus *events.Bus
	now func() time.Time
	log *logrus.Entry
}

// NewCircuitBreaker builds a breaker publishing trip/reset events on bus.
func NewCircuitBreaker(cfg Config, bus *events.Bus) *CircuitBreaker {
	return &CircuitBreaker{
		cfg:     cfg,
		windows: make(map[string][]domain.PriceSample),
		states:  make(map[string]domain.CircuitState),
		bus:     bus,
		now:     time.Now,
		log:     logrus.WithField("component", "circuit_breaker"),
	}
}

// Observe ingests one price sample for an asset, prunes the window, and
// evaluates the trip condition. Trips while already open are idempotent: the
// cool-down timer is not restarted.
func (cb *CircuitBreaker) Observe(asset string, price decimal.Decimal) {
	now := cb.now()

	cb.mu.Lock()
	window := append(cb.windows[asset], domain.PriceSample{Asset: asset, Price: price, At: now})

	// Retain only samples within SampleRetention of the newest insertion.
	cutoff := now.Add(-cb.cfg.SampleRetention)
	pruned := window[:0]
	for _, s := range window {
		if !s.At.Before(cutoff) {
			pruned = append(pruned, s)
		}
	}
	cb.windows[asset] = pruned

	// Baseline: earliest sample inside the baseline window. Fewer than two
	// qualifying samples means insufficient data, no evaluation.
	baselineCutoff := now.Add(-cb.cfg.BaselineWindow)
	var recent []domain.PriceSample
	for _, s := range pruned {
		if !s.At.Before(baselineCutoff) {
			recent = append(recent, s)
		}
	}
	if len(recent) < 2 {
		cb.mu.Unlock()
		return
	}
	baseline := recent[0].Price
	if baseline.Sign() == 0 {
		cb.mu.Unlock()
		return
	}
	change := price.Sub(baseline).Abs().Div(baseline).Mul(decimal.NewFromInt(100))
	if change.LessThan(cb.cfg.MoveThresholdPct) {
		cb.mu.Unlock()
		return
	}

	state := cb.states[asset]
	if state.Open {
		// Already open; do not restart the timer.
		cb.mu.Unlock()
		return
	}
	cb.states[asset] = domain.CircuitState{Open: true, TrippedAt: now}
	cb.mu.Unlock()

	cb.log.WithFields(logrus.Fields{"asset": asset, "change_pct": change.StringFixed(3)}).
		Warn("circuit breaker tripped")
	cb.bus.Publish(events.KindCircuitTripped, events.CircuitTrippedEvent{
		Asset:     asset,
		ChangePct: change,
		Timestamp: now,
	})

	tripped := now
	time.AfterFunc(cb.cfg.Cooldown, func() { cb.reset(asset, tripped) })
}

// reset closes the breaker if it is still the same trip. Also invoked lazily
// from IsOpen so expiry does not depend on the timer firing.
func (cb *CircuitBreaker) reset(asset string, trippedAt time.Time) {
	cb.mu.Lock()
	state := cb.states[asset]
	if !state.Open || !state.TrippedAt.Equal(trippedAt) {
		cb.mu.Unlock()
		return
	}
	cb.states[asset] = domain.CircuitState{}
	cb.mu.Unlock()

	cb.log.WithField("asset", asset).Info("circuit breaker reset")
	cb.bus.Publish(events.KindCircuitReset, events.CircuitResetEvent{
		Asset:     asset,
		Timestamp: cb.now(),
	})
}

// IsOpen reports whether trading on the asset is blocked. An open state past
// its cool-down resets here even if the timer has not fired yet.
func (cb *CircuitBreaker) IsOpen(asset string) bool {
	cb.mu.Lock()
	state := cb.states[asset]
	cb.mu.Unlock()

	if !state.Open {
		return false
	}
	if cb.now().Sub(state.TrippedAt) >= cb.cfg.Cooldown {
		cb.reset(asset, state.TrippedAt)
		return false
	}
	return true
}

// CheckFunding returns false when the hourly funding rate is below the
// configured minimum. Stateless and independent of the open/closed flag.
func (cb *CircuitBreaker) CheckFunding(ratePct decimal.Decimal) bool {
	return ratePct.GreaterThanOrEqual(cb.cfg.MinFundingRatePct)
}

// Halt opens a manual, all-asset gate (operator intervention).
func (cb *CircuitBreaker) Halt() {
	cb.mu.Lock()
	cb.halted = true
	cb.mu.Unlock()
	cb.log.Warn("trading halted by operator")
}

// Resume clears the manual halt. Per-asset trips are unaffected.
func (cb *CircuitBreaker) Resume() {
	cb.mu.Lock()
	cb.halted = false
	cb.mu.Unlock()
	cb.log.Info("trading resumed by operator")
}

// Halted reports the manual gate state.
func (cb *CircuitBreaker) Halted() bool {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.halted
}

// State returns a copy of the asset's circuit state.
func (cb *CircuitBreaker) State(asset string) domain.CircuitState {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.states[asset]
}
