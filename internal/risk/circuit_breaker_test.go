package risk

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quantex/arbiter/internal/events"
)

// fakeClock drives the breaker deterministically.
type fakeClock struct{ t time.Time }

func (c *fakeClock) now() time.Time          { return c.t }
func (c *fakeClock) advance(d time.Duration) { c.t = c.t.Add(d) }

func newTestBreaker(bus *events.Bus) (*CircuitBreaker, *fakeClock) {
	clock := &fakeClock{t: time.Date(2026, 1, 10, 12, 0, 0, 0, time.UTC)}
	cb := NewCircuitBreaker(DefaultConfig(), bus)
	cb.now = clock.now
	return cb, clock
}

func dec(s string) decimal.Decimal {
	d, err := decimal.NewFromString(s)
	if err != nil {
		panic(err)
	}
	return d
}

func TestTripOnThreePercentMove(t *testing.T) {
	// Samples [100 @ t=0s, 100 @ t=20s, 103 @ t=45s] open the breaker at 45s.
	bus := events.NewBus()
	defer bus.Close()
	tripped := bus.Subscribe(events.KindCircuitTripped)
	cb, clock := newTestBreaker(bus)

	cb.Observe("X", dec("100"))
	clock.advance(20 * time.Second)
	cb.Observe("X", dec("100"))
	assert.False(t, cb.IsOpen("X"))

	clock.advance(25 * time.Second)
	cb.Observe("X", dec("103"))
	assert.True(t, cb.IsOpen("X"))

	ev := <-tripped
	payload := ev.Payload.(events.CircuitTrippedEvent)
	assert.Equal(t, "X", payload.Asset)
	assert.True(t, payload.ChangePct.Equal(dec("3")), "got %s", payload.ChangePct)
}

func TestNoTripBelowThreshold(t *testing.T) {
	bus := events.NewBus()
	defer bus.Close()
	cb, clock := newTestBreaker(bus)

	cb.Observe("X", dec("100"))
	clock.advance(30 * time.Second)
	cb.Observe("X", dec("101.9"))
	assert.False(t, cb.IsOpen("X"))
}

func TestTripAtExactThreshold(t *testing.T) {
	bus := events.NewBus()
	defer bus.Close()
	cb, clock := newTestBreaker(bus)

	cb.Observe("X", dec("100"))
	clock.advance(10 * time.Second)
	cb.Observe("X", dec("102"))
	assert.True(t, cb.IsOpen("X"))
}

func TestSingleSampleIsInsufficientData(t *testing.T) {
	bus := events.NewBus()
	defer bus.Close()
	cb, _ := newTestBreaker(bus)

	// A lone sample can never trip, regardless of magnitude.
	cb.Observe("X", dec("100"))
	assert.False(t, cb.IsOpen("X"))
}

func TestBaselineIgnoresSamplesOlderThanSixtySeconds(t *testing.T) {
	bus := events.NewBus()
	defer bus.Close()
	cb, clock := newTestBreaker(bus)

	cb.Observe("X", dec("100"))
	clock.advance(90 * time.Second)
	// Only one sample inside the 60s window: no evaluation.
	cb.Observe("X", dec("110"))
	assert.False(t, cb.IsOpen("X"))
}

func TestWindowPrunedAfterTwoMinutes(t *testing.T) {
	bus := events.NewBus()
	defer bus.Close()
	cb, clock := newTestBreaker(bus)

	cb.Observe("X", dec("100"))
	clock.advance(3 * time.Minute)
	cb.Observe("X", dec("200"))

	cb.mu.Lock()
	window := cb.windows["X"]
	cb.mu.Unlock()
	require.Len(t, window, 1)
	assert.True(t, window[0].Price.Equal(dec("200")))
}

func TestCooldownResetsExactlyAfterFiveMinutes(t *testing.T) {
	bus := events.NewBus()
	defer bus.Close()
	resets := bus.Subscribe(events.KindCircuitReset)
	cb, clock := newTestBreaker(bus)

	cb.Observe("X", dec("100"))
	clock.advance(10 * time.Second)
	cb.Observe("X", dec("105"))
	require.True(t, cb.IsOpen("X"))

	// Intervening samples do not extend or shorten the cool-down.
	clock.advance(time.Minute)
	cb.Observe("X", dec("300"))
	assert.True(t, cb.IsOpen("X"))

	clock.advance(3*time.Minute + 59*time.Second)
	assert.True(t, cb.IsOpen("X"), "still open just before cool-down expiry")

	clock.advance(time.Second)
	assert.False(t, cb.IsOpen("X"), "closed once the cool-down elapsed")

	ev := <-resets
	assert.Equal(t, "X", ev.Payload.(events.CircuitResetEvent).Asset)
}

func TestConcurrentTripIsIdempotent(t *testing.T) {
	bus := events.NewBus()
	defer bus.Close()
	tripped := bus.Subscribe(events.KindCircuitTripped)
	cb, clock := newTestBreaker(bus)

	cb.Observe("X", dec("100"))
	clock.advance(5 * time.Second)
	cb.Observe("X", dec("105"))
	first := cb.State("X")

	clock.advance(5 * time.Second)
	cb.Observe("X", dec("110"))
	second := cb.State("X")

	assert.Equal(t, first.TrippedAt, second.TrippedAt, "timer not restarted")

	<-tripped
	select {
	case ev := <-tripped:
		t.Fatalf("second trip event emitted: %+v", ev)
	default:
	}
}

func TestAssetsAreIndependent(t *testing.T) {
	bus := events.NewBus()
	defer bus.Close()
	cb, clock := newTestBreaker(bus)

	cb.Observe("X", dec("100"))
	clock.advance(5 * time.Second)
	cb.Observe("X", dec("105"))
	cb.Observe("Y", dec("50"))

	assert.True(t, cb.IsOpen("X"))
	assert.False(t, cb.IsOpen("Y"))
}

func TestCheckFunding(t *testing.T) {
	bus := events.NewBus()
	defer bus.Close()
	cb, _ := newTestBreaker(bus)

	cases := []struct {
		rate string
		ok   bool
	}{
		{"0.01", true},
		{"0", true},
		{"-0.05", true}, // boundary is inclusive
		{"-0.050001", false},
		{"-1", false},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.ok, cb.CheckFunding(dec(tc.rate)), "rate %s", tc.rate)
	}
}

func TestCheckFundingIndependentOfBreakerState(t *testing.T) {
	bus := events.NewBus()
	defer bus.Close()
	cb, clock := newTestBreaker(bus)

	cb.Observe("X", dec("100"))
	clock.advance(5 * time.Second)
	cb.Observe("X", dec("110"))
	require.True(t, cb.IsOpen("X"))

	assert.True(t, cb.CheckFunding(dec("0.01")))
}

func TestManualHaltResume(t *testing.T) {
	bus := events.NewBus()
	defer bus.Close()
	cb, _ := newTestBreaker(bus)

	assert.False(t, cb.Halted())
	cb.Halt()
	assert.True(t, cb.Halted())
	cb.Resume()
	assert.False(t, cb.Halted())
}
