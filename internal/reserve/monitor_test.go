package reserve

import (
	"context"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quantex/arbiter/internal/events"
)

type stubCustody struct {
	locked decimal.Decimal
	claims decimal.Decimal
	err    error
	calls  int
}

func (s *stubCustody) LockedCollateral(ctx context.Context) (decimal.Decimal, error) {
	s.calls++
	return s.locked, s.err
}

func (s *stubCustody) TotalClaims(ctx context.Context) (decimal.Decimal, error) {
	return s.claims, s.err
}

func dec(s string) decimal.Decimal {
	d, err := decimal.NewFromString(s)
	if err != nil {
		panic(err)
	}
	return d
}

func drain(t *testing.T, ch <-chan events.Event) events.Event {
	t.Helper()
	select {
	case ev := <-ch:
		return ev
	case <-time.After(time.Second):
		t.Fatal("no event received")
		return events.Event{}
	}
}

func TestCheckHealthy(t *testing.T) {
	bus := events.NewBus()
	checks := bus.Subscribe(events.KindReserveCheck)
	breaches := bus.Subscribe(events.KindReserveBreach)

	m := NewMonitor(&stubCustody{locked: dec("1000"), claims: dec("800")}, bus, time.Hour)

	status, err := m.Check(context.Background())
	require.NoError(t, err)
	assert.True(t, status.Healthy)
	assert.True(t, status.Ratio.Equal(dec("1.25")))

	ev := drain(t, checks)
	payload := ev.Payload.(events.ReserveCheckEvent)
	assert.True(t, payload.Status.Locked.Equal(dec("1000")))

	select {
	case <-breaches:
		t.Fatal("healthy check must not publish a breach")
	default:
	}
}

func TestCheckBreach(t *testing.T) {
	bus := events.NewBus()
	checks := bus.Subscribe(events.KindReserveCheck)
	breaches := bus.Subscribe(events.KindReserveBreach)

	m := NewMonitor(&stubCustody{locked: dec("700"), claims: dec("800")}, bus, time.Hour)

	status, err := m.Check(context.Background())
	require.NoError(t, err)
	assert.False(t, status.Healthy)
	assert.True(t, status.Ratio.Equal(dec("0.875")))

	ev := drain(t, breaches)
	payload := ev.Payload.(events.ReserveBreachEvent)
	assert.False(t, payload.Status.Healthy)

	select {
	case <-checks:
		t.Fatal("breach must not also publish a check event")
	default:
	}
}

func TestCheckExactCoverageIsHealthy(t *testing.T) {
	bus := events.NewBus()
	m := NewMonitor(&stubCustody{locked: dec("800"), claims: dec("800")}, bus, time.Hour)

	status, err := m.Check(context.Background())
	require.NoError(t, err)
	assert.True(t, status.Healthy)
	assert.True(t, status.Ratio.Equal(dec("1")))
}

func TestCheckZeroClaims(t *testing.T) {
	bus := events.NewBus()
	m := NewMonitor(&stubCustody{locked: dec("100"), claims: decimal.Zero}, bus, time.Hour)

	status, err := m.Check(context.Background())
	require.NoError(t, err)
	assert.True(t, status.Healthy)
	assert.True(t, status.Ratio.IsZero())
}

// Health depends only on the locked/claims comparison, not on their scale.
func TestCheckScaleInvariance(t *testing.T) {
	bus := events.NewBus()
	for _, scale := range []string{"1", "1000000", "0.000001"} {
		k := dec(scale)
		m := NewMonitor(&stubCustody{locked: dec("3").Mul(k), claims: dec("4").Mul(k)}, bus, time.Hour)
		status, err := m.Check(context.Background())
		require.NoError(t, err)
		assert.False(t, status.Healthy, "scale %s", scale)
		assert.True(t, status.Ratio.Equal(dec("0.75")), "scale %s", scale)
	}
}

func TestCheckReadFailurePublishesNothing(t *testing.T) {
	bus := events.NewBus()
	all := bus.SubscribeAll()

	m := NewMonitor(&stubCustody{err: errors.New("rpc down")}, bus, time.Hour)

	_, err := m.Check(context.Background())
	require.Error(t, err)

	select {
	case ev := <-all:
		t.Fatalf("unexpected event %v after failed read", ev.Kind)
	default:
	}

	_, ok := m.Latest()
	assert.False(t, ok)
}

func TestStartRunsImmediateCheck(t *testing.T) {
	bus := events.NewBus()
	checks := bus.Subscribe(events.KindReserveCheck)

	custody := &stubCustody{locked: dec("10"), claims: dec("5")}
	m := NewMonitor(custody, bus, time.Hour)
	m.Start(context.Background())
	defer m.Stop()

	drain(t, checks)
	latest, ok := m.Latest()
	require.True(t, ok)
	assert.True(t, latest.Healthy)

	// Second Start is a no-op; the loop is not duplicated.
	calls := custody.calls
	m.Start(context.Background())
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, calls, custody.calls)
}

func TestStopIdempotent(t *testing.T) {
	bus := events.NewBus()
	m := NewMonitor(&stubCustody{locked: dec("1"), claims: dec("1")}, bus, time.Hour)
	m.Start(context.Background())
	m.Stop()
	m.Stop()
}
