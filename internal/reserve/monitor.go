// Package reserve periodically verifies that custodied collateral covers
// outstanding claims, publishing the outcome of every check on the event bus.
package reserve

import (
	"context"
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"github.com/quantex/arbiter/internal/domain"
	"github.com/quantex/arbiter/internal/events"
)

// CustodyReader reads the custody contract's collateral accounting, already
// scaled to decimal token amounts.
type CustodyReader interface {
	LockedCollateral(ctx context.Context) (decimal.Decimal, error)
	TotalClaims(ctx context.Context) (decimal.Decimal, error)
}

// Monitor runs the periodic proof-of-reserve check. A breach is reported, not
// acted on; halting trading stays a manual decision.
type Monitor struct {
	custody  CustodyReader
	bus      *events.Bus
	interval time.Duration
	now      func() time.Time
	log      *logrus.Entry

	mu      sync.Mutex
	latest  *domain.ReserveStatus
	cancel  context.CancelFunc
	stopped chan struct{}
}

// NewMonitor builds a monitor checking every interval (hourly when zero).
func NewMonitor(custody CustodyReader, bus *events.Bus, interval time.Duration) *Monitor {
	if interval <= 0 {
		interval = time.Hour
	}
	return &Monitor{
		custody:  custody,
		bus:      bus,
		interval: interval,
		now:      time.Now,
		log:      logrus.WithField("component", "reserve_monitor"),
	}
}

// Start launches the periodic loop with an immediate first check. Calling
// Start on a running monitor is a logged no-op.
func (m *Monitor) Start(ctx context.Context) {
	m.mu.Lock()
	if m.cancel != nil {
		m.mu.Unlock()
		m.log.Warn("reserve monitor already running")
		return
	}
	ctx, cancel := context.WithCancel(ctx)
	m.cancel = cancel
	m.stopped = make(chan struct{})
	m.mu.Unlock()

	go m.run(ctx)
}

func (m *Monitor) run(ctx context.Context) {
	defer close(m.stopped)

	if _, err := m.Check(ctx); err != nil {
		m.log.Errorf("initial reserve check failed: %v", err)
	}
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := m.Check(ctx); err != nil {
				m.log.Errorf("reserve check failed: %v", err)
			}
		}
	}
}

// Check performs one reserve verification. Exactly one event is published per
// completed check: a breach event when claims exceed collateral, a check
// event otherwise. Read failures publish nothing.
func (m *Monitor) Check(ctx context.Context) (domain.ReserveStatus, error) {
	locked, err := m.custody.LockedCollateral(ctx)
	if err != nil {
		return domain.ReserveStatus{}, errors.Wrap(err, "reserve: read locked collateral")
	}
	claims, err := m.custody.TotalClaims(ctx)
	if err != nil {
		return domain.ReserveStatus{}, errors.Wrap(err, "reserve: read total claims")
	}

	status := domain.NewReserveStatus(locked, claims, m.now())
	m.mu.Lock()
	m.latest = &status
	m.mu.Unlock()

	if status.Healthy {
		m.bus.Publish(events.KindReserveCheck, events.ReserveCheckEvent{Status: status})
	} else {
		m.log.WithFields(logrus.Fields{
			"locked": status.Locked.String(),
			"claims": status.Claims.String(),
		}).Error("reserve breach: claims exceed locked collateral")
		m.bus.Publish(events.KindReserveBreach, events.ReserveBreachEvent{Status: status})
	}
	return status, nil
}

// Latest returns the most recent snapshot, or false before the first check.
func (m *Monitor) Latest() (domain.ReserveStatus, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.latest == nil {
		return domain.ReserveStatus{}, false
	}
	return *m.latest, true
}

// Stop halts the loop and waits for it to exit. Safe to call repeatedly.
func (m *Monitor) Stop() {
	m.mu.Lock()
	cancel, stopped := m.cancel, m.stopped
	m.cancel = nil
	m.mu.Unlock()
	if cancel == nil {
		return
	}
	cancel()
	<-stopped
}
