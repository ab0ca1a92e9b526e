// Package metrics exposes engine counters over expvar plus pprof endpoints.
package metrics

import (
	"expvar"
	"fmt"
	"sync"
	"time"

	"github.com/shopspring/decimal"
)

var (
	OrdersSubmitted = expvar.NewInt("orders_submitted")
	OrdersFilled    = expvar.NewInt("orders_filled")
	OrdersRejected  = expvar.NewInt("orders_rejected")
	OrdersErrored   = expvar.NewInt("orders_errored")
	CircuitTrips    = expvar.NewInt("circuit_trips")
	ReserveBreaches = expvar.NewInt("reserve_breaches")
	GasUsedTotal    = expvar.NewInt("gas_used_total")
)

var (
	equity  = expvar.NewString("equity")
	winRate = expvar.NewString("win_rate")
)

// SetEquity publishes the current total equity estimate.
func SetEquity(v decimal.Decimal) {
	equity.Set(v.String())
}

// updateWinRate recomputes fills over terminal orders.
func updateWinRate() {
	filled := OrdersFilled.Value()
	total := filled + OrdersRejected.Value() + OrdersErrored.Value()
	if total == 0 {
		winRate.Set("0")
		return
	}
	winRate.Set(fmt.Sprintf("%.4f", float64(filled)/float64(total)))
}

// RecordFill counts a successful order and its gas burn.
func RecordFill(gasUsed uint64) {
	OrdersFilled.Add(1)
	GasUsedTotal.Add(int64(gasUsed))
	updateWinRate()
}

// RecordReject counts a refused order.
func RecordReject() {
	OrdersRejected.Add(1)
	updateWinRate()
}

// RecordError counts an order that failed with an exception.
func RecordError() {
	OrdersErrored.Add(1)
	updateWinRate()
}

// latency histogram with fixed buckets, published as one expvar map.

var latencyBounds = []time.Duration{
	50 * time.Millisecond,
	100 * time.Millisecond,
	250 * time.Millisecond,
	500 * time.Millisecond,
	time.Second,
	5 * time.Second,
}

var (
	latencyOnce sync.Once
	latencyVar  *expvar.Map
)

func latencyMap() *expvar.Map {
	latencyOnce.Do(func() {
		latencyVar = expvar.NewMap("order_latency")
	})
	return latencyVar
}

// ObserveLatency records one end-to-end order duration into its bucket.
func ObserveLatency(d time.Duration) {
	m := latencyMap()
	for _, bound := range latencyBounds {
		if d <= bound {
			m.Add("le_"+bound.String(), 1)
			return
		}
	}
	m.Add("gt_"+latencyBounds[len(latencyBounds)-1].String(), 1)
}
