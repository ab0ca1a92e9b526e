package events

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/quantex/arbiter/internal/domain"
)

// Kind tags an event on the bus.
type Kind string

const (
	KindQuote          Kind = "quote"
	KindFill           Kind = "fill"
	KindReject         Kind = "reject"
	KindError          Kind = "error"
	KindCircuitTripped Kind = "circuit_tripped"
	KindCircuitReset   Kind = "circuit_reset"
	KindReserveCheck   Kind = "reserve_check"
	KindReserveBreach  Kind = "reserve_breach"
)

// Event is the tagged-union envelope published on the bus. Payload holds one
// of the *Event structs below.
type Event struct {
	Kind    Kind
	At      time.Time
	Payload any
}

// QuoteEvent is published for each market quote the engine ingests.
type QuoteEvent struct {
	Quote domain.MarketQuote
}

// FillEvent is the terminal event of a successfully executed order.
type FillEvent struct {
	OrderID   string
	Price     decimal.Decimal
	AmountOut decimal.Decimal
	GasUsed   uint64
	TxHash    string
	Timestamp time.Time
}

// RejectEvent is the terminal event of an order refused before or by the
// executor.
type RejectEvent struct {
	OrderID   string
	Reason    string
	Timestamp time.Time
}

// ErrorEvent is the terminal event of an order that failed with an
// executor or network exception.
type ErrorEvent struct {
	OrderID   string
	Error     string
	Timestamp time.Time
}

// CircuitTrippedEvent signals an asset breaker opened.
type CircuitTrippedEvent struct {
	Asset     string
	ChangePct decimal.Decimal
	Timestamp time.Time
}

// CircuitResetEvent signals an asset breaker closed after its cool-down.
type CircuitResetEvent struct {
	Asset     string
	Timestamp time.Time
}

// ReserveCheckEvent carries a routine reserve reconciliation snapshot.
type ReserveCheckEvent struct {
	Status domain.ReserveStatus
}

// ReserveBreachEvent carries an unhealthy reserve snapshot.
type ReserveBreachEvent struct {
	Status domain.ReserveStatus
}
