package domain

import "errors"

// Error taxonomy surfaced by the execution core. Safety-relevant conditions
// (ErrCircuitOpen, ErrReserveBreach) are never silently retried; transient
// source failures (ErrQuoteUnavailable) are retried against a fallback
// before surfacing.
var (
	// ErrInsufficientBalance means the input amount exceeds the available
	// balance of the executing wallet.
	ErrInsufficientBalance = errors.New("InsufficientBalance")

	// ErrRiskLimitExceeded covers slippage, position and funding-cost limits.
	ErrRiskLimitExceeded = errors.New("RiskLimitExceeded")

	// ErrCircuitOpen means the price circuit breaker is open for one of the
	// order's assets.
	ErrCircuitOpen = errors.New("CircuitOpen")

	// ErrQuoteUnavailable means no price source (primary or fallback)
	// answered in time.
	ErrQuoteUnavailable = errors.New("QuoteUnavailable")

	// ErrSimulationRejected means pre-submission bundle simulation failed;
	// the bundle was not submitted and is not retried automatically.
	ErrSimulationRejected = errors.New("SimulationRejected")

	// ErrSignatureExpired means an authorization deadline elapsed before
	// forwarding.
	ErrSignatureExpired = errors.New("SignatureExpired")

	// ErrReserveBreach means locked collateral no longer covers outstanding
	// claims.
	ErrReserveBreach = errors.New("ReserveBreach")

	// ErrInvalidOrder rejects orders failing admission invariants
	// (non-positive amounts).
	ErrInvalidOrder = errors.New("invalid order")

	// ErrOrderExpired rejects orders whose deadline has already elapsed.
	ErrOrderExpired = errors.New("order deadline elapsed")
)
