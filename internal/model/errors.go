package model

import (
	"errors"
	"fmt"
)

// Sentinel errors shared by the repository and service layers. Handlers
// translate these to API responses; they never leak raw driver errors.
var (
	// ErrProductNotFound indicates an unknown product identifier.
	ErrProductNotFound = errors.New("product not found")

	// ErrNoReservations indicates a commit for a session that holds nothing.
	ErrNoReservations = errors.New("no active reservations for session")

	// ErrBusy indicates a lock-wait timeout; the operation is safe to retry.
	ErrBusy = errors.New("stock row busy, retry")

	// ErrStoreUnavailable indicates the backing store is unreachable.
	ErrStoreUnavailable = errors.New("stock store unavailable")
)

// ValidationError reports a malformed request rejected before any store
// access.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Message)
}

// InsufficientStockError reports a reserve request that exceeds the sellable
// quantity of one of its items. No stock is held when this is returned.
type InsufficientStockError struct {
	ProductID int64
	Available int64
	Requested int64
}

func (e *InsufficientStockError) Error() string {
	return fmt.Sprintf("insufficient stock for product %d: requested %d, available %d",
		e.ProductID, e.Requested, e.Available)
}

// ReservationExpiredError reports a commit attempted after one of the
// session's holds lapsed. The whole commit is rolled back.
type ReservationExpiredError struct {
	ProductID int64
	SessionID string
}

func (e *ReservationExpiredError) Error() string {
	return fmt.Sprintf("reservation for product %d expired before commit (session %s)",
		e.ProductID, e.SessionID)
}

// InvalidAdjustmentError reports a stock delta that would drive the on-hand
// quantity negative.
type InvalidAdjustmentError struct {
	ProductID int64
	OnHand    int64
	Delta     int64
}

func (e *InvalidAdjustmentError) Error() string {
	return fmt.Sprintf("adjustment of %d would drive product %d below zero (on hand %d)",
		e.Delta, e.ProductID, e.OnHand)
}
