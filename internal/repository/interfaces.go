package repository

import (
	"context"
	"time"

	"stockhold-api/internal/model"
)

// StockRepository defines the transactional stock operations. Every method
// that both reads and writes runs inside a single transaction in each
// implementation; correctness under concurrent callers is the store's job,
// not the caller's.
type StockRepository interface {
	// CreateProduct inserts a product row with an initial on-hand quantity.
	// Catalog management proper lives outside this service; this exists for
	// seeding and fixtures.
	CreateProduct(ctx context.Context, name string, onHand int64) (*model.Product, error)

	// GetProduct retrieves a product by ID. Returns model.ErrProductNotFound.
	GetProduct(ctx context.Context, productID int64) (*model.Product, error)

	// Availability computes the sellable quantity at the given instant:
	// on-hand minus the sum of non-expired reservations. Reservations owned
	// by excludeSession are not counted (empty string excludes nothing).
	Availability(ctx context.Context, productID int64, now time.Time, excludeSession string) (*model.Availability, error)

	// Reserve atomically checks availability for every item and writes one
	// reservation row per item expiring at now+ttl. All-or-nothing: a single
	// short item fails the whole call with *model.InsufficientStockError and
	// holds nothing. Prior holds by the same session on the listed products
	// are replaced. Items must be pre-validated and sorted by product ID.
	Reserve(ctx context.Context, sessionID string, items []model.ReserveItem, ttl time.Duration, now time.Time) (time.Time, error)

	// ReleaseSession deletes all reservations owned by the session and
	// returns how many were removed. Releasing nothing is not an error.
	ReleaseSession(ctx context.Context, sessionID string) (int64, error)

	// CommitSession converts every reservation owned by the session into a
	// sale: decrements on-hand stock, appends a sale movement and deletes the
	// hold, all in one transaction. If any hold has expired the whole commit
	// fails with *model.ReservationExpiredError and state is unchanged.
	CommitSession(ctx context.Context, sessionID, orderID, actorID string, now time.Time) ([]model.StockMovement, error)

	// ApplyDelta applies a stock delta and appends the matching ledger entry
	// in one transaction. If the result would be negative it clamps to zero
	// when clampToZero is set, otherwise fails with
	// *model.InvalidAdjustmentError.
	ApplyDelta(ctx context.Context, productID, delta int64, kind model.MovementKind, reason, orderID, actorID string, clampToZero bool, now time.Time) (*model.StockMovement, error)

	// Movements returns ledger entries for a product, newest first.
	Movements(ctx context.Context, productID int64, limit, offset int) ([]model.StockMovement, error)

	// SweepExpired deletes reservations whose expiry is before now and
	// returns the count. Writes no ledger entry: holds never touched the
	// on-hand counter.
	SweepExpired(ctx context.Context, now time.Time) (int64, error)

	// Stats returns row counts and store details for the admin surface.
	Stats(ctx context.Context) (map[string]interface{}, error)

	// Close closes the repository connection.
	Close() error
}
