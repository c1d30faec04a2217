package model

import "time"

// MovementKind enumerates the reasons a product's on-hand quantity can change.
type MovementKind string

const (
	KindManualAdjustment MovementKind = "manual_adjustment"
	KindSale             MovementKind = "sale"
	KindRestock          MovementKind = "restock"
	KindCancellation     MovementKind = "cancellation_reversal"
	KindExpiryReversal   MovementKind = "expiry_reversal"
)

// Valid reports whether k is one of the known movement kinds.
func (k MovementKind) Valid() bool {
	switch k {
	case KindManualAdjustment, KindSale, KindRestock, KindCancellation, KindExpiryReversal:
		return true
	}
	return false
}

// Product holds the cached on-hand counter for a single product.
// OnHand is mutated only through the stock mutator; it is never negative.
type Product struct {
	ID        int64     `json:"id"`
	Name      string    `json:"name"`
	OnHand    int64     `json:"on_hand"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Reservation is a time-bounded hold of stock for a checkout session.
// It suppresses sellable quantity but does not mutate on-hand stock.
type Reservation struct {
	ID        int64     `json:"id"`
	ProductID int64     `json:"product_id"`
	Quantity  int64     `json:"quantity"`
	SessionID string    `json:"session_id"`
	CreatedAt time.Time `json:"created_at"`
	ExpiresAt time.Time `json:"expires_at"`
}

// Expired reports whether the reservation has lapsed at the given instant.
func (r *Reservation) Expired(now time.Time) bool {
	return now.After(r.ExpiresAt)
}

// StockMovement is one immutable ledger entry. Replaying all movements for a
// product in order and summing Delta reproduces the current on-hand quantity.
type StockMovement struct {
	ID        int64        `json:"id"`
	ProductID int64        `json:"product_id"`
	Delta     int64        `json:"delta"`
	Kind      MovementKind `json:"kind"`
	Reason    string       `json:"reason"`
	OrderID   string       `json:"order_id,omitempty"`
	ActorID   string       `json:"actor_id,omitempty"`
	Before    int64        `json:"before"`
	After     int64        `json:"after"`
	CreatedAt time.Time    `json:"created_at"`
}

// ReserveItem is one line of a reservation request.
type ReserveItem struct {
	ProductID int64 `json:"product_id"`
	Quantity  int64 `json:"quantity"`
}

// Availability is the sellable view of a product: on-hand minus active holds.
type Availability struct {
	ProductID int64 `json:"product_id"`
	OnHand    int64 `json:"on_hand"`
	Sellable  int64 `json:"sellable"`
}

// StockCheck is the per-item result of a batch availability check.
type StockCheck struct {
	ProductID int64 `json:"product_id"`
	Requested int64 `json:"requested"`
	Sellable  int64 `json:"sellable"`
	Available bool  `json:"available"`
}
