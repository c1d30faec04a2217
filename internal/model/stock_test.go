package model

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestMovementKindValid(t *testing.T) {
	valid := []MovementKind{
		KindManualAdjustment, KindSale, KindRestock, KindCancellation, KindExpiryReversal,
	}
	for _, k := range valid {
		assert.True(t, k.Valid(), "kind %q", k)
	}

	assert.False(t, MovementKind("").Valid())
	assert.False(t, MovementKind("teleport").Valid())
	assert.False(t, MovementKind("SALE").Valid(), "kinds are case sensitive")
}

func TestReservationExpired(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	r := Reservation{ExpiresAt: now}

	assert.False(t, r.Expired(now.Add(-time.Second)))
	assert.False(t, r.Expired(now), "expiry instant itself is still live")
	assert.True(t, r.Expired(now.Add(time.Nanosecond)))
}
