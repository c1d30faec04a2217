package repository

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"stockhold-api/internal/model"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestRepo(t *testing.T) *SQLiteStockRepository {
	t.Helper()

	repo, err := NewSQLiteStockRepository(filepath.Join(t.TempDir(), "stock.db"))
	require.NoError(t, err)
	t.Cleanup(func() { repo.Close() })
	return repo
}

func TestGetProductNotFound(t *testing.T) {
	repo := newTestRepo(t)

	_, err := repo.GetProduct(context.Background(), 42)
	require.ErrorIs(t, err, model.ErrProductNotFound)

	_, err = repo.Availability(context.Background(), 42, time.Now(), "")
	require.ErrorIs(t, err, model.ErrProductNotFound)
}

func TestReserveInsufficientStock(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()
	now := time.Now()

	p, err := repo.CreateProduct(ctx, "plush", 3)
	require.NoError(t, err)

	// Session A holds 2, leaving 1 sellable.
	_, err = repo.Reserve(ctx, "session-a", []model.ReserveItem{{ProductID: p.ID, Quantity: 2}}, 15*time.Minute, now)
	require.NoError(t, err)

	avail, err := repo.Availability(ctx, p.ID, now, "")
	require.NoError(t, err)
	assert.Equal(t, int64(3), avail.OnHand)
	assert.Equal(t, int64(1), avail.Sellable)

	// Session B wants 2, only 1 left.
	_, err = repo.Reserve(ctx, "session-b", []model.ReserveItem{{ProductID: p.ID, Quantity: 2}}, 15*time.Minute, now)
	var insErr *model.InsufficientStockError
	require.ErrorAs(t, err, &insErr)
	assert.Equal(t, p.ID, insErr.ProductID)
	assert.Equal(t, int64(1), insErr.Available)
	assert.Equal(t, int64(2), insErr.Requested)
}

func TestReserveAllOrNothing(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()
	now := time.Now()

	p1, err := repo.CreateProduct(ctx, "first", 10)
	require.NoError(t, err)
	p2, err := repo.CreateProduct(ctx, "second", 1)
	require.NoError(t, err)

	_, err = repo.Reserve(ctx, "session-a", []model.ReserveItem{
		{ProductID: p1.ID, Quantity: 2},
		{ProductID: p2.ID, Quantity: 5},
	}, 15*time.Minute, now)
	var insErr *model.InsufficientStockError
	require.ErrorAs(t, err, &insErr)
	assert.Equal(t, p2.ID, insErr.ProductID)

	// The failed batch must not hold anything on the product that had stock.
	avail, err := repo.Availability(ctx, p1.ID, now, "")
	require.NoError(t, err)
	assert.Equal(t, int64(10), avail.Sellable)
}

func TestReserveReplacesOwnHold(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()
	now := time.Now()

	p, err := repo.CreateProduct(ctx, "plush", 5)
	require.NoError(t, err)

	_, err = repo.Reserve(ctx, "session-a", []model.ReserveItem{{ProductID: p.ID, Quantity: 2}}, 15*time.Minute, now)
	require.NoError(t, err)

	// Growing the cart to 4 replaces the hold of 2; it does not stack to 6.
	_, err = repo.Reserve(ctx, "session-a", []model.ReserveItem{{ProductID: p.ID, Quantity: 4}}, 15*time.Minute, now)
	require.NoError(t, err)

	avail, err := repo.Availability(ctx, p.ID, now, "")
	require.NoError(t, err)
	assert.Equal(t, int64(1), avail.Sellable)
}

func TestConcurrentReserveLastUnit(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()
	now := time.Now()

	p, err := repo.CreateProduct(ctx, "last-one", 1)
	require.NoError(t, err)

	const sessions = 16
	var wg sync.WaitGroup
	results := make(chan error, sessions)

	for i := 0; i < sessions; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			sessionID := string(rune('a' + n))
			_, err := repo.Reserve(ctx, "race-"+sessionID,
				[]model.ReserveItem{{ProductID: p.ID, Quantity: 1}}, 15*time.Minute, now)
			results <- err
		}(i)
	}
	wg.Wait()
	close(results)

	var wins, losses int
	for err := range results {
		if err == nil {
			wins++
			continue
		}
		var insErr *model.InsufficientStockError
		require.ErrorAs(t, err, &insErr)
		losses++
	}

	assert.Equal(t, 1, wins, "exactly one session wins the last unit")
	assert.Equal(t, sessions-1, losses)

	avail, err := repo.Availability(ctx, p.ID, now, "")
	require.NoError(t, err)
	assert.Equal(t, int64(0), avail.Sellable)
}

func TestExpiryRestoresAvailability(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()
	now := time.Now()

	p, err := repo.CreateProduct(ctx, "plush", 2)
	require.NoError(t, err)

	_, err = repo.Reserve(ctx, "session-a", []model.ReserveItem{{ProductID: p.ID, Quantity: 2}}, time.Second, now)
	require.NoError(t, err)

	// Still held at the expiry boundary's near side.
	avail, err := repo.Availability(ctx, p.ID, now, "")
	require.NoError(t, err)
	assert.Equal(t, int64(0), avail.Sellable)

	// Lapsed holds count as vacated even before any sweep runs.
	later := now.Add(2 * time.Second)
	avail, err = repo.Availability(ctx, p.ID, later, "")
	require.NoError(t, err)
	assert.Equal(t, int64(2), avail.Sellable)

	swept, err := repo.SweepExpired(ctx, later)
	require.NoError(t, err)
	assert.Equal(t, int64(1), swept)

	// Second sweep finds nothing.
	swept, err = repo.SweepExpired(ctx, later)
	require.NoError(t, err)
	assert.Equal(t, int64(0), swept)
}

func TestSweepLeavesLiveHolds(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()
	now := time.Now()

	p, err := repo.CreateProduct(ctx, "plush", 5)
	require.NoError(t, err)

	_, err = repo.Reserve(ctx, "session-old", []model.ReserveItem{{ProductID: p.ID, Quantity: 1}}, time.Second, now)
	require.NoError(t, err)
	_, err = repo.Reserve(ctx, "session-new", []model.ReserveItem{{ProductID: p.ID, Quantity: 1}}, time.Hour, now)
	require.NoError(t, err)

	swept, err := repo.SweepExpired(ctx, now.Add(2*time.Second))
	require.NoError(t, err)
	assert.Equal(t, int64(1), swept)

	avail, err := repo.Availability(ctx, p.ID, now.Add(2*time.Second), "")
	require.NoError(t, err)
	assert.Equal(t, int64(4), avail.Sellable)
}

func TestCommitScenario(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()
	now := time.Now()

	p, err := repo.CreateProduct(ctx, "P1", 3)
	require.NoError(t, err)

	_, err = repo.Reserve(ctx, "session-a", []model.ReserveItem{{ProductID: p.ID, Quantity: 2}}, 15*time.Minute, now)
	require.NoError(t, err)

	_, err = repo.Reserve(ctx, "session-b", []model.ReserveItem{{ProductID: p.ID, Quantity: 2}}, 15*time.Minute, now)
	var insErr *model.InsufficientStockError
	require.ErrorAs(t, err, &insErr)

	movements, err := repo.CommitSession(ctx, "session-a", "O1", "", now)
	require.NoError(t, err)
	require.Len(t, movements, 1)
	assert.Equal(t, model.KindSale, movements[0].Kind)
	assert.Equal(t, int64(-2), movements[0].Delta)
	assert.Equal(t, int64(3), movements[0].Before)
	assert.Equal(t, int64(1), movements[0].After)
	assert.Equal(t, "O1", movements[0].OrderID)

	product, err := repo.GetProduct(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(1), product.OnHand)

	avail, err := repo.Availability(ctx, p.ID, now, "")
	require.NoError(t, err)
	assert.Equal(t, int64(1), avail.Sellable, "the committed hold is gone")
}

func TestCommitAtomicWithExpiredHold(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()
	now := time.Now()

	p1, err := repo.CreateProduct(ctx, "short-lived", 5)
	require.NoError(t, err)
	p2, err := repo.CreateProduct(ctx, "long-lived", 5)
	require.NoError(t, err)

	_, err = repo.Reserve(ctx, "session-a", []model.ReserveItem{{ProductID: p1.ID, Quantity: 1}}, time.Second, now)
	require.NoError(t, err)
	_, err = repo.Reserve(ctx, "session-a", []model.ReserveItem{{ProductID: p2.ID, Quantity: 1}}, time.Hour, now)
	require.NoError(t, err)

	// One hold lapsed: the whole commit is rejected and nothing changes.
	later := now.Add(2 * time.Second)
	_, err = repo.CommitSession(ctx, "session-a", "O1", "", later)
	var expErr *model.ReservationExpiredError
	require.ErrorAs(t, err, &expErr)
	assert.Equal(t, p1.ID, expErr.ProductID)

	for _, id := range []int64{p1.ID, p2.ID} {
		product, err := repo.GetProduct(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, int64(5), product.OnHand)

		movements, err := repo.Movements(ctx, id, 10, 0)
		require.NoError(t, err)
		assert.Empty(t, movements)
	}

	// The valid hold is still in place.
	avail, err := repo.Availability(ctx, p2.ID, later, "")
	require.NoError(t, err)
	assert.Equal(t, int64(4), avail.Sellable)
}

func TestCommitNoReservations(t *testing.T) {
	repo := newTestRepo(t)

	_, err := repo.CommitSession(context.Background(), "ghost-session", "O1", "", time.Now())
	require.ErrorIs(t, err, model.ErrNoReservations)
}

func TestReleaseIdempotent(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()
	now := time.Now()

	p, err := repo.CreateProduct(ctx, "plush", 3)
	require.NoError(t, err)

	_, err = repo.Reserve(ctx, "session-a", []model.ReserveItem{{ProductID: p.ID, Quantity: 2}}, 15*time.Minute, now)
	require.NoError(t, err)

	released, err := repo.ReleaseSession(ctx, "session-a")
	require.NoError(t, err)
	assert.Equal(t, int64(1), released)

	released, err = repo.ReleaseSession(ctx, "session-a")
	require.NoError(t, err)
	assert.Equal(t, int64(0), released)

	avail, err := repo.Availability(ctx, p.ID, now, "")
	require.NoError(t, err)
	assert.Equal(t, int64(3), avail.Sellable)
}

func TestApplyDeltaClampAndReject(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()
	now := time.Now()

	p, err := repo.CreateProduct(ctx, "plush", 3)
	require.NoError(t, err)

	// Sale-style decreases must never drive stock negative.
	_, err = repo.ApplyDelta(ctx, p.ID, -5, model.KindSale, "oversell attempt", "", "", false, now)
	var adjErr *model.InvalidAdjustmentError
	require.ErrorAs(t, err, &adjErr)
	assert.Equal(t, int64(3), adjErr.OnHand)

	product, err := repo.GetProduct(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(3), product.OnHand, "rejected adjustment leaves stock unchanged")

	// Manual decreases clamp at zero and record the applied delta.
	m, err := repo.ApplyDelta(ctx, p.ID, -5, model.KindManualAdjustment, "shrink", "", "admin-1", true, now)
	require.NoError(t, err)
	assert.Equal(t, int64(-3), m.Delta)
	assert.Equal(t, int64(3), m.Before)
	assert.Equal(t, int64(0), m.After)
	assert.Equal(t, "admin-1", m.ActorID)
}

func TestLedgerReplayMatchesOnHand(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()
	now := time.Now()

	p, err := repo.CreateProduct(ctx, "plush", 0)
	require.NoError(t, err)

	_, err = repo.ApplyDelta(ctx, p.ID, 10, model.KindRestock, "initial delivery", "", "", false, now)
	require.NoError(t, err)

	_, err = repo.Reserve(ctx, "session-a", []model.ReserveItem{{ProductID: p.ID, Quantity: 3}}, 15*time.Minute, now)
	require.NoError(t, err)
	_, err = repo.CommitSession(ctx, "session-a", "O1", "", now)
	require.NoError(t, err)

	_, err = repo.ApplyDelta(ctx, p.ID, -2, model.KindManualAdjustment, "damaged units", "", "", true, now)
	require.NoError(t, err)
	_, err = repo.ApplyDelta(ctx, p.ID, 3, model.KindCancellation, "order cancelled", "O1", "", false, now)
	require.NoError(t, err)

	product, err := repo.GetProduct(ctx, p.ID)
	require.NoError(t, err)

	movements, err := repo.Movements(ctx, p.ID, 100, 0)
	require.NoError(t, err)
	require.Len(t, movements, 4)

	// Replaying deltas oldest-to-newest reproduces on-hand exactly, and every
	// entry's before/after chain is consistent.
	var replayed int64
	for i := len(movements) - 1; i >= 0; i-- {
		m := movements[i]
		assert.Equal(t, replayed, m.Before)
		replayed += m.Delta
		assert.Equal(t, replayed, m.After)
	}
	assert.Equal(t, product.OnHand, replayed)
}

func TestMovementsNewestFirstWithOffset(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()
	now := time.Now()

	p, err := repo.CreateProduct(ctx, "plush", 0)
	require.NoError(t, err)

	for i := 0; i < 5; i++ {
		_, err = repo.ApplyDelta(ctx, p.ID, 1, model.KindRestock, "delivery", "", "", false, now)
		require.NoError(t, err)
	}

	page1, err := repo.Movements(ctx, p.ID, 2, 0)
	require.NoError(t, err)
	require.Len(t, page1, 2)
	assert.Greater(t, page1[0].ID, page1[1].ID)
	assert.Equal(t, int64(5), page1[0].After, "newest entry first")

	page2, err := repo.Movements(ctx, p.ID, 2, 2)
	require.NoError(t, err)
	require.Len(t, page2, 2)
	assert.Greater(t, page1[1].ID, page2[0].ID)

	_, err = repo.Movements(ctx, 999, 10, 0)
	require.True(t, errors.Is(err, model.ErrProductNotFound))
}
