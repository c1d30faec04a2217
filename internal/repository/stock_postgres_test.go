package repository

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"testing"
	"time"

	"stockhold-api/internal/model"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// newPostgresTestRepo connects to the database named by TEST_POSTGRES_DSN.
// These tests need a live server and are skipped without one.
func newPostgresTestRepo(t *testing.T) *PostgresStockRepository {
	t.Helper()

	dsn := os.Getenv("TEST_POSTGRES_DSN")
	if dsn == "" {
		t.Skip("TEST_POSTGRES_DSN not set")
	}

	repo, err := NewPostgresStockRepository(dsn)
	require.NoError(t, err)
	t.Cleanup(func() { repo.Close() })
	return repo
}

func TestPostgresCommitScenario(t *testing.T) {
	repo := newPostgresTestRepo(t)
	ctx := context.Background()
	now := time.Now()

	p, err := repo.CreateProduct(ctx, "pg-plush", 3)
	require.NoError(t, err)

	session := fmt.Sprintf("pg-%d", time.Now().UnixNano())
	_, err = repo.Reserve(ctx, session, []model.ReserveItem{{ProductID: p.ID, Quantity: 2}}, 15*time.Minute, now)
	require.NoError(t, err)

	movements, err := repo.CommitSession(ctx, session, "O1", "", now)
	require.NoError(t, err)
	require.Len(t, movements, 1)
	assert.Equal(t, int64(3), movements[0].Before)
	assert.Equal(t, int64(1), movements[0].After)

	product, err := repo.GetProduct(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(1), product.OnHand)
}

// A release racing a commit for the same session must never leave a sale
// movement behind for a hold that was already vacated: the commit either
// converts the hold or fails without touching stock.
func TestPostgresCommitReleaseRace(t *testing.T) {
	repo := newPostgresTestRepo(t)
	ctx := context.Background()

	const rounds = 20
	p, err := repo.CreateProduct(ctx, "pg-race", rounds)
	require.NoError(t, err)

	var committed int64
	for i := 0; i < rounds; i++ {
		now := time.Now()
		session := fmt.Sprintf("pg-race-%d-%d", now.UnixNano(), i)
		_, err := repo.Reserve(ctx, session, []model.ReserveItem{{ProductID: p.ID, Quantity: 1}}, 15*time.Minute, now)
		require.NoError(t, err)

		var wg sync.WaitGroup
		var commitMovs []model.StockMovement
		var commitErr, releaseErr error

		wg.Add(2)
		go func() {
			defer wg.Done()
			commitMovs, commitErr = repo.CommitSession(ctx, session, fmt.Sprintf("O-%d", i), "", now)
		}()
		go func() {
			defer wg.Done()
			_, releaseErr = repo.ReleaseSession(ctx, session)
		}()
		wg.Wait()

		require.NoError(t, releaseErr)
		if commitErr == nil {
			require.Len(t, commitMovs, 1)
			committed++
		} else {
			require.True(t,
				errors.Is(commitErr, model.ErrNoReservations) || errors.Is(commitErr, model.ErrBusy),
				"unexpected commit error: %v", commitErr)
		}
	}

	// Every successful commit decremented stock exactly once and wrote exactly
	// one movement; failed commits wrote nothing.
	product, err := repo.GetProduct(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, rounds-committed, product.OnHand)

	movements, err := repo.Movements(ctx, p.ID, rounds+1, 0)
	require.NoError(t, err)
	require.Len(t, movements, int(committed))

	var replayed int64 = rounds
	for i := len(movements) - 1; i >= 0; i-- {
		m := movements[i]
		assert.Equal(t, replayed, m.Before)
		replayed += m.Delta
		assert.Equal(t, replayed, m.After)
	}
	assert.Equal(t, product.OnHand, replayed)
}
