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

// newMySQLTestRepo connects to the database named by TEST_MYSQL_DSN.
// These tests need a live server and are skipped without one.
func newMySQLTestRepo(t *testing.T) *MySQLStockRepository {
	t.Helper()

	dsn := os.Getenv("TEST_MYSQL_DSN")
	if dsn == "" {
		t.Skip("TEST_MYSQL_DSN not set")
	}

	repo, err := NewMySQLStockRepository(dsn)
	require.NoError(t, err)
	t.Cleanup(func() { repo.Close() })
	return repo
}

func TestMySQLCommitReleaseRace(t *testing.T) {
	repo := newMySQLTestRepo(t)
	ctx := context.Background()

	const rounds = 20
	p, err := repo.CreateProduct(ctx, "mysql-race", rounds)
	require.NoError(t, err)

	var committed int64
	for i := 0; i < rounds; i++ {
		now := time.Now()
		session := fmt.Sprintf("mysql-race-%d-%d", now.UnixNano(), i)
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

	product, err := repo.GetProduct(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, rounds-committed, product.OnHand)

	movements, err := repo.Movements(ctx, p.ID, rounds+1, 0)
	require.NoError(t, err)
	assert.Len(t, movements, int(committed))
}
