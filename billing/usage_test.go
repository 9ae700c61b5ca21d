package billing_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pixelmuse/pixelmuse/billing"
)

func TestMonthKey(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "2026-09", billing.MonthKey(time.Date(2026, 9, 1, 12, 0, 0, 0, time.UTC)))
	assert.Equal(t, "2026-01", billing.MonthKey(time.Date(2026, 1, 31, 23, 59, 59, 0, time.UTC)))

	// Local timestamps normalize to UTC before bucketing.
	loc := time.FixedZone("UTC+5", 5*3600)
	assert.Equal(t, "2026-08", billing.MonthKey(time.Date(2026, 9, 1, 2, 0, 0, 0, loc)))
}

func TestMemoryUsageLedger(t *testing.T) {
	t.Parallel()

	accountID := uuid.New()

	t.Run("zero for unseen period", func(t *testing.T) {
		t.Parallel()

		ledger := billing.NewMemoryUsageLedger()

		usage, err := ledger.CurrentUsage(context.Background(), accountID, "2026-09")
		require.NoError(t, err)
		assert.Zero(t, usage.Generations)
		assert.Zero(t, usage.Edits)
	})

	t.Run("increments touch only the given kind", func(t *testing.T) {
		t.Parallel()

		ledger := billing.NewMemoryUsageLedger()
		ctx := context.Background()

		require.NoError(t, ledger.Increment(ctx, accountID, "2026-09", billing.KindGeneration, 1))
		require.NoError(t, ledger.Increment(ctx, accountID, "2026-09", billing.KindGeneration, 1))
		require.NoError(t, ledger.Increment(ctx, accountID, "2026-09", billing.KindEdit, 1))

		usage, err := ledger.CurrentUsage(ctx, accountID, "2026-09")
		require.NoError(t, err)
		assert.Equal(t, int64(2), usage.Generations)
		assert.Equal(t, int64(1), usage.Edits)
		assert.Equal(t, int64(3), usage.Total())
	})

	t.Run("periods are independent", func(t *testing.T) {
		t.Parallel()

		ledger := billing.NewMemoryUsageLedger()
		ctx := context.Background()

		require.NoError(t, ledger.Increment(ctx, accountID, "2026-08", billing.KindGeneration, 4))

		usage, err := ledger.CurrentUsage(ctx, accountID, "2026-09")
		require.NoError(t, err)
		assert.Zero(t, usage.Total())
	})

	t.Run("negative delta rejected", func(t *testing.T) {
		t.Parallel()

		ledger := billing.NewMemoryUsageLedger()

		err := ledger.Increment(context.Background(), accountID, "2026-09", billing.KindGeneration, -1)
		require.Error(t, err)
	})

	t.Run("invalid kind rejected", func(t *testing.T) {
		t.Parallel()

		ledger := billing.NewMemoryUsageLedger()

		err := ledger.Increment(context.Background(), accountID, "2026-09", billing.OperationKind("upscale"), 1)
		require.ErrorIs(t, err, billing.ErrInvalidOperationKind)
	})

	t.Run("no lost updates under concurrent increments", func(t *testing.T) {
		t.Parallel()

		ledger := billing.NewMemoryUsageLedger()
		ctx := context.Background()

		const n = 100
		var wg sync.WaitGroup
		wg.Add(n)
		for range n {
			go func() {
				defer wg.Done()
				_ = ledger.Increment(ctx, accountID, "2026-09", billing.KindGeneration, 1)
			}()
		}
		wg.Wait()

		usage, err := ledger.CurrentUsage(ctx, accountID, "2026-09")
		require.NoError(t, err)
		assert.Equal(t, int64(n), usage.Generations)
	})
}

func TestMemoryUsageLedgerTryReserve(t *testing.T) {
	t.Parallel()

	accountID := uuid.New()

	t.Run("grants until the shared pool is exhausted", func(t *testing.T) {
		t.Parallel()

		ledger := billing.NewMemoryUsageLedger()
		ctx := context.Background()

		for i := int64(1); i <= 5; i++ {
			total, granted, err := ledger.TryReserve(ctx, accountID, "2026-09", billing.KindGeneration, 5)
			require.NoError(t, err)
			assert.True(t, granted)
			assert.Equal(t, i, total)
		}

		total, granted, err := ledger.TryReserve(ctx, accountID, "2026-09", billing.KindEdit, 5)
		require.NoError(t, err)
		assert.False(t, granted)
		assert.Equal(t, int64(5), total)
	})

	t.Run("concurrent reservations never overshoot", func(t *testing.T) {
		t.Parallel()

		ledger := billing.NewMemoryUsageLedger()
		ctx := context.Background()

		const limit = 10
		const workers = 50

		var granted int64
		var mu sync.Mutex
		var wg sync.WaitGroup
		wg.Add(workers)
		for range workers {
			go func() {
				defer wg.Done()
				_, ok, err := ledger.TryReserve(ctx, accountID, "2026-09", billing.KindGeneration, limit)
				if err == nil && ok {
					mu.Lock()
					granted++
					mu.Unlock()
				}
			}()
		}
		wg.Wait()

		assert.Equal(t, int64(limit), granted)

		usage, err := ledger.CurrentUsage(ctx, accountID, "2026-09")
		require.NoError(t, err)
		assert.Equal(t, int64(limit), usage.Total())
	})
}
