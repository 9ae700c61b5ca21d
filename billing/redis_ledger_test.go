package billing_test

import (
	"context"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pixelmuse/pixelmuse/billing"
)

func newTestRedisLedger(t *testing.T) *billing.RedisUsageLedger {
	t.Helper()

	srv := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: srv.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	return billing.NewRedisUsageLedger(client)
}

func TestRedisUsageLedger(t *testing.T) {
	t.Parallel()

	ctx := context.Background()

	t.Run("empty period reads as zero", func(t *testing.T) {
		t.Parallel()

		ledger := newTestRedisLedger(t)
		usage, err := ledger.CurrentUsage(ctx, uuid.New(), "2026-09")
		require.NoError(t, err)
		assert.Equal(t, billing.PeriodUsage{}, usage)
	})

	t.Run("increments accumulate per kind", func(t *testing.T) {
		t.Parallel()

		ledger := newTestRedisLedger(t)
		accountID := uuid.New()

		require.NoError(t, ledger.Increment(ctx, accountID, "2026-09", billing.KindGeneration, 1))
		require.NoError(t, ledger.Increment(ctx, accountID, "2026-09", billing.KindGeneration, 2))
		require.NoError(t, ledger.Increment(ctx, accountID, "2026-09", billing.KindEdit, 1))

		usage, err := ledger.CurrentUsage(ctx, accountID, "2026-09")
		require.NoError(t, err)
		assert.Equal(t, int64(3), usage.Generations)
		assert.Equal(t, int64(1), usage.Edits)
		assert.Equal(t, int64(4), usage.Total())
	})

	t.Run("periods are independent", func(t *testing.T) {
		t.Parallel()

		ledger := newTestRedisLedger(t)
		accountID := uuid.New()

		require.NoError(t, ledger.Increment(ctx, accountID, "2026-08", billing.KindGeneration, 5))

		usage, err := ledger.CurrentUsage(ctx, accountID, "2026-09")
		require.NoError(t, err)
		assert.Zero(t, usage.Total())
	})

	t.Run("rejects invalid increments", func(t *testing.T) {
		t.Parallel()

		ledger := newTestRedisLedger(t)
		accountID := uuid.New()

		require.Error(t, ledger.Increment(ctx, accountID, "2026-09", billing.KindGeneration, -1))
		require.ErrorIs(t, ledger.Increment(ctx, accountID, "2026-09", billing.OperationKind("video"), 1),
			billing.ErrInvalidOperationKind)
	})

	t.Run("reserve grants until the pool is exhausted", func(t *testing.T) {
		t.Parallel()

		ledger := newTestRedisLedger(t)
		accountID := uuid.New()

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

	t.Run("reserve counts the shared pool across kinds", func(t *testing.T) {
		t.Parallel()

		ledger := newTestRedisLedger(t)
		accountID := uuid.New()

		require.NoError(t, ledger.Increment(ctx, accountID, "2026-09", billing.KindGeneration, 3))
		require.NoError(t, ledger.Increment(ctx, accountID, "2026-09", billing.KindEdit, 1))

		total, granted, err := ledger.TryReserve(ctx, accountID, "2026-09", billing.KindEdit, 5)
		require.NoError(t, err)
		assert.True(t, granted)
		assert.Equal(t, int64(5), total)

		_, granted, err = ledger.TryReserve(ctx, accountID, "2026-09", billing.KindGeneration, 5)
		require.NoError(t, err)
		assert.False(t, granted)
	})

	t.Run("connection failure surfaces as persistence error", func(t *testing.T) {
		t.Parallel()

		srv := miniredis.RunT(t)
		client := redis.NewClient(&redis.Options{Addr: srv.Addr()})
		t.Cleanup(func() { _ = client.Close() })
		ledger := billing.NewRedisUsageLedger(client)
		srv.Close()

		_, err := ledger.CurrentUsage(ctx, uuid.New(), "2026-09")
		require.ErrorIs(t, err, billing.ErrPersistenceUnavailable)
	})
}
