package billing_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pixelmuse/pixelmuse/billing"
)

func testCatalogConfig() billing.CatalogConfig {
	return billing.CatalogConfig{
		FreeQuota:    5,
		ProQuota:     25,
		ProPlusQuota: 500,
		ProPriceID:   "price_pro_123",
		ProPlusPrice: "price_pro_plus_456",
	}
}

func TestNewCatalog(t *testing.T) {
	t.Parallel()

	t.Run("successful creation", func(t *testing.T) {
		t.Parallel()

		catalog, err := billing.NewCatalog(testCatalogConfig())

		require.NoError(t, err)
		assert.NotNil(t, catalog)
	})

	t.Run("missing price ids", func(t *testing.T) {
		t.Parallel()

		cfg := testCatalogConfig()
		cfg.ProPriceID = ""

		_, err := billing.NewCatalog(cfg)

		require.ErrorIs(t, err, billing.ErrInvalidCatalogConfiguration)
	})

	t.Run("duplicate price ids", func(t *testing.T) {
		t.Parallel()

		cfg := testCatalogConfig()
		cfg.ProPlusPrice = cfg.ProPriceID

		_, err := billing.NewCatalog(cfg)

		require.ErrorIs(t, err, billing.ErrInvalidCatalogConfiguration)
	})

	t.Run("non-positive quota", func(t *testing.T) {
		t.Parallel()

		cfg := testCatalogConfig()
		cfg.ProQuota = 0

		_, err := billing.NewCatalog(cfg)

		require.ErrorIs(t, err, billing.ErrInvalidCatalogConfiguration)
	})
}

func TestCatalogQuotaFor(t *testing.T) {
	t.Parallel()

	catalog, err := billing.NewCatalog(testCatalogConfig())
	require.NoError(t, err)

	tests := []struct {
		name string
		tier billing.Tier
		want int
	}{
		{"free tier", billing.TierFree, 5},
		{"pro tier", billing.TierPro, 25},
		{"pro plus tier", billing.TierProPlus, 500},
		{"unknown tier fails closed to free", billing.Tier("enterprise"), 5},
		{"empty tier fails closed to free", billing.Tier(""), 5},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			assert.Equal(t, tt.want, catalog.QuotaFor(tt.tier))
		})
	}
}

func TestCatalogTierForPrice(t *testing.T) {
	t.Parallel()

	catalog, err := billing.NewCatalog(testCatalogConfig())
	require.NoError(t, err)

	t.Run("mapped prices", func(t *testing.T) {
		t.Parallel()

		tier, err := catalog.TierForPrice("price_pro_123")
		require.NoError(t, err)
		assert.Equal(t, billing.TierPro, tier)

		tier, err = catalog.TierForPrice("price_pro_plus_456")
		require.NoError(t, err)
		assert.Equal(t, billing.TierProPlus, tier)
	})

	t.Run("unmapped price is an error, never a default", func(t *testing.T) {
		t.Parallel()

		_, err := catalog.TierForPrice("price_rogue_999")
		require.ErrorIs(t, err, billing.ErrUnmappedPriceID)
	})
}

func TestTierValid(t *testing.T) {
	t.Parallel()

	assert.True(t, billing.TierFree.Valid())
	assert.True(t, billing.TierPro.Valid())
	assert.True(t, billing.TierProPlus.Valid())
	assert.False(t, billing.Tier("enterprise").Valid())
}
