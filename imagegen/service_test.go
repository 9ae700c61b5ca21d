package imagegen_test

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pixelmuse/pixelmuse/billing"
	"github.com/pixelmuse/pixelmuse/imagegen"
)

// stubImageProvider returns a canned result or error and records how many
// times it was called.
type stubImageProvider struct {
	image imagegen.Image
	err   error
	calls int
}

func (p *stubImageProvider) Generate(ctx context.Context, req imagegen.GenerateRequest) (imagegen.Image, error) {
	p.calls++
	if p.err != nil {
		return imagegen.Image{}, p.err
	}
	return p.image, nil
}

func (p *stubImageProvider) Edit(ctx context.Context, req imagegen.EditRequest) (imagegen.Image, error) {
	p.calls++
	if p.err != nil {
		return imagegen.Image{}, p.err
	}
	return p.image, nil
}

// failingHistoryStore always fails inserts.
type failingHistoryStore struct{}

func (failingHistoryStore) Insert(ctx context.Context, rec imagegen.HistoryRecord) error {
	return errors.New("history table unavailable")
}

type serviceFixture struct {
	svc      *imagegen.Service
	provider *stubImageProvider
	ledger   *billing.MemoryUsageLedger
	store    *billing.MemoryEntitlementStore
	history  *imagegen.MemoryHistoryStore
	identity imagegen.Identity
}

func testClock() func() time.Time {
	return func() time.Time {
		return time.Date(2026, 9, 15, 10, 0, 0, 0, time.UTC)
	}
}

func newServiceFixture(t *testing.T, opts ...imagegen.ServiceOption) *serviceFixture {
	t.Helper()

	catalog, err := billing.NewCatalog(billing.CatalogConfig{
		FreeQuota:    5,
		ProQuota:     25,
		ProPlusQuota: 500,
		ProPriceID:   "price_pro_123",
		ProPlusPrice: "price_pro_plus_456",
	})
	require.NoError(t, err)

	f := &serviceFixture{
		provider: &stubImageProvider{image: imagegen.Image{URL: "https://img.example/out.png", Model: "gpt-image-1"}},
		ledger:   billing.NewMemoryUsageLedger(),
		store:    billing.NewMemoryEntitlementStore(),
		history:  imagegen.NewMemoryHistoryStore(),
		identity: imagegen.Identity{AccountID: uuid.New(), Email: "user@example.com"},
	}

	enforcer := billing.NewEnforcer(catalog, f.store, f.ledger,
		billing.WithEnforcerClock(testClock()))

	opts = append(opts, imagegen.WithServiceClock(testClock()))
	f.svc = imagegen.NewService(enforcer, f.provider, f.history, opts...)
	return f
}

func (f *serviceFixture) usage(t *testing.T) billing.PeriodUsage {
	t.Helper()
	usage, err := f.ledger.CurrentUsage(context.Background(), f.identity.AccountID, "2026-09")
	require.NoError(t, err)
	return usage
}

func TestServiceGenerate(t *testing.T) {
	t.Parallel()

	ctx := context.Background()

	t.Run("success records usage and history", func(t *testing.T) {
		t.Parallel()

		f := newServiceFixture(t)
		img, err := f.svc.Generate(ctx, f.identity, imagegen.GenerateRequest{Prompt: "a red fox", Size: "1024x1024"})
		require.NoError(t, err)
		assert.Equal(t, "https://img.example/out.png", img.URL)

		assert.Equal(t, int64(1), f.usage(t).Generations)

		records := f.history.Records()
		require.Len(t, records, 1)
		assert.Equal(t, f.identity.AccountID, records[0].AccountID)
		assert.Equal(t, "a red fox", records[0].Prompt)
		assert.Equal(t, "text-to-image", records[0].Operation)
	})

	t.Run("requires an identity", func(t *testing.T) {
		t.Parallel()

		f := newServiceFixture(t)
		_, err := f.svc.Generate(ctx, imagegen.Identity{}, imagegen.GenerateRequest{Prompt: "x"})
		require.ErrorIs(t, err, imagegen.ErrAuthenticationRequired)
		assert.Zero(t, f.provider.calls)
	})

	t.Run("requires a prompt", func(t *testing.T) {
		t.Parallel()

		f := newServiceFixture(t)
		_, err := f.svc.Generate(ctx, f.identity, imagegen.GenerateRequest{})
		require.ErrorIs(t, err, imagegen.ErrEmptyPrompt)
		assert.Zero(t, f.provider.calls)
	})

	t.Run("denies at the free quota with usage numbers", func(t *testing.T) {
		t.Parallel()

		f := newServiceFixture(t)
		require.NoError(t, f.ledger.Increment(ctx, f.identity.AccountID, "2026-09", billing.KindGeneration, 5))

		_, err := f.svc.Generate(ctx, f.identity, imagegen.GenerateRequest{Prompt: "x"})

		var quotaErr *imagegen.QuotaExceededError
		require.ErrorAs(t, err, &quotaErr)
		assert.Equal(t, int64(5), quotaErr.Used)
		assert.Equal(t, int64(5), quotaErr.Limit)
		assert.Zero(t, f.provider.calls)
		assert.Equal(t, int64(5), f.usage(t).Total())
	})

	t.Run("subscribed account gets the paid quota", func(t *testing.T) {
		t.Parallel()

		f := newServiceFixture(t)
		require.NoError(t, f.store.Upsert(ctx, billing.Entitlement{
			Email:      f.identity.Email,
			Subscribed: true,
			Tier:       billing.TierPro,
		}))
		require.NoError(t, f.ledger.Increment(ctx, f.identity.AccountID, "2026-09", billing.KindGeneration, 5))

		_, err := f.svc.Generate(ctx, f.identity, imagegen.GenerateRequest{Prompt: "x"})
		require.NoError(t, err)
		assert.Equal(t, int64(6), f.usage(t).Total())
	})

	t.Run("provider failure surfaces without counting usage", func(t *testing.T) {
		t.Parallel()

		f := newServiceFixture(t)
		f.provider.err = fmt.Errorf("%w: upstream said no", imagegen.ErrProviderFailed)

		_, err := f.svc.Generate(ctx, f.identity, imagegen.GenerateRequest{Prompt: "x"})
		require.ErrorIs(t, err, imagegen.ErrProviderFailed)
		assert.Zero(t, f.usage(t).Total())
		assert.Empty(t, f.history.Records())
	})

	t.Run("history failure never fails the operation", func(t *testing.T) {
		t.Parallel()

		f := newServiceFixture(t)
		catalog, err := billing.NewCatalog(billing.CatalogConfig{
			FreeQuota: 5, ProQuota: 25, ProPlusQuota: 500,
			ProPriceID: "price_pro_123", ProPlusPrice: "price_pro_plus_456",
		})
		require.NoError(t, err)
		enforcer := billing.NewEnforcer(catalog, f.store, f.ledger,
			billing.WithEnforcerClock(testClock()))
		svc := imagegen.NewService(enforcer, f.provider, failingHistoryStore{},
			imagegen.WithServiceClock(testClock()))

		_, err = svc.Generate(ctx, f.identity, imagegen.GenerateRequest{Prompt: "x"})
		require.NoError(t, err)
		assert.Equal(t, int64(1), f.usage(t).Total())
	})
}

func TestServiceEdit(t *testing.T) {
	t.Parallel()

	ctx := context.Background()

	t.Run("success draws from the shared pool", func(t *testing.T) {
		t.Parallel()

		f := newServiceFixture(t)
		require.NoError(t, f.ledger.Increment(ctx, f.identity.AccountID, "2026-09", billing.KindGeneration, 4))

		_, err := f.svc.Edit(ctx, f.identity, imagegen.EditRequest{
			Prompt: "remove the background",
			Image:  []byte{0x89, 'P', 'N', 'G'},
		})
		require.NoError(t, err)

		usage := f.usage(t)
		assert.Equal(t, int64(4), usage.Generations)
		assert.Equal(t, int64(1), usage.Edits)

		// Pool is now exhausted for the free tier.
		_, err = f.svc.Edit(ctx, f.identity, imagegen.EditRequest{
			Prompt: "more edits",
			Image:  []byte{0x89, 'P', 'N', 'G'},
		})
		var quotaErr *imagegen.QuotaExceededError
		require.ErrorAs(t, err, &quotaErr)
	})

	t.Run("requires a source image", func(t *testing.T) {
		t.Parallel()

		f := newServiceFixture(t)
		_, err := f.svc.Edit(ctx, f.identity, imagegen.EditRequest{Prompt: "x"})
		require.ErrorIs(t, err, imagegen.ErrMissingSourceImage)
		assert.Zero(t, f.provider.calls)
	})
}

func TestServiceStrictAdmission(t *testing.T) {
	t.Parallel()

	ctx := context.Background()

	t.Run("reserves the unit at admission", func(t *testing.T) {
		t.Parallel()

		f := newServiceFixture(t, imagegen.WithStrictAdmission())

		_, err := f.svc.Generate(ctx, f.identity, imagegen.GenerateRequest{Prompt: "x"})
		require.NoError(t, err)

		// Exactly one unit, counted once by the reservation.
		assert.Equal(t, int64(1), f.usage(t).Total())
	})

	t.Run("a failed upstream call still consumed its unit", func(t *testing.T) {
		t.Parallel()

		f := newServiceFixture(t, imagegen.WithStrictAdmission())
		f.provider.err = fmt.Errorf("%w: timeout", imagegen.ErrProviderFailed)

		_, err := f.svc.Generate(ctx, f.identity, imagegen.GenerateRequest{Prompt: "x"})
		require.ErrorIs(t, err, imagegen.ErrProviderFailed)
		assert.Equal(t, int64(1), f.usage(t).Total())
	})

	t.Run("denies at the limit", func(t *testing.T) {
		t.Parallel()

		f := newServiceFixture(t, imagegen.WithStrictAdmission())
		require.NoError(t, f.ledger.Increment(ctx, f.identity.AccountID, "2026-09", billing.KindGeneration, 5))

		_, err := f.svc.Generate(ctx, f.identity, imagegen.GenerateRequest{Prompt: "x"})
		var quotaErr *imagegen.QuotaExceededError
		require.ErrorAs(t, err, &quotaErr)
		assert.Equal(t, int64(5), f.usage(t).Total())
	})
}

func TestServiceLimits(t *testing.T) {
	t.Parallel()

	ctx := context.Background()

	t.Run("reports usage against the tier quota", func(t *testing.T) {
		t.Parallel()

		f := newServiceFixture(t)
		require.NoError(t, f.ledger.Increment(ctx, f.identity.AccountID, "2026-09", billing.KindGeneration, 2))
		require.NoError(t, f.ledger.Increment(ctx, f.identity.AccountID, "2026-09", billing.KindEdit, 1))

		decision, err := f.svc.Limits(ctx, f.identity)
		require.NoError(t, err)
		assert.Equal(t, int64(3), decision.Used)
		assert.Equal(t, int64(5), decision.Limit)
		assert.Equal(t, billing.TierFree, decision.Tier)
	})

	t.Run("requires an identity", func(t *testing.T) {
		t.Parallel()

		f := newServiceFixture(t)
		_, err := f.svc.Limits(ctx, imagegen.Identity{})
		require.ErrorIs(t, err, imagegen.ErrAuthenticationRequired)
	})
}
