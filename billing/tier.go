package billing

import (
	"errors"
	"fmt"
)

// Tier is a named subscription plan determining the monthly quota.
type Tier string

const (
	TierFree    Tier = "free"
	TierPro     Tier = "pro"
	TierProPlus Tier = "pro_plus"
)

// Valid reports whether t is one of the known tiers.
func (t Tier) Valid() bool {
	switch t {
	case TierFree, TierPro, TierProPlus:
		return true
	}
	return false
}

// CatalogConfig holds the static billing configuration: monthly quotas per
// tier and the payment provider price ids that map onto the paid tiers.
type CatalogConfig struct {
	FreeQuota    int    `env:"BILLING_FREE_QUOTA" envDefault:"5"`
	ProQuota     int    `env:"BILLING_PRO_QUOTA" envDefault:"25"`
	ProPlusQuota int    `env:"BILLING_PRO_PLUS_QUOTA" envDefault:"500"`
	ProPriceID   string `env:"BILLING_PRO_PRICE_ID,required"`
	ProPlusPrice string `env:"BILLING_PRO_PLUS_PRICE_ID,required"`
}

// Catalog is the immutable tier catalog. It is constructed once at process
// start and passed explicitly to the enforcer and the reconciler; nothing in
// it is mutable or client-settable afterwards.
type Catalog struct {
	quotas map[Tier]int
	prices map[string]Tier
}

// NewCatalog builds a Catalog from static configuration.
// Both paid price ids are required and must be distinct; quotas must be
// positive. Misconfiguration fails construction rather than surfacing later
// as a wrong entitlement.
func NewCatalog(cfg CatalogConfig) (*Catalog, error) {
	if cfg.ProPriceID == "" || cfg.ProPlusPrice == "" {
		return nil, errors.Join(ErrInvalidCatalogConfiguration,
			errors.New("price ids for paid tiers are required"))
	}
	if cfg.ProPriceID == cfg.ProPlusPrice {
		return nil, errors.Join(ErrInvalidCatalogConfiguration,
			errors.New("paid tiers cannot share a price id"))
	}
	for _, q := range []int{cfg.FreeQuota, cfg.ProQuota, cfg.ProPlusQuota} {
		if q <= 0 {
			return nil, errors.Join(ErrInvalidCatalogConfiguration,
				fmt.Errorf("quota must be positive, got %d", q))
		}
	}

	return &Catalog{
		quotas: map[Tier]int{
			TierFree:    cfg.FreeQuota,
			TierPro:     cfg.ProQuota,
			TierProPlus: cfg.ProPlusQuota,
		},
		prices: map[string]Tier{
			cfg.ProPriceID:   TierPro,
			cfg.ProPlusPrice: TierProPlus,
		},
	}, nil
}

// QuotaFor returns the monthly operation quota for a tier.
// Unknown tiers fail closed to the free quota.
func (c *Catalog) QuotaFor(tier Tier) int {
	if q, ok := c.quotas[tier]; ok {
		return q
	}
	return c.quotas[TierFree]
}

// TierForPrice resolves a payment provider price id to a paid tier.
// An unmapped price id is a configuration error, never a silent default:
// returning a guessed tier would grant or deny the wrong quota.
func (c *Catalog) TierForPrice(priceID string) (Tier, error) {
	tier, ok := c.prices[priceID]
	if !ok {
		return "", fmt.Errorf("%w: %q", ErrUnmappedPriceID, priceID)
	}
	return tier, nil
}
