package billing

import (
	"context"
	"errors"
	"time"
)

// Entitlement is the durable record of an account's subscription state,
// keyed by the account email (the join key to the payment provider's
// customer record). Tier is derived solely from the provider price id at
// reconciliation time and is never client-settable.
//
// Invariant: Subscribed == false implies Tier == TierFree and RenewsAt == nil.
type Entitlement struct {
	Email             string
	PaymentCustomerID string
	Subscribed        bool
	Tier              Tier
	RenewsAt          *time.Time
	UpdatedAt         time.Time
}

// FreeEntitlement returns the default record for an account that has never
// had a subscription lifecycle event. Callers must treat absent records this
// way without materializing them.
func FreeEntitlement(email string) Entitlement {
	return Entitlement{
		Email:      email,
		Subscribed: false,
		Tier:       TierFree,
	}
}

// EntitlementStore persists one entitlement record per account email.
// Records are never hard-deleted; cancellation writes a free/unsubscribed
// record, preserving history.
type EntitlementStore interface {
	// Get retrieves the entitlement for an email.
	// Returns ErrEntitlementNotFound when no record exists.
	Get(ctx context.Context, email string) (Entitlement, error)

	// Upsert creates or replaces the record for ent.Email.
	// Writes are idempotent: the record is always a fully computed state,
	// never a delta, so reapplying the same write yields the same row.
	Upsert(ctx context.Context, ent Entitlement) error
}

// GetEntitlement reads an account's entitlement, defaulting to the free tier
// when no record exists. Any other store failure is propagated.
func GetEntitlement(ctx context.Context, store EntitlementStore, email string) (Entitlement, error) {
	ent, err := store.Get(ctx, email)
	if err != nil {
		if errors.Is(err, ErrEntitlementNotFound) {
			return FreeEntitlement(email), nil
		}
		return Entitlement{}, err
	}
	return ent, nil
}
