package billing

import (
	"context"
	"fmt"
	"log/slog"
	"time"
)

// Reconciler applies payment provider lifecycle events to the entitlement
// store. It is a state machine over one account at a time: an account is
// either free/unsubscribed or subscribed at a tier, and every event computes
// the full target state before anything is written. That makes redelivery
// harmless: webhooks arrive at least once and reapplying an event upserts
// the same record.
type Reconciler struct {
	catalog  *Catalog
	provider Provider
	store    EntitlementStore
	now      func() time.Time
	log      *slog.Logger
}

// ReconcilerOption configures optional Reconciler settings.
type ReconcilerOption func(*Reconciler)

// WithReconcilerClock overrides the time source for UpdatedAt stamps.
func WithReconcilerClock(now func() time.Time) ReconcilerOption {
	return func(r *Reconciler) {
		if now != nil {
			r.now = now
		}
	}
}

// WithReconcilerLogger sets the structured logger.
func WithReconcilerLogger(log *slog.Logger) ReconcilerOption {
	return func(r *Reconciler) {
		if log != nil {
			r.log = log
		}
	}
}

// NewReconciler creates a webhook reconciler.
// Panics on nil dependencies to fail fast during initialization.
func NewReconciler(catalog *Catalog, provider Provider, store EntitlementStore, opts ...ReconcilerOption) *Reconciler {
	if catalog == nil {
		panic("billing: Catalog is required")
	}
	if provider == nil {
		panic("billing: Provider is required")
	}
	if store == nil {
		panic("billing: EntitlementStore is required")
	}

	r := &Reconciler{
		catalog:  catalog,
		provider: provider,
		store:    store,
		now:      time.Now,
		log:      slog.Default(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// HandleWebhook verifies, parses and applies one inbound webhook delivery.
//
// Signature verification happens before any parsing or state change; a
// failure is terminal for the delivery (ErrSignatureInvalid) and is never
// retried here. Payment invoice events and unhandled event types are logged
// and acknowledged without touching the store.
func (r *Reconciler) HandleWebhook(ctx context.Context, payload []byte, signature string) error {
	event, err := r.provider.ParseWebhook(ctx, payload, signature)
	if err != nil {
		return err
	}

	log := r.log.With(
		slog.String("event_id", event.EventID),
		slog.String("event_type", event.ProviderType),
	)

	switch event.Kind {
	case EventSubscriptionCreated, EventSubscriptionUpdated, EventSubscriptionDeleted:
		return r.applySubscriptionEvent(ctx, log, event)

	case EventPaymentSucceeded:
		log.InfoContext(ctx, "invoice payment succeeded")
		return nil

	case EventPaymentFailed:
		log.WarnContext(ctx, "invoice payment failed")
		return nil

	case EventUnhandled:
		log.InfoContext(ctx, "unhandled webhook event type acknowledged")
		return nil

	default:
		// The kind set is closed; a new constant without an arm above is a
		// programming error, but acknowledging keeps the provider from
		// retrying a delivery we will never process differently.
		log.WarnContext(ctx, "webhook event kind missing a dispatch arm",
			slog.String("kind", string(event.Kind)))
		return nil
	}
}

// applySubscriptionEvent computes the target entitlement for a lifecycle
// event and upserts it keyed by the customer's email.
func (r *Reconciler) applySubscriptionEvent(ctx context.Context, log *slog.Logger, event *Event) error {
	email, err := r.provider.CustomerEmail(ctx, event.CustomerID)
	if err != nil {
		return fmt.Errorf("resolve customer %s: %w", event.CustomerID, err)
	}

	ent := Entitlement{
		Email:             email,
		PaymentCustomerID: event.CustomerID,
		Subscribed:        false,
		Tier:              TierFree,
		UpdatedAt:         r.now().UTC(),
	}

	// Deletion always resets to free; created/updated only grant a paid
	// tier while the provider reports the subscription as active.
	if event.Kind != EventSubscriptionDeleted && event.Status == SubscriptionActive {
		tier, err := r.catalog.TierForPrice(event.PriceID)
		if err != nil {
			// Never guess a tier: abort with no partial write so the
			// prior entitlement state stays intact.
			return err
		}
		ent.Subscribed = true
		ent.Tier = tier
		if !event.PeriodEnd.IsZero() {
			end := event.PeriodEnd.UTC()
			ent.RenewsAt = &end
		}
	}

	if err := r.store.Upsert(ctx, ent); err != nil {
		return fmt.Errorf("upsert entitlement for %s: %w", email, err)
	}

	log.InfoContext(ctx, "entitlement reconciled",
		slog.String("email", email),
		slog.Bool("subscribed", ent.Subscribed),
		slog.String("tier", string(ent.Tier)),
	)
	return nil
}
