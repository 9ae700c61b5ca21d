package billing

import (
	"context"
	"time"
)

// EventKind is the closed set of payment provider events the reconciler
// understands. Anything else is normalized to EventUnhandled and
// acknowledged without a state change, because rejecting unknown-but-harmless
// events would make the provider retry them forever.
type EventKind string

const (
	EventSubscriptionCreated EventKind = "subscription_created"
	EventSubscriptionUpdated EventKind = "subscription_updated"
	EventSubscriptionDeleted EventKind = "subscription_deleted"
	EventPaymentSucceeded    EventKind = "payment_succeeded"
	EventPaymentFailed       EventKind = "payment_failed"
	EventUnhandled           EventKind = "unhandled"
)

// SubscriptionActive is the normalized provider status that grants a paid
// tier; every other status reconciles to free/unsubscribed.
const SubscriptionActive = "active"

// Event is a verified, normalized webhook event.
type Event struct {
	Kind           EventKind
	ProviderType   string // original provider event name, for logging
	EventID        string
	SubscriptionID string
	CustomerID     string // provider customer id, resolved to an email via the Provider
	Status         string
	PriceID        string
	PeriodEnd      time.Time // current period end; zero when not applicable
}

// Provider abstracts the payment provider: webhook authentication/parsing
// and the customer lookup needed to key entitlements by email. The email is
// always resolved from the provider's customer object, never from the event
// payload, since some event object shapes omit it.
type Provider interface {
	// ParseWebhook authenticates the raw payload against the provider's
	// signature scheme and returns the normalized event. A signature
	// failure returns ErrSignatureInvalid before anything is parsed.
	ParseWebhook(ctx context.Context, payload []byte, signature string) (*Event, error)

	// CustomerEmail resolves a provider customer id to the billing email.
	// Returns ErrCustomerNotFound for deleted or email-less customers.
	CustomerEmail(ctx context.Context, customerID string) (string, error)
}
