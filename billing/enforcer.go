package billing

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
)

// Decision is the outcome of a quota check. A denied decision is a normal
// result, not an error: callers need Used and Limit to render a precise
// "X/Y used" message.
type Decision struct {
	Allowed bool
	Used    int64
	Limit   int64
	Tier    Tier
}

// Enforcer gates billable operations on the account's tier quota.
// It reads the entitlement store for tier resolution and the usage ledger
// for the current period count; generation and edit usage draw from one
// shared monthly pool.
type Enforcer struct {
	catalog      *Catalog
	entitlements EntitlementStore
	ledger       UsageLedger
	now          func() time.Time
	log          *slog.Logger
}

// EnforcerOption configures optional Enforcer settings.
type EnforcerOption func(*Enforcer)

// WithEnforcerClock overrides the time source, used by tests to pin the
// billing period.
func WithEnforcerClock(now func() time.Time) EnforcerOption {
	return func(e *Enforcer) {
		if now != nil {
			e.now = now
		}
	}
}

// WithEnforcerLogger sets the structured logger.
func WithEnforcerLogger(log *slog.Logger) EnforcerOption {
	return func(e *Enforcer) {
		if log != nil {
			e.log = log
		}
	}
}

// NewEnforcer creates a limit enforcer.
// Panics on nil dependencies to fail fast during initialization.
func NewEnforcer(catalog *Catalog, entitlements EntitlementStore, ledger UsageLedger, opts ...EnforcerOption) *Enforcer {
	if catalog == nil {
		panic("billing: Catalog is required")
	}
	if entitlements == nil {
		panic("billing: EntitlementStore is required")
	}
	if ledger == nil {
		panic("billing: UsageLedger is required")
	}

	e := &Enforcer{
		catalog:      catalog,
		entitlements: entitlements,
		ledger:       ledger,
		now:          time.Now,
		log:          slog.Default(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Check decides whether the account may perform one more operation of the
// given kind in the current period.
//
// This is a check, not a reservation: concurrent requests from the same
// account can all pass before any of them increments, so the quota can be
// overshot by the number of in-flight requests. Use Reserve with a
// ReservingLedger to close that window.
func (e *Enforcer) Check(ctx context.Context, email string, accountID uuid.UUID, kind OperationKind) (Decision, error) {
	if !kind.Valid() {
		return Decision{}, fmt.Errorf("%w: %q", ErrInvalidOperationKind, kind)
	}

	ent, err := GetEntitlement(ctx, e.entitlements, email)
	if err != nil {
		return Decision{}, fmt.Errorf("resolve entitlement for %s: %w", email, err)
	}

	limit := int64(e.catalog.QuotaFor(ent.Tier))

	usage, err := e.ledger.CurrentUsage(ctx, accountID, MonthKey(e.now()))
	if err != nil {
		return Decision{}, fmt.Errorf("resolve current usage for %s: %w", accountID, err)
	}

	used := usage.Total()
	return Decision{
		Allowed: used < limit,
		Used:    used,
		Limit:   limit,
		Tier:    ent.Tier,
	}, nil
}

// Reserve atomically claims one unit of the account's monthly pool when the
// ledger supports conditional increments, eliminating the check-then-increment
// overshoot. Ledgers without TryReserve fall back to the plain Check and
// report reserved=false; the caller then records usage separately after the
// operation succeeds.
//
// On a granted reservation Used reflects the count including this operation.
func (e *Enforcer) Reserve(ctx context.Context, email string, accountID uuid.UUID, kind OperationKind) (Decision, bool, error) {
	reserving, ok := e.ledger.(ReservingLedger)
	if !ok {
		decision, err := e.Check(ctx, email, accountID, kind)
		return decision, false, err
	}

	if !kind.Valid() {
		return Decision{}, false, fmt.Errorf("%w: %q", ErrInvalidOperationKind, kind)
	}

	ent, err := GetEntitlement(ctx, e.entitlements, email)
	if err != nil {
		return Decision{}, false, fmt.Errorf("resolve entitlement for %s: %w", email, err)
	}

	limit := int64(e.catalog.QuotaFor(ent.Tier))

	total, granted, err := reserving.TryReserve(ctx, accountID, MonthKey(e.now()), kind, limit)
	if err != nil {
		return Decision{}, false, fmt.Errorf("reserve usage for %s: %w", accountID, err)
	}

	return Decision{
		Allowed: granted,
		Used:    total,
		Limit:   limit,
		Tier:    ent.Tier,
	}, granted, nil
}

// RecordUsage increments the account's counter for the current period.
// Callers invoke it after the external operation succeeded; per policy a
// failure here must not be surfaced to the end user, only logged.
func (e *Enforcer) RecordUsage(ctx context.Context, accountID uuid.UUID, kind OperationKind) error {
	return e.ledger.Increment(ctx, accountID, MonthKey(e.now()), kind, 1)
}
