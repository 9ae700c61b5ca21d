package billing

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/pixelmuse/pixelmuse/pkg/pg"
)

// PgEntitlementStore is the PostgreSQL EntitlementStore over the
// subscribers table.
type PgEntitlementStore struct {
	pool *pgxpool.Pool
}

// NewPgEntitlementStore creates an entitlement store backed by the pool.
func NewPgEntitlementStore(pool *pgxpool.Pool) *PgEntitlementStore {
	if pool == nil {
		panic("billing: pgx pool is required")
	}
	return &PgEntitlementStore{pool: pool}
}

func (s *PgEntitlementStore) Get(ctx context.Context, email string) (Entitlement, error) {
	const query = `
		SELECT payment_customer_id, subscribed, subscription_tier, renews_at, updated_at
		FROM subscribers
		WHERE email = $1`

	var (
		customerID *string
		renewsAt   *time.Time
		ent        = Entitlement{Email: email}
		tier       string
	)
	err := s.pool.QueryRow(ctx, query, email).Scan(&customerID, &ent.Subscribed, &tier, &renewsAt, &ent.UpdatedAt)
	if err != nil {
		if pg.IsNotFoundError(err) {
			return Entitlement{}, ErrEntitlementNotFound
		}
		return Entitlement{}, errors.Join(ErrPersistenceUnavailable, err)
	}

	if customerID != nil {
		ent.PaymentCustomerID = *customerID
	}
	ent.Tier = Tier(tier)
	ent.RenewsAt = renewsAt
	return ent, nil
}

func (s *PgEntitlementStore) Upsert(ctx context.Context, ent Entitlement) error {
	const query = `
		INSERT INTO subscribers (email, payment_customer_id, subscribed, subscription_tier, renews_at, updated_at)
		VALUES ($1, NULLIF($2, ''), $3, $4, $5, $6)
		ON CONFLICT (email) DO UPDATE SET
			payment_customer_id = EXCLUDED.payment_customer_id,
			subscribed          = EXCLUDED.subscribed,
			subscription_tier   = EXCLUDED.subscription_tier,
			renews_at           = EXCLUDED.renews_at,
			updated_at          = EXCLUDED.updated_at`

	updatedAt := ent.UpdatedAt
	if updatedAt.IsZero() {
		updatedAt = time.Now().UTC()
	}

	if _, err := s.pool.Exec(ctx, query,
		ent.Email, ent.PaymentCustomerID, ent.Subscribed, string(ent.Tier), ent.RenewsAt, updatedAt,
	); err != nil {
		return errors.Join(ErrPersistenceUnavailable, err)
	}
	return nil
}

// PgUsageLedger is the PostgreSQL UsageLedger over the usage_tracking table.
// Increments route the delta into the matching kind's column of a single
// upsert, so concurrent writers serialize on the row instead of losing
// updates.
type PgUsageLedger struct {
	pool *pgxpool.Pool
}

// NewPgUsageLedger creates a usage ledger backed by the pool.
func NewPgUsageLedger(pool *pgxpool.Pool) *PgUsageLedger {
	if pool == nil {
		panic("billing: pgx pool is required")
	}
	return &PgUsageLedger{pool: pool}
}

func (l *PgUsageLedger) CurrentUsage(ctx context.Context, accountID uuid.UUID, monthKey string) (PeriodUsage, error) {
	const query = `
		SELECT generations_used, edits_used
		FROM usage_tracking
		WHERE account_id = $1 AND month_key = $2`

	var usage PeriodUsage
	err := l.pool.QueryRow(ctx, query, accountID, monthKey).Scan(&usage.Generations, &usage.Edits)
	if err != nil {
		if pg.IsNotFoundError(err) {
			return PeriodUsage{}, nil
		}
		return PeriodUsage{}, errors.Join(ErrPersistenceUnavailable, err)
	}
	return usage, nil
}

func (l *PgUsageLedger) Increment(ctx context.Context, accountID uuid.UUID, monthKey string, kind OperationKind, delta int64) error {
	if err := validateIncrement(kind, delta); err != nil {
		return err
	}

	const query = `
		INSERT INTO usage_tracking (account_id, month_key, generations_used, edits_used)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (account_id, month_key) DO UPDATE SET
			generations_used = usage_tracking.generations_used + EXCLUDED.generations_used,
			edits_used       = usage_tracking.edits_used + EXCLUDED.edits_used`

	generations, edits := splitDelta(kind, delta)
	if _, err := l.pool.Exec(ctx, query, accountID, monthKey, generations, edits); err != nil {
		return errors.Join(ErrPersistenceUnavailable, err)
	}
	return nil
}

// TryReserve implements ReservingLedger with a single conditional upsert:
// the increment only applies while the combined total is below the limit, so
// concurrent reservations cannot overshoot the quota.
func (l *PgUsageLedger) TryReserve(ctx context.Context, accountID uuid.UUID, monthKey string, kind OperationKind, limit int64) (int64, bool, error) {
	if err := validateIncrement(kind, 1); err != nil {
		return 0, false, err
	}
	if limit < 1 {
		usage, err := l.CurrentUsage(ctx, accountID, monthKey)
		return usage.Total(), false, err
	}

	const query = `
		INSERT INTO usage_tracking (account_id, month_key, generations_used, edits_used)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (account_id, month_key) DO UPDATE SET
			generations_used = usage_tracking.generations_used + EXCLUDED.generations_used,
			edits_used       = usage_tracking.edits_used + EXCLUDED.edits_used
		WHERE usage_tracking.generations_used + usage_tracking.edits_used < $5
		RETURNING generations_used + edits_used`

	generations, edits := splitDelta(kind, 1)

	var total int64
	err := l.pool.QueryRow(ctx, query, accountID, monthKey, generations, edits, limit).Scan(&total)
	if err != nil {
		if pg.IsNotFoundError(err) {
			// Conditional update declined: report the standing total.
			usage, usageErr := l.CurrentUsage(ctx, accountID, monthKey)
			if usageErr != nil {
				return 0, false, usageErr
			}
			return usage.Total(), false, nil
		}
		return 0, false, errors.Join(ErrPersistenceUnavailable, err)
	}
	return total, true, nil
}

func splitDelta(kind OperationKind, delta int64) (generations, edits int64) {
	if kind == KindEdit {
		return 0, delta
	}
	return delta, 0
}
