package billing

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// OperationKind identifies a billable image operation.
type OperationKind string

const (
	KindGeneration OperationKind = "generation"
	KindEdit       OperationKind = "edit"
)

// Valid reports whether k is a known operation kind.
func (k OperationKind) Valid() bool {
	return k == KindGeneration || k == KindEdit
}

// MonthKey returns the calendar-month bucket for t in UTC, format "YYYY-MM".
// A new month starts a fresh zero-counter period; balances never carry over.
func MonthKey(t time.Time) string {
	return t.UTC().Format("2006-01")
}

// PeriodUsage holds the per-kind counters for one account in one period.
// Counters are monotonically non-decreasing within a period.
type PeriodUsage struct {
	Generations int64
	Edits       int64
}

// Total is the combined count checked against the shared monthly pool.
func (u PeriodUsage) Total() int64 {
	return u.Generations + u.Edits
}

// Count returns the counter for a single kind.
func (u PeriodUsage) Count(kind OperationKind) int64 {
	if kind == KindEdit {
		return u.Edits
	}
	return u.Generations
}

// UsageLedger records billable operations per account per calendar month.
// Period records are created lazily on first increment and never deleted,
// so the table doubles as a usage history trail.
type UsageLedger interface {
	// CurrentUsage returns the counters for (accountID, monthKey),
	// zero-valued when no record exists yet.
	CurrentUsage(ctx context.Context, accountID uuid.UUID, monthKey string) (PeriodUsage, error)

	// Increment adds delta to the given kind's counter, leaving the other
	// kind untouched. The write must be a single atomic
	// upsert-with-increment: two concurrent increments for the same key
	// must both be reflected.
	Increment(ctx context.Context, accountID uuid.UUID, monthKey string, kind OperationKind, delta int64) error
}

// ReservingLedger is an optional extension a ledger can implement to close
// the check-then-increment race with a single conditional update.
type ReservingLedger interface {
	UsageLedger

	// TryReserve atomically increments the kind's counter by one if the
	// combined period total is below limit. It returns the combined total
	// after the attempt and whether the reservation was granted.
	TryReserve(ctx context.Context, accountID uuid.UUID, monthKey string, kind OperationKind, limit int64) (total int64, granted bool, err error)
}

func validateIncrement(kind OperationKind, delta int64) error {
	if !kind.Valid() {
		return fmt.Errorf("%w: %q", ErrInvalidOperationKind, kind)
	}
	if delta < 0 {
		return fmt.Errorf("usage counters are monotonic, negative delta %d rejected", delta)
	}
	return nil
}
