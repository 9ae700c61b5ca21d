package billing

import (
	"context"
	"sync"

	"github.com/google/uuid"
)

// MemoryEntitlementStore is an in-memory EntitlementStore for tests and
// local development. Safe for concurrent use.
type MemoryEntitlementStore struct {
	mu      sync.RWMutex
	records map[string]Entitlement
}

// NewMemoryEntitlementStore creates an empty in-memory entitlement store.
func NewMemoryEntitlementStore() *MemoryEntitlementStore {
	return &MemoryEntitlementStore{
		records: make(map[string]Entitlement),
	}
}

func (s *MemoryEntitlementStore) Get(ctx context.Context, email string) (Entitlement, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ent, ok := s.records[email]
	if !ok {
		return Entitlement{}, ErrEntitlementNotFound
	}
	return ent, nil
}

func (s *MemoryEntitlementStore) Upsert(ctx context.Context, ent Entitlement) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.records[ent.Email] = ent
	return nil
}

type usageKey struct {
	accountID uuid.UUID
	monthKey  string
}

// MemoryUsageLedger is an in-memory UsageLedger for tests and local
// development. Increments and reservations are atomic under a single mutex.
type MemoryUsageLedger struct {
	mu       sync.Mutex
	counters map[usageKey]PeriodUsage
}

// NewMemoryUsageLedger creates an empty in-memory usage ledger.
func NewMemoryUsageLedger() *MemoryUsageLedger {
	return &MemoryUsageLedger{
		counters: make(map[usageKey]PeriodUsage),
	}
}

func (l *MemoryUsageLedger) CurrentUsage(ctx context.Context, accountID uuid.UUID, monthKey string) (PeriodUsage, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	return l.counters[usageKey{accountID, monthKey}], nil
}

func (l *MemoryUsageLedger) Increment(ctx context.Context, accountID uuid.UUID, monthKey string, kind OperationKind, delta int64) error {
	if err := validateIncrement(kind, delta); err != nil {
		return err
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	key := usageKey{accountID, monthKey}
	usage := l.counters[key]
	switch kind {
	case KindEdit:
		usage.Edits += delta
	default:
		usage.Generations += delta
	}
	l.counters[key] = usage
	return nil
}

// TryReserve implements ReservingLedger with a check-and-increment under the
// ledger mutex.
func (l *MemoryUsageLedger) TryReserve(ctx context.Context, accountID uuid.UUID, monthKey string, kind OperationKind, limit int64) (int64, bool, error) {
	if err := validateIncrement(kind, 1); err != nil {
		return 0, false, err
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	key := usageKey{accountID, monthKey}
	usage := l.counters[key]
	if usage.Total() >= limit {
		return usage.Total(), false, nil
	}

	if kind == KindEdit {
		usage.Edits++
	} else {
		usage.Generations++
	}
	l.counters[key] = usage
	return usage.Total(), true, nil
}
