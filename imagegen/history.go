package imagegen

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
)

// HistoryRecord is one completed image operation, kept per account as the
// gallery/history trail.
type HistoryRecord struct {
	AccountID uuid.UUID
	Prompt    string
	ImageURL  string
	Operation string // "text-to-image" or "edit"
	Model     string
	Size      string
	CreatedAt time.Time
}

// HistoryStore persists image history records. Insert failures never fail
// the operation that produced the image; callers log and move on.
type HistoryStore interface {
	Insert(ctx context.Context, rec HistoryRecord) error
}

// PgHistoryStore is the PostgreSQL HistoryStore over the image_history table.
type PgHistoryStore struct {
	pool *pgxpool.Pool
}

// NewPgHistoryStore creates a history store backed by the pool.
func NewPgHistoryStore(pool *pgxpool.Pool) *PgHistoryStore {
	if pool == nil {
		panic("imagegen: pgx pool is required")
	}
	return &PgHistoryStore{pool: pool}
}

func (s *PgHistoryStore) Insert(ctx context.Context, rec HistoryRecord) error {
	const query = `
		INSERT INTO image_history (account_id, prompt, image_url, operation, model_used, size, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`

	createdAt := rec.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}

	if _, err := s.pool.Exec(ctx, query,
		rec.AccountID, rec.Prompt, rec.ImageURL, rec.Operation, rec.Model, rec.Size, createdAt,
	); err != nil {
		return errors.Join(errors.New("insert image history"), err)
	}
	return nil
}

// MemoryHistoryStore is an in-memory HistoryStore for tests.
type MemoryHistoryStore struct {
	mu      sync.Mutex
	records []HistoryRecord
}

// NewMemoryHistoryStore creates an empty in-memory history store.
func NewMemoryHistoryStore() *MemoryHistoryStore {
	return &MemoryHistoryStore{}
}

func (s *MemoryHistoryStore) Insert(ctx context.Context, rec HistoryRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records = append(s.records, rec)
	return nil
}

// Records returns a copy of the stored history.
func (s *MemoryHistoryStore) Records() []HistoryRecord {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]HistoryRecord, len(s.records))
	copy(out, s.records)
	return out
}
