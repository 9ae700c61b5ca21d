package imagegen

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/pixelmuse/pixelmuse/billing"
	"github.com/pixelmuse/pixelmuse/pkg/logger"
)

// Identity is the authenticated caller, supplied by the auth collaborator.
type Identity struct {
	AccountID uuid.UUID
	Email     string
}

func (id Identity) valid() bool {
	return id.AccountID != uuid.Nil && id.Email != ""
}

// Service runs the gated image operations.
type Service struct {
	enforcer *billing.Enforcer
	provider Provider
	history  HistoryStore
	strict   bool
	log      *slog.Logger
	now      func() time.Time
}

// ServiceOption configures optional Service settings.
type ServiceOption func(*Service)

// WithStrictAdmission switches from check-then-increment to an atomic
// reservation at admission time, eliminating concurrent quota overshoot.
// The tradeoff: an admitted request that then fails upstream has already
// consumed a unit, since ledger counters never decrease.
func WithStrictAdmission() ServiceOption {
	return func(s *Service) { s.strict = true }
}

// WithServiceLogger sets the structured logger.
func WithServiceLogger(log *slog.Logger) ServiceOption {
	return func(s *Service) {
		if log != nil {
			s.log = log
		}
	}
}

// WithServiceClock overrides the time source, used by tests.
func WithServiceClock(now func() time.Time) ServiceOption {
	return func(s *Service) {
		if now != nil {
			s.now = now
		}
	}
}

// NewService creates the image operations service.
// Panics on nil dependencies to fail fast during initialization.
func NewService(enforcer *billing.Enforcer, provider Provider, history HistoryStore, opts ...ServiceOption) *Service {
	if enforcer == nil {
		panic("imagegen: billing.Enforcer is required")
	}
	if provider == nil {
		panic("imagegen: Provider is required")
	}
	if history == nil {
		panic("imagegen: HistoryStore is required")
	}

	s := &Service{
		enforcer: enforcer,
		provider: provider,
		history:  history,
		log:      slog.Default(),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Generate runs a text-to-image operation for the caller.
func (s *Service) Generate(ctx context.Context, id Identity, req GenerateRequest) (Image, error) {
	if !id.valid() {
		return Image{}, ErrAuthenticationRequired
	}
	if req.Prompt == "" {
		return Image{}, ErrEmptyPrompt
	}

	reserved, err := s.admit(ctx, id, billing.KindGeneration)
	if err != nil {
		return Image{}, err
	}

	img, err := s.provider.Generate(ctx, req)
	if err != nil {
		return Image{}, err
	}

	s.finish(ctx, id, billing.KindGeneration, reserved, HistoryRecord{
		AccountID: id.AccountID,
		Prompt:    req.Prompt,
		ImageURL:  img.URL,
		Operation: "text-to-image",
		Model:     img.Model,
		Size:      req.Size,
		CreatedAt: s.now().UTC(),
	})
	return img, nil
}

// Edit runs an image edit operation for the caller.
func (s *Service) Edit(ctx context.Context, id Identity, req EditRequest) (Image, error) {
	if !id.valid() {
		return Image{}, ErrAuthenticationRequired
	}
	if req.Prompt == "" {
		return Image{}, ErrEmptyPrompt
	}
	if len(req.Image) == 0 {
		return Image{}, ErrMissingSourceImage
	}

	reserved, err := s.admit(ctx, id, billing.KindEdit)
	if err != nil {
		return Image{}, err
	}

	img, err := s.provider.Edit(ctx, req)
	if err != nil {
		return Image{}, err
	}

	s.finish(ctx, id, billing.KindEdit, reserved, HistoryRecord{
		AccountID: id.AccountID,
		Prompt:    req.Prompt,
		ImageURL:  img.URL,
		Operation: "edit",
		Model:     img.Model,
		Size:      req.Size,
		CreatedAt: s.now().UTC(),
	})
	return img, nil
}

// Limits reports the caller's current usage against the tier quota.
func (s *Service) Limits(ctx context.Context, id Identity) (billing.Decision, error) {
	if !id.valid() {
		return billing.Decision{}, ErrAuthenticationRequired
	}
	return s.enforcer.Check(ctx, id.Email, id.AccountID, billing.KindGeneration)
}

// admit gates the operation on the monthly quota. In strict mode the unit is
// reserved atomically here; otherwise usage is recorded after success.
func (s *Service) admit(ctx context.Context, id Identity, kind billing.OperationKind) (reserved bool, err error) {
	var decision billing.Decision
	if s.strict {
		decision, reserved, err = s.enforcer.Reserve(ctx, id.Email, id.AccountID, kind)
	} else {
		decision, err = s.enforcer.Check(ctx, id.Email, id.AccountID, kind)
	}
	if err != nil {
		return false, err
	}

	if !decision.Allowed {
		return false, &QuotaExceededError{Kind: kind, Used: decision.Used, Limit: decision.Limit}
	}
	return reserved, nil
}

// finish records history and usage after a successful provider call. Both
// writes are best-effort: the user already has the image, so failures here
// are logged and never surfaced. Lost increments mean under-counting, which
// is preferred over retrying a side-effectful external operation.
func (s *Service) finish(ctx context.Context, id Identity, kind billing.OperationKind, reserved bool, rec HistoryRecord) {
	if err := s.history.Insert(ctx, rec); err != nil {
		s.log.ErrorContext(ctx, "failed to record image history",
			slog.String("account_id", id.AccountID.String()),
			logger.Error(err),
		)
	}

	if reserved {
		return // usage already counted at admission
	}
	if err := s.enforcer.RecordUsage(ctx, id.AccountID, kind); err != nil {
		s.log.ErrorContext(ctx, "failed to record usage",
			slog.String("account_id", id.AccountID.String()),
			slog.String("kind", string(kind)),
			logger.Error(err),
		)
	}
}
