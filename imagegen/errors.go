package imagegen

import (
	"errors"
	"fmt"

	"github.com/pixelmuse/pixelmuse/billing"
)

var (
	ErrAuthenticationRequired = errors.New("caller identity is missing or invalid")
	ErrEmptyPrompt            = errors.New("prompt is required")
	ErrMissingSourceImage     = errors.New("source image is required")
	ErrProviderFailed         = errors.New("image provider request failed")
)

// QuotaExceededError is the quota-gate denial. It is an expected decision,
// not a store failure, and carries the numbers the UI needs to render
// "X/Y used this month".
type QuotaExceededError struct {
	Kind  billing.OperationKind
	Used  int64
	Limit int64
}

func (e *QuotaExceededError) Error() string {
	return fmt.Sprintf("usage limit exceeded: %d/%d operations used this month, upgrade your plan for more %ss",
		e.Used, e.Limit, e.Kind)
}
