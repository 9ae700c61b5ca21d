package billing

import "errors"

var (
	ErrEntitlementNotFound = errors.New("entitlement not found")
	ErrUnmappedPriceID     = errors.New("active subscription references an unmapped price id")

	ErrSignatureInvalid   = errors.New("webhook signature verification failed")
	ErrMalformedEvent     = errors.New("malformed webhook event payload")
	ErrCustomerNotFound   = errors.New("billing customer not found")
	ErrProviderCallFailed = errors.New("billing provider request failed")

	ErrInvalidCatalogConfiguration = errors.New("invalid tier catalog configuration")
	ErrInvalidOperationKind        = errors.New("invalid operation kind")

	ErrPersistenceUnavailable = errors.New("billing store unavailable")
)
