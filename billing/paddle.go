package billing

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	paddle "github.com/PaddleHQ/paddle-go-sdk/v4"
)

// PaddleConfig holds configuration for the Paddle billing provider.
type PaddleConfig struct {
	APIKey        string `env:"PADDLE_API_KEY,required"`
	WebhookSecret string `env:"PADDLE_WEBHOOK_SECRET,required"`
	Environment   string `env:"PADDLE_ENVIRONMENT" envDefault:"production"`
}

// PaddleProvider implements Provider for Paddle. Signature verification is
// delegated to the SDK's webhook verifier; events are normalized onto the
// same closed kind set the reconciler dispatches on.
type PaddleProvider struct {
	client   *paddle.SDK
	verifier *paddle.WebhookVerifier
}

// NewPaddleProvider creates a Paddle billing provider.
func NewPaddleProvider(cfg PaddleConfig) (*PaddleProvider, error) {
	if cfg.APIKey == "" {
		return nil, errors.New("paddle API key is required")
	}
	if cfg.WebhookSecret == "" {
		return nil, errors.New("paddle webhook secret is required")
	}

	var client *paddle.SDK
	var err error

	switch strings.ToLower(cfg.Environment) {
	case "sandbox":
		client, err = paddle.NewSandbox(cfg.APIKey)
	case "production", "":
		client, err = paddle.New(cfg.APIKey)
	default:
		return nil, fmt.Errorf("invalid paddle environment: %s", cfg.Environment)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to create paddle client: %w", err)
	}

	return &PaddleProvider{
		client:   client,
		verifier: paddle.NewWebhookVerifier(cfg.WebhookSecret),
	}, nil
}

// ParseWebhook verifies the Paddle-Signature header and normalizes the event.
func (p *PaddleProvider) ParseWebhook(ctx context.Context, payload []byte, signature string) (*Event, error) {
	// The SDK verifier consumes an http.Request, so wrap the raw delivery.
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, "/webhook", bytes.NewReader(payload))
	if err != nil {
		return nil, errors.Join(ErrProviderCallFailed, err)
	}
	req.Header.Set("Paddle-Signature", signature)

	valid, err := p.verifier.Verify(req)
	if err != nil {
		return nil, errors.Join(ErrSignatureInvalid, err)
	}
	if !valid {
		return nil, ErrSignatureInvalid
	}

	var raw struct {
		EventID   string `json:"event_id"`
		EventType string `json:"event_type"`
		Data      struct {
			ID                   string `json:"id"`
			Status               string `json:"status"`
			CustomerID           string `json:"customer_id"`
			CurrentBillingPeriod struct {
				EndsAt string `json:"ends_at"`
			} `json:"current_billing_period"`
			Items []struct {
				Price struct {
					ID string `json:"id"`
				} `json:"price"`
			} `json:"items"`
		} `json:"data"`
	}
	if err := json.Unmarshal(payload, &raw); err != nil {
		return nil, errors.Join(ErrMalformedEvent, err)
	}

	event := &Event{
		Kind:           mapPaddleEventType(raw.EventType),
		ProviderType:   raw.EventType,
		EventID:        raw.EventID,
		SubscriptionID: raw.Data.ID,
		Status:         raw.Data.Status,
		CustomerID:     raw.Data.CustomerID,
	}
	if len(raw.Data.Items) > 0 {
		event.PriceID = raw.Data.Items[0].Price.ID
	}
	if raw.Data.CurrentBillingPeriod.EndsAt != "" {
		if end, err := time.Parse(time.RFC3339, raw.Data.CurrentBillingPeriod.EndsAt); err == nil {
			event.PeriodEnd = end.UTC()
		}
	}

	return event, nil
}

// CustomerEmail fetches the Paddle customer and returns its email.
func (p *PaddleProvider) CustomerEmail(ctx context.Context, customerID string) (string, error) {
	if customerID == "" {
		return "", fmt.Errorf("%w: empty customer id", ErrCustomerNotFound)
	}

	customer, err := p.client.CustomersClient.GetCustomer(ctx, &paddle.GetCustomerRequest{
		CustomerID: customerID,
	})
	if err != nil {
		return "", errors.Join(ErrProviderCallFailed, err)
	}
	if customer == nil || customer.Email == "" {
		return "", fmt.Errorf("%w: customer %s has no usable email", ErrCustomerNotFound, customerID)
	}

	return customer.Email, nil
}

// mapPaddleEventType maps Paddle event names onto the closed EventKind set.
// Paddle reports cancellations as "subscription.canceled"; both lifecycle
// spellings collapse into the deletion transition.
func mapPaddleEventType(eventType string) EventKind {
	switch eventType {
	case "subscription.created":
		return EventSubscriptionCreated
	case "subscription.updated", "subscription.resumed":
		return EventSubscriptionUpdated
	case "subscription.canceled":
		return EventSubscriptionDeleted
	case "transaction.payment_succeeded":
		return EventPaymentSucceeded
	case "transaction.payment_failed":
		return EventPaymentFailed
	default:
		return EventUnhandled
	}
}
