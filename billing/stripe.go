package billing

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"
)

// StripeConfig holds configuration for the Stripe billing provider.
type StripeConfig struct {
	SecretKey       string        `env:"STRIPE_SECRET_KEY,required"`
	WebhookSecret   string        `env:"STRIPE_WEBHOOK_SECRET,required"`
	APIBaseURL      string        `env:"STRIPE_API_BASE_URL" envDefault:"https://api.stripe.com"`
	RequestTimeout  time.Duration `env:"STRIPE_REQUEST_TIMEOUT" envDefault:"10s"`
	SignatureMaxAge time.Duration `env:"STRIPE_SIGNATURE_MAX_AGE" envDefault:"5m"`
}

// StripeProvider implements Provider for Stripe-style webhooks: an
// HMAC-SHA256 signature header of the form "t=<unix>,v1=<hex>" computed over
// "<unix>.<payload>", and a REST customer lookup for the billing email.
type StripeProvider struct {
	config StripeConfig
	client *http.Client
	now    func() time.Time
}

// NewStripeProvider creates a Stripe billing provider.
func NewStripeProvider(cfg StripeConfig) (*StripeProvider, error) {
	if cfg.SecretKey == "" {
		return nil, errors.New("stripe secret key is required")
	}
	if cfg.WebhookSecret == "" {
		return nil, errors.New("stripe webhook secret is required")
	}
	if cfg.APIBaseURL == "" {
		cfg.APIBaseURL = "https://api.stripe.com"
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = 10 * time.Second
	}

	return &StripeProvider{
		config: cfg,
		client: &http.Client{Timeout: cfg.RequestTimeout},
		now:    time.Now,
	}, nil
}

// ParseWebhook verifies the signature header and normalizes the event.
func (p *StripeProvider) ParseWebhook(ctx context.Context, payload []byte, signature string) (*Event, error) {
	if err := p.verifySignature(payload, signature); err != nil {
		return nil, err
	}

	var raw struct {
		ID   string `json:"id"`
		Type string `json:"type"`
		Data struct {
			Object json.RawMessage `json:"object"`
		} `json:"data"`
	}
	if err := json.Unmarshal(payload, &raw); err != nil {
		return nil, errors.Join(ErrMalformedEvent, err)
	}

	event := &Event{
		Kind:         mapStripeEventType(raw.Type),
		ProviderType: raw.Type,
		EventID:      raw.ID,
	}

	switch {
	case strings.HasPrefix(raw.Type, "customer.subscription."):
		var sub struct {
			ID               string `json:"id"`
			Status           string `json:"status"`
			Customer         string `json:"customer"`
			CurrentPeriodEnd int64  `json:"current_period_end"`
			Items            struct {
				Data []struct {
					Price struct {
						ID string `json:"id"`
					} `json:"price"`
				} `json:"data"`
			} `json:"items"`
		}
		if err := json.Unmarshal(raw.Data.Object, &sub); err != nil {
			return nil, errors.Join(ErrMalformedEvent, err)
		}
		event.SubscriptionID = sub.ID
		event.Status = sub.Status
		event.CustomerID = sub.Customer
		if sub.CurrentPeriodEnd > 0 {
			event.PeriodEnd = time.Unix(sub.CurrentPeriodEnd, 0).UTC()
		}
		if len(sub.Items.Data) > 0 {
			event.PriceID = sub.Items.Data[0].Price.ID
		}

	case strings.HasPrefix(raw.Type, "invoice."):
		var inv struct {
			ID       string `json:"id"`
			Customer string `json:"customer"`
		}
		if err := json.Unmarshal(raw.Data.Object, &inv); err != nil {
			return nil, errors.Join(ErrMalformedEvent, err)
		}
		event.SubscriptionID = inv.ID
		event.CustomerID = inv.Customer
	}

	return event, nil
}

// verifySignature checks the "t=...,v1=..." header against the webhook
// secret. Comparison is constant-time and the timestamp is bound into the
// signed payload to prevent replay.
func (p *StripeProvider) verifySignature(payload []byte, header string) error {
	if header == "" {
		return fmt.Errorf("%w: missing signature header", ErrSignatureInvalid)
	}

	var timestamp int64
	var candidates []string
	for _, part := range strings.Split(header, ",") {
		key, value, ok := strings.Cut(strings.TrimSpace(part), "=")
		if !ok {
			continue
		}
		switch key {
		case "t":
			ts, err := strconv.ParseInt(value, 10, 64)
			if err != nil {
				return fmt.Errorf("%w: invalid timestamp", ErrSignatureInvalid)
			}
			timestamp = ts
		case "v1":
			candidates = append(candidates, value)
		}
	}

	if timestamp == 0 || len(candidates) == 0 {
		return fmt.Errorf("%w: malformed signature header", ErrSignatureInvalid)
	}

	if maxAge := p.config.SignatureMaxAge; maxAge > 0 {
		age := p.now().Sub(time.Unix(timestamp, 0))
		if age > maxAge {
			return fmt.Errorf("%w: signature timestamp too old: %v", ErrSignatureInvalid, age)
		}
		if age < -1*time.Minute {
			return fmt.Errorf("%w: signature timestamp is in the future", ErrSignatureInvalid)
		}
	}

	mac := hmac.New(sha256.New, []byte(p.config.WebhookSecret))
	fmt.Fprintf(mac, "%d.%s", timestamp, payload)
	expected := hex.EncodeToString(mac.Sum(nil))

	for _, candidate := range candidates {
		if hmac.Equal([]byte(expected), []byte(candidate)) {
			return nil
		}
	}
	return fmt.Errorf("%w: signature mismatch", ErrSignatureInvalid)
}

// CustomerEmail fetches the customer object and returns its email.
// The request is bounded by the configured client timeout on top of ctx.
func (p *StripeProvider) CustomerEmail(ctx context.Context, customerID string) (string, error) {
	if customerID == "" {
		return "", fmt.Errorf("%w: empty customer id", ErrCustomerNotFound)
	}

	url := fmt.Sprintf("%s/v1/customers/%s", strings.TrimSuffix(p.config.APIBaseURL, "/"), customerID)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return "", errors.Join(ErrProviderCallFailed, err)
	}
	req.Header.Set("Authorization", "Bearer "+p.config.SecretKey)

	resp, err := p.client.Do(req)
	if err != nil {
		return "", errors.Join(ErrProviderCallFailed, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return "", fmt.Errorf("%w: %s", ErrCustomerNotFound, customerID)
	}
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return "", fmt.Errorf("%w: status %d: %s", ErrProviderCallFailed, resp.StatusCode, body)
	}

	var customer struct {
		ID      string `json:"id"`
		Email   string `json:"email"`
		Deleted bool   `json:"deleted"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&customer); err != nil {
		return "", errors.Join(ErrProviderCallFailed, err)
	}

	if customer.Deleted || customer.Email == "" {
		return "", fmt.Errorf("%w: customer %s has no usable email", ErrCustomerNotFound, customerID)
	}
	return customer.Email, nil
}

// mapStripeEventType maps Stripe event names onto the closed EventKind set.
func mapStripeEventType(eventType string) EventKind {
	switch eventType {
	case "customer.subscription.created":
		return EventSubscriptionCreated
	case "customer.subscription.updated":
		return EventSubscriptionUpdated
	case "customer.subscription.deleted":
		return EventSubscriptionDeleted
	case "invoice.payment_succeeded":
		return EventPaymentSucceeded
	case "invoice.payment_failed":
		return EventPaymentFailed
	default:
		return EventUnhandled
	}
}
