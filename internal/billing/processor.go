package billing

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Payment-processor errors, normalized so nothing provider-specific
// leaks past this package.
var (
	ErrPaymentNotFound     = errors.New("payment not found")
	ErrPaymentNotSucceeded = errors.New("payment has not succeeded")
	ErrOwnerMismatch       = errors.New("payment belongs to another user")
)

// Payment is the processor-agnostic view of an external payment.
type Payment struct {
	Ref         string
	Status      string
	UserID      uuid.UUID
	Credits     int
	AmountCents int64
	Currency    string
	PackageID   string
	PlanID      string
}

// Intent is the result of creating a payment at the processor.
type Intent struct {
	Ref          string
	ClientSecret string
}

// Processor is the external payment collaborator. Card data never
// touches this service; we only create intents and read their status.
type Processor interface {
	RetrievePayment(ctx context.Context, ref string) (*Payment, error)
	CreatePayment(ctx context.Context, amountCents int64, currency string, metadata map[string]string) (*Intent, error)
}

// StripeProcessor talks to the Stripe payment-intents API over HTTPS.
type StripeProcessor struct {
	secretKey  string
	baseURL    string
	httpClient *http.Client
}

func NewStripeProcessor(secretKey, baseURL string) *StripeProcessor {
	if baseURL == "" {
		baseURL = "https://api.stripe.com"
	}
	return &StripeProcessor{
		secretKey:  secretKey,
		baseURL:    strings.TrimSuffix(baseURL, "/"),
		httpClient: &http.Client{Timeout: 10 * time.Second},
	}
}

// paymentIntent is the subset of Stripe's payment-intent object we read.
type paymentIntent struct {
	ID           string            `json:"id"`
	Status       string            `json:"status"`
	Amount       int64             `json:"amount"`
	Currency     string            `json:"currency"`
	ClientSecret string            `json:"client_secret"`
	Metadata     map[string]string `json:"metadata"`
}

func (p *StripeProcessor) RetrievePayment(ctx context.Context, ref string) (*Payment, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.baseURL+"/v1/payment_intents/"+url.PathEscape(ref), nil)
	if err != nil {
		return nil, fmt.Errorf("create retrieve request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+p.secretKey)

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("retrieve payment intent: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return nil, ErrPaymentNotFound
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("payment processor returned status %d", resp.StatusCode)
	}

	var pi paymentIntent
	if err := json.NewDecoder(resp.Body).Decode(&pi); err != nil {
		return nil, fmt.Errorf("decode payment intent: %w", err)
	}
	return paymentFromIntent(&pi)
}

func (p *StripeProcessor) CreatePayment(ctx context.Context, amountCents int64, currency string, metadata map[string]string) (*Intent, error) {
	form := url.Values{}
	form.Set("amount", strconv.FormatInt(amountCents, 10))
	form.Set("currency", currency)
	for k, v := range metadata {
		form.Set("metadata["+k+"]", v)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+"/v1/payment_intents", strings.NewReader(form.Encode()))
	if err != nil {
		return nil, fmt.Errorf("create intent request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+p.secretKey)
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("create payment intent: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("payment processor returned status %d", resp.StatusCode)
	}

	var pi paymentIntent
	if err := json.NewDecoder(resp.Body).Decode(&pi); err != nil {
		return nil, fmt.Errorf("decode payment intent: %w", err)
	}
	return &Intent{Ref: pi.ID, ClientSecret: pi.ClientSecret}, nil
}

func paymentFromIntent(pi *paymentIntent) (*Payment, error) {
	out := &Payment{
		Ref:         pi.ID,
		Status:      pi.Status,
		AmountCents: pi.Amount,
		Currency:    pi.Currency,
		PackageID:   pi.Metadata["package_id"],
		PlanID:      pi.Metadata["plan_id"],
	}
	if raw := pi.Metadata["user_id"]; raw != "" {
		id, err := uuid.Parse(raw)
		if err != nil {
			return nil, fmt.Errorf("bad user_id metadata on %s: %w", pi.ID, err)
		}
		out.UserID = id
	}
	if raw := pi.Metadata["credits"]; raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil {
			return nil, fmt.Errorf("bad credits metadata on %s: %w", pi.ID, err)
		}
		out.Credits = n
	}
	return out, nil
}
