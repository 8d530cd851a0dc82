package payment

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// Provider talks to the payment provider's HTTP API.
type Provider struct {
	apiURL     string
	shopID     string
	secretKey  string
	httpClient *http.Client
}

func NewProvider(apiURL, shopID, secretKey string) *Provider {
	return &Provider{
		apiURL:    apiURL,
		shopID:    shopID,
		secretKey: secretKey,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

// CreatedPayment is the part of the provider response the bot needs.
type CreatedPayment struct {
	ID              string
	Status          string
	ConfirmationURL string
}

type createPaymentRequest struct {
	Amount       apiAmount       `json:"amount"`
	Capture      bool            `json:"capture"`
	Confirmation apiConfirmation `json:"confirmation"`
	Description  string          `json:"description"`
}

type apiAmount struct {
	Value    string `json:"value"`
	Currency string `json:"currency"`
}

type apiConfirmation struct {
	Type            string `json:"type"`
	ReturnURL       string `json:"return_url,omitempty"`
	ConfirmationURL string `json:"confirmation_url,omitempty"`
}

type createPaymentResponse struct {
	ID           string          `json:"id"`
	Status       string          `json:"status"`
	Confirmation apiConfirmation `json:"confirmation"`
}

// CreatePayment registers a payment intent with the provider. The
// idempotency key makes a retried call return the original payment
// instead of charging twice.
func (p *Provider) CreatePayment(ctx context.Context, amountKopecks int64, description, returnURL, idempotencyKey string) (*CreatedPayment, error) {
	reqBody := createPaymentRequest{
		Amount: apiAmount{
			Value:    formatKopecks(amountKopecks),
			Currency: "RUB",
		},
		Capture: true,
		Confirmation: apiConfirmation{
			Type:      "redirect",
			ReturnURL: returnURL,
		},
		Description: description,
	}

	raw, err := json.Marshal(reqBody)
	if err != nil {
		return nil, fmt.Errorf("Provider.CreatePayment: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.apiURL+"/payments", bytes.NewReader(raw))
	if err != nil {
		return nil, fmt.Errorf("Provider.CreatePayment: %w", err)
	}

	req.SetBasicAuth(p.shopID, p.secretKey)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Idempotence-Key", idempotencyKey)

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("Provider.CreatePayment: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("Provider.CreatePayment: cannot read response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("Provider.CreatePayment: provider returned %d: %s", resp.StatusCode, body)
	}

	var parsed createPaymentResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return nil, fmt.Errorf("Provider.CreatePayment: cannot decode response: %w", err)
	}

	if parsed.ID == "" {
		return nil, fmt.Errorf("Provider.CreatePayment: provider response has no payment id")
	}

	return &CreatedPayment{
		ID:              parsed.ID,
		Status:          parsed.Status,
		ConfirmationURL: parsed.Confirmation.ConfirmationURL,
	}, nil
}

func formatKopecks(v int64) string {
	return fmt.Sprintf("%d.%02d", v/100, v%100)
}
