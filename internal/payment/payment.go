// Package payment talks to the external card processor. A charge is
// irreversible from our side, so callers must pass an idempotency key and
// treat timeouts as ambiguous, never as confirmed failures.
package payment

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"
)

const (
	StatusSucceeded = "succeeded"
	StatusFailed    = "failed"
	StatusNotFound  = "not_found"
)

// ErrAmbiguous means the gateway's answer never arrived: the charge may or
// may not have happened. Callers reconfirm via Status before retrying.
var ErrAmbiguous = errors.New("payment outcome unknown")

type Charge struct {
	ChargeID string `json:"charge_id"`
	Amount   int64  `json:"amount"`
	Status   string `json:"status"`
}

type Gateway interface {
	Charge(ctx context.Context, amount int64, currency, source, idempotencyKey string) (*Charge, error)
	Status(ctx context.Context, idempotencyKey string) (*Charge, error)
}

type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
}

func NewClient(baseURL, apiKey string) *Client {
	return &Client{
		baseURL: baseURL,
		apiKey:  apiKey,
		httpClient: &http.Client{
			Timeout: 15 * time.Second,
			Transport: &http.Transport{
				MaxIdleConns:        100,
				MaxIdleConnsPerHost: 10,
				IdleConnTimeout:     90 * time.Second,
			},
		},
	}
}

func (c *Client) Charge(ctx context.Context, amount int64, currency, source, idempotencyKey string) (*Charge, error) {
	payload := map[string]any{
		"amount":   amount,
		"currency": currency,
		"source":   source,
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("encode charge: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v1/charges", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("Idempotency-Key", idempotencyKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		// A transport failure after the request left us is ambiguous: the
		// processor may have accepted the charge.
		if ctx.Err() != nil || isTimeout(err) {
			return nil, fmt.Errorf("%w: %v", ErrAmbiguous, err)
		}
		return nil, fmt.Errorf("do request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		return nil, fmt.Errorf("charge declined with status %d", resp.StatusCode)
	}

	var result Charge
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	return &result, nil
}

// Status looks a charge up by the idempotency key it was created with.
func (c *Client) Status(ctx context.Context, idempotencyKey string) (*Charge, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/v1/charges/lookup?idempotency_key="+idempotencyKey, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("do request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return &Charge{Status: StatusNotFound}, nil
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("status lookup failed with status %d", resp.StatusCode)
	}

	var result Charge
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	return &result, nil
}

func isTimeout(err error) bool {
	var t interface{ Timeout() bool }
	return errors.As(err, &t) && t.Timeout()
}
