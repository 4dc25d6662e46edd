// Package gateway talks to the external payment processor. Calls here
// must never run inside a database transaction.
package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"example.com/eventhub/config"
	"example.com/eventhub/internal/apperrors"

	"github.com/pkg/errors"
)

// InitializeRequest carries one charge authorization request.
type InitializeRequest struct {
	Email       string
	AmountMinor int64 // smallest currency unit (kobo/cents)
	Reference   string
	CallbackURL string
	Metadata    map[string]string
}

// InitializeResult is the redirect handle the gateway issues.
type InitializeResult struct {
	AuthorizationURL string
	AccessCode       string
}

// VerifyResult reports the gateway's view of one reference. Success is
// false both for declined charges and for charges still in flight;
// RawStatus carries the gateway's own wording.
type VerifyResult struct {
	Success       bool
	TransactionID string
	RawStatus     string
}

// Client is the gateway contract the payment service consumes.
type Client interface {
	Initialize(ctx context.Context, req InitializeRequest) (*InitializeResult, error)
	Verify(ctx context.Context, reference string) (*VerifyResult, error)
}

// PaystackClient implements Client against the Paystack REST API.
type PaystackClient struct {
	baseURL   string
	secretKey string
	hc        *http.Client
}

// NewPaystackClient creates a new Paystack client
func NewPaystackClient(cfg config.PaystackConfig) *PaystackClient {
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 10 * time.Second
	}
	return &PaystackClient{
		baseURL:   cfg.BaseURL,
		secretKey: cfg.SecretKey,

		// set http client with timeout; a hung gateway surfaces as
		// GatewayUnavailable instead of blocking the request
		hc: &http.Client{Timeout: timeout},
	}
}

type paystackEnvelope struct {
	Status  bool            `json:"status"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
}

// Initialize asks Paystack for an authorization URL for the reference.
func (c *PaystackClient) Initialize(ctx context.Context, req InitializeRequest) (*InitializeResult, error) {
	payload := map[string]interface{}{
		"email":        req.Email,
		"amount":       req.AmountMinor,
		"reference":    req.Reference,
		"callback_url": req.CallbackURL,
		"metadata":     req.Metadata,
	}

	var data struct {
		AuthorizationURL string `json:"authorization_url"`
		AccessCode       string `json:"access_code"`
	}
	env, err := c.post(ctx, "/transaction/initialize", payload)
	if err != nil {
		return nil, err
	}
	if !env.Status {
		return nil, errors.Errorf("payment initialization rejected: %s", env.Message)
	}
	if err := json.Unmarshal(env.Data, &data); err != nil {
		return nil, errors.Wrap(err, "failed to decode initialize response")
	}

	return &InitializeResult{
		AuthorizationURL: data.AuthorizationURL,
		AccessCode:       data.AccessCode,
	}, nil
}

// Verify asks Paystack for the state of one reference.
func (c *PaystackClient) Verify(ctx context.Context, reference string) (*VerifyResult, error) {
	env, err := c.get(ctx, "/transaction/verify/"+reference)
	if err != nil {
		return nil, err
	}

	var data struct {
		ID     json.Number `json:"id"`
		Status string      `json:"status"`
	}
	if err := json.Unmarshal(env.Data, &data); err != nil {
		return nil, errors.Wrap(err, "failed to decode verify response")
	}

	return &VerifyResult{
		Success:       env.Status && data.Status == "success",
		TransactionID: data.ID.String(),
		RawStatus:     data.Status,
	}, nil
}

func (c *PaystackClient) post(ctx context.Context, path string, payload interface{}) (*paystackEnvelope, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, errors.Wrap(err, "failed to marshal gateway payload")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return nil, errors.Wrap(err, "failed to build gateway request")
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.secretKey)

	return c.do(req)
}

func (c *PaystackClient) get(ctx context.Context, path string) (*paystackEnvelope, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return nil, errors.Wrap(err, "failed to build gateway request")
	}
	req.Header.Set("Authorization", "Bearer "+c.secretKey)

	return c.do(req)
}

// do executes the request and separates transport trouble from
// gateway verdicts: network failures and 5xx responses come back as
// GatewayUnavailable so callers know a retry is safe.
func (c *PaystackClient) do(req *http.Request) (*paystackEnvelope, error) {
	resp, err := c.hc.Do(req)
	if err != nil {
		return nil, &apperrors.GatewayUnavailableError{Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusInternalServerError {
		return nil, &apperrors.GatewayUnavailableError{
			Err: fmt.Errorf("gateway returned %s", strconv.Itoa(resp.StatusCode)),
		}
	}

	var env paystackEnvelope
	if err := json.NewDecoder(resp.Body).Decode(&env); err != nil {
		return nil, &apperrors.GatewayUnavailableError{
			Err: errors.Wrap(err, "failed to decode gateway response"),
		}
	}

	return &env, nil
}
