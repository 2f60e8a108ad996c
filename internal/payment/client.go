package payment

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"net/http"
	"net/url"
	"strings"

	"github.com/rs/zerolog"
)

// ErrOperationFailed is the uniform failure signal for any gateway call that
// does not complete with a 2xx response. Callers surface a generic
// user-facing message and never the upstream error text.
var ErrOperationFailed = errors.New("payment: operation failed")

// Client talks to the proxy gateway on behalf of the orchestrator. Every call
// is scoped to a partner/account pair.
type Client struct {
	BaseURL string
	HTTP    *http.Client
	Logger  zerolog.Logger
}

// CreatePaymentIntentRequest opens a charge for a fixed amount.
type CreatePaymentIntentRequest struct {
	PartnerID          string       `json:"partner_id"`
	AccountID          string       `json:"account_id"`
	Amount             float64      `json:"amount"`
	PaymentMethodTypes []MethodType `json:"payment_method_types"`
}

// CreateMethodIntentRequest opens a collect-a-payment-method operation.
type CreateMethodIntentRequest struct {
	PartnerID          string       `json:"partner_id"`
	AccountID          string       `json:"account_id"`
	PaymentMethodTypes []MethodType `json:"payment_method_types"`
	Validate           bool         `json:"validate"`
	BillTo             BillTo       `json:"bill_to"`
}

// PayRequest submits a charge against an existing payment intent.
type PayRequest struct {
	PaymentIntentID string `json:"payment_intent_id"`
	PaymentMethodID string `json:"payment_method_id"`
	PartnerID       string `json:"partner_id"`
	AccountID       string `json:"account_id"`
}

// CreatePaymentIntent creates a payment intent for the given dollar amount.
// The amount is validated before any network call is made.
func (c *Client) CreatePaymentIntent(ctx context.Context, req CreatePaymentIntentRequest) (PaymentIntent, error) {
	var out PaymentIntent
	if math.IsNaN(req.Amount) || math.IsInf(req.Amount, 0) || req.Amount <= 0 {
		return out, fmt.Errorf("%w: invalid amount %v", ErrOperationFailed, req.Amount)
	}
	if len(req.PaymentMethodTypes) == 0 {
		req.PaymentMethodTypes = []MethodType{MethodCard}
	}
	if err := c.post(ctx, "/api/payment_intent", req, &out); err != nil {
		return PaymentIntent{}, err
	}
	return out, nil
}

// CreateMethodIntent creates a payment-method intent for the store flow.
func (c *Client) CreateMethodIntent(ctx context.Context, req CreateMethodIntentRequest) (PaymentMethodIntent, error) {
	var out PaymentMethodIntent
	if err := c.post(ctx, "/api/payment_method_intent", req, &out); err != nil {
		return PaymentMethodIntent{}, err
	}
	return out, nil
}

// GetPaymentMethod fetches a stored payment method resource by id.
func (c *Client) GetPaymentMethod(ctx context.Context, id, partnerID, accountID string) (StoredPaymentMethod, error) {
	var out StoredPaymentMethod
	path := "/api/payment_method/" + url.PathEscape(id)
	query := url.Values{"partner_id": {partnerID}, "account_id": {accountID}}
	if err := c.get(ctx, path, query, &out); err != nil {
		return StoredPaymentMethod{}, err
	}
	return out, nil
}

// GetMethodIntent fetches a payment-method intent, optionally proving
// possession of its client secret.
func (c *Client) GetMethodIntent(ctx context.Context, id, secret, partnerID, accountID string) (PaymentMethodIntent, error) {
	var out PaymentMethodIntent
	path := "/api/payment_method_intent/" + url.PathEscape(id)
	query := url.Values{"partner_id": {partnerID}, "account_id": {accountID}}
	if secret != "" {
		query.Set("secret", secret)
	}
	if err := c.get(ctx, path, query, &out); err != nil {
		return PaymentMethodIntent{}, err
	}
	return out, nil
}

// Pay charges an existing payment intent with the given payment method.
func (c *Client) Pay(ctx context.Context, req PayRequest) (PaymentResult, error) {
	var out PaymentResult
	if strings.TrimSpace(req.PaymentIntentID) == "" {
		return out, fmt.Errorf("%w: payment intent id is required", ErrOperationFailed)
	}
	if strings.TrimSpace(req.PaymentMethodID) == "" {
		return out, fmt.Errorf("%w: payment method id is required", ErrOperationFailed)
	}
	if err := c.post(ctx, "/api/pay", req, &out); err != nil {
		return PaymentResult{}, err
	}
	return out, nil
}

func (c *Client) post(ctx context.Context, path string, body, out any) error {
	encoded, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("%w: encode request: %v", ErrOperationFailed, err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint(path), bytes.NewReader(encoded))
	if err != nil {
		return fmt.Errorf("%w: build request: %v", ErrOperationFailed, err)
	}
	req.Header.Set("Content-Type", "application/json")
	return c.do(req, path, out)
}

func (c *Client) get(ctx context.Context, path string, query url.Values, out any) error {
	endpoint := c.endpoint(path)
	if len(query) > 0 {
		endpoint += "?" + query.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return fmt.Errorf("%w: build request: %v", ErrOperationFailed, err)
	}
	return c.do(req, path, out)
}

func (c *Client) do(req *http.Request, path string, out any) error {
	client := c.HTTP
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		c.Logger.Warn().Err(err).Str("path", path).Msg("gateway call failed")
		return fmt.Errorf("%w: %s", ErrOperationFailed, path)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		// drain for connection reuse; the error body never reaches callers
		_, _ = io.Copy(io.Discard, resp.Body)
		c.Logger.Warn().Int("status", resp.StatusCode).Str("path", path).Msg("gateway call rejected")
		return fmt.Errorf("%w: %s returned %d", ErrOperationFailed, path, resp.StatusCode)
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("%w: decode response: %v", ErrOperationFailed, err)
	}
	return nil
}

func (c *Client) endpoint(path string) string {
	return strings.TrimRight(c.BaseURL, "/") + path
}
