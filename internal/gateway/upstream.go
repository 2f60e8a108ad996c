package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/fwdshop/checkout/internal/obs"
	"github.com/fwdshop/checkout/internal/resilience"
)

// ErrUpstream signals that the payment API rejected or failed a forwarded
// request. The gateway maps it to a generic 500 so upstream error bodies
// never reach the storefront.
var ErrUpstream = errors.New("gateway: upstream request failed")

// Upstream forwards requests to the payment API with partner credentials
// injected as headers.
type Upstream struct {
	BaseURL string
	HTTP    resilience.HTTPClient
	Logger  zerolog.Logger
}

// CreatePaymentIntent forwards a payment intent creation.
func (u *Upstream) CreatePaymentIntent(ctx context.Context, apiKey, accountID string, body upstreamPaymentIntent, out any) error {
	return u.forward(ctx, "create_payment_intent", http.MethodPost, "/payment_intents", apiKey, accountID, body, out)
}

// CreateMethodIntent forwards a payment-method intent creation.
func (u *Upstream) CreateMethodIntent(ctx context.Context, apiKey, accountID string, body upstreamMethodIntent, out any) error {
	return u.forward(ctx, "create_method_intent", http.MethodPost, "/payment_method_intents", apiKey, accountID, body, out)
}

// GetPaymentMethod forwards a payment method fetch.
func (u *Upstream) GetPaymentMethod(ctx context.Context, apiKey, accountID, id string, out any) error {
	path := "/payment_methods/" + url.PathEscape(id)
	return u.forward(ctx, "get_payment_method", http.MethodGet, path, apiKey, accountID, nil, out)
}

// GetMethodIntent forwards a payment-method intent fetch.
func (u *Upstream) GetMethodIntent(ctx context.Context, apiKey, accountID, id, secret string, out any) error {
	path := "/payment_method_intents/" + url.PathEscape(id)
	if secret != "" {
		path += "?secret=" + url.QueryEscape(secret)
	}
	return u.forward(ctx, "get_method_intent", http.MethodGet, path, apiKey, accountID, nil, out)
}

// CreatePayment forwards a charge against an existing payment intent.
func (u *Upstream) CreatePayment(ctx context.Context, apiKey, accountID, paymentIntentID string, body upstreamPayment, out any) error {
	path := "/payment_intents/" + url.PathEscape(paymentIntentID) + "/payments"
	return u.forward(ctx, "create_payment", http.MethodPost, path, apiKey, accountID, body, out)
}

func (u *Upstream) forward(ctx context.Context, op, method, path, apiKey, accountID string, body, out any) error {
	ctx, span := otel.Tracer("gateway.Upstream").Start(ctx, "Upstream."+op)
	defer span.End()
	span.SetAttributes(attribute.String("upstream.operation", op))

	var reader io.Reader
	if body != nil {
		encoded, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode upstream body: %w", err)
		}
		reader = bytes.NewReader(encoded)
	}

	endpoint := strings.TrimRight(u.BaseURL, "/") + path
	req, err := http.NewRequest(method, endpoint, reader)
	if err != nil {
		return fmt.Errorf("build upstream request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("x-api-key", apiKey)
	req.Header.Set("x-account-id", accountID)

	resp, err := u.HTTP.Do(ctx, req)
	if err != nil {
		u.countUpstream(op, "error")
		span.RecordError(err)
		u.Logger.Error().Err(err).Str("operation", op).Msg("upstream request failed")
		return fmt.Errorf("%w: %s", ErrUpstream, op)
	}
	defer func() { _ = resp.Body.Close() }()

	u.countUpstream(op, strconv.Itoa(resp.StatusCode))
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		u.Logger.Error().Int("status", resp.StatusCode).Str("operation", op).Msg("upstream rejected request")
		return fmt.Errorf("%w: %s returned %d", ErrUpstream, op, resp.StatusCode)
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		u.Logger.Error().Err(err).Str("operation", op).Msg("decode upstream response")
		return fmt.Errorf("%w: %s", ErrUpstream, op)
	}
	return nil
}

func (u *Upstream) countUpstream(op, status string) {
	if obs.UpstreamRequestTotal != nil {
		obs.UpstreamRequestTotal.WithLabelValues(op, status).Inc()
	}
}
