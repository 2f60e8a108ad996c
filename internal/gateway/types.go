package gateway

import "github.com/fwdshop/checkout/internal/payment"

// Inbound request records, one per proxied operation. Field names follow the
// wire contract consumed by the storefront client.

// CreatePaymentIntentRequest opens a charge for a dollar amount; the gateway
// converts it to cents before forwarding.
type CreatePaymentIntentRequest struct {
	PartnerID          string               `json:"partner_id" validate:"required"`
	AccountID          string               `json:"account_id" validate:"required"`
	Amount             float64              `json:"amount" validate:"required"`
	PaymentMethodTypes []payment.MethodType `json:"payment_method_types"`
}

// CreateMethodIntentRequest opens a collect-a-payment-method operation.
type CreateMethodIntentRequest struct {
	PartnerID          string               `json:"partner_id" validate:"required"`
	AccountID          string               `json:"account_id" validate:"required"`
	PaymentMethodTypes []payment.MethodType `json:"payment_method_types" validate:"required,min=1"`
	Validate           bool                 `json:"validate"`
	BillTo             payment.BillTo       `json:"bill_to"`
}

// PayRequest charges an existing payment intent.
type PayRequest struct {
	PaymentIntentID string `json:"payment_intent_id" validate:"required"`
	PaymentMethodID string `json:"payment_method_id" validate:"required"`
	PartnerID       string `json:"partner_id" validate:"required"`
	AccountID       string `json:"account_id" validate:"required"`
}

// Upstream request shapes. The payment API receives amounts in cents and
// partner credentials as headers, never in the body.

type upstreamPaymentIntent struct {
	Currency           string               `json:"currency"`
	Amount             int64                `json:"amount"`
	Capture            bool                 `json:"capture"`
	ReferenceID        string               `json:"reference_id"`
	Description        string               `json:"description"`
	PaymentMethodTypes []payment.MethodType `json:"payment_method_types"`
}

type upstreamMethodIntent struct {
	PaymentMethodTypes []payment.MethodType `json:"payment_method_types"`
	Validate           bool                 `json:"validate"`
	BillTo             payment.BillTo       `json:"bill_to"`
}

type upstreamPayment struct {
	PaymentMethodID string `json:"payment_method_id"`
}
