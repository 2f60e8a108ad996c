package payment

import "regexp"

// MethodType distinguishes the two tokenizable payment instrument families.
type MethodType string

const (
	MethodCard MethodType = "card"
	MethodBank MethodType = "bank"
)

// BillTo identifies who is billed for payment method validation.
type BillTo string

const (
	BillToMerchant BillTo = "merchant"
	BillToPartner  BillTo = "partner"
)

// Card carries the displayable subset of a tokenized card.
type Card struct {
	LastFourDigits string `json:"last_four_digits"`
	Brand          string `json:"brand"`
	ExpMonth       string `json:"exp_month"`
	ExpYear        string `json:"exp_year"`
}

// Bank carries the displayable subset of a tokenized bank account.
type Bank struct {
	MaskedAccount string `json:"masked_account"`
	MaskedRouting string `json:"masked_routing"`
	Name          string `json:"name"`
	OwnerType     string `json:"owner_type"`
	AccountID     string `json:"account_id"`
	Subtype       string `json:"subtype"`
}

// MethodDetail describes a concrete payment method attached to an intent.
type MethodDetail struct {
	ID   string     `json:"id"`
	Type MethodType `json:"payment_method_type"`
	Card *Card      `json:"card,omitempty"`
	Bank *Bank      `json:"bank,omitempty"`
}

// ValidationResponse reports the outcome of a payment method validation.
type ValidationResponse struct {
	Status   string `json:"status"`
	Message  string `json:"message"`
	AuthCode string `json:"auth_code,omitempty"`
}

// PaymentIntent is a server-side resource representing a pending charge.
// Amount is in cents and immutable after creation.
type PaymentIntent struct {
	ID     string `json:"id"`
	Status string `json:"status"`
	Amount int64  `json:"amount"`
}

// PaymentMethodIntent is a server-side resource representing a pending
// "collect one payment method" operation. Its client secret is required to
// mount the tokenization widget.
type PaymentMethodIntent struct {
	ID                       string              `json:"id"`
	ClientSecret             string              `json:"client_secret"`
	Status                   string              `json:"status"`
	PaymentMethodTypes       []MethodType        `json:"payment_method_types"`
	AccountID                string              `json:"account_id"`
	CreatedAt                string              `json:"created_at"`
	Validate                 bool                `json:"validate"`
	BillTo                   BillTo              `json:"bill_to"`
	PaymentMethod            *MethodDetail       `json:"payment_method,omitempty"`
	LatestValidationResponse *ValidationResponse `json:"latest_validation_response,omitempty"`
}

// StoredPaymentMethod is the durable record a successful store flow persists
// for reuse across later checkouts.
type StoredPaymentMethod struct {
	ID                       string              `json:"id"`
	Status                   string              `json:"status"`
	AccountID                string              `json:"account_id"`
	CreatedAt                string              `json:"created_at"`
	PaymentMethod            MethodDetail        `json:"payment_method"`
	Validate                 bool                `json:"validate"`
	BillTo                   BillTo              `json:"bill_to"`
	LatestValidationResponse *ValidationResponse `json:"latest_validation_response,omitempty"`
}

// TokenizationResult is the ephemeral value a successful tokenization yields.
// It is consumed immediately and never persisted.
type TokenizationResult struct {
	Token string     `json:"token"`
	Type  MethodType `json:"type"`
}

// PaymentResult marks a completed pay-now attempt.
type PaymentResult struct {
	ID     string `json:"id"`
	Status string `json:"status"`
	Amount int64  `json:"amount"`
}

var methodIntentIDPattern = regexp.MustCompile(`pmi_[a-zA-Z0-9]+`)

// MethodIntentIDFromSecret extracts the payment-method-intent id embedded in
// a widget client secret.
func MethodIntentIDFromSecret(secret string) (string, bool) {
	id := methodIntentIDPattern.FindString(secret)
	return id, id != ""
}
