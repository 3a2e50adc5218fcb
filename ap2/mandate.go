package ap2

import (
	"encoding/json"
	"time"

	"github.com/oapi-codegen/runtime"
)

// Kind discriminates the mandate variants.
type Kind string

const (
	KindIntent  Kind = "intent"
	KindCart    Kind = "cart"
	KindPayment Kind = "payment"
)

// TransactionModality records whether the principal was present.
type TransactionModality string

const (
	HumanPresent    TransactionModality = "human_present"
	HumanNotPresent TransactionModality = "human_not_present"
)

// Valid reports whether m is one of the declared modalities.
func (m TransactionModality) Valid() bool {
	return m == HumanPresent || m == HumanNotPresent
}

// Proof is the detached signature over a mandate's canonical form.
type Proof struct {
	// Base64 signature bytes.
	Signature string `json:"signature" validate:"required"`
	// Reference to the verification key in the issuer's key directory.
	KeyID string `json:"key_id" validate:"required"`
	// Time formatted as an RFC 3339 string.
	Created time.Time `json:"created" validate:"required"`
	// Signature algorithm, for example "ed25519".
	Algorithm string `json:"algorithm,omitempty"`
}

// MandateBase holds the fields every mandate variant shares.
type MandateBase struct {
	MandateID string    `json:"mandate_id" validate:"required"`
	Type      Kind      `json:"type"`
	Issuer    string    `json:"issuer" validate:"required"`
	Subject   string    `json:"subject" validate:"required"`
	ExpiresAt time.Time `json:"expires_at" validate:"required"`
	Nonce     string    `json:"nonce" validate:"required"`
	Proof     Proof     `json:"proof"`
	Domain    string    `json:"domain"`
	// Purpose restates the mandate kind; it must agree with Type and with the
	// chain position.
	Purpose string `json:"purpose"`
}

// Mandate is implemented by *IntentMandate, *CartMandate and *PaymentMandate
// only.
type Mandate interface {
	Kind() Kind
	Base() *MandateBase
	sealed()
}

// IntentMandate is the principal's budget for a purchase.
type IntentMandate struct {
	MandateBase
	RequestedAmountMinor int64  `json:"requested_amount_minor"`
	Scope                string `json:"scope,omitempty"`
}

// LineItem is one priced cart entry.
type LineItem struct {
	ID             string `json:"id"`
	Name           string `json:"name,omitempty"`
	Quantity       int64  `json:"quantity"`
	UnitPriceMinor int64  `json:"unit_price_minor"`
}

// CartMandate is the merchant's priced order.
type CartMandate struct {
	MandateBase
	LineItems      []LineItem `json:"line_items"`
	MerchantDomain string     `json:"merchant_domain"`
	Currency       string     `json:"currency"`
	SubtotalMinor  int64      `json:"subtotal_minor"`
	TaxesMinor     int64      `json:"taxes_minor"`
}

// PaymentMandate is the execution instruction signed by the agent.
type PaymentMandate struct {
	MandateBase
	Chain          string `json:"chain"`
	Token          string `json:"token"`
	AmountMinor    int64  `json:"amount_minor"`
	Destination    string `json:"destination"`
	AuditHash      string `json:"audit_hash"`
	MerchantDomain string `json:"merchant_domain"`
	// AgentPresence is nil when the agent did not declare it.
	AgentPresence       *bool               `json:"agent_presence,omitempty"`
	TransactionModality TransactionModality `json:"transaction_modality"`
}

func (m *IntentMandate) Kind() Kind         { return KindIntent }
func (m *IntentMandate) Base() *MandateBase { return &m.MandateBase }
func (*IntentMandate) sealed()              {}

func (m *CartMandate) Kind() Kind         { return KindCart }
func (m *CartMandate) Base() *MandateBase { return &m.MandateBase }
func (*CartMandate) sealed()              {}

func (m *PaymentMandate) Kind() Kind         { return KindPayment }
func (m *PaymentMandate) Base() *MandateBase { return &m.MandateBase }
func (*PaymentMandate) sealed()              {}

// Chain is the Intent → Cart → Payment triple.
type Chain struct {
	Intent  *IntentMandate  `json:"intent"`
	Cart    *CartMandate    `json:"cart"`
	Payment *PaymentMandate `json:"payment"`
}

// Complete reports whether all three mandates are present.
func (c Chain) Complete() bool {
	return c.Intent != nil && c.Cart != nil && c.Payment != nil
}

// Mandates returns the chain in verification order.
func (c Chain) Mandates() []Mandate {
	return []Mandate{c.Intent, c.Cart, c.Payment}
}

// MandateEnvelope carries any mandate variant as raw JSON discriminated by
// its "type" field.
type MandateEnvelope struct {
	union json.RawMessage
}

// Discriminator returns the "type" field of the wrapped mandate.
func (t MandateEnvelope) Discriminator() (string, error) {
	var discriminator struct {
		Discriminator string `json:"type"`
	}
	err := json.Unmarshal(t.union, &discriminator)
	return discriminator.Discriminator, err
}

// AsIntentMandate returns the union data inside the MandateEnvelope as an IntentMandate
func (t MandateEnvelope) AsIntentMandate() (IntentMandate, error) {
	var body IntentMandate
	err := json.Unmarshal(t.union, &body)
	return body, err
}

// FromIntentMandate overwrites any union data inside the MandateEnvelope as the provided IntentMandate
func (t *MandateEnvelope) FromIntentMandate(v IntentMandate) error {
	v.Type = KindIntent
	b, err := json.Marshal(v)
	t.union = b
	return err
}

// MergeIntentMandate performs a merge with any union data inside the MandateEnvelope, using the provided IntentMandate
func (t *MandateEnvelope) MergeIntentMandate(v IntentMandate) error {
	v.Type = KindIntent
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}

	merged, err := runtime.JSONMerge(t.union, b)
	t.union = merged
	return err
}

// AsCartMandate returns the union data inside the MandateEnvelope as a CartMandate
func (t MandateEnvelope) AsCartMandate() (CartMandate, error) {
	var body CartMandate
	err := json.Unmarshal(t.union, &body)
	return body, err
}

// FromCartMandate overwrites any union data inside the MandateEnvelope as the provided CartMandate
func (t *MandateEnvelope) FromCartMandate(v CartMandate) error {
	v.Type = KindCart
	b, err := json.Marshal(v)
	t.union = b
	return err
}

// MergeCartMandate performs a merge with any union data inside the MandateEnvelope, using the provided CartMandate
func (t *MandateEnvelope) MergeCartMandate(v CartMandate) error {
	v.Type = KindCart
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}

	merged, err := runtime.JSONMerge(t.union, b)
	t.union = merged
	return err
}

// AsPaymentMandate returns the union data inside the MandateEnvelope as a PaymentMandate
func (t MandateEnvelope) AsPaymentMandate() (PaymentMandate, error) {
	var body PaymentMandate
	err := json.Unmarshal(t.union, &body)
	return body, err
}

// FromPaymentMandate overwrites any union data inside the MandateEnvelope as the provided PaymentMandate
func (t *MandateEnvelope) FromPaymentMandate(v PaymentMandate) error {
	v.Type = KindPayment
	b, err := json.Marshal(v)
	t.union = b
	return err
}

// MergePaymentMandate performs a merge with any union data inside the MandateEnvelope, using the provided PaymentMandate
func (t *MandateEnvelope) MergePaymentMandate(v PaymentMandate) error {
	v.Type = KindPayment
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}

	merged, err := runtime.JSONMerge(t.union, b)
	t.union = merged
	return err
}

// ValueByDiscriminator decodes the envelope into the variant named by its
// "type" field.
func (t MandateEnvelope) ValueByDiscriminator() (Mandate, error) {
	discriminator, err := t.Discriminator()
	if err != nil {
		return nil, err
	}
	switch Kind(discriminator) {
	case KindIntent:
		v, err := t.AsIntentMandate()
		return &v, err
	case KindCart:
		v, err := t.AsCartMandate()
		return &v, err
	case KindPayment:
		v, err := t.AsPaymentMandate()
		return &v, err
	default:
		return nil, &UnknownKindError{Kind: discriminator}
	}
}

// MarshalJSON serializes the underlying union for MandateEnvelope.
func (t MandateEnvelope) MarshalJSON() ([]byte, error) {
	b, err := t.union.MarshalJSON()
	return b, err
}

// UnmarshalJSON loads union data for MandateEnvelope.
func (t *MandateEnvelope) UnmarshalJSON(b []byte) error {
	err := t.union.UnmarshalJSON(b)
	return err
}

// UnknownKindError reports an envelope whose "type" names no variant.
type UnknownKindError struct {
	Kind string
}

func (e *UnknownKindError) Error() string {
	return "ap2: unknown mandate type " + `"` + e.Kind + `"`
}
