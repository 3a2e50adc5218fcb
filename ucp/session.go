package ucp

import (
	"encoding/json"
	"math"
	"time"

	"github.com/sumup/agentpay/reason"
)

// Status is the checkout session lifecycle state.
type Status string

const (
	StatusOpen      Status = "open"
	StatusEscalated Status = "escalated"
	StatusCompleted Status = "completed"
	StatusExpired   Status = "expired"
	StatusCancelled Status = "cancelled"
)

// Terminal reports whether no further transition is possible.
func (s Status) Terminal() bool {
	switch s {
	case StatusCompleted, StatusExpired, StatusCancelled:
		return true
	}
	return false
}

// LineItem is one merchant-priced entry.
type LineItem struct {
	ID             string `json:"id" validate:"required"`
	Name           string `json:"name,omitempty"`
	Quantity       int64  `json:"quantity" validate:"gt=0"`
	UnitPriceMinor int64  `json:"unit_price_minor" validate:"gte=0"`
}

// TotalMinor is quantity times unit price; ok is false on overflow.
func (li LineItem) TotalMinor() (total int64, ok bool) {
	if li.Quantity < 0 || li.UnitPriceMinor < 0 {
		return 0, false
	}
	if li.Quantity != 0 && li.UnitPriceMinor > math.MaxInt64/li.Quantity {
		return 0, false
	}
	return li.Quantity * li.UnitPriceMinor, true
}

// Merchant identifies the seller.
type Merchant struct {
	ID     string `json:"id" validate:"required"`
	Name   string `json:"name,omitempty"`
	Domain string `json:"domain" validate:"required,fqdn"`
}

// Session is a merchant-side checkout. Its total is always derived from the
// line items.
type Session struct {
	ID               string     `json:"id"`
	Status           Status     `json:"status"`
	Merchant         Merchant   `json:"merchant"`
	CustomerID       string     `json:"customer_id,omitempty"`
	LineItems        []LineItem `json:"line_items"`
	Currency         string     `json:"currency"`
	EscalationReason string     `json:"escalation_reason,omitempty"`
	Approved         bool       `json:"approved"`
	PaymentID        string     `json:"payment_id,omitempty"`
	CreatedAt        time.Time  `json:"created_at"`
	UpdatedAt        time.Time  `json:"updated_at"`
	ExpiresAt        time.Time  `json:"expires_at"`
}

// TotalMinor sums the line items.
func (s *Session) TotalMinor() (int64, error) {
	return sumItems(s.LineItems)
}

func sumItems(items []LineItem) (int64, error) {
	var total int64
	for _, li := range items {
		lineTotal, ok := li.TotalMinor()
		if !ok || total > math.MaxInt64-lineTotal {
			return 0, reason.NewError(reason.UCPAmountOverflow, "")
		}
		total += lineTotal
	}
	return total, nil
}

// MarshalJSON adds the derived total_minor.
func (s Session) MarshalJSON() ([]byte, error) {
	type plain Session
	total, err := s.TotalMinor()
	if err != nil {
		return nil, err
	}
	return json.Marshal(struct {
		plain
		TotalMinor int64 `json:"total_minor"`
	}{plain(s), total})
}

func (s *Session) clone() *Session {
	cp := *s
	cp.LineItems = append([]LineItem(nil), s.LineItems...)
	return &cp
}
