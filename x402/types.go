package x402

import (
	"time"

	"github.com/sumup/agentpay/reason"
)

// Challenge is a single-use, time-bounded payment request. It is immutable
// once issued.
type Challenge struct {
	PaymentID    string    `json:"payment_id"`
	ResourceURI  string    `json:"resource_uri"`
	Amount       string    `json:"amount"`
	Currency     string    `json:"currency"`
	PayeeAddress string    `json:"payee_address"`
	Network      string    `json:"network"`
	TokenAddress string    `json:"token_address"`
	ExpiresAt    time.Time `json:"expires_at"`
	Nonce        string    `json:"nonce"`
}

// PaymentPayload is the counterparty's signed answer to a [Challenge].
type PaymentPayload struct {
	PaymentID     string                `json:"payment_id"`
	PayerAddress  string                `json:"payer_address"`
	Amount        string                `json:"amount"`
	Nonce         string                `json:"nonce"`
	Signature     string                `json:"signature"`
	Authorization *ERC3009Authorization `json:"authorization,omitempty"`
}

// ERC3009Authorization is a transferWithAuthorization message plus its
// secp256k1 signature.
type ERC3009Authorization struct {
	From        string  `json:"from"`
	To          string  `json:"to"`
	Value       Uint256 `json:"value"`
	ValidAfter  Uint256 `json:"valid_after"`
	ValidBefore Uint256 `json:"valid_before"`
	// 0x-prefixed bytes32.
	Nonce string `json:"nonce"`
	V     uint8  `json:"v"`
	R     string `json:"r"`
	S     string `json:"s"`
}

// SettlementStatus is the settlement lifecycle state.
type SettlementStatus string

const (
	StatusVerified SettlementStatus = "verified"
	StatusSettling SettlementStatus = "settling"
	StatusSettled  SettlementStatus = "settled"
	StatusFailed   SettlementStatus = "failed"
)

// Terminal reports whether the status can no longer change.
func (s SettlementStatus) Terminal() bool {
	return s == StatusSettled || s == StatusFailed
}

// Settlement tracks a payment from verification to execution.
type Settlement struct {
	PaymentID string           `json:"payment_id"`
	Status    SettlementStatus `json:"status"`
	Challenge Challenge        `json:"challenge"`
	Payload   *PaymentPayload  `json:"payload,omitempty"`
	TxHash    string           `json:"tx_hash,omitempty"`
	SettledAt *time.Time       `json:"settled_at,omitempty"`
	Error     reason.Code      `json:"error,omitempty"`
	CreatedAt time.Time        `json:"created_at"`
	UpdatedAt time.Time        `json:"updated_at"`
}

// Summary is the transport view carried by the Payment-Response header.
func (s *Settlement) Summary() PaymentResponse {
	return PaymentResponse{PaymentID: s.PaymentID, Status: s.Status, TxHash: s.TxHash, Error: s.Error}
}

func (s *Settlement) clone() *Settlement {
	cp := *s
	if s.Payload != nil {
		p := *s.Payload
		if s.Payload.Authorization != nil {
			a := *s.Payload.Authorization
			p.Authorization = &a
		}
		cp.Payload = &p
	}
	if s.SettledAt != nil {
		t := *s.SettledAt
		cp.SettledAt = &t
	}
	return &cp
}

// PaymentResponse is the settlement summary returned to the payer.
type PaymentResponse struct {
	PaymentID string           `json:"payment_id"`
	Status    SettlementStatus `json:"status"`
	TxHash    string           `json:"tx_hash,omitempty"`
	Error     reason.Code      `json:"error,omitempty"`
}
