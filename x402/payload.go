package x402

import (
	"encoding/json"
	"fmt"

	"github.com/sumup/agentpay/signature"
)

// SigningBytes returns the canonical JSON of p without its signature field.
// Payloads that carry no transfer authorization are signed over these bytes.
func SigningBytes(p *PaymentPayload) ([]byte, error) {
	unsigned := *p
	unsigned.Signature = ""
	raw, err := json.Marshal(struct {
		PaymentID     string                `json:"payment_id"`
		PayerAddress  string                `json:"payer_address"`
		Amount        string                `json:"amount"`
		Nonce         string                `json:"nonce"`
		Authorization *ERC3009Authorization `json:"authorization,omitempty"`
	}{unsigned.PaymentID, unsigned.PayerAddress, unsigned.Amount, unsigned.Nonce, unsigned.Authorization})
	if err != nil {
		return nil, fmt.Errorf("x402: marshal payload: %w", err)
	}
	return signature.CanonicalizeJSONBody(raw)
}
