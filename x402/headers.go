package x402

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/sumup/agentpay/reason"
)

// Header names. Values are base64-encoded JSON.
const (
	HeaderPaymentRequired  = "Payment-Required"
	HeaderPaymentSignature = "Payment-Signature"
	HeaderPaymentResponse  = "Payment-Response"
)

// EncodeChallenge renders c for the Payment-Required header.
func EncodeChallenge(c *Challenge) (string, error) {
	return encodeHeader(c)
}

// DecodeChallenge parses a Payment-Required header value.
func DecodeChallenge(value string) (*Challenge, error) {
	var c Challenge
	if err := decodeHeader(value, &c); err != nil {
		return nil, err
	}
	return &c, nil
}

// EncodePayload renders p for the Payment-Signature header.
func EncodePayload(p *PaymentPayload) (string, error) {
	return encodeHeader(p)
}

// DecodePayload parses a Payment-Signature header value. Any decoding
// failure is reported as x402_payload_malformed.
func DecodePayload(value string) (*PaymentPayload, error) {
	var p PaymentPayload
	if err := decodeHeader(value, &p); err != nil {
		return nil, reason.NewError(reason.X402PayloadMalformed, err.Error())
	}
	return &p, nil
}

// EncodeResponse renders r for the Payment-Response header.
func EncodeResponse(r PaymentResponse) (string, error) {
	return encodeHeader(r)
}

// DecodeResponse parses a Payment-Response header value.
func DecodeResponse(value string) (*PaymentResponse, error) {
	var r PaymentResponse
	if err := decodeHeader(value, &r); err != nil {
		return nil, err
	}
	return &r, nil
}

func encodeHeader(v any) (string, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return "", fmt.Errorf("x402: encode header: %w", err)
	}
	return base64.StdEncoding.EncodeToString(data), nil
}

func decodeHeader(value string, v any) error {
	value = strings.TrimSpace(value)
	if value == "" {
		return fmt.Errorf("x402: empty header")
	}
	data, err := base64.StdEncoding.DecodeString(value)
	if err != nil {
		return fmt.Errorf("x402: decode header: %w", err)
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("x402: unmarshal header: %w", err)
	}
	return nil
}
