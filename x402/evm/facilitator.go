package evm

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/sumup/agentpay/x402"
)

// FacilitatorSettleRequest is the body of POST /v2/x402/settle.
type FacilitatorSettleRequest struct {
	Payload      *x402.PaymentPayload `json:"payload"`
	Requirements *x402.Challenge      `json:"requirements"`
}

// FacilitatorSettleResponse is the facilitator's answer.
type FacilitatorSettleResponse struct {
	Success     bool   `json:"success"`
	ErrorReason string `json:"errorReason,omitempty"`
	Payer       string `json:"payer,omitempty"`
	Transaction string `json:"transaction,omitempty"`
	Network     string `json:"network,omitempty"`
}

// FacilitatorOption customizes a [FacilitatorExecutor].
type FacilitatorOption func(*FacilitatorExecutor)

// WithHTTPClient replaces the default client.
func WithHTTPClient(c *http.Client) FacilitatorOption {
	return func(f *FacilitatorExecutor) {
		if c != nil {
			f.httpClient = c
		}
	}
}

// FacilitatorExecutor implements [x402.ChainExecutor] by delegating
// submission to an x402 facilitator service.
type FacilitatorExecutor struct {
	baseURL    string
	httpClient *http.Client
}

// NewFacilitatorExecutor targets the facilitator at baseURL.
func NewFacilitatorExecutor(baseURL string, opts ...FacilitatorOption) *FacilitatorExecutor {
	f := &FacilitatorExecutor{
		baseURL: strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// Submit implements [x402.ChainExecutor].
func (f *FacilitatorExecutor) Submit(ctx context.Context, s *x402.Settlement) (string, error) {
	body, err := json.Marshal(FacilitatorSettleRequest{Payload: s.Payload, Requirements: &s.Challenge})
	if err != nil {
		return "", fmt.Errorf("evm: marshal settle request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, f.baseURL+"/v2/x402/settle", bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("evm: create settle request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := f.httpClient.Do(httpReq)
	if err != nil {
		return "", fmt.Errorf("evm: call facilitator settle endpoint: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		bodyBytes, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return "", fmt.Errorf("evm: facilitator settle returned status %d: %s", resp.StatusCode, string(bodyBytes))
	}

	var settleResp FacilitatorSettleResponse
	if err := json.NewDecoder(resp.Body).Decode(&settleResp); err != nil {
		return "", fmt.Errorf("evm: decode settle response: %w", err)
	}
	if !settleResp.Success {
		return "", fmt.Errorf("evm: facilitator rejected settlement: %s", settleResp.ErrorReason)
	}
	if settleResp.Transaction == "" {
		return "", errors.New("evm: facilitator returned no transaction hash")
	}
	return settleResp.Transaction, nil
}
