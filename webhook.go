package agentpay

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/sumup/agentpay/reason"
	"github.com/sumup/agentpay/signature"
	"github.com/sumup/agentpay/x402"
)

// WebhookEventType enumerates the ledger webhook events.
type WebhookEventType string

const (
	WebhookEventTypeSettlementFinalized WebhookEventType = "settlement_finalized"
)

// SettlementEvent is the ledger view of a finalized settlement.
type SettlementEvent struct {
	PaymentID    string                `json:"payment_id"`
	Status       x402.SettlementStatus `json:"status"`
	ResourceURI  string                `json:"resource_uri"`
	Amount       string                `json:"amount"`
	Currency     string                `json:"currency"`
	Network      string                `json:"network"`
	PayerAddress string                `json:"payer_address,omitempty"`
	TxHash       string                `json:"tx_hash,omitempty"`
	ReasonCode   reason.Code           `json:"reason_code,omitempty"`
	SettledAt    *time.Time            `json:"settled_at,omitempty"`
}

func newSettlementEvent(s x402.Settlement) SettlementEvent {
	event := SettlementEvent{
		PaymentID:   s.PaymentID,
		Status:      s.Status,
		ResourceURI: s.Challenge.ResourceURI,
		Amount:      s.Challenge.Amount,
		Currency:    s.Challenge.Currency,
		Network:     s.Challenge.Network,
		TxHash:      s.TxHash,
		ReasonCode:  s.Error,
		SettledAt:   s.SettledAt,
	}
	if s.Payload != nil {
		event.PayerAddress = s.Payload.PayerAddress
	}
	return event
}

type webhookEvent struct {
	Type WebhookEventType `json:"type"`
	Data any              `json:"data"`
}

// DefaultWebhookTimeout bounds one delivery when WebhookOptions.Timeout is
// zero.
const DefaultWebhookTimeout = 5 * time.Second

// WebhookOptions configure [WebhookSink].
type WebhookOptions struct {
	// Endpoint receiving the ledger events.
	Endpoint string
	// SecretKey signs each delivery, see [signature.HMACSigner].
	SecretKey []byte
	// Client overrides the default client.
	Client *http.Client
	// Timeout bounds each delivery, independently of the caller's deadline.
	Timeout time.Duration
	Logger  *slog.Logger
}

// WebhookSink posts finalized settlements to a ledger endpoint. Deliveries
// carry the Webhook-Signature and Webhook-Timestamp headers.
type WebhookSink struct {
	endpoint string
	signer   signature.HMACSigner
	client   *http.Client
	timeout  time.Duration
	logger   *slog.Logger
	clock    func() time.Time
}

// NewWebhookSink validates opts and builds a sink.
func NewWebhookSink(opts WebhookOptions) (*WebhookSink, error) {
	var errs []error
	if strings.TrimSpace(opts.Endpoint) == "" {
		errs = append(errs, errors.New("endpoint is required"))
	}
	if len(opts.SecretKey) == 0 {
		errs = append(errs, errors.New("secret key is required"))
	}
	if opts.Timeout < 0 {
		errs = append(errs, errors.New("timeout must not be negative"))
	}
	if err := errors.Join(errs...); err != nil {
		return nil, fmt.Errorf("agentpay: invalid webhook options: %w", err)
	}
	timeout := opts.Timeout
	if timeout == 0 {
		timeout = DefaultWebhookTimeout
	}
	client := opts.Client
	if client == nil {
		client = &http.Client{Timeout: timeout}
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &WebhookSink{
		endpoint: opts.Endpoint,
		signer:   signature.HMACSigner{Key: opts.SecretKey},
		client:   client,
		timeout:  timeout,
		logger:   logger,
		clock:    time.Now,
	}, nil
}

// SettlementFinalized implements [x402.SettlementSink]. Delivery failures
// are logged; the settlement itself is already final. The delivery is not
// cut short by the settlement deadline carried in ctx, only by the sink's
// own timeout.
func (s *WebhookSink) SettlementFinalized(ctx context.Context, settlement x402.Settlement) {
	if err := s.Send(context.WithoutCancel(ctx), settlement); err != nil {
		s.logger.ErrorContext(ctx, "ledger webhook delivery failed",
			slog.String("payment_id", settlement.PaymentID),
			slog.String("status", string(settlement.Status)),
			slog.String("error", err.Error()),
		)
	}
}

// Send delivers one settlement event, giving up after the sink's timeout.
func (s *WebhookSink) Send(ctx context.Context, settlement x402.Settlement) error {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	body, err := json.Marshal(webhookEvent{
		Type: WebhookEventTypeSettlementFinalized,
		Data: newSettlementEvent(settlement),
	})
	if err != nil {
		return fmt.Errorf("agentpay: marshal webhook payload: %w", err)
	}
	ts := s.clock().UTC()
	sig, err := s.signer.Sign(ts, body)
	if err != nil {
		return fmt.Errorf("agentpay: sign webhook payload: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.endpoint, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("agentpay: build webhook request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("API-Version", APIVersion)
	req.Header.Set(signature.HeaderTimestamp, ts.Format(time.RFC3339Nano))
	req.Header.Set(signature.HeaderSignature, sig)

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("agentpay: send webhook: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return fmt.Errorf("agentpay: webhook endpoint %s returned %s: %s", s.endpoint, resp.Status, strings.TrimSpace(string(snippet)))
	}
	return nil
}
