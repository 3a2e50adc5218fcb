package agentpay

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/sumup/agentpay/reason"
	"github.com/sumup/agentpay/signature"
	"github.com/sumup/agentpay/x402"
)

func settledRecord() x402.Settlement {
	settledAt := testNow
	return x402.Settlement{
		PaymentID: "pay_123",
		Status:    x402.StatusSettled,
		Challenge: x402.Challenge{
			PaymentID:   "pay_123",
			ResourceURI: "/checkout_sessions/cs_1/pay",
			Amount:      "10000",
			Currency:    "USD",
			Network:     "base-sepolia",
		},
		Payload:   &x402.PaymentPayload{PaymentID: "pay_123", PayerAddress: testPayer},
		TxHash:    testTxHash,
		SettledAt: &settledAt,
	}
}

func TestWebhookSinkSignsDeliveries(t *testing.T) {
	t.Parallel()

	secret := []byte("ledger-secret")
	var (
		verifyErr error
		body      []byte
		header    http.Header
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		verifyErr = signature.VerifyRequest(r, signature.HMACVerifier{Key: secret}, testNow, time.Minute)
		body, _ = io.ReadAll(r.Body)
		header = r.Header.Clone()
		w.WriteHeader(http.StatusAccepted)
	}))
	t.Cleanup(srv.Close)

	sink, err := NewWebhookSink(WebhookOptions{Endpoint: srv.URL, SecretKey: secret, Client: srv.Client()})
	if err != nil {
		t.Fatalf("new sink: %v", err)
	}
	sink.clock = func() time.Time { return testNow }

	if err := sink.Send(context.Background(), settledRecord()); err != nil {
		t.Fatalf("Send() error = %v", err)
	}
	if verifyErr != nil {
		t.Fatalf("delivery signature did not verify: %v", verifyErr)
	}
	if got := header.Get("API-Version"); got != APIVersion {
		t.Fatalf("missing API-Version header, got %q", got)
	}

	var decoded struct {
		Type WebhookEventType `json:"type"`
		Data SettlementEvent  `json:"data"`
	}
	if err := json.Unmarshal(body, &decoded); err != nil {
		t.Fatalf("unmarshal payload: %v", err)
	}
	if decoded.Type != WebhookEventTypeSettlementFinalized {
		t.Fatalf("unexpected webhook type %s", decoded.Type)
	}
	if decoded.Data.PaymentID != "pay_123" || decoded.Data.Amount != "10000" || decoded.Data.PayerAddress != testPayer {
		t.Fatalf("unexpected event %+v", decoded.Data)
	}
}

func TestWebhookSinkReportsEndpointErrors(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "ledger down", http.StatusBadGateway)
	}))
	t.Cleanup(srv.Close)

	sink, err := NewWebhookSink(WebhookOptions{Endpoint: srv.URL, SecretKey: []byte("k"), Client: srv.Client()})
	if err != nil {
		t.Fatalf("new sink: %v", err)
	}
	record := settledRecord()
	record.Status = x402.StatusFailed
	record.Error = reason.X402SettlementFailed

	err = sink.Send(context.Background(), record)
	if err == nil || !strings.Contains(err.Error(), "ledger down") {
		t.Fatalf("expected endpoint error got %v", err)
	}
	// SettlementFinalized only logs.
	sink.SettlementFinalized(context.Background(), record)
}

func TestWebhookSinkTimesOut(t *testing.T) {
	t.Parallel()

	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	t.Cleanup(func() {
		close(release)
		srv.Close()
	})

	sink, err := NewWebhookSink(WebhookOptions{
		Endpoint:  srv.URL,
		SecretKey: []byte("k"),
		Client:    srv.Client(),
		Timeout:   50 * time.Millisecond,
	})
	if err != nil {
		t.Fatalf("new sink: %v", err)
	}

	start := time.Now()
	err = sink.Send(context.Background(), settledRecord())
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline exceeded got %v", err)
	}
	if elapsed := time.Since(start); elapsed > 5*time.Second {
		t.Fatalf("delivery was not bounded, took %s", elapsed)
	}
}

func TestWebhookSinkOutlivesSettlementDeadline(t *testing.T) {
	t.Parallel()

	delivered := make(chan struct{}, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		delivered <- struct{}{}
		w.WriteHeader(http.StatusNoContent)
	}))
	t.Cleanup(srv.Close)

	sink, err := NewWebhookSink(WebhookOptions{Endpoint: srv.URL, SecretKey: []byte("k"), Client: srv.Client()})
	if err != nil {
		t.Fatalf("new sink: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	sink.SettlementFinalized(ctx, settledRecord())
	select {
	case <-delivered:
	default:
		t.Fatalf("expected delivery despite the cancelled settlement context")
	}
}

func TestNewWebhookSinkValidates(t *testing.T) {
	t.Parallel()

	_, err := NewWebhookSink(WebhookOptions{Timeout: -time.Second})
	if err == nil || !strings.Contains(err.Error(), "endpoint is required") || !strings.Contains(err.Error(), "secret key is required") || !strings.Contains(err.Error(), "timeout must not be negative") {
		t.Fatalf("expected validation errors got %v", err)
	}
}
