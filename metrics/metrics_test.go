package metrics

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/sumup/agentpay/reason"
	"github.com/sumup/agentpay/x402"
)

func TestRecorder(t *testing.T) {
	t.Parallel()

	r, err := NewRecorder(prometheus.NewRegistry())
	if err != nil {
		t.Fatalf("new recorder: %v", err)
	}

	r.Decision(reason.LayerTAP, reason.Accept())
	r.Decision(reason.LayerTAP, reason.Reject(reason.TAPNonceReplayed))
	r.Decision(reason.LayerTAP, reason.Reject(reason.TAPNonceReplayed))
	if got := testutil.ToFloat64(r.decisions.WithLabelValues("tap", "rejected", "tap_nonce_replayed")); got != 2 {
		t.Fatalf("expected 2 replay rejections got %v", got)
	}
	if got := testutil.ToFloat64(r.decisions.WithLabelValues("tap", "accepted", "")); got != 1 {
		t.Fatalf("expected 1 acceptance got %v", got)
	}

	created := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	r.SettlementFinalized(context.Background(), x402.Settlement{
		Status:    x402.StatusFailed,
		Error:     reason.X402SettlementFailed,
		CreatedAt: created,
		UpdatedAt: created.Add(2 * time.Second),
	})
	if got := testutil.ToFloat64(r.settlements.WithLabelValues("failed", "x402_settlement_failed")); got != 1 {
		t.Fatalf("expected 1 failed settlement got %v", got)
	}
	if got := testutil.CollectAndCount(r.settleDuration); got != 1 {
		t.Fatalf("expected one histogram got %d", got)
	}
}

func TestRecorderRejectsDuplicateRegistration(t *testing.T) {
	t.Parallel()

	reg := prometheus.NewRegistry()
	if _, err := NewRecorder(reg); err != nil {
		t.Fatalf("first recorder: %v", err)
	}
	if _, err := NewRecorder(reg); err == nil {
		t.Fatalf("expected duplicate registration error")
	}
}

func TestInstrumentHandler(t *testing.T) {
	t.Parallel()

	r, err := NewRecorder(prometheus.NewRegistry())
	if err != nil {
		t.Fatalf("new recorder: %v", err)
	}
	h := r.InstrumentHandler("pay", http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusPaymentRequired)
	}))
	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodPost, "/pay", nil))

	if got := testutil.ToFloat64(r.requests.WithLabelValues("pay", "POST", "402")); got != 1 {
		t.Fatalf("expected one 402 got %v", got)
	}
}

func TestNilRecorder(t *testing.T) {
	t.Parallel()

	var r *Recorder
	r.Decision(reason.LayerAP2, reason.Accept())
	r.SettlementFinalized(context.Background(), x402.Settlement{})
	called := false
	r.InstrumentHandler("x", http.HandlerFunc(func(http.ResponseWriter, *http.Request) { called = true })).
		ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/", nil))
	if !called {
		t.Fatalf("expected passthrough handler")
	}
}
