package gateway

import (
	"context"
	"testing"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"

	"github.com/sumup/agentpay/x402"
)

func settledContext(st x402.SettlementStatus) context.Context {
	s := &x402.Settlement{
		PaymentID: "pay_1",
		Status:    st,
		TxHash:    "0xfeed",
		Challenge: x402.Challenge{Amount: "10000", Network: "base-sepolia"},
		Payload:   &x402.PaymentPayload{PayerAddress: "0x3333333333333333333333333333333333333333"},
	}
	httpCtx := x402.ContextWithSettlement(context.Background(), s)
	return metadata.NewIncomingContext(context.Background(), PaymentMetadata(httpCtx))
}

func TestPaymentMetadataRoundTrip(t *testing.T) {
	t.Parallel()

	payment, ok := PaymentFromGRPCContext(settledContext(x402.StatusSettled))
	if !ok {
		t.Fatalf("expected payment in metadata")
	}
	want := Payment{
		PaymentID: "pay_1",
		Status:    x402.StatusSettled,
		TxHash:    "0xfeed",
		Payer:     "0x3333333333333333333333333333333333333333",
		Amount:    "10000",
		Network:   "base-sepolia",
	}
	if *payment != want {
		t.Fatalf("expected %+v got %+v", want, *payment)
	}

	if md := PaymentMetadata(context.Background()); md.Len() != 0 {
		t.Fatalf("expected empty metadata got %v", md)
	}
	if _, ok := PaymentFromGRPCContext(context.Background()); ok {
		t.Fatalf("expected no payment without metadata")
	}
}

func TestRequireSettled(t *testing.T) {
	t.Parallel()

	interceptor := RequireSettled()
	handler := func(context.Context, any) (any, error) { return "ok", nil }
	info := &grpc.UnaryServerInfo{FullMethod: "/reports.v1.Reports/Get"}

	tests := map[string]struct {
		ctx  context.Context
		code codes.Code
	}{
		"settled":    {ctx: settledContext(x402.StatusSettled), code: codes.OK},
		"failed":     {ctx: settledContext(x402.StatusFailed), code: codes.FailedPrecondition},
		"no payment": {ctx: context.Background(), code: codes.FailedPrecondition},
	}
	for name, tt := range tests {
		t.Run(name, func(t *testing.T) {
			t.Parallel()

			resp, err := interceptor(tt.ctx, nil, info, handler)
			if got := status.Code(err); got != tt.code {
				t.Fatalf("expected %s got %s", tt.code, got)
			}
			if tt.code == codes.OK && resp != "ok" {
				t.Fatalf("expected handler response got %v", resp)
			}
		})
	}
}
