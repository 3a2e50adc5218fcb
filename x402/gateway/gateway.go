// Package gateway carries x402 settlement results across a grpc-gateway
// boundary. The HTTP side copies the settlement found in the request context
// into outgoing gRPC metadata; gRPC handlers read it back.
package gateway

import (
	"context"
	"net/http"

	"github.com/grpc-ecosystem/grpc-gateway/v2/runtime"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"

	"github.com/sumup/agentpay/x402"
)

// Metadata keys.
const (
	MetadataKeyPaymentID = "x-payment-id"
	MetadataKeyStatus    = "x-payment-status"
	MetadataKeyTxHash    = "x-payment-tx-hash"
	MetadataKeyPayer     = "x-payment-payer"
	MetadataKeyAmount    = "x-payment-amount"
	MetadataKeyNetwork   = "x-payment-network"
)

// Payment is the settlement view exposed to gRPC handlers.
type Payment struct {
	PaymentID string
	Status    x402.SettlementStatus
	TxHash    string
	Payer     string
	Amount    string
	Network   string
}

// WithPaymentMetadata returns a ServeMuxOption that propagates the
// settlement from the HTTP request context into gRPC metadata.
func WithPaymentMetadata() runtime.ServeMuxOption {
	return runtime.WithMetadata(func(ctx context.Context, _ *http.Request) metadata.MD {
		return PaymentMetadata(ctx)
	})
}

// PaymentMetadata builds the metadata for the settlement in ctx. It is empty
// when ctx carries none.
func PaymentMetadata(ctx context.Context) metadata.MD {
	md := metadata.MD{}
	s, ok := x402.SettlementFromContext(ctx)
	if !ok {
		return md
	}
	md.Set(MetadataKeyPaymentID, s.PaymentID)
	md.Set(MetadataKeyStatus, string(s.Status))
	md.Set(MetadataKeyAmount, s.Challenge.Amount)
	md.Set(MetadataKeyNetwork, s.Challenge.Network)
	if s.TxHash != "" {
		md.Set(MetadataKeyTxHash, s.TxHash)
	}
	if s.Payload != nil && s.Payload.PayerAddress != "" {
		md.Set(MetadataKeyPayer, s.Payload.PayerAddress)
	}
	return md
}

// PaymentFromGRPCContext reads the payment propagated by
// [WithPaymentMetadata].
func PaymentFromGRPCContext(ctx context.Context) (*Payment, bool) {
	md, ok := metadata.FromIncomingContext(ctx)
	if !ok {
		return nil, false
	}
	id := first(md, MetadataKeyPaymentID)
	if id == "" {
		return nil, false
	}
	return &Payment{
		PaymentID: id,
		Status:    x402.SettlementStatus(first(md, MetadataKeyStatus)),
		TxHash:    first(md, MetadataKeyTxHash),
		Payer:     first(md, MetadataKeyPayer),
		Amount:    first(md, MetadataKeyAmount),
		Network:   first(md, MetadataKeyNetwork),
	}, true
}

// RequireSettled rejects unary calls that did not arrive with a settled
// payment.
func RequireSettled() grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req any, _ *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
		payment, ok := PaymentFromGRPCContext(ctx)
		if !ok {
			return nil, status.Error(codes.FailedPrecondition, "payment required")
		}
		if payment.Status != x402.StatusSettled {
			return nil, status.Errorf(codes.FailedPrecondition, "payment %s is %s", payment.PaymentID, payment.Status)
		}
		return handler(ctx, req)
	}
}

func first(md metadata.MD, key string) string {
	if values := md.Get(key); len(values) > 0 {
		return values[0]
	}
	return ""
}
