package x402

import (
	"context"
	"errors"
	"math/big"
	"time"

	"github.com/sumup/agentpay/reason"
)

// PayloadVerifier checks the cryptographic part of a payload. Returning a
// *reason.Error selects the rejection code; any other error is reported as
// an invalid signature.
type PayloadVerifier interface {
	VerifyPayload(ctx context.Context, c *Challenge, p *PaymentPayload) error
}

// PayloadVerifierFunc lifts bare functions into [PayloadVerifier].
type PayloadVerifierFunc func(ctx context.Context, c *Challenge, p *PaymentPayload) error

// VerifyPayload delegates to the wrapped function.
func (f PayloadVerifierFunc) VerifyPayload(ctx context.Context, c *Challenge, p *PaymentPayload) error {
	return f(ctx, c, p)
}

// VerifyPaymentPayload matches p against c. An expired challenge rejects
// before any field is compared; the amount comparison is exact on the
// decimal string. verifier may be nil to skip the signature check.
func VerifyPaymentPayload(ctx context.Context, c *Challenge, p *PaymentPayload, now time.Time, verifier PayloadVerifier) reason.Decision {
	if c == nil || p == nil || p.PaymentID == "" || p.Nonce == "" || p.Amount == "" {
		return reason.Reject(reason.X402PayloadMalformed)
	}
	if now.After(c.ExpiresAt) {
		return reason.Reject(reason.X402ChallengeExpired)
	}
	if p.PaymentID != c.PaymentID {
		return reason.Reject(reason.X402PaymentIDMismatch)
	}
	if p.Nonce != c.Nonce {
		return reason.Reject(reason.X402NonceMismatch)
	}
	if p.Amount != c.Amount {
		return reason.Reject(reason.X402AmountMismatch)
	}
	if verifier != nil {
		if err := verifier.VerifyPayload(ctx, c, p); err != nil {
			if code, ok := reason.CodeOf(err); ok {
				return reason.Reject(code)
			}
			return reason.Reject(reason.X402SignatureInvalid)
		}
	}
	return reason.Accept()
}

// CheckAuthorizationTiming applies the ERC-3009 validity window to now,
// with both bounds inclusive. An empty range rejects whatever now is.
func CheckAuthorizationTiming(a *ERC3009Authorization, now time.Time) reason.Decision {
	if a == nil {
		return reason.Reject(reason.X402PayloadMalformed)
	}
	after, before := a.ValidAfter.Big(), a.ValidBefore.Big()
	if after.Cmp(before) >= 0 {
		return reason.Reject(reason.X402AuthorizationRangeInvalid)
	}
	ts := big.NewInt(now.Unix())
	if ts.Cmp(after) < 0 {
		return reason.Reject(reason.X402AuthorizationNotYetValid)
	}
	if ts.Cmp(before) > 0 {
		return reason.Reject(reason.X402AuthorizationExpired)
	}
	return reason.Accept()
}

// ErrAuthorizationMismatch is returned by payload verifiers when a transfer
// authorization does not bind to the challenge.
var ErrAuthorizationMismatch = reason.NewError(reason.X402AuthorizationMismatch, "")

// ErrSignatureInvalid is returned by payload verifiers on a bad signature.
var ErrSignatureInvalid = errors.New("x402: payment signature invalid")
