package ap2

import (
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"encoding/json"
	"errors"
	"math"
	"net/http"
	"testing"
	"time"

	"github.com/sumup/agentpay/reason"
	"github.com/sumup/agentpay/replay"
	"github.com/sumup/agentpay/tap"
)

var testNow = time.Date(2025, 9, 1, 12, 0, 0, 0, time.UTC)

const (
	testAgent    = "agent-7"
	testMerchant = "shop.example.com"
	testKeyID    = "agent-7-key"
)

type fixture struct {
	priv     ed25519.PrivateKey
	signMode CanonicalizationMode
	verifier *ChainVerifier
	domains  *StaticDomainAuthorizer
	locks    *LockList
	limiter  RateLimiter
}

func newFixture(t *testing.T, limiter RateLimiter) *fixture {
	t.Helper()
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	keys := tap.NewEd25519KeyRing()
	if err := keys.Add(testKeyID, pub); err != nil {
		t.Fatalf("add key: %v", err)
	}
	if limiter == nil {
		limiter = allowAll{}
	}
	f := &fixture{
		priv:     priv,
		signMode: CanonicalizationJCS,
		domains:  NewStaticDomainAuthorizer(map[string][]string{testAgent: {testMerchant}}),
		locks:    NewLockList(),
		limiter:  limiter,
	}
	clock := func() time.Time { return testNow }
	f.verifier, err = NewChainVerifier(Config{
		Signatures: keys,
		Replay:     replay.NewMemoryStore(replay.WithClock(clock)),
		Domains:    f.domains,
		RateLimit:  f.limiter,
		Security:   f.locks,
	}, WithClock(clock))
	if err != nil {
		t.Fatalf("new verifier: %v", err)
	}
	return f
}

type allowAll struct{}

func (allowAll) Allow(context.Context, string) (bool, error) { return true, nil }

func base(kind Kind, id, issuer, nonce string) MandateBase {
	return MandateBase{
		MandateID: id,
		Type:      kind,
		Issuer:    issuer,
		Subject:   "user-42",
		ExpiresAt: testNow.Add(10 * time.Minute),
		Nonce:     nonce,
		Domain:    testMerchant,
		Purpose:   string(kind),
	}
}

// chain builds a consistent 10000-minor-unit chain, applies mutate and then
// signs every mandate.
func (f *fixture) chain(t *testing.T, mutate func(*Chain)) Chain {
	t.Helper()
	present := true
	c := Chain{
		Intent: &IntentMandate{
			MandateBase:          base(KindIntent, "intent-1", "user-42", "n-intent"),
			RequestedAmountMinor: 10000,
			Scope:                "shoes",
		},
		Cart: &CartMandate{
			MandateBase:    base(KindCart, "cart-1", "merchant-1", "n-cart"),
			LineItems:      []LineItem{{ID: "sku-1", Quantity: 1, UnitPriceMinor: 10000}},
			MerchantDomain: testMerchant,
			Currency:       "USD",
			SubtotalMinor:  10000,
			TaxesMinor:     0,
		},
		Payment: &PaymentMandate{
			MandateBase:         base(KindPayment, "payment-1", testAgent, "n-payment"),
			Chain:               "base-sepolia",
			Token:               "USDC",
			AmountMinor:         10000,
			Destination:         "0x209693Bc6afc0C5328bA36FaF03C514EF312287C",
			MerchantDomain:      testMerchant,
			AgentPresence:       &present,
			TransactionModality: HumanNotPresent,
		},
	}
	if mutate != nil {
		mutate(&c)
	}
	if c.Payment != nil && c.Payment.AuditHash == "" && c.Cart != nil && c.Intent != nil {
		c.Payment.AuditHash = AuditHash(c.Cart.MandateID, c.Intent.MandateID, c.Payment.AmountMinor)
	}
	for _, m := range []Mandate{c.Intent, c.Cart, c.Payment} {
		if err := SignEd25519(m, f.signMode, f.priv, testKeyID, testNow.Add(-time.Minute)); err != nil {
			t.Fatalf("sign %s: %v", m.Kind(), err)
		}
	}
	return c
}

func TestVerifyAcceptsConsistentChain(t *testing.T) {
	t.Parallel()

	f := newFixture(t, nil)
	c := f.chain(t, nil)

	res := f.verifier.Verify(context.Background(), c, CanonicalizationJCS)
	if !res.Accepted {
		t.Fatalf("expected acceptance got %s", res.Reason)
	}
	if res.Chain.Intent.Subject != res.Chain.Cart.Subject || res.Chain.Cart.Subject != res.Chain.Payment.Subject {
		t.Fatalf("accepted chain with differing subjects")
	}
}

func TestVerifyJSONCanonicalization(t *testing.T) {
	t.Parallel()

	f := newFixture(t, nil)
	c := f.chain(t, nil)
	for _, m := range c.Mandates() {
		if err := SignEd25519(m, CanonicalizationJSON, f.priv, testKeyID, testNow); err != nil {
			t.Fatalf("sign: %v", err)
		}
	}

	if res := f.verifier.Verify(context.Background(), c, CanonicalizationJSON); !res.Accepted {
		t.Fatalf("expected acceptance got %s", res.Reason)
	}
}

func TestVerifyRejections(t *testing.T) {
	t.Parallel()

	tests := map[string]struct {
		mutate    func(*Chain)
		afterSign func(*Chain)
		mode      CanonicalizationMode
		limiter   RateLimiter
		locked    bool
		want      reason.Code
	}{
		"unsupported canonicalization": {
			mode: "xml-c14n",
			want: reason.AP2CanonicalizationUnsupported,
		},
		"missing nonce": {
			mutate: func(c *Chain) { c.Cart.Nonce = "" },
			want:   reason.AP2SignatureMalformed,
		},
		"undecodable signature": {
			afterSign: func(c *Chain) { c.Intent.Proof.Signature = "***" },
			want:      reason.AP2SignatureMalformed,
		},
		"tampered amount": {
			afterSign: func(c *Chain) { c.Payment.AmountMinor = 1 },
			want:      reason.AP2SignatureInvalid,
		},
		"expired intent": {
			mutate: func(c *Chain) { c.Intent.ExpiresAt = testNow.Add(-time.Second) },
			want:   reason.AP2MandateExpired,
		},
		"invalid domain": {
			mutate: func(c *Chain) { c.Cart.Domain = "not a domain" },
			want:   reason.AP2DomainInvalid,
		},
		"invalid merchant domain": {
			mutate: func(c *Chain) { c.Payment.MerchantDomain = "localhost" },
			want:   reason.AP2DomainInvalid,
		},
		"purpose disagrees with kind": {
			mutate: func(c *Chain) { c.Intent.Purpose = "cart" },
			want:   reason.AP2TypePurposeMismatch,
		},
		"type disagrees with slot": {
			mutate: func(c *Chain) { c.Payment.Type = KindCart },
			want:   reason.AP2TypePurposeMismatch,
		},
		"subject mismatch": {
			mutate: func(c *Chain) { c.Payment.Subject = "user-43" },
			want:   reason.AP2SubjectMismatch,
		},
		"cart total overflows": {
			mutate: func(c *Chain) {
				c.Cart.SubtotalMinor = math.MaxInt64
				c.Cart.TaxesMinor = 1
			},
			mode: CanonicalizationJSON,
			want: reason.AP2AmountOverflow,
		},
		"negative taxes": {
			mutate: func(c *Chain) { c.Cart.TaxesMinor = -1 },
			want:   reason.AP2AmountOverflow,
		},
		"payment exceeds cart": {
			mutate: func(c *Chain) { c.Payment.AmountMinor = 999999 },
			want:   reason.AP2PaymentExceedsCart,
		},
		"payment exceeds intent": {
			mutate: func(c *Chain) { c.Intent.RequestedAmountMinor = 5000 },
			want:   reason.AP2PaymentExceedsIntent,
		},
		"audit hash mismatch": {
			mutate: func(c *Chain) { c.Payment.AuditHash = AuditHash("cart-2", "intent-1", 10000) },
			want:   reason.AP2AuditHashMismatch,
		},
		"agent presence undeclared": {
			mutate: func(c *Chain) { c.Payment.AgentPresence = nil },
			want:   reason.AP2AgentPresenceMissing,
		},
		"unknown modality": {
			mutate: func(c *Chain) { c.Payment.TransactionModality = "robot_only" },
			want:   reason.AP2ModalityInvalid,
		},
		"unknown agent": {
			mutate: func(c *Chain) { c.Payment.Issuer = "agent-unknown" },
			want:   reason.AP2IdentityNotResolved,
		},
		"merchant not granted": {
			mutate: func(c *Chain) {
				c.Payment.MerchantDomain = "other.example.com"
				c.Cart.MerchantDomain = "other.example.com"
			},
			want: reason.AP2DomainNotAuthorized,
		},
		"rate limited": {
			limiter: limiterFunc(func() (bool, error) { return false, nil }),
			want:    reason.AP2RateLimited,
		},
		"rate limiter failure fails closed": {
			limiter: limiterFunc(func() (bool, error) { return false, errors.New("redis down") }),
			want:    reason.AP2RateLimited,
		},
		"security lock": {
			locked: true,
			want:   reason.AP2SecurityLock,
		},
	}

	for name, tt := range tests {
		t.Run(name, func(t *testing.T) {
			t.Parallel()

			f := newFixture(t, tt.limiter)
			if tt.locked {
				f.locks.Lock(testAgent)
			}
			mode := tt.mode
			if mode == "" {
				mode = CanonicalizationJCS
			}
			if mode.Supported() {
				f.signMode = mode
			}
			c := f.chain(t, tt.mutate)
			if tt.afterSign != nil {
				tt.afterSign(&c)
			}

			res := f.verifier.Verify(context.Background(), c, mode)
			if res.Accepted {
				t.Fatalf("expected rejection")
			}
			if res.Reason != tt.want {
				t.Fatalf("expected %s got %s", tt.want, res.Reason)
			}
		})
	}
}

type limiterFunc func() (bool, error)

func (f limiterFunc) Allow(context.Context, string) (bool, error) { return f() }

func TestVerifyPaymentExceedsCartStatus(t *testing.T) {
	t.Parallel()

	f := newFixture(t, nil)
	c := f.chain(t, func(c *Chain) { c.Payment.AmountMinor = 999999 })

	res := f.verifier.Verify(context.Background(), c, CanonicalizationJCS)
	if res.Reason != reason.AP2PaymentExceedsCart {
		t.Fatalf("expected %s got %s", reason.AP2PaymentExceedsCart, res.Reason)
	}
	m, _ := res.Mapping()
	if m.HTTPStatus != http.StatusUnprocessableEntity {
		t.Fatalf("expected 422 got %d", m.HTTPStatus)
	}
}

func TestVerifyDetectsReplay(t *testing.T) {
	t.Parallel()

	f := newFixture(t, nil)
	c := f.chain(t, nil)

	if res := f.verifier.Verify(context.Background(), c, CanonicalizationJCS); !res.Accepted {
		t.Fatalf("first verification rejected: %s", res.Reason)
	}
	res := f.verifier.Verify(context.Background(), c, CanonicalizationJCS)
	if res.Reason != reason.AP2MandateReplayed {
		t.Fatalf("expected %s got %s", reason.AP2MandateReplayed, res.Reason)
	}
}

func TestVerifyReplayStoreFailureFailsClosed(t *testing.T) {
	t.Parallel()

	f := newFixture(t, nil)
	failing := replay.StoreFunc(func(context.Context, string, time.Duration) (bool, error) {
		return false, errors.New("timeout")
	})
	f.verifier.cfg.Replay = failing

	res := f.verifier.Verify(context.Background(), f.chain(t, nil), CanonicalizationJCS)
	if res.Reason != reason.AP2ReplayStoreUnavailable {
		t.Fatalf("expected %s got %s", reason.AP2ReplayStoreUnavailable, res.Reason)
	}
}

func TestVerifyIncompleteChain(t *testing.T) {
	t.Parallel()

	f := newFixture(t, nil)
	c := f.chain(t, nil)
	c.Cart = nil

	if res := f.verifier.Verify(context.Background(), c, ""); res.Reason != reason.AP2ChainIncomplete {
		t.Fatalf("expected %s got %s", reason.AP2ChainIncomplete, res.Reason)
	}
}

func TestVerifyRequestDecodesEnvelopes(t *testing.T) {
	t.Parallel()

	f := newFixture(t, nil)
	c := f.chain(t, nil)

	var intent, cart, payment MandateEnvelope
	if err := intent.FromIntentMandate(*c.Intent); err != nil {
		t.Fatalf("intent envelope: %v", err)
	}
	if err := cart.FromCartMandate(*c.Cart); err != nil {
		t.Fatalf("cart envelope: %v", err)
	}
	if err := payment.FromPaymentMandate(*c.Payment); err != nil {
		t.Fatalf("payment envelope: %v", err)
	}
	body, err := json.Marshal(VerifyRequest{Intent: &intent, Cart: &cart, Payment: &payment, CanonicalizationMode: CanonicalizationJCS})
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}

	var req VerifyRequest
	if err := json.Unmarshal(body, &req); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	kind, err := req.Cart.Discriminator()
	if err != nil || kind != string(KindCart) {
		t.Fatalf("expected cart discriminator got %q %v", kind, err)
	}
	if res := f.verifier.VerifyRequest(context.Background(), req); !res.Accepted {
		t.Fatalf("expected acceptance got %s", res.Reason)
	}

	req.Payment = nil
	if res := f.verifier.VerifyRequest(context.Background(), req); res.Reason != reason.AP2ChainIncomplete {
		t.Fatalf("expected %s got %s", reason.AP2ChainIncomplete, res.Reason)
	}
}

func TestNewChainVerifierRequiresCollaborators(t *testing.T) {
	t.Parallel()

	if _, err := NewChainVerifier(Config{}); err == nil {
		t.Fatalf("expected error for missing collaborators")
	}
}
