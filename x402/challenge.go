package x402

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"reflect"
	"regexp"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"github.com/sumup/agentpay/reason"
)

// DefaultChallengeTTL is used when ChallengeParams.TTL is zero.
const DefaultChallengeTTL = 5 * time.Minute

var decimalAmount = regexp.MustCompile(`^(0|[1-9][0-9]*)$`)

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(field reflect.StructField) string {
		name := strings.Split(field.Tag.Get("json"), ",")[0]
		if name == "" || name == "-" {
			return field.Name
		}
		return name
	})
	_ = v.RegisterValidation("minor_units", func(fl validator.FieldLevel) bool {
		return decimalAmount.MatchString(fl.Field().String())
	})
	return v
}

// ChallengeParams describes the resource being priced.
type ChallengeParams struct {
	ResourceURI  string        `json:"resource_uri" validate:"required"`
	Amount       string        `json:"amount" validate:"required,minor_units"`
	Currency     string        `json:"currency" validate:"required"`
	PayeeAddress string        `json:"payee_address" validate:"required,eth_addr"`
	Network      string        `json:"network" validate:"required"`
	TokenAddress string        `json:"token_address" validate:"required,eth_addr"`
	TTL          time.Duration `json:"-" validate:"gte=0"`
}

// ChallengeStore keeps issued challenges until they are answered.
type ChallengeStore interface {
	Save(ctx context.Context, c *Challenge) error
	Get(ctx context.Context, paymentID string) (*Challenge, error)
}

// ErrChallengeNotFound is returned by [ChallengeStore.Get] for unknown ids.
var ErrChallengeNotFound = reason.NewError(reason.X402ChallengeNotFound, "")

// IssuerOption customizes an [Issuer].
type IssuerOption func(*Issuer)

// WithIssuerClock provides deterministic time in tests.
func WithIssuerClock(fn func() time.Time) IssuerOption {
	return func(i *Issuer) {
		if fn != nil {
			i.clock = fn
		}
	}
}

// WithRandom replaces the nonce source.
func WithRandom(r io.Reader) IssuerOption {
	return func(i *Issuer) {
		if r != nil {
			i.random = r
		}
	}
}

// WithIssuerLogger sets the issuer logger.
func WithIssuerLogger(logger *slog.Logger) IssuerOption {
	return func(i *Issuer) {
		if logger != nil {
			i.logger = logger
		}
	}
}

// Issuer mints payment challenges.
type Issuer struct {
	store  ChallengeStore
	clock  func() time.Time
	random io.Reader
	logger *slog.Logger
}

// NewIssuer builds an issuer. store may be nil when the caller persists
// challenges itself.
func NewIssuer(store ChallengeStore, opts ...IssuerOption) *Issuer {
	i := &Issuer{
		store:  store,
		clock:  time.Now,
		random: rand.Reader,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(i)
	}
	return i
}

// Issue creates a challenge with a fresh payment id and a 32-byte nonce.
func (i *Issuer) Issue(ctx context.Context, p ChallengeParams) (*Challenge, error) {
	if err := validate.Struct(p); err != nil {
		return nil, reason.NewError(reason.X402PayloadMalformed, normalizeValidationError(err).Error())
	}
	ttl := p.TTL
	if ttl == 0 {
		ttl = DefaultChallengeTTL
	}
	nonce := make([]byte, 32)
	if _, err := io.ReadFull(i.random, nonce); err != nil {
		return nil, fmt.Errorf("x402: generate nonce: %w", err)
	}
	c := &Challenge{
		PaymentID:    "pay_" + uuid.NewString(),
		ResourceURI:  p.ResourceURI,
		Amount:       p.Amount,
		Currency:     p.Currency,
		PayeeAddress: p.PayeeAddress,
		Network:      p.Network,
		TokenAddress: p.TokenAddress,
		ExpiresAt:    i.clock().Add(ttl).UTC(),
		Nonce:        "0x" + hex.EncodeToString(nonce),
	}
	if i.store != nil {
		if err := i.store.Save(ctx, c); err != nil {
			return nil, fmt.Errorf("x402: save challenge: %w", err)
		}
	}
	i.logger.DebugContext(ctx, "x402 challenge issued",
		slog.String("payment_id", c.PaymentID),
		slog.String("resource_uri", c.ResourceURI),
		slog.String("amount", c.Amount),
	)
	return c, nil
}

type fieldError struct {
	path    string
	message string
}

func (e *fieldError) Error() string {
	return e.path + " " + e.message
}

func normalizeValidationError(err error) error {
	var validationErrs validator.ValidationErrors
	if !errors.As(err, &validationErrs) {
		return err
	}
	first := validationErrs[0]
	path := first.Namespace()
	if idx := strings.Index(path, "."); idx >= 0 {
		path = path[idx+1:]
	}
	return &fieldError{path: path, message: validationMessage(first)}
}

func validationMessage(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "is required"
	case "eth_addr":
		return "must be a 0x-prefixed 20-byte address"
	case "minor_units":
		return "must be a non-negative decimal integer"
	default:
		return fmt.Sprintf("failed validation: %s", fe.Tag())
	}
}
