package agentpay

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/sumup/agentpay/metrics"
)

// DefaultSettleTimeout bounds the chain executor call made while serving a
// payment.
const DefaultSettleTimeout = 30 * time.Second

type config struct {
	authenticator Authenticator
	middleware    []Middleware
	metrics       *metrics.Recorder
	settleTimeout time.Duration
	logger        *slog.Logger
}

type Middleware func(http.HandlerFunc) http.HandlerFunc

func applyMiddleware(h http.HandlerFunc, middleware ...Middleware) http.HandlerFunc {
	for _, m := range middleware {
		h = m(h)
	}
	return h
}

// Option customizes the handler behavior.
type Option func(*config)

// WithAuthenticator enables Authorization header API key validation on
// merchant routes.
func WithAuthenticator(auth Authenticator) Option {
	return func(cfg *config) {
		cfg.authenticator = auth
	}
}

// WithMiddleware appends custom middleware in the order provided.
func WithMiddleware(mw ...Middleware) Option {
	return func(cfg *config) {
		for _, m := range mw {
			if m == nil {
				continue
			}
			cfg.middleware = append(cfg.middleware, m)
		}
	}
}

// WithMetrics records decisions and request metrics.
func WithMetrics(r *metrics.Recorder) Option {
	return func(cfg *config) {
		cfg.metrics = r
	}
}

// WithSettleTimeout overrides [DefaultSettleTimeout].
func WithSettleTimeout(d time.Duration) Option {
	if d <= 0 {
		panic("agentpay: settle timeout must be positive")
	}
	return func(cfg *config) {
		cfg.settleTimeout = d
	}
}

// WithLogger sets the handler logger.
func WithLogger(logger *slog.Logger) Option {
	return func(cfg *config) {
		if logger != nil {
			cfg.logger = logger
		}
	}
}
