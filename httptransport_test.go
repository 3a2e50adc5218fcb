package agentpay

import (
	"errors"
	"io"
	"strings"
	"testing"
)

func TestDecodeJSONBodies(t *testing.T) {
	t.Parallel()

	tests := map[string]struct {
		body        string
		optional    bool
		wantErr     error
		wantAnyErr  bool
		wantPayload string
	}{
		"empty body required": {
			wantErr: errBodyRequired,
		},
		"empty body optional": {
			optional: true,
		},
		"optional body decoded": {
			body:        `{"currency":"USD"}`,
			optional:    true,
			wantPayload: "USD",
		},
		"optional body still strict": {
			body:       `{"currency":"USD","extra":1}`,
			optional:   true,
			wantAnyErr: true,
		},
		"trailing data": {
			body:       `{"currency":"USD"} {}`,
			wantAnyErr: true,
		},
		"message text is not matched": {
			body:       `"request body required"`,
			optional:   true,
			wantAnyErr: true,
		},
	}
	for name, tt := range tests {
		t.Run(name, func(t *testing.T) {
			t.Parallel()

			var v struct {
				Currency string `json:"currency"`
			}
			body := io.NopCloser(strings.NewReader(tt.body))
			var err error
			if tt.optional {
				err = decodeOptionalJSON(body, &v)
			} else {
				err = decodeJSON(body, &v)
			}
			switch {
			case tt.wantErr != nil:
				if !errors.Is(err, tt.wantErr) {
					t.Fatalf("expected %v got %v", tt.wantErr, err)
				}
			case tt.wantAnyErr:
				if err == nil {
					t.Fatalf("expected error")
				}
			case err != nil:
				t.Fatalf("unexpected error: %v", err)
			}
			if v.Currency != tt.wantPayload {
				t.Fatalf("expected currency %q got %q", tt.wantPayload, v.Currency)
			}
		})
	}
}
