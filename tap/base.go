package tap

import (
	"fmt"
	"net/http"
	"strings"
)

// Request carries the transport facts a signature can cover.
type Request struct {
	SignatureInput string
	Signature      string
	Authority      string
	Path           string
	Method         string
	Header         http.Header
	// Version is the protocol version advertised by the caller. It is
	// echoed in the result and otherwise opaque to verification.
	Version string
}

// RequestFromHTTP extracts a [Request] from an inbound *http.Request.
func RequestFromHTTP(r *http.Request, version string) Request {
	return Request{
		SignatureInput: strings.TrimSpace(r.Header.Get("Signature-Input")),
		Signature:      strings.TrimSpace(r.Header.Get("Signature")),
		Authority:      r.Host,
		Path:           r.URL.EscapedPath(),
		Method:         r.Method,
		Header:         r.Header,
		Version:        version,
	}
}

// SignatureBase builds the signing string: one `"<component>": <value>` line
// per covered component followed by the @signature-params line.
func SignatureBase(in SignatureInput, req Request) ([]byte, error) {
	var b strings.Builder
	for _, component := range in.CoveredComponents {
		value, err := componentValue(component, req)
		if err != nil {
			return nil, err
		}
		fmt.Fprintf(&b, "%q: %s\n", component, value)
	}
	if in.params == "" {
		return nil, fmt.Errorf("tap: signature params not serialized")
	}
	fmt.Fprintf(&b, "%q: %s", "@signature-params", in.params)
	return []byte(b.String()), nil
}

func componentValue(component string, req Request) (string, error) {
	switch component {
	case ComponentAuthority:
		if req.Authority == "" {
			return "", fmt.Errorf("tap: request authority is empty")
		}
		return strings.ToLower(req.Authority), nil
	case ComponentPath:
		if req.Path == "" {
			return "/", nil
		}
		return req.Path, nil
	case ComponentMethod:
		return strings.ToUpper(req.Method), nil
	}
	if strings.HasPrefix(component, "@") {
		return "", fmt.Errorf("tap: unsupported derived component %q", component)
	}
	values := req.Header.Values(component)
	if len(values) == 0 {
		return "", fmt.Errorf("tap: covered header %q not present", component)
	}
	trimmed := make([]string, len(values))
	for i, v := range values {
		trimmed[i] = strings.TrimSpace(v)
	}
	return strings.Join(trimmed, ", "), nil
}
