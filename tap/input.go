package tap

import (
	"encoding/base64"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/dunglas/httpsfv"
)

// Derived components every signature must cover.
const (
	ComponentAuthority = "@authority"
	ComponentPath      = "@path"
	ComponentMethod    = "@method"
)

// SignatureInput is the parsed Signature-Input member for one label.
type SignatureInput struct {
	Label             string    `json:"label"`
	CoveredComponents []string  `json:"covered_components"`
	Created           time.Time `json:"created"`
	Expires           time.Time `json:"expires"`
	Nonce             string    `json:"nonce"`
	KeyID             string    `json:"key_id"`
	Algorithm         string    `json:"algorithm,omitempty"`
	Tag               string    `json:"tag,omitempty"`

	params string
}

// Covers reports whether component is part of the covered set.
func (in SignatureInput) Covers(component string) bool {
	for _, c := range in.CoveredComponents {
		if strings.EqualFold(c, component) {
			return true
		}
	}
	return false
}

// Window is expires minus created.
func (in SignatureInput) Window() time.Duration {
	return in.Expires.Sub(in.Created)
}

// ParseSignatureInput parses a Signature-Input header. Only the first
// dictionary member is used.
func ParseSignatureInput(header string) (*SignatureInput, error) {
	dict, err := httpsfv.UnmarshalDictionary([]string{header})
	if err != nil {
		return nil, fmt.Errorf("tap: parse Signature-Input: %w", err)
	}
	names := dict.Names()
	if len(names) == 0 {
		return nil, errors.New("tap: empty Signature-Input")
	}
	label := names[0]
	member, _ := dict.Get(label)
	list, ok := member.(httpsfv.InnerList)
	if !ok {
		return nil, fmt.Errorf("tap: Signature-Input member %q is not an inner list", label)
	}

	in := &SignatureInput{Label: label}
	for _, item := range list.Items {
		name, ok := item.Value.(string)
		if !ok {
			return nil, fmt.Errorf("tap: covered component %v is not a string", item.Value)
		}
		in.CoveredComponents = append(in.CoveredComponents, strings.ToLower(name))
	}
	if list.Params == nil {
		return nil, errors.New("tap: Signature-Input has no parameters")
	}

	created, err := intParam(list.Params, "created")
	if err != nil {
		return nil, err
	}
	expires, err := intParam(list.Params, "expires")
	if err != nil {
		return nil, err
	}
	in.Created = time.Unix(created, 0).UTC()
	in.Expires = time.Unix(expires, 0).UTC()
	if in.Nonce, err = stringParam(list.Params, "nonce", true); err != nil {
		return nil, err
	}
	if in.KeyID, err = stringParam(list.Params, "keyid", true); err != nil {
		return nil, err
	}
	if in.Algorithm, err = stringParam(list.Params, "alg", false); err != nil {
		return nil, err
	}
	if in.Tag, err = stringParam(list.Params, "tag", false); err != nil {
		return nil, err
	}

	params, err := httpsfv.Marshal(list)
	if err != nil {
		return nil, fmt.Errorf("tap: serialize signature params: %w", err)
	}
	in.params = params
	return in, nil
}

// Params returns the serialized inner list used as the @signature-params
// line of the signature base.
func (in SignatureInput) Params() string {
	return in.params
}

func intParam(p *httpsfv.Params, name string) (int64, error) {
	v, ok := p.Get(name)
	if !ok {
		return 0, fmt.Errorf("tap: missing %q parameter", name)
	}
	n, ok := v.(int64)
	if !ok {
		return 0, fmt.Errorf("tap: %q parameter must be an integer", name)
	}
	return n, nil
}

func stringParam(p *httpsfv.Params, name string, required bool) (string, error) {
	v, ok := p.Get(name)
	if !ok {
		if required {
			return "", fmt.Errorf("tap: missing %q parameter", name)
		}
		return "", nil
	}
	switch s := v.(type) {
	case string:
		if required && s == "" {
			return "", fmt.Errorf("tap: empty %q parameter", name)
		}
		return s, nil
	case httpsfv.Token:
		return string(s), nil
	default:
		return "", fmt.Errorf("tap: %q parameter must be a string", name)
	}
}

// ParseSignature parses a Signature header into label → signature bytes.
// Byte sequences are the structured-field form; bare base64 strings are
// accepted for older clients.
func ParseSignature(header string) (map[string][]byte, error) {
	dict, err := httpsfv.UnmarshalDictionary([]string{header})
	if err != nil {
		return nil, fmt.Errorf("tap: parse Signature: %w", err)
	}
	out := make(map[string][]byte, len(dict.Names()))
	for _, label := range dict.Names() {
		member, _ := dict.Get(label)
		item, ok := member.(httpsfv.Item)
		if !ok {
			return nil, fmt.Errorf("tap: Signature member %q is not an item", label)
		}
		switch v := item.Value.(type) {
		case []byte:
			out[label] = v
		case string:
			raw, err := base64.StdEncoding.DecodeString(v)
			if err != nil {
				return nil, fmt.Errorf("tap: Signature member %q: %w", label, err)
			}
			out[label] = raw
		default:
			return nil, fmt.Errorf("tap: Signature member %q must be a byte sequence", label)
		}
	}
	if len(out) == 0 {
		return nil, errors.New("tap: empty Signature")
	}
	return out, nil
}

// FormatSignatureInput serializes in as a Signature-Input header value. The
// returned input carries the params line needed to build the signature base.
func FormatSignatureInput(in SignatureInput) (string, SignatureInput, error) {
	items := make([]httpsfv.Item, 0, len(in.CoveredComponents))
	for _, c := range in.CoveredComponents {
		items = append(items, httpsfv.NewItem(c))
	}
	params := httpsfv.NewParams()
	params.Add("created", in.Created.Unix())
	params.Add("expires", in.Expires.Unix())
	params.Add("nonce", in.Nonce)
	params.Add("keyid", in.KeyID)
	if in.Algorithm != "" {
		params.Add("alg", in.Algorithm)
	}
	if in.Tag != "" {
		params.Add("tag", in.Tag)
	}
	list := httpsfv.InnerList{Items: items, Params: params}
	serialized, err := httpsfv.Marshal(list)
	if err != nil {
		return "", in, err
	}
	in.params = serialized

	dict := httpsfv.NewDictionary()
	dict.Add(in.Label, list)
	header, err := httpsfv.Marshal(dict)
	if err != nil {
		return "", in, err
	}
	return header, in, nil
}

// FormatSignature serializes a Signature header value.
func FormatSignature(label string, sig []byte) (string, error) {
	dict := httpsfv.NewDictionary()
	dict.Add(label, httpsfv.NewItem(sig))
	return httpsfv.Marshal(dict)
}
