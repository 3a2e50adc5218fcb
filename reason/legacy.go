package reason

import "strings"

// Deprecated translators. Older integrations report rejections as free-form
// strings; these helpers map them onto the closed enum on a best-effort basis.
// Verification logic never consults them.

var legacyStrings = map[string]Code{
	"missing_signature":         TAPHeaderMissing,
	"missing_signature_headers": TAPHeaderMissing,
	"invalid_signature_input":   TAPHeaderMissing,
	"missing_components":        TAPRequiredComponentsMissing,
	"invalid_tag":               TAPTagInvalid,
	"label_mismatch":            TAPLabelMismatch,
	"created_in_future":         TAPCreatedNotInPast,
	"window_too_large":          TAPWindowTooLarge,
	"signature_expired":         TAPSignatureExpired,
	"unsupported_algorithm":     TAPAlgorithmUnsupported,
	"nonce_reused":              TAPNonceReplayed,
	"replay_detected":           TAPNonceReplayed,
	"invalid_signature":         TAPSignatureInvalid,
	"mandate_expired":           AP2MandateExpired,
	"mandate_replayed":          AP2MandateReplayed,
	"malformed_signature":       AP2SignatureMalformed,
	"mandate_signature_invalid": AP2SignatureInvalid,
	"invalid_domain":            AP2DomainInvalid,
	"subject_mismatch":          AP2SubjectMismatch,
	"amount_exceeds_cart":       AP2PaymentExceedsCart,
	"amount_exceeds_intent":     AP2PaymentExceedsIntent,
	"agent_presence_missing":    AP2AgentPresenceMissing,
	"invalid_modality":          AP2ModalityInvalid,
	"identity_not_resolved":     AP2IdentityNotResolved,
	"domain_not_authorized":     AP2DomainNotAuthorized,
	"rate_limited":              AP2RateLimited,
	"rate_limit_exceeded":       AP2RateLimited,
	"security_lock":             AP2SecurityLock,
	"session_not_found":         UCPSessionNotFound,
	"session_expired":           UCPSessionExpired,
	"invalid_operation":         UCPInvalidOperation,
	"empty_cart":                UCPEmptyCart,
	"payment_id_mismatch":       X402PaymentIDMismatch,
	"nonce_mismatch":            X402NonceMismatch,
	"amount_mismatch":           X402AmountMismatch,
	"challenge_expired":         X402ChallengeExpired,
	"payment_signature_invalid": X402SignatureInvalid,

	// ERC-3009 timing results.
	"authorization_not_yet_valid":             X402AuthorizationNotYetValid,
	"authorization_expired":                   X402AuthorizationExpired,
	"valid_after_must_be_before_valid_before": X402AuthorizationRangeInvalid,
}

// MapLegacyString translates an old string identifier into a Code. Current
// code strings are accepted unchanged.
//
// Deprecated: new callers should exchange [Code] values directly.
func MapLegacyString(s string) (Code, bool) {
	key := strings.ToLower(strings.TrimSpace(s))
	if key == "" {
		return "", false
	}
	if Code(key).Known() {
		return Code(key), true
	}
	code, ok := legacyStrings[key]
	return code, ok
}

// MapException classifies an unexpected failure from a lower layer by
// keyword. kind is the failure class name (for example "SignatureError") and
// message its text; both are searched case-insensitively.
//
// Deprecated: heuristics only; use typed errors carrying a [Code] instead.
func MapException(kind, message string) (Code, bool) {
	text := strings.ToLower(kind + " " + message)
	switch {
	case strings.Contains(text, "signature"):
		return AP2SignatureInvalid, true
	case strings.Contains(text, "expired"):
		return AP2MandateExpired, true
	case strings.Contains(text, "domain"):
		return AP2DomainNotAuthorized, true
	case strings.Contains(text, "rate") && strings.Contains(text, "limit"):
		return AP2RateLimited, true
	case strings.Contains(text, "identity"), strings.Contains(text, "auth"):
		return AP2IdentityNotResolved, true
	}
	return "", false
}
