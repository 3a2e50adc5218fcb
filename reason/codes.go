// Package reason holds the closed table of rejection codes shared by every
// layer of the payment stack. Each [Code] maps to exactly one HTTP status,
// message and specification reference; the table is the single source of
// truth for how a rejection is reported.
package reason

import "strings"

// Code is a stable, machine-readable rejection identifier.
type Code string

// TAP identity-signature layer.
const (
	TAPHeaderMissing             Code = "tap_header_missing"
	TAPRequiredComponentsMissing Code = "tap_required_components_missing"
	TAPTagInvalid                Code = "tap_tag_invalid"
	TAPLabelMismatch             Code = "tap_label_mismatch"
	TAPCreatedNotInPast          Code = "tap_created_not_in_past"
	TAPWindowTooLarge            Code = "tap_window_too_large"
	TAPSignatureExpired          Code = "tap_signature_expired"
	TAPAlgorithmUnsupported      Code = "tap_algorithm_unsupported"
	TAPNonceReplayed             Code = "tap_nonce_replayed"
	TAPSignatureInvalid          Code = "tap_signature_invalid"
	TAPReplayStoreUnavailable    Code = "tap_replay_store_unavailable"
)

// AP2 mandate-chain layer.
const (
	AP2ChainIncomplete             Code = "ap2_chain_incomplete"
	AP2CanonicalizationUnsupported Code = "ap2_canonicalization_unsupported"
	AP2SignatureMalformed          Code = "ap2_signature_malformed"
	AP2SignatureInvalid            Code = "ap2_signature_invalid"
	AP2MandateExpired              Code = "ap2_mandate_expired"
	AP2DomainInvalid               Code = "ap2_domain_invalid"
	AP2MandateReplayed             Code = "ap2_mandate_replayed"
	AP2ReplayStoreUnavailable      Code = "ap2_replay_store_unavailable"
	AP2TypePurposeMismatch         Code = "ap2_type_purpose_mismatch"
	AP2SubjectMismatch             Code = "ap2_subject_mismatch"
	AP2AmountOverflow              Code = "ap2_amount_overflow"
	AP2PaymentExceedsCart          Code = "ap2_payment_exceeds_cart"
	AP2PaymentExceedsIntent        Code = "ap2_payment_exceeds_intent"
	AP2AuditHashMismatch           Code = "ap2_audit_hash_mismatch"
	AP2AgentPresenceMissing        Code = "ap2_agent_presence_missing"
	AP2ModalityInvalid             Code = "ap2_modality_invalid"
	AP2IdentityNotResolved         Code = "ap2_identity_not_resolved"
	AP2DomainNotAuthorized         Code = "ap2_domain_not_authorized"
	AP2RateLimited                 Code = "ap2_rate_limited"
	AP2SecurityLock                Code = "ap2_security_lock"
)

// UCP checkout session layer.
const (
	UCPSessionNotFound  Code = "ucp_session_not_found"
	UCPSessionExpired   Code = "ucp_session_expired"
	UCPInvalidOperation Code = "ucp_invalid_operation"
	UCPEmptyCart        Code = "ucp_empty_cart"
	UCPRequestInvalid   Code = "ucp_request_invalid"
	UCPLineItemInvalid  Code = "ucp_line_item_invalid"
	UCPAmountOverflow   Code = "ucp_amount_overflow"
)

// x402 challenge-response settlement layer.
const (
	X402PayloadMalformed          Code = "x402_payload_malformed"
	X402ChallengeNotFound         Code = "x402_challenge_not_found"
	X402ChallengeAlreadyUsed      Code = "x402_challenge_already_used"
	X402PaymentIDMismatch         Code = "x402_payment_id_mismatch"
	X402NonceMismatch             Code = "x402_nonce_mismatch"
	X402AmountMismatch            Code = "x402_amount_mismatch"
	X402ChallengeExpired          Code = "x402_challenge_expired"
	X402SignatureInvalid          Code = "x402_signature_invalid"
	X402AuthorizationMismatch     Code = "x402_authorization_mismatch"
	X402AuthorizationNotYetValid  Code = "x402_authorization_not_yet_valid"
	X402AuthorizationExpired      Code = "x402_authorization_expired"
	X402AuthorizationRangeInvalid Code = "x402_authorization_range_invalid"
	X402SettlementFailed          Code = "x402_settlement_failed"
	X402SettlementNotFound        Code = "x402_settlement_not_found"
)

// codes enumerates every declared Code in declaration order.
var codes = []Code{
	TAPHeaderMissing,
	TAPRequiredComponentsMissing,
	TAPTagInvalid,
	TAPLabelMismatch,
	TAPCreatedNotInPast,
	TAPWindowTooLarge,
	TAPSignatureExpired,
	TAPAlgorithmUnsupported,
	TAPNonceReplayed,
	TAPSignatureInvalid,
	TAPReplayStoreUnavailable,
	AP2ChainIncomplete,
	AP2CanonicalizationUnsupported,
	AP2SignatureMalformed,
	AP2SignatureInvalid,
	AP2MandateExpired,
	AP2DomainInvalid,
	AP2MandateReplayed,
	AP2ReplayStoreUnavailable,
	AP2TypePurposeMismatch,
	AP2SubjectMismatch,
	AP2AmountOverflow,
	AP2PaymentExceedsCart,
	AP2PaymentExceedsIntent,
	AP2AuditHashMismatch,
	AP2AgentPresenceMissing,
	AP2ModalityInvalid,
	AP2IdentityNotResolved,
	AP2DomainNotAuthorized,
	AP2RateLimited,
	AP2SecurityLock,
	UCPSessionNotFound,
	UCPSessionExpired,
	UCPInvalidOperation,
	UCPEmptyCart,
	UCPRequestInvalid,
	UCPLineItemInvalid,
	UCPAmountOverflow,
	X402PayloadMalformed,
	X402ChallengeNotFound,
	X402ChallengeAlreadyUsed,
	X402PaymentIDMismatch,
	X402NonceMismatch,
	X402AmountMismatch,
	X402ChallengeExpired,
	X402SignatureInvalid,
	X402AuthorizationMismatch,
	X402AuthorizationNotYetValid,
	X402AuthorizationExpired,
	X402AuthorizationRangeInvalid,
	X402SettlementFailed,
	X402SettlementNotFound,
}

// Codes returns every declared code.
func Codes() []Code {
	out := make([]Code, len(codes))
	copy(out, codes)
	return out
}

// Layer names the protocol family a code belongs to.
type Layer string

const (
	LayerTAP  Layer = "tap"
	LayerAP2  Layer = "ap2"
	LayerUCP  Layer = "ucp"
	LayerX402 Layer = "x402"
)

// Layer derives the family from the code prefix.
func (c Code) Layer() Layer {
	prefix, _, _ := strings.Cut(string(c), "_")
	return Layer(prefix)
}

// Known reports whether c has a registry row.
func (c Code) Known() bool {
	_, ok := table[c]
	return ok
}

func (c Code) String() string { return string(c) }
