// internal/i18n/keys.go
package i18n

// Translation keys constants
const (
	// Common
	KeySuccess           = "success"
	KeyInternalError     = "error.internal"
	KeyNotFound          = "error.not_found"
	KeyValidationInvalid = "validation.invalid"

	// Authentication
	KeyAuthRequired           = "auth.required"
	KeyAuthInvalidToken       = "auth.invalid_token"
	KeyAuthTokenExpired       = "auth.token_expired"
	KeyAuthInvalidCredentials = "auth.invalid_credentials"
	KeyAuthUserExists         = "auth.user_exists"
	KeyAuthLoginSuccess       = "auth.login_success"
	KeyAuthRegisterSuccess    = "auth.register_success"
	KeyAuthRateLimited        = "auth.rate_limited"

	// Content and splits
	KeyContentCreated      = "content.created"
	KeySplitUpdated        = "split.updated"
	KeySplitLocked         = "split.locked"
	KeySplitVersionCreated = "split.version_created"
	KeySplitAccepted       = "split.accepted"

	// Links and clearance
	KeyLinkCreated        = "link.created"
	KeyClearanceRequested = "clearance.requested"
	KeyVoteRecorded       = "clearance.vote_recorded"

	// Payments and settlements
	KeyPaymentIntentCreated = "payment.intent_created"
	KeyPaymentConfirmed     = "payment.confirmed"
	KeyPaymentRailForbidden = "payment.rail_forbidden"
	KeySettlementFinalized  = "settlement.finalized"

	// Proofs
	KeyProofCreated  = "proof.created"
	KeyProofSigned   = "proof.signed"
	KeyProofVerified = "proof.verified"
)
