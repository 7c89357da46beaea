package domain

import "errors"

// ─── Sentinel Errors ────────────────────────────────────────────────────────
// Store faults fail closed: callers deny access, they never grant by default.
// Business-rule failures (TokenInvalid, InsufficientPoints) are expected
// user-facing outcomes, not bugs to be logged as errors.

var (
	// Store errors
	ErrStoreUnavailable = errors.New("entitlement store unavailable")
	ErrUserNotFound     = errors.New("user record not found")

	// Verification errors
	ErrTokenInvalid = errors.New("verification token invalid or expired")

	// Referral errors
	ErrInsufficientPoints = errors.New("not enough points to redeem premium")
	ErrInvalidAttribution = errors.New("self-referral or repeated attribution")

	// Outbound redirect errors — recovered locally by falling back to the
	// unwrapped link, never surfaced as a hard failure to the end user.
	ErrRedirectService = errors.New("redirect-link service failed or timed out")
)
