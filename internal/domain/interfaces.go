package domain

import (
	"context"
	"time"
)

// Clock supplies current time in the configured zone. All expiry math and
// daily-reset boundaries go through it so tests can pin the clock.
type Clock interface {
	// Now returns the current time in the configured zone.
	Now() time.Time
	// DayStart returns midnight of t's calendar day in the configured zone.
	DayStart(t time.Time) time.Time
}

// EntitlementStore persists one Entitlement per user with atomic conditional
// updates. Each method is a single atomic operation scoped to one user's
// record — the race windows of read-then-write live inside the store, not in
// the services. No cross-user locking exists because every invariant is
// per-user (attribution touches two records inside one transaction).
//
// Implementations return ErrStoreUnavailable (wrapped) when the backing
// store cannot be reached.
type EntitlementStore interface {
	// Ensure creates the record on first contact (all counters zero, all
	// optional fields absent) and returns the current state.
	Ensure(ctx context.Context, userID string, now time.Time) (*Entitlement, error)

	// Get returns the record, or ErrUserNotFound.
	Get(ctx context.Context, userID string) (*Entitlement, error)

	// ResetQuotaIfStale zeroes free_attempts_used and stamps last_reset_at,
	// but only if the stored last_reset_at is before dayStart. At most one
	// reset per calendar day regardless of concurrent callers.
	ResetQuotaIfStale(ctx context.Context, userID string, dayStart time.Time) error

	// ConsumeAttempt increments free_attempts_used iff it is below limit.
	// Returns the post-operation count and whether the increment happened.
	ConsumeAttempt(ctx context.Context, userID string, limit int) (used int, allowed bool, err error)

	// SetPendingToken overwrites any prior pending token for the user.
	SetPendingToken(ctx context.Context, userID, token string, expiresAt time.Time) error

	// RedeemToken atomically clears the pending token and sets
	// verified_until, returning the owning user id. Exactly one of N
	// concurrent calls for the same token succeeds; the rest get
	// ErrTokenInvalid, as does any call after expiresAt.
	RedeemToken(ctx context.Context, token string, now, verifiedUntil time.Time) (userID string, err error)

	// ClearVerifiedIfExpired drops verified_until iff it is at or before
	// now. Lazy cleanup — never touches the quota counter.
	ClearVerifiedIfExpired(ctx context.Context, userID string, now time.Time) error

	// ExtendPremium sets premium_until = max(premium_until, now) + d, so
	// consecutive grants stack onto remaining time. Returns the new expiry.
	ExtendPremium(ctx context.Context, userID string, d time.Duration, now time.Time) (time.Time, error)

	// ClearPremium drops premium_until (administrative revoke).
	ClearPremium(ctx context.Context, userID string) error

	// Attribute sets newUser.referred_by = referrer iff unset, and in the
	// same transaction increments the referrer's referral_count and points
	// and appends the ledger entry. Returns false without mutation when
	// referred_by was already set.
	Attribute(ctx context.Context, newUser, referrer string, reward int64, txID string, now time.Time) (bool, error)

	// RedeemPointsForPremium debits threshold points and extends premium by
	// d as one operation, appending the ledger entry. Returns
	// ErrInsufficientPoints (points unchanged) when the balance is short.
	RedeemPointsForPremium(ctx context.Context, userID string, threshold int64, d time.Duration, txID string, now time.Time) (time.Time, error)

	// ResetUser clears verification state, any pending token, and the quota
	// counter (administrative reset). Premium is untouched; use ClearPremium.
	ResetUser(ctx context.Context, userID string, now time.Time) error

	// PointsHistory returns recent ledger entries for a user, newest first.
	PointsHistory(ctx context.Context, userID string, limit int) ([]PointsEntry, error)
}

// LinkWrapper turns an internal deep link into a monetized redirect URL.
// Idempotent and side-effect-free on engine state. Implementations must
// degrade to returning the original URL on failure rather than blocking
// challenge issuance.
type LinkWrapper interface {
	Wrap(ctx context.Context, rawURL string) (string, error)
}
