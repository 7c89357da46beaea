// Package domain holds the core MediaGate types: the per-user entitlement
// record, access decisions, and the interfaces the services are built on.
// Domain types are pure — no infrastructure dependency.
package domain

import "time"

// PendingToken is the at-most-one outstanding verification challenge for a
// user. A token is redeemable exactly once; redemption clears it.
type PendingToken struct {
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expires_at"`
}

// Entitlement is the single persisted record per user. Every gate decision
// reads from it and every side effect writes back to it.
//
// Zero-value time fields mean "absent": a user with no VerifiedUntil has
// never verified, a user with no PremiumUntil has never been premium.
type Entitlement struct {
	UserID           string        `json:"user_id"`
	FreeAttemptsUsed int           `json:"free_attempts_used"`
	LastResetAt      time.Time     `json:"last_reset_at"`
	VerifiedUntil    time.Time     `json:"verified_until,omitzero"`
	Pending          *PendingToken `json:"pending_token,omitempty"`
	PremiumUntil     time.Time     `json:"premium_until,omitzero"`
	Points           int64         `json:"points"`
	ReferredBy       string        `json:"referred_by,omitempty"`
	ReferralCount    int           `json:"referral_count"`
	CreatedAt        time.Time     `json:"created_at"`
}

// Reason explains why an access decision came out the way it did.
type Reason string

const (
	ReasonPremium   Reason = "premium"
	ReasonVerified  Reason = "verified"
	ReasonQuota     Reason = "quota"
	ReasonExhausted Reason = "quota_exhausted"
)

// Decision is the outcome of one access attempt. Used/Limit carry the quota
// snapshot only when the quota gate was reached (premium and verified hits
// never touch the counter).
type Decision struct {
	Allowed bool   `json:"allowed"`
	Reason  Reason `json:"reason"`
	Used    int    `json:"used,omitempty"`
	Limit   int    `json:"limit,omitempty"`
}

// Challenge is an issued verification challenge. Link is the monetized
// (or, in degraded mode, unwrapped) URL shown to the user.
type Challenge struct {
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expires_at"`
	Link      string    `json:"link"`
}

// Status is the read-only view backing user-facing status displays.
type Status struct {
	UserID           string    `json:"user_id"`
	Premium          bool      `json:"premium"`
	PremiumUntil     time.Time `json:"premium_until,omitzero"`
	Verified         bool      `json:"verified"`
	VerifiedUntil    time.Time `json:"verified_until,omitzero"`
	FreeAttemptsUsed int       `json:"free_attempts_used"`
	FreeLimit        int       `json:"free_limit"`
	Points           int64     `json:"points"`
	ReferralCount    int       `json:"referral_count"`
}

// PointsEntry is one row of the points audit ledger. The balance on the
// entitlement record is authoritative; the ledger exists for operators.
type PointsEntry struct {
	TxID      string    `json:"tx_id"`
	UserID    string    `json:"user_id"`
	Delta     int64     `json:"delta"`
	Reason    string    `json:"reason"`
	Balance   int64     `json:"balance"`
	CreatedAt time.Time `json:"created_at"`
}

// Ledger entry reasons.
const (
	TxReferralReward = "referral_reward"
	TxPremiumRedeem  = "premium_redeem"
)
