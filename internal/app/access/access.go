// Package access is the decision façade over the entitlement services.
// Evaluation order is strict: Premium → Verified → Quota. The first two are
// read-only, so an already-entitled user costs no write; only the quota gate
// mutates state. Side effects are applied here, never by the caller, so a
// decision and its consequence come from one consistent snapshot.
package access

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/mediagate-bot/mediagate/internal/app/premium"
	"github.com/mediagate-bot/mediagate/internal/app/quota"
	"github.com/mediagate-bot/mediagate/internal/app/referral"
	"github.com/mediagate-bot/mediagate/internal/app/verify"
	"github.com/mediagate-bot/mediagate/internal/domain"
	"github.com/mediagate-bot/mediagate/internal/infra/metrics"
)

// Engine evaluates access attempts and exposes every inbound operation the
// surrounding bot logic needs.
type Engine struct {
	store    domain.EntitlementStore
	clock    domain.Clock
	quota    *quota.Counter
	verify   *verify.Service
	premium  *premium.Service
	referral *referral.Service
}

// NewEngine wires the façade over the component services.
func NewEngine(store domain.EntitlementStore, clock domain.Clock,
	q *quota.Counter, v *verify.Service, p *premium.Service, r *referral.Service) *Engine {
	return &Engine{store: store, clock: clock, quota: q, verify: v, premium: p, referral: r}
}

// Evaluate decides one access attempt. On a store fault the attempt is
// denied — never allowed by default — and the error is surfaced so the
// caller can message the user generically.
func (e *Engine) Evaluate(ctx context.Context, userID string) (domain.Decision, error) {
	active, err := e.premium.IsActive(ctx, userID)
	if err != nil {
		return e.failClosed(err)
	}
	if active {
		metrics.AccessDecisions.WithLabelValues(string(domain.ReasonPremium)).Inc()
		return domain.Decision{Allowed: true, Reason: domain.ReasonPremium}, nil
	}

	verified, err := e.verify.IsVerified(ctx, userID)
	if err != nil {
		return e.failClosed(err)
	}
	if verified {
		metrics.AccessDecisions.WithLabelValues(string(domain.ReasonVerified)).Inc()
		return domain.Decision{Allowed: true, Reason: domain.ReasonVerified}, nil
	}

	res, err := e.quota.Consume(ctx, userID)
	if err != nil {
		return e.failClosed(err)
	}
	if res.Allowed {
		metrics.AccessDecisions.WithLabelValues(string(domain.ReasonQuota)).Inc()
		return domain.Decision{Allowed: true, Reason: domain.ReasonQuota, Used: res.Used, Limit: res.Limit}, nil
	}

	metrics.AccessDecisions.WithLabelValues(string(domain.ReasonExhausted)).Inc()
	return domain.Decision{Allowed: false, Reason: domain.ReasonExhausted, Used: res.Used, Limit: res.Limit}, nil
}

// IssueChallenge produces a fresh redeemable challenge for a quota-exhausted
// user.
func (e *Engine) IssueChallenge(ctx context.Context, userID string) (domain.Challenge, error) {
	return e.verify.Issue(ctx, userID)
}

// RedeemChallenge exchanges a token for a verified window and returns the
// owning user id.
func (e *Engine) RedeemChallenge(ctx context.Context, token string) (string, error) {
	return e.verify.Redeem(ctx, token)
}

// GrantPremium extends premium by d (administrative or purchased).
func (e *Engine) GrantPremium(ctx context.Context, userID string, d time.Duration) (time.Time, error) {
	return e.premium.Grant(ctx, userID, d)
}

// RevokePremium clears premium (administrative).
func (e *Engine) RevokePremium(ctx context.Context, userID string) error {
	return e.premium.Revoke(ctx, userID)
}

// Attribute credits referrer for inviting newUser. Adversarial input
// (self-referral, re-attribution) is a silent false.
func (e *Engine) Attribute(ctx context.Context, newUser, referrer string) (bool, error) {
	return e.referral.Attribute(ctx, newUser, referrer)
}

// RedeemPoints converts the point threshold into premium time.
func (e *Engine) RedeemPoints(ctx context.Context, userID string) (time.Time, error) {
	return e.referral.RedeemForPremium(ctx, userID)
}

// PointsHistory returns recent ledger entries for status displays.
func (e *Engine) PointsHistory(ctx context.Context, userID string, limit int) ([]domain.PointsEntry, error) {
	return e.referral.History(ctx, userID, limit)
}

// ResetUser clears verification, pending token, and quota (administrative).
func (e *Engine) ResetUser(ctx context.Context, userID string) error {
	if err := e.store.ResetUser(ctx, userID, e.clock.Now()); err != nil {
		if errors.Is(err, domain.ErrUserNotFound) {
			return err
		}
		return fmt.Errorf("reset user: %w", err)
	}
	return nil
}

// GetStatus returns the read-only view for user-facing displays. The quota
// usage honors the lazy daily reset without consuming an attempt.
func (e *Engine) GetStatus(ctx context.Context, userID string) (domain.Status, error) {
	rec, err := e.store.Ensure(ctx, userID, e.clock.Now())
	if err != nil {
		return domain.Status{}, fmt.Errorf("load user: %w", err)
	}

	usage, err := e.quota.Peek(ctx, userID)
	if err != nil {
		return domain.Status{}, err
	}

	now := e.clock.Now()
	st := domain.Status{
		UserID:           userID,
		FreeAttemptsUsed: usage.Used,
		FreeLimit:        usage.Limit,
		Points:           rec.Points,
		ReferralCount:    rec.ReferralCount,
	}
	if !rec.PremiumUntil.IsZero() && rec.PremiumUntil.After(now) {
		st.Premium = true
		st.PremiumUntil = rec.PremiumUntil
	}
	if !rec.VerifiedUntil.IsZero() && rec.VerifiedUntil.After(now) {
		st.Verified = true
		st.VerifiedUntil = rec.VerifiedUntil
	}
	return st, nil
}

// failClosed maps any evaluation error to a denial.
func (e *Engine) failClosed(err error) (domain.Decision, error) {
	metrics.StoreFailures.Inc()
	return domain.Decision{Allowed: false}, err
}
