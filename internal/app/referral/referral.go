// Package referral implements the points economy: referrers earn a fixed
// reward per successful invite and can redeem a threshold into a premium
// month. The balance never goes negative — a short redemption is rejected,
// not clamped.
package referral

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/mediagate-bot/mediagate/internal/domain"
	"github.com/mediagate-bot/mediagate/internal/infra/metrics"
)

// Product defaults: 30 successful referrals buy one premium month.
const (
	DefaultReward      int64 = 50
	DefaultThreshold   int64 = 1500
	DefaultPremiumDays       = 30
)

// Service maintains the referral ledger.
type Service struct {
	store      domain.EntitlementStore
	clock      domain.Clock
	reward     int64
	threshold  int64
	premiumDur time.Duration
}

// Config holds referral settings.
type Config struct {
	Reward      int64
	Threshold   int64
	PremiumDays int
}

// NewService creates a referral service. Non-positive settings fall back to
// the defaults.
func NewService(store domain.EntitlementStore, clock domain.Clock, cfg Config) *Service {
	if cfg.Reward <= 0 {
		cfg.Reward = DefaultReward
	}
	if cfg.Threshold <= 0 {
		cfg.Threshold = DefaultThreshold
	}
	if cfg.PremiumDays <= 0 {
		cfg.PremiumDays = DefaultPremiumDays
	}
	return &Service{
		store:      store,
		clock:      clock,
		reward:     cfg.Reward,
		threshold:  cfg.Threshold,
		premiumDur: time.Duration(cfg.PremiumDays) * 24 * time.Hour,
	}
}

// Threshold returns the points needed for a premium redemption.
func (s *Service) Threshold() int64 { return s.threshold }

// Attribute credits the referrer for bringing in newUser. Self-referrals and
// re-attributions return false without mutating anything — expected
// adversarial input, not an error. referred_by is first-write-wins.
func (s *Service) Attribute(ctx context.Context, newUser, referrer string) (bool, error) {
	if newUser == referrer || newUser == "" || referrer == "" {
		return false, nil
	}

	now := s.clock.Now()
	if _, err := s.store.Ensure(ctx, newUser, now); err != nil {
		return false, fmt.Errorf("ensure new user: %w", err)
	}
	if _, err := s.store.Ensure(ctx, referrer, now); err != nil {
		return false, fmt.Errorf("ensure referrer: %w", err)
	}

	ok, err := s.store.Attribute(ctx, newUser, referrer, s.reward, uuid.NewString(), now)
	if err != nil {
		return false, fmt.Errorf("attribute: %w", err)
	}
	if ok {
		metrics.PointsAwarded.Add(float64(s.reward))
	}
	return ok, nil
}

// RedeemForPremium converts the point threshold into a premium month. The
// debit and the grant are one atomic store operation — partial application
// (points spent without premium, or the reverse) cannot happen.
func (s *Service) RedeemForPremium(ctx context.Context, userID string) (time.Time, error) {
	now := s.clock.Now()
	if _, err := s.store.Ensure(ctx, userID, now); err != nil {
		return time.Time{}, fmt.Errorf("ensure user: %w", err)
	}

	until, err := s.store.RedeemPointsForPremium(ctx, userID, s.threshold, s.premiumDur, uuid.NewString(), now)
	if err != nil {
		if errors.Is(err, domain.ErrInsufficientPoints) {
			return time.Time{}, err
		}
		return time.Time{}, fmt.Errorf("redeem points: %w", err)
	}
	metrics.PremiumGrants.WithLabelValues("points").Inc()
	return until, nil
}

// History returns the user's recent points ledger entries, newest first.
func (s *Service) History(ctx context.Context, userID string, limit int) ([]domain.PointsEntry, error) {
	if limit <= 0 {
		limit = 20
	}
	return s.store.PointsHistory(ctx, userID, limit)
}
