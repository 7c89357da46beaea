// Package premium tracks the expiry-dated entitlement that overrides every
// other gate. Grants stack: buying two consecutive periods yields their sum.
package premium

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/mediagate-bot/mediagate/internal/domain"
	"github.com/mediagate-bot/mediagate/internal/infra/metrics"
)

// Service manages premium subscriptions. Administrative and purchased grants
// use the same primitive.
type Service struct {
	store domain.EntitlementStore
	clock domain.Clock
}

// NewService creates a premium service.
func NewService(store domain.EntitlementStore, clock domain.Clock) *Service {
	return &Service{store: store, clock: clock}
}

// Grant extends premium by d on top of any remaining time and returns the
// new expiry.
func (s *Service) Grant(ctx context.Context, userID string, d time.Duration) (time.Time, error) {
	if d <= 0 {
		return time.Time{}, fmt.Errorf("grant duration must be positive, got %s", d)
	}
	now := s.clock.Now()
	if _, err := s.store.Ensure(ctx, userID, now); err != nil {
		return time.Time{}, fmt.Errorf("ensure user: %w", err)
	}
	until, err := s.store.ExtendPremium(ctx, userID, d, now)
	if err != nil {
		return time.Time{}, fmt.Errorf("extend premium: %w", err)
	}
	metrics.PremiumGrants.WithLabelValues("grant").Inc()
	return until, nil
}

// IsActive reports whether the user's premium window covers now.
func (s *Service) IsActive(ctx context.Context, userID string) (bool, error) {
	rec, err := s.store.Get(ctx, userID)
	if errors.Is(err, domain.ErrUserNotFound) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("load user: %w", err)
	}
	return !rec.PremiumUntil.IsZero() && rec.PremiumUntil.After(s.clock.Now()), nil
}

// Revoke clears premium to absent. Administrative only.
func (s *Service) Revoke(ctx context.Context, userID string) error {
	if err := s.store.ClearPremium(ctx, userID); err != nil {
		return fmt.Errorf("clear premium: %w", err)
	}
	metrics.PremiumGrants.WithLabelValues("revoke").Inc()
	return nil
}
