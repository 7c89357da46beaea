// Package verify issues and redeems the short-lived single-use tokens that
// unlock a multi-hour verified window. Tokens are single-use by construction:
// redemption clears the token and grants the window in one atomic store
// operation, so there is no separate "used" flag to race on.
package verify

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"log"
	"net/url"
	"time"

	"github.com/mediagate-bot/mediagate/internal/domain"
	"github.com/mediagate-bot/mediagate/internal/infra/metrics"
)

// Defaults from the product policy: a 10-minute challenge unlocks 6 hours.
const (
	DefaultTokenTTL = 10 * time.Minute
	DefaultWindow   = 6 * time.Hour

	// 16 random bytes = 128 bits, comfortably past the guessing bound.
	tokenBytes = 16
)

// Service manages the verification challenge lifecycle.
type Service struct {
	store       domain.EntitlementStore
	clock       domain.Clock
	links       domain.LinkWrapper
	botUsername string
	ttl         time.Duration
	window      time.Duration
}

// Config holds verification settings.
type Config struct {
	BotUsername string
	TokenTTL    time.Duration
	Window      time.Duration
}

// NewService creates a verification service. Zero durations fall back to the
// defaults. links may be nil when no redirect service is configured; deep
// links are then returned unwrapped.
func NewService(store domain.EntitlementStore, clock domain.Clock, links domain.LinkWrapper, cfg Config) *Service {
	if cfg.TokenTTL <= 0 {
		cfg.TokenTTL = DefaultTokenTTL
	}
	if cfg.Window <= 0 {
		cfg.Window = DefaultWindow
	}
	return &Service{
		store:       store,
		clock:       clock,
		links:       links,
		botUsername: cfg.BotUsername,
		ttl:         cfg.TokenTTL,
		window:      cfg.Window,
	}
}

// Window returns the configured verified-window duration.
func (s *Service) Window() time.Duration { return s.window }

// Issue generates a fresh challenge for the user, overwriting any prior
// pending token — only the newest challenge is redeemable. The token is
// durably stored before the redirect service is called, so the user is never
// shown a link whose token could be lost.
func (s *Service) Issue(ctx context.Context, userID string) (domain.Challenge, error) {
	now := s.clock.Now()
	if _, err := s.store.Ensure(ctx, userID, now); err != nil {
		return domain.Challenge{}, fmt.Errorf("ensure user: %w", err)
	}

	token, err := newToken()
	if err != nil {
		return domain.Challenge{}, fmt.Errorf("generate token: %w", err)
	}

	expiresAt := now.Add(s.ttl)
	if err := s.store.SetPendingToken(ctx, userID, token, expiresAt); err != nil {
		return domain.Challenge{}, fmt.Errorf("store token: %w", err)
	}
	metrics.ChallengesIssued.Inc()

	link := s.deepLink(token)
	if s.links != nil {
		wrapped, err := s.links.Wrap(ctx, link)
		if err != nil {
			// Degraded mode: the challenge stays valid, the link just
			// isn't monetized.
			log.Printf("[verify] shortlink wrap failed, using unwrapped link: %v", err)
			metrics.ShortlinkFailures.Inc()
		} else {
			link = wrapped
		}
	}

	return domain.Challenge{Token: token, ExpiresAt: expiresAt, Link: link}, nil
}

// Redeem exchanges a token for a verified window. Exactly one of N
// concurrent redemptions of the same token succeeds; the rest, and any
// attempt after expiry, fail with domain.ErrTokenInvalid.
func (s *Service) Redeem(ctx context.Context, token string) (string, error) {
	now := s.clock.Now()
	userID, err := s.store.RedeemToken(ctx, token, now, now.Add(s.window))
	if err != nil {
		if errors.Is(err, domain.ErrTokenInvalid) {
			metrics.ChallengesRedeemed.WithLabelValues("invalid").Inc()
			return "", err
		}
		return "", fmt.Errorf("redeem token: %w", err)
	}
	metrics.ChallengesRedeemed.WithLabelValues("ok").Inc()
	return userID, nil
}

// IsVerified reports whether the user is inside an active verified window.
// An expired window is lazily cleared as a side effect — cleanup only, it
// never resets the quota counter.
func (s *Service) IsVerified(ctx context.Context, userID string) (bool, error) {
	rec, err := s.store.Get(ctx, userID)
	if errors.Is(err, domain.ErrUserNotFound) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("load user: %w", err)
	}

	now := s.clock.Now()
	if rec.VerifiedUntil.IsZero() {
		return false, nil
	}
	if rec.VerifiedUntil.After(now) {
		return true, nil
	}
	if err := s.store.ClearVerifiedIfExpired(ctx, userID, now); err != nil {
		return false, fmt.Errorf("clear expired window: %w", err)
	}
	return false, nil
}

// deepLink builds the bot deep link the redirector wraps.
func (s *Service) deepLink(token string) string {
	return fmt.Sprintf("https://t.me/%s?start=verify_%s", url.PathEscape(s.botUsername), token)
}

// newToken returns a hex-encoded 128-bit random token.
func newToken() (string, error) {
	buf := make([]byte, tokenBytes)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return hex.EncodeToString(buf), nil
}
