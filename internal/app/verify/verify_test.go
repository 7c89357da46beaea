package verify

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/mediagate-bot/mediagate/internal/domain"
	"github.com/mediagate-bot/mediagate/internal/infra/clock"
	"github.com/mediagate-bot/mediagate/internal/infra/sqlite"
)

// wrapperFunc adapts a func to domain.LinkWrapper.
type wrapperFunc func(ctx context.Context, rawURL string) (string, error)

func (f wrapperFunc) Wrap(ctx context.Context, rawURL string) (string, error) {
	return f(ctx, rawURL)
}

func newService(t *testing.T, links domain.LinkWrapper) (*Service, *sqlite.DB, *clock.Manual) {
	t.Helper()
	db, err := sqlite.Open(t.TempDir())
	if err != nil {
		t.Fatalf("sqlite.Open() error: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	clk := clock.NewManual(time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC))
	svc := NewService(db, clk, links, Config{BotUsername: "gatebot"})
	return svc, db, clk
}

// ─── Issue ──────────────────────────────────────────────────────────────────

func TestIssue_ReturnsRedeemableChallenge(t *testing.T) {
	svc, _, clk := newService(t, nil)
	ctx := context.Background()

	ch, err := svc.Issue(ctx, "u1")
	if err != nil {
		t.Fatalf("Issue() error: %v", err)
	}
	if len(ch.Token) != 32 { // 16 bytes hex-encoded
		t.Errorf("token length = %d, want 32", len(ch.Token))
	}
	if want := clk.Now().Add(DefaultTokenTTL); !ch.ExpiresAt.Equal(want) {
		t.Errorf("ExpiresAt = %v, want %v", ch.ExpiresAt, want)
	}
	if want := "https://t.me/gatebot?start=verify_" + ch.Token; ch.Link != want {
		t.Errorf("Link = %q, want %q", ch.Link, want)
	}

	userID, err := svc.Redeem(ctx, ch.Token)
	if err != nil {
		t.Fatalf("Redeem() error: %v", err)
	}
	if userID != "u1" {
		t.Errorf("redeemed user = %q, want u1", userID)
	}
}

func TestIssue_TokensAreUnique(t *testing.T) {
	svc, _, _ := newService(t, nil)
	ctx := context.Background()

	seen := map[string]bool{}
	for i := 0; i < 20; i++ {
		ch, err := svc.Issue(ctx, "u1")
		if err != nil {
			t.Fatalf("Issue() error: %v", err)
		}
		if seen[ch.Token] {
			t.Fatalf("duplicate token %q", ch.Token)
		}
		seen[ch.Token] = true
	}
}

func TestIssue_WrapsLinkThroughRedirector(t *testing.T) {
	links := wrapperFunc(func(ctx context.Context, rawURL string) (string, error) {
		return "https://short.example/abc", nil
	})
	svc, _, _ := newService(t, links)

	ch, err := svc.Issue(context.Background(), "u1")
	if err != nil {
		t.Fatalf("Issue() error: %v", err)
	}
	if ch.Link != "https://short.example/abc" {
		t.Errorf("Link = %q, want wrapped link", ch.Link)
	}
}

func TestIssue_DegradesToUnwrappedLinkOnRedirectorFailure(t *testing.T) {
	links := wrapperFunc(func(ctx context.Context, rawURL string) (string, error) {
		return rawURL, domain.ErrRedirectService
	})
	svc, _, _ := newService(t, links)
	ctx := context.Background()

	ch, err := svc.Issue(ctx, "u1")
	if err != nil {
		t.Fatalf("Issue() must not fail when the redirector is down: %v", err)
	}
	if !strings.HasPrefix(ch.Link, "https://t.me/gatebot?start=verify_") {
		t.Errorf("Link = %q, want unwrapped deep link", ch.Link)
	}

	// The challenge survives the degraded link.
	if _, err := svc.Redeem(ctx, ch.Token); err != nil {
		t.Errorf("Redeem() after degraded issue error: %v", err)
	}
}

func TestIssue_NewChallengeInvalidatesPrior(t *testing.T) {
	svc, _, _ := newService(t, nil)
	ctx := context.Background()

	first, _ := svc.Issue(ctx, "u1")
	second, _ := svc.Issue(ctx, "u1")

	if _, err := svc.Redeem(ctx, first.Token); !errors.Is(err, domain.ErrTokenInvalid) {
		t.Errorf("stale token redeem error = %v, want ErrTokenInvalid", err)
	}
	if _, err := svc.Redeem(ctx, second.Token); err != nil {
		t.Errorf("fresh token redeem error: %v", err)
	}
}

// ─── Redeem ─────────────────────────────────────────────────────────────────

func TestRedeem_SecondUseFails(t *testing.T) {
	svc, _, _ := newService(t, nil)
	ctx := context.Background()

	ch, _ := svc.Issue(ctx, "u1")
	if _, err := svc.Redeem(ctx, ch.Token); err != nil {
		t.Fatalf("first Redeem() error: %v", err)
	}
	if _, err := svc.Redeem(ctx, ch.Token); !errors.Is(err, domain.ErrTokenInvalid) {
		t.Errorf("second Redeem() error = %v, want ErrTokenInvalid", err)
	}
}

func TestRedeem_ExpiredToken(t *testing.T) {
	svc, _, clk := newService(t, nil)
	ctx := context.Background()

	ch, _ := svc.Issue(ctx, "u1")
	clk.Advance(DefaultTokenTTL + time.Second)

	if _, err := svc.Redeem(ctx, ch.Token); !errors.Is(err, domain.ErrTokenInvalid) {
		t.Errorf("expired Redeem() error = %v, want ErrTokenInvalid", err)
	}
	ok, _ := svc.IsVerified(ctx, "u1")
	if ok {
		t.Error("expired redemption opened a verified window")
	}
}

func TestRedeem_UnknownToken(t *testing.T) {
	svc, _, _ := newService(t, nil)

	if _, err := svc.Redeem(context.Background(), "no-such-token"); !errors.Is(err, domain.ErrTokenInvalid) {
		t.Errorf("unknown Redeem() error = %v, want ErrTokenInvalid", err)
	}
}

// ─── Verified window ────────────────────────────────────────────────────────

func TestIsVerified_WindowLifecycle(t *testing.T) {
	svc, _, clk := newService(t, nil)
	ctx := context.Background()

	if ok, _ := svc.IsVerified(ctx, "u1"); ok {
		t.Error("unknown user reported verified")
	}

	ch, _ := svc.Issue(ctx, "u1")
	if _, err := svc.Redeem(ctx, ch.Token); err != nil {
		t.Fatalf("Redeem() error: %v", err)
	}

	if ok, _ := svc.IsVerified(ctx, "u1"); !ok {
		t.Error("not verified right after redemption")
	}

	clk.Advance(5 * time.Hour)
	if ok, _ := svc.IsVerified(ctx, "u1"); !ok {
		t.Error("not verified at +5h of a 6h window")
	}

	clk.Advance(2 * time.Hour)
	if ok, _ := svc.IsVerified(ctx, "u1"); ok {
		t.Error("still verified at +7h of a 6h window")
	}
}

func TestIsVerified_ExpiryDoesNotResetQuota(t *testing.T) {
	svc, db, clk := newService(t, nil)
	ctx := context.Background()

	ch, _ := svc.Issue(ctx, "u1")
	svc.Redeem(ctx, ch.Token)
	db.ConsumeAttempt(ctx, "u1", 5)
	db.ConsumeAttempt(ctx, "u1", 5)

	clk.Advance(7 * time.Hour)
	if ok, _ := svc.IsVerified(ctx, "u1"); ok {
		t.Fatal("window should be expired")
	}

	rec, err := db.Get(ctx, "u1")
	if err != nil {
		t.Fatalf("Get() error: %v", err)
	}
	if rec.FreeAttemptsUsed != 2 {
		t.Errorf("window expiry changed quota: used = %d, want 2", rec.FreeAttemptsUsed)
	}
}

func TestNewService_ConfigOverrides(t *testing.T) {
	db, err := sqlite.Open(t.TempDir())
	if err != nil {
		t.Fatalf("sqlite.Open() error: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	clk := clock.NewManual(time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC))

	svc := NewService(db, clk, nil, Config{TokenTTL: time.Minute, Window: time.Hour})
	ctx := context.Background()

	ch, _ := svc.Issue(ctx, "u1")
	if want := clk.Now().Add(time.Minute); !ch.ExpiresAt.Equal(want) {
		t.Errorf("ExpiresAt = %v, want %v", ch.ExpiresAt, want)
	}

	svc.Redeem(ctx, ch.Token)
	clk.Advance(61 * time.Minute)
	if ok, _ := svc.IsVerified(ctx, "u1"); ok {
		t.Error("1h window still open at +61m")
	}
}
