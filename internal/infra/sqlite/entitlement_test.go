package sqlite

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/mediagate-bot/mediagate/internal/domain"
)

func newTestDB(t *testing.T) *DB {
	t.Helper()
	db, err := Open(t.TempDir())
	if err != nil {
		t.Fatalf("Open() error: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

var testNow = time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

// ─── Record lifecycle ───────────────────────────────────────────────────────

func TestEnsure_CreatesFreshRecord(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	rec, err := db.Ensure(ctx, "u1", testNow)
	if err != nil {
		t.Fatalf("Ensure() error: %v", err)
	}
	if rec.UserID != "u1" {
		t.Errorf("UserID = %q, want u1", rec.UserID)
	}
	if rec.FreeAttemptsUsed != 0 || rec.Points != 0 || rec.ReferralCount != 0 {
		t.Errorf("counters not zero: %+v", rec)
	}
	if !rec.VerifiedUntil.IsZero() || !rec.PremiumUntil.IsZero() || rec.Pending != nil || rec.ReferredBy != "" {
		t.Errorf("optional fields not absent: %+v", rec)
	}
}

func TestEnsure_Idempotent(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	db.Ensure(ctx, "u1", testNow)
	if _, _, err := db.ConsumeAttempt(ctx, "u1", 5); err != nil {
		t.Fatalf("ConsumeAttempt() error: %v", err)
	}

	rec, err := db.Ensure(ctx, "u1", testNow.Add(time.Hour))
	if err != nil {
		t.Fatalf("Ensure() again error: %v", err)
	}
	if rec.FreeAttemptsUsed != 1 {
		t.Errorf("Ensure overwrote existing record: used = %d, want 1", rec.FreeAttemptsUsed)
	}
}

func TestGet_NotFound(t *testing.T) {
	db := newTestDB(t)

	_, err := db.Get(context.Background(), "ghost")
	if !errors.Is(err, domain.ErrUserNotFound) {
		t.Errorf("Get(ghost) error = %v, want ErrUserNotFound", err)
	}
}

// ─── Quota ──────────────────────────────────────────────────────────────────

func TestConsumeAttempt_StopsAtLimit(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	db.Ensure(ctx, "u1", testNow)

	for i := 1; i <= 5; i++ {
		used, allowed, err := db.ConsumeAttempt(ctx, "u1", 5)
		if err != nil {
			t.Fatalf("ConsumeAttempt(%d) error: %v", i, err)
		}
		if !allowed || used != i {
			t.Errorf("attempt %d: allowed=%v used=%d", i, allowed, used)
		}
	}

	// Denied checks must not keep incrementing.
	for i := 0; i < 3; i++ {
		used, allowed, err := db.ConsumeAttempt(ctx, "u1", 5)
		if err != nil {
			t.Fatalf("ConsumeAttempt() error: %v", err)
		}
		if allowed || used != 5 {
			t.Errorf("after limit: allowed=%v used=%d, want false/5", allowed, used)
		}
	}
}

func TestConsumeAttempt_ConcurrentNeverExceedsLimit(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	db.Ensure(ctx, "u1", testNow)

	const workers = 20
	var wg sync.WaitGroup
	var mu sync.Mutex
	allows := 0

	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, allowed, err := db.ConsumeAttempt(ctx, "u1", 5)
			if err != nil {
				t.Errorf("ConsumeAttempt() error: %v", err)
				return
			}
			if allowed {
				mu.Lock()
				allows++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	if allows != 5 {
		t.Errorf("concurrent allows = %d, want exactly 5", allows)
	}
	rec, _ := db.Get(ctx, "u1")
	if rec.FreeAttemptsUsed != 5 {
		t.Errorf("used = %d, want 5", rec.FreeAttemptsUsed)
	}
}

func TestResetQuotaIfStale_OncePerDay(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	db.Ensure(ctx, "u1", testNow)

	for i := 0; i < 3; i++ {
		db.ConsumeAttempt(ctx, "u1", 5)
	}

	dayStart := time.Date(2025, 6, 2, 0, 0, 0, 0, time.UTC)
	if err := db.ResetQuotaIfStale(ctx, "u1", dayStart); err != nil {
		t.Fatalf("ResetQuotaIfStale() error: %v", err)
	}
	rec, _ := db.Get(ctx, "u1")
	if rec.FreeAttemptsUsed != 0 {
		t.Errorf("used after reset = %d, want 0", rec.FreeAttemptsUsed)
	}

	// Same day again: counter must survive.
	db.ConsumeAttempt(ctx, "u1", 5)
	if err := db.ResetQuotaIfStale(ctx, "u1", dayStart); err != nil {
		t.Fatalf("ResetQuotaIfStale() again error: %v", err)
	}
	rec, _ = db.Get(ctx, "u1")
	if rec.FreeAttemptsUsed != 1 {
		t.Errorf("used after same-day reset = %d, want 1", rec.FreeAttemptsUsed)
	}
}

// ─── Token lifecycle ────────────────────────────────────────────────────────

func TestRedeemToken_SingleUse(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	db.Ensure(ctx, "u1", testNow)

	expires := testNow.Add(10 * time.Minute)
	if err := db.SetPendingToken(ctx, "u1", "tok-abc", expires); err != nil {
		t.Fatalf("SetPendingToken() error: %v", err)
	}

	userID, err := db.RedeemToken(ctx, "tok-abc", testNow.Add(time.Minute), testNow.Add(6*time.Hour))
	if err != nil {
		t.Fatalf("RedeemToken() error: %v", err)
	}
	if userID != "u1" {
		t.Errorf("userID = %q, want u1", userID)
	}

	// Second redemption observes the cleared token.
	_, err = db.RedeemToken(ctx, "tok-abc", testNow.Add(2*time.Minute), testNow.Add(6*time.Hour))
	if !errors.Is(err, domain.ErrTokenInvalid) {
		t.Errorf("second redeem error = %v, want ErrTokenInvalid", err)
	}

	rec, _ := db.Get(ctx, "u1")
	if rec.Pending != nil {
		t.Errorf("pending token not cleared: %+v", rec.Pending)
	}
	if rec.VerifiedUntil.IsZero() {
		t.Error("verified_until not set after redemption")
	}
}

func TestRedeemToken_ConcurrentExactlyOneWins(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	db.Ensure(ctx, "u1", testNow)
	db.SetPendingToken(ctx, "u1", "tok-race", testNow.Add(10*time.Minute))

	const workers = 10
	var wg sync.WaitGroup
	var mu sync.Mutex
	wins := 0

	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := db.RedeemToken(ctx, "tok-race", testNow.Add(time.Minute), testNow.Add(6*time.Hour))
			if err == nil {
				mu.Lock()
				wins++
				mu.Unlock()
			} else if !errors.Is(err, domain.ErrTokenInvalid) {
				t.Errorf("unexpected redeem error: %v", err)
			}
		}()
	}
	wg.Wait()

	if wins != 1 {
		t.Errorf("concurrent redemption wins = %d, want exactly 1", wins)
	}
}

func TestRedeemToken_Expired(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	db.Ensure(ctx, "u1", testNow)
	db.SetPendingToken(ctx, "u1", "tok-old", testNow.Add(10*time.Minute))

	// Past expires_at: always invalid, even though never redeemed.
	_, err := db.RedeemToken(ctx, "tok-old", testNow.Add(11*time.Minute), testNow.Add(6*time.Hour))
	if !errors.Is(err, domain.ErrTokenInvalid) {
		t.Errorf("expired redeem error = %v, want ErrTokenInvalid", err)
	}

	// The dead token is cleared, no verified window granted.
	rec, _ := db.Get(ctx, "u1")
	if rec.Pending != nil {
		t.Errorf("expired token not cleared: %+v", rec.Pending)
	}
	if !rec.VerifiedUntil.IsZero() {
		t.Error("expired redemption granted a verified window")
	}
}

func TestSetPendingToken_OverwritesPrior(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	db.Ensure(ctx, "u1", testNow)

	db.SetPendingToken(ctx, "u1", "tok-first", testNow.Add(10*time.Minute))
	db.SetPendingToken(ctx, "u1", "tok-second", testNow.Add(10*time.Minute))

	// Only the newest challenge is redeemable.
	if _, err := db.RedeemToken(ctx, "tok-first", testNow, testNow.Add(6*time.Hour)); !errors.Is(err, domain.ErrTokenInvalid) {
		t.Errorf("old token redeem error = %v, want ErrTokenInvalid", err)
	}
	if _, err := db.RedeemToken(ctx, "tok-second", testNow, testNow.Add(6*time.Hour)); err != nil {
		t.Errorf("new token redeem error: %v", err)
	}
}

func TestClearVerifiedIfExpired(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	db.Ensure(ctx, "u1", testNow)
	db.SetPendingToken(ctx, "u1", "tok", testNow.Add(10*time.Minute))
	db.RedeemToken(ctx, "tok", testNow, testNow.Add(6*time.Hour))
	db.ConsumeAttempt(ctx, "u1", 5)

	// Not yet expired: window stays.
	db.ClearVerifiedIfExpired(ctx, "u1", testNow.Add(time.Hour))
	rec, _ := db.Get(ctx, "u1")
	if rec.VerifiedUntil.IsZero() {
		t.Error("active window was cleared")
	}

	// Expired: window cleared, quota counter untouched.
	db.ClearVerifiedIfExpired(ctx, "u1", testNow.Add(7*time.Hour))
	rec, _ = db.Get(ctx, "u1")
	if !rec.VerifiedUntil.IsZero() {
		t.Error("expired window not cleared")
	}
	if rec.FreeAttemptsUsed != 1 {
		t.Errorf("cleanup touched the quota counter: used = %d, want 1", rec.FreeAttemptsUsed)
	}
}

// ─── Premium ────────────────────────────────────────────────────────────────

func TestExtendPremium_StacksOnRemainingTime(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	db.Ensure(ctx, "u1", testNow)

	until, err := db.ExtendPremium(ctx, "u1", 30*24*time.Hour, testNow)
	if err != nil {
		t.Fatalf("ExtendPremium() error: %v", err)
	}
	if want := testNow.Add(30 * 24 * time.Hour); !until.Equal(want) {
		t.Errorf("first grant until = %v, want %v", until, want)
	}

	// Second grant a day later stacks onto the remaining 29 days.
	until, err = db.ExtendPremium(ctx, "u1", 30*24*time.Hour, testNow.Add(24*time.Hour))
	if err != nil {
		t.Fatalf("ExtendPremium() again error: %v", err)
	}
	if want := testNow.Add(60 * 24 * time.Hour); !until.Equal(want) {
		t.Errorf("stacked until = %v, want %v", until, want)
	}
}

func TestExtendPremium_AfterExpiryStartsFromNow(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	db.Ensure(ctx, "u1", testNow)

	db.ExtendPremium(ctx, "u1", 24*time.Hour, testNow)

	// Grant long after expiry: counts from now, not from the stale expiry.
	later := testNow.Add(100 * 24 * time.Hour)
	until, err := db.ExtendPremium(ctx, "u1", 24*time.Hour, later)
	if err != nil {
		t.Fatalf("ExtendPremium() error: %v", err)
	}
	if want := later.Add(24 * time.Hour); !until.Equal(want) {
		t.Errorf("until = %v, want %v", until, want)
	}
}

func TestClearPremium(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	db.Ensure(ctx, "u1", testNow)
	db.ExtendPremium(ctx, "u1", 24*time.Hour, testNow)

	if err := db.ClearPremium(ctx, "u1"); err != nil {
		t.Fatalf("ClearPremium() error: %v", err)
	}
	rec, _ := db.Get(ctx, "u1")
	if !rec.PremiumUntil.IsZero() {
		t.Errorf("premium_until not cleared: %v", rec.PremiumUntil)
	}
}

// ─── Referral ───────────────────────────────────────────────────────────────

func TestAttribute_FirstWriteWins(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	db.Ensure(ctx, "new", testNow)
	db.Ensure(ctx, "ref", testNow)

	ok, err := db.Attribute(ctx, "new", "ref", 50, "tx-1", testNow)
	if err != nil {
		t.Fatalf("Attribute() error: %v", err)
	}
	if !ok {
		t.Fatal("first attribution returned false")
	}

	// Re-attribution, even to a different referrer, is a no-op.
	db.Ensure(ctx, "other", testNow)
	ok, err = db.Attribute(ctx, "new", "other", 50, "tx-2", testNow)
	if err != nil {
		t.Fatalf("Attribute() again error: %v", err)
	}
	if ok {
		t.Error("re-attribution returned true")
	}

	rec, _ := db.Get(ctx, "new")
	if rec.ReferredBy != "ref" {
		t.Errorf("referred_by = %q, want ref", rec.ReferredBy)
	}
	refRec, _ := db.Get(ctx, "ref")
	if refRec.Points != 50 || refRec.ReferralCount != 1 {
		t.Errorf("referrer points=%d count=%d, want 50/1", refRec.Points, refRec.ReferralCount)
	}
	otherRec, _ := db.Get(ctx, "other")
	if otherRec.Points != 0 {
		t.Errorf("non-winning referrer credited: points=%d", otherRec.Points)
	}
}

func TestAttribute_WritesLedgerEntry(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	db.Ensure(ctx, "new", testNow)
	db.Ensure(ctx, "ref", testNow)

	db.Attribute(ctx, "new", "ref", 50, "tx-1", testNow)

	entries, err := db.PointsHistory(ctx, "ref", 10)
	if err != nil {
		t.Fatalf("PointsHistory() error: %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("ledger entries = %d, want 1", len(entries))
	}
	e := entries[0]
	if e.Delta != 50 || e.Balance != 50 || e.Reason != domain.TxReferralReward {
		t.Errorf("ledger entry = %+v", e)
	}
}

func TestRedeemPointsForPremium_InsufficientLeavesPointsUnchanged(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	db.Ensure(ctx, "u1", testNow)

	// 1499 points against a 1500 threshold: always rejected, never clamped.
	for i := 0; i < 29; i++ {
		uid := fmt.Sprintf("r%02d", i)
		db.Ensure(ctx, uid, testNow)
		db.Attribute(ctx, uid, "u1", 50, "tx-"+uid, testNow)
	}
	db2rec, _ := db.Get(ctx, "u1")
	if db2rec.Points != 1450 {
		t.Fatalf("setup points = %d, want 1450", db2rec.Points)
	}

	_, err := db.RedeemPointsForPremium(ctx, "u1", 1500, 30*24*time.Hour, "tx-redeem", testNow)
	if !errors.Is(err, domain.ErrInsufficientPoints) {
		t.Errorf("redeem error = %v, want ErrInsufficientPoints", err)
	}

	rec, _ := db.Get(ctx, "u1")
	if rec.Points != 1450 {
		t.Errorf("points after failed redeem = %d, want 1450", rec.Points)
	}
	if !rec.PremiumUntil.IsZero() {
		t.Error("failed redeem granted premium")
	}
}

func TestRedeemPointsForPremium_DebitAndGrantTogether(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	db.Ensure(ctx, "u1", testNow)
	for i := 0; i < 30; i++ {
		uid := fmt.Sprintf("r%02d", i)
		db.Ensure(ctx, uid, testNow)
		db.Attribute(ctx, uid, "u1", 50, "tx-"+uid, testNow)
	}

	until, err := db.RedeemPointsForPremium(ctx, "u1", 1500, 30*24*time.Hour, "tx-redeem", testNow)
	if err != nil {
		t.Fatalf("RedeemPointsForPremium() error: %v", err)
	}
	if want := testNow.Add(30 * 24 * time.Hour); !until.Equal(want) {
		t.Errorf("until = %v, want %v", until, want)
	}

	rec, _ := db.Get(ctx, "u1")
	if rec.Points != 0 {
		t.Errorf("points after redeem = %d, want 0", rec.Points)
	}

	entries, _ := db.PointsHistory(ctx, "u1", 50)
	if len(entries) != 31 { // 30 rewards + 1 redemption
		t.Errorf("ledger entries = %d, want 31", len(entries))
	}
}

func TestRedeemPointsForPremium_ConcurrentSpendsNeverGoNegative(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	db.Ensure(ctx, "u1", testNow)
	for i := 0; i < 30; i++ {
		uid := fmt.Sprintf("r%02d", i)
		db.Ensure(ctx, uid, testNow)
		db.Attribute(ctx, uid, "u1", 50, "tx-"+uid, testNow)
	}

	// Exactly one of N concurrent redemptions of a 1500 balance succeeds.
	const workers = 5
	var wg sync.WaitGroup
	var mu sync.Mutex
	wins := 0

	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			_, err := db.RedeemPointsForPremium(ctx, "u1", 1500, 30*24*time.Hour,
				fmt.Sprintf("tx-c%d", n), testNow)
			if err == nil {
				mu.Lock()
				wins++
				mu.Unlock()
			} else if !errors.Is(err, domain.ErrInsufficientPoints) {
				t.Errorf("unexpected redeem error: %v", err)
			}
		}(i)
	}
	wg.Wait()

	if wins != 1 {
		t.Errorf("concurrent redemption wins = %d, want exactly 1", wins)
	}
	rec, _ := db.Get(ctx, "u1")
	if rec.Points != 0 {
		t.Errorf("points = %d, want 0", rec.Points)
	}
}

// ─── Admin reset ────────────────────────────────────────────────────────────

func TestResetUser(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	db.Ensure(ctx, "u1", testNow)
	db.ConsumeAttempt(ctx, "u1", 5)
	db.SetPendingToken(ctx, "u1", "tok", testNow.Add(10*time.Minute))
	db.ExtendPremium(ctx, "u1", 24*time.Hour, testNow)

	if err := db.ResetUser(ctx, "u1", testNow); err != nil {
		t.Fatalf("ResetUser() error: %v", err)
	}

	rec, _ := db.Get(ctx, "u1")
	if rec.FreeAttemptsUsed != 0 || rec.Pending != nil || !rec.VerifiedUntil.IsZero() {
		t.Errorf("reset incomplete: %+v", rec)
	}
	if rec.PremiumUntil.IsZero() {
		t.Error("reset cleared premium — premium has its own revoke")
	}
}
