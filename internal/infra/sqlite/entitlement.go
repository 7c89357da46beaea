package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/mediagate-bot/mediagate/internal/domain"
)

// Every mutation here is a single conditional statement or an immediate
// transaction, so two concurrent callers can never both observe the same
// pre-state and both apply the same change. See domain.EntitlementStore.

const entitlementCols = `user_id, free_attempts_used, last_reset_at, verified_until,
	pending_token, token_expires_at, premium_until, points, referred_by, referral_count, created_at`

// Ensure creates the record on first contact and returns the current state.
func (d *DB) Ensure(ctx context.Context, userID string, now time.Time) (*domain.Entitlement, error) {
	_, err := d.db.ExecContext(ctx,
		`INSERT INTO entitlements (user_id, created_at) VALUES (?, ?)
		 ON CONFLICT(user_id) DO NOTHING`,
		userID, now.Unix(),
	)
	if err != nil {
		return nil, storeErr("ensure user", err)
	}
	return d.Get(ctx, userID)
}

// Get returns the record, or domain.ErrUserNotFound.
func (d *DB) Get(ctx context.Context, userID string) (*domain.Entitlement, error) {
	row := d.db.QueryRowContext(ctx,
		`SELECT `+entitlementCols+` FROM entitlements WHERE user_id = ?`, userID,
	)
	e, err := scanEntitlement(row)
	if err != nil {
		return nil, err
	}
	if e == nil {
		return nil, domain.ErrUserNotFound
	}
	return e, nil
}

// ─── Quota ──────────────────────────────────────────────────────────────────

// ResetQuotaIfStale zeroes the counter iff last_reset_at is before dayStart.
// The WHERE clause makes the reset happen at most once per day no matter how
// many handlers race on the day boundary.
func (d *DB) ResetQuotaIfStale(ctx context.Context, userID string, dayStart time.Time) error {
	_, err := d.db.ExecContext(ctx,
		`UPDATE entitlements SET free_attempts_used = 0, last_reset_at = ?
		 WHERE user_id = ? AND last_reset_at < ?`,
		dayStart.Unix(), userID, dayStart.Unix(),
	)
	if err != nil {
		return storeErr("reset quota", err)
	}
	return nil
}

// ConsumeAttempt increments free_attempts_used iff it is below limit.
// Increment-if-less-than as one statement: concurrent consumers can never
// push the counter past the limit.
func (d *DB) ConsumeAttempt(ctx context.Context, userID string, limit int) (int, bool, error) {
	tx, err := d.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, false, storeErr("begin consume", err)
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx,
		`UPDATE entitlements SET free_attempts_used = free_attempts_used + 1
		 WHERE user_id = ? AND free_attempts_used < ?`,
		userID, limit,
	)
	if err != nil {
		return 0, false, storeErr("consume attempt", err)
	}
	n, _ := res.RowsAffected()

	var used int
	err = tx.QueryRowContext(ctx,
		`SELECT free_attempts_used FROM entitlements WHERE user_id = ?`, userID,
	).Scan(&used)
	if err == sql.ErrNoRows {
		return 0, false, domain.ErrUserNotFound
	}
	if err != nil {
		return 0, false, storeErr("read attempts", err)
	}

	if err := tx.Commit(); err != nil {
		return 0, false, storeErr("commit consume", err)
	}
	return used, n > 0, nil
}

// ─── Verification ───────────────────────────────────────────────────────────

// SetPendingToken overwrites any prior pending token for the user. Only the
// newest challenge stays redeemable.
func (d *DB) SetPendingToken(ctx context.Context, userID, token string, expiresAt time.Time) error {
	res, err := d.db.ExecContext(ctx,
		`UPDATE entitlements SET pending_token = ?, token_expires_at = ? WHERE user_id = ?`,
		token, expiresAt.Unix(), userID,
	)
	if err != nil {
		return storeErr("set pending token", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return domain.ErrUserNotFound
	}
	return nil
}

// RedeemToken clears the pending token and grants the verified window as one
// transaction. The conditional UPDATE is the linearization point: the first
// of N concurrent redemptions clears the token, the rest match zero rows.
func (d *DB) RedeemToken(ctx context.Context, token string, now, verifiedUntil time.Time) (string, error) {
	tx, err := d.db.BeginTx(ctx, nil)
	if err != nil {
		return "", storeErr("begin redeem", err)
	}
	defer tx.Rollback()

	var userID string
	err = tx.QueryRowContext(ctx,
		`SELECT user_id FROM entitlements WHERE pending_token = ?`, token,
	).Scan(&userID)
	if err == sql.ErrNoRows {
		return "", domain.ErrTokenInvalid
	}
	if err != nil {
		return "", storeErr("find token", err)
	}

	res, err := tx.ExecContext(ctx,
		`UPDATE entitlements
		 SET pending_token = NULL, token_expires_at = NULL, verified_until = ?
		 WHERE pending_token = ? AND token_expires_at > ?`,
		verifiedUntil.Unix(), token, now.Unix(),
	)
	if err != nil {
		return "", storeErr("redeem token", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		// Token exists but is past expiry — clear the dead token so the
		// record doesn't carry it forever.
		_, err = tx.ExecContext(ctx,
			`UPDATE entitlements SET pending_token = NULL, token_expires_at = NULL
			 WHERE pending_token = ? AND token_expires_at <= ?`,
			token, now.Unix(),
		)
		if err != nil {
			return "", storeErr("clear expired token", err)
		}
		if err := tx.Commit(); err != nil {
			return "", storeErr("commit redeem", err)
		}
		return "", domain.ErrTokenInvalid
	}

	if err := tx.Commit(); err != nil {
		return "", storeErr("commit redeem", err)
	}
	return userID, nil
}

// ClearVerifiedIfExpired lazily drops an expired verified window. The quota
// counter is deliberately untouched.
func (d *DB) ClearVerifiedIfExpired(ctx context.Context, userID string, now time.Time) error {
	_, err := d.db.ExecContext(ctx,
		`UPDATE entitlements SET verified_until = NULL
		 WHERE user_id = ? AND verified_until IS NOT NULL AND verified_until <= ?`,
		userID, now.Unix(),
	)
	if err != nil {
		return storeErr("clear verified", err)
	}
	return nil
}

// ─── Premium ────────────────────────────────────────────────────────────────

// ExtendPremium stacks a grant onto remaining time:
// premium_until = max(premium_until, now) + d.
func (d *DB) ExtendPremium(ctx context.Context, userID string, dur time.Duration, now time.Time) (time.Time, error) {
	tx, err := d.db.BeginTx(ctx, nil)
	if err != nil {
		return time.Time{}, storeErr("begin extend premium", err)
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx,
		`UPDATE entitlements
		 SET premium_until = MAX(COALESCE(premium_until, 0), ?) + ?
		 WHERE user_id = ?`,
		now.Unix(), int64(dur.Seconds()), userID,
	)
	if err != nil {
		return time.Time{}, storeErr("extend premium", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return time.Time{}, domain.ErrUserNotFound
	}

	var until int64
	err = tx.QueryRowContext(ctx,
		`SELECT premium_until FROM entitlements WHERE user_id = ?`, userID,
	).Scan(&until)
	if err != nil {
		return time.Time{}, storeErr("read premium", err)
	}

	if err := tx.Commit(); err != nil {
		return time.Time{}, storeErr("commit extend premium", err)
	}
	return time.Unix(until, 0), nil
}

// ClearPremium drops premium_until (administrative revoke).
func (d *DB) ClearPremium(ctx context.Context, userID string) error {
	_, err := d.db.ExecContext(ctx,
		`UPDATE entitlements SET premium_until = NULL WHERE user_id = ?`, userID,
	)
	if err != nil {
		return storeErr("clear premium", err)
	}
	return nil
}

// ─── Referral ───────────────────────────────────────────────────────────────

// Attribute sets referred_by first-write-wins and credits the referrer in the
// same transaction. Either everything applies or nothing does.
func (d *DB) Attribute(ctx context.Context, newUser, referrer string, reward int64, txID string, now time.Time) (bool, error) {
	tx, err := d.db.BeginTx(ctx, nil)
	if err != nil {
		return false, storeErr("begin attribute", err)
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx,
		`UPDATE entitlements SET referred_by = ?
		 WHERE user_id = ? AND referred_by IS NULL`,
		referrer, newUser,
	)
	if err != nil {
		return false, storeErr("set referred_by", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return false, nil // already attributed (or user missing) — no-op
	}

	res, err = tx.ExecContext(ctx,
		`UPDATE entitlements
		 SET referral_count = referral_count + 1, points = points + ?
		 WHERE user_id = ?`,
		reward, referrer,
	)
	if err != nil {
		return false, storeErr("credit referrer", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return false, domain.ErrUserNotFound
	}

	if err := appendLedger(ctx, tx, txID, referrer, reward, domain.TxReferralReward, now); err != nil {
		return false, err
	}

	if err := tx.Commit(); err != nil {
		return false, storeErr("commit attribute", err)
	}
	return true, nil
}

// RedeemPointsForPremium debits the threshold and extends premium as one
// statement — points spent and premium granted together or not at all.
func (d *DB) RedeemPointsForPremium(ctx context.Context, userID string, threshold int64, dur time.Duration, txID string, now time.Time) (time.Time, error) {
	tx, err := d.db.BeginTx(ctx, nil)
	if err != nil {
		return time.Time{}, storeErr("begin redeem points", err)
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx,
		`UPDATE entitlements
		 SET points = points - ?,
		     premium_until = MAX(COALESCE(premium_until, 0), ?) + ?
		 WHERE user_id = ? AND points >= ?`,
		threshold, now.Unix(), int64(dur.Seconds()), userID, threshold,
	)
	if err != nil {
		return time.Time{}, storeErr("redeem points", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		// Distinguish a short balance from a missing record.
		var points int64
		err = tx.QueryRowContext(ctx,
			`SELECT points FROM entitlements WHERE user_id = ?`, userID,
		).Scan(&points)
		if err == sql.ErrNoRows {
			return time.Time{}, domain.ErrUserNotFound
		}
		if err != nil {
			return time.Time{}, storeErr("read points", err)
		}
		return time.Time{}, domain.ErrInsufficientPoints
	}

	if err := appendLedger(ctx, tx, txID, userID, -threshold, domain.TxPremiumRedeem, now); err != nil {
		return time.Time{}, err
	}

	var until int64
	err = tx.QueryRowContext(ctx,
		`SELECT premium_until FROM entitlements WHERE user_id = ?`, userID,
	).Scan(&until)
	if err != nil {
		return time.Time{}, storeErr("read premium", err)
	}

	if err := tx.Commit(); err != nil {
		return time.Time{}, storeErr("commit redeem points", err)
	}
	return time.Unix(until, 0), nil
}

// ─── Admin ──────────────────────────────────────────────────────────────────

// ResetUser clears verification state, any pending token, and the quota
// counter. Premium has its own revoke.
func (d *DB) ResetUser(ctx context.Context, userID string, now time.Time) error {
	res, err := d.db.ExecContext(ctx,
		`UPDATE entitlements
		 SET free_attempts_used = 0, last_reset_at = ?,
		     verified_until = NULL, pending_token = NULL, token_expires_at = NULL
		 WHERE user_id = ?`,
		now.Unix(), userID,
	)
	if err != nil {
		return storeErr("reset user", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return domain.ErrUserNotFound
	}
	return nil
}

// ─── Points ledger ──────────────────────────────────────────────────────────

// PointsHistory returns recent ledger entries for a user, newest first.
func (d *DB) PointsHistory(ctx context.Context, userID string, limit int) ([]domain.PointsEntry, error) {
	rows, err := d.db.QueryContext(ctx,
		`SELECT tx_id, user_id, delta, reason, balance, created_at
		 FROM points_ledger WHERE user_id = ?
		 ORDER BY created_at DESC, tx_id LIMIT ?`,
		userID, limit,
	)
	if err != nil {
		return nil, storeErr("points history", err)
	}
	defer rows.Close()

	var entries []domain.PointsEntry
	for rows.Next() {
		var e domain.PointsEntry
		var created int64
		if err := rows.Scan(&e.TxID, &e.UserID, &e.Delta, &e.Reason, &e.Balance, &created); err != nil {
			return nil, storeErr("scan ledger entry", err)
		}
		e.CreatedAt = time.Unix(created, 0)
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// appendLedger records a points change with the post-change balance, inside
// the caller's transaction.
func appendLedger(ctx context.Context, tx *sql.Tx, txID, userID string, delta int64, reason string, now time.Time) error {
	var balance int64
	err := tx.QueryRowContext(ctx,
		`SELECT points FROM entitlements WHERE user_id = ?`, userID,
	).Scan(&balance)
	if err != nil {
		return storeErr("read balance", err)
	}

	_, err = tx.ExecContext(ctx,
		`INSERT INTO points_ledger (tx_id, user_id, delta, reason, balance, created_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		txID, userID, delta, reason, balance, now.Unix(),
	)
	if err != nil {
		return storeErr("append ledger", err)
	}
	return nil
}

// ─── Scanning ───────────────────────────────────────────────────────────────

func scanEntitlement(s scanner) (*domain.Entitlement, error) {
	var e domain.Entitlement
	var lastReset, createdAt int64
	var verifiedUntil, tokenExpires, premiumUntil sql.NullInt64
	var pendingToken, referredBy sql.NullString

	err := s.Scan(&e.UserID, &e.FreeAttemptsUsed, &lastReset, &verifiedUntil,
		&pendingToken, &tokenExpires, &premiumUntil, &e.Points, &referredBy,
		&e.ReferralCount, &createdAt)
	if err == sql.ErrNoRows {
		return nil, nil // Not found, no error
	}
	if err != nil {
		return nil, storeErr("scan entitlement", err)
	}

	if lastReset > 0 {
		e.LastResetAt = time.Unix(lastReset, 0)
	}
	e.CreatedAt = time.Unix(createdAt, 0)
	e.VerifiedUntil = unixOrZero(verifiedUntil)
	e.PremiumUntil = unixOrZero(premiumUntil)
	if pendingToken.Valid {
		e.Pending = &domain.PendingToken{
			Token:     pendingToken.String,
			ExpiresAt: unixOrZero(tokenExpires),
		}
	}
	if referredBy.Valid {
		e.ReferredBy = referredBy.String
	}
	return &e, nil
}

// storeErr wraps a driver failure so callers can fail closed on
// errors.Is(err, domain.ErrStoreUnavailable).
func storeErr(op string, err error) error {
	return fmt.Errorf("%s: %w: %v", op, domain.ErrStoreUnavailable, err)
}
