// Package sqlite provides a file-backed Store for single-node deployments.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"
	_ "modernc.org/sqlite" // registers the "sqlite" driver

	"github.com/gr8r/credits"
	"github.com/gr8r/credits/coupon"
	"github.com/gr8r/credits/guard"
	"github.com/gr8r/credits/id"
	"github.com/gr8r/credits/ledger"
	"github.com/gr8r/credits/store"
	"github.com/gr8r/credits/types"
)

// compile-time interface check
var _ store.Store = (*Store)(nil)

// Store implements store.Store on SQLite via sqlx and modernc.org/sqlite.
type Store struct {
	db *sqlx.DB
}

// Open opens (or creates) the database at path.
func Open(path string) (*Store, error) {
	db, err := sqlx.Connect("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("credits/sqlite: open %s: %w", path, err)
	}
	// A single connection serializes writers and keeps transactions
	// free of SQLITE_BUSY errors.
	db.SetMaxOpenConns(1)
	for _, pragma := range []string{
		`PRAGMA journal_mode = WAL`,
		`PRAGMA foreign_keys = ON`,
		`PRAGMA busy_timeout = 5000`,
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close() //nolint:errcheck // already failing
			return nil, fmt.Errorf("credits/sqlite: %s: %w", pragma, err)
		}
	}
	return &Store{db: db}, nil
}

// New wraps an already-open sqlx database handle.
func New(db *sqlx.DB) *Store {
	return &Store{db: db}
}

// DB returns the underlying database handle for direct access.
func (s *Store) DB() *sqlx.DB { return s.db }

// Migrate creates the required tables and indexes.
func (s *Store) Migrate(ctx context.Context) error {
	return runMigrations(ctx, s.db)
}

// Ping checks database connectivity.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

// ==================== Account Store ====================

func (s *Store) GetOrCreateAccount(ctx context.Context, userID, vendorID int64, serviceType string) (*ledger.Account, error) {
	t := now()
	_, err := s.db.ExecContext(ctx, `
INSERT INTO credits_accounts (id, user_id, vendor_id, service_type, balance, created_at, updated_at)
VALUES (?, ?, ?, ?, 0, ?, ?)
ON CONFLICT (user_id, vendor_id, service_type) DO NOTHING`,
		id.NewAccountID().String(), userID, vendorID, serviceType, t, t)
	if err != nil {
		return nil, err
	}
	return s.GetAccount(ctx, userID, vendorID, serviceType)
}

func (s *Store) GetAccount(ctx context.Context, userID, vendorID int64, serviceType string) (*ledger.Account, error) {
	m := new(accountModel)
	err := s.db.GetContext(ctx, m, `
SELECT * FROM credits_accounts
WHERE user_id = ? AND vendor_id = ? AND service_type = ?`,
		userID, vendorID, serviceType)
	if err != nil {
		if isNoRows(err) {
			return nil, credits.ErrNoAccount
		}
		return nil, err
	}
	return fromAccountModel(m)
}

func (s *Store) GetAccountByID(ctx context.Context, accountID id.AccountID) (*ledger.Account, error) {
	m := new(accountModel)
	err := s.db.GetContext(ctx, m,
		`SELECT * FROM credits_accounts WHERE id = ?`, accountID.String())
	if err != nil {
		if isNoRows(err) {
			return nil, credits.ErrNoAccount
		}
		return nil, err
	}
	return fromAccountModel(m)
}

func (s *Store) ListAccountsByUser(ctx context.Context, userID int64) ([]*ledger.Account, error) {
	var models []accountModel
	err := s.db.SelectContext(ctx, &models,
		`SELECT * FROM credits_accounts WHERE user_id = ? ORDER BY id ASC`, userID)
	if err != nil {
		return nil, err
	}

	result := make([]*ledger.Account, len(models))
	for i := range models {
		a, err := fromAccountModel(&models[i])
		if err != nil {
			return nil, err
		}
		result[i] = a
	}
	return result, nil
}

// ==================== Transaction Store ====================

func (s *Store) CreateCredit(ctx context.Context, t *ledger.Transaction) error {
	return s.inTx(ctx, func(tx *sqlx.Tx) error {
		if err := accountExists(ctx, tx, t.AccountID); err != nil {
			return err
		}
		if err := insertTransaction(ctx, tx, t); err != nil {
			return err
		}
		return applyBalance(ctx, tx, t.AccountID, t.Signed())
	})
}

func (s *Store) CreateDebit(ctx context.Context, t *ledger.Transaction) error {
	return s.inTx(ctx, func(tx *sqlx.Tx) error {
		if err := accountExists(ctx, tx, t.AccountID); err != nil {
			return err
		}

		lines, debits, err := accountLines(ctx, tx, t.AccountID)
		if err != nil {
			return err
		}

		planTime := now()
		consumed := ledger.ConsumedByLine(debits)
		available := ledger.AvailableFromLines(lines, consumed, planTime)
		if available < t.Amount {
			return &credits.InsufficientCreditsError{Available: available, Requested: t.Amount}
		}
		links, short := ledger.PlanConsumption(lines, consumed, t.Amount, planTime)
		if short.IsPositive() {
			return &credits.InsufficientCreditsError{Available: available, Requested: t.Amount}
		}
		t.Links = links

		if err := insertTransaction(ctx, tx, t); err != nil {
			return err
		}
		return applyBalance(ctx, tx, t.AccountID, t.Signed())
	})
}

func (s *Store) CreateExpiryDebit(ctx context.Context, t *ledger.Transaction) error {
	return s.inTx(ctx, func(tx *sqlx.Tx) error {
		if err := accountExists(ctx, tx, t.AccountID); err != nil {
			return err
		}
		if err := insertTransaction(ctx, tx, t); err != nil {
			return err
		}
		return applyBalance(ctx, tx, t.AccountID, t.Signed())
	})
}

func (s *Store) ListTransactions(ctx context.Context, accountID id.AccountID, opts ledger.ListOpts) ([]*ledger.Transaction, error) {
	q := `
SELECT * FROM credits_transactions
WHERE account_id = ?
ORDER BY created_at DESC, id DESC`
	args := []interface{}{accountID.String()}

	if opts.Limit > 0 {
		q += ` LIMIT ?`
		args = append(args, opts.Limit)
	}
	if opts.Offset > 0 {
		if opts.Limit == 0 {
			q += ` LIMIT -1`
		}
		q += ` OFFSET ?`
		args = append(args, opts.Offset)
	}

	var models []transactionModel
	if err := s.db.SelectContext(ctx, &models, q, args...); err != nil {
		return nil, err
	}

	result := make([]*ledger.Transaction, len(models))
	for i := range models {
		t, err := fromTransactionModel(&models[i])
		if err != nil {
			return nil, err
		}
		result[i] = t
	}
	return result, nil
}

func (s *Store) AvailableBalance(ctx context.Context, accountID id.AccountID, at time.Time) (types.Amount, error) {
	var exists bool
	err := s.db.GetContext(ctx, &exists,
		`SELECT EXISTS (SELECT 1 FROM credits_accounts WHERE id = ?)`, accountID.String())
	if err != nil {
		return 0, err
	}
	if !exists {
		return 0, credits.ErrNoAccount
	}

	lines, debits, err := accountLines(ctx, s.db, accountID)
	if err != nil {
		return 0, err
	}
	return ledger.AvailableFromLines(lines, ledger.ConsumedByLine(debits), at), nil
}

func (s *Store) ExpiredCreditLines(ctx context.Context, at time.Time) ([]*ledger.Transaction, error) {
	var models []transactionModel
	err := s.db.SelectContext(ctx, &models, `
SELECT t.* FROM credits_transactions t
WHERE t.kind = ?
  AND t.expires_at IS NOT NULL
  AND t.expires_at <= ?
  AND NOT EXISTS (
    SELECT 1
    FROM credits_transactions d, json_each(d.links) AS l
    WHERE d.kind = ? AND d.reference = ? AND json_extract(l.value, '$.id') = t.id
  )
ORDER BY t.created_at ASC, t.id ASC`,
		string(ledger.KindCredit), at, string(ledger.KindDebit), ledger.ReferenceExpired)
	if err != nil {
		return nil, err
	}

	result := make([]*ledger.Transaction, len(models))
	for i := range models {
		t, err := fromTransactionModel(&models[i])
		if err != nil {
			return nil, err
		}
		result[i] = t
	}
	return result, nil
}

func (s *Store) ConsumedAmount(ctx context.Context, lineID id.TransactionID) (types.Amount, error) {
	var total int64
	err := s.db.GetContext(ctx, &total, `
SELECT COALESCE(SUM(json_extract(l.value, '$.amount_used')), 0)
FROM credits_transactions t, json_each(t.links) AS l
WHERE t.kind = ? AND json_extract(l.value, '$.id') = ?`,
		string(ledger.KindDebit), lineID.String())
	if err != nil {
		return 0, err
	}
	return types.Amount(total), nil
}

func (s *Store) inTx(ctx context.Context, fn func(tx *sqlx.Tx) error) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return err
	}
	if err := fn(tx); err != nil {
		tx.Rollback() //nolint:errcheck // rollback on failure path
		return err
	}
	return tx.Commit()
}

// queryer covers both *sqlx.DB and *sqlx.Tx.
type queryer interface {
	SelectContext(ctx context.Context, dest interface{}, query string, args ...interface{}) error
}

func accountLines(ctx context.Context, q queryer, accountID id.AccountID) (lines, debits []*ledger.Transaction, err error) {
	var models []transactionModel
	err = q.SelectContext(ctx, &models, `
SELECT * FROM credits_transactions
WHERE account_id = ?
ORDER BY created_at ASC, id ASC`, accountID.String())
	if err != nil {
		return nil, nil, err
	}

	for i := range models {
		t, err := fromTransactionModel(&models[i])
		if err != nil {
			return nil, nil, err
		}
		if t.Kind == ledger.KindCredit {
			lines = append(lines, t)
		} else {
			debits = append(debits, t)
		}
	}
	return lines, debits, nil
}

func accountExists(ctx context.Context, tx *sqlx.Tx, accountID id.AccountID) error {
	var exists bool
	err := tx.GetContext(ctx, &exists,
		`SELECT EXISTS (SELECT 1 FROM credits_accounts WHERE id = ?)`, accountID.String())
	if err != nil {
		return err
	}
	if !exists {
		return credits.ErrNoAccount
	}
	return nil
}

func insertTransaction(ctx context.Context, tx *sqlx.Tx, t *ledger.Transaction) error {
	m, err := toTransactionModel(t)
	if err != nil {
		return err
	}
	_, err = tx.ExecContext(ctx, `
INSERT INTO credits_transactions
    (id, account_id, kind, amount, reference, description, created_by, expires_at, links, created_at, updated_at)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		m.ID, m.AccountID, m.Kind, m.Amount, m.Reference, m.Description,
		m.CreatedBy, m.ExpiresAt, m.Links, m.CreatedAt, m.UpdatedAt)
	return err
}

func applyBalance(ctx context.Context, tx *sqlx.Tx, accountID id.AccountID, delta types.Amount) error {
	res, err := tx.ExecContext(ctx, `
UPDATE credits_accounts SET balance = balance + ?, updated_at = ? WHERE id = ?`,
		int64(delta), now(), accountID.String())
	if err != nil {
		return err
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return credits.ErrNoAccount
	}
	return nil
}

// ==================== Coupon Store ====================

func (s *Store) CreateCoupon(ctx context.Context, c *coupon.Coupon) error {
	m, err := toCouponModel(c)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `
INSERT INTO credits_coupons
    (id, code, user_id, vendor_id, session_id, kind, value, expires_at, used, used_at,
     order_ref, created_by, metadata, created_at, updated_at)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		m.ID, m.Code, m.UserID, m.VendorID, m.SessionID, m.Kind, m.Value, m.ExpiresAt,
		m.Used, m.UsedAt, m.OrderRef, m.CreatedBy, m.Metadata, m.CreatedAt, m.UpdatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return credits.ErrAlreadyExists
		}
		return err
	}
	return nil
}

func (s *Store) GetCoupon(ctx context.Context, code string) (*coupon.Coupon, error) {
	m := new(couponModel)
	err := s.db.GetContext(ctx, m,
		`SELECT * FROM credits_coupons WHERE code = ?`, code)
	if err != nil {
		if isNoRows(err) {
			return nil, credits.ErrCouponNotFound
		}
		return nil, err
	}
	return fromCouponModel(m)
}

func (s *Store) GetCouponByID(ctx context.Context, couponID id.CouponID) (*coupon.Coupon, error) {
	m := new(couponModel)
	err := s.db.GetContext(ctx, m,
		`SELECT * FROM credits_coupons WHERE id = ?`, couponID.String())
	if err != nil {
		if isNoRows(err) {
			return nil, credits.ErrCouponNotFound
		}
		return nil, err
	}
	return fromCouponModel(m)
}

func (s *Store) ListCouponsByUser(ctx context.Context, userID int64, opts coupon.ListOpts) ([]*coupon.Coupon, error) {
	return s.listCoupons(ctx, "user_id", userID, opts)
}

func (s *Store) ListCouponsByVendor(ctx context.Context, vendorID int64, opts coupon.ListOpts) ([]*coupon.Coupon, error) {
	return s.listCoupons(ctx, "vendor_id", vendorID, opts)
}

func (s *Store) ListCouponsBySession(ctx context.Context, sessionID string, opts coupon.ListOpts) ([]*coupon.Coupon, error) {
	return s.listCoupons(ctx, "session_id", sessionID, opts)
}

func (s *Store) listCoupons(ctx context.Context, column string, value interface{}, opts coupon.ListOpts) ([]*coupon.Coupon, error) {
	q := fmt.Sprintf(`SELECT * FROM credits_coupons WHERE %s = ?`, column)
	args := []interface{}{value}

	if !opts.IncludeUsed {
		q += ` AND used = 0`
	}
	q += ` ORDER BY created_at DESC, code DESC`
	if opts.Limit > 0 {
		q += ` LIMIT ?`
		args = append(args, opts.Limit)
	}
	if opts.Offset > 0 {
		if opts.Limit == 0 {
			q += ` LIMIT -1`
		}
		q += ` OFFSET ?`
		args = append(args, opts.Offset)
	}

	var models []couponModel
	if err := s.db.SelectContext(ctx, &models, q, args...); err != nil {
		return nil, err
	}

	result := make([]*coupon.Coupon, len(models))
	for i := range models {
		c, err := fromCouponModel(&models[i])
		if err != nil {
			return nil, err
		}
		result[i] = c
	}
	return result, nil
}

func (s *Store) MarkCouponUsed(ctx context.Context, code string, usedAt time.Time) error {
	res, err := s.db.ExecContext(ctx, `
UPDATE credits_coupons SET used = 1, used_at = ?, updated_at = ?
WHERE code = ? AND used = 0`, usedAt, usedAt, code)
	if err != nil {
		return err
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		var exists bool
		if err := s.db.GetContext(ctx, &exists,
			`SELECT EXISTS (SELECT 1 FROM credits_coupons WHERE code = ?)`, code); err != nil {
			return err
		}
		if !exists {
			return credits.ErrCouponNotFound
		}
		return credits.ErrCouponAlreadyUsed
	}
	return nil
}

func (s *Store) SetCouponOrderRef(ctx context.Context, code, orderRef string) error {
	res, err := s.db.ExecContext(ctx, `
UPDATE credits_coupons SET order_ref = ?, updated_at = ? WHERE code = ?`,
		orderRef, now(), code)
	if err != nil {
		return err
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return credits.ErrCouponNotFound
	}
	return nil
}

func (s *Store) DeleteCoupon(ctx context.Context, code string) error {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM credits_coupons WHERE code = ?`, code)
	if err != nil {
		return err
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return credits.ErrCouponNotFound
	}
	return nil
}

func (s *Store) DeleteExpiredCoupons(ctx context.Context, at time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM credits_coupons WHERE used = 0 AND expires_at <= ?`, at)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func (s *Store) CouponStats(ctx context.Context, vendorID int64, at time.Time) (*coupon.Stats, error) {
	q := `
SELECT
    COUNT(*)                                                   AS total,
    COUNT(*) FILTER (WHERE used)                               AS used,
    COUNT(*) FILTER (WHERE NOT used AND expires_at > ?)        AS active,
    COUNT(*) FILTER (WHERE NOT used AND expires_at <= ?)       AS expired
FROM credits_coupons`
	args := []interface{}{at, at}
	if vendorID != 0 {
		q += ` WHERE vendor_id = ?`
		args = append(args, vendorID)
	}

	stats := new(coupon.Stats)
	if err := s.db.GetContext(ctx, stats, q, args...); err != nil {
		return nil, err
	}
	return stats, nil
}

// ==================== Token Store ====================

func (s *Store) CreateToken(ctx context.Context, t *coupon.AutoApplyToken) error {
	m := toTokenModel(t)
	_, err := s.db.ExecContext(ctx, `
INSERT INTO credits_tokens
    (id, coupon_id, user_id, vendor_id, session_id, expires_at, used, used_at, created_at, updated_at)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		m.ID, m.CouponID, m.UserID, m.VendorID, m.SessionID, m.ExpiresAt,
		m.Used, m.UsedAt, m.CreatedAt, m.UpdatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return credits.ErrAlreadyExists
		}
		return err
	}
	return nil
}

func (s *Store) GetToken(ctx context.Context, tokenID id.TokenID) (*coupon.AutoApplyToken, error) {
	m := new(tokenModel)
	err := s.db.GetContext(ctx, m,
		`SELECT * FROM credits_tokens WHERE id = ?`, tokenID.String())
	if err != nil {
		if isNoRows(err) {
			return nil, credits.ErrTokenNotFound
		}
		return nil, err
	}
	return fromTokenModel(m)
}

func (s *Store) MarkTokenUsed(ctx context.Context, tokenID id.TokenID, usedAt time.Time) error {
	res, err := s.db.ExecContext(ctx, `
UPDATE credits_tokens SET used = 1, used_at = ?, updated_at = ?
WHERE id = ? AND used = 0`, usedAt, usedAt, tokenID.String())
	if err != nil {
		return err
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		var exists bool
		if err := s.db.GetContext(ctx, &exists,
			`SELECT EXISTS (SELECT 1 FROM credits_tokens WHERE id = ?)`, tokenID.String()); err != nil {
			return err
		}
		if !exists {
			return credits.ErrTokenNotFound
		}
		return credits.ErrCouponAlreadyUsed
	}
	return nil
}

func (s *Store) DeleteExpiredTokens(ctx context.Context, at time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM credits_tokens WHERE expires_at <= ?`, at)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// ==================== Security Log Store ====================

func (s *Store) AppendSecurityEvent(ctx context.Context, e *guard.LogEntry) error {
	m := toLogEntryModel(e)
	_, err := s.db.ExecContext(ctx, `
INSERT INTO credits_security_log (id, occurred_at, user_id, ip, event, details)
VALUES (?, ?, ?, ?, ?, ?)`,
		m.ID, m.OccurredAt, m.UserID, m.IP, m.Event, m.Details)
	return err
}

func (s *Store) CountSecurityEvents(ctx context.Context, ip string, events []string, since time.Time) (int64, error) {
	q, args, err := sqlx.In(`
SELECT COUNT(*) FROM credits_security_log
WHERE ip = ? AND event IN (?) AND occurred_at >= ?`, ip, events, since)
	if err != nil {
		return 0, err
	}

	var count int64
	if err := s.db.GetContext(ctx, &count, s.db.Rebind(q), args...); err != nil {
		return 0, err
	}
	return count, nil
}

func (s *Store) PruneSecurityEvents(ctx context.Context, before time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM credits_security_log WHERE occurred_at < ?`, before)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func (s *Store) BlockIP(ctx context.Context, ip string, at time.Time) error {
	_, err := s.db.ExecContext(ctx, `
INSERT INTO credits_blocked_ips (ip, blocked_at) VALUES (?, ?)
ON CONFLICT (ip) DO NOTHING`, ip, at)
	return err
}

func (s *Store) UnblockIP(ctx context.Context, ip string) error {
	_, err := s.db.ExecContext(ctx,
		`DELETE FROM credits_blocked_ips WHERE ip = ?`, ip)
	return err
}

func (s *Store) IsIPBlocked(ctx context.Context, ip string) (bool, error) {
	var blocked bool
	err := s.db.GetContext(ctx, &blocked,
		`SELECT EXISTS (SELECT 1 FROM credits_blocked_ips WHERE ip = ?)`, ip)
	if err != nil {
		return false, err
	}
	return blocked, nil
}

// ==================== Helpers ====================

// now returns the current UTC time.
func now() time.Time {
	return time.Now().UTC()
}

// isNoRows checks for the standard sql.ErrNoRows sentinel.
func isNoRows(err error) bool {
	return errors.Is(err, sql.ErrNoRows)
}

// isUniqueViolation checks for the SQLite unique constraint error.
func isUniqueViolation(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}
