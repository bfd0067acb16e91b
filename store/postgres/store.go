// Package postgres provides a PostgreSQL-backed Store.
package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

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

// Store implements store.Store on PostgreSQL via sqlx.
type Store struct {
	db *sqlx.DB
}

// New wraps an open sqlx database handle.
func New(db *sqlx.DB) *Store {
	return &Store{db: db}
}

// Open connects to PostgreSQL with the given DSN.
func Open(dsn string) (*Store, error) {
	db, err := sqlx.Connect("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("credits/postgres: connect: %w", err)
	}
	return New(db), nil
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

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// ==================== Account Store ====================

func (s *Store) GetOrCreateAccount(ctx context.Context, userID, vendorID int64, serviceType string) (*ledger.Account, error) {
	t := now()
	_, err := s.db.ExecContext(ctx, `
INSERT INTO credits_accounts (id, user_id, vendor_id, service_type, balance, created_at, updated_at)
VALUES ($1, $2, $3, $4, 0, $5, $5)
ON CONFLICT (user_id, vendor_id, service_type) DO NOTHING`,
		id.NewAccountID().String(), userID, vendorID, serviceType, t)
	if err != nil {
		return nil, err
	}
	return s.GetAccount(ctx, userID, vendorID, serviceType)
}

func (s *Store) GetAccount(ctx context.Context, userID, vendorID int64, serviceType string) (*ledger.Account, error) {
	m := new(accountModel)
	err := s.db.GetContext(ctx, m, `
SELECT * FROM credits_accounts
WHERE user_id = $1 AND vendor_id = $2 AND service_type = $3`,
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
		`SELECT * FROM credits_accounts WHERE id = $1`, accountID.String())
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
	err := s.db.SelectContext(ctx, &models, `
SELECT * FROM credits_accounts WHERE user_id = $1 ORDER BY id ASC`, userID)
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
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback() //nolint:errcheck // no-op after commit

	if err := lockAccount(ctx, tx, t.AccountID); err != nil {
		return err
	}
	if err := insertTransaction(ctx, tx, t); err != nil {
		return err
	}
	if err := applyBalance(ctx, tx, t.AccountID, t.Signed()); err != nil {
		return err
	}
	return tx.Commit()
}

func (s *Store) CreateDebit(ctx context.Context, t *ledger.Transaction) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback() //nolint:errcheck // no-op after commit

	// The row lock serializes concurrent debits against the same account.
	if err := lockAccount(ctx, tx, t.AccountID); err != nil {
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
	if err := applyBalance(ctx, tx, t.AccountID, t.Signed()); err != nil {
		return err
	}
	return tx.Commit()
}

func (s *Store) CreateExpiryDebit(ctx context.Context, t *ledger.Transaction) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback() //nolint:errcheck // no-op after commit

	if err := lockAccount(ctx, tx, t.AccountID); err != nil {
		return err
	}
	if err := insertTransaction(ctx, tx, t); err != nil {
		return err
	}
	if err := applyBalance(ctx, tx, t.AccountID, t.Signed()); err != nil {
		return err
	}
	return tx.Commit()
}

func (s *Store) ListTransactions(ctx context.Context, accountID id.AccountID, opts ledger.ListOpts) ([]*ledger.Transaction, error) {
	q := `
SELECT * FROM credits_transactions
WHERE account_id = $1
ORDER BY created_at DESC, id DESC`
	args := []interface{}{accountID.String()}

	if opts.Limit > 0 {
		args = append(args, opts.Limit)
		q += fmt.Sprintf(" LIMIT $%d", len(args))
	}
	if opts.Offset > 0 {
		args = append(args, opts.Offset)
		q += fmt.Sprintf(" OFFSET $%d", len(args))
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
		`SELECT EXISTS (SELECT 1 FROM credits_accounts WHERE id = $1)`, accountID.String())
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
WHERE t.kind = $1
  AND t.expires_at IS NOT NULL
  AND t.expires_at <= $2
  AND NOT EXISTS (
    SELECT 1
    FROM credits_transactions d, jsonb_array_elements(d.links) AS l
    WHERE d.kind = $3 AND d.reference = $4 AND l->>'id' = t.id
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
SELECT COALESCE(SUM((l->>'amount_used')::BIGINT), 0)
FROM credits_transactions t, jsonb_array_elements(t.links) AS l
WHERE t.kind = $1 AND l->>'id' = $2`,
		string(ledger.KindDebit), lineID.String())
	if err != nil {
		return 0, err
	}
	return types.Amount(total), nil
}

// queryer covers both *sqlx.DB and *sqlx.Tx.
type queryer interface {
	SelectContext(ctx context.Context, dest interface{}, query string, args ...interface{}) error
}

func accountLines(ctx context.Context, q queryer, accountID id.AccountID) (lines, debits []*ledger.Transaction, err error) {
	var models []transactionModel
	err = q.SelectContext(ctx, &models, `
SELECT * FROM credits_transactions
WHERE account_id = $1
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

func lockAccount(ctx context.Context, tx *sqlx.Tx, accountID id.AccountID) error {
	var locked string
	err := tx.GetContext(ctx, &locked,
		`SELECT id FROM credits_accounts WHERE id = $1 FOR UPDATE`, accountID.String())
	if err != nil {
		if isNoRows(err) {
			return credits.ErrNoAccount
		}
		return err
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
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
		m.ID, m.AccountID, m.Kind, m.Amount, m.Reference, m.Description,
		m.CreatedBy, m.ExpiresAt, m.Links, m.CreatedAt, m.UpdatedAt)
	return err
}

func applyBalance(ctx context.Context, tx *sqlx.Tx, accountID id.AccountID, delta types.Amount) error {
	res, err := tx.ExecContext(ctx, `
UPDATE credits_accounts SET balance = balance + $1, updated_at = $2 WHERE id = $3`,
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
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)`,
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
		`SELECT * FROM credits_coupons WHERE code = $1`, code)
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
		`SELECT * FROM credits_coupons WHERE id = $1`, couponID.String())
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
	q := fmt.Sprintf(`SELECT * FROM credits_coupons WHERE %s = $1`, column)
	args := []interface{}{value}

	if !opts.IncludeUsed {
		q += ` AND used = FALSE`
	}
	q += ` ORDER BY created_at DESC, code DESC`
	if opts.Limit > 0 {
		args = append(args, opts.Limit)
		q += fmt.Sprintf(" LIMIT $%d", len(args))
	}
	if opts.Offset > 0 {
		args = append(args, opts.Offset)
		q += fmt.Sprintf(" OFFSET $%d", len(args))
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
UPDATE credits_coupons SET used = TRUE, used_at = $1, updated_at = $1
WHERE code = $2 AND used = FALSE`, usedAt, code)
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
			`SELECT EXISTS (SELECT 1 FROM credits_coupons WHERE code = $1)`, code); err != nil {
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
UPDATE credits_coupons SET order_ref = $1, updated_at = $2 WHERE code = $3`,
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
		`DELETE FROM credits_coupons WHERE code = $1`, code)
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
		`DELETE FROM credits_coupons WHERE used = FALSE AND expires_at <= $1`, at)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func (s *Store) CouponStats(ctx context.Context, vendorID int64, at time.Time) (*coupon.Stats, error) {
	q := `
SELECT
    COUNT(*)                                                    AS total,
    COUNT(*) FILTER (WHERE used)                                AS used,
    COUNT(*) FILTER (WHERE NOT used AND expires_at > $1)        AS active,
    COUNT(*) FILTER (WHERE NOT used AND expires_at <= $1)       AS expired
FROM credits_coupons`
	args := []interface{}{at}
	if vendorID != 0 {
		q += ` WHERE vendor_id = $2`
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
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
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
		`SELECT * FROM credits_tokens WHERE id = $1`, tokenID.String())
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
UPDATE credits_tokens SET used = TRUE, used_at = $1, updated_at = $1
WHERE id = $2 AND used = FALSE`, usedAt, tokenID.String())
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
			`SELECT EXISTS (SELECT 1 FROM credits_tokens WHERE id = $1)`, tokenID.String()); err != nil {
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
		`DELETE FROM credits_tokens WHERE expires_at <= $1`, at)
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
VALUES ($1, $2, $3, $4, $5, $6)`,
		m.ID, m.OccurredAt, m.UserID, m.IP, m.Event, m.Details)
	return err
}

func (s *Store) CountSecurityEvents(ctx context.Context, ip string, events []string, since time.Time) (int64, error) {
	var count int64
	err := s.db.GetContext(ctx, &count, `
SELECT COUNT(*) FROM credits_security_log
WHERE ip = $1 AND event = ANY($2) AND occurred_at >= $3`,
		ip, pq.Array(events), since)
	if err != nil {
		return 0, err
	}
	return count, nil
}

func (s *Store) PruneSecurityEvents(ctx context.Context, before time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM credits_security_log WHERE occurred_at < $1`, before)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func (s *Store) BlockIP(ctx context.Context, ip string, at time.Time) error {
	_, err := s.db.ExecContext(ctx, `
INSERT INTO credits_blocked_ips (ip, blocked_at) VALUES ($1, $2)
ON CONFLICT (ip) DO NOTHING`, ip, at)
	return err
}

func (s *Store) UnblockIP(ctx context.Context, ip string) error {
	_, err := s.db.ExecContext(ctx,
		`DELETE FROM credits_blocked_ips WHERE ip = $1`, ip)
	return err
}

func (s *Store) IsIPBlocked(ctx context.Context, ip string) (bool, error) {
	var blocked bool
	err := s.db.GetContext(ctx, &blocked,
		`SELECT EXISTS (SELECT 1 FROM credits_blocked_ips WHERE ip = $1)`, ip)
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

// isUniqueViolation checks for the PostgreSQL unique_violation error.
func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == "23505"
}
