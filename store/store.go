package store

import (
	"context"
	"time"

	"github.com/gr8r/credits/coupon"
	"github.com/gr8r/credits/guard"
	"github.com/gr8r/credits/id"
	"github.com/gr8r/credits/ledger"
	"github.com/gr8r/credits/types"
)

// Store is the unified storage interface for all Credits entities.
// Instead of embedding the sub-interfaces, we explicitly declare all
// methods to avoid naming conflicts.
type Store interface {
	// Account methods
	GetOrCreateAccount(ctx context.Context, userID, vendorID int64, serviceType string) (*ledger.Account, error)
	GetAccount(ctx context.Context, userID, vendorID int64, serviceType string) (*ledger.Account, error)
	GetAccountByID(ctx context.Context, accountID id.AccountID) (*ledger.Account, error)
	ListAccountsByUser(ctx context.Context, userID int64) ([]*ledger.Account, error)

	// Transaction methods
	CreateCredit(ctx context.Context, t *ledger.Transaction) error
	CreateDebit(ctx context.Context, t *ledger.Transaction) error
	CreateExpiryDebit(ctx context.Context, t *ledger.Transaction) error
	ListTransactions(ctx context.Context, accountID id.AccountID, opts ledger.ListOpts) ([]*ledger.Transaction, error)
	AvailableBalance(ctx context.Context, accountID id.AccountID, now time.Time) (types.Amount, error)
	ExpiredCreditLines(ctx context.Context, now time.Time) ([]*ledger.Transaction, error)
	ConsumedAmount(ctx context.Context, lineID id.TransactionID) (types.Amount, error)

	// Coupon methods
	CreateCoupon(ctx context.Context, c *coupon.Coupon) error
	GetCoupon(ctx context.Context, code string) (*coupon.Coupon, error)
	GetCouponByID(ctx context.Context, couponID id.CouponID) (*coupon.Coupon, error)
	ListCouponsByUser(ctx context.Context, userID int64, opts coupon.ListOpts) ([]*coupon.Coupon, error)
	ListCouponsByVendor(ctx context.Context, vendorID int64, opts coupon.ListOpts) ([]*coupon.Coupon, error)
	ListCouponsBySession(ctx context.Context, sessionID string, opts coupon.ListOpts) ([]*coupon.Coupon, error)
	MarkCouponUsed(ctx context.Context, code string, usedAt time.Time) error
	SetCouponOrderRef(ctx context.Context, code, orderRef string) error
	DeleteCoupon(ctx context.Context, code string) error
	DeleteExpiredCoupons(ctx context.Context, now time.Time) (int64, error)
	CouponStats(ctx context.Context, vendorID int64, now time.Time) (*coupon.Stats, error)

	// Auto-apply token methods
	CreateToken(ctx context.Context, t *coupon.AutoApplyToken) error
	GetToken(ctx context.Context, tokenID id.TokenID) (*coupon.AutoApplyToken, error)
	MarkTokenUsed(ctx context.Context, tokenID id.TokenID, usedAt time.Time) error
	DeleteExpiredTokens(ctx context.Context, now time.Time) (int64, error)

	// Security log methods
	AppendSecurityEvent(ctx context.Context, e *guard.LogEntry) error
	CountSecurityEvents(ctx context.Context, ip string, events []string, since time.Time) (int64, error)
	PruneSecurityEvents(ctx context.Context, before time.Time) (int64, error)
	BlockIP(ctx context.Context, ip string, at time.Time) error
	UnblockIP(ctx context.Context, ip string) error
	IsIPBlocked(ctx context.Context, ip string) (bool, error)

	// Core methods
	Migrate(ctx context.Context) error
	Ping(ctx context.Context) error
	Close() error
}
