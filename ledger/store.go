package ledger

import (
	"context"
	"time"

	"github.com/gr8r/credits/id"
	"github.com/gr8r/credits/types"
)

// Store is the persistence interface for accounts and transactions.
//
// CreateCredit and CreateDebit are atomic: they insert the transaction
// and recompute the cached account balance in one step. CreateDebit
// additionally plans FIFO consumption and enforces the available-balance
// check inside the same transaction or lock, returning
// InsufficientCreditsError when the account cannot cover the amount.
type Store interface {
	GetOrCreateAccount(ctx context.Context, userID, vendorID int64, serviceType string) (*Account, error)
	GetAccount(ctx context.Context, userID, vendorID int64, serviceType string) (*Account, error)
	GetAccountByID(ctx context.Context, accountID id.AccountID) (*Account, error)
	ListAccountsByUser(ctx context.Context, userID int64) ([]*Account, error)

	// CreateCredit appends a credit line and recomputes the balance.
	CreateCredit(ctx context.Context, t *Transaction) error

	// CreateDebit plans FIFO consumption, fills t.Links, verifies the
	// available balance and appends the debit, all atomically.
	CreateDebit(ctx context.Context, t *Transaction) error

	// CreateExpiryDebit appends an offsetting debit for an expired credit
	// line. t.Links names the line being reversed; no availability check
	// applies since the reversed line is itself expired.
	CreateExpiryDebit(ctx context.Context, t *Transaction) error

	ListTransactions(ctx context.Context, accountID id.AccountID, opts ListOpts) ([]*Transaction, error)

	// AvailableBalance computes the drawable balance at the given instant:
	// non-expired credit lines minus everything already consumed.
	AvailableBalance(ctx context.Context, accountID id.AccountID, now time.Time) (types.Amount, error)

	// ExpiredCreditLines returns credit lines whose expiry has passed,
	// across all accounts, for the sweep to reverse.
	ExpiredCreditLines(ctx context.Context, now time.Time) ([]*Transaction, error)

	// ConsumedAmount returns how much of a credit line has been drawn,
	// by ordinary debits and expiry reversals alike.
	ConsumedAmount(ctx context.Context, lineID id.TransactionID) (types.Amount, error)
}
