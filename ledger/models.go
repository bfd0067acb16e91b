// Package ledger defines the credit account and transaction models.
//
// An Account is the cached balance for one (user, vendor, service type)
// triple. Transactions are the append-only source of truth: the account
// balance is always derivable as the signed sum of its transactions.
package ledger

import (
	"sort"
	"strconv"
	"time"

	"github.com/gr8r/credits/id"
	"github.com/gr8r/credits/types"
)

// SystemActor is the CreatedBy value for transactions written by
// background jobs rather than a user.
const SystemActor int64 = 0

// Account is a per-(user, vendor, service) credit account.
// Accounts are created lazily on first credit and never deleted.
type Account struct {
	types.Entity
	ID          id.AccountID `json:"id"`
	UserID      int64        `json:"user_id"`
	VendorID    int64        `json:"vendor_id"`
	ServiceType string       `json:"service_type"`

	// Balance is the cached signed sum of all transactions. It includes
	// expired but not-yet-swept credit lines.
	Balance types.Amount `json:"balance"`
}

// Key returns the identity triple as a single string, used for cache
// and lock keys.
func (a *Account) Key() string {
	return AccountKey(a.UserID, a.VendorID, a.ServiceType)
}

// AccountKey builds the cache/lock key for an account identity triple.
func AccountKey(userID, vendorID int64, serviceType string) string {
	return strconv.FormatInt(userID, 10) + ":" + strconv.FormatInt(vendorID, 10) + ":" + serviceType
}

// Kind distinguishes the two transaction directions.
type Kind string

const (
	// KindCredit increases the account balance and may carry an expiry.
	KindCredit Kind = "credit"
	// KindDebit decreases the account balance and records which credit
	// lines it consumed.
	KindDebit Kind = "debit"
)

// ReferenceExpired marks the offsetting debits written by the expiry sweep.
const ReferenceExpired = "expired"

// Link records that a debit consumed part of a specific credit line.
type Link struct {
	SourceID id.TransactionID `json:"id"`
	Amount   types.Amount     `json:"amount_used"`
}

// Transaction is one immutable row in an account's ledger.
// Amount is always positive; Kind gives the sign.
type Transaction struct {
	types.Entity
	ID          id.TransactionID `json:"id"`
	AccountID   id.AccountID     `json:"account_id"`
	Kind        Kind             `json:"kind"`
	Amount      types.Amount     `json:"amount"`
	Reference   string           `json:"reference,omitempty"`
	Description string           `json:"description,omitempty"`
	CreatedBy   int64            `json:"created_by"`

	// ExpiresAt is set on credit lines only. A nil expiry never expires.
	ExpiresAt *time.Time `json:"expires_at,omitempty"`

	// Links is set on debits only: the credit lines this debit consumed,
	// oldest first.
	Links []Link `json:"links,omitempty"`
}

// Signed returns the transaction amount with its direction applied.
func (t *Transaction) Signed() types.Amount {
	if t.Kind == KindDebit {
		return t.Amount.Neg()
	}
	return t.Amount
}

// Usable reports whether a credit line can still be drawn from at the
// given instant.
func (t *Transaction) Usable(now time.Time) bool {
	return t.Kind == KindCredit && !types.Expired(t.ExpiresAt, now)
}

// ListOpts controls transaction history listings.
type ListOpts struct {
	Limit  int
	Offset int
}

// ──────────────────────────────────────────────────
// Consumption planning
// ──────────────────────────────────────────────────

// ConsumedByLine aggregates, per credit line, how much the given debits
// have already drawn from it. Keys are transaction ID strings.
func ConsumedByLine(debits []*Transaction) map[string]types.Amount {
	consumed := make(map[string]types.Amount)
	for _, d := range debits {
		for _, l := range d.Links {
			consumed[l.SourceID.String()] += l.Amount
		}
	}
	return consumed
}

// SortLines orders credit lines oldest first, with the K-sortable
// transaction ID as the tiebreak for equal timestamps.
func SortLines(lines []*Transaction) {
	sort.SliceStable(lines, func(i, j int) bool {
		if lines[i].CreatedAt.Equal(lines[j].CreatedAt) {
			return lines[i].ID.String() < lines[j].ID.String()
		}
		return lines[i].CreatedAt.Before(lines[j].CreatedAt)
	})
}

// PlanConsumption allocates amount across the given credit lines oldest
// first, skipping expired lines and honoring prior consumption. It
// returns the allocation links and the shortfall that could not be
// covered (zero on success).
//
// Stores call this inside their own transaction or lock so that the
// plan and the insert are atomic.
func PlanConsumption(lines []*Transaction, consumed map[string]types.Amount, amount types.Amount, now time.Time) ([]Link, types.Amount) {
	SortLines(lines)

	remaining := amount
	var links []Link
	for _, line := range lines {
		if remaining.IsZero() {
			break
		}
		if !line.Usable(now) {
			continue
		}
		left := line.Amount.Sub(consumed[line.ID.String()])
		if !left.IsPositive() {
			continue
		}
		take := left.Min(remaining)
		links = append(links, Link{SourceID: line.ID, Amount: take})
		remaining = remaining.Sub(take)
	}
	return links, remaining
}

// AvailableFromLines computes the drawable balance at the given instant:
// the unconsumed remainder of every non-expired credit line.
func AvailableFromLines(lines []*Transaction, consumed map[string]types.Amount, now time.Time) types.Amount {
	var available types.Amount
	for _, line := range lines {
		if !line.Usable(now) {
			continue
		}
		left := line.Amount.Sub(consumed[line.ID.String()])
		if left.IsPositive() {
			available = available.Add(left)
		}
	}
	return available
}
