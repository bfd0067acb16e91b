// Package memory provides an in-process Store for tests and development.
package memory

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

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

type Store struct {
	mu sync.RWMutex

	// Account storage
	accounts     map[string]*ledger.Account // by ID
	accountByKey map[string]string          // identity triple -> ID

	// Transaction storage, append-only in insertion order
	transactions []*ledger.Transaction

	// Coupon storage
	coupons map[string]*coupon.Coupon // by code
	tokens  map[string]*coupon.AutoApplyToken

	// Security log
	events  []*guard.LogEntry
	blocked map[string]time.Time
}

func New() *Store {
	return &Store{
		accounts:     make(map[string]*ledger.Account),
		accountByKey: make(map[string]string),
		transactions: make([]*ledger.Transaction, 0),
		coupons:      make(map[string]*coupon.Coupon),
		tokens:       make(map[string]*coupon.AutoApplyToken),
		events:       make([]*guard.LogEntry, 0),
		blocked:      make(map[string]time.Time),
	}
}

// ==================== Account Store ====================

func (s *Store) GetOrCreateAccount(_ context.Context, userID, vendorID int64, serviceType string) (*ledger.Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := ledger.AccountKey(userID, vendorID, serviceType)
	if accountID, ok := s.accountByKey[key]; ok {
		return copyAccount(s.accounts[accountID]), nil
	}

	a := &ledger.Account{
		Entity:      types.NewEntity(),
		ID:          id.NewAccountID(),
		UserID:      userID,
		VendorID:    vendorID,
		ServiceType: serviceType,
	}
	s.accounts[a.ID.String()] = a
	s.accountByKey[key] = a.ID.String()
	return copyAccount(a), nil
}

func (s *Store) GetAccount(_ context.Context, userID, vendorID int64, serviceType string) (*ledger.Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	key := ledger.AccountKey(userID, vendorID, serviceType)
	if accountID, ok := s.accountByKey[key]; ok {
		return copyAccount(s.accounts[accountID]), nil
	}
	return nil, credits.ErrNoAccount
}

func (s *Store) GetAccountByID(_ context.Context, accountID id.AccountID) (*ledger.Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if a, ok := s.accounts[accountID.String()]; ok {
		return copyAccount(a), nil
	}
	return nil, credits.ErrNoAccount
}

func (s *Store) ListAccountsByUser(_ context.Context, userID int64) ([]*ledger.Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]*ledger.Account, 0)
	for _, a := range s.accounts {
		if a.UserID == userID {
			result = append(result, copyAccount(a))
		}
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].ID.String() < result[j].ID.String()
	})
	return result, nil
}

// ==================== Transaction Store ====================

func (s *Store) CreateCredit(_ context.Context, t *ledger.Transaction) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.accounts[t.AccountID.String()]; !ok {
		return credits.ErrNoAccount
	}
	s.transactions = append(s.transactions, copyTransaction(t))
	s.recomputeBalance(t.AccountID)
	return nil
}

func (s *Store) CreateDebit(_ context.Context, t *ledger.Transaction) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.accounts[t.AccountID.String()]; !ok {
		return credits.ErrNoAccount
	}

	now := time.Now().UTC()
	lines, debits := s.accountLines(t.AccountID)
	consumed := ledger.ConsumedByLine(debits)

	available := ledger.AvailableFromLines(lines, consumed, now)
	if available < t.Amount {
		return &credits.InsufficientCreditsError{Available: available, Requested: t.Amount}
	}

	links, short := ledger.PlanConsumption(lines, consumed, t.Amount, now)
	if short.IsPositive() {
		return &credits.InsufficientCreditsError{Available: available, Requested: t.Amount}
	}
	t.Links = links

	s.transactions = append(s.transactions, copyTransaction(t))
	s.recomputeBalance(t.AccountID)
	return nil
}

func (s *Store) CreateExpiryDebit(_ context.Context, t *ledger.Transaction) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.accounts[t.AccountID.String()]; !ok {
		return credits.ErrNoAccount
	}
	s.transactions = append(s.transactions, copyTransaction(t))
	s.recomputeBalance(t.AccountID)
	return nil
}

func (s *Store) ListTransactions(_ context.Context, accountID id.AccountID, opts ledger.ListOpts) ([]*ledger.Transaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]*ledger.Transaction, 0)
	for _, t := range s.transactions {
		if t.AccountID.String() == accountID.String() {
			result = append(result, copyTransaction(t))
		}
	}
	// Newest first.
	sort.SliceStable(result, func(i, j int) bool {
		if result[i].CreatedAt.Equal(result[j].CreatedAt) {
			return result[i].ID.String() > result[j].ID.String()
		}
		return result[i].CreatedAt.After(result[j].CreatedAt)
	})

	start := opts.Offset
	if start > len(result) {
		start = len(result)
	}
	end := start + opts.Limit
	if opts.Limit == 0 || end > len(result) {
		end = len(result)
	}
	return result[start:end], nil
}

func (s *Store) AvailableBalance(_ context.Context, accountID id.AccountID, now time.Time) (types.Amount, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if _, ok := s.accounts[accountID.String()]; !ok {
		return 0, credits.ErrNoAccount
	}
	lines, debits := s.accountLines(accountID)
	return ledger.AvailableFromLines(lines, ledger.ConsumedByLine(debits), now), nil
}

func (s *Store) ExpiredCreditLines(_ context.Context, now time.Time) ([]*ledger.Transaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	reversed := make(map[string]bool)
	for _, t := range s.transactions {
		if t.Kind == ledger.KindDebit && t.Reference == ledger.ReferenceExpired {
			for _, l := range t.Links {
				reversed[l.SourceID.String()] = true
			}
		}
	}

	result := make([]*ledger.Transaction, 0)
	for _, t := range s.transactions {
		if t.Kind != ledger.KindCredit || !types.Expired(t.ExpiresAt, now) {
			continue
		}
		if reversed[t.ID.String()] {
			continue
		}
		result = append(result, copyTransaction(t))
	}
	return result, nil
}

func (s *Store) ConsumedAmount(_ context.Context, lineID id.TransactionID) (types.Amount, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var total types.Amount
	for _, t := range s.transactions {
		if t.Kind != ledger.KindDebit {
			continue
		}
		for _, l := range t.Links {
			if l.SourceID.String() == lineID.String() {
				total = total.Add(l.Amount)
			}
		}
	}
	return total, nil
}

// accountLines splits an account's transactions into credit lines and
// debits. Callers hold s.mu.
func (s *Store) accountLines(accountID id.AccountID) (lines, debits []*ledger.Transaction) {
	for _, t := range s.transactions {
		if t.AccountID.String() != accountID.String() {
			continue
		}
		if t.Kind == ledger.KindCredit {
			lines = append(lines, t)
		} else {
			debits = append(debits, t)
		}
	}
	return lines, debits
}

// recomputeBalance rewrites the cached balance as the signed sum of all
// of the account's transactions. Callers hold s.mu.
func (s *Store) recomputeBalance(accountID id.AccountID) {
	a, ok := s.accounts[accountID.String()]
	if !ok {
		return
	}
	var balance types.Amount
	for _, t := range s.transactions {
		if t.AccountID.String() == accountID.String() {
			balance = balance.Add(t.Signed())
		}
	}
	a.Balance = balance
	a.Touch()
}

// ==================== Coupon Store ====================

func (s *Store) CreateCoupon(_ context.Context, c *coupon.Coupon) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.coupons[c.Code]; exists {
		return credits.ErrAlreadyExists
	}
	s.coupons[c.Code] = copyCoupon(c)
	return nil
}

func (s *Store) GetCoupon(_ context.Context, code string) (*coupon.Coupon, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if c, ok := s.coupons[code]; ok {
		return copyCoupon(c), nil
	}
	return nil, credits.ErrCouponNotFound
}

func (s *Store) GetCouponByID(_ context.Context, couponID id.CouponID) (*coupon.Coupon, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, c := range s.coupons {
		if c.ID.String() == couponID.String() {
			return copyCoupon(c), nil
		}
	}
	return nil, credits.ErrCouponNotFound
}

func (s *Store) ListCouponsByUser(_ context.Context, userID int64, opts coupon.ListOpts) ([]*coupon.Coupon, error) {
	return s.listCoupons(opts, func(c *coupon.Coupon) bool { return c.UserID == userID })
}

func (s *Store) ListCouponsByVendor(_ context.Context, vendorID int64, opts coupon.ListOpts) ([]*coupon.Coupon, error) {
	return s.listCoupons(opts, func(c *coupon.Coupon) bool { return c.VendorID == vendorID })
}

func (s *Store) ListCouponsBySession(_ context.Context, sessionID string, opts coupon.ListOpts) ([]*coupon.Coupon, error) {
	return s.listCoupons(opts, func(c *coupon.Coupon) bool { return c.SessionID == sessionID })
}

func (s *Store) listCoupons(opts coupon.ListOpts, match func(*coupon.Coupon) bool) ([]*coupon.Coupon, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]*coupon.Coupon, 0)
	for _, c := range s.coupons {
		if !match(c) {
			continue
		}
		if !opts.IncludeUsed && c.Used {
			continue
		}
		result = append(result, copyCoupon(c))
	}
	sort.Slice(result, func(i, j int) bool {
		if result[i].CreatedAt.Equal(result[j].CreatedAt) {
			return result[i].Code < result[j].Code
		}
		return result[i].CreatedAt.After(result[j].CreatedAt)
	})

	start := opts.Offset
	if start > len(result) {
		start = len(result)
	}
	end := start + opts.Limit
	if opts.Limit == 0 || end > len(result) {
		end = len(result)
	}
	return result[start:end], nil
}

func (s *Store) MarkCouponUsed(_ context.Context, code string, usedAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.coupons[code]
	if !ok {
		return credits.ErrCouponNotFound
	}
	if c.Used {
		return credits.ErrCouponAlreadyUsed
	}
	c.Used = true
	c.UsedAt = &usedAt
	c.Touch()
	return nil
}

func (s *Store) SetCouponOrderRef(_ context.Context, code, orderRef string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.coupons[code]
	if !ok {
		return credits.ErrCouponNotFound
	}
	c.OrderRef = orderRef
	c.Touch()
	return nil
}

func (s *Store) DeleteCoupon(_ context.Context, code string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.coupons[code]; !ok {
		return credits.ErrCouponNotFound
	}
	delete(s.coupons, code)
	return nil
}

func (s *Store) DeleteExpiredCoupons(_ context.Context, now time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var count int64
	for code, c := range s.coupons {
		if !c.Used && c.Expired(now) {
			delete(s.coupons, code)
			count++
		}
	}
	return count, nil
}

func (s *Store) CouponStats(_ context.Context, vendorID int64, now time.Time) (*coupon.Stats, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	stats := &coupon.Stats{}
	for _, c := range s.coupons {
		if vendorID != 0 && c.VendorID != vendorID {
			continue
		}
		stats.Total++
		switch {
		case c.Used:
			stats.Used++
		case c.Expired(now):
			stats.Expired++
		default:
			stats.Active++
		}
	}
	return stats, nil
}

// ==================== Token Store ====================

func (s *Store) CreateToken(_ context.Context, t *coupon.AutoApplyToken) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.tokens[t.ID.String()]; exists {
		return credits.ErrAlreadyExists
	}
	s.tokens[t.ID.String()] = copyToken(t)
	return nil
}

func (s *Store) GetToken(_ context.Context, tokenID id.TokenID) (*coupon.AutoApplyToken, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if t, ok := s.tokens[tokenID.String()]; ok {
		return copyToken(t), nil
	}
	return nil, credits.ErrTokenNotFound
}

func (s *Store) MarkTokenUsed(_ context.Context, tokenID id.TokenID, usedAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	t, ok := s.tokens[tokenID.String()]
	if !ok {
		return credits.ErrTokenNotFound
	}
	if t.Used {
		return credits.ErrCouponAlreadyUsed
	}
	t.Used = true
	t.UsedAt = &usedAt
	t.Touch()
	return nil
}

func (s *Store) DeleteExpiredTokens(_ context.Context, now time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var count int64
	for key, t := range s.tokens {
		if t.Expired(now) {
			delete(s.tokens, key)
			count++
		}
	}
	return count, nil
}

// ==================== Security Log Store ====================

func (s *Store) AppendSecurityEvent(_ context.Context, e *guard.LogEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	entry := *e
	s.events = append(s.events, &entry)
	return nil
}

func (s *Store) CountSecurityEvents(_ context.Context, ip string, events []string, since time.Time) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var count int64
	for _, e := range s.events {
		if e.IP != ip || e.Time.Before(since) {
			continue
		}
		for _, name := range events {
			if e.Event == name {
				count++
				break
			}
		}
	}
	return count, nil
}

func (s *Store) PruneSecurityEvents(_ context.Context, before time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var count int64
	kept := make([]*guard.LogEntry, 0, len(s.events))
	for _, e := range s.events {
		if e.Time.Before(before) {
			count++
		} else {
			kept = append(kept, e)
		}
	}
	s.events = kept
	return count, nil
}

func (s *Store) BlockIP(_ context.Context, ip string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.blocked[ip] = at
	return nil
}

func (s *Store) UnblockIP(_ context.Context, ip string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.blocked, ip)
	return nil
}

func (s *Store) IsIPBlocked(_ context.Context, ip string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	_, ok := s.blocked[ip]
	return ok, nil
}

// ==================== Store management ====================

func (s *Store) Migrate(_ context.Context) error {
	return nil // No migration needed for memory store
}

func (s *Store) Ping(_ context.Context) error {
	return nil // Always available
}

func (s *Store) Close() error {
	return nil // Nothing to close
}

// EventsFor returns the security log entries for an IP. Test helper.
func (s *Store) EventsFor(ip string) []*guard.LogEntry {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]*guard.LogEntry, 0)
	for _, e := range s.events {
		if strings.EqualFold(e.IP, ip) {
			entry := *e
			result = append(result, &entry)
		}
	}
	return result
}

// Copy helpers: the store hands out copies so that callers never share
// mutable state with it.

func copyAccount(a *ledger.Account) *ledger.Account {
	c := *a
	return &c
}

func copyTransaction(t *ledger.Transaction) *ledger.Transaction {
	c := *t
	if t.ExpiresAt != nil {
		exp := *t.ExpiresAt
		c.ExpiresAt = &exp
	}
	if t.Links != nil {
		c.Links = make([]ledger.Link, len(t.Links))
		copy(c.Links, t.Links)
	}
	return &c
}

func copyCoupon(c *coupon.Coupon) *coupon.Coupon {
	cp := *c
	if c.UsedAt != nil {
		used := *c.UsedAt
		cp.UsedAt = &used
	}
	if c.Metadata != nil {
		cp.Metadata = make(map[string]string, len(c.Metadata))
		for k, v := range c.Metadata {
			cp.Metadata[k] = v
		}
	}
	return &cp
}

func copyToken(t *coupon.AutoApplyToken) *coupon.AutoApplyToken {
	cp := *t
	if t.UsedAt != nil {
		used := *t.UsedAt
		cp.UsedAt = &used
	}
	return &cp
}
