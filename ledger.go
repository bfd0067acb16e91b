package credits

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/gr8r/credits/id"
	"github.com/gr8r/credits/ledger"
	"github.com/gr8r/credits/plugin"
	"github.com/gr8r/credits/store"
	"github.com/gr8r/credits/types"
)

// UserDirectory answers whether a user exists. Wire it to the site's
// user database to reject coupons issued against unknown users.
type UserDirectory interface {
	UserExists(ctx context.Context, userID int64) (bool, error)
}

// Engine is the main credit and coupon engine.
type Engine struct {
	store   store.Store
	plugins *plugin.Registry
	logger  *slog.Logger
	users   UserDirectory

	// Background workers
	stopChan chan struct{}
	wg       sync.WaitGroup

	// Configuration
	balanceCacheTTL time.Duration
	sweepInterval   time.Duration
	tokenTTL        time.Duration
	baseURL         string
	codeGenerator   string

	// Per-account available balance cache
	cacheMu sync.RWMutex
	cache   map[string]balanceEntry
}

type balanceEntry struct {
	amount  types.Amount
	expires time.Time
}

// New creates a new Engine instance.
func New(s store.Store, opts ...Option) *Engine {
	e := &Engine{
		store:           s,
		plugins:         plugin.NewRegistry(),
		logger:          slog.Default(),
		stopChan:        make(chan struct{}),
		balanceCacheTTL: time.Hour,
		sweepInterval:   time.Hour,
		tokenTTL:        15 * time.Minute,
		cache:           make(map[string]balanceEntry),
	}

	for _, opt := range opts {
		opt(e)
	}

	return e
}

// Option configures an Engine instance.
type Option func(*Engine)

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(e *Engine) {
		e.logger = logger
		e.plugins.WithLogger(logger)
	}
}

// WithPlugin registers a plugin.
func WithPlugin(p plugin.Plugin) Option {
	return func(e *Engine) {
		_ = e.plugins.Register(p) //nolint:errcheck // best-effort plugin registration during init
	}
}

// WithUserDirectory wires user existence checks into coupon issuance.
func WithUserDirectory(d UserDirectory) Option {
	return func(e *Engine) {
		e.users = d
	}
}

// WithBalanceCacheTTL sets how long available balances are cached.
// Zero disables the cache.
func WithBalanceCacheTTL(ttl time.Duration) Option {
	return func(e *Engine) {
		e.balanceCacheTTL = ttl
	}
}

// WithSweepInterval sets how often the expiry sweep runs. Zero disables
// the background sweeper; ExpireDueCredits can still be called directly.
func WithSweepInterval(interval time.Duration) Option {
	return func(e *Engine) {
		e.sweepInterval = interval
	}
}

// WithTokenTTL sets the lifetime of auto-apply tokens.
func WithTokenTTL(ttl time.Duration) Option {
	return func(e *Engine) {
		e.tokenTTL = ttl
	}
}

// WithBaseURL sets the public base URL used to build auto-apply links.
func WithBaseURL(u string) Option {
	return func(e *Engine) {
		e.baseURL = u
	}
}

// WithCodeGenerator selects a registered CodeGenerator plugin by name
// for coupon code generation.
func WithCodeGenerator(name string) Option {
	return func(e *Engine) {
		e.codeGenerator = name
	}
}

// Start migrates the store and begins background workers.
func (e *Engine) Start(ctx context.Context) error {
	if err := e.store.Migrate(ctx); err != nil {
		return err
	}

	e.plugins.EmitInit(ctx, e)

	if e.sweepInterval > 0 {
		e.wg.Add(1)
		go e.sweepWorker(ctx)
	}

	e.logger.Info("credits engine started",
		"sweep_interval", e.sweepInterval,
		"balance_cache_ttl", e.balanceCacheTTL,
	)

	return nil
}

// Stop shuts down the Engine.
func (e *Engine) Stop() error {
	close(e.stopChan)
	e.wg.Wait()

	ctx := context.Background()
	e.plugins.EmitShutdown(ctx)

	return e.store.Close()
}

// Plugins returns the plugin registry.
func (e *Engine) Plugins() *plugin.Registry { return e.plugins }

// ──────────────────────────────────────────────────
// Credit Management
// ──────────────────────────────────────────────────

// CreditGrant describes a credit to add to a user's account.
type CreditGrant struct {
	UserID      int64
	VendorID    int64
	ServiceType string
	Amount      types.Amount
	Reference   string
	Description string
	CreatedBy   int64
	ExpiresAt   *time.Time
}

// CreditCharge describes a debit against a user's account.
type CreditCharge struct {
	UserID      int64
	VendorID    int64
	ServiceType string
	Amount      types.Amount
	Reference   string
	Description string
	CreatedBy   int64
}

// AddCredit grants credit to the (user, vendor, service) account,
// creating the account on first use.
func (e *Engine) AddCredit(ctx context.Context, g CreditGrant) (*ledger.Transaction, error) {
	if !g.Amount.IsPositive() {
		return nil, ErrInvalidAmount
	}
	if g.UserID <= 0 {
		return nil, ErrInvalidUser
	}

	account, err := e.store.GetOrCreateAccount(ctx, g.UserID, g.VendorID, g.ServiceType)
	if err != nil {
		return nil, err
	}

	t := &ledger.Transaction{
		Entity:      types.NewEntity(),
		ID:          id.NewTransactionID(),
		AccountID:   account.ID,
		Kind:        ledger.KindCredit,
		Amount:      g.Amount,
		Reference:   g.Reference,
		Description: g.Description,
		CreatedBy:   g.CreatedBy,
		ExpiresAt:   g.ExpiresAt,
	}
	if err := e.store.CreateCredit(ctx, t); err != nil {
		return nil, err
	}

	e.invalidateBalance(account.Key())
	e.plugins.EmitCreditAdded(ctx, t)

	e.logger.Info("credit added",
		"account", account.ID.String(),
		"user", g.UserID,
		"vendor", g.VendorID,
		"amount", g.Amount.String(),
	)
	return t, nil
}

// DeductCredit consumes credit from the (user, vendor, service)
// account. Open credit lines are consumed oldest first and the debit
// records which lines it drew from.
func (e *Engine) DeductCredit(ctx context.Context, c CreditCharge) (*ledger.Transaction, error) {
	if !c.Amount.IsPositive() {
		return nil, ErrInvalidAmount
	}
	if c.UserID <= 0 {
		return nil, ErrInvalidUser
	}

	account, err := e.store.GetAccount(ctx, c.UserID, c.VendorID, c.ServiceType)
	if err != nil {
		return nil, err
	}

	t := &ledger.Transaction{
		Entity:      types.NewEntity(),
		ID:          id.NewTransactionID(),
		AccountID:   account.ID,
		Kind:        ledger.KindDebit,
		Amount:      c.Amount,
		Reference:   c.Reference,
		Description: c.Description,
		CreatedBy:   c.CreatedBy,
	}
	if err := e.store.CreateDebit(ctx, t); err != nil {
		return nil, err
	}

	e.invalidateBalance(account.Key())
	e.plugins.EmitCreditDeducted(ctx, t)

	e.logger.Info("credit deducted",
		"account", account.ID.String(),
		"user", c.UserID,
		"vendor", c.VendorID,
		"amount", c.Amount.String(),
	)
	return t, nil
}

// AvailableBalance returns the spendable balance: open, non-expired
// credit minus what has been consumed from those lines. Accounts that
// do not exist yet report zero.
func (e *Engine) AvailableBalance(ctx context.Context, userID, vendorID int64, serviceType string) (types.Amount, error) {
	key := ledger.AccountKey(userID, vendorID, serviceType)
	if cached, ok := e.cachedBalance(key); ok {
		return cached, nil
	}

	account, err := e.store.GetAccount(ctx, userID, vendorID, serviceType)
	if err != nil {
		if IsNotFound(err) {
			return 0, nil
		}
		return 0, err
	}

	available, err := e.store.AvailableBalance(ctx, account.ID, time.Now().UTC())
	if err != nil {
		return 0, err
	}

	e.storeBalance(key, available)
	return available, nil
}

// TotalBalance returns the signed sum of all transactions, including
// credit that has already expired on paper but not yet been swept.
func (e *Engine) TotalBalance(ctx context.Context, userID, vendorID int64, serviceType string) (types.Amount, error) {
	account, err := e.store.GetAccount(ctx, userID, vendorID, serviceType)
	if err != nil {
		if IsNotFound(err) {
			return 0, nil
		}
		return 0, err
	}
	return account.Balance, nil
}

// Transactions lists the account's history, newest first.
func (e *Engine) Transactions(ctx context.Context, userID, vendorID int64, serviceType string, opts ledger.ListOpts) ([]*ledger.Transaction, error) {
	account, err := e.store.GetAccount(ctx, userID, vendorID, serviceType)
	if err != nil {
		if IsNotFound(err) {
			return []*ledger.Transaction{}, nil
		}
		return nil, err
	}
	return e.store.ListTransactions(ctx, account.ID, opts)
}

// UserAccounts lists every account a user holds across vendors and
// services.
func (e *Engine) UserAccounts(ctx context.Context, userID int64) ([]*ledger.Account, error) {
	return e.store.ListAccountsByUser(ctx, userID)
}

// ──────────────────────────────────────────────────
// Expiry Sweep
// ──────────────────────────────────────────────────

// ExpireDueCredits finds credit lines past their expiry and writes an
// offsetting debit for whatever remains unconsumed on each. A line
// already fully consumed or already swept is skipped, so repeated runs
// are harmless.
func (e *Engine) ExpireDueCredits(ctx context.Context) (int, types.Amount, error) {
	sweepTime := time.Now().UTC()

	lines, err := e.store.ExpiredCreditLines(ctx, sweepTime)
	if err != nil {
		return 0, 0, err
	}

	var (
		count int
		total types.Amount
	)
	for _, line := range lines {
		consumed, err := e.store.ConsumedAmount(ctx, line.ID)
		if err != nil {
			e.logger.Warn("skipping expired line",
				"line", line.ID.String(),
				"error", err,
			)
			continue
		}
		remaining := line.Amount.Sub(consumed)
		if !remaining.IsPositive() {
			continue
		}

		t := &ledger.Transaction{
			Entity:      types.NewEntity(),
			ID:          id.NewTransactionID(),
			AccountID:   line.AccountID,
			Kind:        ledger.KindDebit,
			Amount:      remaining,
			Reference:   ledger.ReferenceExpired,
			Description: "credit expired",
			CreatedBy:   ledger.SystemActor,
			Links:       []ledger.Link{{SourceID: line.ID, Amount: remaining}},
		}
		if err := e.store.CreateExpiryDebit(ctx, t); err != nil {
			// Remaining lines are picked up by the next sweep.
			e.logger.Error("expiry debit failed",
				"line", line.ID.String(),
				"error", err,
			)
			continue
		}

		if account, err := e.store.GetAccountByID(ctx, line.AccountID); err == nil {
			e.invalidateBalance(account.Key())
		}
		count++
		total = total.Add(remaining)
	}

	if count > 0 {
		e.plugins.EmitCreditsExpired(ctx, count, total)
		e.logger.Info("expired credits swept",
			"lines", count,
			"total", total.String(),
		)
	}
	return count, total, nil
}

// sweepWorker runs the expiry sweep on a fixed interval.
func (e *Engine) sweepWorker(ctx context.Context) {
	defer e.wg.Done()

	ticker := time.NewTicker(e.sweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-e.stopChan:
			return
		case <-ticker.C:
			if _, _, err := e.ExpireDueCredits(ctx); err != nil {
				e.logger.Error("expiry sweep failed", "error", err)
			}
		}
	}
}

// ──────────────────────────────────────────────────
// Balance cache
// ──────────────────────────────────────────────────

func (e *Engine) cachedBalance(key string) (types.Amount, bool) {
	if e.balanceCacheTTL <= 0 {
		return 0, false
	}

	e.cacheMu.RLock()
	entry, ok := e.cache[key]
	e.cacheMu.RUnlock()
	if !ok || time.Now().After(entry.expires) {
		return 0, false
	}
	return entry.amount, true
}

func (e *Engine) storeBalance(key string, amount types.Amount) {
	if e.balanceCacheTTL <= 0 {
		return
	}

	e.cacheMu.Lock()
	e.cache[key] = balanceEntry{
		amount:  amount,
		expires: time.Now().Add(e.balanceCacheTTL),
	}
	e.cacheMu.Unlock()
}

func (e *Engine) invalidateBalance(key string) {
	e.cacheMu.Lock()
	delete(e.cache, key)
	e.cacheMu.Unlock()
}
