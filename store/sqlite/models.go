package sqlite

import (
	"encoding/json"
	"time"

	"github.com/gr8r/credits/coupon"
	"github.com/gr8r/credits/guard"
	"github.com/gr8r/credits/id"
	"github.com/gr8r/credits/ledger"
	"github.com/gr8r/credits/types"
)

// ==================== Account models ====================

type accountModel struct {
	ID          string    `db:"id"`
	UserID      int64     `db:"user_id"`
	VendorID    int64     `db:"vendor_id"`
	ServiceType string    `db:"service_type"`
	Balance     int64     `db:"balance"`
	CreatedAt   time.Time `db:"created_at"`
	UpdatedAt   time.Time `db:"updated_at"`
}

func fromAccountModel(m *accountModel) (*ledger.Account, error) {
	accountID, err := id.ParseAccountID(m.ID)
	if err != nil {
		return nil, err
	}
	return &ledger.Account{
		Entity: types.Entity{
			CreatedAt: m.CreatedAt,
			UpdatedAt: m.UpdatedAt,
		},
		ID:          accountID,
		UserID:      m.UserID,
		VendorID:    m.VendorID,
		ServiceType: m.ServiceType,
		Balance:     types.Amount(m.Balance),
	}, nil
}

// ==================== Transaction models ====================

type transactionModel struct {
	ID          string     `db:"id"`
	AccountID   string     `db:"account_id"`
	Kind        string     `db:"kind"`
	Amount      int64      `db:"amount"`
	Reference   string     `db:"reference"`
	Description string     `db:"description"`
	CreatedBy   int64      `db:"created_by"`
	ExpiresAt   *time.Time `db:"expires_at"`
	Links       string     `db:"links"`
	CreatedAt   time.Time  `db:"created_at"`
	UpdatedAt   time.Time  `db:"updated_at"`
}

func toTransactionModel(t *ledger.Transaction) (*transactionModel, error) {
	links := t.Links
	if links == nil {
		links = []ledger.Link{}
	}
	raw, err := json.Marshal(links)
	if err != nil {
		return nil, err
	}
	return &transactionModel{
		ID:          t.ID.String(),
		AccountID:   t.AccountID.String(),
		Kind:        string(t.Kind),
		Amount:      int64(t.Amount),
		Reference:   t.Reference,
		Description: t.Description,
		CreatedBy:   t.CreatedBy,
		ExpiresAt:   t.ExpiresAt,
		Links:       string(raw),
		CreatedAt:   t.CreatedAt,
		UpdatedAt:   t.UpdatedAt,
	}, nil
}

func fromTransactionModel(m *transactionModel) (*ledger.Transaction, error) {
	txnID, err := id.ParseTransactionID(m.ID)
	if err != nil {
		return nil, err
	}
	accountID, err := id.ParseAccountID(m.AccountID)
	if err != nil {
		return nil, err
	}
	var links []ledger.Link
	if m.Links != "" {
		if err := json.Unmarshal([]byte(m.Links), &links); err != nil {
			return nil, err
		}
	}
	return &ledger.Transaction{
		Entity: types.Entity{
			CreatedAt: m.CreatedAt,
			UpdatedAt: m.UpdatedAt,
		},
		ID:          txnID,
		AccountID:   accountID,
		Kind:        ledger.Kind(m.Kind),
		Amount:      types.Amount(m.Amount),
		Reference:   m.Reference,
		Description: m.Description,
		CreatedBy:   m.CreatedBy,
		ExpiresAt:   m.ExpiresAt,
		Links:       links,
	}, nil
}

// ==================== Coupon models ====================

type couponModel struct {
	ID        string     `db:"id"`
	Code      string     `db:"code"`
	UserID    int64      `db:"user_id"`
	VendorID  int64      `db:"vendor_id"`
	SessionID string     `db:"session_id"`
	Kind      string     `db:"kind"`
	Value     int64      `db:"value"`
	ExpiresAt time.Time  `db:"expires_at"`
	Used      bool       `db:"used"`
	UsedAt    *time.Time `db:"used_at"`
	OrderRef  string     `db:"order_ref"`
	CreatedBy int64      `db:"created_by"`
	Metadata  string     `db:"metadata"`
	CreatedAt time.Time  `db:"created_at"`
	UpdatedAt time.Time  `db:"updated_at"`
}

func toCouponModel(c *coupon.Coupon) (*couponModel, error) {
	metadata := c.Metadata
	if metadata == nil {
		metadata = map[string]string{}
	}
	raw, err := json.Marshal(metadata)
	if err != nil {
		return nil, err
	}
	return &couponModel{
		ID:        c.ID.String(),
		Code:      c.Code,
		UserID:    c.UserID,
		VendorID:  c.VendorID,
		SessionID: c.SessionID,
		Kind:      string(c.Kind),
		Value:     int64(c.Value),
		ExpiresAt: c.ExpiresAt,
		Used:      c.Used,
		UsedAt:    c.UsedAt,
		OrderRef:  c.OrderRef,
		CreatedBy: c.CreatedBy,
		Metadata:  string(raw),
		CreatedAt: c.CreatedAt,
		UpdatedAt: c.UpdatedAt,
	}, nil
}

func fromCouponModel(m *couponModel) (*coupon.Coupon, error) {
	couponID, err := id.ParseCouponID(m.ID)
	if err != nil {
		return nil, err
	}
	var metadata map[string]string
	if m.Metadata != "" {
		if err := json.Unmarshal([]byte(m.Metadata), &metadata); err != nil {
			return nil, err
		}
	}
	return &coupon.Coupon{
		Entity: types.Entity{
			CreatedAt: m.CreatedAt,
			UpdatedAt: m.UpdatedAt,
		},
		ID:        couponID,
		Code:      m.Code,
		UserID:    m.UserID,
		VendorID:  m.VendorID,
		SessionID: m.SessionID,
		Kind:      coupon.DiscountKind(m.Kind),
		Value:     types.Amount(m.Value),
		ExpiresAt: m.ExpiresAt,
		Used:      m.Used,
		UsedAt:    m.UsedAt,
		OrderRef:  m.OrderRef,
		CreatedBy: m.CreatedBy,
		Metadata:  metadata,
	}, nil
}

// ==================== Token models ====================

type tokenModel struct {
	ID        string     `db:"id"`
	CouponID  string     `db:"coupon_id"`
	UserID    int64      `db:"user_id"`
	VendorID  int64      `db:"vendor_id"`
	SessionID string     `db:"session_id"`
	ExpiresAt time.Time  `db:"expires_at"`
	Used      bool       `db:"used"`
	UsedAt    *time.Time `db:"used_at"`
	CreatedAt time.Time  `db:"created_at"`
	UpdatedAt time.Time  `db:"updated_at"`
}

func toTokenModel(t *coupon.AutoApplyToken) *tokenModel {
	return &tokenModel{
		ID:        t.ID.String(),
		CouponID:  t.CouponID.String(),
		UserID:    t.UserID,
		VendorID:  t.VendorID,
		SessionID: t.SessionID,
		ExpiresAt: t.ExpiresAt,
		Used:      t.Used,
		UsedAt:    t.UsedAt,
		CreatedAt: t.CreatedAt,
		UpdatedAt: t.UpdatedAt,
	}
}

func fromTokenModel(m *tokenModel) (*coupon.AutoApplyToken, error) {
	tokenID, err := id.ParseTokenID(m.ID)
	if err != nil {
		return nil, err
	}
	couponID, err := id.ParseCouponID(m.CouponID)
	if err != nil {
		return nil, err
	}
	return &coupon.AutoApplyToken{
		Entity: types.Entity{
			CreatedAt: m.CreatedAt,
			UpdatedAt: m.UpdatedAt,
		},
		ID:        tokenID,
		CouponID:  couponID,
		UserID:    m.UserID,
		VendorID:  m.VendorID,
		SessionID: m.SessionID,
		ExpiresAt: m.ExpiresAt,
		Used:      m.Used,
		UsedAt:    m.UsedAt,
	}, nil
}

// ==================== Security log models ====================

type logEntryModel struct {
	ID         string    `db:"id"`
	OccurredAt time.Time `db:"occurred_at"`
	UserID     int64     `db:"user_id"`
	IP         string    `db:"ip"`
	Event      string    `db:"event"`
	Details    string    `db:"details"`
}

func toLogEntryModel(e *guard.LogEntry) *logEntryModel {
	return &logEntryModel{
		ID:         e.ID.String(),
		OccurredAt: e.Time,
		UserID:     e.UserID,
		IP:         e.IP,
		Event:      e.Event,
		Details:    e.Details,
	}
}
