package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gr8r/credits"
	"github.com/gr8r/credits/coupon"
	"github.com/gr8r/credits/guard"
	"github.com/gr8r/credits/ledger"
	"github.com/gr8r/credits/types"

	"github.com/go-chi/chi/v5"
)

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleHealthDB(w http.ResponseWriter, r *http.Request) {
	if s.db == nil {
		writeError(w, http.StatusServiceUnavailable, "unavailable", "database health not configured")
		return
	}
	if err := s.db.Ping(r.Context()); err != nil {
		s.logger.Error("database ping failed", "error", err)
		writeError(w, http.StatusServiceUnavailable, "unavailable", "database unreachable")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// ─── Ledger ──────────────────────────────────────────────────────────

func (s *Server) handleBalance(w http.ResponseWriter, r *http.Request) {
	userID := queryInt64(r, "user")
	vendorID := queryInt64(r, "vendor")
	service := r.URL.Query().Get("service")
	if userID == 0 || vendorID == 0 || service == "" {
		writeError(w, http.StatusBadRequest, "invalid_request", "user, vendor and service are required")
		return
	}
	if !s.selfOrAdmin(r, userID) {
		s.guard.RecordEvent(r.Context(), guard.EventUnauthorizedBalanceReq,
			"user="+strconv.FormatInt(userID, 10), callerID(r), clientIP(r))
		writeError(w, http.StatusForbidden, "forbidden", "not your account")
		return
	}

	available, err := s.engine.AvailableBalance(r.Context(), userID, vendorID, service)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	total, err := s.engine.TotalBalance(r.Context(), userID, vendorID, service)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"user_id":      userID,
		"vendor_id":    vendorID,
		"service_type": service,
		"available":    available,
		"total":        total,
	})
}

func (s *Server) handleTransactions(w http.ResponseWriter, r *http.Request) {
	userID := queryInt64(r, "user")
	vendorID := queryInt64(r, "vendor")
	service := r.URL.Query().Get("service")
	if userID == 0 || vendorID == 0 || service == "" {
		writeError(w, http.StatusBadRequest, "invalid_request", "user, vendor and service are required")
		return
	}
	if !s.selfOrAdmin(r, userID) {
		writeError(w, http.StatusForbidden, "forbidden", "not your account")
		return
	}

	opts := ledger.ListOpts{
		Limit:  int(queryInt64(r, "limit")),
		Offset: int(queryInt64(r, "offset")),
	}
	txns, err := s.engine.Transactions(r.Context(), userID, vendorID, service, opts)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, txns)
}

type creditRequest struct {
	UserID      int64        `json:"user_id"`
	VendorID    int64        `json:"vendor_id"`
	ServiceType string       `json:"service_type"`
	Amount      types.Amount `json:"amount"`
	Reference   string       `json:"reference"`
	Description string       `json:"description"`
	ExpiresAt   *time.Time   `json:"expires_at,omitempty"`
}

func (s *Server) handleAddCredit(w http.ResponseWriter, r *http.Request) {
	var req creditRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "malformed JSON body")
		return
	}
	txn, err := s.engine.AddCredit(r.Context(), credits.CreditGrant{
		UserID:      req.UserID,
		VendorID:    req.VendorID,
		ServiceType: req.ServiceType,
		Amount:      req.Amount,
		Reference:   req.Reference,
		Description: req.Description,
		CreatedBy:   callerID(r),
		ExpiresAt:   req.ExpiresAt,
	})
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, txn)
}

func (s *Server) handleDeductCredit(w http.ResponseWriter, r *http.Request) {
	var req creditRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "malformed JSON body")
		return
	}
	txn, err := s.engine.DeductCredit(r.Context(), credits.CreditCharge{
		UserID:      req.UserID,
		VendorID:    req.VendorID,
		ServiceType: req.ServiceType,
		Amount:      req.Amount,
		Reference:   req.Reference,
		Description: req.Description,
		CreatedBy:   callerID(r),
	})
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, txn)
}

// ─── Coupons ─────────────────────────────────────────────────────────

func (s *Server) handleListCoupons(w http.ResponseWriter, r *http.Request) {
	opts := coupon.ListOpts{
		IncludeUsed: r.URL.Query().Get("include_used") == "true",
		Limit:       int(queryInt64(r, "limit")),
		Offset:      int(queryInt64(r, "offset")),
	}

	var (
		list []*coupon.Coupon
		err  error
	)
	switch {
	case r.URL.Query().Get("user") != "":
		userID := queryInt64(r, "user")
		if !s.selfOrAdmin(r, userID) {
			writeError(w, http.StatusForbidden, "forbidden", "not your coupons")
			return
		}
		list, err = s.engine.UserCoupons(r.Context(), userID, opts)
	case r.URL.Query().Get("vendor") != "":
		list, err = s.engine.VendorCoupons(r.Context(), queryInt64(r, "vendor"), opts)
	case r.URL.Query().Get("session") != "":
		list, err = s.engine.SessionCoupons(r.Context(), r.URL.Query().Get("session"), opts)
	default:
		writeError(w, http.StatusBadRequest, "invalid_request", "one of user, vendor or session is required")
		return
	}
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, list)
}

type issueCouponRequest struct {
	UserID    int64               `json:"user_id"`
	VendorID  int64               `json:"vendor_id"`
	SessionID string              `json:"session_id,omitempty"`
	Kind      coupon.DiscountKind `json:"kind,omitempty"`
	Value     types.Amount        `json:"value"`
	ExpiresAt time.Time           `json:"expires_at,omitempty"`
	Metadata  map[string]string   `json:"metadata,omitempty"`
}

func (s *Server) handleIssueCoupon(w http.ResponseWriter, r *http.Request) {
	var req issueCouponRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "malformed JSON body")
		return
	}
	c, err := s.engine.IssueCoupon(r.Context(), credits.CouponOffer{
		UserID:    req.UserID,
		VendorID:  req.VendorID,
		SessionID: req.SessionID,
		Kind:      req.Kind,
		Value:     req.Value,
		ExpiresAt: req.ExpiresAt,
		CreatedBy: callerID(r),
		Metadata:  req.Metadata,
	})
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, c)
}

type redeemRequest struct {
	Code string `json:"code"`
}

func (s *Server) handleRedeemCoupon(w http.ResponseWriter, r *http.Request) {
	var req redeemRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "malformed JSON body")
		return
	}
	userID := callerID(r)
	if userID == 0 {
		writeError(w, http.StatusUnauthorized, "unauthorized", "authentication required")
		return
	}

	// Reject malformed codes before any storage lookup; repeated garbage
	// counts toward the sender's abuse total.
	if !guard.ValidateCouponCodeFormat(req.Code) {
		s.guard.RecordEvent(r.Context(), guard.EventInvalidCouponFormat, req.Code, userID, clientIP(r))
		writeError(w, http.StatusBadRequest, "invalid_coupon_format", "malformed coupon code")
		return
	}

	c, err := s.engine.RedeemCoupon(r.Context(), req.Code, userID)
	if err != nil {
		if errors.Is(err, credits.ErrCouponWrongUser) {
			s.guard.RecordEvent(r.Context(), guard.EventUnauthorizedApply, req.Code, userID, clientIP(r))
		}
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, c)
}

func (s *Server) handleDeleteCoupon(w http.ResponseWriter, r *http.Request) {
	code := chi.URLParam(r, "code")
	if err := s.engine.DeleteCoupon(r.Context(), code); err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"code": code})
}

func (s *Server) handleCouponStats(w http.ResponseWriter, r *http.Request) {
	stats, err := s.engine.CouponStats(r.Context(), queryInt64(r, "vendor"))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

// ─── Auto-apply tokens ───────────────────────────────────────────────

func (s *Server) handleApplyToken(w http.ResponseWriter, r *http.Request) {
	token := r.URL.Query().Get("token")
	if token == "" {
		writeError(w, http.StatusBadRequest, "invalid_request", "token is required")
		return
	}
	c, err := s.engine.ResolveToken(r.Context(), token)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, c)
}

func queryInt64(r *http.Request, key string) int64 {
	n, _ := strconv.ParseInt(r.URL.Query().Get(key), 10, 64)
	return n
}
