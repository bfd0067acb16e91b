package credits

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/gr8r/credits/coupon"
	"github.com/gr8r/credits/id"
	"github.com/gr8r/credits/types"
)

// defaultCouponTTL is applied when an offer carries no expiry.
const defaultCouponTTL = 30 * 24 * time.Hour

// codeAlphabet is the character set for the random part of coupon codes.
const codeAlphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"

// ──────────────────────────────────────────────────
// Coupon Management
// ──────────────────────────────────────────────────

// CouponOffer describes a coupon to issue.
type CouponOffer struct {
	UserID    int64
	VendorID  int64
	SessionID string
	Kind      coupon.DiscountKind
	Value     types.Amount
	ExpiresAt time.Time
	CreatedBy int64
	Metadata  map[string]string
}

// IssueCoupon creates a single-use coupon bound to the offer's user,
// vendor, and optional session.
func (e *Engine) IssueCoupon(ctx context.Context, offer CouponOffer) (*coupon.Coupon, error) {
	if offer.UserID == 0 || offer.VendorID == 0 || offer.Value.IsZero() {
		return nil, ErrMissingParams
	}
	if !offer.Value.IsPositive() {
		return nil, ErrInvalidDiscount
	}
	if offer.Kind == "" {
		offer.Kind = coupon.DiscountFixed
	}
	if offer.Kind == coupon.DiscountPercent && offer.Value > types.Whole(100) {
		return nil, ErrInvalidDiscount
	}
	if e.users != nil {
		exists, err := e.users.UserExists(ctx, offer.UserID)
		if err != nil {
			return nil, err
		}
		if !exists {
			return nil, ErrInvalidUser
		}
	}
	if offer.ExpiresAt.IsZero() {
		offer.ExpiresAt = time.Now().UTC().Add(defaultCouponTTL)
	}

	// A code collision is possible, so retry with a fresh random part.
	for attempt := 0; attempt < 5; attempt++ {
		code, err := e.generateCode(offer.UserID, offer.VendorID, offer.SessionID)
		if err != nil {
			return nil, err
		}

		c := &coupon.Coupon{
			Entity:    types.NewEntity(),
			ID:        id.NewCouponID(),
			Code:      code,
			UserID:    offer.UserID,
			VendorID:  offer.VendorID,
			SessionID: offer.SessionID,
			Kind:      offer.Kind,
			Value:     offer.Value,
			ExpiresAt: offer.ExpiresAt,
			CreatedBy: offer.CreatedBy,
			Metadata:  offer.Metadata,
		}
		err = e.store.CreateCoupon(ctx, c)
		if errors.Is(err, ErrAlreadyExists) {
			continue
		}
		if err != nil {
			return nil, err
		}

		e.plugins.EmitCouponIssued(ctx, c)
		e.logger.Info("coupon issued",
			"code", c.Code,
			"user", c.UserID,
			"vendor", c.VendorID,
			"kind", string(c.Kind),
		)
		return c, nil
	}
	return nil, ErrTransactionFailed
}

// ValidateCoupon checks that a coupon can be redeemed by the given
// user. Checks run in a fixed order: existence, expiry, prior use,
// then ownership.
func (e *Engine) ValidateCoupon(ctx context.Context, code string, userID int64) (*coupon.Coupon, error) {
	c, err := e.store.GetCoupon(ctx, code)
	if err != nil {
		return nil, err
	}
	if c.Expired(time.Now().UTC()) {
		return nil, ErrCouponExpired
	}
	if c.Used {
		return nil, ErrCouponAlreadyUsed
	}
	if c.UserID != userID {
		return nil, ErrCouponWrongUser
	}

	for _, v := range e.plugins.GetCouponValidators() {
		if err := v.ValidateCoupon(ctx, c); err != nil {
			return nil, err
		}
	}
	return c, nil
}

// RedeemCoupon validates and consumes a coupon. Of any number of
// concurrent attempts on the same code, exactly one succeeds.
func (e *Engine) RedeemCoupon(ctx context.Context, code string, userID int64) (*coupon.Coupon, error) {
	c, err := e.ValidateCoupon(ctx, code, userID)
	if err != nil {
		return nil, err
	}

	usedAt := time.Now().UTC()
	if err := e.store.MarkCouponUsed(ctx, code, usedAt); err != nil {
		return nil, err
	}
	c.Used = true
	c.UsedAt = &usedAt

	e.plugins.EmitCouponRedeemed(ctx, c)
	e.logger.Info("coupon redeemed",
		"code", c.Code,
		"user", userID,
	)
	return c, nil
}

// AttachOrder records the order a redeemed coupon was applied to.
func (e *Engine) AttachOrder(ctx context.Context, code, orderRef string) error {
	return e.store.SetCouponOrderRef(ctx, code, orderRef)
}

// DeleteCoupon removes a coupon outright.
func (e *Engine) DeleteCoupon(ctx context.Context, code string) error {
	if err := e.store.DeleteCoupon(ctx, code); err != nil {
		return err
	}
	e.plugins.EmitCouponDeleted(ctx, code)
	return nil
}

// UserCoupons lists a user's coupons.
func (e *Engine) UserCoupons(ctx context.Context, userID int64, opts coupon.ListOpts) ([]*coupon.Coupon, error) {
	return e.store.ListCouponsByUser(ctx, userID, opts)
}

// VendorCoupons lists a vendor's coupons.
func (e *Engine) VendorCoupons(ctx context.Context, vendorID int64, opts coupon.ListOpts) ([]*coupon.Coupon, error) {
	return e.store.ListCouponsByVendor(ctx, vendorID, opts)
}

// SessionCoupons lists coupons bound to a checkout session.
func (e *Engine) SessionCoupons(ctx context.Context, sessionID string, opts coupon.ListOpts) ([]*coupon.Coupon, error) {
	return e.store.ListCouponsBySession(ctx, sessionID, opts)
}

// CouponStats reports totals for a vendor, or for all vendors when
// vendorID is zero.
func (e *Engine) CouponStats(ctx context.Context, vendorID int64) (*coupon.Stats, error) {
	return e.store.CouponStats(ctx, vendorID, time.Now().UTC())
}

// CleanupExpiredCoupons deletes coupons that expired without being
// used. Redeemed coupons are kept for order history.
func (e *Engine) CleanupExpiredCoupons(ctx context.Context) (int64, error) {
	count, err := e.store.DeleteExpiredCoupons(ctx, time.Now().UTC())
	if err != nil {
		return 0, err
	}
	if count > 0 {
		e.plugins.EmitCouponsCleaned(ctx, count)
		e.logger.Info("expired coupons cleaned", "count", count)
	}
	return count, nil
}

// ──────────────────────────────────────────────────
// Auto-Apply Tokens
// ──────────────────────────────────────────────────

// IssueAutoApplyToken creates a short-lived token that applies the
// coupon when its link is followed.
func (e *Engine) IssueAutoApplyToken(ctx context.Context, code string, userID int64) (*coupon.AutoApplyToken, error) {
	c, err := e.ValidateCoupon(ctx, code, userID)
	if err != nil {
		return nil, err
	}

	t := &coupon.AutoApplyToken{
		Entity:    types.NewEntity(),
		ID:        id.NewTokenID(),
		CouponID:  c.ID,
		UserID:    c.UserID,
		VendorID:  c.VendorID,
		SessionID: c.SessionID,
		ExpiresAt: time.Now().UTC().Add(e.tokenTTL),
	}
	if err := e.store.CreateToken(ctx, t); err != nil {
		return nil, err
	}

	e.plugins.EmitTokenIssued(ctx, t)
	return t, nil
}

// ResolveToken consumes an auto-apply token and returns the coupon it
// points at. Tokens are single use.
func (e *Engine) ResolveToken(ctx context.Context, raw string) (*coupon.Coupon, error) {
	tokenID, err := id.ParseTokenID(raw)
	if err != nil {
		return nil, ErrTokenNotFound
	}

	t, err := e.store.GetToken(ctx, tokenID)
	if err != nil {
		return nil, err
	}
	if t.Expired(time.Now().UTC()) {
		return nil, ErrCouponExpired
	}
	if t.Used {
		return nil, ErrCouponAlreadyUsed
	}

	if err := e.store.MarkTokenUsed(ctx, tokenID, time.Now().UTC()); err != nil {
		return nil, err
	}

	c, err := e.store.GetCouponByID(ctx, t.CouponID)
	if err != nil {
		return nil, err
	}

	e.plugins.EmitTokenResolved(ctx, t)
	return c, nil
}

// AutoApplyCandidates returns unused, unexpired coupons bound to the
// session that the given user may redeem.
func (e *Engine) AutoApplyCandidates(ctx context.Context, sessionID string, userID int64) ([]*coupon.Coupon, error) {
	if sessionID == "" {
		return []*coupon.Coupon{}, nil
	}

	all, err := e.store.ListCouponsBySession(ctx, sessionID, coupon.ListOpts{})
	if err != nil {
		return nil, err
	}

	checkTime := time.Now().UTC()
	result := make([]*coupon.Coupon, 0, len(all))
	for _, c := range all {
		if c.Expired(checkTime) {
			continue
		}
		if userID != 0 && c.UserID != userID {
			continue
		}
		result = append(result, c)
	}
	return result, nil
}

// CouponURL builds the public auto-apply link for a token.
func (e *Engine) CouponURL(t *coupon.AutoApplyToken) string {
	return fmt.Sprintf("%s/apply?token=%s", strings.TrimRight(e.baseURL, "/"), t.ID.String())
}

// CleanupExpiredTokens deletes tokens past their expiry.
func (e *Engine) CleanupExpiredTokens(ctx context.Context) (int64, error) {
	return e.store.DeleteExpiredTokens(ctx, time.Now().UTC())
}

// ──────────────────────────────────────────────────
// Code generation
// ──────────────────────────────────────────────────

// generateCode builds a coupon code from the prefix, the identity it
// is bound to, the trailing digits of the clock, and a random suffix.
func (e *Engine) generateCode(userID, vendorID int64, sessionID string) (string, error) {
	if e.codeGenerator != "" {
		if g := e.plugins.GetCodeGenerator(e.codeGenerator); g != nil {
			return g.GenerateCode(userID, vendorID, sessionID)
		}
	}

	random := make([]byte, 6)
	if _, err := rand.Read(random); err != nil {
		return "", err
	}
	for i := range random {
		random[i] = codeAlphabet[int(random[i])%len(codeAlphabet)]
	}

	sessionPart := "G"
	if sessionID != "" {
		sessionPart = sessionID
	}
	ts := strconv.FormatInt(time.Now().Unix(), 10)

	code := fmt.Sprintf("%s%d%d%s%s%s",
		coupon.CodePrefix, userID, vendorID, sessionPart, ts[len(ts)-4:], random)
	return strings.ToUpper(code), nil
}
