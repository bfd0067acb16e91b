package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/gr8r/credits"
	"github.com/gr8r/credits/guard"
)

// envelope is the wire shape of every response. Success responses carry
// data, failures carry a machine-readable error.
type envelope struct {
	Success bool        `json:"success"`
	Data    interface{} `json:"data,omitempty"`
	Error   *apiError   `json:"error,omitempty"`
}

type apiError struct {
	Kind    string `json:"kind"`
	Message string `json:"message"`

	// Shortfall detail for insufficient-credit failures.
	Available string `json:"available,omitempty"`
	Requested string `json:"requested,omitempty"`

	// Seconds until a throttled client may retry.
	RetryAfter int64 `json:"retry_after,omitempty"`
}

// writeJSON writes a success envelope.
func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(envelope{Success: true, Data: data})
}

// writeError writes a failure envelope.
func writeError(w http.ResponseWriter, status int, kind, msg string) {
	writeErrorDetail(w, status, &apiError{Kind: kind, Message: msg})
}

func writeErrorDetail(w http.ResponseWriter, status int, e *apiError) {
	w.Header().Set("Content-Type", "application/json")
	if e.RetryAfter > 0 {
		w.Header().Set("Retry-After", strconv.FormatInt(e.RetryAfter, 10))
	}
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(envelope{Success: false, Error: e})
}

// writeDomainError maps a domain error to an HTTP status and error kind.
// Business errors keep their machine kind so clients can branch on them;
// infrastructure failures collapse to a generic retry-later message.
func writeDomainError(w http.ResponseWriter, err error) {
	var ie *credits.InsufficientCreditsError
	if errors.As(err, &ie) {
		writeErrorDetail(w, http.StatusPaymentRequired, &apiError{
			Kind:      "insufficient_credits",
			Message:   ie.Error(),
			Available: ie.Available.String(),
			Requested: ie.Requested.String(),
		})
		return
	}

	var te *guard.ThrottledError
	if errors.As(err, &te) {
		writeErrorDetail(w, http.StatusTooManyRequests, &apiError{
			Kind:       "rate_limited",
			Message:    "too many requests",
			RetryAfter: int64(te.RetryAfter.Seconds()),
		})
		return
	}

	switch {
	case errors.Is(err, guard.ErrBlocked):
		writeError(w, http.StatusForbidden, "blocked", "access denied")
	case errors.Is(err, credits.ErrCouponNotFound),
		errors.Is(err, credits.ErrTokenNotFound),
		errors.Is(err, credits.ErrNoAccount),
		errors.Is(err, credits.ErrNotFound):
		writeError(w, http.StatusNotFound, "not_found", err.Error())
	case errors.Is(err, credits.ErrCouponExpired):
		writeError(w, http.StatusGone, "coupon_expired", err.Error())
	case errors.Is(err, credits.ErrCouponAlreadyUsed):
		writeError(w, http.StatusConflict, "coupon_already_used", err.Error())
	case errors.Is(err, credits.ErrCouponWrongUser):
		writeError(w, http.StatusForbidden, "coupon_wrong_user", err.Error())
	case errors.Is(err, credits.ErrInvalidAmount),
		errors.Is(err, credits.ErrInvalidDiscount),
		errors.Is(err, credits.ErrMissingParams),
		errors.Is(err, credits.ErrInvalidUser),
		errors.Is(err, credits.ErrInvalidInput):
		writeError(w, http.StatusBadRequest, "invalid_request", err.Error())
	case errors.Is(err, credits.ErrAlreadyExists):
		writeError(w, http.StatusConflict, "already_exists", err.Error())
	case credits.IsRetryable(err):
		writeError(w, http.StatusServiceUnavailable, "unavailable", "temporarily unavailable, retry later")
	default:
		writeError(w, http.StatusInternalServerError, "internal", "internal error")
	}
}
