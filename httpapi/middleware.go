package httpapi

import (
	"net"
	"net/http"
	"strconv"
	"strings"

	"github.com/gr8r/credits/guard"
)

// clientIP returns the remote IP with any port stripped. chi's RealIP
// middleware has already resolved X-Forwarded-For into RemoteAddr.
func clientIP(r *http.Request) string {
	if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		return host
	}
	return r.RemoteAddr
}

// callerID returns the authenticated user from the gateway header, or
// zero for anonymous requests.
func callerID(r *http.Request) int64 {
	id, _ := strconv.ParseInt(r.Header.Get("X-User-ID"), 10, 64)
	return id
}

// blockList refuses requests from block-listed IPs before any handler
// runs.
func (s *Server) blockList(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.guard.IsBlocked(r.Context(), clientIP(r)) {
			writeDomainError(w, guard.ErrBlocked)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// rateLimit enforces the sliding-window limit for one guard action,
// keyed by client IP.
func (s *Server) rateLimit(action guard.Action) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if err := s.guard.CheckRateLimit(r.Context(), action, clientIP(r)); err != nil {
				writeDomainError(w, err)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// requireAdmin gates privileged endpoints behind the configured bearer
// token.
func (s *Server) requireAdmin(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
		if s.adminToken == "" || token != s.adminToken {
			writeError(w, http.StatusUnauthorized, "unauthorized", "admin token required")
			return
		}
		next.ServeHTTP(w, r)
	})
}

// selfOrAdmin reports whether the caller may read data for userID:
// either it is their own, or they hold the admin token.
func (s *Server) selfOrAdmin(r *http.Request, userID int64) bool {
	if callerID(r) == userID && userID != 0 {
		return true
	}
	token := strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
	return s.adminToken != "" && token == s.adminToken
}
