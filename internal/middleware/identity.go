// Package middleware provides HTTP middleware for the marketplace API.
package middleware

import (
	"net/http"
	"strings"

	"github.com/gorilla/mux"

	"github.com/tradeit-market/tradeit/internal/identity"
)

// UserIDHeader carries the caller's identity. Authentication is handled
// upstream; this service trusts the header as-is.
const UserIDHeader = "X-User-ID"

// Identity extracts the caller's user id from the request header and
// places it on the request context.
func Identity() mux.MiddlewareFunc {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if uid := strings.TrimSpace(r.Header.Get(UserIDHeader)); uid != "" {
				r = r.WithContext(identity.WithUserID(r.Context(), uid))
			}
			next.ServeHTTP(w, r)
		})
	}
}
