package middleware

import (
	"context"
	"fmt"
	"net/http"
	"strings"
)

type userKey struct{}

// maxUserIDLength bounds the X-User-ID header.
const maxUserIDLength = 128

// ActingUser reads the acting user from X-User-ID. Authentication happens
// upstream; requests without the header are rejected.
func ActingUser(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		userID := strings.TrimSpace(r.Header.Get("X-User-ID"))
		switch {
		case userID == "":
			writeJSONError(w, http.StatusUnauthorized, "missing X-User-ID header", "AUTH003")
			return
		case len(userID) > maxUserIDLength:
			writeJSONError(w, http.StatusBadRequest, fmt.Sprintf("X-User-ID longer than %d characters", maxUserIDLength), "AUTH004")
			return
		}
		next.ServeHTTP(w, r.WithContext(WithUserID(r.Context(), userID)))
	})
}

// WithUserID stores the acting user on ctx.
func WithUserID(ctx context.Context, userID string) context.Context {
	return context.WithValue(ctx, userKey{}, userID)
}

// UserID returns the acting user, or "" outside ActingUser.
func UserID(ctx context.Context) string {
	id, _ := ctx.Value(userKey{}).(string)
	return id
}

func writeJSONError(w http.ResponseWriter, status int, message, code string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	fmt.Fprintf(w, `{"error":%q,"message":%q,"code":%q}`+"\n", message, message, code)
}
