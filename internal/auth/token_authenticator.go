package auth

import (
	"crypto/subtle"
	"errors"
	"net/http"
	"strings"
)

// TokenAuthenticator grants admin access to bearers of the configured
// token. Requests without a token pass as anonymous non-admin users.
type TokenAuthenticator struct {
	adminToken string
}

func NewTokenAuthenticator(adminToken string) (*TokenAuthenticator, error) {
	if adminToken == "" {
		return nil, errors.New("token authentication requires a non-empty admin token")
	}
	return &TokenAuthenticator{adminToken: adminToken}, nil
}

func (t *TokenAuthenticator) Authenticator(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		user := User{Username: "anonymous"}

		header := r.Header.Get("Authorization")
		if token, found := strings.CutPrefix(header, "Bearer "); found {
			if subtle.ConstantTimeCompare([]byte(token), []byte(t.adminToken)) == 1 {
				user = User{Username: "admin", Admin: true}
			} else {
				http.Error(w, "invalid token", http.StatusUnauthorized)
				return
			}
		}

		ctx := newContext(r.Context(), user)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}
