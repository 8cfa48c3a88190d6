package auth

import (
	"net/http"

	"go.uber.org/zap"

	"github.com/camforge/camforge/internal/config"
)

type Authenticator interface {
	Authenticator(next http.Handler) http.Handler
}

const (
	TokenAuthentication string = "token"
	NoneAuthentication  string = "none"
)

func NewAuthenticator(authConfig config.Auth) (Authenticator, error) {
	zap.S().Named("auth").Infof("authentication: '%s'", authConfig.AuthenticationType)

	switch authConfig.AuthenticationType {
	case TokenAuthentication:
		return NewTokenAuthenticator(authConfig.AdminToken)
	default:
		return NewNoneAuthenticator()
	}
}

// AdminRequired guards the operator surface: cancel, pause and resume, and
// the dead letter queue.
func AdminRequired(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		user, found := UserFromContext(r.Context())
		if !found || !user.Admin {
			http.Error(w, "admin access required", http.StatusForbidden)
			return
		}
		next.ServeHTTP(w, r)
	})
}
