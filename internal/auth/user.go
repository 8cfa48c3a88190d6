package auth

import (
	"context"
)

type userKeyType struct{}

var userKey userKeyType

func UserFromContext(ctx context.Context) (User, bool) {
	val := ctx.Value(userKey)
	if val == nil {
		return User{}, false
	}
	return val.(User), true
}

func newContext(ctx context.Context, u User) context.Context {
	return context.WithValue(ctx, userKey, u)
}

type User struct {
	Username string
	Admin    bool
}
