package middleware

import (
	"context"

	"go-wiki-engine/internal/acl"
	"go-wiki-engine/internal/auth"
)

// contextKey defines a custom type for context keys to avoid collisions.
type contextKey string

const userContextKey = contextKey("user")

// UserInfo represents the essential user information stored in the session and request context.
type UserInfo struct {
	// Email is empty for anonymous users.
	Email string
	Roles []string
}

// Subject returns the name the user is known by to the route policies.
func (u *UserInfo) Subject() string {
	if u == nil || u.Email == "" {
		return auth.RoleAnonymous
	}
	return u.Email
}

// User returns the identity page rules are evaluated against.
func (u *UserInfo) User() *acl.User {
	if u == nil {
		return acl.Anonymous()
	}
	return &acl.User{Email: u.Email, Roles: u.Roles}
}

// GetUserInfo retrieves the user information from the request context.
func GetUserInfo(ctx context.Context) *UserInfo {
	if userInfo, ok := ctx.Value(userContextKey).(*UserInfo); ok {
		return userInfo
	}
	// Return an anonymous user if no user info is found in the context.
	return &UserInfo{}
}

// SetUserInfo adds the user information to the request context.
func SetUserInfo(ctx context.Context, userInfo *UserInfo) context.Context {
	return context.WithValue(ctx, userContextKey, userInfo)
}
