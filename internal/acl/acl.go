// Package acl evaluates the read and write rules of pages.
//
// A rule is a comma separated list of entries. "all" admits everybody,
// "login" admits any signed in user and any other entry is an email
// address. A page without its own rule falls back to the site default.
package acl

import (
	"slices"
	"strings"

	"go-wiki-engine/internal/data"
)

// Rule entries with a special meaning.
const (
	All   = "all"
	Login = "login"
)

// AdminRole is the role that bypasses page rules.
const AdminRole = "admin"

// User is the identity a rule is evaluated against. The zero value is the
// anonymous user.
type User struct {
	Email string
	Roles []string
}

// Anonymous returns the anonymous user.
func Anonymous() *User {
	return &User{}
}

// LoggedIn reports whether u is a signed in user.
func (u *User) LoggedIn() bool {
	return u != nil && u.Email != ""
}

// IsAdmin reports whether u carries AdminRole.
func (u *User) IsAdmin() bool {
	return u != nil && slices.Contains(u.Roles, AdminRole)
}

// Key returns the identity used to namespace per-user cache entries.
func (u *User) Key() string {
	if !u.LoggedIn() {
		return "anonymous"
	}
	return u.Email
}

// Parse splits a rule into its entries, dropping blanks.
func Parse(rule string) []string {
	var entries []string
	for _, e := range strings.Split(rule, ",") {
		if e = strings.TrimSpace(e); e != "" {
			entries = append(entries, e)
		}
	}
	return entries
}

// Rules is the effective pair of rules of a page.
type Rules struct {
	Read  []string
	Write []string
}

// PageRules returns the rules of p, falling back to defaults for each rule
// the page does not set.
func PageRules(p *data.Page, defaults Rules) Rules {
	r := defaults
	if entries := Parse(p.ACLRead); len(entries) > 0 {
		r.Read = entries
	}
	if entries := Parse(p.ACLWrite); len(entries) > 0 {
		r.Write = entries
	}
	return r
}

// CanRead reports whether u may read. Anyone who may write may also read.
func (r Rules) CanRead(u *User) bool {
	return admits(r.Read, u) || r.CanWrite(u)
}

// CanWrite reports whether u may write.
func (r Rules) CanWrite(u *User) bool {
	return admits(r.Write, u)
}

// Restricted reports whether the read rule keeps some users out.
func (r Rules) Restricted() bool {
	return !slices.Contains(r.Read, All)
}

func admits(entries []string, u *User) bool {
	if u.IsAdmin() {
		return true
	}
	for _, e := range entries {
		switch e {
		case All:
			return true
		case Login:
			if u.LoggedIn() {
				return true
			}
		default:
			if u.LoggedIn() && strings.EqualFold(e, u.Email) {
				return true
			}
		}
	}
	return false
}
