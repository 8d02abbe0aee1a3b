package auth

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"go-wiki-engine/internal/acl"
	"go-wiki-engine/internal/logger"
)

func TestRoutePolicies(t *testing.T) {
	e, err := NewMemoryEnforcer()
	require.NoError(t, err)
	SeedDefaultPolicies(e, logger.Nop())
	// Seeding twice must not duplicate anything.
	SeedDefaultPolicies(e, logger.Nop())

	require.NoError(t, GrantSignIn(e, "alice@example.com", []string{" Alice@Example.com"}))
	require.NoError(t, GrantSignIn(e, "bob@example.com", []string{"alice@example.com"}))

	testCases := []struct {
		subject, path, method string
		want                  bool
	}{
		{RoleAnonymous, "/auth/login", "GET", true},
		{RoleAnonymous, "/sp.admin/flush", "POST", false},
		{"bob@example.com", "/auth/callback", "GET", true},
		{"bob@example.com", "/sp.admin/flush", "POST", false},
		{"alice@example.com", "/sp.admin/flush", "POST", true},
		{"alice@example.com", "/sp.admin/reconcile", "DELETE", false},
	}
	for _, tc := range testCases {
		t.Run(tc.subject+" "+tc.method+" "+tc.path, func(t *testing.T) {
			ok, err := e.Enforce(tc.subject, tc.path, tc.method)
			require.NoError(t, err)
			assert.Equal(t, tc.want, ok)
		})
	}

	roles, err := Roles(e, "alice@example.com")
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{RoleEditor, acl.AdminRole, RoleAnonymous}, roles)

	roles, err = Roles(e, "bob@example.com")
	require.NoError(t, err)
	assert.NotContains(t, roles, acl.AdminRole)
}
