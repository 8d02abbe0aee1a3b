package auth

import (
	"fmt"
	"strings"

	"github.com/casbin/casbin/v2"

	"go-wiki-engine/internal/acl"
	"go-wiki-engine/internal/logger"
)

// SeedDefaultPolicies ensures the baseline route policies exist. Page
// level permissions are not expressed here; they come from the rules of
// each page. The operation is idempotent and runs on every start.
func SeedDefaultPolicies(e *casbin.Enforcer, log logger.Logger) {
	log.Info("Seeding default authorization policies...")

	policies := [][]string{
		// Maintenance endpoints are reserved for administrators.
		{acl.AdminRole, "/sp.admin/*", "GET|POST"},
		// Anyone may reach the login flow.
		{RoleAnonymous, "/auth/*", "GET"},
	}
	for _, p := range policies {
		if has, _ := e.HasPolicy(p); !has {
			if _, err := e.AddPolicy(p); err != nil {
				log.Error(err, fmt.Sprintf("Failed to add policy %v", p))
			}
		}
	}

	// Editors can do everything anonymous users can, administrators
	// everything editors can.
	for _, link := range [][2]string{{RoleEditor, RoleAnonymous}, {acl.AdminRole, RoleEditor}} {
		if has, _ := e.HasRoleForUser(link[0], link[1]); !has {
			if _, err := e.AddRoleForUser(link[0], link[1]); err != nil {
				log.Error(err, fmt.Sprintf("Failed to add role '%s' -> '%s'", link[0], link[1]))
			}
		}
	}
	log.Info("Policy seeding complete.")
}

// GrantSignIn gives a freshly signed in user the editor role, and the
// admin role when email is listed in admins.
func GrantSignIn(e *casbin.Enforcer, email string, admins []string) error {
	grants := []string{RoleEditor}
	for _, a := range admins {
		if strings.EqualFold(strings.TrimSpace(a), email) {
			grants = append(grants, acl.AdminRole)
		}
	}
	for _, role := range grants {
		if has, _ := e.HasRoleForUser(email, role); has {
			continue
		}
		if _, err := e.AddRoleForUser(email, role); err != nil {
			return fmt.Errorf("failed to grant %s to %s: %w", role, email, err)
		}
	}
	return nil
}
