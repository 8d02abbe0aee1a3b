package auth

import (
	"fmt"

	"github.com/casbin/casbin/v2"
	"github.com/casbin/casbin/v2/model"
	"github.com/casbin/casbin/v2/util"
	sqlxadapter "github.com/memwey/casbin-sqlx-adapter"
)

// Roles known to the route policies. Every signed in user is an editor;
// AdminRole is shared with the page rules.
const (
	RoleAnonymous = "anonymous"
	RoleEditor    = "editor"
)

// modelText is the RBAC model the route policies are written against.
// Subjects are email addresses or "anonymous"; actions are matched as a
// regular expression over the request method.
const modelText = `
[request_definition]
r = sub, obj, act

[policy_definition]
p = sub, obj, act

[role_definition]
g = _, _

[policy_effect]
e = some(where (p.eft == allow))

[matchers]
m = g(r.sub, p.sub) && keyMatch2(r.obj, p.obj) && regexMatch(r.act, p.act)
`

// NewEnforcer creates a Casbin enforcer whose policies are stored in the
// casbin_rule table of the given database, and loads them.
func NewEnforcer(driverName, dsn string) (*casbin.Enforcer, error) {
	// The adapter opens its own connection, so the table must already
	// exist; it is created by the schema migrations.
	adapter := sqlxadapter.NewAdapterFromOptions(&sqlxadapter.AdapterOptions{
		DriverName:     driverName,
		DataSourceName: dsn,
		TableName:      "casbin_rule",
	})

	m, err := model.NewModelFromString(modelText)
	if err != nil {
		return nil, fmt.Errorf("failed to parse authorization model: %w", err)
	}
	enforcer, err := casbin.NewEnforcer(m, adapter)
	if err != nil {
		return nil, fmt.Errorf("failed to create enforcer: %w", err)
	}
	enforcer.AddFunction("keyMatch2", util.KeyMatch2Func)

	if err := enforcer.LoadPolicy(); err != nil {
		return nil, fmt.Errorf("failed to load policies: %w", err)
	}
	return enforcer, nil
}

// NewMemoryEnforcer creates an enforcer without persistent storage.
func NewMemoryEnforcer() (*casbin.Enforcer, error) {
	m, err := model.NewModelFromString(modelText)
	if err != nil {
		return nil, fmt.Errorf("failed to parse authorization model: %w", err)
	}
	enforcer, err := casbin.NewEnforcer(m)
	if err != nil {
		return nil, fmt.Errorf("failed to create enforcer: %w", err)
	}
	enforcer.AddFunction("keyMatch2", util.KeyMatch2Func)
	return enforcer, nil
}

// Roles returns every role held by subject, including inherited ones.
func Roles(e *casbin.Enforcer, subject string) ([]string, error) {
	roles, err := e.GetImplicitRolesForUser(subject)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve roles of %s: %w", subject, err)
	}
	return roles, nil
}
