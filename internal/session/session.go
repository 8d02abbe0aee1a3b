package session

import (
	"context"
	"net/http"
	"time"

	"github.com/alexedwards/scs/mysqlstore"
	"github.com/alexedwards/scs/sqlite3store"
	"github.com/alexedwards/scs/v2"
	"github.com/jmoiron/sqlx"

	"go-wiki-engine/internal/config"
)

// Session keys.
const (
	KeyEmail = "user_email"
	KeyState = "oauth_state"
)

// Manager is an interface that abstracts the session management implementation.
// This allows for easier testing and dependency injection.
type Manager interface {
	LoadAndSave(next http.Handler) http.Handler
	Put(ctx context.Context, key string, val interface{})
	GetString(ctx context.Context, key string) string
	PopString(ctx context.Context, key string) string
	RenewToken(ctx context.Context) error
	Destroy(ctx context.Context) error
	Remove(ctx context.Context, key string)
}

var _ Manager = (*scs.SessionManager)(nil)

// New creates a session manager storing sessions in the application
// database. The sessions table is created by the schema migrations.
func New(cfg config.SessionConfig, db *sqlx.DB, driver string, secure bool) *scs.SessionManager {
	sm := scs.New()
	if driver == "mysql" {
		sm.Store = mysqlstore.New(db.DB)
	} else {
		sm.Store = sqlite3store.New(db.DB)
	}
	sm.Lifetime = time.Duration(cfg.Lifetime) * time.Hour
	sm.Cookie.Name = "wiki_session"
	sm.Cookie.Persist = true
	sm.Cookie.SameSite = http.SameSiteLaxMode
	sm.Cookie.Secure = secure
	return sm
}
