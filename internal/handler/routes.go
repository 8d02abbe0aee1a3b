package handler

import (
	"io/fs"
	"net/http"

	"github.com/casbin/casbin/v2"
	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"go-wiki-engine/internal/logger"
	"go-wiki-engine/internal/metrics"
	"go-wiki-engine/internal/middleware"
	"go-wiki-engine/internal/session"
	"go-wiki-engine/internal/view"
)

// RouterDeps bundles everything NewRouter wires together.
type RouterDeps struct {
	Pages *PageHandler
	Admin *AdminHandler
	// Auth is nil when no identity provider is configured.
	Auth     *AuthHandler
	Seo      *SeoHandler
	Sessions session.Manager
	Enforcer *casbin.Enforcer
	Metrics  *metrics.Collector
	View     *view.View
	Static   fs.FS
	Log      logger.Logger
}

// NewRouter creates and configures a new chi router.
func NewRouter(d RouterDeps) *chi.Mux {
	r := chi.NewRouter()

	// A good base middleware stack
	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(chimw.Logger)
	r.Use(chimw.Recoverer)
	r.Use(d.Sessions.LoadAndSave)
	r.Use(middleware.Identify(d.Enforcer, d.Sessions, d.Log))
	r.Use(middleware.RepresentationMiddleware)

	e := middleware.Error(d.Log, d.View)
	authz := middleware.Authorizer(d.Enforcer)

	r.Get("/", func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, pageURL(HomeTitle), http.StatusFound)
	})
	if d.Metrics != nil {
		r.Handle("/metrics", d.Metrics.Handler())
	}
	if d.Static != nil {
		r.Handle("/static/*", http.StripPrefix("/static/", http.FileServer(http.FS(d.Static))))
	}
	r.Get("/robots.txt", d.Seo.robotsHandler)
	r.Get("/sitemap.xml", d.Seo.sitemapHandler)

	// Authentication routes
	if d.Auth != nil {
		r.Group(func(r chi.Router) {
			r.Use(authz)
			r.Get("/auth/login", d.Auth.handleLogin)
			r.Get("/auth/callback", d.Auth.handleCallback)
			r.Get("/auth/logout", d.Auth.handleLogout)
		})
	}

	// Maintenance routes
	r.Group(func(r chi.Router) {
		r.Use(authz)
		r.Method(http.MethodPost, "/sp.admin/reconcile", e(d.Admin.reconcileHandler))
		r.Method(http.MethodPost, "/sp.admin/recommend", e(d.Admin.recommendHandler))
		r.Method(http.MethodPost, "/sp.admin/flush", e(d.Admin.flushHandler))
		r.Method(http.MethodPost, "/sp.admin/reindex", e(d.Admin.reindexHandler))
	})

	// Special pages
	r.Method(http.MethodGet, "/sp.changes", e(d.Pages.changesHandler))
	r.Method(http.MethodGet, "/sp.posts", e(d.Pages.postsHandler))
	r.Method(http.MethodGet, "/sp.index", e(d.Pages.indexHandler))
	r.Method(http.MethodGet, "/sp.titles", e(d.Pages.titlesHandler))
	r.Method(http.MethodGet, "/sp.search", e(d.Pages.searchHandler))

	// Page routes; permissions come from the rules of each page.
	r.Method(http.MethodGet, "/*", e(d.Pages.getHandler))
	r.Method(http.MethodPut, "/*", e(d.Pages.putHandler))
	r.Method(http.MethodPost, "/*", e(d.Pages.postHandler))
	r.Method(http.MethodDelete, "/*", e(d.Pages.deleteHandler))

	return r
}
