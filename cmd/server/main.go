package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go-wiki-engine/internal/app"
	"go-wiki-engine/internal/auth"
	"go-wiki-engine/internal/config"
	"go-wiki-engine/internal/handler"
	"go-wiki-engine/internal/logger"
	"go-wiki-engine/internal/session"
	"go-wiki-engine/internal/view"
	"go-wiki-engine/web"
)

func main() {
	// --- Configuration Loading ---
	cfg, err := config.LoadConfig()
	if err != nil {
		// Use fmt.Printf here because the logger is not yet initialized.
		fmt.Printf("Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	// --- Logger Initialization ---
	log := logger.New(cfg.Log, nil)

	// --- Database, Cache and Page Service ---
	log.Info("Connecting to the database...")
	wiki, err := app.Open(cfg, log)
	if err != nil {
		log.Fatal(err, "Failed to initialize the wiki")
	}
	defer wiki.Close()
	if err := wiki.Migrate(); err != nil {
		log.Fatal(err, "Failed to apply migrations")
	}

	// --- Session Management Setup ---
	sessionManager := session.New(cfg.Session, wiki.DB, cfg.DB.Driver, cfg.Server.TLS.Enabled)

	// --- Authentication and Authorization Setup ---
	log.Info("Initializing authentication and authorization...")
	enforcer, err := auth.NewEnforcer(cfg.DB.Driver, cfg.DB.DSN)
	if err != nil {
		log.Fatal(err, "Failed to initialize enforcer")
	}
	auth.SeedDefaultPolicies(enforcer, log)

	var authHandler *handler.AuthHandler
	if cfg.OIDC.IssuerURL != "" {
		authenticator, err := auth.NewAuthenticator(context.Background(), &cfg.OIDC)
		if err != nil {
			log.Fatal(err, "Failed to initialize authenticator")
		}
		authHandler = handler.NewAuthHandler(authenticator, sessionManager, enforcer, cfg.OIDC.Admins, log)
	} else {
		log.Warn("No OIDC issuer configured, sign in is disabled.")
	}

	// --- View Template Initialization ---
	viewService, err := view.New(web.TemplateFS)
	if err != nil {
		log.Fatal(err, "Failed to initialize view templates")
	}
	static, err := web.Static()
	if err != nil {
		log.Fatal(err, "Failed to open static assets")
	}

	// --- Router Setup ---
	router := handler.NewRouter(handler.RouterDeps{
		Pages:    handler.NewPageHandler(wiki.Pages, viewService, log, cfg.Server.BaseURL),
		Admin:    handler.NewAdminHandler(wiki.Pages, wiki.Cache, cfg.Engine, log),
		Auth:     authHandler,
		Seo:      handler.NewSeoHandler(wiki.Pages, cfg.Server.BaseURL),
		Sessions: sessionManager,
		Enforcer: enforcer,
		Metrics:  wiki.Metrics,
		View:     viewService,
		Static:   static,
		Log:      log,
	})

	// --- Background Maintenance ---
	maintenanceCtx, stopMaintenance := context.WithCancel(context.Background())
	maintenanceDone := make(chan struct{})
	go func() {
		wiki.RunMaintenance(maintenanceCtx)
		close(maintenanceDone)
	}()

	// --- Server Initialization and Graceful Shutdown ---
	server := &http.Server{
		Addr:              fmt.Sprintf(":%s", cfg.Server.Port),
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		if cfg.Server.TLS.Enabled {
			log.Info(fmt.Sprintf("Starting HTTPS server on %s", server.Addr))
			if err := server.ListenAndServeTLS(cfg.Server.TLS.CertFile, cfg.Server.TLS.KeyFile); err != nil && !errors.Is(err, http.ErrServerClosed) {
				log.Fatal(err, "Could not start HTTPS server")
			}
		} else {
			log.Info(fmt.Sprintf("Starting HTTP server on %s", server.Addr))
			if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				log.Fatal(err, "Could not start HTTP server")
			}
		}
	}()
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Warn("Shutting down server...")
	stopMaintenance()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil {
		log.Fatal(err, "Server forced to shutdown")
	}
	<-maintenanceDone
	log.Info("Server exiting")
}
