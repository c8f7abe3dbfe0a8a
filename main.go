// Command groomnet-agent is the GroomNet sync agent.
//
// It holds the user's marketplace session, keeps the notification and
// instant-booking sockets in sync with the upstream server, and serves the
// derived state (unread counters, the current booking offer, presence) to
// the UI over a loopback HTTP + WebSocket API.
//
// Wire-up order:
//  1. Config and telemetry
//  2. Database and repositories
//  3. i18n and the session key
//  4. Services and the UI hub
//  5. Bus callbacks, then session restore
//  6. Handlers, routes, CORS
//  7. HTTP server and graceful shutdown
package main

import (
	"context"
	"errors"
	"io/fs"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/cors"

	"github.com/akinalp/groomnet/config"
	"github.com/akinalp/groomnet/database"
	"github.com/akinalp/groomnet/middleware"
	"github.com/akinalp/groomnet/pkg/crypto"
	"github.com/akinalp/groomnet/pkg/i18n"
	"github.com/akinalp/groomnet/pkg/telemetry"
	"github.com/akinalp/groomnet/ws"
)

func main() {
	log.SetFlags(log.Ldate | log.Ltime | log.Lshortfile)
	log.Println("[main] groomnet agent starting...")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// ─── 1. Config & telemetry ───
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("[main] failed to load config: %v", err)
	}
	log.Printf("[main] config loaded (api=%s ws=%s)", cfg.Upstream.APIBaseURL, cfg.Upstream.WSBaseURL)

	shutdownTelemetry, err := telemetry.Init(ctx, cfg.Telemetry.ServiceName, cfg.Telemetry.Endpoint)
	if err != nil {
		log.Fatalf("[main] failed to initialize telemetry: %v", err)
	}

	// ─── 2. Database ───
	migrations, err := fs.Sub(database.EmbeddedMigrations, "migrations")
	if err != nil {
		log.Fatalf("[main] failed to open embedded migrations: %v", err)
	}
	db, err := database.New(cfg.Database.Path, migrations)
	if err != nil {
		log.Fatalf("[main] failed to initialize database: %v", err)
	}
	defer db.Close()

	repos := initRepositories(db.Conn, cfg)

	// ─── 3. i18n & session key ───
	catalog, err := i18n.LoadEmbedded()
	if err != nil {
		log.Fatalf("[main] failed to load i18n translations: %v", err)
	}
	loc := catalog.Localizer(cfg.Session.Language)

	sessionKey, err := crypto.DeriveKey(cfg.Session.Secret)
	if err != nil {
		log.Fatalf("[main] invalid SESSION_SECRET: %v", err)
	}

	// ─── 4. Services & hub ───
	svcs, limiters := initServices(repos, cfg, loc, sessionKey)
	defer limiters.stop()

	hub := ws.NewHub()
	go hub.Run()

	// ─── 5. Callbacks, then restore ───
	registerCallbacks(ctx, hub, svcs)

	identity, err := svcs.Identity.Restore(ctx)
	if err != nil {
		log.Printf("[main] session restore failed, starting signed out: %v", err)
	} else if identity == nil {
		log.Println("[main] no stored session, waiting for login")
	}

	// ─── 6. Handlers, routes, CORS ───
	h := initHandlers(svcs, repos, limiters, hub, cfg)

	mux := http.NewServeMux()
	initRoutes(mux, h, middleware.NewIdentityMiddleware(svcs.Identity))

	corsHandler := cors.New(cors.Options{
		AllowedOrigins:   cfg.Agent.AllowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Authorization", "Content-Type"},
		AllowCredentials: true,
	})

	// ─── 7. HTTP server ───
	srv := &http.Server{
		Addr:              cfg.Agent.Addr(),
		Handler:           corsHandler.Handler(mux),
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		log.Printf("[main] local api listening on %s", cfg.Agent.Addr())
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("[main] server error: %v", err)
		}
	}()

	<-ctx.Done()
	log.Println("[main] shutting down...")

	// UI sockets first, then upstream sockets, then the HTTP server.
	hub.Shutdown()
	svcs.shutdown()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Printf("[main] forced shutdown: %v", err)
	}
	if err := shutdownTelemetry(shutdownCtx); err != nil {
		log.Printf("[main] telemetry shutdown: %v", err)
	}

	log.Println("[main] agent stopped gracefully")
}
