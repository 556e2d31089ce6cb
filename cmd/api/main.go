package main

import (
	"context"
	"database/sql"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"

	"stockroom.org/internal/auth"
	"stockroom.org/internal/httpapi"
	"stockroom.org/internal/obs"
	"stockroom.org/internal/stream"
	"stockroom.org/internal/token"
)

var (
	version = "0.1.0"
	commit  = "dev"
)

func main() {
	obs.Init()
	obs.InitBuildInfo(version, commit)

	accessSecret := os.Getenv("STOCKROOM_ACCESS_SECRET")
	refreshSecret := os.Getenv("STOCKROOM_REFRESH_SECRET")
	codec, err := token.NewCodec(accessSecret, refreshSecret)
	if err != nil {
		log.Fatalf("token codec: %v", err)
	}

	// PostgreSQL when a DSN is given, in-memory otherwise (dev mode).
	var (
		store auth.Store
		db    *sql.DB
	)
	if dsn := os.Getenv("STOCKROOM_PG_DSN"); dsn != "" {
		pg, err := auth.OpenPG(dsn)
		if err != nil {
			log.Fatalf("open db: %v", err)
		}
		store = pg
		db = pg.DB()
	} else {
		log.Println("STOCKROOM_PG_DSN not set, using in-memory store")
		store = auth.NewInMemory()
	}

	events := stream.New()

	svc, err := auth.NewService(store, codec, auth.WithEvents(events))
	if err != nil {
		log.Fatalf("auth service: %v", err)
	}

	validator := auth.NewValidator(store, codec)
	authn := auth.NewAuthenticator(
		auth.NewHeaderStrategy(validator),
		auth.NewCookieStrategy(validator, auth.AccessCookie),
	)
	resolver := auth.NewResolver(store)

	api := httpapi.New(httpapi.ReadyProbe{DB: db}, version, svc, store, authn, resolver, events)

	addr := os.Getenv("STOCKROOM_ADDR")
	if addr == "" {
		addr = ":8080"
	}

	srv := &http.Server{
		Addr:              addr,
		Handler:           api.Handler(),
		ReadTimeout:       15 * time.Second,
		ReadHeaderTimeout: 15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	log.Printf("Starting stockroom-api %s on %s", version, srv.Addr)

	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("listen: %v", err)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)

	<-stop
	log.Println("Shutting down...")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	_ = srv.Shutdown(ctx)
	if db != nil {
		_ = db.Close()
	}
	log.Println("Stopped")
}
