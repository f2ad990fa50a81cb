package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"inkwell/api/internal/app"
	"inkwell/api/internal/authpw"
	"inkwell/api/internal/config"
	"inkwell/api/internal/email"
	"inkwell/api/internal/export"
	"inkwell/api/internal/quota"
	"inkwell/api/internal/ratelimit"
	"inkwell/api/internal/search"
	"inkwell/api/internal/session"
	"inkwell/api/internal/snapshot"
	"inkwell/api/internal/store"

	"github.com/joho/godotenv"
)

func main() {
	_ = godotenv.Load()
	cfg := config.Load()
	ctx := context.Background()

	db, err := store.Open(ctx, cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("database connection failed: %v", err)
	}
	defer db.Close()

	if err := store.Migrate(ctx, db, cfg.MigrationsDir); err != nil {
		log.Fatalf("migrations failed: %v", err)
	}

	if err := os.MkdirAll(cfg.SnapshotsDir, 0o755); err != nil {
		log.Fatalf("failed to create snapshots dir: %v", err)
	}

	dataStore := store.NewPostgresStore(db)
	snapshots := snapshot.New(cfg.SnapshotsDir)
	ledger := quota.NewLedger(dataStore)
	authService := authpw.NewService(dataStore)

	pgfts := search.NewPgFTS(db)
	var meiliClient *search.Meili
	var indexer search.Indexer
	if strings.TrimSpace(cfg.MeiliURL) != "" {
		meiliClient = search.NewMeili(cfg.MeiliURL, cfg.MeiliMasterKey)
		indexer = meiliClient
		defer meiliClient.Close()
	}
	searchService := search.NewService(meiliClient, pgfts)
	reconciler := search.NewReconciler(dataStore, indexer, cfg.SyncMinWords)

	var sessions app.SessionStore = dataStore
	if strings.TrimSpace(cfg.RedisURL) != "" {
		redisStore, err := session.NewRedisStore(cfg.RedisURL)
		if err != nil {
			log.Fatalf("redis connection failed: %v", err)
		}
		defer redisStore.Close()
		sessions = redisStore
		log.Printf("main: using Redis for refresh sessions")
	} else {
		log.Printf("main: using PostgreSQL for refresh sessions")
	}

	var limiter *ratelimit.Limiter
	if strings.TrimSpace(cfg.RedisURL) != "" && cfg.WriteRateLimit > 0 {
		limiter, err = ratelimit.New(cfg.RedisURL, cfg.WriteRateLimit, cfg.WriteRateWindow)
		if err != nil {
			log.Printf("main: rate limiter disabled: %v", err)
			limiter = nil
		} else {
			defer limiter.Close()
		}
	}

	mailer := email.NewService(email.Config{
		Host:     cfg.SMTPHost,
		Port:     cfg.SMTPPort,
		Username: cfg.SMTPUsername,
		Password: cfg.SMTPPassword,
		From:     cfg.SMTPFrom,
		FromName: cfg.SMTPFromName,
	})

	var exporter *export.Service
	var objects *export.ObjectStore
	if strings.TrimSpace(cfg.MinioEndpoint) != "" {
		objects, err = export.NewObjectStore(ctx, cfg.MinioEndpoint, cfg.MinioAccessKey, cfg.MinioSecretKey, cfg.MinioBucket, cfg.MinioUseSSL)
		if err != nil {
			log.Printf("main: export archival disabled: %v", err)
			objects = nil
		}
	}
	exporter = export.NewService(dataStore, objects, func(ctx context.Context, ownerID string) string {
		user, err := dataStore.GetUserByID(ctx, ownerID)
		if err != nil {
			return ""
		}
		return user.DisplayName
	})

	service := app.New(cfg, dataStore, app.Deps{
		Sessions:   sessions,
		Ledger:     ledger,
		Reconciler: reconciler,
		Searcher:   searchService,
		Snapshots:  snapshots,
		Auth:       authService,
		Email:      mailer,
		Exporter:   exporter,
	})

	// Bring the semantic index up to date with whatever changed while the
	// server was down.
	service.ReindexAll(ctx)

	httpServer := app.NewHTTPServer(service, cfg.CORSOrigin, limiter)
	server := &http.Server{
		Addr:              cfg.Addr,
		Handler:           httpServer.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		log.Printf("Inkwell API listening on %s", cfg.Addr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("server failed: %v", err)
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Printf("shutdown error: %v", err)
	}
}
