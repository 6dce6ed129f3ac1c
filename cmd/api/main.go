package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"memoria/api/internal/app"
	"memoria/api/internal/config"
	"memoria/api/internal/media"
	"memoria/api/internal/search"
	"memoria/api/internal/session"
	"memoria/api/internal/snapshot"
	"memoria/api/internal/store"
)

func main() {
	cfg := config.Load()

	startCtx, startCancel := context.WithTimeout(context.Background(), 30*time.Second)
	db, err := store.Open(startCtx, cfg.DatabaseURL, cfg.DBMaxOpenConns, cfg.DBMaxIdleConns)
	if err != nil {
		log.Fatalf("open database: %v", err)
	}
	defer db.Close()

	if err := store.ApplyMigrations(startCtx, db, cfg.MigrationsDir); err != nil {
		log.Fatalf("apply migrations: %v", err)
	}
	startCancel()

	data := store.NewPostgresStore(db)
	snap := snapshot.New(cfg.SnapshotDir)

	pgfts := search.NewPgFTS(db)
	var meili *search.Meili
	if cfg.MeiliURL != "" {
		meili = search.NewMeili(cfg.MeiliURL, cfg.MeiliMasterKey)
		defer meili.Close()
	}
	searchSvc := search.NewService(meili, pgfts)

	var sessions session.Store = data
	if cfg.RedisURL != "" {
		redisStore, err := session.NewRedisStore(cfg.RedisURL)
		if err != nil {
			log.Fatalf("connect redis: %v", err)
		}
		defer redisStore.Close()
		sessions = redisStore
	}

	var uploads *media.Uploader
	if cfg.MinioEndpoint != "" {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		uploads, err = media.NewUploader(ctx, cfg.MinioEndpoint, cfg.MinioAccessKey, cfg.MinioSecretKey, cfg.MinioBucket, cfg.MinioUseSSL, cfg.MinioPublicURL)
		cancel()
		if err != nil {
			log.Printf("object store unavailable, uploads disabled: %v", err)
			uploads = nil
		}
	}

	service := app.New(cfg, data, snap, sessions, searchSvc, uploads)

	bootstrapCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	if err := service.Bootstrap(bootstrapCtx); err != nil {
		log.Printf("bootstrap: %v", err)
	}
	cancel()

	server := &http.Server{
		Addr:              cfg.Addr,
		Handler:           app.NewHTTPServer(service, cfg.CORSOrigin),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		log.Printf("listening on %s", cfg.Addr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("serve: %v", err)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop

	log.Println("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Printf("shutdown: %v", err)
	}
}
