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

	"switchboard/api/internal/app"
	"switchboard/api/internal/config"
	"switchboard/api/internal/gdpr"
	"switchboard/api/internal/ratelimit"
	"switchboard/api/internal/search"
	"switchboard/api/internal/shopify"
	"switchboard/api/internal/store"
	"switchboard/api/internal/vapi"
)

func main() {
	cfg := config.Load()
	ctx := context.Background()

	db, err := store.Open(ctx, cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("database connection failed: %v", err)
	}
	defer db.Close()

	if err := store.ApplyMigrations(ctx, db, cfg.MigrationsDir); err != nil {
		log.Fatalf("migrations failed: %v", err)
	}

	dataStore := store.NewPostgresStore(db)

	pgfts := search.NewPgFTS(db)
	var meiliClient *search.Meili
	if strings.TrimSpace(cfg.MeiliURL) != "" {
		meiliClient = search.NewMeili(cfg.MeiliURL, cfg.MeiliMasterKey)
	}
	searchService := search.NewService(meiliClient, pgfts)
	if meiliClient != nil {
		defer meiliClient.Close()
	}

	var exporter *gdpr.Exporter
	if strings.TrimSpace(cfg.MinioEndpoint) != "" {
		exporter, err = gdpr.NewExporter(ctx, cfg.MinioEndpoint, cfg.MinioAccessKey, cfg.MinioSecretKey, cfg.MinioBucket, cfg.MinioUseSSL)
		if err != nil {
			log.Fatalf("object store connection failed: %v", err)
		}
		log.Printf("Using %s for privacy export packages", cfg.MinioEndpoint)
	}
	privacyService := gdpr.NewService(dataStore, exporter, searchService)

	var limiter ratelimit.Limiter
	limitCfg := ratelimit.Config{Window: cfg.RateLimitWindow, Max: cfg.RateLimitMax}
	if strings.TrimSpace(cfg.RedisURL) != "" {
		log.Printf("Using Redis for rate limiting")
		redisLimiter, err := ratelimit.NewRedisLimiter(cfg.RedisURL, limitCfg)
		if err != nil {
			log.Fatalf("redis connection failed: %v", err)
		}
		defer redisLimiter.Close()
		limiter = redisLimiter
	} else {
		log.Printf("Using in-memory rate limiting")
		memoryLimiter := ratelimit.NewMemoryLimiter(limitCfg)
		defer memoryLimiter.Close()
		limiter = memoryLimiter
	}

	vapiClient := vapi.NewClient(cfg.VapiBaseURL, cfg.VapiAPIKey)
	shopifyClient := shopify.NewClient(cfg.ShopifyAPIVersion)

	service := app.NewService(cfg, dataStore, vapiClient, shopifyClient, privacyService, searchService)

	httpServer := app.NewHTTPServer(service, limiter, cfg.CORSOrigin)
	server := &http.Server{
		Addr:              cfg.Addr,
		Handler:           httpServer.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		log.Printf("Switchboard API listening on %s", cfg.Addr)
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
