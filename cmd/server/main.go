package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/crypto/bcrypt"

	"nexpos/backend/internal/auth"
	"nexpos/backend/internal/cache"
	"nexpos/backend/internal/config"
	"nexpos/backend/internal/httpapi"
	"nexpos/backend/internal/service"
	"nexpos/backend/internal/store"
	"nexpos/backend/internal/store/memory"
	pgstore "nexpos/backend/internal/store/postgres"
)

func main() {
	cfg := config.Load()
	if err := validateSecurityConfig(cfg); err != nil {
		log.Fatalf("invalid security configuration: %v", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	var repo store.Repository
	closers := make([]func() error, 0, 2)

	if cfg.DatabaseURL != "" {
		pg, err := pgstore.New(ctx, cfg.DatabaseURL)
		if err != nil {
			log.Fatalf("postgres unavailable (%v) and DATABASE_URL is set; refusing to start with in-memory fallback", err)
		}
		repo = pg
		closers = append(closers, pg.Close)
		log.Println("repository: postgres")
	} else {
		repo = memory.NewSeeded(memory.Seed{
			AdminPassword:   cfg.SeedAdminPassword,
			CashierPassword: cfg.SeedCashierPassword,
			BcryptCost:      cfg.BcryptCost,
		})
		log.Println("repository: in-memory")
	}

	dashboardCache := cache.DashboardCache(cache.NoopDashboardCache{})
	if cfg.RedisAddr != "" {
		redisCache := cache.NewRedisDashboardCache(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
		if err := redisCache.Ping(ctx); err != nil {
			log.Printf("redis unavailable (%v), using noop cache", err)
		} else {
			dashboardCache = redisCache
			closers = append(closers, redisCache.Close)
			log.Println("cache: redis")
		}
	} else {
		log.Println("cache: noop")
	}

	authManager, err := auth.NewManager(cfg.AuthSecret, cfg.AccessTokenTTL(), cfg.BcryptCost, repo)
	if err != nil {
		log.Fatalf("auth: %v", err)
	}
	svc := service.New(repo, authManager, service.Options{
		DashboardCache: dashboardCache,
		DashboardTTL:   cfg.DashboardTTL(),
		BarcodeDir:     cfg.BarcodeDir,
	})
	if err := svc.LoadSettings(ctx); err != nil {
		log.Printf("[service] WARN: settings unavailable, using defaults: %v", err)
	}

	api := httpapi.New(svc, authManager, httpapi.Options{
		AllowedOrigin:          cfg.AllowedOrigin,
		LoginAttemptsPerMinute: cfg.LoginAttemptsPerMinute,
		MaxImportBytes:         cfg.MaxImportBytes,
	})

	server := &http.Server{
		Addr:              cfg.Address(),
		Handler:           api.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		log.Printf("POS backend listening on %s", cfg.Address())
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("server error: %v", err)
		}
	}()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 8*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Printf("shutdown error: %v", err)
	}

	for _, closeFn := range closers {
		if err := closeFn(); err != nil {
			log.Printf("close error: %v", err)
		}
	}

	log.Println("server stopped")
}

func validateSecurityConfig(cfg config.Config) error {
	if len(cfg.AuthSecret) < 32 {
		return fmt.Errorf("AUTH_SECRET must be set and at least 32 characters")
	}
	if cfg.BcryptCost < bcrypt.DefaultCost || cfg.BcryptCost > bcrypt.MaxCost {
		return fmt.Errorf("BCRYPT_COST must be between %d and %d", bcrypt.DefaultCost, bcrypt.MaxCost)
	}
	if cfg.DatabaseURL != "" && (cfg.SeedAdminPassword != "" || cfg.SeedCashierPassword != "") {
		log.Println("[config] WARN: SEED_* passwords are ignored when DATABASE_URL is set")
	}
	return nil
}
