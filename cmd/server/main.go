// Command server runs the multi-tenant policy administration API.
//
// Startup sequence:
//  1. Load .env (best effort) and the environment configuration.
//  2. Configure global logging and OpenTelemetry tracing.
//  3. Open and migrate the master (tenant directory) database.
//  4. Optionally seed demo tenants with their own database files.
//  5. Mount the HTTP API and serve until SIGINT/SIGTERM, then drain.
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"gorm.io/gorm"
	"gorm.io/plugin/opentelemetry/tracing"

	"github.com/coverlane/go-policy-admin/internal/cache"
	"github.com/coverlane/go-policy-admin/internal/config"
	"github.com/coverlane/go-policy-admin/internal/domain"
	httpapi "github.com/coverlane/go-policy-admin/internal/http"
	"github.com/coverlane/go-policy-admin/internal/observability"
	"github.com/coverlane/go-policy-admin/internal/repo"
	"github.com/coverlane/go-policy-admin/internal/sysutil"
)

// version is stamped at build time via -ldflags "-X main.version=…".
var version = "dev"

// @title        Policy Administration API
// @version      1.0
// @description  Multi-tenant insurance policy administration backend. Each tenant owns an isolated database; the cross-tenant listing aggregates over all of them.
// @BasePath     /api/v1
func main() {
	// .env is a dev convenience; absence is not an error.
	_ = godotenv.Load()

	cfg := config.MustLoad()

	// Deployment pipelines may override the build-time version.
	version = sysutil.FirstNonEmpty(os.Getenv("APP_VERSION"), version)

	sysutil.SetLogLevel(cfg.LogLevel)
	if cfg.LogPretty {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339})
	}

	ctx := context.Background()
	shutdownOTel, err := observability.SetupOTel(ctx, cfg.OTEL, version)
	if err != nil {
		log.Fatal().Err(err).Msg("otel setup failed")
	}
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownOTel(ctx); err != nil {
			log.Warn().Err(err).Msg("otel shutdown")
		}
	}()

	if err := os.MkdirAll(cfg.Database.TenantDataDir, 0o755); err != nil {
		log.Fatal().Err(err).Str("dir", cfg.Database.TenantDataDir).Msg("tenant data dir")
	}

	master, err := repo.OpenMaster(cfg.Database.MasterPath)
	if err != nil {
		log.Fatal().Err(err).Str("path", cfg.Database.MasterPath).Msg("open master database")
	}
	if cfg.OTEL.Enabled {
		if err := master.Use(tracing.NewPlugin(tracing.WithoutMetrics())); err != nil {
			log.Warn().Err(err).Msg("gorm tracing plugin")
		}
	}
	if err := repo.MigrateMaster(master); err != nil {
		log.Fatal().Err(err).Msg("migrate master database")
	}

	if cfg.SeedDemo {
		if err := seedDemo(ctx, master, cfg.Database.TenantDataDir); err != nil {
			log.Fatal().Err(err).Msg("seed demo tenants")
		}
	}

	gin.SetMode(cfg.GinMode)
	r := gin.New()
	httpapi.RegisterRoutes(r, master, cache.New(cfg.Cache.DefaultTTL), cfg)

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           r,
		ReadTimeout:       cfg.ReadTimeout,
		ReadHeaderTimeout: cfg.ReadHeaderTimeout,
		WriteTimeout:      cfg.WriteTimeout,
		IdleTimeout:       cfg.IdleTimeout,
		MaxHeaderBytes:    cfg.MaxHeaderBytes,
	}

	go func() {
		log.Info().Str("addr", srv.Addr).Str("version", version).Msg("server listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("server failed")
		}
	}()

	// Block until a termination signal, then drain in-flight requests.
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Info().Msg("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("graceful shutdown failed")
	}
	log.Info().Msg("server stopped")
}

// seedDemo onboards two demo tenants, each with its own database file under
// dataDir, a policy-type lookup table, and a handful of policies. It is
// idempotent: an already-populated directory is left untouched.
func seedDemo(ctx context.Context, master *gorm.DB, dataDir string) error {
	existing, err := repo.ListTenants(ctx, master)
	if err != nil {
		return err
	}
	if len(existing) > 0 {
		log.Info().Int("tenants", len(existing)).Msg("tenant directory already populated, skipping seed")
		return nil
	}

	demos := []struct {
		name     string
		dbName   string
		policies []string
	}{
		{"Aurora Mutual", "aurora", []string{"Fleet liability 2026", "Office contents", "Cyber essentials"}},
		{"Borealis Underwriting", "borealis", []string{"Marine cargo open cover", "Hull & machinery"}},
	}

	for _, d := range demos {
		path := filepath.Join(dataDir, d.dbName+".db")
		rec, err := repo.CreateTenant(ctx, master, "", d.name, path, d.dbName)
		if err != nil {
			return fmt.Errorf("onboard %s: %w", d.name, err)
		}

		db, err := repo.OpenTenant(*rec, "")
		if err != nil {
			return fmt.Errorf("open %s: %w", d.name, err)
		}
		if err := seedTenant(db, d.policies); err != nil {
			repo.Close(db)
			return fmt.Errorf("seed %s: %w", d.name, err)
		}
		repo.Close(db)
		log.Info().Str("tenant_id", rec.ID).Str("name", rec.Name).Str("db", path).Msg("demo tenant seeded")
	}
	return nil
}

// seedTenant migrates one tenant database and fills it with lookup rows and
// demo policies.
func seedTenant(db *gorm.DB, names []string) error {
	if err := repo.MigrateTenant(db); err != nil {
		return err
	}
	types := []domain.PolicyType{{Name: "Motor"}, {Name: "Property"}, {Name: "Marine"}}
	if err := db.Create(&types).Error; err != nil {
		return err
	}
	now := time.Now().UTC()
	for i, name := range names {
		p := domain.Policy{
			Name:          name,
			Description:   "Demo policy",
			EffectiveDate: now.AddDate(0, -i, 0),
			ExpiryDate:    now.AddDate(1, -i, 0),
			IsActive:      true,
			PolicyTypeID:  types[i%len(types)].ID,
		}
		if err := db.Create(&p).Error; err != nil {
			return err
		}
	}
	return nil
}
