package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	gormlogger "gorm.io/gorm/logger"

	"github.com/docrefinery/server/internal/api"
	"github.com/docrefinery/server/internal/auth"
	"github.com/docrefinery/server/internal/broker"
	"github.com/docrefinery/server/internal/config"
	"github.com/docrefinery/server/internal/convert"
	"github.com/docrefinery/server/internal/db"
	"github.com/docrefinery/server/internal/metrics"
	"github.com/docrefinery/server/internal/options"
	"github.com/docrefinery/server/internal/pipeline"
	"github.com/docrefinery/server/internal/reaper"
	"github.com/docrefinery/server/internal/repositories"
	"github.com/docrefinery/server/internal/scanner"
	"github.com/docrefinery/server/internal/storage"
	"github.com/docrefinery/server/internal/webhook"
)

var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

type serverConfig struct {
	httpAddr       string
	dbDriver       string
	dbDSN          string
	secretKey      string
	logLevel       string
	dataDir        string
	internalToken  string
	scannerAddr    string
	brokerDriver   string
	workers        int
	maxUploadBytes int64
	rateLimitRPS   float64
	rateLimitBurst int
	xAccelPrefix   string
	reaperInterval time.Duration
	retentionDays  int
}

func main() {
	if path := configFileFlagValue(os.Args[1:]); path != "" {
		if err := config.LoadFile(path); err != nil {
			fmt.Fprintln(os.Stderr, err)
			os.Exit(1)
		}
	}

	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// configFileFlagValue pre-scans argv for --config before cobra parses
// flags, since the flag defaults below are computed from the environment
// at registration time and a file value must land in the environment
// first for those defaults to see it.
func configFileFlagValue(args []string) string {
	for i, a := range args {
		if a == "--config" && i+1 < len(args) {
			return args[i+1]
		}
		if v, ok := strings.CutPrefix(a, "--config="); ok {
			return v
		}
	}
	return envOrDefault("DOCREFINERY_CONFIG_FILE", "")
}

func newRootCmd() *cobra.Command {
	cfg := &serverConfig{}

	root := &cobra.Command{
		Use:   "docrefinery-server",
		Short: "DocRefinery server — multi-tenant PDF ingestion pipeline",
		Long: `DocRefinery server admits PDF uploads, scans them for malware, converts
them to structured document representations, exports the requested
formats, and delivers webhook notifications as each job progresses
through the pipeline.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd.Context(), cfg)
		},
	}

	root.AddCommand(newVersionCmd())

	var configPath string
	root.PersistentFlags().StringVar(&configPath, "config", envOrDefault("DOCREFINERY_CONFIG_FILE", ""), "Optional YAML config file; values fill in any DOCREFINERY_* variable not already set in the environment")

	root.PersistentFlags().StringVar(&cfg.httpAddr, "http-addr", envOrDefault("DOCREFINERY_HTTP_ADDR", ":8080"), "HTTP API listen address")
	root.PersistentFlags().StringVar(&cfg.dbDriver, "db-driver", envOrDefault("DOCREFINERY_DB_DRIVER", "sqlite"), "Database driver (sqlite or postgres)")
	root.PersistentFlags().StringVar(&cfg.dbDSN, "db-dsn", envOrDefault("DOCREFINERY_DB_DSN", "./docrefinery.db"), "Database DSN or file path for SQLite")
	root.PersistentFlags().StringVar(&cfg.secretKey, "secret-key", envOrDefault("DOCREFINERY_SECRET_KEY", ""), "Master secret key for API key fingerprinting and field encryption (required)")
	root.PersistentFlags().StringVar(&cfg.logLevel, "log-level", envOrDefault("DOCREFINERY_LOG_LEVEL", "info"), "Log level (debug, info, warn, error)")
	root.PersistentFlags().StringVar(&cfg.dataDir, "data-dir", envOrDefault("DOCREFINERY_DATA_DIR", "./data"), "Root directory for content-addressed document storage")
	root.PersistentFlags().StringVar(&cfg.internalToken, "internal-token", envOrDefault("DOCREFINERY_INTERNAL_TOKEN", ""), "Shared secret gating /healthz, /readyz, /metrics (required for those routes to respond)")
	root.PersistentFlags().StringVar(&cfg.scannerAddr, "scanner-addr", envOrDefault("DOCREFINERY_SCANNER_ADDR", "127.0.0.1:3310"), "Malware scanner daemon address (host:port)")
	root.PersistentFlags().StringVar(&cfg.brokerDriver, "broker-driver", envOrDefault("DOCREFINERY_BROKER_DRIVER", "db"), "Task broker backend: \"db\" (shared across processes) or \"memory\" (single process only)")
	root.PersistentFlags().IntVar(&cfg.workers, "workers", envIntOrDefault("DOCREFINERY_WORKERS", 4), "Number of pipeline worker goroutines")
	root.PersistentFlags().Int64Var(&cfg.maxUploadBytes, "max-upload-bytes", envInt64OrDefault("DOCREFINERY_MAX_UPLOAD_BYTES", 100<<20), "Maximum accepted upload size in bytes")
	root.PersistentFlags().Float64Var(&cfg.rateLimitRPS, "rate-limit-rps", envFloatOrDefault("DOCREFINERY_RATE_LIMIT_RPS", 10), "Per-key/per-IP requests-per-second limit")
	root.PersistentFlags().IntVar(&cfg.rateLimitBurst, "rate-limit-burst", envIntOrDefault("DOCREFINERY_RATE_LIMIT_BURST", 20), "Per-key/per-IP burst allowance")
	root.PersistentFlags().StringVar(&cfg.xAccelPrefix, "x-accel-redirect-prefix", envOrDefault("DOCREFINERY_X_ACCEL_PREFIX", ""), "If set, artifact downloads use X-Accel-Redirect with this path prefix instead of streaming in-process")
	root.PersistentFlags().DurationVar(&cfg.reaperInterval, "reaper-interval", envDurationOrDefault("DOCREFINERY_REAPER_INTERVAL", 15*time.Minute), "How often the expired-document reaper runs")
	root.PersistentFlags().IntVar(&cfg.retentionDays, "retention-days", envIntOrDefault("DOCREFINERY_RETENTION_DAYS", 30), "Retention in days reported in the reaper's startup log; not applied to documents or artifacts, whose expiry comes only from their own expires_at")

	return root
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("docrefinery-server %s (commit: %s, built: %s)\n", version, commit, date)
		},
	}
}

func run(ctx context.Context, cfg *serverConfig) error {
	logger, err := buildLogger(cfg.logLevel)
	if err != nil {
		return fmt.Errorf("failed to build logger: %w", err)
	}
	defer logger.Sync() //nolint:errcheck

	if cfg.secretKey == "" {
		return fmt.Errorf("secret key is required — set --secret-key or DOCREFINERY_SECRET_KEY")
	}

	logger.Info("starting docrefinery server",
		zap.String("version", version),
		zap.String("http_addr", cfg.httpAddr),
		zap.String("db_driver", cfg.dbDriver),
		zap.String("broker_driver", cfg.brokerDriver),
		zap.Int("workers", cfg.workers),
	)

	ctx, cancel := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer cancel()

	// --- 1. Encryption ---
	// InitEncryption must run before opening the database so EncryptedString
	// fields (webhook endpoint secrets) can encrypt/decrypt transparently.
	keyBytes := make([]byte, 32)
	copy(keyBytes, []byte(cfg.secretKey))
	if err := db.InitEncryption(keyBytes); err != nil {
		return fmt.Errorf("failed to initialize encryption: %w", err)
	}

	// --- 2. Database ---
	gormDB, err := db.New(db.Config{
		Driver:   cfg.dbDriver,
		DSN:      cfg.dbDSN,
		Logger:   logger,
		LogLevel: gormLogLevel(cfg.logLevel),
	})
	if err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}
	sqlDB, err := gormDB.DB()
	if err != nil {
		return fmt.Errorf("failed to get sql.DB: %w", err)
	}
	defer sqlDB.Close()

	// --- 3. Repositories ---
	tenantRepo := repositories.NewTenantRepository(gormDB)
	apiKeyRepo := repositories.NewApiKeyRepository(gormDB)
	documentRepo := repositories.NewDocumentRepository(gormDB)
	jobRepo := repositories.NewJobRepository(gormDB)
	artifactRepo := repositories.NewArtifactRepository(gormDB)
	webhookEndpointRepo := repositories.NewWebhookEndpointRepository(gormDB)
	webhookDeliveryRepo := repositories.NewWebhookDeliveryRepository(gormDB)

	// --- 4. Auth ---
	fingerprintKey, err := auth.DeriveFingerprintKey(keyBytes)
	if err != nil {
		return fmt.Errorf("failed to derive fingerprint key: %w", err)
	}
	resolver := auth.NewResolver(apiKeyRepo, tenantRepo, fingerprintKey)

	// --- 5. Storage ---
	store, err := storage.New(cfg.dataDir)
	if err != nil {
		return fmt.Errorf("failed to initialize storage: %w", err)
	}

	// --- 6. Task broker ---
	var brk broker.Broker
	switch cfg.brokerDriver {
	case "db", "":
		brk = broker.NewDBBroker(gormDB)
	case "memory":
		brk = broker.NewMemory(1024)
	default:
		return fmt.Errorf("unsupported broker driver %q, use \"db\" or \"memory\"", cfg.brokerDriver)
	}

	// --- 7. Webhook delivery ---
	publisher := webhook.NewPublisher(webhookEndpointRepo, webhookDeliveryRepo)
	webhookWorker := webhook.NewWorker(webhookDeliveryRepo, webhookEndpointRepo, nil, webhook.DefaultWorkerConfig(), logger)
	webhookWorker.Start(ctx)
	defer webhookWorker.Stop()

	// --- 8. Pipeline orchestrator + worker pool ---
	scanClient := scanner.NewClient(cfg.scannerAddr, 30*time.Second)
	orchestrator := pipeline.New(jobRepo, documentRepo, artifactRepo, brk, store, scanClient, convert.PDFCPUConverter{}, publisher, logger)
	pool := pipeline.NewPool(orchestrator, brk, pipeline.PoolConfig{Workers: cfg.workers}, logger)
	pool.Start(ctx)
	defer pool.Stop()

	// --- 9. Metrics ---
	if err := metrics.Register(jobRepo, logger); err != nil {
		return fmt.Errorf("failed to register metrics collector: %w", err)
	}

	// --- 10. Reaper ---
	rpr := reaper.New(documentRepo, jobRepo, artifactRepo, store, time.Duration(cfg.retentionDays)*24*time.Hour, logger)
	if err := rpr.Start(ctx, cfg.reaperInterval); err != nil {
		return fmt.Errorf("failed to start reaper: %w", err)
	}
	defer rpr.Stop()

	// --- 11. HTTP server ---
	router := api.NewRouter(api.RouterConfig{
		DB:                 gormDB,
		Resolver:           resolver,
		Logger:             logger,
		Documents:          documentRepo,
		Jobs:               jobRepo,
		Artifacts:          artifactRepo,
		Webhooks:           webhookEndpointRepo,
		Store:              store,
		Broker:             brk,
		Orchestrator:       orchestrator,
		MaxUploadBytes:     cfg.maxUploadBytes,
		SystemDefaults:     options.Options{MaxNumPages: 2000, MaxFileSize: cfg.maxUploadBytes},
		WebhookResolver:    webhook.NetResolver{},
		AllowedHosts:       nil,
		XAccelRedirectPath: cfg.xAccelPrefix,
		InternalToken:      cfg.internalToken,
		RateLimitRPS:       cfg.rateLimitRPS,
		RateLimitBurst:     cfg.rateLimitBurst,
	})

	httpSrv := &http.Server{
		Addr:         cfg.httpAddr,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		logger.Info("http server listening", zap.String("addr", cfg.httpAddr))
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server error", zap.Error(err))
			cancel()
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down docrefinery server")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer shutdownCancel()

	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("http server graceful shutdown error", zap.Error(err))
	}

	logger.Info("docrefinery server stopped")
	return nil
}

func gormLogLevel(level string) gormlogger.LogLevel {
	switch level {
	case "debug":
		return gormlogger.Info
	case "info":
		return gormlogger.Warn
	default:
		return gormlogger.Error
	}
}

func buildLogger(level string) (*zap.Logger, error) {
	var cfg zap.Config

	switch level {
	case "debug":
		cfg = zap.NewDevelopmentConfig()
	default:
		cfg = zap.NewProductionConfig()
	}

	switch level {
	case "debug":
		cfg.Level = zap.NewAtomicLevelAt(zap.DebugLevel)
	case "info":
		cfg.Level = zap.NewAtomicLevelAt(zap.InfoLevel)
	case "warn":
		cfg.Level = zap.NewAtomicLevelAt(zap.WarnLevel)
	case "error":
		cfg.Level = zap.NewAtomicLevelAt(zap.ErrorLevel)
	default:
		cfg.Level = zap.NewAtomicLevelAt(zap.InfoLevel)
	}

	return cfg.Build()
}

func envOrDefault(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}

func envIntOrDefault(key string, defaultVal int) int {
	if v := os.Getenv(key); v != "" {
		var parsed int
		if _, err := fmt.Sscanf(v, "%d", &parsed); err == nil {
			return parsed
		}
	}
	return defaultVal
}

func envInt64OrDefault(key string, defaultVal int64) int64 {
	if v := os.Getenv(key); v != "" {
		var parsed int64
		if _, err := fmt.Sscanf(v, "%d", &parsed); err == nil {
			return parsed
		}
	}
	return defaultVal
}

func envFloatOrDefault(key string, defaultVal float64) float64 {
	if v := os.Getenv(key); v != "" {
		var parsed float64
		if _, err := fmt.Sscanf(v, "%f", &parsed); err == nil {
			return parsed
		}
	}
	return defaultVal
}

func envDurationOrDefault(key string, defaultVal time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if parsed, err := time.ParseDuration(v); err == nil {
			return parsed
		}
	}
	return defaultVal
}
