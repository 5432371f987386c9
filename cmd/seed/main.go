// Command seed creates a tenant and an initial API key directly in the
// DocRefinery database. It lives inside the server module so it can reach
// internal/* packages without an HTTP round trip.
//
// Usage:
//
//	go run ./cmd/seed \
//	  --slug acme \
//	  --name "Acme Corp" \
//	  --key-name "bootstrap key" \
//	  --scopes documents:read,documents:write,jobs:read,artifacts:read,webhooks:read,webhooks:write
//
// Environment variables:
//
//	DOCREFINERY_DB_DRIVER  sqlite or postgres (default: sqlite)
//	DOCREFINERY_DB_DSN     SQLite file path or Postgres DSN (default: ./docrefinery.db)
//	DOCREFINERY_SECRET_KEY Master encryption key — must match the value used by the server
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"os"
	"strings"

	"github.com/fatih/color"
	"go.uber.org/zap"
	gormlogger "gorm.io/gorm/logger"

	"github.com/docrefinery/server/internal/auth"
	"github.com/docrefinery/server/internal/db"
	"github.com/docrefinery/server/internal/repositories"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, color.RedString("error:"), err)
		os.Exit(1)
	}
}

func run() error {
	// ─── Flags ────────────────────────────────────────────────────────────────

	slug := flag.String("slug", "", "Tenant slug, url-safe and immutable (required)")
	name := flag.String("name", "", "Tenant display name (required)")
	keyName := flag.String("key-name", "bootstrap key", "Display name for the seeded API key")
	scopes := flag.String("scopes", "documents:read,documents:write,jobs:read,artifacts:read,webhooks:read,webhooks:write", "Comma-separated scope list granted to the key")
	flag.Parse()

	if *slug == "" {
		return fmt.Errorf("--slug is required")
	}
	if *name == "" {
		return fmt.Errorf("--name is required")
	}

	// ─── Config ───────────────────────────────────────────────────────────────

	driver := envOrDefault("DOCREFINERY_DB_DRIVER", "sqlite")
	dsn := envOrDefault("DOCREFINERY_DB_DSN", "./docrefinery.db")

	secretKey := os.Getenv("DOCREFINERY_SECRET_KEY")
	if secretKey == "" {
		return fmt.Errorf(
			"DOCREFINERY_SECRET_KEY is not set\n" +
				"  Set it to the same value used by the server, otherwise the\n" +
				"  encrypted webhook secrets it later stores will be unreadable.",
		)
	}

	// ─── Encryption ───────────────────────────────────────────────────────────

	// Pad or truncate to 32 bytes exactly as the server does, so encrypted
	// values and the fingerprint key both match what the server derives.
	keyBytes := make([]byte, 32)
	copy(keyBytes, []byte(secretKey))

	if err := db.InitEncryption(keyBytes); err != nil {
		return fmt.Errorf("init encryption: %w", err)
	}

	// ─── Database ─────────────────────────────────────────────────────────────

	logger, _ := zap.NewDevelopment()

	database, err := db.New(db.Config{
		Driver:   driver,
		DSN:      dsn,
		Logger:   logger,
		LogLevel: gormlogger.Silent, // suppress GORM query logs in seed output
	})
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}

	sqlDB, err := database.DB()
	if err != nil {
		return fmt.Errorf("get sql.DB: %w", err)
	}
	defer sqlDB.Close()

	ctx := context.Background()

	// ─── Create tenant ────────────────────────────────────────────────────────

	tenants := repositories.NewTenantRepository(database)

	tenant := &db.Tenant{
		Name:   *name,
		Slug:   *slug,
		Active: true,
	}
	if err := tenants.Create(ctx, tenant); err != nil {
		if errors.Is(err, repositories.ErrConflict) {
			return fmt.Errorf("a tenant with slug %q already exists", *slug)
		}
		return fmt.Errorf("create tenant: %w", err)
	}

	// ─── Create API key ───────────────────────────────────────────────────────

	fingerprintKey, err := auth.DeriveFingerprintKey(keyBytes)
	if err != nil {
		return fmt.Errorf("derive fingerprint key: %w", err)
	}

	rawKey, prefix, fingerprint, err := auth.GenerateRawKey(fingerprintKey)
	if err != nil {
		return fmt.Errorf("generate api key: %w", err)
	}

	scopeList := splitScopes(*scopes)
	scopeJSON, err := json.Marshal(scopeList)
	if err != nil {
		return fmt.Errorf("marshal scopes: %w", err)
	}

	apiKeys := repositories.NewApiKeyRepository(database)

	key := &db.ApiKey{
		TenantID:    tenant.ID,
		Name:        *keyName,
		Prefix:      prefix,
		Fingerprint: fingerprint,
		Active:      true,
		Scopes:      string(scopeJSON),
	}
	if err := apiKeys.Create(ctx, key); err != nil {
		return fmt.Errorf("create api key: %w", err)
	}

	fmt.Println(color.GreenString("✓ Tenant created"))
	fmt.Printf("  ID:   %s\n", tenant.PublicID)
	fmt.Printf("  Slug: %s\n", tenant.Slug)
	fmt.Printf("  Name: %s\n", tenant.Name)
	fmt.Println()
	fmt.Println(color.GreenString("✓ API key created"))
	fmt.Printf("  ID:     %s\n", key.PublicID)
	fmt.Printf("  Name:   %s\n", key.Name)
	fmt.Printf("  Scopes: %s\n", strings.Join(scopeList, ", "))
	fmt.Println()
	fmt.Println(color.YellowString("  Secret (shown once, not recoverable):"))
	fmt.Printf("  %s\n", color.CyanString(rawKey))
	fmt.Println()
	fmt.Println("  Send it as: Authorization: Api-Key " + rawKey)

	return nil
}

func splitScopes(raw string) []string {
	parts := strings.Split(raw, ",")
	scopes := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			scopes = append(scopes, p)
		}
	}
	return scopes
}

func envOrDefault(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}
