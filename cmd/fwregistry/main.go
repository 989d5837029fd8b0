// Package main is the entrypoint for the firmware registry (binary name "fwregistry").
package main

import (
	"context"
	"fmt"
	"log"
	"net/url"
	"os"

	"github.com/updatefleet/firmware-registry/internal/config"
	"github.com/updatefleet/firmware-registry/internal/server"
	"github.com/updatefleet/firmware-registry/pkg/catalog"
	"github.com/updatefleet/firmware-registry/pkg/db"
	"github.com/updatefleet/firmware-registry/pkg/publish"
)

const usage = `Usage: fwregistry [command]
       fwregistry serve             Start the registry (NATS, HTTP, update API).
       fwregistry migrate up        Run database migrations.
       fwregistry migrate status    Show migration status.
       fwregistry ensure-db [name]  Create database if missing (default name: fwregistry_test). Uses DATABASE_URL host/user.
       fwregistry clear             Truncate all catalog tables; schema is preserved.
       fwregistry validate <dir>    Parse all catalog files under dir and report every error.
       fwregistry upload <dir>      Validate, tokenize and publish the catalog under dir via NATS.
       fwregistry version           Query the active catalog version from a running registry.

Commands:
  serve           (default) Start the firmware registry.
  migrate up      Run database migrations only.
  migrate status  Show current migration status.
  ensure-db [name] Create database (e.g. fwregistry_test) on same host as DATABASE_URL; then run tests with that URL.
  clear           Truncate catalog data; schema preserved.
  validate <dir>  Validate a catalog directory without publishing.
  upload <dir>    Publish a catalog directory to a running registry (requires ADMIN_SECRET).
  version         Print the active catalog version (requires ADMIN_SECRET).

Environment: DATABASE_URL (for db commands), COMMS_URL, ADMIN_SECRET, MIGRATION_PATH. See README.
`

func main() {
	args := os.Args[1:]
	cmd := ""
	if len(args) > 0 && args[0] != "" {
		cmd = args[0]
	}

	switch cmd {
	case "migrate":
		if len(args) < 2 {
			log.Fatalf("fwregistry migrate: require subcommand (up, status)")
		}
		sub := args[1]
		switch sub {
		case "up":
			if err := runMigrateUp(); err != nil {
				log.Fatalf("fwregistry migrate up: %v", err)
			}
		case "status":
			if err := runMigrateStatus(); err != nil {
				log.Fatalf("fwregistry migrate status: %v", err)
			}
		default:
			log.Fatalf("fwregistry migrate: unknown subcommand %q (use up, status)", sub)
		}
		return
	case "clear":
		if err := runClear(); err != nil {
			log.Fatalf("fwregistry clear: %v", err)
		}
		return
	case "ensure-db":
		dbName := "fwregistry_test"
		if len(args) > 1 && args[1] != "" {
			dbName = args[1]
		}
		if err := runEnsureDB(dbName); err != nil {
			log.Fatalf("fwregistry ensure-db: %v", err)
		}
		return
	case "validate":
		if len(args) < 2 {
			log.Fatalf("fwregistry validate: require a catalog directory")
		}
		if err := runValidate(args[1]); err != nil {
			log.Fatalf("fwregistry validate: %v", err)
		}
		return
	case "upload":
		if len(args) < 2 {
			log.Fatalf("fwregistry upload: require a catalog directory")
		}
		if err := runUpload(args[1]); err != nil {
			log.Fatalf("fwregistry upload: %v", err)
		}
		return
	case "version":
		if err := runVersion(); err != nil {
			log.Fatalf("fwregistry version: %v", err)
		}
		return
	case "help", "-h", "--help":
		fmt.Print(usage)
		return
	case "serve", "":
		// serve (explicit or default)
		break
	default:
		fmt.Fprintf(os.Stderr, "Unknown command %q.\n%s", cmd, usage)
		os.Exit(1)
	}

	if err := server.Run(); err != nil {
		log.Fatalf("fwregistry: %v", err)
	}
}

func runMigrateUp() error {
	cfg, err := config.LoadConfig()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if err := cfg.ValidateForDB(); err != nil {
		return err
	}
	ctx := context.Background()
	pool, err := db.NewPool(ctx, cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("connect database: %w", err)
	}
	defer pool.Close()

	migrations, err := db.LoadMigrationFiles(cfg.MigrationPath)
	if err != nil {
		return fmt.Errorf("load migrations: %w", err)
	}
	if err := db.RunMigrations(ctx, pool, migrations); err != nil {
		return fmt.Errorf("run migrations: %w", err)
	}
	return nil
}

func runMigrateStatus() error {
	cfg, err := config.LoadConfig()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if err := cfg.ValidateForDB(); err != nil {
		return err
	}
	ctx := context.Background()
	pool, err := db.NewPool(ctx, cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("connect database: %w", err)
	}
	defer pool.Close()

	return db.MigrationStatus(ctx, pool, cfg.MigrationPath)
}

func runClear() error {
	cfg, err := config.LoadConfig()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if err := cfg.ValidateForDB(); err != nil {
		return err
	}
	ctx := context.Background()
	pool, err := db.NewPool(ctx, cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("connect database: %w", err)
	}
	defer pool.Close()

	if err := db.ClearCatalog(ctx, pool); err != nil {
		return fmt.Errorf("clear catalog: %w", err)
	}
	return nil
}

func runEnsureDB(dbName string) error {
	cfg, err := config.LoadConfig()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if cfg.DatabaseURL == "" {
		return fmt.Errorf("DATABASE_URL is required")
	}
	u, err := url.Parse(cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("parse DATABASE_URL: %w", err)
	}
	// Replace path with target database name; query (e.g. sslmode) is kept on u.RawQuery.
	u.Path = "/" + dbName
	targetURL := u.String()
	ctx := context.Background()
	if err := db.EnsureDatabase(ctx, targetURL); err != nil {
		return err
	}
	fmt.Printf("Database %q is ready.\n", dbName)
	return nil
}

func runValidate(dir string) error {
	files, err := catalog.LoadDirectory(dir)
	if err != nil {
		return err
	}
	defs, fileErrors := catalog.ValidateAll(files)
	if len(fileErrors) > 0 {
		for _, fe := range fileErrors {
			fmt.Fprintf(os.Stderr, "  %s\n", fe.Error())
		}
		return fmt.Errorf("%d of %d files invalid", len(fileErrors), len(files))
	}
	fmt.Printf("All %d catalog files valid (token %s).\n", len(defs), catalog.ComputeToken(files))
	return nil
}

func runUpload(dir string) error {
	cfg, err := config.LoadConfig()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if cfg.AdminSecret == "" {
		return fmt.Errorf("ADMIN_SECRET is required for upload")
	}

	files, err := catalog.LoadDirectory(dir)
	if err != nil {
		return err
	}

	client, err := newRegistryClient(cfg)
	if err != nil {
		return err
	}
	defer client.Close()

	ctx, cancel := context.WithTimeout(context.Background(), cfg.RequestTimeout)
	defer cancel()

	version, err := publish.Upload(ctx, files, client.sendPublish)
	if err != nil {
		return err
	}
	fmt.Printf("Published catalog version %s.\n", version)
	return nil
}

func runVersion() error {
	cfg, err := config.LoadConfig()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if cfg.AdminSecret == "" {
		return fmt.Errorf("ADMIN_SECRET is required for version")
	}

	client, err := newRegistryClient(cfg)
	if err != nil {
		return err
	}
	defer client.Close()

	ctx, cancel := context.WithTimeout(context.Background(), cfg.RequestTimeout)
	defer cancel()

	var result struct {
		Version string `json:"version"`
	}
	if err := client.request(ctx, "getVersion", nil, &result); err != nil {
		return err
	}
	if result.Version == "" {
		fmt.Println("No active catalog version.")
		return nil
	}
	fmt.Println(result.Version)
	return nil
}
