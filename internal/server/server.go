// Package server orchestrates all components: NATS client, store, service, dispatcher, HTTP health.
package server

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	comms "github.com/nats-io/nats.go"

	"github.com/updatefleet/firmware-registry/internal/config"
	"github.com/updatefleet/firmware-registry/pkg/cache"
	"github.com/updatefleet/firmware-registry/pkg/commsutil"
	"github.com/updatefleet/firmware-registry/pkg/db"
	"github.com/updatefleet/firmware-registry/pkg/dispatcher"
	"github.com/updatefleet/firmware-registry/pkg/events"
	"github.com/updatefleet/firmware-registry/pkg/ratelimit"
	"github.com/updatefleet/firmware-registry/pkg/service"
)

const logPrefix = "server:server"

// Server is the firmware-registry orchestrator.
type Server struct {
	cfg        *config.Config
	nc         *comms.Conn
	store      db.Store
	httpServer *http.Server
	svc        *service.Service
}

// SetupLogging installs the default slog handler at the configured level.
func SetupLogging(level string) {
	var logLevel slog.Level
	switch level {
	case "debug":
		logLevel = slog.LevelDebug
	case "warn":
		logLevel = slog.LevelWarn
	case "error":
		logLevel = slog.LevelError
	default:
		logLevel = slog.LevelInfo
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: logLevel})))
}

// Run starts the server, blocks until shutdown signal, then cleans up.
func Run() error {
	cfg, err := config.LoadConfig()
	if err != nil {
		return fmt.Errorf("%s - failed to load config: %w", logPrefix, err)
	}
	SetupLogging(cfg.LogLevel)

	if err := cfg.ValidateForServe(); err != nil {
		return err
	}

	slog.Info(fmt.Sprintf("%s - Starting firmware-registry", logPrefix))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	s := &Server{cfg: cfg}

	// Determine subjects
	updatesSubject := cfg.UpdatesSubject
	if updatesSubject == "" {
		updatesSubject = commsutil.SubjectUpdates
	}
	slog.Info(fmt.Sprintf("%s - Updates subject: %s", logPrefix, updatesSubject))

	// Step 1: Connect to NATS
	nc, err := commsutil.Connect(cfg.COMMSURL, cfg.COMMSName)
	if err != nil {
		return fmt.Errorf("%s - failed to connect to NATS: %w", logPrefix, err)
	}
	s.nc = nc
	slog.Info(fmt.Sprintf("%s - Connected to NATS at %s", logPrefix, cfg.COMMSURL))

	// Step 2: Open the catalog store. Without DATABASE_URL the registry runs
	// on the in-memory store and loses the catalog on restart.
	store, err := openStore(ctx, cfg)
	if err != nil {
		nc.Close()
		return err
	}
	s.store = store

	// Step 3: Create service
	publisherOpts := &events.CommsPublisherOpts{}
	if cfg.CatalogEventSubject != "" {
		publisherOpts.GlobalSubject = cfg.CatalogEventSubject
	}
	publisher := events.NewCommsPublisher(nc, publisherOpts)
	svc := service.NewService(service.NewServiceParams{
		Store:     store,
		Results:   cache.NewMemory(),
		Publisher: publisher,
		Config: service.Config{
			AdminSecret:      cfg.AdminSecret,
			ResultTTL:        cfg.ResultCacheTTL,
			ActiveVersionTTL: cfg.ActiveVersionTTL,
		},
	})
	s.svc = svc

	// Step 4: Create dispatcher and subscribe
	disp := dispatcher.NewDispatcher(svc, ratelimit.New(cfg.RateLimitWindow), cfg.DefaultRateLimit)

	requestTimeout := cfg.RequestTimeout
	sub, err := nc.Subscribe(updatesSubject, func(msg *comms.Msg) {
		var req dispatcher.UpdateRequest
		if err := json.Unmarshal(msg.Data, &req); err != nil {
			slog.Error(fmt.Sprintf("%s - failed to decode request: %v", logPrefix, err))
			resp := &dispatcher.UpdateResponse{
				Ok: false,
				Error: &dispatcher.ErrorDetail{
					Code:    "INVALID_REQUEST",
					Message: "Failed to decode request",
				},
			}
			data, _ := json.Marshal(resp)
			msg.Respond(data)
			return
		}

		reqCtx, cancel := context.WithTimeout(ctx, requestTimeout)
		defer cancel()

		resp := disp.Dispatch(reqCtx, &req)

		data, err := json.Marshal(resp)
		if err != nil {
			slog.Error(fmt.Sprintf("%s - failed to encode response: %v", logPrefix, err))
			return
		}
		msg.Respond(data)
	})
	if err != nil {
		store.Close()
		nc.Close()
		return fmt.Errorf("%s - failed to subscribe to %s: %w", logPrefix, updatesSubject, err)
	}
	slog.Info(fmt.Sprintf("%s - Subscribed to %s", logPrefix, updatesSubject))

	// Step 5: Start HTTP health server
	healthTimeout := cfg.HealthCheckTimeout
	mux := http.NewServeMux()
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		healthCtx, cancel := context.WithTimeout(r.Context(), healthTimeout)
		defer cancel()
		h := svc.Health(healthCtx)
		w.Header().Set("Content-Type", "application/json")
		if h.Status != "healthy" {
			w.WriteHeader(http.StatusServiceUnavailable)
		}
		json.NewEncoder(w).Encode(h)
	})
	mux.HandleFunc("/ready", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]string{"status": "ready"})
	})

	httpAddr := fmt.Sprintf(":%d", cfg.HTTPPort)
	s.httpServer = &http.Server{Addr: httpAddr, Handler: mux}
	go func() {
		slog.Info(fmt.Sprintf("%s - HTTP health server listening on %s", logPrefix, httpAddr))
		if err := s.httpServer.ListenAndServe(); err != http.ErrServerClosed {
			slog.Error(fmt.Sprintf("%s - HTTP server error: %v", logPrefix, err))
		}
	}()

	slog.Info(fmt.Sprintf("%s - Firmware registry is ready", logPrefix))

	// Wait for shutdown signal
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh
	slog.Info(fmt.Sprintf("%s - Received signal %s, shutting down", logPrefix, sig))

	// Graceful shutdown
	sub.Unsubscribe()
	s.httpServer.Shutdown(ctx)
	nc.Drain()
	store.Close()

	slog.Info(fmt.Sprintf("%s - Shutdown complete", logPrefix))
	return nil
}

// openStore opens the configured catalog store and runs migrations if enabled.
func openStore(ctx context.Context, cfg *config.Config) (db.Store, error) {
	if cfg.DatabaseURL == "" {
		slog.Warn(fmt.Sprintf("%s - DATABASE_URL not set, using in-memory store", logPrefix))
		return db.NewMemory(), nil
	}

	pool, err := db.NewPool(ctx, cfg.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("%s - failed to connect to database: %w", logPrefix, err)
	}

	if cfg.RunMigrations {
		migrations, err := db.LoadMigrationFiles(cfg.MigrationPath)
		if err != nil {
			pool.Close()
			return nil, fmt.Errorf("%s - failed to load migrations: %w", logPrefix, err)
		}
		if err := db.RunMigrations(ctx, pool, migrations); err != nil {
			pool.Close()
			return nil, fmt.Errorf("%s - failed to run migrations: %w", logPrefix, err)
		}
	}

	return db.NewPostgres(pool), nil
}
