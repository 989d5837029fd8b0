// Package service contains the firmware registry business logic: update
// resolution, catalog publication and version introspection.
package service

import (
	"context"
	"crypto/subtle"
	"fmt"
	"sync"
	"time"

	"github.com/updatefleet/firmware-registry/pkg/cache"
	"github.com/updatefleet/firmware-registry/pkg/db"
	"github.com/updatefleet/firmware-registry/pkg/events"
	"github.com/updatefleet/firmware-registry/pkg/publish"
	"github.com/updatefleet/firmware-registry/pkg/resolve"
)

const (
	defaultResultTTL        = 24 * time.Hour
	defaultActiveVersionTTL = 60 * time.Second
)

// Config holds service configuration.
type Config struct {
	// AdminSecret gates publication and version introspection. Empty
	// disables the admin surface entirely.
	AdminSecret string
	// ResultTTL is how long resolved per-device results stay cached.
	ResultTTL time.Duration
	// ActiveVersionTTL is how long the active catalog version is cached
	// between store reads.
	ActiveVersionTTL time.Duration
}

// DefaultConfig returns the default service configuration.
func DefaultConfig() Config {
	return Config{
		ResultTTL:        defaultResultTTL,
		ActiveVersionTTL: defaultActiveVersionTTL,
	}
}

// Service is the registry service containing all business logic methods.
type Service struct {
	store    db.Store
	engine   *resolve.Engine
	pipeline *publish.Pipeline
	config   Config

	versionMu      sync.Mutex
	cachedVersion  string
	versionExpires time.Time
}

// NewServiceParams holds parameters for NewService.
type NewServiceParams struct {
	Store db.Store
	// Results caches resolved responses; nil disables result caching.
	Results   cache.Store
	Publisher events.EventPublisher
	Config    Config
}

// NewService creates a new Service instance.
func NewService(params NewServiceParams) *Service {
	cfg := params.Config
	if cfg.ResultTTL == 0 {
		cfg.ResultTTL = defaultResultTTL
	}
	if cfg.ActiveVersionTTL == 0 {
		cfg.ActiveVersionTTL = defaultActiveVersionTTL
	}

	return &Service{
		store:    params.Store,
		engine:   resolve.New(params.Store, params.Results, cfg.ResultTTL),
		pipeline: publish.NewPipeline(params.Store, params.Publisher),
		config:   cfg,
	}
}

// requireStore returns an error if the store is not configured.
func (s *Service) requireStore() *ServiceError {
	if s.store == nil {
		return &ServiceError{Code: CodeInternalError, Message: "store not configured"}
	}
	return nil
}

// activeVersion returns the active catalog version, cached for a short TTL so
// every resolution does not hit the store.
func (s *Service) activeVersion(ctx context.Context) (string, error) {
	s.versionMu.Lock()
	defer s.versionMu.Unlock()

	now := time.Now()
	if s.cachedVersion != "" && now.Before(s.versionExpires) {
		return s.cachedVersion, nil
	}

	version, err := s.store.ActiveVersion(ctx)
	if err != nil {
		return "", fmt.Errorf("failed to read active version: %w", err)
	}
	s.cachedVersion = version
	s.versionExpires = now.Add(s.config.ActiveVersionTTL)
	return version, nil
}

// invalidateActiveVersion drops the cached active version, e.g. after a
// publication changed it.
func (s *Service) invalidateActiveVersion() {
	s.versionMu.Lock()
	s.cachedVersion = ""
	s.versionExpires = time.Time{}
	s.versionMu.Unlock()
}

// checkAdminSecret verifies the caller-provided admin secret in constant
// time. An unconfigured secret rejects everything.
func (s *Service) checkAdminSecret(secret string) *ServiceError {
	if s.config.AdminSecret == "" || secret == "" ||
		subtle.ConstantTimeCompare([]byte(s.config.AdminSecret), []byte(secret)) != 1 {
		return &ServiceError{Code: CodeUnauthorized, Message: "Admin secret missing or invalid"}
	}
	return nil
}
