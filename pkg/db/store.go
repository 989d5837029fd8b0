// Package db provides the catalog storage layer: a Store interface with a
// Postgres implementation (pgx) and an in-memory implementation for
// single-process deployments and tests.
package db

import (
	"context"

	"github.com/updatefleet/firmware-registry/pkg/catalog"
)

// Store is the storage contract the resolution engine and the publication
// pipeline depend on. Implementations must make EnableVersion observable as
// atomic: readers see either the old or the new active version, never zero or
// two active versions, and never a mix of both versions' data.
type Store interface {
	// CreateVersion registers a new inactive catalog version. Re-creating an
	// existing version is a no-op.
	CreateVersion(ctx context.Context, version string) error

	// ActiveVersion returns the currently active catalog version, or "" if no
	// catalog has ever been published.
	ActiveVersion(ctx context.Context) (string, error)

	// ListVersions returns all known catalog versions.
	ListVersions(ctx context.Context) ([]CatalogVersion, error)

	// EnableVersion atomically marks version active and all others inactive,
	// then removes the inactive versions' data. It never deletes the newly
	// enabled version and fails without side effects if version is unknown.
	EnableVersion(ctx context.Context, version string) error

	// InsertDefinition stores one validated catalog definition under a staged
	// version. It may be called many times per version (chunked ingestion)
	// and tolerates retries.
	InsertDefinition(ctx context.Context, version string, def *catalog.Definition) error

	// MatchDevices finds, for each fingerprint, the device records under
	// version whose identity fields match exactly and whose firmware version
	// range contains the fingerprint's version. The result is index-aligned
	// with fingerprints; a nil slice means the device identity is unknown.
	MatchDevices(ctx context.Context, version string, fingerprints []catalog.Fingerprint) ([][]DeviceRecord, error)

	// UpgradesForDevices returns the upgrades (with files) associated with
	// the given device records, keyed by device ID.
	UpgradesForDevices(ctx context.Context, deviceIDs []int64) (map[int64][]UpgradeRecord, error)

	// Ping checks connectivity.
	Ping(ctx context.Context) error

	// Close releases resources.
	Close()
}
