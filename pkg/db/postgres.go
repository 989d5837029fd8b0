package db

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/updatefleet/firmware-registry/pkg/catalog"
	"github.com/updatefleet/firmware-registry/pkg/fwversion"
)

const pgLogPrefix = "db:postgres"

// lookupChunkSize bounds the number of identity keys per set-valued query,
// to stay well below backend parameter limits.
const lookupChunkSize = 500

// Postgres is the pgx-backed Store.
type Postgres struct {
	pool *pgxpool.Pool
}

var _ Store = (*Postgres)(nil)

// NewPostgres creates a Postgres store on top of an existing connection pool.
func NewPostgres(pool *pgxpool.Pool) *Postgres {
	return &Postgres{pool: pool}
}

// CreateVersion registers a new inactive catalog version; idempotent.
func (s *Postgres) CreateVersion(ctx context.Context, version string) error {
	slog.Debug(fmt.Sprintf("%s - CreateVersion %s", pgLogPrefix, version))

	_, err := s.pool.Exec(ctx,
		`INSERT INTO catalog_versions (version, active) VALUES ($1, FALSE)
		 ON CONFLICT (version) DO NOTHING`, version)
	if err != nil {
		return fmt.Errorf("%s - failed to create version %s: %w", pgLogPrefix, version, err)
	}
	return nil
}

// ActiveVersion returns the active catalog version, or "" if none exists.
func (s *Postgres) ActiveVersion(ctx context.Context) (string, error) {
	var version string
	err := s.pool.QueryRow(ctx,
		`SELECT version FROM catalog_versions WHERE active = TRUE LIMIT 1`).Scan(&version)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("%s - failed to query active version: %w", pgLogPrefix, err)
	}
	return version, nil
}

// ListVersions returns all known catalog versions.
func (s *Postgres) ListVersions(ctx context.Context) ([]CatalogVersion, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT version, active, created FROM catalog_versions ORDER BY created`)
	if err != nil {
		return nil, fmt.Errorf("%s - failed to list versions: %w", pgLogPrefix, err)
	}
	defer rows.Close()

	var versions []CatalogVersion
	for rows.Next() {
		var v CatalogVersion
		if err := rows.Scan(&v.Version, &v.Active, &v.Created); err != nil {
			return nil, fmt.Errorf("%s - failed to scan version: %w", pgLogPrefix, err)
		}
		versions = append(versions, v)
	}
	return versions, rows.Err()
}

// EnableVersion performs the cutover in a single transaction: deactivate all
// versions, activate the new one, delete everything else. Device, upgrade and
// file rows of retired versions go away via ON DELETE CASCADE.
func (s *Postgres) EnableVersion(ctx context.Context, version string) error {
	slog.Info(fmt.Sprintf("%s - EnableVersion %s", pgLogPrefix, version))

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("%s - failed to begin cutover: %w", pgLogPrefix, err)
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx,
		`UPDATE catalog_versions SET active = FALSE WHERE active = TRUE`); err != nil {
		return fmt.Errorf("%s - failed to deactivate versions: %w", pgLogPrefix, err)
	}

	tag, err := tx.Exec(ctx,
		`UPDATE catalog_versions SET active = TRUE WHERE version = $1`, version)
	if err != nil {
		return fmt.Errorf("%s - failed to activate %s: %w", pgLogPrefix, version, err)
	}
	if tag.RowsAffected() == 0 {
		// Rolling back restores the previously active version; the store is
		// never left without an active version by a failed enable.
		return fmt.Errorf("%s - cannot enable unknown version %s", pgLogPrefix, version)
	}

	if _, err := tx.Exec(ctx,
		`DELETE FROM catalog_versions WHERE active = FALSE AND version <> $1`, version); err != nil {
		return fmt.Errorf("%s - failed to delete retired versions: %w", pgLogPrefix, err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("%s - failed to commit cutover: %w", pgLogPrefix, err)
	}
	return nil
}

// InsertDefinition stores one catalog definition under a staged version.
// Every device of the definition is associated with every upgrade.
func (s *Postgres) InsertDefinition(ctx context.Context, version string, def *catalog.Definition) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("%s - failed to begin insert: %w", pgLogPrefix, err)
	}
	defer tx.Rollback(ctx)

	deviceIDs := make([]int64, 0, len(def.Devices))
	for _, device := range def.Devices {
		minPadded := fwversion.PadWith(device.FirmwareVersion.Min, "0")
		maxPadded := fwversion.PadWith(device.FirmwareVersion.Max, "255")
		minNorm, err := fwversion.ToNumber(minPadded)
		if err != nil {
			return fmt.Errorf("%s - device %s/%s: %w", pgLogPrefix, device.Brand, device.Model, err)
		}
		maxNorm, err := fwversion.ToNumber(maxPadded)
		if err != nil {
			return fmt.Errorf("%s - device %s/%s: %w", pgLogPrefix, device.Brand, device.Model, err)
		}

		var id int64
		err = tx.QueryRow(ctx,
			`INSERT INTO devices (
			   version, brand, model, manufacturer_id, product_type, product_id,
			   firmware_version_min, firmware_version_max,
			   firmware_version_min_normalized, firmware_version_max_normalized
			 ) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
			 RETURNING id`,
			version, device.Brand, device.Model,
			device.ManufacturerID, device.ProductType, device.ProductID,
			minPadded, maxPadded, minNorm, maxNorm).Scan(&id)
		if err != nil {
			return fmt.Errorf("%s - failed to insert device: %w", pgLogPrefix, err)
		}
		deviceIDs = append(deviceIDs, id)
	}

	upgradeIDs := make([]int64, 0, len(def.Upgrades))
	for _, upgrade := range def.Upgrades {
		var id int64
		err := tx.QueryRow(ctx,
			`INSERT INTO upgrades (version, firmware_version, changelog, channel, region, condition)
			 VALUES ($1, $2, $3, $4, NULLIF($5, ''), NULLIF($6, ''))
			 RETURNING id`,
			version, upgrade.Version, upgrade.Changelog, upgrade.Channel,
			upgrade.Region, upgrade.Condition).Scan(&id)
		if err != nil {
			return fmt.Errorf("%s - failed to insert upgrade: %w", pgLogPrefix, err)
		}
		upgradeIDs = append(upgradeIDs, id)
	}

	batch := &pgx.Batch{}
	for _, deviceID := range deviceIDs {
		for _, upgradeID := range upgradeIDs {
			batch.Queue(
				`INSERT INTO device_upgrades (device_id, upgrade_id) VALUES ($1, $2)
				 ON CONFLICT DO NOTHING`, deviceID, upgradeID)
		}
	}
	for i, upgrade := range def.Upgrades {
		for _, file := range upgrade.Files {
			batch.Queue(
				`INSERT INTO upgrade_files (upgrade_id, target, url, integrity)
				 VALUES ($1, $2, $3, $4)`,
				upgradeIDs[i], file.Target, file.URL, file.Integrity)
		}
	}
	if batch.Len() > 0 {
		if err := tx.SendBatch(ctx, batch).Close(); err != nil {
			return fmt.Errorf("%s - failed to insert associations: %w", pgLogPrefix, err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("%s - failed to commit insert: %w", pgLogPrefix, err)
	}
	return nil
}

// MatchDevices finds device records for a batch of fingerprints using one
// set-valued query per chunk of identity keys, keeping read amplification
// independent of request fan-out.
func (s *Postgres) MatchDevices(ctx context.Context, version string, fingerprints []catalog.Fingerprint) ([][]DeviceRecord, error) {
	keys := make([]string, 0, len(fingerprints))
	seen := make(map[string]struct{}, len(fingerprints))
	for _, fp := range fingerprints {
		key := identityKey(fp)
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}
		keys = append(keys, key)
	}

	rowsByKey := make(map[string][]DeviceRecord)
	for start := 0; start < len(keys); start += lookupChunkSize {
		end := start + lookupChunkSize
		if end > len(keys) {
			end = len(keys)
		}
		rows, err := s.pool.Query(ctx,
			`SELECT id, version, brand, model, manufacturer_id, product_type, product_id,
			        firmware_version_min, firmware_version_max,
			        firmware_version_min_normalized, firmware_version_max_normalized
			 FROM devices
			 WHERE version = $1
			   AND manufacturer_id || '/' || product_type || '/' || product_id = ANY($2)`,
			version, keys[start:end])
		if err != nil {
			return nil, fmt.Errorf("%s - device lookup failed: %w", pgLogPrefix, err)
		}
		for rows.Next() {
			var d DeviceRecord
			if err := rows.Scan(&d.ID, &d.Version, &d.Brand, &d.Model,
				&d.ManufacturerID, &d.ProductType, &d.ProductID,
				&d.FirmwareVersionMin, &d.FirmwareVersionMax,
				&d.MinNormalized, &d.MaxNormalized); err != nil {
				rows.Close()
				return nil, fmt.Errorf("%s - failed to scan device: %w", pgLogPrefix, err)
			}
			key := d.ManufacturerID + "/" + d.ProductType + "/" + d.ProductID
			rowsByKey[key] = append(rowsByKey[key], d)
		}
		if err := rows.Err(); err != nil {
			rows.Close()
			return nil, fmt.Errorf("%s - device lookup failed: %w", pgLogPrefix, err)
		}
		rows.Close()
	}

	results := make([][]DeviceRecord, len(fingerprints))
	for i, fp := range fingerprints {
		normalized, err := fwversion.ToNumber(fp.FirmwareVersion)
		if err != nil {
			// Unparsable firmware version cannot be contained in any range
			continue
		}
		for _, d := range rowsByKey[identityKey(fp)] {
			if normalized >= d.MinNormalized && normalized <= d.MaxNormalized {
				results[i] = append(results[i], d)
			}
		}
	}
	return results, nil
}

// UpgradesForDevices fetches the upgrades and files for the given devices in
// a single joined query.
func (s *Postgres) UpgradesForDevices(ctx context.Context, deviceIDs []int64) (map[int64][]UpgradeRecord, error) {
	result := make(map[int64][]UpgradeRecord, len(deviceIDs))
	if len(deviceIDs) == 0 {
		return result, nil
	}

	rows, err := s.pool.Query(ctx,
		`SELECT du.device_id, u.id, u.condition, u.firmware_version, u.changelog,
		        u.channel, u.region, uf.target, uf.url, uf.integrity
		 FROM device_upgrades du
		 JOIN upgrades u ON u.id = du.upgrade_id
		 JOIN upgrade_files uf ON uf.upgrade_id = u.id
		 WHERE du.device_id = ANY($1)
		 ORDER BY du.device_id, u.id, uf.target`, deviceIDs)
	if err != nil {
		return nil, fmt.Errorf("%s - upgrade lookup failed: %w", pgLogPrefix, err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			deviceID          int64
			upgradeID         int64
			condition, region *string
			file              UpgradeFile
			u                 UpgradeRecord
		)
		if err := rows.Scan(&deviceID, &upgradeID, &condition, &u.Version, &u.Changelog,
			&u.Channel, &region, &file.Target, &file.URL, &file.Integrity); err != nil {
			return nil, fmt.Errorf("%s - failed to scan upgrade: %w", pgLogPrefix, err)
		}
		u.ID = upgradeID
		if condition != nil {
			u.Condition = *condition
		}
		if region != nil {
			u.Region = *region
		}

		upgrades := result[deviceID]
		if n := len(upgrades); n > 0 && upgrades[n-1].ID == upgradeID {
			upgrades[n-1].Files = append(upgrades[n-1].Files, file)
		} else {
			u.Files = []UpgradeFile{file}
			upgrades = append(upgrades, u)
		}
		result[deviceID] = upgrades
	}
	return result, rows.Err()
}

// Ping checks database connectivity.
func (s *Postgres) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// Close closes the underlying pool.
func (s *Postgres) Close() {
	s.pool.Close()
}

func identityKey(fp catalog.Fingerprint) string {
	return fwversion.FormatID(fp.ManufacturerID) + "/" +
		fwversion.FormatID(fp.ProductType) + "/" +
		fwversion.FormatID(fp.ProductID)
}
