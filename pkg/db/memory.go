package db

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/updatefleet/firmware-registry/pkg/catalog"
	"github.com/updatefleet/firmware-registry/pkg/fwversion"
)

const memLogPrefix = "db:memory"

// Memory is an in-process Store for single-node deployments and tests.
// All mutating operations take the write lock, so a cutover is atomic with
// respect to concurrent readers.
type Memory struct {
	mu       sync.RWMutex
	versions map[string]*CatalogVersion
	active   string
	devices  []DeviceRecord
	upgrades map[int64]UpgradeRecord
	links    map[int64][]int64 // device ID → upgrade IDs
	nextID   int64
}

var _ Store = (*Memory)(nil)

// NewMemory creates an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{
		versions: make(map[string]*CatalogVersion),
		upgrades: make(map[int64]UpgradeRecord),
		links:    make(map[int64][]int64),
		nextID:   1,
	}
}

// CreateVersion registers a new inactive catalog version; idempotent.
func (s *Memory) CreateVersion(_ context.Context, version string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.versions[version]; ok {
		return nil
	}
	s.versions[version] = &CatalogVersion{Version: version, Created: time.Now().UTC()}
	return nil
}

// ActiveVersion returns the active catalog version, or "" if none exists.
func (s *Memory) ActiveVersion(_ context.Context) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.active, nil
}

// ListVersions returns all known catalog versions.
func (s *Memory) ListVersions(_ context.Context) ([]CatalogVersion, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	versions := make([]CatalogVersion, 0, len(s.versions))
	for _, v := range s.versions {
		versions = append(versions, *v)
	}
	return versions, nil
}

// EnableVersion atomically switches the active version and drops all data of
// retired versions.
func (s *Memory) EnableVersion(_ context.Context, version string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	v, ok := s.versions[version]
	if !ok {
		return fmt.Errorf("%s - cannot enable unknown version %s", memLogPrefix, version)
	}
	for _, other := range s.versions {
		other.Active = false
	}
	v.Active = true
	s.active = version

	for name := range s.versions {
		if name != version {
			delete(s.versions, name)
		}
	}

	kept := s.devices[:0]
	for _, d := range s.devices {
		if d.Version == version {
			kept = append(kept, d)
			continue
		}
		for _, upgradeID := range s.links[d.ID] {
			delete(s.upgrades, upgradeID)
		}
		delete(s.links, d.ID)
	}
	s.devices = kept
	return nil
}

// InsertDefinition stores one catalog definition under a staged version.
func (s *Memory) InsertDefinition(_ context.Context, version string, def *catalog.Definition) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.versions[version]; !ok {
		return fmt.Errorf("%s - unknown version %s", memLogPrefix, version)
	}

	upgradeIDs := make([]int64, 0, len(def.Upgrades))
	for _, upgrade := range def.Upgrades {
		id := s.nextID
		s.nextID++
		files := make([]UpgradeFile, len(upgrade.Files))
		for i, f := range upgrade.Files {
			files[i] = UpgradeFile{Target: f.Target, URL: f.URL, Integrity: f.Integrity}
		}
		s.upgrades[id] = UpgradeRecord{
			ID:        id,
			Condition: upgrade.Condition,
			Version:   upgrade.Version,
			Changelog: upgrade.Changelog,
			Channel:   upgrade.Channel,
			Region:    upgrade.Region,
			Files:     files,
		}
		upgradeIDs = append(upgradeIDs, id)
	}

	for _, device := range def.Devices {
		minPadded := fwversion.PadWith(device.FirmwareVersion.Min, "0")
		maxPadded := fwversion.PadWith(device.FirmwareVersion.Max, "255")
		minNorm, err := fwversion.ToNumber(minPadded)
		if err != nil {
			return fmt.Errorf("%s - device %s/%s: %w", memLogPrefix, device.Brand, device.Model, err)
		}
		maxNorm, err := fwversion.ToNumber(maxPadded)
		if err != nil {
			return fmt.Errorf("%s - device %s/%s: %w", memLogPrefix, device.Brand, device.Model, err)
		}

		id := s.nextID
		s.nextID++
		s.devices = append(s.devices, DeviceRecord{
			ID:                 id,
			Version:            version,
			Brand:              device.Brand,
			Model:              device.Model,
			ManufacturerID:     device.ManufacturerID,
			ProductType:        device.ProductType,
			ProductID:          device.ProductID,
			FirmwareVersionMin: minPadded,
			FirmwareVersionMax: maxPadded,
			MinNormalized:      minNorm,
			MaxNormalized:      maxNorm,
		})
		s.links[id] = append([]int64(nil), upgradeIDs...)
	}
	return nil
}

// MatchDevices finds device records for each fingerprint under version.
func (s *Memory) MatchDevices(_ context.Context, version string, fingerprints []catalog.Fingerprint) ([][]DeviceRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	results := make([][]DeviceRecord, len(fingerprints))
	for i, fp := range fingerprints {
		normalized, err := fwversion.ToNumber(fp.FirmwareVersion)
		if err != nil {
			continue
		}
		key := identityKey(fp)
		for _, d := range s.devices {
			if d.Version != version {
				continue
			}
			if d.ManufacturerID+"/"+d.ProductType+"/"+d.ProductID != key {
				continue
			}
			if normalized >= d.MinNormalized && normalized <= d.MaxNormalized {
				results[i] = append(results[i], d)
			}
		}
	}
	return results, nil
}

// UpgradesForDevices returns the upgrades for the given devices.
func (s *Memory) UpgradesForDevices(_ context.Context, deviceIDs []int64) (map[int64][]UpgradeRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make(map[int64][]UpgradeRecord, len(deviceIDs))
	for _, deviceID := range deviceIDs {
		for _, upgradeID := range s.links[deviceID] {
			if u, ok := s.upgrades[upgradeID]; ok {
				files := append([]UpgradeFile(nil), u.Files...)
				u.Files = files
				result[deviceID] = append(result[deviceID], u)
			}
		}
	}
	return result, nil
}

// Ping always succeeds for the in-memory store.
func (s *Memory) Ping(_ context.Context) error {
	return nil
}

// Close is a no-op.
func (s *Memory) Close() {}
