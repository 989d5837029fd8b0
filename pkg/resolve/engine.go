package resolve

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/updatefleet/firmware-registry/pkg/cache"
	"github.com/updatefleet/firmware-registry/pkg/catalog"
	"github.com/updatefleet/firmware-registry/pkg/condition"
	"github.com/updatefleet/firmware-registry/pkg/db"
	"github.com/updatefleet/firmware-registry/pkg/fwversion"
)

const engineLogPrefix = "resolve:engine"

// Engine resolves fingerprints against a catalog store, with per-device
// result caching. Cached entries are keyed by catalog version, so a cutover
// invalidates them without coordination.
type Engine struct {
	store    db.Store
	cache    cache.Store
	cacheTTL time.Duration
}

// New creates an Engine. cacheStore may be nil to disable caching.
func New(store db.Store, cacheStore cache.Store, cacheTTL time.Duration) *Engine {
	return &Engine{store: store, cache: cacheStore, cacheTTL: cacheTTL}
}

// Resolve answers one resolution request against the given catalog version.
// The result slice is aligned with the deduplicated, sorted device list; a
// nil element means the catalog does not know that device.
func (e *Engine) Resolve(ctx context.Context, catalogVersion string, req Request) ([]*DeviceResult, error) {
	devices := normalizeDevices(req.Devices)

	results := make([]*DeviceResult, len(devices))
	resolved := make([]bool, len(devices))

	var missIdx []int
	var missFPs []catalog.Fingerprint
	for i, fp := range devices {
		if body, ok := e.cacheGet(ctx, catalogVersion, fp, req); ok {
			var cached *DeviceResult
			if err := json.Unmarshal(body, &cached); err == nil {
				results[i] = cached
				resolved[i] = true
				continue
			}
			// Undecodable entry: fall through to a fresh lookup.
		}
		missIdx = append(missIdx, i)
		missFPs = append(missFPs, fp)
	}

	if len(missFPs) > 0 {
		matches, err := e.store.MatchDevices(ctx, catalogVersion, missFPs)
		if err != nil {
			return nil, fmt.Errorf("%s - device lookup failed: %w", engineLogPrefix, err)
		}

		var deviceIDs []int64
		for _, records := range matches {
			if len(records) > 0 {
				deviceIDs = append(deviceIDs, records[0].ID)
			}
		}
		upgradesByDevice := map[int64][]db.UpgradeRecord{}
		if len(deviceIDs) > 0 {
			upgradesByDevice, err = e.store.UpgradesForDevices(ctx, deviceIDs)
			if err != nil {
				return nil, fmt.Errorf("%s - upgrade lookup failed: %w", engineLogPrefix, err)
			}
		}

		for j, records := range matches {
			i := missIdx[j]
			fp := missFPs[j]
			if len(records) == 0 {
				// Unknown device. Cache the null result too, so repeated
				// probes for unlisted hardware stay cheap.
				results[i] = nil
				resolved[i] = true
				e.cacheSet(ctx, catalogVersion, fp, req, results[i])
				continue
			}

			applicable, err := e.applicableUpdates(upgradesByDevice[records[0].ID], fp)
			if err != nil {
				return nil, err
			}
			results[i] = &DeviceResult{
				ManufacturerID:  fwversion.FormatID(fp.ManufacturerID),
				ProductType:     fwversion.FormatID(fp.ProductType),
				ProductID:       fwversion.FormatID(fp.ProductID),
				FirmwareVersion: fp.FirmwareVersion,
				Updates:         Postprocess(applicable, fp.FirmwareVersion, req.Generation, req.Region),
			}
			resolved[i] = true
			e.cacheSet(ctx, catalogVersion, fp, req, results[i])
		}
	}

	for i := range results {
		if !resolved[i] {
			return nil, fmt.Errorf("%s - device %d left unresolved", engineLogPrefix, i)
		}
	}
	return results, nil
}

// ResolveOne resolves a single device and collapses "unknown device" to an
// empty update list, as the single-device protocol generations do.
func (e *Engine) ResolveOne(ctx context.Context, catalogVersion string, fp catalog.Fingerprint, gen Generation, region string) ([]Update, error) {
	results, err := e.Resolve(ctx, catalogVersion, Request{
		Generation: gen,
		Region:     region,
		Devices:    []catalog.Fingerprint{fp},
	})
	if err != nil {
		return nil, err
	}
	if len(results) != 1 || results[0] == nil || results[0].Updates == nil {
		return []Update{}, nil
	}
	return results[0].Updates, nil
}

// applicableUpdates filters a device's upgrades by their conditions.
func (e *Engine) applicableUpdates(records []db.UpgradeRecord, fp catalog.Fingerprint) ([]Update, error) {
	device := &condition.Device{
		ManufacturerID:  fp.ManufacturerID,
		ProductType:     fp.ProductType,
		ProductID:       fp.ProductID,
		FirmwareVersion: fp.FirmwareVersion,
	}

	updates := make([]Update, 0, len(records))
	for _, rec := range records {
		applies, err := condition.Applies(rec.Condition, device)
		if err != nil {
			return nil, fmt.Errorf("%s - upgrade %d: %w", engineLogPrefix, rec.ID, err)
		}
		if !applies {
			continue
		}
		files := make([]catalog.File, len(rec.Files))
		for i, f := range rec.Files {
			files[i] = catalog.File{Target: f.Target, URL: f.URL, Integrity: f.Integrity}
		}
		updates = append(updates, Update{
			Version:   rec.Version,
			Changelog: rec.Changelog,
			Channel:   rec.Channel,
			Region:    rec.Region,
			Files:     files,
		})
	}
	return updates, nil
}

func (e *Engine) cacheGet(ctx context.Context, catalogVersion string, fp catalog.Fingerprint, req Request) ([]byte, bool) {
	if e.cache == nil {
		return nil, false
	}
	entry, ok := e.cache.Get(ctx, e.cacheKey(catalogVersion, fp, req))
	if !ok {
		return nil, false
	}
	return entry.Body, true
}

func (e *Engine) cacheSet(ctx context.Context, catalogVersion string, fp catalog.Fingerprint, req Request, result *DeviceResult) {
	if e.cache == nil || e.cacheTTL <= 0 {
		return
	}
	body, err := json.Marshal(result)
	if err != nil {
		slog.Warn(fmt.Sprintf("%s - failed to encode cache entry: %v", engineLogPrefix, err))
		return
	}
	e.cache.Set(ctx, e.cacheKey(catalogVersion, fp, req), cache.Entry{
		Body: body,
		ETag: cache.ETag(body),
	}, e.cacheTTL)
}

func (e *Engine) cacheKey(catalogVersion string, fp catalog.Fingerprint, req Request) string {
	return cache.Key(catalogVersion, fp.ManufacturerID, fp.ProductType, fp.ProductID,
		fp.FirmwareVersion, req.Generation.String(), req.Region)
}

// normalizeDevices pads firmware versions, removes duplicates and sorts the
// devices so batch processing and caching are order-independent.
func normalizeDevices(devices []catalog.Fingerprint) []catalog.Fingerprint {
	out := make([]catalog.Fingerprint, 0, len(devices))
	seen := make(map[catalog.Fingerprint]struct{}, len(devices))
	for _, fp := range devices {
		fp.FirmwareVersion = fwversion.Pad(fp.FirmwareVersion)
		if _, dup := seen[fp]; dup {
			continue
		}
		seen[fp] = struct{}{}
		out = append(out, fp)
	}
	sort.Slice(out, func(i, j int) bool {
		a, b := out[i], out[j]
		if a.ManufacturerID != b.ManufacturerID {
			return a.ManufacturerID < b.ManufacturerID
		}
		if a.ProductType != b.ProductType {
			return a.ProductType < b.ProductType
		}
		if a.ProductID != b.ProductID {
			return a.ProductID < b.ProductID
		}
		return a.FirmwareVersion < b.FirmwareVersion
	})
	return out
}
