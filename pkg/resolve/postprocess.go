package resolve

import (
	"sort"
	"strings"

	"github.com/updatefleet/firmware-registry/pkg/catalog"
	"github.com/updatefleet/firmware-registry/pkg/fwversion"
)

// Postprocess shapes the raw applicable updates of one device for a protocol
// generation. currentVersion is the device's reported firmware version; the
// exact current version is never offered back.
func Postprocess(updates []Update, currentVersion string, gen Generation, region string) []Update {
	out := make([]Update, 0, len(updates))
	current := fwversion.Pad(currentVersion)

	for _, u := range updates {
		switch gen {
		case GenV1:
			// The first generation knows neither channels nor regions.
			if u.Channel != catalog.ChannelStable || u.Region != "" {
				continue
			}
		case GenV2:
			if u.Region != "" {
				continue
			}
		default:
			// Clients without a region get only region-less updates; clients
			// with one additionally get the matching region-specific ones.
			if u.Region != "" && u.Region != region {
				continue
			}
		}
		if fwversion.Pad(u.Version) == current {
			continue
		}

		u.Downgrade = fwversion.Compare(u.Version, currentVersion) < 0
		u.NormalizedVersion = fwversion.Pad(u.Version)
		if gen != GenV1 && u.Channel == catalog.ChannelBeta {
			u.NormalizedVersion += "-beta"
		}
		if gen == GenV1 {
			u.Channel = ""
			u.Region = ""
		}
		if gen == GenV2 {
			u.Region = ""
		}
		out = append(out, u)
	}

	if gen == GenV1 || gen == GenV2 {
		return out
	}

	sort.SliceStable(out, func(i, j int) bool {
		if cmp := compareNormalized(out[i].NormalizedVersion, out[j].NormalizedVersion); cmp != 0 {
			return cmp < 0
		}
		// Region-specific updates take precedence over region-less ones for
		// the same version.
		return out[i].Region > out[j].Region
	})

	// A region-specific and a general update may exist for the same version;
	// keep only the first (region-specific) one.
	deduped := out[:0]
	for i, u := range out {
		if i > 0 && u.Version == out[i-1].Version {
			continue
		}
		deduped = append(deduped, u)
	}
	return deduped
}

// compareNormalized orders padded versions with optional prerelease suffixes
// ("1.2.3-beta" sorts before "1.2.3").
func compareNormalized(a, b string) int {
	va, errA := fwversion.Parse(a)
	vb, errB := fwversion.Parse(b)
	if errA != nil || errB != nil {
		return strings.Compare(a, b)
	}
	return va.Compare(vb)
}
