// Package resolve turns device fingerprints into applicable firmware updates.
//
// Resolution runs against one catalog version: match the fingerprint to a
// device family, collect its upgrades, evaluate per-upgrade conditions, then
// shape the result for the requested protocol generation.
package resolve

import (
	"github.com/updatefleet/firmware-registry/pkg/catalog"
)

// Generation selects the protocol shape of a resolution response.
type Generation int

const (
	// GenV1 returns stable, region-less updates without a channel field.
	GenV1 Generation = iota + 1
	// GenV2 adds the channel field and beta-suffixed normalized versions.
	GenV2
	// GenV3 adds region filtering, ascending version sort and per-version dedup.
	GenV3
	// GenV4 is GenV3 semantics for batches of devices, with null results for
	// unknown devices.
	GenV4
)

func (g Generation) String() string {
	switch g {
	case GenV1:
		return "v1"
	case GenV2:
		return "v2"
	case GenV3:
		return "v3"
	case GenV4:
		return "v4"
	default:
		return "v?"
	}
}

// Update is one applicable upgrade in a resolution response.
type Update struct {
	Version           string         `json:"version"`
	Changelog         string         `json:"changelog"`
	Channel           string         `json:"channel,omitempty"`
	Region            string         `json:"region,omitempty"`
	Files             []catalog.File `json:"files"`
	Downgrade         bool           `json:"downgrade"`
	NormalizedVersion string         `json:"normalizedVersion"`
}

// DeviceResult couples a normalized fingerprint with its applicable updates.
// In batch output a nil *DeviceResult marks a device the catalog does not
// know; an empty Updates slice marks a known device with nothing applicable.
type DeviceResult struct {
	ManufacturerID  string   `json:"manufacturerId"`
	ProductType     string   `json:"productType"`
	ProductID       string   `json:"productId"`
	FirmwareVersion string   `json:"firmwareVersion"`
	Updates         []Update `json:"updates"`
}

// Request is one resolution call.
type Request struct {
	Generation Generation
	// Region filters region-specific updates for GenV3/GenV4; empty keeps
	// only region-less updates.
	Region  string
	Devices []catalog.Fingerprint
}
