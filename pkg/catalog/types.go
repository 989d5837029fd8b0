// Package catalog defines the firmware catalog data model and validates raw
// catalog definitions into their canonical form.
package catalog

// Definition is one validated catalog file: a family of devices and the
// conditional upgrades that apply to them.
type Definition struct {
	Devices  []Device  `json:"devices"`
	Upgrades []Upgrade `json:"upgrades"`
}

// Device identifies a family of devices by brand, model, the three identity
// fields (formatted as "0x" + 4 lowercase hex digits) and a firmware version
// range. Immutable once published under a catalog version.
type Device struct {
	Brand           string       `json:"brand"`
	Model           string       `json:"model"`
	ManufacturerID  string       `json:"manufacturerId"`
	ProductType     string       `json:"productType"`
	ProductID       string       `json:"productId"`
	FirmwareVersion VersionRange `json:"firmwareVersion"`
}

// VersionRange is an inclusive firmware version range.
type VersionRange struct {
	Min string `json:"min"`
	Max string `json:"max"`
}

// Upgrade is one conditionally applicable firmware upgrade in canonical
// (multi-file) form.
type Upgrade struct {
	Condition string `json:"$if,omitempty"`
	Version   string `json:"version"`
	Changelog string `json:"changelog"`
	Channel   string `json:"channel"`
	Region    string `json:"region,omitempty"`
	Files     []File `json:"files"`
}

// File is one downloadable artifact of an upgrade.
type File struct {
	Target    int    `json:"target"`
	URL       string `json:"url"`
	Integrity string `json:"integrity"`
}

// Fingerprint identifies a querying device: the three identity fields plus
// its current firmware version.
type Fingerprint struct {
	ManufacturerID  uint16
	ProductType     uint16
	ProductID       uint16
	FirmwareVersion string
}

// Release channels.
const (
	ChannelStable = "stable"
	ChannelBeta   = "beta"
)

// Regions lists the valid values for an upgrade's region field.
var Regions = []string{
	"europe",
	"usa",
	"australia/new zealand",
	"hong kong",
	"india",
	"israel",
	"russia",
	"china",
	"japan",
	"korea",
}

// DefaultVersionRange is used when a device omits its firmware version range.
var DefaultVersionRange = VersionRange{Min: "0.0", Max: "255.255"}

// ValidRegion reports whether region is a known region value.
func ValidRegion(region string) bool {
	for _, r := range Regions {
		if r == region {
			return true
		}
	}
	return false
}
