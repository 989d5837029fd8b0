package db

import "time"

// CatalogVersion represents a row in the catalog_versions table. Exactly one
// version is active at a time once a catalog has been published.
type CatalogVersion struct {
	Version string    `json:"version"`
	Active  bool      `json:"active"`
	Created time.Time `json:"created"`
}

// DeviceRecord represents a row in the devices table: one device family under
// one catalog version. The firmware version range is stored both as the
// original strings and pre-normalized into sortable integers
// (major*65536 + minor*256 + patch) so range containment is a plain BETWEEN.
type DeviceRecord struct {
	ID                 int64  `json:"id"`
	Version            string `json:"version"`
	Brand              string `json:"brand"`
	Model              string `json:"model"`
	ManufacturerID     string `json:"manufacturer_id"`
	ProductType        string `json:"product_type"`
	ProductID          string `json:"product_id"`
	FirmwareVersionMin string `json:"firmware_version_min"`
	FirmwareVersionMax string `json:"firmware_version_max"`
	MinNormalized      int    `json:"firmware_version_min_normalized"`
	MaxNormalized      int    `json:"firmware_version_max_normalized"`
}

// UpgradeRecord represents a row in the upgrades table with its files joined in.
type UpgradeRecord struct {
	ID        int64         `json:"id"`
	Condition string        `json:"condition,omitempty"`
	Version   string        `json:"version"`
	Changelog string        `json:"changelog"`
	Channel   string        `json:"channel"`
	Region    string        `json:"region,omitempty"`
	Files     []UpgradeFile `json:"files"`
}

// UpgradeFile represents a row in the upgrade_files table.
type UpgradeFile struct {
	Target    int    `json:"target"`
	URL       string `json:"url"`
	Integrity string `json:"integrity"`
}
