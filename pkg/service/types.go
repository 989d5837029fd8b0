package service

import "github.com/updatefleet/firmware-registry/pkg/resolve"

// DeviceInput identifies one querying device. Identity fields are lowercase
// 0x-prefixed hexadecimal strings as sent on the wire ("0x1234").
type DeviceInput struct {
	ManufacturerID  string `json:"manufacturerId"`
	ProductType     string `json:"productType"`
	ProductID       string `json:"productId"`
	FirmwareVersion string `json:"firmwareVersion"`
}

// UpdatesInput is the request body for the single-device update operations.
type UpdatesInput struct {
	DeviceInput
	// Region is only honored by the v3 operation.
	Region string `json:"region,omitempty"`
}

// BatchUpdatesInput is the request body for the batch update operation.
type BatchUpdatesInput struct {
	Devices []DeviceInput `json:"devices"`
	Region  string        `json:"region,omitempty"`
}

// UpdatesOutput is the response of the single-device update operations.
type UpdatesOutput struct {
	Updates []resolve.Update `json:"updates"`
}

// BatchUpdatesOutput is the response of the batch update operation. Devices
// unknown to the catalog yield a null entry.
type BatchUpdatesOutput struct {
	Devices []*resolve.DeviceResult `json:"devices"`
}

// VersionOutput reports the active catalog version; empty when no catalog
// has been published yet.
type VersionOutput struct {
	Version string `json:"version"`
}

// HealthChecks holds individual health check results.
type HealthChecks struct {
	Store bool `json:"store"`
}

// HealthOutput is the health check response.
type HealthOutput struct {
	Status    string       `json:"status"`
	Checks    HealthChecks `json:"checks"`
	Timestamp string       `json:"timestamp"`
}
