package service

import (
	"context"
	"fmt"

	"github.com/updatefleet/firmware-registry/pkg/catalog"
	"github.com/updatefleet/firmware-registry/pkg/fwversion"
	"github.com/updatefleet/firmware-registry/pkg/resolve"
)

// GetUpdates resolves updates for a single device using the given protocol
// generation. The region is only honored from GenV3 on.
func (s *Service) GetUpdates(ctx context.Context, input *UpdatesInput, gen resolve.Generation) (*UpdatesOutput, error) {
	if err := s.requireStore(); err != nil {
		return nil, err
	}

	fp, verr := parseDeviceInput(&input.DeviceInput)
	if verr != nil {
		return nil, verr
	}
	region := ""
	if gen >= resolve.GenV3 {
		if input.Region != "" && !catalog.ValidRegion(input.Region) {
			return nil, &ServiceError{Code: CodeInvalidArgument, Message: fmt.Sprintf("Unknown region %q", input.Region)}
		}
		region = input.Region
	}

	version, err := s.activeVersion(ctx)
	if err != nil {
		return nil, &ServiceError{Code: CodeInternalError, Message: err.Error()}
	}
	if version == "" {
		return nil, &ServiceError{Code: CodeNotFound, Message: "No catalog has been published"}
	}

	updates, err := s.engine.ResolveOne(ctx, version, *fp, gen, region)
	if err != nil {
		return nil, &ServiceError{Code: CodeInternalError, Message: err.Error()}
	}
	return &UpdatesOutput{Updates: updates}, nil
}

// parseDeviceInput validates a wire-format device and converts it into a
// fingerprint.
func parseDeviceInput(input *DeviceInput) (*catalog.Fingerprint, *ServiceError) {
	var errs []ValidationDetail
	fields := []struct {
		name  string
		value string
	}{
		{"manufacturerId", input.ManufacturerID},
		{"productType", input.ProductType},
		{"productId", input.ProductID},
	}
	for _, f := range fields {
		if !fwversion.HexIDRegex.MatchString(f.value) {
			errs = append(errs, ValidationDetail{Field: f.name, Message: "Must be a hexadecimal number with 4 digits"})
		}
	}
	if !fwversion.IsFirmwareVersion(input.FirmwareVersion) {
		errs = append(errs, ValidationDetail{Field: "firmwareVersion", Message: "Is not a valid firmware version"})
	}
	if len(errs) > 0 {
		return nil, &ServiceError{Code: CodeInvalidArgument, Message: "Invalid device", Details: errs}
	}

	mfg, _ := fwversion.ParseID(input.ManufacturerID)
	ptype, _ := fwversion.ParseID(input.ProductType)
	pid, _ := fwversion.ParseID(input.ProductID)
	return &catalog.Fingerprint{
		ManufacturerID:  mfg,
		ProductType:     ptype,
		ProductID:       pid,
		FirmwareVersion: input.FirmwareVersion,
	}, nil
}

// ValidationDetail names one invalid request field.
type ValidationDetail struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}
