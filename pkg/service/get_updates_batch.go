package service

import (
	"context"
	"fmt"

	"github.com/updatefleet/firmware-registry/pkg/catalog"
	"github.com/updatefleet/firmware-registry/pkg/resolve"
)

const maxBatchDevices = 100

// GetUpdatesBatch resolves updates for a batch of devices. The result list is
// deduplicated and sorted by device identity; unknown devices yield null
// entries.
func (s *Service) GetUpdatesBatch(ctx context.Context, input *BatchUpdatesInput) (*BatchUpdatesOutput, error) {
	if err := s.requireStore(); err != nil {
		return nil, err
	}
	if len(input.Devices) == 0 {
		return nil, &ServiceError{Code: CodeInvalidArgument, Message: "Devices must not be empty"}
	}
	if len(input.Devices) > maxBatchDevices {
		return nil, &ServiceError{
			Code:    CodeInvalidArgument,
			Message: fmt.Sprintf("Too many devices in one batch (max %d)", maxBatchDevices),
		}
	}
	if input.Region != "" && !catalog.ValidRegion(input.Region) {
		return nil, &ServiceError{Code: CodeInvalidArgument, Message: fmt.Sprintf("Unknown region %q", input.Region)}
	}

	fingerprints := make([]catalog.Fingerprint, len(input.Devices))
	for i := range input.Devices {
		fp, verr := parseDeviceInput(&input.Devices[i])
		if verr != nil {
			verr.Message = fmt.Sprintf("Invalid device at index %d", i)
			return nil, verr
		}
		fingerprints[i] = *fp
	}

	version, err := s.activeVersion(ctx)
	if err != nil {
		return nil, &ServiceError{Code: CodeInternalError, Message: err.Error()}
	}
	if version == "" {
		return nil, &ServiceError{Code: CodeNotFound, Message: "No catalog has been published"}
	}

	results, err := s.engine.Resolve(ctx, version, resolve.Request{
		Generation: resolve.GenV4,
		Region:     input.Region,
		Devices:    fingerprints,
	})
	if err != nil {
		return nil, &ServiceError{Code: CodeInternalError, Message: err.Error()}
	}
	return &BatchUpdatesOutput{Devices: results}, nil
}
