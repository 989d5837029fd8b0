package service

import (
	"context"

	"github.com/updatefleet/firmware-registry/pkg/publish"
)

// PublishCatalog applies one publication payload. Admin-gated.
func (s *Service) PublishCatalog(ctx context.Context, payload *publish.Payload, adminSecret string) (*publish.Result, error) {
	if err := s.requireStore(); err != nil {
		return nil, err
	}
	if err := s.checkAdminSecret(adminSecret); err != nil {
		return nil, err
	}

	result, err := s.pipeline.Apply(ctx, *payload)
	if err != nil {
		return nil, &ServiceError{Code: CodeInvalidArgument, Message: err.Error()}
	}
	if result.Enabled {
		s.invalidateActiveVersion()
	}
	return result, nil
}
