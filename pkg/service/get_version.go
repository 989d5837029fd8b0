package service

import "context"

// GetVersion returns the active catalog version. Admin-gated; the version
// token reveals publication state.
func (s *Service) GetVersion(ctx context.Context, adminSecret string) (*VersionOutput, error) {
	if err := s.requireStore(); err != nil {
		return nil, err
	}
	if err := s.checkAdminSecret(adminSecret); err != nil {
		return nil, err
	}

	version, err := s.store.ActiveVersion(ctx)
	if err != nil {
		return nil, &ServiceError{Code: CodeInternalError, Message: err.Error()}
	}
	return &VersionOutput{Version: version}, nil
}
