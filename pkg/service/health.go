package service

import (
	"context"
	"time"
)

// Health checks the registry service health.
func (s *Service) Health(ctx context.Context) *HealthOutput {
	storeOk := s.store != nil
	if storeOk {
		if err := s.store.Ping(ctx); err != nil {
			storeOk = false
		}
	}

	status := "healthy"
	if !storeOk {
		status = "unhealthy"
	}

	return &HealthOutput{
		Status: status,
		Checks: HealthChecks{
			Store: storeOk,
		},
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	}
}
