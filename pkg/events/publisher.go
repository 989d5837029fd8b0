package events

import "context"

// EventPublisher is the interface for publishing catalog publication events.
type EventPublisher interface {
	PublishCatalog(ctx context.Context, event *CatalogPublishedEvent) error
}

// NoOpPublisher is an EventPublisher that does nothing (for in-process usage without events).
type NoOpPublisher struct{}

// PublishCatalog is a no-op.
func (p *NoOpPublisher) PublishCatalog(_ context.Context, _ *CatalogPublishedEvent) error {
	return nil
}

// CallbackPublisher is an EventPublisher that calls a callback function (for testing).
type CallbackPublisher struct {
	callback func(ctx context.Context, event *CatalogPublishedEvent) error
}

// NewCallbackPublisher creates a new CallbackPublisher.
func NewCallbackPublisher(cb func(ctx context.Context, event *CatalogPublishedEvent) error) *CallbackPublisher {
	return &CallbackPublisher{callback: cb}
}

// PublishCatalog calls the callback.
func (p *CallbackPublisher) PublishCatalog(ctx context.Context, event *CatalogPublishedEvent) error {
	return p.callback(ctx, event)
}
