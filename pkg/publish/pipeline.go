package publish

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/updatefleet/firmware-registry/pkg/catalog"
	"github.com/updatefleet/firmware-registry/pkg/db"
	"github.com/updatefleet/firmware-registry/pkg/events"
)

const pipelineLogPrefix = "publish:pipeline"

// Pipeline applies publication payloads to a catalog store. Large catalogs
// arrive as several payloads under one token; the pipeline tracks how many
// definitions each staged version accumulated so the cutover event reports
// the whole catalog, not just the enabling payload.
type Pipeline struct {
	store     db.Store
	publisher events.EventPublisher

	mu      sync.Mutex
	applied map[string]int
}

// NewPipeline creates a Pipeline. publisher may be nil to skip events.
func NewPipeline(store db.Store, publisher events.EventPublisher) *Pipeline {
	if publisher == nil {
		publisher = &events.NoOpPublisher{}
	}
	return &Pipeline{store: store, publisher: publisher, applied: make(map[string]int)}
}

// resetApplied starts counting definitions for a freshly created version.
func (p *Pipeline) resetApplied(version string) {
	p.mu.Lock()
	p.applied[version] = 0
	p.mu.Unlock()
}

// addApplied records stored definitions for a staged version.
func (p *Pipeline) addApplied(version string, n int) {
	p.mu.Lock()
	p.applied[version] += n
	p.mu.Unlock()
}

// takeApplied returns the accumulated count for a version and forgets it.
func (p *Pipeline) takeApplied(version string) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	n := p.applied[version]
	delete(p.applied, version)
	return n
}

// Apply runs one payload. Any invalid definition aborts the whole payload
// with an error naming the offending file; nothing is enabled in that case.
// Re-publishing the token of the already-active version is a no-op.
func (p *Pipeline) Apply(ctx context.Context, payload Payload) (*Result, error) {
	if !catalog.TokenRegex.MatchString(payload.Version) {
		return nil, fmt.Errorf("%s - invalid version token %q", pipelineLogPrefix, payload.Version)
	}

	active, err := p.store.ActiveVersion(ctx)
	if err != nil {
		return nil, fmt.Errorf("%s - failed to read active version: %w", pipelineLogPrefix, err)
	}
	if active == payload.Version {
		slog.Info(fmt.Sprintf("%s - Version %s is already active, skipping", pipelineLogPrefix, payload.Version))
		return &Result{Version: payload.Version, Skipped: true}, nil
	}

	result := &Result{Version: payload.Version}
	for _, action := range payload.Actions {
		switch action.Task {
		case TaskCreate:
			if err := p.store.CreateVersion(ctx, payload.Version); err != nil {
				return nil, fmt.Errorf("%s - failed to create version %s: %w", pipelineLogPrefix, payload.Version, err)
			}
			p.resetApplied(payload.Version)

		case TaskPut:
			if action.Filename == "index.json" {
				continue
			}
			def, err := catalog.ParseDefinition([]byte(action.Data))
			if err != nil {
				// One bad file aborts the publication so a broken catalog
				// can never become active.
				return nil, fmt.Errorf("%s - invalid definition %s: %w", pipelineLogPrefix, action.Filename, err)
			}
			if err := p.store.CreateVersion(ctx, payload.Version); err != nil {
				return nil, fmt.Errorf("%s - failed to create version %s: %w", pipelineLogPrefix, payload.Version, err)
			}
			if err := p.store.InsertDefinition(ctx, payload.Version, def); err != nil {
				return nil, fmt.Errorf("%s - failed to store %s: %w", pipelineLogPrefix, action.Filename, err)
			}
			result.Applied++
			p.addApplied(payload.Version, 1)

		case TaskEnable:
			if err := p.store.EnableVersion(ctx, payload.Version); err != nil {
				return nil, fmt.Errorf("%s - failed to enable version %s: %w", pipelineLogPrefix, payload.Version, err)
			}
			result.Enabled = true

			event := &events.CatalogPublishedEvent{
				Version:   payload.Version,
				Previous:  active,
				FileCount: p.takeApplied(payload.Version),
				Timestamp: time.Now().UTC().Format(time.RFC3339),
			}
			if err := p.publisher.PublishCatalog(ctx, event); err != nil {
				// The cutover already happened; a lost event is not worth
				// failing the publication for.
				slog.Warn(fmt.Sprintf("%s - failed to publish catalog event: %v", pipelineLogPrefix, err))
			}
			slog.Info(fmt.Sprintf("%s - Catalog version %s enabled (was %q)", pipelineLogPrefix, payload.Version, active))

		default:
			return nil, fmt.Errorf("%s - unknown task %q", pipelineLogPrefix, action.Task)
		}

		// Enable is terminal; anything after it is ignored.
		if result.Enabled {
			break
		}
	}
	return result, nil
}
