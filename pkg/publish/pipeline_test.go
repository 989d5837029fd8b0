package publish

import (
	"context"
	"fmt"
	"strings"
	"testing"

	"github.com/updatefleet/firmware-registry/pkg/catalog"
	"github.com/updatefleet/firmware-registry/pkg/db"
	"github.com/updatefleet/firmware-registry/pkg/events"
)

const integritySuffix = "0123456789abcdef0123456789abcdef0123456789abcdef0123456789abcdef"

func validDefinition() string {
	return fmt.Sprintf(`{
		"devices": [{
			"brand": "Acme",
			"model": "Sensor 9",
			"manufacturerId": "0x1234",
			"productType": "0x0001",
			"productId": "0x00ab"
		}],
		"upgrades": [{
			"version": "1.7.0",
			"changelog": "Fixes",
			"url": "https://example.com/fw/1.7.0.bin",
			"integrity": "sha256:%s"
		}]
	}`, integritySuffix)
}

func TestPipelineApplyPublishes(t *testing.T) {
	ctx := context.Background()
	store := db.NewMemory()
	var published []*events.CatalogPublishedEvent
	pub := events.NewCallbackPublisher(func(_ context.Context, e *events.CatalogPublishedEvent) error {
		published = append(published, e)
		return nil
	})
	pipeline := NewPipeline(store, pub)

	result, err := pipeline.Apply(ctx, Payload{
		Version: "ab12cd34",
		Actions: []Action{
			{Task: TaskCreate},
			{Task: TaskPut, Filename: "acme/sensor9.json", Data: validDefinition()},
			{Task: TaskEnable},
		},
	})
	if err != nil {
		t.Fatalf("publish:pipeline_test - Apply failed: %v", err)
	}
	if !result.Enabled || result.Applied != 1 {
		t.Errorf("publish:pipeline_test - unexpected result: %+v", result)
	}

	active, err := store.ActiveVersion(ctx)
	if err != nil {
		t.Fatalf("publish:pipeline_test - ActiveVersion failed: %v", err)
	}
	if active != "ab12cd34" {
		t.Errorf("publish:pipeline_test - expected active ab12cd34, got %q", active)
	}

	if len(published) != 1 {
		t.Fatalf("publish:pipeline_test - expected 1 event, got %d", len(published))
	}
	if published[0].Version != "ab12cd34" || published[0].Previous != "" {
		t.Errorf("publish:pipeline_test - bad event: %+v", published[0])
	}
}

func TestPipelineInvalidFileAborts(t *testing.T) {
	ctx := context.Background()
	store := db.NewMemory()
	pipeline := NewPipeline(store, nil)

	_, err := pipeline.Apply(ctx, Payload{
		Version: "ab12cd34",
		Actions: []Action{
			{Task: TaskCreate},
			{Task: TaskPut, Filename: "acme/broken.json", Data: `{"devices": [], "upgrades": []}`},
			{Task: TaskEnable},
		},
	})
	if err == nil {
		t.Fatalf("publish:pipeline_test - invalid definition must abort the publication")
	}
	if !strings.Contains(err.Error(), "acme/broken.json") {
		t.Errorf("publish:pipeline_test - error must name the offending file: %v", err)
	}

	// Nothing was enabled.
	active, aerr := store.ActiveVersion(ctx)
	if aerr != nil {
		t.Fatalf("publish:pipeline_test - ActiveVersion failed: %v", aerr)
	}
	if active != "" {
		t.Errorf("publish:pipeline_test - aborted publication must not enable, active=%q", active)
	}
}

func TestPipelineSkipsActiveVersion(t *testing.T) {
	ctx := context.Background()
	store := db.NewMemory()
	eventCount := 0
	pub := events.NewCallbackPublisher(func(context.Context, *events.CatalogPublishedEvent) error {
		eventCount++
		return nil
	})
	pipeline := NewPipeline(store, pub)

	payload := Payload{
		Version: "ab12cd34",
		Actions: []Action{
			{Task: TaskCreate},
			{Task: TaskPut, Filename: "acme/sensor9.json", Data: validDefinition()},
			{Task: TaskEnable},
		},
	}
	if _, err := pipeline.Apply(ctx, payload); err != nil {
		t.Fatalf("publish:pipeline_test - first Apply failed: %v", err)
	}

	result, err := pipeline.Apply(ctx, payload)
	if err != nil {
		t.Fatalf("publish:pipeline_test - second Apply failed: %v", err)
	}
	if !result.Skipped || result.Enabled || result.Applied != 0 {
		t.Errorf("publish:pipeline_test - re-publishing the active token must be a no-op: %+v", result)
	}
	if eventCount != 1 {
		t.Errorf("publish:pipeline_test - skip must not emit an event, got %d", eventCount)
	}
}

func TestPipelineChunkedPublicationEventFileCount(t *testing.T) {
	ctx := context.Background()
	store := db.NewMemory()
	var published []*events.CatalogPublishedEvent
	pub := events.NewCallbackPublisher(func(_ context.Context, e *events.CatalogPublishedEvent) error {
		published = append(published, e)
		return nil
	})
	pipeline := NewPipeline(store, pub)

	// A large catalog arrives as separate payloads; the enable payload
	// carries no puts of its own.
	payloads := []Payload{
		{Version: "ab12cd34", Actions: []Action{
			{Task: TaskCreate},
			{Task: TaskPut, Filename: "acme/sensor9.json", Data: validDefinition()},
			{Task: TaskPut, Filename: "acme/sensor10.json", Data: validDefinition()},
		}},
		{Version: "ab12cd34", Actions: []Action{
			{Task: TaskPut, Filename: "acme/sensor11.json", Data: validDefinition()},
		}},
		{Version: "ab12cd34", Actions: []Action{
			{Task: TaskEnable},
		}},
	}
	for i, payload := range payloads {
		if _, err := pipeline.Apply(ctx, payload); err != nil {
			t.Fatalf("publish:pipeline_test - Apply payload %d failed: %v", i, err)
		}
	}

	if len(published) != 1 {
		t.Fatalf("publish:pipeline_test - expected 1 event, got %d", len(published))
	}
	if published[0].FileCount != 3 {
		t.Errorf("publish:pipeline_test - event must count the whole catalog, FileCount=%d", published[0].FileCount)
	}
}

func TestPipelineEnableIsTerminal(t *testing.T) {
	ctx := context.Background()
	store := db.NewMemory()
	pipeline := NewPipeline(store, nil)

	result, err := pipeline.Apply(ctx, Payload{
		Version: "ab12cd34",
		Actions: []Action{
			{Task: TaskCreate},
			{Task: TaskEnable},
			// Anything after enable is ignored, even a broken file.
			{Task: TaskPut, Filename: "acme/late.json", Data: "not json"},
		},
	})
	if err != nil {
		t.Fatalf("publish:pipeline_test - Apply failed: %v", err)
	}
	if !result.Enabled || result.Applied != 0 {
		t.Errorf("publish:pipeline_test - unexpected result: %+v", result)
	}
}

func TestPipelineSkipsIndexFile(t *testing.T) {
	ctx := context.Background()
	store := db.NewMemory()
	pipeline := NewPipeline(store, nil)

	result, err := pipeline.Apply(ctx, Payload{
		Version: "ab12cd34",
		Actions: []Action{
			{Task: TaskCreate},
			{Task: TaskPut, Filename: "index.json", Data: "[]"},
			{Task: TaskPut, Filename: "acme/sensor9.json", Data: validDefinition()},
		},
	})
	if err != nil {
		t.Fatalf("publish:pipeline_test - Apply failed: %v", err)
	}
	if result.Applied != 1 {
		t.Errorf("publish:pipeline_test - index.json must not count as a definition, applied=%d", result.Applied)
	}
}

func TestPipelineRejectsBadToken(t *testing.T) {
	pipeline := NewPipeline(db.NewMemory(), nil)
	for _, version := range []string{"", "xyz", "AB12CD34", "ab12cd345"} {
		if _, err := pipeline.Apply(context.Background(), Payload{Version: version}); err == nil {
			t.Errorf("publish:pipeline_test - token %q must be rejected", version)
		}
	}
}

func TestPipelineCutoverRetiresPreviousVersion(t *testing.T) {
	ctx := context.Background()
	store := db.NewMemory()
	pipeline := NewPipeline(store, nil)

	for _, version := range []string{"aaaa0001", "bbbb0002"} {
		_, err := pipeline.Apply(ctx, Payload{
			Version: version,
			Actions: []Action{
				{Task: TaskCreate},
				{Task: TaskPut, Filename: "acme/sensor9.json", Data: validDefinition()},
				{Task: TaskEnable},
			},
		})
		if err != nil {
			t.Fatalf("publish:pipeline_test - Apply(%s) failed: %v", version, err)
		}
	}

	versions, err := store.ListVersions(ctx)
	if err != nil {
		t.Fatalf("publish:pipeline_test - ListVersions failed: %v", err)
	}
	if len(versions) != 1 || versions[0].Version != "bbbb0002" {
		t.Errorf("publish:pipeline_test - previous version must be retired, got %+v", versions)
	}

	matches, err := store.MatchDevices(ctx, "bbbb0002", []catalog.Fingerprint{{
		ManufacturerID:  0x1234,
		ProductType:     0x0001,
		ProductID:       0x00ab,
		FirmwareVersion: "1.0.0",
	}})
	if err != nil {
		t.Fatalf("publish:pipeline_test - MatchDevices failed: %v", err)
	}
	if len(matches[0]) != 1 {
		t.Errorf("publish:pipeline_test - new version must serve lookups, got %d devices", len(matches[0]))
	}
}
