package dispatcher

import (
	"context"
	"encoding/json"
	"fmt"
	"testing"
	"time"

	"github.com/updatefleet/firmware-registry/pkg/cache"
	"github.com/updatefleet/firmware-registry/pkg/db"
	"github.com/updatefleet/firmware-registry/pkg/publish"
	"github.com/updatefleet/firmware-registry/pkg/ratelimit"
	"github.com/updatefleet/firmware-registry/pkg/resolve"
	"github.com/updatefleet/firmware-registry/pkg/service"
)

const (
	testAdminSecret = "dispatch-test-secret"
	testIntegrity   = "sha256:0123456789abcdef0123456789abcdef0123456789abcdef0123456789abcdef"
)

func testDispatcher(t *testing.T, limiter *ratelimit.Limiter, defaultLimit int) *Dispatcher {
	t.Helper()
	svc := service.NewService(service.NewServiceParams{
		Store:   db.NewMemory(),
		Results: cache.NewMemory(),
		Config: service.Config{
			AdminSecret:      testAdminSecret,
			ResultTTL:        time.Minute,
			ActiveVersionTTL: time.Minute,
		},
	})
	return NewDispatcher(svc, limiter, defaultLimit)
}

func publishPayload() publish.Payload {
	definition := fmt.Sprintf(`{
		"devices": [{
			"brand": "Acme",
			"model": "Sensor 9",
			"manufacturerId": "0x1234",
			"productType": "0x0001",
			"productId": "0x00ab"
		}],
		"upgrades": [{
			"version": "2.0.0",
			"changelog": "Stable release",
			"url": "https://example.com/fw/2.0.0.bin",
			"integrity": "%s"
		}]
	}`, testIntegrity)
	return publish.Payload{
		Version: "ab12cd34",
		Actions: []publish.Action{
			{Task: publish.TaskCreate},
			{Task: publish.TaskPut, Filename: "acme/sensor9.json", Data: definition},
			{Task: publish.TaskEnable},
		},
	}
}

func mustPublish(t *testing.T, d *Dispatcher) {
	t.Helper()
	params, _ := json.Marshal(publishPayload())
	resp := d.Dispatch(context.Background(), &UpdateRequest{
		ID:     "pub-1",
		Method: "publishCatalog",
		Params: params,
		Ctx:    &InvocationContext{AdminSecret: testAdminSecret},
	})
	if !resp.Ok {
		t.Fatalf("dispatcher:dispatcher_test - publishCatalog failed: %+v", resp.Error)
	}
}

func updatesParams() json.RawMessage {
	params, _ := json.Marshal(service.UpdatesInput{DeviceInput: service.DeviceInput{
		ManufacturerID:  "0x1234",
		ProductType:     "0x0001",
		ProductID:       "0x00ab",
		FirmwareVersion: "1.0.0",
	}})
	return params
}

func TestDispatchUnknownMethod(t *testing.T) {
	d := testDispatcher(t, nil, 0)
	resp := d.Dispatch(context.Background(), &UpdateRequest{ID: "1", Method: "bogus"})
	if resp.Ok || resp.Error == nil || resp.Error.Code != "METHOD_NOT_FOUND" {
		t.Errorf("dispatcher:dispatcher_test - expected METHOD_NOT_FOUND, got %+v", resp)
	}
}

func TestDispatchInvalidParams(t *testing.T) {
	d := testDispatcher(t, nil, 0)
	resp := d.Dispatch(context.Background(), &UpdateRequest{
		ID:     "1",
		Method: "getUpdatesV2",
		Params: json.RawMessage("{not json"),
	})
	if resp.Ok || resp.Error.Code != "INVALID_ARGUMENT" {
		t.Errorf("dispatcher:dispatcher_test - expected INVALID_ARGUMENT, got %+v", resp)
	}
}

func TestDispatchGetUpdatesRoundTrip(t *testing.T) {
	d := testDispatcher(t, nil, 0)
	mustPublish(t, d)

	resp := d.Dispatch(context.Background(), &UpdateRequest{
		ID:     "2",
		Method: "getUpdatesV2",
		Params: updatesParams(),
	})
	if !resp.Ok {
		t.Fatalf("dispatcher:dispatcher_test - getUpdatesV2 failed: %+v", resp.Error)
	}
	updates, ok := resp.Result.([]resolve.Update)
	if !ok {
		t.Fatalf("dispatcher:dispatcher_test - unexpected result type %T", resp.Result)
	}
	if len(updates) != 1 || updates[0].Version != "2.0.0" {
		t.Errorf("dispatcher:dispatcher_test - unexpected updates: %+v", updates)
	}
}

func TestDispatchConditionalGet(t *testing.T) {
	d := testDispatcher(t, nil, 0)
	mustPublish(t, d)

	resp := d.Dispatch(context.Background(), &UpdateRequest{
		ID:     "cond-1",
		Method: "getUpdatesV2",
		Params: updatesParams(),
	})
	if !resp.Ok {
		t.Fatalf("dispatcher:dispatcher_test - getUpdatesV2 failed: %+v", resp.Error)
	}
	if resp.ETag == "" {
		t.Fatal("dispatcher:dispatcher_test - resolution responses must carry an etag")
	}
	if resp.NotModified {
		t.Error("dispatcher:dispatcher_test - first response must carry a body")
	}

	// Matching validator short-circuits to a bodyless reply.
	resp2 := d.Dispatch(context.Background(), &UpdateRequest{
		ID:     "cond-2",
		Method: "getUpdatesV2",
		Params: updatesParams(),
		ETag:   resp.ETag,
	})
	if !resp2.Ok || !resp2.NotModified {
		t.Fatalf("dispatcher:dispatcher_test - expected not-modified, got %+v", resp2)
	}
	if resp2.Result != nil {
		t.Errorf("dispatcher:dispatcher_test - not-modified must not carry a body: %+v", resp2.Result)
	}
	if resp2.ETag != resp.ETag {
		t.Errorf("dispatcher:dispatcher_test - etag changed: %q vs %q", resp2.ETag, resp.ETag)
	}

	// A stale validator gets the full body again.
	resp3 := d.Dispatch(context.Background(), &UpdateRequest{
		ID:     "cond-3",
		Method: "getUpdatesV2",
		Params: updatesParams(),
		ETag:   "0000000000000000000000000000000000000000000000000000000000000000",
	})
	if !resp3.Ok || resp3.NotModified {
		t.Fatalf("dispatcher:dispatcher_test - stale etag must get a body, got %+v", resp3)
	}
	if resp3.Result == nil {
		t.Error("dispatcher:dispatcher_test - stale etag response has no body")
	}
}

func TestDispatchConditionalGetBatch(t *testing.T) {
	d := testDispatcher(t, nil, 0)
	mustPublish(t, d)

	params, _ := json.Marshal(service.BatchUpdatesInput{Devices: []service.DeviceInput{{
		ManufacturerID:  "0x1234",
		ProductType:     "0x0001",
		ProductID:       "0x00ab",
		FirmwareVersion: "1.0.0",
	}}})

	resp := d.Dispatch(context.Background(), &UpdateRequest{
		ID:     "cond-batch-1",
		Method: "getUpdatesBatch",
		Params: params,
	})
	if !resp.Ok || resp.ETag == "" {
		t.Fatalf("dispatcher:dispatcher_test - batch response missing etag: %+v", resp)
	}

	resp2 := d.Dispatch(context.Background(), &UpdateRequest{
		ID:     "cond-batch-2",
		Method: "getUpdatesBatch",
		Params: params,
		ETag:   resp.ETag,
	})
	if !resp2.Ok || !resp2.NotModified || resp2.Result != nil {
		t.Errorf("dispatcher:dispatcher_test - expected bodyless not-modified, got %+v", resp2)
	}
}

func TestDispatchGetVersionRequiresSecret(t *testing.T) {
	d := testDispatcher(t, nil, 0)
	mustPublish(t, d)

	resp := d.Dispatch(context.Background(), &UpdateRequest{ID: "3", Method: "getVersion"})
	if resp.Ok || resp.Error.Code != "UNAUTHORIZED" {
		t.Errorf("dispatcher:dispatcher_test - expected UNAUTHORIZED, got %+v", resp)
	}

	resp = d.Dispatch(context.Background(), &UpdateRequest{
		ID:     "4",
		Method: "getVersion",
		Ctx:    &InvocationContext{AdminSecret: testAdminSecret},
	})
	if !resp.Ok {
		t.Fatalf("dispatcher:dispatcher_test - getVersion failed: %+v", resp.Error)
	}
	version, ok := resp.Result.(*service.VersionOutput)
	if !ok || version.Version != "ab12cd34" {
		t.Errorf("dispatcher:dispatcher_test - unexpected version result: %+v", resp.Result)
	}
}

func TestDispatchRateLimit(t *testing.T) {
	d := testDispatcher(t, ratelimit.New(time.Hour), 2)
	mustPublish(t, d)

	for i := 0; i < 2; i++ {
		resp := d.Dispatch(context.Background(), &UpdateRequest{
			ID:     fmt.Sprintf("rl-%d", i),
			Method: "getUpdatesV2",
			Params: updatesParams(),
			Ctx:    &InvocationContext{APIKeyID: 7},
		})
		if !resp.Ok {
			t.Fatalf("dispatcher:dispatcher_test - request %d should pass: %+v", i, resp.Error)
		}
	}

	resp := d.Dispatch(context.Background(), &UpdateRequest{
		ID:     "rl-3",
		Method: "getUpdatesV2",
		Params: updatesParams(),
		Ctx:    &InvocationContext{APIKeyID: 7},
	})
	if resp.Ok || resp.Error.Code != "RATE_LIMITED" {
		t.Fatalf("dispatcher:dispatcher_test - expected RATE_LIMITED, got %+v", resp)
	}
	if !resp.Error.Retryable {
		t.Errorf("dispatcher:dispatcher_test - rate limit errors must be retryable")
	}

	// Another key still has budget.
	resp = d.Dispatch(context.Background(), &UpdateRequest{
		ID:     "rl-4",
		Method: "getUpdatesV2",
		Params: updatesParams(),
		Ctx:    &InvocationContext{APIKeyID: 8},
	})
	if !resp.Ok {
		t.Errorf("dispatcher:dispatcher_test - other key must not be limited: %+v", resp.Error)
	}
}

func TestDispatchAdminMethodsBypassRateLimit(t *testing.T) {
	d := testDispatcher(t, ratelimit.New(time.Hour), 1)
	mustPublish(t, d)

	// The publish above did not consume resolution budget; health and
	// getVersion never do either.
	for i := 0; i < 3; i++ {
		resp := d.Dispatch(context.Background(), &UpdateRequest{
			ID:     fmt.Sprintf("h-%d", i),
			Method: "health",
		})
		if !resp.Ok {
			t.Fatalf("dispatcher:dispatcher_test - health must not be rate limited: %+v", resp.Error)
		}
	}
}

func TestDispatchHealth(t *testing.T) {
	d := testDispatcher(t, nil, 0)
	resp := d.Dispatch(context.Background(), &UpdateRequest{ID: "5", Method: "health"})
	if !resp.Ok {
		t.Fatalf("dispatcher:dispatcher_test - health failed: %+v", resp.Error)
	}
	health, ok := resp.Result.(*service.HealthOutput)
	if !ok || health.Status != "healthy" {
		t.Errorf("dispatcher:dispatcher_test - unexpected health result: %+v", resp.Result)
	}
}
