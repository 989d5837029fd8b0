package dispatcher

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/updatefleet/firmware-registry/pkg/cache"
	"github.com/updatefleet/firmware-registry/pkg/publish"
	"github.com/updatefleet/firmware-registry/pkg/ratelimit"
	"github.com/updatefleet/firmware-registry/pkg/resolve"
	"github.com/updatefleet/firmware-registry/pkg/service"
)

const logPrefix = "dispatcher:dispatch"

// Dispatcher routes COMMS requests to service methods.
type Dispatcher struct {
	service          *service.Service
	limiter          *ratelimit.Limiter
	defaultRateLimit int
}

// NewDispatcher creates a new Dispatcher. limiter may be nil to disable rate
// limiting; defaultRateLimit applies to callers that do not carry their own
// allowance.
func NewDispatcher(svc *service.Service, limiter *ratelimit.Limiter, defaultRateLimit int) *Dispatcher {
	return &Dispatcher{service: svc, limiter: limiter, defaultRateLimit: defaultRateLimit}
}

// Dispatch routes a request to the appropriate service method and returns a response.
func (d *Dispatcher) Dispatch(ctx context.Context, req *UpdateRequest) *UpdateResponse {
	slog.Debug(fmt.Sprintf("%s - method=%s id=%s", logPrefix, req.Method, req.ID))

	switch req.Method {
	case "getUpdates":
		return d.handleGetUpdates(ctx, req, resolve.GenV1)
	case "getUpdatesV2":
		return d.handleGetUpdates(ctx, req, resolve.GenV2)
	case "getUpdatesV3":
		return d.handleGetUpdates(ctx, req, resolve.GenV3)
	case "getUpdatesBatch":
		return d.handleGetUpdatesBatch(ctx, req)
	case "getVersion":
		return d.handleGetVersion(ctx, req)
	case "publishCatalog":
		return d.handlePublishCatalog(ctx, req)
	case "health":
		return d.handleHealth(ctx, req)
	default:
		return &UpdateResponse{
			ID: req.ID,
			Ok: false,
			Error: &ErrorDetail{
				Code:      "METHOD_NOT_FOUND",
				Message:   fmt.Sprintf("Unknown method: %s", req.Method),
				Retryable: false,
			},
		}
	}
}

func (d *Dispatcher) handleGetUpdates(ctx context.Context, req *UpdateRequest, gen resolve.Generation) *UpdateResponse {
	if resp := d.checkRateLimit(req); resp != nil {
		return resp
	}

	var input service.UpdatesInput
	if err := json.Unmarshal(req.Params, &input); err != nil {
		return errorResponse(req.ID, "INVALID_ARGUMENT", "Failed to parse getUpdates params", false)
	}

	result, err := d.service.GetUpdates(ctx, &input, gen)
	if err != nil {
		return serviceErrorToResponse(req.ID, err)
	}
	// The wire format of the single-device generations is the bare list.
	return conditionalResponse(req, result.Updates)
}

func (d *Dispatcher) handleGetUpdatesBatch(ctx context.Context, req *UpdateRequest) *UpdateResponse {
	if resp := d.checkRateLimit(req); resp != nil {
		return resp
	}

	var input service.BatchUpdatesInput
	if err := json.Unmarshal(req.Params, &input); err != nil {
		return errorResponse(req.ID, "INVALID_ARGUMENT", "Failed to parse getUpdatesBatch params", false)
	}

	result, err := d.service.GetUpdatesBatch(ctx, &input)
	if err != nil {
		return serviceErrorToResponse(req.ID, err)
	}
	return conditionalResponse(req, result.Devices)
}

func (d *Dispatcher) handleGetVersion(ctx context.Context, req *UpdateRequest) *UpdateResponse {
	result, err := d.service.GetVersion(ctx, adminSecret(req))
	if err != nil {
		return serviceErrorToResponse(req.ID, err)
	}
	return &UpdateResponse{ID: req.ID, Ok: true, Result: result}
}

func (d *Dispatcher) handlePublishCatalog(ctx context.Context, req *UpdateRequest) *UpdateResponse {
	var payload publish.Payload
	if err := json.Unmarshal(req.Params, &payload); err != nil {
		return errorResponse(req.ID, "INVALID_ARGUMENT", "Failed to parse publishCatalog params", false)
	}

	result, err := d.service.PublishCatalog(ctx, &payload, adminSecret(req))
	if err != nil {
		return serviceErrorToResponse(req.ID, err)
	}
	return &UpdateResponse{ID: req.ID, Ok: true, Result: result}
}

func (d *Dispatcher) handleHealth(ctx context.Context, req *UpdateRequest) *UpdateResponse {
	result := d.service.Health(ctx)
	return &UpdateResponse{ID: req.ID, Ok: true, Result: result}
}

// checkRateLimit consumes one unit of the caller's budget for resolution
// methods and returns a RATE_LIMITED response when it is exhausted.
func (d *Dispatcher) checkRateLimit(req *UpdateRequest) *UpdateResponse {
	if d.limiter == nil {
		return nil
	}

	keyID := 0
	max := d.defaultRateLimit
	if req.Ctx != nil {
		keyID = req.Ctx.APIKeyID
		if req.Ctx.RateLimit > 0 {
			max = req.Ctx.RateLimit
		}
	}
	if max <= 0 {
		return nil
	}

	res := d.limiter.Request(strconv.Itoa(keyID), max)
	if res.Allowed {
		return nil
	}
	return &UpdateResponse{
		ID: req.ID,
		Ok: false,
		Error: &ErrorDetail{
			Code:      "RATE_LIMITED",
			Message:   "Rate limit exceeded",
			Details:   map[string]interface{}{"resetAt": res.ResetAt.UTC().Format(time.RFC3339)},
			Retryable: true,
		},
	}
}

// --- helpers ---

// conditionalResponse tags a resolution result with its validator. When the
// caller already holds a matching validator, the body is dropped and the
// response only signals "not modified".
func conditionalResponse(req *UpdateRequest, result interface{}) *UpdateResponse {
	body, err := json.Marshal(result)
	if err != nil {
		return errorResponse(req.ID, "INTERNAL_ERROR", "Failed to encode result", true)
	}
	etag := cache.ETag(body)
	if req.ETag != "" && req.ETag == etag {
		return &UpdateResponse{ID: req.ID, Ok: true, NotModified: true, ETag: etag}
	}
	return &UpdateResponse{ID: req.ID, Ok: true, Result: result, ETag: etag}
}

func adminSecret(req *UpdateRequest) string {
	if req.Ctx == nil {
		return ""
	}
	return req.Ctx.AdminSecret
}

func errorResponse(id, code, message string, retryable bool) *UpdateResponse {
	return &UpdateResponse{
		ID: id,
		Ok: false,
		Error: &ErrorDetail{
			Code:      code,
			Message:   message,
			Retryable: retryable,
		},
	}
}

func serviceErrorToResponse(id string, err error) *UpdateResponse {
	if svcErr, ok := err.(*service.ServiceError); ok {
		retryable := svcErr.Code == "INTERNAL_ERROR" || svcErr.Code == "RATE_LIMITED"
		return &UpdateResponse{
			ID: id,
			Ok: false,
			Error: &ErrorDetail{
				Code:      svcErr.Code,
				Message:   svcErr.Message,
				Details:   svcErr.Details,
				Retryable: retryable,
			},
		}
	}
	return errorResponse(id, "INTERNAL_ERROR", err.Error(), true)
}
