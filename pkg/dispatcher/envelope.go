// Package dispatcher routes incoming COMMS messages to registry methods.
package dispatcher

import "encoding/json"

// UpdateRequest is the JSON envelope for incoming COMMS registry requests.
type UpdateRequest struct {
	ID     string          `json:"id"`
	Method string          `json:"method"`
	Params json.RawMessage `json:"params"`
	// ETag is the validator from a previous response for the same resolution
	// query. When it still matches, the response carries no body and sets
	// NotModified instead.
	ETag string             `json:"etag,omitempty"`
	Ctx  *InvocationContext `json:"ctx,omitempty"`
}

// UpdateResponse is the JSON envelope for COMMS registry responses.
type UpdateResponse struct {
	ID     string      `json:"id"`
	Ok     bool        `json:"ok"`
	Result interface{} `json:"result,omitempty"`
	// ETag validates Result on resolution methods; send it back in
	// UpdateRequest.ETag to get a NotModified short-circuit.
	ETag        string       `json:"etag,omitempty"`
	NotModified bool         `json:"notModified,omitempty"`
	Error       *ErrorDetail `json:"error,omitempty"`
}

// ErrorDetail holds structured error information.
type ErrorDetail struct {
	Code      string      `json:"code"`
	Message   string      `json:"message"`
	Details   interface{} `json:"details,omitempty"`
	Retryable bool        `json:"retryable"`
}

// InvocationContext holds context from the caller.
type InvocationContext struct {
	RequestID string `json:"requestId,omitempty"`
	// APIKeyID identifies the caller for rate limiting; 0 is the anonymous
	// bucket.
	APIKeyID int `json:"apiKeyId,omitempty"`
	// RateLimit is the caller's allowance per window; 0 uses the default.
	RateLimit int `json:"rateLimit,omitempty"`
	// AdminSecret authorizes administrative methods.
	AdminSecret string `json:"adminSecret,omitempty"`
}
