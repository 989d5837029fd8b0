package main

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	comms "github.com/nats-io/nats.go"

	"github.com/updatefleet/firmware-registry/internal/config"
	"github.com/updatefleet/firmware-registry/pkg/commsutil"
	"github.com/updatefleet/firmware-registry/pkg/dispatcher"
	"github.com/updatefleet/firmware-registry/pkg/publish"
)

// registryClient sends admin requests to a running registry over NATS.
type registryClient struct {
	nc          *comms.Conn
	subject     string
	adminSecret string
}

func newRegistryClient(cfg *config.Config) (*registryClient, error) {
	subject := cfg.UpdatesSubject
	if subject == "" {
		subject = commsutil.SubjectUpdates
	}
	nc, err := commsutil.Connect(cfg.COMMSURL, cfg.COMMSName+"-cli")
	if err != nil {
		return nil, fmt.Errorf("connect to NATS: %w", err)
	}
	return &registryClient{nc: nc, subject: subject, adminSecret: cfg.AdminSecret}, nil
}

func (c *registryClient) Close() {
	c.nc.Close()
}

// request performs one request/reply round trip and unmarshals the result.
func (c *registryClient) request(ctx context.Context, method string, params interface{}, result interface{}) error {
	var rawParams json.RawMessage
	if params != nil {
		data, err := json.Marshal(params)
		if err != nil {
			return fmt.Errorf("encode %s params: %w", method, err)
		}
		rawParams = data
	}

	req := dispatcher.UpdateRequest{
		ID:     uuid.NewString(),
		Method: method,
		Params: rawParams,
		Ctx:    &dispatcher.InvocationContext{AdminSecret: c.adminSecret},
	}
	data, err := json.Marshal(req)
	if err != nil {
		return fmt.Errorf("encode %s request: %w", method, err)
	}

	msg, err := c.nc.RequestWithContext(ctx, c.subject, data)
	if err != nil {
		return fmt.Errorf("%s request failed: %w", method, err)
	}

	var resp struct {
		Ok     bool                    `json:"ok"`
		Result json.RawMessage         `json:"result"`
		Error  *dispatcher.ErrorDetail `json:"error"`
	}
	if err := json.Unmarshal(msg.Data, &resp); err != nil {
		return fmt.Errorf("decode %s response: %w", method, err)
	}
	if !resp.Ok {
		if resp.Error != nil {
			return fmt.Errorf("%s rejected: %s: %s", method, resp.Error.Code, resp.Error.Message)
		}
		return fmt.Errorf("%s rejected without error detail", method)
	}
	if result != nil && len(resp.Result) > 0 {
		if err := json.Unmarshal(resp.Result, result); err != nil {
			return fmt.Errorf("decode %s result: %w", method, err)
		}
	}
	return nil
}

// sendPublish is the publish.Sender over this client.
func (c *registryClient) sendPublish(ctx context.Context, payload publish.Payload) (*publish.Result, error) {
	var result publish.Result
	if err := c.request(ctx, "publishCatalog", payload, &result); err != nil {
		return nil, err
	}
	return &result, nil
}
