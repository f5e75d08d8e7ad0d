package backend

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/go-resty/resty/v2"

	"github.com/davteix/sirenwatch/internal/infrastructure/config"
	"github.com/davteix/sirenwatch/internal/infrastructure/logging"
	"github.com/davteix/sirenwatch/internal/siren"
)

// Client talks to the backend REST API. It implements
// siren.SnapshotClient and siren.CommandClient.
type Client struct {
	http *resty.Client
	log  *logging.Logger
}

// NewClient creates a backend client from configuration.
func NewClient(cfg config.BackendConfig, log *logging.Logger) *Client {
	timeout := time.Duration(cfg.TimeoutSeconds) * time.Second
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	httpClient := resty.New().
		SetBaseURL(cfg.BaseURL).
		SetAuthToken(cfg.AccessToken).
		SetTimeout(timeout).
		SetRetryCount(cfg.RetryCount).
		SetRetryWaitTime(500 * time.Millisecond).
		SetRetryMaxWaitTime(3 * time.Second).
		SetHeader("Accept", "application/json").
		AddRetryCondition(func(resp *resty.Response, err error) bool {
			// Only snapshot reads retry; commands must go out exactly once.
			if resp != nil && resp.Request.Method != http.MethodGet {
				return false
			}
			return err != nil || (resp != nil && resp.StatusCode() >= http.StatusInternalServerError)
		})

	return &Client{http: httpClient, log: log}
}

// ListSirens fetches the registered device metadata snapshot.
func (c *Client) ListSirens(ctx context.Context) ([]siren.Meta, error) {
	var metas []siren.Meta
	resp, err := c.http.R().
		SetContext(ctx).
		SetResult(&metas).
		Get("/sirens")
	if err != nil {
		return nil, fmt.Errorf("listing sirens: %w", err)
	}
	if err := checkStatus(resp); err != nil {
		return nil, fmt.Errorf("listing sirens: %w", err)
	}

	c.log.Debug("siren snapshot fetched", "count", len(metas))
	return metas, nil
}

// LastStates fetches the last-known states for every device. The
// endpoint is optional on older backends: a 404 yields an empty set and
// no error, matching its best-effort role.
func (c *Client) LastStates(ctx context.Context) ([]siren.LastState, error) {
	var states []siren.LastState
	resp, err := c.http.R().
		SetContext(ctx).
		SetResult(&states).
		Get("/mqtt/state")
	if err != nil {
		return nil, fmt.Errorf("listing last states: %w", err)
	}
	if resp.StatusCode() == http.StatusNotFound {
		c.log.Debug("last-state endpoint not available, skipping enrichment")
		return nil, nil
	}
	if err := checkStatus(resp); err != nil {
		return nil, fmt.Errorf("listing last states: %w", err)
	}
	return states, nil
}

// LastState fetches the last-known state of one device. ErrNotFound
// means the backend has never heard from it.
func (c *Client) LastState(ctx context.Context, deviceID string) (*siren.LastState, error) {
	var state siren.LastState
	resp, err := c.http.R().
		SetContext(ctx).
		SetResult(&state).
		SetPathParam("deviceId", deviceID).
		Get("/mqtt/state/{deviceId}")
	if err != nil {
		return nil, fmt.Errorf("fetching state for %s: %w", deviceID, err)
	}
	if err := checkStatus(resp); err != nil {
		return nil, fmt.Errorf("fetching state for %s: %w", deviceID, err)
	}
	return &state, nil
}

// commandBody is the wire shape of a command post.
type commandBody struct {
	Action string `json:"action"`
	TTLMs  int64  `json:"ttlMs"`
	Cause  string `json:"cause"`
	CmdID  string `json:"cmdId,omitempty"`
}

// SendCommand posts a device command. A 2xx means the backend queued
// it; the device's acknowledgement arrives on the realtime channel.
func (c *Client) SendCommand(ctx context.Context, cmd siren.Command) error {
	body := commandBody{
		Action: string(cmd.Action),
		TTLMs:  cmd.TTL.Milliseconds(),
		Cause:  string(cmd.Cause),
		CmdID:  cmd.CmdID,
	}

	resp, err := c.http.R().
		SetContext(ctx).
		SetBody(body).
		SetPathParam("deviceId", cmd.DeviceID).
		Post("/devices/{deviceId}/cmd")
	if err != nil {
		return fmt.Errorf("sending %s to %s: %w", cmd.Action, cmd.DeviceID, err)
	}
	if err := checkStatus(resp); err != nil {
		return fmt.Errorf("sending %s to %s: %w", cmd.Action, cmd.DeviceID, err)
	}

	c.log.Debug("command accepted by backend", "device_id", cmd.DeviceID, "action", string(cmd.Action))
	return nil
}

// checkStatus maps HTTP status codes onto the package sentinels.
func checkStatus(resp *resty.Response) error {
	switch {
	case resp.IsSuccess():
		return nil
	case resp.StatusCode() == http.StatusUnauthorized, resp.StatusCode() == http.StatusForbidden:
		return fmt.Errorf("%w: %s", ErrUnauthorized, resp.Status())
	case resp.StatusCode() == http.StatusNotFound:
		return fmt.Errorf("%w: %s", ErrNotFound, resp.Status())
	default:
		return fmt.Errorf("%w: %s", ErrBadStatus, resp.Status())
	}
}
