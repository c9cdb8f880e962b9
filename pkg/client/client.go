// Package client talks to simulator workers: a REST client for the control
// API and a websocket session for the driver-style worker endpoint.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/pkg/errors"

	"github.com/hypervideo/client-simulator/internal/common/simerrors"
	"github.com/hypervideo/client-simulator/pkg/api"
)

const DefaultRequestTimeout = 30 * time.Second

// Client is a REST client for one worker's control gateway.
type Client struct {
	baseUrl    string
	httpClient *http.Client
}

func New(baseUrl string) *Client {
	return &Client{
		baseUrl:    strings.TrimSuffix(baseUrl, "/"),
		httpClient: &http.Client{Timeout: DefaultRequestTimeout},
	}
}

// Spawn creates a participant on the worker and returns its initial
// snapshot.
func (c *Client) Spawn(ctx context.Context, spec api.ParticipantSpec) (api.ParticipantState, error) {
	var state api.ParticipantState
	err := c.do(ctx, http.MethodPost, "/api/v1/participants", spec, &state)
	return state, err
}

// Send delivers a command to one participant.
func (c *Client) Send(ctx context.Context, id string, cmd api.Command) error {
	return c.do(ctx, http.MethodPost, fmt.Sprintf("/api/v1/participants/%s/command", id), cmd, nil)
}

// Get fetches one participant's snapshot.
func (c *Client) Get(ctx context.Context, id string) (api.ParticipantState, error) {
	var state api.ParticipantState
	err := c.do(ctx, http.MethodGet, "/api/v1/participants/"+id, nil, &state)
	return state, err
}

// List fetches the snapshots of every participant on the worker.
func (c *Client) List(ctx context.Context) ([]api.ParticipantState, error) {
	var states []api.ParticipantState
	err := c.do(ctx, http.MethodGet, "/api/v1/participants", nil, &states)
	return states, err
}

// Close closes one participant. Closing an unknown or already closed
// participant succeeds.
func (c *Client) Close(ctx context.Context, id string) error {
	return c.do(ctx, http.MethodDelete, "/api/v1/participants/"+id, nil, nil)
}

func (c *Client) do(ctx context.Context, method, path string, body interface{}, into interface{}) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return errors.WithStack(err)
		}
		reader = bytes.NewReader(data)
	}

	request, err := http.NewRequestWithContext(ctx, method, c.baseUrl+path, reader)
	if err != nil {
		return errors.WithStack(err)
	}
	if body != nil {
		request.Header.Set("Content-Type", "application/json")
	}

	response, err := c.httpClient.Do(request)
	if err != nil {
		return errors.WithStack(&simerrors.ErrUnreachable{Endpoint: c.baseUrl, Message: err.Error()})
	}
	defer response.Body.Close()

	if response.StatusCode >= 400 {
		return errorFromResponse(c.baseUrl, response)
	}
	if into != nil {
		if err := json.NewDecoder(response.Body).Decode(into); err != nil {
			return errors.Wrapf(err, "unparseable response from %s", c.baseUrl)
		}
	}
	return nil
}

// errorFromResponse reconstructs a typed error from the gateway's status
// code and error body, so callers can errors.As on client results the same
// way they would on in-process ones.
func errorFromResponse(endpoint string, response *http.Response) error {
	var body struct {
		Error string `json:"error"`
	}
	message := response.Status
	if err := json.NewDecoder(response.Body).Decode(&body); err == nil && body.Error != "" {
		message = body.Error
	}

	switch response.StatusCode {
	case http.StatusBadRequest:
		return errors.WithStack(&simerrors.ErrInvalidArgument{Name: "request", Value: "", Message: message})
	case http.StatusNotFound:
		return errors.WithStack(&simerrors.ErrNotFound{Message: message})
	case http.StatusConflict:
		return errors.WithStack(&simerrors.ErrInvalidState{Message: message})
	case http.StatusGone:
		return errors.WithStack(&simerrors.ErrInvalidState{Terminal: true, Message: message})
	case http.StatusBadGateway:
		return errors.WithStack(&simerrors.ErrUnreachable{Endpoint: endpoint, Message: message})
	case http.StatusGatewayTimeout:
		return errors.WithStack(&simerrors.ErrTimeout{Op: message})
	default:
		return errors.WithStack(&simerrors.ErrInternal{Message: message})
	}
}
