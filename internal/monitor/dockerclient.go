package monitor

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"time"
)

// DefaultDockerSocket is the engine's local control socket.
const DefaultDockerSocket = "/var/run/docker.sock"

var errContainerNotFound = errors.New("container not found")

// containerState is the subset of the inspect response the monitor
// needs to classify a death.
type containerState struct {
	Status       string
	RestartCount int
	ExitCode     int
	OOMKilled    bool
	StartedAt    string
	FinishedAt   string
}

// engineEvent is one entry from the engine's event stream.
type engineEvent struct {
	Action string `json:"Action"`
	Actor  struct {
		Attributes map[string]string `json:"Attributes"`
	} `json:"Actor"`
}

// containerAPI abstracts the engine socket so the monitor can be tested
// against a fake.
type containerAPI interface {
	// Inspect returns the current state of the named container, or
	// errContainerNotFound.
	Inspect(ctx context.Context, name string) (*containerState, error)
	// Events opens a filtered live event stream. The returned reader
	// yields newline-separated JSON event objects until closed.
	Events(ctx context.Context, container string, kinds []string) (io.ReadCloser, error)
}

// engineClient talks to the container engine over its unix socket with
// a plain HTTP client. The pack carries no engine SDK; the two calls we
// need are small enough to speak directly.
type engineClient struct {
	httpc *http.Client
}

func newEngineClient(socketPath string) *engineClient {
	return &engineClient{
		httpc: &http.Client{
			Transport: &http.Transport{
				DialContext: func(ctx context.Context, _, _ string) (net.Conn, error) {
					var d net.Dialer
					return d.DialContext(ctx, "unix", socketPath)
				},
			},
			// No overall timeout: the event stream is long-lived.
		},
	}
}

func (c *engineClient) Inspect(ctx context.Context, name string) (*containerState, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet,
		"http://docker/containers/"+url.PathEscape(name)+"/json", nil)
	if err != nil {
		return nil, err
	}
	resp, err := c.httpc.Do(req)
	if err != nil {
		return nil, fmt.Errorf("inspect %s: %w", name, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return nil, errContainerNotFound
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("inspect %s: engine returned %d", name, resp.StatusCode)
	}

	var body struct {
		RestartCount int `json:"RestartCount"`
		State        struct {
			Status     string `json:"Status"`
			ExitCode   int    `json:"ExitCode"`
			OOMKilled  bool   `json:"OOMKilled"`
			StartedAt  string `json:"StartedAt"`
			FinishedAt string `json:"FinishedAt"`
		} `json:"State"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, fmt.Errorf("inspect %s: decode: %w", name, err)
	}
	return &containerState{
		Status:       body.State.Status,
		RestartCount: body.RestartCount,
		ExitCode:     body.State.ExitCode,
		OOMKilled:    body.State.OOMKilled,
		StartedAt:    body.State.StartedAt,
		FinishedAt:   body.State.FinishedAt,
	}, nil
}

func (c *engineClient) Events(ctx context.Context, container string, kinds []string) (io.ReadCloser, error) {
	filters := map[string][]string{
		"type":      {"container"},
		"container": {container},
		"event":     kinds,
	}
	raw, err := json.Marshal(filters)
	if err != nil {
		return nil, err
	}

	q := url.Values{}
	q.Set("filters", string(raw))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet,
		"http://docker/events?"+q.Encode(), nil)
	if err != nil {
		return nil, err
	}

	resp, err := c.httpc.Do(req)
	if err != nil {
		return nil, fmt.Errorf("event stream: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		resp.Body.Close()
		return nil, fmt.Errorf("event stream: engine returned %d", resp.StatusCode)
	}
	return resp.Body, nil
}

// timestamp formats event times the way alert metadata expects.
func timestamp(t time.Time) string {
	return t.UTC().Format("15:04:05 UTC")
}
