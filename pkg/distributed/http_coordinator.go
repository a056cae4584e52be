package distributed

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	json "github.com/goccy/go-json"

	"github.com/ajitpratap0/ballast/pkg/errors"
)

// HTTPCoordinator talks to a shared coordination service over HTTP. Every
// call carries a bounded timeout; any transport or status failure surfaces
// as a coordination error for the manager to degrade on.
//
// Wire surface, all under {endpoint}/v1/{namespace}:
//
//	POST /register   {"instance_id": ..., "ttl_seconds": ...}
//	POST /heartbeat  {"instance_id": ...}
//	GET  /leader     -> {"instance_id": ...}
//	POST /publish    Snapshot
//	GET  /members    -> [FleetMember]
type HTTPCoordinator struct {
	base    string
	client  *http.Client
	timeout time.Duration
}

// NewHTTPCoordinator creates the HTTP backend. The namespace isolates
// fleets sharing one service.
func NewHTTPCoordinator(endpoint, namespace string, timeout time.Duration) *HTTPCoordinator {
	if timeout <= 0 {
		timeout = 2 * time.Second
	}
	return &HTTPCoordinator{
		base: fmt.Sprintf("%s/v1/%s", strings.TrimRight(endpoint, "/"), namespace),
		client: &http.Client{
			Timeout: timeout,
		},
		timeout: timeout,
	}
}

type registerBody struct {
	InstanceID string `json:"instance_id"`
	TTLSeconds int64  `json:"ttl_seconds"`
}

type heartbeatBody struct {
	InstanceID string `json:"instance_id"`
}

type leaderBody struct {
	InstanceID string `json:"instance_id"`
}

// Register implements Coordinator
func (h *HTTPCoordinator) Register(ctx context.Context, instanceID string, ttl time.Duration) error {
	return h.post(ctx, "/register", registerBody{
		InstanceID: instanceID,
		TTLSeconds: int64(ttl.Seconds()),
	}, nil)
}

// Heartbeat implements Coordinator
func (h *HTTPCoordinator) Heartbeat(ctx context.Context, instanceID string) error {
	return h.post(ctx, "/heartbeat", heartbeatBody{InstanceID: instanceID}, nil)
}

// ElectLeader implements Coordinator
func (h *HTTPCoordinator) ElectLeader(ctx context.Context) (string, error) {
	var body leaderBody
	if err := h.get(ctx, "/leader", &body); err != nil {
		return "", err
	}
	return body.InstanceID, nil
}

// Publish implements Coordinator
func (h *HTTPCoordinator) Publish(ctx context.Context, snap Snapshot) error {
	return h.post(ctx, "/publish", snap, nil)
}

// Fetch implements Coordinator
func (h *HTTPCoordinator) Fetch(ctx context.Context) ([]FleetMember, error) {
	var members []FleetMember
	if err := h.get(ctx, "/members", &members); err != nil {
		return nil, err
	}
	return members, nil
}

// Close implements Coordinator
func (h *HTTPCoordinator) Close() error {
	h.client.CloseIdleConnections()
	return nil
}

func (h *HTTPCoordinator) post(ctx context.Context, path string, in, out any) error {
	payload, err := json.Marshal(in)
	if err != nil {
		return errors.Wrap(err, errors.ErrorTypeCoordination, "encode request")
	}

	ctx, cancel := context.WithTimeout(ctx, h.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, h.base+path, bytes.NewReader(payload))
	if err != nil {
		return errors.Wrap(err, errors.ErrorTypeCoordination, "build request")
	}
	req.Header.Set("Content-Type", "application/json")

	return h.do(req, out)
}

func (h *HTTPCoordinator) get(ctx context.Context, path string, out any) error {
	ctx, cancel := context.WithTimeout(ctx, h.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, h.base+path, nil)
	if err != nil {
		return errors.Wrap(err, errors.ErrorTypeCoordination, "build request")
	}

	return h.do(req, out)
}

func (h *HTTPCoordinator) do(req *http.Request, out any) error {
	resp, err := h.client.Do(req)
	if err != nil {
		return errors.Wrap(err, errors.ErrorTypeCoordination, "coordination backend unreachable").
			WithDetail("path", req.URL.Path)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		// drain so the connection can be reused
		io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		return errors.New(errors.ErrorTypeCoordination, "coordination backend error").
			WithDetail("path", req.URL.Path).
			WithDetail("status", resp.StatusCode)
	}

	if out == nil {
		return nil
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return errors.Wrap(err, errors.ErrorTypeCoordination, "read response")
	}
	if err := json.Unmarshal(body, out); err != nil {
		return errors.Wrap(err, errors.ErrorTypeCoordination, "decode response")
	}
	return nil
}
