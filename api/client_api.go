// Package api - API-Methoden des Clients.
// Eine Methode pro Server-Route.

package api

import (
	"context"
	"net/http"
)

// Load loads a bundle on the server and returns its id and signature.
func (c *Client) Load(ctx context.Context, req *LoadRequest) (*BundleInfo, error) {
	var resp BundleInfo
	if err := c.do(ctx, http.MethodPost, "/api/load", req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Unload releases a loaded bundle. Unloading an unknown id fails with a 404
// [StatusError].
func (c *Client) Unload(ctx context.Context, req *UnloadRequest) error {
	return c.do(ctx, http.MethodPost, "/api/unload", req, nil)
}

// ListRunning lists loaded bundles.
func (c *Client) ListRunning(ctx context.Context) (*ProcessResponse, error) {
	var lr ProcessResponse
	if err := c.do(ctx, http.MethodGet, "/api/ps", nil, &lr); err != nil {
		return nil, err
	}
	return &lr, nil
}

// Show returns the signature and counters of a loaded bundle.
func (c *Client) Show(ctx context.Context, req *ShowRequest) (*BundleInfo, error) {
	var resp BundleInfo
	if err := c.do(ctx, http.MethodPost, "/api/show", req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Run evaluates the requested outputs of a bundle.
func (c *Client) Run(ctx context.Context, req *RunRequest) (*RunResponse, error) {
	var resp RunResponse
	if err := c.do(ctx, http.MethodPost, "/api/run", req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Train executes training targets once and evaluates the requested outputs.
func (c *Client) Train(ctx context.Context, req *TrainRequest) (*TrainResponse, error) {
	var resp TrainResponse
	if err := c.do(ctx, http.MethodPost, "/api/train", req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Export writes a checkpoint of a training bundle into a directory on the
// server host.
func (c *Client) Export(ctx context.Context, req *ExportRequest) (*ExportResponse, error) {
	var resp ExportResponse
	if err := c.do(ctx, http.MethodPost, "/api/export", req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Heartbeat checks if the server has started and is responsive; if yes, it
// returns nil, otherwise an error.
func (c *Client) Heartbeat(ctx context.Context) error {
	return c.do(ctx, http.MethodHead, "/", nil, nil)
}

// Version returns the server version as a string.
func (c *Client) Version(ctx context.Context) (string, error) {
	var version struct {
		Version string `json:"version"`
	}

	if err := c.do(ctx, http.MethodGet, "/api/version", nil, &version); err != nil {
		return "", err
	}

	return version.Version, nil
}
