// Package docker materializes a container carrying the swerex-remote
// executable and supervises it for the lifetime of one deployment,
// implementing deployment.Deployment. Its Docker SDK usage (client
// wrapper, exec demuxing via pkg/stdcopy) generalizes from "workstream
// container" to "deployment container".
package docker

import (
	"context"

	"github.com/docker/docker/client"
)

// Client wraps the Docker SDK client with the operations a deployment
// backend needs.
type Client struct {
	cli *client.Client
}

// NewClient creates a new Docker client using environment defaults,
// negotiating the API version with the daemon.
func NewClient() (*Client, error) {
	cli, err := client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
	if err != nil {
		return nil, err
	}
	return &Client{cli: cli}, nil
}

// Ping checks connectivity to the Docker daemon. Start runs it as a
// preflight so a dead daemon fails fast, before any pull or build work
// is attempted.
func (c *Client) Ping(ctx context.Context) error {
	_, err := c.cli.Ping(ctx)
	return err
}

// Close releases the Docker client's resources.
func (c *Client) Close() error {
	return c.cli.Close()
}

// Raw returns the underlying Docker SDK client for operations this thin
// wrapper doesn't expose directly.
func (c *Client) Raw() *client.Client {
	if c == nil {
		return nil
	}
	return c.cli
}
