// Package remote implements the trivial "already reachable" deployment
// backend: a host:port pair that someone else started and supervises.
package remote

import (
	"context"

	"github.com/samuelreed/swerex-go/internal/deployment"
	"github.com/samuelreed/swerex-go/internal/runtime"
)

// Options configures a Deployment that wraps an already-running
// swerex-remote server.
type Options struct {
	Host      string
	Port      int
	AuthToken string
}

// Deployment wraps a pre-existing swerex-remote server reachable at
// Host:Port. Start and Stop are no-ops beyond constructing/discarding the
// Remote client: there is no container or process for this backend to
// own.
type Deployment struct {
	deployment.StateMachine

	opts Options
	rt   *runtime.Remote
}

var _ deployment.Deployment = (*Deployment)(nil)

// New returns a Deployment for the given already-running server.
func New(opts Options) *Deployment {
	return &Deployment{opts: opts}
}

// Start constructs the Remote runtime client. There is nothing to
// materialize: the server is assumed to already be running.
func (d *Deployment) Start(ctx context.Context) error {
	d.rt = runtime.NewRemote(runtime.RemoteConfig{
		Host:      d.opts.Host,
		Port:      d.opts.Port,
		AuthToken: d.opts.AuthToken,
	})
	d.Set(deployment.Running)
	return nil
}

// Stop discards the Remote runtime client. It does not shut down the
// remote server: this backend never owned its lifecycle.
func (d *Deployment) Stop(ctx context.Context) error {
	d.rt = nil
	d.Set(deployment.Stopped)
	return nil
}

// IsAlive delegates to the wrapped Remote client.
func (d *Deployment) IsAlive(ctx context.Context) (runtime.IsAliveResponse, error) {
	if d.rt == nil {
		return runtime.IsAliveResponse{}, deployment.ErrNotStarted
	}
	return d.rt.IsAlive(ctx)
}

// Runtime returns the Remote runtime client once Start has run.
func (d *Deployment) Runtime() (runtime.Runtime, error) {
	if d.rt == nil {
		return nil, deployment.ErrNotStarted
	}
	return d.rt, nil
}
