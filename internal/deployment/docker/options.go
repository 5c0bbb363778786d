package docker

import (
	"time"

	"github.com/samuelreed/swerex-go/internal/config"
)

// Options configures a Backend.
type Options struct {
	// Image is the container image to run. Required.
	Image string
	// Pull controls image acquisition: never, missing (pull only if
	// `docker inspect` fails), or always.
	Pull config.PullPolicy
	// Platform is an optional --platform string passed to docker run and
	// docker build (e.g. "linux/amd64").
	Platform string
	// ExtraArgs are appended verbatim to the `docker run` invocation.
	ExtraArgs []string
	// RemoveContainer adds --rm to the docker run invocation.
	RemoveContainer bool
	// RemoveImageOnStop removes Image from the local image store once the
	// deployment stops, if it is still present.
	RemoveImageOnStop bool
	// Port is the host port the container's swerex-remote server is
	// forwarded to. Zero means "pick an unused ephemeral port".
	Port int
	// StartupTimeout bounds how long Start waits for the runtime to
	// report alive before giving up and stopping the container.
	StartupTimeout time.Duration
	// StandaloneInterpreterDir, if set, triggers the layered rebuild that
	// bakes a self-contained interpreter and the swerex-remote binary
	// onto Image rather than copying the executable in at start time.
	StandaloneInterpreterDir string
	// ExecutableBaseURL is the release URL template
	// (`<base>/swerex-remote-{amd64|arm64}`) used to download the
	// per-architecture swerex-remote binary when StandaloneInterpreterDir
	// is empty.
	ExecutableBaseURL string
	// ContainerRuntime is the CLI binary used for build/pull/exec-adjacent
	// operations this package shells out for (default "docker").
	ContainerRuntime string
}

func (o Options) containerRuntime() string {
	if o.ContainerRuntime != "" {
		return o.ContainerRuntime
	}
	return "docker"
}

func (o Options) startupTimeout() time.Duration {
	if o.StartupTimeout > 0 {
		return o.StartupTimeout
	}
	return 180 * time.Second
}

func (o Options) executableBaseURL() string {
	if o.ExecutableBaseURL != "" {
		return o.ExecutableBaseURL
	}
	return "https://github.com/samuelreed/swerex-go/releases/latest/download"
}
