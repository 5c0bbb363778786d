package docker

import (
	"archive/tar"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/exec"
	"runtime/debug"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/pkg/stdcopy"
	"github.com/google/uuid"

	"github.com/samuelreed/swerex-go/configs"
	"github.com/samuelreed/swerex-go/internal/config"
	"github.com/samuelreed/swerex-go/internal/deployment"
	"github.com/samuelreed/swerex-go/internal/deployment/registry"
	"github.com/samuelreed/swerex-go/internal/deployment/wait"
	"github.com/samuelreed/swerex-go/internal/runtime"
)

// remoteExecutableName is the binary name swerex-remote installs as
// inside the container.
const remoteExecutableName = "swerex-remote"

// remoteExecutablePath is where the executable lives once injected.
const remoteExecutablePath = "/" + remoteExecutableName

// ErrUnsupportedArchitecture is returned by Start when the resolved
// image reports an architecture other than amd64 or arm64.
type ErrUnsupportedArchitecture struct{ Arch string }

func (e *ErrUnsupportedArchitecture) Error() string {
	return fmt.Sprintf("docker: unsupported image architecture %q (need amd64 or arm64)", e.Arch)
}

// StartupFailure wraps a failure during Start, carrying whatever the
// container's exec process had written to stdout/stderr so the caller can
// diagnose a crash loop.
type StartupFailure struct {
	Err    error
	Output string
}

func (e *StartupFailure) Error() string {
	if e.Output == "" {
		return fmt.Sprintf("docker: startup failed: %v", e.Err)
	}
	return fmt.Sprintf("docker: startup failed: %v\n--- container output ---\n%s", e.Err, e.Output)
}

func (e *StartupFailure) Unwrap() error { return e.Err }

// Backend materializes one deployment as a local container: it pulls or
// builds the image, runs the container, injects and starts the
// swerex-remote server, and supervises it until Stop.
type Backend struct {
	deployment.StateMachine

	opts   Options
	client *Client
	hook   deployment.Hook

	mu            sync.Mutex
	containerName string
	port          int
	token         string
	runtime       *runtime.Remote
	execOutput    *syncBuffer
	execExited    atomic.Bool
	registryID    uintptr
}

var _ deployment.Deployment = (*Backend)(nil)

// New returns a Backend ready to Start. The Docker client is created
// lazily on Start so constructing a Backend never touches the daemon.
func New(opts Options) *Backend {
	return &Backend{opts: opts, hook: deployment.NoopHook{}}
}

// SetHook installs a progress hook invoked during pull/build/start.
func (b *Backend) SetHook(h deployment.Hook) {
	if h == nil {
		h = deployment.NoopHook{}
	}
	b.hook = h
}

// Start materializes a container running the configured image, injects
// (or bakes in) the swerex-remote executable, starts it, and waits for it
// to report alive.
func (b *Backend) Start(ctx context.Context) error {
	if b.State() != deployment.Unstarted {
		return fmt.Errorf("docker: Start called in state %s", b.State())
	}

	cli, err := NewClient()
	if err != nil {
		return fmt.Errorf("docker: connecting to daemon: %w", err)
	}
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	err = cli.Ping(pingCtx)
	cancel()
	if err != nil {
		_ = cli.Close()
		return fmt.Errorf("docker: daemon not responding: %w", err)
	}
	b.client = cli

	// Registered before anything is materialized: a signal arriving
	// mid-start must still kill whatever container exists by then.
	b.registryID = registry.Register(b)

	b.Set(deployment.Pulling)
	// The pull is not joined before a standalone rebuild runs: the build
	// works from local cache when the base image is already present, and
	// otherwise fails with a build error of its own.
	pullDone := make(chan error, 1)
	go func() { pullDone <- b.pullImage(ctx) }()

	imageRef := b.opts.Image
	if b.opts.StandaloneInterpreterDir != "" {
		b.Set(deployment.Building)
		b.hook.OnCustomStep("building layered image")
		built, err := b.buildImage(ctx)
		if err != nil {
			return &StartupFailure{Err: err}
		}
		imageRef = built
	} else if err := <-pullDone; err != nil {
		return &StartupFailure{Err: err}
	}

	arch, err := b.imageArchitecture(ctx, imageRef)
	if err != nil {
		return &StartupFailure{Err: fmt.Errorf("inspecting image architecture: %w", err)}
	}
	if arch != "amd64" && arch != "arm64" {
		return &StartupFailure{Err: &ErrUnsupportedArchitecture{Arch: arch}}
	}

	port := b.opts.Port
	if port == 0 {
		port, err = findFreePort()
		if err != nil {
			return &StartupFailure{Err: fmt.Errorf("allocating port: %w", err)}
		}
	}
	b.mu.Lock()
	b.port = port
	b.containerName = containerName(b.opts.Image)
	b.token = uuid.NewString()
	name := b.containerName
	token := b.token
	b.mu.Unlock()

	b.Set(deployment.Starting)
	b.hook.OnCustomStep("starting container")
	if err := b.runContainer(ctx, imageRef, name, port); err != nil {
		return &StartupFailure{Err: fmt.Errorf("starting container: %w", err)}
	}

	if b.opts.StandaloneInterpreterDir == "" {
		if err := b.injectExecutable(ctx, name, arch); err != nil {
			return &StartupFailure{Err: fmt.Errorf("injecting executable: %w", err)}
		}
	}

	out := &syncBuffer{}
	b.mu.Lock()
	b.execOutput = out
	b.mu.Unlock()
	if err := b.startRemote(ctx, name, token, out); err != nil {
		return &StartupFailure{Err: fmt.Errorf("starting remote server: %w", err)}
	}

	b.runtime = runtime.NewRemote(runtime.RemoteConfig{
		Host:      "http://127.0.0.1",
		Port:      port,
		AuthToken: token,
	})

	b.Set(deployment.Probing)
	b.hook.OnCustomStep("waiting for runtime to become alive")
	probeErr := wait.Until(ctx, b.opts.startupTimeout(), func(ctx context.Context) (bool, error) {
		if b.execExited.Load() {
			return false, errors.New("remote server process exited before reporting alive")
		}
		resp, err := b.runtime.IsAlive(ctx)
		if err != nil {
			return false, err
		}
		return resp.IsAlive, nil
	})
	if probeErr != nil {
		captured := out.String()
		_ = b.Stop(ctx)
		return &StartupFailure{Err: probeErr, Output: captured}
	}

	b.Set(deployment.Running)
	return nil
}

// Stop tears down the container: closing the client first, then killing
// the container, and, if the kill fails, retrying SIGKILL-equivalent
// force-removal up to three times.
func (b *Backend) Stop(ctx context.Context) error {
	prev := b.State()
	if prev == deployment.Stopped || prev == deployment.Unstarted {
		return nil
	}
	b.Set(deployment.Stopping)
	defer b.Set(deployment.Stopped)

	if b.runtime != nil {
		_, _ = b.runtime.Close(ctx)
		b.runtime = nil
	}

	b.mu.Lock()
	name := b.containerName
	b.mu.Unlock()

	if name != "" {
		killCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
		if err := exec.CommandContext(killCtx, b.opts.containerRuntime(), "kill", name).Run(); err != nil {
			for i := 0; i < 3; i++ {
				rmCtx, rmCancel := context.WithTimeout(ctx, 5*time.Second)
				err := exec.CommandContext(rmCtx, b.opts.containerRuntime(), "rm", "-f", name).Run()
				rmCancel()
				if err == nil {
					break
				}
			}
		}
		cancel()
	}

	if b.opts.RemoveImageOnStop && b.opts.Image != "" {
		_ = exec.CommandContext(ctx, b.opts.containerRuntime(), "rmi", b.opts.Image).Run()
	}

	if b.registryID != 0 {
		registry.Deregister(b.registryID)
		b.registryID = 0
	}
	if b.client != nil {
		_ = b.client.Close()
	}
	return nil
}

// IsAlive delegates to the runtime client once Start has progressed far
// enough to have one.
func (b *Backend) IsAlive(ctx context.Context) (runtime.IsAliveResponse, error) {
	if b.State() != deployment.Running && b.State() != deployment.Probing {
		return runtime.IsAliveResponse{}, deployment.ErrNotStarted
	}
	return b.runtime.IsAlive(ctx)
}

// Runtime returns the Remote runtime client once Start has completed.
func (b *Backend) Runtime() (runtime.Runtime, error) {
	if b.runtime == nil {
		return nil, deployment.ErrNotStarted
	}
	return b.runtime, nil
}

// Image returns the configured container image.
func (b *Backend) Image() string {
	return b.opts.Image
}

// ContainerName returns the container's name once Start has assigned one,
// and the empty string before that.
func (b *Backend) ContainerName() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.containerName
}

// Port returns the host port the container's swerex-remote server is
// forwarded to, once Start has picked one.
func (b *Backend) Port() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.port
}

// containerName returns a unique container name derived from the image
// name: alphanumerics, dashes, underscores, and dots from the image
// survive; everything else is dropped, then a fresh UUID is appended.
func containerName(image string) string {
	var b strings.Builder
	for _, r := range image {
		if (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') || r == '-' || r == '_' || r == '.' {
			b.WriteRune(r)
		}
	}
	return fmt.Sprintf("%s-%s", b.String(), uuid.NewString())
}

func (b *Backend) pullImage(ctx context.Context) error {
	switch b.opts.Pull {
	case config.PullNever:
		return nil
	case config.PullMissing:
		if b.imageAvailable(ctx, b.opts.Image) {
			return nil
		}
	}
	b.hook.OnCustomStep(fmt.Sprintf("pulling image %s", b.opts.Image))
	cmd := exec.CommandContext(ctx, b.opts.containerRuntime(), "pull", b.opts.Image)
	out, err := cmd.CombinedOutput()
	if err != nil {
		return fmt.Errorf("pulling image %s: %w: %s", b.opts.Image, err, out)
	}
	return nil
}

func (b *Backend) imageAvailable(ctx context.Context, image string) bool {
	_, _, err := b.client.Raw().ImageInspectWithRaw(ctx, image)
	return err == nil
}

func (b *Backend) imageArchitecture(ctx context.Context, image string) (string, error) {
	info, _, err := b.client.Raw().ImageInspectWithRaw(ctx, image)
	if err != nil {
		return "", err
	}
	return info.Architecture, nil
}

// buildImage builds the layered image baking a standalone interpreter
// directory and the swerex-remote binary onto the configured base image,
// returning the resulting image tag. The embedded Dockerfile template is
// written next to nothing in particular (a temp file passed via -f) so
// the standalone interpreter directory itself is the build context; the
// tag carries the template hash so a template change busts the cache
// without a version bump.
func (b *Backend) buildImage(ctx context.Context) (string, error) {
	dockerfile, err := os.CreateTemp("", "swerex-build-*.Dockerfile")
	if err != nil {
		return "", fmt.Errorf("writing build template: %w", err)
	}
	defer os.Remove(dockerfile.Name())
	if _, err := dockerfile.Write(configs.BaseDockerfile); err != nil {
		dockerfile.Close()
		return "", fmt.Errorf("writing build template: %w", err)
	}
	dockerfile.Close()

	tag := fmt.Sprintf("swerex-runtime:%s", configs.BaseDockerfileHash())
	args := []string{"build", "-q", "-f", dockerfile.Name(), "-t", tag}
	if b.opts.Platform != "" {
		args = append(args, "--platform", b.opts.Platform)
	}
	args = append(args, "--build-arg", "BASE_IMAGE="+b.opts.Image, b.opts.StandaloneInterpreterDir)

	cmd := exec.CommandContext(ctx, b.opts.containerRuntime(), args...)
	out, err := cmd.Output()
	if err != nil {
		return "", fmt.Errorf("building layered image: %w", err)
	}
	imageID := strings.TrimSpace(string(out))
	if !strings.HasPrefix(imageID, "sha256:") {
		return "", fmt.Errorf("build did not produce a sha256 image ID: %q", imageID)
	}
	return tag, nil
}

func (b *Backend) runContainer(ctx context.Context, image, name string, port int) error {
	args := []string{"run", "-p", fmt.Sprintf("%d:8000", port)}
	if b.opts.RemoveContainer {
		args = append(args, "--rm")
	}
	if b.opts.Platform != "" {
		args = append(args, "--platform", b.opts.Platform)
	}
	args = append(args, b.opts.ExtraArgs...)
	args = append(args, "--name", name, "-itd", image)

	cmd := exec.CommandContext(ctx, b.opts.containerRuntime(), args...)
	out, err := cmd.CombinedOutput()
	if err != nil {
		return fmt.Errorf("docker run failed: %w: %s", err, out)
	}
	return nil
}

// injectExecutable downloads the per-architecture swerex-remote binary
// and copies it into the running container at remoteExecutablePath via
// the Docker SDK's CopyToContainer, then fixes ownership to match the
// container's default user by running id -u/id -g/chown through
// ContainerExecCreate+ContainerExecAttach, demultiplexed with stdcopy.
func (b *Backend) injectExecutable(ctx context.Context, containerID, arch string) error {
	url := fmt.Sprintf("%s/swerex-remote-%s", b.opts.executableBaseURL(), arch)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return err
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return fmt.Errorf("downloading %s: %w", url, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("downloading %s: unexpected status %d", url, resp.StatusCode)
	}

	tmp, err := os.CreateTemp("", remoteExecutableName+"-*")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())
	if _, err := io.Copy(tmp, resp.Body); err != nil {
		tmp.Close()
		return err
	}
	info, err := tmp.Stat()
	if err != nil {
		tmp.Close()
		return err
	}
	if _, err := tmp.Seek(0, io.SeekStart); err != nil {
		tmp.Close()
		return err
	}

	var archiveBuf bytes.Buffer
	tw := tar.NewWriter(&archiveBuf)
	if err := tw.WriteHeader(&tar.Header{
		Name: remoteExecutableName,
		Mode: 0o755,
		Size: info.Size(),
	}); err != nil {
		tmp.Close()
		return err
	}
	if _, err := io.Copy(tw, tmp); err != nil {
		tmp.Close()
		return err
	}
	tmp.Close()
	if err := tw.Close(); err != nil {
		return err
	}

	if err := b.client.Raw().CopyToContainer(ctx, containerID, "/", &archiveBuf, container.CopyToContainerOptions{}); err != nil {
		return fmt.Errorf("copying executable into container: %w", err)
	}

	uid, err := b.execOnce(ctx, containerID, []string{"id", "-u"})
	if err != nil {
		return err
	}
	gid, err := b.execOnce(ctx, containerID, []string{"id", "-g"})
	if err != nil {
		return err
	}
	owner := fmt.Sprintf("%s:%s", strings.TrimSpace(uid), strings.TrimSpace(gid))
	if _, err := b.execOnce(ctx, containerID, []string{"chown", owner, remoteExecutablePath}); err != nil {
		return err
	}
	return nil
}

// execOnce runs cmd inside the container to completion and returns its
// stdout; stderr is discarded.
func (b *Backend) execOnce(ctx context.Context, containerID string, cmd []string) (string, error) {
	execCfg := container.ExecOptions{Cmd: cmd, AttachStdout: true, AttachStderr: true}
	execID, err := b.client.Raw().ContainerExecCreate(ctx, containerID, execCfg)
	if err != nil {
		return "", err
	}
	resp, err := b.client.Raw().ContainerExecAttach(ctx, execID.ID, container.ExecStartOptions{})
	if err != nil {
		return "", err
	}
	defer resp.Close()

	var stdout, stderr bytes.Buffer
	if _, err := stdcopy.StdCopy(&stdout, &stderr, resp.Reader); err != nil && err != io.EOF {
		return "", err
	}
	return stdout.String(), nil
}

// startRemote execs the swerex-remote start command inside the container
// in the background, streaming its combined output into out for
// diagnostics if the liveness probe later fails.
func (b *Backend) startRemote(ctx context.Context, containerID, token string, out *syncBuffer) error {
	startCmd := fmt.Sprintf("chmod +x %s && %s --port 8000 --auth-token %s", remoteExecutablePath, remoteExecutablePath, token)
	if b.opts.StandaloneInterpreterDir != "" {
		// The layered image already carries an executable copy at the path
		// configs/base.Dockerfile installs it to; nothing was injected.
		startCmd = fmt.Sprintf("/opt/swerex/bin/%s --port 8000 --auth-token %s", remoteExecutableName, token)
	}
	execCfg := container.ExecOptions{
		Cmd:          []string{"/bin/sh", "-c", startCmd},
		AttachStdout: true,
		AttachStderr: true,
	}
	execID, err := b.client.Raw().ContainerExecCreate(ctx, containerID, execCfg)
	if err != nil {
		return err
	}
	resp, err := b.client.Raw().ContainerExecAttach(ctx, execID.ID, container.ExecStartOptions{})
	if err != nil {
		return err
	}

	go func() {
		defer resp.Close()
		defer b.execExited.Store(true)
		defer func() {
			if r := recover(); r != nil {
				out.WriteString(fmt.Sprintf("panic streaming container output: %v\n%s", r, debug.Stack()))
			}
		}()
		_, _ = stdcopy.StdCopy(out, out, resp.Reader)
	}()
	return nil
}

// syncBuffer is a mutex-guarded bytes.Buffer: the start-command goroutine
// writes to it while Start's probe-failure path reads it concurrently.
type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (s *syncBuffer) Write(p []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.buf.Write(p)
}

func (s *syncBuffer) WriteString(str string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.buf.WriteString(str)
}

func (s *syncBuffer) String() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.buf.String()
}
