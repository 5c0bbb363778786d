package docker

import (
	"strings"
	"testing"
	"time"
)

func TestContainerNameSanitizesImage(t *testing.T) {
	name := containerName("ghcr.io/org/some-image:3.11")
	if strings.ContainsAny(name, "/:") {
		t.Fatalf("container name %q still contains punctuation docker rejects", name)
	}
	if !strings.HasPrefix(name, "ghcr.ioorgsome-image3.11-") {
		t.Fatalf("container name %q does not start with the sanitized image name", name)
	}
}

func TestContainerNamesAreUnique(t *testing.T) {
	a := containerName("python:3.11")
	b := containerName("python:3.11")
	if a == b {
		t.Fatalf("two container names for the same image collided: %q", a)
	}
}

func TestOptionsDefaults(t *testing.T) {
	var o Options
	if got := o.containerRuntime(); got != "docker" {
		t.Fatalf("containerRuntime = %q, want docker", got)
	}
	if got := o.startupTimeout(); got != 180*time.Second {
		t.Fatalf("startupTimeout = %s, want 180s", got)
	}
	if o.executableBaseURL() == "" {
		t.Fatal("expected a default executable base URL")
	}

	o = Options{ContainerRuntime: "podman", StartupTimeout: time.Minute}
	if got := o.containerRuntime(); got != "podman" {
		t.Fatalf("containerRuntime = %q, want podman", got)
	}
	if got := o.startupTimeout(); got != time.Minute {
		t.Fatalf("startupTimeout = %s, want 1m", got)
	}
}

func TestFindFreePortReturnsUsablePort(t *testing.T) {
	a, err := findFreePort()
	if err != nil {
		t.Fatalf("findFreePort: %v", err)
	}
	if a <= 0 || a > 65535 {
		t.Fatalf("port %d out of range", a)
	}
}
