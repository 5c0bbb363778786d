// Command swerex-ctl is the operator-facing CLI: it starts one or more
// deployments, hands them to a Bubble Tea status dashboard while they
// run, and tears every one of them down when the operator quits.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"time"

	tea "charm.land/bubbletea/v2"

	"github.com/samuelreed/swerex-go/internal/config"
	"github.com/samuelreed/swerex-go/internal/ctldash"
	"github.com/samuelreed/swerex-go/internal/deployment"
	"github.com/samuelreed/swerex-go/internal/deployment/docker"
	"github.com/samuelreed/swerex-go/internal/deployment/registry"
)

var (
	Version    = "dev"
	CommitHash = "unknown"
)

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(2)
	}

	switch os.Args[1] {
	case "up":
		runUp(os.Args[2:])
	case "version":
		fmt.Printf("swerex-ctl %s (%s)\n", Version, CommitHash)
	default:
		usage()
		os.Exit(2)
	}
}

func usage() {
	fmt.Fprintln(os.Stderr, `usage: swerex-ctl <command> [flags]

commands:
  up       start one or more deployments and watch them in a status dashboard
  version  print version and exit`)
}

func runUp(args []string) {
	fs := flag.NewFlagSet("up", flag.ExitOnError)
	image := fs.String("image", "", "container image to run (defaults to the configured default image)")
	count := fs.Int("count", 1, "number of identical deployments to start")
	pull := fs.String("pull", "", "pull policy: never, missing, or always (defaults to config)")
	rm := fs.Bool("rm", true, "remove the container when the deployment stops")
	platform := fs.String("platform", "", "--platform passed to docker run/build")
	fs.Parse(args)

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("[swerex-ctl] loading config: %v", err)
	}

	resolvedImage := *image
	if resolvedImage == "" {
		resolvedImage = cfg.DefaultImage
	}
	if resolvedImage == "" {
		log.Fatal("[swerex-ctl] no image given and no default_image configured; pass --image")
	}

	pullPolicy := cfg.PullPolicy
	if *pull != "" {
		pullPolicy = config.PullPolicy(*pull)
	}

	registry.InstallSignalHandler()

	backends := make([]*docker.Backend, 0, *count)
	ctx := context.Background()
	for i := 0; i < *count; i++ {
		b := docker.New(docker.Options{
			Image:                    resolvedImage,
			Pull:                     pullPolicy,
			Platform:                 *platform,
			RemoveContainer:          *rm,
			StartupTimeout:           time.Duration(cfg.StartupTimeoutSeconds) * time.Second,
			StandaloneInterpreterDir: cfg.StandaloneInterpreterDir,
			ExecutableBaseURL:        cfg.ExecutableBaseURL,
		})

		spin := newSpinnerHook()
		b.SetHook(spin)
		spin.start()
		err := b.Start(ctx)
		spin.stop()

		if err != nil {
			log.Printf("[swerex-ctl] deployment %d/%d failed to start: %v", i+1, *count, err)
			stopAll(backends)
			os.Exit(1)
		}
		backends = append(backends, b)
	}

	lister := func(ctx context.Context) ([]ctldash.DeploymentStatus, error) {
		rows := make([]ctldash.DeploymentStatus, 0, len(backends))
		for _, b := range backends {
			row := ctldash.DeploymentStatus{
				Name:  shortName(b.ContainerName()),
				Image: b.Image(),
				State: b.State().String(),
				Port:  b.Port(),
			}
			if resp, err := b.IsAlive(ctx); err != nil {
				row.Message = err.Error()
			} else {
				row.Alive = resp.IsAlive
			}
			rows = append(rows, row)
		}
		return rows, nil
	}

	m := ctldash.New(ctx, lister)
	if _, err := tea.NewProgram(m).Run(); err != nil {
		log.Printf("[swerex-ctl] dashboard: %v", err)
	}

	stopAll(backends)
}

func stopAll(backends []*docker.Backend) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	for _, b := range backends {
		if b.State() == deployment.Stopped {
			continue
		}
		if err := b.Stop(ctx); err != nil {
			log.Printf("[swerex-ctl] stopping %s: %v", b.ContainerName(), err)
		}
	}
}

// shortName trims the trailing 36-character uuid suffix containerName
// appends, so the dashboard's NAME column stays readable.
func shortName(name string) string {
	const uuidLen = 36
	if len(name) > uuidLen+1 && name[len(name)-uuidLen-1] == '-' {
		return name[:len(name)-uuidLen-1]
	}
	return name
}
