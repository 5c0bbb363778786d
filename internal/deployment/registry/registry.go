// Package registry keeps a process-wide, weakly-referenced record of live
// deployments so a SIGINT/SIGTERM can tear every outstanding container
// down exactly once, regardless of which code path created it or whether
// its owner ever got a chance to call Stop itself. Nothing runs on a
// normal process exit: deployments still registered then are only
// stopped if the program calls StopAll (or their own Stop) itself.
package registry

import (
	"context"
	"log"
	"os"
	"os/signal"
	"runtime"
	"sync"
	"syscall"
	"time"
	"weak"
)

// Deployment is the minimal surface the registry needs to tear something
// down; internal/deployment.Deployment satisfies it.
type Deployment interface {
	Stop(ctx context.Context) error
}

var (
	mu      sync.Mutex
	nextID  uintptr
	entries = make(map[uintptr]func(context.Context) error)

	signalOnce sync.Once
)

// Register adds d to the global registry and returns a token usable with
// Deregister. Registration holds only a weak pointer to the concrete
// deployment d points to: a deployment whose only remaining reference is
// this registry entry can still be garbage collected without keeping a
// container description alive forever. Callers pass the same pointer they
// hold onto themselves (e.g. the *docker.Backend their own controller
// keeps), not a freshly boxed copy, so the weak pointer tracks the real
// object's lifetime. A cleanup on d removes the registry entry once the
// deployment itself is collected, so stale ids never accumulate.
func Register[T any, PT interface {
	Deployment
	*T
}](d PT) uintptr {
	mu.Lock()
	nextID++
	id := nextID

	wp := weak.Make((*T)(d))
	entries[id] = func(ctx context.Context) error {
		p := wp.Value()
		if p == nil {
			return nil
		}
		return PT(p).Stop(ctx)
	}
	mu.Unlock()

	runtime.AddCleanup(d, func(id uintptr) { Deregister(id) }, id)
	return id
}

// Deregister removes a deployment from the registry, e.g. once its own
// Stop has already completed normally.
func Deregister(id uintptr) {
	mu.Lock()
	defer mu.Unlock()
	delete(entries, id)
}

// StopAll synchronously stops every still-live registered deployment.
// Called directly by tests and indirectly by the signal handler.
func StopAll(ctx context.Context) {
	mu.Lock()
	snapshot := make([]func(context.Context) error, 0, len(entries))
	for _, stop := range entries {
		snapshot = append(snapshot, stop)
	}
	mu.Unlock()

	for _, stop := range snapshot {
		if err := stop(ctx); err != nil {
			log.Printf("[registry] cleanup stop failed: %v", err)
		}
	}
}

// InstallSignalHandler registers a SIGINT/SIGTERM handler that stops every
// registered deployment before the process exits. Safe to call multiple
// times; only the first call installs anything. Must only be called from
// the main goroutine during process startup.
func InstallSignalHandler() {
	signalOnce.Do(func() {
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

		go func() {
			sig := <-sigCh
			ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
			defer cancel()
			StopAll(ctx)

			signal.Stop(sigCh)
			if p, err := os.FindProcess(os.Getpid()); err == nil {
				_ = p.Signal(sig)
			}
		}()
	})
}
