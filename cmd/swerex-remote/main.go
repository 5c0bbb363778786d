// Command swerex-remote is the in-runtime server: a standalone binary
// injected into (or baked onto) a deployment container that hosts the
// session, execute, and file endpoints over a Local runtime.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/samuelreed/swerex-go/internal/rpcserver"
	"github.com/samuelreed/swerex-go/internal/runtime"
)

var (
	Version    = "dev"
	CommitHash = "unknown"
)

func main() {
	port := flag.Int("port", 8000, "port to listen on")
	authToken := flag.String("auth-token", "", "required value of the X-API-Key header on every request")
	printVersion := flag.Bool("version", false, "print version and exit")
	flag.Parse()

	if *printVersion {
		fmt.Printf("swerex-remote %s (%s)\n", Version, CommitHash)
		return
	}

	local := runtime.NewLocal()
	srv := &http.Server{
		Addr:    fmt.Sprintf(":%d", *port),
		Handler: rpcserver.New(local, *authToken),
	}

	errCh := make(chan error, 1)
	go func() {
		log.Printf("[swerex-remote] listening on :%d", *port)
		errCh <- srv.ListenAndServe()
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errCh:
		if err != nil && err != http.ErrServerClosed {
			log.Fatalf("[swerex-remote] listen: %v", err)
		}
	case sig := <-sigCh:
		log.Printf("[swerex-remote] received %s, shutting down", sig)
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		local.Close(ctx)
		if err := srv.Shutdown(ctx); err != nil {
			log.Printf("[swerex-remote] shutdown: %v", err)
		}
	}
}
