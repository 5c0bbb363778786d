package main

import (
	"fmt"
	"sync"
	"time"
)

// spinnerHook prints a progress spinner while a deployment pulls, builds,
// and starts, fed by the deployment.Hook step notifications.
type spinnerHook struct {
	frames  []string
	current int

	mu      sync.Mutex
	message string

	done chan struct{}
}

func newSpinnerHook() *spinnerHook {
	return &spinnerHook{
		frames: []string{"⠋", "⠙", "⠹", "⠸", "⠼", "⠴", "⠦", "⠧", "⠇", "⠏"},
		done:   make(chan struct{}),
	}
}

// OnCustomStep implements deployment.Hook, updating the message the
// spinner goroutine renders.
func (s *spinnerHook) OnCustomStep(msg string) {
	s.mu.Lock()
	s.message = msg
	s.mu.Unlock()
}

func (s *spinnerHook) currentMessage() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.message
}

func (s *spinnerHook) start() {
	go func() {
		ticker := time.NewTicker(80 * time.Millisecond)
		defer ticker.Stop()
		for {
			select {
			case <-s.done:
				fmt.Print("\r\033[K")
				return
			case <-ticker.C:
				if msg := s.currentMessage(); msg != "" {
					fmt.Printf("\r%s %s", s.frames[s.current], msg)
				}
				s.current = (s.current + 1) % len(s.frames)
			}
		}
	}()
}

func (s *spinnerHook) stop() {
	close(s.done)
	time.Sleep(100 * time.Millisecond)
}
