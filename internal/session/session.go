// Package session drives a long-lived /bin/bash process over a pseudo
// terminal, scraping its output between a fixed PS1 sentinel to recover
// exit codes without wrapping every command.
package session

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/creack/pty"

	"github.com/samuelreed/swerex-go/internal/shlex"
)

// Sentinel is the PS1 value the shell is configured with. It must never
// appear in ordinary command output, since it is used as the boundary
// marker between one command's output and the next prompt.
const Sentinel = "SHELLPS1PREFIX"

// startupSeparator joins the shell's initialization banner with whatever
// it printed while PS1 was being installed, so both end up in the
// create-session response.
const startupSeparator = "\n---\n"

// Action describes one command to run in a session: the request half of
// the action/observation protocol.
type Action struct {
	Command              string
	IsInteractiveCommand bool
	IsInteractiveQuit    bool
	Timeout              time.Duration
	Expect               []string
}

// Observation is the result of running an Action. ExpectString is the
// sentinel that actually matched (the prompt or one of the caller's
// expects); it is empty when the wait timed out.
type Observation struct {
	Output        string
	ExitCode      int
	ExitCodeRaw   string
	ExpectString  string
	FailureReason string
}

// reserved exit codes, matching the transport-level sentinel values used
// when a real process exit code cannot be determined.
const (
	ExitTimeoutRunningCommand = -100
	ExitTimeoutGettingCode    = -200
	ExitNotInitialized        = -300
)

// Session wraps a single bash REPL. All exported methods are safe to call
// concurrently; Run serializes command execution so only one Action is ever
// in flight at a time.
type Session struct {
	mu      sync.Mutex
	pty     *ptyHandle
	reader  *bufio.Reader
	pending string
	closed  bool
}

// ptyHandle is the thin interface over creack/pty this package needs,
// narrow enough to fake in tests without spawning a real shell.
type ptyHandle struct {
	f      io.ReadWriteCloser
	cancel func()
}

// Start spawns /bin/bash with local echo off, waits for it to report
// readiness, then sets its PS1/PS2 so later commands can be delimited by
// Sentinel. The returned string is the shell's startup output: everything
// it printed before the readiness marker, joined with everything echoed
// while the prompt was being installed.
func Start(ctx context.Context) (*Session, string, error) {
	cmd := newBashCmd()
	f, err := pty.Start(cmd)
	if err != nil {
		return nil, "", fmt.Errorf("session: starting bash: %w", err)
	}

	s := &Session{
		pty:    &ptyHandle{f: f},
		reader: bufio.NewReaderSize(f, 64*1024),
	}
	_ = s.setEcho(false)

	output, err := s.initialize()
	if err != nil {
		s.pty.f.Close()
		return nil, "", err
	}
	return s, output, nil
}

func (s *Session) initialize() (string, error) {
	time.Sleep(100 * time.Millisecond)
	if _, err := io.WriteString(s.pty.f, "echo 'fully_initialized'\n"); err != nil {
		return "", fmt.Errorf("session: writing init probe: %w", err)
	}
	banner, _, err := s.expect([]string{"fully_initialized"}, time.Second)
	if err != nil {
		return "", errors.New("timeout while initializing shell")
	}

	if _, err := io.WriteString(s.pty.f, "umask 002; export PS1='"+Sentinel+"'; export PS2=''\n"); err != nil {
		return "", fmt.Errorf("session: writing PS1 setup: %w", err)
	}
	echoed, _, err := s.expect([]string{Sentinel}, time.Second)
	if err != nil {
		return "", errors.New("timeout while setting PS1")
	}
	return banner + startupSeparator + echoed, nil
}

// Run executes a single Action and returns its Observation. At most one
// Run call is in flight at a time per Session.
func (s *Session) Run(ctx context.Context, a Action) (Observation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if a.IsInteractiveCommand && a.IsInteractiveQuit {
		return Observation{}, errors.New("session: action cannot be both an interactive command and an interactive quit")
	}
	if s.closed || s.pty == nil {
		return Observation{
			ExitCode:      ExitNotInitialized,
			ExitCodeRaw:   fmt.Sprintf("%d", ExitNotInitialized),
			FailureReason: "shell not initialized",
		}, nil
	}

	command := a.Command
	if !a.IsInteractiveCommand && !a.IsInteractiveQuit {
		// Sending multiple commands as separate lines would emit multiple
		// prompts back to back and corrupt exit code recovery, so atoms
		// are rejoined into a single line.
		command = shlex.JoinForSession(shlex.SplitBashCommand(a.Command, true, true))
	}

	timeout := a.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}

	if _, err := io.WriteString(s.pty.f, command+"\n"); err != nil {
		return Observation{}, fmt.Errorf("session: writing command: %w", err)
	}

	targets := append(append([]string{}, a.Expect...), Sentinel)
	output, matched, err := s.expect(targets, timeout)
	if err != nil {
		return Observation{
			Output:        "",
			ExitCode:      ExitTimeoutRunningCommand,
			ExitCodeRaw:   fmt.Sprintf("%d", ExitTimeoutRunningCommand),
			FailureReason: "timeout while running command",
		}, nil
	}

	switch {
	case a.IsInteractiveQuit:
		return s.finishInteractiveQuit(output, matched)
	case a.IsInteractiveCommand:
		// The sub-REPL's own echo suppression is imperfect: strip one
		// leading copy of the command we sent.
		out := strings.TrimLeft(output, " \t\r\n")
		out = strings.TrimPrefix(out, a.Command)
		return Observation{
			Output:       strings.TrimSpace(out),
			ExitCode:     0,
			ExitCodeRaw:  "0",
			ExpectString: matched,
		}, nil
	default:
		return s.captureExitCode(output, matched)
	}
}

// captureExitCode sends the conventional "echo $?" probe and parses the
// result, retrying the expect once if the first capture is empty: after
// quitting an interactive sub-REPL the shell often emits a double prompt,
// which leaves the first capture blank.
func (s *Session) captureExitCode(output, matched string) (Observation, error) {
	if _, err := io.WriteString(s.pty.f, "\necho $?\n"); err != nil {
		return Observation{}, fmt.Errorf("session: writing exit code probe: %w", err)
	}

	raw, _, err := s.expect([]string{Sentinel}, time.Second)
	if err != nil {
		return Observation{
			Output:        output,
			ExitCode:      ExitTimeoutGettingCode,
			ExitCodeRaw:   fmt.Sprintf("%d", ExitTimeoutGettingCode),
			FailureReason: "timeout while getting exit code",
		}, nil
	}

	exitCodeRaw := strings.TrimSpace(raw)
	if exitCodeRaw == "" {
		raw, _, err = s.expect([]string{Sentinel}, time.Second)
		if err != nil {
			return Observation{
				Output:        output,
				ExitCode:      ExitTimeoutGettingCode,
				ExitCodeRaw:   fmt.Sprintf("%d", ExitTimeoutGettingCode),
				FailureReason: "timeout while getting exit code",
			}, nil
		}
		exitCodeRaw = strings.TrimSpace(raw)
	}

	obs := Observation{Output: output, ExitCodeRaw: exitCodeRaw, ExpectString: matched}
	var code int
	if _, scanErr := fmt.Sscanf(exitCodeRaw, "%d", &code); scanErr == nil {
		obs.ExitCode = code
	}
	return obs, nil
}

// finishInteractiveQuit works around the stale-prompt leak after leaving a
// sub-REPL: echo is turned off on both sides of the PTY and a marker is
// echoed twice, consuming the double prompt before the next command runs.
func (s *Session) finishInteractiveQuit(output, matched string) (Observation, error) {
	if err := s.setEcho(false); err != nil {
		return Observation{}, err
	}
	if _, err := io.WriteString(s.pty.f, "stty -echo; echo 'doneremovingecho'; echo 'doneremovingecho'\n"); err != nil {
		return Observation{}, fmt.Errorf("session: writing echo-removal probe: %w", err)
	}
	if _, _, err := s.expect([]string{"doneremovingecho"}, time.Second); err != nil {
		return Observation{}, errors.New("session: timeout while removing echo")
	}
	if _, _, err := s.expect([]string{Sentinel}, time.Second); err != nil {
		return Observation{}, errors.New("session: timeout while waiting for prompt after quit")
	}
	return Observation{Output: output, ExitCode: 0, ExitCodeRaw: "0", ExpectString: matched}, nil
}

// Close terminates the underlying shell process. Running further Actions
// after Close reports a structured failure, never a crash.
func (s *Session) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	if s.pty == nil {
		return nil
	}
	return s.pty.f.Close()
}
