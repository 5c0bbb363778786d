package runtime

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"

	"github.com/samuelreed/swerex-go/internal/session"
)

// Local is an in-process Runtime: it holds a registry of named shell
// sessions and executes one-shot commands and file operations directly
// against the local filesystem. An embedding host process can use it
// through the Runtime interface without any HTTP hop.
type Local struct {
	mu       sync.RWMutex
	sessions map[string]*session.Session
}

// NewLocal returns an empty Local runtime with no open sessions.
func NewLocal() *Local {
	return &Local{sessions: make(map[string]*session.Session)}
}

var _ Runtime = (*Local)(nil)

// IsAlive always reports true for a local runtime: there is no network
// hop or remote process to fail to reach.
func (l *Local) IsAlive(ctx context.Context) (IsAliveResponse, error) {
	return IsAliveResponse{IsAlive: true}, nil
}

// CreateSession opens a new named shell session. Creating a session under
// a name that already exists fails without disturbing the existing one.
func (l *Local) CreateSession(ctx context.Context, req CreateSessionRequest) (CreateSessionResponse, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if _, exists := l.sessions[req.Session]; exists {
		return CreateSessionResponse{
			Success:       false,
			FailureReason: fmt.Sprintf("session %q already exists", req.Session),
		}, nil
	}

	sess, output, err := session.Start(ctx)
	if err != nil {
		return CreateSessionResponse{Success: false, FailureReason: err.Error()}, nil
	}
	l.sessions[req.Session] = sess
	return CreateSessionResponse{Success: true, Output: output}, nil
}

// RunInSession runs a single Action against a previously created session.
func (l *Local) RunInSession(ctx context.Context, action Action) (Observation, error) {
	l.mu.RLock()
	sess, ok := l.sessions[action.Session]
	l.mu.RUnlock()
	if !ok {
		return Observation{
			Output:        "",
			ExitCode:      ExitUnknownSession,
			ExitCodeRaw:   fmt.Sprintf("%d", ExitUnknownSession),
			FailureReason: fmt.Sprintf("session %q does not exist", action.Session),
		}, nil
	}

	obs, err := sess.Run(ctx, sessionAction(action))
	if err != nil {
		return Observation{}, err
	}
	return Observation{
		Output:        obs.Output,
		ExitCode:      obs.ExitCode,
		ExitCodeRaw:   obs.ExitCodeRaw,
		ExpectString:  obs.ExpectString,
		FailureReason: obs.FailureReason,
	}, nil
}

// CloseSession tears down and forgets a named session.
func (l *Local) CloseSession(ctx context.Context, req CloseSessionRequest) (CloseSessionResponse, error) {
	l.mu.Lock()
	sess, ok := l.sessions[req.Session]
	if ok {
		delete(l.sessions, req.Session)
	}
	l.mu.Unlock()

	if !ok {
		return CloseSessionResponse{
			Success:       false,
			FailureReason: fmt.Sprintf("session %q does not exist", req.Session),
		}, nil
	}
	if err := sess.Close(); err != nil {
		return CloseSessionResponse{Success: false, FailureReason: err.Error()}, nil
	}
	return CloseSessionResponse{Success: true}, nil
}

// Execute runs a single command directly, outside of any session, and
// captures its stdout/stderr/exit code. A run that exceeds its timeout
// reports ExitCommandTimeout; any other failure to even start the process
// reports ExitCommandFailed.
func (l *Local) Execute(ctx context.Context, cmd Command) (CommandResponse, error) {
	if cmd.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, secondsToDuration(cmd.Timeout))
		defer cancel()
	}

	var c *exec.Cmd
	if cmd.Shell {
		c = exec.CommandContext(ctx, "/bin/sh", "-c", cmd.Command)
	} else {
		if len(cmd.Argv) == 0 {
			return CommandResponse{ExitCode: ExitCommandFailed, Stderr: "empty command"}, nil
		}
		c = exec.CommandContext(ctx, cmd.Argv[0], cmd.Argv[1:]...)
	}

	var stdout, stderr bytes.Buffer
	c.Stdout = &stdout
	c.Stderr = &stderr

	runErr := c.Run()
	if ctx.Err() == context.DeadlineExceeded {
		return CommandResponse{
			Stdout:   "",
			Stderr:   fmt.Sprintf("timeout (%gs) exceeded while running command", cmd.Timeout),
			ExitCode: ExitCommandTimeout,
		}, nil
	}
	if runErr != nil {
		if exitErr, ok := runErr.(*exec.ExitError); ok {
			return CommandResponse{
				Stdout:   toValidUTF8(stdout.String()),
				Stderr:   toValidUTF8(stderr.String()),
				ExitCode: exitErr.ExitCode(),
			}, nil
		}
		return CommandResponse{
			Stdout:   toValidUTF8(stdout.String()),
			Stderr:   runErr.Error(),
			ExitCode: ExitCommandFailed,
		}, nil
	}

	return CommandResponse{
		Stdout:   toValidUTF8(stdout.String()),
		Stderr:   toValidUTF8(stderr.String()),
		ExitCode: 0,
	}, nil
}

// toValidUTF8 makes process output safe to carry in a JSON string:
// invalid byte sequences are replaced rather than causing the whole
// payload to be rejected.
func toValidUTF8(s string) string {
	return strings.ToValidUTF8(s, "�")
}

// ReadFile reads a file from the local filesystem. An unreadable path is
// a structured failure, not an error.
func (l *Local) ReadFile(ctx context.Context, req ReadFileRequest) (ReadFileResponse, error) {
	data, err := os.ReadFile(req.Path)
	if err != nil {
		return ReadFileResponse{Success: false, FailureReason: err.Error()}, nil
	}
	return ReadFileResponse{Success: true, Content: string(data)}, nil
}

// WriteFile writes a file to the local filesystem, creating parent
// directories as needed.
func (l *Local) WriteFile(ctx context.Context, req WriteFileRequest) (WriteFileResponse, error) {
	if err := os.MkdirAll(filepath.Dir(req.Path), 0o755); err != nil {
		return WriteFileResponse{}, fmt.Errorf("runtime: creating parent dirs for %s: %w", req.Path, err)
	}
	if err := os.WriteFile(req.Path, []byte(req.Content), 0o644); err != nil {
		return WriteFileResponse{}, fmt.Errorf("runtime: writing %s: %w", req.Path, err)
	}
	return WriteFileResponse{Success: true}, nil
}

// Upload copies sourcePath (on the local machine) to targetPath within
// this same local runtime. For a Local runtime this is a plain filesystem
// copy; the zip/unzip dance in Remote exists only because that path
// crosses an HTTP boundary.
func (l *Local) Upload(ctx context.Context, sourcePath, targetPath string) error {
	info, err := os.Stat(sourcePath)
	if err != nil {
		return fmt.Errorf("runtime: stat source %s: %w", sourcePath, err)
	}
	if info.IsDir() {
		return copyDir(sourcePath, targetPath)
	}
	data, err := os.ReadFile(sourcePath)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(targetPath), 0o755); err != nil {
		return err
	}
	return os.WriteFile(targetPath, data, info.Mode())
}

func copyDir(src, dst string) error {
	return filepath.Walk(src, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(src, path)
		if err != nil {
			return err
		}
		target := filepath.Join(dst, rel)
		if info.IsDir() {
			return os.MkdirAll(target, info.Mode())
		}
		data, err := os.ReadFile(path)
		if err != nil {
			return err
		}
		return os.WriteFile(target, data, info.Mode())
	})
}

// Close is a no-op for Local: there is no remote connection to tear down,
// but open sessions are closed so nothing is leaked.
func (l *Local) Close(ctx context.Context) (CloseResponse, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	for name, sess := range l.sessions {
		sess.Close()
		delete(l.sessions, name)
	}
	return CloseResponse{}, nil
}
