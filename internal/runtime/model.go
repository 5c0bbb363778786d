// Package runtime defines the shared request/response model for running
// commands and managing shell sessions against either a local, in-process
// runtime or a remote one reached over HTTP, and implements the local
// variant's session registry.
package runtime

import (
	"context"
	"encoding/json"
	"time"

	"github.com/samuelreed/swerex-go/internal/session"
)

// Reserved exit codes returned in place of a real process exit status when
// the runtime itself failed to recover one.
const (
	ExitSessionNotInitialized = -300
	ExitUnknownSession        = -312
	ExitCommandTimeout        = -1
	ExitCommandFailed         = -2
)

// CreateSessionRequest names a new shell session to open.
type CreateSessionRequest struct {
	Session string `json:"session"`
}

// CreateSessionResponse reports whether the session was created. Output
// carries the shell's startup banner when creation succeeded.
type CreateSessionResponse struct {
	Success       bool   `json:"success"`
	Output        string `json:"output,omitempty"`
	FailureReason string `json:"failure_reason,omitempty"`
}

// Action is the request body for running a command in an existing session.
// Timeout is in seconds; zero means the session's default.
type Action struct {
	Session              string   `json:"session"`
	Command              string   `json:"command"`
	IsInteractiveCommand bool     `json:"is_interactive_command,omitempty"`
	IsInteractiveQuit    bool     `json:"is_interactive_quit,omitempty"`
	Timeout              float64  `json:"timeout,omitempty"`
	Expect               []string `json:"expect,omitempty"`
}

// Observation is the response body for a run-in-session call.
// ExpectString names whichever sentinel matched; it is empty on timeout.
type Observation struct {
	Output        string `json:"output"`
	ExitCode      int    `json:"exit_code"`
	ExitCodeRaw   string `json:"exit_code_raw"`
	ExpectString  string `json:"expect_string,omitempty"`
	FailureReason string `json:"failure_reason,omitempty"`
}

// CloseSessionRequest names the session to tear down.
type CloseSessionRequest struct {
	Session string `json:"session"`
}

// CloseSessionResponse reports whether the session was closed.
type CloseSessionResponse struct {
	Success       bool   `json:"success"`
	FailureReason string `json:"failure_reason,omitempty"`
}

// Command is a one-shot (non-session) command to execute directly. When
// Shell is true the command is a single string run through the shell;
// otherwise it is an argv list executed directly. On the wire the
// "command" key is either a JSON string or a JSON array accordingly.
// Timeout is in seconds; zero means no timeout.
type Command struct {
	Command string
	Argv    []string
	Shell   bool
	Timeout float64
}

type commandWire struct {
	Command json.RawMessage `json:"command"`
	Shell   bool            `json:"shell"`
	Timeout float64         `json:"timeout,omitempty"`
}

func (c Command) MarshalJSON() ([]byte, error) {
	var raw json.RawMessage
	var err error
	if c.Shell {
		raw, err = json.Marshal(c.Command)
	} else {
		raw, err = json.Marshal(c.Argv)
	}
	if err != nil {
		return nil, err
	}
	return json.Marshal(commandWire{Command: raw, Shell: c.Shell, Timeout: c.Timeout})
}

func (c *Command) UnmarshalJSON(data []byte) error {
	var wire commandWire
	if err := json.Unmarshal(data, &wire); err != nil {
		return err
	}
	c.Shell = wire.Shell
	c.Timeout = wire.Timeout
	c.Command = ""
	c.Argv = nil
	if len(wire.Command) == 0 {
		return nil
	}
	if wire.Command[0] == '[' {
		return json.Unmarshal(wire.Command, &c.Argv)
	}
	return json.Unmarshal(wire.Command, &c.Command)
}

// CommandResponse is the result of a one-shot Command.
type CommandResponse struct {
	Stdout   string `json:"stdout"`
	Stderr   string `json:"stderr"`
	ExitCode int    `json:"exit_code"`
}

// ReadFileRequest names a file to read from the runtime's filesystem.
type ReadFileRequest struct {
	Path string `json:"path"`
}

// ReadFileResponse carries the file's content, or a structured failure
// when the path could not be read.
type ReadFileResponse struct {
	Success       bool   `json:"success"`
	Content       string `json:"content,omitempty"`
	FailureReason string `json:"failure_reason,omitempty"`
}

// WriteFileRequest writes content to a path on the runtime's filesystem.
type WriteFileRequest struct {
	Path    string `json:"path"`
	Content string `json:"content"`
}

// WriteFileResponse reports whether the write happened.
type WriteFileResponse struct {
	Success bool `json:"success"`
}

// IsAliveResponse reports whether a runtime is reachable and functioning.
type IsAliveResponse struct {
	IsAlive bool   `json:"is_alive"`
	Message string `json:"message,omitempty"`
}

// CloseResponse is returned by a runtime-wide Close call.
type CloseResponse struct{}

// Runtime is the capability surface shared by the in-process runtime and
// the HTTP client that talks to a remote one. Deployments expose a Runtime
// once they finish starting.
type Runtime interface {
	IsAlive(ctx context.Context) (IsAliveResponse, error)
	CreateSession(ctx context.Context, req CreateSessionRequest) (CreateSessionResponse, error)
	RunInSession(ctx context.Context, action Action) (Observation, error)
	CloseSession(ctx context.Context, req CloseSessionRequest) (CloseSessionResponse, error)
	Execute(ctx context.Context, cmd Command) (CommandResponse, error)
	ReadFile(ctx context.Context, req ReadFileRequest) (ReadFileResponse, error)
	WriteFile(ctx context.Context, req WriteFileRequest) (WriteFileResponse, error)
	Upload(ctx context.Context, sourcePath, targetPath string) error
	Close(ctx context.Context) (CloseResponse, error)
}

// sessionAction adapts the wire-level Action into the lower-level
// session.Action the shell session engine understands.
func sessionAction(a Action) session.Action {
	return session.Action{
		Command:              a.Command,
		IsInteractiveCommand: a.IsInteractiveCommand,
		IsInteractiveQuit:    a.IsInteractiveQuit,
		Timeout:              secondsToDuration(a.Timeout),
		Expect:               a.Expect,
	}
}

func secondsToDuration(seconds float64) time.Duration {
	return time.Duration(seconds * float64(time.Second))
}
