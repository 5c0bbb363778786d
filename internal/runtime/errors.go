package runtime

import "fmt"

// Known remote exception kinds a deployment's server can report back via
// the swerexception transfer envelope, keyed by the trailing component of
// the dotted class path it sends. Unrecognized class paths fall back to a
// generic RemoteRuntimeError.
var knownExceptions = map[string]func(message string) error{
	"SessionExistsError":         func(m string) error { return &SessionExistsError{Message: m} },
	"SessionNotInitializedError": func(m string) error { return &SessionNotInitializedError{Message: m} },
	"SessionDoesNotExistError":   func(m string) error { return &SessionDoesNotExistError{Message: m} },
	"CommandTimeoutError":        func(m string) error { return &CommandTimeoutError{Message: m} },
	"DeploymentNotStartedError":  func(m string) error { return &DeploymentNotStartedError{Message: m} },
}

// SessionExistsError is raised when creating a session under a name that
// is already in use.
type SessionExistsError struct{ Message string }

func (e *SessionExistsError) Error() string { return e.Message }

// SessionNotInitializedError is raised when an operation requires a
// session that was never created.
type SessionNotInitializedError struct{ Message string }

func (e *SessionNotInitializedError) Error() string { return e.Message }

// SessionDoesNotExistError is raised when referencing an unknown session
// name.
type SessionDoesNotExistError struct{ Message string }

func (e *SessionDoesNotExistError) Error() string { return e.Message }

// CommandTimeoutError is raised when a command exceeds its timeout.
type CommandTimeoutError struct{ Message string }

func (e *CommandTimeoutError) Error() string { return e.Message }

// DeploymentNotStartedError is reconstructed from a remote server's
// transfer envelope reporting a deployment that has not started. The
// deployments in this module return deployment.ErrNotStarted from
// Runtime() instead of this type.
type DeploymentNotStartedError struct{ Message string }

func (e *DeploymentNotStartedError) Error() string {
	if e.Message == "" {
		return "deployment not started"
	}
	return e.Message
}

// RemoteRuntimeError is the fallback error kind used when a remote
// exception transfer names a class this client doesn't recognize.
type RemoteRuntimeError struct {
	ClassPath string
	Message   string
	Traceback string
}

func (e *RemoteRuntimeError) Error() string {
	if e.ClassPath == "" {
		return e.Message
	}
	return fmt.Sprintf("%s: %s", e.ClassPath, e.Message)
}

// exceptionTransfer is the JSON envelope a remote server sends back on
// HTTP 511 to let a typed exception survive the network hop.
type exceptionTransfer struct {
	ClassPath string `json:"class_path"`
	Message   string `json:"message"`
	Traceback string `json:"traceback"`
}

// reconstruct turns an exceptionTransfer into a Go error, preferring a
// known local type matched by the trailing component of the dotted class
// path and falling back to RemoteRuntimeError otherwise.
func (t exceptionTransfer) reconstruct() error {
	name := t.ClassPath
	if idx := lastDot(t.ClassPath); idx >= 0 {
		name = t.ClassPath[idx+1:]
	}
	if ctor, ok := knownExceptions[name]; ok {
		return ctor(t.Message)
	}
	return &RemoteRuntimeError{ClassPath: t.ClassPath, Message: t.Message, Traceback: t.Traceback}
}

func lastDot(s string) int {
	for i := len(s) - 1; i >= 0; i-- {
		if s[i] == '.' {
			return i
		}
	}
	return -1
}

// TransportError wraps any non-2xx, non-511 HTTP response from a remote
// runtime.
type TransportError struct {
	StatusCode int
	Body       string
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("remote runtime returned status %d: %s", e.StatusCode, e.Body)
}
