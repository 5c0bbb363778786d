package session

import (
	"errors"
	"os"
	"os/exec"
	"strings"
	"time"

	"golang.org/x/sys/unix"
)

func newBashCmd() *exec.Cmd {
	cmd := exec.Command("/bin/bash")
	cmd.Env = append(os.Environ(), "TERM=xterm")
	return cmd
}

// expect reads from the PTY until one of targets appears in the
// accumulated buffer or the deadline elapses. It returns everything read
// before the first matching target and which target matched. Bytes that
// arrive after the match in the same read are carried over into the next
// expect call rather than dropped, so a prompt and the output following
// it are never lost to chunk boundaries.
func (s *Session) expect(targets []string, timeout time.Duration) (string, string, error) {
	acc := s.pending
	s.pending = ""
	if before, matched, ok := matchAny(acc, targets); ok {
		s.pending = acc[len(before)+len(matched):]
		return before, matched, nil
	}

	f, ok := s.pty.f.(*os.File)
	if !ok {
		return "", "", errors.New("session: pty handle does not support deadlines")
	}

	deadline := time.Now().Add(timeout)
	if err := f.SetReadDeadline(deadline); err != nil {
		return "", "", err
	}
	defer f.SetReadDeadline(time.Time{})

	chunk := make([]byte, 4096)
	for {
		n, err := s.reader.Read(chunk)
		if n > 0 {
			acc += string(chunk[:n])
			if before, matched, ok := matchAny(acc, targets); ok {
				s.pending = acc[len(before)+len(matched):]
				return before, matched, nil
			}
		}
		if err != nil {
			s.pending = acc
			if os.IsTimeout(err) {
				return acc, "", errTimeout
			}
			return acc, "", err
		}
	}
}

// matchAny finds the earliest occurrence of any target in acc, preferring
// the earlier-listed target on a tie so caller-supplied expects win over
// the prompt sentinel the way an ordered expect list should.
func matchAny(acc string, targets []string) (before, matched string, ok bool) {
	best := -1
	for _, t := range targets {
		if t == "" {
			continue
		}
		if idx := strings.Index(acc, t); idx >= 0 && (best < 0 || idx < best) {
			best = idx
			matched = t
		}
	}
	if best < 0 {
		return "", "", false
	}
	return acc[:best], matched, true
}

var errTimeout = errors.New("session: expect timed out")

// setEcho toggles local echo on the PTY before the shell's own
// "stty -echo" takes effect, so no duplicate characters appear while an
// interactive sub-REPL is being quit out of. Best-effort: not every
// platform PTY master supports a termios query from this side, and
// failure here is non-fatal since the in-shell "stty -echo" still runs.
func (s *Session) setEcho(on bool) error {
	f, ok := s.pty.f.(*os.File)
	if !ok {
		return nil
	}
	termios, err := unix.IoctlGetTermios(int(f.Fd()), ioctlGetTermios)
	if err != nil {
		return nil
	}
	if on {
		termios.Lflag |= unix.ECHO
	} else {
		termios.Lflag &^= unix.ECHO
	}
	_ = unix.IoctlSetTermios(int(f.Fd()), ioctlSetTermios, termios)
	return nil
}
