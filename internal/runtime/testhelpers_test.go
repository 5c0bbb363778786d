package runtime

import (
	"context"
	"errors"
)

func newCtx() context.Context {
	return context.Background()
}

// asTarget is a small wrapper around errors.As for tests, to keep call
// sites in this file terse.
func asTarget(err error, target any) bool {
	switch t := target.(type) {
	case **SessionDoesNotExistError:
		return errors.As(err, t)
	case **RemoteRuntimeError:
		return errors.As(err, t)
	case **TransportError:
		return errors.As(err, t)
	default:
		return false
	}
}
