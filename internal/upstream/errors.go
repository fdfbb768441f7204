package upstream

import (
	"github.com/juju/errors"
)

// Upstream error kinds. Match them with errors.Is.
const (
	ErrUnreachable          = errors.ConstError("camera unreachable")
	ErrAuthenticationFailed = errors.ConstError("camera authentication failed")
	ErrMalformedResponse    = errors.ConstError("malformed camera response")
)

// Error is returned by every failed exchange with a camera.
type Error struct {
	Kind   error
	Camera string
	Err    error
}

func (e *Error) Error() string {
	msg := "camera " + e.Camera + ": " + e.Kind.Error()
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

// Is reports whether target is the error's kind.
func (e *Error) Is(target error) bool { return target == e.Kind }

func (e *Error) Unwrap() error { return e.Err }

func newError(kind error, cameraID string, cause error) *Error {
	return &Error{Kind: kind, Camera: cameraID, Err: cause}
}
