package engine

import (
	"errors"
	"fmt"

	"github.com/Southclaws/fault"
	"github.com/Southclaws/fault/fmsg"
	"github.com/Southclaws/fault/ftag"
)

// ErrInvariant marks a broken internal invariant. It is the only error that
// stops the engine.
var ErrInvariant = errors.New("sequencer invariant violated")

// invalid builds a validation error. The command is rejected and state is
// left untouched.
func invalid(format string, args ...any) error {
	msg := fmt.Sprintf(format, args...)
	return fault.New(msg, fmsg.WithDesc(msg, msg), ftag.With(ftag.InvalidArgument))
}

// rejected tags err as a validation failure.
func rejected(err error) error {
	return fault.Wrap(err, fmsg.WithDesc(err.Error(), err.Error()), ftag.With(ftag.InvalidArgument))
}

// storageFailed wraps a storage failure, keeping the tag storage set.
func storageFailed(err error, msg string) error {
	return fault.Wrap(err, fmsg.With(msg))
}

// sampleFailed wraps a sample that could not be decoded.
func sampleFailed(err error, path string) error {
	return fault.Wrap(err, fmsg.WithDesc("load sample "+path, "Cannot load sample "+path), ftag.With(ftag.NotFound))
}

// IsValidation reports whether err rejected a malformed command.
func IsValidation(err error) bool {
	return ftag.Get(err) == ftag.InvalidArgument
}

// Describe returns the user-facing message for err.
func Describe(err error) string {
	if issue := fmsg.GetIssue(err); issue != "" {
		return issue
	}
	return err.Error()
}

func inRange(name string, v, lo, hi int) error {
	if v < lo || v > hi {
		return invalid("%s %d out of range %d-%d", name, v, lo, hi)
	}
	return nil
}
