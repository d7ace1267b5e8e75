package statuscode

import (
	"github.com/go-ctap/largeblobs/pkg/ctaptypes"
)

// Error is a CTAP-level failure: the command that failed plus the status
// code the outer layer serializes into the response frame.
type Error struct {
	Command    ctaptypes.Command
	StatusCode StatusCode
}

func NewError(cmd ctaptypes.Command, code StatusCode) *Error {
	return &Error{
		Command:    cmd,
		StatusCode: code,
	}
}

func (e *Error) Error() string {
	return e.Command.String() + " failed (" + e.StatusCode.String() + ")"
}

// Is lets callers match on the status code alone:
// errors.Is(err, &Error{StatusCode: CTAP1_ERR_INVALID_SEQ}).
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	if t.Command != 0 && t.Command != e.Command {
		return false
	}
	return t.StatusCode == e.StatusCode
}
