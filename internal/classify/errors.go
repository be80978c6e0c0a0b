package classify

import "errors"

var (
	// ErrNotFinished is returned by Retry outside success and error.
	ErrNotFinished = errors.New("classify: attempt still running")

	// ErrClosed is returned by Start and Retry after Close.
	ErrClosed = errors.New("classify: workflow closed")

	// ErrAlreadyStarted is returned by a second Start.
	ErrAlreadyStarted = errors.New("classify: workflow already started")
)

// Error messages surfaced in Snapshot.Error.
const (
	MsgFailed   = "Classification failed"
	MsgBusy     = "Classification system is busy. Please wait."
	MsgTimedOut = "Classification timed out."
)

func errorf(msg string) error {
	return errors.New("classify: " + msg)
}
