package release

import (
	"errors"
	"fmt"
)

// ErrReleaseNotFound is returned when a requested tag does not exist
// upstream, or when the remote has no tags at all.
var ErrReleaseNotFound = errors.New("release not found")

// FetchError wraps a failed fetch. The prior release record and the
// target tree are guaranteed untouched when this is returned.
type FetchError struct {
	Tag string
	Err error
}

func (e *FetchError) Error() string {
	return fmt.Sprintf("fetch release %s: %v", e.Tag, e.Err)
}

func (e *FetchError) Unwrap() error { return e.Err }

// PushError wraps a failed push. Pushes are never retried
// automatically: conflicts need an operator.
type PushError struct {
	Err error
}

func (e *PushError) Error() string {
	return fmt.Sprintf("push release: %v", e.Err)
}

func (e *PushError) Unwrap() error { return e.Err }
