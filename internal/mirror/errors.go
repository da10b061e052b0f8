package mirror

import (
	"errors"
	"fmt"
)

// ErrMalformedURL is returned when a repository URL cannot be reduced to
// host, org and name segments.
var ErrMalformedURL = errors.New("malformed repository url")

// ErrNotOpen is returned by read operations on a mirror that is absent or
// corrupt on disk.
var ErrNotOpen = errors.New("mirror is not open")

// Typed errors enabling structured classification without string parsing upstream.

// TransportError wraps network or authentication failures talking to the
// remote. Terminal for the update cycle; the orchestrating system retries on
// its own schedule.
type TransportError struct {
	Op  string
	URL string
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("%s transport error for %s: %v", e.Op, e.URL, e.Err)
}
func (e *TransportError) Unwrap() error { return e.Err }

// RefLookupError reports a remote-tracking ref that is missing after a
// successful fetch. This is an invariant violation, not a recoverable state.
type RefLookupError struct {
	Branch string
	Ref    string
}

func (e *RefLookupError) Error() string {
	return fmt.Sprintf("remote-tracking ref %s missing after fetch of branch %s", e.Ref, e.Branch)
}
