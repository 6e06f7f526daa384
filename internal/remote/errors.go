package remote

import "fmt"

// ErrorKind classifies a remote call failure so callers can tell a
// transient network fault from a credential problem or a domain rejection.
type ErrorKind int

const (
	KindConnectivity ErrorKind = iota
	KindAuth
	KindRemoteRejected
	KindMalformedResponse
)

func (k ErrorKind) String() string {
	switch k {
	case KindConnectivity:
		return "connectivity"
	case KindAuth:
		return "auth"
	case KindRemoteRejected:
		return "remote_rejected"
	case KindMalformedResponse:
		return "malformed_response"
	}
	return "unknown"
}

// Error is a structured remote call failure. The underlying transport or
// decode error is preserved for unwrapping.
type Error struct {
	Kind       ErrorKind
	Op         string
	StatusCode int
	Message    string
	Err        error
}

func (e *Error) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("remote %s: %s: HTTP %d: %s", e.Op, e.Kind, e.StatusCode, e.Message)
	}
	if e.Err != nil {
		return fmt.Sprintf("remote %s: %s: %v", e.Op, e.Kind, e.Err)
	}
	return fmt.Sprintf("remote %s: %s: %s", e.Op, e.Kind, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Retryable reports whether the failure is worth retrying: connectivity
// faults and remote 5xx rejections are transient, everything else is not.
func (e *Error) Retryable() bool {
	if e.Kind == KindConnectivity {
		return true
	}
	return e.Kind == KindRemoteRejected && e.StatusCode >= 500
}
