package sync

import (
	"errors"
	"fmt"
)

// Errors returned by the sync engine.
//
// These errors can be checked using errors.Is():
//
//	if errors.Is(err, sync.ErrTransportUnreachable) {
//	    // retry later
//	}
var (
	// ErrTransportUnreachable is returned when the remote service cannot be
	// reached (network failure, gateway timeout, service unavailable).
	ErrTransportUnreachable = errors.New("remote service unreachable")

	// ErrRemoteRejected is returned when the remote service refused a
	// request.
	ErrRemoteRejected = errors.New("remote service rejected request")

	// ErrMalformedResponse is returned when a remote response could not be
	// understood.
	ErrMalformedResponse = errors.New("malformed remote response")

	// ErrLocalStorage is returned when the local store failed.
	ErrLocalStorage = errors.New("local storage failure")

	// ErrUnresolvedReference is returned for a record whose parent has no
	// remote id yet.
	ErrUnresolvedReference = errors.New("unresolved parent reference")

	// ErrAlreadyRunning is returned by RunPass while another pass is in
	// flight.
	ErrAlreadyRunning = errors.New("sync pass already running")
)

// FailureKind classifies a gateway failure.
type FailureKind int

const (
	FailureUnreachable FailureKind = iota
	FailureRejected
	FailureMalformed
)

func (k FailureKind) String() string {
	switch k {
	case FailureUnreachable:
		return "unreachable"
	case FailureRejected:
		return "rejected"
	case FailureMalformed:
		return "malformed"
	}
	return fmt.Sprintf("FailureKind(%d)", int(k))
}

// GatewayError is a structured failure reported by a Gateway.
type GatewayError struct {
	Kind   FailureKind
	Status int    // HTTP status, 0 when no response was received
	Reason string // server-provided or transport message
	Err    error
}

func (e *GatewayError) Error() string {
	msg := "remote " + e.Kind.String()
	if e.Status != 0 {
		msg += fmt.Sprintf(" (status %d)", e.Status)
	}
	if e.Reason != "" {
		msg += ": " + e.Reason
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *GatewayError) Unwrap() error {
	return e.Err
}

// Is matches the sentinel for the failure kind.
func (e *GatewayError) Is(target error) bool {
	switch e.Kind {
	case FailureUnreachable:
		return target == ErrTransportUnreachable
	case FailureRejected:
		return target == ErrRemoteRejected
	case FailureMalformed:
		return target == ErrMalformedResponse
	}
	return false
}

// Unreachable returns a GatewayError for a transport failure.
func Unreachable(reason string, err error) *GatewayError {
	return &GatewayError{Kind: FailureUnreachable, Reason: reason, Err: err}
}

// Rejected returns a GatewayError for a refused request.
func Rejected(status int, reason string) *GatewayError {
	return &GatewayError{Kind: FailureRejected, Status: status, Reason: reason}
}

// Malformed returns a GatewayError for an undecodable response.
func Malformed(reason string, err error) *GatewayError {
	return &GatewayError{Kind: FailureMalformed, Reason: reason, Err: err}
}

// StorageError wraps a failure of the local store.
type StorageError struct {
	Op  string
	Err error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("local storage: failed to %s: %v", e.Op, e.Err)
}

func (e *StorageError) Unwrap() error {
	return e.Err
}

func (e *StorageError) Is(target error) bool {
	return target == ErrLocalStorage
}

func storageErr(op string, err error) error {
	return &StorageError{Op: op, Err: err}
}

// FailureReason is the coarse reason reported for a failed pass.
type FailureReason string

const (
	ReasonNone               FailureReason = ""
	ReasonNetworkUnreachable FailureReason = "network-unreachable"
	ReasonRemoteRejected     FailureReason = "remote-rejected"
	ReasonLocalStorage       FailureReason = "local-storage-error"
)

// ReasonOf maps an error to the reason reported to observers. Malformed
// responses and unresolved references report as remote-rejected.
func ReasonOf(err error) FailureReason {
	switch {
	case err == nil:
		return ReasonNone
	case errors.Is(err, ErrLocalStorage):
		return ReasonLocalStorage
	case errors.Is(err, ErrTransportUnreachable):
		return ReasonNetworkUnreachable
	default:
		return ReasonRemoteRejected
	}
}
