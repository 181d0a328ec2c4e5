package models

import (
	"errors"
	"fmt"
)

// ============================================================================
// Failure Taxonomy
//
// Every failure the engine can surface is tagged with an ErrorKind so that
// callers branch on classification, never on message text. The split that
// matters operationally is retryable vs. permanent:
//
//   retryable: KindTxFailed (a specific store read/write failed),
//              KindNetwork (5xx, transport failure, timeout)
//   permanent: everything else; retrying cannot change resource
//              exhaustion, a missing credential, or a caller bug.
// ============================================================================

// ErrorKind classifies a failure for retry and propagation decisions.
type ErrorKind int

const (
	KindUnknown ErrorKind = iota
	KindStoreUnavailable
	KindQuotaExceeded
	KindTxFailed
	KindNotFound
	KindAuth
	KindNetwork
	KindHTTP
	KindQueue
)

// String returns the stable name used in logs and API error payloads.
func (k ErrorKind) String() string {
	switch k {
	case KindStoreUnavailable:
		return "store_unavailable"
	case KindQuotaExceeded:
		return "quota_exceeded"
	case KindTxFailed:
		return "transaction_failed"
	case KindNotFound:
		return "not_found"
	case KindAuth:
		return "auth_error"
	case KindNetwork:
		return "network_error"
	case KindHTTP:
		return "http_error"
	case KindQueue:
		return "queue_operation_failed"
	default:
		return "unknown"
	}
}

// SyncError is a failure tagged with its kind. It wraps the underlying
// cause so errors.Is/As still see driver and transport errors.
type SyncError struct {
	Kind ErrorKind
	Msg  string
	Err  error
}

func (e *SyncError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Msg, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Msg)
}

func (e *SyncError) Unwrap() error { return e.Err }

// NewError creates a tagged error with no underlying cause.
func NewError(kind ErrorKind, msg string) error {
	return &SyncError{Kind: kind, Msg: msg}
}

// WrapError tags an underlying error with a kind and context message.
// A nil err returns nil so call sites can wrap unconditionally.
func WrapError(kind ErrorKind, err error, msg string) error {
	if err == nil {
		return nil
	}
	return &SyncError{Kind: kind, Msg: msg, Err: err}
}

// KindOf extracts the classification from an error chain.
// Untagged errors report KindUnknown.
func KindOf(err error) ErrorKind {
	var se *SyncError
	if errors.As(err, &se) {
		return se.Kind
	}
	return KindUnknown
}

// Retryable reports whether the failure class is transient.
// Unknown errors are treated as retryable: an unclassified failure from a
// driver or transport is more likely transient than a caller bug.
func Retryable(err error) bool {
	switch KindOf(err) {
	case KindTxFailed, KindNetwork, KindUnknown:
		return true
	default:
		return false
	}
}

// IsNotFound reports whether the error chain is a missing-key failure.
func IsNotFound(err error) bool {
	return KindOf(err) == KindNotFound
}
