package types

import (
	"errors"
	"fmt"
	"time"
)

var (
	// ErrDeviceBusy is returned when a command is issued to a device session
	// that still has a command in flight
	ErrDeviceBusy = errors.New("device is busy with another command")

	// ErrUserDeclined is the expected outcome when the user rejects an action
	// on the device. It is a cancellation, not a failure.
	ErrUserDeclined = errors.New("action declined by the user")

	// ErrPayloadFrozen is returned when trying to change the transaction of a
	// proposal that already carries signatures
	ErrPayloadFrozen = errors.New("transaction is frozen once a signature has been added")

	// ErrThresholdNotMet is returned when submitting a proposal that lacks signatures
	ErrThresholdNotMet = errors.New("signature threshold not met")

	// ErrProposalExpired is returned when acting on a proposal whose transaction expired
	ErrProposalExpired = errors.New("transaction expiry has passed")

	// ErrUnknownSlot is returned for signature indices that are not part of a proposal
	ErrUnknownSlot = errors.New("signature index is not a slot of this proposal")

	// ErrNotFound is returned by lookups of unknown proposals
	ErrNotFound = errors.New("not found")
)

// EncodingError reports a value that cannot be represented in the wire format
type EncodingError struct {
	Field  string
	Reason string
}

func NewEncodingError(field string, format string, args ...interface{}) *EncodingError {
	return &EncodingError{Field: field, Reason: fmt.Sprintf(format, args...)}
}

func (e *EncodingError) Error() string {
	return fmt.Sprintf("cannot encode %s: %s", e.Field, e.Reason)
}

// DecodingError reports malformed or truncated serialized input
type DecodingError struct {
	Offset int
	Reason string
	Err    error
}

func NewDecodingError(offset int, format string, args ...interface{}) *DecodingError {
	return &DecodingError{Offset: offset, Reason: fmt.Sprintf(format, args...)}
}

func (e *DecodingError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("cannot decode at offset %d: %s: %v", e.Offset, e.Reason, e.Err)
	}
	return fmt.Sprintf("cannot decode at offset %d: %s", e.Offset, e.Reason)
}

func (e *DecodingError) Unwrap() error {
	return e.Err
}

// TimeoutError is returned when an operation exceeded its deadline. The
// remote side may still be alive, so callers should offer a retry.
type TimeoutError struct {
	Op       string
	Deadline time.Duration
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("%s timed out after %s", e.Op, e.Deadline)
}

func (e *TimeoutError) Timeout() bool   { return true }
func (e *TimeoutError) Retryable() bool { return true }

// InvalidSignatureError is returned when a signature does not verify against
// the digest it was requested for. It is fatal for the slot.
type InvalidSignatureError struct {
	Index  SignatureIndex
	Digest Hash
	Reason string
}

func (e *InvalidSignatureError) Error() string {
	return fmt.Sprintf("invalid signature for slot %s over digest %s: %s", e.Index, e.Digest, e.Reason)
}

// SubmissionError is a network level failure to hand a transaction to a node.
// Resubmitting the same signed bytes is always safe.
type SubmissionError struct {
	StatusCode int
	Err        error
}

func (e *SubmissionError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("submission failed with status %d: %v", e.StatusCode, e.Err)
	}
	return fmt.Sprintf("submission failed: %v", e.Err)
}

func (e *SubmissionError) Unwrap() error   { return e.Err }
func (e *SubmissionError) Retryable() bool { return true }

// TransitionError reports an illegal proposal status change
type TransitionError struct {
	From string
	To   string
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("illegal proposal transition %s -> %s", e.From, e.To)
}

type retryable interface {
	Retryable() bool
}

// IsRetryable reports whether err is transient: busy devices, timeouts,
// transport failures and network submission errors.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrDeviceBusy) {
		return true
	}
	var r retryable
	if errors.As(err, &r) {
		return r.Retryable()
	}
	return false
}

// IsCancellation reports whether err is a user decision rather than a failure
func IsCancellation(err error) bool {
	return errors.Is(err, ErrUserDeclined)
}
