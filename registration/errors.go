package registration

import (
	"context"
	"errors"
	"fmt"
)

var (
	// ErrTransientChain marks RPC timeouts and disconnects. The cycle retries them after a backoff.
	ErrTransientChain = errors.New("transient chain error")
	// ErrBoundaryPassed is returned when the computed boundary is not ahead of the chain.
	ErrBoundaryPassed     = errors.New("admission boundary already passed")
	ErrSubscriptionClosed = errors.New("block subscription ended before the window closed")
	ErrNoSigner           = errors.New("identity has no signer")
)

// TransientError wraps a chain failure expected to go away on its own.
type TransientError struct {
	Op  string
	Err error
}

// Transient marks err as a transient chain failure of operation op.
func Transient(op string, err error) error {
	if err == nil {
		return nil
	}
	return &TransientError{Op: op, Err: err}
}

func (e *TransientError) Error() string {
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *TransientError) Unwrap() error {
	return e.Err
}

func (e *TransientError) Is(target error) bool {
	return target == ErrTransientChain
}

type Stage string

const (
	StageCompose Stage = "compose"
	StageWrap    Stage = "wrap"
	StageSubmit  Stage = "sign-and-submit"
	StagePanic   Stage = "panic"
)

// SubmissionError is a failed registration attempt for one identity.
// It never aborts the window; the identity stays a non-member until a later cycle.
type SubmissionError struct {
	Slot    int
	Address string
	Stage   Stage
	Err     error
}

func (e *SubmissionError) Error() string {
	return fmt.Sprintf("slot %d: submitting registration for %s failed at %s: %v", e.Slot, e.Address, e.Stage, e.Err)
}

func (e *SubmissionError) Unwrap() error {
	return e.Err
}

// ConfigurationError is fatal at startup.
type ConfigurationError struct {
	Reason string
	Err    error
}

func (e *ConfigurationError) Error() string {
	if e.Err == nil {
		return "configuration: " + e.Reason
	}
	return fmt.Sprintf("configuration: %s: %v", e.Reason, e.Err)
}

func (e *ConfigurationError) Unwrap() error {
	return e.Err
}

type ErrorClass int

const (
	ClassUnknown ErrorClass = iota
	ClassTransient
	ClassSubmission
	ClassConfiguration
	ClassCanceled
)

func (c ErrorClass) String() string {
	switch c {
	case ClassTransient:
		return "transient"
	case ClassSubmission:
		return "submission"
	case ClassConfiguration:
		return "configuration"
	case ClassCanceled:
		return "canceled"
	default:
		return "unknown"
	}
}

// Classify maps an error onto the bot's error taxonomy.
func Classify(err error) ErrorClass {
	var (
		submissionErr *SubmissionError
		configErr     *ConfigurationError
	)
	switch {
	case err == nil:
		return ClassUnknown
	case errors.As(err, &configErr):
		return ClassConfiguration
	case errors.As(err, &submissionErr):
		return ClassSubmission
	case errors.Is(err, ErrTransientChain), errors.Is(err, ErrSubscriptionClosed):
		return ClassTransient
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return ClassCanceled
	default:
		return ClassUnknown
	}
}
