// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package session

import (
	"errors"
	"fmt"
)

// Sentinel errors
var (
	// ErrUnrecognizedChannel marks a notification whose channel is not in the channel map
	ErrUnrecognizedChannel = errors.New("unrecognized channel")

	// ErrInvalidTransition is matched by every InvalidTransitionError
	ErrInvalidTransition = errors.New("invalid session transition")

	// ErrSourceClosed is returned by Pump.Run when the notification source closes
	ErrSourceClosed = errors.New("notification source closed")
)

// InvalidTransitionError reports a state change that the session does not allow.
// The state is unchanged when it is returned.
type InvalidTransitionError struct {
	Op        string
	Connected bool
	Streaming bool
}

// Error implements the error interface
func (e *InvalidTransitionError) Error() string {
	switch {
	case !e.Connected:
		return fmt.Sprintf("cannot %s: not connected", e.Op)
	case e.Streaming:
		return fmt.Sprintf("cannot %s: already streaming", e.Op)
	default:
		return fmt.Sprintf("cannot %s", e.Op)
	}
}

// Is makes errors.Is(err, ErrInvalidTransition) succeed
func (e *InvalidTransitionError) Is(target error) bool {
	return target == ErrInvalidTransition
}

// TransportError wraps a failed collaborator call with the operation that failed
type TransportError struct {
	Op  string
	Err error
}

// Error implements the error interface
func (e *TransportError) Error() string {
	return fmt.Sprintf("transport %s: %v", e.Op, e.Err)
}

// Unwrap returns the underlying transport error
func (e *TransportError) Unwrap() error {
	return e.Err
}

func transportError(op string, err error) error {
	if err == nil {
		return nil
	}
	return &TransportError{Op: op, Err: err}
}
