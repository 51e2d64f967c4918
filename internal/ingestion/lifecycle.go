package ingestion

import (
	"errors"
	"fmt"
)

// Sentinel errors for state transition validation.
var (
	// ErrInvalidTransition indicates a transition the lifecycle does not allow.
	ErrInvalidTransition = errors.New("invalid state transition")

	// ErrTerminalStateImmutable indicates an attempt to leave Processed or Error.
	ErrTerminalStateImmutable = errors.New("terminal state is immutable")
)

// transitions lists, for each state, the states it may move to.
//
//	Uploaded   → Queued, Received
//	Queued     → Received
//	Received   → Received, Processing, Processed, Error
//	Processing → Processing, Processed, Error
//
// Uploaded → Received covers a consumer that reads the message before the
// producer records Queued. Received → Received and Processing → Processing
// cover redelivery and per-batch progress updates.
var transitions = map[Status][]Status{
	StatusUploaded:   {StatusQueued, StatusReceived},
	StatusQueued:     {StatusReceived},
	StatusReceived:   {StatusReceived, StatusProcessing, StatusProcessed, StatusError},
	StatusProcessing: {StatusProcessing, StatusProcessed, StatusError},
}

// ValidateTransition checks a status change against the file lifecycle.
// Processed and Error are terminal: no transition leaves them, not even to themselves.
func ValidateTransition(from, to Status) error {
	if !from.IsValid() || !to.IsValid() {
		return fmt.Errorf("%w: unknown status %s → %s", ErrInvalidTransition, from, to)
	}

	if from.IsTerminal() {
		return fmt.Errorf("%w: %s → %s", ErrTerminalStateImmutable, from, to)
	}

	for _, next := range transitions[from] {
		if next == to {
			return nil
		}
	}

	return fmt.Errorf("%w: %s → %s", ErrInvalidTransition, from, to)
}

// AllowedFrom returns every state that may transition to to.
// Stores use it to express transition guards as a single conditional write.
func AllowedFrom(to Status) []Status {
	var from []Status

	for _, s := range ValidStatuses() {
		for _, next := range transitions[s] {
			if next == to {
				from = append(from, s)

				break
			}
		}
	}

	return from
}
