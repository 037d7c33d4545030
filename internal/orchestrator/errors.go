package orchestrator

import "fmt"

// StreamError reports a failure during a generation run after the placeholder
// message was created. The accumulated partial output has already been
// persisted with the message finalized; callers get the error for logging and
// retry flows.
type StreamError struct {
	// Phase is where the failure happened: "provider" or "tool".
	Phase string

	// Step is the model turn (1-based) during which the failure occurred.
	Step int

	Cause error
}

func (e *StreamError) Error() string {
	return fmt.Sprintf("generation failed during %s at step %d: %v", e.Phase, e.Step, e.Cause)
}

func (e *StreamError) Unwrap() error {
	return e.Cause
}
