// Package llm defines the model-invocation boundary of the pipeline and
// its AWS Bedrock implementation. Callers see one Invoke method; retry,
// circuit breaking, and error classification live behind it.
package llm

import (
	"context"
	"errors"
)

// ErrTransient marks failures worth retrying: throttling, service
// unavailability, timeouts. Anything not wrapping it is treated as fatal
// for the current attempt.
var ErrTransient = errors.New("transient llm failure")

// Request is one model invocation.
type Request struct {
	// System is the instruction prompt (the versioned prompt text).
	System string
	// Prompt is the user-turn content: document text plus any context
	// blocks the step assembles.
	Prompt string
	// MaxTokens caps the response length. Zero means the adapter default.
	MaxTokens int
	// Temperature is passed through to the model. Zero is a valid value.
	Temperature float32
}

// Response carries the model output and the trace fields recorded on
// llm_request events.
type Response struct {
	Text           string
	RequestTokens  int
	ResponseTokens int
	LatencyMS      int64
	ModelID        string
}

// Client invokes a language model. Implementations must be safe for
// concurrent use; the orchestrator bounds concurrency with a semaphore
// above this interface.
type Client interface {
	Invoke(ctx context.Context, req Request) (*Response, error)
}

// IsRetryable reports whether an invocation error is transient.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrTransient)
}
