// Package pipeline implements the per-document step functions: OCR,
// classification, generic and series summarization, filing, scoring,
// series regeneration, and file summary generation. Steps perform exactly
// one lifecycle transition; retry accounting lives in the orchestrator.
package pipeline

import (
	"context"
	"errors"
	"fmt"

	"github.com/docuflow/docuflow/pkg/database"
	"github.com/docuflow/docuflow/pkg/llm"
	"github.com/docuflow/docuflow/pkg/store"
)

// Kind classifies a step failure for the orchestrator's retry accounting.
type Kind string

const (
	// KindTransient failures consume retry budget and are retried.
	KindTransient Kind = "transient"
	// KindFatal failures also consume retry budget: the cause looks
	// deterministic (malformed model output, bad data) but model calls
	// are not, so the budget gives them a second chance.
	KindFatal Kind = "fatal"
	// KindFatalNoRetry failures fail the document immediately. Empty OCR
	// output and unsupported inputs land here.
	KindFatalNoRetry Kind = "fatal_no_retry"
	// KindConflict means another worker advanced the row first. Benign.
	KindConflict Kind = "conflict"
	// KindLockTimeout means an advisory lock wait expired. The step
	// yields and is retried on a later tick without consuming budget.
	KindLockTimeout Kind = "lock_timeout"
	// KindCancelled means shutdown interrupted the step before its
	// result write.
	KindCancelled Kind = "cancelled"
)

// StepError carries a failure kind through the step boundary.
type StepError struct {
	Kind Kind
	Err  error
}

func (e *StepError) Error() string {
	return fmt.Sprintf("%s: %v", e.Kind, e.Err)
}

func (e *StepError) Unwrap() error {
	return e.Err
}

func fatalNoRetry(format string, args ...any) error {
	return &StepError{Kind: KindFatalNoRetry, Err: fmt.Errorf(format, args...)}
}

func fatal(format string, args ...any) error {
	return &StepError{Kind: KindFatal, Err: fmt.Errorf(format, args...)}
}

// ClassifyErr maps any step error onto a Kind. Explicit StepError kinds
// win; sentinels from the store, lock, and adapter layers are recognized;
// everything else counts as transient so infrastructure blips consume
// budget instead of failing documents outright.
func ClassifyErr(err error) Kind {
	var step *StepError
	if errors.As(err, &step) {
		return step.Kind
	}
	switch {
	case errors.Is(err, store.ErrConflict):
		return KindConflict
	case errors.Is(err, database.ErrLockTimeout):
		return KindLockTimeout
	case errors.Is(err, context.Canceled):
		return KindCancelled
	case llm.IsRetryable(err), errors.Is(err, context.DeadlineExceeded):
		return KindTransient
	}
	return KindTransient
}
