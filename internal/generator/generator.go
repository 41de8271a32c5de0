package generator

import (
	"context"
	"fmt"
)

// FailureKind classifies why a generation attempt failed. Every error
// returned by a ReplyGenerator carries exactly one of these.
type FailureKind string

const (
	KindUnconfigured FailureKind = "unconfigured"
	KindRateLimited  FailureKind = "rate_limited"
	KindOverloaded   FailureKind = "overloaded"
	KindNetwork      FailureKind = "network"
	KindUnknown      FailureKind = "unknown"
)

// Error is a classified generation failure. The underlying provider error is
// preserved for server-side logging but callers branch on Kind only.
type Error struct {
	Kind FailureKind
	Err  error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("generation failed (%s): %s", e.Kind, e.Err.Error())
	}
	return fmt.Sprintf("generation failed (%s)", e.Kind)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// ReplyGenerator produces assistant text for a user prompt. Implementations
// make exactly one attempt per call and never return a raw provider error;
// failures always arrive as *Error. Retry policy belongs to the caller.
type ReplyGenerator interface {
	Generate(ctx context.Context, prompt string) (string, error)
}
