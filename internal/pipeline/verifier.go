package pipeline

import (
	"context"
	"errors"

	"github.com/foremanlabs/foreman/internal/task"
)

// Verifier inspects the work an agent pushed to a task branch and returns
// a verdict with structured findings. Implementations run builds, linters,
// or a reviewing agent; the pipeline only consumes the verdict.
type Verifier interface {
	Verify(ctx context.Context, projectDir, branch string) (*task.QCResult, error)
}

// ErrVerifierUnavailable marks a verification that could not run at all,
// as opposed to one that ran and rejected the work.
var ErrVerifierUnavailable = errors.New("verifier unavailable")
