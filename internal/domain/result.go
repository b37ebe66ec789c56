package domain

import (
	"errors"

	errpkg "github.com/veranemoloko/download-orchestrator/internal/errors"
)

// CommandResult is the outcome of a bulk command. The command succeeds when at
// least one id succeeded or every id was skipped without failure.
type CommandResult struct {
	Succeeded []int           `json:"succeeded"`
	Skipped   []int           `json:"skipped,omitempty"`
	Failures  []*errpkg.Error `json:"failures,omitempty"`
}

// IsSuccess reports the overall outcome.
func (r *CommandResult) IsSuccess() bool {
	if len(r.Succeeded) > 0 {
		return true
	}
	return len(r.Failures) == 0
}

// AddFailure records a per-id failure.
func (r *CommandResult) AddFailure(err *errpkg.Error) {
	r.Failures = append(r.Failures, err)
}

// Err returns nil on success, otherwise all failures joined.
func (r *CommandResult) Err() error {
	if r.IsSuccess() {
		return nil
	}
	errs := make([]error, 0, len(r.Failures))
	for _, f := range r.Failures {
		errs = append(errs, f)
	}
	return errors.Join(errs...)
}

// FailuresOfKind counts failures with the given kind.
func (r *CommandResult) FailuresOfKind(kind errpkg.Kind) int {
	n := 0
	for _, f := range r.Failures {
		if f.Kind == kind {
			n++
		}
	}
	return n
}
