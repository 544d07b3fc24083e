package core

import (
	"errors"
	"fmt"
)

// Domain errors - centralized error definitions
var (
	// Specification errors: malformed factor declarations, raised before any table is built
	ErrInvalidSpec      = errors.New("invalid design specification")
	ErrUnbalancedDesign = fmt.Errorf("%w: unbalanced between-factor grouping", ErrInvalidSpec)
	ErrNameCollision    = fmt.Errorf("%w: factor name collision", ErrInvalidSpec)
	ErrEmptyPool        = fmt.Errorf("%w: empty continuous value pool", ErrInvalidSpec)

	// Argument errors: bad run parameters, raised before the trial loop starts
	ErrInvalidArgument = errors.New("invalid argument")
	ErrLengthMismatch  = fmt.Errorf("%w: parameter length mismatch", ErrInvalidArgument)

	// Per-trial failures, recovered locally by the trial runner
	ErrTrialFitFailure = errors.New("model fit failed")
	ErrNotConverged    = fmt.Errorf("%w: did not converge", ErrTrialFitFailure)
	ErrRankDeficient   = fmt.Errorf("%w: rank-deficient fixed-effect matrix", ErrTrialFitFailure)

	// Aggregation
	ErrAggregationUnderflow = errors.New("no successful trials to aggregate")
)

// Error constructors with context
func NewSpecError(factor string, reason string) error {
	return fmt.Errorf("%w: factor %q: %s", ErrInvalidSpec, factor, reason)
}

func NewArgumentError(param string, reason string) error {
	return fmt.Errorf("%w: %s: %s", ErrInvalidArgument, param, reason)
}

func NewLengthMismatchError(param string, got, want int) error {
	return fmt.Errorf("%w: %s has %d entries, reference model has %d", ErrLengthMismatch, param, got, want)
}

func NewFitError(trial int, err error) error {
	return fmt.Errorf("trial %d: %w", trial, err)
}

// Error checking helpers
func IsInvalidSpec(err error) bool {
	return errors.Is(err, ErrInvalidSpec)
}

func IsInvalidArgument(err error) bool {
	return errors.Is(err, ErrInvalidArgument)
}

func IsFitFailure(err error) bool {
	return errors.Is(err, ErrTrialFitFailure)
}

// IsCallerError reports whether err should be corrected by the caller rather than retried.
func IsCallerError(err error) bool {
	return IsInvalidSpec(err) || IsInvalidArgument(err)
}
