package pca

import "errors"

// Sentinel errors returned by the estimator. They are always wrapped with the
// offending values, so compare with errors.Is.
var (
	// ErrInvalidArgument indicates bad construction parameters or a non-finite observation.
	ErrInvalidArgument = errors.New("invalid argument")

	// ErrDimensionMismatch indicates an observation or buffer of the wrong size.
	ErrDimensionMismatch = errors.New("dimension mismatch")

	// ErrNumericalFailure indicates that the Gram eigendecomposition did not converge.
	// The estimator that returned it must be discarded.
	ErrNumericalFailure = errors.New("numerical failure")
)
