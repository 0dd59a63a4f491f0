package pca

import (
	"context"
	"fmt"
)

// Source produces the observations fed to an estimator, for instance the
// per-parameter gradient of a model on example i. Every observation of a
// source has length Dim.
type Source interface {
	Len() int
	Dim() int
	Observation(i int) ([]float64, error)
}

// SliceSource is an in-memory Source, one observation per element
type SliceSource [][]float64

// Len returns the number of observations
func (s SliceSource) Len() int { return len(s) }

// Dim returns the length of the first observation, or 0 for an empty source
func (s SliceSource) Dim() int {
	if len(s) == 0 {
		return 0
	}
	return len(s[0])
}

// Observation returns observation i
func (s SliceSource) Observation(i int) ([]float64, error) {
	if i < 0 || i >= len(s) {
		return nil, fmt.Errorf("observation index %d out of range [0, %d)", i, len(s))
	}
	return s[i], nil
}

// Feed passes every observation of src to est, iterations times over. The
// context is checked between observations.
func Feed(ctx context.Context, est *Estimator, src Source, iterations int) error {
	if iterations <= 0 {
		return fmt.Errorf("%w: iterations must be positive, got %d", ErrInvalidArgument, iterations)
	}
	if src.Len() > 0 && src.Dim() != est.Dim() {
		return fmt.Errorf("%w: source dimension %d != estimator dimension %d", ErrDimensionMismatch, src.Dim(), est.Dim())
	}

	for it := 0; it < iterations; it++ {
		for i := 0; i < src.Len(); i++ {
			if err := ctx.Err(); err != nil {
				return err
			}
			x, err := src.Observation(i)
			if err != nil {
				return fmt.Errorf("iteration %d: %w", it, err)
			}
			if err := est.Observe(x); err != nil {
				return fmt.Errorf("iteration %d, observation %d: %w", it, i, err)
			}
		}
	}
	return nil
}
