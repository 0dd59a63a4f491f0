package pca

import (
	"context"
	"fmt"
	"sort"

	"golang.org/x/sync/errgroup"
	"gonum.org/v1/gonum/mat"
)

// Eigen is a snapshot of the leading eigenpairs of one estimator
type Eigen struct {
	Values  []float64
	Vectors *mat.Dense // eigenvectors on the rows, not unit length
}

// Group drives a set of named estimators, typically one per tracked parameter
// group of a model. Calls on a group fan out to the estimators concurrently,
// each estimator being touched by a single goroutine per call.
//
// The methods of a Group must not be called concurrently with each other.
type Group struct {
	estimators map[string]*Estimator
	names      []string // sorted
}

// NewGroup creates an empty group
func NewGroup() *Group {
	return &Group{estimators: make(map[string]*Estimator)}
}

// Add registers est under name
func (g *Group) Add(name string, est *Estimator) error {
	if est == nil {
		return fmt.Errorf("%w: nil estimator for group %q", ErrInvalidArgument, name)
	}
	if _, ok := g.estimators[name]; ok {
		return fmt.Errorf("%w: duplicate group %q", ErrInvalidArgument, name)
	}
	g.estimators[name] = est
	g.names = append(g.names, name)
	sort.Strings(g.names)
	return nil
}

// Estimator returns the estimator registered under name
func (g *Group) Estimator(name string) (*Estimator, bool) {
	est, ok := g.estimators[name]
	return est, ok
}

// Names returns the registered group names in sorted order
func (g *Group) Names() []string {
	names := make([]string, len(g.names))
	copy(names, g.names)
	return names
}

// ObserveAll passes one observation to each named estimator. Unknown names
// and observations that Observe would reject fail the call before any
// estimator is touched, so a rejected call leaves the whole group unchanged.
// Otherwise the first error cancels the remaining work and is returned.
func (g *Group) ObserveAll(ctx context.Context, observations map[string][]float64) error {
	for name, x := range observations {
		est, ok := g.estimators[name]
		if !ok {
			return fmt.Errorf("%w: unknown group %q", ErrInvalidArgument, name)
		}
		if err := est.check(x); err != nil {
			return fmt.Errorf("group %q: %w", name, err)
		}
	}

	eg, egCtx := errgroup.WithContext(ctx)
	for name, x := range observations {
		est := g.estimators[name]
		eg.Go(func() error {
			if err := egCtx.Err(); err != nil {
				return err
			}
			if err := est.Observe(x); err != nil {
				return fmt.Errorf("group %q: %w", name, err)
			}
			return nil
		})
	}
	return eg.Wait()
}

// FeedAll runs Feed for every named source against its estimator
// concurrently. Unknown names, source dimensions and failed estimators are
// checked before any estimator is touched. Bad values inside a source are
// only found while feeding it.
func (g *Group) FeedAll(ctx context.Context, sources map[string]Source, iterations int) error {
	if iterations <= 0 {
		return fmt.Errorf("%w: iterations must be positive, got %d", ErrInvalidArgument, iterations)
	}
	for name, src := range sources {
		est, ok := g.estimators[name]
		if !ok {
			return fmt.Errorf("%w: unknown group %q", ErrInvalidArgument, name)
		}
		if est.failed {
			return fmt.Errorf("group %q: %w: estimator is unusable after a failed reevaluation", name, ErrNumericalFailure)
		}
		if src.Len() > 0 && src.Dim() != est.Dim() {
			return fmt.Errorf("group %q: %w: source dimension %d != estimator dimension %d", name, ErrDimensionMismatch, src.Dim(), est.Dim())
		}
	}

	eg, egCtx := errgroup.WithContext(ctx)
	for name, src := range sources {
		est := g.estimators[name]
		eg.Go(func() error {
			if err := Feed(egCtx, est, src, iterations); err != nil {
				return fmt.Errorf("group %q: %w", name, err)
			}
			return nil
		})
	}
	return eg.Wait()
}

// Snapshot returns the leading eigenpairs of every estimator
func (g *Group) Snapshot() map[string]Eigen {
	snapshot := make(map[string]Eigen, len(g.estimators))
	for _, name := range g.names {
		values, vectors := g.estimators[name].LeadingEigen()
		snapshot[name] = Eigen{Values: values, Vectors: vectors}
	}
	return snapshot
}
