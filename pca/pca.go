// Package pca estimates the leading eigenpairs of the covariance of a stream
// of observations with a low-rank, discounted, minibatch estimator.
package pca

import (
	"fmt"
	"math"
	"time"

	"go.uber.org/zap"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
)

// DefaultLambda is the regularizer placed on the eigenvalue diagonal of the
// Gram matrix before the first reevaluation.
const DefaultLambda = 1e-3

// Estimator tracks the k leading eigenvalues and eigenvectors of the covariance
// of a stream of observations without forming the dim x dim covariance matrix.
//
// Observations are centered against a discounted running mean, aged, and
// buffered until batchSize of them have arrived. The buffered rows together with
// the current eigenvector estimates are then reduced through their
// (k+batchSize) x (k+batchSize) Gram matrix, whose leading eigenvectors are
// projected back into observation space.
//
// An Estimator is not safe for concurrent use. Independent estimators share no
// state and may be driven from separate goroutines (see Group).
type Estimator struct {
	dim       int     // dimensionality of the observations
	k         int     // number of eigenpairs kept after each reevaluation
	batchSize int     // observations between reevaluations
	gamma     float64 // discount factor in (0, 1]
	lambda    float64 // initial regularizer of the eigenvalue block of the Gram matrix

	nObservations  int    // total observations, drives the mean normalizer
	bufferIndex    int    // position inside the current minibatch
	nReevaluations uint64 // completed reevaluations
	failed         bool   // set once the eigensolver failed

	// workingSet holds on its rows the unnormalized eigenvector estimates
	// followed by the pending observations. eigenvectors and pending are views
	// into it, never separate storage.
	workingSet    *mat.Dense    // (k+batchSize) x dim
	eigenvectors  *mat.Dense    // rows [0, k)
	pending       *mat.Dense    // rows [k, k+batchSize)
	discountedSum []float64     // gamma-discounted sum of raw observations
	gram          *mat.SymDense // Gram matrix of the rows of workingSet

	// Results of the Gram eigendecomposition. Only the first k entries of
	// eigenvalues are meaningful after a reevaluation.
	eigenvalues []float64
	gramVectors *mat.Dense // eigenvectors of gram on the columns

	// Scratch buffers
	gramRow   *mat.VecDense // new row of the Gram matrix
	projected *mat.Dense    // k x dim reprojected eigenvectors

	logger *zap.Logger
	hook   func(Reevaluation)
}

// Reevaluation describes one completed reevaluation. It is handed to the hook
// registered with WithReevaluateHook.
type Reevaluation struct {
	Sequence     uint64        // 1 for the first reevaluation
	Observations int           // observations absorbed so far
	Duration     time.Duration // wall time spent in the reevaluation
	Eigenvalues  []float64     // leading eigenvalues, normalized like LeadingEigen
}

// Option defines a functional option for configuring an Estimator
type Option func(*Estimator)

// WithLambda sets the regularizer of the initial Gram matrix
func WithLambda(lambda float64) Option {
	return func(e *Estimator) {
		e.lambda = lambda
	}
}

// WithLogger sets the logger. Reevaluations are logged at debug level.
func WithLogger(logger *zap.Logger) Option {
	return func(e *Estimator) {
		if logger != nil {
			e.logger = logger
		}
	}
}

// WithReevaluateHook registers a function called after every successful reevaluation
func WithReevaluateHook(hook func(Reevaluation)) Option {
	return func(e *Estimator) {
		e.hook = hook
	}
}

// New creates an estimator for observations of length dim that keeps the k
// leading eigenpairs, reevaluated every batchSize observations with discount
// factor gamma.
func New(dim, k, batchSize int, gamma float64, options ...Option) (*Estimator, error) {
	if dim <= 0 {
		return nil, fmt.Errorf("%w: dimension must be positive, got %d", ErrInvalidArgument, dim)
	}
	if k <= 0 || k >= dim {
		return nil, fmt.Errorf("%w: number of eigenpairs must be in [1, %d), got %d", ErrInvalidArgument, dim, k)
	}
	if batchSize <= 0 {
		return nil, fmt.Errorf("%w: minibatch size must be positive, got %d", ErrInvalidArgument, batchSize)
	}
	if !(gamma > 0 && gamma <= 1) {
		return nil, fmt.Errorf("%w: gamma must be in (0, 1], got %g", ErrInvalidArgument, gamma)
	}

	e := &Estimator{
		dim:       dim,
		k:         k,
		batchSize: batchSize,
		gamma:     gamma,
		lambda:    DefaultLambda,
		logger:    zap.NewNop(),
	}

	// Apply options
	for _, opt := range options {
		opt(e)
	}

	if !(e.lambda > 0) || math.IsInf(e.lambda, 0) {
		return nil, fmt.Errorf("%w: lambda must be positive and finite, got %g", ErrInvalidArgument, e.lambda)
	}

	n := k + batchSize
	e.workingSet = mat.NewDense(n, dim, nil)
	e.eigenvectors = e.workingSet.Slice(0, k, 0, dim).(*mat.Dense)
	e.pending = e.workingSet.Slice(k, n, 0, dim).(*mat.Dense)
	e.discountedSum = make([]float64, dim)
	e.gram = mat.NewSymDense(n, nil)
	e.eigenvalues = make([]float64, n)
	e.gramVectors = mat.NewDense(n, n, nil)
	e.gramRow = mat.NewVecDense(n, nil)
	e.projected = mat.NewDense(k, dim, nil)

	e.regularize()

	return e, nil
}

// regularize sets the eigenvalue block of the Gram matrix to lambda*I
func (e *Estimator) regularize() {
	for i := 0; i < e.k; i++ {
		e.gram.SetSym(i, i, e.lambda)
	}
}

// Normalizer returns the sum of the discount weights of t observations,
// (1 - gamma^t) / (1 - gamma). It is exactly t when gamma is 1.
func Normalizer(gamma float64, t int) float64 {
	if t <= 0 {
		return 0
	}
	if gamma == 1 {
		return float64(t)
	}
	return (1 - math.Pow(gamma, float64(t))) / (1 - gamma)
}

// Observe adds one observation to the stream. Once batchSize observations are
// buffered the leading eigenpairs are reevaluated before Observe returns.
//
// A rejected observation leaves the estimator untouched.
func (e *Estimator) Observe(x []float64) error {
	if err := e.check(x); err != nil {
		return err
	}

	e.nObservations++

	// Add the raw observation to the working set
	row := e.k + e.bufferIndex
	newRow := e.pending.RawRowView(e.bufferIndex)
	copy(newRow, x)

	// Discounted sum: sum_{t+1} = gamma * sum_t + x
	floats.Scale(e.gamma, e.discountedSum)
	floats.Add(e.discountedSum, x)

	// Center against the discounted mean. The very first observation is its
	// own mean and becomes the zero vector.
	floats.AddScaled(newRow, -1/Normalizer(e.gamma, e.nObservations), e.discountedSum)

	// Make the row look younger than the eigenvector rows. The matching
	// aging of everybody happens in reevaluate.
	floats.Scale(math.Pow(e.gamma, -0.5*float64(e.bufferIndex+1)), newRow)

	// Extend the Gram matrix with the inner products of the new row against
	// every populated row, itself included.
	populated := e.workingSet.Slice(0, row+1, 0, e.dim)
	g := e.gramRow.SliceVec(0, row+1).(*mat.VecDense)
	g.MulVec(populated, mat.NewVecDense(e.dim, newRow))
	for i := 0; i <= row; i++ {
		e.gram.SetSym(row, i, g.AtVec(i))
	}

	e.bufferIndex++
	if e.bufferIndex == e.batchSize {
		return e.reevaluate()
	}
	return nil
}

// check reports whether Observe would reject x
func (e *Estimator) check(x []float64) error {
	if e.failed {
		return fmt.Errorf("%w: estimator is unusable after a failed reevaluation", ErrNumericalFailure)
	}
	if len(x) != e.dim {
		return fmt.Errorf("%w: observation length %d != dimension %d", ErrDimensionMismatch, len(x), e.dim)
	}
	if i := firstNonFinite(x); i >= 0 {
		return fmt.Errorf("%w: non-finite value %g at index %d", ErrInvalidArgument, x[i], i)
	}
	return nil
}

// firstNonFinite returns the index of the first NaN or infinite value of x, or -1
func firstNonFinite(x []float64) int {
	for i, v := range x {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return i
		}
	}
	return -1
}

// ObserveVec is Observe for a gonum vector
func (e *Estimator) ObserveVec(x mat.Vector) error {
	data := make([]float64, x.Len())
	for i := range data {
		data[i] = x.AtVec(i)
	}
	return e.Observe(data)
}

// reevaluate recomputes the k leading eigenpairs from the full minibatch
func (e *Estimator) reevaluate() error {
	start := time.Now()
	n := e.k + e.batchSize

	// Finite observations can still overflow their inner products
	if firstNonFinite(e.gram.RawSymmetric().Data) >= 0 {
		return e.fail(fmt.Errorf("%w: %dx%d Gram matrix overflowed", ErrNumericalFailure, n, n))
	}

	// Eigendecomposition of the Gram matrix. Values come back in ascending
	// order with the vectors on the columns.
	var eig mat.EigenSym
	if ok := eig.Factorize(e.gram, true); !ok {
		return e.fail(fmt.Errorf("%w: eigendecomposition of the %dx%d Gram matrix did not converge", ErrNumericalFailure, n, n))
	}
	eig.Values(e.eigenvalues)
	if firstNonFinite(e.eigenvalues) >= 0 {
		return e.fail(fmt.Errorf("%w: eigendecomposition of the %dx%d Gram matrix is not finite", ErrNumericalFailure, n, n))
	}
	eig.VectorsTo(e.gramVectors)

	// Selection sort of the k largest eigenvalues into the first k slots.
	// Ties keep the lowest index.
	for i := 0; i < e.k; i++ {
		maxIdx := i
		for j := i + 1; j < n; j++ {
			if e.eigenvalues[j] > e.eigenvalues[maxIdx] {
				maxIdx = j
			}
		}
		if maxIdx != i {
			e.eigenvalues[i], e.eigenvalues[maxIdx] = e.eigenvalues[maxIdx], e.eigenvalues[i]
			e.swapGramColumns(i, maxIdx)
		}
	}

	// Unnormalized eigenvectors of the covariance: U' = Vk' * X'
	vk := e.gramVectors.Slice(0, n, 0, e.k)
	e.projected.Mul(vk.T(), e.workingSet)

	// Age everybody by the same factor. Inside the minibatch the rows were
	// made younger by gamma^(-(i+1)/2).
	rn := math.Pow(e.gamma, -0.5*float64(e.batchSize+1))
	invRn2 := 1 / (rn * rn)
	e.projected.Scale(1/rn, e.projected)
	for i := 0; i < e.k; i++ {
		e.eigenvalues[i] *= invRn2
	}

	// Splice the new estimate back into the working set and the Gram matrix
	e.eigenvectors.Copy(e.projected)
	for i := 0; i < e.k; i++ {
		for j := 0; j < i; j++ {
			e.gram.SetSym(i, j, 0)
		}
		e.gram.SetSym(i, i, e.eigenvalues[i])
	}

	e.bufferIndex = 0
	e.nReevaluations++

	elapsed := time.Since(start)
	values := e.normalizedEigenvalues(make([]float64, e.k))
	e.logger.Debug("reevaluated leading eigenpairs",
		zap.Uint64("sequence", e.nReevaluations),
		zap.Int("observations", e.nObservations),
		zap.Float64("leading_eigenvalue", values[0]),
		zap.Duration("elapsed", elapsed),
	)
	if e.hook != nil {
		e.hook(Reevaluation{
			Sequence:     e.nReevaluations,
			Observations: e.nObservations,
			Duration:     elapsed,
			Eigenvalues:  values,
		})
	}

	return nil
}

// fail marks the estimator unusable and returns err
func (e *Estimator) fail(err error) error {
	e.failed = true
	e.logger.Warn("reevaluation failed",
		zap.Int("observations", e.nObservations),
		zap.Uint64("reevaluations", e.nReevaluations),
		zap.Error(err),
	)
	return err
}

// swapGramColumns swaps two columns of the Gram eigenvector matrix
func (e *Estimator) swapGramColumns(a, b int) {
	raw := e.gramVectors.RawMatrix()
	for r := 0; r < raw.Rows; r++ {
		rowData := raw.Data[r*raw.Stride : r*raw.Stride+raw.Cols]
		rowData[a], rowData[b] = rowData[b], rowData[a]
	}
}

// normalizedEigenvalues writes the first k eigenvalues divided by the mean
// normalizer into dst and returns it
func (e *Estimator) normalizedEigenvalues(dst []float64) []float64 {
	copy(dst, e.eigenvalues[:e.k])
	if e.nObservations == 0 {
		return dst
	}
	floats.Scale(1/Normalizer(e.gamma, e.nObservations), dst)
	return dst
}

// LeadingEigen returns the current estimate of the k leading eigenvalues, in
// non-increasing order, and the matching eigenvectors on the rows of a k x dim
// matrix.
//
// The eigenvalues are normalized by the discount weights of the observations
// seen so far. The eigenvectors are NOT normalized to unit length; callers that
// need directions must normalize the rows themselves. Before the first
// reevaluation both are degenerate.
func (e *Estimator) LeadingEigen() ([]float64, *mat.Dense) {
	values := make([]float64, e.k)
	vectors := mat.NewDense(e.k, e.dim, nil)
	e.normalizedEigenvalues(values)
	vectors.Copy(e.eigenvectors)
	return values, vectors
}

// LeadingEigenTo copies the current estimate into already allocated buffers:
// values of length k and vectors of size k x dim.
func (e *Estimator) LeadingEigenTo(values []float64, vectors *mat.Dense) error {
	if len(values) != e.k {
		return fmt.Errorf("%w: eigenvalue buffer length %d != %d", ErrDimensionMismatch, len(values), e.k)
	}
	if r, c := vectors.Dims(); r != e.k || c != e.dim {
		return fmt.Errorf("%w: eigenvector buffer is %dx%d, want %dx%d", ErrDimensionMismatch, r, c, e.k, e.dim)
	}
	e.normalizedEigenvalues(values)
	vectors.Copy(e.eigenvectors)
	return nil
}

// Dim returns the dimensionality of the observations
func (e *Estimator) Dim() int { return e.dim }

// K returns the number of tracked eigenpairs
func (e *Estimator) K() int { return e.k }

// BatchSize returns the number of observations between reevaluations
func (e *Estimator) BatchSize() int { return e.batchSize }

// Gamma returns the discount factor
func (e *Estimator) Gamma() float64 { return e.gamma }

// Lambda returns the initial Gram regularizer
func (e *Estimator) Lambda() float64 { return e.lambda }

// Observations returns the number of observations absorbed so far
func (e *Estimator) Observations() int { return e.nObservations }

// BufferIndex returns the position inside the current minibatch
func (e *Estimator) BufferIndex() int { return e.bufferIndex }

// Reevaluations returns the number of completed reevaluations
func (e *Estimator) Reevaluations() uint64 { return e.nReevaluations }

// GetStats returns current estimator statistics
func (e *Estimator) GetStats() map[string]any {
	values := e.normalizedEigenvalues(make([]float64, e.k))

	leading := math.NaN()
	if e.nReevaluations > 0 {
		leading = values[0]
	}

	return map[string]any{
		"dim":                e.dim,
		"k":                  e.k,
		"batch_size":         e.batchSize,
		"gamma":              e.gamma,
		"lambda":             e.lambda,
		"n_observations":     e.nObservations,
		"buffer_index":       e.bufferIndex,
		"n_reevaluations":    e.nReevaluations,
		"normalizer":         Normalizer(e.gamma, e.nObservations),
		"leading_eigenvalue": leading,
		"explained_variance": floats.Sum(values),
		"failed":             e.failed,
	}
}

// Reset returns the estimator to its freshly constructed state
func (e *Estimator) Reset() {
	e.workingSet.Zero()
	e.gram.Zero()
	e.gramVectors.Zero()
	e.projected.Zero()
	e.gramRow.Zero()
	for i := range e.discountedSum {
		e.discountedSum[i] = 0
	}
	for i := range e.eigenvalues {
		e.eigenvalues[i] = 0
	}
	e.regularize()

	e.nObservations = 0
	e.bufferIndex = 0
	e.nReevaluations = 0
	e.failed = false
}
