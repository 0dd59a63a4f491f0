package pca

import (
	"encoding/gob"
	"errors"
	"fmt"
	"io"

	"gonum.org/v1/gonum/mat"
)

// State represents the serializable state of an Estimator
type State struct {
	Version        int       `gob:"version"`
	Dim            int       `gob:"dim"`
	K              int       `gob:"k"`
	BatchSize      int       `gob:"batch_size"`
	Gamma          float64   `gob:"gamma"`
	Lambda         float64   `gob:"lambda"`
	NObservations  int       `gob:"n_observations"`
	BufferIndex    int       `gob:"buffer_index"`
	NReevaluations uint64    `gob:"n_reevaluations"`
	WorkingSetData []float64 `gob:"working_set_data"` // (k+batchSize) x dim, row major
	DiscountedSum  []float64 `gob:"discounted_sum"`
	GramData       []float64 `gob:"gram_data"` // (k+batchSize)^2, row major
	Eigenvalues    []float64 `gob:"eigenvalues"`
}

// Save serializes the estimator state to gob format.
// The pending block of the Gram matrix is stored too, so a snapshot taken in
// the middle of a minibatch resumes exactly.
func (e *Estimator) Save(w io.Writer) error {
	if e.failed {
		return fmt.Errorf("%w: refusing to save an estimator after a failed reevaluation", ErrNumericalFailure)
	}

	n := e.k + e.batchSize
	state := State{
		Version:        1,
		Dim:            e.dim,
		K:              e.k,
		BatchSize:      e.batchSize,
		Gamma:          e.gamma,
		Lambda:         e.lambda,
		NObservations:  e.nObservations,
		BufferIndex:    e.bufferIndex,
		NReevaluations: e.nReevaluations,
		DiscountedSum:  make([]float64, e.dim),
		GramData:       make([]float64, 0, n*n),
		Eigenvalues:    make([]float64, n),
	}

	// Copy working set data (flattened)
	wsRaw := e.workingSet.RawMatrix()
	state.WorkingSetData = make([]float64, len(wsRaw.Data))
	copy(state.WorkingSetData, wsRaw.Data)

	copy(state.DiscountedSum, e.discountedSum)
	copy(state.Eigenvalues, e.eigenvalues)

	for i := 0; i < n; i++ {
		for j := 0; j < n; j++ {
			state.GramData = append(state.GramData, e.gram.At(i, j))
		}
	}

	encoder := gob.NewEncoder(w)
	return encoder.Encode(state)
}

// Load deserializes an estimator from gob format. Options such as the logger
// or the reevaluation hook are not persisted and can be passed again here.
func Load(r io.Reader, options ...Option) (*Estimator, error) {
	decoder := gob.NewDecoder(r)

	var state State
	if err := decoder.Decode(&state); err != nil {
		return nil, err
	}

	if state.Version != 1 {
		return nil, errors.New("unsupported gob version")
	}

	options = append([]Option{WithLambda(state.Lambda)}, options...)
	e, err := New(state.Dim, state.K, state.BatchSize, state.Gamma, options...)
	if err != nil {
		return nil, err
	}

	// Validate data lengths
	n := state.K + state.BatchSize
	if len(state.WorkingSetData) != n*state.Dim {
		return nil, errors.New("invalid working set data length")
	}
	if len(state.DiscountedSum) != state.Dim {
		return nil, errors.New("invalid discounted sum length")
	}
	if len(state.GramData) != n*n {
		return nil, errors.New("invalid gram data length")
	}
	if len(state.Eigenvalues) != n {
		return nil, errors.New("invalid eigenvalues length")
	}
	if state.BufferIndex < 0 || state.BufferIndex >= state.BatchSize {
		return nil, fmt.Errorf("invalid buffer index %d for minibatch size %d", state.BufferIndex, state.BatchSize)
	}
	if state.NObservations < 0 {
		return nil, fmt.Errorf("invalid observation count %d", state.NObservations)
	}
	for _, field := range []struct {
		name string
		data []float64
	}{
		{"working set", state.WorkingSetData},
		{"discounted sum", state.DiscountedSum},
		{"gram", state.GramData},
		{"eigenvalues", state.Eigenvalues},
	} {
		if i := firstNonFinite(field.data); i >= 0 {
			return nil, fmt.Errorf("%w: non-finite %s value %g at index %d", ErrInvalidArgument, field.name, field.data[i], i)
		}
	}

	e.workingSet.Copy(mat.NewDense(n, state.Dim, state.WorkingSetData))
	copy(e.discountedSum, state.DiscountedSum)
	copy(e.eigenvalues, state.Eigenvalues)
	for i := 0; i < n; i++ {
		for j := i; j < n; j++ {
			e.gram.SetSym(i, j, state.GramData[i*n+j])
		}
	}

	e.nObservations = state.NObservations
	e.bufferIndex = state.BufferIndex
	e.nReevaluations = state.NReevaluations

	return e, nil
}
