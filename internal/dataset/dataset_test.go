package dataset

import (
	"bytes"
	"context"
	"encoding/binary"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/n0madic/go-streaming-pca/pca"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// encodeBinary lays out a binary data file. rows and cols go to the header
// as given, so they can disagree with values.
func encodeBinary(t *testing.T, rows, cols int32, values ...float32) []byte {
	t.Helper()
	var buf bytes.Buffer
	require.NoError(t, binary.Write(&buf, binary.LittleEndian, binaryHeader{Rows: rows, Cols: cols}))
	require.NoError(t, binary.Write(&buf, binary.LittleEndian, values))
	return buf.Bytes()
}

func TestRead(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		format   Format
		dim      int
		maxLoad  int
		wantRows [][]float64
		wantErr  bool
	}{
		{
			name:     "ascii",
			input:    "2 3\n1 2 3\n4 5 6\n",
			dim:      3,
			wantRows: [][]float64{{1, 2, 3}, {4, 5, 6}},
		},
		{
			name:     "ascii keeps integer rows that look like a header",
			input:    "2 2\n1 2\n3 2\n",
			dim:      2,
			wantRows: [][]float64{{1, 2}, {3, 2}},
		},
		{
			name:     "ascii comments blank lines and tabs",
			input:    "# samples\n1 3\n\n1.5\t-2e-3  0\n\n",
			dim:      3,
			wantRows: [][]float64{{1.5, -2e-3, 0}},
		},
		{
			name:     "ascii max load",
			input:    "3 3\n1 2 3\n4 5 6\n7 8 9\n",
			dim:      3,
			maxLoad:  2,
			wantRows: [][]float64{{1, 2, 3}, {4, 5, 6}},
		},
		{
			name:     "ascii max load above row count",
			input:    "2 3\n1 2 3\n4 5 6\n",
			dim:      3,
			maxLoad:  5,
			wantRows: [][]float64{{1, 2, 3}, {4, 5, 6}},
		},
		{
			name:    "ascii missing header",
			input:   "1 2 3\n4 5 6\n",
			dim:     3,
			wantErr: true,
		},
		{
			name:    "ascii header column count mismatch",
			input:   "2 4\n1 2 3\n4 5 6\n",
			dim:     3,
			wantErr: true,
		},
		{
			name:    "ascii fewer rows than declared",
			input:   "3 3\n1 2 3\n4 5 6\n",
			dim:     3,
			wantErr: true,
		},
		{
			name:    "ascii more rows than declared",
			input:   "1 3\n1 2 3\n4 5 6\n",
			dim:     3,
			wantErr: true,
		},
		{
			name:     "headerless",
			input:    "1 2\n3 4\n",
			format:   Headerless,
			dim:      2,
			wantRows: [][]float64{{1, 2}, {3, 4}},
		},
		{
			name:     "headerless max load",
			input:    "1 2 3\n4 5 6\n7 8 9\n",
			format:   Headerless,
			dim:      3,
			maxLoad:  2,
			wantRows: [][]float64{{1, 2, 3}, {4, 5, 6}},
		},
		{
			name:    "headerless rejects a header line",
			input:   "1 3\n1 2 3\n",
			format:  Headerless,
			dim:     3,
			wantErr: true,
		},
		{
			name:    "wrong column count",
			input:   "2 3\n1 2 3\n4 5\n",
			dim:     3,
			wantErr: true,
		},
		{
			name:    "not a number",
			input:   "1 3\n1 x 3\n",
			dim:     3,
			wantErr: true,
		},
		{
			name:    "invalid dimension",
			input:   "1 1\n1\n",
			dim:     0,
			wantErr: true,
		},
		{
			name:    "unknown format",
			input:   "1 1\n1\n",
			format:  Format(7),
			dim:     1,
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m, err := Read(strings.NewReader(tt.input), tt.dim, tt.format, tt.maxLoad)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.dim, m.Dim())
			require.Equal(t, len(tt.wantRows), m.Len())
			for i, want := range tt.wantRows {
				got, err := m.Observation(i)
				require.NoError(t, err)
				assert.Equal(t, want, got)
			}
		})
	}
}

func TestReadBinary(t *testing.T) {
	tests := []struct {
		name     string
		input    []byte
		dim      int
		maxLoad  int
		wantRows [][]float64
		wantErr  bool
		errIs    error
	}{
		{
			name:     "full",
			input:    encodeBinary(t, 2, 3, 1.5, -2, 0.25, 4, 5, 6),
			dim:      3,
			wantRows: [][]float64{{1.5, -2, 0.25}, {4, 5, 6}},
		},
		{
			name:     "max load",
			input:    encodeBinary(t, 3, 2, 1, 2, 3, 4, 5, 6),
			dim:      2,
			maxLoad:  2,
			wantRows: [][]float64{{1, 2}, {3, 4}},
		},
		{
			name:    "truncated",
			input:   encodeBinary(t, 3, 2, 1, 2, 3, 4, 5),
			dim:     2,
			wantErr: true,
			errIs:   io.ErrUnexpectedEOF,
		},
		{
			name:    "no rows",
			input:   encodeBinary(t, 0, 2),
			dim:     2,
			wantErr: true,
			errIs:   ErrEmpty,
		},
		{
			name:    "column count mismatch",
			input:   encodeBinary(t, 1, 3, 1, 2, 3),
			dim:     2,
			wantErr: true,
		},
		{
			name:    "negative row count",
			input:   encodeBinary(t, -1, 2),
			dim:     2,
			wantErr: true,
		},
		{
			name:    "trailing data",
			input:   encodeBinary(t, 1, 2, 1, 2, 3),
			dim:     2,
			wantErr: true,
		},
		{
			name:    "short header",
			input:   []byte{1, 0, 0},
			dim:     2,
			wantErr: true,
			errIs:   io.ErrUnexpectedEOF,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m, err := Read(bytes.NewReader(tt.input), tt.dim, Binary, tt.maxLoad)
			if tt.wantErr {
				require.Error(t, err)
				if tt.errIs != nil {
					assert.ErrorIs(t, err, tt.errIs)
				}
				return
			}
			require.NoError(t, err)
			require.Equal(t, len(tt.wantRows), m.Len())
			for i, want := range tt.wantRows {
				got, err := m.Observation(i)
				require.NoError(t, err)
				assert.Equal(t, want, got)
			}
		})
	}
}

func TestParseFormat(t *testing.T) {
	for _, f := range []Format{ASCII, Headerless, Binary} {
		got, err := ParseFormat(strings.ToUpper(f.String()))
		require.NoError(t, err)
		assert.Equal(t, f, got)
	}
	_, err := ParseFormat("csv")
	assert.Error(t, err)
	assert.Equal(t, "Format(9)", Format(9).String())
}

func TestReadErrorsCarryLineNumbers(t *testing.T) {
	_, err := Read(strings.NewReader("2 2\n1 2\n\n3 4 5\n"), 2, ASCII, -1)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "line 4")
}

func TestReadEmptyIsErrEmpty(t *testing.T) {
	for _, tt := range []struct {
		input  string
		format Format
	}{
		{"", ASCII},
		{"# nothing\n", ASCII},
		{"0 4\n", ASCII},
		{"", Headerless},
	} {
		_, err := Read(strings.NewReader(tt.input), 4, tt.format, -1)
		assert.ErrorIs(t, err, ErrEmpty, "input %q as %v", tt.input, tt.format)
	}
}

func TestObservationOutOfRange(t *testing.T) {
	m, err := Read(strings.NewReader("1 2\n"), 2, Headerless, 0)
	require.NoError(t, err)
	require.Equal(t, 1, m.Len())
	x, err := m.Observation(0)
	require.NoError(t, err)
	assert.Equal(t, []float64{1, 2}, x)

	_, err = m.Observation(1)
	assert.Error(t, err)
	_, err = m.Observation(-1)
	assert.Error(t, err)
}

func TestLoadFeedsEstimator(t *testing.T) {
	path := filepath.Join(t.TempDir(), "samples.txt")
	content := "4 3\n1 0 0\n0 1 0\n-1 0 0\n0 -1 0\n"
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))

	m, err := Load(path, 3, ASCII, -1)
	require.NoError(t, err)
	assert.Equal(t, 4, m.Len())

	est, err := pca.New(3, 1, 2, 1.0)
	require.NoError(t, err)
	require.NoError(t, pca.Feed(context.Background(), est, m, 2))
	assert.Equal(t, 8, est.Observations())
	assert.Equal(t, uint64(4), est.Reevaluations())
}

func TestLoadBinaryMatchesASCII(t *testing.T) {
	dir := t.TempDir()
	textPath := filepath.Join(dir, "samples.txt")
	binPath := filepath.Join(dir, "samples.bin")
	require.NoError(t, os.WriteFile(textPath, []byte("3 2\n0.5 1\n-2 0.25\n3 -4\n"), 0o600))
	require.NoError(t, os.WriteFile(binPath, encodeBinary(t, 3, 2, 0.5, 1, -2, 0.25, 3, -4), 0o600))

	text, err := Load(textPath, 2, ASCII, -1)
	require.NoError(t, err)
	bin, err := Load(binPath, 2, Binary, -1)
	require.NoError(t, err)
	assert.Equal(t, text, bin)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.txt"), 3, ASCII, -1)
	assert.Error(t, err)
}
