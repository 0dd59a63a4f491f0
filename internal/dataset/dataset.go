// Package dataset reads observation matrices, one example per row, and
// serves them as a pca.Source.
package dataset

import (
	"bufio"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/n0madic/go-streaming-pca/pca"
)

// Compile-time interface guard.
var _ pca.Source = (*Matrix)(nil)

// ErrEmpty is returned when a file holds no example.
var ErrEmpty = errors.New("dataset: no examples")

// Format selects the layout of a data file.
type Format int

const (
	// ASCII is a mandatory "<rows> <cols>" header line followed by rows
	// lines of cols whitespace separated reals.
	ASCII Format = iota
	// Headerless is lines of whitespace separated reals without a header.
	Headerless
	// Binary is a little-endian int32 rows and int32 cols header followed by
	// rows*cols float32 values in row-major order.
	Binary
)

var formatNames = map[Format]string{
	ASCII:      "ascii",
	Headerless: "headerless",
	Binary:     "binary",
}

func (f Format) String() string {
	if name, ok := formatNames[f]; ok {
		return name
	}
	return fmt.Sprintf("Format(%d)", int(f))
}

// ParseFormat returns the Format named s: ascii, headerless or binary.
func ParseFormat(s string) (Format, error) {
	for f, name := range formatNames {
		if strings.EqualFold(s, name) {
			return f, nil
		}
	}
	return 0, fmt.Errorf("dataset: unknown format %q, want ascii, headerless or binary", s)
}

// Matrix is a dense set of examples of equal length.
type Matrix struct {
	dim  int
	rows [][]float64
}

// Len returns the number of examples
func (m *Matrix) Len() int { return len(m.rows) }

// Dim returns the length of every example
func (m *Matrix) Dim() int { return m.dim }

// Observation returns example i. The slice is shared with the matrix.
func (m *Matrix) Observation(i int) ([]float64, error) {
	if i < 0 || i >= len(m.rows) {
		return nil, fmt.Errorf("dataset: example %d out of range [0, %d)", i, len(m.rows))
	}
	return m.rows[i], nil
}

// Load reads the examples of the file at path. See Read.
func Load(path string, dim int, format Format, maxLoad int) (*Matrix, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("dataset: %w", err)
	}
	defer f.Close()

	m, err := Read(f, dim, format, maxLoad)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return m, nil
}

// Read parses examples of dim values laid out as format. When maxLoad is
// positive at most maxLoad examples are read. A header must declare dim
// columns, and unless maxLoad stops the read early it must declare exactly
// the number of rows present.
func Read(r io.Reader, dim int, format Format, maxLoad int) (*Matrix, error) {
	if dim <= 0 {
		return nil, fmt.Errorf("dataset: dimension must be positive, got %d", dim)
	}

	var (
		m   *Matrix
		err error
	)
	switch format {
	case ASCII:
		m, err = readText(r, dim, maxLoad, true)
	case Headerless:
		m, err = readText(r, dim, maxLoad, false)
	case Binary:
		m, err = readBinary(r, dim, maxLoad)
	default:
		return nil, fmt.Errorf("dataset: unknown format %v", format)
	}
	if err != nil {
		return nil, err
	}
	if len(m.rows) == 0 {
		return nil, ErrEmpty
	}
	return m, nil
}

// readText reads text rows. Blank lines and lines starting with '#' are
// skipped.
func readText(r io.Reader, dim, maxLoad int, header bool) (*Matrix, error) {
	m := &Matrix{dim: dim}
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 64*1024*1024)

	declared := -1
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		fields := strings.Fields(line)

		if header && declared < 0 {
			rows, err := parseHeader(fields, dim)
			if err != nil {
				return nil, fmt.Errorf("line %d: %w", lineNo, err)
			}
			declared = rows
			continue
		}
		if declared >= 0 && len(m.rows) == declared {
			return nil, fmt.Errorf("line %d: header declares %d rows, found more", lineNo, declared)
		}

		if len(fields) != dim {
			return nil, fmt.Errorf("line %d: got %d values, want %d", lineNo, len(fields), dim)
		}
		row := make([]float64, dim)
		for j, field := range fields {
			v, err := strconv.ParseFloat(field, 64)
			if err != nil {
				return nil, fmt.Errorf("line %d, column %d: %w", lineNo, j+1, err)
			}
			row[j] = v
		}
		m.rows = append(m.rows, row)

		if maxLoad > 0 && len(m.rows) == maxLoad {
			return m, nil
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("dataset: %w", err)
	}
	if declared > len(m.rows) {
		return nil, fmt.Errorf("header declares %d rows, found %d", declared, len(m.rows))
	}
	return m, nil
}

// parseHeader parses a "<rows> <cols>" header and returns rows
func parseHeader(fields []string, dim int) (int, error) {
	if len(fields) != 2 {
		return 0, fmt.Errorf("want a \"<rows> <cols>\" header, got %d fields", len(fields))
	}
	rows, err := strconv.Atoi(fields[0])
	if err != nil || rows < 0 {
		return 0, fmt.Errorf("invalid header row count %q", fields[0])
	}
	cols, err := strconv.Atoi(fields[1])
	if err != nil {
		return 0, fmt.Errorf("invalid header column count %q", fields[1])
	}
	if cols != dim {
		return 0, fmt.Errorf("header declares %d columns, want %d", cols, dim)
	}
	return rows, nil
}

type binaryHeader struct {
	Rows int32
	Cols int32
}

func readBinary(r io.Reader, dim, maxLoad int) (*Matrix, error) {
	br := bufio.NewReader(r)

	var hdr binaryHeader
	if err := binary.Read(br, binary.LittleEndian, &hdr); err != nil {
		return nil, fmt.Errorf("reading header: %w", err)
	}
	if hdr.Rows < 0 {
		return nil, fmt.Errorf("invalid header row count %d", hdr.Rows)
	}
	if int(hdr.Cols) != dim {
		return nil, fmt.Errorf("header declares %d columns, want %d", hdr.Cols, dim)
	}

	n := int(hdr.Rows)
	capped := maxLoad > 0 && maxLoad < n
	if capped {
		n = maxLoad
	}

	m := &Matrix{dim: dim, rows: make([][]float64, 0, min(n, 1<<16))}
	buf := make([]float32, dim)
	for i := 0; i < n; i++ {
		if err := binary.Read(br, binary.LittleEndian, buf); err != nil {
			if errors.Is(err, io.EOF) {
				err = io.ErrUnexpectedEOF
			}
			return nil, fmt.Errorf("example %d of %d: %w", i, hdr.Rows, err)
		}
		row := make([]float64, dim)
		for j, v := range buf {
			row[j] = float64(v)
		}
		m.rows = append(m.rows, row)
	}

	if !capped {
		if _, err := br.ReadByte(); err == nil {
			return nil, fmt.Errorf("header declares %d rows, found trailing data", hdr.Rows)
		} else if !errors.Is(err, io.EOF) {
			return nil, fmt.Errorf("dataset: %w", err)
		}
	}
	return m, nil
}
