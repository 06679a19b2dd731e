// Package matrixio reads and writes transform matrices and landmark point
// lists as comma-delimited text.
//
// The matrix format is one matrix row per line, values separated by commas
// and printed with 18 significant decimals in exponent form, the layout
// numpy.savetxt produces with delimiter=','. Any numeric matrix reader can
// load it back.
package matrixio

import (
	"bufio"
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"affinder/internal/alignment"
	"affinder/pkg/geometry"
)

// WriteMatrix writes m to w, one row per line.
func WriteMatrix(w io.Writer, m geometry.Matrix) error {
	if m.IsZero() {
		return fmt.Errorf("matrixio: empty matrix")
	}
	bw := bufio.NewWriter(w)
	for _, row := range m.Rows() {
		for j, v := range row {
			if j > 0 {
				bw.WriteByte(',')
			}
			bw.WriteString(strconv.FormatFloat(v, 'e', 18, 64))
		}
		bw.WriteByte('\n')
	}
	return bw.Flush()
}

// SaveMatrix writes m to path, creating parent directories as needed.
func SaveMatrix(path string, m geometry.Matrix) error {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := WriteMatrix(f, m); err != nil {
		f.Close()
		return fmt.Errorf("write %s: %w", path, err)
	}
	return f.Close()
}

// ReadMatrix parses a delimited matrix and validates it as a homogeneous
// transform.
func ReadMatrix(r io.Reader) (geometry.Matrix, error) {
	rows, err := readRows(r, false)
	if err != nil {
		return geometry.Matrix{}, err
	}
	return geometry.NewMatrix(rows)
}

// LoadMatrix reads a matrix file.
func LoadMatrix(path string) (geometry.Matrix, error) {
	f, err := os.Open(path)
	if err != nil {
		return geometry.Matrix{}, err
	}
	defer f.Close()

	m, err := ReadMatrix(f)
	if err != nil {
		return geometry.Matrix{}, fmt.Errorf("read %s: %w", path, err)
	}
	return m, nil
}

// FileSink saves every estimated matrix to Path, replacing the previous one.
type FileSink struct {
	Path string
}

// Accept implements session.Sink.
func (s FileSink) Accept(res *alignment.Result) error {
	return SaveMatrix(s.Path, res.Matrix)
}

// readRows parses numeric CSV rows. Blank lines and lines starting with '#'
// are skipped. When allowHeader is set, a first row that does not parse as
// numbers is returned separately as the header.
func readRows(r io.Reader, allowHeader bool) ([][]float64, error) {
	rows, _, err := readRowsWithHeader(r, allowHeader)
	return rows, err
}

func readRowsWithHeader(r io.Reader, allowHeader bool) ([][]float64, []string, error) {
	cr := csv.NewReader(r)
	cr.Comment = '#'
	cr.FieldsPerRecord = -1
	cr.TrimLeadingSpace = true

	var rows [][]float64
	var header []string
	for record := 1; ; record++ {
		rec, err := cr.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, nil, err
		}
		if len(rec) == 1 && strings.TrimSpace(rec[0]) == "" {
			continue
		}

		row, perr := parseRecord(rec)
		if perr != nil {
			if allowHeader && header == nil && len(rows) == 0 {
				header = rec
				continue
			}
			return nil, nil, fmt.Errorf("record %d: %w", record, perr)
		}
		if len(rows) > 0 && len(row) != len(rows[0]) {
			return nil, nil, fmt.Errorf("record %d: %d values, want %d", record, len(row), len(rows[0]))
		}
		rows = append(rows, row)
	}
	return rows, header, nil
}

func parseRecord(rec []string) ([]float64, error) {
	row := make([]float64, len(rec))
	for i, field := range rec {
		v, err := strconv.ParseFloat(strings.TrimSpace(field), 64)
		if err != nil {
			return nil, err
		}
		row[i] = v
	}
	return row, nil
}
