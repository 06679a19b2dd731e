package matrixio

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"affinder/pkg/geometry"
)

// ReadPoints parses one point per row. A non-numeric first row is treated
// as a header; when its first column is named "index" (the napari points
// export), that column is dropped.
func ReadPoints(r io.Reader) (geometry.PointSet, error) {
	rows, header, err := readRowsWithHeader(r, true)
	if err != nil {
		return nil, err
	}

	skip := 0
	if len(header) > 0 && strings.EqualFold(strings.TrimSpace(header[0]), "index") {
		skip = 1
	}

	points := make(geometry.PointSet, 0, len(rows))
	for i, row := range rows {
		if len(row) <= skip {
			return nil, fmt.Errorf("matrixio: point %d has no coordinates", i)
		}
		points = append(points, geometry.NewPoint(row[skip:]...))
	}
	return points, nil
}

// LoadPoints reads a point file.
func LoadPoints(path string) (geometry.PointSet, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	points, err := ReadPoints(f)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	return points, nil
}

// WritePoints writes points with an "axis-0,axis-1,..." header.
func WritePoints(w io.Writer, points geometry.PointSet) error {
	if err := points.Validate(); err != nil {
		return err
	}
	bw := bufio.NewWriter(w)
	for j := 0; j < points.Dim(); j++ {
		if j > 0 {
			bw.WriteByte(',')
		}
		fmt.Fprintf(bw, "axis-%d", j)
	}
	bw.WriteByte('\n')
	for _, p := range points {
		for j, v := range p {
			if j > 0 {
				bw.WriteByte(',')
			}
			bw.WriteString(strconv.FormatFloat(v, 'g', -1, 64))
		}
		bw.WriteByte('\n')
	}
	return bw.Flush()
}

// SavePoints writes points to path.
func SavePoints(path string, points geometry.PointSet) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := WritePoints(f, points); err != nil {
		f.Close()
		return fmt.Errorf("write %s: %w", path, err)
	}
	return f.Close()
}
