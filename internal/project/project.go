// Package project provides project file handling and persistence.
package project

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"affinder/internal/alignment"
	"affinder/pkg/geometry"
)

// CurrentVersion is the project file format version written by Save.
const CurrentVersion = 1

// File represents an alignment project file (.affproj).
type File struct {
	Version  int       `json:"version"`
	Name     string    `json:"name"`
	Created  time.Time `json:"created"`
	Modified time.Time `json:"modified"`

	// Image paths (relative to project file)
	ReferenceImagePath string `json:"reference_image,omitempty"`
	MovingImagePath    string `json:"moving_image,omitempty"`

	// Alignment state
	Model           alignment.Family `json:"model"`
	ReferencePoints [][]float64      `json:"reference_points,omitempty"`
	MovingPoints    [][]float64      `json:"moving_points,omitempty"`
	Matrix          [][]float64      `json:"matrix,omitempty"`
	RMSError        float64          `json:"rms_error,omitempty"`

	// Output matrix path (relative to project file)
	OutputPath string `json:"output,omitempty"`
}

// New creates a new project file.
func New(name string, model alignment.Family) *File {
	now := time.Now()
	return &File{
		Version:  CurrentVersion,
		Name:     name,
		Created:  now,
		Modified: now,
		Model:    model,
	}
}

// Load loads a project from a .affproj file.
func Load(path string) (*File, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var proj File
	if err := json.Unmarshal(data, &proj); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	if proj.Version > CurrentVersion {
		return nil, fmt.Errorf("%s: unsupported project version %d", path, proj.Version)
	}

	return &proj, nil
}

// Save saves the project to a file.
func (p *File) Save(path string) error {
	p.Modified = time.Now()

	data, err := json.MarshalIndent(p, "", "  ")
	if err != nil {
		return err
	}

	return os.WriteFile(path, data, 0644)
}

// SetPoints stores copies of both point lists.
func (p *File) SetPoints(ref, mov geometry.PointSet) {
	p.ReferencePoints = toRows(ref)
	p.MovingPoints = toRows(mov)
	p.Modified = time.Now()
}

// Points returns the stored point lists.
func (p *File) Points() (ref, mov geometry.PointSet) {
	return fromRows(p.ReferencePoints), fromRows(p.MovingPoints)
}

// SetResult records the latest estimated transform.
func (p *File) SetResult(res *alignment.Result) {
	p.Matrix = res.Matrix.Rows()
	p.RMSError = res.RMS
	p.Model = res.Family
	p.Modified = time.Now()
}

// Transform returns the stored matrix, or the zero Matrix if none is stored.
func (p *File) Transform() (geometry.Matrix, error) {
	if len(p.Matrix) == 0 {
		return geometry.Matrix{}, nil
	}
	return geometry.NewMatrix(p.Matrix)
}

// SetReferenceImage sets the reference image path (relative to project).
func (p *File) SetReferenceImage(projectPath, imagePath string) {
	p.ReferenceImagePath = relativeTo(projectPath, imagePath)
	p.Modified = time.Now()
}

// SetMovingImage sets the moving image path (relative to project).
func (p *File) SetMovingImage(projectPath, imagePath string) {
	p.MovingImagePath = relativeTo(projectPath, imagePath)
	p.Modified = time.Now()
}

// SetOutput sets the matrix output path (relative to project).
func (p *File) SetOutput(projectPath, outputPath string) {
	p.OutputPath = relativeTo(projectPath, outputPath)
	p.Modified = time.Now()
}

// GetReferenceImagePath returns the absolute path to the reference image.
func (p *File) GetReferenceImagePath(projectPath string) string {
	return resolve(projectPath, p.ReferenceImagePath)
}

// GetMovingImagePath returns the absolute path to the moving image.
func (p *File) GetMovingImagePath(projectPath string) string {
	return resolve(projectPath, p.MovingImagePath)
}

// GetOutputPath returns the matrix output path. Without an explicit output
// it defaults to <project>_matrix.csv.
func (p *File) GetOutputPath(projectPath string) string {
	if p.OutputPath == "" {
		base := projectPath[:len(projectPath)-len(filepath.Ext(projectPath))]
		return base + "_matrix.csv"
	}
	return resolve(projectPath, p.OutputPath)
}

func relativeTo(projectPath, path string) string {
	if path == "" {
		return ""
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return path
	}
	projDir, err := filepath.Abs(filepath.Dir(projectPath))
	if err != nil {
		return path
	}
	rel, err := filepath.Rel(projDir, abs)
	if err != nil {
		return path
	}
	return rel
}

func resolve(projectPath, path string) string {
	if path == "" {
		return ""
	}
	if filepath.IsAbs(path) {
		return path
	}
	return filepath.Join(filepath.Dir(projectPath), path)
}

func toRows(points geometry.PointSet) [][]float64 {
	if len(points) == 0 {
		return nil
	}
	rows := make([][]float64, len(points))
	for i, p := range points {
		rows[i] = []float64(p.Clone())
	}
	return rows
}

func fromRows(rows [][]float64) geometry.PointSet {
	if len(rows) == 0 {
		return nil
	}
	points := make(geometry.PointSet, len(rows))
	for i, r := range rows {
		points[i] = geometry.NewPoint(r...)
	}
	return points
}
