package project_test

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"affinder/internal/alignment"
	"affinder/internal/project"
	"affinder/pkg/geometry"
)

func TestSaveLoadRoundTrip(t *testing.T) {
	dir := t.TempDir()
	projPath := filepath.Join(dir, "slides.affproj")

	p := project.New("slides", alignment.Similarity)
	p.SetReferenceImage(projPath, filepath.Join(dir, "images", "ref.png"))
	p.SetMovingImage(projPath, filepath.Join(dir, "images", "mov.tif"))

	ref := geometry.PointSet{{0, 0}, {0, 10}, {10, 0}}
	mov := geometry.PointSet{{5, 5}, {5, 15}, {15, 5}}
	p.SetPoints(ref, mov)

	res, err := alignment.EstimateWithOptions(ref, mov, alignment.Similarity, alignment.DefaultOptions())
	require.NoError(t, err)
	p.SetResult(res)

	require.NoError(t, p.Save(projPath))

	data, err := os.ReadFile(projPath)
	require.NoError(t, err)
	assert.True(t, strings.Contains(string(data), `"model": "similarity"`), string(data))

	got, err := project.Load(projPath)
	require.NoError(t, err)
	assert.Equal(t, "slides", got.Name)
	assert.Equal(t, alignment.Similarity, got.Model)
	assert.Equal(t, filepath.Join("images", "ref.png"), got.ReferenceImagePath)
	assert.Equal(t, filepath.Join(dir, "images", "mov.tif"), got.GetMovingImagePath(projPath))

	r, m := got.Points()
	assert.Equal(t, ref, r)
	assert.Equal(t, mov, m)

	tr, err := got.Transform()
	require.NoError(t, err)
	assert.True(t, tr.EqualApprox(res.Matrix, 1e-12))
}

func TestOutputPathDefault(t *testing.T) {
	p := project.New("x", alignment.Affine)
	assert.Equal(t, filepath.Join("work", "x_matrix.csv"), p.GetOutputPath(filepath.Join("work", "x.affproj")))

	p.SetOutput(filepath.Join("work", "x.affproj"), filepath.Join("work", "out", "m.csv"))
	assert.Equal(t, filepath.Join("out", "m.csv"), p.OutputPath)
}

func TestLoadRejectsFutureVersion(t *testing.T) {
	path := filepath.Join(t.TempDir(), "p.affproj")
	require.NoError(t, os.WriteFile(path, []byte(`{"version": 99, "model": "affine"}`), 0o644))
	_, err := project.Load(path)
	assert.Error(t, err)
}

func TestEmptyTransform(t *testing.T) {
	p := project.New("x", alignment.Euclidean)
	m, err := p.Transform()
	require.NoError(t, err)
	assert.True(t, m.IsZero())
}
