package prefs_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"affinder/internal/prefs"
)

func TestMissingFileUsesFallbacks(t *testing.T) {
	p := prefs.LoadFrom(filepath.Join(t.TempDir(), "none.json"))
	assert.Equal(t, "affine", p.StringWithFallback(prefs.KeyModel, "affine"))
	assert.Equal(t, 1e-10, p.FloatWithFallback(prefs.KeyTolerance, 1e-10))
}

func TestSaveAndReload(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cfg", "preferences.json")
	p := prefs.LoadFrom(path)
	p.SetString(prefs.KeyModel, "similarity")
	p.SetFloat(prefs.KeyOpacity, 0.25)
	require.NoError(t, p.Save())

	q := prefs.LoadFrom(path)
	assert.Equal(t, path, q.Path())
	assert.Equal(t, "similarity", q.StringWithFallback(prefs.KeyModel, "affine"))
	assert.Equal(t, 0.25, q.FloatWithFallback(prefs.KeyOpacity, 0.5))
}

func TestCorruptFileIgnored(t *testing.T) {
	path := filepath.Join(t.TempDir(), "preferences.json")
	require.NoError(t, os.WriteFile(path, []byte("{not json"), 0o644))
	p := prefs.LoadFrom(path)
	assert.Equal(t, "x", p.StringWithFallback(prefs.KeyBlend, "x"))
}
