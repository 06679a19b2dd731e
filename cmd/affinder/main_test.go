package main

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCheckImagePaths(t *testing.T) {
	dir := t.TempDir()
	ref := filepath.Join(dir, "ref.png")

	assert.NoError(t, checkImagePaths(ref, filepath.Join(dir, "mov.png")))
	assert.NoError(t, checkImagePaths(ref, ""))
	assert.NoError(t, checkImagePaths("", ""))

	assert.Error(t, checkImagePaths(ref, ref))
	assert.Error(t, checkImagePaths(ref, filepath.Join(dir, "sub", "..", "ref.png")))
}
